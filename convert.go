package png2nes

import (
	"fmt"
	"image"
	"image/draw"
	"log"
	"math"
)

// frameDistance returns the total visual distance between two equally
// sized images: the per-pixel euclidean RGB distance, summed. Both
// channel operands contribute to every term.
func frameDistance(a, b *image.RGBA) float64 {
	r := a.Bounds()
	total := 0.0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			total += math.Sqrt(float64(NewRGB(a.RGBAAt(x, y)).distance(NewRGB(b.RGBAAt(x, y)))))
		}
	}
	return total
}

// assignToPool dithers every tile against every pool subpalette and
// assigns the one whose output is closest to the tile's full-palette
// reference. Ties keep the earlier pool entry. Returns the summed
// distance of all winning tiles.
func (img *sourceImage) assignToPool(tiles []*Tile, pool []*Subpalette) (float64, error) {
	full := img.p.ColorPalette()
	opt := img.opt
	total := 0.0
	for _, t := range tiles {
		ref, err := ditherImage(t.Pixels, full, opt.Dither, opt.DitherStrength, opt.Serpentine)
		if err != nil {
			return 0, fmt.Errorf("reference dither of tile %d,%d failed: %w", t.X, t.Y, err)
		}
		bestDist := math.MaxFloat64
		var best *Subpalette
		var bestImg *image.RGBA
		for _, sp := range pool {
			out, err := ditherImage(t.Pixels, sp.ColorPalette(), opt.Dither, opt.DitherStrength, opt.Serpentine)
			if err != nil {
				return 0, fmt.Errorf("candidate dither of tile %d,%d failed: %w", t.X, t.Y, err)
			}
			if d := frameDistance(ref, out); d < bestDist {
				bestDist = d
				best = sp
				bestImg = out
			}
		}
		t.Assigned = best
		t.Dithered = bestImg
		total += bestDist
		if opt.VeryVerbose {
			log.Printf("tile %d,%d: assigned %s (distance %.1f)", t.X, t.Y, best, bestDist)
		}
	}
	return total, nil
}

// assignTiles runs the per-tile assignment against the analyzed pool.
func (img *sourceImage) assignTiles() error {
	total, err := img.assignToPool(img.tiles, img.pool)
	if err != nil {
		return err
	}
	if img.opt.Verbose {
		log.Printf("assigned %d tiles, total distance %.1f, %d distinct subpalettes in use",
			len(img.tiles), total, countAssigned(img.tiles))
	}
	return nil
}

// countAssigned returns the number of distinct subpalettes assigned.
func countAssigned(tiles []*Tile) int {
	seen := map[string]struct{}{}
	for _, t := range tiles {
		if t.Assigned != nil {
			seen[t.Assigned.Key()] = struct{}{}
		}
	}
	return len(seen)
}

// Frame assembles the dithered tiles into a full working-canvas image.
func (img *sourceImage) Frame() *image.RGBA {
	dst := image.NewRGBA(img.canvas.Bounds())
	for _, t := range img.tiles {
		if t.Dithered != nil {
			draw.Draw(dst, t.Rect, t.Dithered, t.Rect.Min, draw.Src)
		}
	}
	return dst
}
