package png2nes

import (
	"image"
	"image/draw"
	"sort"
)

// A Tile is one attribute cell of the working canvas. It owns a deep copy
// of its source pixels and, after assignment, the chosen subpalette and
// the dithered result.
type Tile struct {
	X, Y   int             // grid coordinates, row-major
	Rect   image.Rectangle // owned region, clamped at the canvas edges
	Pixels *image.RGBA

	Local   []ColorCount // distinct colors in the sampling region, most pixels first
	options []string     // candidate subpalette keys derived from Local

	Assigned *Subpalette
	Dithered *image.RGBA
}

// A ColorCount is one entry of a tile's local palette.
type ColorCount struct {
	Color  Color
	Pixels int
}

// partition splits the canvas into a ceil(W/tw) x ceil(H/th) grid of tiles
// in row-major order. Edge tiles are clamped to the canvas bounds, pixels
// are deep-copied.
func partition(src *image.RGBA, tw, th int) []*Tile {
	b := src.Bounds()
	cols := (b.Dx() + tw - 1) / tw
	rows := (b.Dy() + th - 1) / th
	tiles := make([]*Tile, 0, cols*rows)
	for ty := 0; ty < rows; ty++ {
		for tx := 0; tx < cols; tx++ {
			r := image.Rect(b.Min.X+tx*tw, b.Min.Y+ty*th, b.Min.X+(tx+1)*tw, b.Min.Y+(ty+1)*th).Intersect(b)
			pix := image.NewRGBA(r)
			draw.Draw(pix, r, src, r.Min, draw.Src)
			tiles = append(tiles, &Tile{X: tx, Y: ty, Rect: r, Pixels: pix})
		}
	}
	return tiles
}

// sampleRect returns the sampling region for the tile: sw x sh pixels
// anchored at the tile origin, clamped to the canvas. A region larger than
// the tile biases the local palette towards its neighborhood.
func (t *Tile) sampleRect(bounds image.Rectangle, sw, sh int) image.Rectangle {
	return image.Rect(t.Rect.Min.X, t.Rect.Min.Y, t.Rect.Min.X+sw, t.Rect.Min.Y+sh).Intersect(bounds)
}

// extractLocal counts pixels per distinct color in the sampling region of
// the first-pass dithered intermediate and fills t.Local, most used first.
// The intermediate only holds hardware colors, so every pixel resolves to
// an exact palette entry.
func (t *Tile) extractLocal(ref *image.RGBA, p *Palette, sw, sh int) {
	counts := map[RGB]int{}
	r := t.sampleRect(ref.Bounds(), sw, sh)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			counts[NewRGB(ref.RGBAAt(x, y))]++
		}
	}
	t.Local = make([]ColorCount, 0, len(counts))
	for rgb, n := range counts {
		col, ok := p.FromRGB(rgb)
		if !ok {
			col = p.Nearest(rgb)
		}
		t.Local = append(t.Local, ColorCount{Color: col, Pixels: n})
	}
	sort.Slice(t.Local, func(i, j int) bool {
		if t.Local[i].Pixels != t.Local[j].Pixels {
			return t.Local[i].Pixels > t.Local[j].Pixels
		}
		return t.Local[i].Color.HWColor < t.Local[j].Color.HWColor
	})
}
