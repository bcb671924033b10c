package png2nes

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"log"

	"github.com/ericpauley/go-quantize/quantize"
	xdraw "golang.org/x/image/draw"
)

// FrameWidth and FrameHeight are the NES screen dimensions the working
// canvas is scaled to.
const (
	FrameWidth  = 256
	FrameHeight = 240
)

// prepareCanvas scales and letterboxes src into a FrameWidth x FrameHeight
// working buffer. Aspect ratio is preserved; uncovered bands stay black.
// Images already at frame size are copied as-is.
func prepareCanvas(src image.Image) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, FrameWidth, FrameHeight))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
	b := src.Bounds()
	if b.Dx() == FrameWidth && b.Dy() == FrameHeight {
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
		return dst
	}
	sx := float64(FrameWidth) / float64(b.Dx())
	sy := float64(FrameHeight) / float64(b.Dy())
	scale := sx
	if sy < sx {
		scale = sy
	}
	w := int(float64(b.Dx()) * scale)
	h := int(float64(b.Dy()) * scale)
	r := image.Rect((FrameWidth-w)/2, (FrameHeight-h)/2, (FrameWidth-w)/2+w, (FrameHeight-h)/2+h)
	xdraw.CatmullRom.Scale(dst, r, src, b, xdraw.Src, nil)
	return dst
}

// countImageColors returns the number of distinct colors in m.
func countImageColors(m image.Image) int {
	seen := map[RGB]struct{}{}
	b := m.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			seen[NewRGB(m.At(x, y))] = struct{}{}
		}
	}
	return len(seen)
}

// preQuantize caps the canvas at maxColors distinct colors with a median
// cut quantizer. Keeping the source diversity bounded keeps the dithered
// intermediate, and with it the per-tile enumeration, tractable.
func preQuantize(m *image.RGBA, maxColors int, verbose bool) *image.RGBA {
	n := countImageColors(m)
	if n <= maxColors {
		return m
	}
	q := quantize.MedianCutQuantizer{}
	pal := q.Quantize(make(color.Palette, 0, maxColors), m)
	if verbose {
		log.Printf("pre-quantized %d colors down to %d", n, len(pal))
	}
	dst := image.NewRGBA(m.Bounds())
	b := m.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.Set(x, y, pal.Convert(m.RGBAAt(x, y)))
		}
	}
	return dst
}

// firstPass produces the full-palette dithered intermediate that supplies
// the ground-truth colors the tiles will try to approximate.
func (img *sourceImage) firstPass() error {
	ref, err := ditherImage(img.canvas, img.p.ColorPalette(), img.opt.FirstPassDither, img.opt.DitherStrength, img.opt.Serpentine)
	if err != nil {
		return fmt.Errorf("first-pass dither failed: %w", err)
	}
	img.intermediate = ref
	return nil
}
