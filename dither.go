package png2nes

import (
	"fmt"
	"image"
	"image/color"
	"sort"

	"github.com/makeworld-the-better-one/dither/v2"
)

var diffusionMatrices = map[string]dither.ErrorDiffusionMatrix{
	"floydsteinberg":      dither.FloydSteinberg,
	"falsefloydsteinberg": dither.FalseFloydSteinberg,
	"jarvisjudiceninke":   dither.JarvisJudiceNinke,
	"atkinson":            dither.Atkinson,
	"stucki":              dither.Stucki,
	"burkes":              dither.Burkes,
	"sierra":              dither.Sierra,
	"sierralite":          dither.SierraLite,
	"tworowsierra":        dither.TwoRowSierra,
}

var bayerSizes = map[string][2]uint{
	"bayer2x2":   {2, 2},
	"bayer4x4":   {4, 4},
	"bayer8x8":   {8, 8},
	"bayer16x16": {16, 16},
}

// DitherModes returns the accepted dither algorithm names.
func DitherModes() []string {
	modes := []string{"none"}
	for k := range diffusionMatrices {
		modes = append(modes, k)
	}
	for k := range bayerSizes {
		modes = append(modes, k)
	}
	sort.Strings(modes)
	return modes
}

// newDitherer builds a dither/v2 ditherer for pal, or nil for mode "none".
func newDitherer(pal color.Palette, mode string, strength float64, serpentine bool) (*dither.Ditherer, error) {
	if mode == "" || mode == "none" {
		return nil, nil
	}
	d := dither.NewDitherer(pal)
	if m, ok := diffusionMatrices[mode]; ok {
		if strength > 0 && strength < 1 {
			m = dither.ErrorDiffusionStrength(m, float32(strength))
		}
		d.Matrix = m
		d.Serpentine = serpentine
		return d, nil
	}
	if xy, ok := bayerSizes[mode]; ok {
		s := float32(1.0)
		if strength > 0 && strength <= 1 {
			s = float32(strength)
		}
		d.Mapper = dither.Bayer(xy[0], xy[1], s)
		return d, nil
	}
	return nil, fmt.Errorf("unknown dither mode %q, expected one of %v", mode, DitherModes())
}

// ditherImage reduces src to pal and returns the result as a new image.
// src is never modified. Deterministic for a given (src, pal, mode).
func ditherImage(src image.Image, pal color.Palette, mode string, strength float64, serpentine bool) (*image.RGBA, error) {
	d, err := newDitherer(pal, mode, strength, serpentine)
	if err != nil {
		return nil, err
	}
	if d != nil {
		return d.DitherCopy(src), nil
	}
	// plain nearest mapping
	b := src.Bounds()
	dst := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.Set(x, y, pal.Convert(src.At(x, y)))
		}
	}
	return dst, nil
}
