package png2nes

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fillRect(m *image.RGBA, r image.Rectangle, c color.RGBA) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			m.SetRGBA(x, y, c)
		}
	}
}

func TestPartition(t *testing.T) {
	t.Parallel()
	src := image.NewRGBA(image.Rect(0, 0, 32, 32))
	tiles := partition(src, 16, 16)
	require.Len(t, tiles, 4)
	assert.Equal(t, image.Rect(0, 0, 16, 16), tiles[0].Rect)
	assert.Equal(t, image.Rect(16, 0, 32, 16), tiles[1].Rect)
	assert.Equal(t, image.Rect(0, 16, 16, 32), tiles[2].Rect)
	assert.Equal(t, image.Rect(16, 16, 32, 32), tiles[3].Rect)
	assert.Equal(t, 1, tiles[1].X)
	assert.Equal(t, 0, tiles[1].Y)
	assert.Equal(t, 1, tiles[3].Y)
}

func TestPartitionClampsEdges(t *testing.T) {
	t.Parallel()
	src := image.NewRGBA(image.Rect(0, 0, 20, 10))
	tiles := partition(src, 16, 16)
	require.Len(t, tiles, 2)
	assert.Equal(t, image.Rect(0, 0, 16, 10), tiles[0].Rect)
	assert.Equal(t, image.Rect(16, 0, 20, 10), tiles[1].Rect)

	// every source pixel belongs to exactly one tile
	covered := 0
	for _, tl := range tiles {
		covered += tl.Rect.Dx() * tl.Rect.Dy()
	}
	assert.Equal(t, 20*10, covered)
}

func TestPartitionCopiesPixels(t *testing.T) {
	t.Parallel()
	red := color.RGBA{0xf8, 0x38, 0x00, 0xff}
	src := image.NewRGBA(image.Rect(0, 0, 16, 16))
	fillRect(src, src.Bounds(), red)
	tiles := partition(src, 16, 16)
	require.Len(t, tiles, 1)

	fillRect(src, src.Bounds(), color.RGBA{A: 0xff})
	assert.Equal(t, red, tiles[0].Pixels.RGBAAt(5, 5))
}

func TestExtractLocal(t *testing.T) {
	t.Parallel()
	p, err := NewPalette("2c02")
	require.Nil(t, err)

	ref := image.NewRGBA(image.Rect(0, 0, 8, 8))
	fillRect(ref, image.Rect(0, 0, 8, 5), color.RGBA{0xf8, 0x38, 0x00, 0xff}) // $16, 40px
	fillRect(ref, image.Rect(0, 5, 8, 7), color.RGBA{0x00, 0x58, 0xf8, 0xff}) // $12, 16px
	fillRect(ref, image.Rect(0, 7, 8, 8), color.RGBA{0xfc, 0xfc, 0xfc, 0xff}) // $30, 8px

	tiles := partition(ref, 8, 8)
	require.Len(t, tiles, 1)
	tl := tiles[0]
	tl.extractLocal(ref, p, 8, 8)

	require.Len(t, tl.Local, 3)
	assert.Equal(t, HWColor(0x16), tl.Local[0].Color.HWColor)
	assert.Equal(t, 40, tl.Local[0].Pixels)
	assert.Equal(t, HWColor(0x12), tl.Local[1].Color.HWColor)
	assert.Equal(t, 16, tl.Local[1].Pixels)
	assert.Equal(t, HWColor(0x30), tl.Local[2].Color.HWColor)
	assert.Equal(t, 8, tl.Local[2].Pixels)
}

func TestSampleRectClamps(t *testing.T) {
	t.Parallel()
	src := image.NewRGBA(image.Rect(0, 0, 32, 32))
	tiles := partition(src, 16, 16)
	require.Len(t, tiles, 4)

	// oversampling past the canvas edge clamps to the bounds
	r := tiles[3].sampleRect(src.Bounds(), 32, 32)
	assert.Equal(t, image.Rect(16, 16, 32, 32), r)
	r = tiles[0].sampleRect(src.Bounds(), 24, 24)
	assert.Equal(t, image.Rect(0, 0, 24, 24), r)
}
