package png2nes

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testScreenImage is a frame-sized image split into an exact-palette red
// left half and blue right half, the simplest two-subpalette screen.
func testScreenImage() *image.RGBA {
	m := image.NewRGBA(image.Rect(0, 0, FrameWidth, FrameHeight))
	fillRect(m, image.Rect(0, 0, FrameWidth/2, FrameHeight), color.RGBA{0xf8, 0x38, 0x00, 0xff})          // $16
	fillRect(m, image.Rect(FrameWidth/2, 0, FrameWidth, FrameHeight), color.RGBA{0x00, 0x58, 0xf8, 0xff}) // $12
	return m
}

func TestEncodeChar(t *testing.T) {
	t.Parallel()
	p, err := NewPalette("2c02")
	require.Nil(t, err)
	sp := &Subpalette{Colors: []Color{p.FromHW(0x0f), p.FromHW(0x12), p.FromHW(0x16), p.FromHW(0x30)}}

	pix := image.NewRGBA(image.Rect(0, 0, 8, 8))
	fillRect(pix, image.Rect(0, 0, 8, 4), color.RGBA{0x00, 0x58, 0xf8, 0xff}) // index 1
	fillRect(pix, image.Rect(0, 4, 8, 8), color.RGBA{0xf8, 0x38, 0x00, 0xff}) // index 2
	tl := &Tile{Rect: pix.Bounds(), Assigned: sp, Dithered: pix}

	cb, err := encodeChar(tl, 0, 0)
	require.Nil(t, err)
	for y := 0; y < 4; y++ {
		assert.Equal(t, byte(0xff), cb[y], "low plane row %d", y)
		assert.Equal(t, byte(0x00), cb[y+8], "high plane row %d", y)
	}
	for y := 4; y < 8; y++ {
		assert.Equal(t, byte(0x00), cb[y], "low plane row %d", y)
		assert.Equal(t, byte(0xff), cb[y+8], "high plane row %d", y)
	}

	// a color outside the subpalette is an error
	fillRect(pix, image.Rect(0, 0, 1, 1), color.RGBA{0xf8, 0xf8, 0xf8, 0xff})
	_, err = encodeChar(tl, 0, 0)
	assert.NotNil(t, err)
}

func TestScreen(t *testing.T) {
	t.Parallel()
	c, err := NewFromImage(Options{Quiet: true, BackgroundColor: "0f"}, testScreenImage())
	require.Nil(t, err)
	s, err := c.Convert()
	require.Nil(t, err)

	assert.Equal(t, CanonicalBlack, s.BackgroundColor)

	// two subpalettes, equal tile counts, key order decides the ids:
	// $0f,$12 before $0f,$16
	assert.Equal(t, byte(0x0f), s.PaletteData[0])
	assert.Equal(t, byte(0x12), s.PaletteData[1])
	assert.Equal(t, byte(0x0f), s.PaletteData[2]) // unused slots hold the background
	assert.Equal(t, byte(0x0f), s.PaletteData[3])
	assert.Equal(t, byte(0x0f), s.PaletteData[4])
	assert.Equal(t, byte(0x16), s.PaletteData[5])

	// both halves are solid color at index 1, so they pack to one char
	assert.Len(t, s.CHR, 16)
	for i := 0; i < 8; i++ {
		assert.Equal(t, byte(0xff), s.CHR[i])
		assert.Equal(t, byte(0x00), s.CHR[i+8])
	}
	for _, ch := range s.NameTable {
		assert.Equal(t, byte(0), ch)
	}

	// left half red -> palette id 1 in all four quadrants, right half blue -> id 0
	assert.Equal(t, byte(0x55), s.Attributes[0])
	assert.Equal(t, byte(0x00), s.Attributes[7])
}

func TestScreenEightPixelTiles(t *testing.T) {
	t.Parallel()
	// halves split on an attribute cell boundary, 8x8 tiles agree per cell
	c, err := NewFromImage(Options{Quiet: true, BackgroundColor: "0f", TileWidth: 8, TileHeight: 8}, testScreenImage())
	require.Nil(t, err)
	s, err := c.Convert()
	require.Nil(t, err)
	assert.Equal(t, byte(0x55), s.Attributes[0])
	assert.Equal(t, byte(0x00), s.Attributes[7])
}

func TestScreenAttributeCellConflict(t *testing.T) {
	t.Parallel()
	// alternating 8px columns put two subpalettes inside one 16x16
	// attribute cell, which the hardware layout cannot express
	m := image.NewRGBA(image.Rect(0, 0, FrameWidth, FrameHeight))
	for x := 0; x < FrameWidth; x += 16 {
		fillRect(m, image.Rect(x, 0, x+8, FrameHeight), color.RGBA{0xf8, 0x38, 0x00, 0xff})
		fillRect(m, image.Rect(x+8, 0, x+16, FrameHeight), color.RGBA{0x00, 0x58, 0xf8, 0xff})
	}
	c, err := NewFromImage(Options{Quiet: true, BackgroundColor: "0f", TileWidth: 8, TileHeight: 8}, m)
	require.Nil(t, err)
	_, err = c.Convert()
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "attribute cell")
}

func TestScreenTileAlignment(t *testing.T) {
	t.Parallel()
	c, err := NewFromImage(Options{Quiet: true, TileWidth: 20, TileHeight: 16}, testScreenImage())
	require.Nil(t, err)
	_, err = c.Convert()
	assert.NotNil(t, err)
}

func TestScreenWriteTo(t *testing.T) {
	t.Parallel()
	c, err := NewFromImage(Options{Quiet: true, BackgroundColor: "0f"}, testScreenImage())
	require.Nil(t, err)
	s, err := c.Convert()
	require.Nil(t, err)

	buf := &bytes.Buffer{}
	n, err := s.WriteTo(buf)
	require.Nil(t, err)
	want := len(s.PaletteData) + len(s.NameTable) + len(s.Attributes) + len(s.CHR)
	assert.Equal(t, int64(want), n)
	assert.Equal(t, want, buf.Len())
	assert.Equal(t, byte(0x0f), buf.Bytes()[0])
}

func TestScreenWriteToCrunch(t *testing.T) {
	t.Parallel()
	c, err := NewFromImage(Options{Quiet: true, BackgroundColor: "0f", Crunch: true}, testScreenImage())
	require.Nil(t, err)

	buf := &bytes.Buffer{}
	n, err := c.WriteTo(buf)
	require.Nil(t, err)
	assert.Greater(t, n, int64(0))
	// the solid screen compresses well below the raw payload
	raw := screenPalettes*SubpaletteSize + nameTableSize + attrTableSize + 16
	assert.Less(t, buf.Len(), raw)
}

func TestReduceScreen(t *testing.T) {
	t.Parallel()
	img := testSourceImage(t)
	img.bg = img.p.FromHW(0x0f)
	img.opt.MaxSubpalettes = 2
	img.opt.Dither = "none"

	mk := func(hw HWColor) *Subpalette {
		return &Subpalette{Colors: []Color{img.p.FromHW(0x0f), img.p.FromHW(hw)}}
	}
	a, b, c := mk(0x12), mk(0x16), mk(0x30)
	pix := image.NewRGBA(image.Rect(0, 0, 8, 8))
	fillRect(pix, pix.Bounds(), color.RGBA{0x00, 0x58, 0xf8, 0xff})
	for i := 0; i < 4; i++ {
		img.tiles = append(img.tiles, &Tile{X: i, Rect: pix.Bounds(), Pixels: pix, Assigned: a, Dithered: pix})
	}
	for i := 4; i < 7; i++ {
		img.tiles = append(img.tiles, &Tile{X: i, Rect: pix.Bounds(), Pixels: pix, Assigned: b, Dithered: pix})
	}
	img.tiles = append(img.tiles, &Tile{X: 7, Rect: pix.Bounds(), Pixels: pix, Assigned: c, Dithered: pix})

	kept, err := img.reduceScreen()
	require.Nil(t, err)
	require.Len(t, kept, 2)
	assert.Equal(t, a.Key(), kept[0].Key())
	assert.Equal(t, b.Key(), kept[1].Key())

	// the tile on the dropped subpalette was reassigned to a kept one
	for _, tl := range img.tiles {
		assert.Contains(t, []string{a.Key(), b.Key()}, tl.Assigned.Key())
	}
}
