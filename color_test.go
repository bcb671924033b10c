package png2nes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPalette(t *testing.T) {
	t.Parallel()
	p, err := NewPalette("2c02")
	require.Nil(t, err)
	require.NotNil(t, p)
	assert.Len(t, p.Colors(), MaxColors)

	type tc struct {
		hw   HWColor
		want string
	}
	testCases := []tc{
		{0x00, "$00,#7c7c7c"},
		{0x0f, "$0f,#000000"},
		{0x12, "$12,#0058f8"},
		{0x16, "$16,#f83800"},
		{0x20, "$20,#f8f8f8"},
		{0x30, "$30,#fcfcfc"},
		{0x3f, "$3f,#000000"},
	}
	for _, testcol := range testCases {
		assert.Equal(t, testcol.want, p.FromHW(testcol.hw).String())
	}

	_, err = NewPalette("2c09")
	assert.NotNil(t, err)
}

func TestCanonicalBlack(t *testing.T) {
	t.Parallel()
	p, err := NewPalette("2c02")
	require.Nil(t, err)

	// several master palette entries are pure black, all resolve to $0f
	black, ok := p.FromRGB(RGB{})
	assert.True(t, ok)
	assert.Equal(t, CanonicalBlack, black.HWColor)
	assert.Equal(t, CanonicalBlack, p.Nearest(RGB{}).HWColor)
	assert.Equal(t, CanonicalBlack, p.Nearest(RGB{1, 1, 1}).HWColor)
}

func TestNearest(t *testing.T) {
	t.Parallel()
	p, err := NewPalette("2c02")
	require.Nil(t, err)

	// exact entries match themselves
	assert.Equal(t, HWColor(0x16), p.Nearest(RGB{0xf8, 0x38, 0x00}).HWColor)
	assert.Equal(t, HWColor(0x12), p.Nearest(RGB{0x00, 0x58, 0xf8}).HWColor)

	// off-palette inputs snap to the closest entry, cached results stay stable
	got := p.Nearest(RGB{0xf8, 0x38, 0x01})
	assert.Equal(t, HWColor(0x16), got.HWColor)
	assert.Equal(t, got, p.Nearest(RGB{0xf8, 0x38, 0x01}))
}

func TestParseSubpalettes(t *testing.T) {
	t.Parallel()
	p, err := NewPalette("2c02")
	require.Nil(t, err)

	ss, err := p.ParseSubpalettes("f8f8f8,a80020,f83800", 3)
	require.Nil(t, err)
	require.Len(t, ss, 1)
	require.Len(t, ss[0].Colors, 3)
	assert.Equal(t, HWColor(0x20), ss[0].Colors[0].HWColor)
	assert.Equal(t, HWColor(0x05), ss[0].Colors[1].HWColor)
	assert.Equal(t, HWColor(0x16), ss[0].Colors[2].HWColor)

	ss, err = p.ParseSubpalettes("000000f8f8f80058f8f83800,000000fcfcfc3cbcfc6844fc", 4)
	require.Nil(t, err)
	assert.Len(t, ss, 2)

	_, err = p.ParseSubpalettes("f8f8f", 3)
	assert.NotNil(t, err)
	_, err = p.ParseSubpalettes("f8f8f8a80020", 3)
	assert.NotNil(t, err)
	_, err = p.ParseSubpalettes("", 4)
	assert.NotNil(t, err)
}

func TestParseHWColor(t *testing.T) {
	t.Parallel()
	hw, err := ParseHWColor("0f")
	require.Nil(t, err)
	assert.Equal(t, CanonicalBlack, hw)

	hw, err = ParseHWColor("$1a")
	require.Nil(t, err)
	assert.Equal(t, HWColor(0x1a), hw)

	_, err = ParseHWColor("40")
	assert.NotNil(t, err)
	_, err = ParseHWColor("zz")
	assert.NotNil(t, err)
	_, err = ParseHWColor("")
	assert.NotNil(t, err)
}
