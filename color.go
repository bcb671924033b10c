package png2nes

import (
	_ "embed"
	"fmt"
	"image/color"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// MaxColors is the number of entries in the NES master palette.
const MaxColors = 64

// An HWColor is one of the 64 entries of the NES master palette, $00-$3f.
type HWColor byte

// CanonicalBlack is $0f. Several master palette entries decode to pure
// black; lookups that would otherwise be ambiguous resolve to this one.
const CanonicalBlack = HWColor(0x0f)

func (c HWColor) String() string {
	return fmt.Sprintf("$%02x", byte(c))
}

// RGB is a color with 8-bit channels.
type RGB struct {
	R, G, B byte
}

// NewRGB returns the RGB of col, dropping alpha.
func NewRGB(col color.Color) RGB {
	r, g, b, _ := col.RGBA()
	return RGB{byte(r >> 8), byte(g >> 8), byte(b >> 8)}
}

func (c RGB) String() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// RGBA implements the color.Color interface.
func (c RGB) RGBA() (r, g, b, a uint32) {
	r = uint32(c.R)
	r |= r << 8
	g = uint32(c.G)
	g |= g << 8
	b = uint32(c.B)
	b |= b << 8
	return r, g, b, 0xffff
}

// distance returns the squared euclidean rgb distance between c and o.
func (c RGB) distance(o RGB) int {
	dr := int(c.R) - int(o.R)
	dg := int(c.G) - int(o.G)
	db := int(c.B) - int(o.B)
	return dr*dr + dg*dg + db*db
}

// A Color pairs a hardware palette index with its RGB value.
type Color struct {
	RGB     RGB
	HWColor HWColor
}

func (c Color) String() string {
	return fmt.Sprintf("%s,%s", c.HWColor, c.RGB)
}

// RGBA implements the color.Color interface.
func (c Color) RGBA() (r, g, b, a uint32) {
	return c.RGB.RGBA()
}

// A Palette is the immutable hardware color table of one master palette
// variant, with exact and nearest-match RGB lookups. The nearest-match
// cache is owned by the Palette and safe for concurrent use.
type Palette struct {
	Name    string
	colors  [MaxColors]Color
	rgb2col map[RGB]Color

	mu    sync.RWMutex
	cache map[RGB]Color
}

// NewPalette returns the named master palette variant.
func NewPalette(name string) (*Palette, error) {
	for _, src := range paletteSources {
		if src.Name == name {
			return newPaletteFromSource(src), nil
		}
	}
	return nil, fmt.Errorf("unknown master palette %q", name)
}

func newPaletteFromSource(src paletteSource) *Palette {
	p := &Palette{
		Name:    src.Name,
		rgb2col: make(map[RGB]Color, MaxColors),
		cache:   make(map[RGB]Color),
	}
	copy(p.colors[:], src.Colors)
	for _, col := range src.Colors {
		if _, ok := p.rgb2col[col.RGB]; !ok {
			p.rgb2col[col.RGB] = col
		}
	}
	// degenerate blacks all resolve to the canonical index
	black := p.colors[CanonicalBlack]
	p.rgb2col[black.RGB] = black
	return p
}

// Colors returns all 64 entries in hardware order.
func (p *Palette) Colors() []Color {
	return p.colors[:]
}

// ColorPalette returns the full table as a color.Palette for dithering.
func (p *Palette) ColorPalette() color.Palette {
	cp := make(color.Palette, 0, MaxColors)
	for _, col := range p.colors {
		cp = append(cp, col)
	}
	return cp
}

// FromHW returns the Color of the given hardware index.
func (p *Palette) FromHW(hw HWColor) Color {
	return p.colors[hw&0x3f]
}

// FromRGB returns the exact Color for rgb, if the master palette contains it.
func (p *Palette) FromRGB(rgb RGB) (Color, bool) {
	col, ok := p.rgb2col[rgb]
	return col, ok
}

// Nearest returns the hardware Color closest to rgb. Exact matches return
// immediately, other inputs are matched by squared euclidean distance with
// ties broken by hardware order. Results are cached for the Palette's
// lifetime; the table is immutable so entries never invalidate.
func (p *Palette) Nearest(rgb RGB) Color {
	if col, ok := p.rgb2col[rgb]; ok {
		return col
	}
	p.mu.RLock()
	col, ok := p.cache[rgb]
	p.mu.RUnlock()
	if ok {
		return col
	}
	min := int(1) << 30
	found := p.colors[0]
	for _, c := range p.colors {
		if d := rgb.distance(c.RGB); d < min {
			min = d
			found = c
		}
	}
	if found.RGB == p.colors[CanonicalBlack].RGB {
		found = p.colors[CanonicalBlack]
	}
	p.mu.Lock()
	p.cache[rgb] = found
	p.mu.Unlock()
	return found
}

// NearestColor returns the hardware Color closest to col.
func (p *Palette) NearestColor(col color.Color) Color {
	return p.Nearest(NewRGB(col))
}

// ParseSubpalettes parses a custom palette string into explicit subpalettes.
// The string is a sequence of rrggbb hex colors, case-insensitive, any
// non-hex characters are stripped. size is the number of colors per chunk,
// 3 when a background override is supplied separately, otherwise 4.
// The cleaned string must align to whole colors and whole chunks.
func (p *Palette) ParseSubpalettes(in string, size int) ([]Subpalette, error) {
	clean := strings.Map(func(r rune) rune {
		if strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return r
		}
		return -1
	}, in)
	if len(clean) == 0 || len(clean)%6 != 0 {
		return nil, fmt.Errorf("malformed palette %q: %d hex digits, must align to rrggbb colors", in, len(clean))
	}
	numColors := len(clean) / 6
	if numColors%size != 0 {
		return nil, fmt.Errorf("malformed palette %q: %d colors, must align to chunks of %d", in, numColors, size)
	}
	ss := make([]Subpalette, 0, numColors/size)
	sp := Subpalette{}
	for i := 0; i < numColors; i++ {
		v, err := strconv.ParseUint(clean[i*6:i*6+6], 16, 24)
		if err != nil {
			return nil, fmt.Errorf("strconv.ParseUint %q failed: %w", clean[i*6:i*6+6], err)
		}
		rgb := RGB{byte(v >> 16), byte(v >> 8), byte(v)}
		sp.Colors = append(sp.Colors, p.Nearest(rgb))
		if len(sp.Colors) == size {
			ss = append(ss, sp)
			sp = Subpalette{}
		}
	}
	return ss, nil
}

// ParseHWColor parses a hardware palette index like "0f" or "$0f".
func ParseHWColor(s string) (HWColor, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.TrimSpace(s), "$"), 16, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid hardware color %q: %w", s, err)
	}
	if v >= MaxColors {
		return 0, fmt.Errorf("hardware color %q out of range $00-$3f", s)
	}
	return HWColor(v), nil
}

// sortByHW sorts cc ascending by hardware index.
func sortByHW(cc []Color) {
	sort.Slice(cc, func(i, j int) bool { return cc[i].HWColor < cc[j].HWColor })
}

//go:embed "palettes.yaml"
var palettesYaml []byte

type paletteSource struct {
	Name   string
	Colors []Color
}

var paletteSources []paletteSource

func init() {
	var err error
	paletteSources, err = convertPaletteSources(palettesYaml)
	if err != nil {
		panic(fmt.Errorf("convertPaletteSources failed: %w", err))
	}
	if len(paletteSources) == 0 {
		panic(fmt.Errorf("no palettes found in %q", "palettes.yaml"))
	}
}

// convertPaletteSources parses inputYaml into the master palette variants.
func convertPaletteSources(inputYaml []byte) (out []paletteSource, err error) {
	type paletteYaml struct {
		Name   string
		Colors []string
	}
	var ps []paletteYaml
	if err = yaml.Unmarshal(inputYaml, &ps); err != nil {
		return out, err
	}
	for _, in := range ps {
		src := paletteSource{Name: in.Name, Colors: make([]Color, MaxColors)}
		count := 0
		for _, l := range in.Colors {
			a := strings.Split(l, ",")
			if len(a) != 2 {
				return out, fmt.Errorf("malformed palette entry %q", l)
			}
			hw, err := strconv.ParseUint(strings.TrimSpace(a[0]), 16, 8)
			if err != nil {
				return out, err
			}
			if hw >= MaxColors {
				return out, fmt.Errorf("hardware index $%02x out of range", hw)
			}
			rgb, err := strconv.ParseUint(strings.TrimSpace(a[1])[1:], 16, 24)
			if err != nil {
				return out, err
			}
			src.Colors[hw] = Color{
				HWColor: HWColor(hw),
				RGB:     RGB{byte(rgb >> 16), byte(rgb >> 8), byte(rgb)},
			}
			count++
		}
		if count != MaxColors {
			return out, fmt.Errorf("each palette in palettes.yaml must have %d colors, not %d", MaxColors, count)
		}
		out = append(out, src)
	}
	return out, nil
}
