package png2nes

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"slices"
	"sort"

	"github.com/staD020/TSCrunch"
)

const (
	charWidth  = 8
	charHeight = 8
	// MaxChars is the pattern table capacity addressable from a nametable.
	MaxChars = 256

	nameTableSize  = (FrameWidth / charWidth) * (FrameHeight / charHeight)
	attrTableSize  = 64
	screenPalettes = 4
)

// charBytes is one 8x8 pattern char in 2bpp planar form: 8 bytes low
// plane followed by 8 bytes high plane, most significant bit leftmost.
type charBytes [16]byte

// A Screen is the assembled conversion result in NES data layout:
// a 16 byte background palette block, a nametable, an attribute table and
// the deduplicated pattern chars.
type Screen struct {
	SourceFilename  string
	PaletteData     [screenPalettes * SubpaletteSize]byte
	NameTable       [nameTableSize]byte
	Attributes      [attrTableSize]byte
	CHR             []byte
	BackgroundColor HWColor
	opt             Options
}

// reduceScreen bounds the assigned subpalettes to the screen capacity.
// The core assignment itself never caps distinct subpalettes; only here,
// where the hardware layout demands at most four, the most used ones are
// kept and the remaining tiles are reassigned among them.
func (img *sourceImage) reduceScreen() ([]*Subpalette, error) {
	counts := map[string]int{}
	reps := map[string]*Subpalette{}
	for _, t := range img.tiles {
		if t.Assigned == nil {
			return nil, fmt.Errorf("tile %d,%d has no subpalette assigned", t.X, t.Y)
		}
		k := t.Assigned.Key()
		counts[k]++
		reps[k] = t.Assigned
	}
	order := make([]string, 0, len(counts))
	for k := range counts {
		order = append(order, k)
	}
	sort.Slice(order, func(i, j int) bool {
		if counts[order[i]] != counts[order[j]] {
			return counts[order[i]] > counts[order[j]]
		}
		return order[i] < order[j]
	})
	if len(order) <= img.opt.MaxSubpalettes {
		kept := make([]*Subpalette, 0, len(order))
		for _, k := range order {
			kept = append(kept, reps[k])
		}
		return kept, nil
	}

	order = order[:img.opt.MaxSubpalettes]
	kept := make([]*Subpalette, 0, len(order))
	keptKeys := map[string]struct{}{}
	for _, k := range order {
		kept = append(kept, reps[k])
		keptKeys[k] = struct{}{}
	}
	redo := []*Tile{}
	for _, t := range img.tiles {
		if _, ok := keptKeys[t.Assigned.Key()]; !ok {
			redo = append(redo, t)
		}
	}
	if _, err := img.assignToPool(redo, kept); err != nil {
		return nil, fmt.Errorf("screen reassignment failed: %w", err)
	}
	if !img.opt.Quiet {
		fmt.Printf("settled for %d on-screen subpalettes, reassigned %d tiles\n", len(kept), len(redo))
	}
	return kept, nil
}

// colorIndex returns the position of rgb within the subpalette.
func colorIndex(sp *Subpalette, rgb RGB) (byte, bool) {
	for i, c := range sp.Colors {
		if c.RGB == rgb {
			return byte(i), true
		}
	}
	return 0, false
}

// encodeChar packs the 8x8 char at pixel origin (ox,oy) of the tile's
// dithered output into 2bpp planes, using the tile's subpalette ordering.
func encodeChar(t *Tile, ox, oy int) (charBytes, error) {
	cb := charBytes{}
	for py := 0; py < charHeight; py++ {
		var lo, hi byte
		for px := 0; px < charWidth; px++ {
			rgb := NewRGB(t.Dithered.RGBAAt(ox+px, oy+py))
			idx, ok := colorIndex(t.Assigned, rgb)
			if !ok {
				return cb, fmt.Errorf("color %s not in subpalette %s", rgb, t.Assigned)
			}
			if idx&1 != 0 {
				lo |= 1 << (7 - byte(px))
			}
			if idx&2 != 0 {
				hi |= 1 << (7 - byte(px))
			}
		}
		cb[py] = lo
		cb[py+8] = hi
	}
	return cb, nil
}

// Screen builds the NES data layout from the assigned tiles: palette
// block, deduplicated pattern chars, nametable and attribute table.
func (img *sourceImage) Screen() (*Screen, error) {
	if img.opt.TileWidth%charWidth != 0 || img.opt.TileHeight%charHeight != 0 {
		return nil, fmt.Errorf("tile size %dx%d does not align to %dx%d chars",
			img.opt.TileWidth, img.opt.TileHeight, charWidth, charHeight)
	}
	kept, err := img.reduceScreen()
	if err != nil {
		return nil, err
	}
	if len(kept) > screenPalettes {
		return nil, fmt.Errorf("%d subpalettes do not fit the %d hardware slots, lower -max-subpalettes", len(kept), screenPalettes)
	}
	s := &Screen{
		SourceFilename:  img.sourceFilename,
		BackgroundColor: img.bg.HWColor,
		opt:             img.opt,
	}

	palID := map[string]byte{}
	for i := range s.PaletteData {
		s.PaletteData[i] = byte(img.bg.HWColor)
	}
	for i, sp := range kept {
		palID[sp.Key()] = byte(i)
		for j, c := range sp.Colors {
			s.PaletteData[i*SubpaletteSize+j] = byte(c.HWColor)
		}
	}

	cols := (FrameWidth + img.opt.TileWidth - 1) / img.opt.TileWidth
	tileAt := func(x, y int) *Tile {
		return img.tiles[(y/img.opt.TileHeight)*cols+x/img.opt.TileWidth]
	}

	charset := []charBytes{}
	for cy := 0; cy < FrameHeight/charHeight; cy++ {
		for cx := 0; cx < FrameWidth/charWidth; cx++ {
			t := tileAt(cx*charWidth, cy*charHeight)
			cb, err := encodeChar(t, cx*charWidth, cy*charHeight)
			if err != nil {
				return nil, fmt.Errorf("encodeChar %d,%d failed: %w", cx, cy, err)
			}
			cur := slices.Index(charset, cb)
			if cur < 0 {
				charset = append(charset, cb)
				cur = len(charset) - 1
			}
			s.NameTable[cy*(FrameWidth/charWidth)+cx] = byte(cur)
		}
	}
	if len(charset) > MaxChars {
		return nil, fmt.Errorf("image packs to %d unique chars, the max is %d", len(charset), MaxChars)
	}
	for _, cb := range charset {
		s.CHR = append(s.CHR, cb[:]...)
	}

	// one palette id per 16x16 quadrant, four quadrants per attribute byte.
	// tiles smaller than the attribute granularity must agree per quadrant,
	// the hardware cannot express a split.
	for qy := 0; qy < FrameHeight/16; qy++ {
		for qx := 0; qx < FrameWidth/16; qx++ {
			key := tileAt(qx*16, qy*16).Assigned.Key()
			for dy := 0; dy < 16; dy += charHeight {
				for dx := 0; dx < 16; dx += charWidth {
					if o := tileAt(qx*16+dx, qy*16+dy).Assigned.Key(); o != key {
						return nil, fmt.Errorf("attribute cell %d,%d spans subpalettes %s and %s, tiles below 16x16 must agree per cell",
							qx, qy, key, o)
					}
				}
			}
			shift := uint((qy%2)*4 + (qx%2)*2)
			s.Attributes[(qy/2)*8+qx/2] |= palID[key] << shift
		}
	}

	if !img.opt.Quiet {
		fmt.Printf("used %d unique chars in the pattern table\n", len(charset))
	}
	if img.opt.Verbose {
		log.Printf("screen: %d subpalettes, background %s", len(kept), img.bg)
	}
	return s, nil
}

// WriteTo writes the screen sections in fixed order: palette block,
// nametable, attribute table, pattern chars. With opt.Crunch the whole
// payload is TSCrunch-compressed in raw mode.
func (s *Screen) WriteTo(w io.Writer) (n int64, err error) {
	data := [][]byte{s.PaletteData[:], s.NameTable[:], s.Attributes[:], s.CHR}
	if !s.opt.Crunch {
		return writeData(w, data)
	}
	buf := &bytes.Buffer{}
	if _, err = writeData(buf, data); err != nil {
		return 0, err
	}
	tsc, err := TSCrunch.New(TSCrunch.Options{QUIET: true, Fast: true}, buf)
	if err != nil {
		return 0, fmt.Errorf("TSCrunch.New failed: %w", err)
	}
	return tsc.WriteTo(w)
}

// writeData writes the byte slices to w in order.
func writeData(w io.Writer, data [][]byte) (n int64, err error) {
	for _, d := range data {
		var m int
		m, err = w.Write(d)
		n += int64(m)
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
