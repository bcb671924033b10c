package png2nes

import (
	"fmt"
	"image/color"
	"log"
	"math/rand"
	"sort"
	"strings"
)

// SubpaletteSize is the maximum number of colors per subpalette, the
// shared background color included.
const SubpaletteSize = 4

// A Subpalette is an ordered, duplicate-free set of up to four hardware
// colors. Every subpalette surviving repair contains the run's background
// color. Tiles counts the tiles that could legally use it.
type Subpalette struct {
	Colors []Color
	Tiles  int
}

// Key returns the canonical identity of the color set: hardware indexes
// sorted ascending, comma-joined. Duplicates across tiles merge on it.
func (s Subpalette) Key() string {
	cc := append([]Color(nil), s.Colors...)
	sortByHW(cc)
	parts := make([]string, len(cc))
	for i, c := range cc {
		parts[i] = c.HWColor.String()
	}
	return strings.Join(parts, ",")
}

func (s Subpalette) String() string {
	return s.Key()
}

// Contains returns true if the subpalette holds the hardware color.
func (s Subpalette) Contains(hw HWColor) bool {
	for _, c := range s.Colors {
		if c.HWColor == hw {
			return true
		}
	}
	return false
}

// ColorPalette returns the subpalette as a color.Palette for dithering.
func (s Subpalette) ColorPalette() color.Palette {
	cp := make(color.Palette, 0, len(s.Colors))
	for _, c := range s.Colors {
		cp = append(cp, c)
	}
	return cp
}

// normalize orders the colors background first, the rest ascending by
// hardware index. Entry 0 of a hardware subpalette is the backdrop.
func (s *Subpalette) normalize(bg HWColor) {
	sortByHW(s.Colors)
	for i, c := range s.Colors {
		if c.HWColor == bg {
			copy(s.Colors[1:i+1], s.Colors[:i])
			s.Colors[0] = c
			break
		}
	}
}

// A colorUsage record accumulates global statistics for one hardware color.
// rank 0 is the most used color of the run; ranks are only stable for the
// lifetime of one conversion.
type colorUsage struct {
	color  Color
	pixels int
	tiles  int
	rank   int
}

// combinations calls fn with each k-combination of the indexes 0..n-1, in
// lexicographic order, each combination exactly once. fn must not retain
// idx. Iterative by index stepping, no recursion.
func combinations(n, k int, fn func(idx []int)) {
	if k <= 0 || n < k {
		return
	}
	idx := make([]int, k)
	for i := range idx {
		idx[i] = i
	}
	for {
		fn(idx)
		i := k - 1
		for i >= 0 && idx[i] == n-k+i {
			i--
		}
		if i < 0 {
			return
		}
		idx[i]++
		for j := i + 1; j < k; j++ {
			idx[j] = idx[j-1] + 1
		}
	}
}

// analyze runs the statistics pipeline on the partitioned tiles: local
// palettes, subpalette enumeration, global aggregation, background
// selection, candidate repair and pool truncation.
func (img *sourceImage) analyze() error {
	if img.opt.PaletteString != "" {
		return img.analyzeCustom()
	}
	img.aggregate()
	if err := img.findBackgroundColor(); err != nil {
		return fmt.Errorf("findBackgroundColor failed: %w", err)
	}
	img.repairCandidates()
	if err := img.buildPool(); err != nil {
		return fmt.Errorf("buildPool failed: %w", err)
	}
	return nil
}

// aggregate extracts each tile's local palette from the first-pass
// intermediate, enumerates its legal subpalettes and merges everything
// into the global usage and candidate tables.
func (img *sourceImage) aggregate() {
	img.usage = map[HWColor]*colorUsage{}
	img.candidates = map[string]*Subpalette{}
	for _, t := range img.tiles {
		t.extractLocal(img.intermediate, img.p, img.opt.SampleWidth, img.opt.SampleHeight)
		local := t.Local
		if len(local) > img.opt.MaxLocalColors {
			if img.opt.VeryVerbose {
				log.Printf("tile %d,%d: capping local palette %d to %d colors", t.X, t.Y, len(local), img.opt.MaxLocalColors)
			}
			local = local[:img.opt.MaxLocalColors]
		}
		for _, cc := range local {
			u, ok := img.usage[cc.Color.HWColor]
			if !ok {
				u = &colorUsage{color: cc.Color}
				img.usage[cc.Color.HWColor] = u
			}
			u.pixels += cc.Pixels
			u.tiles++
		}
		img.enumerateTile(t, local)
	}
	img.rankColors()
	if img.opt.Verbose {
		log.Printf("aggregated %d colors and %d candidate subpalettes over %d tiles",
			len(img.usage), len(img.candidates), len(img.tiles))
	}
}

// enumerateTile produces every legal SubpaletteSize-combination of the
// tile's local palette and merges each into the candidate table. A local
// palette at or below the limit yields the single full set.
func (img *sourceImage) enumerateTile(t *Tile, local []ColorCount) {
	add := func(cc []Color) {
		sp := Subpalette{Colors: cc}
		key := sp.Key()
		if have, ok := img.candidates[key]; ok {
			have.Tiles++
		} else {
			sp.Tiles = 1
			img.candidates[key] = &sp
		}
		t.options = append(t.options, key)
	}
	if len(local) <= SubpaletteSize {
		cc := make([]Color, len(local))
		for i, l := range local {
			cc[i] = l.Color
		}
		add(cc)
		return
	}
	combinations(len(local), SubpaletteSize, func(idx []int) {
		cc := make([]Color, len(idx))
		for i, j := range idx {
			cc[i] = local[j].Color
		}
		add(cc)
	})
}

// rankColors sorts the usage table descending by pixel count, then tile
// count, and assigns ranks 0..N-1.
func (img *sourceImage) rankColors() {
	img.ranked = make([]*colorUsage, 0, len(img.usage))
	for _, u := range img.usage {
		img.ranked = append(img.ranked, u)
	}
	sort.Slice(img.ranked, func(i, j int) bool {
		a, b := img.ranked[i], img.ranked[j]
		if a.pixels != b.pixels {
			return a.pixels > b.pixels
		}
		if a.tiles != b.tiles {
			return a.tiles > b.tiles
		}
		return a.color.HWColor < b.color.HWColor
	})
	for i, u := range img.ranked {
		u.rank = i
	}
}

// score rates a candidate: tiles that can use it plus a quadratic bonus
// for globally dominant member colors.
func (img *sourceImage) score(s *Subpalette) float64 {
	n := float64(len(img.usage))
	v := float64(s.Tiles)
	for _, c := range s.Colors {
		if u, ok := img.usage[c.HWColor]; ok {
			f := 1 - float64(u.rank)/n
			v += 20 * f * f
		}
	}
	return v
}

// findBackgroundColor fixes the run's single shared background color:
// the explicit override if given, otherwise the globally top-ranked color.
// The choice is immutable for the rest of the run.
func (img *sourceImage) findBackgroundColor() error {
	if img.opt.BackgroundColor != "" {
		hw, err := ParseHWColor(img.opt.BackgroundColor)
		if err != nil {
			return err
		}
		img.bg = img.p.FromHW(hw)
		if img.opt.Verbose {
			log.Printf("forced background color %s", img.bg)
		}
		return nil
	}
	if len(img.ranked) == 0 {
		return fmt.Errorf("no colors found, image is empty")
	}
	img.bg = img.ranked[0].color
	if img.opt.Verbose {
		log.Printf("selected background color %s (%d pixels in %d tiles)",
			img.bg, img.ranked[0].pixels, img.ranked[0].tiles)
	}
	return nil
}

// repairCandidates enforces the shared background color on the candidate
// table. Candidates below SubpaletteSize lacking the background get it
// appended and are re-keyed; key collisions merge with summed tile counts.
// Full candidates lacking the background can never be selected and are
// discarded. Running repair on a conforming table changes nothing.
func (img *sourceImage) repairCandidates() {
	bg := img.bg.HWColor
	keys := make([]string, 0, len(img.candidates))
	for k := range img.candidates {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	repaired := make(map[string]*Subpalette, len(img.candidates))
	dropped := 0
	for _, k := range keys {
		sp := img.candidates[k]
		if !sp.Contains(bg) {
			if len(sp.Colors) >= SubpaletteSize {
				dropped++
				continue
			}
			sp.Colors = append(sp.Colors, img.bg)
			sortByHW(sp.Colors)
		}
		key := sp.Key()
		if have, ok := repaired[key]; ok {
			have.Tiles += sp.Tiles
		} else {
			repaired[key] = sp
		}
	}
	img.candidates = repaired
	if img.opt.Verbose {
		log.Printf("repair: %d candidates survive, %d dropped (full without background %s)", len(repaired), dropped, img.bg.HWColor)
	}
}

// selectPool filters the repaired candidates to those containing the
// background color and truncates the set to the working-pool budget using
// the given selection policy.
func (img *sourceImage) selectPool(policy string, seed int64) ([]*Subpalette, error) {
	pool := make([]*Subpalette, 0, len(img.candidates))
	for _, sp := range img.candidates {
		if sp.Contains(img.bg.HWColor) {
			// copies keep the candidate table pristine across selections
			pool = append(pool, &Subpalette{Colors: append([]Color(nil), sp.Colors...), Tiles: sp.Tiles})
		}
	}
	if len(pool) == 0 {
		return nil, fmt.Errorf("no subpalette candidate contains the background color %s, the shared-background constraint cannot be satisfied for this image", img.bg)
	}
	// deterministic base order before any policy is applied
	sort.Slice(pool, func(i, j int) bool { return pool[i].Key() < pool[j].Key() })

	limit := img.opt.PoolFactor * img.opt.MaxSubpalettes
	switch policy {
	case "", SelectionScore:
		sort.SliceStable(pool, func(i, j int) bool { return img.score(pool[i]) > img.score(pool[j]) })
	case SelectionRandom:
		rnd := rand.New(rand.NewSource(seed))
		rnd.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	default:
		return nil, fmt.Errorf("unknown selection policy %q, expected %q or %q", policy, SelectionScore, SelectionRandom)
	}
	if len(pool) > limit {
		pool = pool[:limit]
	}
	for _, sp := range pool {
		sp.normalize(img.bg.HWColor)
	}
	return pool, nil
}

// buildPool applies the configured selection policy.
func (img *sourceImage) buildPool() error {
	pool, err := img.selectPool(img.opt.SelectionPolicy, img.opt.Seed)
	if err != nil {
		return err
	}
	img.pool = pool
	if img.opt.Verbose {
		log.Printf("candidate pool: %d subpalettes (limit %d, policy %q)",
			len(pool), img.opt.PoolFactor*img.opt.MaxSubpalettes, img.opt.SelectionPolicy)
		if img.opt.VeryVerbose {
			for i, sp := range pool {
				log.Printf("  %d: %s (tiles %d, score %.1f)", i, sp, sp.Tiles, img.score(sp))
			}
		}
	}
	return nil
}

// analyzeCustom builds the pool from an explicit custom palette string,
// bypassing extraction, enumeration and aggregation. The background is the
// override if given, else the first color of the custom palette.
func (img *sourceImage) analyzeCustom() error {
	size := SubpaletteSize
	if img.opt.BackgroundColor != "" {
		size = SubpaletteSize - 1
	}
	ss, err := img.p.ParseSubpalettes(img.opt.PaletteString, size)
	if err != nil {
		return fmt.Errorf("ParseSubpalettes failed: %w", err)
	}
	if img.opt.BackgroundColor != "" {
		hw, err := ParseHWColor(img.opt.BackgroundColor)
		if err != nil {
			return err
		}
		img.bg = img.p.FromHW(hw)
	} else {
		img.bg = ss[0].Colors[0]
	}
	img.candidates = map[string]*Subpalette{}
	for i := range ss {
		sp := ss[i]
		img.candidates[sp.Key()] = &sp
	}
	img.repairCandidates()
	if err := img.buildPool(); err != nil {
		return fmt.Errorf("buildPool failed: %w", err)
	}
	if !img.opt.Quiet {
		fmt.Printf("using custom palette: %d subpalettes, background %s\n", len(img.pool), img.bg)
	}
	return nil
}
