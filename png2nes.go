// Package png2nes converts full-color images to NES PPU constraints:
// the 64-entry master palette, four-color subpalettes sharing a single
// background color, and one subpalette per attribute tile.
package png2nes

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// Version of the library and tool.
const Version = "0.3-dev"

// Selection policies for truncating the candidate pool.
const (
	SelectionScore  = "score"
	SelectionRandom = "random"
)

// Options is the configuration surface consumed by the converter.
// The zero value is completed by New with the defaults below.
type Options struct {
	OutFile     string
	TargetDir   string
	Quiet       bool
	Verbose     bool
	VeryVerbose bool

	TileWidth      int // attribute cell width, default 16
	TileHeight     int // attribute cell height, default 16
	SampleWidth    int // sampling region, default tile size
	SampleHeight   int
	MaxSubpalettes int // on-screen subpalettes, default 4
	PoolFactor     int // candidate pool budget = factor * MaxSubpalettes

	MaxLocalColors  int // per-tile enumeration guard
	MaxSourceColors int // pre-quantize budget for the canvas

	Dither          string  // assignment-pass dither mode
	FirstPassDither string  // intermediate-pass dither mode
	DitherStrength  float64 // 0..1, both passes
	Serpentine      bool

	HWPalette       string // master palette variant name
	BackgroundColor string // hardware index like "0f", empty selects automatically
	PaletteString   string // custom subpalettes as rrggbb hex chunks

	SelectionPolicy string // score or random
	Seed            int64  // seed for the random policy
	BruteForce      int    // number of random seeds to try, 0 is off
	NumWorkers      int    // parallel brute-force workers

	Crunch bool // TSCrunch the output payload
}

func (opt *Options) applyDefaults() {
	if opt.TileWidth == 0 {
		opt.TileWidth = 16
	}
	if opt.TileHeight == 0 {
		opt.TileHeight = 16
	}
	if opt.SampleWidth == 0 {
		opt.SampleWidth = opt.TileWidth
	}
	if opt.SampleHeight == 0 {
		opt.SampleHeight = opt.TileHeight
	}
	if opt.MaxSubpalettes == 0 {
		opt.MaxSubpalettes = screenPalettes
	}
	if opt.PoolFactor == 0 {
		opt.PoolFactor = 8
	}
	if opt.MaxLocalColors == 0 {
		opt.MaxLocalColors = 16
	}
	if opt.MaxSourceColors == 0 {
		opt.MaxSourceColors = 128
	}
	if opt.Dither == "" {
		opt.Dither = "floydsteinberg"
	}
	if opt.FirstPassDither == "" {
		opt.FirstPassDither = opt.Dither
	}
	if opt.DitherStrength == 0 {
		opt.DitherStrength = 1
	}
	if opt.HWPalette == "" {
		opt.HWPalette = paletteSources[0].Name
	}
	if opt.SelectionPolicy == "" {
		opt.SelectionPolicy = SelectionScore
	}
	if opt.NumWorkers == 0 {
		opt.NumWorkers = 1
	}
}

// sourceImage carries one image through the conversion pipeline.
type sourceImage struct {
	sourceFilename string
	opt            Options
	p              *Palette
	image          image.Image

	canvas       *image.RGBA // scaled and letterboxed working buffer
	intermediate *image.RGBA // first-pass full-palette dither
	tiles        []*Tile

	usage      map[HWColor]*colorUsage
	ranked     []*colorUsage
	candidates map[string]*Subpalette
	pool       []*Subpalette
	bg         Color
}

// A Converter converts one source image. It implements io.WriterTo.
type Converter struct {
	opt    Options
	img    *sourceImage
	screen *Screen
}

// New reads and decodes an image from r and returns a Converter for it.
func New(opt Options, r io.Reader) (*Converter, error) {
	m, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("image.Decode failed: %w", err)
	}
	return NewFromImage(opt, m)
}

// NewFromPath opens, decodes and prepares the image at path.
func NewFromPath(opt Options, path string) (*Converter, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("os.Open %q failed: %w", path, err)
	}
	defer f.Close()
	c, err := New(opt, f)
	if err != nil {
		return nil, fmt.Errorf("New %q failed: %w", path, err)
	}
	c.img.sourceFilename = path
	return c, nil
}

// NewFromImage returns a Converter for an already decoded image.
func NewFromImage(opt Options, m image.Image) (*Converter, error) {
	opt.applyDefaults()
	if opt.TileWidth < 1 || opt.TileHeight < 1 {
		return nil, fmt.Errorf("invalid tile size %dx%d, both sides must be positive", opt.TileWidth, opt.TileHeight)
	}
	if opt.SampleWidth < 1 || opt.SampleHeight < 1 {
		return nil, fmt.Errorf("invalid sampling region %dx%d, both sides must be positive", opt.SampleWidth, opt.SampleHeight)
	}
	p, err := NewPalette(opt.HWPalette)
	if err != nil {
		return nil, fmt.Errorf("NewPalette failed: %w", err)
	}
	return &Converter{
		opt: opt,
		img: &sourceImage{opt: opt, p: p, image: m},
	}, nil
}

// Convert runs the full pipeline and returns the assembled Screen:
// canvas preparation, first-pass dither, partitioning, analysis,
// per-tile assignment, screen assembly. Phases run strictly in order.
func (c *Converter) Convert() (*Screen, error) {
	if c.screen != nil {
		return c.screen, nil
	}
	img := c.img
	img.canvas = preQuantize(prepareCanvas(img.image), img.opt.MaxSourceColors, img.opt.Verbose)
	if err := img.firstPass(); err != nil {
		return nil, err
	}
	img.tiles = partition(img.canvas, img.opt.TileWidth, img.opt.TileHeight)
	if err := img.analyze(); err != nil {
		return nil, fmt.Errorf("analyze failed: %w", err)
	}
	if img.opt.BruteForce > 1 {
		if err := img.bruteForceSeeds(); err != nil {
			return nil, fmt.Errorf("bruteForceSeeds failed: %w", err)
		}
	}
	if err := img.assignTiles(); err != nil {
		return nil, fmt.Errorf("assignTiles failed: %w", err)
	}
	s, err := img.Screen()
	if err != nil {
		return nil, fmt.Errorf("Screen failed: %w", err)
	}
	c.screen = s
	return s, nil
}

// Frame returns the assembled dithered output image, converting first
// if needed.
func (c *Converter) Frame() (image.Image, error) {
	if _, err := c.Convert(); err != nil {
		return nil, err
	}
	return c.img.Frame(), nil
}

// WriteTo converts if needed and writes the binary screen data to w.
func (c *Converter) WriteTo(w io.Writer) (int64, error) {
	s, err := c.Convert()
	if err != nil {
		return 0, err
	}
	return s.WriteTo(w)
}

// DestinationFilename returns the output path for filename according to
// opt.TargetDir and opt.OutFile, defaulting to the source name with a
// .bin extension.
func DestinationFilename(filename string, opt Options) (destfilename string) {
	if len(opt.TargetDir) > 0 {
		destfilename = filepath.Dir(opt.TargetDir+string(os.PathSeparator)) + string(os.PathSeparator)
	}
	if len(opt.OutFile) > 0 {
		return destfilename + opt.OutFile
	}
	return destfilename + filepath.Base(strings.TrimSuffix(filename, filepath.Ext(filename))+".bin")
}

// PrintUsage prints the one-line usage.
func PrintUsage() {
	fmt.Printf("usage: ./png2nes [-help -q -v -bg 0f -master 2c03 -dither bayer4x4 -o outfile.bin] FILE [FILE..]\n")
}

// PrintHelp prints the long help.
func PrintHelp() {
	fmt.Printf("# png2nes %v\n\n", Version)
	fmt.Println("converts an image to NES background data: a 16 byte palette block,")
	fmt.Println("a 960 byte nametable, a 64 byte attribute table and 2bpp pattern chars.")
	fmt.Println()
	fmt.Println("the image is scaled to 256x240, dithered against the full master")
	fmt.Println("palette, split into attribute tiles and each tile is assigned the")
	fmt.Println("candidate subpalette minimizing its dithered distance to the")
	fmt.Println("full-palette reference. all subpalettes share one background color.")
	fmt.Println()
	fmt.Printf("dither modes: %s\n", strings.Join(DitherModes(), " "))
	fmt.Println("master palettes:", paletteVariantNames())
	fmt.Println()
	fmt.Println("a custom palette bypasses analysis, eg:")
	fmt.Println("  -bg 0f -palette f8f8f8a80020f83800,f8f8f80078f83cbcfc  (chunks of 3 rrggbb colors)")
	fmt.Println("  use chunks of 4 rrggbb colors without -bg, the first color is the shared background.")
}

func paletteVariantNames() string {
	names := make([]string, 0, len(paletteSources))
	for _, src := range paletteSources {
		names = append(names, src.Name)
	}
	return strings.Join(names, " ")
}

func init() {
	log.SetFlags(0)
}
