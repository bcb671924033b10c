package main

import (
	"flag"
	"fmt"
	"image/png"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"
	"sync"
	"time"

	"github.com/png2nes/png2nes"
)

var (
	memProfile string
	cpuProfile string
	help       bool
	parallel   bool
	preview    bool
	numWorkers int
)

func main() {
	t0 := time.Now()
	opt := initAndParseFlags()
	filenames := flag.Args()
	if !opt.Quiet {
		fmt.Printf("png2nes %v\n", png2nes.Version)
	}
	if cpuProfile != "" {
		f, err := os.Create(cpuProfile)
		if err != nil {
			log.Fatalf("could not create CPU profile %q: %v", cpuProfile, err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatalf("could not start CPU profile: %v", err)
		}
		defer pprof.StopCPUProfile()
	}

	if help {
		png2nes.PrintHelp()
		return
	}
	if len(filenames) == 0 {
		png2nes.PrintUsage()
		return
	}

	filenames, err := expandWildcards(filenames)
	if err != nil {
		log.Fatalf("expandWildcards failed: %v", err)
	}

	process := processAsOne
	if parallel {
		process = processInParallel
	}
	if err = process(opt, filenames...); err != nil {
		log.Fatalf("process failed: %v", err)
	}

	if !opt.Quiet {
		fmt.Printf("converted %d file(s)\n", len(filenames))
		fmt.Printf("elapsed: %v\n", time.Since(t0))
	}
}

func processAsOne(opt png2nes.Options, filenames ...string) error {
	for _, filename := range filenames {
		if err := convert(opt, filename); err != nil {
			return err
		}
	}
	return nil
}

func processInParallel(opt png2nes.Options, filenames ...string) error {
	wg := &sync.WaitGroup{}
	numWorkers := numWorkers
	if numWorkers > len(filenames) {
		numWorkers = len(filenames)
	}
	jobs := make(chan string, numWorkers)
	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go worker(i, wg, opt, jobs)
	}
	defer func() {
		close(jobs)
		wg.Wait()
	}()
	if !opt.Quiet {
		fmt.Printf("started %d workers\n", numWorkers)
	}

	for i, filename := range filenames {
		jobs <- filename
		if i == int(len(filenames)/2) && memProfile != "" {
			if err := writeMemProfile(memProfile); err != nil {
				return fmt.Errorf("writeMemProfile failed: %w", err)
			}
			if !opt.Quiet {
				fmt.Println("writeMemProfile done")
			}
		}
	}
	return nil
}

func writeMemProfile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("Create failed: %w", err)
	}
	defer f.Close()
	runtime.GC()
	if err := pprof.WriteHeapProfile(f); err != nil {
		return fmt.Errorf("WriteHeapProfile failed: %w", err)
	}
	return nil
}

func worker(i int, wg *sync.WaitGroup, opt png2nes.Options, jobs <-chan string) {
	defer wg.Done()
	for filename := range jobs {
		if err := convert(opt, filename); err != nil {
			log.Printf("skipping: convert %q failed: %v", filename, err)
			continue
		}
		if !opt.Quiet {
			fmt.Printf("worker %d converted %q\n", i, filename)
		}
	}
}

func convert(opt png2nes.Options, filename string) error {
	opt.OutFile = png2nes.DestinationFilename(filename, opt)

	c, err := png2nes.NewFromPath(opt, filename)
	if err != nil {
		return fmt.Errorf("NewFromPath %q failed: %w", filename, err)
	}
	w, err := os.Create(opt.OutFile)
	if err != nil {
		return fmt.Errorf("os.Create %q failed: %w", opt.OutFile, err)
	}
	defer w.Close()
	if _, err = c.WriteTo(w); err != nil {
		return fmt.Errorf("WriteTo %q failed: %w", opt.OutFile, err)
	}
	if !preview {
		return nil
	}
	return writePreview(c, opt.OutFile)
}

// writePreview renders the dithered result next to the binary output.
func writePreview(c *png2nes.Converter, outFile string) error {
	m, err := c.Frame()
	if err != nil {
		return fmt.Errorf("Frame failed: %w", err)
	}
	path := strings.TrimSuffix(outFile, filepath.Ext(outFile)) + ".preview.png"
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("os.Create %q failed: %w", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, m); err != nil {
		return fmt.Errorf("png.Encode %q failed: %w", path, err)
	}
	return nil
}

func expandWildcards(filenames []string) (result []string, err error) {
	for _, filename := range filenames {
		if !strings.ContainsAny(filename, "?*") {
			result = append(result, filename)
			continue
		}
		dir := filepath.Dir(filename)
		ff, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("os.ReadDir %q failed: %w", dir, err)
		}
		name := filepath.Base(filename)
		for _, f := range ff {
			if f.IsDir() {
				continue
			}
			ok, err := filepath.Match(name, f.Name())
			if err != nil {
				return nil, fmt.Errorf("filepath.Match %q failed: %w", filename, err)
			}
			if ok {
				result = append(result, filepath.Join(dir, f.Name()))
			}
		}
	}
	return result, nil
}

func initAndParseFlags() (opt png2nes.Options) {
	flag.StringVar(&cpuProfile, "cpuprofile", "", "write cpu profile to `file`")
	flag.StringVar(&memProfile, "memprofile", "", "write memory profile to `file` (only in -parallel mode)")
	flag.BoolVar(&help, "h", false, "help")
	flag.BoolVar(&help, "help", false, "help")

	flag.BoolVar(&opt.Quiet, "q", false, "quiet")
	flag.BoolVar(&opt.Quiet, "quiet", false, "quiet, only display errors")
	flag.BoolVar(&opt.Verbose, "v", false, "verbose")
	flag.BoolVar(&opt.Verbose, "verbose", false, "verbose output")
	flag.BoolVar(&opt.VeryVerbose, "vv", false, "very verbose output, implies verbose")
	flag.StringVar(&opt.OutFile, "o", "", "out")
	flag.StringVar(&opt.OutFile, "out", "", "specify outfile.bin, by default it changes extension to .bin")
	flag.StringVar(&opt.TargetDir, "td", "", "targetdir")
	flag.StringVar(&opt.TargetDir, "targetdir", "", "specify targetdir")

	flag.StringVar(&opt.HWPalette, "master", "", "master palette variant, 2c02 or 2c03")
	flag.StringVar(&opt.BackgroundColor, "bg", "", "force the shared background color, eg 0f")
	flag.StringVar(&opt.PaletteString, "palette", "", "custom subpalettes as rrggbb hex chunks, bypasses analysis")

	flag.StringVar(&opt.Dither, "dither", "", "dither mode, eg floydsteinberg, atkinson, bayer4x4 or none")
	flag.StringVar(&opt.FirstPassDither, "dither-first", "", "dither mode of the full-palette first pass, defaults to -dither")
	flag.Float64Var(&opt.DitherStrength, "strength", 0, "dither strength 0..1")
	flag.BoolVar(&opt.Serpentine, "serpentine", false, "serpentine error diffusion")

	flag.IntVar(&opt.TileWidth, "tile-width", 0, "attribute tile width in pixels, multiple of 8")
	flag.IntVar(&opt.TileHeight, "tile-height", 0, "attribute tile height in pixels, multiple of 8")
	flag.IntVar(&opt.SampleWidth, "sample-width", 0, "local palette sampling width, defaults to tile width")
	flag.IntVar(&opt.SampleHeight, "sample-height", 0, "local palette sampling height, defaults to tile height")
	flag.IntVar(&opt.MaxSubpalettes, "max-subpalettes", 0, "on-screen subpalette budget, defaults to 4")
	flag.IntVar(&opt.PoolFactor, "pool-factor", 0, "candidate pool budget as a multiple of -max-subpalettes")

	flag.StringVar(&opt.SelectionPolicy, "policy", "", "pool selection policy, score or random")
	flag.Int64Var(&opt.Seed, "seed", 0, "seed for the random policy")
	flag.IntVar(&opt.BruteForce, "bruteforce", 0, "try this many random seeds and keep the best")
	flag.BoolVar(&opt.Crunch, "crunch", false, "TSCrunch the output payload")
	flag.BoolVar(&preview, "preview", false, "also write a .preview.png of the dithered result")

	w := int(runtime.NumCPU() / 2)
	flag.IntVar(&numWorkers, "w", w, "workers")
	flag.IntVar(&numWorkers, "workers", w, "number of concurrent workers in parallel mode")
	flag.BoolVar(&parallel, "p", false, "parallel")
	flag.BoolVar(&parallel, "parallel", false, "run number of workers in parallel for fast conversion")
	flag.Parse()
	opt.NumWorkers = numWorkers
	if opt.VeryVerbose {
		opt.Verbose = true
	}
	return opt
}
