package png2nes

import (
	"fmt"
	"log"
	"sort"
	"sync"
)

type bruteResult struct {
	seed  int64
	total float64
}

// bruteForceSeeds tries opt.BruteForce random pool selections and keeps
// the seed whose tile assignment has the lowest total distance. The
// winning pool replaces the analyzed one; the candidate table itself is
// never modified, so every seed starts from the same state.
func (img *sourceImage) bruteForceSeeds() error {
	num := img.opt.NumWorkers
	if num < 1 {
		num = 1
	}
	quiet := *img
	quiet.opt.Quiet = true
	quiet.opt.Verbose = false
	quiet.opt.VeryVerbose = false

	jobs := make(chan int64, num)
	result := make(chan bruteResult, num)
	wg := &sync.WaitGroup{}
	wg.Add(num)
	for i := 1; i <= num; i++ {
		go quiet.bruteWorker(wg, jobs, result, img.opt.VeryVerbose)
	}
	out := []bruteResult{}
	go func() {
		for v := range result {
			out = append(out, v)
		}
		wg.Done()
	}()
	if !img.opt.Quiet {
		fmt.Printf("started %d brute-force workers for %d seeds\n", num, img.opt.BruteForce)
	}

	for seed := int64(1); seed <= int64(img.opt.BruteForce); seed++ {
		jobs <- seed
	}
	close(jobs)
	wg.Wait()
	wg.Add(1)
	close(result)
	wg.Wait()

	if len(out) == 0 {
		return fmt.Errorf("no seed produced a usable pool")
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].total != out[j].total {
			return out[i].total < out[j].total
		}
		return out[i].seed < out[j].seed
	})
	if img.opt.Verbose {
		for i := range out {
			log.Printf("%d: -seed %d (distance %.1f)", i, out[i].seed, out[i].total)
			if !img.opt.VeryVerbose && i == 9 {
				break
			}
		}
	}

	win := out[0]
	img.opt.SelectionPolicy = SelectionRandom
	img.opt.Seed = win.seed
	pool, err := img.selectPool(SelectionRandom, win.seed)
	if err != nil {
		return fmt.Errorf("selectPool with winning seed %d failed: %w", win.seed, err)
	}
	img.pool = pool
	if !img.opt.Quiet {
		fmt.Printf("brute-force winner -seed %d (distance %.1f)\n", win.seed, win.total)
	}
	return nil
}

// bruteWorker assigns cloned tiles against the pool of each seed it
// receives. Clones share the read-only pixel buffers with the originals.
func (img *sourceImage) bruteWorker(wg *sync.WaitGroup, jobs <-chan int64, result chan bruteResult, veryVerbose bool) {
	defer wg.Done()
	for seed := range jobs {
		pool, err := img.selectPool(SelectionRandom, seed)
		if err != nil {
			if veryVerbose {
				log.Printf("selectPool seed %d failed: %v", seed, err)
			}
			continue
		}
		tiles := make([]*Tile, len(img.tiles))
		for i, t := range img.tiles {
			clone := *t
			clone.Assigned = nil
			clone.Dithered = nil
			tiles[i] = &clone
		}
		total, err := img.assignToPool(tiles, pool)
		if err != nil {
			if veryVerbose {
				log.Printf("assignToPool seed %d failed: %v", seed, err)
			}
			continue
		}
		result <- bruteResult{seed: seed, total: total}
	}
}
