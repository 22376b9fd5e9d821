// Package parallel fans kernel work out over goroutines.
//
// The CPU backend splits convolutions into independent (sample, group)
// tiles; each tile owns a disjoint slice of the output, so workers never
// synchronize beyond the final wait.
package parallel

import (
	"runtime"
	"sync"
)

// Config controls how work is split across goroutines.
type Config struct {
	Enabled      bool // Run on multiple goroutines.
	NumWorkers   int  // Upper bound on concurrent goroutines.
	MinChunkSize int  // Work items below which execution stays sequential.
}

// DefaultConfig sizes the pool to GOMAXPROCS.
func DefaultConfig() Config {
	n := runtime.GOMAXPROCS(0)
	return Config{
		Enabled:      n > 1,
		NumWorkers:   n,
		MinChunkSize: 1,
	}
}

// Sequential returns a Config that runs every task on the caller's goroutine.
func Sequential() Config {
	return Config{NumWorkers: 1, MinChunkSize: 1}
}

// For calls f(i) for every i in [0, n).
//
// Tasks are grouped into at most NumWorkers contiguous chunks of at least
// MinChunkSize items. For returns after every call has finished.
func For(n int, f func(i int), cfg Config) {
	if n <= 0 {
		return
	}
	workers := cfg.NumWorkers
	if !cfg.Enabled || workers <= 1 || n < 2*max(cfg.MinChunkSize, 1) {
		for i := 0; i < n; i++ {
			f(i)
		}
		return
	}

	chunk := max((n+workers-1)/workers, cfg.MinChunkSize, 1)

	var wg sync.WaitGroup
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				f(i)
			}
		}(start, end)
	}
	wg.Wait()
}

// ForBatch iterates over an outer x inner grid, e.g. samples x conv groups.
func ForBatch(outer, inner int, f func(o, i int), cfg Config) {
	if inner <= 0 {
		return
	}
	For(outer*inner, func(k int) {
		f(k/inner, k%inner)
	}, cfg)
}
