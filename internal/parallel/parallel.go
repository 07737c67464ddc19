// Package parallel provides the row-parallel loops used by the CPU kernels.
package parallel

import (
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/klauspost/cpuid/v2"
)

// Config controls parallel execution behavior.
type Config struct {
	Enabled      bool // Whether parallel execution is enabled.
	NumWorkers   int  // Number of worker goroutines to use.
	MinChunkSize int  // Minimum items per goroutine to avoid overhead.
}

// DefaultConfig returns defaults sized to the physical core count.
// Hyperthreads share FMA units, so they add little to dense float loops.
func DefaultConfig() Config {
	n := Workers()
	return Config{
		Enabled:      n > 1,
		NumWorkers:   n,
		MinChunkSize: 64,
	}
}

// WithMinChunkSize returns a copy of cfg with a different chunk floor.
func (c Config) WithMinChunkSize(n int) Config {
	c.MinChunkSize = max(n, 1)
	return c
}

// Workers returns the number of workers to use: physical cores when cpuid
// can detect them, runtime.NumCPU otherwise, never more than GOMAXPROCS.
func Workers() int {
	n := cpuid.CPU.PhysicalCores
	if n <= 0 {
		n = runtime.NumCPU()
	}
	return max(min(n, runtime.GOMAXPROCS(0)), 1)
}

// Describe returns a one-line summary of the host CPU for startup logs.
func Describe() string {
	var feats []string
	for _, f := range []struct {
		id   cpuid.FeatureID
		name string
	}{
		{cpuid.AVX2, "avx2"},
		{cpuid.FMA3, "fma3"},
		{cpuid.AVX512F, "avx512f"},
		{cpuid.ASIMD, "neon"},
	} {
		if cpuid.CPU.Supports(f.id) {
			feats = append(feats, f.name)
		}
	}
	brand := cpuid.CPU.BrandName
	if brand == "" {
		brand = runtime.GOARCH
	}
	return fmt.Sprintf("%s (%d physical cores, %d logical) [%s]",
		brand, cpuid.CPU.PhysicalCores, cpuid.CPU.LogicalCores, strings.Join(feats, ","))
}

// For executes f(i) for i in [0, n) with optional parallelism.
// Falls back to sequential execution if parallelism is disabled or n is too small.
func For(n int, f func(i int), cfg Config) {
	ForRange(n, func(start, end int) {
		for i := start; i < end; i++ {
			f(i)
		}
	}, cfg)
}

// ForRange splits [0, n) into contiguous chunks and calls f once per chunk.
func ForRange(n int, f func(start, end int), cfg Config) {
	if n <= 0 {
		return
	}
	if !cfg.Enabled || cfg.NumWorkers < 2 || n < 2*cfg.MinChunkSize {
		f(0, n)
		return
	}

	var wg sync.WaitGroup
	chunkSize := max((n+cfg.NumWorkers-1)/cfg.NumWorkers, cfg.MinChunkSize)

	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			f(s, e)
		}(start, end)
	}
	wg.Wait()
}
