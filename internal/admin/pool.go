// ============================================================================
// Bounded Concurrency Pool
// ============================================================================
//
// Package: internal/admin
// File: pool.go
// Purpose: A small goroutine pool for running independent jobs (repairing
// or compacting one journal file each) with bounded concurrency, so an
// admin sweep over a data directory with hundreds of journals doesn't
// open hundreds of file descriptors at once.
//
//
// ============================================================================

package admin

import "sync"

// Pool runs jobs with at most concurrency of them in flight at once.
type Pool struct {
	concurrency int
}

// NewPool returns a Pool with the given concurrency, clamped to at
// least 1.
func NewPool(concurrency int) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Pool{concurrency: concurrency}
}

// Run executes every job in jobs, at most p.concurrency concurrently,
// and returns each job's error in the same order as jobs (nil for a job
// that succeeded). Run blocks until every job has completed.
func (p *Pool) Run(jobs []func() error) []error {
	results := make([]error, len(jobs))
	indices := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < p.concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indices {
				results[i] = jobs[i]()
			}
		}()
	}

	for i := range jobs {
		indices <- i
	}
	close(indices)
	wg.Wait()

	return results
}
