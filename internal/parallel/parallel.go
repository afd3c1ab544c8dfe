// Package parallel splits index ranges across a fixed number of goroutines.
package parallel

import (
	"runtime"
	"sync"
)

// Workers normalises a requested worker count: values <= 0 select
// runtime.NumCPU(), and the result never exceeds n.
func Workers(requested, n int) int {
	if requested <= 0 {
		requested = runtime.NumCPU()
	}
	if requested > n {
		requested = n
	}
	if requested < 1 {
		requested = 1
	}
	return requested
}

// Chunks divides [0, n) into contiguous ranges, one per worker, and calls fn
// for each range in its own goroutine. fn receives the worker index so it can
// keep per-worker state. Chunks returns once every range has been processed.
func Chunks(n, workers int, fn func(worker, start, end int)) {
	if n <= 0 {
		return
	}
	workers = Workers(workers, n)
	if workers == 1 {
		fn(0, 0, n)
		return
	}

	perWorker := (n + workers - 1) / workers

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * perWorker
		if start >= n {
			break
		}
		end := start + perWorker
		if end > n {
			end = n
		}

		wg.Add(1)
		go func(worker, start, end int) {
			defer wg.Done()
			fn(worker, start, end)
		}(w, start, end)
	}
	wg.Wait()
}
