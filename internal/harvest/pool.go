package harvest

import (
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/catalog-harvester/internal/metrics"
)

// forEachLimit runs task(i) for every i in [0, n) with at most limit tasks in
// flight. A new task starts as soon as a running one finishes. Tasks report
// their own outcome; forEachLimit returns when all have finished.
func forEachLimit(n, limit int, pool string, task func(i int)) {
	if limit < 1 {
		limit = 1
	}
	g := new(errgroup.Group)
	g.SetLimit(limit)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			metrics.IncInFlight(pool)
			defer metrics.DecInFlight(pool)
			task(i)
			return nil
		})
	}
	_ = g.Wait()
}

// forEachBatch runs task(i) for every i in [0, n) in consecutive batches of
// at most size. Every task of a batch runs in parallel and the batch
// finishes completely before the next one starts.
func forEachBatch(n, size int, pool string, task func(i int)) {
	if size < 1 {
		size = 1
	}
	for start := 0; start < n; start += size {
		end := min(start+size, n)
		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				metrics.IncInFlight(pool)
				defer metrics.DecInFlight(pool)
				task(i)
			}()
		}
		wg.Wait()
	}
}
