// Package parallel implements the claim-next worker pool used for
// construction, batch insertion and ground-truth computation.
package parallel

import (
	"context"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// For runs fn(i) for every i in [0, n) on the given number of workers.
// Workers share an atomic cursor and claim the next unclaimed index until
// the range is exhausted. threads <= 0 means runtime.NumCPU().
func For(n, threads int, fn func(worker, i int)) {
	ForErr(n, threads, func(worker, i int) error {
		fn(worker, i)
		return nil
	})
}

// ForErr is For with a fallible fn. After the first error no further
// indices are claimed; calls already running finish. The first error is
// returned.
func ForErr(n, threads int, fn func(worker, i int) error) error {
	if n <= 0 {
		return nil
	}
	threads = Workers(n, threads)

	if threads == 1 {
		for i := 0; i < n; i++ {
			if err := fn(0, i); err != nil {
				return err
			}
		}
		return nil
	}

	var cursor atomic.Int64
	g, ctx := errgroup.WithContext(context.Background())
	for w := 0; w < threads; w++ {
		worker := w
		g.Go(func() error {
			for ctx.Err() == nil {
				i := int(cursor.Add(1) - 1)
				if i >= n {
					return nil
				}
				if err := fn(worker, i); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// Workers returns the number of workers For would use for n items
func Workers(n, threads int) int {
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	if threads > n {
		threads = n
	}
	if threads < 1 {
		threads = 1
	}
	return threads
}
