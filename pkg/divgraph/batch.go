package divgraph

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/therealutkarshpriyadarshi/lshapg/internal/parallel"
)

// BatchInsertResult represents the result of a batch insert operation
type BatchInsertResult struct {
	TotalProcessed int
	SuccessCount   int
	FailureCount   int
	Errors         []error
	Duration       time.Duration
}

// Err returns nil when every insert succeeded, otherwise an error carrying
// the failure count and wrapping the first failure
func (r *BatchInsertResult) Err() error {
	if r.FailureCount == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d inserts failed: %w", r.FailureCount, r.TotalProcessed, r.Errors[0])
}

// ProgressCallback is called during batch operations to report progress
type ProgressCallback func(processed, total int)

// BatchInsert inserts ids on the given number of workers (0 uses the
// index's thread count). Workers claim ids in list order from a shared
// cursor. A failed id does not stop the batch.
func (idx *Index) BatchInsert(ids []uint32, threads int, progress ProgressCallback) *BatchInsertResult {
	start := time.Now()
	result := &BatchInsertResult{TotalProcessed: len(ids)}
	if len(ids) == 0 {
		return result
	}
	if threads <= 0 {
		threads = idx.opts.Threads
	}

	var (
		mu        sync.Mutex
		processed atomic.Int64
		failures  atomic.Int64
	)
	parallel.For(len(ids), threads, func(_, i int) {
		if err := idx.Insert(ids[i]); err != nil {
			failures.Add(1)
			mu.Lock()
			result.Errors = append(result.Errors, fmt.Errorf("vector %d: %w", ids[i], err))
			mu.Unlock()
		}
		done := processed.Add(1)
		if progress != nil {
			progress(int(done), len(ids))
		}
	})

	result.FailureCount = int(failures.Load())
	result.SuccessCount = len(ids) - result.FailureCount
	result.Duration = time.Since(start)
	return result
}
