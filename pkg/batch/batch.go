// Package batch implements the Batch Pool: a bounded-concurrency worker pool
// that runs a handler across a sequence of records, collecting per-item
// success and failure without letting one failure abort the rest (spec §4.4).
package batch

import "sync"

const (
	// DefaultConcurrency is the concurrency cap used when a driver does not
	// configure one.
	DefaultConcurrency = 5
	// MinConcurrency is the smallest legal concurrency cap.
	MinConcurrency = 1
)

// ItemError pairs a failed record with its error, preserving the record for
// the caller's mapError projection.
type ItemError[T any] struct {
	Item  T
	Error error
}

// Result is the outcome of Run: every input record appears in exactly one
// of Results or Errors (spec §8: |results|+|errors|=|records|).
type Result[R any] struct {
	Results []R
	Errors  []error
}

// Run executes handler(record) across records with at most concurrency
// in-flight calls at a time. Ordering of Results is not guaranteed to match
// records' order. An empty records slice short-circuits without invoking
// handler, per spec §8's boundary behaviour.
func Run[T any, R any](records []T, concurrency int, handler func(T) (R, error), mapError func(error, T) error) Result[R] {
	if concurrency < MinConcurrency {
		concurrency = DefaultConcurrency
	}
	if len(records) == 0 {
		return Result[R]{Results: []R{}, Errors: []error{}}
	}

	type outcome struct {
		result R
		err    error
		ok     bool
	}

	sem := make(chan struct{}, concurrency)
	outcomes := make([]outcome, len(records))
	var wg sync.WaitGroup

	for i, rec := range records {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, rec T) {
			defer wg.Done()
			defer func() { <-sem }()
			res, err := handler(rec)
			if err != nil {
				if mapError != nil {
					err = mapError(err, rec)
				}
				outcomes[i] = outcome{err: err}
				return
			}
			outcomes[i] = outcome{result: res, ok: true}
		}(i, rec)
	}
	wg.Wait()

	out := Result[R]{Results: make([]R, 0, len(records)), Errors: make([]error, 0)}
	for _, o := range outcomes {
		if o.ok {
			out.Results = append(out.Results, o.result)
		} else {
			out.Errors = append(out.Errors, o.err)
		}
	}
	return out
}
