package persist

import (
	"context"
	"time"
)

// FlushReport summarises one flush job.
type FlushReport struct {
	ID       string `json:"id"`
	Identity string `json:"identity,omitempty"` // empty for full flushes

	Records int `json:"records"` // dirty records considered
	Dropped int `json:"dropped"` // records skipped by the filter
	Batches int `json:"batches"`
	Written int `json:"written"` // records in committed batches
	Cleaned int `json:"cleaned"` // records marked clean afterwards
	Failed  int `json:"failed"`  // records in batches that exhausted retries

	Duration time.Duration `json:"duration"`
}

// Future completes when a flush job has attempted every batch.
type Future struct {
	done   chan struct{}
	report FlushReport
	err    error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Completed returns a future that is already done.
func Completed(r FlushReport, err error) *Future {
	f := newFuture()
	f.complete(r, err)
	return f
}

func (f *Future) complete(r FlushReport, err error) {
	f.report = r
	f.err = err
	close(f.done)
}

// Done is closed when the job has finished.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the job finishes or ctx is done. A context error does
// not cancel the job.
func (f *Future) Wait(ctx context.Context) (FlushReport, error) {
	select {
	case <-f.done:
		return f.report, f.err
	case <-ctx.Done():
		return FlushReport{}, ctx.Err()
	}
}

// MapErr returns a future that completes with f's report and fn applied to
// f's error. fn is not called on success.
func (f *Future) MapErr(fn func(error) error) *Future {
	out := newFuture()
	go func() {
		<-f.done
		err := f.err
		if err != nil {
			err = fn(err)
		}
		out.complete(f.report, err)
	}()
	return out
}
