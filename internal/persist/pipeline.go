// Package persist is the write-behind pipeline between the memory store
// and the backing store.
//
// A single run loop serves flush jobs from a FIFO queue and enqueues a full
// flush on every tick of the interval. Each job snapshots the dirty
// records, splits them into batches, and writes the batches on a bounded
// worker pool. A batch is retried with exponential backoff; when retries
// run out its records stay dirty and the next cycle picks them up.
package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/varkeep/internal/memstore"
	"github.com/roach88/varkeep/internal/metrics"
	"github.com/roach88/varkeep/internal/store"
)

// Errors reported by the pipeline.
var (
	ErrStopped        = errors.New("persistence pipeline stopped")
	ErrAlreadyStarted = errors.New("persistence pipeline already started")
)

// Source is the dirty-record view of the memory store.
type Source interface {
	DirtySnapshot() []memstore.Record
	DirtyFor(identity string) []memstore.Record
	MarkClean(rec memstore.Record) bool
}

// Sink applies batches to durable storage. *store.Store implements it.
type Sink interface {
	ApplyBatch(ctx context.Context, muts []store.Mutation) error
}

// Defaults applied when Config leaves a field zero.
const (
	DefaultInterval         = 30 * time.Second
	DefaultBatchSize        = 100
	DefaultRetryCount       = 3
	DefaultWorkers          = 2
	DefaultStatementTimeout = 10 * time.Second
	DefaultRetryInitial     = 50 * time.Millisecond
	DefaultRetryMax         = 2 * time.Second
)

// Config tunes the pipeline.
type Config struct {
	Interval         time.Duration
	BatchSize        int
	RetryCount       int // total attempts per batch
	Workers          int
	StatementTimeout time.Duration
	RetryInitial     time.Duration
	RetryMax         time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.RetryCount <= 0 {
		c.RetryCount = DefaultRetryCount
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.StatementTimeout <= 0 {
		c.StatementTimeout = DefaultStatementTimeout
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = DefaultRetryInitial
	}
	if c.RetryMax <= 0 {
		c.RetryMax = DefaultRetryMax
	}
	return c
}

// FlushError reports records whose batches exhausted their retries.
type FlushError struct {
	Failed int
	Err    error
}

func (e *FlushError) Error() string {
	return fmt.Sprintf("flush failed for %d records: %v", e.Failed, e.Err)
}

func (e *FlushError) Unwrap() error { return e.Err }

// job is one queued flush. An empty identity flushes everything.
type job struct {
	identity string
	future   *Future
}

type state int

const (
	stateIdle state = iota
	stateRunning
	stateStopped
)

// Pipeline is safe for concurrent use.
type Pipeline struct {
	src  Source
	sink Sink
	cfg  Config

	keep    func(memstore.Record) bool
	ids     IDGenerator
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *metrics.Metrics

	mu    sync.Mutex
	state state
	queue *jobQueue
	stop  chan struct{}
	done  chan struct{}
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithFilter sets a predicate deciding which dirty records are written.
// Rejected records are marked clean and never reach the sink.
func WithFilter(keep func(memstore.Record) bool) Option {
	return func(p *Pipeline) { p.keep = keep }
}

// WithIDGenerator sets the flush ID generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(p *Pipeline) { p.ids = g }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithTracer sets the tracer used for batch spans.
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New creates a pipeline. It does nothing until Start; flushes requested
// before Start run immediately.
func New(src Source, sink Sink, cfg Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		src:    src,
		sink:   sink,
		cfg:    cfg.withDefaults(),
		keep:   func(memstore.Record) bool { return true },
		ids:    UUIDv7Generator{},
		logger: slog.Default(),
		tracer: otel.Tracer("github.com/roach88/varkeep/internal/persist"),
		queue:  newJobQueue(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the run loop. The loop stops when Shutdown is called.
// Cancelling ctx only ends periodic flushing: the pipeline falls back to
// serving each flush on demand, as if it had never been started.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case stateRunning:
		return ErrAlreadyStarted
	case stateStopped:
		return ErrStopped
	}
	p.state = stateRunning
	p.stop = make(chan struct{})
	p.done = make(chan struct{})

	go p.run(ctx)

	p.logger.Info("persistence pipeline started",
		"interval", p.cfg.Interval,
		"batch_size", p.cfg.BatchSize,
		"workers", p.cfg.Workers,
	)
	return nil
}

// run is the single consumer of the job queue.
func (p *Pipeline) run(ctx context.Context) {
	defer close(p.done)

	// Jobs already accepted must complete even after ctx is cancelled.
	work := context.WithoutCancel(ctx)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.detach(work, ctx.Err())
			return
		case <-p.stop:
			return
		case <-ticker.C:
			p.queue.Enqueue(&job{future: newFuture()})
		case <-p.queue.Wait():
			p.drain(work)
		}
	}
}

// detach moves a running pipeline back to idle after its start context
// ends, then serves whatever was queued before the switch.
func (p *Pipeline) detach(ctx context.Context, cause error) {
	p.mu.Lock()
	if p.state == stateRunning {
		p.state = stateIdle
		p.logger.Warn("persistence pipeline context ended, periodic flushing stopped",
			"error", cause,
			"queued", p.queue.Len(),
		)
	}
	p.mu.Unlock()

	p.drain(ctx)
}

func (p *Pipeline) drain(ctx context.Context) {
	for {
		j, ok := p.queue.TryDequeue()
		if !ok {
			return
		}
		p.execute(ctx, j)
	}
}

// FlushAll writes every dirty record.
func (p *Pipeline) FlushAll(ctx context.Context) *Future {
	return p.submit(ctx, "")
}

// FlushIdentity writes the dirty records of one identity.
func (p *Pipeline) FlushIdentity(ctx context.Context, identity string) *Future {
	return p.submit(ctx, identity)
}

func (p *Pipeline) submit(ctx context.Context, identity string) *Future {
	j := &job{identity: identity, future: newFuture()}

	p.mu.Lock()
	st := p.state
	if st == stateRunning && !p.queue.Enqueue(j) {
		st = stateStopped
	}
	p.mu.Unlock()

	switch st {
	case stateStopped:
		return Completed(FlushReport{Identity: identity}, ErrStopped)
	case stateIdle:
		go p.execute(context.WithoutCancel(ctx), j)
	}
	return j.future
}

// Shutdown stops the run loop, serves queued jobs, and performs one final
// full flush. Further flushes fail with ErrStopped.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	prev := p.state
	if prev == stateStopped {
		p.mu.Unlock()
		return nil
	}
	p.state = stateStopped
	p.queue.Close()
	p.mu.Unlock()

	if prev == stateRunning {
		close(p.stop)
		select {
		case <-p.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	p.drain(ctx)

	final := &job{future: newFuture()}
	p.execute(ctx, final)
	report, err := final.future.Wait(ctx)

	p.logger.Info("persistence pipeline stopped",
		"final_written", report.Written,
		"final_failed", report.Failed,
	)
	return err
}

// execute runs one job to completion and completes its future.
func (p *Pipeline) execute(ctx context.Context, j *job) {
	start := time.Now()
	report := FlushReport{ID: p.ids.Generate(), Identity: j.identity}

	var records []memstore.Record
	if j.identity == "" {
		records = p.src.DirtySnapshot()
	} else {
		records = p.src.DirtyFor(j.identity)
	}

	kept := records[:0:0]
	for _, r := range records {
		if p.keep(r) {
			kept = append(kept, r)
			continue
		}
		report.Dropped++
		p.src.MarkClean(r)
	}
	report.Records = len(kept)

	batches := chunk(kept, p.cfg.BatchSize)
	report.Batches = len(batches)

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(p.cfg.Workers)
	for i, batch := range batches {
		g.Go(func() error {
			err := p.writeBatch(ctx, report.ID, i, batch)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed += len(batch)
				errs = append(errs, err)
				return nil
			}
			report.Written += len(batch)
			for _, r := range batch {
				if p.src.MarkClean(r) {
					report.Cleaned++
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(start)
	p.metrics.Flush(report.Written, report.Failed, report.Duration)
	if j.identity == "" {
		p.metrics.SetDirty(report.Records - report.Cleaned)
	}

	var err error
	if len(errs) > 0 {
		err = &FlushError{Failed: report.Failed, Err: errors.Join(errs...)}
		p.logger.Error("flush incomplete, records stay dirty",
			"id", report.ID,
			"identity", report.Identity,
			"failed", report.Failed,
			"error", err,
		)
	} else if report.Records > 0 {
		p.logger.Info("flush complete",
			"id", report.ID,
			"identity", report.Identity,
			"written", report.Written,
			"batches", report.Batches,
			"duration", report.Duration,
		)
	}

	j.future.complete(report, err)
}

// writeBatch applies one batch with retries, inside a span.
func (p *Pipeline) writeBatch(ctx context.Context, flushID string, index int, batch []memstore.Record) error {
	ctx, span := p.tracer.Start(ctx, "persist.batch", trace.WithAttributes(
		attribute.String("flush.id", flushID),
		attribute.Int("batch.index", index),
		attribute.Int("batch.size", len(batch)),
	))
	defer span.End()

	muts := make([]store.Mutation, len(batch))
	for i, r := range batch {
		muts[i] = toMutation(r)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.RetryInitial
	b.MaxInterval = p.cfg.RetryMax

	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		sctx, cancel := context.WithTimeout(ctx, p.cfg.StatementTimeout)
		defer cancel()
		return struct{}{}, p.sink.ApplyBatch(sctx, muts)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(p.cfg.RetryCount)),
		backoff.WithNotify(func(err error, next time.Duration) {
			p.metrics.FlushRetry()
			p.logger.Warn("batch write failed, retrying",
				"id", flushID,
				"batch", index,
				"retry_in", next,
				"error", err,
			)
		}),
	)

	span.SetAttributes(attribute.Int("batch.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch write failed")
		return fmt.Errorf("batch %d: %w", index, err)
	}
	return nil
}

// toMutation converts a dirty record to a store mutation.
func toMutation(r memstore.Record) store.Mutation {
	m := store.Mutation{
		Scope:     r.Scope,
		Identity:  r.Identity,
		Key:       r.Key,
		Delete:    r.Deleted,
		CreatedAt: r.FirstModified.UnixMilli(),
		UpdatedAt: r.Updated.UnixMilli(),
	}
	if r.HasValue {
		m.Value = sql.NullString{String: r.Value, Valid: true}
	}
	if r.StrictComputed {
		m.StrictBase = sql.NullString{String: r.StrictBase, Valid: true}
	}
	return m
}

// chunk splits records into batches of at most size.
func chunk(records []memstore.Record, size int) [][]memstore.Record {
	var out [][]memstore.Record
	for len(records) > 0 {
		n := min(size, len(records))
		out = append(out, records[:n])
		records = records[n:]
	}
	return out
}
