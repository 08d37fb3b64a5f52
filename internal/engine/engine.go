package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/varkeep/internal/cache"
	"github.com/roach88/varkeep/internal/expr"
	"github.com/roach88/varkeep/internal/ir"
	"github.com/roach88/varkeep/internal/memstore"
	"github.com/roach88/varkeep/internal/metrics"
	"github.com/roach88/varkeep/internal/persist"
	"github.com/roach88/varkeep/internal/registry"
	"github.com/roach88/varkeep/internal/snapshot"
	"github.com/roach88/varkeep/internal/store"
)

// DefaultOperationTimeout bounds every public operation.
const DefaultOperationTimeout = 5 * time.Second

// Loader reads persisted rows. *store.Store implements it.
type Loader interface {
	LoadGlobals(ctx context.Context) ([]store.Row, error)
	LoadIdentity(ctx context.Context, identity string) ([]store.Row, error)
}

// Backend is the durable side of the engine. *store.Store implements it.
type Backend interface {
	persist.Sink
	Loader
}

// Engine owns every component of a running variable engine.
//
// Thread-safety model:
//   - all public operations are safe from any goroutine
//   - reads never touch the backend; writes reach it through the pipeline
//   - Start and Shutdown are called once each
type Engine struct {
	registry  *registry.Registry
	mem       *memstore.Store
	cache     *cache.Cache
	eval      *expr.Evaluator
	snapshots *snapshot.Resolver
	pipeline  *persist.Pipeline // nil without a backend
	loader    Loader

	metrics *metrics.Metrics
	logger  *slog.Logger
	timeout time.Duration

	stopped atomic.Bool

	// presence counts arrivals per identity, so an eviction scheduled by a
	// departure is skipped when the identity came back in the meantime.
	presenceMu sync.Mutex
	presence   map[string]uint64
}

type options struct {
	logger       *slog.Logger
	metrics      *metrics.Metrics
	tracer       trace.Tracer
	placeholders expr.PlaceholderProvider
	cacheCfg     cache.Config
	persistCfg   persist.Config
	flushIDs     persist.IDGenerator
	clock        memstore.VersionClock
	now          func() time.Time
	timeout      time.Duration
}

// Option configures an Engine.
type Option func(*options)

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTracer sets the tracer used by the persistence pipeline.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// WithPlaceholders sets the external placeholder provider.
func WithPlaceholders(p expr.PlaceholderProvider) Option {
	return func(o *options) { o.placeholders = p }
}

// WithCacheConfig sizes the cache tiers.
func WithCacheConfig(c cache.Config) Option {
	return func(o *options) { o.cacheCfg = c }
}

// WithPersistConfig tunes the persistence pipeline.
func WithPersistConfig(c persist.Config) Option {
	return func(o *options) { o.persistCfg = c }
}

// WithFlushIDs sets the flush ID generator. Tests use a sequence.
func WithFlushIDs(g persist.IDGenerator) Option {
	return func(o *options) { o.flushIDs = g }
}

// WithClock sets the version clock of the memory store.
func WithClock(c memstore.VersionClock) Option {
	return func(o *options) { o.clock = c }
}

// WithNow sets the wall clock used for entry timestamps and snapshots.
func WithNow(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithOperationTimeout sets the per-operation deadline.
//
// Default: 5s (DefaultOperationTimeout)
func WithOperationTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// New creates an engine over defs. backend may be nil for a memory-only
// engine whose flushes are no-ops.
func New(defs []ir.Definition, backend Backend, opts ...Option) (*Engine, error) {
	o := options{
		logger:  slog.Default(),
		timeout: DefaultOperationTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.timeout <= 0 {
		o.timeout = DefaultOperationTimeout
	}

	var memOpts []memstore.Option
	if o.clock != nil {
		memOpts = append(memOpts, memstore.WithClock(o.clock))
	}
	var snapOpts []snapshot.Option
	if o.now != nil {
		memOpts = append(memOpts, memstore.WithNow(o.now))
		snapOpts = append(snapOpts, snapshot.WithNow(o.now))
	}
	snapOpts = append(snapOpts, snapshot.WithLogger(o.logger))

	reg := registry.New(o.logger)
	if _, err := reg.Load(defs); err != nil {
		return nil, err
	}

	mem := memstore.New(memOpts...)
	eval := expr.New(expr.WithPlaceholders(o.placeholders), expr.WithLogger(o.logger))

	e := &Engine{
		registry:  reg,
		mem:       mem,
		cache:     cache.New(o.cacheCfg, o.metrics),
		eval:      eval,
		snapshots: snapshot.New(eval, mem, snapOpts...),
		metrics:   o.metrics,
		logger:    o.logger,
		timeout:   o.timeout,
		presence:  make(map[string]uint64),
	}

	if backend != nil {
		e.loader = backend
		pOpts := []persist.Option{
			persist.WithLogger(o.logger),
			persist.WithMetrics(o.metrics),
			persist.WithFilter(e.persistable),
		}
		if o.tracer != nil {
			pOpts = append(pOpts, persist.WithTracer(o.tracer))
		}
		if o.flushIDs != nil {
			pOpts = append(pOpts, persist.WithIDGenerator(o.flushIDs))
		}
		e.pipeline = persist.New(mem, backend, o.persistCfg, pOpts...)
	}

	return e, nil
}

// persistable keeps records of registered, persistable variables. Records
// of keys removed by a reload are dropped.
func (e *Engine) persistable(r memstore.Record) bool {
	def, ok := e.registry.Lookup(r.Key)
	return ok && def.Scope == r.Scope && def.Limits.IsPersistable()
}

// Definitions returns every registered definition ordered by key.
func (e *Engine) Definitions() []ir.Definition {
	return e.registry.All()
}

// Definition returns the definition of key.
func (e *Engine) Definition(key string) (ir.Definition, bool) {
	return e.registry.Lookup(key)
}

// CacheStats returns the cache counters.
func (e *Engine) CacheStats() cache.Stats {
	return e.cache.Stats()
}

// MemoryStats returns the memory store counters.
func (e *Engine) MemoryStats() memstore.Stats {
	return e.mem.Stats()
}

// source adapts the engine's read path to the snapshot resolver.
type source struct{ e *Engine }

func (s source) Definition(key string) (ir.Definition, bool) {
	return s.e.registry.Lookup(key)
}

func (s source) Current(ctx context.Context, identity, key string, chain *expr.Chain) (expr.Reference, bool) {
	return s.e.reference(ctx, identity, key, chain)
}
