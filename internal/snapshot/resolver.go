// Package snapshot computes strict-initial-mode values.
//
// A strict variable's initial expression is evaluated exactly once, against
// a frozen copy of the values it references, and the result is stored as
// the variable's base in the memory store. Later changes to the referenced
// variables do not move the base.
package snapshot

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/roach88/varkeep/internal/expr"
	"github.com/roach88/varkeep/internal/ir"
	"github.com/roach88/varkeep/internal/memstore"
)

// Source gives the resolver access to definitions and current values.
type Source interface {
	// Definition returns the definition of key.
	Definition(key string) (ir.Definition, bool)

	// Current reads the display value of key for identity. chain already
	// contains key.
	Current(ctx context.Context, identity, key string, chain *expr.Chain) (expr.Reference, bool)
}

// Snapshot records one strict computation.
type Snapshot struct {
	Key        string
	Identity   string
	Expression string

	// Values holds the captured value of every directly referenced key
	// that could be read.
	Values map[string]string

	// Deps lists every key reached while walking references, in walk order.
	Deps []string

	HasCircularDependency bool

	Base       string
	Outcome    expr.Outcome
	CapturedAt time.Time
}

type snapKey struct {
	identity string
	key      string
}

// Resolver computes and freezes strict bases.
type Resolver struct {
	eval   *expr.Evaluator
	mem    *memstore.Store
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	last map[snapKey]*Snapshot
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithNow sets the wall clock stamped on snapshots.
func WithNow(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// New creates a Resolver that evaluates with eval and stores bases in mem.
func New(eval *expr.Evaluator, mem *memstore.Store, opts ...Option) *Resolver {
	r := &Resolver{
		eval:   eval,
		mem:    mem,
		logger: slog.Default(),
		now:    time.Now,
		last:   make(map[snapKey]*Snapshot),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Compute evaluates def's initial expression once for identity, stores
// the result as the frozen base, and returns the snapshot. chain must
// already contain def.Key.
//
// When the reference walk finds a cycle the base is the raw initial
// expression and the outcome is OutcomeCircular. Concurrent computations
// for the same variable race; the last store wins.
func (r *Resolver) Compute(ctx context.Context, src Source, def ir.Definition, identity string, chain *expr.Chain) *Snapshot {
	snap := &Snapshot{
		Key:        def.Key,
		Identity:   identity,
		Expression: def.Initial,
		Values:     map[string]string{},
		CapturedAt: r.now(),
	}

	w := &walker{
		src:        src,
		limit:      def.Limits.Depth(),
		inProgress: map[string]bool{def.Key: true},
		seen:       map[string]bool{},
	}
	for _, ref := range ir.References(def.Initial) {
		w.visit(ref, 1)
	}
	snap.Deps = w.order
	if snap.Deps == nil {
		snap.Deps = []string{}
	}
	snap.HasCircularDependency = w.circular

	if w.circular {
		r.logger.Warn("circular dependency in strict initial value",
			"key", def.Key,
			"identity", identity,
			"deps", snap.Deps,
		)
		snap.Base = def.Initial
		snap.Outcome = expr.OutcomeCircular
	} else {
		for _, ref := range ir.References(def.Initial) {
			if chain.Contains(ref) {
				continue
			}
			if v, ok := src.Current(ctx, identity, ref, chain.Push(ref)); ok {
				snap.Values[ref] = v.Value
			}
		}

		frozen := snap.Values
		res := r.eval.Resolve(ctx, expr.Request{
			Key:      def.Key,
			Raw:      def.Initial,
			Identity: identity,
			Type:     def.Type,
			Limits:   def.Limits,
			Chain:    chain,
			Lookup: expr.LookupFunc(func(_ context.Context, _, key string, _ *expr.Chain) (expr.Reference, bool) {
				v, ok := frozen[key]
				return expr.Reference{Value: v}, ok
			}),
		})
		snap.Base = res.Value
		snap.Outcome = res.Outcome
	}

	r.mem.SetStrictBase(def.Scope, identity, def.Key, snap.Base)
	if !def.Limits.IsPersistable() {
		r.mem.ClearDirtyFlag(def.Scope, identity, def.Key)
	}

	r.mu.Lock()
	r.last[snapKey{identity, def.Key}] = snap
	r.mu.Unlock()

	r.logger.Debug("strict initial value computed",
		"key", def.Key,
		"identity", identity,
		"base", snap.Base,
		"outcome", snap.Outcome.String(),
	)
	return snap
}

// walker explores references depth-first with an explicit in-progress set.
type walker struct {
	src        Source
	limit      int
	inProgress map[string]bool
	seen       map[string]bool
	order      []string
	circular   bool
}

func (w *walker) visit(key string, depth int) {
	if w.inProgress[key] {
		w.circular = true
		return
	}
	if w.seen[key] || depth > w.limit {
		return
	}
	w.seen[key] = true
	w.order = append(w.order, key)

	def, ok := w.src.Definition(key)
	if !ok {
		return
	}
	w.inProgress[key] = true
	for _, ref := range ir.References(def.Initial) {
		w.visit(ref, depth+1)
	}
	delete(w.inProgress, key)
}

// Last returns a copy of the most recent snapshot of (identity, key).
func (r *Resolver) Last(identity, key string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.last[snapKey{identity, key}]
	if !ok {
		return Snapshot{}, false
	}
	cp := *s
	cp.Values = maps.Clone(s.Values)
	cp.Deps = slices.Clone(s.Deps)
	return cp, true
}

// Forget drops the snapshot of (identity, key).
func (r *Resolver) Forget(identity, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.last, snapKey{identity, key})
}

// ForgetIdentity drops every snapshot of identity.
func (r *Resolver) ForgetIdentity(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.last {
		if k.identity == identity {
			delete(r.last, k)
		}
	}
}

// ForgetKey drops every snapshot of key.
func (r *Resolver) ForgetKey(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.last {
		if k.key == key {
			delete(r.last, k)
		}
	}
}
