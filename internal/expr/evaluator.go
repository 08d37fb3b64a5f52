package expr

import (
	"context"
	"log/slog"
	"strings"

	"github.com/roach88/varkeep/internal/ir"
)

// Reference is the resolved value of a referenced variable together with
// every key that value was computed from.
type Reference struct {
	Value string
	Deps  []string
}

// Lookup reads the current display value of a referenced variable. The
// chain already contains key. Returning false leaves ${key} unresolved.
type Lookup interface {
	Lookup(ctx context.Context, identity, key string, chain *Chain) (Reference, bool)
}

// LookupFunc adapts a function to Lookup.
type LookupFunc func(ctx context.Context, identity, key string, chain *Chain) (Reference, bool)

// Lookup calls f.
func (f LookupFunc) Lookup(ctx context.Context, identity, key string, chain *Chain) (Reference, bool) {
	return f(ctx, identity, key, chain)
}

// Request describes one resolution.
type Request struct {
	// Key is the variable being resolved. Used for logs only.
	Key string

	// Raw is the expression to resolve.
	Raw string

	// Identity is the evaluation context, empty for global scope.
	Identity string

	// Type drives arithmetic evaluation and normalization of the result.
	// An empty type leaves the result as text.
	Type ir.ValueType

	// Limits supplies the recursion, length and circularity bounds.
	Limits ir.Limitations

	// Chain holds the keys already being resolved, including Key.
	Chain *Chain

	// Lookup resolves ${key} references. Nil leaves them untouched.
	Lookup Lookup
}

// Outcome classifies how a resolution ended.
type Outcome int

const (
	// OutcomeResolved means a fixed point was reached.
	OutcomeResolved Outcome = iota

	// OutcomeRecursionLimit means the pass budget ran out; Value holds the
	// last partially resolved string.
	OutcomeRecursionLimit

	// OutcomeTooLong means the expression grew past the length bound;
	// Value holds the original unresolved string.
	OutcomeTooLong

	// OutcomeCircular means a pass reproduced an earlier string or a
	// reference pointed back into the chain.
	OutcomeCircular
)

// String returns the outcome name used in logs and traces.
func (o Outcome) String() string {
	switch o {
	case OutcomeResolved:
		return "resolved"
	case OutcomeRecursionLimit:
		return "recursion_limit_exceeded"
	case OutcomeTooLong:
		return "expression_too_long"
	case OutcomeCircular:
		return "circular_dependency"
	default:
		return "unknown"
	}
}

// Resolution is the result of resolving one expression. It is never an
// error: safety limits degrade to a partial or raw value.
type Resolution struct {
	Value   string
	Outcome Outcome

	// Deps lists every variable key read while resolving, transitively.
	Deps []string

	// Passes is the number of substitution passes run.
	Passes int
}

// Evaluator resolves value strings. It holds no per-resolution state and
// is safe for concurrent use.
type Evaluator struct {
	placeholders PlaceholderProvider
	logger       *slog.Logger
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithPlaceholders sets the external placeholder provider.
func WithPlaceholders(p PlaceholderProvider) Option {
	return func(e *Evaluator) {
		if p != nil {
			e.placeholders = p
		}
	}
}

// WithLogger sets the logger for safety-limit warnings.
func WithLogger(l *slog.Logger) Option {
	return func(e *Evaluator) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an Evaluator.
func New(opts ...Option) *Evaluator {
	e := &Evaluator{
		placeholders: NopProvider{},
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Resolve runs substitution passes over req.Raw until a fixed point or a
// safety limit. Each pass substitutes ${key} references, then external
// placeholders, then evaluates the whole string as arithmetic when the
// declared type is numeric.
func (e *Evaluator) Resolve(ctx context.Context, req Request) Resolution {
	deps := newDepSet()
	seen := newSeenSet()
	budget := newPassBudget(req.Limits.Depth())

	current := req.Raw
	seen.Record(current)
	circularRef := false

	for {
		if len(current) > req.Limits.Length() {
			e.logger.Warn("expression exceeds max length",
				"key", req.Key,
				"identity", req.Identity,
				"length", len(current),
				"max", req.Limits.Length(),
			)
			return Resolution{Value: req.Raw, Outcome: OutcomeTooLong, Deps: deps.list(), Passes: budget.Current()}
		}

		if err := budget.Check(req.Key); err != nil {
			e.logger.Warn("expression recursion limit reached",
				"key", req.Key,
				"identity", req.Identity,
				"error", err,
			)
			return Resolution{Value: current, Outcome: OutcomeRecursionLimit, Deps: deps.list(), Passes: budget.Current() - 1}
		}

		next, cyclic := e.pass(ctx, current, req, deps)
		circularRef = circularRef || cyclic
		if next == current {
			break
		}

		if !req.Limits.AllowCircularReferences && seen.WouldCycle(next) {
			e.logger.Warn("expression repeats, aborting resolution",
				"key", req.Key,
				"identity", req.Identity,
				"distinct", seen.Size(),
			)
			return Resolution{Value: req.Raw, Outcome: OutcomeCircular, Deps: deps.list(), Passes: budget.Current()}
		}
		seen.Record(next)
		current = next
	}

	if circularRef {
		// A partial substitution would still point back at itself.
		return Resolution{Value: req.Raw, Outcome: OutcomeCircular, Deps: deps.list(), Passes: budget.Current()}
	}
	outcome := OutcomeResolved
	return Resolution{
		Value:   normalize(current, req.Type),
		Outcome: outcome,
		Deps:    deps.list(),
		Passes:  budget.Current(),
	}
}

// pass runs one substitution pass. The bool reports a reference that was
// skipped because it points back into the chain.
func (e *Evaluator) pass(ctx context.Context, s string, req Request, deps *depSet) (string, bool) {
	cyclic := false

	if req.Lookup != nil {
		s = ir.ReplaceReferences(s, func(key string) (string, bool) {
			if !req.Limits.AllowCircularReferences && req.Chain.Contains(key) {
				cyclic = true
				return "", false
			}
			if req.Chain.Depth() >= req.Limits.Depth() {
				return "", false
			}
			ref, ok := req.Lookup.Lookup(ctx, req.Identity, key, req.Chain.Push(key))
			if !ok {
				return "", false
			}
			deps.add(key)
			deps.add(ref.Deps...)
			return ref.Value, true
		})
	}

	if ir.HasPlaceholders(s) {
		s = e.placeholders.Substitute(req.Identity, s)
	}

	if req.Type.IsNumeric() {
		if t := strings.TrimSpace(s); IsArithmetic(t) {
			if v, err := Evaluate(t); err == nil {
				s = FormatNumber(v)
			}
		}
	}

	return s, cyclic
}

// normalize renders numeric results in the declared type's display form,
// so an INT never shows a trailing ".0".
func normalize(s string, t ir.ValueType) string {
	if !t.IsNumeric() {
		return s
	}
	v, err := ir.ParseValue(t, s)
	if err != nil {
		return s
	}
	return v.String()
}

// depSet collects keys in first-seen order.
type depSet struct {
	seen map[string]bool
	keys []string
}

func newDepSet() *depSet {
	return &depSet{seen: make(map[string]bool)}
}

func (d *depSet) add(keys ...string) {
	for _, k := range keys {
		if !d.seen[k] {
			d.seen[k] = true
			d.keys = append(d.keys, k)
		}
	}
}

func (d *depSet) list() []string {
	if d.keys == nil {
		return []string{}
	}
	return d.keys
}
