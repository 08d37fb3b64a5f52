package engine

import (
	"context"

	"github.com/roach88/varkeep/internal/expr"
	"github.com/roach88/varkeep/internal/ir"
	"github.com/roach88/varkeep/internal/snapshot"
)

// Explanation describes how a variable's display value comes about.
type Explanation struct {
	Key        string        `json:"key"`
	Identity   string        `json:"identity,omitempty"`
	Definition ir.Definition `json:"definition"`

	Formula bool `json:"formula"`
	Strict  bool `json:"strict"`

	// ConditionsMet is false when an access condition rejects the caller.
	// The value is still explained.
	ConditionsMet bool `json:"conditions_met"`

	Base      string `json:"base,omitempty"`
	Increment string `json:"increment,omitempty"`
	Value     string `json:"value"`

	Outcome string   `json:"outcome"`
	Deps    []string `json:"deps"`

	Dirty    bool               `json:"dirty"`
	Snapshot *snapshot.Snapshot `json:"snapshot,omitempty"`
}

// Problem returns the safety limit that cut the resolution short, as an
// *Error, or nil.
func (x *Explanation) Problem() error {
	var code Code
	switch x.Outcome {
	case expr.OutcomeCircular.String():
		code = CodeCircularDependency
	case expr.OutcomeTooLong.String():
		code = CodeExpressionTooLong
	case expr.OutcomeRecursionLimit.String():
		code = CodeRecursionLimit
	default:
		return nil
	}
	return newError(code, "explain", x.Key, x.Identity, "resolution ended with %s", x.Outcome)
}

// Explain resolves key without the cache and reports every intermediate
// step. Strict variables are explained from their frozen base.
func (e *Engine) Explain(ctx context.Context, identity, key string) (*Explanation, error) {
	var x *Explanation
	_, err := e.run(ctx, "explain", identity, key, func(ctx context.Context) (string, error) {
		def, ok := e.registry.Lookup(key)
		if !ok {
			return "", newError(CodeNotFound, "explain", key, identity, "no variable is defined with this key")
		}
		id, err := storageIdentity("explain", def, identity)
		if err != nil {
			return "", err
		}

		x = &Explanation{
			Key:           key,
			Identity:      id,
			Definition:    def,
			Formula:       def.IsFormula(),
			Strict:        def.Limits.StrictInitialMode,
			ConditionsMet: e.checkConditions(ctx, "explain", def, identity) == nil,
			Outcome:       expr.OutcomeResolved.String(),
			Deps:          []string{},
		}

		entry, has := e.mem.Get(def.Scope, id, def.Key)
		x.Dirty = has && entry.Dirty
		if has && entry.HasValue {
			x.Increment = display(def.Type, entry.Value)
		}

		if def.IsFormula() {
			chain := expr.Root().Push(key)
			switch {
			case def.Limits.StrictInitialMode:
				base, _, _ := e.base(ctx, def, id, chain, entry, has)
				x.Base = base
				if snap, ok := e.snapshots.Last(id, key); ok {
					x.Snapshot = &snap
					x.Outcome = snap.Outcome.String()
					x.Deps = snap.Deps
				}
			default:
				res := e.eval.Resolve(ctx, expr.Request{
					Key:      def.Key,
					Raw:      def.Initial,
					Identity: id,
					Type:     def.Type,
					Limits:   def.Limits,
					Chain:    chain,
					Lookup:   expr.LookupFunc(e.reference),
				})
				x.Base = res.Value
				x.Outcome = res.Outcome.String()
				x.Deps = res.Deps
			}
		}

		v, _, _ := e.compute(ctx, def, id, expr.Root().Push(key))
		x.Value = v
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return x, nil
}
