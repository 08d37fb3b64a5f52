package engine

import (
	"context"

	"github.com/roach88/varkeep/internal/expr"
	"github.com/roach88/varkeep/internal/ir"
	"github.com/roach88/varkeep/internal/memstore"
)

// Get returns the display value of key for identity. Global variables
// ignore identity; per-player variables require one.
func (e *Engine) Get(ctx context.Context, identity, key string) (string, error) {
	return e.run(ctx, "get", identity, key, func(ctx context.Context) (string, error) {
		def, id, err := e.prepare(ctx, "get", identity, key)
		if err != nil {
			return "", err
		}
		v, _ := e.current(ctx, def, id, expr.Root().Push(key))
		return v, nil
	})
}

// prepare resolves the definition, the storage identity and the access
// conditions shared by every public operation.
func (e *Engine) prepare(ctx context.Context, op, identity, key string) (ir.Definition, string, error) {
	def, ok := e.registry.Lookup(key)
	if !ok {
		return ir.Definition{}, "", newError(CodeNotFound, op, key, identity, "no variable is defined with this key")
	}

	id, err := storageIdentity(op, def, identity)
	if err != nil {
		return ir.Definition{}, "", err
	}

	if err := e.checkConditions(ctx, op, def, identity); err != nil {
		return ir.Definition{}, "", err
	}
	return def, id, nil
}

// storageIdentity returns the partition identity of def: empty for global
// variables, the caller's identity otherwise.
func storageIdentity(op string, def ir.Definition, identity string) (string, error) {
	if def.IsGlobal() {
		return "", nil
	}
	if identity == "" {
		return "", newError(CodeIdentityRequired, op, def.Key, "", "per-player variable needs an identity")
	}
	return identity, nil
}

// checkConditions evaluates the access conditions in the caller's context.
// Conditions may reference the gated variable itself.
func (e *Engine) checkConditions(ctx context.Context, op string, def ir.Definition, identity string) error {
	if !def.HasConditions() {
		return nil
	}
	ok, err := e.eval.Check(ctx, expr.Request{
		Key:      def.Key,
		Identity: identity,
		Limits:   def.Limits,
		Chain:    expr.Root(),
		Lookup:   expr.LookupFunc(e.reference),
	}, def.Conditions)
	if err != nil {
		e.logger.Warn("access condition failed to evaluate",
			"op", op,
			"key", def.Key,
			"identity", identity,
			"error", err,
		)
	}
	if !ok {
		return wrapError(CodeConditionFailed, op, def.Key, identity, err, "access conditions not satisfied")
	}
	return nil
}

// reference is the Lookup behind ${key}: the current display value of key
// in the context of identity, without access conditions.
func (e *Engine) reference(ctx context.Context, identity, key string, chain *expr.Chain) (expr.Reference, bool) {
	def, ok := e.registry.Lookup(key)
	if !ok {
		return expr.Reference{}, false
	}
	id := identity
	if def.IsGlobal() {
		id = ""
	} else if identity == "" {
		return expr.Reference{}, false
	}
	v, deps := e.current(ctx, def, id, chain)
	return expr.Reference{Value: v, Deps: deps}, true
}

// current returns the display value of def for the storage identity id and
// the keys it was computed from. chain already contains def.Key.
func (e *Engine) current(ctx context.Context, def ir.Definition, id string, chain *expr.Chain) (string, []string) {
	cacheable := !def.HasConditions()
	tok := e.cache.Begin()
	if cacheable {
		if v, deps, ok := e.cache.GetResult(id, def.Key); ok {
			return v, deps
		}
	}

	v, deps, clean := e.compute(ctx, def, id, chain)
	if cacheable && clean {
		e.cache.PutResult(tok, id, def.Key, v, deps)
	}
	return v, deps
}

// compute derives the display value from the memory store. clean is false
// when a safety limit cut the resolution short, in which case the result
// depends on the chain and must not be cached.
func (e *Engine) compute(ctx context.Context, def ir.Definition, id string, chain *expr.Chain) (string, []string, bool) {
	entry, has := e.mem.Get(def.Scope, id, def.Key)

	if !def.IsFormula() {
		if has && entry.HasValue {
			return display(def.Type, entry.Value), nil, true
		}
		return e.literalInitial(def).String(), nil, true
	}

	base, deps, clean := e.base(ctx, def, id, chain, entry, has)
	b, err := ir.ParseValue(def.Type, base)
	if err != nil {
		// An unresolvable base is shown as is.
		return base, deps, clean
	}

	inc := ir.Zero(def.Type)
	if has && entry.HasValue {
		if v, err := ir.ParseValue(def.Type, entry.Value); err == nil {
			inc = v
		} else {
			e.logger.Warn("stored increment does not parse, ignoring it",
				"key", def.Key,
				"identity", id,
				"value", entry.Value,
				"error", err,
			)
		}
	}

	sum, err := ir.Combine(b, inc)
	if err != nil {
		return b.String(), deps, clean
	}
	return fitLenient(sum, def.Limits).String(), deps, clean
}

// base returns the resolved initial value of a formula variable. Strict
// variables compute it once and read the frozen copy afterwards.
func (e *Engine) base(ctx context.Context, def ir.Definition, id string, chain *expr.Chain, entry memstore.Entry, has bool) (string, []string, bool) {
	if def.Limits.StrictInitialMode {
		if has && entry.StrictComputed {
			return entry.StrictBase, nil, true
		}
		snap := e.snapshots.Compute(ctx, source{e}, def, id, chain)
		e.metrics.Resolution(snap.Outcome.String())
		return snap.Base, nil, true
	}

	// The declared type is part of the key: normalization differs per type.
	exprKey := string(def.Type) + ":" + def.Initial
	cacheable := !def.HasConditions()
	tok := e.cache.Begin()
	if cacheable {
		if v, deps, ok := e.cache.GetExpression(id, exprKey); ok {
			return v, deps, true
		}
	}

	res := e.eval.Resolve(ctx, expr.Request{
		Key:      def.Key,
		Raw:      def.Initial,
		Identity: id,
		Type:     def.Type,
		Limits:   def.Limits,
		Chain:    chain,
		Lookup:   expr.LookupFunc(e.reference),
	})
	e.metrics.Resolution(res.Outcome.String())

	clean := res.Outcome == expr.OutcomeResolved && !ir.HasReferences(res.Value)
	if cacheable && clean {
		e.cache.PutExpression(tok, id, exprKey, res.Value, res.Deps)
	}
	return res.Value, res.Deps, clean
}

// literalInitial returns the value of a literal variable nobody wrote yet.
func (e *Engine) literalInitial(def ir.Definition) ir.Value {
	if def.Initial == "" {
		return fitLenient(ir.Zero(def.Type), def.Limits)
	}
	v, err := ir.ParseValue(def.Type, def.Initial)
	if err != nil {
		return ir.Zero(def.Type)
	}
	return fitLenient(v, def.Limits)
}

// display renders a stored value in its type's display form.
func display(t ir.ValueType, stored string) string {
	v, err := ir.ParseValue(t, stored)
	if err != nil {
		return stored
	}
	return v.String()
}

// fitLenient applies the limitations when possible and returns v unchanged
// when they admit no value.
func fitLenient(v ir.Value, l ir.Limitations) ir.Value {
	if fitted, err := ir.Fit(v, l); err == nil {
		return fitted
	}
	return v
}
