package engine

import (
	"context"
	"time"

	"github.com/roach88/varkeep/internal/expr"
	"github.com/roach88/varkeep/internal/ir"
)

// Set replaces the value of key and returns the value now displayed.
//
// value may itself be an expression; it is resolved in the caller's
// context before being parsed for the declared type. Numbers are clamped
// into the limits and long strings truncated. For formula variables the
// stored increment is rebased so that the next read returns the set value.
func (e *Engine) Set(ctx context.Context, identity, key, value string) (string, error) {
	return e.run(ctx, "set", identity, key, func(ctx context.Context) (string, error) {
		def, id, err := e.prepareWrite(ctx, "set", identity, key)
		if err != nil {
			return "", err
		}
		target, err := e.parseInput(ctx, "set", def, identity, value)
		if err != nil {
			return "", err
		}
		return e.apply(ctx, "set", def, id, target)
	})
}

// Add combines delta into the current value: sum for numbers, append for
// strings, union for lists.
func (e *Engine) Add(ctx context.Context, identity, key, delta string) (string, error) {
	return e.run(ctx, "add", identity, key, func(ctx context.Context) (string, error) {
		return e.adjust(ctx, "add", identity, key, delta, ir.Combine)
	})
}

// Remove takes delta out of the current value: difference for numbers,
// every occurrence for strings, set difference for lists.
func (e *Engine) Remove(ctx context.Context, identity, key, delta string) (string, error) {
	return e.run(ctx, "remove", identity, key, func(ctx context.Context) (string, error) {
		return e.adjust(ctx, "remove", identity, key, delta, ir.Subtract)
	})
}

// Reset discards the stored value of key, and the frozen base of a strict
// variable, and returns the value displayed afterwards.
func (e *Engine) Reset(ctx context.Context, identity, key string) (string, error) {
	return e.run(ctx, "reset", identity, key, func(ctx context.Context) (string, error) {
		def, id, err := e.prepareWrite(ctx, "reset", identity, key)
		if err != nil {
			return "", err
		}

		e.mem.Remove(def.Scope, id, def.Key)
		if !def.Limits.IsPersistable() {
			e.mem.ClearDirtyFlag(def.Scope, id, def.Key)
		}
		e.snapshots.Forget(id, def.Key)
		e.cache.Invalidate(id, def.Key, def.IsGlobal())

		v, _ := e.current(ctx, def, id, expr.Root().Push(def.Key))
		e.logger.Debug("variable reset", "key", def.Key, "identity", id, "value", v)
		return v, nil
	})
}

func (e *Engine) prepareWrite(ctx context.Context, op, identity, key string) (ir.Definition, string, error) {
	def, ok := e.registry.Lookup(key)
	if ok && def.Limits.ReadOnly {
		return ir.Definition{}, "", newError(CodeReadOnly, op, key, identity, "variable is read-only")
	}
	return e.prepare(ctx, op, identity, key)
}

func (e *Engine) adjust(ctx context.Context, op, identity, key, delta string, combine func(a, b ir.Value) (ir.Value, error)) (string, error) {
	def, id, err := e.prepareWrite(ctx, op, identity, key)
	if err != nil {
		return "", err
	}

	shown, _ := e.current(ctx, def, id, expr.Root().Push(def.Key))
	cur, err := ir.ParseValue(def.Type, shown)
	if err != nil {
		return "", wrapError(CodeConstraintViolation, op, def.Key, id, err, "current value %q is not a valid %s", shown, def.Type)
	}

	d, err := e.parseInput(ctx, op, def, identity, delta)
	if err != nil {
		return "", err
	}

	next, err := combine(cur, d)
	if err != nil {
		return "", wrapError(CodeConstraintViolation, op, def.Key, id, err, "cannot %s %q", op, delta)
	}
	return e.apply(ctx, op, def, id, next)
}

// parseInput resolves a caller-supplied value and parses it for the
// declared type.
func (e *Engine) parseInput(ctx context.Context, op string, def ir.Definition, identity, raw string) (ir.Value, error) {
	res := e.eval.Resolve(ctx, expr.Request{
		Key:      def.Key,
		Raw:      raw,
		Identity: identity,
		Type:     def.Type,
		Limits:   def.Limits,
		Chain:    expr.Root(),
		Lookup:   expr.LookupFunc(e.reference),
	})
	v, err := ir.ParseValue(def.Type, res.Value)
	if err != nil {
		return nil, wrapError(CodeConstraintViolation, op, def.Key, identity, err, "%q is not a valid %s", raw, def.Type)
	}
	return v, nil
}

// apply fits target into the limits, stores it and invalidates every
// cached value that read the key.
func (e *Engine) apply(ctx context.Context, op string, def ir.Definition, id string, target ir.Value) (string, error) {
	fitted, err := ir.Fit(target, def.Limits)
	if err != nil {
		return "", wrapError(CodeConstraintViolation, op, def.Key, id, err, "value %q does not fit the limits", target.String())
	}

	stored := fitted
	if def.IsFormula() {
		entry, has := e.mem.Get(def.Scope, id, def.Key)
		raw, _, _ := e.base(ctx, def, id, expr.Root().Push(def.Key), entry, has)
		base, err := ir.ParseValue(def.Type, raw)
		if err != nil {
			return "", wrapError(CodeConstraintViolation, op, def.Key, id, err, "base %q is not a valid %s", raw, def.Type)
		}
		stored, err = ir.Relative(fitted, base)
		if err != nil {
			return "", wrapError(CodeConstraintViolation, op, def.Key, id, err, "value %q is not expressible over base %q", fitted.String(), raw)
		}
	}

	e.mem.Set(def.Scope, id, def.Key, ir.Encode(stored))
	if !def.Limits.IsPersistable() {
		e.mem.ClearDirtyFlag(def.Scope, id, def.Key)
	}
	e.cache.Invalidate(id, def.Key, def.IsGlobal())

	e.logger.Debug("variable updated",
		"op", op,
		"key", def.Key,
		"identity", id,
		"value", fitted.String(),
	)
	return fitted.String(), nil
}

// run executes fn under the operation deadline. fn keeps running after a
// timeout; its effects, if any, stand.
func (e *Engine) run(ctx context.Context, op, identity, key string, fn func(context.Context) (string, error)) (string, error) {
	if e.stopped.Load() {
		return "", newError(CodeStopped, op, key, identity, "engine is shut down")
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type result struct {
		value string
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
		r.err = wrapError(CodeTimeout, op, key, identity, ctx.Err(), "operation did not complete within %s", e.timeout)
	}

	code := "OK"
	if r.err != nil {
		code = string(CodeOf(r.err))
		e.logger.Debug("operation failed",
			"op", op,
			"key", key,
			"identity", identity,
			"error", r.err,
		)
	}
	e.metrics.Operation(op, code, time.Since(start))
	return r.value, r.err
}
