// Package registry holds the loaded variable definitions.
//
// The registry is read on every operation and written only on load or
// reload, so the whole map is swapped atomically and readers never lock.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"

	"github.com/roach88/varkeep/internal/compiler"
	"github.com/roach88/varkeep/internal/ir"
)

// ErrInvalidDefinitions is returned when a definition set fails validation.
var ErrInvalidDefinitions = errors.New("invalid definitions")

// ValidationFailure carries every validation error of a rejected load.
type ValidationFailure struct {
	Errors []compiler.ValidationError
}

func (f *ValidationFailure) Error() string {
	if len(f.Errors) == 1 {
		return fmt.Sprintf("%v: %s", ErrInvalidDefinitions, f.Errors[0].Error())
	}
	return fmt.Sprintf("%v: %s (and %d more)", ErrInvalidDefinitions, f.Errors[0].Error(), len(f.Errors)-1)
}

func (f *ValidationFailure) Unwrap() error { return ErrInvalidDefinitions }

// snapshot is one immutable generation of definitions.
type snapshot struct {
	defs map[string]ir.Definition
	keys []string
}

// Registry maps key → definition.
type Registry struct {
	current atomic.Pointer[snapshot]
	logger  *slog.Logger
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{logger: logger}
	r.current.Store(&snapshot{defs: map[string]ir.Definition{}, keys: []string{}})
	return r
}

// Load validates defs and replaces the registry contents wholesale.
// On validation failure the previous contents stay in place.
// Returns the keys that were registered before and are now gone.
func (r *Registry) Load(defs []ir.Definition) ([]string, error) {
	if errs := compiler.ValidateAll(defs); len(errs) > 0 {
		return nil, &ValidationFailure{Errors: errs}
	}

	for _, w := range compiler.AnalyzeCycles(defs) {
		if w.Level == "info" {
			r.logger.Debug("reference cycle allowed", "path", w.Path)
			continue
		}
		r.logger.Warn("reference cycle in initial values", "path", w.Path, "message", w.Message)
	}

	next := &snapshot{
		defs: make(map[string]ir.Definition, len(defs)),
		keys: make([]string, 0, len(defs)),
	}
	for _, d := range defs {
		d.Conditions = slices.Clone(d.Conditions)
		next.defs[d.Key] = d
		next.keys = append(next.keys, d.Key)
	}
	slices.Sort(next.keys)

	prev := r.current.Swap(next)

	removed := []string{}
	for _, k := range prev.keys {
		if _, ok := next.defs[k]; !ok {
			removed = append(removed, k)
		}
	}

	r.logger.Info("definitions loaded",
		"count", len(next.keys),
		"removed", len(removed),
	)
	return removed, nil
}

// Lookup returns the definition for key.
func (r *Registry) Lookup(key string) (ir.Definition, bool) {
	d, ok := r.current.Load().defs[key]
	return d, ok
}

// Keys returns every registered key, sorted.
func (r *Registry) Keys() []string {
	return slices.Clone(r.current.Load().keys)
}

// All returns every definition sorted by key.
func (r *Registry) All() []ir.Definition {
	s := r.current.Load()
	out := make([]ir.Definition, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, s.defs[k])
	}
	return out
}

// Len returns the number of registered definitions.
func (r *Registry) Len() int {
	return len(r.current.Load().keys)
}
