package compiler

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/varkeep/internal/ir"
)

// CompileCUE compiles every definition under the top-level "variable"
// struct of a CUE document. Definitions are returned sorted by key.
func CompileCUE(data []byte, filename string) ([]ir.Definition, error) {
	ctx := cuecontext.New()
	value := ctx.CompileBytes(data, cue.Filename(filename))
	if err := value.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	defs := []ir.Definition{}
	varsVal := value.LookupPath(cue.ParsePath("variable"))
	if !varsVal.Exists() {
		return defs, nil
	}

	iter, err := varsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		def, err := CompileDefinition(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("variable.%s: %w", iter.Label(), err)
		}
		defs = append(defs, *def)
	}

	slices.SortFunc(defs, func(a, b ir.Definition) int {
		return strings.Compare(a.Key, b.Key)
	})
	return defs, nil
}

// CompileDefinition parses a CUE value into a Definition.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the variable struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`variable: gold: { scope: "global", type: "INT" }`)
//	def, err := CompileDefinition(v.LookupPath(cue.ParsePath("variable.gold")))
func CompileDefinition(v cue.Value) (*ir.Definition, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	def := &ir.Definition{}

	// Key comes from the struct label (the path selector)
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		def.Key = labels[len(labels)-1].String()
	}

	scope, err := requiredString(v, "scope")
	if err != nil {
		return nil, err
	}
	if def.Scope, err = ir.ParseScope(scope); err != nil {
		return nil, &CompileError{Field: "scope", Message: err.Error(), Pos: v.Pos()}
	}

	typ, err := requiredString(v, "type")
	if err != nil {
		return nil, err
	}
	if def.Type, err = ir.ParseValueType(typ); err != nil {
		return nil, &CompileError{Field: "type", Message: err.Error(), Pos: v.Pos()}
	}

	if def.Initial, err = scalarText(v, "initial"); err != nil {
		return nil, err
	}
	if def.DisplayName, err = scalarText(v, "display_name"); err != nil {
		return nil, err
	}
	if def.ResetCycle, err = scalarText(v, "reset"); err != nil {
		return nil, err
	}

	if condVal := v.LookupPath(cue.ParsePath("conditions")); condVal.Exists() {
		iter, err := condVal.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			cond, err := iter.Value().String()
			if err != nil {
				return nil, formatCUEError(err)
			}
			def.Conditions = append(def.Conditions, cond)
		}
	}

	if limVal := v.LookupPath(cue.ParsePath("limits")); limVal.Exists() {
		def.Limits, err = parseLimits(limVal)
		if err != nil {
			return nil, err
		}
	}

	return def, nil
}

// parseLimits reads the optional limits struct.
func parseLimits(v cue.Value) (ir.Limitations, error) {
	var l ir.Limitations

	for _, f := range []struct {
		name string
		dst  **float64
	}{{"min", &l.Min}, {"max", &l.Max}} {
		fv := v.LookupPath(cue.ParsePath(f.name))
		if !fv.Exists() {
			continue
		}
		n, err := fv.Float64()
		if err != nil {
			return l, &CompileError{Field: "limits." + f.name, Message: "must be a number", Pos: fv.Pos()}
		}
		*f.dst = &n
	}

	for _, f := range []struct {
		name string
		dst  *bool
	}{
		{"read_only", &l.ReadOnly},
		{"strict_initial", &l.StrictInitialMode},
		{"allow_circular", &l.AllowCircularReferences},
	} {
		fv := v.LookupPath(cue.ParsePath(f.name))
		if !fv.Exists() {
			continue
		}
		b, err := fv.Bool()
		if err != nil {
			return l, &CompileError{Field: "limits." + f.name, Message: "must be a bool", Pos: fv.Pos()}
		}
		*f.dst = b
	}

	if fv := v.LookupPath(cue.ParsePath("persistable")); fv.Exists() {
		b, err := fv.Bool()
		if err != nil {
			return l, &CompileError{Field: "limits.persistable", Message: "must be a bool", Pos: fv.Pos()}
		}
		l.Persistable = &b
	}

	for _, f := range []struct {
		name string
		dst  *int
	}{{"max_depth", &l.MaxRecursionDepth}, {"max_length", &l.MaxExpressionLength}} {
		fv := v.LookupPath(cue.ParsePath(f.name))
		if !fv.Exists() {
			continue
		}
		n, err := fv.Int64()
		if err != nil {
			return l, &CompileError{Field: "limits." + f.name, Message: "must be an int", Pos: fv.Pos()}
		}
		*f.dst = int(n)
	}

	return l, nil
}

// requiredString reads a string field that must be present.
func requiredString(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", &CompileError{
			Field:   field,
			Message: field + " is required",
			Pos:     v.Pos(),
		}
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

// scalarText reads an optional field that may be written as a string or a
// number (initial: 0 and initial: "0" are equivalent).
func scalarText(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", nil
	}
	switch fv.IncompleteKind() {
	case cue.IntKind:
		n, err := fv.Int64()
		if err != nil {
			return "", formatCUEError(err)
		}
		return strconv.FormatInt(n, 10), nil
	case cue.FloatKind, cue.NumberKind:
		f, err := fv.Float64()
		if err != nil {
			return "", formatCUEError(err)
		}
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	default:
		s, err := fv.String()
		if err != nil {
			return "", formatCUEError(err)
		}
		return s, nil
	}
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
