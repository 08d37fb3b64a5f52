package compiler

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/varkeep/internal/expr"
	"github.com/roach88/varkeep/internal/ir"
)

// Validation error codes (E100-E199)
const (
	// General validation errors (E100)
	ErrDuplicateKey = "E100" // key declared twice in one load

	// Definition errors (E101-E119)
	ErrInvalidKey         = "E101" // empty key or characters a ${key} reference cannot name
	ErrKeyMismatch        = "E102" // definition key differs from the key it was registered under
	ErrInvalidScope       = "E103" // scope missing or unknown
	ErrInvalidType        = "E104" // type missing or unknown
	ErrInvalidRange       = "E105" // min greater than max, or negative length bound
	ErrInvalidInitial     = "E106" // literal initial value does not parse as the declared type
	ErrInvalidLimit       = "E107" // negative depth or length limit
	ErrEmptyCondition     = "E108" // blank access condition
	ErrUndefinedReference = "E109" // initial expression references an unknown key
)

// keyPattern matches keys that a ${key} reference can name.
var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_.:\-]+$`)

// ValidationError represents a definition validation error.
type ValidationError struct {
	Key     string `json:"key"`
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s.%s: %s", e.Code, e.Key, e.Field, e.Message)
}

// ValidateDefinition validates one definition registered under key.
// The key is passed explicitly so that messages never depend on which
// definition happens to be in progress elsewhere.
// Returns all errors found (does not fail-fast).
func ValidateDefinition(key string, def ir.Definition) []ValidationError {
	var errs []ValidationError
	add := func(field, code, format string, args ...any) {
		errs = append(errs, ValidationError{
			Key:     key,
			Field:   field,
			Message: fmt.Sprintf(format, args...),
			Code:    code,
		})
	}

	// E101: key must be nameable by a reference
	if !keyPattern.MatchString(key) {
		add("key", ErrInvalidKey, "key %q must match %s", key, keyPattern)
	}

	// E102: registered key and declared key agree
	if def.Key != "" && def.Key != key {
		add("key", ErrKeyMismatch, "definition declares key %q", def.Key)
	}

	// E103/E104: scope and type are closed enums
	if def.Scope != ir.ScopeGlobal && def.Scope != ir.ScopePlayer {
		add("scope", ErrInvalidScope, "scope %q must be global or player", def.Scope)
	}
	switch def.Type {
	case ir.TypeInt, ir.TypeDouble, ir.TypeString, ir.TypeList:
	default:
		add("type", ErrInvalidType, "type %q must be one of INT, DOUBLE, STRING, LIST", def.Type)
		// Remaining checks depend on a valid type
		return errs
	}

	// E105: range is non-empty; length and count bounds are non-negative
	l := def.Limits
	if l.Min != nil && l.Max != nil && *l.Min > *l.Max {
		add("limits", ErrInvalidRange, "min %v is greater than max %v", *l.Min, *l.Max)
	}
	if !def.Type.IsNumeric() && (l.Min != nil && *l.Min < 0 || l.Max != nil && *l.Max < 0) {
		add("limits", ErrInvalidRange, "%s bounds are lengths and must not be negative", def.Type)
	}

	// E106: literal initial values parse; numeric formulas without
	// references or placeholders must be valid arithmetic
	if def.Initial != "" && !ir.HasReferences(def.Initial) && !ir.HasPlaceholders(def.Initial) {
		if _, err := ir.ParseValue(def.Type, def.Initial); err != nil {
			if !def.Type.IsNumeric() || !expr.IsArithmetic(def.Initial) {
				add("initial", ErrInvalidInitial, "%v", err)
			} else if _, err := expr.Evaluate(def.Initial); err != nil {
				add("initial", ErrInvalidInitial, "invalid arithmetic %q: %v", def.Initial, err)
			}
		}
	}

	// E107: safety limits
	if l.MaxRecursionDepth < 0 {
		add("limits.max_depth", ErrInvalidLimit, "must not be negative")
	}
	if l.MaxExpressionLength < 0 {
		add("limits.max_length", ErrInvalidLimit, "must not be negative")
	}

	// E108: conditions are non-blank
	for i, cond := range def.Conditions {
		if strings.TrimSpace(cond) == "" {
			add(fmt.Sprintf("conditions[%d]", i), ErrEmptyCondition, "condition is empty")
		}
	}

	return errs
}

// ValidateAll validates a full definition set: every definition on its own,
// duplicate keys, and references to undefined keys.
func ValidateAll(defs []ir.Definition) []ValidationError {
	var errs []ValidationError
	known := make(map[string]bool, len(defs))

	for _, def := range defs {
		if known[def.Key] {
			errs = append(errs, ValidationError{
				Key:     def.Key,
				Field:   "key",
				Message: "declared more than once",
				Code:    ErrDuplicateKey,
			})
			continue
		}
		known[def.Key] = true
		errs = append(errs, ValidateDefinition(def.Key, def)...)
	}

	for _, def := range defs {
		for _, ref := range ir.References(def.Initial) {
			if !known[ref] {
				errs = append(errs, ValidationError{
					Key:     def.Key,
					Field:   "initial",
					Message: fmt.Sprintf("references undefined variable %q", ref),
					Code:    ErrUndefinedReference,
				})
			}
		}
	}

	return errs
}
