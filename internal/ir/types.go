package ir

import (
	"fmt"
	"strings"
)

// Scope selects whether a variable has one server-wide value or one value
// per identity.
type Scope string

const (
	// ScopeGlobal variables have a single value shared by every caller.
	ScopeGlobal Scope = "global"

	// ScopePlayer variables have one value per identity.
	ScopePlayer Scope = "player"
)

// ParseScope accepts the canonical names plus the upper-case aliases used
// by older configuration files (GLOBAL, PER-IDENTITY, PLAYER).
func ParseScope(s string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "global":
		return ScopeGlobal, nil
	case "player", "per-identity", "per_identity", "identity":
		return ScopePlayer, nil
	default:
		return "", fmt.Errorf("invalid scope %q: must be global or player", s)
	}
}

// ValueType is the declared type of a variable.
type ValueType string

const (
	TypeInt    ValueType = "INT"
	TypeDouble ValueType = "DOUBLE"
	TypeString ValueType = "STRING"
	TypeList   ValueType = "LIST"
)

// ParseValueType accepts a type name in any case.
func ParseValueType(s string) (ValueType, error) {
	switch t := ValueType(strings.ToUpper(strings.TrimSpace(s))); t {
	case TypeInt, TypeDouble, TypeString, TypeList:
		return t, nil
	case "INTEGER":
		return TypeInt, nil
	case "FLOAT", "NUMBER":
		return TypeDouble, nil
	case "TEXT":
		return TypeString, nil
	default:
		return "", fmt.Errorf("invalid type %q: must be one of INT, DOUBLE, STRING, LIST", s)
	}
}

// IsNumeric reports whether values of this type combine by addition.
func (t ValueType) IsNumeric() bool {
	return t == TypeInt || t == TypeDouble
}

// Resolution bounds applied when a definition leaves them unset.
const (
	DefaultMaxRecursionDepth   = 10
	DefaultMaxExpressionLength = 1000
)

// Limitations constrains how a variable may be read, written and resolved.
//
// Min and Max bound the numeric value for INT and DOUBLE, the length in
// runes for STRING, and the element count for LIST. A nil bound is open.
type Limitations struct {
	Min *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max *float64 `json:"max,omitempty" yaml:"max,omitempty"`

	ReadOnly bool `json:"read_only,omitempty" yaml:"read_only,omitempty"`

	// Persistable is a pointer so that an omitted field defaults to true.
	Persistable *bool `json:"persistable,omitempty" yaml:"persistable,omitempty"`

	// StrictInitialMode freezes the initial expression the first time it is
	// read instead of re-evaluating it on every read.
	StrictInitialMode bool `json:"strict_initial,omitempty" yaml:"strict_initial,omitempty"`

	MaxRecursionDepth   int `json:"max_depth,omitempty" yaml:"max_depth,omitempty"`
	MaxExpressionLength int `json:"max_length,omitempty" yaml:"max_length,omitempty"`

	AllowCircularReferences bool `json:"allow_circular,omitempty" yaml:"allow_circular,omitempty"`
}

// IsPersistable reports whether mutations reach the backing store.
func (l Limitations) IsPersistable() bool {
	return l.Persistable == nil || *l.Persistable
}

// Depth returns the recursion bound, applying the default.
func (l Limitations) Depth() int {
	if l.MaxRecursionDepth <= 0 {
		return DefaultMaxRecursionDepth
	}
	return l.MaxRecursionDepth
}

// Length returns the expression length bound, applying the default.
func (l Limitations) Length() int {
	if l.MaxExpressionLength <= 0 {
		return DefaultMaxExpressionLength
	}
	return l.MaxExpressionLength
}

// Definition describes one variable. Definitions are never mutated after
// registration.
type Definition struct {
	Key         string      `json:"key" yaml:"key"`
	DisplayName string      `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Scope       Scope       `json:"scope" yaml:"scope"`
	Type        ValueType   `json:"type" yaml:"type"`
	Initial     string      `json:"initial,omitempty" yaml:"initial,omitempty"`
	ResetCycle  string      `json:"reset,omitempty" yaml:"reset,omitempty"`
	Conditions  []string    `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Limits      Limitations `json:"limits" yaml:"limits"`
}

// IsGlobal reports whether the variable has no identity.
func (d Definition) IsGlobal() bool {
	return d.Scope == ScopeGlobal
}

// HasConditions reports whether access is gated. Gated variables bypass
// every cache tier.
func (d Definition) HasConditions() bool {
	return len(d.Conditions) > 0
}

// IsFormula reports whether the initial expression must be resolved rather
// than parsed as a literal. Formula variables store an increment relative
// to the resolved initial value; literal variables store absolute values.
func (d Definition) IsFormula() bool {
	if d.Initial == "" {
		return false
	}
	if HasReferences(d.Initial) || HasPlaceholders(d.Initial) {
		return true
	}
	if d.Type.IsNumeric() {
		// "2*5" is a formula, "10" and "-3.5" are literals.
		_, err := ParseValue(d.Type, d.Initial)
		return err != nil
	}
	return false
}

// Name returns the display name, falling back to the key.
func (d Definition) Name() string {
	if d.DisplayName != "" {
		return d.DisplayName
	}
	return d.Key
}
