package ir

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Value is a sealed interface over the four declared variable types.
// Only IntValue, DoubleValue, StringValue and ListValue implement it.
type Value interface {
	varValue() // Sealed - only these types implement it

	// Type returns the declared type this value belongs to.
	Type() ValueType

	// String returns the display form.
	String() string
}

// IntValue is an INT variable value.
type IntValue int64

func (IntValue) varValue() {}

func (IntValue) Type() ValueType { return TypeInt }

func (v IntValue) String() string { return strconv.FormatInt(int64(v), 10) }

// DoubleValue is a DOUBLE variable value. The display form always carries
// a fractional part.
type DoubleValue float64

func (DoubleValue) varValue() {}

func (DoubleValue) Type() ValueType { return TypeDouble }

func (v DoubleValue) String() string {
	s := strconv.FormatFloat(float64(v), 'f', -1, 64)
	if !strings.ContainsRune(s, '.') {
		s += ".0"
	}
	return s
}

// StringValue is a STRING variable value, always NFC normalized.
type StringValue string

func (StringValue) varValue() {}

func (StringValue) Type() ValueType { return TypeString }

func (v StringValue) String() string { return string(v) }

// ListValue is a LIST variable value. Elements are unique and keep
// insertion order.
type ListValue []string

func (ListValue) varValue() {}

func (ListValue) Type() ValueType { return TypeList }

func (v ListValue) String() string { return strings.Join(v, ",") }

var (
	// ErrInvalidValue reports input that cannot be parsed as the declared type.
	ErrInvalidValue = errors.New("invalid value")

	// ErrUnfit reports a value that cannot be brought within its limitations.
	ErrUnfit = errors.New("value cannot be fit within limits")

	// ErrTypeMismatch reports an operation over values of different types.
	ErrTypeMismatch = errors.New("value type mismatch")
)

// Zero returns the value of a variable with no initial expression.
func Zero(t ValueType) Value {
	switch t {
	case TypeInt:
		return IntValue(0)
	case TypeDouble:
		return DoubleValue(0)
	case TypeList:
		return ListValue{}
	default:
		return StringValue("")
	}
}

// ParseValue converts text to a value of the declared type.
//
// INT accepts decimal fractions and exponents and truncates toward zero, so
// "15.0" and "1e3" are valid INT input. LIST accepts either a JSON array of
// strings or comma-separated elements.
func ParseValue(t ValueType, s string) (Value, error) {
	switch t {
	case TypeInt:
		s = strings.TrimSpace(s)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return IntValue(n), nil
		}
		f, err := parseFinite(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an INT", ErrInvalidValue, s)
		}
		return IntValue(saturate(math.Trunc(f))), nil
	case TypeDouble:
		f, err := parseFinite(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a DOUBLE", ErrInvalidValue, s)
		}
		return DoubleValue(f), nil
	case TypeString:
		return StringValue(norm.NFC.String(s)), nil
	case TypeList:
		return parseList(s)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidValue, t)
	}
}

// MustParse is ParseValue for literals known to be valid.
func MustParse(t ValueType, s string) Value {
	v, err := ParseValue(t, s)
	if err != nil {
		panic(err)
	}
	return v
}

func parseFinite(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("non-finite number %q", s)
	}
	return f, nil
}

func saturate(f float64) int64 {
	if f >= math.MaxInt64 {
		return math.MaxInt64
	}
	if f <= math.MinInt64 {
		return math.MinInt64
	}
	return int64(f)
}

func parseList(s string) (Value, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return ListValue{}, nil
	}
	if strings.HasPrefix(trimmed, "[") {
		if list, err := DecodeList(trimmed); err == nil {
			return list, nil
		}
	}
	parts := strings.Split(trimmed, ",")
	out := make(ListValue, 0, len(parts))
	for _, p := range parts {
		p = norm.NFC.String(strings.TrimSpace(p))
		if p == "" || slices.Contains(out, p) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// Encode returns the storage form of v. Lists are stored as canonical JSON
// so that elements containing commas survive a round trip; all other types
// store their display form.
func Encode(v Value) string {
	if list, ok := v.(ListValue); ok {
		enc, err := EncodeList(list)
		if err == nil {
			return enc
		}
	}
	return v.String()
}

// Float returns the numeric value of an INT or DOUBLE.
func Float(v Value) (float64, bool) {
	switch val := v.(type) {
	case IntValue:
		return float64(val), true
	case DoubleValue:
		return float64(val), true
	default:
		return 0, false
	}
}

// Combine applies an increment to a base: sum for numbers, append for
// strings, union for lists.
func Combine(base, inc Value) (Value, error) {
	switch b := base.(type) {
	case IntValue:
		i, ok := inc.(IntValue)
		if !ok {
			return nil, mismatch(base, inc)
		}
		return IntValue(addSaturating(int64(b), int64(i))), nil
	case DoubleValue:
		i, ok := inc.(DoubleValue)
		if !ok {
			return nil, mismatch(base, inc)
		}
		return DoubleValue(float64(b) + float64(i)), nil
	case StringValue:
		i, ok := inc.(StringValue)
		if !ok {
			return nil, mismatch(base, inc)
		}
		return StringValue(string(b) + string(i)), nil
	case ListValue:
		i, ok := inc.(ListValue)
		if !ok {
			return nil, mismatch(base, inc)
		}
		out := slices.Clone(b)
		for _, e := range i {
			if !slices.Contains(out, e) {
				out = append(out, e)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown Value type: %T", base)
	}
}

// Subtract removes delta from v: difference for numbers, every occurrence
// of delta for strings, set difference for lists.
func Subtract(v, delta Value) (Value, error) {
	switch a := v.(type) {
	case IntValue:
		d, ok := delta.(IntValue)
		if !ok {
			return nil, mismatch(v, delta)
		}
		if int64(d) == math.MinInt64 {
			return IntValue(addSaturating(addSaturating(int64(a), math.MaxInt64), 1)), nil
		}
		return IntValue(addSaturating(int64(a), -int64(d))), nil
	case DoubleValue:
		d, ok := delta.(DoubleValue)
		if !ok {
			return nil, mismatch(v, delta)
		}
		return DoubleValue(float64(a) - float64(d)), nil
	case StringValue:
		d, ok := delta.(StringValue)
		if !ok {
			return nil, mismatch(v, delta)
		}
		if d == "" {
			return a, nil
		}
		return StringValue(strings.ReplaceAll(string(a), string(d), "")), nil
	case ListValue:
		d, ok := delta.(ListValue)
		if !ok {
			return nil, mismatch(v, delta)
		}
		out := make(ListValue, 0, len(a))
		for _, e := range a {
			if !slices.Contains(d, e) {
				out = append(out, e)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown Value type: %T", v)
	}
}

// Relative returns the increment that, combined with base, displays as
// target. Strings must extend the base and lists must contain every base
// element; other targets cannot be expressed as an increment.
func Relative(target, base Value) (Value, error) {
	switch t := target.(type) {
	case IntValue, DoubleValue:
		return Subtract(t, base)
	case StringValue:
		b, ok := base.(StringValue)
		if !ok {
			return nil, mismatch(target, base)
		}
		if !strings.HasPrefix(string(t), string(b)) {
			return nil, fmt.Errorf("%w: %q does not extend base %q", ErrUnfit, t, b)
		}
		return StringValue(strings.TrimPrefix(string(t), string(b))), nil
	case ListValue:
		b, ok := base.(ListValue)
		if !ok {
			return nil, mismatch(target, base)
		}
		for _, e := range b {
			if !slices.Contains(t, e) {
				return nil, fmt.Errorf("%w: base element %q cannot be removed", ErrUnfit, e)
			}
		}
		return Subtract(t, b)
	default:
		return nil, fmt.Errorf("unknown Value type: %T", target)
	}
}

// Fit brings v within the limitations. Numbers are clamped and strings
// longer than Max are truncated; anything else out of range is ErrUnfit.
func Fit(v Value, l Limitations) (Value, error) {
	switch val := v.(type) {
	case IntValue:
		n := int64(val)
		if l.Min != nil && float64(n) < *l.Min {
			n = saturate(math.Ceil(*l.Min))
		}
		if l.Max != nil && float64(n) > *l.Max {
			n = saturate(math.Floor(*l.Max))
		}
		if l.Min != nil && float64(n) < *l.Min {
			return nil, fmt.Errorf("%w: limits admit no INT", ErrUnfit)
		}
		return IntValue(n), nil
	case DoubleValue:
		f := float64(val)
		if l.Min != nil && f < *l.Min {
			f = *l.Min
		}
		if l.Max != nil && f > *l.Max {
			f = *l.Max
		}
		return DoubleValue(f), nil
	case StringValue:
		n := utf8.RuneCountInString(string(val))
		if l.Max != nil && float64(n) > *l.Max {
			runes := []rune(string(val))
			limit := int(math.Max(0, math.Floor(*l.Max)))
			val = StringValue(string(runes[:limit]))
			n = limit
		}
		if l.Min != nil && float64(n) < *l.Min {
			return nil, fmt.Errorf("%w: length %d below minimum %v", ErrUnfit, n, *l.Min)
		}
		return val, nil
	case ListValue:
		n := float64(len(val))
		if l.Min != nil && n < *l.Min {
			return nil, fmt.Errorf("%w: %d elements below minimum %v", ErrUnfit, len(val), *l.Min)
		}
		if l.Max != nil && n > *l.Max {
			return nil, fmt.Errorf("%w: %d elements above maximum %v", ErrUnfit, len(val), *l.Max)
		}
		return val, nil
	default:
		return nil, fmt.Errorf("unknown Value type: %T", v)
	}
}

// Equal reports whether two values have the same type and display form.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Type() == b.Type() && a.String() == b.String()
}

func addSaturating(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	if b < 0 && a < math.MinInt64-b {
		return math.MinInt64
	}
	return a + b
}

func mismatch(a, b Value) error {
	return fmt.Errorf("%w: %s and %s", ErrTypeMismatch, a.Type(), b.Type())
}
