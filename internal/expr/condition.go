package expr

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/varkeep/internal/ir"
)

// Check resolves and evaluates every access condition. All conditions must
// hold. Any resolution or evaluation error counts as false, so gated
// variables fail closed; the error is returned for logging.
//
// A condition is "true", "false", a comparison (== != >= <= > <) or a
// combination of those with && and ||. Comparisons are numeric when both
// sides are numbers or arithmetic, textual otherwise.
func (e *Evaluator) Check(ctx context.Context, req Request, conditions []string) (bool, error) {
	for _, cond := range conditions {
		r := req
		r.Raw = cond
		r.Type = ""
		res := e.Resolve(ctx, r)
		if res.Outcome != OutcomeResolved {
			return false, fmt.Errorf("condition %q: %s", cond, res.Outcome)
		}
		if ir.HasReferences(res.Value) {
			return false, fmt.Errorf("condition %q: unresolved reference in %q", cond, res.Value)
		}
		ok, err := evalBool(res.Value)
		if err != nil {
			return false, fmt.Errorf("condition %q: %w", cond, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func evalBool(s string) (bool, error) {
	for _, alt := range strings.Split(s, "||") {
		all := true
		for _, atom := range strings.Split(alt, "&&") {
			ok, err := evalAtom(strings.TrimSpace(atom))
			if err != nil {
				return false, err
			}
			if !ok {
				all = false
				break
			}
		}
		if all {
			return true, nil
		}
	}
	return false, nil
}

// comparison operators, two-character forms first.
var comparisonOps = []string{"==", "!=", ">=", "<=", ">", "<"}

func evalAtom(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "true", "yes":
		return true, nil
	case "false", "no":
		return false, nil
	}

	idx, op := findOperator(s)
	if idx < 0 {
		return false, fmt.Errorf("not a boolean expression: %q", s)
	}
	left := strings.TrimSpace(s[:idx])
	right := strings.TrimSpace(s[idx+len(op):])

	lf, lnum := numeric(left)
	rf, rnum := numeric(right)
	if lnum && rnum {
		switch op {
		case "==":
			return lf == rf, nil
		case "!=":
			return lf != rf, nil
		case ">=":
			return lf >= rf, nil
		case "<=":
			return lf <= rf, nil
		case ">":
			return lf > rf, nil
		default:
			return lf < rf, nil
		}
	}

	c := strings.Compare(left, right)
	switch op {
	case "==":
		return c == 0, nil
	case "!=":
		return c != 0, nil
	case ">=":
		return c >= 0, nil
	case "<=":
		return c <= 0, nil
	case ">":
		return c > 0, nil
	default:
		return c < 0, nil
	}
}

// findOperator returns the leftmost comparison operator in s.
func findOperator(s string) (int, string) {
	for i := 0; i < len(s); i++ {
		for _, op := range comparisonOps {
			if strings.HasPrefix(s[i:], op) {
				return i, op
			}
		}
	}
	return -1, ""
}

func numeric(s string) (float64, bool) {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, true
	}
	if IsArithmetic(s) {
		if f, err := Evaluate(s); err == nil {
			return f, true
		}
	}
	return 0, false
}
