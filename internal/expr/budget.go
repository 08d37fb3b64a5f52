package expr

import "fmt"

// passBudget bounds the number of substitution passes one resolution may
// run. Cycle detection catches repeating strings; the budget catches
// expressions that keep growing without ever repeating.
type passBudget struct {
	maxPasses int
	current   int
}

func newPassBudget(maxPasses int) *passBudget {
	return &passBudget{maxPasses: maxPasses}
}

// Check increments the pass counter and validates against the limit.
func (b *passBudget) Check(key string) error {
	b.current++
	if b.current > b.maxPasses {
		return &DepthExceededError{
			Key:    key,
			Passes: b.current - 1,
			Limit:  b.maxPasses,
		}
	}
	return nil
}

// Current returns the number of passes started.
func (b *passBudget) Current() int {
	return b.current
}

// DepthExceededError describes a resolution stopped by its recursion bound.
// It is logged, never returned to callers of the engine.
type DepthExceededError struct {
	Key    string // Variable being resolved, empty for ad-hoc expressions
	Passes int    // Passes completed
	Limit  int    // Maximum allowed passes
}

// Error implements the error interface.
func (e *DepthExceededError) Error() string {
	return fmt.Sprintf("resolution of %q exceeded max depth (%d >= %d)", e.Key, e.Passes, e.Limit)
}
