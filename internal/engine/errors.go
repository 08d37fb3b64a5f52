package engine

import (
	"errors"
	"fmt"
)

// Code categorizes errors returned by engine operations.
type Code string

const (
	// CodeNotFound indicates no definition is registered for the key.
	CodeNotFound Code = "DEFINITION_NOT_FOUND"

	// CodeReadOnly indicates a mutation of a read-only variable.
	CodeReadOnly Code = "READ_ONLY_VARIABLE"

	// CodeConditionFailed indicates an access condition did not hold.
	CodeConditionFailed Code = "CONDITION_NOT_SATISFIED"

	// CodeConstraintViolation indicates a value that cannot be parsed for
	// the declared type or fit into its limitations.
	CodeConstraintViolation Code = "CONSTRAINT_VIOLATION"

	// CodeCircularDependency is reported by Explain only. Reads of a
	// circular variable succeed with the raw expression.
	CodeCircularDependency Code = "CIRCULAR_DEPENDENCY"

	// CodeExpressionTooLong and CodeRecursionLimit are reported by Explain
	// only; reads degrade to the raw or partial expression.
	CodeExpressionTooLong Code = "EXPRESSION_TOO_LONG"
	CodeRecursionLimit    Code = "RECURSION_LIMIT_EXCEEDED"

	// CodePersistenceFailure is carried by flush futures and lifecycle
	// calls that touch the backing store.
	CodePersistenceFailure Code = "PERSISTENCE_FAILURE"

	// CodeTimeout indicates the operation deadline passed. A mutation that
	// already happened stands.
	CodeTimeout Code = "TIMEOUT"

	// CodeIdentityRequired indicates a per-player variable addressed
	// without an identity.
	CodeIdentityRequired Code = "IDENTITY_REQUIRED"

	// CodeStopped indicates the engine was shut down.
	CodeStopped Code = "ENGINE_STOPPED"
)

// Error is returned by every public engine operation.
type Error struct {
	Code Code

	// Message is a human-readable description.
	Message string

	Op       string
	Key      string
	Identity string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Key != "" && e.Identity != "" {
		msg = fmt.Sprintf("%s (key=%s, identity=%s)", msg, e.Key, e.Identity)
	} else if e.Key != "" {
		msg = fmt.Sprintf("%s (key=%s)", msg, e.Key)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// CodeOf returns the code of the first *Error in err's chain, or "" if
// there is none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries code.
// Uses errors.As to handle wrapped errors.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsNotFound reports whether err is a missing-definition error.
func IsNotFound(err error) bool { return IsCode(err, CodeNotFound) }

// IsReadOnly reports whether err is a read-only violation.
func IsReadOnly(err error) bool { return IsCode(err, CodeReadOnly) }

// IsConditionFailed reports whether an access condition rejected the call.
func IsConditionFailed(err error) bool { return IsCode(err, CodeConditionFailed) }

// IsConstraintViolation reports whether the value could not be fit.
func IsConstraintViolation(err error) bool { return IsCode(err, CodeConstraintViolation) }

// IsTimeout reports whether the operation deadline passed.
func IsTimeout(err error) bool { return IsCode(err, CodeTimeout) }

func newError(code Code, op, key, identity, format string, args ...any) *Error {
	return &Error{
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
		Op:       op,
		Key:      key,
		Identity: identity,
	}
}

func wrapError(code Code, op, key, identity string, err error, format string, args ...any) *Error {
	e := newError(code, op, key, identity, format, args...)
	e.Err = err
	return e
}
