// Package occamerr defines the error taxonomy the orchestrator branches on.
// Kinds are distinct types (not string matching) so callers can use
// errors.As to recover the Kind without parsing messages.
package occamerr

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

// Kind is one of the error kinds from spec.md section 7.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindPolicyViolation Kind = "policy_violation"
	KindNotFound        Kind = "not_found"
	KindExpired         Kind = "expired"
	KindUnauthorized    Kind = "unauthorized"
	KindTransient       Kind = "transient"
	KindIntegrity       Kind = "integrity"
	KindIndeterminate   Kind = "indeterminate"
)

// Error is the single error type every component returns. Kind drives
// control flow; Err carries the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a typed Error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Validation(op string, err error) *Error      { return New(KindValidation, op, err) }
func PolicyViolation(op string, err error) *Error { return New(KindPolicyViolation, op, err) }
func NotFound(op string, err error) *Error        { return New(KindNotFound, op, err) }
func Expired(op string, err error) *Error         { return New(KindExpired, op, err) }
func Unauthorized(op string, err error) *Error    { return New(KindUnauthorized, op, err) }
func Transient(op string, err error) *Error       { return New(KindTransient, op, err) }
func Integrity(op string, err error) *Error       { return New(KindIntegrity, op, err) }
func Indeterminate(op string, err error) *Error   { return New(KindIndeterminate, op, err) }

// Is reports whether err is an *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, or "" if err isn't a typed Error.
func KindOf(err error) Kind {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return ""
}

// Retryable reports whether the Orchestrator should retry the action that
// produced err: only transient failures recover on their own.
func Retryable(err error) bool {
	return Is(err, KindTransient)
}

// Combine aggregates independent errors into one error. Is/KindOf on the
// result report the Kind of the first typed constituent in argument order.
func Combine(errs ...error) error {
	return multierr.Combine(errs...)
}

// Violations carries a list of rule violations as one error, one entry per
// violated rule. Vault.Store returns it for password-policy failures.
type Violations []string

func (v Violations) Error() string {
	if len(v) == 0 {
		return "no violations"
	}
	s := v[0]
	for _, x := range v[1:] {
		s += "; " + x
	}
	return s
}

func (v Violations) Empty() bool { return len(v) == 0 }
