// Package ports defines the shared error taxonomy. Collaborator
// interfaces live with their consumers (for example filter.Classifier
// and mesh.IdentityProvider), not here.
package ports

import (
	"errors"
	"fmt"
)

// Kind is a closed taxonomy of failure categories, not a concrete type
// hierarchy — callers switch on Kind, never on the underlying Go type.
type Kind string

const (
	KindUnavailable       Kind = "unavailable"
	KindTimeout           Kind = "timeout"
	KindRateLimit         Kind = "rate_limit"
	KindValidation        Kind = "validation"
	KindAuthentication    Kind = "authentication"
	KindPermissionDenied  Kind = "permission_denied"
	KindNotFound          Kind = "not_found"
	KindInternal          Kind = "internal"
	KindExternal          Kind = "external"
)

// Error is the structured error every RRSC component returns. The router
// additionally tags Stage and Retryable before propagating it (spec §7).
type Error struct {
	Kind      Kind
	Stage     string
	Target    string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Stage)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a Kind-tagged error. Stage and Target are optional
// context the router fills in as the error propagates.
func New(kind Kind, stage string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Err: err}
}

// Newf is New with a formatted message instead of a wrapped error.
func Newf(kind Kind, stage, format string, args ...any) *Error {
	return &Error{Kind: kind, Stage: stage, Err: fmt.Errorf(format, args...)}
}

// WithTarget attaches the target service to an existing Error, returning
// a copy so callers can reuse sentinel errors without mutating them.
func (e *Error) WithTarget(target string) *Error {
	cp := *e
	cp.Target = target
	return &cp
}

// WithRetryable marks an Error as retryable by the caller.
func (e *Error) WithRetryable(retryable bool) *Error {
	cp := *e
	cp.Retryable = retryable
	return &cp
}

// KindOf extracts the Kind of err, defaulting to KindInternal when err
// does not carry a *ports.Error anywhere in its chain.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}

// IsRetryable reports whether err is tagged retryable or carries a
// retryable external code (spec §7: Unavailable|DeadlineExceeded|ResourceExhausted).
func IsRetryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable || pe.Kind == KindExternal
	}
	return false
}

var (
	ErrNoAvailableEndpoint = Newf(KindUnavailable, "select_endpoint", "no available endpoint")
	ErrCircuitOpen         = Newf(KindUnavailable, "admission", "circuit open")
	ErrInvalidArgument     = Newf(KindValidation, "validate", "invalid argument")
	ErrRuleEvaluationFailed = Newf(KindInternal, "evaluate_rule", "rule evaluation failed")
	ErrNotFound            = Newf(KindNotFound, "lookup", "entity not found")
)
