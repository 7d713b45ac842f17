// Package fault defines the typed error kinds used across rxsearch and the
// policies attached to them. Every cross-component failure is wrapped in a
// *fault.Error so callers can branch on the kind with errors.As instead of
// string matching.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure. The set is closed; each kind maps to one HTTP
// status and one retry policy at the boundaries that consume it.
type Kind string

const (
	// InvalidInput is a malformed request or missing required field. Never retried.
	InvalidInput Kind = "invalid_input"

	// InvalidLLMResponse means the LLM output violated the schema after one
	// retry. The query parser falls back to a minimal parse.
	InvalidLLMResponse Kind = "invalid_llm_response"

	// UpstreamTransient is a retryable upstream I/O failure (connection error,
	// retryable status). Retried with exponential backoff.
	UpstreamTransient Kind = "upstream_transient"

	// UpstreamUnavailable is a transient failure that exhausted its retries,
	// or a circuit breaker rejecting calls. Surfaces as 503.
	UpstreamUnavailable Kind = "upstream_unavailable"

	// NotFound is a lookup miss (unknown NDC). Surfaces as 404.
	NotFound Kind = "not_found"

	// Internal is an unexpected condition. Surfaces as 500 with a correlation id.
	Internal Kind = "internal"
)

// Error carries a kind, the operation that failed, and the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with a kind and operation name. A nil err is allowed for
// failures with no underlying cause (e.g. a pure lookup miss).
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf is E with a formatted cause.
func Errorf(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the kind from err, walking the wrap chain. Unclassified
// errors report Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return Is(err, UpstreamTransient)
}

// IsNotFound reports whether err is a lookup miss.
func IsNotFound(err error) bool {
	return Is(err, NotFound)
}
