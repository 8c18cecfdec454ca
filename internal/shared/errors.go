// Package shared holds error sentinels and classification helpers used by
// every layer of the game core.
package shared

import "errors"

var (

	// common errors
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")
	ErrorInternal      = errors.New("internal error")

	// request validation errors
	ErrorBadRequest         = errors.New("bad request")
	ErrorImproperInvocation = errors.New("improper invocation")
	ErrorUnknownField       = errors.New("unknown field")
	ErrorBadTimestamp       = errors.New("timestamp outside user epoch range")

	// auth-specific errors
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorInvalidToken = errors.New("invalid token")

	// target-specific errors
	ErrorTargetInvalid    = errors.New("target invalid")
	ErrorTargetNotAborted = errors.New("target cannot be aborted")

	// deferred-specific errors
	ErrorTransient = errors.New("transient failure, deferred will retry")
)

// Kind buckets an error into one of the four classes the transport layer
// knows how to surface.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthorized
	KindTransient
)

// Classify maps an error chain onto its Kind. Unrecognized errors are
// internal: they roll the transaction back and surface as a generic failure.
func Classify(err error) Kind {
	switch {
	case errors.Is(err, ErrorBadRequest),
		errors.Is(err, ErrorImproperInvocation),
		errors.Is(err, ErrorUnknownField),
		errors.Is(err, ErrorBadTimestamp),
		errors.Is(err, ErrorTargetInvalid),
		errors.Is(err, ErrorTargetNotAborted):
		return KindValidation
	case errors.Is(err, ErrorUnauthorized), errors.Is(err, ErrorInvalidToken):
		return KindUnauthorized
	case errors.Is(err, ErrorTransient):
		return KindTransient
	default:
		return KindInternal
	}
}
