// Package proxyerr defines the error taxonomy shared by every proxy
// component: a small set of kinds, each mapped to a fixed HTTP status code,
// so a connection handler can always turn an internal failure into a
// canonical client-facing response without leaking internal detail.
package proxyerr

import (
	"errors"
	"fmt"
)

// Kind classifies a proxy error. Each kind maps to exactly one HTTP status
// code via Kind.HTTPStatus.
type Kind int

const (
	// IO covers socket read/write failures not otherwise classified.
	IO Kind = iota
	// Config covers configuration load/validation failures. Fatal at startup.
	Config
	// AuthenticationFailed covers malformed or missing proxy credentials.
	AuthenticationFailed
	// AccessDenied covers ACL denials.
	AccessDenied
	// InvalidRequest covers malformed or unparseable client requests.
	InvalidRequest
	// InvalidResponse covers malformed origin responses.
	InvalidResponse
	// Timeout covers header-read and dial timeouts.
	Timeout
	// Upstream covers origin dial/connect failures.
	Upstream
	// FilterBlocked covers filter-engine denials distinct from ACL denials.
	FilterBlocked
	// DnsResolution covers origin hostname resolution failures.
	DnsResolution
	// Protocol covers wire-protocol violations.
	Protocol
	// ResourceExhausted covers admission-permit exhaustion.
	ResourceExhausted
	// Internal covers anything else.
	Internal
)

// String returns the kind's name, used in log lines.
func (k Kind) String() string {
	switch k {
	case IO:
		return "IO"
	case Config:
		return "Config"
	case AuthenticationFailed:
		return "AuthenticationFailed"
	case AccessDenied:
		return "AccessDenied"
	case InvalidRequest:
		return "InvalidRequest"
	case InvalidResponse:
		return "InvalidResponse"
	case Timeout:
		return "Timeout"
	case Upstream:
		return "Upstream"
	case FilterBlocked:
		return "FilterBlocked"
	case DnsResolution:
		return "DnsResolution"
	case Protocol:
		return "Protocol"
	case ResourceExhausted:
		return "ResourceExhausted"
	case Internal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// HTTPStatus returns the fixed HTTP status code for the kind, per the
// mapping table: 407/403/400/408/403/502/502/503/500 (default).
func (k Kind) HTTPStatus() int {
	switch k {
	case AuthenticationFailed:
		return 407
	case AccessDenied, FilterBlocked:
		return 403
	case InvalidRequest:
		return 400
	case Timeout:
		return 408
	case DnsResolution, Upstream:
		return 502
	case ResourceExhausted:
		return 503
	default:
		return 500
	}
}

// ReasonPhrase returns a short, client-safe message for the kind. It never
// includes internal detail (see Error's Cause field for that).
func (k Kind) ReasonPhrase() string {
	switch k {
	case AuthenticationFailed:
		return "Proxy authentication required"
	case AccessDenied:
		return "Access denied"
	case InvalidRequest:
		return "Bad request"
	case Timeout:
		return "Request timeout"
	case FilterBlocked:
		return "Request blocked by filter"
	case DnsResolution:
		return "DNS resolution failed"
	case Upstream:
		return "Upstream server error"
	case ResourceExhausted:
		return "Service temporarily unavailable"
	default:
		return "Internal server error"
	}
}

// Error is a tagged proxy error: a Kind plus an internal message and an
// optional wrapped cause. Msg is safe to log; it is never sent to clients
// verbatim (see Kind.ReasonPhrase).
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

// New creates an *Error with the given kind and message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates an *Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error that records cause as the underlying failure.
func Wrap(kind Kind, cause error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// Wrapf creates an *Error with a formatted message and a wrapped cause.
func Wrapf(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap supports errors.Is/errors.As against the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the HTTP status code for the error's kind.
func (e *Error) HTTPStatus() int {
	return e.Kind.HTTPStatus()
}

// As extracts a *Error from err, unwrapping via errors.As. Call sites use
// this to recover the Kind when deciding which response to emit.
func As(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
