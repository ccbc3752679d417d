package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorKind is the stable classification surfaced to callers. Upstream error
// strings are logged with full context but never echoed to API clients.
type ErrorKind string

// Error kinds.
const (
	KindInputInvalid    ErrorKind = "input_invalid"
	KindTransport       ErrorKind = "connection_error"
	KindDNS             ErrorKind = "dns_error"
	KindTimeout         ErrorKind = "timeout"
	KindRateLimited     ErrorKind = "rate_limit"
	KindQuotaExhausted  ErrorKind = "quota_exhausted"
	KindResponseInvalid ErrorKind = "response_invalid"
	KindCircuitOpen     ErrorKind = "circuit_open"
	KindCancelled       ErrorKind = "cancelled"
	KindServiceError    ErrorKind = "service_error"
	KindUnknown         ErrorKind = "unknown"
)

// Error is the typed error surfaced by the core. Message is safe to show to
// callers; the wrapped cause is not.
type Error struct {
	Kind    ErrorKind
	Model   string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("llm %s: %s: %s", e.Model, e.Kind, e.Message)
	}
	return fmt.Sprintf("llm: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// NewError builds a typed core error wrapping cause.
func NewError(kind ErrorKind, model, message string, cause error) *Error {
	return &Error{Kind: kind, Model: model, Message: message, cause: cause}
}

// KindOf extracts the error kind, defaulting to unknown.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindUnknown
}

// Sentinel errors.
var (
	// ErrUnknownModel is returned by the pool and registry for unknown names.
	ErrUnknownModel = errors.New("unknown model")

	// ErrNoRouteAvailable is returned when every candidate route for a
	// logical model is circuit-open. The limiter and provider are never
	// touched in that case.
	ErrNoRouteAvailable = errors.New("no route available")

	// ErrEmptyResponse is returned when a provider reports success with no
	// content. Never retried: the model is deterministic relative to the
	// prompt.
	ErrEmptyResponse = errors.New("empty response from provider")

	// ErrAllModelsFailed is returned by Race when no model succeeds.
	ErrAllModelsFailed = errors.New("all models failed")
)

// KindOfStatus maps an upstream HTTP status to an error kind.
func KindOfStatus(status int) ErrorKind {
	switch {
	case status == 429:
		return KindRateLimited
	case status == 401 || status == 403:
		return KindQuotaExhausted
	case status >= 500:
		return KindServiceError
	case status >= 400:
		return KindInputInvalid
	default:
		return KindUnknown
	}
}

// KindOfTransport maps a transport-level error to an error kind.
func KindOfTransport(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindDNS
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindTransport
	}
	// Quota exhaustion sometimes arrives as a 200 with an error payload.
	if strings.Contains(strings.ToLower(err.Error()), "quota") {
		return KindQuotaExhausted
	}
	return KindTransport
}

// retriable reports whether a call failing with this kind may be retried.
// Input, quota, and schema failures are terminal; transport, timeout, rate
// limit, and upstream 5xx are transient.
func retriable(kind ErrorKind) bool {
	switch kind {
	case KindTransport, KindDNS, KindTimeout, KindRateLimited, KindServiceError:
		return true
	default:
		return false
	}
}
