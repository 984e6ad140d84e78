// Package faults defines the closed error taxonomy for the trading
// pipeline. Every library-level failure in the decision path is one of
// these kinds; callers dispatch with errors.Is against the kind sentinels.
package faults

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind sentinels. Each Error wraps exactly one of these.
var (
	// ErrInput marks invalid parameters: probability out of range, σ ≤ 0,
	// zero brackets, invalid price, empty ticker. Always the caller's fault.
	ErrInput = errors.New("input error")

	// ErrStaleData marks predictions older than the freshness window or a
	// missing required cached price. The scanner swallows these locally.
	ErrStaleData = errors.New("stale data")

	// ErrOrderRejected marks an order refused by the exchange.
	ErrOrderRejected = errors.New("order rejected")

	// ErrAuthFailure marks invalid exchange credentials.
	ErrAuthFailure = errors.New("authentication failed")

	// ErrRateLimited marks an exchange 429.
	ErrRateLimited = errors.New("rate limited")

	// ErrAPI marks any other non-2xx exchange response.
	ErrAPI = errors.New("exchange api error")

	// ErrConnection marks a transport failure or timeout.
	ErrConnection = errors.New("connection failure")

	// ErrInsufficientData marks a backtest with no matching predictions.
	ErrInsufficientData = errors.New("insufficient data")
)

// Error is a taxonomy error with structured context. The context is
// redacted when formatted, so secrets passed for debugging never reach
// logs.
type Error struct {
	kind    error
	msg     string
	context map[string]any
	cause   error
}

// New builds a taxonomy error of the given kind.
func New(kind error, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

// Wrap builds a taxonomy error of the given kind around a cause.
func Wrap(kind error, msg string, cause error) *Error {
	return &Error{kind: kind, msg: msg, cause: cause}
}

// With attaches a context value and returns the error for chaining.
func (e *Error) With(key string, value any) *Error {
	if e.context == nil {
		e.context = make(map[string]any)
	}
	e.context[key] = value
	return e
}

// Error renders the message, redacted context, and cause.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.kind.Error())
	sb.WriteString(": ")
	sb.WriteString(e.msg)
	if len(e.context) > 0 {
		sb.WriteString(" (")
		sb.WriteString(formatContext(e.context))
		sb.WriteString(")")
	}
	if e.cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.cause.Error())
	}
	return sb.String()
}

// Unwrap exposes the kind sentinel (and transitively the cause) so that
// errors.Is(err, faults.ErrX) works.
func (e *Error) Unwrap() []error {
	if e.cause != nil {
		return []error{e.kind, e.cause}
	}
	return []error{e.kind}
}

// Context returns a redacted copy of the structured context.
func (e *Error) Context() map[string]string {
	out := make(map[string]string, len(e.context))
	for k, v := range e.context {
		out[k] = redactValue(k, v)
	}
	return out
}

// secretMarkers are key-name fragments whose values are never printed.
var secretMarkers = []string{"key", "secret", "password", "token", "private", "pem", "credential"}

// Redacted is the placeholder printed instead of secret values.
const Redacted = "[REDACTED]"

// IsSecretKey reports whether a context or log key names a secret.
func IsSecretKey(key string) bool {
	lower := strings.ToLower(key)
	for _, marker := range secretMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func redactValue(key string, value any) string {
	if IsSecretKey(key) {
		return Redacted
	}
	return fmt.Sprintf("%v", value)
}

func formatContext(ctx map[string]any) string {
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+redactValue(k, ctx[k]))
	}
	return strings.Join(parts, " ")
}
