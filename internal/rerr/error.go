// Package rerr defines the error taxonomy shared by every component of the
// reconciliation engine. Callers that need to branch on failure mode use
// errors.As to recover a *rerr.Error and inspect its Kind, rather than
// matching on message strings.
package rerr

import "fmt"

// Kind identifies the category of failure. Values are stable and intended
// to be logged and compared, never displayed verbatim to end users.
type Kind string

const (
	InvalidArgument    Kind = "invalid_argument"
	InvalidWallet      Kind = "invalid_wallet"
	UnsupportedCurrency Kind = "unsupported_currency"
	RateLimited        Kind = "rate_limited"
	FormCapExceeded    Kind = "form_cap_exceeded"
	SimilarToRecent    Kind = "similar_to_recent"
	FormNotFound       Kind = "form_not_found"
	FormNotPending     Kind = "form_not_pending"
	Expired            Kind = "expired"
	Mismatch           Kind = "mismatch"
	AlreadyProcessed   Kind = "already_processed"
	RaceLost           Kind = "race_lost"
	StorageBusy        Kind = "storage_busy"
	StorageFailed      Kind = "storage_failed"
	NetworkFailed      Kind = "network_failed"
	SSLFailed          Kind = "ssl_failed"
	APIRejected        Kind = "api_rejected"
	ValidationFailed   Kind = "validation_failed"
)

// Error is the single error type surfaced across the engine's public
// operations. It wraps an optional underlying cause for errors.Unwrap
// chains while keeping the stable Kind for programmatic branching.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, rerr.New(SomeKind, "")) to match purely on Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error that carries an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// OfKind reports whether err is a *rerr.Error of the given Kind.
func OfKind(err error, kind Kind) bool {
	var e *Error
	if as, ok := err.(*Error); ok {
		e = as
	} else {
		return false
	}
	return e.Kind == kind
}
