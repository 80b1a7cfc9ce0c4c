package workflow

import "fmt"

// Kind enumerates the error taxonomy observable to callers (spec §7). Kinds
// are distinguished by value, never by matching error message text.
type Kind string

const (
	// KindNotReady — operation attempted before the startup handshake
	// completed. Raised locally to the caller; never stored.
	KindNotReady Kind = "not_ready"

	// KindMalformedRecord — a dequeued execution is missing a required
	// field (eventName, eventData, createdAt).
	KindMalformedRecord Kind = "malformed_record"

	// KindMalformedPayload — an event payload is not usable JSON. Submit
	// returns it when Data cannot be marshaled; the worker pool marks a
	// dequeued record whose eventData is not valid JSON as failed for the
	// same reason.
	KindMalformedPayload Kind = "malformed_payload"

	// KindUnknownHandler — no handler is registered for eventName.
	KindUnknownHandler Kind = "unknown_handler"

	// KindHandlerFailure — the handler function returned an error.
	KindHandlerFailure Kind = "handler_failure"

	// KindStoreFailure — a KV or document store operation failed.
	KindStoreFailure Kind = "store_failure"

	// KindInvalidCron — a cron expression failed validation.
	KindInvalidCron Kind = "invalid_cron"

	// KindDuplicateHandler — two handlers were registered under the same id.
	KindDuplicateHandler Kind = "duplicate_handler"

	// KindAlreadyRunning — Start called on a pool/scheduler already started.
	KindAlreadyRunning Kind = "already_running"

	// KindNotRunning — Stop called on a pool/scheduler not currently running.
	KindNotRunning Kind = "not_running"
)

// Error is the single error type returned by this module's public
// operations. Callers discriminate with errors.Is against the sentinel
// values below, or by inspecting Kind directly.
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

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same Kind, so callers can
// write errors.Is(err, workflow.ErrNotReady) etc.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Sentinels for errors.Is comparisons; only Kind is compared.
var (
	ErrNotReady          = &Error{Kind: KindNotReady}
	ErrMalformedRecord   = &Error{Kind: KindMalformedRecord}
	ErrMalformedPayload  = &Error{Kind: KindMalformedPayload}
	ErrUnknownHandler    = &Error{Kind: KindUnknownHandler}
	ErrHandlerFailure    = &Error{Kind: KindHandlerFailure}
	ErrStoreFailure      = &Error{Kind: KindStoreFailure}
	ErrInvalidCron       = &Error{Kind: KindInvalidCron}
	ErrDuplicateHandler  = &Error{Kind: KindDuplicateHandler}
	ErrAlreadyRunning    = &Error{Kind: KindAlreadyRunning}
	ErrNotRunning        = &Error{Kind: KindNotRunning}
)
