package workflow

import (
	"context"
	"encoding/json"
	"time"
)

// Event is the payload handed to a HandlerFunc, constructed from the
// dequeued execution record.
type Event struct {
	Name      string
	Data      json.RawMessage
	ID        string
	Timestamp int64
}

// HandlerFunc is a registered workflow handler. It receives the triggering
// event and a StepRunner bound to this execution, and returns the
// execution's result (marshaled as the doc-store `result` field) or an
// error that drives the retry/failure path.
type HandlerFunc func(ctx context.Context, event Event, step *StepRunner) (any, error)

// Handler is a registered handler's metadata plus its function (spec §6's
// "handler value with {id, retries?, retryDelay?, cron?}").
type Handler struct {
	// ID is the event name this handler is invoked for, and also the
	// functionId used for cron scheduling and cron_executions bookkeeping.
	ID string

	// Retries is the number of additional attempts after the first failure.
	// attemptCount < Retries gates a retry; zero means no automatic retry.
	Retries int

	// RetryDelay is how long the worker pool waits before re-enqueuing a
	// retrying execution. Zero means re-enqueue immediately.
	RetryDelay time.Duration

	// Cron is a six-field cron expression (seconds first). Empty means this
	// handler is never scheduled automatically — it only runs on Submit.
	Cron string

	Func HandlerFunc
}
