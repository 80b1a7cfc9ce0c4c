package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/caelum-labs/worchflow/internal/workflow"
)

// registerDemoHandlers returns a small handler set that exercises every
// worker behavior (memoized steps, retries, scheduled firing) so the binary
// is runnable without any caller-supplied handler registrations.
func registerDemoHandlers() []workflow.Handler {
	return []workflow.Handler{
		{
			ID:      "demo.ping",
			Retries: 0,
			Func:    pingHandler,
		},
		{
			ID:         "demo.flaky",
			Retries:    3,
			RetryDelay: 2 * time.Second,
			Func:       flakyHandler,
		},
		{
			ID:      "demo.heartbeat",
			Retries: 1,
			Cron:    "*/30 * * * * *",
			Func:    heartbeatHandler,
		},
	}
}

type pingPayload struct {
	Message string `json:"message"`
}

func pingHandler(ctx context.Context, event workflow.Event, step *workflow.StepRunner) (any, error) {
	var payload pingPayload
	_ = json.Unmarshal(event.Data, &payload)

	greeting, err := step.RunStep(ctx, "build greeting", func(ctx context.Context) (any, error) {
		if payload.Message == "" {
			payload.Message = "hello"
		}
		return fmt.Sprintf("%s, execution %s", payload.Message, event.ID), nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"greeting": greeting}, nil
}

type flakyPayload struct {
	FailUntilAttempt int `json:"failUntilAttempt"`
}

// flakyHandler demonstrates the retry path. Its memoized first step records
// a timestamp that stays the same across retries; after it, the handler fails
// on every attempt whenever FailUntilAttempt is positive, so the execution is
// retried until its Retries are used up and then fails. The attempt count is
// not visible to the handler, so FailUntilAttempt only switches failure on or
// off; with it zero or absent the handler succeeds.
func flakyHandler(ctx context.Context, event workflow.Event, step *workflow.StepRunner) (any, error) {
	var payload flakyPayload
	_ = json.Unmarshal(event.Data, &payload)

	attempt, err := step.RunStep(ctx, "record attempt", func(ctx context.Context) (any, error) {
		return time.Now().UnixNano(), nil
	})
	if err != nil {
		return nil, err
	}

	if payload.FailUntilAttempt > 0 {
		return nil, fmt.Errorf("demo.flaky: simulated transient failure (attempt marker %v)", attempt)
	}
	return map[string]any{"recoveredAt": attempt}, nil
}

// heartbeatHandler is the scheduler's demonstration function: it runs every
// 30 seconds via Cron, recording nothing but its own fire time.
func heartbeatHandler(ctx context.Context, event workflow.Event, step *workflow.StepRunner) (any, error) {
	firedAt, err := step.RunStep(ctx, "record heartbeat", func(ctx context.Context) (any, error) {
		return time.Now().UTC().Format(time.RFC3339), nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"firedAt": firedAt}, nil
}
