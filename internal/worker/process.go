package worker

import (
	"context"
	"encoding/json"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/caelum-labs/worchflow/internal/bus"
	"github.com/caelum-labs/worchflow/internal/docstore"
	"github.com/caelum-labs/worchflow/internal/logging"
	"github.com/caelum-labs/worchflow/internal/workflow"
)

// processExecution implements spec §4.6's processExecution: load, validate,
// dispatch to the registered handler through a step runner, and persist the
// terminal or retrying outcome to both stores. logger is already correlated
// to id (see Pool.scopedLogger) so every line it emits can be grepped
// together across a retry's multiple attempts.
func (p *Pool) processExecution(ctx context.Context, id string, logger *logging.Logger) {
	fields, err := p.kv.HashGetAll(ctx, p.executionKey(id))
	if err != nil {
		p.emitStoreError(logger, "load execution", id, err)
		return
	}

	exec, err := workflow.ExecutionFromKVFields(fields)
	if err != nil {
		p.markTerminalFailure(ctx, logger, id, err.Error())
		return
	}
	exec.ID = id

	if !json.Valid(exec.EventData) {
		p.markTerminalFailure(ctx, logger, id, "event data is not valid JSON")
		return
	}

	handler, ok := p.handlers[exec.EventName]
	if !ok {
		p.markTerminalFailure(ctx, logger, id, "no handler registered for event "+exec.EventName)
		return
	}

	if err := p.transitionProcessing(ctx, exec); err != nil {
		p.emitStoreError(logger, "transition to processing", id, err)
		return
	}
	if logger != nil {
		logger.Info().Str("eventName", exec.EventName).Int("attemptCount", exec.AttemptCount).Msg("processing execution")
	}
	if p.bus != nil {
		p.bus.Emit(bus.EventExecutionStart, map[string]any{
			"executionId":  id,
			"eventName":    exec.EventName,
			"attemptCount": exec.AttemptCount,
		})
	}

	stepKV := p.kv.Duplicate()
	defer stepKV.Close()
	runner := workflow.NewStepRunner(stepKV, p.doc, p.queuePrefix, id, logger)

	event := workflow.Event{Name: exec.EventName, Data: exec.EventData, ID: id, Timestamp: exec.CreatedAt}
	result, handlerErr := handler.Func(ctx, event, runner)

	if handlerErr == nil {
		p.finishSuccess(ctx, logger, id, exec.AttemptCount, result)
		return
	}
	p.finishFailure(ctx, logger, id, handler, handlerErr)
}

// transitionProcessing marks the execution processing in both stores in
// parallel (spec §4.6 step 3).
func (p *Pool) transitionProcessing(ctx context.Context, exec *workflow.Execution) error {
	now := time.Now().UnixMilli()

	var kvErr, docErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		kvErr = p.kv.HashSet(ctx, p.executionKey(exec.ID), map[string]string{
			"status":    string(workflow.StatusProcessing),
			"updatedAt": strconv.FormatInt(now, 10),
		})
	}()
	go func() {
		defer wg.Done()
		docErr = p.doc.UpdateOneByID(ctx, docstore.CollectionExecutions, exec.ID, docstore.Update{
			Set: map[string]any{"status": string(workflow.StatusProcessing), "updatedAt": now},
		})
	}()
	wg.Wait()

	if kvErr != nil {
		return kvErr
	}
	return docErr
}

// finishSuccess persists the completed outcome and emits its events after
// both stores settle (spec §4.6 step 6).
func (p *Pool) finishSuccess(ctx context.Context, logger *logging.Logger, id string, attemptCount int, result any) {
	now := time.Now().UnixMilli()
	resultJSON, err := json.Marshal(result)
	if err != nil {
		p.emitStoreError(logger, "encode execution result", id, err)
		return
	}

	var kvErr, docErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		kvErr = p.kv.HashSet(ctx, p.executionKey(id), map[string]string{
			"status":       string(workflow.StatusCompleted),
			"result":       string(resultJSON),
			"attemptCount": strconv.Itoa(attemptCount),
			"updatedAt":    strconv.FormatInt(now, 10),
		})
	}()
	go func() {
		defer wg.Done()
		docErr = p.doc.UpdateOneByID(ctx, docstore.CollectionExecutions, id, docstore.Update{
			Set: map[string]any{
				"status":       string(workflow.StatusCompleted),
				"result":       result,
				"attemptCount": attemptCount,
				"updatedAt":    now,
			},
		})
	}()
	wg.Wait()

	if kvErr != nil {
		p.emitStoreError(logger, "write completed execution to kv store", id, kvErr)
		return
	}
	if docErr != nil {
		p.emitStoreError(logger, "write completed execution to doc store", id, docErr)
		return
	}

	if logger != nil {
		logger.Info().Int("attemptCount", attemptCount).Msg("execution completed")
	}

	if p.bus == nil {
		return
	}
	p.bus.Emit(bus.EventExecutionComplete, map[string]any{"executionId": id, "result": result})
	p.bus.Emit(bus.EventExecutionUpdated, map[string]any{
		"executionId":  id,
		"status":       string(workflow.StatusCompleted),
		"result":       result,
		"attemptCount": attemptCount,
	})
}

// finishFailure reloads the authoritative attemptCount, decides whether to
// retry, persists the outcome, and schedules re-enqueue if appropriate
// (spec §4.6 step 7).
func (p *Pool) finishFailure(ctx context.Context, logger *logging.Logger, id string, handler *workflow.Handler, handlerErr error) {
	fields, err := p.kv.HashGetAll(ctx, p.executionKey(id))
	if err != nil {
		p.emitStoreError(logger, "reload execution for failure handling", id, err)
		return
	}
	attemptCount, _ := strconv.Atoi(fields["attemptCount"])

	errMessage := handlerErr.Error()
	errStack := string(debug.Stack())
	shouldRetry := attemptCount < handler.Retries
	nextAttemptCount := attemptCount + 1

	newStatus := workflow.StatusFailed
	if shouldRetry {
		newStatus = workflow.StatusRetrying
	}
	now := time.Now().UnixMilli()

	var kvErr, docErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		kvErr = p.kv.HashSet(ctx, p.executionKey(id), map[string]string{
			"status":       string(newStatus),
			"error":        errMessage,
			"errorStack":   errStack,
			"attemptCount": strconv.Itoa(nextAttemptCount),
			"updatedAt":    strconv.FormatInt(now, 10),
		})
	}()
	go func() {
		defer wg.Done()
		docErr = p.doc.UpdateOneByID(ctx, docstore.CollectionExecutions, id, docstore.Update{
			Set: map[string]any{
				"status":       string(newStatus),
				"error":        errMessage,
				"errorStack":   errStack,
				"attemptCount": nextAttemptCount,
				"updatedAt":    now,
			},
		})
	}()
	wg.Wait()

	if kvErr != nil {
		p.emitStoreError(logger, "write failed execution to kv store", id, kvErr)
		return
	}
	if docErr != nil {
		p.emitStoreError(logger, "write failed execution to doc store", id, docErr)
		return
	}

	if logger != nil {
		logger.Warn().Err(handlerErr).Int("attemptCount", nextAttemptCount).Bool("willRetry", shouldRetry).Msg("handler failed")
	}

	if p.bus != nil {
		p.bus.Emit(bus.EventExecutionFailed, map[string]any{
			"executionId":  id,
			"error":        errMessage,
			"attemptCount": nextAttemptCount,
			"willRetry":    shouldRetry,
		})
		p.bus.Emit(bus.EventExecutionUpdated, map[string]any{"executionId": id, "status": string(newStatus)})
	}

	if shouldRetry && p.runFlag.Load() {
		p.scheduleReenqueue(logger, id, handler.RetryDelay)
	}
}

// scheduleReenqueue appends id back to the queue after delay. Retries that
// fire after the pool has stopped are dropped.
func (p *Pool) scheduleReenqueue(logger *logging.Logger, id string, delay time.Duration) {
	push := func() {
		if !p.runFlag.Load() {
			return
		}
		if err := p.kv.ListPushRight(context.Background(), p.queueKey(), id); err != nil && logger != nil {
			logger.Warn().Err(err).Str("executionId", id).Msg("failed to re-enqueue retrying execution")
		}
	}

	if delay <= 0 {
		push()
		return
	}
	time.AfterFunc(delay, push)
}

// markTerminalFailure writes status=failed with a descriptive error and no
// retry, for records that never reached a valid handler invocation
// (MalformedRecord, MalformedPayload, UnknownHandler — spec §7).
func (p *Pool) markTerminalFailure(ctx context.Context, logger *logging.Logger, id, message string) {
	now := time.Now().UnixMilli()

	if logger != nil {
		logger.Warn().Str("reason", message).Msg("execution failed without retry")
	}

	if err := p.kv.HashSet(ctx, p.executionKey(id), map[string]string{
		"status":    string(workflow.StatusFailed),
		"error":     message,
		"updatedAt": strconv.FormatInt(now, 10),
	}); err != nil {
		p.emitStoreError(logger, "write terminal failure to kv store", id, err)
		return
	}
	if err := p.doc.UpdateOneByID(ctx, docstore.CollectionExecutions, id, docstore.Update{
		Set: map[string]any{"status": string(workflow.StatusFailed), "error": message, "updatedAt": now},
	}); err != nil {
		p.emitStoreError(logger, "write terminal failure to doc store", id, err)
		return
	}

	if p.bus != nil {
		p.bus.Emit(bus.EventExecutionUpdated, map[string]any{"executionId": id, "status": string(workflow.StatusFailed), "error": message})
	}
}

func (p *Pool) emitStoreError(logger *logging.Logger, operation, executionID string, err error) {
	if logger != nil {
		logger.Error().Err(err).Str("operation", operation).Msg("worker pool store failure")
	}
	if p.bus != nil {
		p.bus.Emit(bus.EventError, map[string]any{"executionId": executionID, "operation": operation, "error": err.Error()})
	}
}
