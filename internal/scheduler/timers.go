package scheduler

import (
	"context"
	"time"

	"github.com/caelum-labs/worchflow/internal/bus"
	"github.com/caelum-labs/worchflow/internal/cronspec"
	"github.com/caelum-labs/worchflow/internal/docstore"
	"github.com/caelum-labs/worchflow/internal/workflow"
)

// startTimers launches one goroutine per scheduled handler, each firing on
// its own cron expression until timersCtx is cancelled (spec §4.7).
func (s *Scheduler) startTimers(timersCtx context.Context) {
	for _, h := range s.handlers {
		s.timersWG.Add(1)
		go s.runTimer(timersCtx, h)
	}
}

func (s *Scheduler) runTimer(ctx context.Context, h Scheduled) {
	defer s.timersWG.Done()

	for {
		next, err := cronspec.NextFire(h.Cron, time.Now())
		if err != nil {
			if s.logger != nil {
				s.logger.Error().Err(err).Str("functionId", h.FunctionID).Msg("cron timer cannot compute next fire")
			}
			return
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.fire(context.Background(), h, false)
		}
	}
}

// fire submits the handler's event, records the firing in cron_executions,
// and emits schedule:triggered (spec §4.7 steps 1-3).
func (s *Scheduler) fire(ctx context.Context, h Scheduled, isMissed bool) {
	executionID, err := s.client.Submit(ctx, workflow.SubmitRequest{Name: h.FunctionID, Data: map[string]any{}})
	if err != nil {
		if s.logger != nil {
			s.logger.Error().Err(err).Str("functionId", h.FunctionID).Msg("scheduled submit failed")
		}
		if s.bus != nil {
			s.bus.Emit(bus.EventError, map[string]any{"functionId": h.FunctionID, "error": err.Error()})
		}
		return
	}

	now := time.Now()
	next, _ := cronspec.NextFire(h.Cron, now)
	if err := s.doc.UpsertByFunctionID(ctx, h.FunctionID, map[string]any{
		"functionId":        h.FunctionID,
		"cronExpression":    h.Cron,
		"lastExecutionTime": now.UnixMilli(),
		"nextScheduledTime": next.UnixMilli(),
		"updatedAt":         now.UnixMilli(),
	}); err != nil {
		if s.logger != nil {
			s.logger.Error().Err(err).Str("functionId", h.FunctionID).Msg("cron_executions upsert failed")
		}
	}

	if s.bus != nil {
		s.bus.Emit(bus.EventScheduleTriggered, map[string]any{
			"functionId":  h.FunctionID,
			"executionId": executionID,
			"timestamp":   now.UnixMilli(),
			"isMissed":    isMissed,
		})
	}
}

// runMissedExecutionCatchUp fires at most one catch-up execution per
// scheduled handler, once per leadership acquisition (spec §4.7).
func (s *Scheduler) runMissedExecutionCatchUp(ctx context.Context) {
	now := time.Now()
	for _, h := range s.handlers {
		doc, err := s.doc.FindOneByID(ctx, docstore.CollectionCronExecutions, h.FunctionID)
		if err != nil || doc == nil {
			continue
		}
		lastMillis, ok := toInt64(doc["lastExecutionTime"])
		if !ok {
			continue
		}
		lastFire := time.UnixMilli(lastMillis)

		if !cronspec.ShouldHaveRun(h.Cron, lastFire, now) {
			continue
		}

		if s.bus != nil {
			s.bus.Emit(bus.EventScheduleMissed, map[string]any{"functionId": h.FunctionID, "lastExecutionTime": lastMillis})
		}
		s.fire(ctx, h, true)
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}
