package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
)

// dequeueLoop is one of N independent dequeue loops (spec §4.6). Each owns a
// dedicated duplicated queue connection so its blocking pop never stalls
// another worker or a metadata update on the shared adapter.
func (p *Pool) dequeueLoop(ctx context.Context, workerID int) {
	defer p.workersWG.Done()

	workerKV := p.kv.Duplicate()
	defer workerKV.Close()

	var tasks sync.WaitGroup

	for p.runFlag.Load() {
		id, ok, err := workerKV.ListPopLeftBlocking(ctx, p.queueKey(), popTimeout)
		if err != nil {
			if p.logger != nil {
				p.logger.Warn().Err(err).Int("worker", workerID).Msg("dequeue loop pop error")
			}
			continue
		}
		if !ok {
			// Timeout: reconsider the run flag and poll again.
			continue
		}

		p.inFlight.Add(1)
		tasks.Add(1)
		go func(executionID string) {
			defer tasks.Done()
			defer p.inFlight.Add(-1)
			p.safeProcess(ctx, executionID)
		}(id)
	}

	// Graceful drain: await every task this worker scheduled before
	// disconnecting. Disconnecting earlier would strand active executions
	// mid-update.
	tasks.Wait()
}

// safeProcess recovers a panicking handler invocation so one bad handler
// never takes down a dequeue loop.
func (p *Pool) safeProcess(ctx context.Context, id string) {
	logger := p.scopedLogger(id)
	defer func() {
		if r := recover(); r != nil {
			if logger != nil {
				logger.Error().
					Str("executionId", id).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(debug.Stack())).
					Msg("recovered from panic while processing execution")
			}
		}
	}()
	p.processExecution(ctx, id, logger)
}
