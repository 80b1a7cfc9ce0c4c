// Package worker implements the worker pool ("Worcher", C7): the dequeue
// loop, handler dispatch, status transitions, retry policy, and orphan
// recovery that turn queued execution ids into invoked handlers.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/caelum-labs/worchflow/internal/bus"
	"github.com/caelum-labs/worchflow/internal/docstore"
	"github.com/caelum-labs/worchflow/internal/kvstore"
	"github.com/caelum-labs/worchflow/internal/logging"
	"github.com/caelum-labs/worchflow/internal/workflow"
)

// popTimeout is how long ListPopLeftBlocking waits before a dequeue loop
// reconsiders the run flag (spec §4.6).
const popTimeout = 5 * time.Second

// stopPollInterval is the granularity at which Stop polls the in-flight
// execution count (spec §4.6: "polling at 100 ms granularity").
const stopPollInterval = 100 * time.Millisecond

// Pool is the worker pool. Construct with New, then Start/Stop it once.
type Pool struct {
	kv     kvstore.Store // shared adapter: metadata updates only, never dequeue
	doc    docstore.Store
	bus    *bus.Bus
	logger *logging.Logger

	queuePrefix string
	concurrency int
	handlers    map[string]*workflow.Handler

	mu        sync.Mutex
	running   bool
	runFlag   atomic.Bool
	inFlight  atomic.Int64
	workersWG sync.WaitGroup
}

// New builds a Pool's handler registry from handlers, rejecting duplicate
// ids with KindDuplicateHandler (spec §4.6 construction).
func New(kv kvstore.Store, doc docstore.Store, eventBus *bus.Bus, handlers []workflow.Handler, concurrency int, queuePrefix string, logger *logging.Logger) (*Pool, error) {
	if concurrency < 1 {
		concurrency = 1
	}

	registry := make(map[string]*workflow.Handler, len(handlers))
	for i := range handlers {
		h := handlers[i]
		if _, exists := registry[h.ID]; exists {
			return nil, workflowError(workflow.KindDuplicateHandler, "duplicate handler id: "+h.ID)
		}
		registry[h.ID] = &h
	}

	return &Pool{
		kv:          kv,
		doc:         doc,
		bus:         eventBus,
		logger:      logger,
		queuePrefix: queuePrefix,
		concurrency: concurrency,
		handlers:    registry,
	}, nil
}

func (p *Pool) queueKey() string {
	return p.queuePrefix + ":queue"
}

// scopedLogger returns a logger correlated to one execution id, so every
// line logged while processing it can be grepped together. Returns nil if
// the pool was constructed without a logger.
func (p *Pool) scopedLogger(executionID string) *logging.Logger {
	if p.logger == nil {
		return nil
	}
	return p.logger.WithCorrelationID(executionID)
}

// Start performs the startup handshake (ping both stores, ensure indexes),
// recovers orphaned in-flight executions, then launches N dequeue loops.
// A second Start before Stop is an error.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return workflowError(workflow.KindAlreadyRunning, "worker pool already running")
	}
	p.mu.Unlock()

	if err := p.kv.Ping(ctx); err != nil {
		return workflowErrorWrap(workflow.KindStoreFailure, "kv store handshake failed", err)
	}
	if err := p.doc.Ping(ctx); err != nil {
		return workflowErrorWrap(workflow.KindStoreFailure, "doc store handshake failed", err)
	}
	if err := p.doc.EnsureIndexes(ctx); err != nil {
		return workflowErrorWrap(workflow.KindStoreFailure, "ensure indexes failed", err)
	}

	if err := p.recoverOrphans(ctx); err != nil {
		return err
	}

	p.mu.Lock()
	p.running = true
	p.mu.Unlock()
	p.runFlag.Store(true)

	for i := 0; i < p.concurrency; i++ {
		p.workersWG.Add(1)
		go p.dequeueLoop(ctx, i)
	}

	if p.bus != nil {
		p.bus.Emit(bus.EventReady, nil)
	}
	return nil
}

// Stop signals every dequeue loop to exit after its current iteration,
// waits for all in-flight executions to drain, then waits for every
// worker's dedicated connection to close. Does not cancel a running
// handler invocation.
func (p *Pool) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return workflowError(workflow.KindNotRunning, "worker pool is not running")
	}
	p.mu.Unlock()

	p.runFlag.Store(false)

	for p.inFlight.Load() > 0 {
		time.Sleep(stopPollInterval)
	}

	p.workersWG.Wait()

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	if p.bus != nil {
		p.bus.Emit(bus.EventStopped, nil)
	}
	return nil
}

func workflowError(kind workflow.Kind, message string) error {
	return &workflow.Error{Kind: kind, Message: message}
}

func workflowErrorWrap(kind workflow.Kind, message string, cause error) error {
	return &workflow.Error{Kind: kind, Message: message, Cause: cause}
}
