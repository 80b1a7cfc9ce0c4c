// Package scheduler implements the cron scheduler (C9): single-leader
// election over a TTL key, per-function cron timers that submit events
// through workflow.Client, and missed-execution replay on leadership
// acquisition.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/caelum-labs/worchflow/internal/bus"
	"github.com/caelum-labs/worchflow/internal/cronspec"
	"github.com/caelum-labs/worchflow/internal/docstore"
	"github.com/caelum-labs/worchflow/internal/kvstore"
	"github.com/caelum-labs/worchflow/internal/logging"
	"github.com/caelum-labs/worchflow/internal/workflow"
)

const (
	// defaultLeaderCheckInterval is how often the scheduler re-evaluates
	// leadership (spec §4.7).
	defaultLeaderCheckInterval = 30 * time.Second

	// defaultLeaderTTL is the leader key's TTL, extended on every successful
	// check (spec §4.7).
	defaultLeaderTTL = 60 * time.Second
)

// Scheduled is a handler's cron registration.
type Scheduled struct {
	FunctionID string
	Cron       string
}

// Config tunes the scheduler's leader-election cadence. Zero values fall
// back to the spec defaults.
type Config struct {
	LeaderCheckInterval time.Duration
	LeaderTTL           time.Duration
	LeaderKey           string
}

// Scheduler fires registered cron handlers while holding leadership of
// leaderKey, and idles otherwise. Construct with New, then Start/Stop once.
type Scheduler struct {
	kv     kvstore.Store
	doc    docstore.Store
	client *workflow.Client
	bus    *bus.Bus
	logger *logging.Logger

	handlers []Scheduled
	cfg      Config

	mu         sync.Mutex
	running    bool
	isLeader   bool
	stopCh     chan struct{}
	doneCh     chan struct{}
	timersStop context.CancelFunc
	timersWG   sync.WaitGroup
}

// New validates every handler's cron expression at construction time and
// rejects a scheduler with no scheduled handlers (spec §4.7).
func New(kv kvstore.Store, doc docstore.Store, client *workflow.Client, eventBus *bus.Bus, handlers []Scheduled, cfg Config, logger *logging.Logger) (*Scheduler, error) {
	if len(handlers) == 0 {
		return nil, schedulerError(workflow.KindInvalidCron, "scheduler requires at least one handler with a non-empty cron")
	}
	for _, h := range handlers {
		if err := cronspec.Validate(h.Cron); err != nil {
			return nil, schedulerError(workflow.KindInvalidCron, "handler "+h.FunctionID+": "+err.Error())
		}
	}

	if cfg.LeaderCheckInterval <= 0 {
		cfg.LeaderCheckInterval = defaultLeaderCheckInterval
	}
	if cfg.LeaderTTL <= 0 {
		cfg.LeaderTTL = defaultLeaderTTL
	}
	if cfg.LeaderKey == "" {
		cfg.LeaderKey = "worchflow:scheduler:leader"
	}

	return &Scheduler{
		kv:       kv,
		doc:      doc,
		client:   client,
		bus:      eventBus,
		logger:   logger,
		handlers: handlers,
		cfg:      cfg,
	}, nil
}

// Start launches the leader-election loop. Cron timers only run while this
// instance holds leadership.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return schedulerError(workflow.KindAlreadyRunning, "scheduler already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.electionLoop(ctx)

	if s.bus != nil {
		for _, h := range s.handlers {
			s.bus.Emit(bus.EventScheduleRegistered, map[string]any{"functionId": h.FunctionID, "cron": h.Cron})
		}
	}
	return nil
}

// Stop halts the election loop and any running cron timers, releasing
// leadership if held.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return schedulerError(workflow.KindNotRunning, "scheduler is not running")
	}
	stopCh := s.stopCh
	doneCh := s.doneCh
	s.mu.Unlock()

	close(stopCh)
	<-doneCh

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return nil
}

func schedulerError(kind workflow.Kind, message string) error {
	return &workflow.Error{Kind: kind, Message: message}
}
