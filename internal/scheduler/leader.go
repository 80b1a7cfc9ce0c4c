package scheduler

import (
	"context"
	"time"

	"github.com/caelum-labs/worchflow/internal/bus"
)

// electionLoop evaluates leadership immediately, then every
// cfg.LeaderCheckInterval, until stopCh closes (spec §4.7).
func (s *Scheduler) electionLoop(ctx context.Context) {
	defer close(s.doneCh)

	s.evaluateLeadership(ctx)

	ticker := time.NewTicker(s.cfg.LeaderCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			s.releaseLeadershipOnStop(ctx)
			return
		case <-ctx.Done():
			s.releaseLeadershipOnStop(context.Background())
			return
		case <-ticker.C:
			s.evaluateLeadership(ctx)
		}
	}
}

// evaluateLeadership implements one leader-election tick: extend if we
// already hold the key, attempt to acquire it if we don't.
func (s *Scheduler) evaluateLeadership(ctx context.Context) {
	s.mu.Lock()
	wasLeader := s.isLeader
	s.mu.Unlock()

	if wasLeader {
		remaining, err := s.kv.RemainingTTL(ctx, s.cfg.LeaderKey)
		if err != nil || remaining <= 0 {
			s.loseLeadership()
			return
		}
		if err := s.kv.ExtendTTL(ctx, s.cfg.LeaderKey, s.cfg.LeaderTTL); err != nil {
			s.loseLeadership()
		}
		return
	}

	acquired, err := s.kv.SetIfAbsentWithTTL(ctx, s.cfg.LeaderKey, "1", s.cfg.LeaderTTL)
	if err != nil || !acquired {
		return
	}
	s.acquireLeadership(ctx)
}

func (s *Scheduler) acquireLeadership(ctx context.Context) {
	s.mu.Lock()
	s.isLeader = true
	timersCtx, cancel := context.WithCancel(context.Background())
	s.timersStop = cancel
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Emit(bus.EventLeaderAcquired, nil)
	}

	s.startTimers(timersCtx)
	s.runMissedExecutionCatchUp(ctx)
}

func (s *Scheduler) loseLeadership() {
	s.mu.Lock()
	if !s.isLeader {
		s.mu.Unlock()
		return
	}
	s.isLeader = false
	stop := s.timersStop
	s.timersStop = nil
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	s.timersWG.Wait()

	if s.bus != nil {
		s.bus.Emit(bus.EventLeaderLost, nil)
	}
}

// releaseLeadershipOnStop deletes the leader key if held, so another
// instance can acquire it immediately instead of waiting out the TTL.
func (s *Scheduler) releaseLeadershipOnStop(ctx context.Context) {
	s.mu.Lock()
	wasLeader := s.isLeader
	s.isLeader = false
	stop := s.timersStop
	s.timersStop = nil
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	s.timersWG.Wait()

	if wasLeader {
		_ = s.kv.Delete(ctx, s.cfg.LeaderKey)
	}
}
