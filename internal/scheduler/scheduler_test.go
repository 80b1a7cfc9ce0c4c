package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/caelum-labs/worchflow/internal/bus"
	"github.com/caelum-labs/worchflow/internal/docstore"
	"github.com/caelum-labs/worchflow/internal/kvstore"
	"github.com/caelum-labs/worchflow/internal/logging"
	"github.com/caelum-labs/worchflow/internal/workflow"
)

func newTestScheduler(t *testing.T, handlers []Scheduled, cfg Config) (*Scheduler, kvstore.Store, docstore.Store, *bus.Bus) {
	t.Helper()
	mr := miniredis.RunT(t)
	kv, err := kvstore.NewRedisStore(context.Background(), &redis.Options{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	doc := docstore.NewMemory()
	client, err := workflow.NewClient(context.Background(), kv, doc, "wf", logging.NewDefault())
	require.NoError(t, err)

	b := bus.New(logging.NewDefault())
	sched, err := New(kv, doc, client, b, handlers, cfg, logging.NewDefault())
	require.NoError(t, err)
	return sched, kv, doc, b
}

func TestNew_RejectsEmptyHandlerList(t *testing.T) {
	_, err := New(nil, nil, nil, nil, nil, Config{}, logging.NewDefault())
	require.Error(t, err)
}

func TestNew_RejectsInvalidCron(t *testing.T) {
	_, err := New(nil, nil, nil, nil, []Scheduled{{FunctionID: "f", Cron: "garbage"}}, Config{}, logging.NewDefault())
	require.Error(t, err)
}

func TestScheduler_AcquiresLeadershipAndFires(t *testing.T) {
	var triggered []map[string]any
	sched, _, _, b := newTestScheduler(t, []Scheduled{{FunctionID: "tick", Cron: "* * * * * *"}},
		Config{LeaderCheckInterval: 50 * time.Millisecond, LeaderTTL: time.Second})

	unsub := b.On(bus.EventScheduleTriggered, func(payload any) {
		triggered = append(triggered, payload.(map[string]any))
	})
	defer unsub()

	require.NoError(t, sched.Start(context.Background()))
	defer sched.Stop()

	require.Eventually(t, func() bool { return len(triggered) >= 1 }, 3*time.Second, 20*time.Millisecond)
}

func TestScheduler_EveryTenSecondsIntervalWithinTolerance(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping slow 10s-cadence timing test in short mode")
	}
	var mu timestamps
	sched, _, _, b := newTestScheduler(t, []Scheduled{{FunctionID: "decasecond", Cron: "*/10 * * * * *"}},
		Config{LeaderCheckInterval: 50 * time.Millisecond, LeaderTTL: time.Second})

	unsub := b.On(bus.EventScheduleTriggered, func(payload any) {
		m := payload.(map[string]any)
		mu.add(m["timestamp"].(int64))
	})
	defer unsub()

	require.NoError(t, sched.Start(context.Background()))
	defer sched.Stop()

	require.Eventually(t, func() bool { return mu.len() >= 2 }, 25*time.Second, 100*time.Millisecond)

	a, b2 := mu.first2()
	interval := b2 - a
	require.InDelta(t, 10000, interval, 2000)
}

func TestScheduler_MissedExecutionCatchUpFiresOnce(t *testing.T) {
	sched, _, doc, b := newTestScheduler(t, []Scheduled{{FunctionID: "catchup", Cron: "*/10 * * * * *"}},
		Config{LeaderCheckInterval: time.Hour, LeaderTTL: time.Hour})

	staleTime := time.Now().Add(-time.Minute).UnixMilli()
	require.NoError(t, doc.UpsertByFunctionID(context.Background(), "catchup", map[string]any{
		"functionId":        "catchup",
		"cronExpression":    "*/10 * * * * *",
		"lastExecutionTime": staleTime,
	}))

	var missed int
	unsub := b.On(bus.EventScheduleMissed, func(payload any) { missed++ })
	defer unsub()

	require.NoError(t, sched.Start(context.Background()))
	defer sched.Stop()

	require.Eventually(t, func() bool { return missed >= 1 }, 3*time.Second, 20*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	require.Equal(t, 1, missed)
}

func TestScheduler_StopReleasesLeaderKey(t *testing.T) {
	sched, kv, _, _ := newTestScheduler(t, []Scheduled{{FunctionID: "tick", Cron: "*/10 * * * * *"}},
		Config{LeaderCheckInterval: 20 * time.Millisecond, LeaderTTL: time.Minute, LeaderKey: "wf:test:leader"})

	require.NoError(t, sched.Start(context.Background()))
	require.Eventually(t, func() bool {
		ttl, err := kv.RemainingTTL(context.Background(), "wf:test:leader")
		return err == nil && ttl > 0
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, sched.Stop())

	ttl, err := kv.RemainingTTL(context.Background(), "wf:test:leader")
	require.NoError(t, err)
	require.Equal(t, time.Duration(0), ttl)
}

func TestScheduler_DoubleStartRejected(t *testing.T) {
	sched, _, _, _ := newTestScheduler(t, []Scheduled{{FunctionID: "tick", Cron: "*/10 * * * * *"}}, Config{})
	require.NoError(t, sched.Start(context.Background()))
	defer sched.Stop()

	err := sched.Start(context.Background())
	require.Error(t, err)
}

// timestamps is a tiny concurrency-safe accumulator for the timing test.
type timestamps struct {
	mu sync.Mutex
	xs []int64
}

func (m *timestamps) add(v int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.xs = append(m.xs, v)
}

func (m *timestamps) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.xs)
}

func (m *timestamps) first2() (int64, int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.xs[0], m.xs[1]
}
