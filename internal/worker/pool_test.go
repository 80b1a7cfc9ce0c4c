package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
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

func newTestPool(t *testing.T, handlers []workflow.Handler, concurrency int) (*Pool, kvstore.Store, docstore.Store, *bus.Bus) {
	t.Helper()
	mr := miniredis.RunT(t)
	kv, err := kvstore.NewRedisStore(context.Background(), &redis.Options{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	doc := docstore.NewMemory()
	b := bus.New(logging.NewDefault())

	pool, err := New(kv, doc, b, handlers, concurrency, "wf", logging.NewDefault())
	require.NoError(t, err)
	return pool, kv, doc, b
}

func submitExecution(t *testing.T, kv kvstore.Store, doc docstore.Store, eventName string, data any) string {
	t.Helper()
	client, err := workflow.NewClient(context.Background(), kv, doc, "wf", logging.NewDefault())
	require.NoError(t, err)
	id, err := client.Submit(context.Background(), workflow.SubmitRequest{Name: eventName, Data: data})
	require.NoError(t, err)
	return id
}

func waitForStatus(t *testing.T, doc docstore.Store, id string, want workflow.Status, timeout time.Duration) map[string]any {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		d, err := doc.FindOneByID(context.Background(), docstore.CollectionExecutions, id)
		require.NoError(t, err)
		if d != nil && d["status"] == string(want) {
			return d
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("execution %s never reached status %s", id, want)
	return nil
}

func TestPool_DuplicateHandlerRejected(t *testing.T) {
	h := workflow.Handler{ID: "dup", Func: func(ctx context.Context, e workflow.Event, s *workflow.StepRunner) (any, error) { return nil, nil }}
	_, err := New(nil, nil, nil, []workflow.Handler{h, h}, 1, "wf", logging.NewDefault())
	require.Error(t, err)
	var werr *workflow.Error
	require.True(t, errors.As(err, &werr))
	require.Equal(t, workflow.KindDuplicateHandler, werr.Kind)
}

func TestPool_HappyPathCompletesExecution(t *testing.T) {
	h := workflow.Handler{
		ID: "order.created",
		Func: func(ctx context.Context, e workflow.Event, s *workflow.StepRunner) (any, error) {
			return map[string]any{"ok": true}, nil
		},
	}
	pool, kv, doc, _ := newTestPool(t, []workflow.Handler{h}, 2)
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	id := submitExecution(t, kv, doc, "order.created", map[string]any{"orderId": "o1"})

	d := waitForStatus(t, doc, id, workflow.StatusCompleted, 2*time.Second)
	require.Equal(t, float64(0), toFloat(d["attemptCount"]))
}

func TestPool_UnknownHandlerFailsWithoutRetry(t *testing.T) {
	pool, kv, doc, _ := newTestPool(t, nil, 1)
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	id := submitExecution(t, kv, doc, "no.such.handler", map[string]any{})

	d := waitForStatus(t, doc, id, workflow.StatusFailed, 2*time.Second)
	require.Contains(t, d["error"], "no handler registered")
}

func TestPool_MalformedRecordFailsWithoutRetry(t *testing.T) {
	pool, kv, doc, _ := newTestPool(t, nil, 1)
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	id := "malformed-1"
	require.NoError(t, kv.HashSet(context.Background(), "wf:execution:"+id, map[string]string{"status": "queued"}))
	require.NoError(t, doc.Insert(context.Background(), docstore.CollectionExecutions, map[string]any{
		"id": id, "status": "queued", "createdAt": int64(1),
	}))
	require.NoError(t, kv.ListPushRight(context.Background(), "wf:queue", id))

	d := waitForStatus(t, doc, id, workflow.StatusFailed, 2*time.Second)
	require.NotEmpty(t, d["error"])
}

func TestPool_RetryThenSucceed(t *testing.T) {
	var attempts atomic.Int32
	h := workflow.Handler{
		ID:      "flaky",
		Retries: 2,
		Func: func(ctx context.Context, e workflow.Event, s *workflow.StepRunner) (any, error) {
			n := attempts.Add(1)
			if n == 1 {
				return nil, errors.New("transient failure")
			}
			return "recovered", nil
		},
	}
	pool, kv, doc, _ := newTestPool(t, []workflow.Handler{h}, 1)
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	id := submitExecution(t, kv, doc, "flaky", map[string]any{})

	d := waitForStatus(t, doc, id, workflow.StatusCompleted, 3*time.Second)
	require.Equal(t, int32(2), attempts.Load())
	require.Equal(t, float64(1), toFloat(d["attemptCount"]))
}

func TestPool_ExhaustsRetriesThenFails(t *testing.T) {
	h := workflow.Handler{
		ID:      "always-fails",
		Retries: 1,
		Func: func(ctx context.Context, e workflow.Event, s *workflow.StepRunner) (any, error) {
			return nil, errors.New("boom")
		},
	}
	pool, kv, doc, _ := newTestPool(t, []workflow.Handler{h}, 1)
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	id := submitExecution(t, kv, doc, "always-fails", map[string]any{})

	d := waitForStatus(t, doc, id, workflow.StatusFailed, 3*time.Second)
	require.Equal(t, float64(2), toFloat(d["attemptCount"]))
}

func TestPool_StepMemoizationSurvivesRetry(t *testing.T) {
	var step1Calls, step2Calls atomic.Int32
	h := workflow.Handler{
		ID:      "checkpointed",
		Retries: 1,
		Func: func(ctx context.Context, e workflow.Event, s *workflow.StepRunner) (any, error) {
			_, err := s.RunStep(ctx, "step1", func(ctx context.Context) (any, error) {
				step1Calls.Add(1)
				return "step1-result", nil
			})
			if err != nil {
				return nil, err
			}
			return s.RunStep(ctx, "step2", func(ctx context.Context) (any, error) {
				n := step2Calls.Add(1)
				if n == 1 {
					return nil, errors.New("step2 transient failure")
				}
				return "step2-result", nil
			})
		},
	}
	pool, kv, doc, _ := newTestPool(t, []workflow.Handler{h}, 1)
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	id := submitExecution(t, kv, doc, "checkpointed", map[string]any{})

	waitForStatus(t, doc, id, workflow.StatusCompleted, 3*time.Second)
	require.Equal(t, int32(1), step1Calls.Load(), "step1 must not recompute on retry")
	require.Equal(t, int32(2), step2Calls.Load())
}

func TestPool_ConcurrentExecutionsEachRunExactlyOnce(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}
	h := workflow.Handler{
		ID: "parallel.event",
		Func: func(ctx context.Context, e workflow.Event, s *workflow.StepRunner) (any, error) {
			var payload struct {
				ID string `json:"id"`
			}
			require.NoError(t, json.Unmarshal(e.Data, &payload))
			mu.Lock()
			seen[payload.ID]++
			mu.Unlock()
			return nil, nil
		},
	}
	pool, kv, doc, _ := newTestPool(t, []workflow.Handler{h}, 3)
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	payloadIDs := []string{"p0", "p1", "p2"}
	ids := make([]string, len(payloadIDs))
	for i, pid := range payloadIDs {
		ids[i] = submitExecution(t, kv, doc, "parallel.event", map[string]any{"id": pid})
	}
	for _, id := range ids {
		waitForStatus(t, doc, id, workflow.StatusCompleted, 2*time.Second)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 3)
	for _, count := range seen {
		require.Equal(t, 1, count)
	}
}

func TestPool_RecoverOrphansAtStartup(t *testing.T) {
	mr := miniredis.RunT(t)
	kv, err := kvstore.NewRedisStore(context.Background(), &redis.Options{Addr: mr.Addr()})
	require.NoError(t, err)
	defer kv.Close()
	doc := docstore.NewMemory()

	id := "orphan-1"
	require.NoError(t, kv.HashSet(context.Background(), "wf:execution:"+id, map[string]string{
		"id": id, "eventName": "evt", "eventData": "{}", "status": "processing", "createdAt": "1", "attemptCount": "0",
	}))
	require.NoError(t, doc.Insert(context.Background(), docstore.CollectionExecutions, map[string]any{
		"id": id, "eventName": "evt", "eventData": "{}", "status": "processing", "createdAt": int64(1), "attemptCount": int64(0),
	}))

	h := workflow.Handler{ID: "evt", Func: func(ctx context.Context, e workflow.Event, s *workflow.StepRunner) (any, error) { return nil, nil }}
	pool, err := New(kv, doc, bus.New(logging.NewDefault()), []workflow.Handler{h}, 1, "wf", logging.NewDefault())
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	waitForStatus(t, doc, id, workflow.StatusCompleted, 2*time.Second)
}

func TestPool_StopDrainsInFlightAndDropsLateRetries(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	h := workflow.Handler{
		ID:      "slow",
		Retries: 1,
		Func: func(ctx context.Context, e workflow.Event, s *workflow.StepRunner) (any, error) {
			close(started)
			<-release
			return nil, errors.New("fails after stop races in")
		},
	}
	pool, kv, doc, _ := newTestPool(t, []workflow.Handler{h}, 1)
	require.NoError(t, pool.Start(context.Background()))

	id := submitExecution(t, kv, doc, "slow", map[string]any{})

	<-started
	stopDone := make(chan error, 1)
	go func() { stopDone <- pool.Stop() }()

	time.Sleep(50 * time.Millisecond)
	close(release)

	require.NoError(t, <-stopDone)

	d := waitForStatus(t, doc, id, workflow.StatusRetrying, time.Second)
	require.NotNil(t, d)

	_, ok, err := kv.Duplicate().ListPopLeftBlocking(context.Background(), "wf:queue", 200*time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok, "stopped pool must not re-enqueue a retry scheduled after Stop")
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	}
	return -1
}
