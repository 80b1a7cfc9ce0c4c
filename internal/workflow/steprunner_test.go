package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/caelum-labs/worchflow/internal/docstore"
	"github.com/caelum-labs/worchflow/internal/kvstore"
)

func newTestStepRunner(t *testing.T, executionID string) (*StepRunner, kvstore.Store, docstore.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	kv, err := kvstore.NewRedisStore(context.Background(), &redis.Options{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	doc := docstore.NewMemory()
	runner := NewStepRunner(kv, doc, "worchflow", executionID, nil)
	return runner, kv, doc
}

func TestStepRunner_ComputesOnceAndMemoizes(t *testing.T) {
	runner, _, _ := newTestStepRunner(t, "exec-1")
	ctx := context.Background()

	calls := 0
	compute := func(ctx context.Context) (any, error) {
		calls++
		return 15, nil
	}

	v1, err := runner.RunStep(ctx, "add ten", compute)
	require.NoError(t, err)
	require.Equal(t, 15, v1)

	v2, err := runner.RunStep(ctx, "add ten", compute)
	require.NoError(t, err)
	require.Equal(t, 15, v2)
	require.Equal(t, 1, calls, "second call must hit the in-process memo, not recompute")
}

func TestStepRunner_KVCacheSurvivesNewRunnerInstance(t *testing.T) {
	mr := miniredis.RunT(t)
	kv, err := kvstore.NewRedisStore(context.Background(), &redis.Options{Addr: mr.Addr()})
	require.NoError(t, err)
	defer kv.Close()
	doc := docstore.NewMemory()

	runner1 := NewStepRunner(kv, doc, "worchflow", "exec-1", nil)
	calls := 0
	compute := func(ctx context.Context) (any, error) {
		calls++
		return 42, nil
	}
	_, err = runner1.RunStep(context.Background(), "answer", compute)
	require.NoError(t, err)

	// A fresh runner (simulating resume after crash) must hit the KV tier.
	runner2 := NewStepRunner(kv, doc, "worchflow", "exec-1", nil)
	v, err := runner2.RunStep(context.Background(), "answer", compute)
	require.NoError(t, err)
	require.Equal(t, float64(42), v, "value round-trips through JSON, so ints decode as float64")
	require.Equal(t, 1, calls, "cached step must not recompute after process restart")
}

func TestStepRunner_CachedNullIsAHitNotAMiss(t *testing.T) {
	runner, _, _ := newTestStepRunner(t, "exec-1")
	ctx := context.Background()

	calls := 0
	compute := func(ctx context.Context) (any, error) {
		calls++
		return nil, nil
	}

	v1, err := runner.RunStep(ctx, "maybe-null", compute)
	require.NoError(t, err)
	require.Nil(t, v1)

	// Simulate resume: fresh runner, same KV connection.
	runner2 := NewStepRunner(runner.kv, runner.doc, "worchflow", "exec-1", nil)
	v2, err := runner2.RunStep(ctx, "maybe-null", compute)
	require.NoError(t, err)
	require.Nil(t, v2)
	require.Equal(t, 1, calls, "a legitimately cached null must not re-execute compute")
}

func TestStepRunner_ComputeErrorPropagatesWithoutWriting(t *testing.T) {
	runner, kv, doc := newTestStepRunner(t, "exec-1")
	ctx := context.Background()

	boom := errors.New("boom")
	_, err := runner.RunStep(ctx, "failing step", func(ctx context.Context) (any, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	_, ok, err := kv.HashField(ctx, "worchflow:steps:exec-1", StepID("failing step"))
	require.NoError(t, err)
	require.False(t, ok, "a failed compute must not leave a cache entry")

	n, err := doc.CountByFilter(ctx, docstore.CollectionSteps, docstore.Filter{"executionId": "exec-1"})
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestStepRunner_MultipleStepsEachCachedIndependently(t *testing.T) {
	runner, _, doc := newTestStepRunner(t, "exec-1")
	ctx := context.Background()

	_, err := runner.RunStep(ctx, "step one", func(ctx context.Context) (any, error) { return 1, nil })
	require.NoError(t, err)
	_, err = runner.RunStep(ctx, "step two", func(ctx context.Context) (any, error) { return 2, nil })
	require.NoError(t, err)

	n, err := doc.CountByFilter(ctx, docstore.CollectionSteps, docstore.Filter{"executionId": "exec-1"})
	require.NoError(t, err)
	require.Equal(t, 2, n)
}
