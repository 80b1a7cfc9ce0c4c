package workflow

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/caelum-labs/worchflow/internal/docstore"
	"github.com/caelum-labs/worchflow/internal/kvstore"
)

func newTestClient(t *testing.T) (*Client, kvstore.Store, docstore.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	kv, err := kvstore.NewRedisStore(context.Background(), &redis.Options{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	doc := docstore.NewMemory()

	client, err := NewClient(context.Background(), kv, doc, "worchflow", nil)
	require.NoError(t, err)
	return client, kv, doc
}

func TestClient_Submit_WritesBothStoresAndEnqueues(t *testing.T) {
	client, kv, doc := newTestClient(t)
	ctx := context.Background()

	id, err := client.Submit(ctx, SubmitRequest{Name: "counter-event", Data: map[string]any{"count": 5}})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	kvFields, err := kv.HashGetAll(ctx, "worchflow:execution:"+id)
	require.NoError(t, err)
	require.Equal(t, "counter-event", kvFields["eventName"])
	require.Equal(t, "queued", kvFields["status"])
	require.Equal(t, "0", kvFields["attemptCount"])

	docRec, err := doc.FindOneByID(ctx, docstore.CollectionExecutions, id)
	require.NoError(t, err)
	require.NotNil(t, docRec)
	require.Equal(t, "counter-event", docRec["eventName"])

	queued, ok, err := kv.ListPopLeftBlocking(ctx, "worchflow:queue", 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, id, queued)
}

func TestClient_Submit_GeneratesIDWhenAbsent(t *testing.T) {
	client, _, _ := newTestClient(t)
	id1, err := client.Submit(context.Background(), SubmitRequest{Name: "x"})
	require.NoError(t, err)
	id2, err := client.Submit(context.Background(), SubmitRequest{Name: "x"})
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)
}

func TestClient_Submit_UsesCallerSuppliedID(t *testing.T) {
	client, kv, _ := newTestClient(t)
	ctx := context.Background()

	id, err := client.Submit(ctx, SubmitRequest{Name: "x", ID: "custom-id"})
	require.NoError(t, err)
	require.Equal(t, "custom-id", id)

	fields, err := kv.HashGetAll(ctx, "worchflow:execution:custom-id")
	require.NoError(t, err)
	require.Equal(t, "custom-id", fields["id"])
}

func TestClient_ManualRetry_ForcesQueuedFromAnyState(t *testing.T) {
	client, kv, doc := newTestClient(t)
	ctx := context.Background()

	id, err := client.Submit(ctx, SubmitRequest{Name: "x"})
	require.NoError(t, err)

	// Drain the initial enqueue, then simulate a failed execution.
	_, _, _ = kv.ListPopLeftBlocking(ctx, "worchflow:queue", 0)
	require.NoError(t, kv.HashSet(ctx, "worchflow:execution:"+id, map[string]string{
		"status": "failed", "attemptCount": "3", "error": "boom", "errorStack": "trace",
	}))
	require.NoError(t, doc.UpdateOneByID(ctx, docstore.CollectionExecutions, id, docstore.Update{
		Set: map[string]any{"status": "failed", "attemptCount": 3, "error": "boom", "errorStack": "trace"},
	}))

	require.NoError(t, client.ManualRetry(ctx, id))

	fields, err := kv.HashGetAll(ctx, "worchflow:execution:"+id)
	require.NoError(t, err)
	require.Equal(t, "queued", fields["status"])
	require.Equal(t, "0", fields["attemptCount"])
	require.Equal(t, "", fields["error"])

	docRec, err := doc.FindOneByID(ctx, docstore.CollectionExecutions, id)
	require.NoError(t, err)
	require.Equal(t, "queued", docRec["status"])
	_, hasError := docRec["error"]
	require.False(t, hasError)

	queued, ok, err := kv.ListPopLeftBlocking(ctx, "worchflow:queue", 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, id, queued)
}

func TestClient_Submit_MarshalsDataAsJSON(t *testing.T) {
	client, kv, _ := newTestClient(t)
	ctx := context.Background()

	id, err := client.Submit(ctx, SubmitRequest{Name: "x", Data: map[string]any{"a": 1}})
	require.NoError(t, err)

	fields, err := kv.HashGetAll(ctx, "worchflow:execution:"+id)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(fields["eventData"]), &decoded))
	require.Equal(t, float64(1), decoded["a"])
}
