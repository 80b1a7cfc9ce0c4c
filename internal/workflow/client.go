package workflow

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/caelum-labs/worchflow/internal/docstore"
	"github.com/caelum-labs/worchflow/internal/kvstore"
	"github.com/caelum-labs/worchflow/internal/logging"
)

// SubmitRequest is the caller-facing shape of Submit's argument (spec §6's
// submission contract).
type SubmitRequest struct {
	Name      string
	Data      any
	ID        string // optional; generated if empty
	Timestamp int64  // optional; defaults to now
}

// Client is the public entry point for submitting events and forcing
// retries (C5). It writes the execution to both stores before returning.
type Client struct {
	kv     kvstore.Store
	doc    docstore.Store
	prefix string
	logger *logging.Logger

	mu    sync.Mutex
	ready bool
}

// NewClient performs the startup handshake (ping both stores) and returns a
// ready Client. A Client that fails its handshake is not returned; Submit
// and ManualRetry on a Client constructed this way never see KindNotReady.
func NewClient(ctx context.Context, kv kvstore.Store, doc docstore.Store, queuePrefix string, logger *logging.Logger) (*Client, error) {
	if err := kv.Ping(ctx); err != nil {
		return nil, newError(KindStoreFailure, "kv store handshake failed", err)
	}
	if err := doc.Ping(ctx); err != nil {
		return nil, newError(KindStoreFailure, "doc store handshake failed", err)
	}
	return &Client{kv: kv, doc: doc, prefix: queuePrefix, logger: logger, ready: true}, nil
}

func (c *Client) queueKey() string {
	return c.prefix + ":queue"
}

func (c *Client) executionKey(id string) string {
	return c.prefix + ":execution:" + id
}

// Submit writes a new execution record to both stores in parallel, then
// enqueues its id. Returns the execution id (generated if req.ID is empty).
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	c.mu.Lock()
	ready := c.ready
	c.mu.Unlock()
	if !ready {
		return "", newError(KindNotReady, "client submit attempted before handshake completed", nil)
	}

	id := req.ID
	if id == "" {
		id = generateID()
	}

	eventData, err := json.Marshal(req.Data)
	if err != nil {
		return "", newError(KindMalformedPayload, "marshal event data", err)
	}

	now := time.Now().UnixMilli()
	createdAt := now
	if req.Timestamp != 0 {
		createdAt = req.Timestamp
	}

	exec := &Execution{
		ID:           id,
		EventName:    req.Name,
		EventData:    eventData,
		Status:       StatusQueued,
		AttemptCount: 0,
		CreatedAt:    createdAt,
		UpdatedAt:    now,
	}

	kvFields, err := exec.ToKVFields()
	if err != nil {
		return "", newError(KindStoreFailure, "encode execution for kv store", err)
	}

	var kvErr, docErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		kvErr = c.kv.HashSet(ctx, c.executionKey(id), kvFields)
	}()
	go func() {
		defer wg.Done()
		docErr = c.doc.Insert(ctx, docstore.CollectionExecutions, exec.ToDocFields())
	}()
	wg.Wait()

	if kvErr != nil {
		return "", newError(KindStoreFailure, "write execution to kv store", kvErr)
	}
	if docErr != nil {
		return "", newError(KindStoreFailure, "write execution to doc store", docErr)
	}

	if err := c.kv.ListPushRight(ctx, c.queueKey(), id); err != nil {
		return "", newError(KindStoreFailure, "enqueue execution id", err)
	}

	return id, nil
}

// ExecutionKVFields returns the raw hash fields stored at an execution's KV
// key, used by the dashboard's execution-detail view to show the hot-path
// copy alongside the doc store's durable record.
func (c *Client) ExecutionKVFields(ctx context.Context, id string) (map[string]string, error) {
	fields, err := c.kv.HashGetAll(ctx, c.executionKey(id))
	if err != nil {
		return nil, newError(KindStoreFailure, "load execution kv fields", err)
	}
	return fields, nil
}

// ManualRetry forces execution id back to queued regardless of its current
// state, clearing attemptCount and error fields, then re-enqueues it.
func (c *Client) ManualRetry(ctx context.Context, id string) error {
	now := time.Now().UnixMilli()

	kvFields := map[string]string{
		"status":       string(StatusQueued),
		"attemptCount": "0",
		"updatedAt":    fmt.Sprintf("%d", now),
		"error":        "",
		"errorStack":   "",
	}
	if err := c.kv.HashSet(ctx, c.executionKey(id), kvFields); err != nil {
		return newError(KindStoreFailure, "manual retry kv update", err)
	}

	update := docstore.Update{
		Set: map[string]any{
			"status":       string(StatusQueued),
			"attemptCount": 0,
			"updatedAt":    now,
		},
		Unset: []string{"error", "errorStack"},
	}
	if err := c.doc.UpdateOneByID(ctx, docstore.CollectionExecutions, id, update); err != nil {
		return newError(KindStoreFailure, "manual retry doc update", err)
	}

	if err := c.kv.ListPushRight(ctx, c.queueKey(), id); err != nil {
		return newError(KindStoreFailure, "manual retry enqueue", err)
	}
	return nil
}

// generateID returns the 16 bytes of a random (version 4) UUID, hex-encoded
// without dashes. uuid.New reads from crypto/rand; 122 of the 128 bits are
// random, and the 6 version and variant bits are fixed.
func generateID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}
