// Package docstore provides the durable, indexed source of truth for
// executions, steps, and cron execution records (spec §4.2). The KV store
// holds hot/queue state; this store is authoritative for history and
// querying.
package docstore

import (
	"context"
	"time"
)

// Collections used by the workflow engine.
const (
	CollectionExecutions     = "executions"
	CollectionSteps          = "steps"
	CollectionCronExecutions = "cron_executions"
)

// Update describes a partial update: Set assigns fields, Unset removes them.
// Both may be used in the same call (e.g. ManualRetry sets status/attemptCount
// while unsetting error/errorStack).
type Update struct {
	Set   map[string]any
	Unset []string
}

// Filter is an equality filter over a collection's fields. Multiple entries
// are ANDed together.
type Filter map[string]any

// Sort names a field and direction for FindByFilterSortLimit.
type Sort struct {
	Field      string
	Descending bool
}

// Store is the document-store adapter contract (spec §4.2). The sole
// implementation is SurrealDB; Memory exists for fast unit tests.
type Store interface {
	// Insert creates a new document in collection, keyed by its "id" field.
	Insert(ctx context.Context, collection string, doc map[string]any) error

	// FindOneByID returns the document whose "id" field matches id, or
	// (nil, nil) if none exists.
	FindOneByID(ctx context.Context, collection, id string) (map[string]any, error)

	// FindByFilterSortLimit returns documents matching filter, ordered by
	// sort, capped at limit (0 means unlimited).
	FindByFilterSortLimit(ctx context.Context, collection string, filter Filter, sort Sort, limit int) ([]map[string]any, error)

	// CountByFilter returns the number of documents matching filter.
	CountByFilter(ctx context.Context, collection string, filter Filter) (int, error)

	// UpdateOneByID applies update to the document whose "id" field matches
	// id. A missing document is not an error (matches SurrealDB UPDATE
	// semantics used throughout the worker's status-transition paths).
	UpdateOneByID(ctx context.Context, collection, id string, update Update) error

	// UpsertByFunctionID inserts or updates a cron_executions document keyed
	// by its "functionId" field.
	UpsertByFunctionID(ctx context.Context, functionID string, doc map[string]any) error

	// EnsureIndexes creates the indexes required by §4.2, idempotently.
	EnsureIndexes(ctx context.Context) error

	// Ping verifies connectivity, used by the startup handshake.
	Ping(ctx context.Context) error

	// Close releases the underlying connection.
	Close(ctx context.Context) error
}

// NowMillis returns the current time as Unix milliseconds, the timestamp
// representation used throughout execution and step records.
func NowMillis(t time.Time) int64 {
	return t.UnixMilli()
}
