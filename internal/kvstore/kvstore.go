// Package kvstore provides the hash/list/TTL key-value primitives the
// workflow engine uses for its queue, hot execution metadata, step cache,
// and leader-election key. The sole implementation is Redis-backed; the
// interface exists so callers depend on behavior, not on go-redis directly.
package kvstore

import (
	"context"
	"time"
)

// Store is the KV/queue adapter contract (spec §4.1).
//
// HashSet/HashGetAll/HashField model a per-id record as a Redis hash with
// string fields only — numeric/enum values are stringified by the caller
// (see workflow.Execution's dual representation).
//
// ListPushRight/ListPopLeftBlocking model the FIFO queue. ListPopLeftBlocking
// is the system's linearization point: the underlying driver guarantees each
// pushed value is popped by exactly one blocking caller, even across
// processes.
//
// SetIfAbsentWithTTL/ExtendTTL/RemainingTTL/Delete back leader election.
type Store interface {
	// HashSet writes each field (last-writer-wins per field).
	HashSet(ctx context.Context, key string, fields map[string]string) error

	// HashGetAll returns all fields, or an empty map if key is absent.
	HashGetAll(ctx context.Context, key string) (map[string]string, error)

	// HashField returns a single field's value. ok is false if the key or
	// field is absent.
	HashField(ctx context.Context, key, field string) (value string, ok bool, err error)

	// ListPushRight appends value to the right of list (FIFO append).
	ListPushRight(ctx context.Context, list, value string) error

	// ListPopLeftBlocking pops the left-most value, blocking up to timeout.
	// ok is false on timeout (not an error).
	ListPopLeftBlocking(ctx context.Context, list string, timeout time.Duration) (value string, ok bool, err error)

	// SetIfAbsentWithTTL atomically sets key=value with the given TTL only
	// if key does not already exist. Returns true if the set happened.
	SetIfAbsentWithTTL(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// ExtendTTL resets key's TTL to ttl.
	ExtendTTL(ctx context.Context, key string, ttl time.Duration) error

	// RemainingTTL returns the key's remaining TTL. Zero means the key is
	// absent or has no TTL.
	RemainingTTL(ctx context.Context, key string) (time.Duration, error)

	// Delete removes key.
	Delete(ctx context.Context, key string) error

	// Ping verifies connectivity, used by startup handshakes.
	Ping(ctx context.Context) error

	// Duplicate returns an independent connection sharing this Store's
	// configuration. Blocking pops monopolize a connection, so each
	// worker-pool dequeue loop pops on its own duplicate, and each
	// execution's step runner gets another. The scheduler uses the shared
	// Store.
	Duplicate() Store

	// Close releases the underlying connection.
	Close() error
}
