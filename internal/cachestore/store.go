// Package cachestore implements the external Cache Store contract (spec
// §6): a keyed hash with TTL, used by the State Store, Presence Store and
// Lock Manager for the "project:{id}:*" key family.
package cachestore

import "context"

// Store is the Cache Store contract. Implementations must support hash
// fields with independent values, whole-hash TTL, scalar keys with TTL,
// and pattern scans, per the key layout:
//
//	project:{id}:state    -- hash: entities, relationships, screens, flows, version, lastUpdatedAt
//	project:{id}:online   -- hash keyed by clientId -> session record
//	project:{id}:cursors  -- hash keyed by clientId -> cursor record, TTL 10s
//	project:{id}:locks    -- hash keyed by entityId -> lock record
type Store interface {
	// HSet sets field f of hash key k to value v.
	HSet(ctx context.Context, key, field, value string) error
	// HGet returns the value of field f of hash key k, or ("", false) if absent.
	HGet(ctx context.Context, key, field string) (string, bool, error)
	// HDel removes field f from hash key k.
	HDel(ctx context.Context, key, field string) error
	// HGetAll returns every field/value pair of hash key k.
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	// Expire sets a TTL (seconds) on an entire key, hash or scalar.
	Expire(ctx context.Context, key string, seconds int) error
	// SetEX sets scalar key k to value v with a TTL in seconds.
	SetEX(ctx context.Context, key, value string, seconds int) error
	// Del removes a key outright.
	Del(ctx context.Context, key string) error
	// Scan returns every key matching a glob-style pattern (e.g. "project:d1:*").
	Scan(ctx context.Context, pattern string) ([]string, error)
}
