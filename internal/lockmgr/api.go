// Package lockmgr implements the Lock Manager (C4): advisory per-element
// locks with a 30s TTL. Locks are advisory only — the Apply Engine never
// consults them; they exist so UIs can suppress conflicting edits, while
// Last-Writer-Wins on the Lamport clock remains the actual conflict
// policy.
package lockmgr

import "context"

// Lock is keyed by (diagramId, entityId) (spec §3 "Lock record").
type Lock struct {
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	LockedAt  int64  `json:"lockedAt"`
	ExpiresAt int64  `json:"expiresAt"`
}

// API is the Lock Manager's public surface (spec §4.4).
type API interface {
	// Acquire succeeds if there is no record, the record expired, or the
	// record's userId already equals the requester's; on success it
	// rewrites expiresAt to now+30s. On failure it returns the current holder.
	Acquire(ctx context.Context, d, entityID, userID, userName string) (ok bool, holder *Lock, err error)
	// Release succeeds only if the recorded userId matches.
	Release(ctx context.Context, d, entityID, userID string) (ok bool, err error)
	// Renew is the same check as Release but extends expiresAt to now+30s.
	Renew(ctx context.Context, d, entityID, userID string) (ok bool, err error)
	// All returns every non-expired lock for d, lazily reaping expired ones.
	All(ctx context.Context, d string) (map[string]Lock, error)
	// ReleaseAllByUser releases every lock userID holds in d (session disconnect).
	ReleaseAllByUser(ctx context.Context, d, userID string) ([]string, error)
	// ClearAll wipes every lock for d (diagram deletion).
	ClearAll(ctx context.Context, d string) error
}

// TTL is the lock lifetime from acquisition or renewal.
const TTL = 30
