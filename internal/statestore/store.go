// Package statestore implements the State Store (C2): a hot, read/write
// through cache of each diagram's current snapshot.
package statestore

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/diagramsync/collabcore/internal/cachestore"
	"github.com/diagramsync/collabcore/internal/diagram"
)

func stateKey(d string) string { return "project:" + d + ":state" }

// Store wraps the Cache Store contract with the "project:{id}:state" hash
// layout from spec §6 (fields entities, relationships, screens, flows,
// version, lastUpdatedAt).
type Store struct {
	cache cachestore.Store
}

// New wraps a cachestore.Store.
func New(cache cachestore.Store) *Store {
	return &Store{cache: cache}
}

// Get returns the hot snapshot for d, or (zero, false) on a cache miss. A
// miss means the caller must consult durable storage and call
// InitFromDurable.
func (s *Store) Get(ctx context.Context, d string) (diagram.Snapshot, bool, error) {
	fields, err := s.cache.HGetAll(ctx, stateKey(d))
	if err != nil {
		return diagram.Snapshot{}, false, err
	}
	if len(fields) == 0 {
		return diagram.Snapshot{}, false, nil
	}
	return decodeSnapshot(fields), true, nil
}

// Put replaces the hot snapshot for d in the cache, one hash field at a
// time; it does not write to durable storage.
func (s *Store) Put(ctx context.Context, d string, snap diagram.Snapshot) error {
	fields := encodeSnapshot(snap)
	for field, value := range fields {
		if err := s.cache.HSet(ctx, stateKey(d), field, value); err != nil {
			return err
		}
	}
	return nil
}

// InitFromDurable seeds the hot cache with snap, but only if no hot state
// already exists for d (spec §4.2: "no-op if hot state already exists").
// This protects against a racing join re-seeding state with a stale
// durable read after another session has already begun mutating it.
func (s *Store) InitFromDurable(ctx context.Context, d string, snap diagram.Snapshot) error {
	_, exists, err := s.Get(ctx, d)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.Put(ctx, d, snap)
}

func encodeSnapshot(snap diagram.Snapshot) map[string]string {
	entities, _ := json.Marshal(snap.Entities)
	rels, _ := json.Marshal(snap.Relationships)
	screens, _ := json.Marshal(snap.Screens)
	flows, _ := json.Marshal(snap.Flows)
	return map[string]string{
		"entities":      string(entities),
		"relationships": string(rels),
		"screens":       string(screens),
		"flows":         string(flows),
		"version":       strconv.Itoa(snap.Version),
		"lastUpdatedAt": strconv.FormatInt(snap.SavedAt, 10),
	}
}

func decodeSnapshot(fields map[string]string) diagram.Snapshot {
	snap := diagram.Empty()
	if v, ok := fields["entities"]; ok {
		json.Unmarshal([]byte(v), &snap.Entities)
	}
	if v, ok := fields["relationships"]; ok {
		json.Unmarshal([]byte(v), &snap.Relationships)
	}
	if v, ok := fields["screens"]; ok {
		json.Unmarshal([]byte(v), &snap.Screens)
	}
	if v, ok := fields["flows"]; ok {
		json.Unmarshal([]byte(v), &snap.Flows)
	}
	if v, ok := fields["version"]; ok {
		snap.Version, _ = strconv.Atoi(v)
	}
	if v, ok := fields["lastUpdatedAt"]; ok {
		snap.SavedAt, _ = strconv.ParseInt(v, 10, 64)
	}
	return snap
}
