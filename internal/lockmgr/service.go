package lockmgr

import (
	"context"
	"encoding/json"
	"time"

	"github.com/diagramsync/collabcore/internal/cachestore"
)

func locksKey(d string) string { return "project:" + d + ":locks" }

// Service implements API on top of the Cache Store contract.
type Service struct {
	cache cachestore.Store
	now   func() time.Time
}

// NewService wraps a cachestore.Store.
func NewService(cache cachestore.Store) *Service {
	return &Service{cache: cache, now: time.Now}
}

func (s *Service) load(ctx context.Context, d, entityID string) (Lock, bool, error) {
	raw, ok, err := s.cache.HGet(ctx, locksKey(d), entityID)
	if err != nil || !ok {
		return Lock{}, false, err
	}
	var l Lock
	if json.Unmarshal([]byte(raw), &l) != nil {
		return Lock{}, false, nil
	}
	return l, true, nil
}

func (s *Service) store(ctx context.Context, d, entityID string, l Lock) error {
	raw, _ := json.Marshal(l)
	return s.cache.HSet(ctx, locksKey(d), entityID, string(raw))
}

func (s *Service) Acquire(ctx context.Context, d, entityID, userID, userName string) (bool, *Lock, error) {
	existing, ok, err := s.load(ctx, d, entityID)
	if err != nil {
		return false, nil, err
	}
	now := s.now()
	expired := ok && existing.ExpiresAt <= now.UnixMilli()

	if !ok || expired || existing.UserID == userID {
		l := Lock{UserID: userID, UserName: userName, LockedAt: now.UnixMilli(), ExpiresAt: now.Add(TTL * time.Second).UnixMilli()}
		if err := s.store(ctx, d, entityID, l); err != nil {
			return false, nil, err
		}
		return true, nil, nil
	}

	holder := existing
	return false, &holder, nil
}

func (s *Service) Release(ctx context.Context, d, entityID, userID string) (bool, error) {
	existing, ok, err := s.load(ctx, d, entityID)
	if err != nil {
		return false, err
	}
	if !ok || existing.UserID != userID {
		return false, nil
	}
	return true, s.cache.HDel(ctx, locksKey(d), entityID)
}

func (s *Service) Renew(ctx context.Context, d, entityID, userID string) (bool, error) {
	existing, ok, err := s.load(ctx, d, entityID)
	if err != nil {
		return false, err
	}
	if !ok || existing.UserID != userID {
		return false, nil
	}
	existing.ExpiresAt = s.now().Add(TTL * time.Second).UnixMilli()
	return true, s.store(ctx, d, entityID, existing)
}

func (s *Service) All(ctx context.Context, d string) (map[string]Lock, error) {
	raw, err := s.cache.HGetAll(ctx, locksKey(d))
	if err != nil {
		return nil, err
	}
	now := s.now().UnixMilli()
	out := make(map[string]Lock, len(raw))
	for entityID, v := range raw {
		var l Lock
		if json.Unmarshal([]byte(v), &l) != nil {
			continue
		}
		if l.ExpiresAt <= now {
			_ = s.cache.HDel(ctx, locksKey(d), entityID) // lazy reap
			continue
		}
		out[entityID] = l
	}
	return out, nil
}

func (s *Service) ReleaseAllByUser(ctx context.Context, d, userID string) ([]string, error) {
	raw, err := s.cache.HGetAll(ctx, locksKey(d))
	if err != nil {
		return nil, err
	}
	var released []string
	for entityID, v := range raw {
		var l Lock
		if json.Unmarshal([]byte(v), &l) != nil {
			continue
		}
		if l.UserID == userID {
			if err := s.cache.HDel(ctx, locksKey(d), entityID); err != nil {
				return released, err
			}
			released = append(released, entityID)
		}
	}
	return released, nil
}

func (s *Service) ClearAll(ctx context.Context, d string) error {
	return s.cache.Del(ctx, locksKey(d))
}
