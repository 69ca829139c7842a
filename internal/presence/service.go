package presence

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/diagramsync/collabcore/internal/cachestore"
)

const (
	sessionStaleAfter = 30 * time.Second
	cursorTTL         = 10 * time.Second
	cursorStaleAfter  = 15 * time.Second
)

func onlineKey(d string) string  { return "project:" + d + ":online" }
func cursorsKey(d string) string { return "project:" + d + ":cursors" }

// Service implements API on top of the Cache Store contract.
type Service struct {
	cache cachestore.Store
	log   *slog.Logger
	now   func() time.Time
}

// NewService wraps a cachestore.Store.
func NewService(cache cachestore.Store, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{cache: cache, log: log, now: time.Now}
}

func (s *Service) Join(ctx context.Context, d, clientID, userID, userName, userPicture string) ([]Session, error) {
	now := s.now().UnixMilli()
	sess := Session{
		UserID: userID, ClientID: clientID, UserName: userName, UserPicture: userPicture,
		JoinedAt: now, LastActive: now,
	}
	raw, _ := json.Marshal(sess)
	if err := s.cache.HSet(ctx, onlineKey(d), clientID, string(raw)); err != nil {
		return nil, err
	}
	return s.Sessions(ctx, d)
}

func (s *Service) Leave(ctx context.Context, d, clientID string) ([]Session, error) {
	if err := s.cache.HDel(ctx, onlineKey(d), clientID); err != nil {
		return nil, err
	}
	// Spec §9 open question resolution: explicitly drop the leaving
	// client's cursor rather than waiting on TTL.
	if err := s.cache.HDel(ctx, cursorsKey(d), clientID); err != nil {
		s.log.Warn("presence: failed to drop cursor on leave", slog.String("diagram", d), slog.String("clientId", clientID), slog.Any("error", err))
	}
	return s.Sessions(ctx, d)
}

func (s *Service) Sessions(ctx context.Context, d string) ([]Session, error) {
	raw, err := s.cache.HGetAll(ctx, onlineKey(d))
	if err != nil {
		return nil, err
	}
	cutoff := s.now().Add(-sessionStaleAfter).UnixMilli()
	out := make([]Session, 0, len(raw))
	for clientID, v := range raw {
		var sess Session
		if json.Unmarshal([]byte(v), &sess) != nil {
			continue
		}
		if sess.LastActive < cutoff {
			// self-cleaning: drop stale sessions as we read them.
			_ = s.cache.HDel(ctx, onlineKey(d), clientID)
			continue
		}
		out = append(out, sess)
	}
	return out, nil
}

func (s *Service) UpdateCursor(ctx context.Context, d, userID, clientID string, x, y float64, vp *Viewport) error {
	now := s.now()
	cur := Cursor{UserID: userID, ClientID: clientID, X: x, Y: y, Viewport: vp, LastUpdated: now.UnixMilli()}
	raw, _ := json.Marshal(cur)
	if err := s.cache.HSet(ctx, cursorsKey(d), clientID, string(raw)); err != nil {
		return err
	}
	if err := s.cache.Expire(ctx, cursorsKey(d), int(cursorTTL.Seconds())); err != nil {
		return err
	}

	// bump the owning session's lastActive
	sessions, err := s.cache.HGet(ctx, onlineKey(d), clientID)
	if err != nil {
		return err
	}
	if sessions != "" {
		var sess Session
		if json.Unmarshal([]byte(sessions), &sess) == nil {
			sess.LastActive = now.UnixMilli()
			raw, _ := json.Marshal(sess)
			return s.cache.HSet(ctx, onlineKey(d), clientID, string(raw))
		}
	}
	return nil
}

func (s *Service) Cursors(ctx context.Context, d string) ([]Cursor, error) {
	raw, err := s.cache.HGetAll(ctx, cursorsKey(d))
	if err != nil {
		return nil, err
	}
	cutoff := s.now().Add(-cursorStaleAfter).UnixMilli()
	out := make([]Cursor, 0, len(raw))
	for _, v := range raw {
		var cur Cursor
		if json.Unmarshal([]byte(v), &cur) != nil {
			continue
		}
		if cur.LastUpdated < cutoff {
			continue
		}
		out = append(out, cur)
	}
	return out, nil
}

func (s *Service) ClearUser(ctx context.Context, d, userID string) error {
	sessions, err := s.cache.HGetAll(ctx, onlineKey(d))
	if err != nil {
		return err
	}
	for clientID, v := range sessions {
		var sess Session
		if json.Unmarshal([]byte(v), &sess) == nil && sess.UserID == userID {
			if err := s.cache.HDel(ctx, onlineKey(d), clientID); err != nil {
				return err
			}
			_ = s.cache.HDel(ctx, cursorsKey(d), clientID)
		}
	}
	return nil
}

// ClearAll wipes every cache key belonging to diagram d via a pattern
// scan, per spec §4.3 (used on diagram deletion alongside Lock Manager
// and State Store cleanup, since all three share the "project:{d}:*"
// namespace).
func (s *Service) ClearAll(ctx context.Context, d string) error {
	keys, err := s.cache.Scan(ctx, "project:"+d+":*")
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := s.cache.Del(ctx, k); err != nil {
			return err
		}
	}
	return nil
}
