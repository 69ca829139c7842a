package presence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/diagramsync/collabcore/internal/cachestore"
)

func newTestService(fakeNow *time.Time) *Service {
	s := NewService(cachestore.NewMemoryStore(), nil)
	s.now = func() time.Time { return *fakeNow }
	return s
}

func TestJoinAndSessions(t *testing.T) {
	now := time.Now()
	s := newTestService(&now)
	ctx := context.Background()

	sessions, err := s.Join(ctx, "d1", "c1", "u1", "Alice", "")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, "u1", sessions[0].UserID)

	sessions, err = s.Join(ctx, "d1", "c2", "u2", "Bob", "")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
}

func TestLeave_DropsSessionAndCursor(t *testing.T) {
	now := time.Now()
	s := newTestService(&now)
	ctx := context.Background()

	s.Join(ctx, "d1", "c1", "u1", "Alice", "")
	s.UpdateCursor(ctx, "d1", "u1", "c1", 1, 2, nil)

	sessions, err := s.Leave(ctx, "d1", "c1")
	require.NoError(t, err)
	require.Empty(t, sessions)

	cursors, _ := s.Cursors(ctx, "d1")
	require.Empty(t, cursors, "cursor must be explicitly dropped on leave, not left to TTL")
}

func TestSessions_SelfCleansStaleEntries(t *testing.T) {
	now := time.Now()
	s := newTestService(&now)
	ctx := context.Background()

	s.Join(ctx, "d1", "c1", "u1", "Alice", "")
	now = now.Add(31 * time.Second)

	sessions, err := s.Sessions(ctx, "d1")
	require.NoError(t, err)
	require.Empty(t, sessions)
}

func TestUpdateCursor_BumpsSessionLastActive(t *testing.T) {
	now := time.Now()
	s := newTestService(&now)
	ctx := context.Background()

	s.Join(ctx, "d1", "c1", "u1", "Alice", "")
	now = now.Add(20 * time.Second)
	s.UpdateCursor(ctx, "d1", "u1", "c1", 5, 5, nil)
	now = now.Add(20 * time.Second) // 40s since join, 20s since cursor update

	sessions, err := s.Sessions(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, sessions, 1, "lastActive bump from cursor update should keep session alive")
}

func TestCursors_ExpireAfter15Seconds(t *testing.T) {
	now := time.Now()
	s := newTestService(&now)
	ctx := context.Background()

	s.UpdateCursor(ctx, "d1", "u1", "c1", 1, 1, nil)
	now = now.Add(16 * time.Second)

	cursors, err := s.Cursors(ctx, "d1")
	require.NoError(t, err)
	require.Empty(t, cursors)
}

func TestClearUser_RemovesAllOfThatUsersSessions(t *testing.T) {
	now := time.Now()
	s := newTestService(&now)
	ctx := context.Background()

	s.Join(ctx, "d1", "c1", "u1", "Alice", "")
	s.Join(ctx, "d1", "c2", "u1", "Alice", "")
	s.Join(ctx, "d1", "c3", "u2", "Bob", "")

	require.NoError(t, s.ClearUser(ctx, "d1", "u1"))

	sessions, _ := s.Sessions(ctx, "d1")
	require.Len(t, sessions, 1)
	require.Equal(t, "u2", sessions[0].UserID)
}

func TestClearAll_WipesEveryProjectKey(t *testing.T) {
	now := time.Now()
	s := newTestService(&now)
	ctx := context.Background()

	s.Join(ctx, "d1", "c1", "u1", "Alice", "")
	s.UpdateCursor(ctx, "d1", "u1", "c1", 1, 1, nil)

	require.NoError(t, s.ClearAll(ctx, "d1"))

	sessions, _ := s.Sessions(ctx, "d1")
	cursors, _ := s.Cursors(ctx, "d1")
	require.Empty(t, sessions)
	require.Empty(t, cursors)
}
