package lockmgr

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/diagramsync/collabcore/internal/cachestore"
)

func newTestService(fakeNow *time.Time) *Service {
	s := NewService(cachestore.NewMemoryStore())
	s.now = func() time.Time { return *fakeNow }
	return s
}

// Scenario 4 from the spec's end-to-end list: acquire, steal attempt,
// expiry, retry.
func TestAcquire_StealAndExpiry(t *testing.T) {
	now := time.Now()
	s := newTestService(&now)
	ctx := context.Background()

	ok, holder, err := s.Acquire(ctx, "d1", "e1", "u1", "Alice")
	require.NoError(t, err)
	require.True(t, ok)
	require.Nil(t, holder)

	// U2 tries within the 30s window.
	now = now.Add(5 * time.Second)
	ok, holder, err = s.Acquire(ctx, "d1", "e1", "u2", "Bob")
	require.NoError(t, err)
	require.False(t, ok)
	require.NotNil(t, holder)
	require.Equal(t, "u1", holder.UserID)

	// 30s pass with no renewal; U2 retries and succeeds.
	now = now.Add(26 * time.Second) // total 31s since acquire
	ok, holder, err = s.Acquire(ctx, "d1", "e1", "u2", "Bob")
	require.NoError(t, err)
	require.True(t, ok)
	require.Nil(t, holder)
}

func TestAcquire_SameUserReacquires(t *testing.T) {
	now := time.Now()
	s := newTestService(&now)
	ctx := context.Background()

	s.Acquire(ctx, "d1", "e1", "u1", "Alice")
	ok, _, err := s.Acquire(ctx, "d1", "e1", "u1", "Alice")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRelease_OnlyHolderCanRelease(t *testing.T) {
	now := time.Now()
	s := newTestService(&now)
	ctx := context.Background()

	s.Acquire(ctx, "d1", "e1", "u1", "Alice")

	ok, err := s.Release(ctx, "d1", "e1", "u2")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = s.Release(ctx, "d1", "e1", "u1")
	require.NoError(t, err)
	require.True(t, ok)

	locks, _ := s.All(ctx, "d1")
	require.Empty(t, locks)
}

func TestRenew_ExtendsExpiry(t *testing.T) {
	now := time.Now()
	s := newTestService(&now)
	ctx := context.Background()

	s.Acquire(ctx, "d1", "e1", "u1", "Alice")
	now = now.Add(25 * time.Second)

	ok, err := s.Renew(ctx, "d1", "e1", "u1")
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(10 * time.Second) // total 35s since original acquire, 10s since renew
	_, holder, _ := s.Acquire(ctx, "d1", "e1", "u2", "Bob")
	require.NotNil(t, holder, "renewed lock should still be held")
}

func TestReleaseAllByUser(t *testing.T) {
	now := time.Now()
	s := newTestService(&now)
	ctx := context.Background()

	s.Acquire(ctx, "d1", "e1", "u1", "Alice")
	s.Acquire(ctx, "d1", "e2", "u1", "Alice")
	s.Acquire(ctx, "d1", "e3", "u2", "Bob")

	released, err := s.ReleaseAllByUser(ctx, "d1", "u1")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"e1", "e2"}, released)

	locks, _ := s.All(ctx, "d1")
	require.Len(t, locks, 1)
	require.Contains(t, locks, "e3")
}

func TestAll_LazilyReapsExpired(t *testing.T) {
	now := time.Now()
	s := newTestService(&now)
	ctx := context.Background()

	s.Acquire(ctx, "d1", "e1", "u1", "Alice")
	now = now.Add(31 * time.Second)

	locks, err := s.All(ctx, "d1")
	require.NoError(t, err)
	require.Empty(t, locks)
}
