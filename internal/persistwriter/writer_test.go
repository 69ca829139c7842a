package persistwriter

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/diagramsync/collabcore/internal/diagram"
	"github.com/diagramsync/collabcore/internal/docstore"
)

func newTestStore(t *testing.T) *docstore.DuckDBStore {
	t.Helper()
	db, err := sql.Open("duckdb", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := docstore.New(db)
	require.NoError(t, err)
	require.NoError(t, store.Ensure(context.Background()))
	return store
}

func TestFlush_SkipsTransientIDs(t *testing.T) {
	store := newTestStore(t)
	w := New(store, nil)

	err := w.Flush(context.Background(), "local_scratch", &diagram.Snapshot{Version: 1})
	require.NoError(t, err)

	_, ok, _ := store.LoadDiagram(context.Background(), "local_scratch")
	require.False(t, ok)
}

func TestFlush_Immediate(t *testing.T) {
	store := newTestStore(t)
	w := New(store, nil)

	snap := diagram.Empty()
	snap.Version = 7
	require.NoError(t, w.Flush(context.Background(), "proj-1", &snap))

	got, ok, _ := store.LoadDiagram(context.Background(), "proj-1")
	require.True(t, ok)
	require.Equal(t, 7, got.Version)
}

func TestDebounce_FiresAfterDelayAndClearsPending(t *testing.T) {
	store := newTestStore(t)
	w := New(store, nil)
	w.debounceFor = 20 * time.Millisecond

	snap := diagram.Empty()
	snap.Version = 3
	w.Debounce("proj-1", snap)
	require.True(t, w.Pending("proj-1"))

	require.Eventually(t, func() bool {
		_, ok, _ := store.LoadDiagram(context.Background(), "proj-1")
		return ok
	}, time.Second, 5*time.Millisecond)

	require.False(t, w.Pending("proj-1"))
}

func TestDebounce_RapidCallsCoalesceIntoOneFlushOfLatestSnapshot(t *testing.T) {
	store := newTestStore(t)
	w := New(store, nil)
	w.debounceFor = 30 * time.Millisecond

	for v := 1; v <= 5; v++ {
		snap := diagram.Empty()
		snap.Version = v
		w.Debounce("proj-1", snap)
	}

	require.Eventually(t, func() bool {
		got, ok, _ := store.LoadDiagram(context.Background(), "proj-1")
		return ok && got.Version == 5
	}, time.Second, 5*time.Millisecond)
}
