package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/diagramsync/collabcore/internal/cachestore"
	"github.com/diagramsync/collabcore/internal/clock"
	"github.com/diagramsync/collabcore/internal/diagram"
	"github.com/diagramsync/collabcore/internal/docstore"
	"github.com/diagramsync/collabcore/internal/gateway/ws"
	"github.com/diagramsync/collabcore/internal/history"
	"github.com/diagramsync/collabcore/internal/lockmgr"
	"github.com/diagramsync/collabcore/internal/persistwriter"
	"github.com/diagramsync/collabcore/internal/pipeline"
	"github.com/diagramsync/collabcore/internal/presence"
	"github.com/diagramsync/collabcore/internal/statestore"
)

// memDocStore is an in-memory docstore.Store double, identical in spirit
// to the one the pipeline package tests with.
type memDocStore struct {
	mu      sync.Mutex
	snaps   map[string]diagram.Snapshot
	entries map[string][]docstore.HistoryEntry
}

func newMemDocStore() *memDocStore {
	return &memDocStore{snaps: make(map[string]diagram.Snapshot), entries: make(map[string][]docstore.HistoryEntry)}
}

func (m *memDocStore) LoadDiagram(_ context.Context, id string) (diagram.Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snaps[id]
	return s, ok, nil
}

func (m *memDocStore) SaveDiagram(_ context.Context, id string, snap diagram.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[id] = snap
	return nil
}

func (m *memDocStore) DeleteDiagram(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snaps, id)
	delete(m.entries, id)
	return nil
}

func (m *memDocStore) AppendHistory(_ context.Context, entry docstore.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.DiagramID] = append(m.entries[entry.DiagramID], entry)
	return nil
}

func (m *memDocStore) RecentHistory(_ context.Context, id string, limit int) ([]docstore.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.entries[id]
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

// wsClient wraps a WebSocket connection with a message channel, mirroring
// the blueprint's server_ws_test.go WSClient but for the {event,data}
// tagged-record wire protocol instead of Discord-style opcodes.
type wsClient struct {
	conn     *websocket.Conn
	messages chan ws.Message
	done     chan struct{}
}

func newWSClient(conn *websocket.Conn) *wsClient {
	c := &wsClient{conn: conn, messages: make(chan ws.Message, 100), done: make(chan struct{})}
	go c.readLoop()
	return c
}

func (c *wsClient) readLoop() {
	defer close(c.done)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg ws.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		select {
		case c.messages <- msg:
		default:
		}
	}
}

func (c *wsClient) WaitForMessage(event string, timeout time.Duration) *ws.Message {
	deadline := time.After(timeout)
	for {
		select {
		case msg := <-c.messages:
			if msg.Event == event {
				return &msg
			}
		case <-deadline:
			return nil
		case <-c.done:
			return nil
		}
	}
}

func (c *wsClient) DrainMessages(timeout time.Duration) int {
	count := 0
	deadline := time.After(timeout)
	for {
		select {
		case <-c.messages:
			count++
		case <-deadline:
			return count
		case <-c.done:
			return count
		}
	}
}

func (c *wsClient) Send(event string, data any) {
	raw, _ := json.Marshal(data)
	payload, _ := json.Marshal(ws.Message{Event: event, Data: raw})
	c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *wsClient) Close() { c.conn.Close() }

type testHarness struct {
	gw    *Gateway
	hub   *ws.Hub
	locks lockmgr.API
	pres  presence.API
	ts    *httptest.Server
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	cache := cachestore.NewMemoryStore()
	state := statestore.New(cache)
	docs := newMemDocStore()
	persist := persistwriter.New(docs, nil)
	hist := history.NewService(docs, nil)
	pres := presence.NewService(cache, nil)
	locks := lockmgr.NewService(cache)
	hub := ws.NewHub(nil)

	gw := New(hub, nil, pres, locks, hist, persist, nil)
	engine := pipeline.New(clock.New(), state, docs, persist, hist, gw, nil)
	gw.SetEngine(engine)

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		gw.Accept(conn)
	})
	ts := httptest.NewServer(mux)

	return &testHarness{gw: gw, hub: hub, locks: locks, pres: pres, ts: ts}
}

func (h *testHarness) connect(t *testing.T) *wsClient {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/ws"
	dialer := websocket.Dialer{}
	conn, _, err := dialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return newWSClient(conn)
}

func (h *testHarness) close() { h.ts.Close() }

// TestSequentialCreateAndLateJoin mirrors scenario 1 of the collaboration
// model: client A joins an empty diagram and creates an entity; client A
// receives no echo of its own op; a later-joining client B receives
// state_sync with the entity already present at version 1.
func TestSequentialCreateAndLateJoin(t *testing.T) {
	h := newTestHarness(t)
	defer h.close()

	a := h.connect(t)
	defer a.Close()

	a.Send(inAuthenticate, authenticatePayload{UserID: "alice", UserName: "Alice"})
	require.NotNil(t, a.WaitForMessage(eventAuthenticated, 2*time.Second))

	a.Send(inJoinProject, joinProjectPayload{DiagramID: "local_d1"})
	sync1 := a.WaitForMessage(eventStateSync, 2*time.Second)
	require.NotNil(t, sync1)

	op := diagram.Operation{
		ID: "op1", Type: diagram.EntityCreate, UserID: "alice", UserName: "Alice",
		Payload: map[string]any{
			"id": "e1", "name": "users", "position": map[string]any{"x": 0, "y": 0},
			"attributes": []any{},
		},
	}
	a.Send(inOperation, op)

	// A must not receive an echo of its own op.
	echo := a.WaitForMessage(eventOperation, 500*time.Millisecond)
	require.Nil(t, echo)

	b := h.connect(t)
	defer b.Close()
	b.Send(inAuthenticate, authenticatePayload{UserID: "bob", UserName: "Bob"})
	require.NotNil(t, b.WaitForMessage(eventAuthenticated, 2*time.Second))
	b.Send(inJoinProject, joinProjectPayload{DiagramID: "local_d1"})

	sync2 := b.WaitForMessage(eventStateSync, 2*time.Second)
	require.NotNil(t, sync2)

	var payload stateSync
	require.NoError(t, json.Unmarshal(sync2.Data, &payload))
	require.Equal(t, 1, payload.State.Version)
	require.Len(t, payload.State.Entities, 1)
	require.Equal(t, "e1", payload.State.Entities[0].ID)
}

// TestDisconnectCleanup mirrors scenario 6: a connected user holding a
// lock disconnects; the remaining session sees user_left and the lock is
// released so it can reacquire it.
func TestDisconnectCleanup(t *testing.T) {
	h := newTestHarness(t)
	defer h.close()

	u1 := h.connect(t)
	u1.Send(inAuthenticate, authenticatePayload{UserID: "u1", UserName: "U1"})
	require.NotNil(t, u1.WaitForMessage(eventAuthenticated, 2*time.Second))
	u1.Send(inJoinProject, joinProjectPayload{DiagramID: "local_d2"})
	require.NotNil(t, u1.WaitForMessage(eventStateSync, 2*time.Second))

	u1.Send(inRequestLock, lockPayload{EntityID: "e1"})
	res := u1.WaitForMessage(eventLockResult, 2*time.Second)
	require.NotNil(t, res)

	u2 := h.connect(t)
	defer u2.Close()
	u2.Send(inAuthenticate, authenticatePayload{UserID: "u2", UserName: "U2"})
	require.NotNil(t, u2.WaitForMessage(eventAuthenticated, 2*time.Second))
	u2.Send(inJoinProject, joinProjectPayload{DiagramID: "local_d2"})
	require.NotNil(t, u2.WaitForMessage(eventStateSync, 2*time.Second))
	u2.DrainMessages(200 * time.Millisecond)

	u1.Close()

	left := u2.WaitForMessage(eventUserLeft, 2*time.Second)
	require.NotNil(t, left)

	// The lock u1 held must have been released; u2 should be able to
	// acquire it now.
	deadline := time.Now().Add(2 * time.Second)
	var ok bool
	for time.Now().Before(deadline) {
		acquired, _, err := h.locks.Acquire(context.Background(), "local_d2", "e1", "u2", "U2")
		require.NoError(t, err)
		if acquired {
			ok = true
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.True(t, ok, "lock was not released on disconnect")
}
