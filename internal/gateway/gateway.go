// Package gateway implements the Session Gateway (C9): the per-client
// message boundary between the WebSocket transport and the rest of the
// core (spec §4.9). It owns connection identity, diagram room membership,
// and translates inbound wire events into calls against the Operation
// Pipeline, Presence Store and Lock Manager, fanning their results back
// out over the transport.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/diagramsync/collabcore/internal/diagram"
	"github.com/diagramsync/collabcore/internal/gateway/ws"
	"github.com/diagramsync/collabcore/internal/history"
	"github.com/diagramsync/collabcore/internal/lockmgr"
	"github.com/diagramsync/collabcore/internal/persistwriter"
	"github.com/diagramsync/collabcore/internal/pipeline"
	"github.com/diagramsync/collabcore/internal/presence"
)

// shutdownGrace is how long an emptied diagram room waits before its
// pipeline worker is torn down, absorbing a client's brief reconnect or a
// last straggler's close handshake (spec §3 lifecycle: "evicted... after a
// grace period").
const shutdownGrace = 30 * time.Second

// clientState is the per-connection identity and room membership the
// transport layer itself does not track (ws.Conn only knows its room, not
// who the user behind it is).
type clientState struct {
	mu          sync.Mutex
	userID      string
	userName    string
	userPicture string
	diagramID   string
	authed      bool
}

func (s *clientState) snapshot() (userID, userName, userPicture, diagramID string, authed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID, s.userName, s.userPicture, s.diagramID, s.authed
}

// Gateway wires the transport to the pipeline, presence and lock services
// (spec §4.9). It implements ws.Handler for inbound messages and
// pipeline.Broadcaster for the pipeline's fan-out.
type Gateway struct {
	hub      *ws.Hub
	engine   *pipeline.Engine
	presence presence.API
	locks    lockmgr.API
	hist     history.API
	persist  *persistwriter.Writer
	log      *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	clients map[string]*clientState
	timers  map[string]*time.Timer // diagramID -> pending Shutdown timer
}

// New wires a Gateway from its dependencies. engine may be nil at
// construction time when the Gateway itself is the pipeline's Broadcaster
// (a construction cycle): call SetEngine once the Engine exists.
func New(hub *ws.Hub, engine *pipeline.Engine, pres presence.API, locks lockmgr.API, hist history.API, persist *persistwriter.Writer, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{
		hub:      hub,
		engine:   engine,
		presence: pres,
		locks:    locks,
		hist:     hist,
		persist:  persist,
		log:      log,
		now:      time.Now,
		clients:  make(map[string]*clientState),
		timers:   make(map[string]*time.Timer),
	}
}

// Accept registers a newly-upgraded socket, assigns it a server-side
// clientId (spec §4.9: "clientId assigned server-side"), and starts its
// read/write pumps.
func (g *Gateway) Accept(conn *websocket.Conn) *ws.Conn {
	clientID := uuid.NewString()
	c := ws.NewConn(g.hub, conn, clientID, g.log)

	g.mu.Lock()
	g.clients[clientID] = &clientState{}
	g.mu.Unlock()

	g.hub.Register(c)
	c.Start(g)
	return c
}

// SetEngine wires the Operation Pipeline after construction, resolving
// the Gateway/Engine construction cycle (the Gateway is the Engine's
// Broadcaster; the Engine is the Gateway's pipeline).
func (g *Gateway) SetEngine(engine *pipeline.Engine) {
	g.engine = engine
}

func (g *Gateway) stateFor(clientID string) *clientState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.clients[clientID]
}

// HandleMessage dispatches one inbound frame (spec §4.9 table).
func (g *Gateway) HandleMessage(c *ws.Conn, msg ws.Message) {
	st := g.stateFor(c.ID)
	if st == nil {
		return
	}

	switch msg.Event {
	case inAuthenticate:
		g.handleAuthenticate(c, st, msg.Data)
	case inJoinProject:
		g.handleJoinProject(c, st, msg.Data)
	case inOperation:
		g.handleOperation(c, st, msg.Data)
	case inCursorMove:
		g.handleCursorMove(c, st, msg.Data)
	case inRequestLock:
		g.handleRequestLock(c, st, msg.Data)
	case inReleaseLock:
		g.handleReleaseLock(c, st, msg.Data)
	default:
		g.log.Warn("gateway: unknown event", slog.String("event", msg.Event), slog.String("clientId", c.ID))
	}
}

// HandleClose implements the disconnect flow (spec §4.9 "disconnect",
// §8 scenario 6): flush any pending persistence, drop presence, release
// every lock the user held, and tell the rest of the room they left.
func (g *Gateway) HandleClose(c *ws.Conn) {
	st := g.stateFor(c.ID)
	g.mu.Lock()
	delete(g.clients, c.ID)
	g.mu.Unlock()
	if st == nil {
		return
	}

	userID, _, _, d, _ := st.snapshot()
	if d == "" {
		return
	}
	ctx := context.Background()

	if err := g.persist.Flush(ctx, d, nil); err != nil {
		g.log.Warn("gateway: flush on disconnect failed", slog.String("diagram", d), slog.Any("error", err))
	}

	if _, err := g.presence.Leave(ctx, d, c.ID); err != nil {
		g.log.Warn("gateway: presence leave failed", slog.String("diagram", d), slog.Any("error", err))
	}

	if userID != "" {
		if _, err := g.locks.ReleaseAllByUser(ctx, d, userID); err != nil {
			g.log.Warn("gateway: release locks on disconnect failed", slog.String("diagram", d), slog.Any("error", err))
		}
	}

	g.hub.BroadcastExcept(d, c.ID, eventUserLeft, map[string]any{"clientId": c.ID, "userId": userID})
	g.scheduleShutdownIfEmpty(d)
}

func (g *Gateway) handleAuthenticate(c *ws.Conn, st *clientState, raw json.RawMessage) {
	var p authenticatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		g.log.Warn("gateway: bad authenticate payload", slog.String("clientId", c.ID), slog.Any("error", err))
		return
	}

	st.mu.Lock()
	st.userID = p.UserID
	st.userName = p.UserName
	st.userPicture = p.UserPicture
	st.authed = true
	d := st.diagramID
	st.mu.Unlock()

	if d != "" {
		// Already in a room: re-authenticating under a new identity refreshes
		// the presence record under the same clientId (spec §4.9 authenticate).
		ctx := context.Background()
		if _, err := g.presence.Join(ctx, d, c.ID, p.UserID, p.UserName, p.UserPicture); err != nil {
			g.log.Warn("gateway: presence refresh failed", slog.String("diagram", d), slog.Any("error", err))
		} else {
			g.hub.BroadcastExcept(d, c.ID, eventUserJoined, map[string]any{
				"clientId": c.ID, "userId": p.UserID, "userName": p.UserName, "userPicture": p.UserPicture,
			})
		}
	}

	g.hub.SendTo(c.ID, eventAuthenticated, map[string]any{"success": true})
}

// stateSync is the reply to join_project (spec §4.9: "state_sync{state,
// onlineUsers, locks, history(≤100)}").
type stateSync struct {
	State       diagram.Snapshot        `json:"state"`
	OnlineUsers []presence.Session      `json:"onlineUsers"`
	Locks       map[string]lockmgr.Lock `json:"locks"`
	History     []history.Entry        `json:"history"`
	Warning     string                  `json:"warning,omitempty"`
}

func (g *Gateway) handleJoinProject(c *ws.Conn, st *clientState, raw json.RawMessage) {
	var p joinProjectPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.DiagramID == "" {
		g.log.Warn("gateway: bad join_project payload", slog.String("clientId", c.ID))
		return
	}
	ctx := context.Background()

	if prev := c.DiagramID(); prev != "" && prev != p.DiagramID {
		g.leaveRoom(ctx, c, st, prev)
	}

	g.hub.Join(c, p.DiagramID)
	st.mu.Lock()
	st.diagramID = p.DiagramID
	userID, userName, userPicture := st.userID, st.userName, st.userPicture
	st.mu.Unlock()

	g.cancelShutdown(p.DiagramID)

	sessions, err := g.presence.Join(ctx, p.DiagramID, c.ID, userID, userName, userPicture)
	if err != nil {
		g.log.Warn("gateway: presence join failed", slog.String("diagram", p.DiagramID), slog.Any("error", err))
	}

	snap, warning, err := g.engine.Load(ctx, p.DiagramID)
	if err != nil {
		g.log.Error("gateway: load failed", slog.String("diagram", p.DiagramID), slog.Any("error", err))
	}

	locks, err := g.locks.All(ctx, p.DiagramID)
	if err != nil {
		g.log.Warn("gateway: locks read failed", slog.String("diagram", p.DiagramID), slog.Any("error", err))
		locks = map[string]lockmgr.Lock{}
	}

	recent, err := g.hist.Recent(ctx, p.DiagramID, history.MaxRecent)
	if err != nil {
		g.log.Warn("gateway: history read failed", slog.String("diagram", p.DiagramID), slog.Any("error", err))
		recent = nil
	}

	g.hub.SendTo(c.ID, eventStateSync, stateSync{
		State:       snap,
		OnlineUsers: sessions,
		Locks:       locks,
		History:     recent,
		Warning:     warning,
	})

	g.hub.BroadcastExcept(p.DiagramID, c.ID, eventUserJoined, map[string]any{
		"clientId": c.ID, "userId": userID, "userName": userName, "userPicture": userPicture,
	})
}

// leaveRoom removes the connection from a previously-joined diagram
// without closing the socket (a client may switch diagrams mid-session).
func (g *Gateway) leaveRoom(ctx context.Context, c *ws.Conn, st *clientState, d string) {
	userID, _, _, _, _ := st.snapshot()
	g.hub.Leave(c)
	if _, err := g.presence.Leave(ctx, d, c.ID); err != nil {
		g.log.Warn("gateway: presence leave on room switch failed", slog.String("diagram", d), slog.Any("error", err))
	}
	if userID != "" {
		if _, err := g.locks.ReleaseAllByUser(ctx, d, userID); err != nil {
			g.log.Warn("gateway: release locks on room switch failed", slog.String("diagram", d), slog.Any("error", err))
		}
	}
	g.hub.BroadcastExcept(d, c.ID, eventUserLeft, map[string]any{"clientId": c.ID, "userId": userID})
	g.scheduleShutdownIfEmpty(d)
}

// handleOperation validates and submits an inbound edit (spec §4.6, §7
// InvalidOperation). A failed validation is logged, dropped, and answered
// with op_rejected -- never broadcast.
func (g *Gateway) handleOperation(c *ws.Conn, st *clientState, raw json.RawMessage) {
	var op diagram.Operation
	if err := json.Unmarshal(raw, &op); err != nil {
		g.log.Warn("gateway: malformed operation", slog.String("clientId", c.ID), slog.Any("error", err))
		g.hub.SendTo(c.ID, eventOpRejected, map[string]any{"opId": "", "reason": "malformed"})
		return
	}

	_, userName, _, d, _ := st.snapshot()
	if d == "" {
		return
	}
	if op.UserName == "" {
		op.UserName = userName
	}

	if ok, reason := validateOperation(op); !ok {
		g.log.Warn("gateway: invalid operation", slog.String("clientId", c.ID), slog.String("type", string(op.Type)), slog.String("reason", reason))
		g.Reject(d, c.ID, op.ID, reason)
		return
	}

	g.engine.Submit(d, c.ID, op)
}

func (g *Gateway) handleCursorMove(c *ws.Conn, st *clientState, raw json.RawMessage) {
	var p cursorMovePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return
	}
	userID, userName, userPicture, d, _ := st.snapshot()
	if d == "" {
		return
	}
	ctx := context.Background()
	if err := g.presence.UpdateCursor(ctx, d, userID, c.ID, p.X, p.Y, p.Viewport); err != nil {
		g.log.Warn("gateway: cursor update failed", slog.String("diagram", d), slog.Any("error", err))
		return
	}
	g.hub.BroadcastExcept(d, c.ID, eventCursorUpdate, map[string]any{
		"clientId": c.ID, "userId": userID, "userName": userName, "userPicture": userPicture,
		"x": p.X, "y": p.Y, "viewport": p.Viewport,
	})
}

func (g *Gateway) handleRequestLock(c *ws.Conn, st *clientState, raw json.RawMessage) {
	var p lockPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.EntityID == "" {
		return
	}
	userID, userName, _, d, _ := st.snapshot()
	if d == "" {
		return
	}
	ctx := context.Background()
	ok, holder, err := g.locks.Acquire(ctx, d, p.EntityID, userID, userName)
	if err != nil {
		g.log.Warn("gateway: lock acquire failed", slog.String("diagram", d), slog.Any("error", err))
		return
	}
	if !ok {
		g.hub.SendTo(c.ID, eventLockResult, map[string]any{"success": false, "entityId": p.EntityID, "holder": holder})
		return
	}
	g.hub.Broadcast(d, eventLockAcquired, map[string]any{"entityId": p.EntityID, "userId": userID, "userName": userName})
	g.hub.SendTo(c.ID, eventLockResult, map[string]any{"success": true, "entityId": p.EntityID})
}

func (g *Gateway) handleReleaseLock(c *ws.Conn, st *clientState, raw json.RawMessage) {
	var p lockPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.EntityID == "" {
		return
	}
	userID, _, _, d, _ := st.snapshot()
	if d == "" {
		return
	}
	ctx := context.Background()
	ok, err := g.locks.Release(ctx, d, p.EntityID, userID)
	if err != nil {
		g.log.Warn("gateway: lock release failed", slog.String("diagram", d), slog.Any("error", err))
		return
	}
	if ok {
		g.hub.Broadcast(d, eventLockReleased, map[string]any{"entityId": p.EntityID, "userId": userID})
	}
}

// BroadcastExcept implements pipeline.Broadcaster, fanning an applied
// operation out over the transport (spec §4.6 step 5).
func (g *Gateway) BroadcastExcept(d, exceptClientID string, op diagram.Operation, appliedAt int64) {
	g.hub.BroadcastExcept(d, exceptClientID, eventOperation, struct {
		diagram.Operation
		AppliedAt int64 `json:"appliedAt"`
	}{Operation: op, AppliedAt: appliedAt})
}

// Reject implements pipeline.Broadcaster (spec §7 InvalidOperation, §5
// back-pressure).
func (g *Gateway) Reject(d, clientID, opID, reason string) {
	g.hub.SendTo(clientID, eventOpRejected, map[string]any{"opId": opID, "reason": reason})
}

// scheduleShutdownIfEmpty arms a grace-period timer to tear down d's
// pipeline worker once its room has no remaining connections (spec §3
// lifecycle). A later join cancels the timer.
func (g *Gateway) scheduleShutdownIfEmpty(d string) {
	if g.hub.RoomSize(d) > 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.timers[d]; ok {
		return
	}
	g.timers[d] = time.AfterFunc(shutdownGrace, func() {
		g.mu.Lock()
		delete(g.timers, d)
		g.mu.Unlock()
		if g.hub.RoomSize(d) == 0 {
			g.engine.Shutdown(d)
		}
	})
}

func (g *Gateway) cancelShutdown(d string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if t, ok := g.timers[d]; ok {
		t.Stop()
		delete(g.timers, d)
	}
}
