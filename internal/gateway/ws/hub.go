// Package ws provides the WebSocket transport for the Session Gateway
// (C9): a tagged-record {event, data} wire protocol over per-diagram
// rooms, adapted from the same read/write-pump pattern the teacher
// blueprint uses for its chat hub, generalized from per-server/per-channel
// subscriptions to per-diagram rooms.
package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Message is the wire envelope for every inbound and outbound frame
// (spec §6: "each message is a tagged record {event: string, data: object}").
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Handler receives inbound messages and close notifications for a
// connection. The Session Gateway (internal/gateway) implements this;
// the transport never interprets message contents itself.
type Handler interface {
	HandleMessage(c *Conn, msg Message)
	HandleClose(c *Conn)
}

// Hub tracks which connections are subscribed to which diagram room and
// routes broadcasts and directed sends, mirroring the teacher's
// Hub.servers/Hub.channels subscription maps generalized to one room
// family (spec §4.9, §9 "fan-out membership").
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*Conn // diagramID -> clientID -> conn
	byID  map[string]*Conn            // clientID -> conn, room membership aside
	log   *slog.Logger
}

// NewHub creates an empty Hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		rooms: make(map[string]map[string]*Conn),
		byID:  make(map[string]*Conn),
		log:   log,
	}
}

// Register tracks a newly-accepted connection before it has joined a room.
func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	h.byID[c.ID] = c
	h.mu.Unlock()
}

// Unregister removes a connection from its room (if any) and from the
// hub entirely, used on disconnect.
func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.byID, c.ID)
	d := c.DiagramID()
	if d == "" {
		return
	}
	if room, ok := h.rooms[d]; ok {
		delete(room, c.ID)
		if len(room) == 0 {
			delete(h.rooms, d)
		}
	}
}

// Join moves c into diagram d's room, leaving any prior room first (spec
// §4.9 join_project: "Leave any previously joined room").
func (h *Hub) Join(c *Conn, d string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if prev := c.DiagramID(); prev != "" {
		if room, ok := h.rooms[prev]; ok {
			delete(room, c.ID)
			if len(room) == 0 {
				delete(h.rooms, prev)
			}
		}
	}
	if h.rooms[d] == nil {
		h.rooms[d] = make(map[string]*Conn)
	}
	h.rooms[d][c.ID] = c
	c.setDiagramID(d)
}

// Leave removes c from its current room without closing the connection
// (used when a client switches diagrams mid-session).
func (h *Hub) Leave(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d := c.DiagramID()
	if d == "" {
		return
	}
	if room, ok := h.rooms[d]; ok {
		delete(room, c.ID)
		if len(room) == 0 {
			delete(h.rooms, d)
		}
	}
	c.setDiagramID("")
}

// RoomSize reports how many connections are currently joined to d (used
// to decide whether a diagram's pipeline worker can be torn down).
func (h *Hub) RoomSize(d string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[d])
}

// Broadcast sends event/data to every connection in d's room.
func (h *Hub) Broadcast(d, event string, data any) {
	h.broadcast(d, "", event, data)
}

// BroadcastExcept sends event/data to every connection in d's room except
// exceptClientID (spec §4.6 step 5, §4.9 fan-out).
func (h *Hub) BroadcastExcept(d, exceptClientID, event string, data any) {
	h.broadcast(d, exceptClientID, event, data)
}

func (h *Hub) broadcast(d, exceptClientID, event string, data any) {
	raw, err := encode(event, data)
	if err != nil {
		h.log.Error("ws: encode broadcast failed", slog.String("event", event), slog.Any("error", err))
		return
	}
	h.mu.RLock()
	room := h.rooms[d]
	targets := make([]*Conn, 0, len(room))
	for id, c := range room {
		if id == exceptClientID {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	for _, c := range targets {
		c.send(raw)
	}
}

// SendTo delivers event/data to exactly one connection by clientID,
// regardless of room membership (spec §4.9: replies to the caller, e.g.
// state_sync, lock_result, op_rejected).
func (h *Hub) SendTo(clientID, event string, data any) {
	raw, err := encode(event, data)
	if err != nil {
		h.log.Error("ws: encode send failed", slog.String("event", event), slog.Any("error", err))
		return
	}
	h.mu.RLock()
	c, ok := h.byID[clientID]
	h.mu.RUnlock()
	if ok {
		c.send(raw)
	}
}

func encode(event string, data any) ([]byte, error) {
	d, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Event: event, Data: d})
}
