package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize must accept at least 10 MiB for whole-diagram
	// ERD_IMPORT/SCREEN_IMPORT payloads (spec §6, §8 boundary), unlike the
	// teacher's 512 KiB chat-message limit.
	maxMessageSize = 12 * 1024 * 1024

	sendQueueDepth = 256
)

// Conn is one client's bidirectional connection (spec §4.9 "per-connection
// state"). ID is the server-assigned clientId.
type Conn struct {
	ID   string
	conn *websocket.Conn
	hub  *Hub
	log  *slog.Logger

	sendCh chan []byte

	mu        sync.RWMutex
	diagramID string

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// NewConn wraps an upgraded *websocket.Conn with a server-assigned clientID.
func NewConn(hub *Hub, conn *websocket.Conn, clientID string, log *slog.Logger) *Conn {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		ID:     clientID,
		conn:   conn,
		hub:    hub,
		log:    log,
		sendCh: make(chan []byte, sendQueueDepth),
		ctx:    ctx,
		cancel: cancel,
	}
}

// DiagramID returns the room this connection currently belongs to, or "".
func (c *Conn) DiagramID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.diagramID
}

func (c *Conn) setDiagramID(d string) {
	c.mu.Lock()
	c.diagramID = d
	c.mu.Unlock()
}

// Start launches the read/write pumps and begins dispatching inbound
// messages to handler.
func (c *Conn) Start(handler Handler) {
	go c.writePump()
	go c.readPump(handler)
}

// send enqueues a pre-encoded frame; a full queue drops the message for
// this slow connection rather than blocking the broadcaster (mirrors the
// teacher's Connection.Send "channel full, drop" behavior).
func (c *Conn) send(msg []byte) {
	select {
	case c.sendCh <- msg:
	default:
		c.log.Warn("ws: send queue full, dropping message", slog.String("clientId", c.ID))
	}
}

// Close tears down the connection exactly once.
func (c *Conn) Close() {
	c.once.Do(func() {
		c.cancel()
		close(c.sendCh)
		c.conn.Close()
	})
}

func (c *Conn) readPump(handler Handler) {
	defer func() {
		handler.HandleClose(c)
		c.hub.Unregister(c)
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Debug("ws: read error", slog.String("clientId", c.ID), slog.Any("error", err))
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn("ws: invalid message", slog.String("clientId", c.ID), slog.Any("error", err))
			continue
		}
		handler.HandleMessage(c, msg)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			return

		case message, ok := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
