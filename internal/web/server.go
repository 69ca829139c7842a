// Package web provides the HTTP server: the WebSocket upgrade endpoint,
// a read-only snapshot endpoint, and a health check, wired over the
// Session Gateway and State Store.
package web

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/go-mizu/mizu"
	"github.com/gorilla/websocket"

	"github.com/diagramsync/collabcore/internal/cachestore"
	"github.com/diagramsync/collabcore/internal/clock"
	"github.com/diagramsync/collabcore/internal/config"
	"github.com/diagramsync/collabcore/internal/docstore"
	"github.com/diagramsync/collabcore/internal/gateway"
	"github.com/diagramsync/collabcore/internal/gateway/ws"
	"github.com/diagramsync/collabcore/internal/history"
	"github.com/diagramsync/collabcore/internal/lockmgr"
	"github.com/diagramsync/collabcore/internal/persistwriter"
	"github.com/diagramsync/collabcore/internal/pipeline"
	"github.com/diagramsync/collabcore/internal/presence"
	"github.com/diagramsync/collabcore/internal/statestore"
)

// Server is the HTTP server hosting the Session Gateway.
type Server struct {
	app *mizu.App
	cfg config.Config
	db  *sql.DB
	log *slog.Logger

	docs     docstore.Store
	state    *statestore.Store
	gw       *gateway.Gateway
	upgrader websocket.Upgrader
}

// New wires every collaboration-core component (spec §4) behind one HTTP
// server, mirroring the teacher's single-constructor wiring style.
func New(cfg config.Config, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "collabcore.duckdb")
	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	docs, err := docstore.New(db)
	if err != nil {
		return nil, fmt.Errorf("open document store: %w", err)
	}
	if err := docs.Ensure(context.Background()); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	var cache cachestore.Store
	if cfg.CacheAddr != "" {
		cache = cachestore.NewRedisStore(cachestore.RedisOptions{
			Addr:     cfg.CacheAddr,
			Password: cfg.CachePassword,
			DB:       cfg.CacheDB,
		})
	} else {
		cache = cachestore.NewMemoryStore()
	}

	state := statestore.New(cache)
	pres := presence.NewService(cache, log)
	locks := lockmgr.NewService(cache)
	hist := history.NewService(docs, log)
	persist := persistwriter.New(docs, log)
	if cfg.PersistDebounce > 0 {
		persist.SetDebounce(cfg.PersistDebounce)
	}
	clk := clock.New()

	hub := ws.NewHub(log)
	var engine *pipeline.Engine
	gw := gateway.New(hub, nil, pres, locks, hist, persist, log)
	engine = pipeline.New(clk, state, docs, persist, hist, gw, log)
	gw.SetEngine(engine)

	s := &Server{
		app:   mizu.New(),
		cfg:   cfg,
		db:    db,
		log:   log,
		docs:  docs,
		state: state,
		gw:    gw,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	s.upgrader.CheckOrigin = s.checkOrigin

	s.setupRoutes()
	return s, nil
}

// Run starts the server. Like the blueprint this was adapted from, it
// blocks until the listener errors; callers race it against ctx.Done in
// their own goroutine to implement graceful shutdown.
func (s *Server) Run() error {
	s.log.Info("starting server", slog.String("addr", s.cfg.Addr))
	return s.app.Listen(s.cfg.Addr)
}

// Close releases the server's resources.
func (s *Server) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() *mizu.App {
	return s.app
}

func (s *Server) setupRoutes() {
	s.app.Get("/healthz", s.handleHealthz)
	s.app.Get("/ws", s.handleWebSocket)

	s.app.Group("/api/v1", func(api *mizu.Router) {
		api.Get("/diagrams/{id}", s.handleGetDiagram)
	})
}

func (s *Server) handleHealthz(c *mizu.Ctx) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// handleGetDiagram serves a read-only snapshot straight from the hot
// State Store, falling back to the durable document store on a cache
// miss for a durable id (spec §4.2, §6).
func (s *Server) handleGetDiagram(c *mizu.Ctx) error {
	id := c.Param("id")
	ctx := c.Request().Context()

	snap, ok, err := s.state.Get(ctx, id)
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "state store unavailable"})
	}
	if !ok && docstore.IsDurableID(id) {
		loaded, found, loadErr := s.docs.LoadDiagram(ctx, id)
		if loadErr == nil && found {
			snap, ok = loaded, true
		}
	}
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "diagram not found"})
	}
	return c.JSON(http.StatusOK, snap)
}

func (s *Server) handleWebSocket(c *mizu.Ctx) error {
	conn, err := s.upgrader.Upgrade(c.Writer(), c.Request(), nil)
	if err != nil {
		return err
	}
	s.gw.Accept(conn)
	return nil
}

// checkOrigin enforces the frontend/CORS allowlist on the WebSocket
// upgrade handshake (spec §6 External Interfaces).
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return s.cfg.AllowOrigin(origin)
}
