package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/diagramsync/collabcore/internal/diagram"
)

// Open opens a DuckDB database file (or ":memory:") and returns the raw
// connection, matching the teacher's package-level Open helper.
func Open(dsn string) (*sql.DB, error) {
	return sql.Open("duckdb", dsn)
}

// DuckDBStore implements Store on top of DuckDB, the same engine the
// teacher blueprint persists chat data to.
type DuckDBStore struct {
	db *sql.DB
}

// New wraps an already-open *sql.DB.
func New(db *sql.DB) (*DuckDBStore, error) {
	if db == nil {
		return nil, fmt.Errorf("docstore: nil db")
	}
	return &DuckDBStore{db: db}, nil
}

// DB returns the underlying connection, e.g. for health checks.
func (s *DuckDBStore) DB() *sql.DB { return s.db }

// Close closes the underlying connection.
func (s *DuckDBStore) Close() error { return s.db.Close() }

// Ensure idempotently creates the schema.
func (s *DuckDBStore) Ensure(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS diagrams (
			id TEXT PRIMARY KEY,
			version INTEGER NOT NULL,
			entities JSON NOT NULL,
			relationships JSON NOT NULL,
			screens JSON NOT NULL,
			flows JSON NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS diagram_history (
			id TEXT PRIMARY KEY,
			diagram_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			user_name TEXT NOT NULL,
			user_picture TEXT,
			operation_type TEXT NOT NULL,
			target_type TEXT NOT NULL,
			target_id TEXT,
			target_name TEXT,
			lamport_clock INTEGER NOT NULL,
			payload JSON,
			previous_state JSON,
			details TEXT,
			ts TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("docstore: ensure schema: %w", err)
		}
	}
	return nil
}

// LoadDiagram returns the persisted snapshot, or (zero, false) if absent.
func (s *DuckDBStore) LoadDiagram(ctx context.Context, id string) (diagram.Snapshot, bool, error) {
	query := `
		SELECT version, entities, relationships, screens, flows
		FROM diagrams WHERE id = ?
	`
	var version int
	var entitiesRaw, relsRaw, screensRaw, flowsRaw any
	err := s.db.QueryRowContext(ctx, query, id).Scan(&version, &entitiesRaw, &relsRaw, &screensRaw, &flowsRaw)
	if err == sql.ErrNoRows {
		return diagram.Snapshot{}, false, nil
	}
	if err != nil {
		return diagram.Snapshot{}, false, err
	}

	snap := diagram.Empty()
	snap.Version = version
	// DuckDB returns JSON columns as native Go types; re-marshal to
	// unmarshal into the strongly-typed snapshot fields.
	unmarshalJSONColumn(entitiesRaw, &snap.Entities)
	unmarshalJSONColumn(relsRaw, &snap.Relationships)
	unmarshalJSONColumn(screensRaw, &snap.Screens)
	unmarshalJSONColumn(flowsRaw, &snap.Flows)
	return snap, true, nil
}

// SaveDiagram durably replaces the snapshot and bumps updatedAt.
func (s *DuckDBStore) SaveDiagram(ctx context.Context, id string, snap diagram.Snapshot) error {
	entitiesJSON, _ := json.Marshal(snap.Entities)
	relsJSON, _ := json.Marshal(snap.Relationships)
	screensJSON, _ := json.Marshal(snap.Screens)
	flowsJSON, _ := json.Marshal(snap.Flows)

	query := `
		INSERT INTO diagrams (id, version, entities, relationships, screens, flows, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			version = EXCLUDED.version,
			entities = EXCLUDED.entities,
			relationships = EXCLUDED.relationships,
			screens = EXCLUDED.screens,
			flows = EXCLUDED.flows,
			updated_at = EXCLUDED.updated_at
	`
	_, err := s.db.ExecContext(ctx, query, id, snap.Version, entitiesJSON, relsJSON, screensJSON, flowsJSON, time.Now())
	return err
}

// DeleteDiagram removes a diagram's persisted snapshot and history.
func (s *DuckDBStore) DeleteDiagram(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM diagrams WHERE id = ?", id); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM diagram_history WHERE diagram_id = ?", id)
	return err
}

// AppendHistory persists one audit entry.
func (s *DuckDBStore) AppendHistory(ctx context.Context, entry HistoryEntry) error {
	payloadJSON, _ := json.Marshal(entry.Payload)
	prevJSON, _ := json.Marshal(entry.PreviousState)

	query := `
		INSERT INTO diagram_history
			(id, diagram_id, user_id, user_name, user_picture, operation_type, target_type, target_id, target_name, lamport_clock, payload, previous_state, details, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		entry.ID, entry.DiagramID, entry.UserID, entry.UserName, entry.UserPicture,
		entry.OperationType, entry.TargetType, entry.TargetID, entry.TargetName,
		entry.LamportClock, payloadJSON, prevJSON, entry.Details, time.UnixMilli(entry.Timestamp),
	)
	return err
}

// RecentHistory returns up to limit entries, most-recent-first.
func (s *DuckDBStore) RecentHistory(ctx context.Context, id string, limit int) ([]HistoryEntry, error) {
	query := `
		SELECT id, diagram_id, user_id, user_name, user_picture, operation_type, target_type, target_id, target_name, lamport_clock, payload, previous_state, details, ts
		FROM diagram_history
		WHERE diagram_id = ?
		ORDER BY ts DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, id, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var userPicture, targetName, details sql.NullString
		var payloadRaw, prevRaw any
		var ts time.Time
		if err := rows.Scan(
			&e.ID, &e.DiagramID, &e.UserID, &e.UserName, &userPicture,
			&e.OperationType, &e.TargetType, &e.TargetID, &targetName,
			&e.LamportClock, &payloadRaw, &prevRaw, &details, &ts,
		); err != nil {
			return nil, err
		}
		e.UserPicture = userPicture.String
		e.TargetName = targetName.String
		e.Details = details.String
		e.Timestamp = ts.UnixMilli()
		unmarshalJSONColumn(payloadRaw, &e.Payload)
		unmarshalJSONColumn(prevRaw, &e.PreviousState)
		out = append(out, e)
	}
	return out, rows.Err()
}

func unmarshalJSONColumn(raw any, dst any) {
	if raw == nil {
		return
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return
	}
	_ = json.Unmarshal(b, dst)
}
