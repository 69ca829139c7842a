// Package presence implements the Presence Store (C3): online sessions and
// cursors per diagram, keyed by connection id.
package presence

import "context"

// Session is one live connection to a diagram (spec §3 "Session record").
// A single user may hold several concurrent sessions (tabs); each is
// tracked independently, keyed by clientId.
type Session struct {
	UserID      string `json:"userId"`
	ClientID    string `json:"clientId"`
	UserName    string `json:"userName"`
	UserPicture string `json:"userPicture,omitempty"`
	JoinedAt    int64  `json:"joinedAt"`
	LastActive  int64  `json:"lastActive"`
}

// Viewport describes a client's pan/zoom state alongside its cursor.
type Viewport struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zoom float64 `json:"zoom"`
}

// Cursor is one client's live pointer position (spec §3 "Cursor record").
type Cursor struct {
	UserID      string    `json:"userId"`
	ClientID    string    `json:"clientId"`
	X           float64   `json:"x"`
	Y           float64   `json:"y"`
	Viewport    *Viewport `json:"viewport,omitempty"`
	LastUpdated int64     `json:"lastUpdated"`
}

// API is the Presence Store's public surface (spec §4.3).
type API interface {
	// Join upserts the session record and returns every live session for d.
	Join(ctx context.Context, d, clientID, userID, userName, userPicture string) ([]Session, error)
	// Leave removes clientID's session and returns the remaining sessions.
	Leave(ctx context.Context, d, clientID string) ([]Session, error)
	// Sessions returns every session for d, implicitly dropping (and
	// persisting the drop of) any whose lastActive is older than 30s.
	Sessions(ctx context.Context, d string) ([]Session, error)
	// UpdateCursor upserts a cursor, refreshes its 10s TTL and bumps the
	// owning session's lastActive.
	UpdateCursor(ctx context.Context, d, userID, clientID string, x, y float64, vp *Viewport) error
	// Cursors returns every cursor for d younger than 15s.
	Cursors(ctx context.Context, d string) ([]Cursor, error)
	// ClearUser removes every session and cursor belonging to userID.
	ClearUser(ctx context.Context, d, userID string) error
	// ClearAll wipes every "project:{d}:*" cache key for d, including the
	// state and lock hashes as well as presence (used on diagram deletion).
	ClearAll(ctx context.Context, d string) error
}
