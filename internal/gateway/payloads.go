package gateway

import "github.com/diagramsync/collabcore/internal/presence"

// authenticatePayload is the inbound `authenticate` message body (spec §4.9).
type authenticatePayload struct {
	UserID      string `json:"userId"`
	UserName    string `json:"userName"`
	UserPicture string `json:"userPicture,omitempty"`
}

// joinProjectPayload is the inbound `join_project` message body.
type joinProjectPayload struct {
	DiagramID string `json:"diagramId"`
}

// cursorMovePayload is the inbound `cursor_move` message body.
type cursorMovePayload struct {
	X        float64            `json:"x"`
	Y        float64            `json:"y"`
	Viewport *presence.Viewport `json:"viewport,omitempty"`
}

// lockPayload is shared by `request_lock` and `release_lock`.
type lockPayload struct {
	EntityID string `json:"entityId"`
}

// Outbound event names (spec §4.9).
const (
	eventAuthenticated = "authenticated"
	eventStateSync     = "state_sync"
	eventUserJoined    = "user_joined"
	eventUserLeft      = "user_left"
	eventOperation     = "operation"
	eventCursorUpdate  = "cursor_update"
	eventLockAcquired  = "lock_acquired"
	eventLockReleased  = "lock_released"
	eventLockResult    = "lock_result"
	eventOpRejected    = "op_rejected"
)

// Inbound event names.
const (
	inAuthenticate = "authenticate"
	inJoinProject  = "join_project"
	inOperation    = "operation"
	inCursorMove   = "cursor_move"
	inRequestLock  = "request_lock"
	inReleaseLock  = "release_lock"
)
