package pipeline

import (
	"strings"

	"github.com/diagramsync/collabcore/internal/diagram"
	"github.com/diagramsync/collabcore/internal/docstore"
	"github.com/diagramsync/collabcore/pkg/ulid"
)

// targetTypeFor maps an operation's type to the History entry's targetType
// enum (spec §3: ENTITY, RELATIONSHIP, PROJECT, SCREEN, FLOW).
func targetTypeFor(t diagram.OpType) string {
	switch {
	case t == diagram.ERDImport:
		return docstore.TargetProject
	case t == diagram.ScreenImport:
		return docstore.TargetProject
	case strings.HasPrefix(string(t), "SCREEN"):
		return docstore.TargetScreen
	case strings.HasPrefix(string(t), "FLOW"):
		return docstore.TargetFlow
	case strings.HasPrefix(string(t), "RELATIONSHIP"):
		return docstore.TargetRelationship
	default:
		return docstore.TargetEntity
	}
}

// targetNameFor best-effort-extracts a human-readable name from the
// operation's payload, for display in the audit trail; absent or
// unparseable payloads simply omit it.
func targetNameFor(op diagram.Operation) string {
	if op.Payload == nil {
		return ""
	}
	if name, ok := op.Payload["name"].(string); ok {
		return name
	}
	return ""
}

func buildHistoryEntry(d string, op diagram.Operation, appliedAt int64) docstore.HistoryEntry {
	return docstore.HistoryEntry{
		ID:            ulid.New(),
		DiagramID:     d,
		UserID:        op.UserID,
		UserName:      op.UserName,
		OperationType: string(op.Type),
		TargetType:    targetTypeFor(op.Type),
		TargetID:      op.TargetID,
		TargetName:    targetNameFor(op),
		LamportClock:  op.LamportClock,
		Payload:       op.Payload,
		PreviousState: op.PreviousState,
		Timestamp:     appliedAt,
	}
}
