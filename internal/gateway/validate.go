package gateway

import "github.com/diagramsync/collabcore/internal/diagram"

var knownOpTypes = map[diagram.OpType]bool{
	diagram.EntityCreate:         true,
	diagram.EntityUpdate:         true,
	diagram.EntityMove:           true,
	diagram.EntityDelete:         true,
	diagram.AttributeAdd:         true,
	diagram.AttributeUpdate:      true,
	diagram.AttributeDelete:      true,
	diagram.AttributeFieldUpdate: true,
	diagram.RelationshipCreate:   true,
	diagram.RelationshipUpdate:   true,
	diagram.RelationshipDelete:   true,
	diagram.ERDImport:            true,
	diagram.ScreenCreate:         true,
	diagram.ScreenUpdate:         true,
	diagram.ScreenMove:           true,
	diagram.ScreenDelete:         true,
	diagram.ScreenImport:         true,
	diagram.FlowCreate:           true,
	diagram.FlowUpdate:           true,
	diagram.FlowDelete:           true,
}

// requiresTargetID are op types the Apply Engine addresses an existing
// element by id; everything else (creates, imports) carries its target's
// id inside the payload instead.
var requiresTargetID = map[diagram.OpType]bool{
	diagram.EntityUpdate:         true,
	diagram.EntityMove:           true,
	diagram.EntityDelete:         true,
	diagram.AttributeAdd:         true,
	diagram.AttributeUpdate:      true,
	diagram.AttributeDelete:      true,
	diagram.AttributeFieldUpdate: true,
	diagram.RelationshipUpdate:   true,
	diagram.RelationshipDelete:   true,
	diagram.ScreenUpdate:         true,
	diagram.ScreenMove:           true,
	diagram.ScreenDelete:         true,
	diagram.FlowUpdate:           true,
	diagram.FlowDelete:           true,
}

// requiresPayload are op types whose semantics are meaningless without a
// payload body. Entity, relationship, screen and flow deletes address only
// targetId and need none; ATTRIBUTE_DELETE carries the entity's remaining
// attribute list and does.
var requiresPayload = map[diagram.OpType]bool{
	diagram.EntityCreate:         true,
	diagram.EntityUpdate:         true,
	diagram.EntityMove:           true,
	diagram.AttributeAdd:         true,
	diagram.AttributeUpdate:      true,
	diagram.AttributeDelete:      true,
	diagram.AttributeFieldUpdate: true,
	diagram.RelationshipCreate:   true,
	diagram.RelationshipUpdate:   true,
	diagram.ERDImport:            true,
	diagram.ScreenCreate:         true,
	diagram.ScreenUpdate:         true,
	diagram.ScreenMove:           true,
	diagram.ScreenImport:         true,
	diagram.FlowCreate:           true,
	diagram.FlowUpdate:           true,
}

// validateOperation implements the ingress checks of spec §7
// InvalidOperation: unknown type, missing targetId where required, or a
// missing payload where one is required. It never inspects payload
// contents beyond presence -- shape mismatches inside a payload are the
// Apply Engine's concern and degrade to a no-op there, not a rejection
// here.
func validateOperation(op diagram.Operation) (ok bool, reason string) {
	if !knownOpTypes[op.Type] {
		return false, "unknown_type"
	}
	if requiresTargetID[op.Type] && op.TargetID == "" {
		return false, "missing_target_id"
	}
	if requiresPayload[op.Type] && op.Payload == nil {
		return false, "missing_payload"
	}
	return true, ""
}
