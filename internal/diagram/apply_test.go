package diagram

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func entityPayload(id, name string, x, y float64) map[string]any {
	return map[string]any{
		"id":       id,
		"name":     name,
		"position": map[string]any{"x": x, "y": y},
		"attributes": []any{
			map[string]any{"id": "a1", "name": "id", "type": "INT", "isPK": true, "isFK": false},
		},
	}
}

func TestApply_EntityCreate(t *testing.T) {
	snap := Empty()
	op := Operation{Type: EntityCreate, Payload: entityPayload("e1", "users", 0, 0)}

	out := Apply(snap, op)

	require.Equal(t, 1, out.Version)
	require.Len(t, out.Entities, 1)
	require.Equal(t, "e1", out.Entities[0].ID)
	require.Equal(t, "users", out.Entities[0].Name)
}

func TestApply_EntityCreate_DuplicateIDIsNoOpButVersionAdvances(t *testing.T) {
	snap := Apply(Empty(), Operation{Type: EntityCreate, Payload: entityPayload("e1", "users", 0, 0)})

	out := Apply(snap, Operation{Type: EntityCreate, Payload: entityPayload("e1", "users_dup", 5, 5)})

	require.Equal(t, 2, out.Version)
	require.Len(t, out.Entities, 1)
	require.Equal(t, "users", out.Entities[0].Name) // original entity untouched
}

// Scenario 2 from the spec's end-to-end list: two ENTITY_MOVE ops with the
// same lamportClock but increasing wallClock, applied in arrival order.
func TestApply_ConcurrentMoves_LastArrivalWins(t *testing.T) {
	snap := Apply(Empty(), Operation{Type: EntityCreate, Payload: entityPayload("e1", "users", 0, 0)})

	snap = Apply(snap, Operation{
		Type: EntityMove, TargetID: "e1", LamportClock: 5, WallClock: 1000,
		Payload: map[string]any{"position": map[string]any{"x": 10.0, "y": 0.0}},
	})
	snap = Apply(snap, Operation{
		Type: EntityMove, TargetID: "e1", LamportClock: 5, WallClock: 1001,
		Payload: map[string]any{"position": map[string]any{"x": 20.0, "y": 0.0}},
	})

	require.Equal(t, 3, snap.Version)
	require.Equal(t, Position{X: 20, Y: 0}, snap.Entities[0].Position)
}

// Scenario 3: cascading delete.
func TestApply_EntityDelete_CascadesRelationships(t *testing.T) {
	snap := Apply(Empty(), Operation{Type: EntityCreate, Payload: entityPayload("e1", "a", 0, 0)})
	snap = Apply(snap, Operation{Type: EntityCreate, Payload: entityPayload("e2", "b", 0, 0)})
	snap = Apply(snap, Operation{Type: RelationshipCreate, Payload: map[string]any{
		"id": "r1", "source": "e1", "target": "e2", "type": "1:N",
	}})
	require.Len(t, snap.Relationships, 1)

	snap = Apply(snap, Operation{Type: EntityDelete, TargetID: "e1"})

	require.Len(t, snap.Entities, 1)
	require.Equal(t, "e2", snap.Entities[0].ID)
	require.Empty(t, snap.Relationships)
}

func TestApply_EntityDelete_MissingIDIsNoOp(t *testing.T) {
	snap := Apply(Empty(), Operation{Type: EntityCreate, Payload: entityPayload("e1", "a", 0, 0)})

	out := Apply(snap, Operation{Type: EntityDelete, TargetID: "nonexistent"})

	require.Len(t, out.Entities, 1)
	require.Equal(t, snap.Version+1, out.Version)
}

func TestApply_OrphanRelationshipNeverSurvives(t *testing.T) {
	snap := Empty()
	snap.Relationships = []Relationship{{ID: "r1", Source: "ghost-a", Target: "ghost-b", Type: OneToOne}}

	out := Apply(snap, Operation{Type: EntityCreate, Payload: entityPayload("e1", "a", 0, 0)})

	require.Empty(t, out.Relationships)
}

func TestApply_ScreenDelete_CascadesFlows(t *testing.T) {
	snap := Apply(Empty(), Operation{Type: ScreenCreate, Payload: map[string]any{"id": "s1", "name": "Home"}})
	snap = Apply(snap, Operation{Type: ScreenCreate, Payload: map[string]any{"id": "s2", "name": "Detail"}})
	snap = Apply(snap, Operation{Type: FlowCreate, Payload: map[string]any{"id": "f1", "source": "s1", "target": "s2"}})
	require.Len(t, snap.Flows, 1)

	snap = Apply(snap, Operation{Type: ScreenDelete, TargetID: "s1"})

	require.Len(t, snap.Screens, 1)
	require.Empty(t, snap.Flows)
}

func TestApply_AttributeFieldUpdate(t *testing.T) {
	snap := Apply(Empty(), Operation{Type: EntityCreate, Payload: entityPayload("e1", "users", 0, 0)})

	out := Apply(snap, Operation{
		Type: AttributeFieldUpdate, TargetID: "e1",
		Payload: map[string]any{"attrId": "a1", "updates": map[string]any{"name": "user_id", "isPK": true}},
	})

	require.Equal(t, "user_id", out.Entities[0].Attributes[0].Name)
	require.True(t, out.Entities[0].Attributes[0].IsPK)
}

func TestApply_ERDImport_MergeSkipsExistingNamesAndIDs(t *testing.T) {
	snap := Apply(Empty(), Operation{Type: EntityCreate, Payload: entityPayload("e1", "users", 0, 0)})

	out := Apply(snap, Operation{Type: ERDImport, Payload: map[string]any{
		"overwrite": false,
		"entities": []any{
			entityPayload("e1-dup", "USERS", 1, 1), // same name, different case -> skipped
			entityPayload("e2", "orders", 2, 2),
		},
		"relationships": []any{},
	}})

	require.Len(t, out.Entities, 2)
}

func TestApply_ERDImport_Overwrite(t *testing.T) {
	snap := Apply(Empty(), Operation{Type: EntityCreate, Payload: entityPayload("e1", "users", 0, 0)})

	out := Apply(snap, Operation{Type: ERDImport, Payload: map[string]any{
		"overwrite": true,
		"entities":  []any{entityPayload("e2", "orders", 0, 0)},
	}})

	require.Len(t, out.Entities, 1)
	require.Equal(t, "e2", out.Entities[0].ID)
}

func TestApply_VersionMonotonic(t *testing.T) {
	snap := Empty()
	for i := 1; i <= 5; i++ {
		snap = Apply(snap, Operation{Type: EntityCreate, Payload: entityPayload("e", "x", 0, 0)})
		require.Equal(t, i, snap.Version)
	}
}

func TestApply_DuplicateAttributeIDsCollapse(t *testing.T) {
	snap := Apply(Empty(), Operation{Type: EntityCreate, Payload: map[string]any{
		"id": "e1", "name": "t", "position": map[string]any{"x": 0.0, "y": 0.0},
		"attributes": []any{
			map[string]any{"id": "a1", "name": "first", "type": "INT"},
		},
	}})

	out := Apply(snap, Operation{Type: AttributeAdd, TargetID: "e1", Payload: map[string]any{
		"attributes": []any{
			map[string]any{"id": "a1", "name": "first"},
			map[string]any{"id": "a1", "name": "dup"},
			map[string]any{"id": "a2", "name": "second"},
		},
	}})

	require.Len(t, out.Entities[0].Attributes, 2)
}
