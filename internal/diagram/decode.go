package diagram

import "encoding/json"

// The wire payload for an Operation is a loosely-typed JSON object
// (map[string]any once unmarshaled). These helpers round-trip that shape
// into the strongly-typed structs of types.go via a JSON re-marshal, which is
// simpler and less error-prone than hand-walking `any` values field by
// field, at the cost of an extra allocation per operation — acceptable
// given operation payloads are small outside of *_IMPORT.

func decodeInto(src any, dst any) bool {
	if src == nil {
		return false
	}
	raw, err := json.Marshal(src)
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

func decodeEntity(payload map[string]any) (Entity, bool) {
	var e Entity
	if !decodeInto(any(payload), &e) || e.ID == "" {
		return Entity{}, false
	}
	if e.Attributes == nil {
		e.Attributes = []Attribute{}
	}
	return e, true
}

func decodeAttribute(m map[string]any) (Attribute, bool) {
	var a Attribute
	if !decodeInto(any(m), &a) || a.ID == "" {
		return Attribute{}, false
	}
	return a, true
}

func decodeRelationship(payload map[string]any) (Relationship, bool) {
	var r Relationship
	if !decodeInto(any(payload), &r) || r.ID == "" {
		return Relationship{}, false
	}
	return r, true
}

func decodeScreen(payload map[string]any) (Screen, bool) {
	var s Screen
	if !decodeInto(any(payload), &s) || s.ID == "" {
		return Screen{}, false
	}
	return s, true
}

func decodeFlow(payload map[string]any) (Flow, bool) {
	var f Flow
	if !decodeInto(any(payload), &f) || f.ID == "" {
		return Flow{}, false
	}
	return f, true
}

func decodeEntityList(v any) []Entity {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]Entity, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if e, ok := decodeEntity(m); ok {
			out = append(out, e)
		}
	}
	return out
}

func decodeRelationshipList(v any) []Relationship {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]Relationship, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if r, ok := decodeRelationship(m); ok {
			out = append(out, r)
		}
	}
	return out
}

func decodeScreenList(v any) []Screen {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]Screen, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if s, ok := decodeScreen(m); ok {
			out = append(out, s)
		}
	}
	return out
}

func decodeFlowList(v any) []Flow {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]Flow, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if f, ok := decodeFlow(m); ok {
			out = append(out, f)
		}
	}
	return out
}

// mergeEntityFields shallow-merges recognized keys of payload into e.
func mergeEntityFields(e *Entity, payload map[string]any) {
	if name, ok := payload["name"].(string); ok {
		e.Name = name
	}
	if pos, ok := payload["position"].(map[string]any); ok {
		var p Position
		if decodeInto(any(pos), &p) {
			e.Position = p
		}
	}
	if locked, ok := payload["isLocked"].(bool); ok {
		e.IsLocked = locked
	}
	if comment, ok := payload["comment"].(string); ok {
		e.Comment = comment
	}
}

func mergeAttributeFields(a *Attribute, updates map[string]any) {
	if updates == nil {
		return
	}
	if v, ok := updates["name"].(string); ok {
		a.Name = v
	}
	if v, ok := updates["type"].(string); ok {
		a.Type = v
	}
	if v, ok := updates["isPK"].(bool); ok {
		a.IsPK = v
	}
	if v, ok := updates["isFK"].(bool); ok {
		a.IsFK = v
	}
	if v, ok := updates["isNullable"].(bool); ok {
		a.IsNullable = v
	}
	if v, ok := updates["defaultVal"].(string); ok {
		a.DefaultVal = v
	}
	if v, ok := updates["comment"].(string); ok {
		a.Comment = v
	}
	if v, ok := updates["length"].(float64); ok {
		a.Length = int(v)
	}
}

func mergeRelationshipFields(r *Relationship, payload map[string]any) {
	if v, ok := payload["source"].(string); ok {
		r.Source = v
	}
	if v, ok := payload["target"].(string); ok {
		r.Target = v
	}
	if v, ok := payload["sourceHandle"].(string); ok {
		r.SourceHandle = v
	}
	if v, ok := payload["targetHandle"].(string); ok {
		r.TargetHandle = v
	}
	if v, ok := payload["type"].(string); ok {
		r.Type = RelationshipType(v)
	}
}

func mergeScreenFields(s *Screen, payload map[string]any) {
	if v, ok := payload["name"].(string); ok {
		s.Name = v
	}
	if pos, ok := payload["position"].(map[string]any); ok {
		var p Position
		if decodeInto(any(pos), &p) {
			s.Position = p
		}
	}
	if v, ok := payload["comment"].(string); ok {
		s.Comment = v
	}
}

func mergeFlowFields(f *Flow, payload map[string]any) {
	if v, ok := payload["source"].(string); ok {
		f.Source = v
	}
	if v, ok := payload["target"].(string); ok {
		f.Target = v
	}
	if v, ok := payload["sourceHandle"].(string); ok {
		f.SourceHandle = v
	}
	if v, ok := payload["targetHandle"].(string); ok {
		f.TargetHandle = v
	}
}
