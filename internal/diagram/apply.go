package diagram

import "strings"

// Apply is the pure Apply Engine: (snapshot, op) -> snapshot'. It never
// mutates its input and never performs I/O; every invariant in the data
// model (unique ids, no orphan relationships/flows, version += 1, cascade
// deletes, unique attribute ids) holds for its result regardless of what
// was true of the input, short of a malformed payload being silently
// ignored.
func Apply(snap Snapshot, op Operation) Snapshot {
	next := snap.Clone()

	switch op.Type {
	case EntityCreate:
		applyEntityCreate(&next, op)
	case EntityUpdate, EntityMove:
		applyEntityMerge(&next, op)
	case EntityDelete:
		applyEntityDelete(&next, op)
	case AttributeAdd, AttributeUpdate, AttributeDelete:
		applyAttributesReplace(&next, op)
	case AttributeFieldUpdate:
		applyAttributeFieldUpdate(&next, op)
	case RelationshipCreate:
		applyRelationshipCreate(&next, op)
	case RelationshipUpdate:
		applyRelationshipMerge(&next, op)
	case RelationshipDelete:
		applyRelationshipDelete(&next, op)
	case ERDImport:
		applyERDImport(&next, op)
	case ScreenCreate:
		applyScreenCreate(&next, op)
	case ScreenUpdate, ScreenMove:
		applyScreenMerge(&next, op)
	case ScreenDelete:
		applyScreenDelete(&next, op)
	case ScreenImport:
		applyScreenImport(&next, op)
	case FlowCreate:
		applyFlowCreate(&next, op)
	case FlowUpdate:
		applyFlowMerge(&next, op)
	case FlowDelete:
		applyFlowDelete(&next, op)
	}

	next.Version = snap.Version + 1
	enforceInvariants(&next)
	return next
}

func entityIndex(s *Snapshot, id string) int {
	for i := range s.Entities {
		if s.Entities[i].ID == id {
			return i
		}
	}
	return -1
}

func screenIndex(s *Snapshot, id string) int {
	for i := range s.Screens {
		if s.Screens[i].ID == id {
			return i
		}
	}
	return -1
}

func relationshipIndex(s *Snapshot, id string) int {
	for i := range s.Relationships {
		if s.Relationships[i].ID == id {
			return i
		}
	}
	return -1
}

func flowIndex(s *Snapshot, id string) int {
	for i := range s.Flows {
		if s.Flows[i].ID == id {
			return i
		}
	}
	return -1
}

func applyEntityCreate(s *Snapshot, op Operation) {
	ent, ok := decodeEntity(op.Payload)
	if !ok {
		return
	}
	if entityIndex(s, ent.ID) >= 0 {
		return // already exists: no-op on the snapshot, version still advances
	}
	s.Entities = append(s.Entities, ent)
}

func applyEntityMerge(s *Snapshot, op Operation) {
	i := entityIndex(s, op.TargetID)
	if i < 0 {
		return
	}
	mergeEntityFields(&s.Entities[i], op.Payload)
}

func applyEntityDelete(s *Snapshot, op Operation) {
	i := entityIndex(s, op.TargetID)
	if i < 0 {
		return
	}
	s.Entities = append(s.Entities[:i], s.Entities[i+1:]...)
	// cascade: orphan relationships are stripped by enforceInvariants.
}

func applyAttributesReplace(s *Snapshot, op Operation) {
	i := entityIndex(s, op.TargetID)
	if i < 0 {
		return
	}
	raw, ok := op.Payload["attributes"]
	if !ok {
		return
	}
	list, ok := raw.([]any)
	if !ok {
		return
	}
	attrs := make([]Attribute, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		a, ok := decodeAttribute(m)
		if ok {
			attrs = append(attrs, a)
		}
	}
	s.Entities[i].Attributes = dedupAttributes(attrs)
}

func applyAttributeFieldUpdate(s *Snapshot, op Operation) {
	i := entityIndex(s, op.TargetID)
	if i < 0 {
		return
	}
	attrID, _ := op.Payload["attrId"].(string)
	if attrID == "" {
		return
	}
	updates, _ := op.Payload["updates"].(map[string]any)
	for j := range s.Entities[i].Attributes {
		if s.Entities[i].Attributes[j].ID == attrID {
			mergeAttributeFields(&s.Entities[i].Attributes[j], updates)
			return
		}
	}
}

func applyRelationshipCreate(s *Snapshot, op Operation) {
	rel, ok := decodeRelationship(op.Payload)
	if !ok {
		return
	}
	if relationshipIndex(s, rel.ID) >= 0 {
		return
	}
	s.Relationships = append(s.Relationships, rel)
}

func applyRelationshipMerge(s *Snapshot, op Operation) {
	i := relationshipIndex(s, op.TargetID)
	if i < 0 {
		return
	}
	mergeRelationshipFields(&s.Relationships[i], op.Payload)
}

func applyRelationshipDelete(s *Snapshot, op Operation) {
	i := relationshipIndex(s, op.TargetID)
	if i < 0 {
		return
	}
	s.Relationships = append(s.Relationships[:i], s.Relationships[i+1:]...)
}

func applyERDImport(s *Snapshot, op Operation) {
	overwrite, _ := op.Payload["overwrite"].(bool)
	entities := decodeEntityList(op.Payload["entities"])
	rels := decodeRelationshipList(op.Payload["relationships"])

	if overwrite {
		s.Entities = entities
		s.Relationships = rels
		return
	}

	existingNames := make(map[string]bool, len(s.Entities))
	for _, e := range s.Entities {
		existingNames[strings.ToLower(e.Name)] = true
	}
	for _, e := range entities {
		key := strings.ToLower(e.Name)
		if existingNames[key] {
			continue
		}
		existingNames[key] = true
		s.Entities = append(s.Entities, e)
	}

	existingRelIDs := make(map[string]bool, len(s.Relationships))
	for _, r := range s.Relationships {
		existingRelIDs[r.ID] = true
	}
	for _, r := range rels {
		if existingRelIDs[r.ID] {
			continue
		}
		existingRelIDs[r.ID] = true
		s.Relationships = append(s.Relationships, r)
	}
}

func applyScreenCreate(s *Snapshot, op Operation) {
	scr, ok := decodeScreen(op.Payload)
	if !ok {
		return
	}
	if screenIndex(s, scr.ID) >= 0 {
		return
	}
	s.Screens = append(s.Screens, scr)
}

func applyScreenMerge(s *Snapshot, op Operation) {
	i := screenIndex(s, op.TargetID)
	if i < 0 {
		return
	}
	mergeScreenFields(&s.Screens[i], op.Payload)
}

func applyScreenDelete(s *Snapshot, op Operation) {
	i := screenIndex(s, op.TargetID)
	if i < 0 {
		return
	}
	s.Screens = append(s.Screens[:i], s.Screens[i+1:]...)
	// cascade: orphan flows are stripped by enforceInvariants.
}

func applyScreenImport(s *Snapshot, op Operation) {
	overwrite, _ := op.Payload["overwrite"].(bool)
	screens := decodeScreenList(op.Payload["screens"])
	flows := decodeFlowList(op.Payload["flows"])

	if overwrite {
		s.Screens = screens
		s.Flows = flows
		return
	}

	existingNames := make(map[string]bool, len(s.Screens))
	for _, sc := range s.Screens {
		existingNames[strings.ToLower(sc.Name)] = true
	}
	for _, sc := range screens {
		key := strings.ToLower(sc.Name)
		if existingNames[key] {
			continue
		}
		existingNames[key] = true
		s.Screens = append(s.Screens, sc)
	}

	existingFlowIDs := make(map[string]bool, len(s.Flows))
	for _, f := range s.Flows {
		existingFlowIDs[f.ID] = true
	}
	for _, f := range flows {
		if existingFlowIDs[f.ID] {
			continue
		}
		existingFlowIDs[f.ID] = true
		s.Flows = append(s.Flows, f)
	}
}

func applyFlowCreate(s *Snapshot, op Operation) {
	flow, ok := decodeFlow(op.Payload)
	if !ok {
		return
	}
	if flowIndex(s, flow.ID) >= 0 {
		return
	}
	s.Flows = append(s.Flows, flow)
}

func applyFlowMerge(s *Snapshot, op Operation) {
	i := flowIndex(s, op.TargetID)
	if i < 0 {
		return
	}
	mergeFlowFields(&s.Flows[i], op.Payload)
}

func applyFlowDelete(s *Snapshot, op Operation) {
	i := flowIndex(s, op.TargetID)
	if i < 0 {
		return
	}
	s.Flows = append(s.Flows[:i], s.Flows[i+1:]...)
}

// enforceInvariants drops entities and relationships whose id repeats an
// earlier one (the first occurrence is kept), removes relationships/flows
// whose endpoints no longer exist and de-duplicates attribute ids within
// each entity. It is run after every operation regardless of type, per spec.
func enforceInvariants(s *Snapshot) {
	entityIDs := make(map[string]bool, len(s.Entities))
	keptEntities := s.Entities[:0:0]
	for _, e := range s.Entities {
		if entityIDs[e.ID] {
			continue
		}
		entityIDs[e.ID] = true
		e.Attributes = dedupAttributes(e.Attributes)
		keptEntities = append(keptEntities, e)
	}
	s.Entities = keptEntities
	relIDs := make(map[string]bool, len(s.Relationships))
	kept := s.Relationships[:0:0]
	for _, r := range s.Relationships {
		if entityIDs[r.Source] && entityIDs[r.Target] && !relIDs[r.ID] {
			relIDs[r.ID] = true
			kept = append(kept, r)
		}
	}
	s.Relationships = kept

	screenIDs := make(map[string]bool, len(s.Screens))
	for i := range s.Screens {
		screenIDs[s.Screens[i].ID] = true
	}
	keptFlows := s.Flows[:0:0]
	for _, f := range s.Flows {
		if screenIDs[f.Source] && screenIDs[f.Target] {
			keptFlows = append(keptFlows, f)
		}
	}
	s.Flows = keptFlows
}

func dedupAttributes(attrs []Attribute) []Attribute {
	seen := make(map[string]bool, len(attrs))
	out := make([]Attribute, 0, len(attrs))
	for _, a := range attrs {
		if seen[a.ID] {
			continue
		}
		seen[a.ID] = true
		out = append(out, a)
	}
	return out
}
