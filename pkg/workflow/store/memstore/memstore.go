// Package memstore is an in-memory implementation of store.Store, grounded
// on the teacher's graph/store/memory.go MemStore[S]: the same
// mutex-protected-map shape, the same transactional-outbox
// pendingEvents/eventIDSet pair, and the same "copy slices out under RLock"
// convention. Designed for tests and single-process demos (cmd/chameleon-seed,
// and cmd/chameleon-agent when store_driver is "memory"); not for production
// multi-node use.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/hash"
	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/model"
	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/store"
)

// MemStore implements store.Store entirely in process memory.
type MemStore struct {
	mu sync.RWMutex

	blueprints map[string]store.Blueprint

	workflows    map[string]model.Workflow
	roles        map[string]model.Role
	interactions map[string]model.Interaction
	components   map[string]model.Component
	guardians    map[string]model.Guardian

	uows       map[string]model.UOW
	attributes map[string][]model.UOWAttribute // uowID -> versioned rows
	history    map[string][]model.UOWHistory   // uowID -> append-only log

	actors      map[string]model.Actor
	assignments map[string]model.ActorRoleAssignment // actorID+"|"+roleID -> assignment

	memories map[string]model.RoleAttribute // memoryID -> record

	pendingEvents []model.InteractionLogEntry
	eventIndex    map[string]int

	idGen func() string
}

// New constructs an empty MemStore.
func New() *MemStore {
	return &MemStore{
		blueprints:    make(map[string]store.Blueprint),
		workflows:     make(map[string]model.Workflow),
		roles:         make(map[string]model.Role),
		interactions:  make(map[string]model.Interaction),
		components:    make(map[string]model.Component),
		guardians:     make(map[string]model.Guardian),
		uows:          make(map[string]model.UOW),
		attributes:    make(map[string][]model.UOWAttribute),
		history:       make(map[string][]model.UOWHistory),
		actors:        make(map[string]model.Actor),
		assignments:   make(map[string]model.ActorRoleAssignment),
		memories:      make(map[string]model.RoleAttribute),
		pendingEvents: make([]model.InteractionLogEntry, 0),
		eventIndex:    make(map[string]int),
		idGen:         func() string { return uuid.NewString() },
	}
}

// SeedBlueprint registers a blueprint template for later CloneIntoInstance
// calls (used by cmd/chameleon-seed).
func (m *MemStore) SeedBlueprint(bp store.Blueprint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blueprints[bp.Workflow.ID] = bp
}

// PutBlueprint is SeedBlueprint with sqlstore.Store's (ctx, bp) error shape,
// so cmd/chameleon-seed can load a blueprint into either backend uniformly.
func (m *MemStore) PutBlueprint(_ context.Context, bp store.Blueprint) error {
	m.SeedBlueprint(bp)
	return nil
}

func assignmentKey(actorID, roleID string) string { return actorID + "|" + roleID }

// ---- UOWRepository ----

func (m *MemStore) Create(_ context.Context, spec store.UOWSpec) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.idGen()
	now := time.Now().UTC()

	attrs := make([]model.UOWAttribute, 0, len(spec.InitialAttributes))
	for k, v := range spec.InitialAttributes {
		attrs = append(attrs, model.UOWAttribute{
			ID: m.idGen(), UOWID: id, Key: k, Value: v, Version: 1,
			ActorID: spec.InitialAttributesBy, CreatedAt: now,
		})
	}
	contentHash, err := hash.ComputeContentHash(spec.InitialAttributes)
	if err != nil {
		return "", model.NewError(model.CodeInstantiationFailed, "create", "memstore", id, err)
	}

	m.uows[id] = model.UOW{
		ID: id, InstanceID: spec.InstanceID, WorkflowID: spec.WorkflowID,
		ParentID: spec.ParentID, CurrentInteractionID: spec.CurrentInteractionID,
		Status: model.StatusPending, LastHeartbeat: &now, ContentHash: contentHash,
		MaxInteractions: spec.MaxInteractions, InteractionPolicy: spec.InteractionPolicy,
	}
	m.attributes[id] = attrs
	m.history[id] = append(m.history[id], model.UOWHistory{
		ID: m.idGen(), UOWID: id, NewStatus: model.StatusPending, NewContentHash: contentHash,
		NewInteractionID: spec.CurrentInteractionID, ActorID: spec.InitialAttributesBy,
		EventType: model.EventUOWCreated, CreatedAt: now,
	})
	return id, nil
}

func (m *MemStore) Get(_ context.Context, id string) (store.FullUOW, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	uow, ok := m.uows[id]
	if !ok {
		return store.FullUOW{}, store.ErrNotFound
	}
	return store.FullUOW{UOW: uow, Attributes: model.AttributeMap(m.attributes[id])}, nil
}

func (m *MemStore) UpdateState(_ context.Context, guard store.GuardContext, id, actorID string, newStatus model.UOWStatus, newInteractionID string, payload map[string]interface{}, autoIncrement bool, reasoning string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateStateLocked(guard, id, actorID, newStatus, newInteractionID, payload, autoIncrement, reasoning)
}

// updateStateLocked assumes m.mu is already held for writing.
func (m *MemStore) updateStateLocked(guard store.GuardContext, id, actorID string, newStatus model.UOWStatus, newInteractionID string, payload map[string]interface{}, autoIncrement bool, reasoning string) error {
	uow, ok := m.uows[id]
	if !ok {
		return store.ErrNotFound
	}
	if guard != nil && !guard.IsAuthorized(context.Background(), actorID, id) {
		m.emitViolationLocked(store.ViolationPacket{
			Rule:     "AUTHORIZATION",
			Severity: "CRITICAL",
			UOWID:    id,
			Remedy:   fmt.Sprintf("actor %s is not the holder of record for uow %s; re-checkout before mutating", actorID, id),
		})
		return model.NewError(model.CodeGuardUnauthorized, "update_state", "memstore", id, nil)
	}

	// InteractionPolicy is immutable once set (spec.md §4.1): silently drop
	// any attempt to mutate it through the attribute payload.
	delete(payload, "interaction_policy")

	instructions, hasInstructions, knowledgeRefs, hasKnowledgeRefs, auditLog, hasAuditLog := model.ExtractMutationFields(payload)

	previousStatus := uow.Status
	previousHash := uow.ContentHash
	previousInteraction := uow.CurrentInteractionID

	existing := m.attributes[id]
	current := model.AttributeMap(existing)
	now := time.Now().UTC()
	for k, v := range payload {
		current[k] = v
		nextVersion := model.MaxVersion(existing, k) + 1
		existing = append(existing, model.UOWAttribute{
			ID: m.idGen(), UOWID: id, Key: k, Value: v, Version: nextVersion,
			ActorID: actorID, Reasoning: reasoning, CreatedAt: now,
		})
	}
	m.attributes[id] = existing

	newHash, err := hash.ComputeContentHash(current)
	if err != nil {
		return model.NewError(model.CodeStateDrift, "update_state", "memstore", id, err)
	}

	uow.Status = newStatus
	uow.ContentHash = newHash
	uow.LastHeartbeat = &now
	if newInteractionID != "" {
		uow.CurrentInteractionID = newInteractionID
	}
	if autoIncrement {
		uow.InteractionCount++
	}
	if hasInstructions {
		uow.InjectedInstructions = instructions
	}
	if hasKnowledgeRefs {
		uow.KnowledgeFragmentRefs = knowledgeRefs
	}
	if hasAuditLog {
		uow.MutationAuditLog = auditLog
	}
	m.uows[id] = uow

	m.history[id] = append(m.history[id], model.UOWHistory{
		ID: m.idGen(), UOWID: id, PreviousStatus: previousStatus, NewStatus: newStatus,
		PreviousContentHash: previousHash, NewContentHash: newHash,
		PreviousInteractionID: previousInteraction, NewInteractionID: uow.CurrentInteractionID,
		ActorID: actorID, Reasoning: reasoning, EventType: model.EventStateTransition,
		Payload: payload, CreatedAt: now,
	})
	return nil
}

func (m *MemStore) SaveWithPilotCheck(ctx context.Context, guard store.GuardContext, id, actorID string, newStatus model.UOWStatus, newInteractionID string, payload map[string]interface{}, highRiskSet map[model.UOWStatus]bool, reasoning string) (bool, string, error) {
	if highRiskSet[newStatus] && guard != nil {
		approved, err := guard.WaitForPilot(ctx, id, reasoning, 30*time.Second)
		if err != nil {
			return false, "", err
		}
		if !approved {
			return false, string(model.CodePilotApprovalRequired), nil
		}
	}
	if err := m.UpdateState(ctx, guard, id, actorID, newStatus, newInteractionID, payload, true, reasoning); err != nil {
		return false, "", err
	}
	return true, "", nil
}

func (m *MemStore) AppendHistory(_ context.Context, id string, eventType model.HistoryEventType, payload map[string]interface{}, previousHash string, actorID, reasoning string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.uows[id]; !ok {
		return store.ErrNotFound
	}
	m.history[id] = append(m.history[id], model.UOWHistory{
		ID: m.idGen(), UOWID: id, PreviousContentHash: previousHash, ActorID: actorID,
		Reasoning: reasoning, EventType: eventType, Payload: payload, CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (m *MemStore) FindByStatus(_ context.Context, status model.UOWStatus, instanceID string) ([]model.UOW, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.UOW
	for _, u := range m.uows {
		if u.Status == status && (instanceID == "" || u.InstanceID == instanceID) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) FindByInteractionLimit(_ context.Context, instanceID string) ([]model.UOW, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.UOW
	for _, u := range m.uows {
		if instanceID != "" && u.InstanceID != instanceID {
			continue
		}
		if u.MaxInteractions != nil && u.InteractionCount >= *u.MaxInteractions {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) GetHistory(_ context.Context, id string, limit int) ([]model.UOWHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := m.history[id]
	if limit > 0 && limit < len(rows) {
		rows = rows[len(rows)-limit:]
	}
	out := make([]model.UOWHistory, len(rows))
	copy(out, rows)
	return out, nil
}

func (m *MemStore) VerifyStateHash(_ context.Context, id string, emitViolation bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	uow, ok := m.uows[id]
	if !ok {
		return false, store.ErrNotFound
	}
	ok2 := hash.VerifyStateHash(model.AttributeMap(m.attributes[id]), uow.ContentHash)
	if !ok2 && emitViolation {
		m.emitViolationLocked(store.ViolationPacket{
			Rule:     "STATE_INTEGRITY",
			Severity: "CRITICAL",
			UOWID:    id,
			Remedy:   "recompute content hash from the live attribute set or quarantine the uow",
			Detail:   map[string]interface{}{"instance_id": uow.InstanceID},
		})
	}
	return ok2, nil
}

// emitViolationLocked appends a ViolationPacket-shaped entry onto the
// transactional outbox (spec.md §4.1, §7: every authorization/state-integrity
// violation is "accompanied by a ViolationPacket on the broadcaster"). Assumes
// m.mu is already held for writing.
func (m *MemStore) emitViolationLocked(v store.ViolationPacket) {
	detail := map[string]interface{}{"rule": v.Rule, "severity": v.Severity, "remedy": v.Remedy}
	for k, val := range v.Detail {
		detail[k] = val
	}
	m.pendingEvents = append(m.pendingEvents, model.InteractionLogEntry{
		ID: m.idGen(), UOWID: v.UOWID, LogType: model.LogViolation,
		Message: v.Rule + ": " + v.Remedy, Detail: detail, CreatedAt: time.Now().UTC(),
	})
}

func (m *MemStore) ClearHeartbeat(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	uow, ok := m.uows[id]
	if !ok {
		return store.ErrNotFound
	}
	uow.LastHeartbeat = nil
	m.uows[id] = uow
	return nil
}

func (m *MemStore) Heartbeat(_ context.Context, id, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	uow, ok := m.uows[id]
	if !ok {
		return store.ErrNotFound
	}
	if uow.Status != model.StatusActive {
		return model.NewError(model.CodeNotLocked, "heartbeat", "memstore", id, nil)
	}
	now := time.Now().UTC()
	uow.LastHeartbeat = &now
	m.uows[id] = uow
	return nil
}

// ResetInteractionCount zeroes InteractionCount directly (spec.md §4.5);
// UpdateState's autoIncrement lever can only ever add one.
func (m *MemStore) ResetInteractionCount(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	uow, ok := m.uows[id]
	if !ok {
		return store.ErrNotFound
	}
	uow.InteractionCount = 0
	m.uows[id] = uow
	return nil
}

// ---- BlueprintRepository ----

func (m *MemStore) GetBlueprint(_ context.Context, templateID string) (store.Blueprint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bp, ok := m.blueprints[templateID]
	if !ok {
		return store.Blueprint{}, model.NewError(model.CodeTemplateNotFound, "get_blueprint", "memstore", templateID, nil)
	}
	return bp, nil
}

func (m *MemStore) CloneIntoInstance(_ context.Context, instanceID string, bp store.Blueprint) (store.InstanceIDMaps, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := store.InstanceIDMaps{
		WorkflowID:     m.idGen(),
		RoleIDs:        make(map[string]string, len(bp.Roles)),
		InteractionIDs: make(map[string]string, len(bp.Interactions)),
		ComponentIDs:   make(map[string]string, len(bp.Components)),
		GuardianIDs:    make(map[string]string, len(bp.Guardians)),
	}

	wf := bp.Workflow
	wf.ID = ids.WorkflowID
	wf.InstanceID = instanceID
	m.workflows[ids.WorkflowID] = wf

	for _, r := range bp.Roles {
		newID := m.idGen()
		ids.RoleIDs[r.ID] = newID
		clone := r
		clone.ID = newID
		clone.WorkflowID = ids.WorkflowID
		m.roles[newID] = clone
		if clone.Type == model.RoleAlpha {
			ids.AlphaRoleID = newID
		}
	}
	for _, in := range bp.Interactions {
		newID := m.idGen()
		ids.InteractionIDs[in.ID] = newID
		clone := in
		clone.ID = newID
		clone.WorkflowID = ids.WorkflowID
		m.interactions[newID] = clone
	}
	for _, c := range bp.Components {
		newID := m.idGen()
		ids.ComponentIDs[c.ID] = newID
		clone := c
		clone.ID = newID
		clone.WorkflowID = ids.WorkflowID
		clone.RoleID = ids.RoleIDs[c.RoleID]
		clone.InteractionID = ids.InteractionIDs[c.InteractionID]
		m.components[newID] = clone
		if clone.RoleID == ids.AlphaRoleID && clone.Direction == model.DirectionOutbound {
			ids.AlphaOutboundID = clone.InteractionID
		}
	}
	for _, g := range bp.Guardians {
		newID := m.idGen()
		ids.GuardianIDs[g.ID] = newID
		clone := g
		clone.ID = newID
		clone.WorkflowID = ids.WorkflowID
		clone.ComponentID = ids.ComponentIDs[g.ComponentID]
		m.guardians[newID] = clone
	}

	return ids, nil
}

// ---- MemoryRepository ----

func (m *MemStore) UpsertActorMemory(_ context.Context, instanceID, roleID, actorID, key string, value interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for id, rec := range m.memories {
		if rec.InstanceID == instanceID && rec.RoleID == roleID && rec.ContextID == actorID && rec.Key == key {
			rec.Value = value
			rec.LastAccessedAt = &now
			m.memories[id] = rec
			return nil
		}
	}
	id := m.idGen()
	m.memories[id] = model.RoleAttribute{
		ID: id, InstanceID: instanceID, RoleID: roleID, ContextType: model.ContextActor,
		ContextID: actorID, Key: key, Value: value, Confidence: 1, CreatedAt: now,
	}
	return nil
}

// GetMemoryContext merges global and per-actor memory, actor entries
// overriding global ones by key (spec.md §4.6), and stamps last_accessed_at
// on every record that contributed to the merged view. Merge order is two
// deterministic passes (global then actor) rather than a single pass over
// the map, since Go's map iteration order is randomized and a single pass
// would make the override non-deterministic.
func (m *MemStore) GetMemoryContext(_ context.Context, instanceID, roleID, actorID string) (map[string]interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	out := make(map[string]interface{})
	touch := func(contextID string) {
		for id, rec := range m.memories {
			if rec.IsToxic || rec.InstanceID != instanceID || rec.RoleID != roleID || rec.ContextID != contextID {
				continue
			}
			out[rec.Key] = rec.Value
			rec.LastAccessedAt = &now
			m.memories[id] = rec
		}
	}
	touch(string(model.ContextGlobal))
	touch(actorID)
	return out, nil
}

func (m *MemStore) Retrieve(_ context.Context, instanceID, roleID, actorID, query string) ([]model.RoleAttribute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.RoleAttribute
	for _, rec := range m.memories {
		if rec.IsToxic || rec.InstanceID != instanceID || rec.RoleID != roleID {
			continue
		}
		if rec.ContextID != string(model.ContextGlobal) && rec.ContextID != actorID {
			continue
		}
		if query == "" || fmt.Sprintf("%v", rec.Value) == query || rec.Key == query {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemStore) MarkToxic(_ context.Context, memoryID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.memories[memoryID]
	if !ok {
		return store.ErrNotFound
	}
	rec.IsToxic = true
	m.memories[memoryID] = rec
	return nil
}

func (m *MemStore) DecayOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, rec := range m.memories {
		last := rec.CreatedAt
		if rec.LastAccessedAt != nil {
			last = *rec.LastAccessedAt
		}
		if last.Before(cutoff) && !rec.IsToxic {
			rec.Confidence--
			if rec.Confidence <= 0 {
				delete(m.memories, id)
			} else {
				m.memories[id] = rec
			}
			n++
		}
	}
	return n, nil
}

// ---- TelemetryOutbox ----

func (m *MemStore) Append(_ context.Context, entry model.InteractionLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == "" {
		entry.ID = m.idGen()
	}
	m.eventIndex[entry.ID] = len(m.pendingEvents)
	m.pendingEvents = append(m.pendingEvents, entry)
	return nil
}

func (m *MemStore) PendingEvents(_ context.Context, limit int) ([]model.InteractionLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := len(m.pendingEvents)
	if limit > 0 && limit < count {
		count = limit
	}
	out := make([]model.InteractionLogEntry, count)
	copy(out, m.pendingEvents[:count])
	return out, nil
}

func (m *MemStore) MarkEventsEmitted(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(ids) == 0 {
		return nil
	}
	remove := make(map[string]bool, len(ids))
	for _, id := range ids {
		remove[id] = true
	}
	filtered := make([]model.InteractionLogEntry, 0, len(m.pendingEvents))
	newIndex := make(map[string]int)
	for _, e := range m.pendingEvents {
		if remove[e.ID] {
			continue
		}
		newIndex[e.ID] = len(filtered)
		filtered = append(filtered, e)
	}
	m.pendingEvents = filtered
	m.eventIndex = newIndex
	return nil
}

// ---- ActorRepository ----

func (m *MemStore) GetActiveAssignment(_ context.Context, actorID, roleID string) (model.ActorRoleAssignment, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assignments[assignmentKey(actorID, roleID)]
	if !ok || a.Status != model.AssignmentActive {
		return model.ActorRoleAssignment{}, false, nil
	}
	return a, true, nil
}

// SeedActor and SeedAssignment let tests/seed tooling populate actors
// directly, mirroring how the teacher's fixtures preload MemStore.
func (m *MemStore) SeedActor(a model.Actor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actors[a.ID] = a
}

func (m *MemStore) SeedAssignment(a model.ActorRoleAssignment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments[assignmentKey(a.ActorID, a.RoleID)] = a
}

// ---- RoleTopology ----

func (m *MemStore) InboundComponents(_ context.Context, roleID string) ([]model.Component, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Component
	for _, c := range m.components {
		if c.RoleID == roleID && c.Direction == model.DirectionInbound {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MemStore) OutboundComponents(_ context.Context, roleID string) ([]model.Component, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Component
	for _, c := range m.components {
		if c.RoleID == roleID && c.Direction == model.DirectionOutbound {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MemStore) GuardianFor(_ context.Context, componentID string) (model.Guardian, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, g := range m.guardians {
		if g.ComponentID == componentID {
			return g, true, nil
		}
	}
	return model.Guardian{}, false, nil
}

func (m *MemStore) RoleByID(_ context.Context, roleID string) (model.Role, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.roles[roleID]
	return r, ok, nil
}

func (m *MemStore) RoleByType(_ context.Context, workflowID string, roleType model.RoleType) (model.Role, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.roles {
		if r.WorkflowID == workflowID && r.Type == roleType {
			return r, true, nil
		}
	}
	return model.Role{}, false, nil
}

func (m *MemStore) InteractionByID(_ context.Context, id string) (model.Interaction, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	in, ok := m.interactions[id]
	return in, ok, nil
}

func (m *MemStore) RoleForInboundInteraction(_ context.Context, interactionID string) (model.Role, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.components {
		if c.InteractionID == interactionID && c.Direction == model.DirectionInbound {
			if r, ok := m.roles[c.RoleID]; ok {
				return r, true, nil
			}
		}
	}
	return model.Role{}, false, nil
}

var _ store.Store = (*MemStore)(nil)
