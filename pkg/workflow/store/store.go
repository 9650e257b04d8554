// Package store defines the persistence contract shared by every other
// workflow component (spec.md §4.1), isolating storage concerns. Grounded
// on the teacher's graph/store/store.go Store[S] interface — adapted from
// generic state-checkpointing to concrete UOW/attribute/history persistence,
// keeping the transactional-outbox method pair (PendingEvents/
// MarkEventsEmitted) and the ErrNotFound sentinel convention.
package store

import (
	"context"
	"time"

	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/model"
)

// ErrNotFound is returned when a requested id does not exist.
var ErrNotFound = model.NewError(model.CodeNotFound, "lookup", "store", "", nil)

// GuardContext is the authorization capability every mutating call must
// present (spec.md §4.1 "Guard-authorization hook").
type GuardContext interface {
	// IsAuthorized reports whether actorID may mutate uowID.
	IsAuthorized(ctx context.Context, actorID, uowID string) bool
	// WaitForPilot blocks (up to timeout) for a pilot decision on uowID,
	// returning true if approved/waived.
	WaitForPilot(ctx context.Context, uowID, reason string, timeout time.Duration) (bool, error)
}

// UOWSpec is the input to Create.
type UOWSpec struct {
	InstanceID           string
	WorkflowID           string
	ParentID             *string
	CurrentInteractionID string
	InitialAttributes    map[string]interface{}
	InitialAttributesBy  string // actor id authoring the initial attribute rows
	MaxInteractions      *int
	InteractionPolicy    map[string]interface{}
}

// FullUOW is the full UOW record returned by Get: the token plus its current
// attribute map.
type FullUOW struct {
	UOW        model.UOW
	Attributes map[string]interface{}
}

// ViolationPacket is emitted to the broadcaster whenever an authorization or
// state-integrity rule is violated (spec.md §4.1, §7).
type ViolationPacket struct {
	Rule     string
	Severity string
	UOWID    string
	Remedy   string
	Detail   map[string]interface{}
}

// UOWRepository is the narrow UOW-lifecycle contract of spec.md §4.1.
type UOWRepository interface {
	// Create inserts a PENDING UOW plus initial attributes, computes the
	// initial content-hash, and emits UOW_CREATED history.
	Create(ctx context.Context, spec UOWSpec) (id string, err error)

	// Get returns the full UOW including current attribute map.
	Get(ctx context.Context, id string) (FullUOW, error)

	// UpdateState merges payload into the attribute set (appending
	// versioned rows), recomputes content-hash, updates status/heartbeat,
	// and appends a STATE_TRANSITION history row. autoIncrement advances
	// InteractionCount when true. newInteractionID moves the UOW to a
	// different interaction queue when non-empty (e.g. Ate-path routing);
	// pass "" to leave CurrentInteractionID unchanged. Any attempt to
	// mutate InteractionPolicy is silently ignored (spec.md §4.1).
	UpdateState(ctx context.Context, guard GuardContext, id string, actorID string, newStatus model.UOWStatus, newInteractionID string, payload map[string]interface{}, autoIncrement bool, reasoning string) error

	// SaveWithPilotCheck wraps UpdateState: when newStatus is in
	// highRiskSet it first calls guard.WaitForPilot; on rejection it
	// returns blockedBy="PILOT_APPROVAL_REQUIRED" without mutating state.
	SaveWithPilotCheck(ctx context.Context, guard GuardContext, id, actorID string, newStatus model.UOWStatus, newInteractionID string, payload map[string]interface{}, highRiskSet map[model.UOWStatus]bool, reasoning string) (success bool, blockedBy string, err error)

	// AppendHistory is strictly additive.
	AppendHistory(ctx context.Context, id string, eventType model.HistoryEventType, payload map[string]interface{}, previousHash string, actorID, reasoning string) error

	FindByStatus(ctx context.Context, status model.UOWStatus, instanceID string) ([]model.UOW, error)
	FindByInteractionLimit(ctx context.Context, instanceID string) ([]model.UOW, error)
	GetHistory(ctx context.Context, id string, limit int) ([]model.UOWHistory, error)

	// VerifyStateHash recomputes the hash from the live attribute set and
	// compares it with the stored value.
	VerifyStateHash(ctx context.Context, id string, emitViolation bool) (bool, error)

	// ClearHeartbeat nulls LastHeartbeat without touching status, attributes,
	// or history. UpdateState always stamps LastHeartbeat to "now" on every
	// write, so the zombie sweeper calls this separately after reclaiming a
	// UOW to leave the cleared-heartbeat signal the Tau role's guard checks
	// for (spec.md §4.4.1).
	ClearHeartbeat(ctx context.Context, id string) error

	// Heartbeat advances LastHeartbeat to now for an ACTIVE uow, without
	// touching status, attributes, or content-hash, and without appending a
	// history row (this is called far more often than any other mutation,
	// so it stays off the append-only log). Calling it twice with the same
	// actorID is a no-op beyond the timestamp advance. Fails with
	// CodeNotLocked if the UOW isn't ACTIVE.
	Heartbeat(ctx context.Context, id, actorID string) error

	// ResetInteractionCount zeroes InteractionCount directly, bypassing
	// UpdateState's increment-only autoIncrement lever. Used by
	// pilot.SubmitClarification to actually clear the Ambiguity Lock
	// (spec.md §4.5) rather than merely recording that a reset was
	// requested.
	ResetInteractionCount(ctx context.Context, id string) error
}

// BlueprintRepository is the read-only blueprint-tier accessor plus the
// clone-into-instance operation used by instantiate_workflow.
type BlueprintRepository interface {
	GetBlueprint(ctx context.Context, templateID string) (Blueprint, error)
	CloneIntoInstance(ctx context.Context, instanceID string, bp Blueprint) (InstanceIDMaps, error)
}

// BlueprintWriter is the blueprint-tier write side used only by
// cmd/chameleon-seed; not part of Store because the running engine never
// writes blueprints itself. Both MemStore and sqlstore.Store implement it.
type BlueprintWriter interface {
	PutBlueprint(ctx context.Context, bp Blueprint) error
}

// Blueprint is the full in-memory shape of a workflow template.
type Blueprint struct {
	Workflow     model.Workflow
	Roles        []model.Role
	Interactions []model.Interaction
	Components   []model.Component
	Guardians    []model.Guardian
}

// InstanceIDMaps preserves blueprint→instance id mappings across the clone
// (spec.md §4.2.1 step 3).
type InstanceIDMaps struct {
	WorkflowID      string
	RoleIDs         map[string]string // blueprint role id -> instance role id
	InteractionIDs  map[string]string
	ComponentIDs    map[string]string
	GuardianIDs     map[string]string
	AlphaRoleID     string
	AlphaOutboundID string
}

// MemoryRepository is the role-attribute (memory) store of spec.md §4.6.
type MemoryRepository interface {
	UpsertActorMemory(ctx context.Context, instanceID, roleID, actorID, key string, value interface{}) error
	GetMemoryContext(ctx context.Context, instanceID, roleID, actorID string) (map[string]interface{}, error)
	Retrieve(ctx context.Context, instanceID, roleID, actorID, query string) ([]model.RoleAttribute, error)
	MarkToxic(ctx context.Context, memoryID, reason string) error
	DecayOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// TelemetryOutbox implements the transactional-outbox pattern for reliable
// event delivery (spec.md §4.7), grounded on the teacher's
// PendingEvents/MarkEventsEmitted pair.
type TelemetryOutbox interface {
	Append(ctx context.Context, entry model.InteractionLogEntry) error
	PendingEvents(ctx context.Context, limit int) ([]model.InteractionLogEntry, error)
	MarkEventsEmitted(ctx context.Context, ids []string) error
}

// ActorRepository manages actors and their role assignments.
type ActorRepository interface {
	GetActiveAssignment(ctx context.Context, actorID, roleID string) (model.ActorRoleAssignment, bool, error)
}

// RoleTopology is the per-role lookup used by checkout/submit to find
// inbound/outbound components and their guardians.
type RoleTopology interface {
	InboundComponents(ctx context.Context, roleID string) ([]model.Component, error)
	OutboundComponents(ctx context.Context, roleID string) ([]model.Component, error)
	GuardianFor(ctx context.Context, componentID string) (model.Guardian, bool, error)
	RoleByID(ctx context.Context, roleID string) (model.Role, bool, error)
	RoleByType(ctx context.Context, workflowID string, roleType model.RoleType) (model.Role, bool, error)
	InteractionByID(ctx context.Context, id string) (model.Interaction, bool, error)

	// RoleForInboundInteraction finds the role whose inbound component
	// drains interactionID (the queue a UOW is currently sitting in). Used
	// by the learning harvester to attribute a `_learned_rule` to the role
	// that owned the work just submitted.
	RoleForInboundInteraction(ctx context.Context, interactionID string) (model.Role, bool, error)
}

// Store is the complete persistence contract consumed by
// pkg/workflow/engine, pkg/workflow/sweeper, and pkg/workflow/pilot.
type Store interface {
	UOWRepository
	BlueprintRepository
	MemoryRepository
	TelemetryOutbox
	ActorRepository
	RoleTopology
}
