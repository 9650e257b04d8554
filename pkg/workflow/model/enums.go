package model

// RoleType is the logical node kind within a workflow graph.
type RoleType string

const (
	RoleAlpha   RoleType = "ALPHA"   // originates tokens
	RoleBeta    RoleType = "BETA"    // processes tokens
	RoleOmega   RoleType = "OMEGA"   // finalizes tokens
	RoleEpsilon RoleType = "EPSILON" // handles errors (the "Ate Path")
	RoleTau     RoleType = "TAU"     // handles timeouts
)

// DecompositionStrategy governs how a BETA role fans work out to children.
type DecompositionStrategy string

const (
	DecompositionHomogeneous   DecompositionStrategy = "HOMOGENEOUS"
	DecompositionHeterogeneous DecompositionStrategy = "HETEROGENEOUS"
)

// ComponentDirection is the orientation of an edge relative to its role.
type ComponentDirection string

const (
	DirectionInbound  ComponentDirection = "INBOUND"
	DirectionOutbound ComponentDirection = "OUTBOUND"
)

// GuardianType names the guard dispatch kind attached to a component.
type GuardianType string

const (
	GuardPassThru            GuardianType = "PASS_THRU"
	GuardCriteriaGate        GuardianType = "CRITERIA_GATE"
	GuardTTLCheck            GuardianType = "TTL_CHECK"
	GuardComposite           GuardianType = "COMPOSITE"
	GuardDirectionalFilter   GuardianType = "DIRECTIONAL_FILTER"
	GuardCerberus            GuardianType = "CERBERUS"
	GuardConditionalInjector GuardianType = "CONDITIONAL_INJECTOR"
)

// UOWStatus is the extended status vocabulary. The first four values come
// from the source's UOWStatus enum; the remaining three are the pilot-facing
// states spec.md §4.5 references but the source enum never defines — see
// DESIGN.md "Open Question decisions" #3 for the reasoning.
type UOWStatus string

const (
	StatusPending              UOWStatus = "PENDING"
	StatusActive               UOWStatus = "ACTIVE"
	StatusCompleted            UOWStatus = "COMPLETED"
	StatusFailed               UOWStatus = "FAILED"
	StatusPaused               UOWStatus = "PAUSED"
	StatusZombiedSoft          UOWStatus = "ZOMBIED_SOFT"
	StatusPendingPilotApproval UOWStatus = "PENDING_PILOT_APPROVAL"
)

// ActorType classifies who may hold a checkout.
type ActorType string

const (
	ActorHuman  ActorType = "HUMAN"
	ActorAI     ActorType = "AI_AGENT"
	ActorSystem ActorType = "SYSTEM"
)

// AssignmentStatus is the lifecycle of an actor-role assignment.
type AssignmentStatus string

const (
	AssignmentActive  AssignmentStatus = "ACTIVE"
	AssignmentRevoked AssignmentStatus = "REVOKED"
)

// MemoryContextType scopes a role-attribute (memory) record.
type MemoryContextType string

const (
	ContextGlobal MemoryContextType = "GLOBAL"
	ContextActor  MemoryContextType = "ACTOR"
)

// HistoryEventType enumerates the kinds of append-only history rows.
type HistoryEventType string

const (
	EventUOWCreated           HistoryEventType = "UOW_CREATED"
	EventStateTransition      HistoryEventType = "STATE_TRANSITION"
	EventConstitutionalWaiver HistoryEventType = "CONSTITUTIONAL_WAIVER"
	EventPilotOverride        HistoryEventType = "PILOT_OVERRIDE"
)

// LogType categorizes an interaction-log / telemetry entry.
type LogType string

const (
	LogInteraction      LogType = "INTERACTION"
	LogTelemetry        LogType = "TELEMETRY"
	LogError            LogType = "ERROR"
	LogGuardianDecision LogType = "GUARDIAN_DECISION"
	LogStateTransition  LogType = "STATE_TRANSITION"
	LogViolation        LogType = "VIOLATION"
)

// SystemActorID is the well-known actor id used to author system-authored
// attribute rows (e.g. initial context on instantiation).
const SystemActorID = "00000000-0000-0000-0000-000000000001"

// ReservedLearnedRuleKey is the result-attribute key that triggers the
// learning harvester instead of being persisted onto the UOW (spec.md §4.6).
const ReservedLearnedRuleKey = "_learned_rule"
