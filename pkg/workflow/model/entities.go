package model

import "time"

// Workflow is a blueprint-tier definition, or (when InstanceID is set) its
// instance-tier clone. Both tiers share this shape; only the physical schema
// differs (spec.md §3).
type Workflow struct {
	ID         string
	InstanceID string // empty for blueprint-tier rows
	Name       string
	Version    string
	Notes      string
	Topology   map[string]interface{} // cached topology, opaque to callers
}

// Role is a logical node in the workflow graph.
type Role struct {
	ID              string
	WorkflowID      string
	Name            string
	Type            RoleType
	Decomposition   DecompositionStrategy // only meaningful for RoleBeta
	ChildWorkflowID string                // recursive gateway reference; never expanded (DESIGN.md Open Question 1)
}

// Interaction is a named queue between roles.
type Interaction struct {
	ID         string
	WorkflowID string
	Name       string
}

// Component is a directed edge joining a role and an interaction.
type Component struct {
	ID            string
	WorkflowID    string
	InteractionID string
	RoleID        string
	Direction     ComponentDirection
	Name          string
}

// Guardian is a gate attached to a component.
type Guardian struct {
	ID          string
	WorkflowID  string
	ComponentID string
	Type        GuardianType
	Config      map[string]interface{}
}

// Actor is an entity (human, AI, or system) that can check out work.
type Actor struct {
	ID           string
	InstanceID   string
	IdentityKey  string
	Type         ActorType
	Capabilities []string
}

// ActorRoleAssignment authorizes an actor to check out work for a role.
type ActorRoleAssignment struct {
	ID      string
	ActorID string
	RoleID  string
	Status  AssignmentStatus
}

// RoleAttribute is a memory record scoped to a role and either the GLOBAL
// context or a specific actor's personal playbook.
type RoleAttribute struct {
	ID             string
	InstanceID     string
	RoleID         string
	ContextType    MemoryContextType
	ContextID      string // literal "GLOBAL" or an actor-id string
	Key            string
	Value          interface{}
	Confidence     int
	IsToxic        bool
	CreatedAt      time.Time
	LastAccessedAt *time.Time
}

// UOW is the atomic work token.
type UOW struct {
	ID                    string
	InstanceID            string
	WorkflowID            string
	ParentID              *string
	CurrentInteractionID  string
	Status                UOWStatus
	ChildCount            int
	FinishedChildCount    int
	LastHeartbeat         *time.Time
	ContentHash           string
	InteractionCount      int
	MaxInteractions       *int
	RetryCount            int
	InteractionPolicy     map[string]interface{} // immutable once set at creation
	InjectedInstructions  string
	KnowledgeFragmentRefs []string
	MutationAuditLog      []MutationAuditEntry
}

// MutationAuditEntry records one CONDITIONAL_INJECTOR mutation (spec.md §4.3.2).
type MutationAuditEntry struct {
	GuardName     string
	Condition     string
	ModelOverride string
	FailoverUsed  bool
	FailoverModel string
	Timestamp     time.Time
}

// ExtractMutationFields pulls the reserved CONDITIONAL_INJECTOR mutation keys
// out of a state-update payload and deletes them from it, so a repository's
// UpdateState can route them onto UOW.InjectedInstructions/
// KnowledgeFragmentRefs/MutationAuditLog instead of leaving them as ordinary
// uow_attributes rows (spec.md §4.3.2: instructions append, knowledge
// fragments union, every mutation appended to the audit log). Callers that
// build these payloads (e.g. the engine's applyGuardMutation) are expected to
// already hold the fully merged value; this just lifts it out.
func ExtractMutationFields(payload map[string]interface{}) (instructions string, hasInstructions bool, knowledgeRefs []string, hasKnowledgeRefs bool, auditLog []MutationAuditEntry, hasAuditLog bool) {
	if raw, ok := payload["_injected_instructions"]; ok {
		if s, ok := raw.(string); ok {
			instructions, hasInstructions = s, true
		}
		delete(payload, "_injected_instructions")
	}
	if raw, ok := payload["_knowledge_fragment_refs"]; ok {
		hasKnowledgeRefs = true
		switch v := raw.(type) {
		case []string:
			knowledgeRefs = v
		case []interface{}:
			for _, item := range v {
				if s, ok := item.(string); ok {
					knowledgeRefs = append(knowledgeRefs, s)
				}
			}
		}
		delete(payload, "_knowledge_fragment_refs")
	}
	if raw, ok := payload["_mutation_audit_log"]; ok {
		hasAuditLog = true
		if entries, ok := raw.([]MutationAuditEntry); ok {
			auditLog = entries
		}
		delete(payload, "_mutation_audit_log")
	}
	return
}

// UOWAttribute is a single versioned payload cell. The "current" value of a
// key is the row with the maximum Version.
type UOWAttribute struct {
	ID        string
	UOWID     string
	Key       string
	Value     interface{}
	Version   int
	ActorID   string
	Reasoning string
	CreatedAt time.Time
}

// UOWHistory is one append-only state-transition record.
type UOWHistory struct {
	ID                    string
	UOWID                 string
	PreviousStatus        UOWStatus
	NewStatus             UOWStatus
	PreviousContentHash   string
	NewContentHash        string
	PreviousInteractionID string
	NewInteractionID      string
	ActorID               string
	Reasoning             string
	EventType             HistoryEventType
	Payload               map[string]interface{}
	CreatedAt             time.Time
}

// InteractionLogEntry is a monotonic telemetry / shadow-error / token-movement
// entry (spec.md §4.7).
type InteractionLogEntry struct {
	ID         string
	InstanceID string
	UOWID      string
	RoleID     string
	LogType    LogType
	Message    string
	Detail     map[string]interface{}
	CreatedAt  time.Time
}

// AttributeMap renders a set of UOWAttribute rows into the current key→value
// view (latest version per key wins).
func AttributeMap(rows []UOWAttribute) map[string]interface{} {
	current := make(map[string]UOWAttribute)
	for _, row := range rows {
		existing, ok := current[row.Key]
		if !ok || row.Version > existing.Version {
			current[row.Key] = row
		}
	}
	out := make(map[string]interface{}, len(current))
	for k, row := range current {
		out[k] = row.Value
	}
	return out
}

// MaxVersion returns the highest version number present for key across rows,
// or 0 if the key has no rows yet.
func MaxVersion(rows []UOWAttribute, key string) int {
	max := 0
	for _, row := range rows {
		if row.Key == key && row.Version > max {
			max = row.Version
		}
	}
	return max
}
