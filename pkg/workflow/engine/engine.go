// Package engine implements the Engine Controller of spec.md §4.2: the
// transport-agnostic core that both cmd/chameleond's HTTP surface and any
// future MCP-style adapter call into. Grounded structurally on the teacher's
// graph/engine.go (struct-based orchestrator, functional options,
// EngineError{Message, Code}, Prometheus metrics via promauto) and
// semantically on original_source/chameleon_workflow_engine/engine.go's
// instantiate_workflow/checkout_work/submit_work/report_failure step
// sequences.
//
// Limitation: SubmitWork and ReportFailure check only that the UOW is
// ACTIVE, not which actor checked it out; no lock owner is recorded.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/clydewatts1/chameleon-workflow-engine/pkg/shared/logging"
	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/guard"
	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/model"
	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/store"
)

// EngineError is the typed error surfaced by every Engine operation, mirroring
// the teacher's EngineError{Message, Code} shape so callers can branch on Code
// without parsing strings.
type EngineError struct {
	Message string
	Code    model.Code
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return string(e.Code) + ": " + e.Message
	}
	return e.Message
}

func newEngineError(code model.Code, format string, args ...interface{}) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Broadcaster is the narrow telemetry contract the engine emits through
// (spec.md §4.7); implemented by pkg/workflow/emit.
type Broadcaster interface {
	Emit(ctx context.Context, eventType string, payload map[string]interface{})
}

// ModelResolver validates/fails-over model_override payloads; implemented by
// pkg/workflow/provider.Router.
type ModelResolver = guard.ModelResolver

// Engine is the Engine Controller.
type Engine struct {
	store            store.Store
	broadcaster      Broadcaster
	resolver         ModelResolver
	guardCtx         store.GuardContext
	clock            guard.Clock
	log              *logrus.Entry
	metrics          *Metrics
	highRiskStatus   map[model.UOWStatus]bool
	pilotWaitTimeout time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger overrides the default logger (a fresh logrus logger writing
// to stderr).
func WithLogger(log *logrus.Entry) Option {
	return func(e *Engine) { e.log = log }
}

// WithBroadcaster wires the telemetry broadcaster (pkg/workflow/emit).
func WithBroadcaster(b Broadcaster) Option {
	return func(e *Engine) { e.broadcaster = b }
}

// WithModelResolver wires the provider router for CONDITIONAL_INJECTOR
// model_override resolution.
func WithModelResolver(r ModelResolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// WithClock overrides the guard evaluation clock (testing TTL_CHECK).
func WithClock(c guard.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithHighRiskStatuses designates which target statuses require pilot
// approval via SaveWithPilotCheck (spec.md §4.5).
func WithHighRiskStatuses(statuses ...model.UOWStatus) Option {
	return func(e *Engine) {
		e.highRiskStatus = make(map[model.UOWStatus]bool, len(statuses))
		for _, s := range statuses {
			e.highRiskStatus[s] = true
		}
	}
}

// WithPilotWaitTimeout records a pilot-wait timeout on the Engine. The value
// is not read: both store backends' SaveWithPilotCheck pass a fixed
// 30-second timeout to GuardContext.WaitForPilot.
func WithPilotWaitTimeout(d time.Duration) Option {
	return func(e *Engine) { e.pilotWaitTimeout = d }
}

// WithGuardContext wires the authorization/pilot-wait capability
// (pkg/workflow/guardctx) that high-risk status transitions block on.
func WithGuardContext(g store.GuardContext) Option {
	return func(e *Engine) { e.guardCtx = g }
}

// New builds an Engine over the given store.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:            s,
		log:              logrus.NewEntry(logrus.New()),
		clock:            time.Now,
		highRiskStatus:   map[model.UOWStatus]bool{},
		pilotWaitTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) emit(ctx context.Context, eventType string, payload map[string]interface{}) {
	if e.broadcaster != nil {
		e.broadcaster.Emit(ctx, eventType, payload)
	}
}

// emitViolation records a ViolationPacket directly onto the store's
// transactional outbox and forwards it to the broadcaster, satisfying
// spec.md §4.1/§7's "always accompanied by a ViolationPacket" requirement for
// authorization and state-integrity failures caught at the engine layer.
func (e *Engine) emitViolation(ctx context.Context, v store.ViolationPacket) {
	detail := map[string]interface{}{"rule": v.Rule, "severity": v.Severity, "remedy": v.Remedy}
	for k, val := range v.Detail {
		detail[k] = val
	}
	_ = e.store.Append(ctx, model.InteractionLogEntry{
		UOWID: v.UOWID, LogType: model.LogViolation, Message: v.Rule + ": " + v.Remedy, Detail: detail,
	})
	e.emit(ctx, "VIOLATION", detail)
}

// InstantiateWorkflow clones a blueprint into a new instance and seeds the
// Alpha UOW (spec.md §4.2.1).
func (e *Engine) InstantiateWorkflow(ctx context.Context, templateID string, initialContext map[string]interface{}, actorID string) (instanceID, alphaUOWID string, err error) {
	start := time.Now()
	fields := logging.NewComponentLogger(e.log.Logger, "engine").WithField("operation", "instantiate_workflow")

	bp, err := e.store.GetBlueprint(ctx, templateID)
	if err != nil {
		return "", "", newEngineError(model.CodeTemplateNotFound, "blueprint %s not found: %v", templateID, err)
	}

	instanceID = uuid.NewString()
	ids, err := e.store.CloneIntoInstance(ctx, instanceID, bp)
	if err != nil {
		return "", "", newEngineError(model.CodeInstantiationFailed, "clone blueprint %s: %v", templateID, err)
	}
	if ids.AlphaRoleID == "" {
		return "", "", newEngineError(model.CodeInvalidBlueprint, "blueprint %s has no ALPHA role", templateID)
	}
	if ids.AlphaOutboundID == "" {
		return "", "", newEngineError(model.CodeInvalidBlueprint, "blueprint %s's ALPHA role has no outbound interaction", templateID)
	}

	alphaUOWID, err = e.store.Create(ctx, store.UOWSpec{
		InstanceID:           instanceID,
		WorkflowID:           ids.WorkflowID,
		CurrentInteractionID: ids.AlphaOutboundID,
		InitialAttributes:    initialContext,
		InitialAttributesBy:  actorID,
	})
	if err != nil {
		return "", "", newEngineError(model.CodeInstantiationFailed, "create alpha uow: %v", err)
	}

	fields.WithField("instance_id", instanceID).WithField("duration_ms", time.Since(start).Milliseconds()).
		Info("workflow instantiated")
	if e.metrics != nil {
		e.metrics.ObserveInstantiate(time.Since(start))
	}
	e.emit(ctx, "WORKFLOW_INSTANTIATED", map[string]interface{}{"instance_id": instanceID, "alpha_uow_id": alphaUOWID})

	return instanceID, alphaUOWID, nil
}

// CheckedOutWork is the result of a successful CheckoutWork call.
type CheckedOutWork struct {
	UOWID      string
	Attributes map[string]interface{}
	Context    map[string]interface{}
}

// CheckoutWork acquires a Unit of Work from a role's inbound queue, evaluates
// any attached guard, and locks it via the PENDING→ACTIVE compare-and-swap
// transition (spec.md §4.2.2; no advisory locks, DESIGN.md decision #2).
func (e *Engine) CheckoutWork(ctx context.Context, actorID, roleID string) (*CheckedOutWork, error) {
	role, ok, err := e.store.RoleByID(ctx, roleID)
	if err != nil {
		return nil, newEngineError(model.CodeCheckoutFailed, "lookup role %s: %v", roleID, err)
	}
	if !ok {
		return nil, newEngineError(model.CodeNotFound, "role %s not found", roleID)
	}

	if _, assigned, err := e.store.GetActiveAssignment(ctx, actorID, roleID); err != nil {
		return nil, newEngineError(model.CodeCheckoutFailed, "lookup actor assignment: %v", err)
	} else if !assigned {
		e.emitViolation(ctx, store.ViolationPacket{
			Rule:     "AUTHORIZATION",
			Severity: "CRITICAL",
			Remedy:   fmt.Sprintf("grant actor %s an active assignment to role %s before checkout", actorID, roleID),
			Detail:   map[string]interface{}{"actor_id": actorID, "role_id": roleID},
		})
		return nil, newEngineError(model.CodeNotAuthorized, "actor %s has no active assignment to role %s", actorID, roleID)
	}

	inbound, err := e.store.InboundComponents(ctx, roleID)
	if err != nil {
		return nil, newEngineError(model.CodeCheckoutFailed, "list inbound components: %v", err)
	}
	if len(inbound) == 0 {
		return nil, nil
	}

	componentByInteraction := make(map[string]model.Component, len(inbound))
	for _, component := range inbound {
		componentByInteraction[component.InteractionID] = component
	}

	candidates, err := e.store.FindByStatus(ctx, model.StatusPending, "")
	if err != nil {
		return nil, newEngineError(model.CodeCheckoutFailed, "find pending uows: %v", err)
	}

	for _, candidate := range candidates {
		component, relevant := componentByInteraction[candidate.CurrentInteractionID]
		if !relevant {
			continue
		}

		full, err := e.store.Get(ctx, candidate.ID)
		if err != nil {
			continue
		}

		guardian, hasGuard, err := e.store.GuardianFor(ctx, component.ID)
		if err != nil {
			return nil, newEngineError(model.CodeCheckoutFailed, "lookup guardian: %v", err)
		}

		passed := true
		if hasGuard {
			metadata := guardMetadata(candidate)
			decision, evalErr := guard.Evaluate(guardian, full.Attributes, metadata, e.clock, e.resolver)
			if evalErr != nil {
				passed = false
				e.log.WithField("uow_id", candidate.ID).WithError(evalErr).Warn("guard evaluation error, treating as rejection")
			} else {
				passed = decision.Allow
				if passed && guardian.Type == model.GuardCerberus {
					passed = guard.EvaluateCerberusReconciliation(candidate.ChildCount, candidate.FinishedChildCount)
				}
				if passed && decision.Mutation != nil {
					e.applyGuardMutation(ctx, candidate.ID, actorID, decision)
				}
			}
		}

		if !passed {
			e.rejectToAtePath(ctx, candidate, guardian)
			continue
		}

		if err := e.store.UpdateState(ctx, e.guardCtx, candidate.ID, actorID, model.StatusActive, "", nil, false, "checkout"); err != nil {
			continue
		}

		memCtx, err := e.store.GetMemoryContext(ctx, candidate.InstanceID, roleID, actorID)
		if err != nil {
			memCtx = map[string]interface{}{}
		}

		e.emit(ctx, "WORK_CHECKED_OUT", map[string]interface{}{"uow_id": candidate.ID, "role_id": roleID, "actor_id": actorID})
		if e.metrics != nil {
			e.metrics.IncCheckout(string(role.Type))
		}
		return &CheckedOutWork{UOWID: candidate.ID, Attributes: full.Attributes, Context: memCtx}, nil
	}

	return nil, nil
}

func guardMetadata(u model.UOW) map[string]interface{} {
	return map[string]interface{}{
		"uow_id":               u.ID,
		"child_count":          u.ChildCount,
		"finished_child_count": u.FinishedChildCount,
		"status":               string(u.Status),
		"parent_id":            derefOrEmpty(u.ParentID),
	}
}

func derefOrEmpty(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// applyGuardMutation accumulates a CONDITIONAL_INJECTOR decision onto the
// UOW's persisted mutation state (spec.md §4.3.2): instructions append,
// knowledge fragments union, and every mutation is appended to the audit log.
// It re-fetches the UOW immediately before merging so two guards evaluated
// back to back against the same UOW each build on the other's persisted
// result rather than a stale snapshot.
func (e *Engine) applyGuardMutation(ctx context.Context, uowID, actorID string, decision guard.Decision) {
	full, err := e.store.Get(ctx, uowID)
	if err != nil {
		return
	}
	entries := append(append([]model.MutationAuditEntry{}, full.UOW.MutationAuditLog...), *decision.Mutation)
	payload := map[string]interface{}{"_mutation_audit_log": entries}

	if decision.Instructions != "" {
		instructions := full.UOW.InjectedInstructions
		if instructions != "" {
			instructions += "\n"
		}
		instructions += decision.Instructions
		payload["_injected_instructions"] = instructions
	}

	if len(decision.KnowledgeRefs) > 0 {
		seen := make(map[string]bool, len(full.UOW.KnowledgeFragmentRefs))
		refs := append([]string{}, full.UOW.KnowledgeFragmentRefs...)
		for _, ref := range refs {
			seen[ref] = true
		}
		for _, ref := range decision.KnowledgeRefs {
			if !seen[ref] {
				seen[ref] = true
				refs = append(refs, ref)
			}
		}
		payload["_knowledge_fragment_refs"] = refs
	}

	_ = e.store.UpdateState(ctx, nil, uowID, actorID, full.UOW.Status, "", payload, false, "conditional_injector mutation")
}

// rejectToAtePath routes a guard-rejected UOW to the workflow's Epsilon
// (Ate Path) inbound interaction, per spec.md §4.2.2 step 4 / Article XI.
func (e *Engine) rejectToAtePath(ctx context.Context, candidate model.UOW, guardian model.Guardian) {
	epsilon, ok, err := e.store.RoleByType(ctx, candidate.WorkflowID, model.RoleEpsilon)
	if err != nil || !ok {
		return
	}
	ateComponents, err := e.store.InboundComponents(ctx, epsilon.ID)
	if err != nil || len(ateComponents) == 0 {
		return
	}

	payload := map[string]interface{}{
		"_guard_rejection": map[string]interface{}{
			"error_code": string(model.CodeGuardUnauthorized),
			"guard_name": guardian.ID,
			"guard_type": string(guardian.Type),
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
		},
	}
	_ = e.store.UpdateState(ctx, nil, candidate.ID, model.SystemActorID, model.StatusFailed, ateComponents[0].InteractionID, payload, false, "guard criteria not met")
	e.emit(ctx, "GUARD_REJECTED", map[string]interface{}{"uow_id": candidate.ID, "guard_id": guardian.ID})
}

// SubmitWork persists the actor's result attributes (atomic versioning),
// harvests any `_learned_rule` into memory, and marks the UOW COMPLETED
// (spec.md §4.2.3).
func (e *Engine) SubmitWork(ctx context.Context, uowID, actorID string, resultAttributes map[string]interface{}, reasoning string) error {
	full, err := e.store.Get(ctx, uowID)
	if err != nil {
		return newEngineError(model.CodeNotFound, "uow %s not found", uowID)
	}
	if full.UOW.Status != model.StatusActive {
		return newEngineError(model.CodeNotLocked, "uow %s is not ACTIVE (status=%s); cannot submit work that isn't checked out", uowID, full.UOW.Status)
	}

	payload := make(map[string]interface{}, len(resultAttributes))
	var learnedRule interface{}
	for k, v := range resultAttributes {
		if k == model.ReservedLearnedRuleKey {
			learnedRule = v
			continue
		}
		payload[k] = v
	}

	if reasoning == "" {
		reasoning = fmt.Sprintf("work submitted by actor %s", actorID)
	}

	ok, blockedBy, err := e.store.SaveWithPilotCheck(ctx, e.guardCtx, uowID, actorID, model.StatusCompleted, "", payload, e.highRiskStatus, reasoning)
	if err != nil {
		return newEngineError(model.CodeEvaluationFailure, "submit work: %v", err)
	}
	if !ok {
		return newEngineError(model.CodePilotApprovalRequired, "uow %s requires pilot approval (blocked_by=%s)", uowID, blockedBy)
	}

	if learnedRule != nil {
		e.harvestExperience(ctx, full.UOW, actorID, learnedRule)
	}
	e.reconcileCerberusParent(ctx, full.UOW)

	e.emit(ctx, "WORK_SUBMITTED", map[string]interface{}{"uow_id": uowID, "actor_id": actorID})
	if e.metrics != nil {
		e.metrics.IncSubmit()
	}
	return nil
}

// harvestExperience persists a `_learned_rule` payload into the submitting
// actor's per-role memory (spec.md §4.6), grounded on
// original_source/chameleon_workflow_engine/engine.py's `_harvest_experience`.
func (e *Engine) harvestExperience(ctx context.Context, uow model.UOW, actorID string, learnedRule interface{}) {
	ruleMap, ok := learnedRule.(map[string]interface{})
	if !ok {
		e.log.Warn("invalid _learned_rule format: not a map")
		return
	}
	key, _ := ruleMap["key"].(string)
	if key == "" {
		e.log.Warn("invalid _learned_rule format: missing 'key' field")
		return
	}

	role, ok, err := e.store.RoleForInboundInteraction(ctx, uow.CurrentInteractionID)
	if err != nil || !ok {
		e.log.WithField("interaction_id", uow.CurrentInteractionID).Debug("no role found for learning")
		return
	}

	if err := e.store.UpsertActorMemory(ctx, uow.InstanceID, role.ID, actorID, key, ruleMap["value"]); err != nil {
		e.log.WithError(err).Warn("learning loop failed")
		return
	}
	e.log.WithField("actor_id", actorID).WithField("role_id", role.ID).WithField("key", key).Info("updated memory")
}

// reconcileCerberusParent increments the parent UOW's finished-child counter
// in the same logical step that marks a child COMPLETED, resolving ties with
// concurrently spawned siblings (DESIGN.md Open Question decision #4).
func (e *Engine) reconcileCerberusParent(ctx context.Context, child model.UOW) {
	if child.ParentID == nil {
		return
	}
	parent, err := e.store.Get(ctx, *child.ParentID)
	if err != nil {
		return
	}
	payload := map[string]interface{}{}
	newCount := parent.UOW.FinishedChildCount + 1
	payload["_finished_child_count"] = newCount
	_ = e.store.UpdateState(ctx, nil, *child.ParentID, model.SystemActorID, parent.UOW.Status, "", payload, false, "cerberus reconciliation: child completed")
}

// ReportFailure explicitly flags a UOW as failed, routing it to the Ate Path
// (spec.md §4.2.4 / Article XI).
func (e *Engine) ReportFailure(ctx context.Context, uowID, actorID, errorCode, details string) error {
	full, err := e.store.Get(ctx, uowID)
	if err != nil {
		return newEngineError(model.CodeNotFound, "uow %s not found", uowID)
	}
	if full.UOW.Status != model.StatusActive {
		return newEngineError(model.CodeNotLocked, "uow %s is not ACTIVE (status=%s); cannot report failure for work that isn't checked out", uowID, full.UOW.Status)
	}

	epsilon, ok, err := e.store.RoleByType(ctx, full.UOW.WorkflowID, model.RoleEpsilon)
	var ateInteractionID string
	if err == nil && ok {
		if comps, cErr := e.store.InboundComponents(ctx, epsilon.ID); cErr == nil && len(comps) > 0 {
			ateInteractionID = comps[0].InteractionID
		}
	}

	payload := map[string]interface{}{
		"_error": map[string]interface{}{
			"error_code": errorCode,
			"details":    details,
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
			"actor_id":   actorID,
		},
	}
	if err := e.store.UpdateState(ctx, nil, uowID, actorID, model.StatusFailed, ateInteractionID, payload, false, fmt.Sprintf("failure reported: %s", errorCode)); err != nil {
		return newEngineError(model.CodeEvaluationFailure, "report failure: %v", err)
	}

	e.emit(ctx, "WORK_FAILED", map[string]interface{}{"uow_id": uowID, "error_code": errorCode})
	if e.metrics != nil {
		e.metrics.IncFailure(errorCode)
	}
	return nil
}

// Heartbeat acks actor liveness on an ACTIVE uow (spec.md §6). Idempotent:
// calling it repeatedly only advances LastHeartbeat.
func (e *Engine) Heartbeat(ctx context.Context, uowID, actorID string) error {
	if err := e.store.Heartbeat(ctx, uowID, actorID); err != nil {
		if err == store.ErrNotFound {
			return newEngineError(model.CodeNotFound, "heartbeat: uow %s not found", uowID)
		}
		return err
	}
	return nil
}

// GetMemory is the read path behind spec.md §4.6's retrieval operation.
func (e *Engine) GetMemory(ctx context.Context, instanceID, roleID, actorID, query string) ([]model.RoleAttribute, error) {
	rows, err := e.store.Retrieve(ctx, instanceID, roleID, actorID, query)
	if err != nil {
		return nil, newEngineError(model.CodeEvaluationFailure, "retrieve memory: %v", err)
	}
	return rows, nil
}
