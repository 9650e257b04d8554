// Package pilot implements the human-in-the-loop intervention surface of
// spec.md §4.5: kill_switch, submit_clarification, waive_violation,
// resume_uow, cancel_uow. Grounded line-for-line on
// original_source/chameleon_workflow_engine/pilot_interface.py (same
// preconditions, same payload/event shapes, same auto_increment=false
// discipline for every pilot-administrative transition).
package pilot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/clydewatts1/chameleon-workflow-engine/pkg/shared/logging"
	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/model"
	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/store"
)

// Broadcaster matches engine.Broadcaster's shape so an emit.OutboxBroadcaster
// can be shared across packages without an import cycle.
type Broadcaster interface {
	Emit(ctx context.Context, eventType string, payload map[string]interface{})
}

// Error is the pilot package's typed error, carrying a domain Code.
type Error struct {
	Code    model.Code
	Message string
}

func (e *Error) Error() string { return e.Message }

func newError(code model.Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Interface is the pilot control surface over a store.Store.
type Interface struct {
	store store.Store
	bcast Broadcaster
	log   *logrus.Entry
}

// Option configures an Interface.
type Option func(*Interface)

// WithLogger sets the base logrus logger.
func WithLogger(l *logrus.Logger) Option {
	return func(p *Interface) { p.log = logging.NewComponentLogger(l, "pilot") }
}

// WithBroadcaster wires telemetry emission.
func WithBroadcaster(b Broadcaster) Option {
	return func(p *Interface) { p.bcast = b }
}

// New builds a pilot Interface over st.
func New(st store.Store, opts ...Option) *Interface {
	p := &Interface{store: st, log: logging.NewComponentLogger(logrus.New(), "pilot")}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Interface) emit(ctx context.Context, eventType string, payload map[string]interface{}) {
	if p.bcast != nil {
		p.bcast.Emit(ctx, eventType, payload)
	}
}

// KillSwitch transitions every ACTIVE uow in instanceID to PAUSED. It is
// administrative, not an interaction, so auto_increment stays false.
// Returns the number of uows paused.
func (p *Interface) KillSwitch(ctx context.Context, instanceID, reason, pilotID string) (int, error) {
	active, err := p.store.FindByStatus(ctx, model.StatusActive, instanceID)
	if err != nil {
		return 0, err
	}

	paused := 0
	for _, uow := range active {
		payload := map[string]interface{}{
			"kill_switch_reason": reason,
			"triggered_by":       pilotID,
		}
		if err := p.store.UpdateState(ctx, nil, uow.ID, pilotID, model.StatusPaused, "", payload, false, "kill switch"); err != nil {
			p.log.WithError(err).WithField("uow_id", uow.ID).Warn("kill switch: pause failed")
			continue
		}
		paused++
	}

	p.emit(ctx, "KILL_SWITCH_ACTIVATED", map[string]interface{}{
		"instance_id":  instanceID,
		"paused_uows":  paused,
		"reason":       reason,
		"triggered_by": pilotID,
	})
	return paused, nil
}

// SubmitClarification breaks the Ambiguity Lock: valid only when uow is
// ZOMBIED_SOFT, it injects the clarification text, resets interaction_count
// to 0, and transitions ZOMBIED_SOFT -> ACTIVE.
func (p *Interface) SubmitClarification(ctx context.Context, uowID, text, pilotID string) error {
	full, err := p.store.Get(ctx, uowID)
	if err != nil {
		return err
	}
	if full.UOW.Status != model.StatusZombiedSoft {
		return newError(model.CodeNotLocked, "can only clarify ZOMBIED_SOFT uows, current status: %s", full.UOW.Status)
	}

	payload := map[string]interface{}{
		"pilot_clarification": text,
		"clarification_from":  pilotID,
		"clarification_at":    time.Now().UTC().Format(time.RFC3339),
	}
	if err := p.store.UpdateState(ctx, nil, uowID, pilotID, model.StatusActive, "", payload, false, "pilot clarification"); err != nil {
		return err
	}
	if err := p.store.ResetInteractionCount(ctx, uowID); err != nil {
		return err
	}

	p.emit(ctx, "PILOT_CLARIFICATION_SUBMITTED", map[string]interface{}{
		"uow_id":        uowID,
		"clarification": text,
		"submitted_by":  pilotID,
		"new_status":    string(model.StatusActive),
	})
	return nil
}

// WaiveViolation grants a single-actor Constitutional waiver: reason is
// mandatory, the waiver is recorded as a CONSTITUTIONAL_WAIVER history
// event first, then the uow transitions to ACTIVE (a genuine state change,
// so the hash updates too).
func (p *Interface) WaiveViolation(ctx context.Context, uowID, guardRuleID, reason, pilotID string) error {
	if strings.TrimSpace(reason) == "" {
		return newError(model.CodeInvalidSpec, "waiver reason cannot be empty: justification is mandatory for all pilot overrides")
	}

	full, err := p.store.Get(ctx, uowID)
	if err != nil {
		return err
	}

	waiverPayload := map[string]interface{}{
		"rule_ignored":  guardRuleID,
		"waived_by":     pilotID,
		"justification": reason,
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	}
	if err := p.store.AppendHistory(ctx, uowID, model.EventConstitutionalWaiver, waiverPayload, full.UOW.ContentHash, pilotID, reason); err != nil {
		return err
	}

	statePayload := map[string]interface{}{
		"waiver_applied":   true,
		"waived_rule":      guardRuleID,
		"waived_by":        pilotID,
		"waiver_timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if err := p.store.UpdateState(ctx, nil, uowID, pilotID, model.StatusActive, "", statePayload, false, reason); err != nil {
		return err
	}

	p.emit(ctx, "PILOT_WAIVER_GRANTED", map[string]interface{}{
		"uow_id":          uowID,
		"rule":            guardRuleID,
		"previous_status": string(full.UOW.Status),
		"new_status":      string(model.StatusActive),
		"pilot":           pilotID,
		"justification":   reason,
	})
	return nil
}

// ResumeUOW approves a high-risk transition: PENDING_PILOT_APPROVAL -> ACTIVE.
func (p *Interface) ResumeUOW(ctx context.Context, uowID, pilotID string) error {
	full, err := p.store.Get(ctx, uowID)
	if err != nil {
		return err
	}
	if full.UOW.Status != model.StatusPendingPilotApproval {
		return newError(model.CodeNotLocked, "can only resume PENDING_PILOT_APPROVAL uows, current status: %s", full.UOW.Status)
	}

	payload := map[string]interface{}{
		"approved_by":        pilotID,
		"approval_timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if err := p.store.UpdateState(ctx, nil, uowID, pilotID, model.StatusActive, "", payload, false, "pilot approval"); err != nil {
		return err
	}

	p.emit(ctx, "PILOT_APPROVAL_GRANTED", map[string]interface{}{"uow_id": uowID, "approved_by": pilotID})
	return nil
}

// CancelUOW rejects a high-risk transition: PENDING_PILOT_APPROVAL -> FAILED.
func (p *Interface) CancelUOW(ctx context.Context, uowID, pilotID, reason string) error {
	full, err := p.store.Get(ctx, uowID)
	if err != nil {
		return err
	}
	if full.UOW.Status != model.StatusPendingPilotApproval {
		return newError(model.CodeNotLocked, "can only cancel PENDING_PILOT_APPROVAL uows, current status: %s", full.UOW.Status)
	}

	payload := map[string]interface{}{
		"cancelled_by":           pilotID,
		"cancellation_reason":    reason,
		"cancellation_timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if err := p.store.UpdateState(ctx, nil, uowID, pilotID, model.StatusFailed, "", payload, false, reason); err != nil {
		return err
	}

	p.emit(ctx, "PILOT_CANCELLATION_ISSUED", map[string]interface{}{"uow_id": uowID, "cancelled_by": pilotID, "reason": reason})
	return nil
}
