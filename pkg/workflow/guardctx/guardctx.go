// Package guardctx implements store.GuardContext, the authorization/
// pilot-wait capability that engine.Engine's high-risk transitions block on
// (spec.md §4.1, §4.5). Grounded on the teacher's scheduler.go polling-with-
// backoff idiom (graph/scheduler.go), adapted here to poll store state
// instead of a task queue.
package guardctx

import (
	"context"
	"time"

	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/model"
	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/store"
)

// pollInterval is how often WaitForPilot re-checks uow status while blocked.
const pollInterval = 500 * time.Millisecond

// Context is the default store.GuardContext: an actor is authorized for a
// uow when it holds an active assignment for the role whose inbound
// component owns the uow's current interaction; a pilot decision is awaited
// by polling until the uow leaves PENDING_PILOT_APPROVAL or timeout elapses.
type Context struct {
	store store.Store
}

// New builds a Context over st.
func New(st store.Store) *Context {
	return &Context{store: st}
}

// IsAuthorized reports whether actorID may mutate uowID, per the active
// role assignment covering the uow's current interaction. The system actor
// is always authorized (spec.md §4.2.4 automated remediation paths).
func (c *Context) IsAuthorized(ctx context.Context, actorID, uowID string) bool {
	if actorID == model.SystemActorID {
		return true
	}

	full, err := c.store.Get(ctx, uowID)
	if err != nil {
		return false
	}

	role, ok, err := c.store.RoleForInboundInteraction(ctx, full.UOW.CurrentInteractionID)
	if err != nil || !ok {
		return false
	}

	_, assigned, err := c.store.GetActiveAssignment(ctx, actorID, role.ID)
	if err != nil {
		return false
	}
	return assigned
}

// WaitForPilot moves uowID into PENDING_PILOT_APPROVAL so a pilot dashboard
// can see and act on it (pilot.ResumeUOW/WaiveViolation/CancelUOW all
// require that status), then polls until it leaves that status or timeout
// elapses. SaveWithPilotCheck calls this before the uow has actually
// transitioned, so putting it into PENDING_PILOT_APPROVAL is this method's
// responsibility, not the caller's.
func (c *Context) WaitForPilot(ctx context.Context, uowID, reason string, timeout time.Duration) (bool, error) {
	if err := c.store.UpdateState(ctx, nil, uowID, model.SystemActorID, model.StatusPendingPilotApproval, "",
		map[string]interface{}{"pilot_wait_reason": reason}, false, reason); err != nil {
		return false, err
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		full, err := c.store.Get(ctx, uowID)
		if err != nil {
			return false, err
		}
		switch full.UOW.Status {
		case model.StatusPendingPilotApproval:
			// still waiting
		case model.StatusActive:
			return true, nil
		default:
			return false, nil
		}

		if time.Now().After(deadline) {
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}
