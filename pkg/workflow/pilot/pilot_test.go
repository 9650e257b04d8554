package pilot

import (
	"context"
	"testing"

	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/model"
	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/store"
	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/store/memstore"
)

func newActiveUOW(t *testing.T, ms *memstore.MemStore, ctx context.Context, instanceID string) string {
	t.Helper()
	id, err := ms.Create(ctx, store.UOWSpec{InstanceID: instanceID, WorkflowID: "wf-1", CurrentInteractionID: "queue-1"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := ms.UpdateState(ctx, nil, id, "actor-1", model.StatusActive, "", nil, false, "checkout"); err != nil {
		t.Fatalf("activate failed: %v", err)
	}
	return id
}

func TestKillSwitchPausesAllActiveUOWsInInstance(t *testing.T) {
	ms := memstore.New()
	ctx := context.Background()
	a := newActiveUOW(t, ms, ctx, "inst-1")
	b := newActiveUOW(t, ms, ctx, "inst-1")
	other := newActiveUOW(t, ms, ctx, "inst-2")

	p := New(ms)
	paused, err := p.KillSwitch(ctx, "inst-1", "operator request", "pilot-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if paused != 2 {
		t.Fatalf("expected 2 uows paused, got %d", paused)
	}

	for _, id := range []string{a, b} {
		full, err := ms.Get(ctx, id)
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if full.UOW.Status != model.StatusPaused {
			t.Errorf("expected %s to be PAUSED, got %s", id, full.UOW.Status)
		}
	}

	full, err := ms.Get(ctx, other)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if full.UOW.Status != model.StatusActive {
		t.Error("expected uow in a different instance to remain untouched")
	}
}

func TestSubmitClarificationRequiresZombiedSoft(t *testing.T) {
	ms := memstore.New()
	ctx := context.Background()
	id := newActiveUOW(t, ms, ctx, "inst-1")

	p := New(ms)
	if err := p.SubmitClarification(ctx, id, "here's the missing info", "pilot-1"); err == nil {
		t.Fatal("expected error when uow isn't ZOMBIED_SOFT")
	}
}

func TestSubmitClarificationTransitionsToActive(t *testing.T) {
	ms := memstore.New()
	ctx := context.Background()
	id := newActiveUOW(t, ms, ctx, "inst-1")
	// Drive the interaction count up before the UOW soft-stalls, the way
	// repeated guard round-trips would, so the reset assertion below is
	// meaningful rather than trivially true.
	if err := ms.UpdateState(ctx, nil, id, "actor-1", model.StatusActive, "", nil, true, "interaction"); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	if err := ms.UpdateState(ctx, nil, id, "actor-1", model.StatusZombiedSoft, "", nil, false, "ambiguity lock"); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	p := New(ms)
	if err := p.SubmitClarification(ctx, id, "use the default threshold", "pilot-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	full, err := ms.Get(ctx, id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if full.UOW.Status != model.StatusActive {
		t.Fatalf("expected ACTIVE, got %s", full.UOW.Status)
	}
	if full.Attributes["pilot_clarification"] != "use the default threshold" {
		t.Fatalf("expected clarification text persisted, got %+v", full.Attributes)
	}
	if full.UOW.InteractionCount != 0 {
		t.Fatalf("expected interaction_count reset to 0, got %d", full.UOW.InteractionCount)
	}
}

func TestWaiveViolationRequiresNonEmptyReason(t *testing.T) {
	ms := memstore.New()
	ctx := context.Background()
	id := newActiveUOW(t, ms, ctx, "inst-1")

	p := New(ms)
	if err := p.WaiveViolation(ctx, id, "rule-1", "   ", "pilot-1"); err == nil {
		t.Fatal("expected error for blank reason")
	}
}

func TestWaiveViolationAppendsHistoryAndActivates(t *testing.T) {
	ms := memstore.New()
	ctx := context.Background()
	id := newActiveUOW(t, ms, ctx, "inst-1")
	if err := ms.UpdateState(ctx, nil, id, "actor-1", model.StatusZombiedSoft, "", nil, false, "blocked"); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	p := New(ms)
	if err := p.WaiveViolation(ctx, id, "criteria-gate-1", "business exception approved", "pilot-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	full, err := ms.Get(ctx, id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if full.UOW.Status != model.StatusActive {
		t.Fatalf("expected ACTIVE, got %s", full.UOW.Status)
	}

	history, err := ms.GetHistory(ctx, id, 0)
	if err != nil {
		t.Fatalf("get history failed: %v", err)
	}
	found := false
	for _, h := range history {
		if h.EventType == model.EventConstitutionalWaiver {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a CONSTITUTIONAL_WAIVER history entry")
	}
}

func TestResumeUOWRequiresPendingPilotApproval(t *testing.T) {
	ms := memstore.New()
	ctx := context.Background()
	id := newActiveUOW(t, ms, ctx, "inst-1")

	p := New(ms)
	if err := p.ResumeUOW(ctx, id, "pilot-1"); err == nil {
		t.Fatal("expected error for a uow not awaiting pilot approval")
	}
}

func TestResumeUOWActivates(t *testing.T) {
	ms := memstore.New()
	ctx := context.Background()
	id := newActiveUOW(t, ms, ctx, "inst-1")
	if err := ms.UpdateState(ctx, nil, id, "actor-1", model.StatusPendingPilotApproval, "", nil, false, "high risk"); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	p := New(ms)
	if err := p.ResumeUOW(ctx, id, "pilot-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	full, err := ms.Get(ctx, id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if full.UOW.Status != model.StatusActive {
		t.Fatalf("expected ACTIVE, got %s", full.UOW.Status)
	}
}

func TestCancelUOWRequiresPendingPilotApproval(t *testing.T) {
	ms := memstore.New()
	ctx := context.Background()
	id := newActiveUOW(t, ms, ctx, "inst-1")

	p := New(ms)
	if err := p.CancelUOW(ctx, id, "pilot-1", "rejected"); err == nil {
		t.Fatal("expected error for a uow not awaiting pilot approval")
	}
}

func TestCancelUOWMarksFailed(t *testing.T) {
	ms := memstore.New()
	ctx := context.Background()
	id := newActiveUOW(t, ms, ctx, "inst-1")
	if err := ms.UpdateState(ctx, nil, id, "actor-1", model.StatusPendingPilotApproval, "", nil, false, "high risk"); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	p := New(ms)
	if err := p.CancelUOW(ctx, id, "pilot-1", "not approved"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	full, err := ms.Get(ctx, id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if full.UOW.Status != model.StatusFailed {
		t.Fatalf("expected FAILED, got %s", full.UOW.Status)
	}
}
