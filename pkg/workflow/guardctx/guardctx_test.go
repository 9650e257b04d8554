package guardctx

import (
	"context"
	"testing"
	"time"

	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/model"
	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/store"
	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/store/memstore"
)

func setupAssignedUOW(t *testing.T, ms *memstore.MemStore, ctx context.Context) (uowID, roleID string) {
	t.Helper()
	alpha := model.Role{ID: "bp-alpha", Type: model.RoleAlpha}
	beta := model.Role{ID: "bp-beta", Type: model.RoleBeta}
	queue := model.Interaction{ID: "bp-queue"}
	bp := store.Blueprint{
		Workflow:     model.Workflow{ID: "bp-wf"},
		Roles:        []model.Role{alpha, beta},
		Interactions: []model.Interaction{queue},
		Components: []model.Component{
			{ID: "bp-out", InteractionID: queue.ID, RoleID: alpha.ID, Direction: model.DirectionOutbound},
			{ID: "bp-in", InteractionID: queue.ID, RoleID: beta.ID, Direction: model.DirectionInbound},
		},
	}
	ids, err := ms.CloneIntoInstance(ctx, "inst-1", bp)
	if err != nil {
		t.Fatalf("clone failed: %v", err)
	}
	id, err := ms.Create(ctx, store.UOWSpec{InstanceID: "inst-1", WorkflowID: ids.WorkflowID, CurrentInteractionID: ids.InteractionIDs["bp-queue"]})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	return id, ids.RoleIDs["bp-beta"]
}

func TestIsAuthorizedSystemActorAlwaysTrue(t *testing.T) {
	ms := memstore.New()
	gc := New(ms)
	if !gc.IsAuthorized(context.Background(), model.SystemActorID, "any-uow") {
		t.Fatal("expected system actor to always be authorized")
	}
}

func TestIsAuthorizedUnknownUOW(t *testing.T) {
	ms := memstore.New()
	gc := New(ms)
	if gc.IsAuthorized(context.Background(), "actor-1", "missing-uow") {
		t.Fatal("expected false for an unknown uow")
	}
}

func TestIsAuthorizedRequiresActiveAssignment(t *testing.T) {
	ms := memstore.New()
	ctx := context.Background()
	id, roleID := setupAssignedUOW(t, ms, ctx)
	gc := New(ms)

	if gc.IsAuthorized(ctx, "actor-1", id) {
		t.Fatal("expected false before any assignment exists")
	}

	ms.SeedAssignment(model.ActorRoleAssignment{ActorID: "actor-1", RoleID: roleID, Status: model.AssignmentActive})
	if !gc.IsAuthorized(ctx, "actor-1", id) {
		t.Fatal("expected true once an active assignment exists")
	}
}

func TestIsAuthorizedRejectsRevokedAssignment(t *testing.T) {
	ms := memstore.New()
	ctx := context.Background()
	id, roleID := setupAssignedUOW(t, ms, ctx)
	ms.SeedAssignment(model.ActorRoleAssignment{ActorID: "actor-1", RoleID: roleID, Status: model.AssignmentRevoked})

	gc := New(ms)
	if gc.IsAuthorized(ctx, "actor-1", id) {
		t.Fatal("expected false for a revoked assignment")
	}
}

func TestWaitForPilotReturnsTrueWhenApproved(t *testing.T) {
	ms := memstore.New()
	ctx := context.Background()
	id, err := ms.Create(ctx, store.UOWSpec{InstanceID: "inst-1", WorkflowID: "wf-1", CurrentInteractionID: "queue-1"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	gc := New(ms)
	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = ms.UpdateState(ctx, nil, id, "pilot-1", model.StatusActive, "", nil, false, "approved")
	}()

	approved, err := gc.WaitForPilot(ctx, id, "needs review", 2*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !approved {
		t.Fatal("expected WaitForPilot to report approval")
	}
}

func TestWaitForPilotReturnsFalseOnTimeout(t *testing.T) {
	ms := memstore.New()
	ctx := context.Background()
	id, err := ms.Create(ctx, store.UOWSpec{InstanceID: "inst-1", WorkflowID: "wf-1", CurrentInteractionID: "queue-1"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	gc := New(ms)
	approved, err := gc.WaitForPilot(ctx, id, "needs review", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if approved {
		t.Fatal("expected timeout to report not-approved")
	}

	full, err := ms.Get(ctx, id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if full.UOW.Status != model.StatusPendingPilotApproval {
		t.Fatalf("expected uow to remain PENDING_PILOT_APPROVAL after timeout, got %s", full.UOW.Status)
	}
}
