package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/model"
	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/store"
	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/store/memstore"
)

func tauBlueprint() store.Blueprint {
	alpha := model.Role{ID: "bp-alpha", Type: model.RoleAlpha}
	beta := model.Role{ID: "bp-beta", Type: model.RoleBeta}
	tau := model.Role{ID: "bp-tau", Type: model.RoleTau}

	mainQueue := model.Interaction{ID: "bp-main-queue"}
	tauQueue := model.Interaction{ID: "bp-tau-queue"}

	return store.Blueprint{
		Workflow:     model.Workflow{ID: "bp-wf", Name: "tau-test"},
		Roles:        []model.Role{alpha, beta, tau},
		Interactions: []model.Interaction{mainQueue, tauQueue},
		Components: []model.Component{
			{ID: "bp-comp-out", InteractionID: mainQueue.ID, RoleID: alpha.ID, Direction: model.DirectionOutbound},
			{ID: "bp-comp-in", InteractionID: mainQueue.ID, RoleID: beta.ID, Direction: model.DirectionInbound},
			{ID: "bp-comp-tau-in", InteractionID: tauQueue.ID, RoleID: tau.ID, Direction: model.DirectionInbound},
		},
	}
}

func activeUOW(t *testing.T, ms *memstore.MemStore, ctx context.Context) (uowID, workflowID string) {
	t.Helper()
	ids, err := ms.CloneIntoInstance(ctx, "inst-1", tauBlueprint())
	if err != nil {
		t.Fatalf("clone failed: %v", err)
	}
	id, err := ms.Create(ctx, store.UOWSpec{InstanceID: "inst-1", WorkflowID: ids.WorkflowID, CurrentInteractionID: ids.InteractionIDs["bp-main-queue"]})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := ms.UpdateState(ctx, nil, id, "actor-1", model.StatusActive, "", nil, false, "checkout"); err != nil {
		t.Fatalf("activate failed: %v", err)
	}
	return id, ids.WorkflowID
}

func TestRunZombieProtocolReclaimsStaleActiveUOW(t *testing.T) {
	ms := memstore.New()
	ctx := context.Background()
	uowID, _ := activeUOW(t, ms, ctx)

	sw := New(ms, WithZombieThreshold(time.Millisecond, time.Hour))
	time.Sleep(5 * time.Millisecond)

	reclaimed, err := sw.RunZombieProtocol(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("expected 1 reclaimed uow, got %d", reclaimed)
	}

	full, err := ms.Get(ctx, uowID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if full.UOW.Status != model.StatusFailed {
		t.Fatalf("expected FAILED after reclaim, got %s", full.UOW.Status)
	}
	if full.UOW.LastHeartbeat != nil {
		t.Fatal("expected heartbeat to be cleared after reclaim")
	}
}

func TestRunZombieProtocolRoutesToTauQueue(t *testing.T) {
	ms := memstore.New()
	ctx := context.Background()
	uowID, workflowID := activeUOW(t, ms, ctx)

	sw := New(ms, WithZombieThreshold(time.Millisecond, time.Hour))
	time.Sleep(5 * time.Millisecond)

	if _, err := sw.RunZombieProtocol(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tauRole, ok, err := ms.RoleByType(ctx, workflowID, model.RoleTau)
	if err != nil || !ok {
		t.Fatalf("tau role lookup failed: ok=%v err=%v", ok, err)
	}
	tauInbound, err := ms.InboundComponents(ctx, tauRole.ID)
	if err != nil || len(tauInbound) != 1 {
		t.Fatalf("unexpected tau inbound components: %v, %+v", err, tauInbound)
	}

	full, err := ms.Get(ctx, uowID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if full.UOW.CurrentInteractionID != tauInbound[0].InteractionID {
		t.Fatalf("expected routing to tau queue, got %s", full.UOW.CurrentInteractionID)
	}
}

func TestRunZombieProtocolIgnoresFreshHeartbeats(t *testing.T) {
	ms := memstore.New()
	ctx := context.Background()
	uowID, _ := activeUOW(t, ms, ctx)

	sw := New(ms, WithZombieThreshold(time.Hour, time.Hour))
	reclaimed, err := sw.RunZombieProtocol(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reclaimed != 0 {
		t.Fatalf("expected 0 reclaimed for a fresh heartbeat, got %d", reclaimed)
	}

	full, err := ms.Get(ctx, uowID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if full.UOW.Status != model.StatusActive {
		t.Fatalf("expected ACTIVE to remain untouched, got %s", full.UOW.Status)
	}
}

func TestRunMemoryDecayDeletesStaleRecords(t *testing.T) {
	ms := memstore.New()
	ctx := context.Background()

	if err := ms.UpsertActorMemory(ctx, "inst-1", "role-1", "GLOBAL", "k1", "v1"); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	sw := New(ms, WithMemoryRetention(0, time.Hour))
	deleted, err := sw.RunMemoryDecay(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 decayed record with a zero retention window, got %d", deleted)
	}
}

func TestMarkMemoryToxicExcludesFromRetrieval(t *testing.T) {
	ms := memstore.New()
	ctx := context.Background()

	if err := ms.UpsertActorMemory(ctx, "inst-1", "role-1", "GLOBAL", "k1", "v1"); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	rows, err := ms.Retrieve(ctx, "inst-1", "role-1", "actor-1", "")
	if err != nil {
		t.Fatalf("retrieve failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 memory row before marking toxic, got %d", len(rows))
	}

	sw := New(ms)
	if err := sw.MarkMemoryToxic(ctx, rows[0].ID, "bad advice"); err != nil {
		t.Fatalf("mark toxic failed: %v", err)
	}

	rows, err = ms.Retrieve(ctx, "inst-1", "role-1", "actor-1", "")
	if err != nil {
		t.Fatalf("retrieve failed: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected toxic memory to be excluded from retrieval, got %+v", rows)
	}
}

func TestMarkMemoryToxicUnknownID(t *testing.T) {
	ms := memstore.New()
	sw := New(ms)
	if err := sw.MarkMemoryToxic(context.Background(), "missing", "reason"); err == nil {
		t.Fatal("expected error for unknown memory id")
	}
}
