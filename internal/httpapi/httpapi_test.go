package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/engine"
	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/model"
	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/pilot"
	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/store"
	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/store/memstore"
	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/sweeper"
)

func linearBlueprint() store.Blueprint {
	alpha := model.Role{ID: "bp-role-alpha", Type: model.RoleAlpha, Name: "intake"}
	beta := model.Role{ID: "bp-role-beta", Type: model.RoleBeta, Name: "reviewer"}
	epsilon := model.Role{ID: "bp-role-epsilon", Type: model.RoleEpsilon, Name: "ate-path"}

	queue := model.Interaction{ID: "bp-interaction-1", Name: "intake-to-review"}
	ateQueue := model.Interaction{ID: "bp-interaction-ate", Name: "ate-path-queue"}

	compOut := model.Component{ID: "bp-comp-out", InteractionID: queue.ID, RoleID: alpha.ID, Direction: model.DirectionOutbound}
	compIn := model.Component{ID: "bp-comp-in", InteractionID: queue.ID, RoleID: beta.ID, Direction: model.DirectionInbound}
	compAteIn := model.Component{ID: "bp-comp-ate-in", InteractionID: ateQueue.ID, RoleID: epsilon.ID, Direction: model.DirectionInbound}

	return store.Blueprint{
		Workflow:     model.Workflow{ID: "bp-wf-1", Name: "linear"},
		Roles:        []model.Role{alpha, beta, epsilon},
		Interactions: []model.Interaction{queue, ateQueue},
		Components:   []model.Component{compOut, compIn, compAteIn},
	}
}

func newTestServer(t *testing.T) (*Server, *memstore.MemStore) {
	t.Helper()
	ms := memstore.New()
	ms.SeedBlueprint(linearBlueprint())

	eng := engine.New(ms)
	sw := sweeper.New(ms)
	pl := pilot.New(ms)
	log := logrus.NewEntry(logrus.New())

	return New(eng, sw, pl, log, []string{"*"}), ms
}

func doRequest(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandleInstantiateHappyPath(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/workflow/instantiate", instantiateRequest{
		TemplateID: "bp-wf-1",
		ActorID:    "actor-seed",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if resp["instance_id"] == "" || resp["alpha_uow_id"] == "" {
		t.Fatalf("expected ids in response, got %+v", resp)
	}
}

func TestHandleInstantiateMissingRequiredField(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/workflow/instantiate", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing required fields, got %d", rec.Code)
	}
}

func TestHandleInstantiateUnknownTemplateMapsTo404(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/workflow/instantiate", instantiateRequest{
		TemplateID: "does-not-exist",
		ActorID:    "actor-1",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for TEMPLATE_NOT_FOUND, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleCheckoutNoWorkReturnsNoContent(t *testing.T) {
	s, ms := newTestServer(t)
	epsilon, ok, err := ms.RoleByType(context.Background(), "bp-wf-1", model.RoleEpsilon)
	if err != nil || !ok {
		t.Fatalf("could not resolve epsilon role: ok=%v err=%v", ok, err)
	}
	_ = epsilon

	rec := doRequest(t, s, http.MethodPost, "/workflow/instantiate", instantiateRequest{TemplateID: "bp-wf-1", ActorID: "actor-seed"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("setup instantiate failed: %d", rec.Code)
	}

	var resp map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	full, err := ms.Get(context.Background(), resp["alpha_uow_id"])
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	epsilonRole, ok, err := ms.RoleByType(context.Background(), full.UOW.WorkflowID, model.RoleEpsilon)
	if err != nil || !ok {
		t.Fatalf("resolve epsilon failed: ok=%v err=%v", ok, err)
	}
	ms.SeedAssignment(model.ActorRoleAssignment{
		ID: "actor-1|" + epsilonRole.ID, ActorID: "actor-1", RoleID: epsilonRole.ID, Status: model.AssignmentActive,
	})

	checkoutRec := doRequest(t, s, http.MethodPost, "/workflow/checkout", checkoutRequest{
		ActorID: "actor-1",
		RoleID:  epsilonRole.ID,
	})
	if checkoutRec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 when no work targets the role, got %d", checkoutRec.Code)
	}
}

func TestHandleCheckoutAndSubmitHappyPath(t *testing.T) {
	s, ms := newTestServer(t)

	instRec := doRequest(t, s, http.MethodPost, "/workflow/instantiate", instantiateRequest{
		TemplateID:     "bp-wf-1",
		ActorID:        "actor-seed",
		InitialContext: map[string]interface{}{"amount": 250.0},
	})
	var instResp map[string]string
	_ = json.Unmarshal(instRec.Body.Bytes(), &instResp)

	full, err := ms.Get(context.Background(), instResp["alpha_uow_id"])
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	betaRole, ok, err := ms.RoleByType(context.Background(), full.UOW.WorkflowID, model.RoleBeta)
	if err != nil || !ok {
		t.Fatalf("resolve beta role failed: ok=%v err=%v", ok, err)
	}
	ms.SeedAssignment(model.ActorRoleAssignment{
		ID: "actor-1|" + betaRole.ID, ActorID: "actor-1", RoleID: betaRole.ID, Status: model.AssignmentActive,
	})

	checkoutRec := doRequest(t, s, http.MethodPost, "/workflow/checkout", checkoutRequest{
		ActorID: "actor-1",
		RoleID:  betaRole.ID,
	})
	if checkoutRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", checkoutRec.Code, checkoutRec.Body.String())
	}
	var work map[string]interface{}
	if err := json.Unmarshal(checkoutRec.Body.Bytes(), &work); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	uowID, _ := work["UOWID"].(string)
	if uowID == "" {
		t.Fatalf("expected UOWID in checkout response, got %+v", work)
	}

	submitRec := doRequest(t, s, http.MethodPost, "/workflow/submit", submitRequest{
		UOWID:            uowID,
		ActorID:          "actor-1",
		ResultAttributes: map[string]interface{}{"decision": "approved"},
	})
	if submitRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", submitRec.Code, submitRec.Body.String())
	}
}

func TestHandleHeartbeatUnknownUOWMapsToErrorStatus(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/workflow/uow/missing-uow/heartbeat", heartbeatRequest{ActorID: "actor-1"})
	if rec.Code == http.StatusNoContent {
		t.Fatal("expected an error status for an unknown uow, got 204")
	}
}

func TestHandleKillSwitchRequiresReason(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/pilot/kill-switch", map[string]string{"instance_id": "inst-1"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing reason, got %d", rec.Code)
	}
}

func TestHandleKillSwitchNoActiveUOWs(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/pilot/kill-switch", killSwitchRequest{
		InstanceID: "inst-none",
		Reason:     "incident",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]int
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["paused"] != 0 {
		t.Fatalf("expected 0 paused, got %+v", resp)
	}
}

func TestHandleRunZombieProtocol(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/admin/run-zombie-protocol", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleMarkToxicUnknownMemory(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/admin/mark-toxic", markToxicRequest{
		MemoryID: "missing",
		Reason:   "bad advice",
	})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for unknown memory id, got %d: %s", rec.Code, rec.Body.String())
	}
}
