package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type instantiateRequest struct {
	TemplateID     string                 `json:"template_id" validate:"required"`
	InitialContext map[string]interface{} `json:"initial_context"`
	ActorID        string                 `json:"actor_id" validate:"required"`
}

func (s *Server) handleInstantiate(w http.ResponseWriter, r *http.Request) {
	var req instantiateRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	instanceID, alphaUOWID, err := s.engine.InstantiateWorkflow(r.Context(), req.TemplateID, req.InitialContext, req.ActorID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"instance_id": instanceID, "alpha_uow_id": alphaUOWID})
}

type checkoutRequest struct {
	ActorID string `json:"actor_id" validate:"required"`
	RoleID  string `json:"role_id" validate:"required"`
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	work, err := s.engine.CheckoutWork(r.Context(), req.ActorID, req.RoleID)
	if err != nil {
		writeError(w, err)
		return
	}
	if work == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, work)
}

type submitRequest struct {
	UOWID            string                 `json:"uow_id" validate:"required"`
	ActorID          string                 `json:"actor_id" validate:"required"`
	ResultAttributes map[string]interface{} `json:"result_attributes"`
	Reasoning        string                 `json:"reasoning"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	if err := s.engine.SubmitWork(r.Context(), req.UOWID, req.ActorID, req.ResultAttributes, req.Reasoning); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"uow_id": req.UOWID, "status": "COMPLETED"})
}

type failureRequest struct {
	UOWID     string `json:"uow_id" validate:"required"`
	ActorID   string `json:"actor_id" validate:"required"`
	ErrorCode string `json:"error_code" validate:"required"`
	Details   string `json:"details"`
}

func (s *Server) handleFailure(w http.ResponseWriter, r *http.Request) {
	var req failureRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	if err := s.engine.ReportFailure(r.Context(), req.UOWID, req.ActorID, req.ErrorCode, req.Details); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"uow_id": req.UOWID, "status": "FAILED"})
}

type heartbeatRequest struct {
	ActorID string `json:"actor_id" validate:"required"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	uowID := chi.URLParam(r, "uowID")
	var req heartbeatRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	if err := s.engine.Heartbeat(r.Context(), uowID, req.ActorID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rows, err := s.engine.GetMemory(r.Context(), q.Get("instance_id"), q.Get("role_id"), q.Get("actor_id"), q.Get("query"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleRunZombieProtocol(w http.ResponseWriter, r *http.Request) {
	n, err := s.sweeper.RunZombieProtocol(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"reclaimed": n})
}

func (s *Server) handleRunMemoryDecay(w http.ResponseWriter, r *http.Request) {
	n, err := s.sweeper.RunMemoryDecay(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"decayed": n})
}

type markToxicRequest struct {
	MemoryID string `json:"memory_id" validate:"required"`
	Reason   string `json:"reason" validate:"required"`
}

func (s *Server) handleMarkToxic(w http.ResponseWriter, r *http.Request) {
	var req markToxicRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	if err := s.sweeper.MarkMemoryToxic(r.Context(), req.MemoryID, req.Reason); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type killSwitchRequest struct {
	InstanceID string `json:"instance_id" validate:"required"`
	Reason     string `json:"reason" validate:"required"`
}

func (s *Server) handleKillSwitch(w http.ResponseWriter, r *http.Request) {
	var req killSwitchRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	n, err := s.pilot.KillSwitch(r.Context(), req.InstanceID, req.Reason, pilotID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"paused": n})
}

type submitClarificationRequest struct {
	UOWID string `json:"uow_id" validate:"required"`
	Text  string `json:"text" validate:"required"`
}

func (s *Server) handleSubmitClarification(w http.ResponseWriter, r *http.Request) {
	var req submitClarificationRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	if err := s.pilot.SubmitClarification(r.Context(), req.UOWID, req.Text, pilotID(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type waiveViolationRequest struct {
	UOWID       string `json:"uow_id" validate:"required"`
	GuardRuleID string `json:"guard_rule_id" validate:"required"`
	Reason      string `json:"reason" validate:"required"`
}

func (s *Server) handleWaiveViolation(w http.ResponseWriter, r *http.Request) {
	var req waiveViolationRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	if err := s.pilot.WaiveViolation(r.Context(), req.UOWID, req.GuardRuleID, req.Reason, pilotID(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type resumeUOWRequest struct {
	UOWID string `json:"uow_id" validate:"required"`
}

func (s *Server) handleResumeUOW(w http.ResponseWriter, r *http.Request) {
	var req resumeUOWRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	if err := s.pilot.ResumeUOW(r.Context(), req.UOWID, pilotID(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type cancelUOWRequest struct {
	UOWID  string `json:"uow_id" validate:"required"`
	Reason string `json:"reason" validate:"required"`
}

func (s *Server) handleCancelUOW(w http.ResponseWriter, r *http.Request) {
	var req cancelUOWRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	if err := s.pilot.CancelUOW(r.Context(), req.UOWID, pilotID(r), req.Reason); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
