// Package httpapi exposes spec.md §6's operation set as a JSON/HTTP surface
// using go-chi, grounded on kubernaut's chi-router + go-chi/cors wiring
// idiom (test/integration/gateway/cors_test.go, test/unit/http/cors).
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/engine"
	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/model"
	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/pilot"
	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/sweeper"
)

// PilotIDHeader is the header carrying the calling pilot's identity for
// every /pilot endpoint (spec.md §4.5 "every pilot action is attributed").
const PilotIDHeader = "X-Pilot-ID"

// Server wires engine.Engine, sweeper.Sweeper, and pilot.Interface behind an
// HTTP surface.
type Server struct {
	engine   *engine.Engine
	sweeper  *sweeper.Sweeper
	pilot    *pilot.Interface
	log      *logrus.Entry
	router   chi.Router
	validate *validator.Validate
}

// New builds the chi router and wires every route.
func New(e *engine.Engine, sw *sweeper.Sweeper, pl *pilot.Interface, log *logrus.Entry, corsOrigins []string) *Server {
	s := &Server{engine: e, sweeper: sw, pilot: pl, log: log, validate: validator.New()}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", PilotIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealth)

	r.Route("/workflow", func(r chi.Router) {
		r.Post("/instantiate", s.handleInstantiate)
		r.Post("/checkout", s.handleCheckout)
		r.Post("/submit", s.handleSubmit)
		r.Post("/failure", s.handleFailure)
		r.Post("/uow/{uowID}/heartbeat", s.handleHeartbeat)
		r.Get("/memory", s.handleGetMemory)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Post("/run-zombie-protocol", s.handleRunZombieProtocol)
		r.Post("/run-memory-decay", s.handleRunMemoryDecay)
		r.Post("/mark-toxic", s.handleMarkToxic)
	})

	r.Route("/pilot", func(r chi.Router) {
		r.Post("/kill-switch", s.handleKillSwitch)
		r.Post("/submit-clarification", s.handleSubmitClarification)
		r.Post("/waive-violation", s.handleWaiveViolation)
		r.Post("/resume-uow", s.handleResumeUOW)
		r.Post("/cancel-uow", s.handleCancelUOW)
	})

	s.router = r
	return s
}

// Handler returns the root http.Handler for use with http.Server.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}

// decodeAndValidate decodes the request body into dst and runs
// go-playground/validator struct tags over it, so a malformed request never
// reaches the engine.
func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := decodeJSON(r, dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	var ee *engine.EngineError
	var pe *pilot.Error
	var code model.Code
	message := err.Error()

	switch {
	case errors.As(err, &ee):
		code = ee.Code
		message = ee.Message
	case errors.As(err, &pe):
		code = pe.Code
		message = pe.Message
	}

	writeJSON(w, statusForCode(code), map[string]string{"code": string(code), "error": message})
}

func statusForCode(code model.Code) int {
	switch code {
	case model.CodeNotFound, model.CodeTemplateNotFound:
		return http.StatusNotFound
	case model.CodeNotAuthorized, model.CodeGuardUnauthorized:
		return http.StatusForbidden
	case model.CodeInvalidBlueprint, model.CodeInvalidSpec, model.CodeUnknownGuardType:
		return http.StatusBadRequest
	case model.CodeNotLocked, model.CodePilotApprovalRequired:
		return http.StatusConflict
	case "":
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}

func pilotID(r *http.Request) string { return r.Header.Get(PilotIDHeader) }
