package httpapi

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/metinemredonmez/senkron-ai-hub/internal/journey"
)

// OrchestrateHandler serves the journey control endpoints.
type OrchestrateHandler struct {
	engine *journey.Engine
	logger *zap.Logger
}

func NewOrchestrateHandler(engine *journey.Engine, logger *zap.Logger) *OrchestrateHandler {
	return &OrchestrateHandler{engine: engine, logger: logger}
}

func (h *OrchestrateHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /orchestrate/start", h.handleStart)
	mux.HandleFunc("GET /orchestrate/state/{caseID}", h.handleState)
	mux.HandleFunc("POST /orchestrate/approval", h.handleApproval)
}

type startRequest struct {
	TenantID string                 `json:"tenantId"`
	CaseID   string                 `json:"caseId"`
	Patient  map[string]interface{} `json:"patient,omitempty"`
	Intake   map[string]interface{} `json:"intake,omitempty"`
}

func (h *OrchestrateHandler) handleStart(w http.ResponseWriter, r *http.Request) {
	headerTenant := tenantFromRequest(w, r)
	var req startRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.CaseID == "" {
		writeError(w, http.StatusBadRequest, "caseId is required")
		return
	}
	tenantID := req.TenantID
	if tenantID == "" {
		tenantID = headerTenant
	}

	state, err := h.engine.Start(r.Context(), tenantID, req.CaseID, req.Patient, req.Intake)
	if err != nil {
		h.logger.Error("Journey start failed",
			zap.String("case_id", req.CaseID),
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "journey failed")
		return
	}
	h.renderState(w, state)
}

func (h *OrchestrateHandler) handleState(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFromRequest(w, r)
	caseID := r.PathValue("caseID")
	state, err := h.engine.Load(r.Context(), tenant, caseID)
	if err != nil {
		if errors.Is(err, journey.ErrCaseNotFound) {
			writeError(w, http.StatusNotFound, "case not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load case")
		return
	}
	h.renderState(w, state)
}

type approvalRequest struct {
	TenantID string `json:"tenantId"`
	CaseID   string `json:"caseId"`
	Decision string `json:"decision"`
	Comment  string `json:"comment,omitempty"`
}

func (h *OrchestrateHandler) handleApproval(w http.ResponseWriter, r *http.Request) {
	headerTenant := tenantFromRequest(w, r)
	var req approvalRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.CaseID == "" {
		writeError(w, http.StatusBadRequest, "caseId is required")
		return
	}
	if req.Decision != journey.DecisionApproved && req.Decision != journey.DecisionRejected {
		writeError(w, http.StatusBadRequest, "decision must be APPROVED or REJECTED")
		return
	}
	tenantID := req.TenantID
	if tenantID == "" {
		tenantID = headerTenant
	}

	state, err := h.engine.Decide(r.Context(), tenantID, req.CaseID, req.Decision, req.Comment)
	if err != nil {
		if errors.Is(err, journey.ErrCaseNotFound) {
			writeError(w, http.StatusNotFound, "case not found")
			return
		}
		h.logger.Error("Approval decision failed",
			zap.String("case_id", req.CaseID),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "decision failed")
		return
	}
	h.renderState(w, state)
}

func (h *OrchestrateHandler) renderState(w http.ResponseWriter, state *journey.State) {
	view, err := journey.Render(state)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to render state")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, view)
}
