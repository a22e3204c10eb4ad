package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/metinemredonmez/senkron-ai-hub/internal/executor"
	"github.com/metinemredonmez/senkron-ai-hub/internal/models"
	"github.com/metinemredonmez/senkron-ai-hub/internal/registry"
	"github.com/metinemredonmez/senkron-ai-hub/internal/tenantctx"
)

// AgentsHandler serves synchronous direct agent dispatch.
type AgentsHandler struct {
	cache    *registry.Cache
	executor *executor.Executor
	tenants  *tenantctx.Service
	logger   *zap.Logger
}

func NewAgentsHandler(cache *registry.Cache, exec *executor.Executor, tenants *tenantctx.Service, logger *zap.Logger) *AgentsHandler {
	return &AgentsHandler{cache: cache, executor: exec, tenants: tenants, logger: logger}
}

func (h *AgentsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /agents/{agentName}/run", h.handleRun)
}

type runRequest struct {
	TenantID  string                 `json:"tenantId"`
	Payload   map[string]interface{} `json:"payload"`
	SessionID string                 `json:"sessionId,omitempty"`
	Channel   string                 `json:"channel,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

func (h *AgentsHandler) handleRun(w http.ResponseWriter, r *http.Request) {
	headerTenant := tenantFromRequest(w, r)
	agentName := r.PathValue("agentName")

	var req runRequest
	if !decodeBody(w, r, &req) {
		return
	}
	tenantID := req.TenantID
	if tenantID == "" {
		tenantID = headerTenant
	}

	agent, err := h.cache.GetAgent(r.Context(), agentName, tenantID)
	if err != nil {
		writeError(w, http.StatusBadGateway, "registry unavailable")
		return
	}
	if agent == nil {
		writeError(w, http.StatusNotFound, "unknown agent "+agentName)
		return
	}

	event := h.buildEvent(agentName, tenantID, &req)
	var session map[string]interface{}
	if req.SessionID != "" {
		session, err = h.tenants.GetSessionState(r.Context(), tenantID, req.SessionID)
		if err != nil {
			h.logger.Warn("Session context unavailable",
				zap.String("session_id", req.SessionID), zap.Error(err))
		}
	}

	result, err := h.executor.Execute(r.Context(), agent, tenantID, req.Payload, event, session, req.Channel)
	if err != nil {
		h.logger.Error("Direct dispatch failed",
			zap.String("agent", agentName),
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		writeError(w, http.StatusBadGateway, "agent execution failed")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"status": "completed",
		"agent":  agentName,
		"result": result,
	})
}

// buildEvent synthesises the event envelope for a direct run. Metadata
// may override the generated id and the "agent.direct" type.
func (h *AgentsHandler) buildEvent(agentName, tenantID string, req *runRequest) *models.HubEvent {
	id := uuid.NewString()
	eventType := "agent.direct"
	if req.Metadata != nil {
		if v, ok := req.Metadata["eventId"].(string); ok && v != "" {
			id = v
		}
		if v, ok := req.Metadata["eventType"].(string); ok && v != "" {
			eventType = v
		}
	}
	return &models.HubEvent{
		ID:          id,
		TenantID:    tenantID,
		Type:        eventType,
		Source:      "orchestrator",
		Timestamp:   time.Now().UTC(),
		Payload:     req.Payload,
		SessionID:   req.SessionID,
		TargetAgent: agentName,
		Channel:     req.Channel,
		Metadata:    req.Metadata,
	}
}
