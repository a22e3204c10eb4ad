package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/metinemredonmez/senkron-ai-hub/internal/hub"
	"github.com/metinemredonmez/senkron-ai-hub/internal/registry"
)

// HubHandler serves event ingest, replay, and the registry views.
type HubHandler struct {
	router *hub.Router
	cache  *registry.Cache
	logger *zap.Logger
}

func NewHubHandler(router *hub.Router, cache *registry.Cache, logger *zap.Logger) *HubHandler {
	return &HubHandler{router: router, cache: cache, logger: logger}
}

func (h *HubHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /hub/events/publish", h.handlePublish)
	mux.HandleFunc("POST /hub/events/{eventID}/replay", h.handleReplay)
	mux.HandleFunc("GET /hub/events", h.handleRecentEvents)
	mux.HandleFunc("GET /hub/registry", h.handleRegistry)
	mux.HandleFunc("GET /hub/agents", h.handleAgents)
	mux.HandleFunc("GET /hub/tenants", h.handleTenants)
	mux.HandleFunc("POST /hub/clients/{tenantID}/{clientID}/heartbeat", h.handleHeartbeat)
	mux.HandleFunc("GET /hub/clients", h.handleClients)
}

func (h *HubHandler) handlePublish(w http.ResponseWriter, r *http.Request) {
	tenantFromRequest(w, r)
	var payload map[string]interface{}
	if !decodeBody(w, r, &payload) {
		return
	}
	if _, ok := payload["timestamp"]; !ok {
		payload["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	result, err := h.router.HandleRESTPayload(r.Context(), payload)
	if err != nil {
		h.logger.Error("Event ingest failed", zap.Error(err))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, h.logger, http.StatusOK, result)
}

func (h *HubHandler) handleReplay(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFromRequest(w, r)
	entryID := r.PathValue("eventID")
	result, err := h.router.ReplayEvent(r.Context(), tenant, entryID)
	if err != nil {
		h.logger.Error("Replay failed", zap.String("entry_id", entryID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "replay failed")
		return
	}
	if result == nil {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, result)
}

func (h *HubHandler) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFromRequest(w, r)
	limit := int64(50)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}
	events, err := h.router.ListRecentEvents(r.Context(), tenant, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read events")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, events)
}

func (h *HubHandler) handleRegistry(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFromRequest(w, r)
	agents, err := h.cache.ListAgents(r.Context(), tenant)
	if err != nil {
		writeError(w, http.StatusBadGateway, "registry unavailable")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, agents)
}

func (h *HubHandler) handleAgents(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFromRequest(w, r)
	agents, err := h.cache.ListAgents(r.Context(), tenant)
	if err != nil {
		writeError(w, http.StatusBadGateway, "registry unavailable")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"tenantId": tenant,
		"agents":   agents,
	})
}

func (h *HubHandler) handleTenants(w http.ResponseWriter, r *http.Request) {
	tenantFromRequest(w, r)
	tenants, err := h.cache.ListTenants(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "registry unavailable")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, tenants)
}

func (h *HubHandler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	tenantFromRequest(w, r)
	tenantID := r.PathValue("tenantID")
	clientID := r.PathValue("clientID")
	h.cache.HeartbeatClient(tenantID, clientID)
	writeJSON(w, h.logger, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HubHandler) handleClients(w http.ResponseWriter, r *http.Request) {
	tenantFromRequest(w, r)
	writeJSON(w, h.logger, http.StatusOK, h.cache.ListClients(""))
}
