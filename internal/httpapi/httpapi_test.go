package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/metinemredonmez/senkron-ai-hub/internal/contextstore"
	"github.com/metinemredonmez/senkron-ai-hub/internal/eventbus"
	"github.com/metinemredonmez/senkron-ai-hub/internal/executor"
	"github.com/metinemredonmez/senkron-ai-hub/internal/hub"
	"github.com/metinemredonmez/senkron-ai-hub/internal/journey"
	"github.com/metinemredonmez/senkron-ai-hub/internal/models"
	"github.com/metinemredonmez/senkron-ai-hub/internal/registry"
	"github.com/metinemredonmez/senkron-ai-hub/internal/tenantctx"
)

// newTestMux stands up the whole REST surface over miniredis, a fake
// registry with one agent, and an echoing agent endpoint.
func newTestMux(t *testing.T) *http.ServeMux {
	t.Helper()
	agentSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"answer": "ok"})
	}))
	t.Cleanup(agentSrv.Close)

	agents := []models.Agent{{ID: "a1", Name: "triage", Endpoint: agentSrv.URL}}
	tenants := []models.Tenant{{ID: "acme", Name: "Acme Clinic"}}
	regMux := http.NewServeMux()
	regMux.HandleFunc("GET /agents", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(agents)
	})
	regMux.HandleFunc("GET /tenants", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(tenants)
	})
	regMux.HandleFunc("GET /tenants/{id}", func(w http.ResponseWriter, r *http.Request) {
		for _, tenant := range tenants {
			if tenant.ID == r.PathValue("id") {
				_ = json.NewEncoder(w).Encode(tenant)
				return
			}
		}
		http.NotFound(w, r)
	})
	regSrv := httptest.NewServer(regMux)
	t.Cleanup(regSrv.Close)

	mr := miniredis.RunT(t)
	logger := zaptest.NewLogger(t)
	store := contextstore.New("redis://"+mr.Addr(), "hub", logger)
	t.Cleanup(func() { store.Close() })

	client := registry.NewClient(regSrv.URL, "", nil, logger)
	cache := registry.NewCache(client, time.Minute, logger)
	tenantSvc := tenantctx.New(store, client, time.Minute, logger)
	bus := eventbus.New(eventbus.NewProducer("", logger), store, "", "", "", logger)
	exec := executor.New(cache, tenantSvc, bus, logger)
	router := hub.New(cache, exec, bus, store, tenantSvc, logger)
	engine := journey.NewEngine(journey.Dependencies{
		Checkpoints: journey.NewCheckpoints(store),
		Bus:         bus,
		Logger:      logger,
	})

	mux := http.NewServeMux()
	NewHubHandler(router, cache, logger).RegisterRoutes(mux)
	NewAgentsHandler(cache, exec, tenantSvc, logger).RegisterRoutes(mux)
	NewOrchestrateHandler(engine, logger).RegisterRoutes(mux)
	return mux
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path, tenant string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if tenant != "" {
		req.Header.Set("X-Tenant", tenant)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestPublishDefaultsTimestampAndQueues(t *testing.T) {
	mux := newTestMux(t)
	rec := doJSON(t, mux, http.MethodPost, "/hub/events/publish", "acme", map[string]interface{}{
		"id":       "e1",
		"tenantId": "acme",
		"type":     "booking.created",
		"source":   "portal",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "queued", out["status"])
	assert.Equal(t, "e1", out["eventId"])
	assert.Equal(t, "acme", rec.Header().Get("X-Tenant"))
}

func TestPublishRejectsInvalidEvent(t *testing.T) {
	mux := newTestMux(t)
	rec := doJSON(t, mux, http.MethodPost, "/hub/events/publish", "acme", map[string]interface{}{
		"id": "e1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReplayUnknownEntryIs404(t *testing.T) {
	mux := newTestMux(t)
	rec := doJSON(t, mux, http.MethodPost, "/hub/events/0-1/replay", "acme", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReplayRoundTrip(t *testing.T) {
	mux := newTestMux(t)
	rec := doJSON(t, mux, http.MethodPost, "/hub/events/publish", "acme", map[string]interface{}{
		"id":       "e1",
		"tenantId": "acme",
		"type":     "booking.created",
		"source":   "portal",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	recList := doJSON(t, mux, http.MethodGet, "/hub/events?limit=1", "acme", nil)
	require.Equal(t, http.StatusOK, recList.Code)
	var events []map[string]interface{}
	require.NoError(t, json.Unmarshal(recList.Body.Bytes(), &events))
	require.Len(t, events, 1)
	entryID := events[0]["entryId"].(string)

	recReplay := doJSON(t, mux, http.MethodPost, "/hub/events/"+entryID+"/replay", "acme", nil)
	require.Equal(t, http.StatusOK, recReplay.Code)
	assert.Equal(t, "queued", decode(t, recReplay)["status"])
}

func TestRegistryViews(t *testing.T) {
	mux := newTestMux(t)

	rec := doJSON(t, mux, http.MethodGet, "/hub/registry", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var bare []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bare))
	require.Len(t, bare, 1)
	assert.Equal(t, "triage", bare[0]["name"])
	assert.Equal(t, DefaultTenant, rec.Header().Get("X-Tenant"))

	rec = doJSON(t, mux, http.MethodGet, "/hub/agents", "acme", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	wrapped := decode(t, rec)
	assert.Equal(t, "acme", wrapped["tenantId"])
	assert.Len(t, wrapped["agents"], 1)

	rec = doJSON(t, mux, http.MethodGet, "/hub/tenants", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tenants []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tenants))
	require.Len(t, tenants, 1)
	assert.Equal(t, "acme", tenants[0]["id"])
}

func TestHeartbeatAndClients(t *testing.T) {
	mux := newTestMux(t)
	rec := doJSON(t, mux, http.MethodPost, "/hub/clients/acme/web-1/heartbeat", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, mux, http.MethodGet, "/hub/clients", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	acme := out["acme"].(map[string]interface{})
	assert.Contains(t, acme, "web-1")
}

func TestDirectAgentRun(t *testing.T) {
	mux := newTestMux(t)
	rec := doJSON(t, mux, http.MethodPost, "/agents/triage/run", "acme", map[string]interface{}{
		"tenantId": "acme",
		"payload":  map[string]interface{}{"text": "hi"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "completed", out["status"])
	assert.Equal(t, "triage", out["agent"])
	result := out["result"].(map[string]interface{})
	assert.Equal(t, "ok", result["answer"])
}

func TestDirectAgentRunUnknownAgent(t *testing.T) {
	mux := newTestMux(t)
	rec := doJSON(t, mux, http.MethodPost, "/agents/ghost/run", "acme", map[string]interface{}{
		"tenantId": "acme",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOrchestrateLifecycle(t *testing.T) {
	mux := newTestMux(t)

	rec := doJSON(t, mux, http.MethodPost, "/orchestrate/start", "acme", map[string]interface{}{
		"tenantId": "acme",
		"caseId":   "c1",
		"patient":  map[string]interface{}{"email": "ayse@example.com"},
		"intake": map[string]interface{}{
			"metrics": map[string]interface{}{"bmi": 35},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	started := decode(t, rec)
	assert.Equal(t, "awaiting-approval", started["stage"])
	// Rendered views never leak the patient email.
	patient := started["patient"].(map[string]interface{})
	assert.Equal(t, "***redacted***", patient["email"])

	rec = doJSON(t, mux, http.MethodGet, "/orchestrate/state/c1", "acme", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "awaiting-approval", decode(t, rec)["stage"])

	rec = doJSON(t, mux, http.MethodPost, "/orchestrate/approval", "acme", map[string]interface{}{
		"tenantId": "acme",
		"caseId":   "c1",
		"decision": "APPROVED",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", decode(t, rec)["stage"])
}

func TestOrchestrateStateUnknownCase(t *testing.T) {
	mux := newTestMux(t)
	rec := doJSON(t, mux, http.MethodGet, "/orchestrate/state/ghost", "acme", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOrchestrateApprovalValidatesDecision(t *testing.T) {
	mux := newTestMux(t)
	rec := doJSON(t, mux, http.MethodPost, "/orchestrate/approval", "acme", map[string]interface{}{
		"tenantId": "acme",
		"caseId":   "c1",
		"decision": "MAYBE",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
