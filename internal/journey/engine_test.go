package journey

import (
	"context"
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
	"github.com/metinemredonmez/senkron-ai-hub/internal/models"
	"github.com/metinemredonmez/senkron-ai-hub/internal/tools"
)

type engineFixture struct {
	engine *Engine
	store  *contextstore.Store
}

// newEngineFixture wires the engine with real checkpoints and a real
// bus over miniredis. Travel, case management, and blob tools are nil,
// so every stage exercises its fallback path.
func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	logger := zaptest.NewLogger(t)
	store := contextstore.New("redis://"+mr.Addr(), "hub", logger)
	t.Cleanup(func() { store.Close() })

	bus := eventbus.New(eventbus.NewProducer("", logger), store, "", "", "", logger)
	engine := NewEngine(Dependencies{
		Checkpoints: NewCheckpoints(store),
		Bus:         bus,
		Logger:      logger,
	})
	return &engineFixture{engine: engine, store: store}
}

func (f *engineFixture) emittedEvents(t *testing.T, tenantID string) []models.HubEvent {
	t.Helper()
	entries, err := f.store.ReadStreamReverse(context.Background(), tenantID+":hub:events", "", 100)
	require.NoError(t, err)
	events := make([]models.HubEvent, 0, len(entries))
	// Reverse read; restore chronological order.
	for i := len(entries) - 1; i >= 0; i-- {
		var event models.HubEvent
		require.NoError(t, json.Unmarshal([]byte(entries[i].Fields["data"].(string)), &event))
		events = append(events, event)
	}
	return events
}

func eventTypes(events []models.HubEvent) []string {
	types := make([]string, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}

func intakeWith(bmi, maxBudget float64) map[string]interface{} {
	intake := map[string]interface{}{
		"metrics": map[string]interface{}{"bmi": bmi},
	}
	if maxBudget > 0 {
		intake["budget"] = map[string]interface{}{"maxAmount": maxBudget}
	}
	return intake
}

func TestHappyPathRunsToCompletion(t *testing.T) {
	fx := newEngineFixture(t)
	intake := intakeWith(27, 0)
	intake["targetProcedure"] = "Rhinoplasty"
	state, err := fx.engine.Start(context.Background(), "acme", "c1",
		map[string]interface{}{"name": "Ayse"}, intake)
	require.NoError(t, err)

	assert.Equal(t, StageCompleted, state.Stage)
	assert.Equal(t, StageCompleted, state.Status)
	assert.Empty(t, state.RedFlags)
	assert.Empty(t, state.Approvals)
	assert.Contains(t, state.Disclaimers, NonDiagnosticDisclaimer)

	assert.Equal(t, 7100.0, state.Pricing["total"])
	assert.Equal(t, "EUR", state.Pricing["currency"])
	breakdown := state.Pricing["breakdown"].(map[string]interface{})
	assert.Equal(t, 5000.0, breakdown["procedure"])
	assert.Equal(t, 1200.0, breakdown["hospital"])
	assert.Equal(t, 900.0, breakdown["travel"])

	require.Len(t, state.Itinerary, 2)
	assert.Equal(t, "Rhinoplasty", state.Itinerary[1]["title"])
	assert.Equal(t, 3, state.Aftercare["virtualFollowups"])

	assert.Equal(t,
		[]string{"case.created", "payment.succeeded", "travel.offer.generated", "doc.uploaded"},
		eventTypes(fx.emittedEvents(t, "acme")))

	// The checkpoint is loadable and matches.
	loaded, err := fx.engine.Load(context.Background(), "acme", "c1")
	require.NoError(t, err)
	assert.Equal(t, StageCompleted, loaded.Stage)
	assert.Equal(t, state.UpdatedAt, loaded.UpdatedAt)
}

func TestBudgetClampsPricing(t *testing.T) {
	fx := newEngineFixture(t)
	state, err := fx.engine.Start(context.Background(), "acme", "c1", nil, intakeWith(25, 5000))
	require.NoError(t, err)
	assert.Equal(t, 5900.0, state.Pricing["total"])
	breakdown := state.Pricing["breakdown"].(map[string]interface{})
	assert.Equal(t, 3800.0, breakdown["procedure"])
}

func TestHighBMIHaltsAtApprovalGate(t *testing.T) {
	fx := newEngineFixture(t)
	state, err := fx.engine.Start(context.Background(), "acme", "c1", nil, intakeWith(35, 0))
	require.NoError(t, err)

	assert.Equal(t, StageAwaitingApproval, state.Stage)
	assert.Equal(t, StageAwaitingApproval, state.Status)
	assert.Equal(t, []string{RedFlagClinicalReview}, state.RedFlags)
	require.Len(t, state.Approvals, 1)
	assert.Equal(t, "approval-c1", state.Approvals[0]["id"])
	assert.Equal(t, "clinical_review", state.Approvals[0]["type"])

	// Halted before itinerary and aftercare.
	assert.Nil(t, state.Itinerary)
	assert.Nil(t, state.Aftercare)

	events := eventTypes(fx.emittedEvents(t, "acme"))
	assert.Contains(t, events, "approval.required")
}

func TestBoundaryBMIIsEligible(t *testing.T) {
	fx := newEngineFixture(t)
	state, err := fx.engine.Start(context.Background(), "acme", "c1", nil, intakeWith(31.999, 0))
	require.NoError(t, err)
	assert.Equal(t, StageCompleted, state.Stage)
	assert.Empty(t, state.RedFlags)
}

func TestDefaultBMIWhenMetricsAbsent(t *testing.T) {
	fx := newEngineFixture(t)
	state, err := fx.engine.Start(context.Background(), "acme", "c1", nil, map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, StageCompleted, state.Stage)
	assert.Equal(t, 24.0, state.Eligibility["bmi"])
}

func TestItineraryDefaultsProcedureTitle(t *testing.T) {
	fx := newEngineFixture(t)
	state, err := fx.engine.Start(context.Background(), "acme", "c1", nil, intakeWith(27, 0))
	require.NoError(t, err)
	require.Len(t, state.Itinerary, 2)
	assert.Equal(t, "Procedure", state.Itinerary[1]["title"])
}

func TestTravelSearchSendsIntakePreferences(t *testing.T) {
	var bodies []map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies = append(bodies, body)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"offers": []interface{}{}})
	}))
	t.Cleanup(srv.Close)

	mr := miniredis.RunT(t)
	logger := zaptest.NewLogger(t)
	store := contextstore.New("redis://"+mr.Addr(), "hub", logger)
	t.Cleanup(func() { store.Close() })
	engine := NewEngine(Dependencies{
		Checkpoints: NewCheckpoints(store),
		Bus:         eventbus.New(eventbus.NewProducer("", logger), store, "", "", "", logger),
		Travel:      tools.NewTravelClient(srv.URL, logger),
		Logger:      logger,
	})

	intake := intakeWith(27, 0)
	intake["travelPreferences"] = map[string]interface{}{"originLocationCode": "LHR", "adults": 2}
	_, err := engine.Start(context.Background(), "acme", "c1", nil, intake)
	require.NoError(t, err)

	// One flight search, one hotel search, both carrying the intake's
	// travel preferences.
	require.Len(t, bodies, 2)
	for _, body := range bodies {
		prefs, ok := body["preferences"].(map[string]interface{})
		require.True(t, ok, "search body missing preferences: %v", body)
		assert.Equal(t, "LHR", prefs["originLocationCode"])
		assert.Equal(t, float64(2), prefs["adults"])
	}
}

func TestApprovalDrivesToCompletion(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()
	_, err := fx.engine.Start(ctx, "acme", "c1", nil, intakeWith(35, 0))
	require.NoError(t, err)

	before := len(fx.emittedEvents(t, "acme"))

	state, err := fx.engine.Decide(ctx, "acme", "c1", DecisionApproved, "cleared by dr. y")
	require.NoError(t, err)
	assert.Equal(t, StageCompleted, state.Stage)
	assert.Equal(t, StageCompleted, state.Status)
	assert.Empty(t, state.RedFlags)
	assert.Empty(t, state.Approvals)
	assert.NotNil(t, state.Itinerary)

	// Resume re-enters at approvals: pre-approval stage events are not
	// re-emitted.
	after := eventTypes(fx.emittedEvents(t, "acme"))
	assert.Len(t, after, before)
}

func TestRejectionHoldsCase(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()
	_, err := fx.engine.Start(ctx, "acme", "c1", nil, intakeWith(35, 0))
	require.NoError(t, err)

	state, err := fx.engine.Decide(ctx, "acme", "c1", DecisionRejected, "needs cardiology")
	require.NoError(t, err)
	assert.Equal(t, StatusOnHold, state.Status)
	assert.Equal(t, StageAwaitingDecision, state.Stage)
	require.Len(t, state.Approvals, 2)
	decision := state.Approvals[1]["payload"].(map[string]interface{})
	assert.Equal(t, DecisionRejected, decision["decision"])
	assert.Equal(t, "needs cardiology", decision["comment"])
	assert.Nil(t, state.Itinerary)
}

func TestDecideRejectsInvalidDecision(t *testing.T) {
	fx := newEngineFixture(t)
	_, err := fx.engine.Decide(context.Background(), "acme", "c1", "MAYBE", "")
	require.Error(t, err)
}

func TestDecideUnknownCase(t *testing.T) {
	fx := newEngineFixture(t)
	_, err := fx.engine.Decide(context.Background(), "acme", "ghost", DecisionApproved, "")
	require.ErrorIs(t, err, ErrCaseNotFound)
}

func TestUpdatedAtAdvancesMonotonically(t *testing.T) {
	state := NewState("acme", "c1", nil, nil)
	prev, err := time.Parse(time.RFC3339Nano, state.UpdatedAt)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		state.Touch()
		current, err := time.Parse(time.RFC3339Nano, state.UpdatedAt)
		require.NoError(t, err)
		require.True(t, current.After(prev), "updatedAt did not advance: %s", state.UpdatedAt)
		prev = current
	}
}

func TestEmittedEventsAreRedacted(t *testing.T) {
	fx := newEngineFixture(t)
	intake := intakeWith(27, 0)
	intake["contactEmail"] = "ayse@example.com"
	// Travel preferences flow into provider_match and out via
	// doc.uploaded.
	intake["travelPreferences"] = map[string]interface{}{
		"contactPhone": "+90 532 123 45 67",
		"contactEmail": "ayse@example.com",
	}
	_, err := fx.engine.Start(context.Background(), "acme", "c1",
		map[string]interface{}{"email": "ayse@example.com", "phone": "+90 532 123 45 67"}, intake)
	require.NoError(t, err)

	for _, event := range fx.emittedEvents(t, "acme") {
		raw, err := json.Marshal(event.Payload)
		require.NoError(t, err)
		assert.NotContains(t, string(raw), "ayse@example.com")
		assert.NotContains(t, string(raw), "532 123 45 67")
	}

	// The checkpoint keeps the working copy unredacted.
	state, err := fx.engine.Load(context.Background(), "acme", "c1")
	require.NoError(t, err)
	assert.Equal(t, "ayse@example.com", state.Patient["email"])
}

func TestCompactStateView(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()
	state, err := fx.engine.Start(ctx, "acme", "c1", nil, intakeWith(27, 0))
	require.NoError(t, err)

	compact, err := fx.store.GetJSON(ctx, "acme:case:state:c1")
	require.NoError(t, err)
	require.NotNil(t, compact)
	assert.Equal(t, "c1", compact["caseId"])
	assert.Equal(t, StageCompleted, compact["stage"])
	assert.Equal(t, state.UpdatedAt, compact["updatedAt"])
}
