package journey

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/metinemredonmez/senkron-ai-hub/internal/redact"
	"github.com/metinemredonmez/senkron-ai-hub/internal/tools"
)

// Pricing constants, EUR.
const (
	baseProcedurePrice = 6200.0
	hospitalShare      = 1200.0
	travelAllowance    = 900.0
)

// CaseEmitter publishes journey lifecycle events. Satisfied by
// eventbus.Bus.
type CaseEmitter interface {
	EmitCaseEvent(ctx context.Context, tenantID, caseID, eventType string, payload map[string]interface{})
}

// Dependencies are the engine's collaborators. Travel, Cases, and
// Blobs may be nil; stages that use them degrade to their fallbacks.
type Dependencies struct {
	Checkpoints *Checkpoints
	Bus         CaseEmitter
	Travel      *tools.TravelClient
	Cases       *tools.CaseClient
	Blobs       *tools.BlobClient
	Logger      *zap.Logger
}

// stage is one row of the workflow table.
type stage struct {
	name    string
	handler func(*Engine, context.Context, *State) error
	next    string
}

// stageTable is the linear workflow; the approval branch is decided
// after the approvals handler from state.Approvals alone.
var stageTable = []stage{
	{StageIntake, (*Engine).runIntake, StageEligibility},
	{StageEligibility, (*Engine).runEligibility, StageProviderMatch},
	{StageProviderMatch, (*Engine).runProviderMatch, StagePricing},
	{StagePricing, (*Engine).runPricing, StageTravel},
	{StageTravel, (*Engine).runTravel, StageDocsVisa},
	{StageDocsVisa, (*Engine).runDocsVisa, StageApprovals},
	{StageApprovals, (*Engine).runApprovals, StageItinerary},
	{StageItinerary, (*Engine).runItinerary, StageAftercare},
	{StageAftercare, (*Engine).runAftercare, StageCompleted},
}

// Engine executes the workflow table against case state.
type Engine struct {
	deps Dependencies
}

// NewEngine creates a journey engine.
func NewEngine(deps Dependencies) *Engine {
	return &Engine{deps: deps}
}

// Start drives a new case from intake until completion or the approval
// gate. The returned state is the final checkpoint.
func (e *Engine) Start(ctx context.Context, tenantID, caseID string, patient, intake map[string]interface{}) (*State, error) {
	state := NewState(tenantID, caseID, patient, intake)
	if err := e.run(ctx, state, StageIntake); err != nil {
		return nil, err
	}
	return state, nil
}

// Load restores a case from its checkpoint.
func (e *Engine) Load(ctx context.Context, tenantID, caseID string) (*State, error) {
	return e.deps.Checkpoints.Load(ctx, tenantID, caseID)
}

// Decide applies an external approval decision to a halted case.
// REJECTED holds the case; APPROVED clears the gate and drives the
// case forward to completion.
func (e *Engine) Decide(ctx context.Context, tenantID, caseID, decision, comment string) (*State, error) {
	if decision != DecisionApproved && decision != DecisionRejected {
		return nil, fmt.Errorf("invalid decision %q", decision)
	}
	state, err := e.deps.Checkpoints.Load(ctx, tenantID, caseID)
	if err != nil {
		return nil, err
	}

	if decision == DecisionRejected {
		state.Status = StatusOnHold
		state.Stage = StageAwaitingDecision
		state.Approvals = append(state.Approvals, map[string]interface{}{
			"id":   fmt.Sprintf("decision-%s", caseID),
			"type": "clinical_review",
			"payload": map[string]interface{}{
				"decision": decision,
				"comment":  comment,
			},
		})
		state.Touch()
		if err := e.deps.Checkpoints.Save(ctx, state); err != nil {
			return nil, err
		}
		return state, nil
	}

	// Approved: clear the gate and re-enter at approvals. Stages
	// already executed before the halt are not re-run.
	state.RedFlags = nil
	state.Approvals = nil
	state.Stage = StageApprovals
	state.Status = StageApprovals
	state.Touch()
	if err := e.deps.Checkpoints.Save(ctx, state); err != nil {
		return nil, err
	}
	if err := e.run(ctx, state, StageApprovals); err != nil {
		return nil, err
	}
	return state, nil
}

// run executes the table from the named stage onward. Each stage
// checkpoints after its handler; a checkpoint failure aborts the run.
func (e *Engine) run(ctx context.Context, state *State, from string) error {
	start := stageIndex(from)
	if start < 0 {
		return fmt.Errorf("unknown stage %q", from)
	}
	for i := start; i < len(stageTable); i++ {
		row := stageTable[i]
		if err := row.handler(e, ctx, state); err != nil {
			return fmt.Errorf("stage %s: %w", row.name, err)
		}
		state.Touch()
		if state.Halted() {
			if err := e.deps.Checkpoints.Save(ctx, state); err != nil {
				return fmt.Errorf("stage %s: %w", row.name, err)
			}
			return nil
		}
		if row.next != StageCompleted {
			state.Stage = row.next
		}
		if err := e.deps.Checkpoints.Save(ctx, state); err != nil {
			return fmt.Errorf("stage %s: %w", row.name, err)
		}
	}
	return nil
}

func stageIndex(name string) int {
	for i, row := range stageTable {
		if row.name == name {
			return i
		}
	}
	return -1
}

func (e *Engine) runIntake(ctx context.Context, state *State) error {
	state.Stage = StageIntake
	state.Status = StageIntake
	state.Transcript = append(state.Transcript,
		fmt.Sprintf("Case %s intake recorded at %s", state.CaseID, time.Now().UTC().Format(time.RFC3339)))
	state.AddDisclaimer(NonDiagnosticDisclaimer)

	if e.deps.Cases != nil {
		if _, err := e.deps.Cases.StartCaseAgent(ctx, state.CaseID, map[string]interface{}{
			"tenantId": state.TenantID,
			"stage":    StageIntake,
		}); err != nil {
			e.deps.Logger.Warn("Case management start failed",
				zap.String("case_id", state.CaseID), zap.Error(err))
		}
	}
	e.emit(ctx, state, "case.created", map[string]interface{}{"stage": StageIntake})
	return nil
}

func (e *Engine) runEligibility(ctx context.Context, state *State) error {
	bmi := state.IntakeBMI()
	eligible := bmi < 32
	if eligible {
		state.Status = StatusEligible
	} else {
		state.Status = StatusNeedsReview
		state.AddRedFlag(RedFlagClinicalReview)
	}
	state.Eligibility = map[string]interface{}{
		"status": state.Status,
		"bmi":    bmi,
		"notes": []interface{}{
			"Automated screening only; clinician review pending.",
		},
	}
	return nil
}

func (e *Engine) runProviderMatch(ctx context.Context, state *State) error {
	match := map[string]interface{}{
		"primary": map[string]interface{}{
			"name":  "Istanbul Care Hospital",
			"city":  "Istanbul",
			"score": 0.92,
		},
		"alternatives": []interface{}{
			map[string]interface{}{
				"name":  "Ankara Ortho Center",
				"city":  "Ankara",
				"score": 0.88,
			},
		},
	}
	if prefs := state.Preferences(); prefs != nil {
		match["preferences"] = prefs
	}
	if state.Docs == nil {
		state.Docs = map[string]interface{}{}
	}
	state.Docs["provider_match"] = match

	if e.deps.Cases != nil {
		if err := e.deps.Cases.AddNote(ctx, state.CaseID, "Provider shortlist generated"); err != nil {
			e.deps.Logger.Warn("Case note failed",
				zap.String("case_id", state.CaseID), zap.Error(err))
		}
	}
	return nil
}

func (e *Engine) runPricing(ctx context.Context, state *State) error {
	base := baseProcedurePrice
	if max, ok := state.BudgetMax(); ok {
		base = math.Min(base, max)
	}
	total := base + travelAllowance
	state.Pricing = map[string]interface{}{
		"currency": "EUR",
		"total":    total,
		"breakdown": map[string]interface{}{
			"procedure": base - hospitalShare,
			"hospital":  hospitalShare,
			"travel":    travelAllowance,
		},
		"disclaimer": NonDiagnosticDisclaimer,
	}
	e.emit(ctx, state, "payment.succeeded", map[string]interface{}{
		"amount":   total,
		"currency": "EUR",
	})
	return nil
}

func (e *Engine) runTravel(ctx context.Context, state *State) error {
	flights := e.searchFlights(ctx, state)
	hotels := e.searchHotels(ctx, state)
	state.Travel = map[string]interface{}{
		"flights": flights,
		"hotels":  hotels,
	}
	e.emit(ctx, state, "travel.offer.generated", map[string]interface{}{
		"travel": state.Travel,
	})
	return nil
}

func (e *Engine) searchFlights(ctx context.Context, state *State) interface{} {
	if e.deps.Travel != nil {
		result, err := e.deps.Travel.SearchFlights(ctx, travelCriteria(state))
		if err == nil {
			return result
		}
		e.deps.Logger.Warn("Flight search failed, using fallback",
			zap.String("case_id", state.CaseID), zap.Error(err))
	}
	departure := time.Now().UTC().AddDate(0, 0, 21)
	return []interface{}{
		map[string]interface{}{
			"carrier":   "TK",
			"flight":    "TK34",
			"origin":    "LHR",
			"dest":      "IST",
			"departure": departure.Format(time.RFC3339),
		},
	}
}

func (e *Engine) searchHotels(ctx context.Context, state *State) interface{} {
	if e.deps.Travel != nil {
		result, err := e.deps.Travel.SearchHotels(ctx, travelCriteria(state))
		if err == nil {
			return result
		}
		e.deps.Logger.Warn("Hotel search failed, using fallback",
			zap.String("case_id", state.CaseID), zap.Error(err))
	}
	return []interface{}{
		map[string]interface{}{
			"name":   "Harbiye Surgical Suites",
			"city":   "Istanbul",
			"nights": 7,
		},
	}
}

// travelCriteria is the search payload both travel lookups send: the
// intake's travel preferences, empty when the case has none.
func travelCriteria(state *State) map[string]interface{} {
	prefs := state.Preferences()
	if prefs == nil {
		prefs = map[string]interface{}{}
	}
	return map[string]interface{}{"preferences": prefs}
}

func (e *Engine) runDocsVisa(ctx context.Context, state *State) error {
	if state.Docs == nil {
		state.Docs = map[string]interface{}{}
	}
	checklist := []interface{}{"passport_copy", "medical_history", "visa_application"}
	state.Docs["required"] = checklist
	state.Docs["processingDays"] = 10

	if e.deps.Blobs != nil {
		payload, err := json.Marshal(map[string]interface{}{
			"caseId":    state.CaseID,
			"documents": checklist,
		})
		if err == nil {
			key := state.CaseID + "/checklist.json"
			if _, err := e.deps.Blobs.Upload(ctx, key, payload, "application/json"); err != nil {
				e.deps.Logger.Warn("Checklist upload failed",
					zap.String("case_id", state.CaseID), zap.Error(err))
			} else if link, err := e.deps.Blobs.PresignGet(ctx, key); err == nil {
				state.Docs["uploadLink"] = link
			}
		}
	}
	e.emit(ctx, state, "doc.uploaded", map[string]interface{}{
		"documents": state.Docs,
	})
	return nil
}

func (e *Engine) runApprovals(ctx context.Context, state *State) error {
	if len(state.RedFlags) == 0 {
		return nil
	}
	state.Approvals = append(state.Approvals, map[string]interface{}{
		"id":   fmt.Sprintf("approval-%s", state.CaseID),
		"type": "clinical_review",
		"payload": map[string]interface{}{
			"flags": state.RedFlags,
		},
	})
	state.Stage = StageAwaitingApproval
	state.Status = StageAwaitingApproval
	e.emit(ctx, state, "approval.required", map[string]interface{}{
		"approvals": state.Approvals,
	})
	return nil
}

func (e *Engine) runItinerary(ctx context.Context, state *State) error {
	consult := time.Now().UTC().AddDate(0, 0, 22)
	procedure := time.Now().UTC().AddDate(0, 0, 23)
	state.Itinerary = []map[string]interface{}{
		{
			"id":    "consult-1",
			"title": "Pre-operative consultation",
			"date":  consult.Format(time.RFC3339),
		},
		{
			"id":    "surgery",
			"title": redact.Text(state.TargetProcedure()),
			"date":  procedure.Format(time.RFC3339),
		},
	}
	state.AddDisclaimer(NonDiagnosticDisclaimer)
	return nil
}

func (e *Engine) runAftercare(ctx context.Context, state *State) error {
	state.Aftercare = map[string]interface{}{
		"virtualFollowups": 3,
		"partnerClinic":    "Partner Clinic - London",
	}
	state.Stage = StageCompleted
	state.Status = StageCompleted
	return nil
}

// emit publishes a redacted stage event. Best-effort.
func (e *Engine) emit(ctx context.Context, state *State, eventType string, payload map[string]interface{}) {
	if e.deps.Bus == nil {
		return
	}
	clean, _ := redact.Payload(payload).(map[string]interface{})
	e.deps.Bus.EmitCaseEvent(ctx, state.TenantID, state.CaseID, eventType, clean)
}
