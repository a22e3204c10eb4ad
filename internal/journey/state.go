// Package journey drives a case through its staged workflow: intake,
// eligibility, provider matching, pricing, travel, documents, the
// approval gate, itinerary, and aftercare. State survives restarts via
// per-stage checkpoints in the context store.
package journey

import (
	"encoding/json"
	"time"
)

// Stage names, in workflow order.
const (
	StageIntake           = "intake"
	StageEligibility      = "eligibility"
	StageProviderMatch    = "provider_match"
	StagePricing          = "pricing"
	StageTravel           = "travel"
	StageDocsVisa         = "docs_visa"
	StageApprovals        = "approvals"
	StageAwaitingApproval = "awaiting-approval"
	StageAwaitingDecision = "awaiting-decision"
	StageItinerary        = "itinerary"
	StageAftercare        = "aftercare"
	StageCompleted        = "completed"
)

// Case statuses outside the stage names above.
const (
	StatusEligible    = "eligible"
	StatusNeedsReview = "needs-review"
	StatusOnHold      = "on-hold"
)

// Approval decisions.
const (
	DecisionApproved = "APPROVED"
	DecisionRejected = "REJECTED"
)

// NonDiagnosticDisclaimer must be present on every case.
const NonDiagnosticDisclaimer = "This platform provides educational, non-diagnostic support only. All medical decisions must be validated by licensed clinicians."

// RedFlagClinicalReview marks a case for the approval gate.
const RedFlagClinicalReview = "clinical_review_required"

// State is the working copy of one case. Checkpoints store it
// unredacted; redaction applies only on outward surfaces.
type State struct {
	TenantID        string                   `json:"tenantId"`
	CaseID          string                   `json:"caseId"`
	Stage           string                   `json:"stage"`
	Status          string                   `json:"status"`
	Patient         map[string]interface{}   `json:"patient,omitempty"`
	Intake          map[string]interface{}   `json:"intake,omitempty"`
	ClinicalSummary map[string]interface{}   `json:"clinicalSummary,omitempty"`
	Eligibility     map[string]interface{}   `json:"eligibility,omitempty"`
	Pricing         map[string]interface{}   `json:"pricing,omitempty"`
	Travel          map[string]interface{}   `json:"travel,omitempty"`
	Docs            map[string]interface{}   `json:"docs,omitempty"`
	Approvals       []map[string]interface{} `json:"approvals,omitempty"`
	Itinerary       []map[string]interface{} `json:"itinerary,omitempty"`
	Aftercare       map[string]interface{}   `json:"aftercare,omitempty"`
	Disclaimers     []string                 `json:"disclaimers,omitempty"`
	RedFlags        []string                 `json:"redFlags,omitempty"`
	Transcript      []string                 `json:"transcript,omitempty"`
	UpdatedAt       string                   `json:"updatedAt"`
}

// NewState initialises a case at intake.
func NewState(tenantID, caseID string, patient, intake map[string]interface{}) *State {
	s := &State{
		TenantID: tenantID,
		CaseID:   caseID,
		Stage:    StageIntake,
		Status:   StageIntake,
		Patient:  patient,
		Intake:   intake,
	}
	s.AddDisclaimer(NonDiagnosticDisclaimer)
	s.Touch()
	return s
}

// AddDisclaimer appends text unless it is already present.
func (s *State) AddDisclaimer(text string) {
	for _, existing := range s.Disclaimers {
		if existing == text {
			return
		}
	}
	s.Disclaimers = append(s.Disclaimers, text)
}

// AddRedFlag appends flag unless it is already present.
func (s *State) AddRedFlag(flag string) {
	for _, existing := range s.RedFlags {
		if existing == flag {
			return
		}
	}
	s.RedFlags = append(s.RedFlags, flag)
}

// Touch bumps updatedAt, strictly after the previous value even when
// the wall clock has not advanced.
func (s *State) Touch() {
	now := time.Now().UTC()
	if prev, err := time.Parse(time.RFC3339Nano, s.UpdatedAt); err == nil && !now.After(prev) {
		now = prev.Add(time.Nanosecond)
	}
	s.UpdatedAt = now.Format(time.RFC3339Nano)
}

// Halted reports whether the case is stopped at the approval gate or
// on hold after a rejection.
func (s *State) Halted() bool {
	return s.Stage == StageAwaitingApproval || s.Stage == StageAwaitingDecision
}

// IntakeBMI reads intake.metrics.bmi, defaulting to 24 when absent.
func (s *State) IntakeBMI() float64 {
	metrics, ok := s.Intake["metrics"].(map[string]interface{})
	if !ok {
		return 24
	}
	if bmi, ok := toFloat(metrics["bmi"]); ok {
		return bmi
	}
	return 24
}

// BudgetMax reads intake.budget.maxAmount; ok is false when unset.
func (s *State) BudgetMax() (float64, bool) {
	budget, ok := s.Intake["budget"].(map[string]interface{})
	if !ok {
		return 0, false
	}
	return toFloat(budget["maxAmount"])
}

// Preferences reads intake.travelPreferences, nil when unset.
func (s *State) Preferences() map[string]interface{} {
	prefs, _ := s.Intake["travelPreferences"].(map[string]interface{})
	return prefs
}

// TargetProcedure reads intake.targetProcedure, "Procedure" when unset.
func (s *State) TargetProcedure() string {
	if name, ok := s.Intake["targetProcedure"].(string); ok && name != "" {
		return name
	}
	return "Procedure"
}

func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
