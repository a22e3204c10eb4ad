package journey

import (
	"encoding/json"
	"fmt"

	"github.com/metinemredonmez/senkron-ai-hub/internal/redact"
)

// Render produces the outward view of a case. Identifying blobs
// (patient, intake, clinicalSummary) are redacted; workflow fields
// pass through.
func Render(state *State) (map[string]interface{}, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("render case %s: %w", state.CaseID, err)
	}
	var view map[string]interface{}
	if err := json.Unmarshal(raw, &view); err != nil {
		return nil, fmt.Errorf("render case %s: %w", state.CaseID, err)
	}
	for _, field := range []string{"patient", "intake", "clinicalSummary"} {
		if value, ok := view[field]; ok {
			view[field] = redact.Payload(value)
		}
	}
	return view, nil
}
