package journey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/metinemredonmez/senkron-ai-hub/internal/contextstore"
)

// ErrCaseNotFound is returned when no checkpoint exists for a case.
var ErrCaseNotFound = errors.New("case not found")

// checkpointTTL keeps abandoned cases from living forever.
const checkpointTTL = 7 * 24 * time.Hour

// Checkpoints persists journey state. Each save writes the full state
// under "{tenant}:lg:ckpt:{caseId}" and a compact progress view under
// "{tenant}:case:state:{caseId}".
type Checkpoints struct {
	store *contextstore.Store
}

// NewCheckpoints creates a checkpoint layer over store.
func NewCheckpoints(store *contextstore.Store) *Checkpoints {
	return &Checkpoints{store: store}
}

// Save writes both views. A save failure must abort the running stage.
func (c *Checkpoints) Save(ctx context.Context, state *State) error {
	full, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode checkpoint %s: %w", state.CaseID, err)
	}
	if err := c.store.Set(ctx, checkpointKey(state.TenantID, state.CaseID), full, checkpointTTL); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", state.CaseID, err)
	}
	compact := map[string]interface{}{
		"caseId":    state.CaseID,
		"stage":     state.Stage,
		"status":    state.Status,
		"updatedAt": state.UpdatedAt,
	}
	if err := c.store.SetJSON(ctx, compactKey(state.TenantID, state.CaseID), compact, checkpointTTL); err != nil {
		return fmt.Errorf("save case state %s: %w", state.CaseID, err)
	}
	return nil
}

// Load restores a case from its full checkpoint.
func (c *Checkpoints) Load(ctx context.Context, tenantID, caseID string) (*State, error) {
	data, err := c.store.Get(ctx, checkpointKey(tenantID, caseID))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("case %s: %w", caseID, ErrCaseNotFound)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", caseID, err)
	}
	return &state, nil
}

func checkpointKey(tenantID, caseID string) string {
	return fmt.Sprintf("%s:lg:ckpt:%s", tenantID, caseID)
}

func compactKey(tenantID, caseID string) string {
	return fmt.Sprintf("%s:case:state:%s", tenantID, caseID)
}
