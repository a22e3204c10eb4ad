package tools

import (
	"context"

	"go.uber.org/zap"
)

// CaseClient notifies the backend case management service about
// journey progress.
type CaseClient struct {
	c *client
}

// NewCaseClient creates a case management client against baseURL.
func NewCaseClient(baseURL string, logger *zap.Logger) *CaseClient {
	return &CaseClient{c: newClient("case_mgmt", baseURL, logger)}
}

// StartCaseAgent asks the backend to attach its agent to caseID.
func (cc *CaseClient) StartCaseAgent(ctx context.Context, caseID string, details map[string]interface{}) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := cc.c.postJSON(ctx, "/external/cases/"+caseID+"/start-agent", details, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddNote appends a free-text note to the case record.
func (cc *CaseClient) AddNote(ctx context.Context, caseID, note string) error {
	body := map[string]interface{}{"note": note}
	return cc.c.postJSON(ctx, "/external/cases/"+caseID+"/notes", body, nil)
}
