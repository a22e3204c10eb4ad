// Package executor dispatches hub events to registered agent services
// over HTTP and feeds responses back through the event bus.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/metinemredonmez/senkron-ai-hub/internal/eventbus"
	"github.com/metinemredonmez/senkron-ai-hub/internal/metrics"
	"github.com/metinemredonmez/senkron-ai-hub/internal/models"
	"github.com/metinemredonmez/senkron-ai-hub/internal/registry"
	"github.com/metinemredonmez/senkron-ai-hub/internal/tenantctx"
)

// agentTimeout bounds one agent invocation end to end.
const agentTimeout = 60 * time.Second

var tracer = otel.Tracer("senkron-ai-hub/executor")

// DispatchError carries the failure kind agents report into the error
// counter labels.
type DispatchError struct {
	Agent string
	Kind  string
	Err   error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("agent %s: %v", e.Agent, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// ErrorKind satisfies metrics.KindError.
func (e *DispatchError) ErrorKind() string { return e.Kind }

// Executor invokes agent services synchronously.
type Executor struct {
	cache   *registry.Cache
	tenants *tenantctx.Service
	bus     *eventbus.Bus
	http    *http.Client
	logger  *zap.Logger
}

// New creates an executor.
func New(cache *registry.Cache, tenants *tenantctx.Service, bus *eventbus.Bus, logger *zap.Logger) *Executor {
	return &Executor{
		cache:   cache,
		tenants: tenants,
		bus:     bus,
		http:    &http.Client{Timeout: agentTimeout},
		logger:  logger,
	}
}

// Execute runs agent against event. The invocation is instrumented:
// latency always, request count on success, error count with the
// concrete kind on failure. On success the agent's session write-back
// is persisted and the reply is republished as agent.response.
func (x *Executor) Execute(ctx context.Context, agent *models.Agent, tenantID string, payload map[string]interface{}, event *models.HubEvent, sessionContext map[string]interface{}, channel string) (map[string]interface{}, error) {
	labels := metrics.AgentLabels{
		AgentName: agent.Name,
		TenantID:  tenantID,
		Channel:   resolveChannel(channel, event),
		EventType: eventType(event),
	}
	return metrics.TrackAgent(labels, func() (map[string]interface{}, error) {
		return x.execute(ctx, agent, tenantID, payload, event, sessionContext, labels.Channel)
	})
}

func (x *Executor) execute(ctx context.Context, agent *models.Agent, tenantID string, payload map[string]interface{}, event *models.HubEvent, sessionContext map[string]interface{}, channel string) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, agentTimeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "agent.execute",
		trace.WithAttributes(
			attribute.String("agent.name", agent.Name),
			attribute.String("tenant.id", tenantID),
		))
	defer span.End()

	// Re-resolve in case the registry record changed since routing.
	resolved, err := x.cache.GetAgent(ctx, agent.Name, tenantID)
	if err != nil {
		x.logger.Warn("Agent re-resolution failed, using routed record",
			zap.String("agent", agent.Name), zap.Error(err))
	} else if resolved != nil {
		agent = resolved
	}

	body := x.buildBody(ctx, agent, tenantID, payload, event, sessionContext, channel)
	result, err := x.invoke(ctx, agent, tenantID, body)
	if err != nil {
		span.RecordError(err)
		x.logger.Error("Agent execution failed",
			zap.String("agent", agent.Name),
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		return nil, err
	}

	x.persistSession(ctx, tenantID, event, result)

	correlationID := ""
	if event != nil {
		correlationID = event.CorrelationID
		if correlationID == "" {
			correlationID = event.ID
		}
	}
	x.bus.EmitAgentResponse(ctx, agent.Name, tenantID, correlationID, result)
	return result, nil
}

// buildBody assembles the agent request envelope. A missing tenant
// context degrades to the bare tenant id with a warning.
func (x *Executor) buildBody(ctx context.Context, agent *models.Agent, tenantID string, payload map[string]interface{}, event *models.HubEvent, sessionContext map[string]interface{}, channel string) map[string]interface{} {
	tenantBlob, err := x.tenants.Resolve(ctx, tenantID)
	if err != nil || tenantBlob == nil {
		if err != nil {
			x.logger.Warn("Tenant context unavailable",
				zap.String("tenant_id", tenantID), zap.Error(err))
		}
		tenantBlob = map[string]interface{}{"id": tenantID}
	}
	body := map[string]interface{}{
		"agent": map[string]interface{}{
			"id":           agent.ID,
			"name":         agent.Name,
			"capabilities": agent.Capabilities,
		},
		"tenant":  tenantBlob,
		"payload": payload,
		"channel": channel,
	}
	// Agents rely on the session key being present; an absent context
	// is sent as an empty map.
	if sessionContext == nil {
		sessionContext = map[string]interface{}{}
	}
	body["session"] = sessionContext
	if event != nil {
		body["event"] = event
	}
	return body
}

func (x *Executor) invoke(ctx context.Context, agent *models.Agent, tenantID string, body map[string]interface{}) (map[string]interface{}, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, &DispatchError{Agent: agent.Name, Kind: "encode", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, agent.Endpoint+"/run", bytes.NewReader(encoded))
	if err != nil {
		return nil, &DispatchError{Agent: agent.Name, Kind: "transport", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", tenantID)
	req.Header.Set("X-Agent-Name", agent.Name)

	resp, err := x.http.Do(req)
	if err != nil {
		return nil, &DispatchError{Agent: agent.Name, Kind: "transport", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &DispatchError{
			Agent: agent.Name,
			Kind:  "status_" + strconv.Itoa(resp.StatusCode),
			Err:   fmt.Errorf("status %d", resp.StatusCode),
		}
	}
	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &DispatchError{Agent: agent.Name, Kind: "decode", Err: err}
	}
	return result, nil
}

// persistSession writes back the "session" (or legacy "context") map
// an agent returns. Best-effort.
func (x *Executor) persistSession(ctx context.Context, tenantID string, event *models.HubEvent, result map[string]interface{}) {
	if event == nil || event.SessionID == "" || result == nil {
		return
	}
	state, ok := result["session"].(map[string]interface{})
	if !ok {
		state, ok = result["context"].(map[string]interface{})
	}
	if !ok {
		return
	}
	if err := x.tenants.SetSessionState(ctx, tenantID, event.SessionID, state); err != nil {
		x.logger.Warn("Failed to persist session state",
			zap.String("tenant_id", tenantID),
			zap.String("session_id", event.SessionID),
			zap.Error(err))
	}
}

func resolveChannel(channel string, event *models.HubEvent) string {
	if channel != "" {
		return channel
	}
	if event != nil && event.Channel != "" {
		return event.Channel
	}
	return "system"
}

func eventType(event *models.HubEvent) string {
	if event != nil {
		return event.Type
	}
	return ""
}
