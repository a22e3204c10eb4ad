package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/metinemredonmez/senkron-ai-hub/internal/contextstore"
	"github.com/metinemredonmez/senkron-ai-hub/internal/models"
	"github.com/metinemredonmez/senkron-ai-hub/internal/redact"
)

// Topic suffix defaults; the tenant id is prepended at publish time.
const (
	DefaultAgentSuffix  = "ai.agent.events"
	DefaultHubSuffix    = "hub.events"
	DefaultStreamSuffix = "hub:events"
)

// Bus fans each event out to the broker and the tenant's replay
// stream. Sink failures are absorbed and logged so neither sink can
// take down ingest.
type Bus struct {
	producer     *Producer
	store        *contextstore.Store
	agentSuffix  string
	hubSuffix    string
	streamSuffix string
	logger       *zap.Logger
}

// New creates a bus over the broker producer and the context store.
// Empty suffixes fall back to the defaults.
func New(producer *Producer, store *contextstore.Store, agentSuffix, hubSuffix, streamSuffix string, logger *zap.Logger) *Bus {
	if agentSuffix == "" {
		agentSuffix = DefaultAgentSuffix
	}
	if hubSuffix == "" {
		hubSuffix = DefaultHubSuffix
	}
	if streamSuffix == "" {
		streamSuffix = DefaultStreamSuffix
	}
	return &Bus{
		producer:     producer,
		store:        store,
		agentSuffix:  agentSuffix,
		hubSuffix:    hubSuffix,
		streamSuffix: streamSuffix,
		logger:       logger,
	}
}

// Subject returns the broker subject for an event: agent lifecycle
// events ("agent.*") go to the agent topic, everything else to the hub
// topic. An empty tenant falls back to "system".
func (b *Bus) Subject(tenantID, eventType string) string {
	if tenantID == "" {
		tenantID = "system"
	}
	suffix := b.hubSuffix
	if strings.HasPrefix(eventType, "agent.") {
		suffix = b.agentSuffix
	}
	return fmt.Sprintf("tenant.%s.%s", tenantID, suffix)
}

// StreamName returns the tenant's replay stream key.
func (b *Bus) StreamName(tenantID string) string {
	if tenantID == "" {
		tenantID = "system"
	}
	return fmt.Sprintf("%s:%s", tenantID, b.streamSuffix)
}

// Publish writes event to both sinks concurrently. Errors from either
// sink are logged and swallowed; Publish itself only fails when the
// event cannot be encoded.
func (b *Bus) Publish(ctx context.Context, event *models.HubEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", event.ID, err)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("encode event %s: %w", event.ID, err)
	}

	subject := b.Subject(event.TenantID, event.Type)
	stream := b.StreamName(event.TenantID)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := b.producer.Publish(subject, data); err != nil {
			b.logger.Error("Broker publish failed",
				zap.String("subject", subject),
				zap.String("event_id", event.ID),
				zap.Error(err))
		}
	}()
	go func() {
		defer wg.Done()
		if _, err := b.store.AppendStream(ctx, stream, payload, 0); err != nil {
			b.logger.Error("Replay stream append failed",
				zap.String("stream", stream),
				zap.String("event_id", event.ID),
				zap.Error(err))
		}
	}()
	wg.Wait()
	return nil
}

// PublishBroker writes event to the broker sink only. Replay uses this
// to avoid re-appending an entry that is already in the stream.
func (b *Bus) PublishBroker(event *models.HubEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", event.ID, err)
	}
	subject := b.Subject(event.TenantID, event.Type)
	if err := b.producer.Publish(subject, data); err != nil {
		b.logger.Error("Broker publish failed",
			zap.String("subject", subject),
			zap.String("event_id", event.ID),
			zap.Error(err))
	}
	return nil
}

// PublishRaw validates an arbitrary payload into a HubEvent and
// publishes it.
func (b *Bus) PublishRaw(ctx context.Context, payload map[string]interface{}) (*models.HubEvent, error) {
	event, err := models.EventFromPayload(payload)
	if err != nil {
		return nil, err
	}
	if err := b.Publish(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

// EmitAgentResponse republishes an agent's reply as an "agent.response"
// event. Missing identity fields are derived: id from the response,
// then the correlation id, then the agent name.
func (b *Bus) EmitAgentResponse(ctx context.Context, agentName, tenantID, correlationID string, response map[string]interface{}) {
	id := stringField(response, "id")
	if id == "" {
		id = correlationID
	}
	if id == "" {
		id = agentName
	}
	timestamp := time.Now().UTC()
	if raw := stringField(response, "timestamp"); raw != "" {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			timestamp = parsed
		}
	}
	event := &models.HubEvent{
		ID:            id,
		TenantID:      tenantID,
		Type:          "agent.response",
		Source:        agentName,
		Timestamp:     timestamp,
		Payload:       response,
		AgentName:     agentName,
		Channel:       "internal",
		CorrelationID: correlationID,
	}
	if err := b.Publish(ctx, event); err != nil {
		b.logger.Error("Failed to emit agent response",
			zap.String("agent", agentName),
			zap.Error(err))
	}
}

// EmitCaseEvent publishes a journey lifecycle event with the payload
// redacted first. Emission is best-effort.
func (b *Bus) EmitCaseEvent(ctx context.Context, tenantID, caseID, eventType string, payload map[string]interface{}) {
	clean, _ := redact.Payload(payload).(map[string]interface{})
	if clean == nil {
		clean = map[string]interface{}{}
	}
	clean["caseId"] = caseID
	event := &models.HubEvent{
		ID:        fmt.Sprintf("%s-%s", caseID, eventType),
		TenantID:  tenantID,
		Type:      eventType,
		Source:    "journey",
		Timestamp: time.Now().UTC(),
		Payload:   clean,
		SessionID: caseID,
		Channel:   "internal",
	}
	if err := b.Publish(ctx, event); err != nil {
		b.logger.Error("Failed to emit case event",
			zap.String("case_id", caseID),
			zap.String("type", eventType),
			zap.Error(err))
	}
}

func stringField(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	if value, ok := m[key].(string); ok {
		return value
	}
	return ""
}
