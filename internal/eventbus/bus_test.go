package eventbus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/metinemredonmez/senkron-ai-hub/internal/contextstore"
	"github.com/metinemredonmez/senkron-ai-hub/internal/models"
)

func newTestBus(t *testing.T) (*Bus, *contextstore.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	store := contextstore.New("redis://"+mr.Addr(), "hub", zaptest.NewLogger(t))
	t.Cleanup(func() { store.Close() })
	// No broker URL: the broker sink drops, the stream sink must still work.
	producer := NewProducer("", zaptest.NewLogger(t))
	return New(producer, store, "", "", "", zaptest.NewLogger(t)), store
}

func testEvent(eventType string) *models.HubEvent {
	return &models.HubEvent{
		ID:        "e1",
		TenantID:  "acme",
		Type:      eventType,
		Source:    "test",
		Timestamp: time.Now().UTC(),
		Payload:   map[string]interface{}{"k": "v"},
	}
}

func TestSubjectResolution(t *testing.T) {
	bus, _ := newTestBus(t)
	assert.Equal(t, "tenant.acme.ai.agent.events", bus.Subject("acme", "agent.response"))
	assert.Equal(t, "tenant.acme.hub.events", bus.Subject("acme", "case.created"))
	assert.Equal(t, "tenant.system.hub.events", bus.Subject("", "case.created"))
}

func TestStreamName(t *testing.T) {
	bus, _ := newTestBus(t)
	assert.Equal(t, "acme:hub:events", bus.StreamName("acme"))
	assert.Equal(t, "system:hub:events", bus.StreamName(""))
}

func TestPublishAppendsToStreamWhenBrokerUnavailable(t *testing.T) {
	bus, store := newTestBus(t)
	ctx := context.Background()

	require.NoError(t, bus.Publish(ctx, testEvent("case.created")))

	entries, err := store.ReadStreamReverse(ctx, "acme:hub:events", "", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	var stored models.HubEvent
	require.NoError(t, json.Unmarshal([]byte(entries[0].Fields["data"].(string)), &stored))
	assert.Equal(t, "e1", stored.ID)
	assert.Equal(t, "case.created", stored.Type)
}

func TestPublishBrokerDoesNotTouchStream(t *testing.T) {
	bus, store := newTestBus(t)
	ctx := context.Background()

	require.NoError(t, bus.PublishBroker(testEvent("case.created")))
	entries, err := store.ReadStreamReverse(ctx, "acme:hub:events", "", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPublishRawValidates(t *testing.T) {
	bus, _ := newTestBus(t)
	_, err := bus.PublishRaw(context.Background(), map[string]interface{}{
		"id":   "e1",
		"type": "case.created",
	})
	require.Error(t, err)
}

func TestEmitAgentResponseDerivesIdentity(t *testing.T) {
	bus, store := newTestBus(t)
	ctx := context.Background()

	bus.EmitAgentResponse(ctx, "triage", "acme", "corr-1", map[string]interface{}{
		"answer": "ok",
	})

	entries, err := store.ReadStreamReverse(ctx, "acme:hub:events", "", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	var event models.HubEvent
	require.NoError(t, json.Unmarshal([]byte(entries[0].Fields["data"].(string)), &event))
	assert.Equal(t, "corr-1", event.ID)
	assert.Equal(t, "agent.response", event.Type)
	assert.Equal(t, "triage", event.Source)
	assert.Equal(t, "internal", event.Channel)
	assert.Equal(t, "corr-1", event.CorrelationID)
	assert.False(t, event.Timestamp.IsZero())
}

func TestEmitCaseEventRedactsPayload(t *testing.T) {
	bus, store := newTestBus(t)
	ctx := context.Background()

	bus.EmitCaseEvent(ctx, "acme", "c1", "case.created", map[string]interface{}{
		"contact": "ayse@example.com",
	})

	entries, err := store.ReadStreamReverse(ctx, "acme:hub:events", "", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	var event models.HubEvent
	require.NoError(t, json.Unmarshal([]byte(entries[0].Fields["data"].(string)), &event))
	assert.Equal(t, "case.created", event.Type)
	assert.Equal(t, "***redacted***", event.Payload["contact"])
	assert.Equal(t, "c1", event.Payload["caseId"])
}
