// Package hub is the event router: every ingested event is either
// dispatched synchronously to its resolved agent or queued onto the
// bus and the tenant's replay stream.
package hub

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/metinemredonmez/senkron-ai-hub/internal/contextstore"
	"github.com/metinemredonmez/senkron-ai-hub/internal/eventbus"
	"github.com/metinemredonmez/senkron-ai-hub/internal/executor"
	"github.com/metinemredonmez/senkron-ai-hub/internal/metrics"
	"github.com/metinemredonmez/senkron-ai-hub/internal/models"
	"github.com/metinemredonmez/senkron-ai-hub/internal/registry"
	"github.com/metinemredonmez/senkron-ai-hub/internal/tenantctx"
)

// Router routes hub events.
type Router struct {
	cache    *registry.Cache
	executor *executor.Executor
	bus      *eventbus.Bus
	store    *contextstore.Store
	tenants  *tenantctx.Service
	logger   *zap.Logger
}

// New creates a router.
func New(cache *registry.Cache, exec *executor.Executor, bus *eventbus.Bus, store *contextstore.Store, tenants *tenantctx.Service, logger *zap.Logger) *Router {
	return &Router{
		cache:    cache,
		executor: exec,
		bus:      bus,
		store:    store,
		tenants:  tenants,
		logger:   logger,
	}
}

// RouteEvent routes one event. An event addressing a known agent is
// dispatched synchronously and the agent result returned; everything
// else is published to the bus, appended to the tenant's replay stream
// when persist is set, and acknowledged as queued.
func (r *Router) RouteEvent(ctx context.Context, event *models.HubEvent, persist bool) (map[string]interface{}, error) {
	agentName := event.ResolvedAgent()
	if agentName != "" {
		agent, err := r.cache.GetAgent(ctx, agentName, event.TenantID)
		if err != nil {
			return nil, err
		}
		if agent != nil {
			return r.dispatch(ctx, agent, event)
		}
		r.logger.Warn("Event addresses unknown agent, queueing",
			zap.String("agent", agentName),
			zap.String("tenant_id", event.TenantID))
	}
	return r.queue(ctx, event, persist)
}

func (r *Router) dispatch(ctx context.Context, agent *models.Agent, event *models.HubEvent) (map[string]interface{}, error) {
	var session map[string]interface{}
	if event.SessionID != "" {
		var err error
		session, err = r.tenants.GetSessionState(ctx, event.TenantID, event.SessionID)
		if err != nil {
			r.logger.Warn("Session context unavailable",
				zap.String("session_id", event.SessionID), zap.Error(err))
		}
	}
	result, err := r.executor.Execute(ctx, agent, event.TenantID, event.Payload, event, session, event.Channel)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"status": "completed",
		"agent":  agent.Name,
		"result": result,
	}, nil
}

func (r *Router) queue(ctx context.Context, event *models.HubEvent, persist bool) (map[string]interface{}, error) {
	if persist {
		if err := r.bus.Publish(ctx, event); err != nil {
			return nil, err
		}
	} else if err := r.bus.PublishBroker(event); err != nil {
		return nil, err
	}

	agentName := event.ResolvedAgent()
	if agentName == "" {
		agentName = "orchestrator"
	}
	channel := event.Channel
	if channel == "" {
		channel = "system"
	}
	metrics.TenantRequestCount.WithLabelValues(event.TenantID, agentName, channel, event.Type).Inc()

	return map[string]interface{}{
		"status":  "queued",
		"eventId": event.ID,
	}, nil
}

// HandleRESTPayload validates and routes a raw ingest payload.
func (r *Router) HandleRESTPayload(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error) {
	event, err := models.EventFromPayload(payload)
	if err != nil {
		return nil, err
	}
	return r.RouteEvent(ctx, event, true)
}

// HandleChannelMessage converts a channel message into its event form
// and routes it.
func (r *Router) HandleChannelMessage(ctx context.Context, msg *models.ChannelMessage) (map[string]interface{}, error) {
	return r.RouteEvent(ctx, msg.Event(), true)
}

// ReplayEvent re-routes the newest replay-stream entry at or before
// entryID. The replayed event is not re-appended. Returns nil when no
// entry qualifies.
func (r *Router) ReplayEvent(ctx context.Context, tenantID, entryID string) (map[string]interface{}, error) {
	stream := r.bus.StreamName(tenantID)
	entries, err := r.store.ReadStreamReverse(ctx, stream, entryID, 1)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	event, err := decodeStreamEvent(entries[0])
	if err != nil {
		return nil, err
	}
	r.logger.Info("Replaying event",
		zap.String("tenant_id", tenantID),
		zap.String("entry_id", entries[0].ID),
		zap.String("event_id", event.ID))
	return r.RouteEvent(ctx, event, false)
}

// ListRecentEvents returns up to limit newest-first replay entries.
func (r *Router) ListRecentEvents(ctx context.Context, tenantID string, limit int64) ([]map[string]interface{}, error) {
	if limit <= 0 {
		limit = 50
	}
	stream := r.bus.StreamName(tenantID)
	entries, err := r.store.ReadStreamReverse(ctx, stream, "+", limit)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		record := map[string]interface{}{"entryId": entry.ID}
		if event, err := decodeStreamEvent(entry); err == nil {
			record["event"] = event
		}
		out = append(out, record)
	}
	return out, nil
}

func decodeStreamEvent(entry contextstore.StreamEntry) (*models.HubEvent, error) {
	raw, ok := entry.Fields["data"].(string)
	if !ok {
		return nil, fmt.Errorf("stream entry %s has no data field", entry.ID)
	}
	var event models.HubEvent
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return nil, fmt.Errorf("decode stream entry %s: %w", entry.ID, err)
	}
	return &event, nil
}
