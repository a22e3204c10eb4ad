// Package metrics exposes the hub's Prometheus metrics and the
// instrumentation wrapper used around agent dispatch.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AgentLatencySeconds is observed for every dispatch, success or not.
	AgentLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agent_latency_seconds",
			Help:    "Latency distribution for agent executions",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"agent_name", "tenant_id", "event_type"},
	)

	// TenantRequestCount is incremented on success only.
	TenantRequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_request_count",
			Help: "Count of orchestration requests per tenant and agent",
		},
		[]string{"tenant_id", "agent_name", "channel", "event_type"},
	)

	// AgentErrorTotal is incremented on failure with the concrete kind.
	AgentErrorTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_error_total",
			Help: "Total agent execution errors by tenant",
		},
		[]string{"agent_name", "tenant_id", "event_type", "error_type"},
	)

	// IntegrationRequestDuration tracks external tool calls.
	IntegrationRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "integration_request_duration_seconds",
			Help:    "Latency of external integration calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "status"},
	)
)

// AgentLabels identifies a dispatch for metric purposes.
type AgentLabels struct {
	AgentName string
	TenantID  string
	Channel   string
	EventType string
}

// KindError lets dispatch errors report their concrete failure kind for
// the error counter.
type KindError interface {
	error
	ErrorKind() string
}

// TrackAgent wraps a dispatch call: latency is always observed, the
// request counter increments on success, the error counter on failure.
func TrackAgent(labels AgentLabels, fn func() (map[string]interface{}, error)) (map[string]interface{}, error) {
	channel := labels.Channel
	if channel == "" {
		channel = "system"
	}
	eventType := labels.EventType
	if eventType == "" {
		eventType = "unknown"
	}

	start := time.Now()
	result, err := fn()
	duration := time.Since(start).Seconds()

	AgentLatencySeconds.WithLabelValues(labels.AgentName, labels.TenantID, eventType).Observe(duration)
	if err != nil {
		AgentErrorTotal.WithLabelValues(labels.AgentName, labels.TenantID, eventType, errorKind(err)).Inc()
		return nil, err
	}
	TenantRequestCount.WithLabelValues(labels.TenantID, labels.AgentName, channel, eventType).Inc()
	return result, nil
}

func errorKind(err error) string {
	if kinded, ok := err.(KindError); ok {
		return kinded.ErrorKind()
	}
	return "error"
}
