// Package health exposes liveness and readiness over the hub's
// backing services.
package health

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/metinemredonmez/senkron-ai-hub/internal/contextstore"
	"github.com/metinemredonmez/senkron-ai-hub/internal/eventbus"
)

// Status values reported per component.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// CheckResult is one component's probe outcome.
type CheckResult struct {
	Component string        `json:"component"`
	Status    string        `json:"status"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"durationMs"`
}

// Checker probes one backing service.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// RedisChecker probes the context store.
type RedisChecker struct {
	store *contextstore.Store
}

func NewRedisChecker(store *contextstore.Store) *RedisChecker {
	return &RedisChecker{store: store}
}

func (c *RedisChecker) Name() string { return "redis" }

func (c *RedisChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Component: "redis", Status: StatusHealthy}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.store.Ping(ctx); err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
	}
	result.Duration = time.Since(start) / time.Millisecond
	return result
}

// BrokerChecker probes the event producer. A hub configured without a
// broker URL reports healthy since the sink is disabled.
type BrokerChecker struct {
	producer *eventbus.Producer
}

func NewBrokerChecker(producer *eventbus.Producer) *BrokerChecker {
	return &BrokerChecker{producer: producer}
}

func (c *BrokerChecker) Name() string { return "broker" }

func (c *BrokerChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Component: "broker", Status: StatusHealthy}
	if err := c.producer.Healthy(); err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
	}
	result.Duration = time.Since(start) / time.Millisecond
	return result
}

// Manager runs the registered checkers.
type Manager struct {
	checkers []Checker
	logger   *zap.Logger
}

func NewManager(logger *zap.Logger, checkers ...Checker) *Manager {
	return &Manager{checkers: checkers, logger: logger}
}

// Run probes every checker and reports overall readiness.
func (m *Manager) Run(ctx context.Context) (bool, []CheckResult) {
	ready := true
	results := make([]CheckResult, 0, len(m.checkers))
	for _, checker := range m.checkers {
		result := checker.Check(ctx)
		if result.Status != StatusHealthy {
			ready = false
			m.logger.Warn("Health check failed",
				zap.String("component", result.Component),
				zap.String("error", result.Error))
		}
		results = append(results, result)
	}
	return ready, results
}
