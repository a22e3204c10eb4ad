// Package tools holds the outbound integration clients the journey
// engine calls: travel search, case management, and blob storage.
// Every HTTP tool shares the retrying client below.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/metinemredonmez/senkron-ai-hub/internal/metrics"
)

const (
	defaultTimeout  = 8 * time.Second
	defaultRetries  = 3
	backoffBase     = 300 * time.Millisecond
	breakerTrip     = 3
	breakerCooldown = 30 * time.Second
)

// ErrCircuitOpen is returned while a provider is cooling down after
// consecutive failures.
var ErrCircuitOpen = errors.New("integration circuit open")

var tracer = otel.Tracer("senkron-ai-hub/tools")

// StatusError is a non-2xx integration response.
type StatusError struct {
	Provider string
	Code     int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d", e.Provider, e.Code)
}

// ErrorKind satisfies metrics.KindError.
func (e *StatusError) ErrorKind() string { return "status_" + strconv.Itoa(e.Code) }

// client is the shared retrying HTTP client for integration tools.
// After breakerTrip consecutive failures the provider is skipped for
// the cooldown window.
type client struct {
	provider string
	baseURL  string
	http     *http.Client
	retries  int
	logger   *zap.Logger

	mu           sync.Mutex
	failureCount int
	openUntil    time.Time
}

func newClient(provider, baseURL string, logger *zap.Logger) *client {
	return &client{
		provider: provider,
		baseURL:  baseURL,
		http:     &http.Client{Timeout: defaultTimeout},
		retries:  defaultRetries,
		logger:   logger,
	}
}

// postJSON sends body to path and decodes the JSON reply. Transport
// errors and 5xx responses are retried with exponential backoff; 4xx
// fail immediately.
func (c *client) postJSON(ctx context.Context, path string, body, out interface{}) error {
	if err := c.checkBreaker(); err != nil {
		return err
	}

	ctx, span := tracer.Start(ctx, c.provider+" "+path,
		trace.WithAttributes(attribute.String("integration.provider", c.provider)))
	defer span.End()

	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: encode: %w", c.provider, err)
	}

	start := time.Now()
	var lastErr error
	for attempt := 0; attempt < c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
			case <-time.After(backoffFor(attempt)):
			}
			if ctx.Err() != nil {
				break
			}
		}
		lastErr = c.doOnce(ctx, path, encoded, out)
		if lastErr == nil {
			break
		}
		var statusErr *StatusError
		if errors.As(lastErr, &statusErr) && statusErr.Code < 500 {
			break
		}
		c.logger.Warn("Integration call failed",
			zap.String("provider", c.provider),
			zap.String("path", path),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr))
	}

	status := "ok"
	if lastErr != nil {
		status = "error"
		span.RecordError(lastErr)
	}
	metrics.IntegrationRequestDuration.WithLabelValues(c.provider, status).Observe(time.Since(start).Seconds())
	c.recordOutcome(lastErr == nil)
	return lastErr
}

// backoffFor doubles the base delay per retry: 300ms, 600ms, 1.2s, ...
func backoffFor(attempt int) time.Duration {
	return backoffBase << (attempt - 1)
}

func (c *client) doOnce(ctx context.Context, path string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", c.provider, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Provider: c.provider, Code: resp.StatusCode}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode: %w", c.provider, err)
	}
	return nil
}

func (c *client) checkBreaker() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failureCount >= breakerTrip && time.Now().Before(c.openUntil) {
		return fmt.Errorf("%s: %w", c.provider, ErrCircuitOpen)
	}
	return nil
}

func (c *client) recordOutcome(success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if success {
		c.failureCount = 0
		return
	}
	c.failureCount++
	if c.failureCount >= breakerTrip {
		c.openUntil = time.Now().Add(breakerCooldown)
		c.logger.Warn("Integration circuit opened",
			zap.String("provider", c.provider),
			zap.Duration("cooldown", breakerCooldown))
	}
}
