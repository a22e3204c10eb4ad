// Package contextstore is the hub's Redis-backed key-value and stream
// backend. It owns tenant context blobs, per-session scratch, and the
// per-tenant append-only replay streams. Every other component borrows
// the backend through these operations.
package contextstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/metinemredonmez/senkron-ai-hub/internal/circuitbreaker"
)

const (
	// DefaultTTL applies when callers do not override expiry.
	DefaultTTL = 24 * time.Hour
	// DefaultStreamMaxLen caps replay streams (approximate trim).
	DefaultStreamMaxLen = 1000
)

// StreamEntry is one replay-stream record.
type StreamEntry struct {
	ID     string
	Fields map[string]interface{}
}

// Store handles tenant and session scoped context plus event streams.
// The Redis connection is established lazily and exactly once.
type Store struct {
	url       string
	namespace string
	logger    *zap.Logger

	mu     sync.Mutex
	client *circuitbreaker.RedisWrapper
}

// New creates a store for the given Redis URL and key namespace.
func New(url, namespace string, logger *zap.Logger) *Store {
	ns := strings.TrimRight(namespace, ":")
	if ns == "" {
		ns = "hub"
	}
	return &Store{url: url, namespace: ns, logger: logger}
}

// connect initialises the Redis client on first use. Single-flight.
func (s *Store) connect() (*circuitbreaker.RedisWrapper, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}
	opts, err := redis.ParseURL(s.url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	s.client = circuitbreaker.NewRedisWrapper(redis.NewClient(opts), s.logger)
	s.logger.Debug("Context store connected", zap.String("url", s.url))
	return s.client, nil
}

// Ping verifies the backend is reachable.
func (s *Store) Ping(ctx context.Context) error {
	client, err := s.connect()
	if err != nil {
		return err
	}
	return client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

// Get returns the raw value at key, or nil when absent.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	client, err := s.connect()
	if err != nil {
		return nil, err
	}
	data, err := client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return data, nil
}

// Set stores value at key. A zero ttl means the 24h default.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	client, err := s.connect()
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	client, err := s.connect()
	if err != nil {
		return err
	}
	if err := client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// GetJSON decodes the JSON object at key. Corrupt payloads are treated
// as a miss and logged, never surfaced.
func (s *Store) GetJSON(ctx context.Context, key string) (map[string]interface{}, error) {
	data, err := s.Get(ctx, key)
	if err != nil || data == nil {
		return nil, err
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		s.logger.Warn("Invalid JSON in context store", zap.String("key", key), zap.Error(err))
		return nil, nil
	}
	return decoded, nil
}

// SetJSON stores value as a JSON document at key.
func (s *Store) SetJSON(ctx context.Context, key string, value map[string]interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key, data, ttl)
}

// GetTenantContext returns the tenant context blob, nil when absent.
func (s *Store) GetTenantContext(ctx context.Context, tenantID string) (map[string]interface{}, error) {
	return s.GetJSON(ctx, s.TenantKey(tenantID))
}

// SetTenantContext stores the tenant context blob.
func (s *Store) SetTenantContext(ctx context.Context, tenantID string, blob map[string]interface{}, ttl time.Duration) error {
	return s.SetJSON(ctx, s.TenantKey(tenantID), blob, ttl)
}

// DeleteTenantContext removes the tenant context blob.
func (s *Store) DeleteTenantContext(ctx context.Context, tenantID string) error {
	return s.Delete(ctx, s.TenantKey(tenantID))
}

// GetSessionContext returns per-session scratch state, nil when absent.
func (s *Store) GetSessionContext(ctx context.Context, tenantID, sessionID string) (map[string]interface{}, error) {
	return s.GetJSON(ctx, s.SessionKey(tenantID, sessionID))
}

// SetSessionContext stores per-session scratch state.
func (s *Store) SetSessionContext(ctx context.Context, tenantID, sessionID string, state map[string]interface{}, ttl time.Duration) error {
	return s.SetJSON(ctx, s.SessionKey(tenantID, sessionID), state, ttl)
}

// DeleteSessionContext removes per-session scratch state.
func (s *Store) DeleteSessionContext(ctx context.Context, tenantID, sessionID string) error {
	return s.Delete(ctx, s.SessionKey(tenantID, sessionID))
}

// AppendStream appends payload to an approximately capped stream and
// returns the new entry id.
func (s *Store) AppendStream(ctx context.Context, stream string, payload map[string]interface{}, maxLen int64) (string, error) {
	client, err := s.connect()
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode stream payload: %w", err)
	}
	if maxLen <= 0 {
		maxLen = DefaultStreamMaxLen
	}
	key := s.StreamKey(stream)
	entryID, err := client.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: maxLen,
		Approx: true,
		Values: map[string]interface{}{"data": string(data)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("append %s: %w", key, err)
	}
	s.logger.Debug("Appended stream entry", zap.String("stream", key), zap.String("entry_id", entryID))
	return entryID, nil
}

// ReadStreamReverse reads up to count entries newest-first, starting at
// maxID ("+" for the newest entry).
func (s *Store) ReadStreamReverse(ctx context.Context, stream, maxID string, count int64) ([]StreamEntry, error) {
	client, err := s.connect()
	if err != nil {
		return nil, err
	}
	if maxID == "" || maxID == "$" {
		maxID = "+"
	}
	key := s.StreamKey(stream)
	messages, err := client.XRevRangeN(ctx, key, maxID, "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	entries := make([]StreamEntry, 0, len(messages))
	for _, msg := range messages {
		entries = append(entries, StreamEntry{ID: msg.ID, Fields: msg.Values})
	}
	return entries, nil
}

// TenantKey is "{tenantId}:{namespace}:context".
func (s *Store) TenantKey(tenantID string) string {
	return fmt.Sprintf("%s:%s:context", tenantID, s.namespace)
}

// SessionKey is "{tenantId}:{namespace}:session:{sessionId}".
func (s *Store) SessionKey(tenantID, sessionID string) string {
	return fmt.Sprintf("%s:%s:session:%s", tenantID, s.namespace, sessionID)
}

// StreamKey namespaces bare stream names; names that already carry a
// tenant prefix pass through untouched.
func (s *Store) StreamKey(stream string) string {
	if strings.Contains(stream, ":") {
		return stream
	}
	return fmt.Sprintf("%s:%s", s.namespace, stream)
}
