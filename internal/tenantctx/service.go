// Package tenantctx resolves per-tenant runtime context through a
// layered cache: process memory first, then the shared context store,
// then the registry with write-through.
package tenantctx

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/metinemredonmez/senkron-ai-hub/internal/contextstore"
	"github.com/metinemredonmez/senkron-ai-hub/internal/models"
	"github.com/metinemredonmez/senkron-ai-hub/internal/registry"
)

// DefaultTTL is the store-layer expiry for resolved tenant context.
const DefaultTTL = 3600 * time.Second

// Service resolves tenant context blobs and per-session state.
type Service struct {
	store    *contextstore.Store
	registry *registry.Client
	ttl      time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	cache   map[string]map[string]interface{}
	warming map[string]*sync.Mutex
}

// New creates a tenant context service. ttl <= 0 means the 1h default.
func New(store *contextstore.Store, reg *registry.Client, ttl time.Duration, logger *zap.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		store:    store,
		registry: reg,
		ttl:      ttl,
		logger:   logger,
		cache:    make(map[string]map[string]interface{}),
		warming:  make(map[string]*sync.Mutex),
	}
}

// Resolve returns the tenant context blob. Layers are consulted in
// order, and lower-layer hits are written back upward. An unknown
// tenant resolves to nil without error.
func (s *Service) Resolve(ctx context.Context, tenantID string) (map[string]interface{}, error) {
	s.mu.Lock()
	if blob, ok := s.cache[tenantID]; ok {
		s.mu.Unlock()
		return blob, nil
	}
	s.mu.Unlock()

	if blob, err := s.storedBlob(ctx, tenantID); err != nil {
		return nil, err
	} else if blob != nil {
		s.remember(tenantID, blob)
		return blob, nil
	}

	tenant, err := s.registry.GetTenant(ctx, tenantID, true)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, nil
	}
	blob := tenantBlob(tenant)
	if err := s.persist(ctx, tenantID, blob); err != nil {
		s.logger.Warn("Failed to persist tenant context", zap.String("tenant_id", tenantID), zap.Error(err))
	}
	s.remember(tenantID, blob)
	return blob, nil
}

// storedBlob reads the store layer. Context documents are wrapped as
// {"tenant": <blob>}; entries without the wrapper key are a miss.
func (s *Service) storedBlob(ctx context.Context, tenantID string) (map[string]interface{}, error) {
	wrapped, err := s.store.GetTenantContext(ctx, tenantID)
	if err != nil || wrapped == nil {
		return nil, err
	}
	blob, _ := wrapped["tenant"].(map[string]interface{})
	return blob, nil
}

func (s *Service) persist(ctx context.Context, tenantID string, blob map[string]interface{}) error {
	return s.store.SetTenantContext(ctx, tenantID, map[string]interface{}{"tenant": blob}, s.ttl)
}

// Environment returns the tenant's env var map, empty when the tenant
// has none or is unknown.
func (s *Service) Environment(ctx context.Context, tenantID string) (map[string]string, error) {
	blob, err := s.Resolve(ctx, tenantID)
	if err != nil || blob == nil {
		return map[string]string{}, err
	}
	env := make(map[string]string)
	if raw, ok := blob["envVars"].(map[string]interface{}); ok {
		for key, value := range raw {
			if str, ok := value.(string); ok {
				env[key] = str
			}
		}
	}
	return env, nil
}

// SetSessionState stores per-session scratch state.
func (s *Service) SetSessionState(ctx context.Context, tenantID, sessionID string, state map[string]interface{}) error {
	return s.store.SetSessionContext(ctx, tenantID, sessionID, state, s.ttl)
}

// GetSessionState returns per-session scratch state, nil when absent.
func (s *Service) GetSessionState(ctx context.Context, tenantID, sessionID string) (map[string]interface{}, error) {
	return s.store.GetSessionContext(ctx, tenantID, sessionID)
}

// ClearSessionState removes per-session scratch state.
func (s *Service) ClearSessionState(ctx context.Context, tenantID, sessionID string) error {
	return s.store.DeleteSessionContext(ctx, tenantID, sessionID)
}

// WarmTenant forces a registry fetch and write-through for tenantID.
// Concurrent warms for the same tenant are serialized.
func (s *Service) WarmTenant(ctx context.Context, tenantID string) error {
	lock := s.warmLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	tenant, err := s.registry.GetTenant(ctx, tenantID, false)
	if err != nil {
		return err
	}
	if tenant == nil {
		s.logger.Warn("Cannot warm unknown tenant", zap.String("tenant_id", tenantID))
		return nil
	}
	blob := tenantBlob(tenant)
	if err := s.persist(ctx, tenantID, blob); err != nil {
		return err
	}
	s.remember(tenantID, blob)
	return nil
}

// DiscardCache drops one tenant's process-layer entry, or every entry
// when tenantID is empty. The store layer is untouched.
func (s *Service) DiscardCache(tenantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tenantID == "" {
		s.cache = make(map[string]map[string]interface{})
		return
	}
	delete(s.cache, tenantID)
}

func (s *Service) remember(tenantID string, blob map[string]interface{}) {
	s.mu.Lock()
	s.cache[tenantID] = blob
	s.mu.Unlock()
}

func (s *Service) warmLock(tenantID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.warming[tenantID]
	if !ok {
		lock = &sync.Mutex{}
		s.warming[tenantID] = lock
	}
	return lock
}

// tenantBlob flattens a registry tenant record into the context blob
// shape agents receive.
func tenantBlob(tenant *models.Tenant) map[string]interface{} {
	blob := map[string]interface{}{
		"id": tenant.ID,
	}
	if tenant.Name != "" {
		blob["name"] = tenant.Name
	}
	if tenant.Role != "" {
		blob["role"] = tenant.Role
	}
	if tenant.Organization != "" {
		blob["organization"] = tenant.Organization
	}
	if tenant.Environment != "" {
		blob["environment"] = tenant.Environment
	}
	if len(tenant.EnvVars) > 0 {
		env := make(map[string]interface{}, len(tenant.EnvVars))
		for key, value := range tenant.EnvVars {
			env[key] = value
		}
		blob["envVars"] = env
	}
	if len(tenant.Metadata) > 0 {
		blob["metadata"] = tenant.Metadata
	}
	return blob
}
