// Package registry talks to the external AI Hub registry service and
// maintains the in-process agent/tenant cache the router consults.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/metinemredonmez/senkron-ai-hub/internal/circuitbreaker"
	"github.com/metinemredonmez/senkron-ai-hub/internal/contextstore"
	"github.com/metinemredonmez/senkron-ai-hub/internal/models"
)

// SystemTenant is the global fallback scope.
const SystemTenant = "system"

const (
	tenantListCacheKey  = "system:hub:registry:tenants"
	tenantCacheKeyFmt   = "%s:hub:registry:tenant"
	registryCacheTTL    = 600 * time.Second
	defaultClientWindow = 10 * time.Second
)

// Client is the HTTP client for the registry service. Tenant listings
// and tenant-by-id lookups are cached through the context store.
type Client struct {
	baseURL string
	apiKey  string
	http    *circuitbreaker.HTTPWrapper
	store   *contextstore.Store
	logger  *zap.Logger
}

// NewClient creates a registry client. store may be nil to disable the
// shared tenant cache.
func NewClient(baseURL, apiKey string, store *contextstore.Store, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    circuitbreaker.NewHTTPWrapper(&http.Client{Timeout: defaultClientWindow}, "registry", logger),
		store:   store,
		logger:  logger,
	}
}

// ListAgents fetches the agents visible in tenantID's scope.
func (c *Client) ListAgents(ctx context.Context, tenantID string) ([]models.Agent, error) {
	var agents []models.Agent
	if err := c.getJSON(ctx, "/agents", tenantID, &agents); err != nil {
		return nil, err
	}
	c.logger.Debug("Fetched agents from registry", zap.Int("count", len(agents)))
	return agents, nil
}

// ListTenants fetches all tenants, preferring the 600s shared cache.
func (c *Client) ListTenants(ctx context.Context, useCache bool) ([]models.Tenant, error) {
	if useCache && c.store != nil {
		if cached := c.readCachedTenants(ctx); len(cached) > 0 {
			return cached, nil
		}
	}
	var tenants []models.Tenant
	if err := c.getJSON(ctx, "/tenants", SystemTenant, &tenants); err != nil {
		return nil, err
	}
	c.cacheTenants(ctx, tenants)
	return tenants, nil
}

// GetAgent fetches one agent by name; 404 means not registered.
func (c *Client) GetAgent(ctx context.Context, name, tenantID string) (*models.Agent, error) {
	var agent models.Agent
	found, err := c.getJSONMaybe(ctx, "/agents/"+name, tenantID, &agent)
	if err != nil || !found {
		return nil, err
	}
	return &agent, nil
}

// GetTenant fetches one tenant by id; 404 means unknown.
func (c *Client) GetTenant(ctx context.Context, tenantID string, useCache bool) (*models.Tenant, error) {
	if useCache && c.store != nil {
		if cached := c.readCachedTenant(ctx, tenantID); cached != nil {
			return cached, nil
		}
	}
	var tenant models.Tenant
	found, err := c.getJSONMaybe(ctx, "/tenants/"+tenantID, SystemTenant, &tenant)
	if err != nil || !found {
		return nil, err
	}
	c.writeCachedTenant(ctx, &tenant)
	return &tenant, nil
}

// RegisterAgent registers or updates an agent and returns the server
// echo.
func (c *Client) RegisterAgent(ctx context.Context, agent *models.Agent, tenantID string) (*models.Agent, error) {
	var saved models.Agent
	if err := c.postJSON(ctx, "/agents", tenantID, agent, &saved); err != nil {
		return nil, err
	}
	return &saved, nil
}

// RegisterTenant registers or updates a tenant and returns the server
// echo.
func (c *Client) RegisterTenant(ctx context.Context, tenant *models.Tenant) (*models.Tenant, error) {
	var saved models.Tenant
	if err := c.postJSON(ctx, "/tenants", SystemTenant, tenant, &saved); err != nil {
		return nil, err
	}
	c.writeCachedTenant(ctx, &saved)
	return &saved, nil
}

func (c *Client) newRequest(ctx context.Context, method, path, tenantID string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if tenantID == "" {
		tenantID = SystemTenant
	}
	req.Header.Set("X-Tenant", tenantID)
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func (c *Client) getJSON(ctx context.Context, path, tenantID string, out interface{}) error {
	found, err := c.getJSONMaybe(ctx, path, tenantID, out)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("registry %s: not found", path)
	}
	return nil
}

// getJSONMaybe performs a GET, decoding into out. A 404 returns
// (false, nil); other non-2xx statuses are transport errors.
func (c *Client) getJSONMaybe(ctx context.Context, path, tenantID string, out interface{}) (bool, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, tenantID, nil)
	if err != nil {
		return false, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("registry %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("registry %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("registry %s: decode: %w", path, err)
	}
	return true, nil
}

func (c *Client) postJSON(ctx context.Context, path, tenantID string, body, out interface{}) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("registry %s: encode: %w", path, err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, tenantID, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("registry %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("registry %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("registry %s: decode: %w", path, err)
	}
	return nil
}

// Tenant caching through the context store. Failures here degrade to
// uncached reads and are only logged.

func (c *Client) cacheTenants(ctx context.Context, tenants []models.Tenant) {
	if c.store == nil {
		return
	}
	data, err := json.Marshal(tenants)
	if err != nil {
		return
	}
	if err := c.store.Set(ctx, tenantListCacheKey, data, registryCacheTTL); err != nil {
		c.logger.Warn("Failed to cache tenant listing", zap.Error(err))
	}
	for i := range tenants {
		c.writeCachedTenant(ctx, &tenants[i])
	}
}

func (c *Client) readCachedTenants(ctx context.Context) []models.Tenant {
	data, err := c.store.Get(ctx, tenantListCacheKey)
	if err != nil || data == nil {
		return nil
	}
	var tenants []models.Tenant
	if err := json.Unmarshal(data, &tenants); err != nil {
		return nil
	}
	return tenants
}

func (c *Client) readCachedTenant(ctx context.Context, tenantID string) *models.Tenant {
	data, err := c.store.Get(ctx, fmt.Sprintf(tenantCacheKeyFmt, tenantID))
	if err != nil || data == nil {
		return nil
	}
	var tenant models.Tenant
	if err := json.Unmarshal(data, &tenant); err != nil {
		return nil
	}
	return &tenant
}

func (c *Client) writeCachedTenant(ctx context.Context, tenant *models.Tenant) {
	if c.store == nil {
		return
	}
	data, err := json.Marshal(tenant)
	if err != nil {
		return
	}
	key := fmt.Sprintf(tenantCacheKeyFmt, tenant.ID)
	if err := c.store.Set(ctx, key, data, registryCacheTTL); err != nil {
		c.logger.Warn("Failed to cache tenant", zap.String("tenant_id", tenant.ID), zap.Error(err))
	}
}
