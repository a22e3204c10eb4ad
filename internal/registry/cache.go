package registry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/metinemredonmez/senkron-ai-hub/internal/models"
)

// DefaultRefreshInterval is how often the cache re-pulls the registry.
const DefaultRefreshInterval = 60 * time.Second

// Cache is the in-process TTL-refreshed view of agents and tenants,
// plus the process-local active-client heartbeat table.
type Cache struct {
	client          *Client
	refreshInterval time.Duration
	logger          *zap.Logger

	// refreshMu serializes registry fetches; mu guards the maps and is
	// held only across swaps. Inner maps are never mutated in place, so
	// a reader's reference stays a consistent snapshot.
	refreshMu     sync.Mutex
	mu            sync.RWMutex
	agents        map[string]map[string]models.Agent // tenant scope -> name -> agent
	tenants       map[string]models.Tenant
	activeClients map[string]map[string]int64 // tenant -> client -> last heartbeat epoch
	lastRefresh   time.Time
}

// NewCache creates a cache over client. refreshInterval <= 0 uses the
// 60s default.
func NewCache(client *Client, refreshInterval time.Duration, logger *zap.Logger) *Cache {
	if refreshInterval <= 0 {
		refreshInterval = DefaultRefreshInterval
	}
	return &Cache{
		client:          client,
		refreshInterval: refreshInterval,
		logger:          logger,
		agents:          make(map[string]map[string]models.Agent),
		tenants:         make(map[string]models.Tenant),
		activeClients:   make(map[string]map[string]int64),
	}
}

// Refresh re-pulls the system agent scope and the tenant directory.
// Without force it is a no-op inside the refresh interval. At most one
// refresh is in flight.
func (c *Cache) Refresh(ctx context.Context, force bool) error {
	if !force && !c.stale() {
		return nil
	}
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	if !force && !c.stale() {
		return nil
	}
	c.logger.Debug("Refreshing hub registry cache")

	// Fetch outside the map lock so readers stay unblocked.
	agents, err := c.client.ListAgents(ctx, SystemTenant)
	if err != nil {
		return err
	}
	tenants, err := c.client.ListTenants(ctx, true)
	if err != nil {
		return err
	}

	systemScope := make(map[string]models.Agent, len(agents))
	for _, agent := range agents {
		systemScope[agent.Name] = agent
	}
	tenantMap := make(map[string]models.Tenant, len(tenants))
	for _, tenant := range tenants {
		tenantMap[tenant.ID] = tenant
	}

	c.mu.Lock()
	c.agents[SystemTenant] = systemScope
	c.tenants = tenantMap
	c.lastRefresh = time.Now()
	c.mu.Unlock()
	return nil
}

func (c *Cache) stale() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Since(c.lastRefresh) >= c.refreshInterval
}

// ListAgents returns the agents in tenantID's scope, fetching and
// memoizing the scope on first use.
func (c *Cache) ListAgents(ctx context.Context, tenantID string) ([]models.Agent, error) {
	if err := c.Refresh(ctx, false); err != nil {
		return nil, err
	}
	scope, err := c.ensureScope(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	agents := make([]models.Agent, 0, len(scope))
	for _, agent := range scope {
		agents = append(agents, agent)
	}
	return agents, nil
}

// GetAgent resolves name within tenantID's scope. A tenant-scoped
// record beats the system-scoped one; a miss in a non-system scope
// falls back to "system". Returns nil when unknown everywhere.
func (c *Cache) GetAgent(ctx context.Context, name, tenantID string) (*models.Agent, error) {
	if err := c.Refresh(ctx, false); err != nil {
		return nil, err
	}
	scope, err := c.ensureScope(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if agent, ok := scope[name]; ok {
		return &agent, nil
	}
	if tenantID != "" && tenantID != SystemTenant {
		fallback, err := c.ensureScope(ctx, SystemTenant)
		if err != nil {
			return nil, err
		}
		if agent, ok := fallback[name]; ok {
			return &agent, nil
		}
	}
	return nil, nil
}

// ListTenants returns the cached tenant directory.
func (c *Cache) ListTenants(ctx context.Context) ([]models.Tenant, error) {
	if err := c.Refresh(ctx, false); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	tenants := make([]models.Tenant, 0, len(c.tenants))
	for _, tenant := range c.tenants {
		tenants = append(tenants, tenant)
	}
	return tenants, nil
}

// GetTenant returns one tenant from the cached directory, nil when
// unknown.
func (c *Cache) GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error) {
	if err := c.Refresh(ctx, false); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if tenant, ok := c.tenants[tenantID]; ok {
		return &tenant, nil
	}
	return nil, nil
}

// SyncAgent registers agent with the registry (system scope) and folds
// the server echo into the cache.
func (c *Cache) SyncAgent(ctx context.Context, agent *models.Agent) (*models.Agent, error) {
	c.logger.Debug("Syncing agent with registry", zap.String("agent", agent.Name))
	saved, err := c.client.RegisterAgent(ctx, agent, SystemTenant)
	if err != nil {
		return nil, err
	}
	// Copy-on-write: readers may still hold the current scope map.
	c.mu.Lock()
	scope := make(map[string]models.Agent, len(c.agents[SystemTenant])+1)
	for name, agent := range c.agents[SystemTenant] {
		scope[name] = agent
	}
	scope[saved.Name] = *saved
	c.agents[SystemTenant] = scope
	c.mu.Unlock()
	return saved, nil
}

// SyncTenant registers tenant with the registry and folds the echo
// into the cache.
func (c *Cache) SyncTenant(ctx context.Context, tenant *models.Tenant) (*models.Tenant, error) {
	c.logger.Debug("Syncing tenant with registry", zap.String("tenant_id", tenant.ID))
	saved, err := c.client.RegisterTenant(ctx, tenant)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	tenants := make(map[string]models.Tenant, len(c.tenants)+1)
	for id, tenant := range c.tenants {
		tenants[id] = tenant
	}
	tenants[saved.ID] = *saved
	c.tenants = tenants
	c.mu.Unlock()
	return saved, nil
}

// RegisterClient records a client heartbeat entry for tenantID.
func (c *Cache) RegisterClient(tenantID, clientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	clients := c.activeClients[tenantID]
	if clients == nil {
		clients = make(map[string]int64)
		c.activeClients[tenantID] = clients
	}
	clients[clientID] = time.Now().Unix()
}

// HeartbeatClient refreshes a client's heartbeat; unknown clients are
// registered.
func (c *Cache) HeartbeatClient(tenantID, clientID string) {
	c.RegisterClient(tenantID, clientID)
}

// UnregisterClient drops a client entry; empty tenants are pruned.
func (c *Cache) UnregisterClient(tenantID, clientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	clients := c.activeClients[tenantID]
	if clients == nil {
		return
	}
	delete(clients, clientID)
	if len(clients) == 0 {
		delete(c.activeClients, tenantID)
	}
}

// ListClients dumps the heartbeat table, optionally scoped to one
// tenant.
func (c *Cache) ListClients(tenantID string) map[string]map[string]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]map[string]int64)
	if tenantID != "" {
		out[tenantID] = copyClients(c.activeClients[tenantID])
		return out
	}
	for tenant, clients := range c.activeClients {
		out[tenant] = copyClients(clients)
	}
	return out
}

// ensureScope returns the agent map for a tenant scope, fetching and
// memoizing it when the scope has not been seen yet.
func (c *Cache) ensureScope(ctx context.Context, tenantID string) (map[string]models.Agent, error) {
	if tenantID == "" {
		tenantID = SystemTenant
	}
	c.mu.RLock()
	scope, ok := c.agents[tenantID]
	c.mu.RUnlock()
	if ok {
		return scope, nil
	}
	fetched, err := c.client.ListAgents(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	scope = make(map[string]models.Agent, len(fetched))
	for _, agent := range fetched {
		scope[agent.Name] = agent
	}
	c.mu.Lock()
	c.agents[tenantID] = scope
	c.mu.Unlock()
	return scope, nil
}

func copyClients(clients map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(clients))
	for id, ts := range clients {
		out[id] = ts
	}
	return out
}
