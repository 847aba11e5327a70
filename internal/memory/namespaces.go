package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/swarmforge/swarmmem/internal/model"
)

// CreateNamespace registers a namespace, merging the supplied config over
// the defaults. User-initiated creation of a taken name fails with
// ErrNamespaceExists.
func (c *Coordinator) CreateNamespace(ctx context.Context, name string, cfg *model.NamespaceConfig, ownerAgent string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: namespace name is required", model.ErrValidation)
	}

	s, err := c.storeHandle()
	if err != nil {
		return "", err
	}

	merged := defaultNamespaceConfig()
	if cfg != nil {
		if cfg.MaxEntries > 0 {
			merged.MaxEntries = cfg.MaxEntries
		}
		if cfg.DefaultTTL != 0 {
			merged.DefaultTTL = cfg.DefaultTTL
		}
		merged.Compression = cfg.Compression
		merged.Encryption = cfg.Encryption
		merged.AutoCleanup = cfg.AutoCleanup
		merged.AllowedAgents = cfg.AllowedAgents
	}

	ns := &model.Namespace{
		Name:       name,
		AgentID:    ownerAgent,
		ShareLevel: "private",
		Config:     merged,
	}
	if err := s.CreateNamespace(ctx, ns); err != nil {
		return "", err
	}

	c.mu.Lock()
	c.namespaces[ns.Name] = *ns
	c.mu.Unlock()

	c.emit(Event{Type: EventNamespaceCreated, Namespace: name, AgentID: ownerAgent})
	return ns.ID, nil
}

// GetNamespace returns a namespace from the in-memory registry.
func (c *Coordinator) GetNamespace(name string) (*model.Namespace, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ns, ok := c.namespaces[name]
	if !ok {
		return nil, false
	}
	return &ns, true
}

// ListNamespaces returns the registry contents sorted by name.
func (c *Coordinator) ListNamespaces() []model.Namespace {
	c.mu.RLock()
	out := make([]model.Namespace, 0, len(c.namespaces))
	for _, ns := range c.namespaces {
		out = append(out, ns)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// reloadNamespacesLocked refreshes the registry cache from the store.
// Caller holds c.mu.
func (c *Coordinator) reloadNamespacesLocked(ctx context.Context) error {
	if c.store == nil {
		return fmt.Errorf("coordinator not initialized")
	}
	namespaces, err := c.store.ListNamespaces(ctx)
	if err != nil {
		return fmt.Errorf("load namespaces: %w", err)
	}
	cache := make(map[string]model.Namespace, len(namespaces))
	for _, ns := range namespaces {
		cache[ns.Name] = ns
	}
	c.namespaces = cache
	return nil
}

// refreshNamespaceCache re-reads one namespace's row so the cached metrics
// track the store's counters. A read failure is tolerated; the cache
// resyncs fully on the next cleanup cycle.
func (c *Coordinator) refreshNamespaceCache(ctx context.Context, name string) {
	s, err := c.storeHandle()
	if err != nil {
		return
	}
	ns, err := s.GetNamespace(ctx, name)
	if err != nil {
		return
	}
	c.mu.Lock()
	c.namespaces[name] = *ns
	c.mu.Unlock()
}
