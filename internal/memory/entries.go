package memory

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/swarmforge/swarmmem/internal/model"
	"github.com/swarmforge/swarmmem/internal/store"
)

// StoreOptions qualifies a Store call.
type StoreOptions struct {
	Namespace string // defaults to "default"
	AgentID   string // required
	SessionID string
	Type      string
	Tags      []string
	TTL       time.Duration
	ParentID  string
	Context   map[string]string
	Metadata  map[string]string
}

// RetrieveOptions qualifies a Retrieve call.
type RetrieveOptions struct {
	Namespace string
	AgentID   string
}

// Store writes an entry, enforcing allocation admission control. Returns
// the entry id.
func (c *Coordinator) Store(ctx context.Context, key, value string, opts StoreOptions) (string, error) {
	if key == "" {
		return "", fmt.Errorf("%w: key is required", model.ErrValidation)
	}
	if opts.AgentID == "" {
		return "", fmt.Errorf("%w: agent id is required", model.ErrValidation)
	}
	namespace := opts.Namespace
	if namespace == "" {
		namespace = "default"
	}

	s, err := c.storeHandle()
	if err != nil {
		return "", err
	}

	start := time.Now()
	entry, err := s.StoreEntry(ctx, store.StoreParams{
		Key:       key,
		Content:   value,
		Namespace: namespace,
		AgentID:   opts.AgentID,
		SessionID: opts.SessionID,
		Type:      opts.Type,
		Tags:      opts.Tags,
		TTL:       opts.TTL,
		ParentID:  opts.ParentID,
		Context:   opts.Context,
		Metadata:  opts.Metadata,
	})
	c.recordSample(ctx, "write", namespace, opts.AgentID, start, err == nil)
	if err != nil {
		return "", err
	}

	c.refreshNamespaceCache(ctx, namespace)

	c.emit(Event{
		Type:      EventEntryStored,
		Namespace: namespace,
		AgentID:   opts.AgentID,
		SessionID: opts.SessionID,
		EntryID:   entry.ID,
	})
	return entry.ID, nil
}

// Retrieve returns the highest-version live entry for the key, bumping its
// access tracking. Absence is reported as a wrapped ErrNotFound.
func (c *Coordinator) Retrieve(ctx context.Context, key string, opts RetrieveOptions) (*model.MemoryEntry, error) {
	s, err := c.storeHandle()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	entry, err := s.RetrieveEntry(ctx, store.RetrieveParams{
		Key:       key,
		Namespace: opts.Namespace,
		AgentID:   opts.AgentID,
	})
	c.recordSample(ctx, "read", opts.Namespace, opts.AgentID, start, err == nil)
	if err != nil {
		return nil, err
	}

	nsName := opts.Namespace
	if nsName == "" {
		if name, err := c.namespaceNameByID(entry.NamespaceID); err == nil {
			nsName = name
		}
	}
	if nsName != "" {
		c.refreshNamespaceCache(ctx, nsName)
	}
	return entry, nil
}

// Delete removes an entry and its descendants.
func (c *Coordinator) Delete(ctx context.Context, entryID string) error {
	s, err := c.storeHandle()
	if err != nil {
		return err
	}

	entry, err := s.GetEntry(ctx, entryID)
	if err != nil {
		return err
	}

	start := time.Now()
	err = s.DeleteEntry(ctx, entryID)
	c.recordSample(ctx, "delete", entry.NamespaceID, entry.AgentID, start, err == nil)
	if err != nil {
		return err
	}

	// Cascades may have touched several namespaces; resync the cache.
	c.mu.Lock()
	if reloadErr := c.reloadNamespacesLocked(ctx); reloadErr != nil {
		c.log.Warn("namespace cache reload failed after delete", zap.Error(reloadErr))
	}
	c.mu.Unlock()

	c.emit(Event{
		Type:    EventEntryDeleted,
		AgentID: entry.AgentID,
		EntryID: entryID,
	})
	return nil
}
