package memory

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/swarmforge/swarmmem/internal/model"
	"github.com/swarmforge/swarmmem/internal/store"
)

// sharedKey is how a shared copy appears in the target agent's key space.
func sharedKey(fromAgent, key string) string {
	return "shared:" + fromAgent + ":" + key
}

// ShareMemory creates a share request for the given entries. Under the
// default policy the request auto-approves and is applied immediately;
// under strict sharing it stays pending until ApproveShareRequest.
func (c *Coordinator) ShareMemory(ctx context.Context, entryIDs []string, fromAgent, toAgent, level string) (string, error) {
	if len(entryIDs) == 0 {
		return "", fmt.Errorf("%w: at least one entry id is required", model.ErrValidation)
	}
	if fromAgent == "" || toAgent == "" {
		return "", fmt.Errorf("%w: source and target agents are required", model.ErrValidation)
	}
	if !model.ValidShareLevels[level] {
		return "", fmt.Errorf("%w: unknown share level %q", model.ErrValidation, level)
	}

	s, err := c.storeHandle()
	if err != nil {
		return "", err
	}

	// Every entry must exist and belong to the sharing agent, and the
	// target must already hold an allocation in each affected namespace.
	// Checking before the request row is written keeps a doomed request
	// from lingering approved-but-unapplied.
	namespaces := make(map[string]bool)
	for _, id := range entryIDs {
		entry, err := s.GetEntry(ctx, id)
		if err != nil {
			return "", err
		}
		if entry.AgentID != fromAgent {
			return "", fmt.Errorf("%w: entry %q is not owned by %q", model.ErrValidation, id, fromAgent)
		}
		ns, err := c.namespaceNameByID(entry.NamespaceID)
		if err != nil {
			return "", err
		}
		namespaces[ns] = true
	}
	for ns := range namespaces {
		_, ok, err := s.GetAllocation(ctx, toAgent, ns)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("%w: agent %q namespace %q", model.ErrNoAllocation, toAgent, ns)
		}
	}

	req := &model.MemoryShareRequest{
		FromAgent:  fromAgent,
		ToAgent:    toAgent,
		EntryIDs:   entryIDs,
		ShareLevel: level,
		Approved:   !c.cfg.StrictSharing,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.InsertShareRequest(ctx, req); err != nil {
		return "", err
	}

	c.emit(Event{
		Type:      EventShareRequested,
		AgentID:   fromAgent,
		RequestID: req.ID,
	})

	if req.Approved {
		if err := c.ProcessShareRequest(ctx, req.ID); err != nil {
			return "", fmt.Errorf("apply share request: %w", err)
		}
	}
	return req.ID, nil
}

// ApproveShareRequest flips the approval flag under strict sharing.
func (c *Coordinator) ApproveShareRequest(ctx context.Context, requestID string) error {
	s, err := c.storeHandle()
	if err != nil {
		return err
	}
	return s.ApproveShareRequest(ctx, requestID, time.Now().UTC())
}

// ProcessShareRequest applies an approved request by copying the shared
// entries into the target agent's view. Applying an already-applied
// request is a no-op; the grant is never duplicated.
func (c *Coordinator) ProcessShareRequest(ctx context.Context, requestID string) error {
	s, err := c.storeHandle()
	if err != nil {
		return err
	}

	req, err := s.GetShareRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if !req.Approved {
		return fmt.Errorf("%w: share request %q is not approved", model.ErrValidation, requestID)
	}
	if req.AppliedAt != nil {
		return nil
	}
	now := time.Now().UTC()
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return fmt.Errorf("%w: share request %q expired", model.ErrValidation, requestID)
	}

	for _, id := range req.EntryIDs {
		entry, err := s.GetEntry(ctx, id)
		if err != nil {
			// The entry may have expired or been deleted since the request
			// was made; skip it rather than block the remaining grants.
			c.log.Warn("shared entry unavailable",
				zap.String("request_id", requestID),
				zap.String("entry_id", id),
				zap.Error(err))
			continue
		}

		ns, err := c.namespaceNameByID(entry.NamespaceID)
		if err != nil {
			return err
		}

		meta := make(map[string]string, len(entry.Metadata)+3)
		for k, v := range entry.Metadata {
			meta[k] = v
		}
		meta["shared_from"] = req.FromAgent
		meta["share_request"] = req.ID
		meta["share_level"] = req.ShareLevel

		if _, err := s.StoreEntry(ctx, store.StoreParams{
			Key:       sharedKey(req.FromAgent, entry.Key),
			Content:   entry.Content,
			Namespace: ns,
			AgentID:   req.ToAgent,
			SessionID: entry.SessionID,
			Type:      entry.Type,
			Tags:      entry.Tags,
			Context:   entry.Context,
			Metadata:  meta,
		}); err != nil {
			return fmt.Errorf("copy entry %q to %q: %w", id, req.ToAgent, err)
		}
	}

	applied, err := s.MarkShareApplied(ctx, requestID, now)
	if err != nil {
		return err
	}
	if applied {
		c.emit(Event{
			Type:      EventShareApplied,
			AgentID:   req.ToAgent,
			RequestID: requestID,
		})
	}
	return nil
}

// ListShareRequests returns requests, optionally filtered by target agent.
func (c *Coordinator) ListShareRequests(ctx context.Context, toAgent string) ([]model.MemoryShareRequest, error) {
	s, err := c.storeHandle()
	if err != nil {
		return nil, err
	}
	return s.ListShareRequests(ctx, toAgent)
}

// namespaceNameByID resolves an id against the registry cache.
func (c *Coordinator) namespaceNameByID(nsID string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for name, ns := range c.namespaces {
		if ns.ID == nsID {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: namespace id %q", model.ErrNotFound, nsID)
}
