package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/swarmforge/swarmmem/internal/model"
)

// AllocationOptions qualifies CreateAllocation.
type AllocationOptions struct {
	MaxSize    int64
	MaxEntries int
	Priority   int // defaults to 1
}

// CreateAllocation registers the quota ledger for (agent, namespace).
// Duplicate creation fails with ErrAllocationExists.
func (c *Coordinator) CreateAllocation(ctx context.Context, agentID, namespace string, opts AllocationOptions) error {
	if agentID == "" || namespace == "" {
		return fmt.Errorf("%w: agent id and namespace are required", model.ErrValidation)
	}
	if opts.MaxEntries <= 0 {
		return fmt.Errorf("%w: max entries must be positive", model.ErrValidation)
	}

	s, err := c.storeHandle()
	if err != nil {
		return err
	}

	if _, ok := c.GetNamespace(namespace); !ok {
		return fmt.Errorf("%w: namespace %q", model.ErrNotFound, namespace)
	}

	priority := opts.Priority
	if priority <= 0 {
		priority = 1
	}
	return s.CreateAllocation(ctx, &model.MemoryAllocation{
		AgentID:       agentID,
		Namespace:     namespace,
		AllocatedSize: opts.MaxSize,
		MaxEntries:    opts.MaxEntries,
		Priority:      priority,
		CreatedAt:     time.Now().UTC(),
	})
}

// GetAllocation returns the ledger for (agent, namespace), or false when
// none is registered.
func (c *Coordinator) GetAllocation(ctx context.Context, agentID, namespace string) (*model.MemoryAllocation, bool, error) {
	s, err := c.storeHandle()
	if err != nil {
		return nil, false, err
	}
	return s.GetAllocation(ctx, agentID, namespace)
}

// GetAgentUsage reports an agent's allocations and cross-namespace totals.
func (c *Coordinator) GetAgentUsage(ctx context.Context, agentID string) (*model.AgentUsage, error) {
	s, err := c.storeHandle()
	if err != nil {
		return nil, err
	}

	allocations, err := s.ListAllocations(ctx, agentID)
	if err != nil {
		return nil, err
	}

	usage := &model.AgentUsage{
		AgentID:     agentID,
		Allocations: allocations,
	}
	for _, a := range allocations {
		usage.TotalUsage += a.UsedSize
		usage.EntryCount += a.CurrentEntries
		usage.Namespaces = append(usage.Namespaces, a.Namespace)
	}
	return usage, nil
}
