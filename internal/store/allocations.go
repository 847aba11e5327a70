package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/swarmforge/swarmmem/internal/model"
)

const allocationColumns = `agent_id, namespace, allocated_size, used_size, max_entries, current_entries, priority, created_at`

// CreateAllocation registers a quota ledger for (agent, namespace).
// Duplicate creation fails with ErrAllocationExists.
func (s *SQLiteStore) CreateAllocation(ctx context.Context, a *model.MemoryAllocation) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_allocations (agent_id, namespace, allocated_size, used_size,
		     max_entries, current_entries, priority, created_at)
		 VALUES (?, ?, ?, 0, ?, 0, ?, ?)`,
		a.AgentID, a.Namespace, a.AllocatedSize, a.MaxEntries, a.Priority,
		formatTime(a.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: agent %q namespace %q",
				model.ErrAllocationExists, a.AgentID, a.Namespace)
		}
		return fmt.Errorf("create allocation: %w", err)
	}
	return nil
}

// GetAllocation returns the allocation for (agent, namespace), or false if
// none is registered.
func (s *SQLiteStore) GetAllocation(ctx context.Context, agentID, namespace string) (*model.MemoryAllocation, bool, error) {
	a, err := scanAllocation(s.db.QueryRowContext(ctx,
		`SELECT `+allocationColumns+` FROM memory_allocations
		 WHERE agent_id = ? AND namespace = ?`, agentID, namespace))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, fmt.Errorf("get allocation: %w", err)
	}
	return a, true, nil
}

// ListAllocations returns allocations, optionally filtered by agent.
func (s *SQLiteStore) ListAllocations(ctx context.Context, agentID string) ([]model.MemoryAllocation, error) {
	query := `SELECT ` + allocationColumns + ` FROM memory_allocations`
	var args []interface{}
	if agentID != "" {
		query += ` WHERE agent_id = ?`
		args = append(args, agentID)
	}
	query += ` ORDER BY agent_id, namespace`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list allocations: %w", err)
	}
	defer rows.Close()

	var out []model.MemoryAllocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// CountActiveAgents returns the number of distinct agents holding any
// allocation.
func (s *SQLiteStore) CountActiveAgents(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT agent_id) FROM memory_allocations`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active agents: %w", err)
	}
	return n, nil
}

// AgentUsageTotals sums an agent's ledger across namespaces.
func (s *SQLiteStore) AgentUsageTotals(ctx context.Context, agentID string) (usedBytes int64, entries int, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(used_size), 0), COALESCE(SUM(current_entries), 0)
		 FROM memory_allocations WHERE agent_id = ?`, agentID).Scan(&usedBytes, &entries)
	if err != nil {
		return 0, 0, fmt.Errorf("agent usage totals: %w", err)
	}
	return usedBytes, entries, nil
}

// AgentUsageByAgent returns used bytes per agent, for the analytics map.
func (s *SQLiteStore) AgentUsageByAgent(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT agent_id, COALESCE(SUM(used_size), 0) FROM memory_allocations GROUP BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("agent usage by agent: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var agent string
		var used int64
		if err := rows.Scan(&agent, &used); err != nil {
			return nil, err
		}
		out[agent] = used
	}
	return out, rows.Err()
}

func scanAllocation(row scanner) (*model.MemoryAllocation, error) {
	var a model.MemoryAllocation
	var createdAt string
	err := row.Scan(&a.AgentID, &a.Namespace, &a.AllocatedSize, &a.UsedSize,
		&a.MaxEntries, &a.CurrentEntries, &a.Priority, &createdAt)
	if err != nil {
		return nil, err
	}
	a.CreatedAt = parseTime(createdAt)
	return &a, nil
}
