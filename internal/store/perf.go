package store

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/swarmforge/swarmmem/internal/model"
)

// RecordSample appends one row to the operation log.
func (s *SQLiteStore) RecordSample(ctx context.Context, sample model.PerformanceSample) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_performance (operation_type, namespace_id, agent_id, duration_ms, success, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sample.Operation, nullable(sample.NamespaceID), nullable(sample.AgentID),
		sample.DurationMS, boolInt(sample.Success), formatTime(sample.Timestamp))
	if err != nil {
		return fmt.Errorf("record sample: %w", err)
	}
	return nil
}

// AvgDuration returns the mean duration for an operation type since the
// cutoff, or zero when no samples exist.
func (s *SQLiteStore) AvgDuration(ctx context.Context, operation string, since time.Time) (float64, error) {
	var avg float64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(AVG(duration_ms), 0) FROM memory_performance
		 WHERE operation_type = ? AND timestamp > ?`,
		operation, formatTime(since)).Scan(&avg)
	if err != nil {
		return 0, fmt.Errorf("avg duration: %w", err)
	}
	return avg, nil
}

// SuccessRate returns the fraction of successful samples since the cutoff,
// defaulting to 1 when no samples exist.
func (s *SQLiteStore) SuccessRate(ctx context.Context, operation string, since time.Time) (float64, error) {
	var total, ok int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(success), 0) FROM memory_performance
		 WHERE operation_type = ? AND timestamp > ?`,
		operation, formatTime(since)).Scan(&total, &ok)
	if err != nil {
		return 0, fmt.Errorf("success rate: %w", err)
	}
	if total == 0 {
		return 1, nil
	}
	return float64(ok) / float64(total), nil
}

// PruneSamples removes samples older than the retention window.
func (s *SQLiteStore) PruneSamples(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM memory_performance WHERE timestamp <= ?`, formatTime(olderThan))
	if err != nil {
		return 0, fmt.Errorf("prune samples: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Stats holds database statistics.
type Stats struct {
	DBPath        string `json:"db_path"`
	DBSizeBytes   int64  `json:"db_size_bytes"`
	Entries       int    `json:"entries"`
	Namespaces    int    `json:"namespaces"`
	Sessions      int    `json:"sessions"`
	Allocations   int    `json:"allocations"`
	ShareRequests int    `json:"share_requests"`
	PerfSamples   int    `json:"perf_samples"`
}

// Stats returns table counts plus the database file size.
func (s *SQLiteStore) Stats(ctx context.Context, dbPath string) (*Stats, error) {
	st := &Stats{DBPath: dbPath}

	if info, err := os.Stat(dbPath); err == nil {
		st.DBSizeBytes = info.Size()
	}

	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_entries`).Scan(&st.Entries)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_namespaces`).Scan(&st.Namespaces)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM swarm_sessions`).Scan(&st.Sessions)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_allocations`).Scan(&st.Allocations)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_share_requests`).Scan(&st.ShareRequests)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_performance`).Scan(&st.PerfSamples)

	return st, nil
}

// TotalUsage returns the global live entry count and byte total.
func (s *SQLiteStore) TotalUsage(ctx context.Context) (entries int, bytes int64, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(entry_count), 0), COALESCE(SUM(total_size), 0)
		 FROM memory_namespaces`).Scan(&entries, &bytes)
	if err != nil {
		return 0, 0, fmt.Errorf("total usage: %w", err)
	}
	return entries, bytes, nil
}

// CountNamespaces returns the number of registered namespaces.
func (s *SQLiteStore) CountNamespaces(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_namespaces`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count namespaces: %w", err)
	}
	return n, nil
}
