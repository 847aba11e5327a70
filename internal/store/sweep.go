package store

import (
	"context"
	"fmt"
	"time"
)

// SweepExpired physically removes entries whose expiration has elapsed,
// cascading to children and maintaining the counters in the same
// transaction. Expiration is enforced here rather than on the write path so
// hot writes never pay for it.
func (s *SQLiteStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM memory_entries WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("find expired entries: %w", err)
	}

	var expired []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan expired id: %w", err)
		}
		expired = append(expired, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin sweep tx: %w", err)
	}
	defer tx.Rollback()

	removed, err := s.removeEntries(ctx, tx, expired)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit sweep tx: %w", err)
	}
	return removed, nil
}
