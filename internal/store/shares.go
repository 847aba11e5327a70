package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/swarmforge/swarmmem/internal/model"
)

const shareColumns = `id, from_agent, to_agent, entry_ids, share_level, approved, expires_at, created_at, approved_at, applied_at`

// InsertShareRequest persists a new share request.
func (s *SQLiteStore) InsertShareRequest(ctx context.Context, req *model.MemoryShareRequest) error {
	if req.ID == "" {
		req.ID = s.newID()
	}
	var expiresAt *string
	if req.ExpiresAt != nil {
		exp := formatTime(*req.ExpiresAt)
		expiresAt = &exp
	}
	var approvedAt *string
	if req.Approved {
		at := formatTime(req.CreatedAt)
		approvedAt = &at
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_share_requests (id, from_agent, to_agent, entry_ids, share_level,
		     approved, expires_at, created_at, approved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.FromAgent, req.ToAgent, encodeJSON(req.EntryIDs), req.ShareLevel,
		boolInt(req.Approved), expiresAt, formatTime(req.CreatedAt), approvedAt)
	if err != nil {
		return fmt.Errorf("insert share request: %w", err)
	}
	return nil
}

// GetShareRequest returns a share request by id.
func (s *SQLiteStore) GetShareRequest(ctx context.Context, id string) (*model.MemoryShareRequest, error) {
	req, err := scanShareRequest(s.db.QueryRowContext(ctx,
		`SELECT `+shareColumns+` FROM memory_share_requests WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: share request %q", model.ErrNotFound, id)
	} else if err != nil {
		return nil, fmt.Errorf("get share request: %w", err)
	}
	return req, nil
}

// ApproveShareRequest flips the approval flag. Approving twice is harmless.
func (s *SQLiteStore) ApproveShareRequest(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE memory_share_requests SET approved = 1, approved_at = COALESCE(approved_at, ?)
		 WHERE id = ?`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("approve share request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: share request %q", model.ErrNotFound, id)
	}
	return nil
}

// MarkShareApplied records the application timestamp. Returns false when the
// request was already applied, making application idempotent.
func (s *SQLiteStore) MarkShareApplied(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE memory_share_requests SET applied_at = ?
		 WHERE id = ? AND applied_at IS NULL`, formatTime(at), id)
	if err != nil {
		return false, fmt.Errorf("mark share applied: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListShareRequests returns requests, optionally filtered by target agent.
func (s *SQLiteStore) ListShareRequests(ctx context.Context, toAgent string) ([]model.MemoryShareRequest, error) {
	query := `SELECT ` + shareColumns + ` FROM memory_share_requests`
	var args []interface{}
	if toAgent != "" {
		query += ` WHERE to_agent = ?`
		args = append(args, toAgent)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list share requests: %w", err)
	}
	defer rows.Close()

	var out []model.MemoryShareRequest
	for rows.Next() {
		req, err := scanShareRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}

// PurgeExpiredShareRequests removes unapplied requests past their expiry.
// Applied requests are retained for audit.
func (s *SQLiteStore) PurgeExpiredShareRequests(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM memory_share_requests
		 WHERE applied_at IS NULL AND expires_at IS NOT NULL AND expires_at <= ?`,
		formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("purge share requests: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func scanShareRequest(row scanner) (*model.MemoryShareRequest, error) {
	var req model.MemoryShareRequest
	var entryIDs string
	var approved int
	var expiresAt, approvedAt, appliedAt sql.NullString
	var createdAt string

	err := row.Scan(&req.ID, &req.FromAgent, &req.ToAgent, &entryIDs,
		&req.ShareLevel, &approved, &expiresAt, &createdAt, &approvedAt, &appliedAt)
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(entryIDs), &req.EntryIDs)
	req.Approved = approved != 0
	req.ExpiresAt = timePtr(expiresAt)
	req.CreatedAt = parseTime(createdAt)
	req.AppliedAt = timePtr(appliedAt)
	return &req, nil
}
