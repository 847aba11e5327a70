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

const sessionColumns = `id, swarm_id, status, agent_ids, initiated_by, objective, total_tasks, total_messages, total_errors, memory_used, created_at, ended_at, snapshot, metadata`

// InsertSession persists a new session in the active state.
func (s *SQLiteStore) InsertSession(ctx context.Context, sess *model.SwarmSession) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO swarm_sessions (id, swarm_id, status, agent_ids, initiated_by, objective,
		     total_tasks, total_messages, total_errors, memory_used, created_at, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.SwarmID, sess.Status, encodeJSON(sess.AgentIDs),
		nullable(sess.Metadata.InitiatedBy), nullable(sess.Metadata.Objective),
		sess.Metadata.TotalTasks, sess.Metadata.TotalMessages, sess.Metadata.TotalErrors,
		sess.Metadata.MemoryUsed, formatTime(sess.CreatedAt), encodeJSON(sess.Metadata))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession returns a session by id.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*model.SwarmSession, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM swarm_sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", model.ErrSessionNotFound, id)
	} else if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// UpdateSessionStatus transitions a non-terminal session. Terminal rows are
// left untouched and reported via the returned bool.
func (s *SQLiteStore) UpdateSessionStatus(ctx context.Context, id, status string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE swarm_sessions SET status = ?
		 WHERE id = ? AND status NOT IN (?, ?)`,
		status, id, model.SessionCompleted, model.SessionFailed)
	if err != nil {
		return false, fmt.Errorf("update session status: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CompleteSession stores the end-of-life snapshot and marks the session
// completed, provided it is not already terminal.
func (s *SQLiteStore) CompleteSession(ctx context.Context, id string, endedAt time.Time, snapshot *model.SessionSnapshot) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE swarm_sessions
		 SET status = ?, ended_at = ?, snapshot = ?, memory_used = ?
		 WHERE id = ? AND status NOT IN (?, ?)`,
		model.SessionCompleted, formatTime(endedAt), encodeJSON(snapshot),
		snapshot.TotalBytes, id, model.SessionCompleted, model.SessionFailed)
	if err != nil {
		return false, fmt.Errorf("complete session: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// FailStaleSessions marks active sessions older than the timeout as failed.
// No snapshot is taken; an abandoned session was never cleanly closed.
func (s *SQLiteStore) FailStaleSessions(ctx context.Context, timeout time.Duration, now time.Time) (int, error) {
	cutoff := formatTime(now.Add(-timeout))
	res, err := s.db.ExecContext(ctx,
		`UPDATE swarm_sessions SET status = ?, ended_at = ?
		 WHERE status = ? AND created_at <= ?`,
		model.SessionFailed, formatTime(now), model.SessionActive, cutoff)
	if err != nil {
		return 0, fmt.Errorf("fail stale sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ListSessions returns sessions, optionally filtered by status.
func (s *SQLiteStore) ListSessions(ctx context.Context, status string) ([]model.SwarmSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM swarm_sessions`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []model.SwarmSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

// CountSessions returns the number of sessions in the given status.
func (s *SQLiteStore) CountSessions(ctx context.Context, status string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM swarm_sessions WHERE status = ?`, status).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

func scanSession(row scanner) (*model.SwarmSession, error) {
	var sess model.SwarmSession
	var agentIDs string
	var initiatedBy, objective, endedAt, snapshot, metadata sql.NullString
	var createdAt string

	err := row.Scan(
		&sess.ID, &sess.SwarmID, &sess.Status, &agentIDs, &initiatedBy,
		&objective, &sess.Metadata.TotalTasks, &sess.Metadata.TotalMessages,
		&sess.Metadata.TotalErrors, &sess.Metadata.MemoryUsed, &createdAt,
		&endedAt, &snapshot, &metadata,
	)
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(agentIDs), &sess.AgentIDs)
	sess.Metadata.InitiatedBy = initiatedBy.String
	sess.Metadata.Objective = objective.String
	sess.CreatedAt = parseTime(createdAt)
	sess.EndedAt = timePtr(endedAt)
	if snapshot.Valid && snapshot.String != "" {
		var snap model.SessionSnapshot
		if err := json.Unmarshal([]byte(snapshot.String), &snap); err == nil {
			sess.Snapshot = &snap
		}
	}
	return &sess, nil
}
