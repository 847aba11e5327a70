package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/swarmforge/swarmmem/internal/model"
)

const namespaceColumns = `id, name, description, agent_id, share_level, max_entries, default_ttl, compression, encryption, auto_cleanup, allowed_agents, entry_count, total_size, access_count, last_accessed`

// CreateNamespace registers a new namespace. Fails with ErrNamespaceExists
// when the name is taken.
func (s *SQLiteStore) CreateNamespace(ctx context.Context, ns *model.Namespace) error {
	if ns.ID == "" {
		ns.ID = s.newID()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_namespaces (id, name, description, agent_id, share_level,
		     max_entries, default_ttl, compression, encryption, auto_cleanup, allowed_agents,
		     entry_count, total_size, access_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, 0)`,
		ns.ID, ns.Name, nullable(ns.Description), nullable(ns.AgentID), ns.ShareLevel,
		ns.Config.MaxEntries, int64(ns.Config.DefaultTTL/time.Second),
		boolInt(ns.Config.Compression), boolInt(ns.Config.Encryption),
		boolInt(ns.Config.AutoCleanup), encodeJSON(ns.Config.AllowedAgents))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %q", model.ErrNamespaceExists, ns.Name)
		}
		return fmt.Errorf("create namespace: %w", err)
	}
	return nil
}

// GetNamespace returns a namespace by name.
func (s *SQLiteStore) GetNamespace(ctx context.Context, name string) (*model.Namespace, error) {
	ns, err := scanNamespace(s.db.QueryRowContext(ctx,
		`SELECT `+namespaceColumns+` FROM memory_namespaces WHERE name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: namespace %q", model.ErrNotFound, name)
	} else if err != nil {
		return nil, fmt.Errorf("get namespace: %w", err)
	}
	return ns, nil
}

// ListNamespaces returns every registered namespace.
func (s *SQLiteStore) ListNamespaces(ctx context.Context) ([]model.Namespace, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+namespaceColumns+` FROM memory_namespaces ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list namespaces: %w", err)
	}
	defer rows.Close()

	var out []model.Namespace
	for rows.Next() {
		ns, err := scanNamespace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ns)
	}
	return out, rows.Err()
}

// TopNamespaces ranks namespaces by total size, largest first.
func (s *SQLiteStore) TopNamespaces(ctx context.Context, limit int) ([]model.NamespaceUsage, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, entry_count, total_size FROM memory_namespaces
		 ORDER BY total_size DESC, name LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("top namespaces: %w", err)
	}
	defer rows.Close()

	var out []model.NamespaceUsage
	for rows.Next() {
		var u model.NamespaceUsage
		if err := rows.Scan(&u.Name, &u.EntryCount, &u.TotalSize); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func scanNamespace(row scanner) (*model.Namespace, error) {
	var ns model.Namespace
	var description, agentID, allowedAgents, lastAccessed sql.NullString
	var defaultTTL int64
	var compression, encryption, autoCleanup int

	err := row.Scan(
		&ns.ID, &ns.Name, &description, &agentID, &ns.ShareLevel,
		&ns.Config.MaxEntries, &defaultTTL, &compression, &encryption,
		&autoCleanup, &allowedAgents, &ns.Metrics.EntryCount,
		&ns.Metrics.TotalSize, &ns.Metrics.AccessCount, &lastAccessed,
	)
	if err != nil {
		return nil, err
	}

	ns.Description = description.String
	ns.AgentID = agentID.String
	ns.Config.DefaultTTL = time.Duration(defaultTTL) * time.Second
	ns.Config.Compression = compression != 0
	ns.Config.Encryption = encryption != 0
	ns.Config.AutoCleanup = autoCleanup != 0
	ns.Config.AllowedAgents = decodeStringSlice(allowedAgents)
	ns.Metrics.LastAccessed = timePtr(lastAccessed)
	return &ns, nil
}
