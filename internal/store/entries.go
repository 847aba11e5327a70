package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/swarmforge/swarmmem/internal/model"
)

// StoreParams holds parameters for storing an entry.
type StoreParams struct {
	Key       string
	Content   string
	Namespace string // namespace name
	AgentID   string
	SessionID string
	Type      string
	Tags      []string
	TTL       time.Duration // <0 disables expiry, 0 falls back to the namespace default
	ParentID  string
	Context   map[string]string
	Metadata  map[string]string
}

// RetrieveParams holds parameters for retrieving an entry.
type RetrieveParams struct {
	Key       string
	Namespace string // optional namespace name
	AgentID   string // optional agent filter
}

const entryColumns = `id, namespace_id, agent_id, session_id, key, type, content, content_hash, context, timestamp, expires_at, tags, version, parent_id, child_count, access_count, last_accessed, size_bytes, metadata`

const entryColumnsPrefixed = `e.id, e.namespace_id, e.agent_id, e.session_id, e.key, e.type, e.content, e.content_hash, e.context, e.timestamp, e.expires_at, e.tags, e.version, e.parent_id, e.child_count, e.access_count, e.last_accessed, e.size_bytes, e.metadata`

// StoreEntry inserts or replaces the entry keyed by (namespace, key, agent).
// A replace bumps the version and applies the size delta to the namespace
// and allocation counters; an insert is admission-controlled against the
// allocation's entry ceiling. All counter maintenance commits with the
// entry mutation or not at all.
func (s *SQLiteStore) StoreEntry(ctx context.Context, p StoreParams) (*model.MemoryEntry, error) {
	now := time.Now().UTC()

	entryType := p.Type
	if entryType == "" {
		entryType = model.TypeObservation
	}
	if !model.ValidEntryTypes[entryType] {
		return nil, fmt.Errorf("%w: unknown entry type %q", model.ErrValidation, p.Type)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin store tx: %w", err)
	}
	defer tx.Rollback()

	var nsID string
	var nsDefaultTTL int64
	err = tx.QueryRowContext(ctx,
		`SELECT id, default_ttl FROM memory_namespaces WHERE name = ?`,
		p.Namespace).Scan(&nsID, &nsDefaultTTL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: namespace %q", model.ErrNotFound, p.Namespace)
	} else if err != nil {
		return nil, fmt.Errorf("lookup namespace: %w", err)
	}

	var maxEntries, currentEntries int
	err = tx.QueryRowContext(ctx,
		`SELECT max_entries, current_entries FROM memory_allocations
		 WHERE agent_id = ? AND namespace = ?`,
		p.AgentID, p.Namespace).Scan(&maxEntries, &currentEntries)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: agent %q namespace %q", model.ErrNoAllocation, p.AgentID, p.Namespace)
	} else if err != nil {
		return nil, fmt.Errorf("lookup allocation: %w", err)
	}

	var expiresAt *string
	ttl := p.TTL
	if ttl == 0 && nsDefaultTTL > 0 {
		ttl = time.Duration(nsDefaultTTL) * time.Second
	}
	if ttl > 0 {
		exp := formatTime(now.Add(ttl))
		expiresAt = &exp
	}

	hash := ContentHash(p.Content)
	size := int64(len(p.Content))

	var prevID string
	var prevVersion int
	var prevSize int64
	err = tx.QueryRowContext(ctx,
		`SELECT id, version, size_bytes FROM memory_entries
		 WHERE namespace_id = ? AND key = ? AND agent_id = ?`,
		nsID, p.Key, p.AgentID).Scan(&prevID, &prevVersion, &prevSize)
	replacing := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lookup existing entry: %w", err)
	}

	entry := &model.MemoryEntry{
		NamespaceID: nsID,
		AgentID:     p.AgentID,
		SessionID:   p.SessionID,
		Key:         p.Key,
		Type:        entryType,
		Content:     p.Content,
		ContentHash: hash,
		Context:     p.Context,
		Timestamp:   now,
		Tags:        p.Tags,
		ParentID:    p.ParentID,
		SizeBytes:   size,
		Metadata:    p.Metadata,
	}
	if expiresAt != nil {
		t := parseTime(*expiresAt)
		entry.ExpiresAt = &t
	}

	if replacing {
		entry.ID = prevID
		entry.Version = prevVersion + 1

		_, err = tx.ExecContext(ctx,
			`UPDATE memory_entries
			 SET session_id = ?, type = ?, content = ?, content_hash = ?, context = ?,
			     timestamp = ?, expires_at = ?, tags = ?, version = ?, size_bytes = ?, metadata = ?
			 WHERE id = ?`,
			nullable(p.SessionID), entryType, p.Content, hash, encodeJSON(p.Context),
			formatTime(now), expiresAt, encodeJSON(p.Tags), entry.Version, size,
			encodeJSON(p.Metadata), prevID)
		if err != nil {
			return nil, fmt.Errorf("update entry: %w", err)
		}

		delta := size - prevSize
		if _, err := tx.ExecContext(ctx,
			`UPDATE memory_namespaces SET total_size = MAX(total_size + ?, 0) WHERE id = ?`,
			delta, nsID); err != nil {
			return nil, fmt.Errorf("update namespace size: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE memory_allocations SET used_size = MAX(used_size + ?, 0)
			 WHERE agent_id = ? AND namespace = ?`,
			delta, p.AgentID, p.Namespace); err != nil {
			return nil, fmt.Errorf("update allocation usage: %w", err)
		}
	} else {
		// Hard admission control: at the ceiling the write is rejected and
		// no counter moves.
		if currentEntries >= maxEntries {
			return nil, fmt.Errorf("%w: agent %q namespace %q (%d/%d entries)",
				model.ErrQuotaExceeded, p.AgentID, p.Namespace, currentEntries, maxEntries)
		}

		if p.ParentID != "" {
			res, err := tx.ExecContext(ctx,
				`UPDATE memory_entries SET child_count = child_count + 1 WHERE id = ?`,
				p.ParentID)
			if err != nil {
				return nil, fmt.Errorf("update parent: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return nil, fmt.Errorf("%w: parent entry %q", model.ErrNotFound, p.ParentID)
			}
		}

		entry.ID = s.newID()
		entry.Version = 1

		_, err = tx.ExecContext(ctx,
			`INSERT INTO memory_entries (id, namespace_id, agent_id, session_id, key, type,
			     content, content_hash, context, timestamp, expires_at, tags, version,
			     parent_id, child_count, access_count, size_bytes, metadata)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, 0, 0, ?, ?)`,
			entry.ID, nsID, p.AgentID, nullable(p.SessionID), p.Key, entryType,
			p.Content, hash, encodeJSON(p.Context), formatTime(now), expiresAt,
			encodeJSON(p.Tags), nullable(p.ParentID), size, encodeJSON(p.Metadata))
		if err != nil {
			return nil, fmt.Errorf("insert entry: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE memory_namespaces SET entry_count = entry_count + 1, total_size = total_size + ?
			 WHERE id = ?`, size, nsID); err != nil {
			return nil, fmt.Errorf("update namespace counters: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE memory_allocations
			 SET current_entries = current_entries + 1, used_size = used_size + ?
			 WHERE agent_id = ? AND namespace = ?`,
			size, p.AgentID, p.Namespace); err != nil {
			return nil, fmt.Errorf("update allocation counters: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit store tx: %w", err)
	}
	return entry, nil
}

// RetrieveEntry returns the highest-version live entry matching the params,
// bumping access tracking on the entry and its namespace in one transaction.
func (s *SQLiteStore) RetrieveEntry(ctx context.Context, p RetrieveParams) (*model.MemoryEntry, error) {
	now := time.Now().UTC()

	where := []string{"e.key = ?", "(e.expires_at IS NULL OR e.expires_at > ?)"}
	args := []interface{}{p.Key, formatTime(now)}

	if p.Namespace != "" {
		where = append(where, "n.name = ?")
		args = append(args, p.Namespace)
	}
	if p.AgentID != "" {
		where = append(where, "e.agent_id = ?")
		args = append(args, p.AgentID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin retrieve tx: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
		SELECT %s
		FROM memory_entries e
		JOIN memory_namespaces n ON n.id = e.namespace_id
		WHERE %s
		ORDER BY e.version DESC LIMIT 1`,
		entryColumnsPrefixed,
		strings.Join(where, " AND "))

	entry, err := scanEntry(tx.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: key %q", model.ErrNotFound, p.Key)
	} else if err != nil {
		return nil, fmt.Errorf("retrieve entry: %w", err)
	}

	nowStr := formatTime(now)
	if _, err := tx.ExecContext(ctx,
		`UPDATE memory_entries SET access_count = access_count + 1, last_accessed = ? WHERE id = ?`,
		nowStr, entry.ID); err != nil {
		return nil, fmt.Errorf("update access tracking: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE memory_namespaces SET access_count = access_count + 1, last_accessed = ? WHERE id = ?`,
		nowStr, entry.NamespaceID); err != nil {
		return nil, fmt.Errorf("update namespace access: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit retrieve tx: %w", err)
	}

	entry.AccessCount++
	entry.LastAccessed = &now
	return entry, nil
}

// GetEntry returns an entry by id regardless of expiry. Used by the share
// workflow and diagnostics.
func (s *SQLiteStore) GetEntry(ctx context.Context, id string) (*model.MemoryEntry, error) {
	entry, err := scanEntry(s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM memory_entries WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: entry %q", model.ErrNotFound, id)
	} else if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	return entry, nil
}

// DeleteEntry removes an entry and all its descendants, maintaining every
// affected counter in the same transaction.
func (s *SQLiteStore) DeleteEntry(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer tx.Rollback()

	removed, err := s.removeEntries(ctx, tx, []string{id})
	if err != nil {
		return err
	}
	if removed == 0 {
		return fmt.Errorf("%w: entry %q", model.ErrNotFound, id)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete tx: %w", err)
	}
	return nil
}

// ListAgentEntries returns the live entries an agent owns in a namespace,
// used for session snapshots and usage reports.
func (s *SQLiteStore) ListAgentEntries(ctx context.Context, agentID string) ([]model.MemoryEntry, error) {
	now := formatTime(time.Now().UTC())
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM memory_entries
		 WHERE agent_id = ? AND (expires_at IS NULL OR expires_at > ?)
		 ORDER BY timestamp DESC`, agentID, now)
	if err != nil {
		return nil, fmt.Errorf("list agent entries: %w", err)
	}
	defer rows.Close()

	var entries []model.MemoryEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// doomedEntry is one row slated for removal.
type doomedEntry struct {
	id       string
	nsID     string
	agentID  string
	parentID sql.NullString
	size     int64
}

// removeEntries deletes the seed entries plus all transitive children and
// applies the counter deltas. Returns the number of rows removed.
func (s *SQLiteStore) removeEntries(ctx context.Context, tx *sql.Tx, seedIDs []string) (int, error) {
	if len(seedIDs) == 0 {
		return 0, nil
	}

	placeholders := strings.Repeat("?,", len(seedIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, len(seedIDs))
	for i, id := range seedIDs {
		args[i] = id
	}

	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`
		WITH RECURSIVE doomed(id) AS (
			SELECT id FROM memory_entries WHERE id IN (%s)
			UNION
			SELECT e.id FROM memory_entries e JOIN doomed d ON e.parent_id = d.id
		)
		SELECT e.id, e.namespace_id, e.agent_id, e.parent_id, e.size_bytes
		FROM memory_entries e JOIN doomed d ON e.id = d.id`, placeholders), args...)
	if err != nil {
		return 0, fmt.Errorf("collect doomed entries: %w", err)
	}

	var doomed []doomedEntry
	doomedSet := make(map[string]bool)
	for rows.Next() {
		var d doomedEntry
		if err := rows.Scan(&d.id, &d.nsID, &d.agentID, &d.parentID, &d.size); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan doomed entry: %w", err)
		}
		doomed = append(doomed, d)
		doomedSet[d.id] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(doomed) == 0 {
		return 0, nil
	}

	// Aggregate counter deltas before touching any row.
	type delta struct {
		count int
		size  int64
	}
	nsDelta := make(map[string]*delta)
	allocDelta := make(map[[2]string]*delta) // (agentID, nsID)
	for _, d := range doomed {
		if nd := nsDelta[d.nsID]; nd != nil {
			nd.count++
			nd.size += d.size
		} else {
			nsDelta[d.nsID] = &delta{count: 1, size: d.size}
		}
		key := [2]string{d.agentID, d.nsID}
		if ad := allocDelta[key]; ad != nil {
			ad.count++
			ad.size += d.size
		} else {
			allocDelta[key] = &delta{count: 1, size: d.size}
		}
	}

	delArgs := make([]interface{}, 0, len(doomed))
	delPH := make([]string, 0, len(doomed))
	for _, d := range doomed {
		delArgs = append(delArgs, d.id)
		delPH = append(delPH, "?")
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM memory_entries WHERE id IN (%s)`, strings.Join(delPH, ",")),
		delArgs...); err != nil {
		return 0, fmt.Errorf("delete entries: %w", err)
	}

	for nsID, d := range nsDelta {
		if _, err := tx.ExecContext(ctx,
			`UPDATE memory_namespaces
			 SET entry_count = MAX(entry_count - ?, 0), total_size = MAX(total_size - ?, 0)
			 WHERE id = ?`, d.count, d.size, nsID); err != nil {
			return 0, fmt.Errorf("update namespace counters: %w", err)
		}
	}
	for key, d := range allocDelta {
		if _, err := tx.ExecContext(ctx,
			`UPDATE memory_allocations
			 SET current_entries = MAX(current_entries - ?, 0), used_size = MAX(used_size - ?, 0)
			 WHERE agent_id = ? AND namespace = (SELECT name FROM memory_namespaces WHERE id = ?)`,
			d.count, d.size, key[0], key[1]); err != nil {
			return 0, fmt.Errorf("update allocation counters: %w", err)
		}
	}

	// Surviving parents lose one child per removed direct child.
	for _, d := range doomed {
		if d.parentID.Valid && !doomedSet[d.parentID.String] {
			if _, err := tx.ExecContext(ctx,
				`UPDATE memory_entries SET child_count = MAX(child_count - 1, 0) WHERE id = ?`,
				d.parentID.String); err != nil {
				return 0, fmt.Errorf("update parent child count: %w", err)
			}
		}
	}

	return len(doomed), nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func scanEntry(row scanner) (*model.MemoryEntry, error) {
	var e model.MemoryEntry
	var sessionID, contextJSON, expiresAt, tagsJSON, parentID, lastAccessed, metaJSON sql.NullString
	var timestamp string

	err := row.Scan(
		&e.ID, &e.NamespaceID, &e.AgentID, &sessionID, &e.Key, &e.Type,
		&e.Content, &e.ContentHash, &contextJSON, &timestamp, &expiresAt,
		&tagsJSON, &e.Version, &parentID, &e.ChildCount, &e.AccessCount,
		&lastAccessed, &e.SizeBytes, &metaJSON,
	)
	if err != nil {
		return nil, err
	}

	e.Timestamp = parseTime(timestamp)
	e.SessionID = sessionID.String
	e.ParentID = parentID.String
	e.ExpiresAt = timePtr(expiresAt)
	e.LastAccessed = timePtr(lastAccessed)
	e.Context = decodeStringMap(contextJSON)
	e.Tags = decodeStringSlice(tagsJSON)
	e.Metadata = decodeStringMap(metaJSON)
	return &e, nil
}
