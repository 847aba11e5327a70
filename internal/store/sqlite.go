// Package store provides the durable SQLite-backed memory store.
//
// Counter maintenance (namespace totals, parent child counts, allocation
// usage) runs inside the same transaction as the entry mutation, so the
// cached counters always equal the live sums.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the durable store on SQLite.
type SQLiteStore struct {
	db      *sql.DB
	entropy *rand.Rand
}

// Options configures the store backend.
type Options struct {
	// CacheSize is a page-cache hint passed to SQLite (pages). Zero keeps
	// the driver default.
	CacheSize int
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string, opts Options) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	dsn := dbPath + "?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)"
	if opts.CacheSize > 0 {
		dsn += fmt.Sprintf("&_pragma=cache_size(%d)", opts.CacheSize)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Single connection: overlapping write transactions queue on the pool
	// instead of surfacing SQLITE_BUSY to callers.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		db:      db,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memory_entries (
		id            TEXT PRIMARY KEY,
		namespace_id  TEXT NOT NULL,
		agent_id      TEXT NOT NULL,
		session_id    TEXT,
		key           TEXT NOT NULL,
		type          TEXT NOT NULL DEFAULT 'observation',
		content       TEXT NOT NULL,
		content_hash  TEXT NOT NULL,
		context       TEXT,
		timestamp     TEXT NOT NULL,
		expires_at    TEXT,
		tags          TEXT,
		version       INTEGER NOT NULL DEFAULT 1,
		parent_id     TEXT,
		child_count   INTEGER NOT NULL DEFAULT 0,
		access_count  INTEGER NOT NULL DEFAULT 0,
		last_accessed TEXT,
		size_bytes    INTEGER NOT NULL DEFAULT 0,
		metadata      TEXT,
		UNIQUE (namespace_id, key, agent_id)
	);
	CREATE INDEX IF NOT EXISTS idx_entries_ns_key ON memory_entries(namespace_id, key);
	CREATE INDEX IF NOT EXISTS idx_entries_agent ON memory_entries(agent_id);
	CREATE INDEX IF NOT EXISTS idx_entries_session ON memory_entries(session_id);
	CREATE INDEX IF NOT EXISTS idx_entries_expires ON memory_entries(expires_at);
	CREATE INDEX IF NOT EXISTS idx_entries_parent ON memory_entries(parent_id);

	CREATE TABLE IF NOT EXISTS memory_namespaces (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL UNIQUE,
		description   TEXT,
		agent_id      TEXT,
		share_level   TEXT NOT NULL DEFAULT 'private',
		max_entries   INTEGER NOT NULL DEFAULT 10000,
		default_ttl   INTEGER NOT NULL DEFAULT 86400,
		compression   INTEGER NOT NULL DEFAULT 0,
		encryption    INTEGER NOT NULL DEFAULT 0,
		auto_cleanup  INTEGER NOT NULL DEFAULT 1,
		allowed_agents TEXT,
		entry_count   INTEGER NOT NULL DEFAULT 0,
		total_size    INTEGER NOT NULL DEFAULT 0,
		access_count  INTEGER NOT NULL DEFAULT 0,
		last_accessed TEXT
	);

	CREATE TABLE IF NOT EXISTS swarm_sessions (
		id             TEXT PRIMARY KEY,
		swarm_id       TEXT NOT NULL,
		status         TEXT NOT NULL DEFAULT 'active',
		agent_ids      TEXT NOT NULL,
		initiated_by   TEXT,
		objective      TEXT,
		total_tasks    INTEGER NOT NULL DEFAULT 0,
		total_messages INTEGER NOT NULL DEFAULT 0,
		total_errors   INTEGER NOT NULL DEFAULT 0,
		memory_used    INTEGER NOT NULL DEFAULT 0,
		created_at     TEXT NOT NULL,
		ended_at       TEXT,
		snapshot       TEXT,
		metadata       TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_status ON swarm_sessions(status);
	CREATE INDEX IF NOT EXISTS idx_sessions_swarm ON swarm_sessions(swarm_id);

	CREATE TABLE IF NOT EXISTS memory_allocations (
		agent_id        TEXT NOT NULL,
		namespace       TEXT NOT NULL,
		allocated_size  INTEGER NOT NULL DEFAULT 0,
		used_size       INTEGER NOT NULL DEFAULT 0,
		max_entries     INTEGER NOT NULL DEFAULT 1000,
		current_entries INTEGER NOT NULL DEFAULT 0,
		priority        INTEGER NOT NULL DEFAULT 1,
		created_at      TEXT NOT NULL,
		PRIMARY KEY (agent_id, namespace)
	);

	CREATE TABLE IF NOT EXISTS memory_share_requests (
		id          TEXT PRIMARY KEY,
		from_agent  TEXT NOT NULL,
		to_agent    TEXT NOT NULL,
		entry_ids   TEXT NOT NULL,
		share_level TEXT NOT NULL,
		approved    INTEGER NOT NULL DEFAULT 0,
		expires_at  TEXT,
		created_at  TEXT NOT NULL,
		approved_at TEXT,
		applied_at  TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_shares_to ON memory_share_requests(to_agent);

	CREATE TABLE IF NOT EXISTS memory_performance (
		operation_type TEXT NOT NULL,
		namespace_id   TEXT,
		agent_id       TEXT,
		duration_ms    REAL NOT NULL,
		success        INTEGER NOT NULL DEFAULT 1,
		timestamp      TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_perf_ts ON memory_performance(timestamp);
	CREATE INDEX IF NOT EXISTS idx_perf_op ON memory_performance(operation_type);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ContentHash returns the hex digest used for dedup and diagnostics.
// xxhash is deliberately non-cryptographic; the hash carries no integrity
// guarantee.
func ContentHash(content string) string {
	return strconv.FormatUint(xxhash.Sum64String(content), 16)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func timePtr(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func encodeJSON(v interface{}) *string {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	out := string(b)
	return &out
}

func decodeStringMap(ns sql.NullString) map[string]string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var m map[string]string
	json.Unmarshal([]byte(ns.String), &m)
	return m
}

func decodeStringSlice(ns sql.NullString) []string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var out []string
	json.Unmarshal([]byte(ns.String), &out)
	return out
}

// ParseTTL parses a TTL string like "7d", "24h", "30m" into a time.Duration.
var ttlRegex = regexp.MustCompile(`^(\d+)([dhms])$`)

func ParseTTL(s string) (time.Duration, error) {
	m := ttlRegex.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid format %q (use e.g. 7d, 24h, 30m, 60s)", s)
	}
	n, _ := strconv.Atoi(m[1])
	switch m[2] {
	case "d":
		return time.Duration(n) * 24 * time.Hour, nil
	case "h":
		return time.Duration(n) * time.Hour, nil
	case "m":
		return time.Duration(n) * time.Minute, nil
	case "s":
		return time.Duration(n) * time.Second, nil
	}
	return 0, fmt.Errorf("unknown unit %q", m[2])
}
