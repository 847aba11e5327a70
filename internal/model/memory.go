// Package model defines the core memory coordination data types.
package model

import "time"

// MemoryEntry represents a single stored record.
type MemoryEntry struct {
	ID           string            `json:"id"`
	NamespaceID  string            `json:"namespace_id"`
	AgentID      string            `json:"agent_id"`
	SessionID    string            `json:"session_id,omitempty"`
	Key          string            `json:"key"`
	Type         string            `json:"type"`
	Content      string            `json:"content"`
	ContentHash  string            `json:"content_hash"`
	Context      map[string]string `json:"context,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
	ExpiresAt    *time.Time        `json:"expires_at,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	Version      int               `json:"version"`
	ParentID     string            `json:"parent_id,omitempty"`
	ChildCount   int               `json:"child_count"`
	AccessCount  int               `json:"access_count"`
	LastAccessed *time.Time        `json:"last_accessed,omitempty"`
	SizeBytes    int64             `json:"size_bytes"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Namespace is a named partition of the key space.
type Namespace struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	AgentID     string           `json:"agent_id,omitempty"`
	ShareLevel  string           `json:"share_level"`
	Config      NamespaceConfig  `json:"config"`
	Metrics     NamespaceMetrics `json:"metrics"`
}

// NamespaceConfig holds per-namespace policy. Compression and encryption
// are advisory flags recorded for consumers; this layer does not act on them.
type NamespaceConfig struct {
	MaxEntries    int           `json:"max_entries"`
	DefaultTTL    time.Duration `json:"default_ttl"`
	Compression   bool          `json:"compression"`
	Encryption    bool          `json:"encryption"`
	AutoCleanup   bool          `json:"auto_cleanup"`
	AllowedAgents []string      `json:"allowed_agents,omitempty"`
}

// NamespaceMetrics are cached counters kept equal to the live sums by the
// store's transactional maintenance.
type NamespaceMetrics struct {
	EntryCount    int        `json:"entry_count"`
	TotalSize     int64      `json:"total_size"`
	AccessCount   int        `json:"access_count"`
	LastAccessed  *time.Time `json:"last_accessed,omitempty"`
	AvgAccessTime float64    `json:"avg_access_time_ms"`
}

// MemoryAllocation is the per-(agent, namespace) quota ledger.
type MemoryAllocation struct {
	AgentID        string    `json:"agent_id"`
	Namespace      string    `json:"namespace"`
	AllocatedSize  int64     `json:"allocated_size"`
	UsedSize       int64     `json:"used_size"`
	MaxEntries     int       `json:"max_entries"`
	CurrentEntries int       `json:"current_entries"`
	Priority       int       `json:"priority"`
	CreatedAt      time.Time `json:"created_at"`
}

// SwarmSession is a bounded unit of multi-agent activity.
type SwarmSession struct {
	ID        string           `json:"id"`
	SwarmID   string           `json:"swarm_id"`
	Status    string           `json:"status"`
	AgentIDs  []string         `json:"agent_ids"`
	CreatedAt time.Time        `json:"created_at"`
	EndedAt   *time.Time       `json:"ended_at,omitempty"`
	Snapshot  *SessionSnapshot `json:"snapshot,omitempty"`
	Metadata  SessionMetadata  `json:"metadata"`
}

// SessionMetadata carries initiator, objective and running totals.
type SessionMetadata struct {
	InitiatedBy   string `json:"initiated_by,omitempty"`
	Objective     string `json:"objective,omitempty"`
	TotalTasks    int    `json:"total_tasks"`
	TotalMessages int    `json:"total_messages"`
	TotalErrors   int    `json:"total_errors"`
	MemoryUsed    int64  `json:"memory_used"`
}

// SessionSnapshot is the point-in-time view captured when a session ends.
type SessionSnapshot struct {
	TakenAt    time.Time                `json:"taken_at"`
	Agents     map[string]AgentSnapshot `json:"agents"`
	Partial    bool                     `json:"partial,omitempty"`
	TotalBytes int64                    `json:"total_bytes"`
}

// AgentSnapshot is one participant's slice of a session snapshot.
type AgentSnapshot struct {
	EntryCount int      `json:"entry_count"`
	TotalBytes int64    `json:"total_bytes"`
	Keys       []string `json:"keys,omitempty"`
}

// MemoryShareRequest is a grant of visibility over specific entries.
type MemoryShareRequest struct {
	ID         string     `json:"id"`
	FromAgent  string     `json:"from_agent"`
	ToAgent    string     `json:"to_agent"`
	EntryIDs   []string   `json:"entry_ids"`
	ShareLevel string     `json:"share_level"`
	Approved   bool       `json:"approved"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	AppliedAt  *time.Time `json:"applied_at,omitempty"`
}

// PerformanceSample is one row of the append-only operation log.
type PerformanceSample struct {
	Operation   string    `json:"operation"`
	NamespaceID string    `json:"namespace_id,omitempty"`
	AgentID     string    `json:"agent_id,omitempty"`
	DurationMS  float64   `json:"duration_ms"`
	Success     bool      `json:"success"`
	Timestamp   time.Time `json:"timestamp"`
}

// MemoryAnalytics is a derived, recomputed-on-demand usage summary.
type MemoryAnalytics struct {
	GeneratedAt     time.Time          `json:"generated_at"`
	TotalMemoryUsed int64              `json:"total_memory_used"`
	EntryCount      int                `json:"entry_count"`
	NamespaceCount  int                `json:"namespace_count"`
	ActiveAgents    int                `json:"active_agents"`
	ActiveSessions  int                `json:"active_sessions"`
	TopNamespaces   []NamespaceUsage   `json:"top_namespaces"`
	AgentUsage      map[string]int64   `json:"agent_usage"`
	Performance     PerformanceMetrics `json:"performance"`
	Trends          MemoryTrends       `json:"trends"`
}

// NamespaceUsage ranks one namespace by size.
type NamespaceUsage struct {
	Name       string `json:"name"`
	EntryCount int    `json:"entry_count"`
	TotalSize  int64  `json:"total_size"`
}

// PerformanceMetrics summarizes the sample log.
type PerformanceMetrics struct {
	AvgReadLatency  float64 `json:"avg_read_latency_ms"`
	AvgWriteLatency float64 `json:"avg_write_latency_ms"`
	CacheHitRate    float64 `json:"cache_hit_rate"`
	SyncLatency     float64 `json:"sync_latency_ms"`
}

// MemoryTrends holds rolling usage buffers and a growth-rate scalar.
type MemoryTrends struct {
	Hourly     []int64 `json:"hourly"`
	Daily      []int64 `json:"daily"`
	GrowthRate float64 `json:"growth_rate"`
}

// AgentUsage is the per-agent view returned by GetAgentUsage.
type AgentUsage struct {
	AgentID     string             `json:"agent_id"`
	Allocations []MemoryAllocation `json:"allocations"`
	TotalUsage  int64              `json:"total_usage"`
	EntryCount  int                `json:"entry_count"`
	Namespaces  []string           `json:"namespaces"`
}

// Entry types.
const (
	TypeObservation   = "observation"
	TypeInsight       = "insight"
	TypeDecision      = "decision"
	TypeArtifact      = "artifact"
	TypeError         = "error"
	TypeState         = "state"
	TypeCommunication = "communication"
)

// ValidEntryTypes are the allowed semantic types for an entry.
var ValidEntryTypes = map[string]bool{
	TypeObservation:   true,
	TypeInsight:       true,
	TypeDecision:      true,
	TypeArtifact:      true,
	TypeError:         true,
	TypeState:         true,
	TypeCommunication: true,
}

// Session statuses.
const (
	SessionActive    = "active"
	SessionPaused    = "paused"
	SessionCompleted = "completed"
	SessionFailed    = "failed"
)

// ValidSessionStatuses are the allowed session states.
var ValidSessionStatuses = map[string]bool{
	SessionActive:    true,
	SessionPaused:    true,
	SessionCompleted: true,
	SessionFailed:    true,
}

// TerminalSessionStatus reports whether a status permits no further
// transitions.
func TerminalSessionStatus(status string) bool {
	return status == SessionCompleted || status == SessionFailed
}

// ValidNamespaceShareLevels are the allowed namespace visibility levels.
var ValidNamespaceShareLevels = map[string]bool{
	"private": true,
	"team":    true,
	"public":  true,
	"global":  true,
}

// Share-request levels.
const (
	ShareRead  = "read"
	ShareWrite = "write"
	ShareFull  = "full"
)

// ValidShareLevels are the allowed share-request levels.
var ValidShareLevels = map[string]bool{
	ShareRead:  true,
	ShareWrite: true,
	ShareFull:  true,
}
