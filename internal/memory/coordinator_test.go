package memory

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/swarmforge/swarmmem/internal/config"
	"github.com/swarmforge/swarmmem/internal/logging"
	"github.com/swarmforge/swarmmem/internal/model"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DBPath = filepath.Join(t.TempDir(), "memory.db")
	// Long intervals so the tickers stay out of the tests' way.
	cfg.CleanupInterval = time.Hour
	cfg.AnalyticsInterval = time.Hour
	return cfg
}

func newTestCoordinator(t *testing.T, mutate func(*config.Config)) *Coordinator {
	t.Helper()
	cfg := testConfig(t)
	if mutate != nil {
		mutate(&cfg)
	}
	c := New(cfg, logging.NewTestLogger().Logger)
	require.NoError(t, c.Initialize(context.Background()))
	t.Cleanup(func() { c.Shutdown(context.Background()) })
	return c
}

func allocate(t *testing.T, c *Coordinator, agent, namespace string, maxEntries int) {
	t.Helper()
	err := c.CreateAllocation(context.Background(), agent, namespace, AllocationOptions{MaxEntries: maxEntries})
	require.NoError(t, err)
}

func TestInitializeSeedsBootstrapNamespaces(t *testing.T) {
	c := newTestCoordinator(t, nil)

	for _, name := range []string{"default", "system", "coordination", "patterns"} {
		_, ok := c.GetNamespace(name)
		assert.True(t, ok, "namespace %q not seeded", name)
	}

	// Re-initializing a running coordinator is a no-op.
	require.NoError(t, c.Initialize(context.Background()))
}

func TestInitializeIsIdempotentAcrossRestart(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	c1 := New(cfg, nil)
	require.NoError(t, c1.Initialize(ctx))
	require.NoError(t, c1.Shutdown(ctx))

	// Second process against the same database re-seeds without error.
	c2 := New(cfg, nil)
	require.NoError(t, c2.Initialize(ctx))
	require.NoError(t, c2.Shutdown(ctx))
	// Double shutdown is a no-op.
	require.NoError(t, c2.Shutdown(ctx))
}

func TestShutdownFlushesFinalAnalytics(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	c := New(cfg, nil)
	require.NoError(t, c.Initialize(ctx))

	require.NoError(t, c.CreateAllocation(ctx, "a1", "default", AllocationOptions{MaxEntries: 100}))
	_, err := c.Store(ctx, "k", "12345", StoreOptions{AgentID: "a1"})
	require.NoError(t, err)

	require.NoError(t, c.Shutdown(ctx))

	snap, ok := c.LastAnalytics()
	require.True(t, ok, "shutdown must publish a final analytics snapshot")
	assert.Equal(t, 1, snap.EntryCount)
	assert.Equal(t, int64(5), snap.TotalMemoryUsed)
	assert.NotEmpty(t, snap.Trends.Hourly)
}

func TestOperationsAfterShutdown(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()
	c := New(cfg, nil)
	require.NoError(t, c.Initialize(ctx))
	require.NoError(t, c.Shutdown(ctx))

	_, err := c.Store(ctx, "k", "v", StoreOptions{AgentID: "a1"})
	assert.Error(t, err)
	_, err = c.GetAnalytics(ctx)
	assert.Error(t, err)
}

func TestStoreRetrieveDelete(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, nil)
	allocate(t, c, "a1", "default", 100)

	var mu sync.Mutex
	var seen []EventType
	c.Subscribe(func(ev Event) {
		mu.Lock()
		seen = append(seen, ev.Type)
		mu.Unlock()
	})

	id, err := c.Store(ctx, "greeting", "hello", StoreOptions{
		AgentID: "a1",
		Type:    model.TypeObservation,
		Tags:    []string{"demo"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	entry, err := c.Retrieve(ctx, "greeting", RetrieveOptions{Namespace: "default", AgentID: "a1"})
	require.NoError(t, err)
	assert.Equal(t, "hello", entry.Content)
	assert.Equal(t, 1, entry.AccessCount)

	// The cached namespace metrics follow the store's counters.
	ns, ok := c.GetNamespace("default")
	require.True(t, ok)
	assert.Equal(t, 1, ns.Metrics.EntryCount)
	assert.Equal(t, int64(len("hello")), ns.Metrics.TotalSize)

	require.NoError(t, c.Delete(ctx, id))
	_, err = c.Retrieve(ctx, "greeting", RetrieveOptions{Namespace: "default"})
	assert.ErrorIs(t, err, model.ErrNotFound)

	ns, _ = c.GetNamespace("default")
	assert.Equal(t, 0, ns.Metrics.EntryCount)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, seen, EventEntryStored)
	assert.Contains(t, seen, EventEntryDeleted)
}

func TestUnscopedRetrieveRefreshesNamespaceCache(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, nil)
	allocate(t, c, "a1", "default", 100)

	_, err := c.Store(ctx, "k", "v", StoreOptions{AgentID: "a1"})
	require.NoError(t, err)

	// No namespace filter: the hit entry's namespace is resolved and its
	// cached access counters refreshed anyway.
	_, err = c.Retrieve(ctx, "k", RetrieveOptions{})
	require.NoError(t, err)

	ns, ok := c.GetNamespace("default")
	require.True(t, ok)
	assert.Equal(t, 1, ns.Metrics.AccessCount)
	assert.NotNil(t, ns.Metrics.LastAccessed)
}

func TestStoreValidation(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, nil)

	_, err := c.Store(ctx, "", "v", StoreOptions{AgentID: "a1"})
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = c.Store(ctx, "k", "v", StoreOptions{})
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = c.Store(ctx, "k", "v", StoreOptions{AgentID: "a1", Namespace: "nope"})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestQuotaAdmission(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, nil)
	allocate(t, c, "a1", "default", 2)

	_, err := c.Store(ctx, "k1", "v", StoreOptions{AgentID: "a1"})
	require.NoError(t, err)
	_, err = c.Store(ctx, "k2", "v", StoreOptions{AgentID: "a1"})
	require.NoError(t, err)

	_, err = c.Store(ctx, "k3", "v", StoreOptions{AgentID: "a1"})
	assert.ErrorIs(t, err, model.ErrQuotaExceeded)

	// Overwriting within quota is still allowed at the ceiling.
	_, err = c.Store(ctx, "k1", "v2", StoreOptions{AgentID: "a1"})
	require.NoError(t, err)

	alloc, ok, err := c.GetAllocation(ctx, "a1", "default")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, alloc.CurrentEntries)

	// Without an allocation the write is refused outright.
	_, err = c.Store(ctx, "k", "v", StoreOptions{AgentID: "nobody"})
	assert.ErrorIs(t, err, model.ErrNoAllocation)
}

func TestCreateNamespaceAndAllocation(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, nil)

	id, err := c.CreateNamespace(ctx, "research", &model.NamespaceConfig{MaxEntries: 50}, "a1")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = c.CreateNamespace(ctx, "research", nil, "a1")
	assert.ErrorIs(t, err, model.ErrNamespaceExists)

	ns, ok := c.GetNamespace("research")
	require.True(t, ok)
	assert.Equal(t, 50, ns.Config.MaxEntries)
	assert.Equal(t, "a1", ns.AgentID)

	// Allocations require an existing namespace.
	err = c.CreateAllocation(ctx, "a1", "missing", AllocationOptions{MaxEntries: 10})
	assert.ErrorIs(t, err, model.ErrNotFound)

	allocate(t, c, "a1", "research", 10)
	err = c.CreateAllocation(ctx, "a1", "research", AllocationOptions{MaxEntries: 10})
	assert.ErrorIs(t, err, model.ErrAllocationExists)

	names := make([]string, 0)
	for _, ns := range c.ListNamespaces() {
		names = append(names, ns.Name)
	}
	assert.Contains(t, names, "research")
	assert.Contains(t, names, "default")
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, nil)
	allocate(t, c, "a1", "default", 100)

	sessID, err := c.StartSession(ctx, "swarm-1", []string{"a1", "a2"}, model.SessionMetadata{})
	require.NoError(t, err)

	_, err = c.Store(ctx, "finding", "data", StoreOptions{AgentID: "a1", SessionID: sessID})
	require.NoError(t, err)

	require.NoError(t, c.PauseSession(ctx, sessID))
	sess, err := c.GetSession(ctx, sessID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionPaused, sess.Status)

	// Pausing a paused session is invalid.
	assert.ErrorIs(t, c.PauseSession(ctx, sessID), model.ErrValidation)

	require.NoError(t, c.ResumeSession(ctx, sessID))
	require.NoError(t, c.EndSession(ctx, sessID))

	sess, err = c.GetSession(ctx, sessID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionCompleted, sess.Status)
	require.NotNil(t, sess.EndedAt)
	require.NotNil(t, sess.Snapshot)
	assert.False(t, sess.Snapshot.Partial)
	assert.Equal(t, 1, sess.Snapshot.Agents["a1"].EntryCount)
	assert.Equal(t, int64(len("data")), sess.Snapshot.TotalBytes)

	// Terminal sessions stay terminal.
	assert.ErrorIs(t, c.EndSession(ctx, sessID), model.ErrValidation)
	assert.ErrorIs(t, c.ResumeSession(ctx, sessID), model.ErrValidation)

	_, err = c.GetSession(ctx, "no-such-session")
	assert.ErrorIs(t, err, model.ErrSessionNotFound)

	_, err = c.ListSessions(ctx, "bogus")
	assert.ErrorIs(t, err, model.ErrValidation)
	completed, err := c.ListSessions(ctx, model.SessionCompleted)
	require.NoError(t, err)
	assert.Len(t, completed, 1)
}

func TestCleanupFailsStaleSessions(t *testing.T) {
	ctx := context.Background()
	log := logging.NewTestLogger()

	cfg := testConfig(t)
	cfg.SessionTimeout = time.Millisecond
	c := New(cfg, log.Logger)
	require.NoError(t, c.Initialize(ctx))
	t.Cleanup(func() { c.Shutdown(ctx) })

	sessID, err := c.StartSession(ctx, "swarm-1", []string{"a1"}, model.SessionMetadata{})
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, c.PerformCleanup(ctx))

	sess, err := c.GetSession(ctx, sessID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionFailed, sess.Status)
	assert.Nil(t, sess.Snapshot, "stale sessions are failed without a snapshot")

	log.AssertLogged(t, zapcore.InfoLevel, "cleanup cycle complete")
}

func TestCleanupSweepsExpiredEntries(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, nil)
	allocate(t, c, "a1", "default", 100)

	_, err := c.Store(ctx, "ephemeral", "x", StoreOptions{AgentID: "a1", TTL: time.Millisecond})
	require.NoError(t, err)
	_, err = c.Store(ctx, "durable", "y", StoreOptions{AgentID: "a1", TTL: time.Hour})
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, c.PerformCleanup(ctx))

	_, err = c.Retrieve(ctx, "ephemeral", RetrieveOptions{Namespace: "default"})
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = c.Retrieve(ctx, "durable", RetrieveOptions{Namespace: "default"})
	require.NoError(t, err)

	alloc, _, err := c.GetAllocation(ctx, "a1", "default")
	require.NoError(t, err)
	assert.Equal(t, 1, alloc.CurrentEntries)
}

func TestShareAutoApply(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, nil)
	allocate(t, c, "a1", "default", 100)
	allocate(t, c, "a2", "default", 100)

	var mu sync.Mutex
	var seen []EventType
	c.Subscribe(func(ev Event) {
		mu.Lock()
		seen = append(seen, ev.Type)
		mu.Unlock()
	})

	id, err := c.Store(ctx, "pattern", "observed behavior", StoreOptions{AgentID: "a1"})
	require.NoError(t, err)

	reqID, err := c.ShareMemory(ctx, []string{id}, "a1", "a2", model.ShareRead)
	require.NoError(t, err)

	copied, err := c.Retrieve(ctx, "shared:a1:pattern", RetrieveOptions{Namespace: "default", AgentID: "a2"})
	require.NoError(t, err)
	assert.Equal(t, "observed behavior", copied.Content)
	assert.Equal(t, "a1", copied.Metadata["shared_from"])
	assert.Equal(t, reqID, copied.Metadata["share_request"])
	assert.Equal(t, model.ShareRead, copied.Metadata["share_level"])

	// Re-processing an applied request grants nothing twice.
	firstVersion := copied.Version
	require.NoError(t, c.ProcessShareRequest(ctx, reqID))
	copied, err = c.Retrieve(ctx, "shared:a1:pattern", RetrieveOptions{Namespace: "default", AgentID: "a2"})
	require.NoError(t, err)
	assert.Equal(t, firstVersion, copied.Version)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, seen, EventShareRequested)
	assert.Contains(t, seen, EventShareApplied)
}

func TestShareStrictWorkflow(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, func(cfg *config.Config) { cfg.StrictSharing = true })
	allocate(t, c, "a1", "default", 100)
	allocate(t, c, "a2", "default", 100)

	id, err := c.Store(ctx, "secret", "payload", StoreOptions{AgentID: "a1"})
	require.NoError(t, err)

	reqID, err := c.ShareMemory(ctx, []string{id}, "a1", "a2", model.ShareWrite)
	require.NoError(t, err)

	// Not applied before approval.
	_, err = c.Retrieve(ctx, "shared:a1:secret", RetrieveOptions{Namespace: "default", AgentID: "a2"})
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.ErrorIs(t, c.ProcessShareRequest(ctx, reqID), model.ErrValidation)

	require.NoError(t, c.ApproveShareRequest(ctx, reqID))
	require.NoError(t, c.ProcessShareRequest(ctx, reqID))

	copied, err := c.Retrieve(ctx, "shared:a1:secret", RetrieveOptions{Namespace: "default", AgentID: "a2"})
	require.NoError(t, err)
	assert.Equal(t, "payload", copied.Content)

	reqs, err := c.ListShareRequests(ctx, "a2")
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.NotNil(t, reqs[0].AppliedAt)
}

func TestShareTargetWithoutAllocation(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, nil)
	allocate(t, c, "a1", "default", 100)

	id, err := c.Store(ctx, "k", "v", StoreOptions{AgentID: "a1"})
	require.NoError(t, err)

	_, err = c.ShareMemory(ctx, []string{id}, "a1", "a2", model.ShareRead)
	assert.ErrorIs(t, err, model.ErrNoAllocation)

	// The refused share leaves no request row behind.
	reqs, err := c.ListShareRequests(ctx, "a2")
	require.NoError(t, err)
	assert.Empty(t, reqs)
}

func TestShareValidation(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, nil)
	allocate(t, c, "a1", "default", 100)
	allocate(t, c, "a2", "default", 100)

	id, err := c.Store(ctx, "k", "v", StoreOptions{AgentID: "a1"})
	require.NoError(t, err)

	_, err = c.ShareMemory(ctx, nil, "a1", "a2", model.ShareRead)
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = c.ShareMemory(ctx, []string{id}, "a1", "a2", "superuser")
	assert.ErrorIs(t, err, model.ErrValidation)
	// Sharing an entry the agent does not own is refused.
	_, err = c.ShareMemory(ctx, []string{id}, "a2", "a1", model.ShareRead)
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = c.ShareMemory(ctx, []string{"missing"}, "a1", "a2", model.ShareRead)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestAnalyticsSnapshot(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, nil)
	allocate(t, c, "a1", "default", 100)
	allocate(t, c, "a2", "default", 100)

	_, ok := c.LastAnalytics()
	assert.False(t, ok, "no snapshot before the first computation")

	_, err := c.Store(ctx, "k1", "12345", StoreOptions{AgentID: "a1"})
	require.NoError(t, err)
	_, err = c.Store(ctx, "k2", "123", StoreOptions{AgentID: "a2"})
	require.NoError(t, err)
	_, err = c.StartSession(ctx, "swarm-1", []string{"a1"}, model.SessionMetadata{})
	require.NoError(t, err)

	snap, err := c.GetAnalytics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.EntryCount)
	assert.Equal(t, int64(8), snap.TotalMemoryUsed)
	assert.Equal(t, 2, snap.ActiveAgents)
	assert.Equal(t, 1, snap.ActiveSessions)
	assert.GreaterOrEqual(t, snap.NamespaceCount, 4)
	assert.Equal(t, int64(5), snap.AgentUsage["a1"])
	assert.Equal(t, int64(3), snap.AgentUsage["a2"])
	assert.NotEmpty(t, snap.TopNamespaces)
	assert.NotEmpty(t, snap.Trends.Hourly)

	last, ok := c.LastAnalytics()
	require.True(t, ok)
	assert.Equal(t, snap.EntryCount, last.EntryCount)
}

func TestGetAgentUsage(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, nil)
	allocate(t, c, "a1", "default", 100)
	allocate(t, c, "a1", "system", 100)

	_, err := c.Store(ctx, "k1", "12345", StoreOptions{AgentID: "a1"})
	require.NoError(t, err)
	_, err = c.Store(ctx, "k2", "12", StoreOptions{AgentID: "a1", Namespace: "system"})
	require.NoError(t, err)

	usage, err := c.GetAgentUsage(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), usage.TotalUsage)
	assert.Equal(t, 2, usage.EntryCount)
	assert.ElementsMatch(t, []string{"default", "system"}, usage.Namespaces)
	assert.Len(t, usage.Allocations, 2)
}

func TestTrendTracker(t *testing.T) {
	var tr trendTracker
	base := time.Date(2026, 1, 1, 0, 30, 0, 0, time.UTC)

	tr.observe(base, 100)
	tr.observe(base.Add(10*time.Minute), 150) // same hour, overwrites
	tr.observe(base.Add(time.Hour), 200)      // next hour, appends

	snap := tr.snapshot()
	require.Equal(t, []int64{150, 200}, snap.Hourly)
	assert.InDelta(t, (200.0-150.0)/150.0, snap.GrowthRate, 1e-9)

	// The hourly buffer is capped.
	for i := 0; i < 40; i++ {
		tr.observe(base.Add(time.Duration(i+2)*time.Hour), int64(i))
	}
	snap = tr.snapshot()
	assert.Len(t, snap.Hourly, trendHourlyBuckets)
}
