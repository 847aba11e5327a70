// Package memory implements the multi-tenant agent memory coordination
// layer: namespace-partitioned storage with per-agent quota accounting,
// session lifecycle, cross-agent sharing and periodic analytics.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/swarmforge/swarmmem/internal/config"
	"github.com/swarmforge/swarmmem/internal/model"
	"github.com/swarmforge/swarmmem/internal/store"
)

// bootstrapNamespaces are seeded at startup. Duplicate creation during
// bootstrap is swallowed so a restart is idempotent.
var bootstrapNamespaces = []string{"default", "system", "coordination", "patterns"}

// Coordinator composes the durable store, namespace registry, allocation
// tracker, session manager, share workflow and analytics aggregator behind
// one public surface. One instance per process.
type Coordinator struct {
	cfg config.Config
	log *zap.Logger

	mu         sync.RWMutex
	store      *store.SQLiteStore
	namespaces map[string]model.Namespace
	analytics  *model.MemoryAnalytics
	trends     trendTracker
	started    bool
	closed     bool

	// Tick re-entrancy guards: an overlapping cycle is skipped, never run
	// concurrently.
	cleanupGuard   sync.Mutex
	analyticsGuard sync.Mutex

	stop chan struct{}
	wg   sync.WaitGroup

	subsMu sync.RWMutex
	subs   []EventHandler
}

// New wires a coordinator. The store is not opened until Initialize.
func New(cfg config.Config, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{
		cfg:        cfg,
		log:        log,
		namespaces: make(map[string]model.Namespace),
	}
}

// Initialize opens the durable store, seeds the bootstrap namespaces, loads
// the namespace registry and starts the periodic tasks. Calling it twice is
// a no-op.
func (c *Coordinator) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return nil
	}
	if c.closed {
		return fmt.Errorf("coordinator already shut down")
	}

	s, err := store.NewSQLiteStore(c.cfg.DBPath, store.Options{CacheSize: c.cfg.CacheSize})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	c.store = s

	for _, name := range bootstrapNamespaces {
		ns := &model.Namespace{
			Name:       name,
			ShareLevel: "team",
			Config:     defaultNamespaceConfig(),
		}
		if err := s.CreateNamespace(ctx, ns); err != nil {
			if errors.Is(err, model.ErrNamespaceExists) {
				continue
			}
			s.Close()
			c.store = nil
			return fmt.Errorf("seed namespace %q: %w", name, err)
		}
	}

	if err := c.reloadNamespacesLocked(ctx); err != nil {
		s.Close()
		c.store = nil
		return err
	}

	c.stop = make(chan struct{})
	c.started = true

	c.wg.Add(2)
	go c.runLoop("cleanup", c.cfg.CleanupInterval, c.cleanupCycle)
	go c.runLoop("analytics", c.cfg.AnalyticsInterval, c.analyticsCycle)

	c.log.Info("memory coordinator initialized",
		zap.String("db_path", c.cfg.DBPath),
		zap.Duration("cleanup_interval", c.cfg.CleanupInterval),
		zap.Duration("analytics_interval", c.cfg.AnalyticsInterval))
	return nil
}

// Shutdown stops the periodic tasks, flushes a final analytics snapshot and
// closes the store. Calling it twice is a no-op.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if !c.started || c.closed {
		c.closed = true
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	stop := c.stop
	s := c.store
	c.mu.Unlock()

	close(stop)
	c.wg.Wait()

	// closed gates new work through storeHandle; the store itself stays
	// open until after this final flush.
	if snapshot, err := c.computeAnalyticsWith(ctx, s); err != nil {
		c.log.Warn("final analytics snapshot failed", zap.Error(err))
	} else {
		c.publishAnalytics(snapshot)
		c.log.Info("final analytics snapshot",
			zap.Int("entries", snapshot.EntryCount),
			zap.Int64("total_bytes", snapshot.TotalMemoryUsed),
			zap.Int("active_sessions", snapshot.ActiveSessions))
	}

	c.mu.Lock()
	err := c.store.Close()
	c.store = nil
	c.started = false
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	c.log.Info("memory coordinator shut down")
	return nil
}

// runLoop drives one background task at a fixed interval until shutdown.
func (c *Coordinator) runLoop(name string, interval time.Duration, cycle func(context.Context)) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			cycle(context.Background())
		}
	}
}

// cleanupCycle is the periodic sweep. Failures are logged, never
// propagated; the next tick retries.
func (c *Coordinator) cleanupCycle(ctx context.Context) {
	if !c.cleanupGuard.TryLock() {
		c.log.Debug("cleanup cycle still running, skipping tick")
		return
	}
	defer c.cleanupGuard.Unlock()

	if err := c.runCleanup(ctx); err != nil {
		c.log.Error("cleanup cycle failed", zap.Error(err))
	}
}

// analyticsCycle is the periodic refresher.
func (c *Coordinator) analyticsCycle(ctx context.Context) {
	if !c.analyticsGuard.TryLock() {
		c.log.Debug("analytics cycle still running, skipping tick")
		return
	}
	defer c.analyticsGuard.Unlock()

	snapshot, err := c.computeAnalytics(ctx)
	if err != nil {
		c.log.Error("analytics cycle failed", zap.Error(err))
		return
	}
	c.publishAnalytics(snapshot)
	c.emit(Event{Type: EventAnalyticsUpdated, Timestamp: snapshot.GeneratedAt})
}

// PerformCleanup triggers the sweep manually. Unlike the periodic tick it
// waits for any in-flight cycle instead of skipping.
func (c *Coordinator) PerformCleanup(ctx context.Context) error {
	c.cleanupGuard.Lock()
	defer c.cleanupGuard.Unlock()
	return c.runCleanup(ctx)
}

func (c *Coordinator) runCleanup(ctx context.Context) error {
	s, err := c.storeHandle()
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	expired, err := s.SweepExpired(ctx, now)
	if err != nil {
		return fmt.Errorf("sweep expired entries: %w", err)
	}
	stale, err := s.FailStaleSessions(ctx, c.cfg.SessionTimeout, now)
	if err != nil {
		return fmt.Errorf("fail stale sessions: %w", err)
	}
	shares, err := s.PurgeExpiredShareRequests(ctx, now)
	if err != nil {
		return fmt.Errorf("purge share requests: %w", err)
	}
	samples := 0
	if c.cfg.PerfTracking {
		samples, err = s.PruneSamples(ctx, now.Add(-c.cfg.PerfRetention))
		if err != nil {
			return fmt.Errorf("prune perf samples: %w", err)
		}
	}

	// Counters moved under us; resync the registry cache from the store.
	c.mu.Lock()
	err = c.reloadNamespacesLocked(ctx)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	c.log.Info("cleanup cycle complete",
		zap.Int("expired_entries", expired),
		zap.Int("stale_sessions", stale),
		zap.Int("purged_shares", shares),
		zap.Int("pruned_samples", samples))
	c.emit(Event{Type: EventCleanupCompleted, Timestamp: now})
	return nil
}

// storeHandle returns the open store or an error when the coordinator is
// not running.
func (c *Coordinator) storeHandle() (*store.SQLiteStore, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.started || c.closed || c.store == nil {
		return nil, fmt.Errorf("coordinator not initialized")
	}
	return c.store, nil
}

// recordSample logs one perf sample when tracking is enabled. Sample
// failures are diagnostic-only and never fail the caller's operation.
func (c *Coordinator) recordSample(ctx context.Context, op, nsID, agentID string, start time.Time, success bool) {
	if !c.cfg.PerfTracking {
		return
	}
	s, err := c.storeHandle()
	if err != nil {
		return
	}
	sample := model.PerformanceSample{
		Operation:   op,
		NamespaceID: nsID,
		AgentID:     agentID,
		DurationMS:  float64(time.Since(start).Microseconds()) / 1000.0,
		Success:     success,
		Timestamp:   time.Now().UTC(),
	}
	if err := s.RecordSample(ctx, sample); err != nil {
		c.log.Debug("perf sample dropped", zap.Error(err))
	}
}

func defaultNamespaceConfig() model.NamespaceConfig {
	return model.NamespaceConfig{
		MaxEntries:  10000,
		DefaultTTL:  86400 * time.Second,
		AutoCleanup: true,
	}
}
