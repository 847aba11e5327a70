package memory

import (
	"context"
	"time"

	"github.com/swarmforge/swarmmem/internal/model"
	"github.com/swarmforge/swarmmem/internal/store"
)

const (
	trendHourlyBuckets = 24
	trendDailyBuckets  = 7
)

// trendTracker keeps rolling usage buffers. Buckets advance when the hour
// or day changes between observations.
type trendTracker struct {
	hourly   []int64
	daily    []int64
	lastHour time.Time
	lastDay  time.Time
}

func (t *trendTracker) observe(now time.Time, totalBytes int64) {
	hour := now.Truncate(time.Hour)
	day := now.Truncate(24 * time.Hour)

	if len(t.hourly) == 0 || !hour.Equal(t.lastHour) {
		t.hourly = append(t.hourly, totalBytes)
		if len(t.hourly) > trendHourlyBuckets {
			t.hourly = t.hourly[len(t.hourly)-trendHourlyBuckets:]
		}
		t.lastHour = hour
	} else {
		t.hourly[len(t.hourly)-1] = totalBytes
	}

	if len(t.daily) == 0 || !day.Equal(t.lastDay) {
		t.daily = append(t.daily, totalBytes)
		if len(t.daily) > trendDailyBuckets {
			t.daily = t.daily[len(t.daily)-trendDailyBuckets:]
		}
		t.lastDay = day
	} else {
		t.daily[len(t.daily)-1] = totalBytes
	}
}

func (t *trendTracker) snapshot() model.MemoryTrends {
	trends := model.MemoryTrends{
		Hourly: append([]int64(nil), t.hourly...),
		Daily:  append([]int64(nil), t.daily...),
	}
	if n := len(t.hourly); n >= 2 && t.hourly[0] > 0 {
		trends.GrowthRate = float64(t.hourly[n-1]-t.hourly[0]) / float64(t.hourly[0])
	}
	return trends
}

// GetAnalytics recomputes and returns the usage snapshot. On-demand calls
// never wait on the periodic refresher; both read the same consistent
// store view and publish under a short-lived lock.
func (c *Coordinator) GetAnalytics(ctx context.Context) (*model.MemoryAnalytics, error) {
	snapshot, err := c.computeAnalytics(ctx)
	if err != nil {
		return nil, err
	}
	c.publishAnalytics(snapshot)
	return snapshot, nil
}

// LastAnalytics returns the most recently published snapshot without
// recomputing, or false when none has been taken yet.
func (c *Coordinator) LastAnalytics() (*model.MemoryAnalytics, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.analytics == nil {
		return nil, false
	}
	snap := *c.analytics
	return &snap, true
}

func (c *Coordinator) computeAnalytics(ctx context.Context) (*model.MemoryAnalytics, error) {
	s, err := c.storeHandle()
	if err != nil {
		return nil, err
	}
	return c.computeAnalyticsWith(ctx, s)
}

// computeAnalyticsWith reads the snapshot from an explicit store handle, so
// the shutdown path can flush after storeHandle has started refusing work.
func (c *Coordinator) computeAnalyticsWith(ctx context.Context, s *store.SQLiteStore) (*model.MemoryAnalytics, error) {
	now := time.Now().UTC()

	entries, totalBytes, err := s.TotalUsage(ctx)
	if err != nil {
		return nil, err
	}
	nsCount, err := s.CountNamespaces(ctx)
	if err != nil {
		return nil, err
	}
	activeAgents, err := s.CountActiveAgents(ctx)
	if err != nil {
		return nil, err
	}
	activeSessions, err := s.CountSessions(ctx, model.SessionActive)
	if err != nil {
		return nil, err
	}
	top, err := s.TopNamespaces(ctx, 10)
	if err != nil {
		return nil, err
	}
	agentUsage, err := s.AgentUsageByAgent(ctx)
	if err != nil {
		return nil, err
	}

	snapshot := &model.MemoryAnalytics{
		GeneratedAt:     now,
		TotalMemoryUsed: totalBytes,
		EntryCount:      entries,
		NamespaceCount:  nsCount,
		ActiveAgents:    activeAgents,
		ActiveSessions:  activeSessions,
		TopNamespaces:   top,
		AgentUsage:      agentUsage,
	}

	if c.cfg.PerfTracking {
		since := now.Add(-c.cfg.PerfRetention)
		if snapshot.Performance.AvgReadLatency, err = s.AvgDuration(ctx, "read", since); err != nil {
			return nil, err
		}
		if snapshot.Performance.AvgWriteLatency, err = s.AvgDuration(ctx, "write", since); err != nil {
			return nil, err
		}
		// Read success doubles as the hit rate: a miss is a failed read.
		if snapshot.Performance.CacheHitRate, err = s.SuccessRate(ctx, "read", since); err != nil {
			return nil, err
		}
		if snapshot.Performance.SyncLatency, err = s.AvgDuration(ctx, "delete", since); err != nil {
			return nil, err
		}
	}

	return snapshot, nil
}

// publishAnalytics folds the snapshot into the trend buffers and makes it
// the current published view.
func (c *Coordinator) publishAnalytics(snapshot *model.MemoryAnalytics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trends.observe(snapshot.GeneratedAt, snapshot.TotalMemoryUsed)
	snapshot.Trends = c.trends.snapshot()
	c.analytics = snapshot
}
