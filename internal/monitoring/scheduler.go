// internal/monitoring/scheduler.go
package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/harsxv/tinystatus/internal/database"
	"github.com/harsxv/tinystatus/internal/metrics"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Hostname recorded on rows produced by the scheduler itself.
const ConfiguredCheckHostname = "configured-check"

// Snapshot is the merged result of one refresh. It is shared by every caller
// served from the cache and must not be modified.
type Snapshot struct {
	Groups  map[string][]CheckResult `json:"groups"`
	Order   []string                 `json:"order"`
	TakenAt time.Time                `json:"taken_at"`
}

// SnapshotListener is notified after each successful refresh.
type SnapshotListener func(*Snapshot)

type SchedulerOptions struct {
	CacheDuration time.Duration
	Interval      time.Duration
	Retention     time.Duration
	ErrorBackoff  time.Duration
}

func DefaultSchedulerOptions() SchedulerOptions {
	return SchedulerOptions{
		CacheDuration: 30 * time.Second,
		Interval:      30 * time.Second,
		Retention:     30 * 24 * time.Hour,
		ErrorBackoff:  5 * time.Second,
	}
}

// Scheduler owns the snapshot cache and the continuous check loop.
type Scheduler struct {
	source  GroupSource
	runner  *Runner
	store   database.Store
	metrics *metrics.Collector
	opts    SchedulerOptions

	now    func() time.Time
	flight singleflight.Group

	mu        sync.RWMutex
	cache     *Snapshot
	cacheTime time.Time
	listeners []SnapshotListener
}

func NewScheduler(source GroupSource, runner *Runner, store database.Store, collector *metrics.Collector, opts SchedulerOptions) *Scheduler {
	defaults := DefaultSchedulerOptions()
	if opts.CacheDuration <= 0 {
		opts.CacheDuration = defaults.CacheDuration
	}
	if opts.Interval <= 0 {
		opts.Interval = defaults.Interval
	}
	if opts.Retention <= 0 {
		opts.Retention = defaults.Retention
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = defaults.ErrorBackoff
	}

	return &Scheduler{
		source:  source,
		runner:  runner,
		store:   store,
		metrics: collector,
		opts:    opts,
		now:     time.Now,
	}
}

// OnSnapshot registers a listener. Listeners run on the refreshing goroutine
// and must not block.
func (s *Scheduler) OnSnapshot(fn SnapshotListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// LastRefresh returns the start time of the cached snapshot, zero if none.
func (s *Scheduler) LastRefresh() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cacheTime
}

func (s *Scheduler) cached() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cache != nil && s.now().Sub(s.cacheTime) < s.opts.CacheDuration {
		return s.cache
	}
	return nil
}

// CheckAllServices returns the cached snapshot while it is fresh. Otherwise it
// runs one refresh shared by all concurrent callers.
func (s *Scheduler) CheckAllServices(ctx context.Context) (*Snapshot, error) {
	if snap := s.cached(); snap != nil {
		s.metrics.RecordCacheLookup(true)
		return snap, nil
	}
	s.metrics.RecordCacheLookup(false)
	return s.refreshShared(ctx, true)
}

// refreshShared joins the in-flight refresh or starts one. The refresh itself
// is detached from ctx so a departing caller cannot abort it for the others.
func (s *Scheduler) refreshShared(ctx context.Context, useCache bool) (*Snapshot, error) {
	ch := s.flight.DoChan("refresh", func() (interface{}, error) {
		if useCache {
			if snap := s.cached(); snap != nil {
				return snap, nil
			}
		}
		return s.refresh(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Snapshot), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Scheduler) refresh(ctx context.Context) (*Snapshot, error) {
	started := s.now()

	groups, err := s.source.LoadGroups(ctx)
	if err != nil {
		err = fmt.Errorf("failed to load checks: %w", err)
		s.metrics.RecordCycle(err)
		return nil, err
	}

	perGroup := make([][]CheckResult, len(groups))
	var wg sync.WaitGroup
	for i, group := range groups {
		wg.Add(1)
		go func(i int, group Group) {
			defer wg.Done()
			perGroup[i] = s.runner.Run(ctx, group.Title, group.Checks)
		}(i, group)
	}
	wg.Wait()

	snap := &Snapshot{
		Groups:  make(map[string][]CheckResult, len(groups)),
		Order:   make([]string, 0, len(groups)),
		TakenAt: started.UTC(),
	}
	for i, group := range groups {
		if _, dup := snap.Groups[group.Title]; !dup {
			snap.Order = append(snap.Order, group.Title)
		}
		snap.Groups[group.Title] = perGroup[i]
	}

	if err := s.persist(ctx, snap); err != nil {
		s.metrics.RecordCycle(err)
		return nil, err
	}

	s.mu.Lock()
	s.cache = snap
	s.cacheTime = started
	listeners := append([]SnapshotListener(nil), s.listeners...)
	s.mu.Unlock()

	for _, order := range snap.Order {
		for _, result := range snap.Groups[order] {
			s.metrics.UpdateServiceStatus(order, result.Name, result.Success)
		}
	}
	s.metrics.RecordCycle(nil)

	for _, fn := range listeners {
		fn(snap)
	}

	logrus.WithFields(logrus.Fields{
		"groups":   len(snap.Order),
		"duration": time.Since(started),
	}).Debug("Refreshed service status")
	return snap, nil
}

// persist appends one row per result and prunes expired history in the same
// transaction.
func (s *Scheduler) persist(ctx context.Context, snap *Snapshot) error {
	now := s.now().UTC()

	var records []database.HealthCheckRecord
	for _, title := range snap.Order {
		for _, result := range snap.Groups[title] {
			extra, err := json.Marshal(result.Extra)
			if err != nil {
				return fmt.Errorf("failed to encode result for %s: %w", result.Name, err)
			}
			responseTime := result.ResponseTime
			status := database.StatusDown
			if result.Success {
				status = database.StatusUp
			}
			records = append(records, database.HealthCheckRecord{
				Timestamp:    now,
				Hostname:     ConfiguredCheckHostname,
				LocalIP:      database.PlaceholderIP,
				PublicIP:     database.PlaceholderIP,
				ServiceGroup: title,
				ServiceName:  result.Name,
				Status:       status,
				ResponseTime: &responseTime,
				URL:          result.URL,
				ExtraData:    string(extra),
			})
		}
	}

	inserted, pruned, err := s.store.AppendHealthChecks(ctx, records, now.Add(-s.opts.Retention))
	s.metrics.RecordDatabaseOperation("append_health_checks", err)
	if err != nil {
		return fmt.Errorf("failed to persist results: %w", err)
	}
	if pruned > 0 {
		logrus.WithFields(logrus.Fields{
			"inserted": inserted,
			"pruned":   pruned,
		}).Info("Pruned expired history")
	}
	return nil
}

// Run refreshes on a fixed interval until ctx is cancelled. The sleep is
// shortened by the time the cycle took; a failed cycle is retried after the
// error backoff.
func (s *Scheduler) Run(ctx context.Context) {
	logrus.WithField("interval", s.opts.Interval).Info("Starting continuous checks")

	for {
		start := time.Now()
		wait := s.opts.ErrorBackoff

		if _, err := s.refreshShared(ctx, false); err != nil {
			if ctx.Err() != nil {
				logrus.Info("Stopping continuous checks")
				return
			}
			logrus.WithError(err).Error("Check cycle failed")
		} else {
			wait = s.opts.Interval - time.Since(start)
			if wait < 0 {
				wait = 0
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			logrus.Info("Stopping continuous checks")
			return
		case <-timer.C:
		}
	}
}
