// internal/monitoring/engine.go
package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/harsxv/tinystatus/internal/config"
	"github.com/harsxv/tinystatus/internal/database"
	"github.com/harsxv/tinystatus/internal/metrics"
	"github.com/sirupsen/logrus"
)

// How often retention is enforced outside the check loop.
const pruneInterval = 6 * time.Hour

// Engine wires the runner, scheduler and history services together.
type Engine struct {
	config  *config.Config
	store   database.Store
	metrics *metrics.Collector
	source  GroupSource

	runner    *Runner
	scheduler *Scheduler
	history   *History
	recovery  *Recovery
	recorder  *Recorder
	health    *HealthReporter
	pruner    *Pruner

	mu        sync.RWMutex
	running   bool
	cancel    context.CancelFunc
	startTime time.Time
}

// NewEngine builds an engine that reads checks from the configured file and
// uses the built-in probers.
func NewEngine(cfg *config.Config, store database.Store, metricsCollector *metrics.Collector) (*Engine, error) {
	if cfg == nil || store == nil {
		return nil, fmt.Errorf("config and store are required")
	}
	source := FileGroupSource{Path: cfg.Monitoring.ChecksFile}
	return NewEngineWithSource(cfg, store, metricsCollector, source, DefaultRegistry()), nil
}

func NewEngineWithSource(cfg *config.Config, store database.Store, metricsCollector *metrics.Collector, source GroupSource, registry Registry) *Engine {
	runner := NewRunner(registry, metricsCollector)
	scheduler := NewScheduler(source, runner, store, metricsCollector, SchedulerOptions{
		CacheDuration: cfg.Monitoring.CacheDuration,
		Interval:      cfg.Monitoring.CheckInterval,
		Retention:     cfg.Database.HistoryRetention,
	})

	logrus.WithField("probers", len(registry)).Info("Loaded probers")

	return &Engine{
		config:    cfg,
		store:     store,
		metrics:   metricsCollector,
		source:    source,
		runner:    runner,
		scheduler: scheduler,
		history:   NewHistory(store),
		recovery:  NewRecovery(store),
		recorder:  NewRecorder(store),
		health:    NewHealthReporter(store),
		pruner:    NewPruner(store),
		startTime: time.Now(),
	}
}

// Start launches the background loops. The check loop only runs when
// monitoring is continuous; otherwise checks run on demand.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running = true

	logrus.WithField("continuous", e.config.Monitoring.IsContinuous()).Info("Starting monitoring engine")

	if e.config.Monitoring.IsContinuous() {
		go e.scheduler.Run(ctx)
	}
	e.pruner.SchedulePeriodicPrune(ctx, pruneInterval, e.config.Database.HistoryRetention)
	return nil
}

func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return
	}

	logrus.Info("Stopping monitoring engine")
	e.cancel()
	e.running = false
}

// IsRunning reports whether the continuous check loop is active.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running && e.config.Monitoring.IsContinuous()
}

func (e *Engine) StartTime() time.Time { return e.startTime }
func (e *Engine) Scheduler() *Scheduler { return e.scheduler }
func (e *Engine) History() *History { return e.history }
func (e *Engine) Recovery() *Recovery { return e.recovery }
func (e *Engine) Recorder() *Recorder { return e.recorder }
func (e *Engine) Pruner() *Pruner { return e.pruner }
func (e *Engine) Store() database.Store { return e.store }

// Groups returns the current check configuration.
func (e *Engine) Groups(ctx context.Context) ([]Group, error) {
	return e.source.LoadGroups(ctx)
}

// PublicHealth reports the configured services using the given freshness
// window, or the configured one when freshness is not positive.
func (e *Engine) PublicHealth(ctx context.Context, freshness time.Duration) ([]ServiceHealth, error) {
	if freshness <= 0 {
		freshness = e.config.Monitoring.FreshnessWindow
	}
	groups, err := e.Groups(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load checks: %w", err)
	}
	return e.health.PublicHealth(ctx, groups, freshness)
}

// ReportRecovery records the transition in the tracker and appends the
// matching history row.
func (e *Engine) ReportRecovery(ctx context.Context, sub RecoverySubmission) (*database.RecoveryState, error) {
	state, err := e.recovery.Report(ctx, sub.RecoveryCreate())
	if err != nil {
		return nil, err
	}
	if sub.StartTime == nil {
		start := state.StartTime
		sub.StartTime = &start
	}
	if _, err := e.recorder.Record(ctx, sub); err != nil {
		return nil, err
	}
	return state, nil
}

// ResetDatabase removes every health check row.
func (e *Engine) ResetDatabase(ctx context.Context) (int, error) {
	n, err := e.pruner.Prune(ctx, PruneFilter{All: true})
	e.metrics.RecordDatabaseOperation("reset", err)
	if err != nil {
		return 0, err
	}
	logrus.WithField("deleted", n).Warn("Database reset")
	return n, nil
}
