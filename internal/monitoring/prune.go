// internal/monitoring/prune.go
package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/harsxv/tinystatus/internal/database"
	"github.com/sirupsen/logrus"
)

// PruneFilter selects history rows to delete. OlderThan is required unless
// All is set.
type PruneFilter struct {
	OlderThan time.Duration
	Group     string
	Service   string
	All       bool
	DryRun    bool
}

// Pruner deletes history rows by predicate, on demand or on a schedule.
type Pruner struct {
	store database.Store
	now   func() time.Time
}

func NewPruner(store database.Store) *Pruner {
	return &Pruner{store: store, now: time.Now}
}

// Prune deletes matching rows, or only counts them when DryRun is set.
func (p *Pruner) Prune(ctx context.Context, filter PruneFilter) (int, error) {
	if !filter.All && filter.OlderThan <= 0 {
		return 0, fmt.Errorf("older_than must be positive")
	}

	df := database.DeleteFilters{
		Group:   filter.Group,
		Service: filter.Service,
		All:     filter.All,
		DryRun:  filter.DryRun,
	}
	if !filter.All {
		df.Before = p.now().UTC().Add(-filter.OlderThan)
	}

	n, err := p.store.DeleteHealthChecks(ctx, df)
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"count":   n,
		"group":   filter.Group,
		"service": filter.Service,
		"dry_run": filter.DryRun,
	}).Info("History prune finished")
	return n, nil
}

// SchedulePeriodicPrune enforces the retention window for rows written by
// reporters even while the check loop is idle.
func (p *Pruner) SchedulePeriodicPrune(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				logrus.Debug("Stopping periodic prune")
				return
			case <-ticker.C:
				if _, err := p.Prune(ctx, PruneFilter{OlderThan: retention}); err != nil {
					logrus.WithError(err).Error("Scheduled prune failed")
				}
			}
		}
	}()

	logrus.WithField("interval", interval).Info("Scheduled periodic history pruning")
}
