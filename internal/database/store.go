// internal/database/store.go
package database

import (
	"context"
	"time"
)

// Store defines the interface for database operations
type Store interface {
	// Health check history. Rows are append-only.
	AppendHealthChecks(ctx context.Context, records []HealthCheckRecord, pruneBefore time.Time) (inserted, pruned int, err error)
	CreateHealthCheck(ctx context.Context, record *HealthCheckRecord) error
	QueryHealthChecks(ctx context.Context, filters HealthCheckFilters) ([]HealthCheckRecord, error)
	LatestHealthChecks(ctx context.Context, filters HealthCheckFilters) ([]HealthCheckRecord, error)
	DeleteHealthChecks(ctx context.Context, filters DeleteFilters) (int, error)

	// Recovery states
	UpdateRecoveries(ctx context.Context, fn func(tx RecoveryTx) error) error
	LatestRecovery(ctx context.Context, filters RecoveryFilters) (*RecoveryState, error)

	GetDatabaseStats(ctx context.Context) (*DatabaseStats, error)

	// Close the database connection
	Close() error
}

// RecoveryTx is the view of the recovery table inside one write transaction.
type RecoveryTx interface {
	// OpenRecoveries returns rows for the pair with a nil EndTime, newest first.
	OpenRecoveries(group, service string) ([]RecoveryState, error)
	// PutRecovery inserts the row or replaces the row with the same ID.
	PutRecovery(rec *RecoveryState) error
}

// latestKey groups rows the way LatestHealthChecks reports them.
type latestKey struct {
	group, service, hostname string
}

// latestPerService keeps the newest row per (group, service, hostname).
// rows must be ordered newest first.
func latestPerService(rows []HealthCheckRecord) []HealthCheckRecord {
	seen := make(map[latestKey]bool)
	var out []HealthCheckRecord
	for _, r := range rows {
		k := latestKey{r.ServiceGroup, r.ServiceName, r.Hostname}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, r)
	}
	return out
}
