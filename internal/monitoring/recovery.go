// internal/monitoring/recovery.go
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harsxv/tinystatus/internal/database"
	"github.com/sirupsen/logrus"
)

var ErrInvalidRecovery = errors.New("invalid recovery")

// RecoveryCreate describes a new recovery transition for a service.
type RecoveryCreate struct {
	ServiceGroup         string     `json:"service_group"`
	ServiceName          string     `json:"service_name"`
	Status               string     `json:"status"`
	Stage                string     `json:"stage,omitempty"`
	Error                string     `json:"error,omitempty"`
	Hostname             string     `json:"hostname,omitempty"`
	LocalIP              string     `json:"local_ip,omitempty"`
	PublicIP             string     `json:"public_ip,omitempty"`
	StartTime            *time.Time `json:"start_time,omitempty"`
	EndTime              *time.Time `json:"end_time,omitempty"`
	StabilizationEndTime *time.Time `json:"stabilization_end_time,omitempty"`
}

func (c RecoveryCreate) validate() error {
	if c.ServiceGroup == "" || c.ServiceName == "" {
		return fmt.Errorf("%w: service_group and service_name are required", ErrInvalidRecovery)
	}
	if database.KindOf(c.Status) != database.KindRecovery {
		return fmt.Errorf("%w: status %q is not a recovery status", ErrInvalidRecovery, c.Status)
	}
	return nil
}

// Recovery tracks recovery attempts so that each (group, service) pair has at
// most one active row.
type Recovery struct {
	store database.Store
	now   func() time.Time
}

func NewRecovery(store database.Store) *Recovery {
	return &Recovery{store: store, now: time.Now}
}

// Start opens a new recovery; an empty status means recovery_started.
func (r *Recovery) Start(ctx context.Context, c RecoveryCreate) (*database.RecoveryState, error) {
	if c.Status == "" {
		c.Status = database.StatusRecoveryStarted
	}
	return r.Report(ctx, c)
}

// Report records a transition. Open non-terminal rows of the pair are closed
// and the new row inserted in the same transaction. Open terminal rows are
// left as they are; they no longer count as active.
func (r *Recovery) Report(ctx context.Context, c RecoveryCreate) (*database.RecoveryState, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}

	var created database.RecoveryState
	err := r.store.UpdateRecoveries(ctx, func(tx database.RecoveryTx) error {
		now := r.now().UTC()

		open, err := tx.OpenRecoveries(c.ServiceGroup, c.ServiceName)
		if err != nil {
			return err
		}
		for i := range open {
			row := open[i]
			if row.IsTerminal() {
				continue
			}
			row.EndTime = &now
			row.UpdatedAt = now
			if err := tx.PutRecovery(&row); err != nil {
				return err
			}
			logrus.WithFields(logrus.Fields{
				"group":    row.ServiceGroup,
				"service":  row.ServiceName,
				"recovery": row.ID,
			}).Debug("Closed superseded recovery")
		}

		start := now
		if c.StartTime != nil {
			start = c.StartTime.UTC()
		}
		created = database.RecoveryState{
			ServiceGroup:         c.ServiceGroup,
			ServiceName:          c.ServiceName,
			Status:               c.Status,
			Stage:                c.Stage,
			Error:                c.Error,
			Hostname:             c.Hostname,
			LocalIP:              c.LocalIP,
			PublicIP:             c.PublicIP,
			StartTime:            start,
			EndTime:              utcPtr(c.EndTime),
			StabilizationEndTime: utcPtr(c.StabilizationEndTime),
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		return tx.PutRecovery(&created)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record recovery: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"group":   created.ServiceGroup,
		"service": created.ServiceName,
		"status":  created.Status,
		"stage":   created.Stage,
	}).Info("Recovery state recorded")
	return &created, nil
}

// Latest returns the newest matching row by creation time, nil if none.
func (r *Recovery) Latest(ctx context.Context, filters database.RecoveryFilters) (*database.RecoveryState, error) {
	rec, err := r.store.LatestRecovery(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to query recovery: %w", err)
	}
	return rec, nil
}

// Active lists the active rows of a pair, newest first.
func (r *Recovery) Active(ctx context.Context, group, service string) ([]database.RecoveryState, error) {
	var active []database.RecoveryState
	err := r.store.UpdateRecoveries(ctx, func(tx database.RecoveryTx) error {
		open, err := tx.OpenRecoveries(group, service)
		if err != nil {
			return err
		}
		for _, row := range open {
			if row.IsActive() {
				active = append(active, row)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list recoveries: %w", err)
	}
	return active, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
