// internal/database/models.go
package database

import (
	"strings"
	"time"
)

// Status values stored in HealthCheckRecord.Status and RecoveryState.Status.
const (
	StatusUp                 = "up"
	StatusDown               = "down"
	StatusRecoveryStarted    = "recovery_started"
	StatusRecoveryInProgress = "recovery_in_progress"
	StatusRecoveryCompleted  = "recovery_completed"
	StatusRecoveryFailed     = "recovery_failed"
	StatusNotificationSent   = "notification_sent"
	StatusNotificationFailed = "notification_failed"
)

// PlaceholderIP marks an origin address that was not reported.
const PlaceholderIP = "0.0.0.0"

// SystemGroup is reserved for internal bookkeeping rows.
const SystemGroup = "system"

// HealthCheckRecord is one append-only history row. Plain check results,
// recovery reports and notification reports share this shape; Status decides
// how ExtraData is decoded (see Payload).
type HealthCheckRecord struct {
	ID           uint64    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Hostname     string    `json:"hostname"`
	LocalIP      string    `json:"local_ip"`
	PublicIP     string    `json:"public_ip"`
	ServiceGroup string    `json:"service_group"`
	ServiceName  string    `json:"service_name"`
	Status       string    `json:"status"`
	ResponseTime *float64  `json:"response_time,omitempty"`
	URL          *string   `json:"url,omitempty"`
	ExtraData    string    `json:"extra_data,omitempty"`
}

// IsUp reports whether the record is a passing check.
func (r *HealthCheckRecord) IsUp() bool {
	return strings.EqualFold(r.Status, StatusUp)
}

// RecoveryState is one recovery attempt for a (ServiceGroup, ServiceName) pair.
// EndTime is nil while the attempt is open.
type RecoveryState struct {
	ID                   string     `json:"id"`
	ServiceGroup         string     `json:"service_group"`
	ServiceName          string     `json:"service_name"`
	Status               string     `json:"status"`
	Stage                string     `json:"stage,omitempty"`
	Error                string     `json:"error,omitempty"`
	Hostname             string     `json:"hostname,omitempty"`
	LocalIP              string     `json:"local_ip,omitempty"`
	PublicIP             string     `json:"public_ip,omitempty"`
	StartTime            time.Time  `json:"start_time"`
	EndTime              *time.Time `json:"end_time"`
	StabilizationEndTime *time.Time `json:"stabilization_end_time"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// IsTerminal reports whether the status ends a recovery lifecycle.
func (r *RecoveryState) IsTerminal() bool {
	return IsTerminalRecoveryStatus(r.Status)
}

// IsActive reports whether the row is an open, non-terminal recovery.
func (r *RecoveryState) IsActive() bool {
	return r.EndTime == nil && !r.IsTerminal()
}

func IsTerminalRecoveryStatus(status string) bool {
	return status == StatusRecoveryCompleted || status == StatusRecoveryFailed
}

// HealthCheckFilters selects history rows. Zero values mean "no filter".
// IP matches either the local or the public origin address.
type HealthCheckFilters struct {
	Since   time.Time
	Until   time.Time
	Group   string
	Service string
	IP      string
	Status  string
	Limit   int
}

func (f HealthCheckFilters) Match(r *HealthCheckRecord) bool {
	if !f.Since.IsZero() && r.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !r.Timestamp.Before(f.Until) {
		return false
	}
	if f.Group != "" && r.ServiceGroup != f.Group {
		return false
	}
	if f.Service != "" && r.ServiceName != f.Service {
		return false
	}
	if f.IP != "" && r.LocalIP != f.IP && r.PublicIP != f.IP {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return true
}

// DeleteFilters is the predicate for history deletion. Before is required
// unless All is set.
type DeleteFilters struct {
	Before  time.Time
	Group   string
	Service string
	All     bool
	DryRun  bool
}

func (f DeleteFilters) Match(r *HealthCheckRecord) bool {
	if !f.All && !r.Timestamp.Before(f.Before) {
		return false
	}
	if f.Group != "" && r.ServiceGroup != f.Group {
		return false
	}
	if f.Service != "" && r.ServiceName != f.Service {
		return false
	}
	return true
}

type RecoveryFilters struct {
	Service  string
	Group    string
	PublicIP string
	Status   string
}

func (f RecoveryFilters) Match(r *RecoveryState) bool {
	if f.Service != "" && r.ServiceName != f.Service {
		return false
	}
	if f.Group != "" && r.ServiceGroup != f.Group {
		return false
	}
	if f.PublicIP != "" && r.PublicIP != f.PublicIP {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return true
}

// DatabaseStats provides information about database size and contents.
type DatabaseStats struct {
	Engine            string    `json:"engine"`
	TotalHealthChecks int       `json:"total_health_checks"`
	TotalRecoveries   int       `json:"total_recoveries"`
	DatabaseSize      int64     `json:"database_size_bytes"`
	OldestEntry       time.Time `json:"oldest_entry"`
	NewestEntry       time.Time `json:"newest_entry"`
}
