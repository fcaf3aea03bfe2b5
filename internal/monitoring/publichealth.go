package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/harsxv/tinystatus/internal/database"
)

const (
	HealthUp      = "up"
	HealthDown    = "down"
	HealthUnknown = "unknown"
)

// ServiceHealth is the public state of one configured service.
type ServiceHealth struct {
	Group        string     `json:"group"`
	Service      string     `json:"service"`
	Status       string     `json:"status"`
	LastCheck    *time.Time `json:"last_check"`
	ResponseTime *float64   `json:"response_time"`
}

// HealthReporter answers public health queries from stored history.
type HealthReporter struct {
	store database.Store
	now   func() time.Time
}

func NewHealthReporter(store database.Store) *HealthReporter {
	return &HealthReporter{store: store, now: time.Now}
}

type pairKey struct {
	group, service string
}

// PublicHealth reports every configured service as up or down from its newest
// check result inside the freshness window. A service without one is unknown,
// never down.
func (h *HealthReporter) PublicHealth(ctx context.Context, groups []Group, freshness time.Duration) ([]ServiceHealth, error) {
	since := h.now().UTC().Add(-freshness)
	rows, err := h.store.QueryHealthChecks(ctx, database.HealthCheckFilters{Since: since})
	if err != nil {
		return nil, fmt.Errorf("failed to query recent checks: %w", err)
	}

	newest := make(map[pairKey]*database.HealthCheckRecord)
	for i := range rows {
		r := &rows[i]
		if r.Kind() != database.KindCheck {
			continue
		}
		k := pairKey{r.ServiceGroup, r.ServiceName}
		if _, ok := newest[k]; !ok {
			newest[k] = r
		}
	}

	var out []ServiceHealth
	for _, group := range groups {
		for _, check := range group.Checks {
			sh := ServiceHealth{Group: group.Title, Service: check.Name, Status: HealthUnknown}
			if r, ok := newest[pairKey{group.Title, check.Name}]; ok {
				ts := r.Timestamp
				sh.LastCheck = &ts
				sh.ResponseTime = r.ResponseTime
				sh.Status = HealthDown
				if r.IsUp() {
					sh.Status = HealthUp
				}
			}
			out = append(out, sh)
		}
	}
	return out, nil
}
