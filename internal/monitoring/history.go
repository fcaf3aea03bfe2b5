// internal/monitoring/history.go
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/harsxv/tinystatus/internal/database"
)

// ServerSeparator joins a group title and an origin address in display keys.
const ServerSeparator = "@"

var ErrGroupNotFound = errors.New("group not found")

// HistoryPoint is one chart sample.
type HistoryPoint struct {
	X            time.Time `json:"x"`
	Y            int       `json:"y"`
	ResponseTime *float64  `json:"response_time"`
	ExtraData    string    `json:"extra_data"`
}

// GroupedHistory maps display key -> service name -> points, newest first.
type GroupedHistory map[string]map[string][]HistoryPoint

type HistoryView struct {
	History GroupedHistory     `json:"history"`
	Uptimes map[string]float64 `json:"uptimes"`
}

// UptimeFor returns the uptime of a display key, 100 when it has no points.
func (v *HistoryView) UptimeFor(key string) float64 {
	if u, ok := v.Uptimes[key]; ok {
		return u
	}
	return 100.0
}

// GroupHistory is the series of a single display key.
type GroupHistory struct {
	Key      string                    `json:"group"`
	Services map[string][]HistoryPoint `json:"services"`
	Uptime   float64                   `json:"uptime"`
}

// DisplayKey names the series a record belongs to: the group title, suffixed
// with the reporting address when one is known.
func DisplayKey(r *database.HealthCheckRecord) string {
	if r.LocalIP != "" && r.LocalIP != database.PlaceholderIP {
		return r.ServiceGroup + ServerSeparator + r.LocalIP
	}
	if r.PublicIP != "" && r.PublicIP != database.PlaceholderIP {
		return r.ServiceGroup + ServerSeparator + r.PublicIP
	}
	return r.ServiceGroup
}

// History rebuilds time series and uptime figures from stored rows.
type History struct {
	store database.Store
	now   func() time.Time
}

func NewHistory(store database.Store) *History {
	return &History{store: store, now: time.Now}
}

func emptyView() *HistoryView {
	return &HistoryView{History: GroupedHistory{}, Uptimes: map[string]float64{}}
}

const maxWindowHours = math.MaxInt64 / int64(time.Hour)

// Combined returns every display key's series for the last hours hours.
func (h *History) Combined(ctx context.Context, hours int) (*HistoryView, error) {
	if hours <= 0 {
		return emptyView(), nil
	}

	// Windows too long for a Duration have no lower bound.
	var since time.Time
	if int64(hours) < maxWindowHours {
		since = h.now().UTC().Add(-time.Duration(hours) * time.Hour)
	}
	rows, err := h.store.QueryHealthChecks(ctx, database.HealthCheckFilters{Since: since})
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	return aggregate(rows), nil
}

// Group returns the series of one display key.
func (h *History) Group(ctx context.Context, key string, hours int) (*GroupHistory, error) {
	view, err := h.Combined(ctx, hours)
	if err != nil {
		return nil, err
	}
	services, ok := view.History[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, key)
	}
	return &GroupHistory{Key: key, Services: services, Uptime: view.UptimeFor(key)}, nil
}

// aggregate groups rows (newest first) by display key and service. Rows of the
// system group are skipped. Recovery and notification rows are skipped too and
// never count as downtime, so a service that reports recoveries shows a higher
// uptime than a count over every non-system row that scores recovery rows as
// down.
func aggregate(rows []database.HealthCheckRecord) *HistoryView {
	view := emptyView()
	up := make(map[string]int)
	total := make(map[string]int)

	for i := range rows {
		r := &rows[i]
		if r.ServiceGroup == database.SystemGroup || r.Kind() != database.KindCheck {
			continue
		}

		key := DisplayKey(r)
		services, ok := view.History[key]
		if !ok {
			services = make(map[string][]HistoryPoint)
			view.History[key] = services
		}

		point := HistoryPoint{X: r.Timestamp, ResponseTime: r.ResponseTime, ExtraData: r.ExtraData}
		if r.IsUp() {
			point.Y = 1
			up[key]++
		}
		total[key]++
		services[r.ServiceName] = append(services[r.ServiceName], point)
	}

	for key, n := range total {
		view.Uptimes[key] = uptimePercent(up[key], n)
	}
	return view
}

func uptimePercent(up, total int) float64 {
	if total == 0 {
		return 100.0
	}
	return math.Round(float64(up)/float64(total)*100*100) / 100
}
