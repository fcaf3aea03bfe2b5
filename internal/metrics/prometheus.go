// internal/metrics/prometheus.go
package metrics

import (
	"context"
	"time"

	"github.com/harsxv/tinystatus/internal/database"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics
var (
	CheckDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tinystatus_check_duration_seconds",
			Help:    "Time spent waiting for each probe result",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"group", "check_type", "status"},
	)

	CheckTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tinystatus_checks_total",
			Help: "Total number of probes executed",
		},
		[]string{"group", "check_type", "status"},
	)

	ServiceUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tinystatus_service_up",
			Help: "Latest probe result per service (1=up, 0=down)",
		},
		[]string{"group", "service"},
	)

	CycleTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tinystatus_check_cycles_total",
			Help: "Scheduler refresh cycles by outcome",
		},
		[]string{"status"},
	)

	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tinystatus_cache_requests_total",
			Help: "Snapshot cache lookups",
		},
		[]string{"result"},
	)

	HistoryRows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tinystatus_history_rows",
			Help: "Number of stored health check rows",
		},
	)

	DatabaseOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tinystatus_database_operations_total",
			Help: "Total database operations performed",
		},
		[]string{"operation", "status"},
	)

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tinystatus_websocket_connections_active",
			Help: "Number of active WebSocket connections",
		},
	)
)

// Collector feeds the package metrics. A nil *Collector is valid and records
// nothing.
type Collector struct {
	store database.Store
}

func NewCollector(store database.Store) *Collector {
	return &Collector{store: store}
}

func (c *Collector) RecordCheckResult(group, checkType string, success bool, duration time.Duration) {
	if c == nil {
		return
	}
	status := statusLabel(success)
	CheckDuration.WithLabelValues(group, checkType, status).Observe(duration.Seconds())
	CheckTotal.WithLabelValues(group, checkType, status).Inc()
}

func (c *Collector) UpdateServiceStatus(group, service string, success bool) {
	if c == nil {
		return
	}
	value := 0.0
	if success {
		value = 1
	}
	ServiceUp.WithLabelValues(group, service).Set(value)
}

func (c *Collector) RecordCycle(err error) {
	if c == nil {
		return
	}
	if err != nil {
		CycleTotal.WithLabelValues("error").Inc()
		return
	}
	CycleTotal.WithLabelValues("success").Inc()
}

func (c *Collector) RecordCacheLookup(hit bool) {
	if c == nil {
		return
	}
	if hit {
		CacheRequests.WithLabelValues("hit").Inc()
		return
	}
	CacheRequests.WithLabelValues("miss").Inc()
}

func (c *Collector) RecordDatabaseOperation(operation string, err error) {
	if c == nil {
		return
	}
	if err != nil {
		DatabaseOperations.WithLabelValues(operation, "error").Inc()
		return
	}
	DatabaseOperations.WithLabelValues(operation, "success").Inc()
}

// UpdateSystemMetrics refreshes gauges derived from the store.
func (c *Collector) UpdateSystemMetrics(ctx context.Context) error {
	if c == nil || c.store == nil {
		return nil
	}
	stats, err := c.store.GetDatabaseStats(ctx)
	c.RecordDatabaseOperation("get_stats", err)
	if err != nil {
		return err
	}
	HistoryRows.Set(float64(stats.TotalHealthChecks))
	return nil
}

func (c *Collector) RecordWebSocketConnection(delta int) {
	if c == nil {
		return
	}
	WebSocketConnections.Add(float64(delta))
}

func statusLabel(success bool) string {
	if success {
		return "up"
	}
	return "down"
}
