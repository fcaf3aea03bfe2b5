package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordCheckResult("web", "http", true, time.Second)
		c.UpdateServiceStatus("web", "home", true)
		c.RecordCycle(nil)
		c.RecordCacheLookup(true)
		c.RecordDatabaseOperation("append", nil)
		c.RecordWebSocketConnection(1)
		assert.NoError(t, c.UpdateSystemMetrics(context.Background()))
	})
}

func TestCollectorRecords(t *testing.T) {
	c := NewCollector(nil)

	before := testutil.ToFloat64(CheckTotal.WithLabelValues("metrics-test", "port", "down"))
	c.RecordCheckResult("metrics-test", "port", false, 20*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(CheckTotal.WithLabelValues("metrics-test", "port", "down")))

	c.UpdateServiceStatus("metrics-test", "ssh", true)
	assert.Equal(t, 1.0, testutil.ToFloat64(ServiceUp.WithLabelValues("metrics-test", "ssh")))
	c.UpdateServiceStatus("metrics-test", "ssh", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(ServiceUp.WithLabelValues("metrics-test", "ssh")))

	failed := testutil.ToFloat64(CycleTotal.WithLabelValues("error"))
	c.RecordCycle(errors.New("boom"))
	assert.Equal(t, failed+1, testutil.ToFloat64(CycleTotal.WithLabelValues("error")))

	misses := testutil.ToFloat64(CacheRequests.WithLabelValues("miss"))
	c.RecordCacheLookup(false)
	assert.Equal(t, misses+1, testutil.ToFloat64(CacheRequests.WithLabelValues("miss")))
}
