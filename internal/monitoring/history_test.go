package monitoring

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/harsxv/tinystatus/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedRecords(t *testing.T, store database.Store, records ...database.HealthCheckRecord) {
	t.Helper()
	_, _, err := store.AppendHealthChecks(context.Background(), records, time.Time{})
	require.NoError(t, err)
}

func checkRecord(group, service, status string, age time.Duration) database.HealthCheckRecord {
	rt := 0.1
	return database.HealthCheckRecord{
		Timestamp:    time.Now().UTC().Add(-age),
		Hostname:     ConfiguredCheckHostname,
		LocalIP:      database.PlaceholderIP,
		PublicIP:     database.PlaceholderIP,
		ServiceGroup: group,
		ServiceName:  service,
		Status:       status,
		ResponseTime: &rt,
	}
}

func TestCombinedUptime(t *testing.T) {
	store := newTestBoltStore(t)
	seedRecords(t, store,
		checkRecord("web", "site", database.StatusUp, 4*time.Minute),
		checkRecord("web", "site", database.StatusUp, 3*time.Minute),
		checkRecord("web", "api", database.StatusUp, 2*time.Minute),
		checkRecord("web", "api", database.StatusDown, time.Minute),
	)

	view, err := NewHistory(store).Combined(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 75.0, view.UptimeFor("web"))
	require.Len(t, view.History["web"]["site"], 2)
	require.Len(t, view.History["web"]["api"], 2)

	api := view.History["web"]["api"]
	assert.Equal(t, 0, api[0].Y, "newest point first")
	assert.Equal(t, 1, api[1].Y)
	assert.True(t, api[0].X.After(api[1].X))
}

func TestCombinedUptimeRounding(t *testing.T) {
	store := newTestBoltStore(t)
	seedRecords(t, store,
		checkRecord("web", "site", database.StatusUp, 3*time.Minute),
		checkRecord("web", "site", database.StatusUp, 2*time.Minute),
		checkRecord("web", "site", database.StatusDown, time.Minute),
	)

	view, err := NewHistory(store).Combined(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 66.67, view.UptimeFor("web"))
}

func TestCombinedSkipsSystemAndNonCheckRows(t *testing.T) {
	store := newTestBoltStore(t)
	seedRecords(t, store,
		checkRecord(database.SystemGroup, "scheduler", database.StatusDown, time.Minute),
		checkRecord("web", "site", database.StatusUp, time.Minute),
		checkRecord("web", "site", database.StatusRecoveryStarted, time.Minute),
		checkRecord("web", "site", database.StatusNotificationSent, time.Minute),
	)

	view, err := NewHistory(store).Combined(context.Background(), 24)
	require.NoError(t, err)

	_, hasSystem := view.History[database.SystemGroup]
	assert.False(t, hasSystem)
	assert.Len(t, view.History["web"]["site"], 1)
	assert.Equal(t, 100.0, view.UptimeFor("web"))
}

func TestCombinedWindow(t *testing.T) {
	store := newTestBoltStore(t)
	seedRecords(t, store,
		checkRecord("web", "site", database.StatusDown, 3*time.Hour),
		checkRecord("web", "site", database.StatusUp, time.Minute),
	)

	history := NewHistory(store)

	view, err := history.Combined(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, view.History["web"]["site"], 1)
	assert.Equal(t, 100.0, view.UptimeFor("web"))

	view, err = history.Combined(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, view.History)
	assert.Equal(t, 100.0, view.UptimeFor("web"))
	assert.Equal(t, 100.0, view.UptimeFor("anything"))
}

func TestCombinedRejectsOutOfRangeTimestamps(t *testing.T) {
	store := newTestBoltStore(t)
	seedRecords(t, store, checkRecord("web", "a", database.StatusUp, time.Minute))
	recorder := NewRecorder(store)
	ctx := context.Background()

	for _, ts := range []time.Time{
		time.Date(1969, 12, 31, 0, 0, 0, 0, time.UTC),
		time.Date(2262, 6, 1, 0, 0, 0, 0, time.UTC),
	} {
		ts := ts
		_, err := recorder.Record(ctx, HealthCheckSubmission{
			SubmissionBase: SubmissionBase{ServiceGroup: "other", ServiceName: "x", Status: database.StatusUp, Timestamp: &ts},
		})
		assert.True(t, errors.Is(err, ErrInvalidSubmission), ts.String())
	}

	view, err := NewHistory(store).Combined(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, view.History, 1)
	assert.Contains(t, view.History, "web")
}

func TestCombinedVeryLongWindow(t *testing.T) {
	store := newTestBoltStore(t)
	seedRecords(t, store, checkRecord("web", "site", database.StatusUp, 3*time.Hour))

	for _, hours := range []int{3000000, int(maxWindowHours), math.MaxInt32} {
		view, err := NewHistory(store).Combined(context.Background(), hours)
		require.NoError(t, err)
		assert.Len(t, view.History["web"]["site"], 1, "hours=%d", hours)
	}
}

func TestDisplayKey(t *testing.T) {
	tests := []struct {
		name     string
		local    string
		public   string
		expected string
	}{
		{"placeholders", database.PlaceholderIP, database.PlaceholderIP, "web"},
		{"empty", "", "", "web"},
		{"local wins", "10.0.0.5", "203.0.113.9", "web@10.0.0.5"},
		{"public fallback", database.PlaceholderIP, "203.0.113.9", "web@203.0.113.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := database.HealthCheckRecord{ServiceGroup: "web", LocalIP: tt.local, PublicIP: tt.public}
			assert.Equal(t, tt.expected, DisplayKey(&r))
		})
	}
}

func TestGroupHistory(t *testing.T) {
	store := newTestBoltStore(t)
	agent := checkRecord("web", "site", database.StatusUp, time.Minute)
	agent.LocalIP = "10.0.0.5"
	seedRecords(t, store, agent, checkRecord("web", "site", database.StatusDown, time.Minute))

	history := NewHistory(store)

	group, err := history.Group(context.Background(), "web@10.0.0.5", 24)
	require.NoError(t, err)
	assert.Equal(t, 100.0, group.Uptime)
	assert.Len(t, group.Services["site"], 1)

	group, err = history.Group(context.Background(), "web", 24)
	require.NoError(t, err)
	assert.Equal(t, 0.0, group.Uptime)

	_, err = history.Group(context.Background(), "missing", 24)
	assert.True(t, errors.Is(err, ErrGroupNotFound))
}

func TestPrune(t *testing.T) {
	store := newTestBoltStore(t)
	seedRecords(t, store,
		checkRecord("web", "site", database.StatusUp, 48*time.Hour),
		checkRecord("db", "pg", database.StatusUp, 48*time.Hour),
		checkRecord("web", "site", database.StatusUp, time.Minute),
	)
	pruner := NewPruner(store)
	ctx := context.Background()

	n, err := pruner.Prune(ctx, PruneFilter{OlderThan: 24 * time.Hour, Group: "web", DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = pruner.Prune(ctx, PruneFilter{OlderThan: 24 * time.Hour, Group: "web"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows, err := store.QueryHealthChecks(ctx, database.HealthCheckFilters{})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	_, err = pruner.Prune(ctx, PruneFilter{})
	assert.Error(t, err)
}
