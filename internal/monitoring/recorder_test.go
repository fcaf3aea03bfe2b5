package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/harsxv/tinystatus/internal/config"
	"github.com/harsxv/tinystatus/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderEncodesPayloadByKind(t *testing.T) {
	store := newTestBoltStore(t)
	recorder := NewRecorder(store)
	ctx := context.Background()

	rt := 0.25
	rec, err := recorder.Record(ctx, HealthCheckSubmission{
		SubmissionBase: SubmissionBase{ServiceGroup: "agents", ServiceName: "disk", Status: database.StatusUp, Hostname: "node-1", LocalIP: "10.0.0.7"},
		ResponseTime:   &rt,
		Metrics:        map[string]interface{}{"usage": 41.5},
		ExtraData:      map[string]interface{}{"mount": "/"},
	})
	require.NoError(t, err)
	assert.NotZero(t, rec.ID)

	payload, err := rec.Payload()
	require.NoError(t, err)
	check, ok := payload.(database.CheckPayload)
	require.True(t, ok)
	assert.Equal(t, 41.5, check.Fields["usage"])
	assert.Equal(t, "/", check.Fields["mount"])

	rec, err = recorder.Record(ctx, NotificationSubmission{
		SubmissionBase:   SubmissionBase{ServiceGroup: "agents", ServiceName: "disk", Status: database.StatusNotificationSent},
		NotificationType: "email",
	})
	require.NoError(t, err)
	payload, err = rec.Payload()
	require.NoError(t, err)
	assert.Equal(t, "email", payload.(database.NotificationPayload).NotificationType)
}

func TestRecorderRejectsKindMismatch(t *testing.T) {
	recorder := NewRecorder(newTestBoltStore(t))

	_, err := recorder.Record(context.Background(), HealthCheckSubmission{
		SubmissionBase: SubmissionBase{ServiceGroup: "g", ServiceName: "s", Status: database.StatusRecoveryStarted},
	})
	assert.ErrorIs(t, err, ErrKindMismatch)

	_, err = recorder.Record(context.Background(), HealthCheckSubmission{
		SubmissionBase: SubmissionBase{ServiceName: "s", Status: database.StatusUp},
	})
	assert.Error(t, err)
}

func TestRecorderLatest(t *testing.T) {
	store := newTestBoltStore(t)
	recorder := NewRecorder(store)
	ctx := context.Background()

	older := time.Now().Add(-time.Minute)
	submit := func(host, status, publicIP string, ts *time.Time) {
		_, err := recorder.Record(ctx, HealthCheckSubmission{SubmissionBase: SubmissionBase{
			ServiceGroup: "agents", ServiceName: "disk", Status: status,
			Hostname: host, PublicIP: publicIP, Timestamp: ts,
		}})
		require.NoError(t, err)
	}
	submit("node-1", database.StatusDown, "203.0.113.1", &older)
	submit("node-1", database.StatusUp, "203.0.113.1", nil)
	submit("node-2", database.StatusDown, "203.0.113.2", nil)

	latest, err := recorder.Latest(ctx, LatestFilters{Group: "agents"})
	require.NoError(t, err)
	require.Len(t, latest, 2)

	down, err := recorder.Latest(ctx, LatestFilters{Status: database.StatusDown})
	require.NoError(t, err)
	require.Len(t, down, 1)
	assert.Equal(t, "node-2", down[0].Hostname)

	byIP, err := recorder.Latest(ctx, LatestFilters{PublicIP: "203.0.113.1"})
	require.NoError(t, err)
	require.Len(t, byIP, 1)
	assert.Equal(t, database.StatusUp, byIP[0].Status)
}

func TestPublicHealth(t *testing.T) {
	store := newTestBoltStore(t)
	seedRecords(t, store,
		checkRecord("web", "site", database.StatusDown, 20*time.Minute),
		checkRecord("web", "site", database.StatusUp, time.Minute),
		checkRecord("web", "api", database.StatusDown, 2*time.Minute),
		checkRecord("web", "stale", database.StatusUp, time.Hour),
	)

	groups := []Group{{Title: "web", Checks: []CheckDefinition{
		{Name: "site"}, {Name: "api"}, {Name: "stale"}, {Name: "new"},
	}}}

	report, err := NewHealthReporter(store).PublicHealth(context.Background(), groups, 10*time.Minute)
	require.NoError(t, err)
	require.Len(t, report, 4)

	assert.Equal(t, HealthUp, report[0].Status)
	assert.NotNil(t, report[0].LastCheck)
	assert.Equal(t, HealthDown, report[1].Status)
	assert.Equal(t, HealthUnknown, report[2].Status)
	assert.Nil(t, report[2].LastCheck)
	assert.Equal(t, HealthUnknown, report[3].Status)
}

func TestEngineReportRecoveryAndReset(t *testing.T) {
	cfg, err := config.Parse([]byte("monitoring:\n  continuous: false\n"))
	require.NoError(t, err)
	store := newTestBoltStore(t)
	engine := NewEngineWithSource(cfg, store, nil, StaticGroups{}, DefaultRegistry())
	ctx := context.Background()

	state, err := engine.ReportRecovery(ctx, RecoverySubmission{
		SubmissionBase: SubmissionBase{ServiceGroup: "web", ServiceName: "site", Status: database.StatusRecoveryStarted},
		Stage:          "restart",
	})
	require.NoError(t, err)
	assert.Equal(t, "restart", state.Stage)

	rows, err := store.QueryHealthChecks(ctx, database.HealthCheckFilters{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	payload, err := rows[0].Payload()
	require.NoError(t, err)
	recovery := payload.(database.RecoveryPayload)
	assert.Equal(t, "restart", recovery.Stage)
	assert.True(t, state.StartTime.Equal(recovery.StartTime))

	require.NoError(t, engine.Start(ctx))
	assert.False(t, engine.IsRunning())
	engine.Stop()

	n, err := engine.ResetDatabase(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDescribeDecodesByKind(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	rows := []database.HealthCheckRecord{
		{ID: 1, Status: database.StatusUp, ExtraData: `{"region":"eu"}`},
		{ID: 2, Status: database.StatusDown},
		{ID: 3, Status: database.StatusRecoveryFailed, Timestamp: ts, ExtraData: `{"stage":"restart","error":"exit 1"}`},
		{ID: 4, Status: database.StatusNotificationSent, ExtraData: `{"notification_type":"email"}`},
		{ID: 5, Status: database.StatusUp, ExtraData: `{broken`},
	}

	described := Describe(rows)
	require.Len(t, described, 5)

	assert.Equal(t, "check", described[0].Kind)
	assert.Equal(t, map[string]interface{}{"region": "eu"}, described[0].Details)
	assert.Nil(t, described[1].Details)

	recovery, ok := described[2].Details.(database.RecoveryPayload)
	require.True(t, ok)
	assert.Equal(t, "recovery", described[2].Kind)
	assert.Equal(t, "exit 1", recovery.Error)
	assert.True(t, ts.Equal(recovery.StartTime))

	assert.Equal(t, database.NotificationPayload{NotificationType: "email"}, described[3].Details)

	assert.Nil(t, described[4].Details)
	assert.Equal(t, `{broken`, described[4].ExtraData)
}
