package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/harsxv/tinystatus/internal/config"
	"github.com/harsxv/tinystatus/internal/database"
	"github.com/harsxv/tinystatus/internal/monitoring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	server *Server
	engine *monitoring.Engine
	store  *database.BoltStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/down" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(backend.Close)

	store, err := database.NewBoltStore(filepath.Join(t.TempDir(), "history.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg, err := config.Parse([]byte("logging:\n  level: debug\nprometheus:\n  enabled: true\n"))
	require.NoError(t, err)

	groups := monitoring.StaticGroups{
		{Title: "web", Checks: []monitoring.CheckDefinition{
			{Name: "home", Type: "http", Host: backend.URL + "/", ExpectedCode: 200},
			{Name: "api", Type: "http", Host: backend.URL + "/down", ExpectedCode: 200},
		}},
	}
	engine := monitoring.NewEngineWithSource(cfg, store, nil, groups, monitoring.DefaultRegistry())

	return &testEnv{server: NewServer(cfg, engine, nil), engine: engine, store: store}
}

func (e *testEnv) do(t *testing.T, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestStatusAndHistory(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	data := decode(t, w)["data"].(map[string]interface{})
	groups := data["groups"].([]interface{})
	require.Len(t, groups, 1)
	web := groups[0].(map[string]interface{})
	assert.Equal(t, "web", web["title"])
	services := web["services"].([]interface{})
	require.Len(t, services, 2)
	assert.Equal(t, "home", services[0].(map[string]interface{})["name"])
	assert.Equal(t, true, services[0].(map[string]interface{})["status"])
	assert.Equal(t, false, services[1].(map[string]interface{})["status"])

	w = env.do(t, http.MethodGet, "/api/history?hours=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Last 1 hours", body["timeframe"])
	uptimes := body["uptimes"].(map[string]interface{})
	assert.EqualValues(t, 50, uptimes["web"])

	w = env.do(t, http.MethodGet, "/api/history/web", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.EqualValues(t, 50, body["uptime"])
	assert.Equal(t, "Last 24 hours", body["timeframe"])

	w = env.do(t, http.MethodGet, "/api/history/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/api/history?hours=3000000", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decode(t, w)["history"], "web")

	w = env.do(t, http.MethodGet, "/api/history?hours=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthCheckSubmissions(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/health-checks", map[string]interface{}{
		"service_group": "edge",
		"service_name":  "proxy",
		"status":        "up",
		"local_ip":      "10.0.0.5",
		"response_time": 0.12,
		"extra_data":    map[string]interface{}{"region": "eu"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.do(t, http.MethodPost, "/api/health-checks", map[string]interface{}{
		"service_group": "edge",
		"service_name":  "proxy",
		"status":        "notification_sent",
		"local_ip":      "10.0.0.5",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.do(t, http.MethodPost, "/api/health-checks", map[string]interface{}{
		"service_group": "edge",
		"service_name":  "proxy",
		"status":        "degraded",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/health-checks", map[string]interface{}{
		"status": "up",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/health-checks", map[string]interface{}{
		"service_group": "edge",
		"service_name":  "proxy",
		"status":        "up",
		"timestamp":     "1969-12-31T00:00:00Z",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/api/health-checks/latest?service_group=edge&status=up", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, 1, body["count"])
	latest := body["data"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "check", latest["kind"])
	assert.Equal(t, map[string]interface{}{"region": "eu"}, latest["details"])

	w = env.do(t, http.MethodGet, "/api/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	uptimes := decode(t, w)["uptimes"].(map[string]interface{})
	assert.EqualValues(t, 100, uptimes["edge@10.0.0.5"])
}

func TestRecoveryEndpoints(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/recovery/latest?service_name=db", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/api/recovery", map[string]interface{}{
		"service_group": "infra",
		"service_name":  "db",
		"stage":         "restart",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, database.StatusRecoveryStarted, created["status"])

	w = env.do(t, http.MethodPost, "/api/recovery", map[string]interface{}{
		"service_group": "infra",
		"service_name":  "db",
		"status":        database.StatusRecoveryInProgress,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.do(t, http.MethodGet, "/api/recovery/latest?service_name=db&service_group=infra", nil)
	require.Equal(t, http.StatusOK, w.Code)
	latest := decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, database.StatusRecoveryInProgress, latest["status"])
	assert.Nil(t, latest["end_time"])

	w = env.do(t, http.MethodPost, "/api/recovery", map[string]interface{}{
		"service_group": "infra",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	records, err := env.store.QueryHealthChecks(context.Background(), database.HealthCheckFilters{Group: "infra"})
	require.NoError(t, err)
	assert.Len(t, records, 2, "each recovery report is also a history row")
}

func TestPublicHealth(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/public-health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	for _, s := range decode(t, w)["data"].([]interface{}) {
		assert.Equal(t, monitoring.HealthUnknown, s.(map[string]interface{})["status"])
	}

	env.do(t, http.MethodGet, "/api/status", nil)

	w = env.do(t, http.MethodGet, "/api/public-health?freshness=5m", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, 2, body["count"])
	statuses := map[string]string{}
	for _, s := range body["data"].([]interface{}) {
		entry := s.(map[string]interface{})
		statuses[entry["service"].(string)] = entry["status"].(string)
	}
	assert.Equal(t, monitoring.HealthUp, statuses["home"])
	assert.Equal(t, monitoring.HealthDown, statuses["api"])

	w = env.do(t, http.MethodGet, "/api/public-health?freshness=soon", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPruneAndReset(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/api/status", nil)

	w := env.do(t, http.MethodDelete, "/api/history", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodDelete, "/api/history?older_than=-1h", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Rows are fresh, so a one hour cutoff keeps them.
	w = env.do(t, http.MethodDelete, "/api/history?older_than=1h&dry_run=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, 0, body["would_delete"])
	assert.Equal(t, true, body["dry_run"])

	w = env.do(t, http.MethodPost, "/api/reset-db", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, "Database reset successful", body["message"])
	assert.EqualValues(t, 2, body["deleted"])

	w = env.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode(t, w)["data"].(map[string]interface{})
	assert.EqualValues(t, 0, stats["total_health_checks"])
}

func TestHealthEndpointAndBuildInfo(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "stopped", body["monitor_status"])
	assert.Nil(t, body["last_check"])

	w = env.do(t, http.MethodGet, "/api/build-info", nil)
	require.Equal(t, http.StatusOK, w.Code)
	info := decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, Version, info["version"])

	w = env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodOptions, "/api/status", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestWebSocketReceivesStatusBroadcast(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return env.server.hub.Len() == 1 }, time.Second, 10*time.Millisecond)

	_, err = env.engine.Scheduler().CheckAllServices(context.Background())
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "status", msg.Type)
	data := msg.Data.(map[string]interface{})
	assert.Len(t, data["groups"], 1)

	conn.Close()
	assert.Eventually(t, func() bool { return env.server.hub.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}
