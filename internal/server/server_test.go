package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pulsemon/internal/config"
	"pulsemon/internal/heartbeat"
	"pulsemon/internal/monitor"
	"pulsemon/internal/notify"
	"pulsemon/internal/store"
)

type fixture struct {
	server *Server
	store  *store.MemStore
}

func newFixture(t *testing.T, alertSecret string, keys map[string]string, cfgs ...config.Effective) *fixture {
	t.Helper()
	st := store.NewMemStore()
	cfg := config.Config{RetentionDays: 7, AlertHistoryLimit: 50, AlertHistoryDays: 30}
	router := notify.NewRouter(nil, nil, time.Hour, zap.NewNop())
	runner := monitor.NewRunner(st, cfg, cfgs, router, zap.NewNop())
	ingestor := heartbeat.NewIngestor(st, keys, cfgs)
	return &fixture{
		server: New(":0", runner, ingestor, router, alertSecret, zap.NewNop()),
		store:  st,
	}
}

func eff(id string, authRequired bool) config.Effective {
	return config.Effective{
		ServiceID: id, Name: id, Enabled: true,
		ThresholdSeconds: 300, AuthRequired: authRequired, NotifyEnabled: true,
	}
}

func (f *fixture) do(t *testing.T, method, path, bearer, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	f.server.httpServer.Handler.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 && rec.Body.String() != "null\n" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded), rec.Body.String())
	}
	return rec, decoded
}

func TestHeartbeatSingleSuccess(t *testing.T) {
	f := newFixture(t, "", map[string]string{"s1": "key-1"}, eff("s1", true))

	rec, body := f.do(t, http.MethodPost, "/api/heartbeat", "key-1", `{"serviceId":"s1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Heartbeat recorded", body["message"])
	assert.Equal(t, "s1", body["serviceId"])

	_, ok, err := f.store.Get(context.Background(), store.KeyLastSeen)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHeartbeatBatchPartialIs207(t *testing.T) {
	f := newFixture(t, "", nil, eff("s1", false))

	rec, body := f.do(t, http.MethodPost, "/api/heartbeat", "", `{"services":["s1","ghost"]}`)
	assert.Equal(t, http.StatusMultiStatus, rec.Code)
	assert.Equal(t, "Partial success", body["message"])

	results := body["results"].([]any)
	require.Len(t, results, 2)
	assert.Equal(t, true, results[0].(map[string]any)["success"])
	assert.Equal(t, "Unknown serviceId", results[1].(map[string]any)["error"])
}

func TestHeartbeatAllAuthFailuresIs401(t *testing.T) {
	f := newFixture(t, "", map[string]string{"s1": "key-1"}, eff("s1", true))

	rec, body := f.do(t, http.MethodPost, "/api/heartbeat", "wrong", `{"serviceId":"s1"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "All heartbeats failed", body["message"])
}

func TestHeartbeatUnknownServiceIs400(t *testing.T) {
	f := newFixture(t, "", nil, eff("s1", false))

	rec, _ := f.do(t, http.MethodPost, "/api/heartbeat", "", `{"serviceId":"ghost"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHeartbeatInvalidJSON(t *testing.T) {
	f := newFixture(t, "", nil, eff("s1", false))

	rec, body := f.do(t, http.MethodPost, "/api/heartbeat", "", `{broken`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid JSON payload", body["message"])
}

func TestHeartbeatRejectsGet(t *testing.T) {
	f := newFixture(t, "", nil, eff("s1", false))

	rec, _ := f.do(t, http.MethodGet, "/api/heartbeat", "", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAlertGenericAccepted(t *testing.T) {
	f := newFixture(t, "", nil, eff("s1", false))

	rec, body := f.do(t, http.MethodPost, "/api/alert", "", `{"title":"X","message":"Y","severity":"critical"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "down", body["event"])

	_, ok, err := f.store.Get(context.Background(), store.KeyAlertHistory)
	require.NoError(t, err)
	assert.True(t, ok, "alert recorded into history")
}

func TestAlertSecretGatesEndpoint(t *testing.T) {
	f := newFixture(t, "hunter2", nil, eff("s1", false))

	rec, _ := f.do(t, http.MethodPost, "/api/alert", "", `{"title":"X","message":"Y"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/api/alert", "hunter2", `{"title":"X","message":"Y"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAlertUnsupportedFormat(t *testing.T) {
	f := newFixture(t, "", nil, eff("s1", false))

	rec, body := f.do(t, http.MethodPost, "/api/alert", "", `{"foo":"bar"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Unsupported alert format", body["message"])
}

func TestAlertUnknownChannelRejected(t *testing.T) {
	f := newFixture(t, "", nil, eff("s1", false))

	rec, body := f.do(t, http.MethodPost, "/api/alert", "",
		`{"title":"X","message":"Y","channel":"nonexistent"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	invalid := body["invalidChannels"].([]any)
	assert.Equal(t, []any{"nonexistent"}, invalid)
}

func TestStatusNullBeforeFirstRound(t *testing.T) {
	f := newFixture(t, "", nil, eff("s1", false))

	rec, _ := f.do(t, http.MethodGet, "/api/status", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null\n", rec.Body.String())
}

func TestEvaluateThenStatus(t *testing.T) {
	f := newFixture(t, "", nil, eff("s1", false))

	rec, body := f.do(t, http.MethodPost, "/api/evaluate", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	services := body["services"].([]any)
	require.Len(t, services, 1)
	assert.Equal(t, "unknown", services[0].(map[string]any)["status"])

	rec, body = f.do(t, http.MethodGet, "/api/status", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	counts := body["counts"].(map[string]any)
	assert.Equal(t, float64(1), counts["unknown"])
}

func TestUptimeValidation(t *testing.T) {
	f := newFixture(t, "", nil, eff("s1", false))

	rec, _ := f.do(t, http.MethodGet, "/api/uptime", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/api/uptime?service=ghost", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body := f.do(t, http.MethodGet, "/api/uptime?service=s1", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "s1", body["serviceId"])
}

func TestAlertHistoryEmptyList(t *testing.T) {
	f := newFixture(t, "", nil, eff("s1", false))

	rec, body := f.do(t, http.MethodGet, "/api/alerts", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	alerts, ok := body["alerts"].([]any)
	require.True(t, ok, "alerts must be a list, not null")
	assert.Empty(t, alerts)
}

func TestTestNotificationRequiresChannelType(t *testing.T) {
	f := newFixture(t, "", nil, eff("s1", false))

	rec, _ := f.do(t, http.MethodPost, "/api/test-notification", "", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/api/test-notification", "", `{"channelType":"discord"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "no discord channel is configured")
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, "", nil, eff("s1", false))

	rec, body := f.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}
