package alerts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsemon/internal/models"
)

var testNow = time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)

func TestNormalizeAlertmanagerBatchCounts(t *testing.T) {
	payload := `{
		"receiver": "pulsemon",
		"status": "firing",
		"alerts": [
			{"status":"firing","labels":{"alertname":"HighCPU","severity":"critical"},"annotations":{"summary":"CPU above 80%"}},
			{"status":"firing","labels":{"alertname":"HighCPU"}},
			{"status":"resolved","labels":{"alertname":"HighCPU"}}
		]
	}`

	alert, err := Normalize([]byte(payload), testNow)
	require.NoError(t, err)

	assert.Equal(t, "HighCPU", alert.Title)
	assert.Equal(t, "CPU above 80%", alert.Message)
	assert.Equal(t, models.SeverityCritical, alert.Severity)
	assert.Equal(t, "alertmanager", alert.Source)
	assert.Equal(t, "firing", alert.Status)
	require.NotNil(t, alert.Counts)
	assert.Equal(t, 2, alert.Counts.Firing)
	assert.Equal(t, 1, alert.Counts.Resolved)
}

func TestNormalizeAlertmanagerResolvedOnly(t *testing.T) {
	payload := `{"alerts":[{"status":"resolved","labels":{"alertname":"HighCPU"}}]}`

	alert, err := Normalize([]byte(payload), testNow)
	require.NoError(t, err)
	assert.Equal(t, models.SeverityOK, alert.Severity)
	assert.Equal(t, "resolved", alert.Status)
	assert.Equal(t, 0, alert.Counts.Firing)
	assert.Equal(t, 1, alert.Counts.Resolved)
}

func TestNormalizeAlertmanagerChannelOverride(t *testing.T) {
	payload := `{"alerts":[{"status":"firing","labels":{"alertname":"X","channels":"ops-discord, ops-pager"}}]}`

	alert, err := Normalize([]byte(payload), testNow)
	require.NoError(t, err)
	assert.Equal(t, []string{"ops-discord", "ops-pager"}, alert.Channels)
}

func TestNormalizeGrafanaStates(t *testing.T) {
	cases := []struct {
		state string
		want  models.Severity
	}{
		{"alerting", models.SeverityCritical},
		{"ok", models.SeverityInfo},
		{"no_data", models.SeverityWarning},
	}
	for _, tc := range cases {
		payload := `{"ruleName":"Disk usage","state":"` + tc.state + `","message":"disk filling up"}`
		alert, err := Normalize([]byte(payload), testNow)
		require.NoError(t, err, tc.state)
		assert.Equal(t, tc.want, alert.Severity, tc.state)
		assert.Equal(t, "grafana", alert.Source)
		assert.Equal(t, "Disk usage", alert.Title)
	}
}

func TestNormalizeGrafanaByEvalMatches(t *testing.T) {
	payload := `{"evalMatches":[{"metric":"cpu","value":97}],"ruleName":"CPU","state":"alerting"}`
	alert, err := Normalize([]byte(payload), testNow)
	require.NoError(t, err)
	assert.Equal(t, "grafana", alert.Source)
}

func TestNormalizeGenericDefaults(t *testing.T) {
	payload := `{"title":"X","message":"Y"}`
	alert, err := Normalize([]byte(payload), testNow)
	require.NoError(t, err)

	assert.Equal(t, "X", alert.Title)
	assert.Equal(t, "Y", alert.Message)
	assert.Equal(t, models.SeverityWarning, alert.Severity)
	assert.Equal(t, "external", alert.Source)
}

func TestNormalizeGenericCriticalMapsToDown(t *testing.T) {
	payload := `{"title":"X","message":"Y","severity":"critical"}`
	alert, err := Normalize([]byte(payload), testNow)
	require.NoError(t, err)
	assert.Equal(t, models.EventDown, models.EventForSeverity(alert.Severity))
}

func TestNormalizeGenericChannelKeys(t *testing.T) {
	single, err := Normalize([]byte(`{"title":"X","message":"Y","channel":"ops"}`), testNow)
	require.NoError(t, err)
	assert.Equal(t, []string{"ops"}, single.Channels)

	plural, err := Normalize([]byte(`{"title":"X","message":"Y","channels":["a","b"]}`), testNow)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, plural.Channels)
}

func TestNormalizeGenericUnknownSeverityFallsBack(t *testing.T) {
	alert, err := Normalize([]byte(`{"title":"X","message":"Y","severity":"disaster"}`), testNow)
	require.NoError(t, err)
	assert.Equal(t, models.SeverityWarning, alert.Severity)
}

func TestNormalizeRejectsUnknownShape(t *testing.T) {
	_, err := Normalize([]byte(`{"foo":"bar"}`), testNow)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestNormalizeRejectsInvalidJSON(t *testing.T) {
	_, err := Normalize([]byte(`{not json`), testNow)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnsupportedFormat)
}
