// Package alerts normalizes heterogeneous third-party alert payloads into
// the internal alert shape.
package alerts

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"pulsemon/internal/models"
)

// ErrUnsupportedFormat is returned when a payload matches none of the known
// alert shapes.
var ErrUnsupportedFormat = errors.New("unsupported alert format")

// envelope covers the superset of fields used for format detection.
type envelope struct {
	// Alertmanager webhook batch.
	Alerts []amAlert `json:"alerts"`
	Status string    `json:"status"`

	// Grafana legacy alert notification.
	EvalMatches json.RawMessage `json:"evalMatches"`
	State       string          `json:"state"`
	RuleName    string          `json:"ruleName"`

	// Generic format (also reused by Grafana for its message text).
	Title       string            `json:"title"`
	Message     string            `json:"message"`
	Severity    string            `json:"severity"`
	Source      string            `json:"source"`
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
	Channel     string            `json:"channel"`
	Channels    []string          `json:"channels"`
}

type amAlert struct {
	Status      string            `json:"status"`
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
}

// Normalize converts an arbitrary JSON payload from an external alerting tool
// into an Alert. Detection is most-specific first: an Alertmanager-style
// batch, then a Grafana-style rule notification, then the generic
// title/message format. Pure; performs no I/O.
func Normalize(raw []byte, now time.Time) (models.Alert, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return models.Alert{}, fmt.Errorf("parse alert payload: %w", err)
	}

	switch {
	case len(env.Alerts) > 0:
		return fromAlertmanager(env, now), nil
	case len(env.EvalMatches) > 0 || (env.State != "" && env.RuleName != ""):
		return fromGrafana(env, now), nil
	case env.Title != "" && env.Message != "":
		return fromGeneric(env, now), nil
	default:
		return models.Alert{}, ErrUnsupportedFormat
	}
}

func fromAlertmanager(env envelope, now time.Time) models.Alert {
	counts := &models.AlertCounts{}
	var firstFiring *amAlert
	for i := range env.Alerts {
		switch env.Alerts[i].Status {
		case "resolved":
			counts.Resolved++
		default:
			counts.Firing++
			if firstFiring == nil {
				firstFiring = &env.Alerts[i]
			}
		}
	}

	// Summary comes from the first sub-alert; counts cover the whole batch.
	first := env.Alerts[0]
	labels := first.Labels
	annotations := first.Annotations

	title := labels["alertname"]
	if title == "" {
		title = "Alertmanager alert"
	}
	message := annotations["summary"]
	if message == "" {
		message = annotations["description"]
	}
	if message == "" {
		message = fmt.Sprintf("%d firing, %d resolved", counts.Firing, counts.Resolved)
	}

	severity := models.SeverityOK
	status := "resolved"
	if firstFiring != nil {
		status = "firing"
		severity = parseSeverity(firstFiring.Labels["severity"], models.SeverityWarning)
	}

	return models.Alert{
		Title:       title,
		Message:     message,
		Severity:    severity,
		Source:      "alertmanager",
		Status:      status,
		Labels:      labels,
		Annotations: annotations,
		Channels:    routingList(labels, annotations),
		Counts:      counts,
		Timestamp:   now,
	}
}

func fromGrafana(env envelope, now time.Time) models.Alert {
	var severity models.Severity
	switch env.State {
	case "alerting":
		severity = models.SeverityCritical
	case "ok":
		severity = models.SeverityInfo
	default:
		severity = models.SeverityWarning
	}

	title := env.RuleName
	if title == "" {
		title = env.Title
	}
	message := env.Message
	if message == "" {
		message = fmt.Sprintf("Rule %s is %s", title, env.State)
	}

	return models.Alert{
		Title:     title,
		Message:   message,
		Severity:  severity,
		Source:    "grafana",
		Status:    env.State,
		Timestamp: now,
	}
}

func fromGeneric(env envelope, now time.Time) models.Alert {
	channels := env.Channels
	if len(channels) == 0 && env.Channel != "" {
		channels = []string{env.Channel}
	}

	source := env.Source
	if source == "" {
		source = "external"
	}

	return models.Alert{
		Title:       env.Title,
		Message:     env.Message,
		Severity:    parseSeverity(env.Severity, models.SeverityWarning),
		Source:      source,
		Status:      env.Status,
		Labels:      env.Labels,
		Annotations: env.Annotations,
		Channels:    channels,
		Timestamp:   now,
	}
}

// routingList reads a comma-separated channel override from labels or
// annotations.
func routingList(labels, annotations map[string]string) []string {
	raw := labels["channels"]
	if raw == "" {
		raw = annotations["channels"]
	}
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if name := strings.TrimSpace(part); name != "" {
			out = append(out, name)
		}
	}
	return out
}

func parseSeverity(raw string, fallback models.Severity) models.Severity {
	switch models.Severity(strings.ToLower(raw)) {
	case models.SeverityCritical, models.SeverityError, models.SeverityWarning,
		models.SeverityInfo, models.SeverityOK:
		return models.Severity(strings.ToLower(raw))
	default:
		return fallback
	}
}
