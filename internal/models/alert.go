package models

import "time"

// Severity classifies how urgent an alert is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityError    Severity = "error"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
	SeverityOK       Severity = "ok"
)

// EventType is the kind of status transition a notification describes.
type EventType string

const (
	EventDown     EventType = "down"
	EventUp       EventType = "up"
	EventDegraded EventType = "degraded"
)

// EventForSeverity maps an alert severity to the event type used for channel
// selection and icon/colour rendering. It never feeds back into status state.
func EventForSeverity(s Severity) EventType {
	switch s {
	case SeverityCritical, SeverityError:
		return EventDown
	case SeverityWarning:
		return EventDegraded
	default:
		return EventUp
	}
}

// AlertCounts reports aggregate firing/resolved totals for batched payloads.
type AlertCounts struct {
	Firing   int `json:"firing"`
	Resolved int `json:"resolved"`
}

// Alert is the normalized representation of an event worth notifying about,
// produced either from a status transition or from an external payload.
type Alert struct {
	Title       string            `json:"title"`
	Message     string            `json:"message"`
	Severity    Severity          `json:"severity"`
	Source      string            `json:"source"`
	Status      string            `json:"status,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
	Channels    []string          `json:"channels,omitempty"`
	Counts      *AlertCounts      `json:"count,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// SentAlert is one entry in the bounded alert history log.
type SentAlert struct {
	Alert    Alert     `json:"alert"`
	Event    EventType `json:"event"`
	Channels []string  `json:"channels"`
	SentAt   time.Time `json:"sentAt"`
}
