package models

import "time"

// Status is the computed liveness state of a monitored service.
type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
	StatusUnknown  Status = "unknown"
)

// LastSeenMap maps service id to the time of the most recent accepted
// heartbeat. Written only by the heartbeat path; the evaluation path reads
// it and never writes it back.
type LastSeenMap map[string]time.Time

// EvaluationResult captures the outcome of one staleness check for one service.
type EvaluationResult struct {
	ServiceID   string     `json:"serviceId"`
	Name        string     `json:"name"`
	Status      Status     `json:"status"`
	LastSeen    *time.Time `json:"lastSeen"`
	SinceMS     *int64     `json:"sinceMs"`
	ThresholdS  int        `json:"threshold"`
	EvaluatedAt time.Time  `json:"evaluatedAt"`
	GroupID     string     `json:"groupId,omitempty"`
	GroupName   string     `json:"groupName,omitempty"`
}

// StatusCounts aggregates per-status totals for one evaluation round.
type StatusCounts struct {
	Up       int `json:"up"`
	Down     int `json:"down"`
	Degraded int `json:"degraded"`
	Unknown  int `json:"unknown"`
}

// StatusSummary is the latest evaluation round. A single current record,
// overwritten after every round.
type StatusSummary struct {
	Timestamp time.Time          `json:"timestamp"`
	Services  []EvaluationResult `json:"services"`
	Counts    StatusCounts       `json:"counts"`
}

// Count returns per-status totals over the results.
func Count(results []EvaluationResult) StatusCounts {
	var c StatusCounts
	for _, r := range results {
		switch r.Status {
		case StatusUp:
			c.Up++
		case StatusDown:
			c.Down++
		case StatusDegraded:
			c.Degraded++
		default:
			c.Unknown++
		}
	}
	return c
}
