package models

import "time"

// DailyBucket accumulates check counts for one service on one UTC calendar day.
type DailyBucket struct {
	Date           string    `json:"date"`
	TotalChecks    int       `json:"totalChecks"`
	UpChecks       int       `json:"upChecks"`
	DownChecks     int       `json:"downChecks"`
	DegradedChecks int       `json:"degradedChecks"`
	UnknownChecks  int       `json:"unknownChecks"`
	UptimePercent  float64   `json:"uptimePercentage"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// ServiceBuckets is the persisted per-service uptime record, keyed by
// YYYY-MM-DD date string.
type ServiceBuckets struct {
	Days map[string]DailyBucket `json:"days"`
}

// UptimeSeries is the read shape for one service's retention window.
type UptimeSeries struct {
	ServiceID     string        `json:"serviceId"`
	Days          []DailyBucket `json:"days"`
	UptimePercent float64       `json:"uptimePercentage"`
	TotalChecks   int           `json:"totalChecks"`
}

// NotificationState tracks, per service, the last observed status and the
// time of the last alert actually sent. Persisted across rounds.
type NotificationState struct {
	LastStatus  Status     `json:"lastStatus"`
	LastAlertAt *time.Time `json:"lastAlertAt,omitempty"`
}
