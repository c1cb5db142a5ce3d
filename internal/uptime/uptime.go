// Package uptime folds evaluation rounds into per-service, per-day counter
// buckets and serves the retained history back out.
package uptime

import (
	"math"
	"time"

	"pulsemon/internal/models"
)

const dayFormat = "2006-01-02"

// Aggregator maintains day-bucketed uptime counters with a bounded trailing
// retention window.
type Aggregator struct {
	retentionDays int
}

// New creates an aggregator keeping the given number of trailing calendar days.
func New(retentionDays int) *Aggregator {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &Aggregator{retentionDays: retentionDays}
}

// Record folds one round's results into the bucket records, one increment per
// result into that service's bucket for today's UTC date, then prunes dates
// older than the retention window for the touched services only. The caller
// owns loading and persisting the records.
func (a *Aggregator) Record(buckets map[string]*models.ServiceBuckets, results []models.EvaluationResult, now time.Time) {
	day := now.UTC().Format(dayFormat)
	cutoff := now.UTC().AddDate(0, 0, -(a.retentionDays - 1)).Format(dayFormat)

	for _, result := range results {
		sb := buckets[result.ServiceID]
		if sb == nil {
			sb = &models.ServiceBuckets{}
			buckets[result.ServiceID] = sb
		}
		if sb.Days == nil {
			sb.Days = make(map[string]models.DailyBucket)
		}

		b := sb.Days[day]
		b.Date = day
		b.TotalChecks++
		switch result.Status {
		case models.StatusUp:
			b.UpChecks++
		case models.StatusDown:
			b.DownChecks++
		case models.StatusDegraded:
			b.DegradedChecks++
		default:
			b.UnknownChecks++
		}
		b.UptimePercent = percent(b.UpChecks, b.DegradedChecks, b.TotalChecks, b.UnknownChecks)
		b.UpdatedAt = now.UTC()
		sb.Days[day] = b

		for date := range sb.Days {
			if date < cutoff {
				delete(sb.Days, date)
			}
		}
	}
}

// Series returns the full retention window for one service, day by day,
// padding days with no bucket as zero-activity, plus an aggregate percentage
// over the whole window. A nil record yields an all-padding series.
func (a *Aggregator) Series(sb *models.ServiceBuckets, serviceID string, now time.Time) models.UptimeSeries {
	series := models.UptimeSeries{
		ServiceID: serviceID,
		Days:      make([]models.DailyBucket, 0, a.retentionDays),
	}

	var up, degraded, total, unknown int
	start := now.UTC().AddDate(0, 0, -(a.retentionDays - 1))
	for i := 0; i < a.retentionDays; i++ {
		date := start.AddDate(0, 0, i).Format(dayFormat)
		var b models.DailyBucket
		if sb != nil {
			b = sb.Days[date]
		}
		b.Date = date
		series.Days = append(series.Days, b)

		up += b.UpChecks
		degraded += b.DegradedChecks
		total += b.TotalChecks
		unknown += b.UnknownChecks
	}
	series.TotalChecks = total
	series.UptimePercent = percent(up, degraded, total, unknown)
	return series
}

// percent is (up + 0.5*degraded) / (total - unknown) * 100, rounded to two
// decimals, and 0 when the denominator is 0.
func percent(up, degraded, total, unknown int) float64 {
	denom := total - unknown
	if denom <= 0 {
		return 0
	}
	return round2((float64(up) + 0.5*float64(degraded)) / float64(denom) * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
