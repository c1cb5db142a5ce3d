// Package evaluate turns last-heartbeat timestamps into per-service status.
package evaluate

import (
	"time"

	"pulsemon/internal/config"
	"pulsemon/internal/models"
)

// Run computes the status of every enabled service from its last heartbeat.
// A service with no recorded heartbeat is unknown; one whose last heartbeat
// is older than its staleness threshold is down; otherwise it is up.
// Degraded is never produced here. Deterministic and side-effect-free; it is
// re-run over all enabled services on every tick, including ones already
// down, so downtime keeps accruing in the uptime statistics.
func Run(cfgs []config.Effective, lastSeen models.LastSeenMap, now time.Time) []models.EvaluationResult {
	results := make([]models.EvaluationResult, 0, len(cfgs))
	for _, cfg := range cfgs {
		if !cfg.Enabled {
			continue
		}

		result := models.EvaluationResult{
			ServiceID:   cfg.ServiceID,
			Name:        cfg.Name,
			Status:      models.StatusUnknown,
			ThresholdS:  cfg.ThresholdSeconds,
			EvaluatedAt: now,
			GroupID:     cfg.GroupID,
			GroupName:   cfg.GroupName,
		}

		if seen, ok := lastSeen[cfg.ServiceID]; ok {
			elapsed := now.Sub(seen)
			sinceMS := elapsed.Milliseconds()
			seenCopy := seen
			result.LastSeen = &seenCopy
			result.SinceMS = &sinceMS
			if elapsed > time.Duration(cfg.ThresholdSeconds)*time.Second {
				result.Status = models.StatusDown
			} else {
				result.Status = models.StatusUp
			}
		}

		results = append(results, result)
	}
	return results
}
