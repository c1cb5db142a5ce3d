// Package monitor runs evaluation rounds: read heartbeats, compute statuses,
// fold uptime buckets, route notifications, persist the summary.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"pulsemon/internal/config"
	"pulsemon/internal/evaluate"
	"pulsemon/internal/heartbeat"
	"pulsemon/internal/metrics"
	"pulsemon/internal/models"
	"pulsemon/internal/notify"
	"pulsemon/internal/store"
	"pulsemon/internal/uptime"
)

const roundTimeout = time.Minute

// Runner executes evaluation rounds. All cross-round state lives in the
// store; a round reads the last-seen record but writes only its own records,
// so overlapping rounds and concurrent heartbeats degrade to last-writer-wins
// per record instead of losing heartbeats.
type Runner struct {
	store     store.Store
	cfg       config.Config
	effective []config.Effective
	byID      map[string]config.Effective
	agg       *uptime.Aggregator
	router    *notify.Router
	log       *zap.Logger

	onSummary func(models.StatusSummary)

	// Serializes rounds within this process; overlapping external triggers
	// from another process remain last-writer-wins.
	mu sync.Mutex
}

// NewRunner wires a runner from resolved configuration.
func NewRunner(s store.Store, cfg config.Config, effective []config.Effective, router *notify.Router, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	byID := make(map[string]config.Effective, len(effective))
	for _, e := range effective {
		byID[e.ServiceID] = e
	}
	return &Runner{
		store:     s,
		cfg:       cfg,
		effective: effective,
		byID:      byID,
		agg:       uptime.New(cfg.RetentionDays),
		router:    router,
		log:       log,
	}
}

// OnSummary registers a hook invoked after each successful round.
func (r *Runner) OnSummary(fn func(models.StatusSummary)) {
	r.onSummary = fn
}

// RunOnce executes a single evaluation round at the current time.
func (r *Runner) RunOnce(ctx context.Context) (models.StatusSummary, error) {
	return r.RunAt(ctx, time.Now())
}

// RunAt executes a single evaluation round. Store failures propagate: a
// failed round is retried by the next tick, which is safer than writing a
// partial summary.
func (r *Runner) RunAt(ctx context.Context, now time.Time) (models.StatusSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now = now.UTC()
	summary, err := r.runLocked(ctx, now)
	if err != nil {
		metrics.RoundsTotal.WithLabelValues("error").Inc()
		return models.StatusSummary{}, err
	}
	metrics.RoundsTotal.WithLabelValues("ok").Inc()
	if r.onSummary != nil {
		r.onSummary(summary)
	}
	return summary, nil
}

func (r *Runner) runLocked(ctx context.Context, now time.Time) (models.StatusSummary, error) {
	seen, err := heartbeat.LastSeen(ctx, r.store)
	if err != nil {
		return models.StatusSummary{}, fmt.Errorf("read last-seen: %w", err)
	}

	results := evaluate.Run(r.effective, seen, now)

	// One increment per enabled service into today's bucket.
	buckets := make(map[string]*models.ServiceBuckets, len(results))
	for _, res := range results {
		var sb models.ServiceBuckets
		ok, err := getJSON(ctx, r.store, store.UptimeKey(res.ServiceID), &sb)
		if err != nil {
			return models.StatusSummary{}, fmt.Errorf("read uptime %s: %w", res.ServiceID, err)
		}
		if ok {
			buckets[res.ServiceID] = &sb
		}
	}
	r.agg.Record(buckets, results, now)
	for id, sb := range buckets {
		if err := putJSON(ctx, r.store, store.UptimeKey(id), sb); err != nil {
			return models.StatusSummary{}, fmt.Errorf("write uptime %s: %w", id, err)
		}
	}

	summary := models.StatusSummary{
		Timestamp: now,
		Services:  results,
		Counts:    models.Count(results),
	}
	if err := putJSON(ctx, r.store, store.KeyStatus, summary); err != nil {
		return models.StatusSummary{}, fmt.Errorf("write summary: %w", err)
	}
	metrics.SetServiceCounts(summary.Counts.Up, summary.Counts.Down, summary.Counts.Degraded, summary.Counts.Unknown)

	state := make(map[string]models.NotificationState)
	if _, err := getJSON(ctx, r.store, store.KeyNotifyState, &state); err != nil {
		return models.StatusSummary{}, fmt.Errorf("read notify state: %w", err)
	}
	sent := r.router.RouteStatusChanges(ctx, results, state, r.byID, now)
	if err := putJSON(ctx, r.store, store.KeyNotifyState, state); err != nil {
		return models.StatusSummary{}, fmt.Errorf("write notify state: %w", err)
	}

	if len(sent) > 0 {
		if err := r.appendHistory(ctx, now, sent...); err != nil {
			// History is an audit convenience; losing an entry is not worth
			// failing the round after alerts already went out.
			r.log.Warn("append alert history", zap.Error(err))
		}
	}
	return summary, nil
}

// RecordExternal routes a normalized external alert through the channels and
// persists it into the alert history regardless of dispatch outcome.
func (r *Runner) RecordExternal(ctx context.Context, alert models.Alert, now time.Time) (models.SentAlert, error) {
	sent := r.router.RouteExternal(ctx, alert, now.UTC())
	if err := r.appendHistory(ctx, now.UTC(), sent); err != nil {
		return sent, err
	}
	return sent, nil
}

// Summary returns the latest persisted round, or nil if none has run.
func (r *Runner) Summary(ctx context.Context) (*models.StatusSummary, error) {
	var summary models.StatusSummary
	ok, err := getJSON(ctx, r.store, store.KeyStatus, &summary)
	if err != nil || !ok {
		return nil, err
	}
	return &summary, nil
}

// UptimeSeries returns the padded retention-window series for one service.
func (r *Runner) UptimeSeries(ctx context.Context, serviceID string, now time.Time) (models.UptimeSeries, error) {
	var sb models.ServiceBuckets
	ok, err := getJSON(ctx, r.store, store.UptimeKey(serviceID), &sb)
	if err != nil {
		return models.UptimeSeries{}, err
	}
	var rec *models.ServiceBuckets
	if ok {
		rec = &sb
	}
	return r.agg.Series(rec, serviceID, now.UTC()), nil
}

// History returns the retained alert log, newest last.
func (r *Runner) History(ctx context.Context) ([]models.SentAlert, error) {
	var entries []models.SentAlert
	if _, err := getJSON(ctx, r.store, store.KeyAlertHistory, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Service reports whether the id names a configured service.
func (r *Runner) Service(serviceID string) (config.Effective, bool) {
	eff, ok := r.byID[serviceID]
	return eff, ok
}

func (r *Runner) appendHistory(ctx context.Context, now time.Time, sent ...models.SentAlert) error {
	var entries []models.SentAlert
	if _, err := getJSON(ctx, r.store, store.KeyAlertHistory, &entries); err != nil {
		return err
	}
	entries = append(entries, sent...)
	entries = notify.PruneHistory(entries, r.cfg.AlertHistoryLimit,
		time.Duration(r.cfg.AlertHistoryDays)*24*time.Hour, now)
	return putJSON(ctx, r.store, store.KeyAlertHistory, entries)
}

// StartCron schedules recurring rounds in-process. Deployments driving
// rounds externally can skip this and POST /api/evaluate instead.
func (r *Runner) StartCron(schedule string) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), roundTimeout)
		defer cancel()
		if _, err := r.RunOnce(ctx); err != nil {
			r.log.Error("evaluation round failed", zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule rounds: %w", err)
	}
	c.Start()
	return c, nil
}

func getJSON(ctx context.Context, s store.Store, key string, out any) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if !ok || raw == "" {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return true, nil
}

func putJSON(ctx context.Context, s store.Store, key string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Put(ctx, key, string(encoded))
}
