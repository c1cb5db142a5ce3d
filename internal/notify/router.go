package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"pulsemon/internal/config"
	"pulsemon/internal/metrics"
	"pulsemon/internal/models"
)

const dispatchTimeout = 10 * time.Second

type route struct {
	ch  Channel
	cfg config.Channel
}

// Router decides which transitions warrant an alert and fans dispatch out to
// the configured channels. Failures on one channel never block the others.
type Router struct {
	routes   []route
	cooldown time.Duration
	log      *zap.Logger
}

// NewRouter builds dispatchers for every enabled channel. Channels with
// missing credentials are skipped and logged rather than failing startup.
func NewRouter(cfgs []config.Channel, secrets SecretFunc, cooldown time.Duration, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Router{cooldown: cooldown, log: log}
	for _, cfg := range cfgs {
		if !cfg.Enabled {
			continue
		}
		ch, err := New(cfg, secrets)
		if err != nil {
			log.Warn("channel skipped", zap.String("channel", cfg.Name), zap.Error(err))
			continue
		}
		r.routes = append(r.routes, route{ch: ch, cfg: cfg})
	}
	return r
}

// ChannelNames returns the names of all usable channels.
func (r *Router) ChannelNames() []string {
	names := make([]string, 0, len(r.routes))
	for _, rt := range r.routes {
		names = append(names, rt.ch.Name())
	}
	sort.Strings(names)
	return names
}

// HasChannel reports whether a usable channel with the given name exists.
func (r *Router) HasChannel(name string) bool {
	for _, rt := range r.routes {
		if strings.EqualFold(rt.ch.Name(), name) {
			return true
		}
	}
	return false
}

// RouteStatusChanges compares the round's results against the previously
// observed statuses, mutates state in place, and dispatches alerts for
// eligible transitions. The first-ever observation of a service never alerts,
// and no service alerts twice within the cooldown window; the cooldown is
// measured from the last alert actually sent, not the last transition.
func (r *Router) RouteStatusChanges(ctx context.Context, results []models.EvaluationResult, state map[string]models.NotificationState, effective map[string]config.Effective, now time.Time) []models.SentAlert {
	var sent []models.SentAlert
	for _, res := range results {
		st := state[res.ServiceID]
		prev := st.LastStatus
		if prev == "" {
			prev = models.StatusUnknown
		}
		st.LastStatus = res.Status

		if res.Status == prev || prev == models.StatusUnknown {
			state[res.ServiceID] = st
			continue
		}

		var event models.EventType
		switch {
		case res.Status == models.StatusDown:
			event = models.EventDown
		case res.Status == models.StatusUp && prev == models.StatusDown:
			event = models.EventUp
		default:
			state[res.ServiceID] = st
			continue
		}

		eff := effective[res.ServiceID]
		if !eff.NotifyEnabled || !eventAllowed(eff.NotifyEvents, event) {
			state[res.ServiceID] = st
			continue
		}
		if st.LastAlertAt != nil && now.Sub(*st.LastAlertAt) <= r.cooldown {
			state[res.ServiceID] = st
			continue
		}

		targets := r.statusTargets(event, eff.NotifyChannels)
		if len(targets) == 0 {
			state[res.ServiceID] = st
			continue
		}

		alert := alertFromResult(res, event, now)
		n := Notification{Event: event, Alert: alert, DedupKey: "pulsemon-" + res.ServiceID}
		delivered := r.dispatch(ctx, n, targets)
		metrics.AlertsTotal.WithLabelValues(string(event), "status").Inc()

		at := now
		st.LastAlertAt = &at
		state[res.ServiceID] = st
		sent = append(sent, models.SentAlert{Alert: alert, Event: event, Channels: delivered, SentAt: now})
	}
	return sent
}

// RouteExternal dispatches an already-normalized external alert. The
// severity-derived event type only selects channels and icons; it never
// touches the per-service notification state.
func (r *Router) RouteExternal(ctx context.Context, alert models.Alert, now time.Time) models.SentAlert {
	event := models.EventForSeverity(alert.Severity)

	var targets []route
	for _, rt := range r.routes {
		if !rt.cfg.AcceptsExternal() {
			continue
		}
		if len(alert.Channels) > 0 {
			if !containsFold(alert.Channels, rt.ch.Name()) {
				continue
			}
		} else if !eventAllowed(rt.cfg.Events, event) {
			continue
		}
		targets = append(targets, rt)
	}

	n := Notification{Event: event, Alert: alert, DedupKey: DedupKeyForAlert(alert)}
	delivered := r.dispatch(ctx, n, targets)
	metrics.AlertsTotal.WithLabelValues(string(event), "external").Inc()
	return models.SentAlert{Alert: alert, Event: event, Channels: delivered, SentAt: now}
}

// SendTest delivers a synthetic alert to the first usable channel of the
// given type.
func (r *Router) SendTest(ctx context.Context, channelType string, event models.EventType, now time.Time) error {
	for _, rt := range r.routes {
		if string(rt.ch.Kind()) != channelType {
			continue
		}
		n := Notification{
			Event: event,
			Alert: models.Alert{
				Title:     "Test notification",
				Message:   fmt.Sprintf("This is a test %s notification from pulsemon.", event),
				Severity:  severityForEvent(event),
				Source:    "pulsemon",
				Timestamp: now,
			},
			DedupKey: "pulsemon-test",
		}
		callCtx, cancel := context.WithTimeout(ctx, dispatchTimeout)
		defer cancel()
		if err := rt.ch.Send(callCtx, n); err != nil {
			return fmt.Errorf("test %s: %w", rt.ch.Name(), err)
		}
		return nil
	}
	return fmt.Errorf("no enabled channel of type %q", channelType)
}

func (r *Router) statusTargets(event models.EventType, allowNames []string) []route {
	var targets []route
	for _, rt := range r.routes {
		if !eventAllowed(rt.cfg.Events, event) {
			continue
		}
		if len(allowNames) > 0 && !containsFold(allowNames, rt.ch.Name()) {
			continue
		}
		targets = append(targets, rt)
	}
	return targets
}

// dispatch fans out to all targets concurrently with a per-call timeout and
// returns the names of the channels that accepted the notification.
func (r *Router) dispatch(ctx context.Context, n Notification, targets []route) []string {
	if len(targets) == 0 {
		return nil
	}

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		delivered []string
	)
	for _, rt := range targets {
		wg.Add(1)
		go func(rt route) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, dispatchTimeout)
			defer cancel()

			if err := rt.ch.Send(callCtx, n); err != nil {
				metrics.DispatchTotal.WithLabelValues(rt.ch.Name(), "error").Inc()
				r.log.Warn("notification failed",
					zap.String("channel", rt.ch.Name()),
					zap.String("type", string(rt.ch.Kind())),
					zap.String("event", string(n.Event)),
					zap.Error(err))
				return
			}
			metrics.DispatchTotal.WithLabelValues(rt.ch.Name(), "ok").Inc()
			r.log.Info("notification sent",
				zap.String("channel", rt.ch.Name()),
				zap.String("type", string(rt.ch.Kind())),
				zap.String("event", string(n.Event)))
			mu.Lock()
			delivered = append(delivered, rt.ch.Name())
			mu.Unlock()
		}(rt)
	}
	wg.Wait()

	sort.Strings(delivered)
	return delivered
}

// PruneHistory drops entries older than maxAge and keeps at most limit of
// the newest remaining entries. Entries are assumed append-ordered.
func PruneHistory(entries []models.SentAlert, limit int, maxAge time.Duration, now time.Time) []models.SentAlert {
	cutoff := now.Add(-maxAge)
	kept := entries[:0]
	for _, e := range entries {
		if e.SentAt.After(cutoff) {
			kept = append(kept, e)
		}
	}
	if limit > 0 && len(kept) > limit {
		kept = kept[len(kept)-limit:]
	}
	return kept
}

func alertFromResult(res models.EvaluationResult, event models.EventType, now time.Time) models.Alert {
	lastSeen := "never"
	if res.LastSeen != nil {
		lastSeen = res.LastSeen.UTC().Format(time.RFC3339)
	}
	labels := map[string]string{
		"service":  res.ServiceID,
		"lastSeen": lastSeen,
	}
	if res.GroupName != "" {
		labels["group"] = res.GroupName
	}

	var severity models.Severity
	var message string
	switch event {
	case models.EventDown:
		severity = models.SeverityCritical
		message = fmt.Sprintf("%s has stopped reporting heartbeats. Last seen: %s.", res.Name, lastSeen)
	case models.EventUp:
		severity = models.SeverityOK
		message = fmt.Sprintf("%s is reporting heartbeats again.", res.Name)
	default:
		severity = models.SeverityWarning
		message = fmt.Sprintf("%s is degraded.", res.Name)
	}

	return models.Alert{
		Title:     fmt.Sprintf("%s is %s", res.Name, strings.ToUpper(string(event))),
		Message:   message,
		Severity:  severity,
		Source:    "pulsemon",
		Status:    string(res.Status),
		Labels:    labels,
		Timestamp: now,
	}
}

func severityForEvent(event models.EventType) models.Severity {
	switch event {
	case models.EventDown:
		return models.SeverityCritical
	case models.EventDegraded:
		return models.SeverityWarning
	default:
		return models.SeverityOK
	}
}

func eventAllowed(allowed []string, event models.EventType) bool {
	if len(allowed) == 0 {
		return true
	}
	return containsFold(allowed, string(event))
}

func containsFold(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(s, needle) {
			return true
		}
	}
	return false
}
