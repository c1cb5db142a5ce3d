// Package heartbeat accepts liveness pushes from monitored services and
// maintains the last-seen record. This package is the only writer of that
// record; the evaluation path reads it and writes elsewhere, so heartbeat
// writes are never clobbered by a round in flight.
package heartbeat

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"time"

	"pulsemon/internal/config"
	"pulsemon/internal/metrics"
	"pulsemon/internal/models"
	"pulsemon/internal/store"
)

// Entry is one service in a heartbeat payload. Batch entries are either bare
// service-id strings or objects carrying a per-entry token.
type Entry struct {
	ServiceID string `json:"serviceId"`
	Token     string `json:"token,omitempty"`
}

// UnmarshalJSON accepts both the string and the object form.
func (e *Entry) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &e.ServiceID)
	}
	type plain Entry
	return json.Unmarshal(data, (*plain)(e))
}

// Request is a heartbeat payload: single-service or batch.
type Request struct {
	ServiceID string  `json:"serviceId"`
	Services  []Entry `json:"services"`
}

// IsBatch reports whether the payload used the batch form.
func (r Request) IsBatch() bool { return len(r.Services) > 0 }

// Entries flattens the payload into a uniform entry list.
func (r Request) Entries() []Entry {
	if r.IsBatch() {
		return r.Services
	}
	if r.ServiceID != "" {
		return []Entry{{ServiceID: r.ServiceID}}
	}
	return nil
}

// EntryResult reports the outcome for one entry.
type EntryResult struct {
	ServiceID string `json:"serviceId"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`

	Auth bool `json:"-"`
}

// Outcome is the result of processing one heartbeat payload.
type Outcome struct {
	Results   []EntryResult
	Timestamp time.Time
}

// Succeeded counts the entries that were accepted.
func (o Outcome) Succeeded() int {
	n := 0
	for _, r := range o.Results {
		if r.Success {
			n++
		}
	}
	return n
}

// AllAuthFailures reports whether every failed entry failed authentication.
func (o Outcome) AllAuthFailures() bool {
	failed := false
	for _, r := range o.Results {
		if r.Success {
			continue
		}
		failed = true
		if !r.Auth {
			return false
		}
	}
	return failed
}

// Ingestor authenticates heartbeat entries and records their timestamps.
type Ingestor struct {
	store store.Store
	keys  map[string]string
	cfgs  map[string]config.Effective
}

// NewIngestor wires the ingestor to the store, the credential map, and the
// effective service configs.
func NewIngestor(s store.Store, keys map[string]string, cfgs []config.Effective) *Ingestor {
	byID := make(map[string]config.Effective, len(cfgs))
	for _, c := range cfgs {
		byID[c.ServiceID] = c
	}
	return &Ingestor{store: s, keys: keys, cfgs: byID}
}

// Ingest processes one payload. bearer is the shared Authorization token, if
// any; a per-entry token takes precedence for that entry only. Entries are
// validated and authenticated individually; the accepted ones are folded into
// the last-seen record with a single write. Only store failures return an
// error.
func (in *Ingestor) Ingest(ctx context.Context, req Request, bearer string, now time.Time) (Outcome, error) {
	entries := req.Entries()
	out := Outcome{Timestamp: now.UTC()}
	if len(entries) == 0 {
		out.Results = append(out.Results, EntryResult{Error: "Missing serviceId"})
		metrics.HeartbeatsTotal.WithLabelValues("invalid").Inc()
		return out, nil
	}

	accepted := make([]string, 0, len(entries))
	for _, entry := range entries {
		result := EntryResult{ServiceID: entry.ServiceID}
		switch err := in.check(entry, bearer); {
		case err == nil:
			result.Success = true
			accepted = append(accepted, entry.ServiceID)
			metrics.HeartbeatsTotal.WithLabelValues("ok").Inc()
		case err.Auth:
			result.Error = err.Message
			result.Auth = true
			metrics.HeartbeatsTotal.WithLabelValues("auth").Inc()
		default:
			result.Error = err.Message
			metrics.HeartbeatsTotal.WithLabelValues("invalid").Inc()
		}
		out.Results = append(out.Results, result)
	}

	if len(accepted) > 0 {
		if err := in.record(ctx, accepted, now); err != nil {
			return out, err
		}
	}
	return out, nil
}

// LastSeen reads the current last-seen record.
func LastSeen(ctx context.Context, s store.Store) (models.LastSeenMap, error) {
	raw, ok, err := s.Get(ctx, store.KeyLastSeen)
	if err != nil {
		return nil, err
	}
	seen := make(models.LastSeenMap)
	if ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &seen); err != nil {
			return nil, fmt.Errorf("parse last-seen record: %w", err)
		}
	}
	return seen, nil
}

func (in *Ingestor) record(ctx context.Context, serviceIDs []string, now time.Time) error {
	seen, err := LastSeen(ctx, in.store)
	if err != nil {
		return err
	}
	for _, id := range serviceIDs {
		seen[id] = now.UTC()
	}
	encoded, err := json.Marshal(seen)
	if err != nil {
		return fmt.Errorf("encode last-seen record: %w", err)
	}
	return in.store.Put(ctx, store.KeyLastSeen, string(encoded))
}

type checkError struct {
	Message string
	Auth    bool
}

func (e *checkError) Error() string { return e.Message }

// check validates the entry and resolves its credential: exact service key,
// then owning-group key, then wildcard. The error never reveals which
// credential source was expected.
func (in *Ingestor) check(entry Entry, bearer string) *checkError {
	if entry.ServiceID == "" {
		return &checkError{Message: "Missing serviceId"}
	}
	cfg, ok := in.cfgs[entry.ServiceID]
	if !ok {
		return &checkError{Message: "Unknown serviceId"}
	}
	if !cfg.Enabled {
		return &checkError{Message: "Service is disabled"}
	}

	expected, found := in.lookupKey(cfg)
	if !found {
		if cfg.AuthRequired {
			return &checkError{Message: "Invalid or missing token", Auth: true}
		}
		return nil
	}

	provided := entry.Token
	if provided == "" {
		provided = bearer
	}
	if subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
		return &checkError{Message: "Invalid or missing token", Auth: true}
	}
	return nil
}

func (in *Ingestor) lookupKey(cfg config.Effective) (string, bool) {
	if key, ok := in.keys[cfg.ServiceID]; ok {
		return key, true
	}
	if cfg.GroupID != "" {
		if key, ok := in.keys[cfg.GroupID]; ok {
			return key, true
		}
	}
	if key, ok := in.keys["*"]; ok {
		return key, true
	}
	return "", false
}
