// Package store provides the durable string-keyed store that carries all
// cross-round state. The key layout deliberately separates the heartbeat
// writer from the evaluation writer: the last-seen record is only ever
// read-modify-written by the heartbeat path, and the evaluation path writes
// its own records, so a heartbeat landing mid-round is never overwritten by
// a stale copy.
package store

import "context"

// Store is the durable key-value contract. No transactions, no
// compare-and-swap; last writer wins per key.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// Well-known keys.
const (
	KeyLastSeen     = "lastseen"
	KeyStatus       = "status:summary"
	KeyNotifyState  = "notify:state"
	KeyAlertHistory = "alerts:history"

	UptimeKeyPrefix = "uptime:"
)

// UptimeKey returns the per-service uptime record key.
func UptimeKey(serviceID string) string {
	return UptimeKeyPrefix + serviceID
}
