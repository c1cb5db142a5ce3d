package heartbeat

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsemon/internal/config"
	"pulsemon/internal/models"
	"pulsemon/internal/store"
)

var testNow = time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)

func newIngestor(t *testing.T, keys map[string]string, cfgs ...config.Effective) (*Ingestor, *store.MemStore) {
	t.Helper()
	st := store.NewMemStore()
	return NewIngestor(st, keys, cfgs), st
}

func enabled(id string) config.Effective {
	return config.Effective{ServiceID: id, Name: id, Enabled: true, AuthRequired: true}
}

func open(id string) config.Effective {
	eff := enabled(id)
	eff.AuthRequired = false
	return eff
}

func TestIngestSingleService(t *testing.T) {
	in, st := newIngestor(t, map[string]string{"s1": "key-1"}, enabled("s1"))

	out, err := in.Ingest(context.Background(), Request{ServiceID: "s1"}, "key-1", testNow)
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.True(t, out.Results[0].Success)

	seen, err := LastSeen(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, testNow, seen["s1"])
}

func TestIngestIdempotentForSameTimestamp(t *testing.T) {
	in, st := newIngestor(t, map[string]string{"s1": "key-1"}, enabled("s1"))
	req := Request{ServiceID: "s1"}

	_, err := in.Ingest(context.Background(), req, "key-1", testNow)
	require.NoError(t, err)
	first, _, err := st.Get(context.Background(), store.KeyLastSeen)
	require.NoError(t, err)

	_, err = in.Ingest(context.Background(), req, "key-1", testNow)
	require.NoError(t, err)
	second, _, err := st.Get(context.Background(), store.KeyLastSeen)
	require.NoError(t, err)

	assert.JSONEq(t, first, second)
}

func TestIngestBatchPartialSuccess(t *testing.T) {
	in, _ := newIngestor(t, map[string]string{"*": "shared"}, open("s1"))

	var req Request
	require.NoError(t, json.Unmarshal([]byte(`{"services":["s1","s2"]}`), &req))

	out, err := in.Ingest(context.Background(), req, "shared", testNow)
	require.NoError(t, err)
	require.Len(t, out.Results, 2)

	assert.True(t, out.Results[0].Success)
	assert.False(t, out.Results[1].Success)
	assert.Equal(t, "Unknown serviceId", out.Results[1].Error)
	assert.Equal(t, 1, out.Succeeded())
	assert.False(t, out.AllAuthFailures())
}

func TestIngestPerEntryTokenBeatsBearer(t *testing.T) {
	in, _ := newIngestor(t, map[string]string{"s1": "key-1", "s2": "key-2"}, enabled("s1"), enabled("s2"))

	var req Request
	require.NoError(t, json.Unmarshal([]byte(
		`{"services":[{"serviceId":"s1","token":"key-1"},{"serviceId":"s2","token":"wrong"}]}`), &req))

	out, err := in.Ingest(context.Background(), req, "key-2", testNow)
	require.NoError(t, err)
	assert.True(t, out.Results[0].Success)
	assert.False(t, out.Results[1].Success, "per-entry token overrides the bearer even when wrong")
	assert.True(t, out.Results[1].Auth)
}

func TestIngestAuthResolutionOrder(t *testing.T) {
	grouped := enabled("s1")
	grouped.GroupID = "backend"

	keys := map[string]string{"backend": "group-key", "*": "wildcard"}
	in, _ := newIngestor(t, keys, grouped)

	out, err := in.Ingest(context.Background(), Request{ServiceID: "s1"}, "group-key", testNow)
	require.NoError(t, err)
	assert.True(t, out.Results[0].Success)

	// Wildcard must not match once a more specific key exists.
	out, err = in.Ingest(context.Background(), Request{ServiceID: "s1"}, "wildcard", testNow)
	require.NoError(t, err)
	assert.False(t, out.Results[0].Success)
}

func TestIngestWildcardFallback(t *testing.T) {
	in, _ := newIngestor(t, map[string]string{"*": "wildcard"}, enabled("s1"))

	out, err := in.Ingest(context.Background(), Request{ServiceID: "s1"}, "wildcard", testNow)
	require.NoError(t, err)
	assert.True(t, out.Results[0].Success)
}

func TestIngestNoAuthRequiredWithoutKey(t *testing.T) {
	in, _ := newIngestor(t, nil, open("s1"))

	out, err := in.Ingest(context.Background(), Request{ServiceID: "s1"}, "", testNow)
	require.NoError(t, err)
	assert.True(t, out.Results[0].Success)
}

func TestIngestAuthRequiredWithoutKeyFails(t *testing.T) {
	in, _ := newIngestor(t, nil, enabled("s1"))

	out, err := in.Ingest(context.Background(), Request{ServiceID: "s1"}, "anything", testNow)
	require.NoError(t, err)
	assert.False(t, out.Results[0].Success)
	assert.True(t, out.AllAuthFailures())
	assert.Equal(t, "Invalid or missing token", out.Results[0].Error)
}

func TestIngestMissingServiceID(t *testing.T) {
	in, _ := newIngestor(t, nil, open("s1"))

	out, err := in.Ingest(context.Background(), Request{}, "", testNow)
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.False(t, out.Results[0].Success)
}

func TestIngestFailedEntriesDoNotTouchLastSeen(t *testing.T) {
	in, st := newIngestor(t, map[string]string{"s1": "key-1"}, enabled("s1"))

	_, err := in.Ingest(context.Background(), Request{ServiceID: "s1"}, "wrong", testNow)
	require.NoError(t, err)

	seen, err := LastSeen(context.Background(), st)
	require.NoError(t, err)
	assert.Empty(t, seen)
	assert.NotContains(t, seen, "s1")
}

func TestLastSeenRoundTrip(t *testing.T) {
	st := store.NewMemStore()
	raw, err := json.Marshal(models.LastSeenMap{"s1": testNow})
	require.NoError(t, err)
	require.NoError(t, st.Put(context.Background(), store.KeyLastSeen, string(raw)))

	seen, err := LastSeen(context.Background(), st)
	require.NoError(t, err)
	assert.True(t, seen["s1"].Equal(testNow))
}
