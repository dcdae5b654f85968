package event

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewResolvesUTC(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	e := New("src", "API", "monitoring", "msg", time.Date(2025, 11, 3, 15, 32, 0, 0, loc), "inc-1_upd-1")
	assert.Equal(t, time.UTC, e.Timestamp.Location())
	assert.True(t, e.Timestamp.Equal(time.Date(2025, 11, 3, 14, 32, 0, 0, time.UTC)))
}

func TestKeyScopesBySource(t *testing.T) {
	a := Event{SourceID: "a", EventID: "x"}
	b := Event{SourceID: "b", EventID: "x"}
	assert.NotEqual(t, a.Key(), b.Key())
	assert.Equal(t, a.Key(), Event{SourceID: "a", EventID: "x", Message: "other"}.Key())
}

func TestValidate(t *testing.T) {
	ts := time.Now()
	tests := []struct {
		name string
		e    Event
		want error
	}{
		{"ok", New("s", "p", "st", "m", ts, "id"), nil},
		{"no source", New(" ", "p", "st", "m", ts, "id"), ErrEmptySourceID},
		{"no id", New("s", "p", "st", "m", ts, ""), ErrEmptyEventID},
		{"zero time", Event{SourceID: "s", EventID: "id"}, ErrZeroTimestamp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.e.Validate(), tt.want)
		})
	}
}

func TestJSONFieldNames(t *testing.T) {
	e := New("src", "API", "monitoring", "msg", time.Date(2025, 11, 3, 14, 32, 0, 0, time.UTC), "inc-1_upd-1")
	b, err := json.Marshal(e)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	for _, k := range []string{"source_id", "product_name", "status", "message", "timestamp", "event_id"} {
		assert.Contains(t, m, k)
	}
	assert.Equal(t, "2025-11-03T14:32:00Z", m["timestamp"])
}

func TestIDs(t *testing.T) {
	assert.Equal(t, "inc-1_upd-1", CompositeID("inc-1", "upd-1"))
	assert.Equal(t, "comp_c1_u1", ComponentID("c1", "u1"))
}

func TestFormat(t *testing.T) {
	e := New("src", "API Degradation", "monitoring", "Fix deployed", time.Date(2025, 11, 3, 14, 32, 0, 0, time.UTC), "id")
	assert.Equal(t, "[2025-11-03 14:32:00] Product: API Degradation\nStatus: Fix deployed", Format(e))

	var buf bytes.Buffer
	require.NoError(t, NewWriter(&buf).Write([]Event{e, e}))
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("Product: API Degradation")))
}
