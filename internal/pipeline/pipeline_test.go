package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/statusr/internal/detector"
	"github.com/loykin/statusr/internal/event"
	"github.com/loykin/statusr/internal/eventlog"
	"github.com/loykin/statusr/internal/history"
	"github.com/loykin/statusr/internal/provider"
	"github.com/loykin/statusr/internal/provider/factory"
	"github.com/loykin/statusr/internal/webhook"
)

const summaryBody = `{
  "page": {"id": "pg-1", "name": "Example Cloud"},
  "incidents": [{
    "id": "inc-1", "name": "API Degradation",
    "incident_updates": [
      {"id": "upd-1", "status": "monitoring", "body": "A fix has been deployed", "created_at": "2025-11-03T14:32:00Z"}
    ]
  }]
}`

const webhookBody = `{
  "page": {"id": "pg-1"},
  "incident": {
    "id": "inc-1", "name": "API Degradation",
    "incident_updates": [
      {"id": "upd-2", "status": "resolved", "body": "Resolved", "created_at": "2025-11-03T15:00:00Z"},
      {"id": "upd-1", "status": "monitoring", "body": "A fix has been deployed", "created_at": "2025-11-03T14:32:00Z"}
    ]
  }
}`

type fixture struct {
	p    *Pipeline
	log  *eventlog.Log
	out  *bytes.Buffer
	sink *memSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := eventlog.Open(eventlog.Options{
		Path: filepath.Join(t.TempDir(), "events.jsonl"),
		Now:  func() time.Time { return time.Date(2025, 11, 3, 16, 0, 0, 0, time.UTC) },
	})
	out := &bytes.Buffer{}
	sink := &memSink{}
	p, err := New(Options{
		Log:        log,
		Detector:   detector.New(),
		Dispatcher: webhook.NewDispatcher(factory.NewAll(factory.Options{})),
		Output:     out,
		Sinks:      []history.Sink{sink},
	})
	require.NoError(t, err)
	return &fixture{p: p, log: log, out: out, sink: sink}
}

func summaryServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(summaryBody))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewRequiresLog(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, ErrNoLog)
}

func TestPollCommitsOnce(t *testing.T) {
	f := newFixture(t)
	srv := summaryServer(t)
	a, ok := f.p.Adapter(provider.KindStatuspage)
	require.True(t, ok)
	target := provider.Target{Name: "example", URL: srv.URL, Provider: provider.KindStatuspage}

	fresh, err := f.p.Poll(context.Background(), target, a)
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.Equal(t, "inc-1_upd-1", fresh[0].EventID)
	assert.Contains(t, f.out.String(), "[2025-11-03 14:32:00] Product: API Degradation\nStatus: A fix has been deployed")

	fresh, err = f.p.Poll(context.Background(), target, a)
	require.NoError(t, err)
	assert.Empty(t, fresh)

	recent, err := f.p.Recent(10)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
	assert.Equal(t, 1, f.sink.count())
}

func TestPollThenWebhookDedupAcrossChannels(t *testing.T) {
	f := newFixture(t)
	srv := summaryServer(t)
	a, _ := f.p.Adapter(provider.KindStatuspage)

	_, err := f.p.Poll(context.Background(), provider.Target{Name: "example", URL: srv.URL}, a)
	require.NoError(t, err)

	// the webhook repeats upd-1 and adds upd-2 for the same page
	fresh, err := f.p.HandleWebhook(context.Background(), provider.KindNone, []byte(webhookBody), nil)
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.Equal(t, "inc-1_upd-2", fresh[0].EventID)
	assert.Equal(t, "example", fresh[0].SourceID)

	recent, err := f.p.Recent(10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "inc-1_upd-2", recent[0].EventID)
}

func TestHandleWebhookUnknownShape(t *testing.T) {
	f := newFixture(t)
	fresh, err := f.p.HandleWebhook(context.Background(), provider.KindNone, []byte(`{"alert":"x"}`), nil)
	require.NoError(t, err)
	assert.Empty(t, fresh)

	fresh, err = f.p.HandleWebhook(context.Background(), provider.KindNone, []byte(`garbage`), nil)
	require.NoError(t, err)
	assert.Empty(t, fresh)

	size, err := f.log.Size()
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestHandleWebhookExplicitKind(t *testing.T) {
	f := newFixture(t)
	fresh, err := f.p.HandleWebhook(context.Background(), provider.KindStatuspage, []byte(webhookBody), nil)
	require.NoError(t, err)
	assert.Len(t, fresh, 2)
}

type failingAdapter struct{ err error }

func (f failingAdapter) Kind() provider.Kind { return provider.KindStatuspage }
func (f failingAdapter) FetchAndNormalize(context.Context, provider.Target) ([]event.Event, error) {
	return nil, f.err
}
func (f failingAdapter) ParseWebhook([]byte, http.Header) []event.Event { return nil }

func TestPollErrorCommitsNothing(t *testing.T) {
	f := newFixture(t)
	cause := &provider.TransportError{URL: "http://x", StatusCode: 503}
	_, err := f.p.Poll(context.Background(), provider.Target{Name: "x"}, failingAdapter{err: cause})

	var te *provider.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 0, f.p.Seen())
}

func TestAppendFailureRollsBack(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	p, err := New(Options{
		Log:        eventlog.Open(eventlog.Options{Path: filepath.Join(blocker, "events.jsonl")}),
		Dispatcher: webhook.NewDispatcher(factory.NewAll(factory.Options{})),
	})
	require.NoError(t, err)

	_, err = p.HandleWebhook(context.Background(), provider.KindNone, []byte(webhookBody), nil)
	require.Error(t, err)
	assert.Equal(t, 0, p.Seen(), "failed batch must not stay marked as seen")
}

func TestTrimFailureKeepsEventsSeen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	log := eventlog.Open(eventlog.Options{Path: filepath.Join(dir, "events.jsonl"), MaxBytes: 10})
	require.NoError(t, log.Append([]event.Event{event.New("seed", "API", "s", "m", time.Now(), "seed-1")}))

	// appends to the existing file still work, the rewrite cannot create its temp file
	require.NoError(t, os.Chmod(dir, 0o500))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o750) })
	if f, err := os.CreateTemp(dir, "writable"); err == nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		t.Skip("directory permissions are not enforced for this user")
	}

	p, err := New(Options{
		Log:        log,
		Dispatcher: webhook.NewDispatcher(factory.NewAll(factory.Options{})),
	})
	require.NoError(t, err)

	fresh, err := p.HandleWebhook(context.Background(), provider.KindNone, []byte(webhookBody), nil)
	require.NoError(t, err)
	assert.Len(t, fresh, 2)
	assert.Equal(t, 2, p.Seen())

	// redelivery of the same update must not append it again
	fresh, err = p.HandleWebhook(context.Background(), provider.KindNone, []byte(webhookBody), nil)
	require.NoError(t, err)
	assert.Empty(t, fresh)

	recent, err := p.Recent(100)
	require.NoError(t, err)
	counts := map[string]int{}
	for _, e := range recent {
		counts[e.EventID]++
	}
	assert.Equal(t, map[string]int{"seed-1": 1, "inc-1_upd-1": 1, "inc-1_upd-2": 1}, counts)
}

func TestSeedSuppressesLoggedEvents(t *testing.T) {
	f := newFixture(t)
	_, err := f.p.HandleWebhook(context.Background(), provider.KindNone, []byte(webhookBody), nil)
	require.NoError(t, err)

	// a restarted process shares the log but starts with an empty detector
	restarted, err := New(Options{
		Log:        f.log,
		Dispatcher: webhook.NewDispatcher(factory.NewAll(factory.Options{})),
	})
	require.NoError(t, err)
	n, err := restarted.Seed(context.Background(), 1000)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	fresh, err := restarted.HandleWebhook(context.Background(), provider.KindNone, []byte(webhookBody), nil)
	require.NoError(t, err)
	assert.Empty(t, fresh)

	n, err = restarted.Seed(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestConcurrentCommitsAppendEachEventOnce(t *testing.T) {
	f := newFixture(t)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				// every goroutine races on the same ids
				body := fmt.Sprintf(`{"page":{"id":"pg-c"},"incident":{"id":"inc","name":"n","incident_updates":[{"id":"u%d","status":"s","body":"b","created_at":"2025-11-03T15:00:00Z"}]}}`, j)
				_, err := f.p.HandleWebhook(context.Background(), provider.KindNone, []byte(body), nil)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	recent, err := f.p.Recent(1000)
	require.NoError(t, err)
	assert.Len(t, recent, 20)
	assert.Equal(t, 20, f.p.Seen())
	assert.Equal(t, 20, f.sink.count())
}

func TestSinkErrorsDoNotFailCommit(t *testing.T) {
	log := eventlog.Open(eventlog.Options{Path: filepath.Join(t.TempDir(), "events.jsonl")})
	p, err := New(Options{
		Log:        log,
		Dispatcher: webhook.NewDispatcher(factory.NewAll(factory.Options{})),
		Sinks:      []history.Sink{&memSink{err: errors.New("down")}},
	})
	require.NoError(t, err)

	fresh, err := p.HandleWebhook(context.Background(), provider.KindNone, []byte(webhookBody), nil)
	require.NoError(t, err)
	assert.Len(t, fresh, 2)
}

type memSink struct {
	mu     sync.Mutex
	events []event.Event
	err    error
}

func (m *memSink) Send(_ context.Context, e event.Event) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memSink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}
