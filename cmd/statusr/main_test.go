package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/statusr/internal/config"
)

const summaryJSON = `{
  "page": {"id": "pg-1", "name": "Example Cloud"},
  "incidents": [{
    "id": "inc-1", "name": "API Degradation",
    "incident_updates": [
      {"id": "upd-1", "status": "monitoring", "body": "A fix has been deployed", "created_at": "2025-11-03T14:32:00Z"}
    ]
  }]
}`

func statusPage(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(summaryJSON))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// writeConfig writes a config with one target when url is non-empty.
func writeConfig(t *testing.T, url string) string {
	t.Helper()
	dir := t.TempDir()
	var b strings.Builder
	fmt.Fprintf(&b, "[server]\nlisten = \"127.0.0.1:0\"\n\n")
	fmt.Fprintf(&b, "[event_log]\npath = %q\n\n", filepath.Join(dir, "events.jsonl"))
	fmt.Fprintf(&b, "[poll]\ninterval = \"10ms\"\nrounds = 2\n\n")
	if url != "" {
		fmt.Fprintf(&b, "[[targets]]\nname = \"example\"\nurl = %q\n", url)
	}
	path := filepath.Join(dir, "statusr.toml")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := buildRoot()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "statusr dev\n", out)
}

func TestHelpMentionsCommands(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)
	for _, c := range []string{"serve", "poll", "events"} {
		assert.Contains(t, out, c)
	}
}

func TestPollPrintsEachEventOnce(t *testing.T) {
	srv := statusPage(t)
	out, err := execute(t, "poll", "--config", writeConfig(t, srv.URL))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "Product: API Degradation"), out)
	assert.Contains(t, out, "[2025-11-03 14:32:00]")
}

func TestPollRequiresTargets(t *testing.T) {
	err := runPoll(context.Background(), &PollFlags{ConfigPath: writeConfig(t, "")}, &bytes.Buffer{})
	assert.True(t, errors.Is(err, config.ErrNoTargets), err)
}

func TestPollKeepsGoingOnTargetErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	out := &bytes.Buffer{}
	err := runPoll(context.Background(), &PollFlags{ConfigPath: writeConfig(t, srv.URL), Rounds: 2}, out)
	require.NoError(t, err)
	assert.Empty(t, out.String())
}

func TestEventsFromLocalLog(t *testing.T) {
	srv := statusPage(t)
	cfgPath := writeConfig(t, srv.URL)
	_, err := execute(t, "poll", "--config", cfgPath, "--rounds", "1")
	require.NoError(t, err)

	out, err := execute(t, "events", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Status: A fix has been deployed")

	out, err = execute(t, "events", "--config", cfgPath, "--json")
	require.NoError(t, err)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out)), &rec))
	assert.Equal(t, "inc-1_upd-1", rec["event_id"])
	assert.Equal(t, "example", rec["source_id"])
}

func TestEventsEmptyLog(t *testing.T) {
	out, err := execute(t, "events", "--config", writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, "No events.\n", out)
}

func TestEventsFromDaemon(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/events", r.URL.Path)
		assert.Equal(t, "3", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"count":1,"events":[{"source_id":"example","product_name":"API","status":"resolved","message":"fixed","timestamp":"2025-11-03T15:00:00Z","event_id":"inc-1_upd-2"}]}`))
	}))
	defer api.Close()

	out := &bytes.Buffer{}
	err := runEvents(context.Background(), &EventsFlags{APIUrl: api.URL, Limit: 3}, out)
	require.NoError(t, err)
	assert.Equal(t, "[2025-11-03 15:00:00] Product: API\nStatus: fixed\n\n", out.String())
}

func TestEventsDaemonUnreachable(t *testing.T) {
	err := runEvents(context.Background(), &EventsFlags{APIUrl: "http://127.0.0.1:1", Limit: 1}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestServeNonBlocking(t *testing.T) {
	srv := statusPage(t)
	err := runServe(context.Background(), &ServeFlags{ConfigPath: writeConfig(t, srv.URL), NonBlocking: true})
	require.NoError(t, err)
}

func TestServeBadConfig(t *testing.T) {
	err := runServe(context.Background(), &ServeFlags{ConfigPath: filepath.Join(t.TempDir(), "missing.toml"), NonBlocking: true})
	assert.Error(t, err)
}
