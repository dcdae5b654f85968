package statuspage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/loykin/statusr/internal/event"
	"github.com/loykin/statusr/internal/provider"
)

const (
	summaryPath     = "/api/v2/summary.json"
	maxSummaryBytes = 8 << 20
)

var (
	errMissingPage    = errors.New("summary has no page object")
	errMissingCreated = errors.New("incident update has no created_at")
	errNoSourceID     = errors.New("no target name and the page has neither name nor id")
)

// Options configures an Adapter.
type Options struct {
	Client    *http.Client
	UserAgent string
}

// Adapter polls Atlassian Statuspage summaries and parses Statuspage webhooks.
// One Adapter may be shared by many targets: its conditional-fetch cache is
// keyed by summary URL and guarded by mu.
type Adapter struct {
	client    *http.Client
	userAgent string

	mu    sync.Mutex
	cache map[string]cachedSummary
	// pageSources maps page ids seen while polling to the source id used for
	// that page, so pushed events dedup against polled ones.
	pageSources map[string]string
}

type cachedSummary struct {
	summary      *Summary
	lastModified string
	etag         string
}

// New returns an Adapter. A nil client gets provider.NewHTTPClient defaults.
func New(opts Options) *Adapter {
	c := opts.Client
	if c == nil {
		c = provider.NewHTTPClient(0)
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = "statusr"
	}
	return &Adapter{
		client:      c,
		userAgent:   ua,
		cache:       make(map[string]cachedSummary),
		pageSources: make(map[string]string),
	}
}

func (a *Adapter) Kind() provider.Kind { return provider.KindStatuspage }

// SummaryURL returns the summary endpoint for a status page base URL.
func SummaryURL(baseURL string) string {
	return strings.TrimRight(strings.TrimSpace(baseURL), "/") + summaryPath
}

// Fetch retrieves the current summary for t. When the provider answers
// 304 Not Modified the previously parsed summary is returned as is.
func (a *Adapter) Fetch(ctx context.Context, t provider.Target) (*Summary, error) {
	u := SummaryURL(t.URL)

	a.mu.Lock()
	prev, cached := a.cache[u]
	a.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &provider.TransportError{URL: u, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", a.userAgent)
	if cached {
		if prev.lastModified != "" {
			req.Header.Set("If-Modified-Since", prev.lastModified)
		}
		if prev.etag != "" {
			req.Header.Set("If-None-Match", prev.etag)
		}
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &provider.TransportError{URL: u, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotModified {
		if !cached {
			return nil, &provider.TransportError{URL: u, StatusCode: resp.StatusCode, Err: errors.New("not modified without cached summary")}
		}
		return prev.summary, nil
	}
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &provider.TransportError{URL: u, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", strings.TrimSpace(string(b)))}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSummaryBytes))
	if err != nil {
		return nil, &provider.TransportError{URL: u, Err: err}
	}
	s, err := parseSummary(body)
	if err != nil {
		return nil, &provider.ParseError{URL: u, Err: err}
	}

	a.mu.Lock()
	a.cache[u] = cachedSummary{
		summary:      s,
		lastModified: resp.Header.Get("Last-Modified"),
		etag:         resp.Header.Get("ETag"),
	}
	if src := resolveSourceID(t, s); s.Page.ID != "" && src != "" {
		a.pageSources[s.Page.ID] = src
	}
	a.mu.Unlock()
	return s, nil
}

func parseSummary(body []byte) (*Summary, error) {
	var raw rawSummary
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	if raw.Page == nil {
		return nil, errMissingPage
	}
	return &Summary{Page: *raw.Page, Components: raw.Components, Incidents: raw.Incidents}, nil
}

// Normalize turns every update of every incident in s into one event, in
// summary order. A single unparseable timestamp fails the whole batch.
func Normalize(s *Summary, sourceID string) ([]event.Event, error) {
	if s == nil {
		return nil, nil
	}
	var out []event.Event
	for _, inc := range s.Incidents {
		evs, err := incidentEvents(inc, sourceID)
		if err != nil {
			return nil, err
		}
		out = append(out, evs...)
	}
	return out, nil
}

func incidentEvents(inc Incident, sourceID string) ([]event.Event, error) {
	out := make([]event.Event, 0, len(inc.IncidentUpdates))
	for _, upd := range inc.IncidentUpdates {
		ts, err := parseTime(upd.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("incident %s update %s: %w", inc.ID, upd.ID, err)
		}
		out = append(out, event.New(sourceID, inc.Name, upd.Status, upd.Body, ts, event.CompositeID(inc.ID, upd.ID)))
	}
	return out, nil
}

// FetchAndNormalize is the polling entry point.
func (a *Adapter) FetchAndNormalize(ctx context.Context, t provider.Target) ([]event.Event, error) {
	s, err := a.Fetch(ctx, t)
	if err != nil {
		return nil, err
	}
	src := resolveSourceID(t, s)
	if src == "" {
		return nil, &provider.ParseError{URL: SummaryURL(t.URL), Err: errNoSourceID}
	}
	evs, err := Normalize(s, src)
	if err != nil {
		return nil, &provider.ParseError{URL: SummaryURL(t.URL), Err: err}
	}
	return evs, nil
}

// resolveSourceID prefers the configured target name over the page name.
func resolveSourceID(t provider.Target, s *Summary) string {
	if name := strings.TrimSpace(t.Name); name != "" {
		return name
	}
	if s != nil {
		if name := strings.TrimSpace(s.Page.Name); name != "" {
			return name
		}
		return strings.TrimSpace(s.Page.ID)
	}
	return ""
}

// CachedURLs returns how many summary URLs are cached.
func (a *Adapter) CachedURLs() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.cache)
}

func (a *Adapter) sourceForPage(p *Page) string {
	if p == nil {
		return ""
	}
	a.mu.Lock()
	src, ok := a.pageSources[p.ID]
	a.mu.Unlock()
	if ok && p.ID != "" {
		return src
	}
	if name := strings.TrimSpace(p.Name); name != "" {
		return name
	}
	return strings.TrimSpace(p.ID)
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errMissingCreated
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000-07:00", "2006-01-02T15:04:05Z0700", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported time: %s", s)
}
