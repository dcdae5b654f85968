package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/loykin/statusr/internal/event"
)

// Kind names one supported provider variant. The set is closed: adding a
// provider means adding a Kind, an adapter and a webhook detection rule.
type Kind string

const (
	KindNone       Kind = ""
	KindStatuspage Kind = "statuspage"
)

// Kinds lists every supported provider.
var Kinds = []Kind{KindStatuspage}

var ErrUnknownProvider = errors.New("provider: unknown provider")

// ParseKind resolves a configured provider name. "atlassian" is accepted as
// an alias of statuspage.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "statuspage", "atlassian":
		return KindStatuspage, nil
	default:
		return KindNone, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
}

// Target describes one monitored status page.
type Target struct {
	Name     string        // display name; preferred source_id
	URL      string        // base URL of the status page
	Provider Kind          // adapter variant
	Interval time.Duration // poll interval (scheduler)
	Timeout  time.Duration // per-poll deadline (scheduler)
}

// Adapter fetches and parses provider payloads into unified events.
// Implementations must be safe for concurrent use across targets.
type Adapter interface {
	Kind() Kind
	// FetchAndNormalize polls the provider for t and returns every event in
	// the current document. It returns *TransportError or *ParseError.
	FetchAndNormalize(ctx context.Context, t Target) ([]event.Event, error)
	// ParseWebhook converts one pushed payload into events. Malformed or
	// unrecognized payloads yield no events; it never fails.
	ParseWebhook(body []byte, header http.Header) []event.Event
}

// TransportError reports a network failure or a non-2xx response while
// polling a provider.
type TransportError struct {
	URL        string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport: GET %s: http %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("transport: GET %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ParseError reports a provider document that does not have the expected shape.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("parse: %v", e.Err)
	}
	return fmt.Sprintf("parse: %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ErrorKind classifies err for metrics and logs.
func ErrorKind(err error) string {
	var te *TransportError
	var pe *ParseError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &te):
		return "transport"
	case errors.As(err, &pe):
		return "parse"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "other"
	}
}

// NewHTTPClient returns the client adapters use for polling. Deadlines come
// from the caller's context; timeout is only an upper bound.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.MaxIdleConns = 100
	tr.IdleConnTimeout = 90 * time.Second
	tr.TLSHandshakeTimeout = 5 * time.Second
	return &http.Client{Timeout: timeout, Transport: tr}
}
