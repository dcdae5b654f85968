package statusr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/statusr/internal/config"
	"github.com/loykin/statusr/internal/detector"
	"github.com/loykin/statusr/internal/event"
	"github.com/loykin/statusr/internal/eventlog"
	"github.com/loykin/statusr/internal/history"
	hfactory "github.com/loykin/statusr/internal/history/factory"
	"github.com/loykin/statusr/internal/metrics"
	"github.com/loykin/statusr/internal/pipeline"
	"github.com/loykin/statusr/internal/provider"
	pfactory "github.com/loykin/statusr/internal/provider/factory"
	"github.com/loykin/statusr/internal/scheduler"
	iapi "github.com/loykin/statusr/internal/server"
	itls "github.com/loykin/statusr/internal/tls"
	"github.com/loykin/statusr/internal/webhook"
)

// Version is reported by the CLI and sent in the poll User-Agent.
var Version = "dev"

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Event = event.Event

type Target = provider.Target

type Kind = provider.Kind

type Config = cfg.Config

type Pipeline = pipeline.Pipeline

type HistorySink = history.Sink

type HistoryConfig = cfg.HistoryConfig

const (
	KindNone       = provider.KindNone
	KindStatuspage = provider.KindStatuspage
)

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

func DefaultConfig() *Config { return cfg.Default() }

// FormatEvent renders e the way new events are printed.
func FormatEvent(e Event) string { return event.Format(e) }

// Service wires one event log, one detector and one set of provider
// adapters into a pipeline. Pollers, webhook handlers and queries built from
// the same Service share dedup state.
type Service struct {
	cfg      *Config
	log      *eventlog.Log
	pipeline *pipeline.Pipeline
	adapters map[provider.Kind]provider.Adapter
	sinks    []history.Sink
	logger   *slog.Logger
}

// NewService builds a Service from c. New events are printed to out when it
// is non-nil. History sinks are opened from c.History; a sink that fails to
// open fails the whole call.
func NewService(c *Config, out io.Writer, logger *slog.Logger) (*Service, error) {
	if c == nil {
		c = cfg.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{cfg: c, logger: logger}

	for _, dsn := range c.HistoryDSNs() {
		sink, err := hfactory.NewSinkFromDSN(dsn)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("history sink: %w", err)
		}
		s.sinks = append(s.sinks, sink)
	}

	s.adapters = pfactory.NewAll(pfactory.Options{UserAgent: "statusr/" + Version})
	s.log = eventlog.Open(c.EventLog.Options())
	p, err := pipeline.New(pipeline.Options{
		Log:        s.log,
		Detector:   detector.New(),
		Dispatcher: webhook.NewDispatcher(s.adapters),
		Output:     out,
		Sinks:      s.sinks,
		Logger:     logger,
	})
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.pipeline = p
	return s, nil
}

func (s *Service) Pipeline() *Pipeline { return s.pipeline }

func (s *Service) Config() *Config { return s.cfg }

// Seed replays the tail of the event log into the detector when
// dedup.seed_from_log is set.
func (s *Service) Seed(ctx context.Context) (int, error) {
	if !s.cfg.Dedup.SeedFromLog {
		return 0, nil
	}
	return s.pipeline.Seed(ctx, s.cfg.Dedup.SeedRecords)
}

// PollOnce polls every configured target once, concurrently.
func (s *Service) PollOnce(ctx context.Context) (map[string][]Event, error) {
	return scheduler.RunOnce(ctx, s.pipeline, s.cfg.ProviderTargets(), s.adapters)
}

// Scheduler returns a scheduler with every configured target added. The
// caller starts and stops it.
func (s *Service) Scheduler() (*scheduler.Scheduler, error) {
	sch := scheduler.New(s.pipeline, s.logger)
	for _, t := range s.cfg.ProviderTargets() {
		if err := sch.Add(t, s.adapters[t.Provider]); err != nil {
			return nil, err
		}
	}
	return sch, nil
}

// Handler returns the webhook and query API. When withMetrics is set the
// default Prometheus registry is also served on {base_path}/metrics.
func (s *Service) Handler(withMetrics bool) http.Handler {
	r := iapi.NewRouter(s.pipeline, s.cfg.Server.BasePath).WithLogger(s.logger)
	if withMetrics {
		r = r.WithMetrics(metrics.Handler())
	}
	return r.Handler()
}

// NewHTTPServer starts the API server described by the [server] section,
// over TLS when it is enabled.
func (s *Service) NewHTTPServer(withMetrics bool) (*http.Server, error) {
	tlsConfig, err := itls.SetupTLS(s.cfg.Server)
	if err != nil {
		return nil, fmt.Errorf("tls: %w", err)
	}
	return iapi.NewServer(s.cfg.Server.Listen, s.Handler(withMetrics), tlsConfig)
}

// Close releases the history sinks.
func (s *Service) Close() error {
	var errs []error
	for _, sink := range s.sinks {
		if c, ok := sink.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	s.sinks = nil
	return errors.Join(errs...)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
