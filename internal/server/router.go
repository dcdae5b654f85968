package server

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/statusr/internal/event"
	"github.com/loykin/statusr/internal/provider"
)

const (
	// ProviderHeader selects the provider adapter when the path does not.
	ProviderHeader = "X-Statusr-Provider"

	maxWebhookBytes = 1 << 20
	defaultLimit    = 200
	maxLimit        = 1000
)

// Backend is what the router needs from the ingestion pipeline.
type Backend interface {
	HandleWebhook(ctx context.Context, kind provider.Kind, body []byte, header http.Header) ([]event.Event, error)
	Recent(limit int) ([]event.Event, error)
}

// Router provides embeddable HTTP handlers for webhook intake and event queries.
// Endpoints:
//
//	POST {basePath}/webhook            body: provider payload, provider sniffed from shape
//	POST {basePath}/webhook/:provider  body: provider payload for that provider
//	GET  {basePath}/events             query: limit=N (default 200, max 1000)
//	GET  {basePath}/healthz
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	backend  Backend
	basePath string
	metrics  http.Handler
	logger   *slog.Logger
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/api" results in /api/webhook, /api/events.
func NewRouter(b Backend, basePath string) *Router {
	return &Router{backend: b, basePath: sanitizeBase(basePath), logger: slog.Default()}
}

// WithMetrics also serves h on GET {basePath}/metrics.
func (r *Router) WithMetrics(h http.Handler) *Router {
	r.metrics = h
	return r
}

// WithLogger replaces the default slog logger.
func (r *Router) WithLogger(l *slog.Logger) *Router {
	if l != nil {
		r.logger = l
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.POST("/webhook", r.handleWebhook)
	group.POST("/webhook/:provider", r.handleWebhook)
	group.GET("/events", r.handleEvents)
	group.GET("/healthz", func(c *gin.Context) { writeJSON(c, http.StatusOK, okResp{OK: true}) })
	if r.metrics != nil {
		group.GET("/metrics", gin.WrapH(r.metrics))
	}
	return g
}

// NewServer starts a standalone HTTP server on addr using this router. A
// non-nil tlsConfig serves HTTPS with the certificates it provides.
func NewServer(addr string, h http.Handler, tlsConfig *tls.Config) (*http.Server, error) {
	server := &http.Server{
		Addr:              addr,
		Handler:           h,
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		var err error
		if tlsConfig != nil {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server stopped", "addr", addr, "error", err)
		}
	}()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type acceptedResp struct {
	Accepted int `json:"accepted"`
}

type eventsResp struct {
	Count  int           `json:"count"`
	Events []event.Event `json:"events"`
}

// handleWebhook always acknowledges a readable payload with 200 so the
// sender does not retry shapes we cannot use. Only a failed commit is
// reported as an error, since a retry can then succeed.
func (r *Router) handleWebhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBytes))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeJSON(c, http.StatusRequestEntityTooLarge, errorResp{Error: "payload too large"})
			return
		}
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "read body: " + err.Error()})
		return
	}

	name := c.Param("provider")
	if name == "" {
		name = c.GetHeader(ProviderHeader)
	}
	kind := provider.KindNone
	if strings.TrimSpace(name) != "" {
		k, err := provider.ParseKind(name)
		if err != nil {
			r.logger.Warn("Webhook for unknown provider ignored", "provider", name)
			writeJSON(c, http.StatusOK, acceptedResp{Accepted: 0})
			return
		}
		kind = k
	}

	fresh, err := r.backend.HandleWebhook(c.Request.Context(), kind, body, c.Request.Header)
	if err != nil {
		r.logger.Error("Webhook commit failed", "provider", string(kind), "error", err)
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, acceptedResp{Accepted: len(fresh)})
}

func (r *Router) handleEvents(c *gin.Context) {
	limit, ok := parseLimit(c.Query("limit"), defaultLimit, maxLimit)
	if !ok {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "limit must be an integer"})
		return
	}
	events, err := r.backend.Recent(limit)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if events == nil {
		events = []event.Event{}
	}
	writeJSON(c, http.StatusOK, eventsResp{Count: len(events), Events: events})
}
