package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/loykin/statusr/internal/detector"
	"github.com/loykin/statusr/internal/event"
	"github.com/loykin/statusr/internal/eventlog"
	"github.com/loykin/statusr/internal/history"
	"github.com/loykin/statusr/internal/metrics"
	"github.com/loykin/statusr/internal/provider"
	"github.com/loykin/statusr/internal/webhook"
)

const (
	ChannelPoll    = "poll"
	ChannelWebhook = "webhook"
)

// sinkTimeout bounds one history mirror write.
const sinkTimeout = 5 * time.Second

var ErrNoLog = errors.New("pipeline: event log is required")

// Options wires a Pipeline. Log is required; the rest is optional.
type Options struct {
	Log        *eventlog.Log
	Detector   *detector.Detector
	Dispatcher *webhook.Dispatcher
	Output     io.Writer      // formatted new events, e.g. os.Stdout
	Sinks      []history.Sink // best-effort mirrors of committed events
	Logger     *slog.Logger
}

// Pipeline takes batches from polls and webhooks, keeps only unseen events
// and appends them to the event log.
//
// mu serializes the detector and the log as one unit, so an event is marked
// seen only together with its append.
type Pipeline struct {
	log        *eventlog.Log
	det        *detector.Detector
	dispatcher *webhook.Dispatcher
	out        *event.Writer
	sinks      []history.Sink
	logger     *slog.Logger

	mu    sync.Mutex
	outMu sync.Mutex
}

func New(opts Options) (*Pipeline, error) {
	if opts.Log == nil {
		return nil, ErrNoLog
	}
	p := &Pipeline{
		log:        opts.Log,
		det:        opts.Detector,
		dispatcher: opts.Dispatcher,
		sinks:      opts.Sinks,
		logger:     opts.Logger,
	}
	if p.det == nil {
		p.det = detector.New()
	}
	if p.dispatcher == nil {
		p.dispatcher = webhook.NewDispatcher(nil)
	}
	if opts.Output != nil {
		p.out = event.NewWriter(opts.Output)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p, nil
}

// Poll fetches t through a and commits the new events. The fetch runs
// outside the commit lock so targets are polled concurrently.
func (p *Pipeline) Poll(ctx context.Context, t provider.Target, a provider.Adapter) ([]event.Event, error) {
	start := time.Now()
	defer func() { metrics.ObservePollDuration(t.Name, time.Since(start).Seconds()) }()

	batch, err := a.FetchAndNormalize(ctx, t)
	if err != nil {
		metrics.IncPollError(t.Name, provider.ErrorKind(err))
		return nil, fmt.Errorf("poll %s: %w", t.Name, err)
	}
	if err := ctx.Err(); err != nil {
		metrics.IncPollError(t.Name, provider.ErrorKind(err))
		return nil, fmt.Errorf("poll %s: %w", t.Name, err)
	}
	fresh, err := p.commit(ctx, batch, ChannelPoll)
	if err != nil {
		metrics.IncPollError(t.Name, "storage")
		return nil, err
	}
	return fresh, nil
}

// HandleWebhook parses a pushed payload and commits the new events. A
// non-empty kind routes to that provider directly; otherwise the provider is
// detected from the payload shape. Unrecognized payloads commit nothing and
// are not an error.
func (p *Pipeline) HandleWebhook(ctx context.Context, kind provider.Kind, body []byte, header http.Header) ([]event.Event, error) {
	var batch []event.Event
	if kind == provider.KindNone {
		kind, batch = p.dispatcher.Dispatch(body, header)
	} else {
		batch = p.dispatcher.DispatchTo(kind, body, header)
	}
	metrics.IncWebhook(string(kind))
	if len(batch) == 0 {
		p.logger.Debug("Webhook produced no events", "provider", string(kind), "bytes", len(body))
		return nil, nil
	}
	return p.commit(ctx, batch, ChannelWebhook)
}

// commit runs the dedup check and the append under mu. If the append fails
// the batch is forgotten again so a later delivery can retry it.
func (p *Pipeline) commit(ctx context.Context, batch []event.Event, channel string) ([]event.Event, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	p.mu.Lock()
	fresh := p.det.FilterNew(batch)
	if len(fresh) > 0 {
		if err := p.log.Append(fresh); err != nil {
			var te *eventlog.TrimError
			if !errors.As(err, &te) {
				p.det.Forget(fresh)
				p.mu.Unlock()
				p.logger.Error("Failed to append events", "channel", channel, "count", len(fresh), "error", err)
				return nil, fmt.Errorf("commit %s batch: %w", channel, err)
			}
			// stored and synced; the next append retries the trim
			p.logger.Error("Failed to trim event log", "channel", channel, "path", p.log.Path(), "error", te.Err)
		}
	}
	p.mu.Unlock()

	metrics.AddDuplicates(channel, len(batch)-len(fresh))
	if len(fresh) == 0 {
		return nil, nil
	}

	bySource := make(map[string]int)
	for _, e := range fresh {
		bySource[e.SourceID]++
	}
	for src, n := range bySource {
		metrics.AddIngested(src, channel, n)
	}
	p.logger.Info("Committed new events", "channel", channel, "new", len(fresh), "received", len(batch))

	p.print(fresh)
	p.mirror(ctx, fresh)
	return fresh, nil
}

func (p *Pipeline) print(events []event.Event) {
	if p.out == nil {
		return
	}
	p.outMu.Lock()
	defer p.outMu.Unlock()
	if err := p.out.Write(events); err != nil {
		p.logger.Warn("Failed to write event output", "error", err)
	}
}

// mirror sends events to every history sink. Failures are logged and counted.
func (p *Pipeline) mirror(ctx context.Context, events []event.Event) {
	if len(p.sinks) == 0 {
		return
	}
	// mirrors outlive a cancelled request
	ctx = context.WithoutCancel(ctx)
	for _, s := range p.sinks {
		name := history.Name(s)
		for _, e := range events {
			sctx, cancel := context.WithTimeout(ctx, sinkTimeout)
			err := s.Send(sctx, e)
			cancel()
			if err != nil {
				metrics.IncHistoryError(name)
				p.logger.Warn("History sink failed", "sink", name, "source", e.SourceID, "event", e.EventID, "error", err)
			}
		}
	}
}

// Recent returns up to limit of the newest logged events, newest first.
func (p *Pipeline) Recent(limit int) ([]event.Event, error) {
	return p.log.ReadLast(limit)
}

// Seed marks the last n logged events as seen, so a restart does not report
// them again. It returns how many records were replayed.
func (p *Pipeline) Seed(ctx context.Context, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	events, err := p.log.ReadLast(n)
	if err != nil {
		return 0, fmt.Errorf("seed detector: %w", err)
	}
	p.mu.Lock()
	p.det.Seed(events)
	p.mu.Unlock()
	p.logger.Info("Seeded detector from event log", "records", len(events), "path", p.log.Path())
	return len(events), nil
}

// Adapter exposes the dispatcher's adapter for kind, so pollers share the
// instance that also parses webhooks.
func (p *Pipeline) Adapter(kind provider.Kind) (provider.Adapter, bool) {
	return p.dispatcher.Adapter(kind)
}

// Seen returns the size of the seen-set.
func (p *Pipeline) Seen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.det.Len()
}
