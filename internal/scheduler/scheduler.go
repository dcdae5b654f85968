package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/loykin/statusr/internal/event"
	"github.com/loykin/statusr/internal/provider"
)

const (
	DefaultInterval = 30 * time.Second
	DefaultTimeout  = 15 * time.Second
)

// Poller commits one poll of a target. *pipeline.Pipeline implements it.
type Poller interface {
	Poll(ctx context.Context, t provider.Target, a provider.Adapter) ([]event.Event, error)
}

type job struct {
	target  provider.Target
	adapter provider.Adapter
	entryID cron.EntryID
}

// Scheduler polls every target on its own "@every <interval>" schedule.
// A tick is skipped while the previous poll of the same target still runs,
// and each poll is bounded by the target timeout.
type Scheduler struct {
	poller Poller
	logger *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	jobs    []*job
	initial sync.WaitGroup // first runs started by Start
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

func New(p Poller, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{poller: p, logger: logger, ctx: ctx, cancel: cancel}
	s.cron = cron.New(
		cron.WithLogger(cronLogger{logger}),
		cron.WithChain(cron.Recover(cronLogger{logger}), cron.SkipIfStillRunning(cronLogger{logger})),
	)
	return s
}

// Add schedules t. Zero interval and timeout fall back to the defaults.
func (s *Scheduler) Add(t provider.Target, a provider.Adapter) error {
	if a == nil {
		return fmt.Errorf("target %s: no adapter for provider %q", t.Name, t.Provider)
	}
	t = withDefaults(t)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler already started")
	}
	j := &job{target: t, adapter: a}
	id, err := s.cron.AddFunc("@every "+t.Interval.String(), func() { s.run(j) })
	if err != nil {
		return fmt.Errorf("schedule target %s: %w", t.Name, err)
	}
	j.entryID = id
	s.jobs = append(s.jobs, j)
	return nil
}

// Start runs one poll of every target right away, then hands them to the
// cron loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler already started")
	}
	s.started = true
	for _, j := range s.jobs {
		// the wrapped job shares the skip-if-running guard with the ticks
		wrapped := s.cron.Entry(j.entryID).WrappedJob
		s.initial.Add(1)
		go func() {
			defer s.initial.Done()
			wrapped.Run()
		}()
	}
	s.cron.Start()
	s.logger.Info("Scheduler started", "targets", len(s.jobs))
	return nil
}

// Stop cancels in-flight polls and waits for them to return or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	cronDone := s.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.initial.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Targets returns the scheduled targets in the order they were added.
func (s *Scheduler) Targets() []provider.Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]provider.Target, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.target)
	}
	return out
}

func (s *Scheduler) run(j *job) {
	if s.ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, j.target.Timeout)
	defer cancel()
	fresh, err := s.poller.Poll(ctx, j.target, j.adapter)
	if err != nil {
		s.logger.Warn("Poll failed", "target", j.target.Name, "kind", provider.ErrorKind(err), "error", err)
		return
	}
	s.logger.Debug("Poll finished", "target", j.target.Name, "new", len(fresh))
}

// RunOnce polls every target concurrently, once, and returns the new events
// per target name. Errors are joined; targets that failed are absent from
// the result.
func RunOnce(ctx context.Context, p Poller, targets []provider.Target, adapters map[provider.Kind]provider.Adapter) (map[string][]event.Event, error) {
	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		out  = make(map[string][]event.Event, len(targets))
		errs []error
	)
	for _, t := range targets {
		t = withDefaults(t)
		a := adapters[t.Provider]
		if a == nil {
			errs = append(errs, fmt.Errorf("target %s: no adapter for provider %q", t.Name, t.Provider))
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, t.Timeout)
			defer cancel()
			fresh, err := p.Poll(pctx, t, a)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			out[t.Name] = fresh
		}()
	}
	wg.Wait()
	return out, errors.Join(errs...)
}

func withDefaults(t provider.Target) provider.Target {
	if t.Interval <= 0 {
		t.Interval = DefaultInterval
	}
	if t.Timeout <= 0 {
		t.Timeout = DefaultTimeout
	}
	return t
}

// cronLogger routes robfig/cron logging to slog.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
