package poll

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Alwanly/service-source-ingest/pkg/logger"
)

// Poller owns the repeating timer of exactly one source.
//
// A Poller moves between StateStopped and StateRunning. Start and Stop are
// serialized by a transition lock; the tick body never takes that lock, so a
// slow fetch can't block a transition of another source or of this one
// beyond the time needed to cancel it. Every tick re-checks its episode
// context before each side effect, and Stop waits for the timer goroutine to
// exit, so nothing of a stopped episode runs after Stop returns.
//
// All methods are safe for concurrent use.
type Poller struct {
	name     string
	fetcher  Fetcher
	sink     Sink
	progress ProgressRecorder
	logger   *logger.CanonicalLogger
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	state    atomic.Int32
	disposed atomic.Bool
	source   atomic.Pointer[Source]
	lastPoll atomic.Int64
}

// Option configures a Poller.
type Option func(*Poller)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) {
		if now != nil {
			p.now = now
		}
	}
}

// New creates a stopped Poller for the named source. progress may be nil.
func New(name string, fetcher Fetcher, sink Sink, progress ProgressRecorder, log *logger.CanonicalLogger, opts ...Option) *Poller {
	if log == nil {
		log = logger.NewNop()
	}
	p := &Poller{
		name:     name,
		fetcher:  fetcher,
		sink:     sink,
		progress: progress,
		logger:   log.Component("poller").WithSource(name),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the source name the Poller was created for.
func (p *Poller) Name() string {
	return p.name
}

// State returns the current lifecycle state.
func (p *Poller) State() State {
	return State(p.state.Load())
}

// Running reports whether the Poller is in StateRunning.
func (p *Poller) Running() bool {
	return p.State() == StateRunning
}

// Source returns a copy of the snapshot of the current or last episode.
func (p *Poller) Source() (Source, bool) {
	src := p.source.Load()
	if src == nil {
		return Source{}, false
	}
	return src.normalized(), true
}

// LastPoll returns the start time of the most recent tick, zero if none.
func (p *Poller) LastPoll() time.Time {
	ns := p.lastPoll.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Start schedules the repeating timer for src: one tick right away, then one
// every src.Interval. It is a no-op when already running. Start failures are
// delivered to onError and leave the Poller stopped.
func (p *Poller) Start(src Source, onError ErrorHandler) {
	if p.Running() {
		p.logger.Debug("start ignored, poller already running")
		return
	}

	if err := p.start(src); err != nil {
		p.logger.WithError(err).Error("poller start failed", logger.Int64(logger.FieldSourceID, src.ID))
		if onError != nil {
			onError(src.ID, err)
		}
	}
}

func (p *Poller) start(src Source) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Running() {
		p.logger.Debug("start ignored, poller already running")
		return nil
	}
	if p.disposed.Load() {
		return ErrDisposed
	}
	if err := validateSource(src); err != nil {
		return err
	}

	snapshot := src.normalized()
	if snapshot.Name == "" {
		snapshot.Name = p.name
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	runID := uuid.NewString()

	p.source.Store(&snapshot)
	p.cancel = cancel
	p.done = done
	p.state.Store(int32(StateRunning))

	go p.run(ctx, &snapshot, runID, done)

	p.logger.Info("poller started",
		logger.String(logger.FieldRunID, runID),
		logger.String(logger.FieldEndpoint, snapshot.Endpoint),
		logger.Duration(logger.FieldInterval, snapshot.Interval),
	)
	return nil
}

// Stop disarms the timer and waits until the in-flight tick, if any, has
// returned. It is a no-op when already stopped.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.Running() {
		return
	}

	p.cancel()
	<-p.done

	p.cancel = nil
	p.done = nil
	p.state.Store(int32(StateStopped))

	p.logger.Info("poller stopped")
}

// Close stops the Poller and rejects any later Start.
func (p *Poller) Close() {
	p.disposed.Store(true)
	p.Stop()
}

func (p *Poller) run(ctx context.Context, src *Source, runID string, done chan struct{}) {
	defer close(done)

	log := p.logger.With(logger.String(logger.FieldRunID, runID))

	ticker := time.NewTicker(src.Interval)
	defer ticker.Stop()

	p.tick(ctx, src, log)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx, src, log)
		}
	}
}

// aborted is the checkpoint every side effect of a tick goes through.
func (p *Poller) aborted(ctx context.Context) bool {
	return ctx.Err() != nil || p.disposed.Load()
}

func (p *Poller) tick(ctx context.Context, src *Source, log *logger.CanonicalLogger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("tick panic", logger.String("panic", fmt.Sprintf("%v", r)))
		}
	}()

	if p.aborted(ctx) {
		log.Debug("tick skipped, poller stopped")
		return
	}

	at := p.now()
	p.lastPoll.Store(at.UnixNano())

	resp, err := p.fetcher.Fetch(ctx, Request{
		URL:     src.Endpoint,
		Headers: src.Headers,
		Proxy:   src.Proxy,
		Timeout: src.Timeout,
	})
	if err != nil {
		if p.aborted(ctx) {
			log.Debug("fetch aborted by stop")
			return
		}
		log.WithError(&FetchError{Source: src.Name, Err: err}).Error("fetch failed")
		return
	}

	if p.aborted(ctx) {
		log.Debug("tick aborted before persist")
		return
	}

	target := Target{Source: src.Name, OutputDir: src.OutputDir, At: at}
	if err := p.sink.Persist(ctx, target, resp.Body, resp.ContentType); err != nil {
		log.WithError(&SinkError{Source: src.Name, Err: err}).Error("persist failed")
		return
	}

	if p.aborted(ctx) {
		log.Debug("tick aborted before progress update")
		return
	}

	if p.progress != nil {
		if err := p.progress.UpdateLastProcessed(ctx, src.Name, p.now()); err != nil {
			log.WithError(err).Error("failed to update last processed")
		}
	}

	log.Info("source polled",
		logger.Int(logger.FieldStatusCode, resp.StatusCode),
		logger.Int(logger.FieldBytes, len(resp.Body)),
		logger.Duration("elapsed", p.now().Sub(at)),
	)
}

func validateSource(src Source) error {
	endpoint := strings.TrimSpace(src.Endpoint)
	if endpoint == "" {
		return fmt.Errorf("%w: source %q has an empty endpoint", ErrInvalidConfig, src.Name)
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("%w: source %q endpoint: %v", ErrInvalidConfig, src.Name, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: source %q endpoint %q is not an absolute http(s) url", ErrInvalidConfig, src.Name, endpoint)
	}
	return nil
}
