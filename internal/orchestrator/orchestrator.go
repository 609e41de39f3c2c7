package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"github.com/Alwanly/service-source-ingest/internal/models"
	"github.com/Alwanly/service-source-ingest/pkg/logger"
	"github.com/Alwanly/service-source-ingest/pkg/poll"
)

const DefaultInterval = 30 * time.Second

// ErrConfigLoad is returned by ReconcileOnce when the source list could not
// be read. Nothing is reconciled in that tick.
var ErrConfigLoad = errors.New("failed to load source configuration")

// Result lists what one reconciliation tick did, by source name.
type Result struct {
	Started   []string
	Stopped   []string
	Restarted []string
	Failed    []string
}

// Changed reports whether the tick touched any poller.
func (r Result) Changed() bool {
	return len(r.Started)+len(r.Stopped)+len(r.Restarted)+len(r.Failed) > 0
}

type Config struct {
	// Interval between reconciliation ticks, read once.
	Interval time.Duration
	// FetchTimeout is used when neither the source nor the
	// fetch_timeout_seconds setting provides one.
	FetchTimeout time.Duration
}

type handle struct {
	poller    Poller
	sourceID  int64
	runID     string
	startedAt time.Time
}

// Orchestrator converges the set of running pollers to the stored
// configuration. The live map is only mutated by ReconcileOnce and StopAll,
// which must not run concurrently with each other; Running may be called
// from any goroutine.
type Orchestrator struct {
	cfg       Config
	store     ConfigStore
	heartbeat HeartbeatRecorder
	settings  SettingsReader
	newPoller PollerFactory
	onError   poll.ErrorHandler
	logger    *logger.CanonicalLogger
	now       func() time.Time

	trigger chan struct{}

	mu   sync.RWMutex
	live map[string]*handle
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithHeartbeat(h HeartbeatRecorder) Option {
	return func(o *Orchestrator) { o.heartbeat = h }
}

func WithSettings(s SettingsReader) Option {
	return func(o *Orchestrator) { o.settings = s }
}

// WithStartErrorHandler receives every failed poller start with the source id.
func WithStartErrorHandler(h poll.ErrorHandler) Option {
	return func(o *Orchestrator) { o.onError = h }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

func New(cfg Config, store ConfigStore, newPoller PollerFactory, log *logger.CanonicalLogger, opts ...Option) *Orchestrator {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = poll.DefaultTimeout
	}
	if log == nil {
		log = logger.NewNop()
	}
	o := &Orchestrator{
		cfg:       cfg,
		store:     store,
		newPoller: newPoller,
		logger:    log.Component("orchestrator"),
		now:       time.Now,
		trigger:   make(chan struct{}, 1),
		live:      make(map[string]*handle),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run reconciles once right away, then on every interval or Trigger, until
// ctx is cancelled. All live pollers are stopped before Run returns.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer o.StopAll()

	o.logger.Info("orchestrator started", logger.Duration(logger.FieldInterval, o.cfg.Interval))

	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()

	o.reconcile(ctx)
	for {
		select {
		case <-ctx.Done():
			o.logger.Info("orchestrator stopping")
			return nil
		case <-ticker.C:
			o.reconcile(ctx)
		case <-o.trigger:
			o.logger.Debug("early reconciliation requested")
			o.reconcile(ctx)
		}
	}
}

// Trigger asks Run for an extra tick. It never blocks; requests made while
// one is already pending are merged.
func (o *Orchestrator) Trigger() {
	select {
	case o.trigger <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) reconcile(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	// errors are logged inside ReconcileOnce
	_, _ = o.ReconcileOnce(ctx)
}

// ReconcileOnce runs one reconciliation tick.
func (o *Orchestrator) ReconcileOnce(ctx context.Context) (Result, error) {
	var res Result
	log := o.logger.WithCorrelationID(uuid.NewString())

	sources, err := o.store.LoadAll(ctx)
	if err != nil {
		log.WithError(err).Error("config load failed, skipping tick")
		return res, fmt.Errorf("%w: %w", ErrConfigLoad, err)
	}

	ordered, byName := index(sources, log)
	fetchTimeout := o.fetchTimeout(ctx, log)
	attempted := make(map[string]bool)

	// stops and restarts follow load order
	for _, src := range ordered {
		h := o.lookup(src.Name)
		if h == nil || (src.Enabled && !src.RestartRequested) {
			continue
		}

		o.stop(src.Name, h, log)

		if !src.Enabled {
			res.Stopped = append(res.Stopped, src.Name)
			continue
		}

		attempted[src.Name] = true
		if o.start(ctx, src, fetchTimeout, log) {
			res.Restarted = append(res.Restarted, src.Name)
			o.clearRestartFlag(ctx, src, log)
		} else {
			res.Stopped = append(res.Stopped, src.Name)
			res.Failed = append(res.Failed, src.Name)
		}
	}

	// sources no longer in the store
	for _, name := range o.liveNames() {
		if _, ok := byName[name]; ok {
			continue
		}
		o.stop(name, o.lookup(name), log)
		res.Stopped = append(res.Stopped, name)
	}

	for _, src := range ordered {
		if !src.Enabled || attempted[src.Name] || o.lookup(src.Name) != nil {
			continue
		}
		if o.start(ctx, src, fetchTimeout, log) {
			res.Started = append(res.Started, src.Name)
			if src.RestartRequested {
				o.clearRestartFlag(ctx, src, log)
			}
		} else {
			res.Failed = append(res.Failed, src.Name)
		}
	}

	if o.heartbeat != nil {
		if err := o.heartbeat.RecordNow(ctx); err != nil {
			log.WithError(err).Warn("failed to record heartbeat")
		}
	}

	if res.Changed() {
		log.Info("reconciliation completed",
			logger.Int(logger.FieldStartedCount, len(res.Started)+len(res.Restarted)),
			logger.Int(logger.FieldStoppedCount, len(res.Stopped)),
			logger.Int(logger.FieldFailedCount, len(res.Failed)),
		)
	} else {
		log.Debug("reconciliation completed, nothing changed")
	}

	return res, nil
}

// StopAll stops and releases every live poller in parallel and empties the
// live map.
func (o *Orchestrator) StopAll() {
	o.mu.Lock()
	handles := o.live
	o.live = make(map[string]*handle)
	o.mu.Unlock()

	if len(handles) == 0 {
		return
	}

	var wg conc.WaitGroup
	for name, h := range handles {
		wg.Go(func() {
			h.poller.Stop()
			h.poller.Close()
			o.logger.Debug("poller released", logger.String(logger.FieldSource, name))
		})
	}
	if r := wg.WaitAndRecover(); r != nil {
		o.logger.Error("panic while stopping pollers", logger.String("panic", r.String()))
	}

	o.logger.Info("all pollers stopped", logger.Int(logger.FieldStoppedCount, len(handles)))
}

// Running returns the names of the live pollers, sorted.
func (o *Orchestrator) Running() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()

	names := make([]string, 0, len(o.live))
	for name := range o.live {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (o *Orchestrator) liveNames() []string {
	return o.Running()
}

func (o *Orchestrator) lookup(name string) *handle {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.live[name]
}

func (o *Orchestrator) start(ctx context.Context, src models.Source, fetchTimeout time.Duration, log *logger.CanonicalLogger) bool {
	srcLog := log.WithSource(src.Name)

	snapshot, err := src.PollSource(fetchTimeout)
	if err != nil {
		o.reportStartError(src.ID, src.Name, err, srcLog)
		return false
	}

	p := o.newPoller(src.Name)

	var startErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				startErr = fmt.Errorf("poller start panicked: %v", r)
			}
		}()
		p.Start(snapshot, func(_ int64, err error) { startErr = err })
	}()

	if startErr == nil && !p.Running() {
		startErr = fmt.Errorf("poller for %s did not reach running state", src.Name)
	}
	if startErr != nil {
		o.release(p, srcLog)
		o.reportStartError(src.ID, src.Name, startErr, srcLog)
		return false
	}

	h := &handle{poller: p, sourceID: src.ID, runID: uuid.NewString(), startedAt: o.now()}
	o.mu.Lock()
	o.live[src.Name] = h
	o.mu.Unlock()

	srcLog.Info("source started", logger.String(logger.FieldRunID, h.runID))
	return true
}

func (o *Orchestrator) stop(name string, h *handle, log *logger.CanonicalLogger) {
	o.mu.Lock()
	delete(o.live, name)
	o.mu.Unlock()

	srcLog := log.WithSource(name)
	o.release(h.poller, srcLog)
	srcLog.Info("source stopped",
		logger.String(logger.FieldRunID, h.runID),
		logger.Duration("uptime", o.now().Sub(h.startedAt)),
	)
}

// release stops and closes p, containing any panic.
func (o *Orchestrator) release(p Poller, log *logger.CanonicalLogger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("poller stop panicked", logger.String("panic", fmt.Sprintf("%v", r)))
		}
	}()
	p.Stop()
	p.Close()
}

// clearRestartFlag clears the flag as of the generation that was loaded. A
// flag asserted again after the load stays set for the next tick.
func (o *Orchestrator) clearRestartFlag(ctx context.Context, src models.Source, log *logger.CanonicalLogger) {
	cleared, err := o.store.ClearRestartFlag(ctx, src.Name, src.RestartGeneration)
	if err != nil {
		log.WithSource(src.Name).WithError(err).Error("failed to clear restart flag")
		return
	}
	if !cleared {
		log.WithSource(src.Name).Info("restart requested again during reconciliation, restarting next tick")
	}
}

func (o *Orchestrator) reportStartError(id int64, name string, err error, log *logger.CanonicalLogger) {
	log.WithError(err).Error("source start failed", logger.Int64(logger.FieldSourceID, id))
	if o.onError == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("start error handler panicked", logger.String("panic", fmt.Sprintf("%v", r)))
		}
	}()
	o.onError(id, fmt.Errorf("source %s: %w", name, err))
}

// fetchTimeout resolves the global fetch timeout once per tick.
func (o *Orchestrator) fetchTimeout(ctx context.Context, log *logger.CanonicalLogger) time.Duration {
	if o.settings == nil {
		return o.cfg.FetchTimeout
	}
	raw, ok, err := o.settings.GetSetting(ctx, models.SettingFetchTimeoutSeconds)
	if err != nil {
		log.WithError(err).Warn("failed to read fetch timeout setting, using default")
		return o.cfg.FetchTimeout
	}
	if !ok {
		return o.cfg.FetchTimeout
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		log.Warn("ignoring invalid fetch timeout setting", logger.String("value", raw))
		return o.cfg.FetchTimeout
	}
	return time.Duration(seconds) * time.Second
}

// index dedupes sources by name, keeping the first occurrence and the
// loaded order.
func index(sources []models.Source, log *logger.CanonicalLogger) ([]models.Source, map[string]models.Source) {
	ordered := make([]models.Source, 0, len(sources))
	byName := make(map[string]models.Source, len(sources))
	for _, src := range sources {
		if _, dup := byName[src.Name]; dup {
			log.Warn("duplicate source name ignored",
				logger.String(logger.FieldSource, src.Name),
				logger.Int64(logger.FieldSourceID, src.ID),
			)
			continue
		}
		byName[src.Name] = src
		ordered = append(ordered, src)
	}
	return ordered, byName
}
