// Package watch runs the periodic check cycle of every watched thread.
package watch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/thread-watcher/pkg/concurrency"
	"github.com/Sriram-PR/thread-watcher/pkg/config"
	"github.com/Sriram-PR/thread-watcher/pkg/extract"
	"github.com/Sriram-PR/thread-watcher/pkg/fetch"
	"github.com/Sriram-PR/thread-watcher/pkg/models"
	"github.com/Sriram-PR/thread-watcher/pkg/parse"
	"github.com/Sriram-PR/thread-watcher/pkg/status"
	"github.com/Sriram-PR/thread-watcher/pkg/storage"
	"github.com/Sriram-PR/thread-watcher/pkg/utils"
)

var (
	ErrWatchExists   = errors.New("thread already watched")
	ErrUnknownWatch  = errors.New("unknown watch")
	ErrEngineStopped = errors.New("engine shut down")
)

// cycleGroup is the pool group running watch cycles. Resource downloads run
// on per-host groups.
const cycleGroup = "cycles"

// WatchStatus is a point-in-time view of one watch.
type WatchStatus struct {
	Watch   models.WatchRecord
	Counts  models.ResourceCounts
	Running bool // A cycle is in progress
}

// watchState is the in-memory companion of a stored watch.
type watchState struct {
	rec       *models.WatchRecord
	ctx       context.Context
	cancel    context.CancelFunc
	handle    *concurrency.Handle
	running   bool
	rerun     bool // Check again as soon as the running cycle ends
	skip      []*regexp.Regexp
	extractor extract.Extractor
	namer     *extract.Namer
	pages     map[string]*pageCache // normalized page URL -> last extraction
}

// Engine owns the task runtime, the network stack and the store, and drives
// every watch through its check cycles.
type Engine struct {
	cfg        config.AppConfig
	store      storage.Store
	registry   *extract.Registry
	pools      *concurrency.Pools
	sched      *concurrency.Scheduler
	conns      *fetch.HostConnections
	limiter    *fetch.RateLimiter
	downloader *fetch.Downloader
	robots     *fetch.RobotsChecker
	broker     *status.Broker
	log        *logrus.Entry

	ctx    context.Context // Engine lifetime
	cancel context.CancelFunc

	mu      sync.Mutex
	watches map[string]*watchState
	loaded  bool
	started bool
	closed  bool
	cycles  sync.WaitGroup
	bgWg    sync.WaitGroup
}

// NewEngine wires an engine from a validated configuration. newTransport may
// be nil to build transports from cfg.HTTPClientSettings.
func NewEngine(cfg config.AppConfig, store storage.Store, registry *extract.Registry, newTransport fetch.TransportFactory, log *logrus.Entry) *Engine {
	if registry == nil {
		registry = extract.DefaultRegistry()
	}
	if newTransport == nil {
		newTransport = fetch.NewTransportFactory(cfg.HTTPClientSettings)
	}

	pools := concurrency.NewPools(concurrency.PoolOptions{
		MinWorkers:  cfg.PoolMinWorkers,
		Threshold:   cfg.PoolThreshold,
		IdleTimeout: cfg.PoolIdleTimeout,
	}, log.WithField("component", "pools"))
	conns := fetch.NewHostConnections(cfg.MaxConnectionsPerHost, newTransport, log.WithField("component", "connections"))
	limiter := fetch.NewRateLimiter(cfg.DelayPerHost, log.WithField("component", "rate_limiter"))
	downloader := fetch.NewDownloader(conns, limiter, fetch.DownloaderOptions{
		MaxTries:       cfg.MaxTries,
		RequestTimeout: cfg.RequestTimeout,
		ReadTimeout:    cfg.ReadTimeout,
		DelayPerHost:   cfg.DelayPerHost,
	}, log.WithField("component", "downloader"))
	robots := fetch.NewRobotsChecker(conns, limiter, cfg.DelayPerHost, cfg.RequestTimeout, cfg.UserAgent, log.WithField("component", "robots"))

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:        cfg,
		store:      store,
		registry:   registry,
		pools:      pools,
		sched:      concurrency.NewScheduler(pools, cfg.SchedulerIdleTimeout, log.WithField("component", "scheduler")),
		conns:      conns,
		limiter:    limiter,
		downloader: downloader,
		robots:     robots,
		broker:     status.NewBroker(cfg.StatusBuffer, log.WithField("component", "status")),
		log:        log.WithField("component", "engine"),
		ctx:        ctx,
		cancel:     cancel,
		watches:    make(map[string]*watchState),
	}
}

// Subscribe returns a subscription to the engine's status events.
func (e *Engine) Subscribe() *status.Subscription {
	return e.broker.Subscribe()
}

// Load reads the stored watches into memory without scheduling them. It is
// called by Start and lets tools inspect or edit watches without checking.
func (e *Engine) Load() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineStopped
	}
	if e.loaded {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	recs, err := e.store.ListWatches()
	if err != nil {
		return fmt.Errorf("loading watches: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loaded {
		return nil
	}
	e.loaded = true
	for _, rec := range recs {
		if _, ok := e.watches[rec.ID]; ok {
			continue
		}
		ws, err := e.newWatchState(rec)
		if err != nil {
			e.log.WithField("watch_id", rec.ID).Errorf("Cannot restore watch: %v", err)
			continue
		}
		e.watches[rec.ID] = ws
	}
	return nil
}

// Start loads the stored watches and schedules every one that is not stopped.
func (e *Engine) Start() error {
	if err := e.Load(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineStopped
	}
	if e.started {
		return nil
	}
	e.started = true

	e.bgWg.Add(1)
	go func() {
		defer e.bgWg.Done()
		e.conns.RunEviction(e.ctx, e.cfg.HostEvictionInterval)
	}()

	now := time.Now()
	for _, ws := range e.watches {
		if ws.rec.Stopped() {
			continue
		}
		due := ws.rec.NextCheck
		if due.Before(now) {
			due = now
		}
		e.scheduleLocked(ws, due)
	}
	e.log.Infof("Engine started with %d watches", len(e.watches))
	return nil
}

// Add registers a new watch and schedules its first check immediately when the
// engine is running. Adding a URL that is already watched returns the existing
// record with ErrWatchExists.
func (e *Engine) Add(wc config.WatchConfig) (*models.WatchRecord, error) {
	if err := e.Load(); err != nil {
		return nil, err
	}
	warnings, err := wc.Validate()
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		e.log.WithField("url", wc.URL).Warn(w)
	}

	normURL, pageURL, err := parse.ParseAndNormalize(wc.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrConfigValidation, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEngineStopped
	}
	for _, ws := range e.watches {
		if parse.NormalizeURL(mustParse(ws.rec.URL)) == normURL {
			existing := *ws.rec
			return &existing, ErrWatchExists
		}
	}

	dir := wc.Dir
	if dir == "" {
		dir = filepath.Join(e.cfg.DownloadDir, defaultDirName(pageURL))
	}
	rec := &models.WatchRecord{
		ID:             uuid.NewString(),
		URL:            pageURL.String(),
		Dir:            dir,
		Interval:       config.GetEffectiveInterval(wc, e.cfg),
		UserAgent:      config.GetEffectiveUserAgent(wc, e.cfg),
		Username:       wc.Username,
		Password:       wc.Password,
		Referer:        wc.Referer,
		Extractor:      wc.Extractor,
		RespectRobots:  config.GetEffectiveRespectRobots(wc, e.cfg),
		SkipPatterns:   wc.SkipPatterns,
		SkipThumbnails: wc.SkipThumbnails,
		AddedAt:        time.Now(),
	}
	ws, err := e.newWatchState(rec)
	if err != nil {
		return nil, err
	}
	if err := e.store.PutWatch(rec); err != nil {
		return nil, err
	}
	e.watches[rec.ID] = ws

	e.log.WithFields(logrus.Fields{"watch_id": rec.ID, "url": rec.URL, "dir": rec.Dir}).Info("Watch added")
	e.broker.Publish(status.Event{Kind: status.EventWatchAdded, WatchID: rec.ID, URL: rec.URL})
	if e.started {
		e.scheduleLocked(ws, time.Now())
	}
	added := *rec
	return &added, nil
}

// Remove stops a watch and deletes it with all of its resource records.
// Downloaded files are left on disk.
func (e *Engine) Remove(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ws, ok := e.watches[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWatch, id)
	}
	delete(e.watches, id)
	ws.cancel()
	e.sched.Cancel(ws.handle)

	if err := e.store.DeleteWatch(id); err != nil {
		return err
	}
	e.log.WithField("watch_id", id).Info("Watch removed")
	e.broker.Publish(status.Event{Kind: status.EventWatchRemoved, WatchID: id, URL: ws.rec.URL})
	return nil
}

// Stop stops a watch on the user's behalf, aborting any transfer in flight.
func (e *Engine) Stop(id string) error {
	e.mu.Lock()
	ws, ok := e.watches[id]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWatch, id)
	}
	e.stopWatch(ws, models.StopReasonUser, "stopped by user")
	return nil
}

// Resume restarts a stopped watch with an immediate check.
func (e *Engine) Resume(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ws, ok := e.watches[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWatch, id)
	}
	if e.closed {
		return ErrEngineStopped
	}
	if !ws.rec.Stopped() {
		return nil
	}
	ws.rec.StopReason = models.StopReasonNone
	ws.rec.StoppedAt = time.Time{}
	ws.ctx, ws.cancel = context.WithCancel(e.ctx)
	if err := e.store.PutWatch(ws.rec); err != nil {
		return err
	}
	if e.started {
		e.scheduleLocked(ws, time.Now())
	}
	return nil
}

// CheckNow moves the next check of a watch to now. While a cycle is running
// the next one starts right after it ends. Stopped watches are left alone.
func (e *Engine) CheckNow(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ws, ok := e.watches[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWatch, id)
	}
	if ws.rec.Stopped() {
		return nil
	}
	if ws.running {
		ws.rerun = true
		return nil
	}
	if ws.handle == nil {
		return nil
	}
	if err := e.sched.Reschedule(ws.handle, time.Now()); err != nil && !errors.Is(err, concurrency.ErrItemStarted) {
		return err
	}
	return nil
}

// Snapshot returns the state of every watch ordered by AddedAt.
func (e *Engine) Snapshot() []WatchStatus {
	e.mu.Lock()
	out := make([]WatchStatus, 0, len(e.watches))
	for _, ws := range e.watches {
		out = append(out, WatchStatus{Watch: *ws.rec, Running: ws.running})
	}
	e.mu.Unlock()

	for i := range out {
		counts, err := e.store.CountResources(out[i].Watch.ID)
		if err != nil {
			e.log.WithField("watch_id", out[i].Watch.ID).Warnf("Counting resources failed: %v", err)
		}
		out[i].Counts = counts
	}
	sortStatuses(out)
	return out
}

// Shutdown aborts running cycles, waits for them to wind down (bounded by
// ctx) and releases the engine's goroutines. The store is left open.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	for _, ws := range e.watches {
		ws.cancel()
	}
	e.mu.Unlock()

	e.sched.Close()

	done := make(chan struct{})
	go func() {
		e.cycles.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("waiting for running cycles: %w", ctx.Err())
	}

	e.cancel()
	e.bgWg.Wait()
	e.pools.Close()
	e.broker.Close()
	e.log.Info("Engine shut down")
	return err
}

// newWatchState prepares the runtime state for rec.
func (e *Engine) newWatchState(rec *models.WatchRecord) (*watchState, error) {
	pageURL, err := url.Parse(rec.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: watch url '%s': %w", utils.ErrConfigValidation, rec.URL, err)
	}
	ex, name, err := e.registry.Resolve(rec.Extractor, pageURL)
	if err != nil {
		return nil, fmt.Errorf("watch '%s' extractor '%s': %w", rec.URL, rec.Extractor, err)
	}
	skip, err := utils.CompileRegexPatterns(rec.SkipPatterns)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(e.ctx)
	e.log.WithFields(logrus.Fields{"watch_id": rec.ID, "extractor": name}).Debug("Prepared watch")
	return &watchState{
		rec:       rec,
		ctx:       ctx,
		cancel:    cancel,
		skip:      skip,
		extractor: ex,
		namer:     newWatchNamer(rec.Dir, e.cfg.MaxPathLength),
		pages:     make(map[string]*pageCache),
	}, nil
}

// scheduleLocked queues the next cycle of ws at due. Callers hold e.mu.
func (e *Engine) scheduleLocked(ws *watchState, due time.Time) {
	ws.rec.NextCheck = due
	ws.handle = e.sched.Schedule(due, func() { e.runCycle(ws) }, cycleGroup)
}

// stopWatch marks ws stopped, cancels its context and persists the reason.
func (e *Engine) stopWatch(ws *watchState, reason models.StopReason, message string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ws.rec.Stopped() {
		return
	}
	ws.rec.StopReason = reason
	ws.rec.StoppedAt = time.Now()
	ws.rec.NextCheck = time.Time{}
	ws.cancel()
	e.sched.Cancel(ws.handle)

	log := e.log.WithFields(logrus.Fields{"watch_id": ws.rec.ID, "url": ws.rec.URL, "reason": reason.String()})
	log.Warnf("Watch stopped: %s", message)
	if _, tracked := e.watches[ws.rec.ID]; tracked {
		if err := e.store.PutWatch(ws.rec); err != nil {
			log.Errorf("Persisting stop failed: %v", err)
		}
	}
	e.broker.Publish(status.Event{Kind: status.EventStopped, WatchID: ws.rec.ID, URL: ws.rec.URL, StopReason: reason, Message: message})
}

func defaultDirName(u *url.URL) string {
	return utils.SanitizeFilename(u.Hostname() + "_" + strings.Trim(u.Path, "/"))
}

func mustParse(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: creating '%s': %w", utils.ErrIOFatal, dir, err)
	}
	return nil
}
