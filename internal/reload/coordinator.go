// Package reload coordinates debounced hot reloads: it watches a set
// of registered paths, folds their change events into batches, and
// asks the remote process to reload its code once per quiet window.
package reload

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"rekindle/internal/config"
	"rekindle/internal/event"
	"rekindle/internal/fsutil"
	"rekindle/internal/logging"
	"rekindle/internal/metrics"
	"rekindle/internal/packages"
	"rekindle/internal/vmservice"
	"rekindle/internal/watcher"

	"github.com/fsnotify/fsnotify"
)

// State is the coordinator lifecycle state.
type State int

const (
	Idle State = iota
	Running
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Transport is the remote reload session. vmservice.Client implements it.
type Transport interface {
	ListIsolates() ([]vmservice.Isolate, error)
	ReloadSources(isolateID string) (vmservice.ReloadResult, error)
	Close() error
}

// Options configures a Coordinator. Zero fields get defaults; Watch and
// Dial exist so tests can substitute fakes.
type Options struct {
	Settings config.Settings
	Logger   *logging.Logger
	Watch    watcher.Watch
	Dial     func(url string) (Transport, error)
	Packages *packages.Map
	Metrics  *metrics.Registry
}

// Coordinator owns the watch registry and the debounce aggregator and
// drives reload requests against the remote process.
type Coordinator struct {
	mu       sync.Mutex
	state    State
	settings config.Settings
	logger   *logging.Logger
	registry *Registry
	metrics  *metrics.Registry

	watch     watcher.Watch
	ownsWatch bool

	aggregator *Aggregator

	changes *event.Bus[event.ChangeEvent]
	reloads *event.Bus[event.ReloadEvent]

	dial      func(url string) (Transport, error)
	sessionMu sync.Mutex
	session   Transport

	flightMu sync.Mutex
	inFlight bool
	pending  bool

	pkgs *packages.Map
}

// Supported reports whether the settings carry a usable reload service
// endpoint. The coordinator cannot be constructed when they do not.
func Supported(settings config.Settings) bool {
	parsed, err := url.Parse(settings.ServiceURL)
	if err != nil {
		return false
	}
	switch parsed.Scheme {
	case "ws", "wss":
		return parsed.Host != ""
	default:
		return false
	}
}

func New(opts Options) (*Coordinator, error) {
	if !Supported(opts.Settings) {
		return nil, fmt.Errorf("%w: service URL %q", ErrHotReloadUnsupported, opts.Settings.ServiceURL)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NewWithOutput(logging.LevelInfo, nil)
	}
	logger = logger.With(map[string]string{"rekindle.component": "coordinator"})

	registry := opts.Metrics
	if registry == nil {
		registry = metrics.Default
	}

	watch := opts.Watch
	ownsWatch := false
	if watch == nil {
		created, err := watcher.NewWithOptions(watcher.Options{Logger: opts.Logger})
		if err != nil {
			return nil, fmt.Errorf("create filesystem watcher: %w", err)
		}
		watch = created
		ownsWatch = true
	}

	pkgs := opts.Packages
	if pkgs == nil && opts.Settings.PackagesFile != "" {
		loaded, err := packages.Load(opts.Settings.PackagesFile)
		if err != nil {
			if ownsWatch {
				if closer, ok := watch.(*watcher.Watcher); ok {
					_ = closer.Close()
				}
			}
			return nil, err
		}
		pkgs = loaded
	}

	dial := opts.Dial
	if dial == nil {
		dial = func(url string) (Transport, error) {
			return vmservice.Dial(url)
		}
	}

	coordinator := &Coordinator{
		state:     Idle,
		settings:  opts.Settings,
		logger:    logger,
		metrics:   registry,
		watch:     watch,
		ownsWatch: ownsWatch,
		dial:      dial,
		pkgs:      pkgs,
		changes: event.NewBus[event.ChangeEvent](context.Background(), event.BusOptions{
			Name:        "change_notifications",
			HistorySize: 256,
			Registry:    registry,
		}),
		reloads: event.NewBus[event.ReloadEvent](context.Background(), event.BusOptions{
			Name:        "reload_notifications",
			HistorySize: 64,
			Registry:    registry,
		}),
	}
	coordinator.registry = NewRegistry(watch, opts.Logger, registry)
	return coordinator, nil
}

// HotReloadable reports whether hot reloading is available. It is by
// construction; a coordinator for an unsupported launch is never built.
func (c *Coordinator) HotReloadable() bool {
	return c != nil
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	if c == nil {
		return Terminated
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) IsRunning() bool {
	return c.State() == Running
}

// RegisterPath adds one path to the registered set.
func (c *Coordinator) RegisterPath(path string) error {
	if err := c.checkAlive(); err != nil {
		return err
	}
	c.registry.Register(path)
	return nil
}

// RegisterGlob registers every path matching the pattern.
func (c *Coordinator) RegisterGlob(pattern string) error {
	if err := c.checkAlive(); err != nil {
		return err
	}
	matches, err := fsutil.ExpandGlob(pattern)
	if err != nil {
		return err
	}
	for _, match := range matches {
		c.registry.Register(match)
	}
	return nil
}

// RegisterURI registers the path named by a file: URI or plain path.
func (c *Coordinator) RegisterURI(uri string) error {
	if err := c.checkAlive(); err != nil {
		return err
	}
	path, err := fsutil.PathFromURI(uri)
	if err != nil {
		return err
	}
	c.registry.Register(path)
	return nil
}

// RegisterPackageURI resolves a package: URI against the package map
// and registers the resulting path.
func (c *Coordinator) RegisterPackageURI(uri string) error {
	if err := c.checkAlive(); err != nil {
		return err
	}
	path, err := c.pkgs.Resolve(uri)
	if err != nil {
		return err
	}
	c.registry.Register(path)
	return nil
}

// RegisterDependencies registers the root directory of every package in
// the package map.
func (c *Coordinator) RegisterDependencies() error {
	if err := c.checkAlive(); err != nil {
		return err
	}
	if c.pkgs == nil {
		return packages.ErrNoPackageMap
	}
	for _, root := range c.pkgs.Roots() {
		c.registry.Register(root)
	}
	return nil
}

// RegisteredPaths returns the registered set, sorted.
func (c *Coordinator) RegisteredPaths() []string {
	if c == nil {
		return nil
	}
	return c.registry.Registered()
}

// WatchedPaths returns the actively watched paths, sorted.
func (c *Coordinator) WatchedPaths() []string {
	if c == nil {
		return nil
	}
	return c.registry.Watched()
}

// IsWatching reports whether one registered path is actively watched.
func (c *Coordinator) IsWatching(path string) bool {
	if c == nil {
		return false
	}
	return c.registry.IsWatching(path)
}

// Changes subscribes to the raw pre-debounce change stream.
func (c *Coordinator) Changes() (<-chan event.ChangeEvent, func()) {
	return c.changes.Subscribe()
}

// Reloads subscribes to reload-completion timestamps.
func (c *Coordinator) Reloads() (<-chan event.ReloadEvent, func()) {
	return c.reloads.Subscribe()
}

// ChangeHistory returns already-delivered change events, oldest first.
// It remains available after termination.
func (c *Coordinator) ChangeHistory() []event.ChangeEvent {
	return c.changes.History()
}

// ReloadHistory returns already-delivered reload events, oldest first.
// It remains available after termination.
func (c *Coordinator) ReloadHistory() []event.ReloadEvent {
	return c.reloads.History()
}

// Start builds the watch registry and begins debounced reload
// triggering. Starting while already running restarts: the registry is
// rebuilt wholesale so registrations made since the last Start take
// effect.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Terminated:
		return ErrTerminated
	case Running:
		c.stopLocked()
	}

	aggregator := NewAggregator(c.settings.Debounce)
	sink := func(raw watcher.Event) {
		change := event.ChangeEvent{
			Path:       raw.Path,
			Kind:       changeKind(raw.Op),
			OccurredAt: raw.Timestamp,
		}
		c.changes.Publish(change)
		aggregator.Add(change)
	}

	watched := c.registry.Build(sink)
	c.aggregator = aggregator
	go c.consumeBatches(aggregator)
	c.state = Running

	c.logger.Info("coordinator started", map[string]string{
		"watched":  strconv.Itoa(len(watched)),
		"debounce": c.settings.Debounce.String(),
	})
	return nil
}

// Stop cancels all watches and batch processing but keeps the public
// streams open; Start may be called again.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Terminated:
		return ErrTerminated
	case Idle:
		return nil
	}

	c.stopLocked()
	c.state = Idle
	c.logger.Info("coordinator stopped", nil)
	return nil
}

func (c *Coordinator) stopLocked() {
	c.registry.StopAll()
	if c.aggregator != nil {
		c.aggregator.Close()
		c.aggregator = nil
	}
}

// Terminate stops everything and closes both public streams. It is
// absorbing: after it returns, only stream history stays observable.
// A repeated Terminate is a no-op.
func (c *Coordinator) Terminate() error {
	c.mu.Lock()
	if c.state == Terminated {
		c.mu.Unlock()
		return nil
	}
	if c.state == Running {
		c.stopLocked()
	}
	c.state = Terminated
	c.mu.Unlock()

	c.changes.Close()
	c.reloads.Close()

	c.sessionMu.Lock()
	session := c.session
	c.session = nil
	c.sessionMu.Unlock()
	if session != nil {
		_ = session.Close()
	}

	if c.ownsWatch {
		if closer, ok := c.watch.(*watcher.Watcher); ok {
			_ = closer.Close()
		}
	}

	c.logger.Info("coordinator terminated", nil)
	return nil
}

// Reload performs one reload round trip: list the remote's isolates,
// ask the first one to reload, and publish a completion timestamp on
// success. A remote refusal is returned as *ReloadRejectedError and
// publishes nothing. There is no retry.
func (c *Coordinator) Reload() error {
	if err := c.checkAlive(); err != nil {
		return err
	}

	session, err := c.ensureSession()
	if err != nil {
		c.metrics.IncReloadFailed()
		return err
	}

	isolates, err := session.ListIsolates()
	if err != nil {
		c.dropSession(session)
		c.metrics.IncReloadFailed()
		return fmt.Errorf("list reload targets: %w", err)
	}
	if len(isolates) == 0 {
		c.metrics.IncReloadFailed()
		return ErrNoReloadTargets
	}

	// Only the first listed target is ever reloaded.
	target := isolates[0]
	result, err := session.ReloadSources(target.ID)
	if err != nil {
		c.dropSession(session)
		c.metrics.IncReloadFailed()
		return fmt.Errorf("reload %s: %w", target.ID, err)
	}
	if !result.Success {
		c.metrics.IncReloadRejected()
		return &ReloadRejectedError{Detail: result.Reason}
	}

	c.metrics.IncReloadSucceeded()
	completed := event.NewReloadEvent()
	c.reloads.Publish(completed)
	c.logger.Info("hot reload completed", map[string]string{
		"target": target.ID,
	})
	return nil
}

func (c *Coordinator) consumeBatches(aggregator *Aggregator) {
	for batch := range aggregator.Batches() {
		c.metrics.IncBatchFlushed()
		c.logger.Debug("change batch flushed", map[string]string{
			"events": strconv.Itoa(len(batch)),
		})
		c.requestReload()
	}
}

// requestReload coalesces reload triggers: while one reload is in
// flight, further batches mark at most one follow-up instead of firing
// concurrent calls against the shared session.
func (c *Coordinator) requestReload() {
	c.flightMu.Lock()
	if c.inFlight {
		c.pending = true
		c.flightMu.Unlock()
		return
	}
	c.inFlight = true
	c.flightMu.Unlock()

	go c.reloadLoop()
}

func (c *Coordinator) reloadLoop() {
	for {
		if err := c.Reload(); err != nil {
			c.logger.Warn("hot reload failed", map[string]string{
				"error": err.Error(),
			})
		}

		c.flightMu.Lock()
		if !c.pending {
			c.inFlight = false
			c.flightMu.Unlock()
			return
		}
		c.pending = false
		c.flightMu.Unlock()
	}
}

// ensureSession lazily dials the reload service and reuses the session
// across calls.
func (c *Coordinator) ensureSession() (Transport, error) {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	if c.session != nil {
		return c.session, nil
	}
	session, err := c.dial(c.settings.ServiceURL)
	if err != nil {
		return nil, err
	}
	c.session = session
	return session, nil
}

// dropSession discards a failed session so the next call re-dials.
func (c *Coordinator) dropSession(session Transport) {
	c.sessionMu.Lock()
	if c.session == session {
		c.session = nil
	}
	c.sessionMu.Unlock()
	_ = session.Close()
}

func (c *Coordinator) checkAlive() error {
	if c == nil {
		return ErrTerminated
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Terminated {
		return ErrTerminated
	}
	return nil
}

func changeKind(op fsnotify.Op) event.ChangeKind {
	switch {
	case op.Has(fsnotify.Create):
		return event.KindCreated
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return event.KindRemoved
	default:
		return event.KindModified
	}
}
