package reload

import (
	"sort"
	"strconv"
	"sync"

	"rekindle/internal/fsutil"
	"rekindle/internal/logging"
	"rekindle/internal/metrics"
	"rekindle/internal/watcher"
)

// watchedPath is one registered path that is actively watched: the
// string as registered, its resolved location, and the exclusively
// owned subscription handle.
type watchedPath struct {
	requested string
	resolved  string
	handle    watcher.Handle
}

// Registry owns the set of registered path requests and, while built,
// the mapping from requested path to its active watch. The mapping is
// rebuilt wholesale on every Build, never patched.
type Registry struct {
	mu         sync.Mutex
	watch      watcher.Watch
	logger     *logging.Logger
	registry   *metrics.Registry
	registered map[string]struct{}
	active     map[string]*watchedPath
}

func NewRegistry(watch watcher.Watch, logger *logging.Logger, registry *metrics.Registry) *Registry {
	if registry == nil {
		registry = metrics.Default
	}
	return &Registry{
		watch:      watch,
		logger:     logger,
		registry:   registry,
		registered: make(map[string]struct{}),
		active:     make(map[string]*watchedPath),
	}
}

// Register adds a path to the registered set. Idempotent; watching does
// not begin until the next Build.
func (r *Registry) Register(path string) {
	if r == nil || path == "" {
		return
	}
	r.mu.Lock()
	r.registered[path] = struct{}{}
	r.mu.Unlock()
}

// Registered returns the registered paths, sorted.
func (r *Registry) Registered() []string {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	paths := make([]string, 0, len(r.registered))
	for path := range r.registered {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Build replaces the active mapping: every previous watch is stopped,
// then each registered path is resolved and watched, forwarding its
// events into sink. A path that fails to resolve is skipped; a watch
// that fails to establish is skipped with a warning. Returns the paths
// now actively watched, sorted.
func (r *Registry) Build(sink func(watcher.Event)) []string {
	if r == nil || r.watch == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopAllLocked()

	for requested := range r.registered {
		resolved, err := fsutil.Resolve(requested)
		if err != nil {
			r.logDebug("path skipped", map[string]string{
				"path":  requested,
				"error": err.Error(),
			})
			continue
		}
		handle, err := r.watch.Watch(resolved, sink)
		if err != nil {
			r.logWarn("watch failed", map[string]string{
				"path":  resolved,
				"error": err.Error(),
			})
			continue
		}
		r.active[requested] = &watchedPath{
			requested: requested,
			resolved:  resolved,
			handle:    handle,
		}
		r.logInfo("now watching "+resolved, map[string]string{
			"path": requested,
		})
	}

	r.registry.SetActiveWatches(len(r.active))
	return r.watchedLocked()
}

// StopAll cancels every active subscription and clears the mapping.
// Each cancellation completes before StopAll returns.
func (r *Registry) StopAll() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopAllLocked()
	r.registry.SetActiveWatches(0)
}

func (r *Registry) stopAllLocked() {
	if len(r.active) == 0 {
		return
	}
	for requested, watched := range r.active {
		if watched.handle != nil {
			if err := watched.handle.Close(); err != nil {
				r.logWarn("watch stop failed", map[string]string{
					"path":  requested,
					"error": err.Error(),
				})
			}
		}
	}
	r.active = make(map[string]*watchedPath)
	r.logDebug("watches stopped", nil)
}

// IsWatching reports whether a registered path is actively watched.
func (r *Registry) IsWatching(path string) bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[path]
	return ok
}

// Watched returns the actively watched requested paths, sorted.
func (r *Registry) Watched() []string {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.watchedLocked()
}

func (r *Registry) watchedLocked() []string {
	paths := make([]string, 0, len(r.active))
	for requested := range r.active {
		paths = append(paths, requested)
	}
	sort.Strings(paths)
	return paths
}

// ActiveCount reports the number of active watches.
func (r *Registry) ActiveCount() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

func (r *Registry) logInfo(message string, fields map[string]string) {
	if r.logger == nil {
		return
	}
	r.logger.Info(message, withRegistryFields(r, fields))
}

func (r *Registry) logWarn(message string, fields map[string]string) {
	if r.logger == nil {
		return
	}
	r.logger.Warn(message, withRegistryFields(r, fields))
}

func (r *Registry) logDebug(message string, fields map[string]string) {
	if r.logger == nil {
		return
	}
	r.logger.Debug(message, withRegistryFields(r, fields))
}

func withRegistryFields(r *Registry, fields map[string]string) map[string]string {
	merged := make(map[string]string, len(fields)+2)
	merged["rekindle.component"] = "registry"
	merged["active_watches"] = strconv.Itoa(len(r.active))
	for key, value := range fields {
		merged[key] = value
	}
	return merged
}
