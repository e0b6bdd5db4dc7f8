package watcher

import (
	"sync"
	"time"

	"rekindle/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// Event represents a single filesystem change.
type Event struct {
	Path      string
	Op        fsnotify.Op
	Timestamp time.Time
}

// Handle releases watcher resources for a registration.
type Handle interface {
	Close() error
}

// Watch registers a callback for filesystem events on a path.
type Watch interface {
	Watch(path string, callback func(Event)) (Handle, error)
}

// Options controls watcher behavior.
type Options struct {
	Logger     *logging.Logger
	MaxWatches int
	// ErrorHandler receives watch-level errors reported by the
	// underlying platform watcher. The affected watches are left as
	// the platform leaves them.
	ErrorHandler func(error)
}

// Watcher is the concrete fsnotify-backed implementation.
type Watcher struct {
	watcher       *fsnotify.Watcher
	mutex         sync.Mutex
	callbacks     map[string][]callbackEntry
	events        chan fsnotify.Event
	errors        chan error
	done          chan struct{}
	closed        bool
	logger        *logging.Logger
	maxWatches    int
	activeWatches int
	errorHandler  func(error)
	nextID        uint64

	eventsDelivered uint64
	errorCount      uint64
}

// Metrics reports current watcher stats.
type Metrics struct {
	ActiveWatches   int
	EventsDelivered uint64
	Errors          uint64
}
