package metrics

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
)

// Registry collects counters for the event buses, the debounce
// aggregator, and reload outcomes.
type Registry struct {
	buses sync.Map

	batchesFlushed  atomic.Int64
	reloadSucceeded atomic.Int64
	reloadRejected  atomic.Int64
	reloadFailed    atomic.Int64
	activeWatches   atomic.Int64
}

type busStats struct {
	published   atomic.Int64
	dropped     atomic.Int64
	subscribers atomic.Int64
}

var Default = &Registry{}

func (r *Registry) bus(name string) *busStats {
	if name == "" {
		name = "event_bus"
	}
	if existing, ok := r.buses.Load(name); ok {
		return existing.(*busStats)
	}
	created, _ := r.buses.LoadOrStore(name, &busStats{})
	return created.(*busStats)
}

func (r *Registry) IncEventPublished(bus string) {
	if r == nil {
		return
	}
	r.bus(bus).published.Add(1)
}

func (r *Registry) IncEventDropped(bus string) {
	if r == nil {
		return
	}
	r.bus(bus).dropped.Add(1)
}

func (r *Registry) SetEventSubscribers(bus string, count int) {
	if r == nil {
		return
	}
	r.bus(bus).subscribers.Store(int64(count))
}

func (r *Registry) IncBatchFlushed() {
	if r == nil {
		return
	}
	r.batchesFlushed.Add(1)
}

func (r *Registry) IncReloadSucceeded() {
	if r == nil {
		return
	}
	r.reloadSucceeded.Add(1)
}

func (r *Registry) IncReloadRejected() {
	if r == nil {
		return
	}
	r.reloadRejected.Add(1)
}

func (r *Registry) IncReloadFailed() {
	if r == nil {
		return
	}
	r.reloadFailed.Add(1)
}

func (r *Registry) SetActiveWatches(count int) {
	if r == nil {
		return
	}
	r.activeWatches.Store(int64(count))
}

// WritePrometheus renders the registry in Prometheus text format.
func (r *Registry) WritePrometheus(writer io.Writer) error {
	if r == nil {
		return nil
	}

	names := make([]string, 0)
	r.buses.Range(func(key, _ any) bool {
		names = append(names, key.(string))
		return true
	})
	sort.Strings(names)

	for _, name := range names {
		stats := r.bus(name)
		if _, err := fmt.Fprintf(writer, "rekindle_events_published_total{bus=%q} %d\n", name, stats.published.Load()); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(writer, "rekindle_events_dropped_total{bus=%q} %d\n", name, stats.dropped.Load()); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(writer, "rekindle_event_subscribers{bus=%q} %d\n", name, stats.subscribers.Load()); err != nil {
			return err
		}
	}

	scalars := []struct {
		name  string
		value int64
	}{
		{"rekindle_batches_flushed_total", r.batchesFlushed.Load()},
		{"rekindle_reloads_succeeded_total", r.reloadSucceeded.Load()},
		{"rekindle_reloads_rejected_total", r.reloadRejected.Load()},
		{"rekindle_reloads_failed_total", r.reloadFailed.Load()},
		{"rekindle_active_watches", r.activeWatches.Load()},
	}
	for _, scalar := range scalars {
		if _, err := fmt.Fprintf(writer, "%s %d\n", scalar.name, scalar.value); err != nil {
			return err
		}
	}
	return nil
}
