package reload

import (
	"sync"
	"time"

	"rekindle/internal/event"
)

const (
	aggregatorInputBuffer = 64
	aggregatorBatchBuffer = 4
)

// Aggregator folds a high-frequency change-event stream into batches.
// Incoming events accumulate in an ordered buffer; a periodic check
// every interval flushes the buffer as one batch once the spacing
// since the previous emission has elapsed. Events are never dropped,
// batches are never empty, and consecutive emissions are at least one
// interval apart. A zero interval degenerates to one batch per event.
type Aggregator struct {
	interval  time.Duration
	input     chan event.ChangeEvent
	output    chan []event.ChangeEvent
	done      chan struct{}
	closeOnce sync.Once
	finished  sync.WaitGroup
}

func NewAggregator(interval time.Duration) *Aggregator {
	if interval < 0 {
		interval = 0
	}
	aggregator := &Aggregator{
		interval: interval,
		input:    make(chan event.ChangeEvent, aggregatorInputBuffer),
		output:   make(chan []event.ChangeEvent, aggregatorBatchBuffer),
		done:     make(chan struct{}),
	}
	aggregator.finished.Add(1)
	go aggregator.run()
	return aggregator
}

// Add feeds one event into the accumulation buffer. Events arriving
// after Close are discarded; the owner stops its watches first.
func (a *Aggregator) Add(change event.ChangeEvent) {
	if a == nil {
		return
	}
	select {
	case a.input <- change:
	case <-a.done:
	}
}

// Batches is the emission stream. It is closed after Close, once any
// residual buffer has been flushed.
func (a *Aggregator) Batches() <-chan []event.ChangeEvent {
	if a == nil {
		return nil
	}
	return a.output
}

// Close stops the aggregator. Buffered events are flushed as a final
// batch so nothing is lost, then the batch stream is closed.
func (a *Aggregator) Close() {
	if a == nil {
		return
	}
	a.closeOnce.Do(func() {
		close(a.done)
	})
	a.finished.Wait()
}

func (a *Aggregator) run() {
	defer a.finished.Done()

	var buffer []event.ChangeEvent
	nextEligible := time.Now().Add(-a.interval)

	var tick <-chan time.Time
	if a.interval > 0 {
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	flush := func() {
		if len(buffer) == 0 {
			return
		}
		batch := buffer
		buffer = nil
		nextEligible = time.Now().Add(a.interval)
		a.output <- batch
	}

	for {
		select {
		case change := <-a.input:
			buffer = append(buffer, change)
			if a.interval == 0 {
				flush()
			}
		case <-tick:
			if !time.Now().Before(nextEligible) {
				flush()
			}
		case <-a.done:
			for {
				select {
				case change := <-a.input:
					buffer = append(buffer, change)
					continue
				default:
				}
				break
			}
			if len(buffer) > 0 {
				a.output <- buffer
			}
			close(a.output)
			return
		}
	}
}
