// Package events delivers session events to external sinks without blocking the tick.
package events

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/pkg/types"
)

var log = logger.For("Events")

// ErrQueueFull is returned by Emit when the dispatch queue has no room.
var ErrQueueFull = errors.New("event queue full")

// ErrClosed is returned by Emit after Close.
var ErrClosed = errors.New("dispatcher closed")

// Sink receives session events.
type Sink interface {
	Emit(types.SessionEvent) error
}

// Dispatcher queues events and fans them out to sinks on its own goroutine.
type Dispatcher struct {
	queue   chan types.SessionEvent
	sinks   []Sink
	metrics *metrics.Metrics

	closed    atomic.Bool
	stop      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewDispatcher creates a dispatcher with a queue of size events.
func NewDispatcher(size int, m *metrics.Metrics, sinks ...Sink) *Dispatcher {
	if size <= 0 {
		size = 64
	}
	return &Dispatcher{
		queue:   make(chan types.SessionEvent, size),
		sinks:   sinks,
		metrics: m,
		stop:    make(chan struct{}),
	}
}

// Start launches the fan-out goroutine.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		d.wg.Add(1)
		go d.run()
	})
}

// Emit enqueues ev. It never blocks.
func (d *Dispatcher) Emit(ev types.SessionEvent) error {
	if d.closed.Load() {
		return ErrClosed
	}
	select {
	case d.queue <- ev:
		return nil
	default:
		d.metrics.EventsDropped.Add(1)
		return ErrQueueFull
	}
}

// Close stops the fan-out goroutine after delivering the queued events.
func (d *Dispatcher) Close() {
	d.stopOnce.Do(func() {
		d.closed.Store(true)
		close(d.stop)
	})
	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		case <-d.stop:
			for {
				select {
				case ev := <-d.queue:
					d.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(ev types.SessionEvent) {
	for _, s := range d.sinks {
		if err := s.Emit(ev); err != nil {
			d.metrics.SinkErrors.Add(1)
			log.Warn("sink %T failed for %s: %v", s, ev, err)
		}
	}
}

// LogSink writes every event to the log.
type LogSink struct{}

// Emit logs ev.
func (LogSink) Emit(ev types.SessionEvent) error {
	log.Info("%s at %s meta=%v", ev, ev.OccurredAt.Format("15:04:05"), ev.Meta)
	return nil
}
