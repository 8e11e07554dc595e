// Package driver polls the frame source at a fixed interval and feeds inference results to the monitor.
package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/frame"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/inference"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/monitor"
)

var log = logger.For("Driver")

var (
	// ErrBusy is returned by RunOnce while another tick is in flight.
	ErrBusy = errors.New("driver: tick in flight")
	// ErrStopped is returned once the driver has been stopped.
	ErrStopped = errors.New("driver: stopped")
	// ErrDiscarded is returned when a tick result arrived after stop.
	ErrDiscarded = errors.New("driver: result discarded after stop")
)

// Config holds driver settings
type Config struct {
	Interval time.Duration
}

// Driver runs at most one tick at a time. Ticks that fire while one is in flight are skipped, not queued.
type Driver struct {
	cfg     Config
	frames  frame.Source
	infer   inference.Inferencer
	monitor *monitor.Monitor
	metrics *metrics.Metrics
	clock   clock.Clock

	busy      atomic.Bool
	stopped   atomic.Bool
	wg        sync.WaitGroup
	lastFrame atomic.Pointer[frame.Frame]

	// mu serializes Stop with applying a tick result.
	mu     sync.Mutex
	cancel context.CancelFunc
}

// New creates a driver. A nil clock uses the wall clock.
func New(cfg Config, frames frame.Source, infer inference.Inferencer, mon *monitor.Monitor, m *metrics.Metrics, clk clock.Clock) *Driver {
	if clk == nil {
		clk = clock.New()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Driver{
		cfg:     cfg,
		frames:  frames,
		infer:   infer,
		monitor: mon,
		metrics: m,
		clock:   clk,
	}
}

// Run ticks until ctx is done or Stop is called.
func (d *Driver) Run(ctx context.Context) error {
	if d.cfg.Interval <= 0 {
		return fmt.Errorf("driver: interval must be positive, got %v", d.cfg.Interval)
	}
	if d.stopped.Load() {
		return ErrStopped
	}

	ctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()
	defer cancel()

	ticker := d.clock.Ticker(d.cfg.Interval)
	defer ticker.Stop()

	log.Info("Polling every %v", d.cfg.Interval)

	for {
		select {
		case <-ctx.Done():
			d.mu.Lock()
			d.stopped.Store(true)
			d.mu.Unlock()
			log.Info("Stopped")
			return nil
		case <-ticker.C:
			d.trigger(ctx)
		}
	}
}

// Stop ends Run. Results of a tick still in flight are discarded.
func (d *Driver) Stop() {
	d.mu.Lock()
	d.stopped.Store(true)
	if d.cancel != nil {
		d.cancel()
	}
	d.mu.Unlock()
}

// Wait blocks until the in-flight tick, if any, returns.
func (d *Driver) Wait() {
	d.wg.Wait()
}

// Busy reports whether a tick is in flight.
func (d *Driver) Busy() bool {
	return d.busy.Load()
}

// LastFrame returns the most recently acquired frame.
func (d *Driver) LastFrame() (frame.Frame, bool) {
	f := d.lastFrame.Load()
	if f == nil {
		return frame.Frame{}, false
	}
	return *f, true
}

// RunOnce executes one tick synchronously.
func (d *Driver) RunOnce(ctx context.Context) error {
	if d.stopped.Load() {
		return ErrStopped
	}
	if !d.busy.CompareAndSwap(false, true) {
		d.metrics.TicksSkipped.Add(1)
		return ErrBusy
	}
	defer d.busy.Store(false)
	d.metrics.Ticks.Add(1)
	return d.tick(ctx)
}

func (d *Driver) trigger(ctx context.Context) {
	if !d.busy.CompareAndSwap(false, true) {
		d.metrics.TicksSkipped.Add(1)
		log.Debug("Tick skipped, previous inference still in flight")
		return
	}
	d.metrics.Ticks.Add(1)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.busy.Store(false)
		if err := d.tick(ctx); err != nil && !errors.Is(err, ErrDiscarded) {
			log.Debug("Tick: %v", err)
		}
	}()
}

func (d *Driver) discard(ctx context.Context) bool {
	return d.stopped.Load() || ctx.Err() != nil
}

// apply runs fn unless the driver stopped first. Stop cannot land between the check and fn.
func (d *Driver) apply(ctx context.Context, fn func() error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.discard(ctx) {
		d.metrics.TicksDropped.Add(1)
		return ErrDiscarded
	}
	return fn()
}

func (d *Driver) tick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.metrics.TickPanics.Add(1)
			log.Error("Recovered panic in tick: %v", r)
			err = fmt.Errorf("driver: panic in tick: %v", r)
		}
	}()

	start := d.clock.Now()

	f, err := d.frames.Next(ctx)
	if err != nil {
		if d.discard(ctx) {
			d.metrics.TicksDropped.Add(1)
			return ErrDiscarded
		}
		frameErr := err
		return d.apply(ctx, func() error {
			d.metrics.FrameErrors.Add(1)
			log.Warn("Frame acquisition failed: %v", frameErr)
			d.monitor.HandleMiss(d.clock.Now())
			return frameErr
		})
	}
	d.lastFrame.Store(&f)

	inferStart := d.clock.Now()
	tensor, err := d.infer.Infer(ctx, f)
	d.metrics.UpdateInferenceLatency(d.clock.Since(inferStart))

	if d.discard(ctx) {
		d.metrics.TicksDropped.Add(1)
		return ErrDiscarded
	}

	inferErr := err
	width, height := f.Width(), f.Height()
	err = d.apply(ctx, func() error {
		now := d.clock.Now()
		if inferErr != nil {
			d.metrics.InferenceErrors.Add(1)
			log.Warn("Inference failed, treating tick as a miss: %v", inferErr)
			d.monitor.HandleMiss(now)
			return inferErr
		}
		if err := d.monitor.HandleTensor(now, tensor, width, height); err != nil {
			log.Error("Dropping tick: %v", err)
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	d.metrics.UpdateTickLatency(d.clock.Since(start))
	return nil
}
