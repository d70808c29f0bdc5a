// Package monitor runs the start/stop controlled measurement loop.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/SteveTheBeaver/GardenMonitor/internal/debug"
	"github.com/SteveTheBeaver/GardenMonitor/internal/hw/gpio"
	"github.com/SteveTheBeaver/GardenMonitor/internal/hw/sensor"
	"github.com/SteveTheBeaver/GardenMonitor/internal/logic/capture"
	"github.com/SteveTheBeaver/GardenMonitor/internal/logic/indicator"
	"github.com/SteveTheBeaver/GardenMonitor/internal/metrics"
	"github.com/SteveTheBeaver/GardenMonitor/internal/notify"
)

// Indicator is the LED panel.
type Indicator interface {
	Update(r *sensor.Reading) error
	Off() error
	Current() indicator.Signal
}

// Capturer stores one image per call.
type Capturer interface {
	Capture(ctx context.Context) (*capture.Artifact, error)
	Close() error
}

// Deliverer fans a payload out to the remote channels.
type Deliverer interface {
	Deliver(ctx context.Context, p notify.Payload) []notify.Result
	Close() error
}

// Config holds the loop timing and the button pin.
type Config struct {
	ButtonPin       int
	PollInterval    time.Duration // sleep between cycles
	Debounce        time.Duration // minimum time between two accepted toggles
	CaptureInterval time.Duration
	CallTimeout     time.Duration // bound on each sensor and camera call
}

// Controller owns the monitoring state and the capture timer. RunCycle and
// Run must be called from a single goroutine; Snapshot and RequestToggle
// are safe from any goroutine.
type Controller struct {
	cfg      Config
	gpio     gpio.Driver
	sensor   sensor.Sensor
	panel    Indicator
	store    Capturer
	notifier Deliverer

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	state     State
	timer     CaptureTimer
	prevLevel gpio.Level
	lastEdge  time.Time
	requests  chan struct{}
	onChange  func(State)

	snapMu sync.RWMutex
	snap   Snapshot

	closeOnce sync.Once
	closeErr  error
}

// New configures the button as a pull-up input and returns an Inactive
// controller.
func New(cfg Config, g gpio.Driver, s sensor.Sensor, p Indicator, store Capturer, n Deliverer) (*Controller, error) {
	if err := g.SetupPin(cfg.ButtonPin, gpio.InputPullUp); err != nil {
		return nil, fmt.Errorf("setup button pin %d: %w", cfg.ButtonPin, err)
	}
	c := &Controller{
		cfg:       cfg,
		gpio:      g,
		sensor:    s,
		panel:     p,
		store:     store,
		notifier:  n,
		now:       time.Now,
		sleep:     sleepCtx,
		state:     Inactive,
		timer:     CaptureTimer{Interval: cfg.CaptureInterval},
		prevLevel: gpio.High,
		requests:  make(chan struct{}, 1),
	}
	c.publish(func(*Snapshot) {})
	return c, nil
}

// OnStateChange registers fn to be called after every accepted toggle.
// Must be called before Run.
func (c *Controller) OnStateChange(fn func(State)) {
	c.onChange = fn
}

// State returns the current mode. Only meaningful on the loop goroutine.
func (c *Controller) State() State {
	return c.state
}

// Timer returns the capture timer. Only meaningful on the loop goroutine.
func (c *Controller) Timer() CaptureTimer {
	return c.timer
}

// RequestToggle queues a software button press for the next cycle. It
// returns false if one is already pending.
func (c *Controller) RequestToggle() bool {
	select {
	case c.requests <- struct{}{}:
		return true
	default:
		return false
	}
}

// PollToggle reports whether a debounced toggle edge occurred since the
// last call. A button edge is a HIGH to LOW transition; a pending
// RequestToggle counts as one and stays queued while the debounce window
// is open.
func (c *Controller) PollToggle() bool {
	level, err := c.gpio.ReadPin(c.cfg.ButtonPin)
	if err != nil {
		debug.Warn("Error reading button: %v", err)
		level = c.prevLevel
	}
	edge := c.prevLevel == gpio.High && level == gpio.Low
	c.prevLevel = level

	now := c.now()
	if !c.lastEdge.IsZero() && now.Sub(c.lastEdge) < c.cfg.Debounce {
		if edge {
			debug.Verbose("Toggle ignored, %v since last edge", now.Sub(c.lastEdge))
		}
		return false
	}

	select {
	case <-c.requests:
		edge = true
	default:
	}
	if !edge {
		return false
	}
	c.lastEdge = now
	return true
}

// Toggle flips the state and emits the new monitoring status on every
// channel. Going Inactive switches the panel off.
func (c *Controller) Toggle(ctx context.Context) {
	if c.state == Active {
		c.state = Inactive
	} else {
		c.state = Active
	}
	active := c.state == Active

	if !active {
		if err := c.panel.Off(); err != nil {
			debug.Warn("Error switching LEDs off: %v", err)
		}
	}
	debug.State(active)
	metrics.SetActive(active)
	c.notifier.Deliver(ctx, notify.StatusPayload(active))

	c.publish(func(*Snapshot) {})
	if c.onChange != nil {
		c.onChange(c.state)
	}
}

// RunCycle performs one iteration of the loop. It only returns an error
// when ctx is done.
func (c *Controller) RunCycle(ctx context.Context) error {
	start := time.Now()
	defer metrics.ObserveCycle(start)
	c.publish(func(s *Snapshot) { s.Cycles++ })

	if c.PollToggle() {
		c.Toggle(ctx)
		return c.sleep(ctx, c.cfg.Debounce)
	}
	if c.state == Inactive {
		return ctx.Err()
	}

	r, err := c.read(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		debug.Warn("Error reading DHT22 sensor: %v", err)
		metrics.SensorFailed()
		if err := c.panel.Update(nil); err != nil {
			debug.Warn("Error updating LEDs: %v", err)
		}
		c.publish(func(s *Snapshot) { s.LastError = err.Error() })
		return nil
	}

	if err := c.panel.Update(r); err != nil {
		debug.Warn("Error updating LEDs: %v", err)
	}
	metrics.ObserveReading(r.TemperatureF, r.HumidityPct)

	payload := notify.Payload{Events: notify.ReadingEvents(r.TemperatureF, r.HumidityPct)}
	var lastCapture *CaptureView
	var captureErr error
	if now := c.now(); c.timer.Due(now) {
		payload.Artifact, captureErr = c.capture(ctx)
		if a := payload.Artifact; a != nil {
			c.timer.Last = now
			lastCapture = &CaptureView{Name: a.Name, Path: a.Path, At: a.CreatedAt}
		}
	}

	c.notifier.Deliver(ctx, payload)
	debug.Reading(r.TemperatureF, r.HumidityPct)

	view := &ReadingView{TemperatureF: r.TemperatureF, HumidityPct: r.HumidityPct, At: r.Timestamp}
	c.publish(func(s *Snapshot) {
		s.Reading = view
		s.LastError = ""
		if lastCapture != nil {
			s.LastCapture = lastCapture
		}
		if captureErr != nil {
			s.LastError = captureErr.Error()
		}
	})
	return ctx.Err()
}

func (c *Controller) read(ctx context.Context) (*sensor.Reading, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()
	return c.sensor.Read(ctx)
}

func (c *Controller) capture(ctx context.Context) (*capture.Artifact, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()
	a, err := c.store.Capture(ctx)
	metrics.ObserveCapture(err == nil)
	if err != nil {
		debug.Warn("Error capturing image: %v", err)
		return nil, err
	}
	debug.Info("Image captured: %s", a.Name)
	return a, nil
}

func (c *Controller) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.cfg.CallTimeout)
}

// Run loops RunCycle with PollInterval pauses until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	for {
		if err := c.RunCycle(ctx); err != nil {
			break
		}
		if err := c.sleep(ctx, c.cfg.PollInterval); err != nil {
			break
		}
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return ctx.Err()
}

// Close switches the panel off and releases every resource. Safe to call
// more than once and in any state.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		var errs []error
		if err := c.panel.Off(); err != nil {
			errs = append(errs, fmt.Errorf("panel: %w", err))
		}
		if err := c.sensor.Close(); err != nil {
			errs = append(errs, fmt.Errorf("sensor: %w", err))
		}
		if err := c.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("camera: %w", err))
		}
		if err := c.notifier.Close(); err != nil {
			errs = append(errs, fmt.Errorf("channels: %w", err))
		}
		if err := c.gpio.Close(); err != nil {
			errs = append(errs, fmt.Errorf("gpio: %w", err))
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
