package indicator

import (
	"errors"

	"github.com/SteveTheBeaver/GardenMonitor/internal/debug"
	"github.com/SteveTheBeaver/GardenMonitor/internal/hw/gpio"
	"github.com/SteveTheBeaver/GardenMonitor/internal/hw/sensor"
)

// Default warning thresholds in °F. Both bounds are exclusive.
const (
	DefaultLowF  = 50.0
	DefaultHighF = 85.0
)

// Signal is the two-LED output derived from the latest reading.
type Signal struct {
	Status  bool `json:"status"`  // monitoring active with a valid reading
	Warning bool `json:"warning"` // temperature out of range
}

// Thresholds bounds the comfortable temperature range.
type Thresholds struct {
	LowF  float64
	HighF float64
}

// SignalFor maps a reading to the panel output. A nil reading turns
// everything off.
func (t Thresholds) SignalFor(r *sensor.Reading) Signal {
	if r == nil {
		return Signal{}
	}
	return Signal{
		Status:  true,
		Warning: r.TemperatureF > t.HighF || r.TemperatureF < t.LowF,
	}
}

// SignalFor uses the default 50-85°F range.
func SignalFor(r *sensor.Reading) Signal {
	return Thresholds{LowF: DefaultLowF, HighF: DefaultHighF}.SignalFor(r)
}

// Panel drives the status and warning LEDs.
type Panel struct {
	gpio       gpio.Driver
	statusPin  int
	warningPin int
	thresholds Thresholds
	current    Signal
}

// NewPanel configures both pins as outputs and switches them off.
func NewPanel(g gpio.Driver, statusPin, warningPin int, t Thresholds) (*Panel, error) {
	if err := g.SetupPin(statusPin, gpio.Output); err != nil {
		return nil, err
	}
	if err := g.SetupPin(warningPin, gpio.Output); err != nil {
		return nil, err
	}
	p := &Panel{
		gpio:       g,
		statusPin:  statusPin,
		warningPin: warningPin,
		thresholds: t,
	}
	return p, p.Off()
}

// Update drives both LEDs from r; nil switches both off.
func (p *Panel) Update(r *sensor.Reading) error {
	return p.Set(p.thresholds.SignalFor(r))
}

// Off switches both LEDs off.
func (p *Panel) Off() error {
	return p.Set(Signal{})
}

// Set writes s to the pins. Both pins are always written.
func (p *Panel) Set(s Signal) error {
	debug.Trace("Panel: status=%v warning=%v", s.Status, s.Warning)
	p.current = s
	return errors.Join(
		p.gpio.WritePin(p.statusPin, gpio.Level(s.Status)),
		p.gpio.WritePin(p.warningPin, gpio.Level(s.Warning)),
	)
}

// Current returns the last signal written.
func (p *Panel) Current() Signal {
	return p.current
}

// Close switches the LEDs off.
func (p *Panel) Close() error {
	return p.Off()
}
