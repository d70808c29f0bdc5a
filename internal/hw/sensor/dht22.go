package sensor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SteveTheBeaver/GardenMonitor/internal/debug"
	"github.com/SteveTheBeaver/GardenMonitor/internal/hw/gpio"
)

var (
	ErrTimeout     = fmt.Errorf("%w: no response from probe", ErrSensor)
	ErrShortFrame  = fmt.Errorf("%w: incomplete frame", ErrSensor)
	ErrChecksum    = fmt.Errorf("%w: checksum mismatch", ErrSensor)
	ErrImplausible = fmt.Errorf("%w: implausible value", ErrSensor)
)

const (
	// MinSamplePeriod is the DHT22 minimum time between two conversions.
	MinSamplePeriod = 2 * time.Second

	startLow     = 18 * time.Millisecond // host start signal
	frameTimeout = 10 * time.Millisecond // a full frame takes ~5ms
	bitThreshold = 50 * time.Microsecond // '0' is ~27us high, '1' is ~70us high
	framePulses  = 41                    // response pulse + 40 data bits
	frameBits    = 40
)

// DHT22 reads an AM2302/DHT22 probe on a single GPIO data line.
//
// Read protocol:
// 1. Host drives DATA LOW for 18ms (start signal)
// 2. Host releases DATA (pull-up) and records the response pulse train
// 3. Wait for the settle delay
// 4. Decode 40 bits: humidity word, temperature word, checksum byte
type DHT22 struct {
	gpio   gpio.Driver
	pin    int
	settle time.Duration

	// capture records HIGH pulse widths; replaced in tests.
	capture func() ([]time.Duration, error)
	now     func() time.Time

	pending    []time.Duration
	pendingErr error

	last *Reading
}

// NewDHT22 configures pin as a pull-up input and returns the probe.
// settle is the wait between trigger and sampling.
func NewDHT22(g gpio.Driver, pin int, settle time.Duration) (*DHT22, error) {
	if err := g.SetupPin(pin, gpio.InputPullUp); err != nil {
		return nil, fmt.Errorf("setup DHT22 pin %d: %w", pin, err)
	}
	d := &DHT22{
		gpio:   g,
		pin:    pin,
		settle: settle,
		now:    time.Now,
	}
	d.capture = d.capturePulses
	return d, nil
}

// Trigger starts a conversion and stores the raw pulse train.
func (d *DHT22) Trigger() {
	d.pending, d.pendingErr = d.capture()
}

// Read triggers the probe, waits the settle delay, then decodes the frame.
// A second Read within MinSamplePeriod returns the previous sample.
func (d *DHT22) Read(ctx context.Context) (*Reading, error) {
	now := d.now()
	if d.last != nil && now.Sub(d.last.Timestamp) < MinSamplePeriod {
		r := *d.last
		return &r, nil
	}

	d.Trigger()
	if err := sleepCtx(ctx, d.settle); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSensor, err)
	}
	if d.pendingErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrSensor, d.pendingErr)
	}

	humidity, tempC, err := decodeFrame(d.pending)
	if err != nil {
		debug.Verbose("DHT22: %v (%d pulses)", err, len(d.pending))
		return nil, err
	}

	r := NewReading(humidity, tempC, d.now())
	d.last = r
	out := *r
	return &out, nil
}

// Close releases the data line.
func (d *DHT22) Close() error {
	debug.Trace("DHT22 Close (pin %d)", d.pin)
	return d.gpio.SetupPin(d.pin, gpio.Input)
}

func (d *DHT22) capturePulses() ([]time.Duration, error) {
	if err := d.gpio.SetupPin(d.pin, gpio.Output); err != nil {
		return nil, err
	}
	if err := d.gpio.WritePin(d.pin, gpio.Low); err != nil {
		return nil, err
	}
	time.Sleep(startLow)
	// The pull-up set in NewDHT22 still holds; rewriting it here would
	// overlap the probe's response.
	if err := d.gpio.SetupPin(d.pin, gpio.Input); err != nil {
		return nil, err
	}

	pulses := make([]time.Duration, 0, framePulses)
	prev := gpio.High
	var riseAt time.Time
	deadline := time.Now().Add(frameTimeout)
	for len(pulses) < framePulses {
		now := time.Now()
		if now.After(deadline) {
			break
		}
		lvl, err := d.gpio.ReadPin(d.pin)
		if err != nil {
			return nil, err
		}
		if lvl == prev {
			continue
		}
		if lvl == gpio.High {
			riseAt = now
		} else if !riseAt.IsZero() {
			pulses = append(pulses, now.Sub(riseAt))
		}
		prev = lvl
	}
	if len(pulses) == 0 {
		return nil, errors.New("no edges on data line")
	}
	return pulses, nil
}

// decodeFrame turns the HIGH pulse widths of one transmission into
// humidity (%) and temperature (°C). Only the last 40 pulses are data bits.
func decodeFrame(pulses []time.Duration) (humidity, tempC float64, err error) {
	if len(pulses) == 0 {
		return 0, 0, ErrTimeout
	}
	if len(pulses) < frameBits {
		return 0, 0, fmt.Errorf("%w: %d of %d bits", ErrShortFrame, len(pulses), frameBits)
	}
	bits := pulses[len(pulses)-frameBits:]

	var data [5]byte
	for i, w := range bits {
		data[i/8] <<= 1
		if w > bitThreshold {
			data[i/8] |= 1
		}
	}

	sum := data[0] + data[1] + data[2] + data[3]
	if sum != data[4] {
		return 0, 0, fmt.Errorf("%w: got %#02x, want %#02x", ErrChecksum, data[4], sum)
	}

	humidity = float64(uint16(data[0])<<8|uint16(data[1])) / 10
	tempC = float64(uint16(data[2]&0x7f)<<8|uint16(data[3])) / 10
	if data[2]&0x80 != 0 {
		tempC = -tempC
	}

	if humidity > 100 || tempC < -40 || tempC > 80 {
		return 0, 0, fmt.Errorf("%w: humidity=%.1f temperature=%.1f", ErrImplausible, humidity, tempC)
	}
	return humidity, tempC, nil
}
