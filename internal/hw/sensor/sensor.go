// Package sensor reads temperature and humidity probes.
package sensor

import (
	"context"
	"errors"
	"math"
	"time"
)

// ErrSensor is wrapped by every probe failure.
var ErrSensor = errors.New("sensor read failed")

// Reading is a single temperature/humidity sample.
type Reading struct {
	HumidityPct  float64
	TemperatureC float64
	TemperatureF float64 // display unit used by the rest of the system
	Timestamp    time.Time
}

// Sensor is the high-level interface used by the monitor loop.
// Read never panics; a failed read returns a nil Reading and an error
// wrapping ErrSensor.
type Sensor interface {
	Read(ctx context.Context) (*Reading, error)
	Close() error
}

// NewReading builds a Reading from a Celsius sample, rounding both inputs
// to two decimals the way the probe reports them.
func NewReading(humidityPct, temperatureC float64, at time.Time) *Reading {
	c := round2(temperatureC)
	return &Reading{
		HumidityPct:  round2(humidityPct),
		TemperatureC: c,
		TemperatureF: round2(CelsiusToFahrenheit(c)),
		Timestamp:    at,
	}
}

// CelsiusToFahrenheit converts with F = C * 9/5 + 32.
func CelsiusToFahrenheit(c float64) float64 {
	return c*9/5 + 32
}

// FahrenheitToCelsius is the inverse of CelsiusToFahrenheit.
func FahrenheitToCelsius(f float64) float64 {
	return (f - 32) * 5 / 9
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// sleepCtx waits for d or until ctx is done.
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
