package sensor

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// Simulated produces plausible readings for mock mode. It drifts slowly
// around a base temperature and humidity.
type Simulated struct {
	BaseC        float64
	BaseHumidity float64
	Jitter       float64 // standard deviation in °C / %RH

	now   func() time.Time
	drift float64
}

// NewSimulated returns a simulated probe centred on baseC and humidity.
func NewSimulated(baseC, humidity float64) *Simulated {
	return &Simulated{
		BaseC:        baseC,
		BaseHumidity: humidity,
		Jitter:       0.3,
		now:          time.Now,
	}
}

func (s *Simulated) Read(ctx context.Context) (*Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSensor, err)
	}
	s.drift += rand.NormFloat64() * s.Jitter / 4
	c := s.BaseC + s.drift + rand.NormFloat64()*s.Jitter
	h := s.BaseHumidity + rand.NormFloat64()*s.Jitter
	h = min(max(h, 0), 100)
	return NewReading(h, c, s.now()), nil
}

func (s *Simulated) Close() error { return nil }
