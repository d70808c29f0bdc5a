// Package notify fans telemetry batches and captured images out to the
// configured remote channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SteveTheBeaver/GardenMonitor/internal/logic/capture"
	"github.com/SteveTheBeaver/GardenMonitor/internal/metrics"
	"go.uber.org/zap"
)

// ErrDelivery wraps every channel failure reported by Notifier.Deliver.
var ErrDelivery = errors.New("notification delivery failed")

// Telemetry keys as they appear on every channel.
const (
	KeyTemperature = "Temperature (F)"
	KeyHumidity    = "Humidity (%)"
	KeyStatus      = "Monitoring Status"
	KeyCamera      = "Camera"
)

// Event is one key/value telemetry sample.
type Event struct {
	Key   string
	Value string
}

// Payload is what a channel receives in one call. Either part may be empty.
type Payload struct {
	Events   []Event
	Artifact *capture.Artifact
}

// Empty reports whether there is nothing to send.
func (p Payload) Empty() bool {
	return len(p.Events) == 0 && p.Artifact == nil
}

// StatusPayload builds the monitoring status event.
func StatusPayload(active bool) Payload {
	v := "Inactive"
	if active {
		v = "Active"
	}
	return Payload{Events: []Event{{Key: KeyStatus, Value: v}}}
}

// ReadingEvents formats a reading the way the channels display it.
func ReadingEvents(tempF, humidity float64) []Event {
	return []Event{
		{Key: KeyTemperature, Value: fmt.Sprintf("%.1f", tempF)},
		{Key: KeyHumidity, Value: fmt.Sprintf("%.1f", humidity)},
	}
}

// Channel is a remote destination. Deliver sends the whole payload and
// flushes it before returning.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, p Payload) error
	Close() error
}

// Result is the outcome of one channel delivery.
type Result struct {
	Channel string
	Err     error
}

// Notifier delivers to every channel in turn.
type Notifier struct {
	channels []Channel
	timeout  time.Duration
	logger   *zap.Logger
}

// New creates a Notifier. A zero timeout leaves calls bounded only by the
// caller's context.
func New(logger *zap.Logger, timeout time.Duration, channels ...Channel) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		channels: channels,
		timeout:  timeout,
		logger:   logger,
	}
}

// Names lists the channels in delivery order.
func (n *Notifier) Names() []string {
	names := make([]string, len(n.channels))
	for i, ch := range n.channels {
		names[i] = ch.Name()
	}
	return names
}

// Deliver sends p to every channel once, sequentially. A failing or
// panicking channel never prevents delivery to the others.
func (n *Notifier) Deliver(ctx context.Context, p Payload) []Result {
	if p.Empty() {
		return nil
	}
	results := make([]Result, 0, len(n.channels))
	for _, ch := range n.channels {
		err := n.deliverOne(ctx, ch, p)
		metrics.ObserveDelivery(ch.Name(), err == nil)
		if err != nil {
			n.logger.Warn("notification delivery failed",
				zap.String("channel", ch.Name()),
				zap.Int("events", len(p.Events)),
				zap.Bool("artifact", p.Artifact != nil),
				zap.Error(err),
			)
		} else {
			n.logger.Debug("notification delivered",
				zap.String("channel", ch.Name()),
				zap.Int("events", len(p.Events)),
			)
		}
		results = append(results, Result{Channel: ch.Name(), Err: err})
	}
	return results
}

func (n *Notifier) deliverOne(ctx context.Context, ch Channel, p Payload) (err error) {
	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: panic: %v", ErrDelivery, ch.Name(), r)
		}
	}()
	if err := ch.Deliver(ctx, p); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDelivery, ch.Name(), err)
	}
	return nil
}

// Close closes every channel and joins their errors.
func (n *Notifier) Close() error {
	var errs []error
	for _, ch := range n.channels {
		if err := ch.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", ch.Name(), err))
		}
	}
	return errors.Join(errs...)
}
