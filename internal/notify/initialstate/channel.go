package initialstate

import (
	"context"
	"fmt"
	"time"

	"github.com/SteveTheBeaver/GardenMonitor/internal/notify"
	"go.uber.org/zap"
)

// Compile-time interface guard.
var _ notify.Channel = (*Channel)(nil)

// closeTimeout bounds the final flush on Close.
const closeTimeout = 5 * time.Second

// Channel writes each payload to a Streamer and flushes it once.
type Channel struct {
	streamer *Streamer
	logger   *zap.Logger
}

// New creates an Initial State channel.
func New(cfg Config, logger *zap.Logger) *Channel {
	return NewWithStreamer(NewStreamer(cfg), logger)
}

// NewWithStreamer wraps an existing Streamer.
func NewWithStreamer(s *Streamer, logger *zap.Logger) *Channel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Channel{
		streamer: s,
		logger:   logger.With(zap.String("channel", "initialstate")),
	}
}

// Name returns the channel identifier.
func (c *Channel) Name() string {
	return "initialstate"
}

// Deliver logs every event, the image as a Camera object, then flushes.
func (c *Channel) Deliver(ctx context.Context, p notify.Payload) error {
	for _, e := range p.Events {
		c.streamer.Log(e.Key, e.Value)
	}

	if a := p.Artifact; a != nil {
		f, err := a.Open()
		if err != nil {
			c.streamer.Flush(ctx) //nolint:errcheck // events still go out; the image error wins
			return fmt.Errorf("open %s: %w", a.Name, err)
		}
		err = c.streamer.LogObject(notify.KeyCamera, a.MimeType, f)
		f.Close()
		if err != nil {
			c.streamer.Flush(ctx) //nolint:errcheck // events still go out; the image error wins
			return err
		}
	}

	if err := c.streamer.Flush(ctx); err != nil {
		return err
	}
	if p.Artifact != nil {
		c.logger.Info("Image streamed to InitialState successfully",
			zap.String("file", p.Artifact.Name),
		)
	}
	return nil
}

// Close flushes the streamer.
func (c *Channel) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	return c.streamer.Close(ctx)
}
