// Package mqtt publishes telemetry and images to an MQTT broker.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/SteveTheBeaver/GardenMonitor/internal/notify"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Compile-time interface guard.
var _ notify.Channel = (*Channel)(nil)

// CameraTopic is appended to the prefix for image payloads.
const CameraTopic = "camera"

// Config holds the broker connection settings.
type Config struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
	Timeout     time.Duration
}

// publisher is the part of pahomqtt.Client the channel uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Disconnect(quiesce uint)
}

// Channel publishes each event to <prefix>/<slug(key)> and images as raw
// JPEG bytes to <prefix>/camera. The status topic is retained so new
// subscribers see the current state.
type Channel struct {
	client publisher
	cfg    Config
	logger *zap.Logger
}

// Connect creates the paho client and starts connecting. A broker that is
// down at startup is retried in the background.
func Connect(cfg Config, logger *zap.Logger) (*Channel, error) {
	if cfg.BrokerURL == "" {
		return nil, errors.New("mqtt: broker URL is empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "gardenmonitor"
	}
	clientID := cfg.ClientID + "-" + uuid.NewString()[:8]

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(cfg.Timeout)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password) //nolint:gosec // G101: config field
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	logger = logger.With(zap.String("channel", "mqtt"))

	switch {
	case !token.WaitTimeout(cfg.Timeout):
		logger.Warn("mqtt connection timed out; will reconnect in background",
			zap.String("broker_url", cfg.BrokerURL),
		)
	case token.Error() != nil:
		logger.Warn("mqtt connection failed; will reconnect in background",
			zap.String("broker_url", cfg.BrokerURL),
			zap.Error(token.Error()),
		)
	default:
		logger.Info("mqtt connected to broker",
			zap.String("broker_url", cfg.BrokerURL),
			zap.String("client_id", clientID),
		)
	}
	return newChannel(client, cfg, logger), nil
}

func newChannel(p publisher, cfg Config, logger *zap.Logger) *Channel {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.TopicPrefix = strings.Trim(cfg.TopicPrefix, "/")
	return &Channel{client: p, cfg: cfg, logger: logger}
}

// Name returns the channel identifier.
func (c *Channel) Name() string {
	return "mqtt"
}

// Topic returns the topic a telemetry key is published on.
func (c *Channel) Topic(key string) string {
	return c.cfg.TopicPrefix + "/" + Slug(key)
}

// Deliver publishes every event and the artifact, waiting for each token.
// All messages are attempted even when one fails.
func (c *Channel) Deliver(ctx context.Context, p notify.Payload) error {
	var errs []error
	for _, e := range p.Events {
		retained := e.Key == notify.KeyStatus
		if err := c.publish(ctx, c.Topic(e.Key), retained, e.Value); err != nil {
			errs = append(errs, err)
		}
	}
	if a := p.Artifact; a != nil {
		data, err := a.ReadAll()
		if err != nil {
			errs = append(errs, fmt.Errorf("read %s: %w", a.Name, err))
		} else if err := c.publish(ctx, c.cfg.TopicPrefix+"/"+CameraTopic, false, data); err != nil {
			errs = append(errs, err)
		} else {
			c.logger.Info("image published",
				zap.String("file", a.Name),
				zap.Int("bytes", len(data)),
			)
		}
	}
	return errors.Join(errs...)
}

func (c *Channel) publish(ctx context.Context, topic string, retained bool, payload interface{}) error {
	token := c.client.Publish(topic, c.cfg.QoS, retained, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publish %s: %w", topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Close disconnects, giving in-flight messages 250ms to drain.
func (c *Channel) Close() error {
	c.client.Disconnect(250)
	c.logger.Info("mqtt disconnected")
	return nil
}

// Slug turns a telemetry key into a topic segment:
// "Temperature (F)" becomes "temperature_f".
func Slug(key string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(key) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if underscore && b.Len() > 0 {
				b.WriteByte('_')
			}
			underscore = false
			b.WriteRune(r)
		default:
			underscore = true
		}
	}
	return b.String()
}
