package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes caps the size of a YAML config file.
const MaxConfigFileBytes = 64 << 10

// Environment variables that override credentials from the file.
const (
	EnvPushbulletAPIKey      = "GARDENMONITOR_PUSHBULLET_API_KEY"
	EnvInitialStateAccessKey = "GARDENMONITOR_INITIALSTATE_ACCESS_KEY"
	EnvInitialStateBucketKey = "GARDENMONITOR_INITIALSTATE_BUCKET_KEY"
	EnvMQTTPassword          = "GARDENMONITOR_MQTT_PASSWORD"
)

// GPIOConfig holds the BCM pin assignment.
type GPIOConfig struct {
	StatusLEDPin  int  `yaml:"status_led_pin"`  // green LED, on while monitoring with a valid reading
	WarningLEDPin int  `yaml:"warning_led_pin"` // yellow LED, temperature out of range
	ButtonPin     int  `yaml:"button_pin"`      // start/stop button, active LOW with pull-up
	SensorPin     int  `yaml:"sensor_pin"`      // DHT22 data line
	Mock          bool `yaml:"mock"`            // use mock GPIO, simulated sensor and test-card camera
}

// SensorConfig describes the temperature/humidity probe.
type SensorConfig struct {
	SettleMs     int     `yaml:"settle_ms"`      // wait after trigger before sampling
	LowWarningF  float64 `yaml:"low_warning_f"`  // warning LED below this temperature
	HighWarningF float64 `yaml:"high_warning_f"` // warning LED above this temperature
}

// CameraConfig selects and sizes the capture device.
type CameraConfig struct {
	Device         string `yaml:"device"` // e.g. /dev/video0
	Width          int    `yaml:"width"`
	Height         int    `yaml:"height"`
	FrameTimeoutMs int    `yaml:"frame_timeout_ms"`
	ImageDir       string `yaml:"image_dir"`
}

// MonitorConfig holds the control loop timing.
type MonitorConfig struct {
	PollIntervalMs     int `yaml:"poll_interval_ms"`     // delay between cycles
	DebounceMs         int `yaml:"debounce_ms"`          // button settle window
	CaptureIntervalSec int `yaml:"capture_interval_sec"` // at most one image per interval
	CallTimeoutMs      int `yaml:"call_timeout_ms"`      // bound on each external call
}

// PushbulletConfig configures the file-push channel.
type PushbulletConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// InitialStateConfig configures the event-stream channel.
type InitialStateConfig struct {
	BucketName string `yaml:"bucket_name"`
	BucketKey  string `yaml:"bucket_key"`
	AccessKey  string `yaml:"access_key"`
	BaseURL    string `yaml:"base_url"`
}

// MQTTConfig configures the optional broker channel. Empty BrokerURL disables it.
type MQTTConfig struct {
	BrokerURL   string `yaml:"broker_url"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
}

// Config aggregates all application configuration.
type Config struct {
	GPIO         GPIOConfig         `yaml:"gpio"`
	Sensor       SensorConfig       `yaml:"sensor"`
	Camera       CameraConfig       `yaml:"camera"`
	Monitor      MonitorConfig      `yaml:"monitor"`
	Pushbullet   PushbulletConfig   `yaml:"pushbullet"`
	InitialState InitialStateConfig `yaml:"initialstate"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	Defaults     DefaultsConfig     `yaml:"defaults"`
}

// Default returns the built-in constants the daemon runs with when no
// config file is given.
func Default() *Config {
	return &Config{
		GPIO: GPIOConfig{
			StatusLEDPin:  21,
			WarningLEDPin: 20,
			ButtonPin:     6,
			SensorPin:     17,
		},
		Sensor: SensorConfig{
			SettleMs:     200,
			LowWarningF:  50,
			HighWarningF: 85,
		},
		Camera: CameraConfig{
			Device:         "/dev/video0",
			Width:          1280,
			Height:         720,
			FrameTimeoutMs: 5000,
			ImageDir:       "/home/SteveTheBeaver/images/",
		},
		Monitor: MonitorConfig{
			PollIntervalMs:     2000,
			DebounceMs:         500,
			CaptureIntervalSec: 3600,
			CallTimeoutMs:      30000,
		},
		Pushbullet: PushbulletConfig{
			APIKey:  "api_key",
			BaseURL: "https://api.pushbullet.com",
		},
		InitialState: InitialStateConfig{
			BucketName: "TrackerInterface",
			BucketKey:  "bucket_key",
			AccessKey:  "access_key",
			BaseURL:    "https://groker.init.st",
		},
		MQTT: MQTTConfig{
			ClientID:    "gardenmonitor",
			TopicPrefix: "gardenmonitor",
			QoS:         1,
		},
		Defaults: DefaultsConfig{
			DebugLevel: 2,
		},
	}
}

// ValidateConfigPath rejects paths that are not a .yaml file directly inside
// a configs/ directory.
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config file must have .yaml extension: %s", path)
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config file must live in a configs/ directory: %s", path)
	}
	return nil
}

// Load reads a YAML file over Default() and returns the configuration.
func Load(path string) (*Config, error) {
	if err := ValidateConfigPath(path); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(data) > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file exceeds %d bytes", MaxConfigFileBytes)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides credentials from the environment when set.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvPushbulletAPIKey); v != "" {
		c.Pushbullet.APIKey = v
	}
	if v := os.Getenv(EnvInitialStateAccessKey); v != "" {
		c.InitialState.AccessKey = v
	}
	if v := os.Getenv(EnvInitialStateBucketKey); v != "" {
		c.InitialState.BucketKey = v
	}
	if v := os.Getenv(EnvMQTTPassword); v != "" {
		c.MQTT.Password = v
	}
}

// Validate checks ranges and fills zero durations with defaults.
func (c *Config) Validate() error {
	d := Default()

	pins := map[string]int{
		"gpio.status_led_pin":  c.GPIO.StatusLEDPin,
		"gpio.warning_led_pin": c.GPIO.WarningLEDPin,
		"gpio.button_pin":      c.GPIO.ButtonPin,
		"gpio.sensor_pin":      c.GPIO.SensorPin,
	}
	seen := make(map[int]string, len(pins))
	for name, pin := range pins {
		if pin < 0 || pin > 27 {
			return fmt.Errorf("%s must be a BCM pin between 0 and 27, got %d", name, pin)
		}
		if other, dup := seen[pin]; dup {
			return fmt.Errorf("%s and %s share pin %d", name, other, pin)
		}
		seen[pin] = name
	}

	if c.Sensor.LowWarningF >= c.Sensor.HighWarningF {
		return fmt.Errorf("sensor.low_warning_f (%.1f) must be below sensor.high_warning_f (%.1f)",
			c.Sensor.LowWarningF, c.Sensor.HighWarningF)
	}
	if c.Sensor.SettleMs <= 0 {
		c.Sensor.SettleMs = d.Sensor.SettleMs
	}

	if c.Camera.ImageDir == "" {
		return errors.New("camera.image_dir is required")
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		c.Camera.Width, c.Camera.Height = d.Camera.Width, d.Camera.Height
	}
	if c.Camera.FrameTimeoutMs <= 0 {
		c.Camera.FrameTimeoutMs = d.Camera.FrameTimeoutMs
	}

	if c.Monitor.PollIntervalMs <= 0 {
		c.Monitor.PollIntervalMs = d.Monitor.PollIntervalMs
	}
	if c.Monitor.DebounceMs <= 0 {
		c.Monitor.DebounceMs = d.Monitor.DebounceMs
	}
	if c.Monitor.CaptureIntervalSec <= 0 {
		c.Monitor.CaptureIntervalSec = d.Monitor.CaptureIntervalSec
	}
	if c.Monitor.CallTimeoutMs <= 0 {
		c.Monitor.CallTimeoutMs = d.Monitor.CallTimeoutMs
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	return nil
}

// PollInterval returns the delay between two monitor cycles.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Monitor.PollIntervalMs) * time.Millisecond
}

// Debounce returns the button settle window.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Monitor.DebounceMs) * time.Millisecond
}

// CaptureInterval returns the minimum time between two captured images.
func (c *Config) CaptureInterval() time.Duration {
	return time.Duration(c.Monitor.CaptureIntervalSec) * time.Second
}

// CallTimeout bounds each sensor, camera and channel call.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Monitor.CallTimeoutMs) * time.Millisecond
}

// SettleDelay returns the wait between probe trigger and sampling.
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Sensor.SettleMs) * time.Millisecond
}

// FrameTimeout returns how long to wait for a camera frame.
func (c *Config) FrameTimeout() time.Duration {
	return time.Duration(c.Camera.FrameTimeoutMs) * time.Millisecond
}
