package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/SteveTheBeaver/GardenMonitor/internal/config"
	"github.com/SteveTheBeaver/GardenMonitor/internal/debug"
	"github.com/SteveTheBeaver/GardenMonitor/internal/hw/camera"
	"github.com/SteveTheBeaver/GardenMonitor/internal/hw/gpio"
	"github.com/SteveTheBeaver/GardenMonitor/internal/hw/sensor"
	"github.com/SteveTheBeaver/GardenMonitor/internal/logic/capture"
	"github.com/SteveTheBeaver/GardenMonitor/internal/logic/indicator"
	"github.com/SteveTheBeaver/GardenMonitor/internal/logic/monitor"
	"github.com/SteveTheBeaver/GardenMonitor/internal/notify"
	"github.com/SteveTheBeaver/GardenMonitor/internal/notify/initialstate"
	"github.com/SteveTheBeaver/GardenMonitor/internal/notify/mqtt"
	"github.com/SteveTheBeaver/GardenMonitor/internal/notify/pushbullet"
	"github.com/SteveTheBeaver/GardenMonitor/internal/web"
)

// Simulated probe centre in mock mode.
const (
	mockBaseC    = 22.0
	mockHumidity = 45.0
)

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start status web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", "", "path to a YAML config file inside configs/ (default: built-in settings)")
	mock := flag.Bool("mock", false, "use mock GPIO, simulated sensor and test-card camera")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	if *mock {
		cfg.GPIO.Mock = true
	}

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	defer debug.Sync()

	var broadcaster *web.StatusBroadcaster
	if webPort.port() > 0 {
		broadcaster = web.NewStatusBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))
	}

	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)
	debug.Value("Mock hardware", cfg.GPIO.Mock)

	fmt.Println("Starting temperature monitoring and notification system...")
	fmt.Println("Press the button to start/stop monitoring")

	if err := run(ctx, cfg, webPort.port(), broadcaster); err != nil {
		debug.Sync()
		log.Fatalf("%v", err)
	}
	fmt.Println("Exiting...")
}

// run builds the controller, starts the optional web server and loops until
// ctx is cancelled. Every acquired handle is released before it returns.
func run(ctx context.Context, cfg *config.Config, port int, broadcaster *web.StatusBroadcaster) (err error) {
	ctrl, err := newController(cfg)
	if err != nil {
		return fmt.Errorf("init failed: %w", err)
	}
	defer func() {
		if cerr := ctrl.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("cleanup failed: %w", cerr))
		}
	}()

	if broadcaster != nil && port > 0 {
		ctrl.OnStateChange(func(s monitor.State) {
			broadcaster.BroadcastState(s.String())
		})
		srv, err := web.NewServer(fmt.Sprintf(":%d", port), broadcaster, ctrl)
		if err != nil {
			return fmt.Errorf("web server: %w", err)
		}
		ln, err := srv.Listen()
		if err != nil {
			return fmt.Errorf("web server: %w", err)
		}
		go func() {
			if err := srv.Serve(ctx, ln); err != nil {
				log.Printf("web server: %v", err)
			}
		}()
	}

	if err := ctrl.Run(ctx); err != nil {
		log.Printf("monitor stopped: %v", err)
	}
	return nil
}

// loadConfig returns the built-in settings when path is empty, otherwise
// the file laid over them.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		cfg.ApplyEnv()
		return cfg, cfg.Validate()
	}
	return config.Load(path)
}

// newController acquires every device and channel and wires the monitor.
// On error, whatever was already acquired is released.
func newController(cfg *config.Config) (ctrl *monitor.Controller, err error) {
	var closers []func() error
	defer func() {
		if err == nil {
			return
		}
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]() //nolint:errcheck // already failing
		}
	}()

	debug.Step(1, "Initializing GPIO driver")
	gpioDriver, err := gpio.NewDriver(cfg.GPIO.Mock)
	if err != nil {
		return nil, fmt.Errorf("init GPIO: %w", err)
	}
	closers = append(closers, gpioDriver.Close)

	debug.Step(2, "Initializing sensor and LEDs")
	probe, err := newSensor(gpioDriver, cfg)
	if err != nil {
		return nil, fmt.Errorf("init sensor: %w", err)
	}
	closers = append(closers, probe.Close)

	panel, err := indicator.NewPanel(gpioDriver, cfg.GPIO.StatusLEDPin, cfg.GPIO.WarningLEDPin, indicator.Thresholds{
		LowF:  cfg.Sensor.LowWarningF,
		HighF: cfg.Sensor.HighWarningF,
	})
	if err != nil {
		return nil, fmt.Errorf("init LEDs: %w", err)
	}
	closers = append(closers, panel.Close)

	debug.Step(3, "Initializing camera")
	cam, err := newCamera(cfg)
	if err != nil {
		return nil, fmt.Errorf("init camera: %w", err)
	}
	store := capture.NewStore(cam, cfg.Camera.ImageDir)
	closers = append(closers, store.Close)
	debug.Value("Image directory", store.Dir())

	debug.Step(4, "Initializing notification channels")
	channels, err := newChannels(cfg)
	if err != nil {
		return nil, fmt.Errorf("init channels: %w", err)
	}
	notifier := notify.New(debug.Logger(), cfg.CallTimeout(), channels...)
	closers = append(closers, notifier.Close)
	debug.Value("Channels", notifier.Names())

	debug.Step(5, "Creating monitor controller")
	ctrl, err = monitor.New(monitor.Config{
		ButtonPin:       cfg.GPIO.ButtonPin,
		PollInterval:    cfg.PollInterval(),
		Debounce:        cfg.Debounce(),
		CaptureInterval: cfg.CaptureInterval(),
		CallTimeout:     cfg.CallTimeout(),
	}, gpioDriver, probe, panel, store, notifier)
	if err != nil {
		return nil, err
	}
	debug.PrintStruct("Monitor config", cfg.Monitor)
	return ctrl, nil
}

func newSensor(g gpio.Driver, cfg *config.Config) (sensor.Sensor, error) {
	if cfg.GPIO.Mock {
		return sensor.NewSimulated(mockBaseC, mockHumidity), nil
	}
	return sensor.NewDHT22(g, cfg.GPIO.SensorPin, cfg.SettleDelay())
}

func newCamera(cfg *config.Config) (camera.Camera, error) {
	if cfg.GPIO.Mock {
		return camera.NewMock(cfg.Camera.Width, cfg.Camera.Height), nil
	}
	return camera.OpenV4L2(cfg.Camera.Device, cfg.Camera.Width, cfg.Camera.Height, cfg.FrameTimeout())
}

// newChannels builds Pushbullet and Initial State, plus MQTT when a broker
// is configured.
func newChannels(cfg *config.Config) ([]notify.Channel, error) {
	logger := debug.Logger()
	channels := []notify.Channel{
		pushbullet.New(cfg.Pushbullet.APIKey, cfg.Pushbullet.BaseURL, logger),
		initialstate.New(initialstate.Config{
			BaseURL:    cfg.InitialState.BaseURL,
			BucketName: cfg.InitialState.BucketName,
			BucketKey:  cfg.InitialState.BucketKey,
			AccessKey:  cfg.InitialState.AccessKey,
		}, logger),
	}
	if cfg.MQTT.BrokerURL == "" {
		return channels, nil
	}
	ch, err := mqtt.Connect(mqtt.Config{
		BrokerURL:   cfg.MQTT.BrokerURL,
		ClientID:    cfg.MQTT.ClientID,
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		TopicPrefix: cfg.MQTT.TopicPrefix,
		QoS:         byte(cfg.MQTT.QoS),
		Timeout:     cfg.CallTimeout(),
	}, logger)
	if err != nil {
		return nil, errors.Join(err, channels[0].Close(), channels[1].Close())
	}
	return append(channels, ch), nil
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
