package debug

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (state changes, captures, deliveries)
	LevelLive    = 2 // Live info (every reading, every cycle)
	LevelVerbose = 3 // Verbose (configuration, stage details)
	LevelTrace   = 4 // Trace (GPIO, very low level)
)

var (
	level  int
	out    zapcore.WriteSyncer = zapcore.AddSync(os.Stdout)
	base                       = zap.NewNop()
	logger *zap.SugaredLogger
)

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = important info (state changes, captures, deliveries)
// 2 = live info (readings, cycle results)
// 3 = verbose (configuration, stage details)
// 4 = trace (GPIO, very low level)
func Init(debugLevel int) {
	level = debugLevel
	build()
}

// SetOutput redirects log output, e.g. to an io.MultiWriter that also feeds
// the web status stream. Must be called before the monitor loop starts.
func SetOutput(w io.Writer) {
	out = zapcore.AddSync(w)
	build()
}

func build() {
	if level <= LevelOff {
		base = zap.NewNop()
		logger = nil
		return
	}
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05.000000")
	encCfg.EncodeCaller = nil
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), out, zapcore.DebugLevel)
	base = zap.New(core).Named("GardenMonitor")
	logger = base.Sugar()
}

// Logger returns the structured logger backing this package.
// It is a no-op logger when debug output is off.
func Logger() *zap.Logger {
	return base
}

// Sync flushes buffered output.
func Sync() {
	_ = base.Sync()
}

// Level returns the current debug level.
func Level() int {
	return level
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return level >= minLevel
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	if level >= LevelInfo && logger != nil {
		logger.Infof(format, args...)
	}
}

// Warn prints a level 1 warning. Used for recoverable stage failures.
func Warn(format string, args ...interface{}) {
	if level >= LevelInfo && logger != nil {
		logger.Warnf(format, args...)
	}
}

// Summary prints an important banner (level 1).
func Summary(title string) {
	if level >= LevelInfo && logger != nil {
		logger.Info("═══════════════════════════════════════")
		logger.Infof("  %s", title)
		logger.Info("═══════════════════════════════════════")
	}
}

// State prints a monitoring state change (level 1).
func State(active bool) {
	if level >= LevelInfo && logger != nil {
		if active {
			logger.Info("Monitoring started")
		} else {
			logger.Info("Monitoring stopped")
		}
	}
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	if level >= LevelLive && logger != nil {
		logger.Infof(format, args...)
	}
}

// Reading prints a sensor reading (level 2).
func Reading(temperatureF, humidity float64) {
	if level >= LevelLive && logger != nil {
		logger.Infof("Temperature: %.1f°F, Humidity: %.1f%%", temperatureF, humidity)
	}
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...interface{}) {
	if level >= LevelVerbose && logger != nil {
		logger.Debugf(format, args...)
	}
}

// Printf is an alias for Verbose for compatibility.
func Printf(format string, args ...interface{}) {
	Verbose(format, args...)
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v interface{}) {
	if level >= LevelVerbose && logger != nil {
		logger.Debugf("%s: %+v", name, v)
	}
}

// Section prints a section separator (level 3).
func Section(name string) {
	if level >= LevelVerbose && logger != nil {
		logger.Debug("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		logger.Debugf("  %s", name)
		logger.Debug("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	}
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	if level >= LevelVerbose && logger != nil {
		logger.Debugf("Step %d: %s", num, description)
	}
}

// Value prints a named value in formatted form (level 1).
func Value(name string, value interface{}) {
	if level >= LevelInfo && logger != nil {
		logger.Infof("  %s = %v", name, value)
	}
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message (trace, GPIO).
func Trace(format string, args ...interface{}) {
	if level >= LevelTrace && logger != nil {
		logger.Debugf(format, args...)
	}
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value interface{}) {
	if level >= LevelTrace && logger != nil {
		logger.Debugw("gpio", "op", operation, "pin", pin, "value", value)
	}
}

// --- General functions ---

// Error prints a debug error (level 1+).
func Error(err error) {
	if level >= LevelInfo && logger != nil {
		logger.Errorw(err.Error())
	}
}
