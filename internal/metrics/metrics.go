// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Delivery outcomes.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

var TemperatureF = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "gardenmonitor_temperature_fahrenheit",
		Help: "Last valid temperature reading in °F",
	},
)

var HumidityPct = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "gardenmonitor_humidity_percent",
		Help: "Last valid relative humidity reading",
	},
)

var SensorReads = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gardenmonitor_sensor_reads_total",
		Help: "Sensor reads by outcome",
	},
	[]string{"outcome"},
)

var Captures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gardenmonitor_captures_total",
		Help: "Image captures by outcome",
	},
	[]string{"outcome"},
)

// Deliveries is labelled by channel name so a single broken endpoint shows up on its own.
var Deliveries = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gardenmonitor_deliveries_total",
		Help: "Notification deliveries by channel and outcome",
	},
	[]string{"channel", "outcome"},
)

var MonitoringActive = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "gardenmonitor_monitoring_active",
		Help: "1 while monitoring is active, 0 otherwise",
	},
)

var Toggles = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "gardenmonitor_toggles_total",
		Help: "Accepted start/stop edges",
	},
)

var CycleDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "gardenmonitor_cycle_duration_seconds",
		Help:    "Wall time of one monitor cycle, excluding the poll sleep",
		Buckets: []float64{0.01, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	},
)

func outcome(ok bool) string {
	if ok {
		return OutcomeOK
	}
	return OutcomeFailed
}

// ObserveReading records a valid reading.
func ObserveReading(tempF, humidity float64) {
	TemperatureF.Set(tempF)
	HumidityPct.Set(humidity)
	SensorReads.WithLabelValues(OutcomeOK).Inc()
}

// SensorFailed counts a failed read.
func SensorFailed() {
	SensorReads.WithLabelValues(OutcomeFailed).Inc()
}

// ObserveCapture counts a capture attempt.
func ObserveCapture(ok bool) {
	Captures.WithLabelValues(outcome(ok)).Inc()
}

// ObserveDelivery counts one channel delivery.
func ObserveDelivery(channel string, ok bool) {
	Deliveries.WithLabelValues(channel, outcome(ok)).Inc()
}

// SetActive mirrors the monitoring state.
func SetActive(active bool) {
	if active {
		MonitoringActive.Set(1)
	} else {
		MonitoringActive.Set(0)
	}
	Toggles.Inc()
}

// ObserveCycle records how long a cycle took.
func ObserveCycle(start time.Time) {
	CycleDuration.Observe(time.Since(start).Seconds())
}
