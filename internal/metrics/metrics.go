// Package metrics exposes acquisition counters and gauges in Prometheus format.
//
// Collectors live on a private registry so several controllers (tests) can
// coexist in one process. All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	linesTotal        prometheus.Counter
	readingsTotal     *prometheus.CounterVec
	parseWarnings     prometheus.Counter
	connectionErrors  *prometheus.CounterVec
	calibrationMisses prometheus.Counter
	phase             prometheus.Gauge
	absorbance        prometheus.Gauge
	transmittance     prometheus.Gauge
	voltage           prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		linesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intellispec_serial_lines_total",
			Help: "Total lines received from the instrument.",
		}),
		readingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intellispec_readings_total",
			Help: "Total voltage readings decoded by kind.",
		}, []string{"kind"}),
		parseWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intellispec_parse_warnings_total",
			Help: "Recognized telemetry lines dropped because the value was unusable.",
		}),
		connectionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intellispec_connection_errors_total",
			Help: "Connection failures by kind (open, io, lost).",
		}, []string{"kind"}),
		calibrationMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intellispec_calibration_incomplete_total",
			Help: "Calibration windows that closed without a blank voltage.",
		}),
		phase: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "intellispec_phase",
			Help: "Controller phase (0 disconnected, 1 idle, 2 calibrating, 3 measuring).",
		}),
		absorbance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "intellispec_absorbance",
			Help: "Last published absorbance.",
		}),
		transmittance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "intellispec_transmittance_percent",
			Help: "Last published transmittance in percent.",
		}),
		voltage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "intellispec_voltage",
			Help: "Last reported sensor voltage.",
		}),
	}
	m.registry.MustRegister(
		m.linesTotal,
		m.readingsTotal,
		m.parseWarnings,
		m.connectionErrors,
		m.calibrationMisses,
		m.phase,
		m.absorbance,
		m.transmittance,
		m.voltage,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry (tests gather from it).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) LineReceived() {
	if m == nil {
		return
	}
	m.linesTotal.Inc()
}

func (m *Metrics) Reading(kind string, voltage float64) {
	if m == nil {
		return
	}
	m.readingsTotal.WithLabelValues(kind).Inc()
	m.voltage.Set(voltage)
}

func (m *Metrics) ParseWarning() {
	if m == nil {
		return
	}
	m.parseWarnings.Inc()
}

func (m *Metrics) ConnectionError(kind string) {
	if m == nil {
		return
	}
	m.connectionErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) CalibrationIncomplete() {
	if m == nil {
		return
	}
	m.calibrationMisses.Inc()
}

func (m *Metrics) SetPhase(phase int) {
	if m == nil {
		return
	}
	m.phase.Set(float64(phase))
}

func (m *Metrics) SetOptics(absorbance, transmittance float64) {
	if m == nil {
		return
	}
	m.absorbance.Set(absorbance)
	m.transmittance.Set(transmittance)
}
