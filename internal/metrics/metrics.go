package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Subsystem is the prefix of every nspin metric.
const Subsystem = "nspin"

// Modes label how a namespace got pinned.
const (
	ModeThread = "thread"
	ModeUserNS = "userns"
	ModeHost   = "host"
)

// Metrics holds the collectors of namespace pinning operations.
type Metrics struct {
	registry *prometheus.Registry

	metricPinsTotal          *prometheus.CounterVec
	metricPinErrorsTotal     *prometheus.CounterVec
	metricPinDurationSeconds *prometheus.HistogramVec
}

var (
	instance *Metrics
	once     sync.Once
)

// New creates a metrics instance with its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		metricPinsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Subsystem: Subsystem,
				Name:      "namespace_pins_total",
				Help:      "Cumulative number of pinned namespaces by namespace type.",
			},
			[]string{"type"},
		),
		metricPinErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Subsystem: Subsystem,
				Name:      "namespace_pin_errors_total",
				Help:      "Cumulative number of failed namespace pins by namespace type.",
			},
			[]string{"type"},
		),
		metricPinDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Subsystem: Subsystem,
				Name:      "namespace_pin_duration_seconds",
				Help:      "Latency in seconds of namespace pinning. Broken down by mode.",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
			[]string{"mode"},
		),
	}
	m.registry.MustRegister(
		m.metricPinsTotal,
		m.metricPinErrorsTotal,
		m.metricPinDurationSeconds,
	)
	return m
}

// Instance returns the process wide Metrics.
func Instance() *Metrics {
	once.Do(func() {
		instance = New()
	})
	return instance
}

// Registry returns the registry all collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// MetricPinsInc counts a pinned namespace of type nsType.
func (m *Metrics) MetricPinsInc(nsType string) {
	c, err := m.metricPinsTotal.GetMetricWithLabelValues(nsType)
	if err != nil {
		logrus.Warnf("Unable to write namespace pins metric: %v", err)
		return
	}
	c.Inc()
}

// MetricPinErrorsInc counts a failed pin of type nsType.
func (m *Metrics) MetricPinErrorsInc(nsType string) {
	c, err := m.metricPinErrorsTotal.GetMetricWithLabelValues(nsType)
	if err != nil {
		logrus.Warnf("Unable to write namespace pin errors metric: %v", err)
		return
	}
	c.Inc()
}

// MetricPinDurationObserve records the time since start for mode.
func (m *Metrics) MetricPinDurationObserve(mode string, start time.Time) {
	o, err := m.metricPinDurationSeconds.GetMetricWithLabelValues(mode)
	if err != nil {
		logrus.Warnf("Unable to write namespace pin duration metric: %v", err)
		return
	}
	o.Observe(time.Since(start).Seconds())
}

// WriteTextfile dumps all metrics to path in the text exposition format,
// for node_exporter's textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics to %s: %w", path, err)
	}
	return nil
}
