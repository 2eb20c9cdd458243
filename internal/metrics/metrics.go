package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ngenohkevin/portguard/internal/ports"
	"github.com/ngenohkevin/portguard/internal/process"
)

// Metrics holds the scan and termination collectors
type Metrics struct {
	registry *prometheus.Registry

	Scans        *prometheus.CounterVec
	ScanDuration prometheus.Histogram
	Sockets      *prometheus.GaugeVec

	Terminations        *prometheus.CounterVec
	TerminationDuration prometheus.Histogram
}

// New creates the collectors on a private registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		Scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portguard_scans_total",
			Help: "Total number of socket scans by result",
		}, []string{"result"}),

		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "portguard_scan_duration_seconds",
			Help:    "Time taken to enumerate sockets and join process metadata",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),

		Sockets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "portguard_sockets",
			Help: "Sockets seen by the most recent full scan",
		}, []string{"transport", "state"}),

		Terminations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portguard_terminations_total",
			Help: "Total number of termination outcomes by kind",
		}, []string{"kind", "signal"}),

		TerminationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "portguard_termination_duration_seconds",
			Help:    "Time from signal to confirmed exit",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
	}

	m.registry.MustRegister(
		m.Scans,
		m.ScanDuration,
		m.Sockets,
		m.Terminations,
		m.TerminationDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the registry the collectors live on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveScan records one scan
func (m *Metrics) ObserveScan(elapsed time.Duration, err error) {
	m.ScanDuration.Observe(elapsed.Seconds())

	switch {
	case err == nil:
		m.Scans.WithLabelValues("ok").Inc()
	case errors.Is(err, ports.ErrScanUnavailable):
		m.Scans.WithLabelValues("unavailable").Inc()
	default:
		m.Scans.WithLabelValues("error").Inc()
	}
}

// SetSockets replaces the socket gauges with the counts in views
func (m *Metrics) SetSockets(views []ports.PortView) {
	m.Sockets.Reset()
	for _, v := range views {
		m.Sockets.WithLabelValues(string(v.Transport), string(v.State)).Inc()
	}
}

// ObserveOutcomes records termination outcomes
func (m *Metrics) ObserveOutcomes(outcomes ...process.TerminationOutcome) {
	for _, o := range outcomes {
		signal := o.Signal
		if signal == "" {
			signal = "none"
		}
		m.Terminations.WithLabelValues(string(o.Kind), signal).Inc()
		if o.Kind == process.KindSuccess {
			m.TerminationDuration.Observe(o.Elapsed.Seconds())
		}
	}
}
