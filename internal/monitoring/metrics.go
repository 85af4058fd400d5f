package monitoring

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Sample outcomes used as the "outcome" label value.
const (
	OutcomeOK      = "ok"
	OutcomeMissing = "missing"
)

// RunMetrics bundles the Prometheus collectors updated by the sample runner.
// A nil *RunMetrics is valid and records nothing.
type RunMetrics struct {
	Samples  *prometheus.CounterVec
	Duration prometheus.Histogram
	InFlight prometheus.Gauge
}

// NewRunMetrics registers the run collectors against reg, defaulting to the
// global registry when nil. Registering twice returns the existing collectors.
func NewRunMetrics(reg prometheus.Registerer) (*RunMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	samples, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "glue_samples_total",
		Help: "Parameter samples processed, labeled by outcome (ok or missing).",
	}, []string{"outcome"}), "glue_samples_total")
	if err != nil {
		return nil, err
	}

	duration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "glue_sample_duration_seconds",
		Help:    "Wall time to prepare, simulate and extract one sample.",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
	}), "glue_sample_duration_seconds")
	if err != nil {
		return nil, err
	}

	inFlight, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "glue_samples_in_flight",
		Help: "Samples currently being simulated.",
	}), "glue_samples_in_flight")
	if err != nil {
		return nil, err
	}

	return &RunMetrics{Samples: samples, Duration: duration, InFlight: inFlight}, nil
}

// Begin marks a sample as in flight.
func (m *RunMetrics) Begin() {
	if m == nil {
		return
	}
	m.InFlight.Inc()
}

// Done records a finished sample.
func (m *RunMetrics) Done(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.InFlight.Dec()
	m.Samples.WithLabelValues(outcome).Inc()
	m.Duration.Observe(elapsed.Seconds())
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return h, nil
}

func registerGauge(reg prometheus.Registerer, g prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(g); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return g, nil
}
