package predict

import (
	"time"

	"github.com/diacheck/diacheck/pkg/metrics"
)

// Metric names exposed on /metrics.
const (
	MetricPredictions     = "diacheck_predictions_total"
	MetricPredictDuration = "diacheck_predict_duration_seconds"
	MetricModelLoaded     = "diacheck_model_loaded"
	MetricModelReloads    = "diacheck_model_reloads_total"
)

// Metrics records prediction and reload outcomes for one variant.
type Metrics struct {
	reg      *metrics.Registry
	variant  string
	duration *metrics.Histogram
	loaded   *metrics.Gauge
}

// NewMetrics registers the service metrics on reg.
func NewMetrics(reg *metrics.Registry, variant string) *Metrics {
	return &Metrics{
		reg:     reg,
		variant: variant,
		duration: reg.Histogram(MetricPredictDuration,
			"Time spent serving a prediction, parse to format.", nil, "variant", variant),
		loaded: reg.Gauge(MetricModelLoaded,
			"1 when a model bundle is loaded and serving.", "variant", variant),
	}
}

func (m *Metrics) observe(outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.reg.Counter(MetricPredictions, "Predictions served, by outcome.",
		"variant", m.variant, "outcome", outcome).Inc()
	m.duration.Since(start)
}

func (m *Metrics) reload(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.reg.Counter(MetricModelReloads, "Model reload attempts, by result.", "result", result).Inc()
}

func (m *Metrics) setLoaded(ok bool) {
	if m == nil {
		return
	}
	m.loaded.SetBool(ok)
}
