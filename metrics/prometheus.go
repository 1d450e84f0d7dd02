package metrics

import (
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/uber-go/tally/v4/prometheus"
)

// Separator joins scope names for the prometheus reporter.
const Separator = prometheus.DefaultSeparator

// NewPrometheusReporter reports into registry, prom.DefaultRegisterer when nil.
// Its HTTPHandler serves the gathered metrics.
func NewPrometheusReporter(registry *prom.Registry) prometheus.Reporter {
	options := prometheus.Options{
		Registerer:               prom.DefaultRegisterer,
		DefaultTimerType:         prometheus.HistogramTimerType,
		DefaultHistogramBuckets:  prometheus.DefaultHistogramBuckets(),
		DefaultSummaryObjectives: prometheus.DefaultSummaryObjectives(),
	}
	if registry != nil {
		options.Registerer = registry
		options.Gatherer = registry
	}
	return prometheus.NewReporter(options)
}
