// Package metrics records how long ONNX Runtime executions take.
package metrics

import (
	"math"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

var (
	executeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ort_forward",
			Subsystem: "execute",
			Name:      "duration_seconds",
			Help:      "Bucketed histogram of ONNX Runtime execution time (s)",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 20),
		}, []string{"name"})
	executeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ort_forward",
			Subsystem: "execute",
			Name:      "errors_total",
			Help:      "Total number of failed ONNX Runtime executions",
		}, []string{"name"})
)

// RegisterMetrics registers the execution metrics with registry.
func RegisterMetrics(registry *prometheus.Registry) {
	registry.MustRegister(executeDuration)
	registry.MustRegister(executeErrors)
}

// RemoveLabelValues drops the series recorded for a timer name.
func RemoveLabelValues(name string) {
	labels := prometheus.Labels{"name": name}
	executeDuration.Delete(labels)
	executeErrors.Delete(labels)
}

// ReadCounter reports the current value of the counter.
func ReadCounter(counter prometheus.Counter) float64 {
	var metric dto.Metric
	if err := counter.Write(&metric); err != nil {
		return math.NaN()
	}
	return metric.Counter.GetValue()
}

// ReadHistogram reports the sample count and sum of a histogram metric.
func ReadHistogram(histogram prometheus.Metric) (count uint64, sum float64) {
	var metric dto.Metric
	if err := histogram.Write(&metric); err != nil || metric.Histogram == nil {
		return 0, math.NaN()
	}
	return metric.Histogram.GetSampleCount(), metric.Histogram.GetSampleSum()
}
