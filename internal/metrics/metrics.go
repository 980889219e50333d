// Package metrics holds the prometheus collectors of the hub.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var PipelineRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "xyzhub",
	Subsystem: "pipeline",
	Name:      "runs_total",
	Help:      "Completed pipeline runs by outcome.",
}, []string{"pipeline", "outcome"})

var PipelineStepDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "xyzhub",
	Subsystem: "pipeline",
	Name:      "step_duration_seconds",
	Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
}, []string{"pipeline", "step"})

var ModifyEntries = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "xyzhub",
	Subsystem: "modify",
	Name:      "entries_total",
	Help:      "Processed modify entries by outcome.",
}, []string{"kind", "outcome"})

var InflightBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "xyzhub",
	Subsystem: "inflight",
	Name:      "request_bytes",
	Help:      "Request body bytes currently being processed per storage.",
}, []string{"storage"})

var GlobalInflightBytes = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "xyzhub",
	Subsystem: "inflight",
	Name:      "request_bytes_global",
})

var ThrottledRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "xyzhub",
	Subsystem: "inflight",
	Name:      "throttled_total",
}, []string{"storage"})

var StoreOperations = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "xyzhub",
	Subsystem: "storage",
	Name:      "operation_duration_seconds",
	Buckets:   prometheus.DefBuckets,
}, []string{"backend", "operation"})

func all() []prometheus.Collector {
	return []prometheus.Collector{
		PipelineRuns,
		PipelineStepDuration,
		ModifyEntries,
		InflightBytes,
		GlobalInflightBytes,
		ThrottledRequests,
		StoreOperations,
	}
}

// Register adds the hub collectors plus the Go runtime collectors to reg.
// Collectors that are already registered are skipped.
func Register(reg prometheus.Registerer) error {
	cs := append(all(),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Handler serves the metrics of reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
