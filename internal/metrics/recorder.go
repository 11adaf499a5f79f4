// Package metrics exposes the service's prometheus instruments and the
// background sampler for process and store gauges.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kon-rad/agent-tracker/internal/model"
)

const namespace = "agent_tracker"

var histogramBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}

// Recorder owns a private registry. All methods are safe on a nil receiver.
type Recorder struct {
	registry *prometheus.Registry

	eventsIngested   *prometheus.CounterVec
	mirrorWrites     *prometheus.CounterVec
	aggregateUpdates *prometheus.CounterVec
	spansIndexed     prometheus.Counter
	requestDuration  *prometheus.HistogramVec

	processRSS   prometheus.Gauge
	processCPU   prometheus.Gauge
	cgroupMemory prometheus.Gauge
	storeBytes   *prometheus.GaugeVec
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		eventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_ingested_total",
			Help:      "Events persisted to the primary store",
		}, []string{"message_type"}),
		mirrorWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_writes_total",
			Help:      "Best-effort event writes to the search backend",
		}, []string{"outcome"}),
		aggregateUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aggregate_updates_total",
			Help:      "Daily aggregate increments applied",
		}, []string{"outcome"}),
		spansIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spans_indexed_total",
			Help:      "Trace spans written to the search backend",
		}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   histogramBuckets,
		}, []string{"method", "route", "status"}),
		processRSS: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "process_rss_bytes",
			Help:      "Resident set size from /proc/self/status",
		}),
		processCPU: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cgroup_cpu_percent",
			Help:      "CPU usage of the cgroup over the last sample window",
		}),
		cgroupMemory: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cgroup_memory_bytes",
			Help:      "memory.current of the cgroup",
		}),
		storeBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_file_bytes",
			Help:      "On-disk size of the sqlite store files",
		}, []string{"file"}),
	}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		r.eventsIngested,
		r.mirrorWrites,
		r.aggregateUpdates,
		r.spansIndexed,
		r.requestDuration,
		r.processRSS,
		r.processCPU,
		r.cgroupMemory,
		r.storeBytes,
	)
	return r
}

func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// EventIngested counts a persisted event. Free-form message types share
// the "other" label.
func (r *Recorder) EventIngested(messageType string) {
	if r == nil {
		return
	}
	switch messageType {
	case model.MessageTypeUserMessage, model.MessageTypeAgentResponse, model.MessageTypeError, model.MessageTypeFeedback:
	default:
		messageType = "other"
	}
	r.eventsIngested.WithLabelValues(messageType).Inc()
}

func (r *Recorder) MirrorWrite(err error) {
	if r == nil {
		return
	}
	r.mirrorWrites.WithLabelValues(outcome(err)).Inc()
}

func (r *Recorder) AggregateUpdate(err error) {
	if r == nil {
		return
	}
	r.aggregateUpdates.WithLabelValues(outcome(err)).Inc()
}

func (r *Recorder) SpansIndexed(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.spansIndexed.Add(float64(n))
}

func (r *Recorder) ObserveRequest(method, route string, status int, d time.Duration) {
	if r == nil {
		return
	}
	r.requestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

func outcome(err error) string {
	if err != nil {
		return "failed"
	}
	return "ok"
}
