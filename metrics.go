package sentry_transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

const (
	namespace = "rr_sentry_transport"
)

// metricsCollector implements prometheus.Collector interface. All methods are
// safe on a nil receiver so the transport can run without metrics.
type metricsCollector struct {
	successfulEvents  *atomic.Uint64
	failedEvents      *atomic.Uint64
	rateLimitedEvents *atomic.Uint64
	droppedEvents     *atomic.Uint64
	networkErrors     *atomic.Uint64

	successfulEventsDesc  *prometheus.Desc
	failedEventsDesc      *prometheus.Desc
	rateLimitedEventsDesc *prometheus.Desc
	droppedEventsDesc     *prometheus.Desc
	networkErrorsDesc     *prometheus.Desc
	inFlightDesc          *prometheus.Desc

	// reads the current in-flight count, set once the buffer exists
	inFlight func() int

	eventsByType *prometheus.CounterVec
}

// newMetricsCollector creates a new metrics collector
func newMetricsCollector() *metricsCollector {
	return &metricsCollector{
		successfulEvents:  atomic.NewUint64(0),
		failedEvents:      atomic.NewUint64(0),
		rateLimitedEvents: atomic.NewUint64(0),
		droppedEvents:     atomic.NewUint64(0),
		networkErrors:     atomic.NewUint64(0),

		successfulEventsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "successful_events_total"),
			"Total number of successfully sent events",
			nil, nil),

		failedEventsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "failed_events_total"),
			"Total number of events rejected by the server",
			nil, nil),

		rateLimitedEventsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "rate_limited_events_total"),
			"Total number of events rejected locally while rate limited",
			nil, nil),

		droppedEventsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "dropped_events_total"),
			"Total number of events dropped because the request buffer was full",
			nil, nil),

		networkErrorsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "network_errors_total"),
			"Total number of requests that failed to reach the server",
			nil, nil),

		inFlightDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "in_flight_requests"),
			"Number of requests currently in flight",
			nil, nil),

		eventsByType: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: prometheus.BuildFQName(namespace, "", "events_by_type_total"),
				Help: "Total number of send attempts by request type and outcome",
			},
			[]string{"type", "outcome"}),
	}
}

func (mc *metricsCollector) IncSuccessfulEvents(typ RequestType) {
	if mc == nil {
		return
	}
	mc.successfulEvents.Inc()
	mc.eventsByType.WithLabelValues(string(typ), "success").Inc()
}

func (mc *metricsCollector) IncFailedEvents(typ RequestType) {
	if mc == nil {
		return
	}
	mc.failedEvents.Inc()
	mc.eventsByType.WithLabelValues(string(typ), "failed").Inc()
}

func (mc *metricsCollector) IncRateLimitedEvents(typ RequestType) {
	if mc == nil {
		return
	}
	mc.rateLimitedEvents.Inc()
	mc.eventsByType.WithLabelValues(string(typ), "rate_limited").Inc()
}

func (mc *metricsCollector) IncDroppedEvents(typ RequestType) {
	if mc == nil {
		return
	}
	mc.droppedEvents.Inc()
	mc.eventsByType.WithLabelValues(string(typ), "dropped").Inc()
}

func (mc *metricsCollector) IncNetworkErrors(typ RequestType) {
	if mc == nil {
		return
	}
	mc.networkErrors.Inc()
	mc.eventsByType.WithLabelValues(string(typ), "network_error").Inc()
}

// Describe sends all metric descriptions to Prometheus
func (mc *metricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- mc.successfulEventsDesc
	ch <- mc.failedEventsDesc
	ch <- mc.rateLimitedEventsDesc
	ch <- mc.droppedEventsDesc
	ch <- mc.networkErrorsDesc
	ch <- mc.inFlightDesc

	mc.eventsByType.Describe(ch)
}

// Collect sends current metric values to Prometheus
func (mc *metricsCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(mc.successfulEventsDesc, prometheus.CounterValue, float64(mc.successfulEvents.Load()))
	ch <- prometheus.MustNewConstMetric(mc.failedEventsDesc, prometheus.CounterValue, float64(mc.failedEvents.Load()))
	ch <- prometheus.MustNewConstMetric(mc.rateLimitedEventsDesc, prometheus.CounterValue, float64(mc.rateLimitedEvents.Load()))
	ch <- prometheus.MustNewConstMetric(mc.droppedEventsDesc, prometheus.CounterValue, float64(mc.droppedEvents.Load()))
	ch <- prometheus.MustNewConstMetric(mc.networkErrorsDesc, prometheus.CounterValue, float64(mc.networkErrors.Load()))

	var inFlight int
	if mc.inFlight != nil {
		inFlight = mc.inFlight()
	}
	ch <- prometheus.MustNewConstMetric(mc.inFlightDesc, prometheus.GaugeValue, float64(inFlight))

	mc.eventsByType.Collect(ch)
}
