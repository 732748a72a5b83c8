package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cmcd"

// Metrics contains the collector and enricher metrics. All Record methods are
// safe to call on a nil *Metrics so components can run without a registry.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RecordsTotal    *prometheus.CounterVec
	SinkDeliveries  *prometheus.CounterVec
	SinkDuration    *prometheus.HistogramVec
	EnrichMessages  *prometheus.CounterVec
	GeoLookups      *prometheus.CounterVec
	GeoInit         *prometheus.CounterVec
	CacheRequests   *prometheus.CounterVec
	NATSConnected   prometheus.Gauge
	NATSReconnects  prometheus.Counter
	WorkerQueueSize *prometheus.GaugeVec
}

// NewMetrics creates a new, unregistered Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "collector",
				Name:      "requests_total",
				Help:      "HTTP requests handled by the collector, by mode and status code",
			},
			[]string{"mode", "code"},
		),

		RecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "collector",
				Name:      "records_total",
				Help:      "Canonical records produced, by mode and transport",
			},
			[]string{"mode", "transport"},
		),

		SinkDeliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "publisher",
				Name:      "deliveries_total",
				Help:      "Record deliveries per sink (status=success|failure)",
			},
			[]string{"sink", "status"},
		),

		SinkDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "publisher",
				Name:      "delivery_duration_seconds",
				Help:      "Time spent in a single sink delivery",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"sink"},
		),

		EnrichMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "enricher",
				Name:      "messages_total",
				Help:      "Bus messages handled by the enricher (result=published|dropped|failed)",
			},
			[]string{"result"},
		),

		GeoLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "enricher",
				Name:      "geo_lookups_total",
				Help:      "GeoIP lookups (database=city|asn, result=hit|miss)",
			},
			[]string{"database", "result"},
		),

		GeoInit: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "enricher",
				Name:      "geo_init_total",
				Help:      "Geo database initializations (result=success|failure)",
			},
			[]string{"result"},
		),

		CacheRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "requests_total",
				Help:      "Cache activity (result=hit|miss|evict|expire)",
			},
			[]string{"cache", "result"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),

		WorkerQueueSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "worker",
				Name:      "queue_depth",
				Help:      "Items waiting in a worker pool queue",
			},
			[]string{"pool"},
		),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.RequestsTotal,
		c.RecordsTotal,
		c.SinkDeliveries,
		c.SinkDuration,
		c.EnrichMessages,
		c.GeoLookups,
		c.GeoInit,
		c.CacheRequests,
		c.NATSConnected,
		c.NATSReconnects,
		c.WorkerQueueSize,
	}
}

// RecordRequest counts one collector response
func (c *Metrics) RecordRequest(mode string, code int) {
	if c == nil {
		return
	}
	c.RequestsTotal.WithLabelValues(mode, statusLabel(code)).Inc()
}

// RecordRecords counts records produced by one request
func (c *Metrics) RecordRecords(mode, transport string, n int) {
	if c == nil || n == 0 {
		return
	}
	c.RecordsTotal.WithLabelValues(mode, transport).Add(float64(n))
}

// RecordDelivery counts one sink delivery and its latency
func (c *Metrics) RecordDelivery(sink string, err error, d time.Duration) {
	if c == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	c.SinkDeliveries.WithLabelValues(sink, status).Inc()
	c.SinkDuration.WithLabelValues(sink).Observe(d.Seconds())
}

// RecordEnrich counts one enricher outcome
func (c *Metrics) RecordEnrich(result string) {
	if c == nil {
		return
	}
	c.EnrichMessages.WithLabelValues(result).Inc()
}

// RecordGeoLookup counts one GeoIP lookup
func (c *Metrics) RecordGeoLookup(database string, hit bool) {
	if c == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.GeoLookups.WithLabelValues(database, result).Inc()
}

// RecordCache counts one cache hit, miss, eviction or expiration
func (c *Metrics) RecordCache(cache, result string) {
	if c == nil {
		return
	}
	c.CacheRequests.WithLabelValues(cache, result).Inc()
}

// RecordGeoInit counts one geo database initialization attempt
func (c *Metrics) RecordGeoInit(err error) {
	if c == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	c.GeoInit.WithLabelValues(result).Inc()
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	if c == nil {
		return
	}
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}

// RecordNATSReconnect increments reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	if c == nil {
		return
	}
	c.NATSReconnects.Inc()
}

// RecordQueueDepth updates the queue depth of a worker pool
func (c *Metrics) RecordQueueDepth(pool string, depth int) {
	if c == nil {
		return
	}
	c.WorkerQueueSize.WithLabelValues(pool).Set(float64(depth))
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 200 && code < 300:
		return "2xx"
	default:
		return "other"
	}
}
