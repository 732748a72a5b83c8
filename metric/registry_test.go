package metric

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qualabs/cmcd-toolkit/health"
)

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()
	require.NotNil(t, registry.PrometheusRegistry())
	require.NotNil(t, registry.CoreMetrics())
}

func TestMetricsRegistry_Register(t *testing.T) {
	registry := NewMetricsRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_counter_total", Help: "test"})

	require.NoError(t, registry.Register("svc", "counter", counter))

	err := registry.Register("svc", "counter", counter)
	assert.Error(t, err)

	assert.True(t, registry.Unregister("svc", "counter"))
	assert.False(t, registry.Unregister("svc", "counter"))
}

func TestMetrics_RecordDelivery(t *testing.T) {
	m := NewMetrics()

	m.RecordDelivery("bus", nil, 10*time.Millisecond)
	m.RecordDelivery("bus", errors.New("nope"), 10*time.Millisecond)
	m.RecordDelivery("warehouse", nil, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SinkDeliveries.WithLabelValues("bus", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SinkDeliveries.WithLabelValues("bus", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SinkDeliveries.WithLabelValues("warehouse", "success")))
}

func TestMetrics_RecordRequest(t *testing.T) {
	m := NewMetrics()

	m.RecordRequest("event", http.StatusNoContent)
	m.RecordRequest("event", http.StatusBadRequest)
	m.RecordRequest("event", http.StatusInternalServerError)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("event", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("event", "4xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("event", "5xx")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRequest("event", 204)
		m.RecordRecords("event", "query", 1)
		m.RecordDelivery("bus", nil, 0)
		m.RecordEnrich("published")
		m.RecordGeoLookup("city", true)
		m.RecordGeoInit(nil)
		m.RecordNATSStatus(true)
		m.RecordNATSReconnect()
		m.RecordQueueDepth("enricher", 3)
		m.RecordCache("geo", "hit")
	})
}

func TestServer_Handler(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.CoreMetrics().RecordEnrich("published")

	state := health.StateHealthy
	monitor := health.NewMonitor("cmcdstreams")
	monitor.Register("nats", func(context.Context) health.Status {
		return health.Status{Status: state, Healthy: state == health.StateHealthy}
	})
	srv := NewServer(":0", "", registry, monitor)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cmcd_enricher_messages_total")

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var report health.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.True(t, report.Healthy)
	require.Len(t, report.SubStatuses, 1)
	assert.Equal(t, "nats", report.SubStatuses[0].Component)

	state = health.StateDegraded
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "degraded still serves")

	state = health.StateUnhealthy
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_NilReporterIsHealthy(t *testing.T) {
	srv := NewServer("", "", NewMetricsRegistry(), nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetrics_DeliveryHistogram(t *testing.T) {
	registry := NewMetricsRegistry()
	m := registry.CoreMetrics()

	m.RecordDelivery("bus", nil, 20*time.Millisecond)
	m.RecordDelivery("bus", errors.New("boom"), 3*time.Second)

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	var hist *dto.Histogram
	for _, mf := range families {
		if mf.GetName() != "cmcd_publisher_delivery_duration_seconds" {
			continue
		}
		require.Len(t, mf.GetMetric(), 1)
		assert.Equal(t, "bus", mf.GetMetric()[0].GetLabel()[0].GetValue())
		hist = mf.GetMetric()[0].GetHistogram()
	}
	require.NotNil(t, hist, "histogram gathered")
	assert.Equal(t, uint64(2), hist.GetSampleCount())
	assert.InDelta(t, 3.02, hist.GetSampleSum(), 0.001)
}
