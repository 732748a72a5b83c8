package metric

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/qualabs/cmcd-toolkit/errors"
	"github.com/qualabs/cmcd-toolkit/health"
)

// HealthReporter produces the health report served on /health.
// *health.Monitor implements it.
type HealthReporter interface {
	Report(ctx context.Context) health.Status
}

// Server exposes /metrics and /health.
type Server struct {
	addr     string
	path     string
	server   *http.Server
	registry *MetricsRegistry
	health   HealthReporter
	stopped  bool
	mu       sync.Mutex
}

// NewServer creates a new metrics server with the provided registry
func NewServer(addr, path string, registry *MetricsRegistry, reporter HealthReporter) *Server {
	if path == "" {
		path = "/metrics"
	}
	if addr == "" {
		addr = ":9090"
	}
	if reporter == nil {
		reporter = health.NewMonitor("cmcdstreams")
	}

	return &Server{
		addr:     addr,
		path:     path,
		registry: registry,
		health:   reporter,
	}
}

// Handler returns the HTTP handler served by the metrics server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.HandlerFor(
		s.registry.PrometheusRegistry(),
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status := s.health.Report(r.Context())
		code := http.StatusOK
		if status.IsUnhealthy() {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	})
	return mux
}

// Start serves until Stop is called. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	if s.server != nil {
		s.mu.Unlock()
		return errors.WrapInvalid(stderrors.New("server already running"),
			"Server", "Start", "start metrics server")
	}
	if s.registry == nil {
		s.mu.Unlock()
		return errors.WrapFatal(stderrors.New("nil registry"),
			"Server", "Start", "metrics registry not provided")
	}
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.server = srv
	s.mu.Unlock()

	if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return errors.WrapFatal(err, "Server", "Start", "listen on "+s.addr)
	}
	return nil
}

// Stop gracefully shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	s.server = nil
	return errors.WrapTransient(err, "Server", "Stop", "shutdown metrics server")
}
