package collector

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"net/http"
	"sync"
	"time"

	"github.com/qualabs/cmcd-toolkit/errors"
)

// Server runs the collector handler on its own listener.
type Server struct {
	addr    string
	handler http.Handler
	tls     *tls.Config
	server  *http.Server
	stopped bool
	mu      sync.Mutex
}

// NewServer creates a server for handler on addr. A nil tlsConfig serves
// plain HTTP.
func NewServer(addr string, handler http.Handler, tlsConfig *tls.Config) *Server {
	if addr == "" {
		addr = DefaultConfig().ListenAddr
	}
	return &Server{addr: addr, handler: handler, tls: tlsConfig}
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.addr
}

// Start serves until Stop is called. It returns nil after a clean shutdown,
// including when Stop ran first.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	if s.server != nil {
		s.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Server", "Start", "start collector server")
	}
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
		TLSConfig:         s.tls,
	}
	s.server = srv
	s.mu.Unlock()

	var err error
	if s.tls != nil {
		err = srv.ListenAndServeTLS("", "")
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return errors.WrapFatal(err, "Server", "Start", "listen on "+s.addr)
	}
	return nil
}

// Stop waits for in-flight requests, bounded by ctx.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	s.server = nil
	return errors.WrapTransient(err, "Server", "Stop", "shutdown collector server")
}
