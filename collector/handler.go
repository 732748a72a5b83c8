package collector

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/qualabs/cmcd-toolkit/errors"
	"github.com/qualabs/cmcd-toolkit/metric"
	"github.com/qualabs/cmcd-toolkit/pkg/tlsutil"
	"github.com/qualabs/cmcd-toolkit/publisher"
	"github.com/qualabs/cmcd-toolkit/record"
)

// DefaultMaxBodyBytes caps request bodies.
const DefaultMaxBodyBytes int64 = 1 << 20

// EmptyPolicy decides how a structurally empty JSON body is answered.
type EmptyPolicy string

// Empty payload policies
const (
	EmptyReject EmptyPolicy = "reject"
	EmptyIgnore EmptyPolicy = "ignore"
)

// Config holds the collector settings.
type Config struct {
	ListenAddr   string      `json:"listen_addr"    yaml:"listen_addr"`
	QueryParam   string      `json:"query_param"    yaml:"query_param"`
	MaxBodyBytes int64       `json:"max_body_bytes" yaml:"max_body_bytes"`
	TrustProxy   bool        `json:"trust_proxy"    yaml:"trust_proxy"`
	EmptyPayload EmptyPolicy `json:"empty_payload"  yaml:"empty_payload"`
	AllowOrigin  string      `json:"allow_origin"   yaml:"allow_origin"`
	// RateLimit caps accepted requests per second across both endpoints.
	// Zero disables limiting.
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit"`
	RateBurst int     `json:"rate_burst" yaml:"rate_burst"`

	TLS tlsutil.ServerConfig `json:"tls" yaml:"tls"`
}

// DefaultConfig returns the collector defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:   ":3000",
		QueryParam:   DefaultQueryParam,
		MaxBodyBytes: DefaultMaxBodyBytes,
		EmptyPayload: EmptyReject,
		AllowOrigin:  "*",
	}
}

// Validate checks the collector configuration.
func (c Config) Validate() error {
	if c.MaxBodyBytes < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("max_body_bytes must not be negative, got %d", c.MaxBodyBytes))
	}
	switch c.EmptyPayload {
	case "", EmptyReject, EmptyIgnore:
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("empty_payload must be %q or %q, got %q", EmptyReject, EmptyIgnore, c.EmptyPayload))
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"rate_limit and rate_burst must not be negative")
	}
	if c.TLS.Enabled && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"tls requires cert_file and key_file")
	}
	return nil
}

// Publisher is the part of *publisher.Publisher the handler needs.
type Publisher interface {
	PublishAll(ctx context.Context, recs []record.Record) publisher.Summary
}

// Handler serves the CMCD ingestion endpoints.
type Handler struct {
	cfg     Config
	pub     Publisher
	logger  *slog.Logger
	metrics *metric.Metrics
	now     func() time.Time
	router  *mux.Router
	limiter *rate.Limiter
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMetrics enables request metrics.
func WithMetrics(m *metric.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithClock overrides the capture time source.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler creates the collector handler.
func NewHandler(cfg Config, pub Publisher, opts ...Option) *Handler {
	if cfg.QueryParam == "" {
		cfg.QueryParam = DefaultQueryParam
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.EmptyPayload == "" {
		cfg.EmptyPayload = EmptyReject
	}

	h := &Handler{
		cfg:    cfg,
		pub:    pub,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst == 0 {
			burst = max(1, int(cfg.RateLimit))
		}
		h.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	h.logger = h.logger.With("component", "collector")
	h.router = h.routes()
	return h
}

func (h *Handler) routes() *mux.Router {
	r := mux.NewRouter()
	for _, mode := range []record.Mode{record.ModeEvent, record.ModeResponse} {
		path := "/cmcd/" + string(mode) + "-mode"
		r.Handle(path, h.ingest(mode)).Methods(http.MethodGet, http.MethodPost)
		r.Handle(path, statusHandler(http.StatusNoContent)).Methods(http.MethodOptions)
	}
	r.NotFoundHandler = statusHandler(http.StatusNotFound)
	r.MethodNotAllowedHandler = statusHandler(http.StatusMethodNotAllowed)
	return r
}

// ServeHTTP implements http.Handler. Every response carries the CORS
// headers, including errors.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	hdr := w.Header()
	hdr.Set("Access-Control-Allow-Origin", h.cfg.AllowOrigin)
	hdr.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	hdr.Set("Access-Control-Allow-Headers", "*")
	h.router.ServeHTTP(w, r)
}

func statusHandler(code int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, code)
	})
}

func writeStatus(w http.ResponseWriter, code int) {
	if code == http.StatusNoContent {
		w.WriteHeader(code)
		return
	}
	http.Error(w, http.StatusText(code), code)
}

func (h *Handler) ingest(mode record.Mode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		logger := h.logger.With("request_id", requestID, "mode", string(mode))
		code := http.StatusTooManyRequests
		if h.limiter == nil || h.limiter.Allow() {
			code = h.handle(r, mode, logger)
		} else {
			logger.Warn("Request rate limit exceeded", "limit", h.cfg.RateLimit)
		}

		h.metrics.RecordRequest(string(mode), code)
		writeStatus(w, code)
	}
}

func (h *Handler) handle(r *http.Request, mode record.Mode, logger *slog.Logger) (code int) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("Panic while handling CMCD request", "panic", p)
			code = http.StatusInternalServerError
		}
	}()

	meta := requestMeta(r, h.cfg.TrustProxy, h.now())

	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, h.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			logger.Warn("Request body too large", "limit", h.cfg.MaxBodyBytes)
			return http.StatusRequestEntityTooLarge
		}
		logger.Warn("Failed to read request body", "error", err)
		return http.StatusBadRequest
	}

	transport := DetectTransport(r.Header.Get("Content-Type"))
	objects, err := transport.Decode(r, body, h.cfg.QueryParam)
	if err != nil {
		if errors.Is(err, errors.ErrEmptyPayload) && h.cfg.EmptyPayload == EmptyIgnore {
			logger.Debug("Ignoring empty CMCD payload", "transport", transport.String())
			return http.StatusNoContent
		}
		if errors.IsInvalid(err) {
			logger.Warn("Rejected CMCD payload", "transport", transport.String(), "error", err)
			return http.StatusBadRequest
		}
		logger.Error("Failed to normalize CMCD request", "transport", transport.String(), "error", err)
		return http.StatusInternalServerError
	}

	if len(objects) == 0 {
		logger.Debug("No CMCD data in request", "transport", transport.String())
		return http.StatusNoContent
	}

	recs := make([]record.Record, len(objects))
	for i, obj := range objects {
		recs[i] = record.Build(obj.Keys, obj.Raw, meta, mode)
	}
	h.metrics.RecordRecords(string(mode), transport.String(), len(recs))

	// Deliveries outlive a client that hangs up; sinks carry their own timeouts.
	summary := h.pub.PublishAll(context.WithoutCancel(r.Context()), recs)
	if !summary.Delivered() {
		logger.Error("All deliveries failed",
			"records", len(recs),
			"transport", transport.String(),
			"error", summary.Err())
		return http.StatusInternalServerError
	}

	logger.Debug("CMCD request processed", "records", len(recs), "transport", transport.String())
	return http.StatusNoContent
}
