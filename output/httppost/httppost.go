// Package httppost provides a sink that POSTs each record as JSON to a
// webhook. A 2xx response is a successful delivery; there are no retries.
package httppost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/qualabs/cmcd-toolkit/errors"
	"github.com/qualabs/cmcd-toolkit/pkg/tlsutil"
	"github.com/qualabs/cmcd-toolkit/publisher"
	"github.com/qualabs/cmcd-toolkit/record"
)

// Config holds configuration for the webhook sink
type Config struct {
	URL         string               `json:"url"          yaml:"url"`
	Headers     map[string]string    `json:"headers"      yaml:"headers"`
	Timeout     time.Duration        `json:"timeout"      yaml:"timeout"`
	ContentType string               `json:"content_type" yaml:"content_type"`
	TLS         tlsutil.ClientConfig `json:"tls"          yaml:"tls"`
}

// Validate checks the configuration for errors
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "url is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "invalid URL format")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("url scheme must be http or https, got %q", u.Scheme))
	}
	if c.Timeout < 0 || c.Timeout > 5*time.Minute {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"timeout must be between 0 and 5m")
	}
	return nil
}

// DefaultConfig returns default configuration for the webhook sink
func DefaultConfig() Config {
	return Config{
		URL:         "http://localhost:8080/webhook",
		Headers:     make(map[string]string),
		Timeout:     10 * time.Second,
		ContentType: "application/json",
	}
}

// Sink POSTs records to a webhook.
type Sink struct {
	url         string
	headers     map[string]string
	contentType string
	httpClient  *http.Client
}

// New creates a webhook sink.
func New(cfg Config) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "application/json"
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	if !cfg.TLS.IsZero() {
		tlsConfig, err := tlsutil.LoadClientConfig(cfg.TLS)
		if err != nil {
			return nil, errors.WrapFatal(err, "Sink", "New", "load TLS config")
		}
		httpClient.Transport = &http.Transport{TLSClientConfig: tlsConfig}
	}

	return &Sink{
		url:         cfg.URL,
		headers:     cfg.Headers,
		contentType: cfg.ContentType,
		httpClient:  httpClient,
	}, nil
}

// Name implements publisher.Sink
func (s *Sink) Name() string { return "httppost" }

// Deliver implements publisher.Sink
func (s *Sink) Deliver(ctx context.Context, rec record.Record) (publisher.Ack, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return publisher.Ack{}, errors.WrapInvalid(err, "Sink", "Deliver", "encode record")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(data))
	if err != nil {
		return publisher.Ack{}, errors.WrapFatal(err, "Sink", "Deliver", "build request")
	}
	req.Header.Set("Content-Type", s.contentType)
	for key, value := range s.headers {
		req.Header.Set(key, value)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return publisher.Ack{}, errors.WrapTransient(err, "Sink", "Deliver", "POST "+s.url)
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return publisher.Ack{}, errors.WrapTransient(fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status),
			"Sink", "Deliver", "POST "+s.url)
	}
	return publisher.Ack{ID: resp.Header.Get("X-Request-ID")}, nil
}
