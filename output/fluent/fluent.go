// Package fluent provides a sink that forwards records to a fluentd or
// fluent-bit forward input.
package fluent

import (
	"context"
	"time"

	"github.com/fluent/fluent-logger-golang/fluent"

	"github.com/qualabs/cmcd-toolkit/errors"
	"github.com/qualabs/cmcd-toolkit/publisher"
	"github.com/qualabs/cmcd-toolkit/record"
)

// Config holds configuration for the fluentd sink
type Config struct {
	Host       string        `json:"host"        yaml:"host"`
	Port       int           `json:"port"        yaml:"port"`
	Network    string        `json:"network"     yaml:"network"`
	SocketPath string        `json:"socket_path" yaml:"socket_path"`
	Tag        string        `json:"tag"         yaml:"tag"`
	Timeout    time.Duration `json:"timeout"     yaml:"timeout"`
	RequestAck bool          `json:"request_ack" yaml:"request_ack"`
}

// DefaultConfig returns default configuration for the fluentd sink
func DefaultConfig() Config {
	return Config{
		Host:    "127.0.0.1",
		Port:    24224,
		Network: "tcp",
		Tag:     "cmcd",
		Timeout: 3 * time.Second,
	}
}

// Validate checks the configuration for errors
func (c Config) Validate() error {
	if c.Tag == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "tag is required")
	}
	switch c.Network {
	case "", "tcp":
		if c.Port <= 0 || c.Port > 65535 {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "port must be between 1 and 65535")
		}
	case "unix":
		if c.SocketPath == "" {
			return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "socket_path is required for unix network")
		}
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "network must be tcp or unix")
	}
	return nil
}

// Poster is satisfied by *fluent.Fluent.
type Poster interface {
	PostWithTime(tag string, tm time.Time, message interface{}) error
	Close() error
}

// Sink emits one fluentd event per record.
type Sink struct {
	poster Poster
	tag    string
	now    func() time.Time
}

// New creates a fluentd client. Writes are synchronous and attempted once so
// a failed emit is reported to the publisher.
func New(cfg Config) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := fluent.New(fluent.Config{
		FluentHost:       cfg.Host,
		FluentPort:       cfg.Port,
		FluentNetwork:    cfg.Network,
		FluentSocketPath: cfg.SocketPath,
		Timeout:          cfg.Timeout,
		WriteTimeout:     cfg.Timeout,
		RequestAck:       cfg.RequestAck,
		MaxRetry:         1,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "Sink", "New", "create fluent client")
	}
	return NewWithPoster(client, cfg.Tag), nil
}

// NewWithPoster wraps an existing client.
func NewWithPoster(poster Poster, tag string) *Sink {
	return &Sink{poster: poster, tag: tag, now: time.Now}
}

// Name implements publisher.Sink
func (s *Sink) Name() string { return "fluent" }

// Deliver implements publisher.Sink. The fluent client has no context
// support; its write timeout bounds the call.
func (s *Sink) Deliver(ctx context.Context, rec record.Record) (publisher.Ack, error) {
	if err := ctx.Err(); err != nil {
		return publisher.Ack{}, errors.WrapTransient(err, "Sink", "Deliver", "emit event")
	}
	if err := s.poster.PostWithTime(s.tag, s.now(), map[string]interface{}(rec)); err != nil {
		return publisher.Ack{}, errors.WrapTransient(err, "Sink", "Deliver", "emit event")
	}
	return publisher.Ack{}, nil
}

// Close flushes and closes the client.
func (s *Sink) Close() error {
	return errors.WrapTransient(s.poster.Close(), "Sink", "Close", "close fluent client")
}
