// Package queue provides a sink that pushes msgpack-encoded records onto a
// Redis list for downstream workers.
package queue

import (
	"context"
	"strconv"

	"github.com/go-redis/redis/v8"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/qualabs/cmcd-toolkit/errors"
	"github.com/qualabs/cmcd-toolkit/publisher"
	"github.com/qualabs/cmcd-toolkit/record"
)

// Config holds configuration for the Redis queue sink
type Config struct {
	URL    string `json:"url"     yaml:"url"`
	Key    string `json:"key"     yaml:"key"`
	MaxLen int64  `json:"max_len" yaml:"max_len"`
}

// DefaultConfig returns default configuration for the Redis queue sink
func DefaultConfig() Config {
	return Config{
		URL: "redis://127.0.0.1:6379/0",
		Key: "cmcd:records",
	}
}

// Validate checks the configuration for errors
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "url is required")
	}
	if _, err := redis.ParseURL(c.URL); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "parse redis url")
	}
	if c.Key == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "key is required")
	}
	if c.MaxLen < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "max_len cannot be negative")
	}
	return nil
}

// Sink RPUSHes records onto one list. When MaxLen is set the list is
// trimmed to its newest MaxLen entries in the same transaction.
type Sink struct {
	rdb    *redis.Client
	key    string
	maxLen int64
}

// New creates a sink with its own Redis client.
func New(cfg Config) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Sink", "New", "parse redis url")
	}
	return NewWithClient(redis.NewClient(opt), cfg.Key, cfg.MaxLen), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(rdb *redis.Client, key string, maxLen int64) *Sink {
	return &Sink{rdb: rdb, key: key, maxLen: maxLen}
}

// Name implements publisher.Sink
func (s *Sink) Name() string { return "queue" }

// Deliver implements publisher.Sink. The ack carries the list length after
// the push.
func (s *Sink) Deliver(ctx context.Context, rec record.Record) (publisher.Ack, error) {
	data, err := msgpack.Marshal(map[string]any(rec))
	if err != nil {
		return publisher.Ack{}, errors.WrapInvalid(err, "Sink", "Deliver", "encode record")
	}

	var push *redis.IntCmd
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		push = pipe.RPush(ctx, s.key, data)
		if s.maxLen > 0 {
			pipe.LTrim(ctx, s.key, -s.maxLen, -1)
		}
		return nil
	})
	if err != nil {
		return publisher.Ack{}, errors.WrapTransient(err, "Sink", "Deliver", "push to "+s.key)
	}
	return publisher.Ack{ID: strconv.FormatInt(push.Val(), 10)}, nil
}

// Close closes the Redis client.
func (s *Sink) Close() error {
	return errors.WrapTransient(s.rdb.Close(), "Sink", "Close", "close redis client")
}
