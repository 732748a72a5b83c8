package enrich

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/qualabs/cmcd-toolkit/errors"
	"github.com/qualabs/cmcd-toolkit/metric"
	"github.com/qualabs/cmcd-toolkit/natsclient"
	"github.com/qualabs/cmcd-toolkit/pkg/worker"
)

// StreamConsumer is satisfied by *natsclient.Client.
type StreamConsumer interface {
	ConsumeStream(ctx context.Context, spec natsclient.ConsumerSpec, handler func(jetstream.Msg)) error
}

// Consumer feeds bus messages from a durable consumer through a worker pool
// into an Enricher. A message is acked when Handle returns nil and nak'd
// otherwise, including when the pool queue is full.
type Consumer struct {
	cfg      Config
	source   StreamConsumer
	enricher *Enricher
	pool     *worker.Pool[jetstream.Msg]
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewConsumer creates a consumer for enricher
func NewConsumer(cfg Config, source StreamConsumer, enricher *Enricher, logger *slog.Logger, metrics *metric.Metrics) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Consumer{
		cfg:      cfg,
		source:   source,
		enricher: enricher,
		logger:   logger,
	}
	c.pool = worker.NewPool(cfg.Workers, cfg.QueueSize, c.process,
		worker.WithMetrics[jetstream.Msg](metrics, "enricher"))
	return c
}

// Start begins consuming. It does not wait for the geo databases; the first
// handled message loads them.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Consumer", "Start", "check running state")
	}

	if err := c.pool.Start(ctx); err != nil {
		return errors.Wrap(err, "Consumer", "Start", "start worker pool")
	}

	spec := natsclient.ConsumerSpec{
		Stream:        c.cfg.Stream,
		Durable:       c.cfg.Durable,
		FilterSubject: c.cfg.InputSubject,
		AckWait:       c.cfg.AckWait,
		MaxDeliver:    c.cfg.MaxDeliver,
		MaxAckPending: c.cfg.QueueSize,
	}
	if err := c.source.ConsumeStream(ctx, spec, c.dispatch); err != nil {
		_ = c.pool.Stop(time.Second)
		return err
	}

	c.running = true
	c.logger.Info("Enricher consuming",
		"component", "enricher",
		"stream", c.cfg.Stream,
		"durable", c.cfg.Durable,
		"input_subject", c.cfg.InputSubject,
		"output_subject", c.cfg.OutputSubject,
		"workers", c.cfg.Workers)
	return nil
}

// Stop drains the worker pool
func (c *Consumer) Stop(timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}
	c.running = false
	return c.pool.Stop(timeout)
}

// Stats returns the worker pool counters
func (c *Consumer) Stats() worker.PoolStats {
	return c.pool.Stats()
}

func (c *Consumer) dispatch(msg jetstream.Msg) {
	if err := c.pool.Submit(msg); err != nil {
		c.logger.Warn("Enricher queue rejected message", "component", "enricher", "subject", msg.Subject(), "error", err)
		if nakErr := msg.Nak(); nakErr != nil {
			c.logger.Debug("Nak failed", "component", "enricher", "error", nakErr)
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg jetstream.Msg) error {
	if err := c.enricher.Handle(ctx, msg.Data()); err != nil {
		if nakErr := msg.Nak(); nakErr != nil {
			c.logger.Debug("Nak failed", "component", "enricher", "error", nakErr)
		}
		return err
	}
	if err := msg.Ack(); err != nil {
		c.logger.Warn("Ack failed", "component", "enricher", "error", err)
	}
	return nil
}
