// Package publisher fans a record out to every configured sink concurrently
// and accounts for partial failure. A record counts as delivered when at
// least one sink accepted it.
package publisher

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/qualabs/cmcd-toolkit/errors"
	"github.com/qualabs/cmcd-toolkit/metric"
	"github.com/qualabs/cmcd-toolkit/record"
)

// DefaultTimeout bounds a single sink delivery.
const DefaultTimeout = 10 * time.Second

// Ack identifies a delivery at the destination (a message id, stream
// sequence, row id). ID may be empty when the sink has nothing to report.
type Ack struct {
	Sink string
	ID   string
}

// Sink is one delivery destination. Deliver is a single attempt and must not
// modify rec, which is shared with the other sinks.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, rec record.Record) (Ack, error)
}

// Result is the outcome of one sink for one record.
type Result struct {
	Sink     string
	Ack      Ack
	Err      error
	Duration time.Duration
}

// Outcome collects the per-sink results of one record.
type Outcome struct {
	Results []Result
}

// Succeeded returns the number of sinks that accepted the record.
func (o Outcome) Succeeded() int {
	n := 0
	for _, r := range o.Results {
		if r.Err == nil {
			n++
		}
	}
	return n
}

// Failed returns the number of sinks that rejected the record.
func (o Outcome) Failed() int {
	return len(o.Results) - o.Succeeded()
}

// Delivered reports whether at least one sink accepted the record.
func (o Outcome) Delivered() bool {
	return o.Succeeded() > 0
}

// Summary collects the outcomes of a batch, in input order.
type Summary struct {
	Outcomes []Outcome
}

// Delivered is true for an empty batch, otherwise when at least one record
// reached at least one sink.
func (s Summary) Delivered() bool {
	if len(s.Outcomes) == 0 {
		return true
	}
	for _, o := range s.Outcomes {
		if o.Delivered() {
			return true
		}
	}
	return false
}

// Err returns nil when the batch was delivered and ErrAllDeliveriesFailed
// (or ErrNoSinks) joined with the underlying sink errors otherwise.
func (s Summary) Err() error {
	if s.Delivered() {
		return nil
	}

	var errs []error
	for _, o := range s.Outcomes {
		if len(o.Results) == 0 {
			return errors.ErrNoSinks
		}
		for _, r := range o.Results {
			errs = append(errs, r.Err)
		}
	}
	return errors.Join(append([]error{errors.ErrAllDeliveriesFailed}, errs...)...)
}

// Publisher dispatches records to a fixed set of sinks.
type Publisher struct {
	sinks       []Sink
	timeout     time.Duration
	concurrency int
	logger      *slog.Logger
	metrics     *metric.Metrics
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithTimeout sets the per-delivery timeout. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		if d >= 0 {
			p.timeout = d
		}
	}
}

// WithConcurrency caps how many records PublishAll sends at once.
func WithConcurrency(n int) Option {
	return func(p *Publisher) {
		p.concurrency = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics enables per-sink delivery metrics.
func WithMetrics(m *metric.Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// New creates a publisher for sinks.
func New(sinks []Sink, opts ...Option) *Publisher {
	p := &Publisher{
		sinks:   append([]Sink(nil), sinks...),
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "publisher")
	return p
}

// Sinks returns the names of the configured sinks.
func (p *Publisher) Sinks() []string {
	names := make([]string, len(p.sinks))
	for i, s := range p.sinks {
		names[i] = s.Name()
	}
	return names
}

// Publish delivers rec to every sink concurrently and waits for all of them.
// Failures are logged and counted, never returned.
func (p *Publisher) Publish(ctx context.Context, rec record.Record) Outcome {
	results := make([]Result, len(p.sinks))

	var wg sync.WaitGroup
	for i, sink := range p.sinks {
		wg.Add(1)
		go func(i int, sink Sink) {
			defer wg.Done()
			results[i] = p.deliver(ctx, sink, rec)
		}(i, sink)
	}
	wg.Wait()

	return Outcome{Results: results}
}

func (p *Publisher) deliver(ctx context.Context, sink Sink, rec record.Record) Result {
	name := sink.Name()
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	ack, err := sink.Deliver(ctx, rec)
	elapsed := time.Since(start)

	p.metrics.RecordDelivery(name, err, elapsed)
	if err != nil {
		p.logger.Warn("Sink delivery failed",
			"sink", name,
			"duration", elapsed,
			"error", err)
		return Result{Sink: name, Err: err, Duration: elapsed}
	}

	if ack.Sink == "" {
		ack.Sink = name
	}
	p.logger.Debug("Sink delivery succeeded", "sink", name, "ack", ack.ID, "duration", elapsed)
	return Result{Sink: name, Ack: ack, Duration: elapsed}
}

// PublishAll publishes every record and waits for all outcomes.
func (p *Publisher) PublishAll(ctx context.Context, recs []record.Record) Summary {
	outcomes := make([]Outcome, len(recs))

	var g errgroup.Group
	if p.concurrency > 0 {
		g.SetLimit(p.concurrency)
	}
	for i, rec := range recs {
		g.Go(func() error {
			outcomes[i] = p.Publish(ctx, rec)
			return nil
		})
	}
	_ = g.Wait()

	return Summary{Outcomes: outcomes}
}

// Close closes every sink that holds resources.
func (p *Publisher) Close() error {
	var errs []error
	for _, s := range p.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, errors.Wrap(err, "Publisher", "Close", "close sink "+s.Name()))
			}
		}
	}
	return errors.Join(errs...)
}
