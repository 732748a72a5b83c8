package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/errgroup"

	"github.com/qualabs/cmcd-toolkit/collector"
	"github.com/qualabs/cmcd-toolkit/config"
	"github.com/qualabs/cmcd-toolkit/errors"
	"github.com/qualabs/cmcd-toolkit/health"
	"github.com/qualabs/cmcd-toolkit/metric"
	"github.com/qualabs/cmcd-toolkit/natsclient"
	"github.com/qualabs/cmcd-toolkit/output/bus"
	"github.com/qualabs/cmcd-toolkit/output/file"
	"github.com/qualabs/cmcd-toolkit/output/fluent"
	"github.com/qualabs/cmcd-toolkit/output/httppost"
	"github.com/qualabs/cmcd-toolkit/output/queue"
	"github.com/qualabs/cmcd-toolkit/output/warehouse"
	"github.com/qualabs/cmcd-toolkit/pkg/tlsutil"
	"github.com/qualabs/cmcd-toolkit/processor/enrich"
	"github.com/qualabs/cmcd-toolkit/publisher"
	"github.com/qualabs/cmcd-toolkit/storage/objectstore"
)

// app owns every long-lived component of the process
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	metrics  *metric.Metrics
	monitor  *health.Monitor

	nats      *natsclient.Client
	publisher *publisher.Publisher
	collector *collector.Server
	enricher  *enrich.Enricher
	consumer  *enrich.Consumer
	metricSrv *metric.Server

	closeOnce sync.Once
	closeErr  error
}

func newApp(cfg *config.Config, logger *slog.Logger) *app {
	registry := metric.NewMetricsRegistry()
	return &app{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		metrics:  registry.CoreMetrics(),
		monitor:  health.NewMonitor(appName),
	}
}

// setup connects to NATS and builds the enabled components. On error the
// caller still runs close to release whatever was built.
func (a *app) setup(ctx context.Context) error {
	if a.cfg.NeedsNATS() {
		if err := a.connectNATS(ctx); err != nil {
			return err
		}
	}

	if a.cfg.Collector.Enabled {
		if err := a.setupCollector(ctx); err != nil {
			return err
		}
	}

	if a.cfg.Enricher.Enabled {
		if err := a.setupEnricher(ctx); err != nil {
			return err
		}
	}

	a.registerHealthChecks()

	if a.cfg.Metrics.Enabled {
		a.metricSrv = metric.NewServer(a.cfg.Metrics.Addr, a.cfg.Metrics.Path, a.registry, a.monitor)
	}
	return nil
}

func (a *app) registerHealthChecks() {
	if a.nats != nil {
		a.monitor.Register("nats", func(context.Context) health.Status {
			if a.nats.IsHealthy() {
				return health.NewHealthy("nats", "")
			}
			return health.NewUnhealthy("nats", a.nats.Status().String())
		})
	}

	if a.publisher != nil {
		a.monitor.Register("collector", func(context.Context) health.Status {
			return health.NewHealthy("collector", "sinks: "+strings.Join(a.publisher.Sinks(), ","))
		})
	}

	if a.enricher != nil {
		a.monitor.Register("enricher", func(context.Context) health.Status {
			stats := a.consumer.Stats()
			if stats.QueueSize > 0 && stats.QueueDepth >= stats.QueueSize {
				return health.NewDegraded("enricher", "worker queue full")
			}
			switch state := a.enricher.State(); state {
			case enrich.StateReady:
				return health.NewHealthy("enricher", "")
			case enrich.StateFailed:
				return health.NewDegraded("enricher", "geo databases unavailable")
			default:
				return health.NewDegraded("enricher", "geo databases "+state.String())
			}
		})
	}
}

func (a *app) connectNATS(ctx context.Context) error {
	nc := a.cfg.NATS
	opts := []natsclient.ClientOption{
		natsclient.WithMaxReconnects(nc.MaxReconnects),
		natsclient.WithReconnectWait(nc.ReconnectWait),
		natsclient.WithClientName(appName + "-" + a.cfg.Platform.ID),
		natsclient.WithLogger(a.logger),
		natsclient.WithMetrics(a.metrics),
	}
	if nc.Username != "" {
		opts = append(opts, natsclient.WithCredentials(nc.Username, nc.Password))
	}
	if nc.Token != "" {
		opts = append(opts, natsclient.WithToken(nc.Token))
	}
	if !nc.TLS.IsZero() {
		tlsCfg, err := tlsutil.LoadClientConfig(nc.TLS)
		if err != nil {
			return fmt.Errorf("load NATS TLS config: %w", err)
		}
		opts = append(opts, natsclient.WithTLS(tlsCfg))
	}

	client, err := natsclient.NewClient(strings.Join(nc.URLs, ","), opts...)
	if err != nil {
		return fmt.Errorf("create NATS client: %w", err)
	}
	a.nats = client

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		return fmt.Errorf("NATS connection timeout: %w", err)
	}

	storage := jetstream.FileStorage
	if nc.Stream.Storage == "memory" {
		storage = jetstream.MemoryStorage
	}
	if _, err := client.EnsureStream(ctx, jetstream.StreamConfig{
		Name:     nc.Stream.Name,
		Subjects: nc.Stream.Subjects,
		MaxAge:   nc.Stream.MaxAge,
		Replicas: nc.Stream.Replicas,
		Storage:  storage,
	}); err != nil {
		return fmt.Errorf("ensure stream %s: %w", nc.Stream.Name, err)
	}
	return nil
}

func (a *app) setupCollector(ctx context.Context) error {
	sinks, err := buildSinks(ctx, a.cfg.Sinks, a.nats, a.logger)
	if err != nil {
		closeSinks(sinks)
		return err
	}

	a.publisher = publisher.New(sinks,
		publisher.WithTimeout(a.cfg.Publisher.Timeout),
		publisher.WithConcurrency(a.cfg.Publisher.Concurrency),
		publisher.WithLogger(a.logger),
		publisher.WithMetrics(a.metrics),
	)

	handler := collector.NewHandler(a.cfg.Collector.Config, a.publisher,
		collector.WithLogger(a.logger),
		collector.WithMetrics(a.metrics),
	)

	tlsCfg, err := tlsutil.LoadServerConfig(a.cfg.Collector.TLS)
	if err != nil {
		return fmt.Errorf("load collector TLS config: %w", err)
	}
	a.collector = collector.NewServer(a.cfg.Collector.ListenAddr, handler, tlsCfg)

	a.logger.Info("Collector configured",
		"listen_addr", a.cfg.Collector.ListenAddr,
		"sinks", a.publisher.Sinks(),
		"tls", tlsCfg != nil)
	return nil
}

// buildSinks creates every enabled sink. On error the sinks built so far are
// returned so the caller can close them.
func buildSinks(ctx context.Context, cfg config.SinksConfig, nc *natsclient.Client, logger *slog.Logger) ([]publisher.Sink, error) {
	var sinks []publisher.Sink

	if cfg.Warehouse.Enabled {
		s, err := warehouse.New(ctx, cfg.Warehouse.Config)
		if err != nil {
			return sinks, fmt.Errorf("warehouse sink: %w", err)
		}
		sinks = append(sinks, s)
	}

	if cfg.Bus.Enabled {
		if nc == nil {
			return sinks, errors.WrapFatal(errors.ErrMissingConfig, "main", "buildSinks", "bus sink requires NATS")
		}
		s, err := bus.New(nc, cfg.Bus.Config)
		if err != nil {
			return sinks, fmt.Errorf("bus sink: %w", err)
		}
		sinks = append(sinks, s)
	}

	if cfg.Fluent.Enabled {
		s, err := fluent.New(cfg.Fluent.Config)
		if err != nil {
			return sinks, fmt.Errorf("fluent sink: %w", err)
		}
		sinks = append(sinks, s)
	}

	if cfg.File.Enabled {
		s, err := file.New(cfg.File.Config, logger)
		if err != nil {
			return sinks, fmt.Errorf("file sink: %w", err)
		}
		sinks = append(sinks, s)
	}

	if cfg.Queue.Enabled {
		s, err := queue.New(cfg.Queue.Config)
		if err != nil {
			return sinks, fmt.Errorf("queue sink: %w", err)
		}
		sinks = append(sinks, s)
	}

	if cfg.HTTPPost.Enabled {
		s, err := httppost.New(cfg.HTTPPost.Config)
		if err != nil {
			return sinks, fmt.Errorf("httppost sink: %w", err)
		}
		sinks = append(sinks, s)
	}

	return sinks, nil
}

func closeSinks(sinks []publisher.Sink) {
	_ = publisher.New(sinks).Close()
}

func (a *app) setupEnricher(ctx context.Context) error {
	cfg := a.cfg.Enricher.Config

	opts := []enrich.Option{
		enrich.WithLogger(a.logger),
		enrich.WithMetrics(a.metrics),
	}
	if cfg.Geo.Enabled() {
		downloader, err := newDownloader(ctx, cfg.Geo, a.nats)
		if err != nil {
			return err
		}
		opts = append(opts, enrich.WithLoader(enrich.NewGeoLoader(downloader, cfg.Geo, a.logger)))
	}

	e, err := enrich.New(cfg, a.nats, opts...)
	if err != nil {
		return fmt.Errorf("create enricher: %w", err)
	}
	a.enricher = e
	a.consumer = enrich.NewConsumer(cfg, a.nats, e, a.logger, a.metrics)
	return nil
}

func newDownloader(ctx context.Context, cfg enrich.GeoConfig, nc *natsclient.Client) (objectstore.Downloader, error) {
	switch cfg.Source {
	case enrich.SourceS3:
		d, err := objectstore.NewS3Downloader(ctx, objectstore.S3Config{
			Region:       cfg.Region,
			Endpoint:     cfg.Endpoint,
			UsePathStyle: cfg.PathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("create S3 downloader: %w", err)
		}
		return d, nil
	case enrich.SourceLocal:
		return objectstore.LocalDownloader{Root: cfg.LocalRoot}, nil
	default:
		return objectstore.NewNATSDownloader(nc), nil
	}
}

// run starts the servers and then the consumer, blocks until ctx is done or a
// server fails, then shuts everything down within timeout.
func (a *app) run(ctx context.Context, timeout time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.metricSrv != nil {
		g.Go(a.metricSrv.Start)
		a.logger.Info("Metrics server listening", "addr", a.cfg.Metrics.Addr, "path", a.cfg.Metrics.Path)
	}

	if a.collector != nil {
		g.Go(a.collector.Start)
		a.logger.Info("Collector listening", "addr", a.collector.Addr())
	}

	// Ingestion is up before the enricher attaches; geo databases load on
	// the first bus message.
	if a.consumer != nil {
		if err := a.consumer.Start(gctx); err != nil {
			_ = a.close(timeout)
			_ = g.Wait()
			return fmt.Errorf("start enricher: %w", err)
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("Shutting down", "timeout", timeout)
		return a.close(timeout)
	})

	return g.Wait()
}

// close stops components in reverse dependency order: intake first, then
// the sinks, then the bus connection. Only the first call does any work.
func (a *app) close(timeout time.Duration) error {
	a.closeOnce.Do(func() {
		a.closeErr = a.shutdown(timeout)
	})
	return a.closeErr
}

func (a *app) shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if a.collector != nil {
		errs = append(errs, a.collector.Stop(ctx))
	}
	if a.consumer != nil {
		errs = append(errs, a.consumer.Stop(timeout))
	}
	if a.enricher != nil {
		errs = append(errs, a.enricher.Close())
	}
	if a.publisher != nil {
		errs = append(errs, a.publisher.Close())
	}
	if a.nats != nil {
		errs = append(errs, a.nats.Close(ctx))
	}
	if a.metricSrv != nil {
		errs = append(errs, a.metricSrv.Stop(ctx))
	}
	return errors.Join(errs...)
}
