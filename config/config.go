package config

import (
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/qualabs/cmcd-toolkit/collector"
	"github.com/qualabs/cmcd-toolkit/errors"
	"github.com/qualabs/cmcd-toolkit/output/bus"
	"github.com/qualabs/cmcd-toolkit/output/file"
	"github.com/qualabs/cmcd-toolkit/output/fluent"
	"github.com/qualabs/cmcd-toolkit/output/httppost"
	"github.com/qualabs/cmcd-toolkit/output/queue"
	"github.com/qualabs/cmcd-toolkit/output/warehouse"
	"github.com/qualabs/cmcd-toolkit/pkg/tlsutil"
	"github.com/qualabs/cmcd-toolkit/processor/enrich"
)

// Config is the complete application configuration
type Config struct {
	Platform  PlatformConfig  `json:"platform"  yaml:"platform"`
	NATS      NATSConfig      `json:"nats"      yaml:"nats"`
	Metrics   MetricsConfig   `json:"metrics"   yaml:"metrics"`
	Collector CollectorConfig `json:"collector" yaml:"collector"`
	Publisher PublisherConfig `json:"publisher" yaml:"publisher"`
	Sinks     SinksConfig     `json:"sinks"     yaml:"sinks"`
	Enricher  EnricherConfig  `json:"enricher"  yaml:"enricher"`
}

// PlatformConfig identifies the running instance in logs and client names
type PlatformConfig struct {
	ID          string `json:"id"                    yaml:"id"`
	Environment string `json:"environment,omitempty" yaml:"environment,omitempty"`
}

// NATSConfig defines NATS connection settings and the stream holding
// published records
type NATSConfig struct {
	URLs          []string             `json:"urls"                     yaml:"urls"`
	MaxReconnects int                  `json:"max_reconnects"           yaml:"max_reconnects"`
	ReconnectWait time.Duration        `json:"reconnect_wait"           yaml:"reconnect_wait"`
	Username      string               `json:"username,omitempty"       yaml:"username,omitempty"`
	Password      string               `json:"password,omitempty"       yaml:"password,omitempty"`
	Token         string               `json:"token,omitempty"          yaml:"token,omitempty"`
	TLS           tlsutil.ClientConfig `json:"tls,omitempty"            yaml:"tls,omitempty"`
	Stream        StreamConfig         `json:"stream"                   yaml:"stream"`
}

// StreamConfig describes the JetStream stream created at startup
type StreamConfig struct {
	Name     string        `json:"name"      yaml:"name"`
	Subjects []string      `json:"subjects"  yaml:"subjects"`
	MaxAge   time.Duration `json:"max_age"   yaml:"max_age"`
	Replicas int           `json:"replicas"  yaml:"replicas"`
	Storage  string        `json:"storage"   yaml:"storage"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr"    yaml:"addr"`
	Path    string `json:"path"    yaml:"path"`
}

// CollectorConfig enables the HTTP collector
type CollectorConfig struct {
	Enabled          bool `json:"enabled" yaml:"enabled"`
	collector.Config `yaml:",inline"`
}

// PublisherConfig tunes the fan-out publisher
type PublisherConfig struct {
	Timeout     time.Duration `json:"timeout"     yaml:"timeout"`
	Concurrency int           `json:"concurrency" yaml:"concurrency"`
}

// SinksConfig holds one section per sink. A sink is built only when enabled.
type SinksConfig struct {
	Warehouse WarehouseSink `json:"warehouse" yaml:"warehouse"`
	Bus       BusSink       `json:"bus"       yaml:"bus"`
	Fluent    FluentSink    `json:"fluent"    yaml:"fluent"`
	File      FileSink      `json:"file"      yaml:"file"`
	Queue     QueueSink     `json:"queue"     yaml:"queue"`
	HTTPPost  HTTPPostSink  `json:"httppost"  yaml:"httppost"`
}

// WarehouseSink configures the BigQuery sink
type WarehouseSink struct {
	Enabled          bool `json:"enabled" yaml:"enabled"`
	warehouse.Config `yaml:",inline"`
}

// BusSink configures the JetStream sink
type BusSink struct {
	Enabled    bool `json:"enabled" yaml:"enabled"`
	bus.Config `yaml:",inline"`
}

// FluentSink configures the fluentd sink
type FluentSink struct {
	Enabled       bool `json:"enabled" yaml:"enabled"`
	fluent.Config `yaml:",inline"`
}

// FileSink configures the JSON Lines file sink
type FileSink struct {
	Enabled     bool `json:"enabled" yaml:"enabled"`
	file.Config `yaml:",inline"`
}

// QueueSink configures the Redis list sink
type QueueSink struct {
	Enabled      bool `json:"enabled" yaml:"enabled"`
	queue.Config `yaml:",inline"`
}

// HTTPPostSink configures the webhook sink
type HTTPPostSink struct {
	Enabled         bool `json:"enabled" yaml:"enabled"`
	httppost.Config `yaml:",inline"`
}

// Count returns the number of enabled sinks
func (s SinksConfig) Count() int {
	n := 0
	for _, enabled := range []bool{
		s.Warehouse.Enabled, s.Bus.Enabled, s.Fluent.Enabled,
		s.File.Enabled, s.Queue.Enabled, s.HTTPPost.Enabled,
	} {
		if enabled {
			n++
		}
	}
	return n
}

// EnricherConfig enables the bus enricher
type EnricherConfig struct {
	Enabled       bool `json:"enabled" yaml:"enabled"`
	enrich.Config `yaml:",inline"`
}

// Default returns the built-in configuration every file is layered onto
func Default() *Config {
	return &Config{
		Platform: PlatformConfig{ID: "cmcd"},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			Stream: StreamConfig{
				Name:     "CMCD",
				Subjects: []string{"cmcd.>"},
				MaxAge:   24 * time.Hour,
				Replicas: 1,
				Storage:  "file",
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
			Path:    "/metrics",
		},
		Collector: CollectorConfig{
			Enabled: true,
			Config:  collector.DefaultConfig(),
		},
		Publisher: PublisherConfig{
			Timeout:     10 * time.Second,
			Concurrency: 16,
		},
		Sinks: SinksConfig{
			Bus:      BusSink{Enabled: true, Config: bus.DefaultConfig()},
			Fluent:   FluentSink{Config: fluent.DefaultConfig()},
			File:     FileSink{Config: file.DefaultConfig()},
			Queue:    QueueSink{Config: queue.DefaultConfig()},
			HTTPPost: HTTPPostSink{Config: httppost.DefaultConfig()},
			Warehouse: WarehouseSink{Config: warehouse.Config{
				Dataset: "cmcd",
				Table:   "cmcd_records",
			}},
		},
		Enricher: EnricherConfig{Config: enrich.DefaultConfig()},
	}
}

// Validate checks the configuration. Only enabled sections are validated.
func (c *Config) Validate() error {
	if c.Platform.ID == "" {
		return invalid("platform.id is required")
	}
	if !isValidNATSSubjectPart(c.Platform.ID) {
		return invalid(fmt.Sprintf("platform.id %q must be alphanumeric with dots, dashes or underscores", c.Platform.ID))
	}
	if !c.Collector.Enabled && !c.Enricher.Enabled {
		return invalid("at least one of collector.enabled or enricher.enabled must be set")
	}

	if c.NeedsNATS() {
		if len(c.NATS.URLs) == 0 {
			return invalid("nats.urls is required when the bus sink or the enricher is enabled")
		}
		if c.NATS.Stream.Name == "" || len(c.NATS.Stream.Subjects) == 0 {
			return invalid("nats.stream.name and nats.stream.subjects are required")
		}
		switch c.NATS.Stream.Storage {
		case "", "file", "memory":
		default:
			return invalid(fmt.Sprintf("nats.stream.storage must be file or memory, got %q", c.NATS.Stream.Storage))
		}
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return invalid("metrics.addr is required when metrics are enabled")
	}

	if c.Collector.Enabled {
		if err := c.Collector.Validate(); err != nil {
			return section("collector", err)
		}
		if c.Sinks.Count() == 0 {
			return invalid("the collector needs at least one enabled sink")
		}
		if err := c.validateSinks(); err != nil {
			return err
		}
	}

	if c.Enricher.Enabled {
		if err := c.Enricher.Validate(); err != nil {
			return section("enricher", err)
		}
		if c.Sinks.Bus.Enabled && c.Sinks.Bus.Subject == c.Enricher.OutputSubject {
			return invalid("enricher.output_subject must differ from sinks.bus.subject")
		}
	}
	return nil
}

func (c *Config) validateSinks() error {
	s := c.Sinks
	checks := []struct {
		name    string
		enabled bool
		check   func() error
	}{
		{"sinks.warehouse", s.Warehouse.Enabled, s.Warehouse.Validate},
		{"sinks.bus", s.Bus.Enabled, s.Bus.Validate},
		{"sinks.fluent", s.Fluent.Enabled, s.Fluent.Validate},
		{"sinks.file", s.File.Enabled, s.File.Validate},
		{"sinks.queue", s.Queue.Enabled, s.Queue.Validate},
		{"sinks.httppost", s.HTTPPost.Enabled, s.HTTPPost.Validate},
	}
	for _, chk := range checks {
		if !chk.enabled {
			continue
		}
		if err := chk.check(); err != nil {
			return section(chk.name, err)
		}
	}
	return nil
}

// NeedsNATS reports whether any enabled component talks to NATS
func (c *Config) NeedsNATS() bool {
	return c.Enricher.Enabled || (c.Collector.Enabled && c.Sinks.Bus.Enabled)
}

// String renders a one-line summary with credentials omitted
func (c *Config) String() string {
	var sinks []string
	for name, enabled := range map[string]bool{
		"warehouse": c.Sinks.Warehouse.Enabled,
		"bus":       c.Sinks.Bus.Enabled,
		"fluent":    c.Sinks.Fluent.Enabled,
		"file":      c.Sinks.File.Enabled,
		"queue":     c.Sinks.Queue.Enabled,
		"httppost":  c.Sinks.HTTPPost.Enabled,
	} {
		if enabled {
			sinks = append(sinks, name)
		}
	}
	slices.Sort(sinks)
	return fmt.Sprintf("Config{platform=%s, nats=%v, collector=%t, enricher=%t, sinks=[%s]}",
		c.Platform.ID, c.NATS.URLs, c.Collector.Enabled, c.Enricher.Enabled, strings.Join(sinks, ","))
}

func invalid(msg string) error {
	return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", msg)
}

func section(name string, err error) error {
	return errors.WrapInvalid(err, "Config", "Validate", name)
}

// isValidNATSSubjectPart checks if a string is valid for use in NATS subjects.
// Valid characters are alphanumeric, dots, dashes, and underscores.
func isValidNATSSubjectPart(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.' && r != '-' && r != '_' {
			return false
		}
	}
	return true
}
