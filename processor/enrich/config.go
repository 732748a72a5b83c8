package enrich

import (
	"fmt"
	"time"

	"github.com/qualabs/cmcd-toolkit/errors"
	"github.com/qualabs/cmcd-toolkit/pkg/retry"
)

// Geo database sources
const (
	SourceNATS  = "nats"
	SourceS3    = "s3"
	SourceLocal = "local"
)

// Config holds the enricher configuration
type Config struct {
	Stream        string        `json:"stream"         yaml:"stream"`
	Durable       string        `json:"durable"        yaml:"durable"`
	InputSubject  string        `json:"input_subject"  yaml:"input_subject"`
	OutputSubject string        `json:"output_subject" yaml:"output_subject"`
	UserAgent     bool          `json:"user_agent"     yaml:"user_agent"`
	Denylist      []string      `json:"denylist"       yaml:"denylist"`
	Workers       int           `json:"workers"        yaml:"workers"`
	QueueSize     int           `json:"queue_size"     yaml:"queue_size"`
	AckWait       time.Duration `json:"ack_wait"       yaml:"ack_wait"`
	MaxDeliver    int           `json:"max_deliver"    yaml:"max_deliver"`
	Geo           GeoConfig     `json:"geo"            yaml:"geo"`
}

// GeoConfig locates the GeoLite2 databases in an object store. Leaving both
// keys empty disables the geo stage.
type GeoConfig struct {
	Source      string        `json:"source"       yaml:"source"`
	Bucket      string        `json:"bucket"       yaml:"bucket"`
	CityKey     string        `json:"city_key"     yaml:"city_key"`
	ASNKey      string        `json:"asn_key"      yaml:"asn_key"`
	Dir         string        `json:"dir"          yaml:"dir"`
	LocalRoot   string        `json:"local_root"   yaml:"local_root"`
	Region      string        `json:"region"       yaml:"region"`
	Endpoint    string        `json:"endpoint"     yaml:"endpoint"`
	PathStyle   bool          `json:"path_style"   yaml:"path_style"`
	InitTimeout time.Duration `json:"init_timeout" yaml:"init_timeout"`
	Retry       retry.Config  `json:"retry"        yaml:"retry"`
	CacheSize   int           `json:"cache_size"   yaml:"cache_size"`
	CacheTTL    time.Duration `json:"cache_ttl"    yaml:"cache_ttl"`
}

// Enabled reports whether any geo database is configured
func (g GeoConfig) Enabled() bool {
	return g.CityKey != "" || g.ASNKey != ""
}

// DefaultConfig returns the default enricher configuration
func DefaultConfig() Config {
	return Config{
		Stream:        "CMCD",
		Durable:       "cmcd-enricher",
		InputSubject:  "cmcd.records",
		OutputSubject: "cmcd.enriched",
		Workers:       8,
		QueueSize:     256,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		Geo: GeoConfig{
			Source:      SourceNATS,
			Dir:         "/tmp/cmcd-geo",
			InitTimeout: 2 * time.Minute,
			Retry:       retry.DefaultConfig(),
			CacheSize:   10000,
			CacheTTL:    time.Hour,
		},
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.InputSubject == "" || c.OutputSubject == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate",
			"input_subject and output_subject are required")
	}
	if c.InputSubject == c.OutputSubject {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"output_subject must differ from input_subject")
	}
	if c.Stream == "" || c.Durable == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "stream and durable are required")
	}
	if !c.Geo.Enabled() {
		return nil
	}

	switch c.Geo.Source {
	case SourceNATS, SourceS3:
		if c.Geo.Bucket == "" {
			return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "geo.bucket is required")
		}
	case SourceLocal:
		if c.Geo.LocalRoot == "" {
			return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "geo.local_root is required")
		}
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("unknown geo.source %q", c.Geo.Source))
	}
	if c.Geo.Dir == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "geo.dir is required")
	}
	if c.Geo.CacheSize < 0 || c.Geo.CacheTTL < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"geo.cache_size and geo.cache_ttl cannot be negative")
	}
	return nil
}
