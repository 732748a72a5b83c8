package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/qualabs/cmcd-toolkit/errors"
)

// Loader layers configuration files over the defaults and applies
// environment overrides.
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		layers:     []string{},
		validation: false,
		envPrefix:  "CMCD",
		lookupEnv:  os.LookupEnv,
	}
}

// AddLayer adds a configuration file layer. Later layers override earlier
// ones field by field.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load decodes every layer over the defaults, then applies environment
// overrides. JSON layers go through the YAML decoder too, so durations are
// written the same way ("10s") in both formats.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		if err := l.decodeFile(path, cfg); err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("load %s", path))
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "apply environment overrides")
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func (l *Loader) decodeFile(path string, cfg *Config) error {
	data, err := safeReadFile(path)
	if err != nil {
		return err
	}
	return decode(data, cfg)
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return err
	}
	return nil
}

func (l *Loader) env(name string) (string, bool, error) {
	key := l.envPrefix + "_" + name
	val, ok := l.lookupEnv(key)
	if !ok || val == "" {
		return "", false, nil
	}
	if err := validateEnvVar(key, val); err != nil {
		return "", false, err
	}
	return val, true, nil
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	overrides := []struct {
		name  string
		apply func(string)
	}{
		{"PLATFORM_ID", func(v string) { cfg.Platform.ID = v }},
		{"NATS_URLS", func(v string) { cfg.NATS.URLs = splitList(v) }},
		{"NATS_USERNAME", func(v string) { cfg.NATS.Username = v }},
		{"NATS_PASSWORD", func(v string) { cfg.NATS.Password = v }},
		{"NATS_TOKEN", func(v string) { cfg.NATS.Token = v }},
		{"LISTEN_ADDR", func(v string) { cfg.Collector.ListenAddr = v }},
	}

	for _, o := range overrides {
		val, ok, err := l.env(o.name)
		if err != nil {
			return err
		}
		if ok {
			o.apply(val)
		}
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
