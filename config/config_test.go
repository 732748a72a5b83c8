package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qualabs/cmcd-toolkit/collector"
	"github.com/qualabs/cmcd-toolkit/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func testLoader(env map[string]string) *Loader {
	l := NewLoader()
	l.lookupEnv = func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	return l
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.Collector.Enabled)
	assert.False(t, cfg.Enricher.Enabled)
	assert.Equal(t, ":3000", cfg.Collector.ListenAddr)
	assert.Equal(t, collector.EmptyReject, cfg.Collector.EmptyPayload)
	assert.Equal(t, 1, cfg.Sinks.Count())
	assert.True(t, cfg.NeedsNATS())
}

func TestLoader_LoadYAML(t *testing.T) {
	path := writeFile(t, "cmcd.yaml", `
platform:
  id: edge-eu-1
nats:
  urls: ["nats://a:4222", "nats://b:4222"]
  reconnect_wait: 5s
collector:
  listen_addr: ":8080"
  empty_payload: ignore
  trust_proxy: true
publisher:
  timeout: 3s
sinks:
  bus:
    enabled: true
    subject: cmcd.in
  fluent:
    enabled: true
    host: fluentd
    tag: cmcd.prod
  queue:
    enabled: true
    max_len: 1000
enricher:
  enabled: true
  user_agent: true
  denylist: [request_ip]
  geo:
    source: s3
    bucket: geo-dbs
    city_key: GeoLite2-City.mmdb
    init_timeout: 30s
`)

	cfg, err := testLoader(nil).LoadFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "edge-eu-1", cfg.Platform.ID)
	assert.Equal(t, []string{"nats://a:4222", "nats://b:4222"}, cfg.NATS.URLs)
	assert.Equal(t, 5*time.Second, cfg.NATS.ReconnectWait)
	assert.Equal(t, "CMCD", cfg.NATS.Stream.Name, "defaults survive partial sections")

	assert.Equal(t, ":8080", cfg.Collector.ListenAddr)
	assert.Equal(t, collector.EmptyIgnore, cfg.Collector.EmptyPayload)
	assert.True(t, cfg.Collector.TrustProxy)
	assert.Equal(t, int64(collector.DefaultMaxBodyBytes), cfg.Collector.MaxBodyBytes)
	assert.Equal(t, 3*time.Second, cfg.Publisher.Timeout)

	assert.Equal(t, 3, cfg.Sinks.Count())
	assert.Equal(t, "cmcd.in", cfg.Sinks.Bus.Subject)
	assert.Equal(t, "fluentd", cfg.Sinks.Fluent.Host)
	assert.Equal(t, 24224, cfg.Sinks.Fluent.Port)
	assert.Equal(t, int64(1000), cfg.Sinks.Queue.MaxLen)
	assert.Equal(t, "cmcd:records", cfg.Sinks.Queue.Key)

	assert.True(t, cfg.Enricher.Enabled)
	assert.True(t, cfg.Enricher.UserAgent)
	assert.Equal(t, []string{"request_ip"}, cfg.Enricher.Denylist)
	assert.Equal(t, "geo-dbs", cfg.Enricher.Geo.Bucket)
	assert.Equal(t, 30*time.Second, cfg.Enricher.Geo.InitTimeout)
	assert.Equal(t, "/tmp/cmcd-geo", cfg.Enricher.Geo.Dir)
}

func TestLoader_LoadJSON(t *testing.T) {
	path := writeFile(t, "cmcd.json", `{
		"platform": {"id": "json-node"},
		"collector": {"max_body_bytes": 2048, "query_param": "cmcd"},
		"sinks": {
			"file": {"enabled": true, "directory": "/var/log/cmcd", "flush_interval": "2s"}
		}
	}`)

	cfg, err := testLoader(nil).LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "json-node", cfg.Platform.ID)
	assert.Equal(t, int64(2048), cfg.Collector.MaxBodyBytes)
	assert.Equal(t, "cmcd", cfg.Collector.QueryParam)
	assert.True(t, cfg.Sinks.File.Enabled)
	assert.Equal(t, "/var/log/cmcd", cfg.Sinks.File.Directory)
	assert.Equal(t, 2*time.Second, cfg.Sinks.File.FlushInterval)
}

func TestLoader_Layers(t *testing.T) {
	base := writeFile(t, "base.yaml", "platform:\n  id: base\ncollector:\n  listen_addr: \":4000\"\n")
	override := writeFile(t, "prod.yaml", "platform:\n  id: prod\n")

	l := testLoader(nil)
	l.AddLayer(base)
	l.AddLayer(override)
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.Platform.ID)
	assert.Equal(t, ":4000", cfg.Collector.ListenAddr)
}

func TestLoader_EnvOverrides(t *testing.T) {
	path := writeFile(t, "cmcd.yaml", "platform:\n  id: from-file\n")

	cfg, err := testLoader(map[string]string{
		"CMCD_NATS_URLS":    "nats://x:4222, nats://y:4222,",
		"CMCD_LISTEN_ADDR":  ":9999",
		"CMCD_PLATFORM_ID":  "from-env",
		"CMCD_NATS_TOKEN":   "s3cret",
		"CMCD_NATS_USERNAM": "ignored",
	}).LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"nats://x:4222", "nats://y:4222"}, cfg.NATS.URLs)
	assert.Equal(t, ":9999", cfg.Collector.ListenAddr)
	assert.Equal(t, "from-env", cfg.Platform.ID)
	assert.Equal(t, "s3cret", cfg.NATS.Token)
	assert.NotContains(t, cfg.String(), "s3cret")
}

func TestLoader_EnvOverrideRejectsNullByte(t *testing.T) {
	_, err := testLoader(map[string]string{"CMCD_PLATFORM_ID": "a\x00b"}).Load()
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestLoader_Errors(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
	}{
		{"unknown field", "cmcd.yaml", "collector:\n  listen_adr: \":1\"\n"},
		{"bad duration", "cmcd.yaml", "publisher:\n  timeout: soon\n"},
		{"malformed json", "cmcd.json", `{"platform": `},
		{"wrong extension", "cmcd.toml", "platform = 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := testLoader(nil).LoadFile(writeFile(t, tt.file, tt.body))
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}

	_, err := testLoader(nil).LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoader_EmptyFileKeepsDefaults(t *testing.T) {
	cfg, err := testLoader(nil).LoadFile(writeFile(t, "empty.yaml", ""))
	require.NoError(t, err)
	assert.Equal(t, Default().Collector.ListenAddr, cfg.Collector.ListenAddr)
}

func TestLoader_ValidationEnabled(t *testing.T) {
	path := writeFile(t, "cmcd.yaml", "collector:\n  enabled: false\n")

	l := testLoader(nil)
	l.EnableValidation(true)
	_, err := l.LoadFile(path)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"empty platform id", func(c *Config) { c.Platform.ID = "" }, false},
		{"platform id with spaces", func(c *Config) { c.Platform.ID = "my node" }, false},
		{"nothing enabled", func(c *Config) { c.Collector.Enabled = false }, false},
		{"collector without sinks", func(c *Config) { c.Sinks.Bus.Enabled = false }, false},
		{"collector with file sink only", func(c *Config) {
			c.Sinks.Bus.Enabled = false
			c.Sinks.File.Enabled = true
			c.Sinks.File.Directory = "/tmp"
			c.NATS.URLs = nil
		}, true},
		{"bus sink without nats", func(c *Config) { c.NATS.URLs = nil }, false},
		{"bad stream storage", func(c *Config) { c.NATS.Stream.Storage = "s3" }, false},
		{"bad empty policy", func(c *Config) { c.Collector.EmptyPayload = "drop" }, false},
		{"warehouse without project", func(c *Config) { c.Sinks.Warehouse.Enabled = true }, false},
		{"httppost without url", func(c *Config) { c.Sinks.HTTPPost.Enabled = true }, false},
		{"metrics without addr", func(c *Config) { c.Metrics.Addr = "" }, false},
		{"metrics disabled without addr", func(c *Config) {
			c.Metrics.Enabled = false
			c.Metrics.Addr = ""
		}, true},
		{"enricher only", func(c *Config) {
			c.Collector.Enabled = false
			c.Sinks.Bus.Enabled = false
			c.Enricher.Enabled = true
		}, true},
		{"enricher loops onto bus subject", func(c *Config) {
			c.Enricher.Enabled = true
			c.Enricher.OutputSubject = c.Sinks.Bus.Subject
			c.Enricher.InputSubject = "cmcd.other"
		}, false},
		{"invalid sink ignored when disabled", func(c *Config) {
			c.Sinks.Queue.URL = ""
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestConfig_String(t *testing.T) {
	cfg := Default()
	cfg.Sinks.Queue.Enabled = true
	cfg.NATS.Password = "hunter2"

	s := cfg.String()
	assert.Contains(t, s, "sinks=[bus,queue]")
	assert.Contains(t, s, "collector=true")
	assert.NotContains(t, s, "hunter2")
}

func TestValidateConfigPath(t *testing.T) {
	assert.NoError(t, validateConfigPath("configs/cmcd.yaml"))
	assert.NoError(t, validateConfigPath("/etc/cmcd/cmcd.JSON"))
	assert.Error(t, validateConfigPath(""))
	assert.Error(t, validateConfigPath("../secrets/cmcd.yaml"))
	assert.Error(t, validateConfigPath("cmcd.ini"))
}

func TestLoader_ShippedConfig(t *testing.T) {
	path, err := filepath.Abs(filepath.Join("..", "configs", "cmcd.yaml"))
	require.NoError(t, err)

	l := testLoader(nil)
	l.EnableValidation(true)
	cfg, err := l.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "cmcd-local", cfg.Platform.ID)
	assert.True(t, cfg.Enricher.Enabled)
	assert.True(t, cfg.Enricher.Geo.Enabled())
	assert.Equal(t, 10000, cfg.Enricher.Geo.CacheSize)
	assert.Equal(t, []string{"bus"}, enabledSinks(cfg))
}

func enabledSinks(cfg *Config) []string {
	var names []string
	if cfg.Sinks.Bus.Enabled {
		names = append(names, "bus")
	}
	if cfg.Sinks.File.Enabled {
		names = append(names, "file")
	}
	if cfg.Sinks.Warehouse.Enabled {
		names = append(names, "warehouse")
	}
	return names
}
