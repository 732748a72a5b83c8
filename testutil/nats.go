package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// DefaultNATSImage is the server image used by StartNATS
const DefaultNATSImage = "nats:2.11.7-alpine"

type natsConfig struct {
	image        string
	jetstream    bool
	startTimeout time.Duration
}

// NATSOption configures StartNATS
type NATSOption func(*natsConfig)

// WithImage overrides the server image
func WithImage(image string) NATSOption {
	return func(c *natsConfig) { c.image = image }
}

// WithoutJetStream starts a core-only server
func WithoutJetStream() NATSOption {
	return func(c *natsConfig) { c.jetstream = false }
}

// WithStartTimeout bounds container startup
func WithStartTimeout(d time.Duration) NATSOption {
	return func(c *natsConfig) { c.startTimeout = d }
}

// StartNATS runs a NATS server container for the duration of the test and
// returns its client URL. JetStream is enabled unless WithoutJetStream is
// given.
func StartNATS(t testing.TB, opts ...NATSOption) string {
	t.Helper()

	url, terminate, err := startNATS(context.Background(), opts...)
	if err != nil {
		t.Fatalf("start NATS container: %v", err)
	}
	t.Cleanup(terminate)
	return url
}

// StartSharedNATS is StartNATS for TestMain. The caller must run the
// returned terminate func.
func StartSharedNATS(ctx context.Context, opts ...NATSOption) (string, func(), error) {
	return startNATS(ctx, opts...)
}

func startNATS(ctx context.Context, opts ...NATSOption) (string, func(), error) {
	cfg := &natsConfig{
		image:        DefaultNATSImage,
		jetstream:    true,
		startTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	args := []string{"--port", "4222", "--http_port", "8222"}
	if cfg.jetstream {
		args = append(args, "--js")
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        cfg.image,
			ExposedPorts: []string{"4222/tcp", "8222/tcp"},
			Cmd:          args,
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("4222/tcp"),
				wait.ForHTTP("/").WithPort("8222/tcp").WithStartupTimeout(cfg.startTimeout),
			),
		},
		Started: true,
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to start NATS container: %w", err)
	}
	terminate := func() { _ = container.Terminate(context.Background()) }

	host, err := container.Host(ctx)
	if err != nil {
		terminate()
		return "", nil, fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "4222")
	if err != nil {
		terminate()
		return "", nil, fmt.Errorf("failed to get mapped port: %w", err)
	}

	return fmt.Sprintf("nats://%s:%s", host, port.Port()), terminate, nil
}
