//go:build integration

package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qualabs/cmcd-toolkit/config"
	"github.com/qualabs/cmcd-toolkit/natsclient"
	"github.com/qualabs/cmcd-toolkit/processor/enrich"
	"github.com/qualabs/cmcd-toolkit/record"
	"github.com/qualabs/cmcd-toolkit/testutil"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func TestIntegration_CollectAndEnrich(t *testing.T) {
	natsURL := testutil.StartNATS(t)

	cfg := config.Default()
	cfg.NATS.URLs = []string{natsURL}
	cfg.NATS.Stream.Storage = "memory"
	cfg.Metrics.Enabled = false
	cfg.Collector.ListenAddr = testutil.FreeAddr(t)
	cfg.Enricher.Enabled = true
	cfg.Enricher.UserAgent = true
	cfg.Enricher.Denylist = []string{record.FieldData}
	require.NoError(t, cfg.Validate())

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := newApp(cfg, logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, a.setup(ctx))

	done := make(chan error, 1)
	go func() { done <- a.run(ctx, 5*time.Second) }()

	// Watch the enriched subject with a separate client.
	watcher, err := natsclient.NewClient(natsURL, natsclient.WithMaxReconnects(0))
	require.NoError(t, err)
	require.NoError(t, watcher.Connect(ctx))
	t.Cleanup(func() { _ = watcher.Close(context.Background()) })

	got := make(chan jetstream.Msg, 4)
	require.NoError(t, watcher.ConsumeStream(ctx, natsclient.ConsumerSpec{
		Stream:        cfg.NATS.Stream.Name,
		Durable:       "integration-watch",
		FilterSubject: cfg.Enricher.OutputSubject,
		AckWait:       5 * time.Second,
	}, func(msg jetstream.Msg) {
		_ = msg.Ack()
		got <- msg
	}))

	url := "http://" + cfg.Collector.ListenAddr + "/cmcd/event-mode"
	require.Eventually(t, func() bool {
		req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(testutil.SampleJSON))
		if err != nil {
			return false
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", chromeUA)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusNoContent
	}, 5*time.Second, 100*time.Millisecond)

	var msg jetstream.Msg
	select {
	case msg = <-got:
	case <-time.After(15 * time.Second):
		t.Fatal("no enriched record published")
	}

	assert.Equal(t, "event", msg.Headers().Get("Cmcd-Mode"))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(msg.Data(), &rec))
	assert.Equal(t, "event", rec[record.FieldMode])
	assert.Equal(t, "6e2fb550", rec["cmcd_key_sid"])
	assert.Equal(t, "Chrome", rec[enrich.FieldUABrowserName])
	assert.Equal(t, "desktop", rec[enrich.FieldUADeviceType])
	assert.NotContains(t, rec, record.FieldData, "denylisted field removed")

	report := a.monitor.Report(context.Background())
	assert.True(t, report.IsHealthy(), "report: %+v", report)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
