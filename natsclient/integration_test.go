//go:build integration

package natsclient

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qualabs/cmcd-toolkit/testutil"
)

func connectedClient(ctx context.Context, t *testing.T) *Client {
	t.Helper()

	client, err := NewClient(testutil.StartNATS(t), WithMaxReconnects(0))
	require.NoError(t, err)
	require.NoError(t, client.Connect(ctx))
	t.Cleanup(func() { _ = client.Close(context.Background()) })
	return client
}

func TestIntegration_PublishAndConsume(t *testing.T) {
	ctx := context.Background()
	client := connectedClient(ctx, t)

	_, err := client.EnsureStream(ctx, jetstream.StreamConfig{
		Name:     "CMCD",
		Subjects: []string{"cmcd.>"},
	})
	require.NoError(t, err)

	ack, err := client.PublishMsg(ctx, &nats.Msg{Subject: "cmcd.raw", Data: []byte(`{"cmcd_key_br":2000}`)})
	require.NoError(t, err)
	assert.Equal(t, "CMCD", ack.Stream)
	assert.Equal(t, uint64(1), ack.Sequence)

	received := make(chan []byte, 1)
	err = client.ConsumeStream(ctx, ConsumerSpec{
		Stream:        "CMCD",
		Durable:       "test",
		FilterSubject: "cmcd.raw",
		AckWait:       5 * time.Second,
	}, func(msg jetstream.Msg) {
		received <- msg.Data()
		_ = msg.Ack()
	})
	require.NoError(t, err)

	select {
	case data := <-received:
		assert.JSONEq(t, `{"cmcd_key_br":2000}`, string(data))
	case <-time.After(10 * time.Second):
		t.Fatal("message not consumed")
	}
}

func TestIntegration_ObjectStoreDownload(t *testing.T) {
	ctx := context.Background()
	client := connectedClient(ctx, t)

	js, err := client.JetStream()
	require.NoError(t, err)
	store, err := js.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{Bucket: "geoip"})
	require.NoError(t, err)
	_, err = store.PutBytes(ctx, "GeoLite2-City.mmdb", []byte("mmdb"))
	require.NoError(t, err)

	opened, err := client.ObjectStore(ctx, "geoip")
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "GeoLite2-City.mmdb")
	require.NoError(t, opened.GetFile(ctx, "GeoLite2-City.mmdb", dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "mmdb", string(data))
}
