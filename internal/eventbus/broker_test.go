package eventbus

import (
	"context"
	"testing"
	"time"

	natstest "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docpipe/pkg/models"
)

// setupTestBroker runs an embedded, ephemeral-port NATS server for the
// duration of one test, the same pattern the rest of the pack uses for
// any broker-backed component test.
func setupTestBroker(t *testing.T) (url string, cleanup func()) {
	t.Helper()

	opts := natstest.DefaultTestOptions
	opts.Port = -1
	srv := natstest.RunServer(&opts)

	return srv.ClientURL(), func() { srv.Shutdown() }
}

func TestBrokerBridge_ReemitsIntoBusWithPersistFalse(t *testing.T) {
	url, cleanup := setupTestBroker(t)
	defer cleanup()

	bus := New(1000, 15*time.Minute, 100)

	bridge, err := NewBrokerBridge(bus, url)
	require.NoError(t, err)
	defer bridge.Stop()

	received := make(chan models.Event, 1)
	bus.Subscribe("job.started", func(ctx context.Context, e models.Event) error {
		received <- e
		return nil
	})

	pub, err := nats.Connect(url)
	require.NoError(t, err)
	defer pub.Close()

	require.NoError(t, pub.Publish(eventsSubject, []byte(`{"type":"job.started","origin":"worker-1","payload":{"job_id":"j1"},"severity":"info"}`)))

	select {
	case e := <-received:
		assert.Equal(t, "job.started", e.Type)
		assert.Equal(t, "worker-1", e.Origin)
		assert.Equal(t, "j1", e.Payload["job_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for bridged event")
	}
}

func TestBrokerBridge_MalformedFrameIsSkippedNotFatal(t *testing.T) {
	url, cleanup := setupTestBroker(t)
	defer cleanup()

	bus := New(1000, 15*time.Minute, 100)
	bridge, err := NewBrokerBridge(bus, url)
	require.NoError(t, err)
	defer bridge.Stop()

	received := make(chan models.Event, 1)
	bus.Subscribe("*", func(ctx context.Context, e models.Event) error {
		received <- e
		return nil
	})

	pub, err := nats.Connect(url)
	require.NoError(t, err)
	defer pub.Close()

	require.NoError(t, pub.Publish(eventsSubject, []byte(`not json`)))
	require.NoError(t, pub.Publish(eventsSubject, []byte(`{"type":"system.shutdown","origin":"test","payload":{}}`)))

	select {
	case e := <-received:
		assert.Equal(t, "system.shutdown", e.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the well-formed frame after a malformed one")
	}

	assert.Equal(t, 1, bridge.MalformedCount())
}

func TestBrokerBridge_StopUnsubscribesAndClosesCleanly(t *testing.T) {
	url, cleanup := setupTestBroker(t)
	defer cleanup()

	bus := New(1000, 15*time.Minute, 100)
	bridge, err := NewBrokerBridge(bus, url)
	require.NoError(t, err)

	bridge.Stop()
	bridge.Stop() // idempotent

	assert.True(t, bridge.conn.IsClosed())
}
