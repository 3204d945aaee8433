package events_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/kiosk/internal/events"
)

func runServer(t *testing.T) string {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	server := test.RunServer(&opts)
	t.Cleanup(server.Shutdown)

	return server.ClientURL()
}

func TestNATSPublisherPublishesOnPrefixedSubject(t *testing.T) {
	t.Parallel()

	url := runServer(t)
	sub, err := nats.Connect(url)
	require.NoError(t, err)
	t.Cleanup(sub.Close)

	msgs := make(chan *nats.Msg, 1)
	_, err = sub.ChanSubscribe("lobby.voice.>", msgs)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	pub, err := events.NewNATSPublisher(url, ".lobby.", nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close() })
	assert.Equal(t, "lobby.voice.state", pub.Subject(events.KindVoiceState))

	ev := events.NewEvent(events.KindVoiceState, map[string]any{"state": "listening"})
	require.NoError(t, pub.Publish(context.Background(), ev))

	select {
	case msg := <-msgs:
		assert.Equal(t, "lobby.voice.state", msg.Subject)
		var got events.Event
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, ev.Header.EventID, got.Header.EventID)
		assert.Equal(t, "listening", got.Data["state"])
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestNATSPublisherRejectsCancelledContext(t *testing.T) {
	t.Parallel()

	pub, err := events.NewNATSPublisher(runServer(t), "", nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close() })
	assert.Equal(t, "kiosk.catalog.reloaded", pub.Subject(events.KindCatalogReloaded))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, pub.Publish(ctx, events.NewEvent(events.KindCatalogReloaded, nil)), context.Canceled)
}

func TestNewWithoutURLIsNoop(t *testing.T) {
	t.Parallel()

	pub, err := events.New("  ", "kiosk", nil, nil)
	require.NoError(t, err)
	require.IsType(t, events.Noop{}, pub)
	require.NoError(t, pub.Publish(context.Background(), events.NewEvent(events.KindModeChanged, nil)))
	require.NoError(t, pub.Close())
}

func TestNewEventStampsHeader(t *testing.T) {
	t.Parallel()

	ev := events.NewEvent(events.KindMediaDeleted, nil)
	assert.NotEmpty(t, ev.Header.EventID)
	assert.Equal(t, events.KindMediaDeleted, ev.Header.Kind)
	assert.WithinDuration(t, time.Now(), ev.Header.Timestamp, time.Minute)
}
