package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilequest/server/config"
)

func TestNewLocalBackends(t *testing.T) {
	c, ps, err := New(config.CacheConfig{LocalGCInterval: time.Minute, LocalPubSubBuf: 8})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.Get(ctx, "missing")
	assert.True(t, IsNotFound(err))

	ch, cancel, err := ps.Subscribe(ctx, "zone:1:2")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, ps.Publish(ctx, "zone:1:2", "hello"))
	select {
	case msg := <-ch:
		assert.Equal(t, "zone:1:2", msg.Channel)
		assert.Equal(t, "hello", msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("no message relayed")
	}
}

func TestRelayClosesWithSource(t *testing.T) {
	ps := NewLocalPubSub(4)
	ch, cancel, err := ps.Subscribe(context.Background(), "a")
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("relay channel not closed")
	}
}
