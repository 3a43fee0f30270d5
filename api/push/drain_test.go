package push

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tilequest/server/cache"
	"github.com/tilequest/server/events"
)

func TestDrain_ReturnsQueuedChatLine(t *testing.T) {
	ctx := context.Background()
	bus := events.NewBus(cache.NewLocalPubSub(16), zap.NewNop())
	sub, err := bus.Subscribe(ctx, events.ZoneTopic(3, 4), events.ChatTopic(3, 4))
	require.NoError(t, err)
	defer sub.Close()

	bus.ZoneChanged(ctx, 3, 4)
	bus.ZoneChanged(ctx, 3, 4)
	bus.Chat(ctx, 2, 3, 4, json.RawMessage(`{"content":"hello"}`))
	bus.ZoneChanged(ctx, 3, 4)
	require.Eventually(t, func() bool { return len(sub.C) == 4 }, time.Second, 5*time.Millisecond)

	<-sub.C
	chat := drain(sub)
	require.NotNil(t, chat)
	assert.Equal(t, events.KindChat, chat.Kind)
	assert.JSONEq(t, `{"content":"hello"}`, string(chat.Payload))

	// Wake-ups behind the chat line stay queued for the next pass.
	assert.Len(t, sub.C, 1)
	assert.Nil(t, drain(sub))
	assert.Empty(t, sub.C)
}
