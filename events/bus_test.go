package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tilequest/server/cache"
)

func newTestBus() *Bus {
	return NewBus(cache.NewLocalPubSub(64), zap.NewNop())
}

func recv(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case e := <-sub.C:
		return e
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
		return Event{}
	}
}

func TestTopics(t *testing.T) {
	assert.Equal(t, "user:42", Event{Kind: KindUserChanged, UserID: 42}.Topic())
	assert.Equal(t, "zone:3:4", Event{Kind: KindZoneChanged, X: 3, Y: 4}.Topic())
	assert.Equal(t, "chat:3:4", Event{Kind: KindChat, X: 3, Y: 4}.Topic())
	assert.Equal(t, OnlineTopic, Event{Kind: KindOnline, UserID: 1}.Topic())
}

func TestSubscribe_ReceivesInPublishOrder(t *testing.T) {
	bus := newTestBus()
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx, UserTopic(1), ZoneTopic(3, 4))
	require.NoError(t, err)
	defer sub.Close()

	bus.ZoneChanged(ctx, 3, 4)
	bus.UserChanged(ctx, 1)
	bus.UserChanged(ctx, 2) // not subscribed
	bus.ZoneChanged(ctx, 3, 4)

	e := recv(t, sub)
	assert.Equal(t, KindZoneChanged, e.Kind)
	assert.Equal(t, 3, e.X)
	assert.False(t, e.At.IsZero())
	assert.Equal(t, KindUserChanged, recv(t, sub).Kind)
	assert.Equal(t, KindZoneChanged, recv(t, sub).Kind)

	select {
	case e := <-sub.C:
		t.Fatalf("unexpected event %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscription_CloseStopsDelivery(t *testing.T) {
	bus := newTestBus()
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx, UserTopic(1))
	require.NoError(t, err)
	sub.Close()
	sub.Close()

	bus.UserChanged(ctx, 1)
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-sub.C:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestHandle(t *testing.T) {
	bus := newTestBus()
	ctx := context.Background()

	var mu sync.Mutex
	var got []int64
	unsubscribe, err := bus.Handle(ctx, func(e Event) {
		mu.Lock()
		got = append(got, e.UserID)
		mu.Unlock()
	}, OnlineTopic)
	require.NoError(t, err)

	bus.OnlineStatus(ctx, 5, true)
	bus.OnlineStatus(ctx, 6, false)
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 5*time.Millisecond)

	unsubscribe()
	bus.OnlineStatus(ctx, 7, true)
	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, []int64{5, 6}, got)
	mu.Unlock()
}

type recordingTap struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingTap) Offer(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func TestTapsSeeEveryEvent(t *testing.T) {
	bus := newTestBus()
	tap := &recordingTap{}
	bus.AddTap(tap)

	ctx := context.Background()
	bus.UserChanged(ctx, 1)
	bus.Chat(ctx, 1, 0, 0, []byte(`{"text":"hi"}`))

	tap.mu.Lock()
	defer tap.mu.Unlock()
	require.Len(t, tap.events, 2)
	assert.Equal(t, KindChat, tap.events[1].Kind)
	assert.JSONEq(t, `{"text":"hi"}`, string(tap.events[1].Payload))
}
