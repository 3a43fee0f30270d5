// Package events is the publish/subscribe registry that decouples state
// mutation from notification. Trackers publish after every write; push
// loops subscribe to the topics that concern their player.
//
// Payloads are hints. A subscriber must re-read the store on wake and
// never trust event fields beyond "something near here changed".
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tilequest/server/cache"
)

// Kind names the event channels.
type Kind string

const (
	KindUserChanged Kind = "user_changed"
	KindZoneChanged Kind = "zone_changed"
	KindChat        Kind = "chat"
	KindOnline      Kind = "online_status"
)

// OnlineTopic carries online-status events for every user.
const OnlineTopic = "online"

func UserTopic(userID int64) string { return fmt.Sprintf("user:%d", userID) }
func ZoneTopic(x, y int) string     { return fmt.Sprintf("zone:%d:%d", x, y) }
func ChatTopic(x, y int) string     { return fmt.Sprintf("chat:%d:%d", x, y) }

// Event is the envelope carried on every topic.
type Event struct {
	Kind    Kind            `json:"kind"`
	UserID  int64           `json:"user_id,omitempty"`
	X       int             `json:"x"`
	Y       int             `json:"y"`
	Payload json.RawMessage `json:"payload,omitempty"`
	At      time.Time       `json:"at"`
}

// Topic returns the channel an event is published on.
func (e Event) Topic() string {
	switch e.Kind {
	case KindUserChanged:
		return UserTopic(e.UserID)
	case KindZoneChanged:
		return ZoneTopic(e.X, e.Y)
	case KindChat:
		return ChatTopic(e.X, e.Y)
	default:
		return OnlineTopic
	}
}

// Tap receives a copy of every published event. Offer must not block.
type Tap interface {
	Offer(e Event)
}

// Bus publishes events over a cache.PubSub backend.
type Bus struct {
	ps     cache.PubSub
	logger *zap.Logger

	mu   sync.RWMutex
	taps []Tap
}

// NewBus creates a Bus. A nil logger is replaced with a no-op logger.
func NewBus(ps cache.PubSub, logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{ps: ps, logger: logger}
}

// AddTap registers an export tap.
func (b *Bus) AddTap(t Tap) {
	b.mu.Lock()
	b.taps = append(b.taps, t)
	b.mu.Unlock()
}

// Publish sends e on its topic and offers it to every tap.
func (b *Bus) Publish(ctx context.Context, e Event) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("events: marshal: %w", err)
	}
	b.mu.RLock()
	for _, t := range b.taps {
		t.Offer(e)
	}
	b.mu.RUnlock()
	return b.ps.Publish(ctx, e.Topic(), string(data))
}

// publishLogged is for callers that already committed a write; a failed
// notification is logged and the next sweep or snapshot request catches up.
func (b *Bus) publishLogged(ctx context.Context, e Event) {
	if err := b.Publish(ctx, e); err != nil {
		b.logger.Warn("event publish failed",
			zap.String("topic", e.Topic()), zap.Error(err))
	}
}

// UserChanged tells the user's own push loop to refresh.
func (b *Bus) UserChanged(ctx context.Context, userID int64) {
	b.publishLogged(ctx, Event{Kind: KindUserChanged, UserID: userID})
}

// ZoneChanged tells everyone watching (x,y) to refresh.
func (b *Bus) ZoneChanged(ctx context.Context, x, y int) {
	b.publishLogged(ctx, Event{Kind: KindZoneChanged, X: x, Y: y})
}

// Chat publishes a chat line payload for zone (x,y).
func (b *Bus) Chat(ctx context.Context, userID int64, x, y int, payload json.RawMessage) {
	b.publishLogged(ctx, Event{Kind: KindChat, UserID: userID, X: x, Y: y, Payload: payload})
}

// OnlineStatus announces a user coming online or going offline.
func (b *Bus) OnlineStatus(ctx context.Context, userID int64, online bool) {
	payload, _ := json.Marshal(map[string]bool{"online": online})
	b.publishLogged(ctx, Event{Kind: KindOnline, UserID: userID, Payload: payload})
}

// Subscription delivers decoded events in publish order until Close.
type Subscription struct {
	C <-chan Event

	topics []string
	cancel func()
	once   sync.Once
}

// Topics returns the topics this subscription listens on.
func (s *Subscription) Topics() []string { return s.topics }

// Close deregisters the subscription. Undelivered events are discarded.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.cancel()
		go func() {
			for range s.C {
			}
		}()
	})
}

// Subscribe listens on topics. The subscription is live when Subscribe
// returns, so a snapshot read afterwards cannot miss a change.
func (b *Bus) Subscribe(ctx context.Context, topics ...string) (*Subscription, error) {
	raw, cancel, err := b.ps.Subscribe(ctx, topics...)
	if err != nil {
		return nil, fmt.Errorf("events: subscribe: %w", err)
	}
	out := make(chan Event, 64)
	go func() {
		defer close(out)
		for msg := range raw {
			var e Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				b.logger.Warn("dropping malformed event",
					zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			out <- e
		}
	}()
	return &Subscription{C: out, topics: topics, cancel: cancel}, nil
}

// Handle runs fn for each event on topics until ctx is done or the returned
// unsubscribe func is called.
func (b *Bus) Handle(ctx context.Context, fn func(Event), topics ...string) (func(), error) {
	sub, err := b.Subscribe(ctx, topics...)
	if err != nil {
		return nil, err
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				sub.Close()
				return
			case e, ok := <-sub.C:
				if !ok {
					return
				}
				fn(e)
			}
		}
	}()
	return sub.Close, nil
}
