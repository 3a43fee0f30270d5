// Package cache provides the key/value store used for presence, chat history
// and scheduler locks, plus the pub/sub transport behind the event bus.
// Both are backed by Redis when an address is configured and by in-process
// implementations otherwise.
package cache

import (
	"context"
	"time"

	"github.com/tilequest/server/cache/local"
	cacheredis "github.com/tilequest/server/cache/redis"
	"github.com/tilequest/server/config"
)

// Cache defines the KV / Set / List operations.
type Cache interface {
	// KV
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)

	// Set
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SIsMember(ctx context.Context, key, member string) (bool, error)

	// List
	LPush(ctx context.Context, key string, values ...string) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LTrim(ctx context.Context, key string, start, stop int64) error
}

// Message is a received pub/sub message.
type Message struct {
	Channel string
	Payload string
}

// PubSub defines channel publish/subscribe operations. Messages on one
// subscription arrive in publish order.
type PubSub interface {
	Publish(ctx context.Context, channel, message string) error
	Subscribe(ctx context.Context, channels ...string) (<-chan *Message, func(), error)
}

// IsNotFound reports whether err is a missing-key error from either backend.
func IsNotFound(err error) bool {
	return err == local.ErrNotFound || err == cacheredis.ErrNotFound
}

// New returns a Cache and PubSub pair. With a Redis address both share one
// client; otherwise they are in-process.
func New(cfg config.CacheConfig) (Cache, PubSub, error) {
	if cfg.RedisAddr != "" {
		client, err := cacheredis.Dial(cacheredis.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, nil, err
		}
		return cacheredis.NewCache(client), &redisPubSubAdapter{ps: cacheredis.NewPubSub(client)}, nil
	}
	c, err := local.NewCache(local.Config{GCInterval: cfg.LocalGCInterval})
	if err != nil {
		return nil, nil, err
	}
	return c, NewLocalPubSub(cfg.LocalPubSubBuf), nil
}

// NewLocalPubSub returns an in-process PubSub.
func NewLocalPubSub(bufSize int) PubSub {
	return &localPubSubAdapter{ps: local.NewPubSub(bufSize)}
}

// ---- adapters to bridge sub-package message types to cache.Message ----

// relay copies messages until in closes. The output is unbuffered beyond
// its own capacity so ordering is preserved.
func relay[T any](in <-chan T, conv func(T) *Message) <-chan *Message {
	out := make(chan *Message, 256)
	go func() {
		defer close(out)
		for msg := range in {
			out <- conv(msg)
		}
	}()
	return out
}

type localPubSubAdapter struct {
	ps *local.LocalPubSub
}

func (a *localPubSubAdapter) Publish(ctx context.Context, channel, message string) error {
	return a.ps.Publish(ctx, channel, message)
}

func (a *localPubSubAdapter) Subscribe(ctx context.Context, channels ...string) (<-chan *Message, func(), error) {
	localCh, cancel, err := a.ps.Subscribe(ctx, channels...)
	if err != nil {
		return nil, nil, err
	}
	out := relay(localCh, func(m *local.LocalMessage) *Message {
		return &Message{Channel: m.Channel, Payload: m.Payload}
	})
	return out, cancel, nil
}

type redisPubSubAdapter struct {
	ps *cacheredis.RedisPubSub
}

func (a *redisPubSubAdapter) Publish(ctx context.Context, channel, message string) error {
	return a.ps.Publish(ctx, channel, message)
}

func (a *redisPubSubAdapter) Subscribe(ctx context.Context, channels ...string) (<-chan *Message, func(), error) {
	redisCh, cancel, err := a.ps.Subscribe(ctx, channels...)
	if err != nil {
		return nil, nil, err
	}
	out := relay(redisCh, func(m *cacheredis.RedisMessage) *Message {
		return &Message{Channel: m.Channel, Payload: m.Payload}
	})
	return out, cancel, nil
}
