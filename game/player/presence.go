package player

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"github.com/tilequest/server/cache"
	"github.com/tilequest/server/events"
)

const onlineKey = "online"

// Presence keeps the set of online users in the cache, so every node
// sharing the cache sees the same list, and announces changes on the bus.
type Presence struct {
	cache  cache.Cache
	bus    *events.Bus
	logger *zap.Logger
}

func NewPresence(c cache.Cache, bus *events.Bus, logger *zap.Logger) *Presence {
	return &Presence{cache: c, bus: bus, logger: logger}
}

func (p *Presence) SetOnline(ctx context.Context, userID int64) error {
	if err := p.cache.SAdd(ctx, onlineKey, strconv.FormatInt(userID, 10)); err != nil {
		return err
	}
	p.bus.OnlineStatus(ctx, userID, true)
	return nil
}

func (p *Presence) SetOffline(ctx context.Context, userID int64) error {
	if err := p.cache.SRem(ctx, onlineKey, strconv.FormatInt(userID, 10)); err != nil {
		return err
	}
	p.bus.OnlineStatus(ctx, userID, false)
	return nil
}

func (p *Presence) IsOnline(ctx context.Context, userID int64) (bool, error) {
	return p.cache.SIsMember(ctx, onlineKey, strconv.FormatInt(userID, 10))
}

// Online lists online user ids. Malformed members are skipped.
func (p *Presence) Online(ctx context.Context) ([]int64, error) {
	members, err := p.cache.SMembers(ctx, onlineKey)
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			p.logger.Warn("bad presence member", zap.String("member", m))
			continue
		}
		out = append(out, id)
	}
	return out, nil
}
