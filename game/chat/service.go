// Package chat is zone-scoped chat: a line said on a tile reaches the
// players standing on it and is kept in a short per-tile history.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/tilequest/server/cache"
	"github.com/tilequest/server/events"
	"github.com/tilequest/server/game/errs"
)

const (
	maxMsgLen       = 200
	defaultCooldown = 500 * time.Millisecond
)

// Line is one chat message.
type Line struct {
	UserID  int64  `json:"user_id"`
	Name    string `json:"name"`
	Content string `json:"content"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	TS      int64  `json:"ts"`
}

type Service struct {
	cache    cache.Cache
	bus      *events.Bus
	history  int
	cooldown time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(c cache.Cache, bus *events.Bus, history int, logger *zap.Logger) *Service {
	if history <= 0 {
		history = 50
	}
	return &Service{
		cache:    c,
		bus:      bus,
		history:  history,
		cooldown: defaultCooldown,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func historyKey(x, y int) string { return fmt.Sprintf("chat:history:%d:%d", x, y) }

// Send posts content on (x,y). Empty lines are ignored and return a zero
// Line.
func (s *Service) Send(ctx context.Context, userID int64, name string, x, y int, content string) (Line, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Line{}, nil
	}
	if utf8.RuneCountInString(content) > maxMsgLen {
		return Line{}, fmt.Errorf("%w: message too long", errs.ErrInvalid)
	}
	if s.cooldown > 0 {
		ok, err := s.cache.SetNX(ctx, fmt.Sprintf("chat:cooldown:%d", userID), "1", s.cooldown)
		if err != nil {
			return Line{}, err
		}
		if !ok {
			return Line{}, fmt.Errorf("%w: you are talking too fast", errs.ErrConflict)
		}
	}

	line := Line{UserID: userID, Name: name, Content: content, X: x, Y: y, TS: s.now().UnixMilli()}
	raw, err := json.Marshal(line)
	if err != nil {
		return Line{}, err
	}
	key := historyKey(x, y)
	if err := s.cache.LPush(ctx, key, string(raw)); err != nil {
		return Line{}, err
	}
	if err := s.cache.LTrim(ctx, key, 0, int64(s.history-1)); err != nil {
		s.logger.Warn("chat history trim failed", zap.String("key", key), zap.Error(err))
	}
	s.bus.Chat(ctx, userID, x, y, raw)
	return line, nil
}

// History returns up to n recent lines said on (x,y), oldest first.
func (s *Service) History(ctx context.Context, x, y, n int) ([]Line, error) {
	if n <= 0 || n > s.history {
		n = s.history
	}
	raw, err := s.cache.LRange(ctx, historyKey(x, y), 0, int64(n-1))
	if err != nil {
		if cache.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]Line, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var l Line
		if err := json.Unmarshal([]byte(raw[i]), &l); err != nil {
			s.logger.Warn("dropping malformed chat line", zap.Error(err))
			continue
		}
		out = append(out, l)
	}
	return out, nil
}
