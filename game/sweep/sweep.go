// Package sweep runs the periodic pass that moves state forward without a
// player request: resource regeneration, stale action expiry and message
// pruning.
package sweep

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tilequest/server/game/action"
	"github.com/tilequest/server/game/message"
	"github.com/tilequest/server/game/resource"
)

// Result counts the rows touched by one pass.
type Result struct {
	Regenerated int   `json:"regenerated"`
	Expired     int   `json:"expired"`
	Pruned      int64 `json:"pruned"`
}

type Sweeper struct {
	resources *resource.Tracker
	actions   *action.Tracker
	msgs      *message.Service
	logger    *zap.Logger
}

func New(resources *resource.Tracker, actions *action.Tracker, msgs *message.Service, logger *zap.Logger) *Sweeper {
	return &Sweeper{resources: resources, actions: actions, msgs: msgs, logger: logger}
}

// Tick runs every step even when an earlier one fails and returns the
// first error.
func (s *Sweeper) Tick(ctx context.Context, now time.Time) (Result, error) {
	var (
		res      Result
		firstErr error
	)
	keep := func(step string, err error) {
		if err == nil {
			return
		}
		s.logger.Error("sweep step failed", zap.String("step", step), zap.Error(err))
		if firstErr == nil {
			firstErr = err
		}
	}

	n, err := s.resources.Regenerate(ctx, now)
	res.Regenerated = n
	keep("regenerate", err)

	n, err = s.actions.ExpireStale(ctx, now)
	res.Expired = n
	keep("expire_actions", err)

	pruned, err := s.msgs.Prune(ctx, now)
	res.Pruned = pruned
	keep("prune_messages", err)

	if res.Regenerated+res.Expired > 0 || res.Pruned > 0 {
		s.logger.Debug("sweep",
			zap.Int("regenerated", res.Regenerated),
			zap.Int("expired", res.Expired),
			zap.Int64("pruned", res.Pruned))
	}
	return res, firstErr
}
