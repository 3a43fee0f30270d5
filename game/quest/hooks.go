package quest

import (
	"context"

	"go.uber.org/zap"

	"github.com/tilequest/server/catalog"
	"github.com/tilequest/server/game/hook"
	"github.com/tilequest/server/model"
)

const hookName = "quest"

// RegisterHooks subscribes the engine to the tracker hooks. Each handler
// only ever advances the current objective of a quest.
func (e *Engine) RegisterHooks(c *hook.Center) {
	c.Register(hook.OnZoneEnter, 10, hookName, func(ctx context.Context, _ string, data interface{}) error {
		ev, ok := data.(hook.ZoneEnter)
		if !ok {
			return nil
		}
		return e.OnZoneEnter(ctx, ev)
	})
	c.Register(hook.OnActionComplete, 10, hookName, func(ctx context.Context, _ string, data interface{}) error {
		ev, ok := data.(hook.ActionComplete)
		if !ok {
			return nil
		}
		return e.OnActionComplete(ctx, ev)
	})
	c.Register(hook.OnInventoryChange, 10, hookName, func(ctx context.Context, _ string, data interface{}) error {
		ev, ok := data.(hook.InventoryChange)
		if !ok {
			return nil
		}
		return e.OnInventoryChange(ctx, ev)
	})
}

// forEachCurrent calls fn with the current objective of every in_progress
// quest of the user and applies the returned absolute value when set.
func (e *Engine) forEachCurrent(ctx context.Context, userID int64, fn func(q *ActiveQuest, cur *ObjectiveState) (int, bool)) error {
	mine, err := e.questLog(ctx, e.db.WithContext(ctx), userID, model.QuestStatusInProgress)
	if err != nil {
		return err
	}
	for i := range mine {
		q := &mine[i]
		cur := q.Current()
		if cur == nil {
			continue
		}
		value, apply := fn(q, cur)
		if !apply {
			continue
		}
		if err := e.UpdateObjectiveProgress(ctx, userID, q.InstanceID, cur.Index, value); err != nil {
			e.logger.Warn("objective update failed",
				zap.Int64("user_id", userID), zap.String("instance_id", q.InstanceID), zap.Int("objective", cur.Index), zap.Error(err))
		}
	}
	return nil
}

// OnZoneEnter completes explore objectives placed on the entered tile.
func (e *Engine) OnZoneEnter(ctx context.Context, ev hook.ZoneEnter) error {
	return e.forEachCurrent(ctx, ev.UserID, func(q *ActiveQuest, cur *ObjectiveState) (int, bool) {
		if _, ok := cur.Objective.(catalog.Explore); !ok {
			return 0, false
		}
		return 1, e.objectiveHere(q.Instance, cur, ev.X, ev.Y)
	})
}

// OnActionComplete counts a finished gather or craft action.
func (e *Engine) OnActionComplete(ctx context.Context, ev hook.ActionComplete) error {
	return e.forEachCurrent(ctx, ev.UserID, func(q *ActiveQuest, cur *ObjectiveState) (int, bool) {
		switch o := cur.Objective.(type) {
		case catalog.Gather:
			if o.Resource != ev.ResourceID || !e.objectiveHere(q.Instance, cur, ev.X, ev.Y) {
				return 0, false
			}
		case catalog.Craft:
			if o.Resource != ev.ResourceID {
				return 0, false
			}
		default:
			return 0, false
		}
		return cur.Current + 1, true
	})
}

// OnInventoryChange mirrors the held count into collect objectives.
func (e *Engine) OnInventoryChange(ctx context.Context, ev hook.InventoryChange) error {
	return e.forEachCurrent(ctx, ev.UserID, func(_ *ActiveQuest, cur *ObjectiveState) (int, bool) {
		c, ok := cur.Objective.(catalog.Collect)
		if !ok || c.Item != ev.ItemID {
			return 0, false
		}
		return ev.Count, true
	})
}
