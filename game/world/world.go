// Package world is the command surface of the game. Every player command
// goes through a World method, which validates the player's position,
// drives the trackers and reports domain failures back to the player as
// a short-lived system message.
package world

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/tilequest/server/cache"
	"github.com/tilequest/server/catalog"
	"github.com/tilequest/server/game/action"
	"github.com/tilequest/server/game/chat"
	"github.com/tilequest/server/game/errs"
	"github.com/tilequest/server/game/message"
	"github.com/tilequest/server/game/quest"
	"github.com/tilequest/server/game/zone"
	"github.com/tilequest/server/model"
)

const lastPosTTL = 7 * 24 * time.Hour

type Deps struct {
	Catalog  *catalog.Catalog
	Cache    cache.Cache
	Zones    *zone.Tracker
	Actions  *action.Tracker
	Quests   *quest.Engine
	Messages *message.Service
	Chat     *chat.Service
	Logger   *zap.Logger
}

type World struct {
	d      Deps
	spawn  catalog.Point
	logger *zap.Logger
}

func New(d Deps, spawn catalog.Point) *World {
	return &World{d: d, spawn: spawn, logger: d.Logger}
}

func lastPosKey(userID int64) string { return "lastpos:" + strconv.FormatInt(userID, 10) }

// fail posts domain errors to the player and returns err unchanged.
func (w *World) fail(ctx context.Context, userID int64, err error) error {
	if err != nil && errs.IsDomain(err) {
		w.d.Messages.Notify(ctx, userID, errs.Message(err), message.TypeError)
	}
	return err
}

// position returns where userID stands, or ErrInvalid when off the map.
func (w *World) position(ctx context.Context, userID int64) (model.ZoneUser, error) {
	zu, ok, err := w.d.Zones.GetUserZone(ctx, userID)
	if err != nil {
		return zu, err
	}
	if !ok {
		return zu, fmt.Errorf("%w: you are not on the map", errs.ErrInvalid)
	}
	return zu, nil
}

// Enter places a connecting player. A running action pins them to its
// tile; otherwise they return to their last known tile or the spawn.
func (w *World) Enter(ctx context.Context, userID int64) (catalog.Point, error) {
	if zu, ok, err := w.d.Zones.GetUserZone(ctx, userID); err != nil {
		return catalog.Point{}, err
	} else if ok {
		return catalog.Point{X: zu.X, Y: zu.Y}, nil
	}

	target := w.spawn
	act, err := w.d.Actions.GetInProgressAction(ctx, userID)
	if err != nil {
		return target, err
	}
	if act != nil {
		target = catalog.Point{X: act.X, Y: act.Y}
	} else if p, ok := w.lastPosition(ctx, userID); ok {
		target = p
	}
	if err := w.d.Zones.AddUserToZone(ctx, userID, target.X, target.Y); err != nil {
		if target == w.spawn {
			return target, err
		}
		w.logger.Warn("last position unusable, using spawn", zap.Int64("user_id", userID), zap.Error(err))
		target = w.spawn
		if err := w.d.Zones.AddUserToZone(ctx, userID, target.X, target.Y); err != nil {
			return target, err
		}
	}
	return target, nil
}

func (w *World) lastPosition(ctx context.Context, userID int64) (catalog.Point, bool) {
	if w.d.Cache == nil {
		return catalog.Point{}, false
	}
	v, err := w.d.Cache.Get(ctx, lastPosKey(userID))
	if err != nil {
		return catalog.Point{}, false
	}
	var p catalog.Point
	if _, err := fmt.Sscanf(v, "%d,%d", &p.X, &p.Y); err != nil {
		return catalog.Point{}, false
	}
	return p, true
}

// Leave takes a disconnecting player off the map. Their action row is
// left alone so it can resume on reconnect.
func (w *World) Leave(ctx context.Context, userID int64) error {
	zu, ok, err := w.d.Zones.GetUserZone(ctx, userID)
	if err != nil || !ok {
		return err
	}
	if w.d.Cache != nil {
		if err := w.d.Cache.Set(ctx, lastPosKey(userID), fmt.Sprintf("%d,%d", zu.X, zu.Y), lastPosTTL); err != nil {
			w.logger.Warn("last position not saved", zap.Int64("user_id", userID), zap.Error(err))
		}
	}
	return w.d.Zones.RemoveUserFromZone(ctx, userID)
}

// Move steps to a neighbouring tile, diagonals included. Leaving the tile
// of a running action cancels it.
func (w *World) Move(ctx context.Context, userID int64, x, y int) error {
	cur, err := w.position(ctx, userID)
	if err != nil {
		return w.fail(ctx, userID, err)
	}
	dx, dy := x-cur.X, y-cur.Y
	if dx == 0 && dy == 0 {
		return nil
	}
	if dx < -1 || dx > 1 || dy < -1 || dy > 1 {
		return w.fail(ctx, userID, fmt.Errorf("%w: you can only move one tile at a time", errs.ErrInvalid))
	}
	if err := w.d.Zones.AddUserToZone(ctx, userID, x, y); err != nil {
		return w.fail(ctx, userID, err)
	}

	act, err := w.d.Actions.GetInProgressAction(ctx, userID)
	if err != nil {
		return err
	}
	if act != nil && (act.X != x || act.Y != y) {
		if err := w.d.Actions.MarkActionComplete(ctx, userID); err != nil {
			return err
		}
		name := act.ResourceID
		if r, ok := w.d.Catalog.Resource(act.ResourceID); ok {
			name = r.Name
		}
		w.d.Messages.Notify(ctx, userID, "You walk away from the "+name+".", message.TypeInfo)
	}
	return nil
}

// Collect starts a timed action on a resource of the current tile.
func (w *World) Collect(ctx context.Context, userID int64, resourceID string) (*model.InProgressAction, error) {
	act, err := w.d.Actions.MarkActionInProgress(ctx, userID, resourceID)
	if err != nil {
		return nil, w.fail(ctx, userID, err)
	}
	return act, nil
}

// CancelAction stops the running action. Consumed stock is not returned.
func (w *World) CancelAction(ctx context.Context, userID int64) error {
	act, err := w.d.Actions.GetInProgressAction(ctx, userID)
	if err != nil {
		return err
	}
	if act == nil {
		return w.fail(ctx, userID, fmt.Errorf("%w: you are not doing anything", errs.ErrInvalid))
	}
	return w.d.Actions.MarkActionComplete(ctx, userID)
}

// AcceptQuest starts an instance whose giver stands on the player's tile.
func (w *World) AcceptQuest(ctx context.Context, userID int64, instanceID string) error {
	cur, err := w.position(ctx, userID)
	if err != nil {
		return w.fail(ctx, userID, err)
	}
	zq, err := w.d.Quests.GetZoneQuestsForUser(ctx, userID, cur.X, cur.Y)
	if err != nil {
		return err
	}
	if !contains(zq.Available, instanceID) {
		return w.fail(ctx, userID, fmt.Errorf("%w: that quest is not offered here", errs.ErrNotFound))
	}
	return w.fail(ctx, userID, w.d.Quests.StartQuest(ctx, userID, instanceID))
}

// TurnInQuest completes a quest at its completion tile.
func (w *World) TurnInQuest(ctx context.Context, userID int64, instanceID string) error {
	cur, err := w.position(ctx, userID)
	if err != nil {
		return w.fail(ctx, userID, err)
	}
	zq, err := w.d.Quests.GetZoneQuestsForUser(ctx, userID, cur.X, cur.Y)
	if err != nil {
		return err
	}
	if !contains(zq.Completable, instanceID) {
		if contains(zq.Elsewhere, instanceID) || contains(zq.InProgress, instanceID) {
			return w.fail(ctx, userID, fmt.Errorf("%w: that quest is not turned in here", errs.ErrInvalid))
		}
		return w.fail(ctx, userID, fmt.Errorf("%w: you have no such quest", errs.ErrNotFound))
	}
	return w.fail(ctx, userID, w.d.Quests.CompleteQuest(ctx, userID, instanceID))
}

func (w *World) AbandonQuest(ctx context.Context, userID int64, instanceID string) error {
	return w.fail(ctx, userID, w.d.Quests.CancelQuest(ctx, userID, instanceID))
}

// Talk advances the dialog of a talk objective placed on the player's tile.
func (w *World) Talk(ctx context.Context, userID int64, instanceID string) (quest.DialogStep, error) {
	cur, err := w.position(ctx, userID)
	if err != nil {
		return quest.DialogStep{}, w.fail(ctx, userID, err)
	}
	step, err := w.d.Quests.AdvanceDialog(ctx, userID, instanceID, cur.X, cur.Y)
	return step, w.fail(ctx, userID, err)
}

// Say posts a chat line on the player's tile.
func (w *World) Say(ctx context.Context, userID int64, name, content string) (chat.Line, error) {
	cur, err := w.position(ctx, userID)
	if err != nil {
		return chat.Line{}, w.fail(ctx, userID, err)
	}
	line, err := w.d.Chat.Send(ctx, userID, name, cur.X, cur.Y, content)
	return line, w.fail(ctx, userID, err)
}

func contains(list []quest.QuestSummary, instanceID string) bool {
	for _, q := range list {
		if q.InstanceID == instanceID {
			return true
		}
	}
	return false
}
