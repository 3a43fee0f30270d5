// Package quest is the per-user quest state machine and the read views
// derived from it.
//
// A quest instance moves forward only: available (no row) -> in_progress
// -> completable -> completed. Cancelling deletes the rows instead of
// lowering the status. Objectives complete strictly in declared order and
// only the first incomplete one (the current objective) receives progress.
package quest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tilequest/server/catalog"
	"github.com/tilequest/server/events"
	"github.com/tilequest/server/game/errs"
	"github.com/tilequest/server/game/hook"
	"github.com/tilequest/server/game/item"
	"github.com/tilequest/server/game/message"
	"github.com/tilequest/server/model"
)

// Engine owns quest_progress and objective_progress.
type Engine struct {
	db     *gorm.DB
	cat    *catalog.Catalog
	inv    *item.Service
	msgs   *message.Service
	bus    *events.Bus
	hooks  *hook.Center
	logger *zap.Logger
	now    func() time.Time
}

type Deps struct {
	DB        *gorm.DB
	Catalog   *catalog.Catalog
	Inventory *item.Service
	Messages  *message.Service
	Bus       *events.Bus
	Hooks     *hook.Center
	Logger    *zap.Logger
}

func NewEngine(d Deps) *Engine {
	return &Engine{
		db:     d.DB,
		cat:    d.Catalog,
		inv:    d.Inventory,
		msgs:   d.Messages,
		bus:    d.Bus,
		hooks:  d.Hooks,
		logger: d.Logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Instance is a stored quest instance joined with its template.
type Instance struct {
	model.QuestInstance
	Template   *catalog.QuestTemplate
	Placements map[int]model.Placement
}

// Placement returns the tile bound to objective idx.
func (in *Instance) Placement(idx int) (model.Placement, bool) {
	p, ok := in.Placements[idx]
	return p, ok
}

func (e *Engine) resolve(row model.QuestInstance) (*Instance, error) {
	tpl, ok := e.cat.Quest(row.TemplateID)
	if !ok {
		return nil, fmt.Errorf("%w: quest template %q", errs.ErrNotFound, row.TemplateID)
	}
	places, err := row.Placements()
	if err != nil {
		return nil, fmt.Errorf("instance %s locations: %w", row.ID, err)
	}
	return &Instance{QuestInstance: row, Template: tpl, Placements: places}, nil
}

func (e *Engine) loadInstance(db *gorm.DB, id string) (*Instance, error) {
	var row model.QuestInstance
	if err := db.Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: that quest is no longer available", errs.ErrNotFound)
		}
		return nil, err
	}
	return e.resolve(row)
}

// loadInstances returns the given instances keyed by id. Rows whose
// template left the catalog are skipped.
func (e *Engine) loadInstances(db *gorm.DB, ids []string) (map[string]*Instance, error) {
	out := make(map[string]*Instance, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []model.QuestInstance
	if err := db.Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		in, err := e.resolve(row)
		if err != nil {
			e.logger.Warn("skipping quest instance", zap.String("instance_id", row.ID), zap.Error(err))
			continue
		}
		out[row.ID] = in
	}
	return out, nil
}

// activeInstances returns every instance whose window contains now.
func (e *Engine) activeInstances(db *gorm.DB, now time.Time) ([]*Instance, error) {
	var rows []model.QuestInstance
	if err := db.Where("starts_at <= ? AND ends_at > ?", now, now).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*Instance, 0, len(rows))
	for _, row := range rows {
		in, err := e.resolve(row)
		if err != nil {
			e.logger.Warn("skipping quest instance", zap.String("instance_id", row.ID), zap.Error(err))
			continue
		}
		out = append(out, in)
	}
	return out, nil
}

// StartQuest accepts an active instance for userID. The progress row and
// one objective row per objective commit together.
func (e *Engine) StartQuest(ctx context.Context, userID int64, instanceID string) error {
	now := e.now()
	var in *Instance
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		in, err = e.loadInstance(tx, instanceID)
		if err != nil {
			return err
		}
		if !in.ActiveAt(now) {
			return fmt.Errorf("%w: that quest is no longer available", errs.ErrNotFound)
		}
		var n int64
		if err := tx.Model(&model.QuestProgress{}).
			Where("user_id = ? AND instance_id = ?", userID, instanceID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: quest already taken", errs.ErrConflict)
		}

		if err := tx.Create(&model.QuestProgress{
			UserID:     userID,
			InstanceID: instanceID,
			Status:     model.QuestStatusInProgress,
			StartedAt:  now,
		}).Error; err != nil {
			return err
		}
		rows := make([]model.ObjectiveProgress, len(in.Template.Objectives))
		for i, obj := range in.Template.Objectives {
			rows[i] = model.ObjectiveProgress{
				UserID:     userID,
				InstanceID: instanceID,
				Objective:  i,
				Required:   obj.Required(),
				UpdatedAt:  now,
			}
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return err
	}

	e.logger.Info("quest started",
		zap.Int64("user_id", userID), zap.String("instance_id", instanceID), zap.String("template", in.Template.ID))
	e.msgs.Notify(ctx, userID, "Quest accepted: "+in.Template.Name, message.TypeInfo)
	e.bus.UserChanged(ctx, userID)

	if len(in.Template.Objectives) == 0 {
		return e.flipCompletable(ctx, userID, in)
	}
	e.seed(ctx, userID, in, 0)
	return nil
}

// UpdateObjectiveProgress sets the absolute progress of one objective.
// Setting the same value twice changes nothing, and a completed objective
// is never reopened. When the last objective completes the quest becomes
// completable; that flip is conditional, so its side effects run once.
func (e *Engine) UpdateObjectiveProgress(ctx context.Context, userID int64, instanceID string, objective, current int) error {
	now := e.now()
	var (
		changed      bool
		completedNow bool
		allDone      bool
	)
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row model.ObjectiveProgress
		err := tx.Where("user_id = ? AND instance_id = ? AND objective = ?", userID, instanceID, objective).
			First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: objective %d of %s", errs.ErrNotFound, objective, instanceID)
		}
		if err != nil {
			return err
		}
		if current < 0 {
			current = 0
		}
		if current > row.Required {
			current = row.Required
		}
		if row.Completed || current == row.Current {
			return nil
		}

		done := current >= row.Required
		updates := map[string]interface{}{
			"current":    current,
			"completed":  done,
			"updated_at": now,
		}
		if done {
			updates["completed_at"] = now
		}
		res := tx.Model(&model.ObjectiveProgress{}).
			Where("user_id = ? AND instance_id = ? AND objective = ? AND completed = ?", userID, instanceID, objective, false).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		changed = res.RowsAffected > 0
		if !changed || !done {
			return nil
		}
		completedNow = true

		var open int64
		if err := tx.Model(&model.ObjectiveProgress{}).
			Where("user_id = ? AND instance_id = ? AND completed = ?", userID, instanceID, false).
			Count(&open).Error; err != nil {
			return err
		}
		allDone = open == 0
		return nil
	})
	if err != nil {
		return err
	}
	if !completedNow {
		if changed {
			e.bus.UserChanged(ctx, userID)
		}
		return nil
	}

	in, err := e.loadInstance(e.db.WithContext(ctx), instanceID)
	if err != nil {
		return err
	}
	if allDone {
		return e.flipCompletable(ctx, userID, in)
	}
	e.bus.UserChanged(ctx, userID)
	e.seed(ctx, userID, in, objective+1)
	return nil
}

// flipCompletable moves in_progress to completable exactly once.
func (e *Engine) flipCompletable(ctx context.Context, userID int64, in *Instance) error {
	res := e.db.WithContext(ctx).Model(&model.QuestProgress{}).
		Where("user_id = ? AND instance_id = ? AND status = ?", userID, in.ID, model.QuestStatusInProgress).
		Update("status", model.QuestStatusCompletable)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil
	}
	text := in.Template.Completion.ReturnMessage
	if text == "" {
		text = fmt.Sprintf("%s: all objectives done. Return to %s.", in.Template.Name, e.npcName(in.Template.Completion.NPC))
	}
	e.msgs.Notify(ctx, userID, text, message.TypeSuccess)
	e.bus.UserChanged(ctx, userID)
	return nil
}

// seed brings a collect objective that just became current up to the
// inventory count, since items held before it was current still count.
func (e *Engine) seed(ctx context.Context, userID int64, in *Instance, idx int) {
	if idx >= len(in.Template.Objectives) {
		return
	}
	c, ok := in.Template.Objectives[idx].(catalog.Collect)
	if !ok {
		return
	}
	have, err := e.inv.Count(ctx, userID, c.Item)
	if err != nil {
		e.logger.Warn("seeding collect objective", zap.Int64("user_id", userID), zap.Error(err))
		return
	}
	if have == 0 {
		return
	}
	if err := e.UpdateObjectiveProgress(ctx, userID, in.ID, idx, have); err != nil {
		e.logger.Warn("seeding collect objective", zap.Int64("user_id", userID), zap.Error(err))
	}
}

// CompleteQuest turns in a completable quest and grants its rewards.
// Rewards the bag cannot hold are reported to the player, not raised.
func (e *Engine) CompleteQuest(ctx context.Context, userID int64, instanceID string) error {
	db := e.db.WithContext(ctx)
	in, err := e.loadInstance(db, instanceID)
	if err != nil {
		return err
	}
	now := e.now()
	res := db.Model(&model.QuestProgress{}).
		Where("user_id = ? AND instance_id = ? AND status = ?", userID, instanceID, model.QuestStatusCompletable).
		Updates(map[string]interface{}{"status": model.QuestStatusCompleted, "completed_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var qp model.QuestProgress
		err := db.Where("user_id = ? AND instance_id = ?", userID, instanceID).First(&qp).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: you have not started %s", errs.ErrNotFound, in.Template.Name)
		}
		if err != nil {
			return err
		}
		if qp.Status == model.QuestStatusCompleted {
			return fmt.Errorf("%w: %s is already complete", errs.ErrConflict, in.Template.Name)
		}
		return fmt.Errorf("%w: %s is not finished yet", errs.ErrConflict, in.Template.Name)
	}

	var failed []catalog.ItemQty
	for _, rw := range in.Template.Rewards {
		ok, err := e.inv.Add(ctx, userID, rw.Item, rw.Qty)
		if err != nil || !ok {
			if err != nil {
				e.logger.Warn("quest reward failed",
					zap.Int64("user_id", userID), zap.String("instance_id", instanceID), zap.String("item", rw.Item), zap.Error(err))
			}
			failed = append(failed, rw)
		}
	}

	text := in.Template.Completion.Message
	if text == "" {
		text = "Quest complete: " + in.Template.Name
	}
	if granted := len(in.Template.Rewards) - len(failed); granted > 0 {
		text += " Rewards: " + e.describeItems(in.Template.Rewards, failed) + "."
	}
	e.msgs.Notify(ctx, userID, text, message.TypeSuccess)
	if len(failed) > 0 {
		e.msgs.Notify(ctx, userID, "Your bag is full: "+e.describeItems(failed, nil)+" could not be given.", message.TypeError)
	}

	e.logger.Info("quest completed", zap.Int64("user_id", userID), zap.String("instance_id", instanceID))
	if e.hooks != nil {
		if err := e.hooks.Trigger(ctx, hook.OnQuestComplete, hook.QuestComplete{
			UserID: userID, InstanceID: instanceID, TemplateID: in.TemplateID,
		}); err != nil {
			e.logger.Warn("quest-complete hook failed", zap.Error(err))
		}
	}
	e.bus.UserChanged(ctx, userID)
	return nil
}

// CancelQuest abandons an unfinished quest, deleting its progress rows.
func (e *Engine) CancelQuest(ctx context.Context, userID int64, instanceID string) error {
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var qp model.QuestProgress
		err := tx.Where("user_id = ? AND instance_id = ?", userID, instanceID).First(&qp).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: quest not in progress", errs.ErrNotFound)
		}
		if err != nil {
			return err
		}
		if qp.Status == model.QuestStatusCompleted {
			return fmt.Errorf("%w: completed quests cannot be abandoned", errs.ErrInvalid)
		}
		if err := tx.Where("user_id = ? AND instance_id = ?", userID, instanceID).
			Delete(&model.ObjectiveProgress{}).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ? AND instance_id = ?", userID, instanceID).
			Delete(&model.QuestProgress{}).Error
	})
	if err != nil {
		return err
	}
	e.bus.UserChanged(ctx, userID)
	return nil
}

// DialogStep is the result of talking to an NPC for a talk objective.
type DialogStep struct {
	NPC  string `json:"npc"`
	Line string `json:"line,omitempty"`
	Step int    `json:"step"`
	Done bool   `json:"done"`
}

// AdvanceDialog moves the current talk objective of instanceID one step
// while the user stands on (x,y). Each dialog line is one step and the
// final step acknowledges the conversation.
func (e *Engine) AdvanceDialog(ctx context.Context, userID int64, instanceID string, x, y int) (DialogStep, error) {
	qs, err := e.questLog(ctx, e.db.WithContext(ctx), userID, model.QuestStatusInProgress)
	if err != nil {
		return DialogStep{}, err
	}
	for _, q := range qs {
		if q.Instance.ID != instanceID {
			continue
		}
		cur := q.Current()
		if cur == nil {
			break
		}
		talk, ok := cur.Objective.(catalog.Talk)
		if !ok {
			return DialogStep{}, fmt.Errorf("%w: there is no one to talk to for this quest", errs.ErrInvalid)
		}
		p, placed := q.Instance.Placement(cur.Index)
		if !placed || p.X != x || p.Y != y {
			return DialogStep{}, fmt.Errorf("%w: %s is not here", errs.ErrInvalid, e.npcName(talk.NPC))
		}
		step := DialogStep{NPC: e.npcName(talk.NPC), Step: cur.Current}
		if cur.Current < len(talk.Dialog) {
			step.Line = talk.Dialog[cur.Current]
		}
		if err := e.UpdateObjectiveProgress(ctx, userID, instanceID, cur.Index, cur.Current+1); err != nil {
			return DialogStep{}, err
		}
		step.Done = cur.Current+1 >= cur.Required
		return step, nil
	}
	return DialogStep{}, fmt.Errorf("%w: quest not in progress", errs.ErrNotFound)
}

func (e *Engine) npcName(id string) string {
	if n, ok := e.cat.NPC(id); ok {
		return n.Name
	}
	return id
}

// describeItems lists items, skipping any that appear in except.
func (e *Engine) describeItems(items, except []catalog.ItemQty) string {
	skip := make(map[catalog.ItemQty]bool, len(except))
	for _, it := range except {
		skip[it] = true
	}
	out := ""
	for _, it := range items {
		if skip[it] {
			continue
		}
		name := it.Item
		if def, ok := e.cat.Item(it.Item); ok {
			name = def.Name
		}
		if out != "" {
			out += ", "
		}
		out += fmt.Sprintf("%d %s", it.Qty, name)
	}
	return out
}
