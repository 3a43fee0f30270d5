// Package action manages the single timed collection a user may run.
//
// An action row is created when collection starts and deleted when it
// completes, is cancelled, or is interrupted by movement. Progress is
// derived from started_at, so a reconnecting client resumes where the
// store says it is.
package action

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tilequest/server/catalog"
	"github.com/tilequest/server/events"
	"github.com/tilequest/server/game/errs"
	"github.com/tilequest/server/game/hook"
	"github.com/tilequest/server/game/item"
	"github.com/tilequest/server/game/message"
	"github.com/tilequest/server/game/resource"
	"github.com/tilequest/server/model"
)

type Tracker struct {
	db        *gorm.DB
	cat       *catalog.Catalog
	resources *resource.Tracker
	inv       *item.Service
	msgs      *message.Service
	hooks     *hook.Center
	bus       *events.Bus
	ttl       time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// Deps groups the collaborators of a Tracker.
type Deps struct {
	DB        *gorm.DB
	Catalog   *catalog.Catalog
	Resources *resource.Tracker
	Inventory *item.Service
	Messages  *message.Service
	Hooks     *hook.Center
	Bus       *events.Bus
	Logger    *zap.Logger
}

// NewTracker creates a Tracker. Actions left running ttl past their due
// time are discarded by ExpireStale.
func NewTracker(d Deps, ttl time.Duration) *Tracker {
	return &Tracker{
		db:        d.DB,
		cat:       d.Catalog,
		resources: d.Resources,
		inv:       d.Inventory,
		msgs:      d.Messages,
		hooks:     d.Hooks,
		bus:       d.Bus,
		ttl:       ttl,
		logger:    d.Logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// MarkActionInProgress starts collecting resourceID on the user's current
// tile. The action insert and the stock consumption commit together.
func (t *Tracker) MarkActionInProgress(ctx context.Context, userID int64, resourceID string) (*model.InProgressAction, error) {
	r, ok := t.cat.Resource(resourceID)
	if !ok {
		return nil, fmt.Errorf("%w: resource %q", errs.ErrNotFound, resourceID)
	}

	var act model.InProgressAction
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&model.InProgressAction{}).Where("user_id = ?", userID).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return fmt.Errorf("%w: you are already busy", errs.ErrConflict)
		}

		var z model.ZoneUser
		if err := tx.Where("user_id = ?", userID).First(&z).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: you are not on the map", errs.ErrInvalid)
			}
			return err
		}
		if !t.cat.OffersResource(z.X, z.Y, resourceID) {
			return fmt.Errorf("%w: no %s here", errs.ErrNotFound, r.Name)
		}
		if missing, err := missingItems(tx, t.cat, userID, r.Requires); err != nil {
			return err
		} else if missing != "" {
			return fmt.Errorf("%w: you need %s", errs.ErrConflict, missing)
		}

		act = model.InProgressAction{UserID: userID, X: z.X, Y: z.Y, ResourceID: resourceID, StartedAt: t.now()}
		ins := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&act)
		if ins.Error != nil {
			return ins.Error
		}
		if ins.RowsAffected == 0 {
			return fmt.Errorf("%w: you are already busy", errs.ErrConflict)
		}

		ok, err := t.resources.Consume(tx, z.X, z.Y, resourceID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: the %s is exhausted", errs.ErrConflict, r.Name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	t.bus.ZoneChanged(ctx, act.X, act.Y)
	t.bus.UserChanged(ctx, userID)
	t.logger.Debug("action started",
		zap.Int64("user_id", userID), zap.String("resource", resourceID), zap.Int("x", act.X), zap.Int("y", act.Y))
	return &act, nil
}

// missingItems describes the first requirement the user cannot cover, or "".
func missingItems(tx *gorm.DB, cat *catalog.Catalog, userID int64, reqs []catalog.ItemQty) (string, error) {
	for _, req := range reqs {
		have, err := item.CountTx(tx, userID, req.Item)
		if err != nil {
			return "", err
		}
		if have < req.Qty {
			return fmt.Sprintf("%d %s", req.Qty, itemName(cat, req.Item)), nil
		}
	}
	return "", nil
}

func itemName(cat *catalog.Catalog, id string) string {
	if it, ok := cat.Item(id); ok {
		return it.Name
	}
	return id
}

// GetInProgressAction returns the user's action, or nil when idle.
func (t *Tracker) GetInProgressAction(ctx context.Context, userID int64) (*model.InProgressAction, error) {
	var rows []model.InProgressAction
	if err := t.db.WithContext(ctx).Where("user_id = ?", userID).Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// MarkActionComplete deletes the user's action unconditionally. It serves
// both cancellation and interruption.
func (t *Tracker) MarkActionComplete(ctx context.Context, userID int64) error {
	res := t.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&model.InProgressAction{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		t.bus.UserChanged(ctx, userID)
	}
	return nil
}

// Progress is the derived timing of an action.
type Progress struct {
	Action   model.InProgressAction `json:"action"`
	Resource *catalog.Resource      `json:"resource"`
	Elapsed  time.Duration          `json:"elapsed"`
	Duration time.Duration          `json:"duration"`
	Percent  int                    `json:"percent"`
	Done     bool                   `json:"done"`
}

// Progress computes how far act is at now. Completion needs
// collection_time+1 whole seconds.
func (t *Tracker) Progress(act model.InProgressAction, now time.Time) Progress {
	p := Progress{Action: act}
	r, ok := t.cat.Resource(act.ResourceID)
	if !ok {
		p.Done = true
		return p
	}
	p.Resource = r
	p.Duration = r.Duration()
	p.Elapsed = max(now.Sub(act.StartedAt), 0)
	p.Done = p.Elapsed >= p.Duration
	p.Percent = 100
	if !p.Done {
		p.Percent = int(p.Elapsed * 100 / p.Duration)
	}
	return p
}

// Finish completes expected if it is still the user's current action:
// required items are taken, rewards granted, the action-complete hook
// fired and a summary message sent. It returns false when the row no
// longer matches, so a reward is never granted twice.
func (t *Tracker) Finish(ctx context.Context, expected model.InProgressAction) (bool, error) {
	r, ok := t.cat.Resource(expected.ResourceID)
	if !ok {
		return false, t.MarkActionComplete(ctx, expected.UserID)
	}

	var (
		granted  []catalog.ItemQty
		lost     []catalog.ItemQty
		shortfor string
	)
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		del := tx.Where("user_id = ? AND x = ? AND y = ? AND resource_id = ?",
			expected.UserID, expected.X, expected.Y, expected.ResourceID).
			Delete(&model.InProgressAction{})
		if del.Error != nil {
			return del.Error
		}
		if del.RowsAffected == 0 {
			return errNoLongerCurrent
		}

		missing, err := missingItems(tx, t.cat, expected.UserID, r.Requires)
		if err != nil {
			return err
		}
		if missing != "" {
			shortfor = missing
			return nil
		}
		for _, req := range r.Requires {
			if err := item.RemoveTx(tx, expected.UserID, req.Item, req.Qty); err != nil {
				return err
			}
		}
		for _, rw := range r.Rewards {
			added, err := item.AddTx(tx, expected.UserID, rw.Item, rw.Qty)
			if err != nil {
				return err
			}
			if added {
				granted = append(granted, rw)
			} else {
				lost = append(lost, rw)
			}
		}
		return nil
	})
	if errors.Is(err, errNoLongerCurrent) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	uid := expected.UserID
	if shortfor != "" {
		t.msgs.Notify(ctx, uid, fmt.Sprintf("You no longer have %s.", shortfor), message.TypeError)
		t.bus.UserChanged(ctx, uid)
		return true, nil
	}

	changed := make([]string, 0, len(r.Requires)+len(granted))
	for _, req := range r.Requires {
		changed = append(changed, req.Item)
	}
	for _, g := range granted {
		changed = append(changed, g.Item)
	}
	t.inv.Notify(ctx, uid, changed...)

	if t.hooks != nil {
		if err := t.hooks.Trigger(ctx, hook.OnActionComplete, hook.ActionComplete{
			UserID: uid, X: expected.X, Y: expected.Y, ResourceID: expected.ResourceID,
		}); err != nil {
			t.logger.Warn("action-complete hook failed", zap.Int64("user_id", uid), zap.Error(err))
		}
	}

	t.msgs.Notify(ctx, uid, t.summary(r, granted), message.TypeSuccess)
	if len(lost) > 0 {
		t.msgs.Notify(ctx, uid, "Your bag is full: "+t.listItems(lost)+" lost.", message.TypeError)
	}
	t.bus.UserChanged(ctx, uid)
	return true, nil
}

var errNoLongerCurrent = errors.New("action no longer current")

func (t *Tracker) summary(r *catalog.Resource, granted []catalog.ItemQty) string {
	verb := r.Verb
	if verb == "" {
		verb = "work"
	}
	if len(granted) == 0 {
		return fmt.Sprintf("You %s the %s.", verb, r.Name)
	}
	return fmt.Sprintf("You %s the %s and receive %s.", verb, r.Name, t.listItems(granted))
}

func (t *Tracker) listItems(items []catalog.ItemQty) string {
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = fmt.Sprintf("%d %s", it.Qty, itemName(t.cat, it.Item))
	}
	return strings.Join(parts, ", ")
}

// ExpireStale drops actions whose owner has not come back ttl after they
// were due. It returns the number removed.
func (t *Tracker) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	if t.ttl <= 0 {
		return 0, nil
	}
	db := t.db.WithContext(ctx)
	var rows []model.InProgressAction
	if err := db.Where("started_at < ?", now.Add(-t.ttl)).Find(&rows).Error; err != nil {
		return 0, err
	}
	removed := 0
	for _, a := range rows {
		due := a.StartedAt
		if r, ok := t.cat.Resource(a.ResourceID); ok {
			due = due.Add(r.Duration())
		}
		if now.Sub(due) < t.ttl {
			continue
		}
		res := db.Where("user_id = ? AND resource_id = ? AND x = ? AND y = ?", a.UserID, a.ResourceID, a.X, a.Y).
			Delete(&model.InProgressAction{})
		if res.Error != nil {
			return removed, res.Error
		}
		if res.RowsAffected > 0 {
			removed++
			t.bus.UserChanged(ctx, a.UserID)
		}
	}
	return removed, nil
}
