// Package resource tracks per-tile consumption of finite resources and
// their staggered regeneration.
package resource

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tilequest/server/catalog"
	"github.com/tilequest/server/events"
	"github.com/tilequest/server/game/errs"
	"github.com/tilequest/server/model"
)

// Tracker owns the resource_usage table.
type Tracker struct {
	db        *gorm.DB
	cat       *catalog.Catalog
	bus       *events.Bus
	regenUnit time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewTracker creates a Tracker. regenUnit is the regeneration time per
// second of collection time.
func NewTracker(db *gorm.DB, cat *catalog.Catalog, bus *events.Bus, regenUnit time.Duration, logger *zap.Logger) *Tracker {
	if regenUnit <= 0 {
		regenUnit = 5 * time.Second
	}
	return &Tracker{
		db:        db,
		cat:       cat,
		bus:       bus,
		regenUnit: regenUnit,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Availability describes one resource on a tile.
type Availability struct {
	Resource    *catalog.Resource `json:"resource"`
	Remaining   int               `json:"remaining"`
	Limitless   bool              `json:"limitless"`
	NextRefresh *time.Time        `json:"next_refresh,omitempty"`
}

// MarkResourceUsed consumes one unit of resourceID on (x,y). It returns
// false when the stock is exhausted.
func (t *Tracker) MarkResourceUsed(ctx context.Context, x, y int, resourceID string) (bool, error) {
	ok, err := t.Consume(t.db.WithContext(ctx), x, y, resourceID)
	if err != nil || !ok {
		return ok, err
	}
	t.bus.ZoneChanged(ctx, x, y)
	return true, nil
}

// Consume is MarkResourceUsed on the caller's handle, which may be a
// transaction. It does not publish; the caller does once it has committed.
//
// The increment is a single conditional UPDATE, so concurrent collectors
// can never push qty past the resource amount.
func (t *Tracker) Consume(db *gorm.DB, x, y int, resourceID string) (bool, error) {
	if !t.cat.OffersResource(x, y, resourceID) {
		return false, fmt.Errorf("%w: resource %q at (%d,%d)", errs.ErrNotFound, resourceID, x, y)
	}
	r, _ := t.cat.Resource(resourceID)
	if r.Limitless {
		return true, nil
	}
	if r.Amount <= 0 {
		return false, nil
	}

	interval := r.RegenInterval(t.regenUnit)
	refreshAt := t.now().Add(interval)
	key := db.Model(&model.ResourceUsage{}).
		Where("x = ? AND y = ? AND resource_id = ?", x, y, resourceID).
		Session(&gorm.Session{})

	// Two rounds: a concurrent first consumer may insert the row between
	// our UPDATE and INSERT.
	for attempt := 0; attempt < 2; attempt++ {
		res := key.Where("qty < ?", r.Amount).
			Updates(map[string]interface{}{
				"qty":         gorm.Expr("qty + 1"),
				"refresh_at":  refreshAt,
				"interval_ms": interval.Milliseconds(),
			})
		if res.Error != nil {
			return false, res.Error
		}
		if res.RowsAffected > 0 {
			return true, nil
		}

		var n int64
		if err := key.Count(&n).Error; err != nil {
			return false, err
		}
		if n > 0 {
			return false, nil
		}

		ins := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&model.ResourceUsage{
			X:          x,
			Y:          y,
			ResourceID: resourceID,
			Qty:        1,
			RefreshAt:  refreshAt,
			IntervalMs: interval.Milliseconds(),
		})
		if ins.Error != nil {
			return false, ins.Error
		}
		if ins.RowsAffected > 0 {
			return true, nil
		}
	}
	return false, nil
}

// Remaining returns the units left of resourceID on (x,y).
func (t *Tracker) Remaining(ctx context.Context, x, y int, resourceID string) (int, bool, error) {
	r, ok := t.cat.Resource(resourceID)
	if !ok {
		return 0, false, fmt.Errorf("%w: resource %q", errs.ErrNotFound, resourceID)
	}
	if r.Limitless {
		return 0, true, nil
	}
	var u model.ResourceUsage
	err := t.db.WithContext(ctx).
		Where("x = ? AND y = ? AND resource_id = ?", x, y, resourceID).
		Limit(1).Find(&u).Error
	if err != nil {
		return 0, false, err
	}
	return max(r.Amount-u.Qty, 0), false, nil
}

// UsageAt returns the usage rows currently held for tile (x,y).
func (t *Tracker) UsageAt(ctx context.Context, x, y int) ([]model.ResourceUsage, error) {
	var rows []model.ResourceUsage
	err := t.db.WithContext(ctx).Where("x = ? AND y = ?", x, y).Find(&rows).Error
	return rows, err
}

// AvailabilityAt lists every resource offered on (x,y) with its stock.
func (t *Tracker) AvailabilityAt(ctx context.Context, x, y int) ([]Availability, error) {
	rows, err := t.UsageAt(ctx, x, y)
	if err != nil {
		return nil, err
	}
	used := make(map[string]model.ResourceUsage, len(rows))
	for _, u := range rows {
		used[u.ResourceID] = u
	}
	var out []Availability
	for _, r := range t.cat.ResourcesAt(x, y) {
		a := Availability{Resource: r, Limitless: r.Limitless}
		if !r.Limitless {
			a.Remaining = r.Amount
			if u, ok := used[r.ID]; ok {
				a.Remaining = max(r.Amount-u.Qty, 0)
				refresh := u.RefreshAt
				a.NextRefresh = &refresh
			}
		}
		out = append(out, a)
	}
	return out, nil
}

// Regenerate returns one unit to every row whose refresh time has passed.
// Rows down to their last unit are deleted; the rest are decremented and
// rescheduled. Each write re-checks refresh_at so overlapping sweeps do
// not regenerate twice. It returns the number of rows changed.
func (t *Tracker) Regenerate(ctx context.Context, now time.Time) (int, error) {
	db := t.db.WithContext(ctx)
	var due []model.ResourceUsage
	if err := db.Where("refresh_at <= ?", now).Find(&due).Error; err != nil {
		return 0, err
	}

	type tile struct{ x, y int }
	touched := make(map[tile]struct{})
	changed := 0
	for _, u := range due {
		key := db.Model(&model.ResourceUsage{}).
			Where("x = ? AND y = ? AND resource_id = ? AND refresh_at <= ?", u.X, u.Y, u.ResourceID, now)
		var res *gorm.DB
		if u.Qty <= 1 {
			res = key.Where("qty <= 1").Delete(&model.ResourceUsage{})
		} else {
			interval := time.Duration(u.IntervalMs) * time.Millisecond
			if interval <= 0 {
				interval = t.regenUnit
				if r, ok := t.cat.Resource(u.ResourceID); ok {
					interval = r.RegenInterval(t.regenUnit)
				}
			}
			next := u.RefreshAt.Add(interval)
			if !next.After(now) {
				next = now.Add(interval)
			}
			res = key.Where("qty > 1").Updates(map[string]interface{}{
				"qty":        gorm.Expr("qty - 1"),
				"refresh_at": next,
			})
		}
		if res.Error != nil {
			return changed, res.Error
		}
		if res.RowsAffected > 0 {
			changed++
			touched[tile{u.X, u.Y}] = struct{}{}
		}
	}
	for p := range touched {
		t.bus.ZoneChanged(ctx, p.x, p.y)
	}
	if changed > 0 {
		t.logger.Debug("resources regenerated", zap.Int("rows", changed), zap.Int("tiles", len(touched)))
	}
	return changed, nil
}
