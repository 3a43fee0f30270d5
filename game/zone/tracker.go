// Package zone records which tile each user stands on.
package zone

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tilequest/server/catalog"
	"github.com/tilequest/server/events"
	"github.com/tilequest/server/game/errs"
	"github.com/tilequest/server/game/hook"
	"github.com/tilequest/server/model"
)

type Tracker struct {
	db     *gorm.DB
	cat    *catalog.Catalog
	bus    *events.Bus
	hooks  *hook.Center
	logger *zap.Logger
	now    func() time.Time
}

func NewTracker(db *gorm.DB, cat *catalog.Catalog, bus *events.Bus, hooks *hook.Center, logger *zap.Logger) *Tracker {
	return &Tracker{
		db:     db,
		cat:    cat,
		bus:    bus,
		hooks:  hooks,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// AddUserToZone places userID on (x,y), replacing any prior occupancy.
// Both the vacated and the entered tile are notified.
func (t *Tracker) AddUserToZone(ctx context.Context, userID int64, x, y int) error {
	tt, ok := t.cat.TileTypeAt(x, y)
	if !ok {
		return fmt.Errorf("%w: no tile at (%d,%d)", errs.ErrNotFound, x, y)
	}
	if !tt.Accessible {
		return fmt.Errorf("%w: %s is not accessible", errs.ErrInvalid, tt.Name)
	}

	prev, hadPrev, err := t.GetUserZone(ctx, userID)
	if err != nil {
		return err
	}

	row := model.ZoneUser{UserID: userID, X: x, Y: y, EnteredAt: t.now()}
	err = t.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"x", "y", "entered_at"}),
	}).Create(&row).Error
	if err != nil {
		return err
	}

	if hadPrev && (prev.X != x || prev.Y != y) {
		t.bus.ZoneChanged(ctx, prev.X, prev.Y)
	}
	t.bus.ZoneChanged(ctx, x, y)
	t.bus.UserChanged(ctx, userID)

	if t.hooks != nil {
		if err := t.hooks.Trigger(ctx, hook.OnZoneEnter, hook.ZoneEnter{UserID: userID, X: x, Y: y}); err != nil {
			t.logger.Warn("zone-enter hook failed", zap.Int64("user_id", userID), zap.Int("x", x), zap.Int("y", y), zap.Error(err))
		}
	}
	return nil
}

// RemoveUserFromZone deletes the user's occupancy, if any.
func (t *Tracker) RemoveUserFromZone(ctx context.Context, userID int64) error {
	prev, ok, err := t.GetUserZone(ctx, userID)
	if err != nil || !ok {
		return err
	}
	res := t.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&model.ZoneUser{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		t.bus.ZoneChanged(ctx, prev.X, prev.Y)
	}
	return nil
}

// GetZoneUsers lists the occupants of (x,y) in arrival order.
func (t *Tracker) GetZoneUsers(ctx context.Context, x, y int) ([]model.ZoneUser, error) {
	var rows []model.ZoneUser
	err := t.db.WithContext(ctx).Where("x = ? AND y = ?", x, y).Order("entered_at, user_id").Find(&rows).Error
	return rows, err
}

// GetUserZone returns where userID stands.
func (t *Tracker) GetUserZone(ctx context.Context, userID int64) (model.ZoneUser, bool, error) {
	var row model.ZoneUser
	err := t.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return row, false, nil
	}
	return row, err == nil, err
}
