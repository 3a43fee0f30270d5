// Package item is the inventory collaborator: per-user item stacks that
// actions and quest rewards add to and crafting removes from.
package item

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tilequest/server/events"
	"github.com/tilequest/server/game/errs"
	"github.com/tilequest/server/game/hook"
	"github.com/tilequest/server/model"
)

const (
	maxStack = 999
	maxSlots = 40
)

// Service handles all bag operations.
type Service struct {
	db     *gorm.DB
	hooks  *hook.Center
	bus    *events.Bus
	logger *zap.Logger
}

// NewService creates a new Service. hooks and bus may be nil in tests.
func NewService(db *gorm.DB, hooks *hook.Center, bus *events.Bus, logger *zap.Logger) *Service {
	return &Service{db: db, hooks: hooks, bus: bus, logger: logger}
}

// Add grants qty of itemID. It returns false, without error, when the bag
// cannot take the items.
func (s *Service) Add(ctx context.Context, userID int64, itemID string, qty int) (bool, error) {
	var ok bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		ok, err = AddTx(tx, userID, itemID, qty)
		return err
	})
	if err != nil || !ok {
		return ok, err
	}
	s.Notify(ctx, userID, itemID)
	return true, nil
}

// Remove takes qty of itemID away. ErrConflict when the user holds fewer.
func (s *Service) Remove(ctx context.Context, userID int64, itemID string, qty int) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return RemoveTx(tx, userID, itemID, qty)
	})
	if err != nil {
		return err
	}
	s.Notify(ctx, userID, itemID)
	return nil
}

// AddTx is Add inside the caller's transaction. No hooks fire; call Notify
// once the transaction has committed.
func AddTx(tx *gorm.DB, userID int64, itemID string, qty int) (bool, error) {
	if qty <= 0 {
		return false, fmt.Errorf("%w: quantity %d", errs.ErrInvalid, qty)
	}
	var existing model.Inventory
	err := tx.Where("user_id = ? AND item_id = ?", userID, itemID).First(&existing).Error
	switch {
	case err == nil:
		if existing.Qty+qty > maxStack {
			return false, nil
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		var slots int64
		if err := tx.Model(&model.Inventory{}).Where("user_id = ?", userID).Count(&slots).Error; err != nil {
			return false, err
		}
		if slots >= maxSlots {
			return false, nil
		}
	default:
		return false, err
	}

	row := model.Inventory{UserID: userID, ItemID: itemID, Qty: qty, UpdatedAt: time.Now().UTC()}
	err = tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "item_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"qty":        gorm.Expr("qty + ?", qty),
			"updated_at": row.UpdatedAt,
		}),
	}).Create(&row).Error
	return err == nil, err
}

// RemoveTx decrements a stack inside the caller's transaction and deletes
// it when it reaches zero.
func RemoveTx(tx *gorm.DB, userID int64, itemID string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: quantity %d", errs.ErrInvalid, qty)
	}
	res := tx.Model(&model.Inventory{}).
		Where("user_id = ? AND item_id = ? AND qty >= ?", userID, itemID, qty).
		Update("qty", gorm.Expr("qty - ?", qty))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: not enough %s", errs.ErrConflict, itemID)
	}
	return tx.Where("user_id = ? AND item_id = ? AND qty <= 0", userID, itemID).
		Delete(&model.Inventory{}).Error
}

// CountTx returns how many of itemID the user holds.
func CountTx(tx *gorm.DB, userID int64, itemID string) (int, error) {
	var inv model.Inventory
	err := tx.Where("user_id = ? AND item_id = ?", userID, itemID).First(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	return inv.Qty, err
}

// Count returns how many of itemID the user holds.
func (s *Service) Count(ctx context.Context, userID int64, itemID string) (int, error) {
	return CountTx(s.db.WithContext(ctx), userID, itemID)
}

// List returns all stacks for userID ordered by item id.
func (s *Service) List(ctx context.Context, userID int64) ([]model.Inventory, error) {
	var items []model.Inventory
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("item_id").Find(&items).Error
	return items, err
}

// Notify fires the inventory-change hook with the new count of each item
// and tells the user's push loop to refresh.
func (s *Service) Notify(ctx context.Context, userID int64, itemIDs ...string) {
	if s.hooks != nil {
		for _, id := range itemIDs {
			n, err := s.Count(ctx, userID, id)
			if err != nil {
				s.logger.Warn("inventory count failed", zap.Int64("user_id", userID), zap.String("item", id), zap.Error(err))
				continue
			}
			if err := s.hooks.Trigger(ctx, hook.OnInventoryChange, hook.InventoryChange{UserID: userID, ItemID: id, Count: n}); err != nil {
				s.logger.Warn("inventory hook failed", zap.Int64("user_id", userID), zap.String("item", id), zap.Error(err))
			}
		}
	}
	if s.bus != nil {
		s.bus.UserChanged(ctx, userID)
	}
}
