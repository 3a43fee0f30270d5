// Package message keeps the short-lived system notices shown to a player,
// such as "You gathered 1 Log" or "That resource is exhausted".
package message

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tilequest/server/events"
	"github.com/tilequest/server/model"
)

// Message types.
const (
	TypeInfo    = "info"
	TypeSuccess = "success"
	TypeError   = "error"
)

// Service stores at most Cap messages per user, each living TTL.
type Service struct {
	db     *gorm.DB
	bus    *events.Bus
	cap    int
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

func NewService(db *gorm.DB, bus *events.Bus, capacity int, ttl time.Duration, logger *zap.Logger) *Service {
	if capacity <= 0 {
		capacity = 20
	}
	return &Service{db: db, bus: bus, cap: capacity, ttl: ttl, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Send stores a notice and drops the oldest beyond the cap.
func (s *Service) Send(ctx context.Context, userID int64, text, typ string) error {
	db := s.db.WithContext(ctx)
	msg := model.SystemMessage{UserID: userID, Message: text, Type: typ, SentAt: s.now()}
	if err := db.Create(&msg).Error; err != nil {
		return err
	}
	var stale []int64
	if err := db.Model(&model.SystemMessage{}).
		Where("user_id = ?", userID).
		Order("id DESC").Offset(s.cap).Limit(1000).
		Pluck("id", &stale).Error; err != nil {
		return err
	}
	if len(stale) > 0 {
		if err := db.Where("id IN ?", stale).Delete(&model.SystemMessage{}).Error; err != nil {
			return err
		}
	}
	if s.bus != nil {
		s.bus.UserChanged(ctx, userID)
	}
	return nil
}

// Notify is Send for callers that cannot act on a failure.
func (s *Service) Notify(ctx context.Context, userID int64, text, typ string) {
	if err := s.Send(ctx, userID, text, typ); err != nil {
		s.logger.Warn("system message not stored", zap.Int64("user_id", userID), zap.Error(err))
	}
}

// List returns the user's live messages, newest first.
func (s *Service) List(ctx context.Context, userID int64) ([]model.SystemMessage, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if s.ttl > 0 {
		q = q.Where("sent_at >= ?", s.now().Add(-s.ttl))
	}
	var out []model.SystemMessage
	err := q.Order("id DESC").Limit(s.cap).Find(&out).Error
	return out, err
}

// Prune deletes messages older than the TTL and notifies their owners.
func (s *Service) Prune(ctx context.Context, now time.Time) (int64, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-s.ttl)
	db := s.db.WithContext(ctx)
	var users []int64
	if err := db.Model(&model.SystemMessage{}).
		Where("sent_at < ?", cutoff).
		Distinct("user_id").Pluck("user_id", &users).Error; err != nil {
		return 0, err
	}
	if len(users) == 0 {
		return 0, nil
	}
	res := db.Where("sent_at < ?", cutoff).Delete(&model.SystemMessage{})
	if res.Error != nil {
		return 0, res.Error
	}
	if s.bus != nil {
		for _, u := range users {
			s.bus.UserChanged(ctx, u)
		}
	}
	return res.RowsAffected, nil
}
