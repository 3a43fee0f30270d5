// Package audit records player commands in an activity log. Writes are
// queued and flushed in batches off the request path.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tilequest/server/model"
)

const (
	queueSize     = 1024
	batchSize     = 100
	flushInterval = 2 * time.Second
)

// Entry is one command to be logged.
type Entry struct {
	TraceID  string
	UserID   int64
	Action   string
	Detail   interface{}
	Error    string
	X, Y     int
	Duration time.Duration
}

type Service struct {
	db     *gorm.DB
	ch     chan *model.AuditLog
	stopCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	logger *zap.Logger
}

// New starts the background writer.
func New(db *gorm.DB, logger *zap.Logger) *Service {
	svc := &Service{
		db:     db,
		ch:     make(chan *model.AuditLog, queueSize),
		stopCh: make(chan struct{}),
		logger: logger,
	}
	svc.wg.Add(1)
	go svc.worker()
	return svc
}

// Log enqueues e. Entries are dropped, with a warning, when the queue is
// full.
func (svc *Service) Log(e Entry) {
	var detail datatypes.JSON
	if e.Detail != nil {
		if b, err := json.Marshal(e.Detail); err == nil {
			detail = datatypes.JSON(b)
		}
	}
	record := &model.AuditLog{
		TraceID:    e.TraceID,
		UserID:     e.UserID,
		Action:     e.Action,
		Detail:     detail,
		Error:      e.Error,
		X:          e.X,
		Y:          e.Y,
		DurationMs: int(e.Duration.Milliseconds()),
	}
	select {
	case svc.ch <- record:
	default:
		svc.logger.Warn("audit queue full, dropping entry", zap.String("action", e.Action))
	}
}

// Recent returns the newest entries for userID, or for everyone when
// userID is zero.
func (svc *Service) Recent(ctx context.Context, userID int64, limit int) ([]model.AuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := svc.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if userID != 0 {
		q = q.Where("user_id = ?", userID)
	}
	var out []model.AuditLog
	return out, q.Find(&out).Error
}

// Stop flushes what is queued and waits for the writer to exit.
func (svc *Service) Stop(_ context.Context) {
	svc.once.Do(func() { close(svc.stopCh) })
	svc.wg.Wait()
}

func (svc *Service) worker() {
	defer svc.wg.Done()
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*model.AuditLog, 0, batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := svc.db.Create(&batch).Error; err != nil {
			svc.logger.Error("audit batch write failed", zap.Int("entries", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-svc.ch:
			batch = append(batch, entry)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-svc.stopCh:
			for {
				select {
				case entry := <-svc.ch:
					batch = append(batch, entry)
					if len(batch) >= batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}
