package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-overlay-backend/internal/domain"
)

// InsertEvent stores one inbound delivery. The unique index on msg_id makes
// the insert the idempotency check: a redelivered message inserts nothing and
// the function reports created=false.
func InsertEvent(ctx context.Context, db *gorm.DB, rec *domain.EventRecord) (created bool, err error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "msg_id"}},
			DoNothing: true,
		}).
		Create(rec)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// GetEventByMsgID fetches a stored delivery by upstream message id.
func GetEventByMsgID(ctx context.Context, db *gorm.DB, msgID string) (*domain.EventRecord, error) {
	var rec domain.EventRecord
	if err := db.WithContext(ctx).Where("msg_id = ?", msgID).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListEventsSince returns deliveries received at or after the cutoff, oldest
// first. The debug capture endpoint uses this.
func ListEventsSince(ctx context.Context, db *gorm.DB, broadcasterID string, since time.Time, limit int) ([]domain.EventRecord, error) {
	var out []domain.EventRecord
	q := db.WithContext(ctx).
		Where("broadcaster_id = ? AND received_at >= ?", broadcasterID, since).
		Order("received_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// PruneEvents deletes deliveries received before the cutoff, at most batch
// rows per call. Returns the number of rows removed.
func PruneEvents(ctx context.Context, db *gorm.DB, before time.Time, batch int) (int64, error) {
	res := db.WithContext(ctx).Exec(
		"DELETE FROM event_records WHERE id IN (SELECT id FROM event_records WHERE received_at < ? LIMIT ?)",
		before, batch,
	)
	return res.RowsAffected, res.Error
}
