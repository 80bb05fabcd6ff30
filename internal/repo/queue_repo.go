package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-overlay-backend/internal/domain"
)

// InsertQueueEntry creates one queue row. The unique index on redemption_id
// surfaces a second entry for the same upstream redemption as an error.
func InsertQueueEntry(ctx context.Context, db *gorm.DB, entry *domain.QueueEntry) error {
	return db.WithContext(ctx).Create(entry).Error
}

// GetQueueEntry fetches an entry scoped to its broadcaster.
func GetQueueEntry(ctx context.Context, db *gorm.DB, broadcasterID, entryID string) (*domain.QueueEntry, error) {
	var e domain.QueueEntry
	err := db.WithContext(ctx).
		Where("id = ? AND broadcaster_id = ?", entryID, broadcasterID).
		First(&e).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// GetEntryByRedemption fetches the entry created for an upstream redemption,
// or gorm.ErrRecordNotFound when none exists.
func GetEntryByRedemption(ctx context.Context, db *gorm.DB, broadcasterID, redemptionID string) (*domain.QueueEntry, error) {
	var e domain.QueueEntry
	err := db.WithContext(ctx).
		Where("broadcaster_id = ? AND redemption_id = ?", broadcasterID, redemptionID).
		First(&e).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// TransitionQueueEntry moves an entry out of QUEUED. The status guard in the
// WHERE clause enforces terminality: an already completed or removed entry
// matches zero rows, and the caller distinguishes not-found from terminal by
// re-fetching.
func TransitionQueueEntry(ctx context.Context, db *gorm.DB, broadcasterID, entryID, toStatus string, reason *string, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.QueueEntry{}).
		Where("id = ? AND broadcaster_id = ? AND status = ?", entryID, broadcasterID, domain.StatusQueued).
		Updates(map[string]any{
			"status":          toStatus,
			"status_reason":   reason,
			"last_updated_at": now,
		})
	return res.RowsAffected, res.Error
}

// SetEntryManaged flips the managed flag after an out-of-band redemption
// status change.
func SetEntryManaged(ctx context.Context, db *gorm.DB, broadcasterID, entryID string, managed bool, now time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.QueueEntry{}).
		Where("id = ? AND broadcaster_id = ?", entryID, broadcasterID).
		Updates(map[string]any{"managed": managed, "last_updated_at": now}).Error
}

// ListQueued returns the active queue ordered for display: users with fewer
// entries today come first, ties break on enqueue time. day is the current
// day string in the broadcaster's zone.
func ListQueued(ctx context.Context, db *gorm.DB, broadcasterID, day string) ([]domain.QueueEntry, error) {
	var out []domain.QueueEntry
	err := db.WithContext(ctx).
		Model(&domain.QueueEntry{}).
		Select("queue_entries.*").
		Joins(`LEFT JOIN daily_counters dc ON dc.broadcaster_id = queue_entries.broadcaster_id
			AND dc.user_id = queue_entries.user_id AND dc.day = ?`, day).
		Where("queue_entries.broadcaster_id = ? AND queue_entries.status = ?", broadcasterID, domain.StatusQueued).
		Order("COALESCE(dc.count, 0) ASC, queue_entries.enqueued_at ASC, queue_entries.id ASC").
		Find(&out).Error
	return out, err
}

// ListQueuedSince is ListQueued restricted to entries enqueued at or after
// the given instant, serving the session and since snapshot scopes.
func ListQueuedSince(ctx context.Context, db *gorm.DB, broadcasterID, day string, since time.Time) ([]domain.QueueEntry, error) {
	var out []domain.QueueEntry
	err := db.WithContext(ctx).
		Model(&domain.QueueEntry{}).
		Select("queue_entries.*").
		Joins(`LEFT JOIN daily_counters dc ON dc.broadcaster_id = queue_entries.broadcaster_id
			AND dc.user_id = queue_entries.user_id AND dc.day = ?`, day).
		Where("queue_entries.broadcaster_id = ? AND queue_entries.status = ? AND queue_entries.enqueued_at >= ?",
			broadcasterID, domain.StatusQueued, since).
		Order("COALESCE(dc.count, 0) ASC, queue_entries.enqueued_at ASC, queue_entries.id ASC").
		Find(&out).Error
	return out, err
}

// RedemptionActivity is one (user, reward) pair with its most recent enqueue
// instant, consumed by the policy engine's anti-spam check.
type RedemptionActivity struct {
	UserID   string
	RewardID string
	Last     time.Time
}

// LastRedemptionTimes returns, per (user, reward), the most recent enqueue
// instant at or after the cutoff.
func LastRedemptionTimes(ctx context.Context, db *gorm.DB, broadcasterID string, since time.Time) ([]RedemptionActivity, error) {
	var rows []RedemptionActivity
	err := db.WithContext(ctx).
		Raw(`SELECT user_id, reward_id, MAX(enqueued_at) AS last FROM queue_entries
		     WHERE broadcaster_id = ? AND enqueued_at >= ?
		     GROUP BY user_id, reward_id`,
			broadcasterID, since).
		Scan(&rows).Error
	return rows, err
}
