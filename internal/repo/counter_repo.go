package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-overlay-backend/internal/domain"
)

// IncrementCounter bumps the user's count for the day by one, creating the
// row on first use, and returns the new count.
func IncrementCounter(ctx context.Context, db *gorm.DB, broadcasterID, userID, day string, now time.Time) (int, error) {
	err := db.WithContext(ctx).Exec(
		`INSERT INTO daily_counters (day, broadcaster_id, user_id, count, updated_at) VALUES (?, ?, ?, 1, ?)
		 ON CONFLICT(day, broadcaster_id, user_id) DO UPDATE SET count = count + 1, updated_at = excluded.updated_at`,
		day, broadcasterID, userID, now,
	).Error
	if err != nil {
		return 0, err
	}
	return GetUserDayCount(ctx, db, broadcasterID, userID, day)
}

// DecrementCounter lowers the user's count for the day by one, floored at
// zero, and returns the new count. UNDO and counted stream-start clears use
// this; a decrement against a missing row is a no-op at zero.
func DecrementCounter(ctx context.Context, db *gorm.DB, broadcasterID, userID, day string, now time.Time) (int, error) {
	err := db.WithContext(ctx).Exec(
		`UPDATE daily_counters SET count = MAX(count - 1, 0), updated_at = ?
		 WHERE day = ? AND broadcaster_id = ? AND user_id = ?`,
		now, day, broadcasterID, userID,
	).Error
	if err != nil {
		return 0, err
	}
	return GetUserDayCount(ctx, db, broadcasterID, userID, day)
}

// GetUserDayCount returns the user's count for the day, 0 when absent.
func GetUserDayCount(ctx context.Context, db *gorm.DB, broadcasterID, userID, day string) (int, error) {
	var count int
	err := db.WithContext(ctx).
		Raw("SELECT COALESCE(MAX(count), 0) FROM daily_counters WHERE day = ? AND broadcaster_id = ? AND user_id = ?",
			day, broadcasterID, userID).
		Scan(&count).Error
	return count, err
}

// ListCountersForDay returns every non-zero counter for the day, ordered by
// user id for deterministic snapshots.
func ListCountersForDay(ctx context.Context, db *gorm.DB, broadcasterID, day string) ([]domain.DailyCounter, error) {
	var out []domain.DailyCounter
	err := db.WithContext(ctx).
		Where("broadcaster_id = ? AND day = ? AND count > 0", broadcasterID, day).
		Order("user_id ASC").
		Find(&out).Error
	return out, err
}
