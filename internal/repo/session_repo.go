package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-overlay-backend/internal/domain"
)

// GetOpenSession returns the broadcaster's open session, or nil when the
// stream is offline.
func GetOpenSession(ctx context.Context, db *gorm.DB, broadcasterID string) (*domain.StreamSession, error) {
	var s domain.StreamSession
	err := db.WithContext(ctx).
		Where("broadcaster_id = ? AND ended_at IS NULL", broadcasterID).
		Order("started_at DESC").
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// LatestSession returns the broadcaster's most recent session, open or
// closed, or nil when the stream has never gone online.
func LatestSession(ctx context.Context, db *gorm.DB, broadcasterID string) (*domain.StreamSession, error) {
	var s domain.StreamSession
	err := db.WithContext(ctx).
		Where("broadcaster_id = ?", broadcasterID).
		Order("started_at DESC").
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// OpenSession starts a session, first closing any session left open by a
// missed offline event so at most one stays open per broadcaster.
func OpenSession(ctx context.Context, db *gorm.DB, id, broadcasterID string, startedAt time.Time) (*domain.StreamSession, error) {
	err := db.WithContext(ctx).
		Model(&domain.StreamSession{}).
		Where("broadcaster_id = ? AND ended_at IS NULL", broadcasterID).
		Update("ended_at", startedAt).Error
	if err != nil {
		return nil, err
	}
	s := &domain.StreamSession{ID: id, BroadcasterID: broadcasterID, StartedAt: startedAt}
	return s, db.WithContext(ctx).Create(s).Error
}

// CloseSession ends the open session, if any. Closing with no open session
// is a no-op; offline events can arrive after a restart lost the session.
func CloseSession(ctx context.Context, db *gorm.DB, broadcasterID string, endedAt time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.StreamSession{}).
		Where("broadcaster_id = ? AND ended_at IS NULL", broadcasterID).
		Update("ended_at", endedAt).Error
}
