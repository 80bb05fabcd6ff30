package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-overlay-backend/internal/domain"
)

// GetBroadcaster fetches a broadcaster by internal id.
func GetBroadcaster(ctx context.Context, db *gorm.DB, id string) (*domain.Broadcaster, error) {
	var b domain.Broadcaster
	if err := db.WithContext(ctx).Where("id = ?", id).First(&b).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBroadcasterByTwitchID fetches a broadcaster by the upstream user id
// that webhook events arrive under.
func GetBroadcasterByTwitchID(ctx context.Context, db *gorm.DB, twitchUserID string) (*domain.Broadcaster, error) {
	var b domain.Broadcaster
	if err := db.WithContext(ctx).Where("twitch_user_id = ?", twitchUserID).First(&b).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// GetSettings loads and decodes a broadcaster's settings document, falling
// back to defaults for fields it does not set.
func GetSettings(ctx context.Context, db *gorm.DB, broadcasterID string) (domain.Settings, error) {
	b, err := GetBroadcaster(ctx, db, broadcasterID)
	if err != nil {
		return domain.Settings{}, err
	}
	return domain.ParseSettings(b.SettingsJSON)
}

// UpdateSettings persists an encoded settings document.
func UpdateSettings(ctx context.Context, db *gorm.DB, broadcasterID, encoded string, now time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.Broadcaster{}).
		Where("id = ?", broadcasterID).
		Updates(map[string]any{"settings_json": encoded, "updated_at": now}).Error
}

// ListBroadcasterIDs returns every broadcaster id, used by the maintenance
// worker to iterate tenants.
func ListBroadcasterIDs(ctx context.Context, db *gorm.DB) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).
		Model(&domain.Broadcaster{}).
		Order("id ASC").
		Pluck("id", &ids).Error
	return ids, err
}
