package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-overlay-backend/internal/domain"
)

// AllocateVersion bumps and returns the broadcaster's current version. It
// must run inside the executor's transaction so that a rollback also rolls
// the version back; versions stay contiguous per broadcaster.
func AllocateVersion(ctx context.Context, tx *gorm.DB, broadcasterID string, now time.Time) (int64, error) {
	err := tx.WithContext(ctx).Exec(
		`INSERT INTO state_index (broadcaster_id, current_version, updated_at) VALUES (?, 1, ?)
		 ON CONFLICT(broadcaster_id) DO UPDATE SET current_version = current_version + 1, updated_at = excluded.updated_at`,
		broadcasterID, now,
	).Error
	if err != nil {
		return 0, err
	}
	var version int64
	err = tx.WithContext(ctx).
		Raw("SELECT current_version FROM state_index WHERE broadcaster_id = ?", broadcasterID).
		Scan(&version).Error
	return version, err
}

// CurrentVersion returns the broadcaster's latest applied version, 0 when no
// command has ever been applied.
func CurrentVersion(ctx context.Context, db *gorm.DB, broadcasterID string) (int64, error) {
	var version int64
	err := db.WithContext(ctx).
		Raw("SELECT COALESCE(MAX(current_version), 0) FROM state_index WHERE broadcaster_id = ?", broadcasterID).
		Scan(&version).Error
	return version, err
}

// AppendCommand writes one command-log row. Runs inside the executor's
// transaction, after AllocateVersion.
func AppendCommand(ctx context.Context, tx *gorm.DB, row *domain.CommandLog) error {
	return tx.WithContext(ctx).Create(row).Error
}

// GetCommandByOpID fetches the stored command for a client idempotency key,
// or gorm.ErrRecordNotFound when the key was never used.
func GetCommandByOpID(ctx context.Context, db *gorm.DB, broadcasterID, opID string) (*domain.CommandLog, error) {
	var row domain.CommandLog
	err := db.WithContext(ctx).
		Where("broadcaster_id = ? AND op_id = ?", broadcasterID, opID).
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// ListCommandsSince returns log rows with version > since, ascending.
func ListCommandsSince(ctx context.Context, db *gorm.DB, broadcasterID string, since int64, limit int) ([]domain.CommandLog, error) {
	var out []domain.CommandLog
	q := db.WithContext(ctx).
		Where("broadcaster_id = ? AND version > ?", broadcasterID, since).
		Order("version ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// PruneCommands deletes log rows created before the cutoff, at most batch
// rows per call. The state_index row is never touched, so pruning can never
// reset or shrink a broadcaster's version.
func PruneCommands(ctx context.Context, db *gorm.DB, before time.Time, batch int) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`DELETE FROM command_log WHERE (broadcaster_id, version) IN
		 (SELECT broadcaster_id, version FROM command_log WHERE created_at < ? LIMIT ?)`,
		before, batch,
	)
	return res.RowsAffected, res.Error
}
