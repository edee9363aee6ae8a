package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-bounty-bot/internal/domain"
)

func recordChange(tx *gorm.DB, bountyID, op string) error {
	return tx.Create(&domain.BountyChange{
		BountyID:      bountyID,
		OperationType: op,
		CreatedAt:     time.Now().UTC(),
	}).Error
}

// LatestChangeID returns the id of the newest change-log row, or 0 when the
// log is empty. Consumers start tailing from here so history is not replayed.
func LatestChangeID(ctx context.Context, db *gorm.DB) (uint64, error) {
	var row struct{ ID uint64 }
	err := db.WithContext(ctx).
		Model(&domain.BountyChange{}).
		Select("id").
		Order("id DESC").
		Limit(1).
		Scan(&row).Error
	return row.ID, err
}

// ChangesAfter returns at most limit change rows with id > cursor, oldest first.
func ChangesAfter(ctx context.Context, db *gorm.DB, cursor uint64, limit int) ([]domain.BountyChange, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []domain.BountyChange
	err := db.WithContext(ctx).
		Where("id > ?", cursor).
		Order("id ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}
