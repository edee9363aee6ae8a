// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used for
// conditional responses (ETag generation) in the HTTP layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-bounty-bot/internal/domain"
)

// BountyStats returns aggregate metadata for a workspace's bounties: the total
// number of rows and the greatest UpdatedAt among them.
//
// It runs two queries scoped to customerID. Deleted bounties and repeat
// templates are included, so any write in the workspace changes the result.
// When the workspace has no bounties, count is 0 and maxUpdatedAt is nil.
//
// Return values:
//   - count:        total bounties for customerID
//   - maxUpdatedAt: pointer to the greatest UpdatedAt, or nil if no rows
//   - err:          database error, if any
func BountyStats(ctx context.Context, db *gorm.DB, customerID string) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Bounty{}).Where("customer_id = ?", customerID)

	// Count
	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = db.WithContext(ctx).Model(&domain.Bounty{}).
		Where("customer_id = ?", customerID).
		Select("updated_at").Order("updated_at DESC").Limit(1).
		Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}
