package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-bounty-bot/internal/domain"
)

// GetCustomer fetches workspace configuration, or ErrNotFound.
func GetCustomer(ctx context.Context, db *gorm.DB, customerID string) (*domain.Customer, error) {
	var c domain.Customer
	if err := db.WithContext(ctx).Where("customer_id = ?", customerID).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// UpsertCustomer inserts c or updates its name and channels.
func UpsertCustomer(ctx context.Context, db *gorm.DB, c *domain.Customer) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "customer_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "bounty_channel", "fallback_channel", "updated_at"}),
	}).Create(c).Error
}

// SetLastListMessage stores where the workspace's active list was last posted.
// A nil ptr clears it.
func SetLastListMessage(ctx context.Context, db *gorm.DB, customerID string, ptr *domain.MessagePointer, url string) error {
	res := db.WithContext(ctx).
		Model(&domain.Customer{}).
		Where("customer_id = ?", customerID).
		Select("last_list_message", "last_list_url", "updated_at").
		Updates(&domain.Customer{LastListMessage: ptr, LastListURL: url, UpdatedAt: time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
