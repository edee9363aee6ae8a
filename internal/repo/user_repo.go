package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-bounty-bot/internal/domain"
)

// GetUser returns the user record, or ErrNotFound.
func GetUser(ctx context.Context, db *gorm.DB, userID string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("user_id = ?", userID).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// UpsertWallet sets (or, with a nil address, clears) a user's payout wallet.
func UpsertWallet(ctx context.Context, db *gorm.DB, userID string, address *string) error {
	now := time.Now().UTC()
	u := &domain.User{UserID: userID, WalletAddress: address, CreatedAt: now, UpdatedAt: now}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"wallet_address", "updated_at"}),
	}).Create(u).Error
}
