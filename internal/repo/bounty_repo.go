// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Bounty
// model: the record store adapter consumed by the lifecycle services.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only
// persistence and query composition.
//
// Error semantics:
//   - When a bounty is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - UpdateBounty is a conditional write: it only succeeds while the stored
//     revision still matches the revision that was read. Otherwise it returns
//     ErrConflict, which callers treat as retryable.
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
//
// Every insert and update also appends a row to the bounty_changes log in the
// same transaction; that log is the change-notification feed.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-bounty-bot/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrConflict is returned by UpdateBounty when the record changed between
// read and write (revision mismatch) or disappeared.
var ErrConflict = errors.New("conflicting update")

// GetBounty fetches a single bounty by ID, or ErrNotFound if missing.
func GetBounty(ctx context.Context, db *gorm.DB, id string) (*domain.Bounty, error) {
	var b domain.Bounty
	if err := db.WithContext(ctx).Where("id = ?", id).First(&b).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// CreateBounty inserts b. A UUID is assigned when b.ID is empty and the
// revision starts at 1. The insert and its change-log row are atomic.
func CreateBounty(ctx context.Context, db *gorm.DB, b *domain.Bounty) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	if b.PaidStatus == "" {
		b.PaidStatus = domain.PaidStatusUnpaid
	}
	b.Revision = 1
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(b).Error; err != nil {
			return err
		}
		return recordChange(tx, b.ID, domain.OpInsert)
	})
}

// UpdateBounty writes every column of b, conditioned on the stored revision
// still equal to b.Revision. On success b.Revision is incremented. If no row
// matched, ErrConflict is returned and b is left unchanged.
func UpdateBounty(ctx context.Context, db *gorm.DB, b *domain.Bounty) error {
	expected := b.Revision
	next := *b
	next.Revision = expected + 1

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Bounty{}).
			Where("id = ? AND revision = ?", b.ID, expected).
			Select("*").
			Omit("id", "created_at").
			Updates(&next)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}
		return recordChange(tx, b.ID, domain.OpUpdate)
	})
	if err != nil {
		return err
	}
	b.Revision = next.Revision
	b.UpdatedAt = next.UpdatedAt
	return nil
}

// ListFilter narrows ListBounties.
//
//   - CustomerID restricts to one workspace (optional).
//   - CreatedBy / ClaimedOrAppliedBy select personal lists.
//   - Tag and ChannelCategory match case-insensitively by substring.
//   - Statuses restricts to the given statuses; otherwise deleted bounties are excluded.
//   - ExcludeIOU drops IOU records; ExcludeTemplates drops repeat templates.
type ListFilter struct {
	CustomerID         string
	CreatedBy          string
	ClaimedOrAppliedBy string
	Tag                string
	ChannelCategory    string
	Statuses           []domain.Status
	ExcludeIOU         bool
	ExcludeTemplates   bool
	Offset             int
	Limit              int
}

// ListBounties returns bounties matching f, newest first.
//
// Identity and tag fields live in JSON columns, so those predicates use LIKE
// against the serialized value; the patterns include the JSON key to avoid
// matching unrelated fields.
func ListBounties(ctx context.Context, db *gorm.DB, f ListFilter) ([]domain.Bounty, error) {
	q := listQuery(db.WithContext(ctx), f).Order("created_at desc")
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var out []domain.Bounty
	err := q.Find(&out).Error
	return out, err
}

// CountBounties returns the number of bounties matching f (ignoring paging).
func CountBounties(ctx context.Context, db *gorm.DB, f ListFilter) (int64, error) {
	var total int64
	err := listQuery(db.WithContext(ctx).Model(&domain.Bounty{}), f).Count(&total).Error
	return total, err
}

func listQuery(q *gorm.DB, f ListFilter) *gorm.DB {
	if f.CustomerID != "" {
		q = q.Where("customer_id = ?", f.CustomerID)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	} else {
		q = q.Where("status <> ?", domain.StatusDeleted)
	}
	if f.ExcludeIOU {
		q = q.Where("is_iou = ?", false)
	}
	if f.ExcludeTemplates {
		q = q.Where("is_repeat_template = ?", false)
	}
	if f.CreatedBy != "" {
		q = q.Where("created_by LIKE ?", jsonIDPattern(f.CreatedBy))
	}
	if f.ClaimedOrAppliedBy != "" {
		p := jsonIDPattern(f.ClaimedOrAppliedBy)
		q = q.Where("(claimed_by LIKE ? OR applicants LIKE ?)", p, p)
	}
	switch {
	case f.Tag != "" && f.ChannelCategory != "":
		q = q.Where("(LOWER(tags) LIKE ? OR LOWER(tags) LIKE ?)",
			keywordPattern(f.Tag), categoryPattern(f.ChannelCategory))
	case f.Tag != "":
		q = q.Where("LOWER(tags) LIKE ?", keywordPattern(f.Tag))
	case f.ChannelCategory != "":
		q = q.Where("LOWER(tags) LIKE ?", categoryPattern(f.ChannelCategory))
	}
	return q
}

func jsonIDPattern(id string) string {
	return `%"id":"` + escapeLike(id) + `"%`
}

func keywordPattern(tag string) string {
	return `%"keywords":[%` + escapeLike(strings.ToLower(tag)) + `%]%`
}

func categoryPattern(cat string) string {
	return `%"channel_category":"%` + escapeLike(strings.ToLower(cat)) + `%"%`
}

// escapeLike drops LIKE wildcards from user input.
func escapeLike(s string) string {
	return strings.NewReplacer("%", "", "_", "").Replace(s)
}

// ActiveRepeatTemplates returns every repeat template that has not been deleted.
func ActiveRepeatTemplates(ctx context.Context, db *gorm.DB) ([]domain.Bounty, error) {
	var out []domain.Bounty
	err := db.WithContext(ctx).
		Where("is_repeat_template = ? AND status <> ?", true, domain.StatusDeleted).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

// LatestOccurrence returns the most recently created occurrence of a repeat
// template, or ErrNotFound when none exists. Evergreen children carry their
// occurrence's template id but are not occurrences themselves.
func LatestOccurrence(ctx context.Context, db *gorm.DB, templateID string) (*domain.Bounty, error) {
	var b domain.Bounty
	err := db.WithContext(ctx).
		Where("repeat_template_id = ? AND parent_id IS NULL", templateID).
		Order("created_at desc").
		First(&b).Error
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// CountOccurrences returns how many occurrences a template has spawned,
// deleted ones included and evergreen children excluded.
func CountOccurrences(ctx context.Context, db *gorm.DB, templateID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Bounty{}).
		Where("repeat_template_id = ? AND parent_id IS NULL", templateID).
		Count(&n).Error
	return n, err
}
