// Package domain defines the persistence models for bounties, workspaces
// (customers) and users. These types are mapped with GORM and form the core
// data layer of the bounty bot. Nested values (identity snapshots, histories,
// card pointers) are stored as JSON columns.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a bounty.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusInReview   Status = "in_review"
	StatusComplete   Status = "complete"
	StatusDeleted    Status = "deleted"
)

// Activity names an operation on a bounty. It is recorded in the activity
// history of every write and drives change-feed normalization.
type Activity string

const (
	ActivityCreate   Activity = "create"
	ActivityPublish  Activity = "publish"
	ActivityApply    Activity = "apply"
	ActivityAssign   Activity = "assign"
	ActivityClaim    Activity = "claim"
	ActivitySubmit   Activity = "submit"
	ActivityComplete Activity = "complete"
	ActivityPaid     Activity = "paid"
	ActivityDelete   Activity = "delete"
	ActivityTag      Activity = "tag"
	ActivityHelp     Activity = "help"
	ActivityRefresh  Activity = "refresh"
	ActivityList     Activity = "list"
	ActivityWallet   Activity = "register-wallet"
)

// PaidStatus values.
const (
	PaidStatusUnpaid = "unpaid"
	PaidStatusPaid   = "paid"
)

// Identity is a snapshot of a user or role at the time of an action. It is
// denormalized on purpose and never refreshed from the platform.
type Identity struct {
	ID     string `json:"id"`
	Handle string `json:"handle,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// Applicant is a user that asked to work on a bounty that requires application.
type Applicant struct {
	Identity
	Pitch     string    `json:"pitch,omitempty"`
	AppliedAt time.Time `json:"applied_at"`
}

// Reward is the payout of a bounty. Amount is an exact decimal; Scale is the
// number of decimals the creator entered.
type Reward struct {
	Currency string          `json:"currency" gorm:"type:varchar(16)"`
	Amount   decimal.Decimal `json:"amount"   gorm:"type:varchar(64)"`
	Scale    int32           `json:"scale"`
}

// String renders the reward as "<amount> <CURRENCY>".
func (r Reward) String() string {
	return r.Amount.StringFixed(r.Scale) + " " + r.Currency
}

// StatusEntry is one element of the append-only status history.
type StatusEntry struct {
	Status Status    `json:"status"`
	SetAt  time.Time `json:"set_at"`
}

// ActivityEntry is one element of the append-only activity history.
// OriginWriter identifies who wrote the document: the bot tags its own writes
// so change notifications caused by them can be recognized as echoes.
type ActivityEntry struct {
	Activity     Activity          `json:"activity"`
	Timestamp    time.Time         `json:"timestamp"`
	OriginWriter string            `json:"origin_writer"`
	ActorID      string            `json:"actor_id,omitempty"`
	Params       map[string]string `json:"params,omitempty"`
}

// MessagePointer locates a rendered message on the chat platform.
type MessagePointer struct {
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
}

// Tags are free-text keywords plus a channel-category label used for listing.
type Tags struct {
	Keywords        []string `json:"keywords,omitempty"`
	ChannelCategory string   `json:"channel_category,omitempty"`
}

// Bounty is the central entity: a task with a reward moving through the
// lifecycle draft → open → in_progress → in_review → complete, or deleted.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - CustomerID: workspace the bounty belongs to (indexed).
//   - Status / StatusHistory: current status and its append-only log.
//   - ActivityHistory: append-only log of writes, tagged with the writer.
//   - Evergreen / IsParent / ParentID / ChildrenIDs / ClaimLimit: multi-claimant cloning.
//   - IsRepeatTemplate / RepeatTemplateID / RepeatDays / NumRepeats / EndRepeatsDate:
//     recurring occurrences.
//   - CanonicalCard: the single authoritative rendering location.
//   - LegacyAssign / LegacyAssignedName / LegacyGate / LegacyMessageID /
//     CreatorMessage / ClaimantMessage: deprecated fields, migrated by MigrateLegacy
//     and by card projection.
//   - Revision: optimistic concurrency token, bumped on every update.
type Bounty struct {
	ID          string `json:"id"          gorm:"type:char(36);primaryKey"`
	CustomerID  string `json:"customer_id" gorm:"type:varchar(64);not null;index:idx_bounty_customer_status,priority:1"`
	Title       string `json:"title"       gorm:"type:varchar(255);not null"`
	Description string `json:"description" gorm:"type:text"`
	Criteria    string `json:"criteria"    gorm:"type:text"`
	Reward      Reward `json:"reward"      gorm:"embedded;embeddedPrefix:reward_"`

	Status          Status          `json:"status"           gorm:"type:varchar(16);not null;index:idx_bounty_customer_status,priority:2"`
	StatusHistory   []StatusEntry   `json:"status_history"   gorm:"type:text;serializer:json"`
	ActivityHistory []ActivityEntry `json:"activity_history" gorm:"type:text;serializer:json"`

	CreatedBy   Identity   `json:"created_by"             gorm:"type:text;serializer:json"`
	ClaimedBy   *Identity  `json:"claimed_by,omitempty"   gorm:"type:text;serializer:json"`
	SubmittedBy *Identity  `json:"submitted_by,omitempty" gorm:"type:text;serializer:json"`
	ReviewedBy  *Identity  `json:"reviewed_by,omitempty"  gorm:"type:text;serializer:json"`
	PaidBy      *Identity  `json:"paid_by,omitempty"      gorm:"type:text;serializer:json"`
	DeletedBy   *Identity  `json:"deleted_by,omitempty"   gorm:"type:text;serializer:json"`
	AssignTo    *Identity  `json:"assign_to,omitempty"    gorm:"type:text;serializer:json"`
	GateTo      []Identity `json:"gate_to,omitempty"      gorm:"type:text;serializer:json"`

	RequireApplication bool        `json:"require_application"`
	Applicants         []Applicant `json:"applicants,omitempty" gorm:"type:text;serializer:json"`

	Evergreen   bool     `json:"evergreen"`
	IsParent    bool     `json:"is_parent"`
	ParentID    *string  `json:"parent_id,omitempty"    gorm:"type:char(36);index"`
	ChildrenIDs []string `json:"children_ids,omitempty" gorm:"type:text;serializer:json"`
	ClaimLimit  int      `json:"claim_limit"`

	IsRepeatTemplate bool       `json:"is_repeat_template" gorm:"index"`
	RepeatTemplateID *string    `json:"repeat_template_id,omitempty" gorm:"type:char(36);index"`
	RepeatDays       int        `json:"repeat_days,omitempty"`
	NumRepeats       int        `json:"num_repeats,omitempty"`
	EndRepeatsDate   *time.Time `json:"end_repeats_date,omitempty"`

	IsIOU  bool      `json:"is_iou"`
	OwedTo *Identity `json:"owed_to,omitempty" gorm:"type:text;serializer:json"`

	PaidStatus      string `json:"paid_status"              gorm:"type:varchar(16);not null;default:'unpaid'"`
	SubmissionNotes string `json:"submission_notes,omitempty" gorm:"type:text"`
	SubmissionURL   string `json:"submission_url,omitempty"   gorm:"type:text"`
	ResolutionNote  string `json:"resolution_note,omitempty"  gorm:"type:text"`

	Tags Tags `json:"tags" gorm:"type:text;serializer:json"`

	CreatedAt   time.Time  `json:"created_at"`
	DueAt       time.Time  `json:"due_at"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`

	CanonicalCard *MessagePointer `json:"canonical_card,omitempty" gorm:"type:text;serializer:json"`

	LegacyAssign       string          `json:"-" gorm:"column:assign;type:varchar(64)"`
	LegacyAssignedName string          `json:"-" gorm:"column:assigned_name;type:varchar(255)"`
	LegacyGate         []string        `json:"-" gorm:"column:gate;type:text;serializer:json"`
	LegacyMessageID    string          `json:"-" gorm:"column:discord_message_id;type:varchar(64)"`
	CreatorMessage     *MessagePointer `json:"-" gorm:"type:text;serializer:json"`
	ClaimantMessage    *MessagePointer `json:"-" gorm:"type:text;serializer:json"`

	Revision int64 `json:"revision" gorm:"not null;default:0"`
}

// TableName returns the database table name for Bounty.
func (Bounty) TableName() string { return "bounties" }

// SetStatus changes the current status and appends it to the status history,
// keeping the last history entry equal to Status.
func (b *Bounty) SetStatus(s Status, at time.Time) {
	b.Status = s
	b.StatusHistory = append(b.StatusHistory, StatusEntry{Status: s, SetAt: at.UTC()})
}

// AppendActivity records one write in the activity history.
func (b *Bounty) AppendActivity(a Activity, writer, actorID string, params map[string]string, at time.Time) {
	b.ActivityHistory = append(b.ActivityHistory, ActivityEntry{
		Activity:     a,
		Timestamp:    at.UTC(),
		OriginWriter: writer,
		ActorID:      actorID,
		Params:       params,
	})
}

// LastActivity returns the most recent activity entry, or nil.
func (b *Bounty) LastActivity() *ActivityEntry {
	if len(b.ActivityHistory) == 0 {
		return nil
	}
	return &b.ActivityHistory[len(b.ActivityHistory)-1]
}

// ClaimedAt returns when the bounty last entered in_progress.
func (b *Bounty) ClaimedAt() (time.Time, bool) {
	for i := len(b.StatusHistory) - 1; i >= 0; i-- {
		if b.StatusHistory[i].Status == StatusInProgress {
			return b.StatusHistory[i].SetAt, true
		}
	}
	return time.Time{}, false
}

// IsPaid reports whether the reward was marked paid.
func (b *Bounty) IsPaid() bool { return b.PaidStatus == PaidStatusPaid }

// HasApplicant reports whether userID applied for the bounty.
func (b *Bounty) HasApplicant(userID string) bool {
	for _, a := range b.Applicants {
		if a.ID == userID {
			return true
		}
	}
	return false
}

// HasLegacyPointers reports whether deprecated card pointers are still set.
func (b *Bounty) HasLegacyPointers() bool {
	return b.LegacyMessageID != "" || b.CreatorMessage != nil || b.ClaimantMessage != nil
}

// ClearLegacyPointers drops the deprecated card pointers.
func (b *Bounty) ClearLegacyPointers() {
	b.LegacyMessageID = ""
	b.CreatorMessage = nil
	b.ClaimantMessage = nil
}

// MigrateLegacy moves deprecated assignment fields (assign/assignedName,
// gate) into AssignTo and GateTo. It is idempotent and reports whether the
// record changed.
func (b *Bounty) MigrateLegacy() bool {
	changed := false
	if b.LegacyAssign != "" {
		if b.AssignTo == nil {
			b.AssignTo = &Identity{ID: b.LegacyAssign, Handle: b.LegacyAssignedName}
		}
		b.LegacyAssign = ""
		b.LegacyAssignedName = ""
		changed = true
	}
	if len(b.LegacyGate) > 0 {
		if len(b.GateTo) == 0 {
			for _, id := range b.LegacyGate {
				b.GateTo = append(b.GateTo, Identity{ID: id})
			}
		}
		b.LegacyGate = nil
		changed = true
	}
	return changed
}

// Customer is a chat workspace (guild) and its bot configuration. It is
// read-mostly and mutated only when a list view is regenerated or an operator
// changes the channels.
type Customer struct {
	CustomerID      string          `json:"customer_id"       gorm:"type:varchar(64);primaryKey"`
	Name            string          `json:"name"              gorm:"type:varchar(255)"`
	BountyChannel   string          `json:"bounty_channel"    gorm:"type:varchar(64)"`
	FallbackChannel string          `json:"fallback_channel"  gorm:"type:varchar(64)"`
	LastListMessage *MessagePointer `json:"last_list_message,omitempty" gorm:"type:text;serializer:json"`
	LastListURL     string          `json:"last_list_url,omitempty"     gorm:"type:text"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// TableName returns the database table name for Customer.
func (Customer) TableName() string { return "customers" }

// User maps a platform identity to an optional payout wallet.
type User struct {
	UserID        string    `json:"user_id"                  gorm:"type:varchar(64);primaryKey"`
	WalletAddress *string   `json:"wallet_address,omitempty" gorm:"type:varchar(64)"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Change operation types recorded in the change log.
const (
	OpInsert = "insert"
	OpUpdate = "update"
)

// BountyChange is one row of the append-only change log that backs the
// change-notification feed. Rows are written in the same transaction as the
// bounty write they describe.
type BountyChange struct {
	ID            uint64    `gorm:"primaryKey;autoIncrement"`
	BountyID      string    `gorm:"type:char(36);not null;index"`
	OperationType string    `gorm:"type:varchar(16);not null"`
	CreatedAt     time.Time `gorm:"not null"`
}

// TableName returns the database table name for BountyChange.
func (BountyChange) TableName() string { return "bounty_changes" }
