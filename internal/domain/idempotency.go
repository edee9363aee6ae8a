// Package domain defines the core persistence models for the application.
// These types are used by GORM for database schema mapping and are shared
// across the repository and service layers.
package domain

import "time"

// Idempotency represents a recorded result of a previously processed activity
// request, keyed by (actor_id, workspace_id, key). It enables safe retries of
// POST /activities by returning the originally affected bounty without
// re-executing side effects.
type Idempotency struct {
	ID          string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	ActorID     string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_actor_workspace_key,priority:1"`
	WorkspaceID string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_actor_workspace_key,priority:2"`
	Key         string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_actor_workspace_key,priority:3"`
	BountyID    string    `gorm:"type:TEXT NOT NULL"`
	Status      int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt   time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt   time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
