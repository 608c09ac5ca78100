package models

import (
	"time"
)

// AuditEvent records an admin mutation of gateway policy state so it can be
// audited and surfaced in the dashboard.
type AuditEvent struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UUID      string    `json:"uuid" gorm:"uniqueIndex"`
	Actor     string    `json:"actor"`  // subject from the admin credential
	Action    string    `json:"action"` // upsert, delete, route_replace, route_rollback
	PolicyID  string    `json:"policy_id" gorm:"index"`
	Before    string    `json:"before" gorm:"type:text"` // JSON summary, empty on create
	After     string    `json:"after" gorm:"type:text"`  // JSON summary, empty on delete
	CreatedAt time.Time `json:"created_at"`
}
