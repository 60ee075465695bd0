package domain

import "time"

// AuditEntry is an append-only record of a data-changing action, kept for
// operational review. Entries are never updated or deleted by the service.
type AuditEntry struct {
	ID         uint      `gorm:"primarykey" json:"id"`
	Entity     string    `gorm:"not null;index" json:"entity"`
	Action     string    `gorm:"not null;index" json:"action"`
	RecordID   uint      `gorm:"index" json:"record_id"`
	ActorID    uint      `json:"actor_id"`
	ActorEmail string    `json:"actor_email"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}
