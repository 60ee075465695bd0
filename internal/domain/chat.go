package domain

import "time"

// ChatStatus is the lifecycle state of a chat. The only transition is
// active -> closed; closed is terminal.
type ChatStatus string

const (
	ChatActive ChatStatus = "active"
	ChatClosed ChatStatus = "closed"
)

// Chat is one support conversation between a customer and the staff member
// assigned at creation time. StaffID never changes after creation.
//
// The store enforces at most one active chat per customer through a partial
// unique index on (customer_id) WHERE status = 'active'.
type Chat struct {
	ID         uint       `gorm:"primarykey" json:"id"`
	CustomerID uint       `gorm:"not null;index" json:"customer_id"`
	StaffID    uint       `gorm:"not null;index" json:"staff_id"`
	Status     ChatStatus `gorm:"type:text;not null;default:active" json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"-"`
}

// IsParticipant reports whether userID is the chat's customer or its assigned staff.
func (c *Chat) IsParticipant(userID uint) bool {
	return c.CustomerID == userID || c.StaffID == userID
}

// IsActive reports whether the chat still accepts new messages.
func (c *Chat) IsActive() bool {
	return c.Status == ChatActive
}
