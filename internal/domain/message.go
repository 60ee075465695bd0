package domain

import "time"

// Message is a single chat message. Messages are immutable once created and
// ordered within a chat by CreatedAt ascending (insertion order).
type Message struct {
	ID            uint      `gorm:"primarykey" json:"id"`
	ChatID        uint      `gorm:"not null;index" json:"chat_id"`
	AuthorID      uint      `gorm:"not null" json:"author_id"`
	IsStaffAuthor bool      `gorm:"not null" json:"is_staff_author"`
	Text          string    `gorm:"not null" json:"text"`
	CreatedAt     time.Time `gorm:"index" json:"created_at"`
}
