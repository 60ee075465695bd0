// Package domain defines the persistent entities of the support chat service.
// All entities are owned by the relational store and mapped through GORM.
package domain

import "time"

// Role is the authorization role carried by a user and by every verified principal.
type Role string

const (
	// RoleCustomer may start chats and write to their own active chat.
	RoleCustomer Role = "CUSTOMER"
	// RoleStaff may participate in assigned chats and close any chat.
	RoleStaff Role = "STAFF"
	// RoleAdmin has staff permissions and is eligible for chat assignment.
	RoleAdmin Role = "ADMIN"
)

// IsStaff reports whether the role grants staff-level permissions.
func (r Role) IsStaff() bool {
	return r == RoleStaff || r == RoleAdmin
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleCustomer || r == RoleStaff || r == RoleAdmin
}

// User is a registered account. Authentication (passwords, reset flows) is owned
// by the auth collaborator; this service only reads users for staff assignment
// and display names.
type User struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	Name      string    `gorm:"not null" json:"name"`
	Email     string    `gorm:"uniqueIndex;not null" json:"email"`
	Role      Role      `gorm:"type:text;not null;index" json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// DisplayName returns the name to show next to a user's messages,
// falling back to the email when no name is set.
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}
