package model

import "time"

// User is the account record. PassHash and RefreshToken are credentials and
// are never serialized; RefreshToken is a single slot, so at most one refresh
// token is valid per user at any time.
type User struct {
	ID           string    `gorm:"type:uuid;primaryKey" json:"id"`
	Username     string    `gorm:"uniqueIndex;not null" json:"username"`
	Email        string    `gorm:"uniqueIndex;not null" json:"email"`
	FullName     string    `gorm:"not null" json:"full_name"`
	Avatar       string    `gorm:"not null" json:"avatar"`
	CoverImage   string    `json:"cover_image,omitempty"`
	PassHash     string    `gorm:"not null" json:"-"`
	RefreshToken *string   `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Sanitized returns a copy with the credential fields cleared, safe to hand
// to handlers and downstream middleware.
func (u *User) Sanitized() *User {
	cp := *u
	cp.PassHash = ""
	cp.RefreshToken = nil
	return &cp
}
