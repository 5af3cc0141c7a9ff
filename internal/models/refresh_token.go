package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RefreshToken persists one rotating session credential. Only a bcrypt hash of
// the opaque secret is stored; Lookup is a short non-secret SHA-256 prefix used
// to narrow the candidate set when matching a presented plaintext.
type RefreshToken struct {
	ID     string `gorm:"primaryKey;type:uuid" json:"id"`
	UserID string `gorm:"type:uuid;not null;index" json:"user_id"`
	User   *User  `gorm:"foreignKey:UserID" json:"-"`

	TokenHash string `gorm:"not null" json:"-"`
	Lookup    string `gorm:"size:12;index" json:"-"`

	ExpiresAt   time.Time  `gorm:"index" json:"expires_at"`
	CreatedByIP string     `json:"-"`
	RevokedAt   *time.Time `json:"revoked_at"`
	RevokedByIP string     `json:"-"`

	// ReplacedByID links a retired token to its successor. Once set it is never
	// cleared or repointed.
	ReplacedByID *string `gorm:"type:uuid" json:"replaced_by_id"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// BeforeCreate ensures a UUID is present before persisting.
func (t *RefreshToken) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// Active reports whether the token can still authenticate at the given time.
func (t *RefreshToken) Active(now time.Time) bool {
	return t.RevokedAt == nil && t.ExpiresAt.After(now)
}
