package models

import "time"

// OTPPurpose distinguishes the two one-time-code flows.
type OTPPurpose string

const (
	OTPPurposeEmailVerification OTPPurpose = "email_verification"
	OTPPurposePasswordReset     OTPPurpose = "password_reset"
)

// OTPChallenge stores a single-use numeric code bound to an account and a
// purpose. The code itself is kept only as a bcrypt hash. At most one unused
// challenge exists per (user, purpose); issuing a replacement deletes the
// previous unused row and carries its resend accounting forward so the rolling
// issuance cap survives the supersession.
type OTPChallenge struct {
	BaseModel

	UserID  string     `gorm:"type:uuid;not null;index:idx_otp_user_purpose" json:"user_id"`
	User    *User      `gorm:"foreignKey:UserID" json:"-"`
	Purpose OTPPurpose `gorm:"not null;index:idx_otp_user_purpose" json:"purpose"`

	CodeHash  string     `gorm:"not null" json:"-"`
	ExpiresAt time.Time  `gorm:"index" json:"expires_at"`
	UsedAt    *time.Time `json:"used_at"`

	// Attempts counts failed verification attempts against this code.
	Attempts int `gorm:"default:0" json:"attempts"`

	// ResendCount and WindowStartedAt implement the rolling issuance cap.
	// A replacement challenge inherits them from the row it supersedes when the
	// window is still open.
	ResendCount     int       `gorm:"default:1" json:"-"`
	WindowStartedAt time.Time `json:"-"`

	IssuedByIP string `json:"-"`
}

// Expired reports whether the challenge is past its expiry at the given time.
func (c *OTPChallenge) Expired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}
