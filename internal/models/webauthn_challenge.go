package models

import (
	"time"

	"gorm.io/datatypes"
)

// WebAuthn ceremony kinds.
const (
	CeremonyRegistration   = "registration"
	CeremonyAuthentication = "authentication"
)

// WebAuthnChallenge stores an in-flight WebAuthn ceremony until it is finished or expires.
type WebAuthnChallenge struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Handle   string  `gorm:"type:text;not null;uniqueIndex"` // Opaque handle returned to the client.
	Ceremony string  `gorm:"type:text;not null"`             // registration or authentication.
	UserID   *uint64 `gorm:"index"`                          // Target user; nil for usernameless login.

	SessionData datatypes.JSON `gorm:"type:jsonb;not null"` // Serialized ceremony session.

	ExpiresAt time.Time `gorm:"not null;index"`          // Expiry timestamp.
	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}

// TableName overrides the default table name.
func (WebAuthnChallenge) TableName() string {
	return "webauthn_challenges"
}
