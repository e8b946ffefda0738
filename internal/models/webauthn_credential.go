package models

import "time"

// WebAuthnCredential stores a public-key credential registered by a user.
type WebAuthnCredential struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;index"` // Owning user ID.

	CredentialID    []byte `gorm:"type:bytea;not null;uniqueIndex"` // Authenticator credential ID.
	PublicKey       []byte `gorm:"type:bytea;not null"`             // COSE encoded public key.
	AttestationType string `gorm:"type:text"`                       // Attestation format reported at registration.
	AAGUID          []byte `gorm:"type:bytea"`                      // Authenticator model identifier.
	Transports      string `gorm:"type:text"`                       // Comma separated transport hints.

	SignCount      uint32 `gorm:"type:bigint;not null;default:0"` // Last accepted signature counter.
	BackupEligible bool   `gorm:"not null;default:false"`         // WebAuthn backup eligibility flag.
	BackupState    bool   `gorm:"not null;default:false"`         // WebAuthn backup state flag.

	CreatedAt  time.Time  `gorm:"not null;autoCreateTime"` // Registration timestamp.
	LastUsedAt *time.Time // Last successful authentication.
}

// TableName overrides the default table name.
func (WebAuthnCredential) TableName() string {
	return "webauthn_credentials"
}
