package models

import "time"

// QR login session states.
const (
	QRStatusPending  = "pending"
	QRStatusApproved = "approved"
	QRStatusConsumed = "consumed"
	QRStatusExpired  = "expired"
)

// QRLoginSession stores a cross-device login handshake.
type QRLoginSession struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Token  string  `gorm:"type:text;not null;uniqueIndex"` // Token encoded in the QR image.
	Status string  `gorm:"type:text;not null;index"`       // Current handshake state.
	UserID *uint64 `gorm:"index"`                          // Approving user, set on approval.

	ExpiresAt  time.Time  `gorm:"not null;index"` // Expiry timestamp.
	ApprovedAt *time.Time // Approval timestamp.
	ConsumedAt *time.Time // Token hand-out timestamp.
	CreatedAt  time.Time  `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
