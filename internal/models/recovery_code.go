package models

import "time"

// RecoveryCode stores the hash of a one-time recovery code.
type RecoveryCode struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID   uint64 `gorm:"not null;uniqueIndex:idx_recovery_codes_user_hash,priority:1"`           // Owning user ID.
	CodeHash string `gorm:"type:text;not null;uniqueIndex:idx_recovery_codes_user_hash,priority:2"` // SHA-256 of the canonical code.

	Used   bool       `gorm:"not null;default:false"` // Whether the code was redeemed.
	UsedAt *time.Time // Redemption timestamp.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
