package models

import "time"

// Principal roles.
const (
	RoleStudent   = "student"   // Enrolled student.
	RoleTeacher   = "teacher"   // Teaching staff.
	RolePrincipal = "principal" // School principal.
)

// ValidRole reports whether role names a known principal role.
func ValidRole(role string) bool {
	switch role {
	case RoleStudent, RoleTeacher, RolePrincipal:
		return true
	default:
		return false
	}
}

// User represents a school portal principal stored in the database.
type User struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"id"` // Primary key.

	RollNumber string  `gorm:"type:text;not null;uniqueIndex" json:"roll_number"` // Unique school identifier.
	Email      *string `gorm:"type:text;uniqueIndex" json:"email"`                // Lower-cased email address.
	FullName   string  `gorm:"type:text" json:"full_name"`                        // Display name.
	Password   string  `gorm:"type:text;not null" json:"-"`                       // Hashed password.

	Role        string `gorm:"type:text;not null;default:'student';index" json:"role"` // Principal role.
	IsSuperuser bool   `gorm:"not null;default:false" json:"is_superuser"`             // Grants administrative access.
	Active      bool   `gorm:"not null;default:true" json:"is_active"`                 // Whether the user can sign in.

	Credentials   []WebAuthnCredential `gorm:"foreignKey:UserID" json:"-"` // Registered WebAuthn credentials.
	RecoveryCodes []RecoveryCode       `gorm:"foreignKey:UserID" json:"-"` // Hashed recovery codes.

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"` // Last update timestamp.
}

// EmailValue returns the email address or an empty string.
func (u *User) EmailValue() string {
	if u == nil || u.Email == nil {
		return ""
	}
	return *u.Email
}

// DisplayName returns the best human readable name for the user.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if u.FullName != "" {
		return u.FullName
	}
	return u.RollNumber
}
