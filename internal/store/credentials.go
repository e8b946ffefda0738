package store

import (
	"context"
	"errors"
	"time"

	"github.com/router-for-me/SchoolAuth/internal/models"
	"gorm.io/gorm"
)

// Credentials persists WebAuthn public-key credentials.
type Credentials struct {
	db *gorm.DB
}

// NewCredentials constructs a Credentials store.
func NewCredentials(conn *gorm.DB) *Credentials {
	return &Credentials{db: conn}
}

// ListByUser returns the credentials registered by a user, oldest first.
func (s *Credentials) ListByUser(ctx context.Context, userID uint64) ([]models.WebAuthnCredential, error) {
	var creds []models.WebAuthnCredential
	if errFind := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id ASC").Find(&creds).Error; errFind != nil {
		return nil, errFind
	}
	return creds, nil
}

// FindByCredentialID loads a credential by its authenticator-assigned id.
func (s *Credentials) FindByCredentialID(ctx context.Context, credentialID []byte) (*models.WebAuthnCredential, error) {
	var cred models.WebAuthnCredential
	if errFind := s.db.WithContext(ctx).Where("credential_id = ?", credentialID).First(&cred).Error; errFind != nil {
		return nil, translate(errFind)
	}
	return &cred, nil
}

// Create persists a new credential; an already registered credential id yields ErrConflict.
func (s *Credentials) Create(ctx context.Context, cred *models.WebAuthnCredential) error {
	if _, errFind := s.FindByCredentialID(ctx, cred.CredentialID); errFind == nil {
		return ErrConflict
	} else if !errors.Is(errFind, ErrNotFound) {
		return errFind
	}
	if errCreate := s.db.WithContext(ctx).Create(cred).Error; errCreate != nil {
		// A concurrent registration of the same id trips the unique index.
		if _, errFind := s.FindByCredentialID(ctx, cred.CredentialID); errFind == nil {
			return ErrConflict
		}
		return translate(errCreate)
	}
	return nil
}

// AdvanceCounter moves the signature counter from an expected value to a new one.
// ErrLostRace means another authentication already moved the counter.
func (s *Credentials) AdvanceCounter(ctx context.Context, id uint64, from, to uint32, backupState bool, usedAt time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.WebAuthnCredential{}).
		Where("id = ? AND sign_count = ?", id, from).
		Updates(map[string]any{
			"sign_count":   to,
			"backup_state": backupState,
			"last_used_at": usedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrLostRace
	}
	return nil
}

// Delete removes a credential owned by userID.
func (s *Credentials) Delete(ctx context.Context, userID, id uint64) error {
	res := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&models.WebAuthnCredential{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
