package store

import (
	"context"
	"time"

	"github.com/router-for-me/SchoolAuth/internal/models"
	"gorm.io/gorm"
)

// Challenges persists in-flight WebAuthn ceremonies.
type Challenges struct {
	db *gorm.DB
}

// NewChallenges constructs a Challenges store.
func NewChallenges(conn *gorm.DB) *Challenges {
	return &Challenges{db: conn}
}

// Create stores a new challenge.
func (s *Challenges) Create(ctx context.Context, challenge *models.WebAuthnChallenge) error {
	return s.db.WithContext(ctx).Create(challenge).Error
}

// Consume loads and deletes the challenge for handle. Only one caller can consume a
// given challenge; every other caller gets ErrNotFound. Expiry is left to the caller.
func (s *Challenges) Consume(ctx context.Context, handle string) (*models.WebAuthnChallenge, error) {
	var challenge models.WebAuthnChallenge
	if errFind := s.db.WithContext(ctx).Where("handle = ?", handle).First(&challenge).Error; errFind != nil {
		return nil, translate(errFind)
	}
	res := s.db.WithContext(ctx).Where("id = ?", challenge.ID).Delete(&models.WebAuthnChallenge{})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected != 1 {
		return nil, ErrNotFound
	}
	return &challenge, nil
}

// DeleteExpired removes up to limit challenges that expired at or before now.
func (s *Challenges) DeleteExpired(ctx context.Context, now time.Time, limit int) (int64, error) {
	res := s.db.WithContext(ctx).Exec(`
		DELETE FROM webauthn_challenges
		WHERE id IN (
			SELECT id FROM webauthn_challenges
			WHERE expires_at <= ?
			ORDER BY expires_at ASC
			LIMIT ?
		)
	`, now, limit)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
