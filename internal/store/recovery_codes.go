package store

import (
	"context"
	"time"

	"github.com/router-for-me/SchoolAuth/internal/models"
	"gorm.io/gorm"
)

// RecoveryCodes persists hashed one-time recovery codes.
type RecoveryCodes struct {
	db *gorm.DB
}

// NewRecoveryCodes constructs a RecoveryCodes store.
func NewRecoveryCodes(conn *gorm.DB) *RecoveryCodes {
	return &RecoveryCodes{db: conn}
}

// Replace deletes every code of userID and inserts the given hashes in one transaction.
func (s *RecoveryCodes) Replace(ctx context.Context, userID uint64, hashes []string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errDelete := tx.Where("user_id = ?", userID).Delete(&models.RecoveryCode{}).Error; errDelete != nil {
			return errDelete
		}
		if len(hashes) == 0 {
			return nil
		}
		rows := make([]models.RecoveryCode, 0, len(hashes))
		for _, hash := range hashes {
			rows = append(rows, models.RecoveryCode{UserID: userID, CodeHash: hash})
		}
		return tx.Create(&rows).Error
	})
}

// Find loads the code of userID with the given hash.
func (s *RecoveryCodes) Find(ctx context.Context, userID uint64, hash string) (*models.RecoveryCode, error) {
	var code models.RecoveryCode
	if errFind := s.db.WithContext(ctx).Where("user_id = ? AND code_hash = ?", userID, hash).First(&code).Error; errFind != nil {
		return nil, translate(errFind)
	}
	return &code, nil
}

// MarkUsed flips the used flag of an unused code. ErrLostRace means it was already used.
func (s *RecoveryCodes) MarkUsed(ctx context.Context, id uint64, now time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.RecoveryCode{}).
		Where("id = ? AND used = ?", id, false).
		Updates(map[string]any{"used": true, "used_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrLostRace
	}
	return nil
}

// CountUnused returns how many codes userID can still redeem.
func (s *RecoveryCodes) CountUnused(ctx context.Context, userID uint64) (int64, error) {
	var count int64
	errCount := s.db.WithContext(ctx).Model(&models.RecoveryCode{}).
		Where("user_id = ? AND used = ?", userID, false).
		Count(&count).Error
	return count, errCount
}
