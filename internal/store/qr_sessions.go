package store

import (
	"context"
	"time"

	"github.com/router-for-me/SchoolAuth/internal/models"
	"gorm.io/gorm"
)

// QRSessions persists cross-device QR login sessions.
type QRSessions struct {
	db *gorm.DB
}

// NewQRSessions constructs a QRSessions store.
func NewQRSessions(conn *gorm.DB) *QRSessions {
	return &QRSessions{db: conn}
}

// Create stores a new session.
func (s *QRSessions) Create(ctx context.Context, session *models.QRLoginSession) error {
	return s.db.WithContext(ctx).Create(session).Error
}

// FindByToken loads a session by token.
func (s *QRSessions) FindByToken(ctx context.Context, token string) (*models.QRLoginSession, error) {
	var session models.QRLoginSession
	if errFind := s.db.WithContext(ctx).Where("token = ?", token).First(&session).Error; errFind != nil {
		return nil, translate(errFind)
	}
	return &session, nil
}

// Approve moves a live pending session to approved for userID.
func (s *QRSessions) Approve(ctx context.Context, token string, userID uint64, now time.Time) error {
	return s.transition(ctx, token, models.QRStatusPending, now, map[string]any{
		"status":      models.QRStatusApproved,
		"user_id":     userID,
		"approved_at": now,
	})
}

// Consume moves a live approved session to consumed.
func (s *QRSessions) Consume(ctx context.Context, token string, now time.Time) error {
	return s.transition(ctx, token, models.QRStatusApproved, now, map[string]any{
		"status":      models.QRStatusConsumed,
		"consumed_at": now,
	})
}

// transition applies updates only when the session is in state from and not yet expired.
func (s *QRSessions) transition(ctx context.Context, token, from string, now time.Time, updates map[string]any) error {
	res := s.db.WithContext(ctx).Model(&models.QRLoginSession{}).
		Where("token = ? AND status = ? AND expires_at > ?", token, from, now).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrLostRace
	}
	return nil
}

// MarkExpired flags a pending or approved session whose TTL has passed.
func (s *QRSessions) MarkExpired(ctx context.Context, token string, now time.Time) error {
	return s.db.WithContext(ctx).Model(&models.QRLoginSession{}).
		Where("token = ? AND status IN ? AND expires_at <= ?", token, []string{models.QRStatusPending, models.QRStatusApproved}, now).
		Update("status", models.QRStatusExpired).Error
}

// DeleteExpired removes up to limit sessions past their TTL, whatever their state.
func (s *QRSessions) DeleteExpired(ctx context.Context, now time.Time, limit int) (int64, error) {
	res := s.db.WithContext(ctx).Exec(`
		DELETE FROM qr_login_sessions
		WHERE id IN (
			SELECT id FROM qr_login_sessions
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
