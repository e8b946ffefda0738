package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/router-for-me/SchoolAuth/internal/events"
	"github.com/router-for-me/SchoolAuth/internal/metrics"
	"github.com/router-for-me/SchoolAuth/internal/models"
	"github.com/router-for-me/SchoolAuth/internal/qrcode"
	"github.com/router-for-me/SchoolAuth/internal/security"
	"github.com/router-for-me/SchoolAuth/internal/store"
	log "github.com/sirupsen/logrus"
)

// QR poll statuses reported to the waiting device.
const (
	PollPending  = models.QRStatusPending
	PollApproved = models.QRStatusApproved
	PollExpired  = models.QRStatusExpired
)

const defaultCleanupBatch = 500

// QRStart is a freshly started QR login session.
type QRStart struct {
	Token     string
	PNG       []byte
	ExpiresAt time.Time
}

// PollResult is what a waiting device sees when polling its session.
type PollResult struct {
	Status      string
	AccessToken string
}

// QRLoginService runs the cross-device login handshake.
type QRLoginService struct {
	sessions  *store.QRSessions
	users     *store.Users
	tokens    *security.TokenService
	events    events.Emitter
	ttl       time.Duration
	imageSize int
	batchSize int
	now       func() time.Time
}

// QRLoginDeps groups the collaborators of QRLoginService.
type QRLoginDeps struct {
	Sessions  *store.QRSessions
	Users     *store.Users
	Tokens    *security.TokenService
	Events    events.Emitter
	TTL       time.Duration
	ImageSize int
	BatchSize int
}

// NewQRLoginService constructs a QRLoginService.
func NewQRLoginService(deps QRLoginDeps) *QRLoginService {
	emitter := deps.Events
	if emitter == nil {
		emitter = events.NoOp{}
	}
	batch := deps.BatchSize
	if batch <= 0 {
		batch = defaultCleanupBatch
	}
	return &QRLoginService{
		sessions:  deps.Sessions,
		users:     deps.Users,
		tokens:    deps.Tokens,
		events:    emitter,
		ttl:       deps.TTL,
		imageSize: deps.ImageSize,
		batchSize: batch,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start creates a pending session and renders its token as a QR image.
func (s *QRLoginService) Start(ctx context.Context) (*QRStart, error) {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	now := s.now()
	session := &models.QRLoginSession{
		Token:     token,
		Status:    models.QRStatusPending,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if errCreate := s.sessions.Create(ctx, session); errCreate != nil {
		return nil, fmt.Errorf("create qr session: %w", errCreate)
	}
	image, errRender := qrcode.PNG(token, s.imageSize)
	if errRender != nil {
		return nil, errRender
	}
	return &QRStart{Token: token, PNG: image, ExpiresAt: session.ExpiresAt}, nil
}

// Approve binds a pending session to the authenticated approver.
func (s *QRLoginService) Approve(ctx context.Context, approver *models.User, token string) error {
	if errCheck := Check(approver); errCheck != nil {
		return errCheck
	}
	session, errFind := s.find(ctx, token)
	if errFind != nil {
		return errFind
	}
	now := s.now()
	if !now.Before(session.ExpiresAt) {
		s.expire(ctx, token, now)
		return ErrSessionExpired
	}
	if session.Status != models.QRStatusPending {
		return ErrInvalidTransition
	}

	if errApprove := s.sessions.Approve(ctx, token, approver.ID, now); errApprove != nil {
		if !errors.Is(errApprove, store.ErrLostRace) {
			return fmt.Errorf("approve qr session: %w", errApprove)
		}
		// Another approver won, or the session expired in between.
		current, errReload := s.find(ctx, token)
		if errReload != nil {
			return errReload
		}
		if !s.now().Before(current.ExpiresAt) {
			return ErrSessionExpired
		}
		return ErrInvalidTransition
	}

	s.events.Emit(ctx, events.Event{
		Type:     events.TypeQRLoginApproved,
		UserID:   approver.ID,
		Metadata: map[string]string{"session": strconv.FormatUint(session.ID, 10)},
	})
	return nil
}

// Poll reports the session state and hands out a token exactly once after approval.
func (s *QRLoginService) Poll(ctx context.Context, token string) (result *PollResult, err error) {
	session, errFind := s.find(ctx, token)
	if errFind != nil {
		return nil, errFind
	}
	now := s.now()
	if !now.Before(session.ExpiresAt) {
		s.expire(ctx, token, now)
		return &PollResult{Status: PollExpired}, nil
	}

	switch session.Status {
	case models.QRStatusPending:
		return &PollResult{Status: PollPending}, nil
	case models.QRStatusApproved:
	default:
		return &PollResult{Status: PollExpired}, nil
	}

	defer func() { metrics.RecordLogin(metrics.MethodQR, err) }()
	if session.UserID == nil {
		return nil, ErrInvalidTransition
	}
	if errConsume := s.sessions.Consume(ctx, token, now); errConsume != nil {
		if errors.Is(errConsume, store.ErrLostRace) {
			return &PollResult{Status: PollExpired}, nil
		}
		return nil, fmt.Errorf("consume qr session: %w", errConsume)
	}

	user, errUser := s.users.FindByID(ctx, *session.UserID)
	if errUser != nil {
		if errors.Is(errUser, store.ErrNotFound) {
			return nil, ErrPrincipalNotFound
		}
		return nil, errUser
	}
	if !user.Active {
		return nil, ErrPrincipalInactive
	}
	accessToken, errIssue := issueToken(s.tokens, user)
	if errIssue != nil {
		return nil, errIssue
	}
	return &PollResult{Status: PollApproved, AccessToken: accessToken}, nil
}

// Cleanup deletes every session past its TTL and returns how many rows were removed.
func (s *QRLoginService) Cleanup(ctx context.Context) (int64, error) {
	var total int64
	for {
		deleted, errDelete := s.sessions.DeleteExpired(ctx, s.now(), s.batchSize)
		if errDelete != nil {
			return total, fmt.Errorf("delete expired qr sessions: %w", errDelete)
		}
		total += deleted
		if deleted < int64(s.batchSize) {
			break
		}
	}
	if total > 0 {
		metrics.SweptRowsTotal.WithLabelValues("qr_sessions").Add(float64(total))
	}
	return total, nil
}

func (s *QRLoginService) find(ctx context.Context, token string) (*models.QRLoginSession, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrSessionNotFound
	}
	session, errFind := s.sessions.FindByToken(ctx, token)
	if errFind != nil {
		if errors.Is(errFind, store.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("load qr session: %w", errFind)
	}
	return session, nil
}

func (s *QRLoginService) expire(ctx context.Context, token string, now time.Time) {
	if errExpire := s.sessions.MarkExpired(ctx, token, now); errExpire != nil {
		log.WithError(errExpire).Warn("qr login: failed to mark session expired")
	}
}
