package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/router-for-me/SchoolAuth/internal/events"
	"github.com/router-for-me/SchoolAuth/internal/metrics"
	"github.com/router-for-me/SchoolAuth/internal/models"
	"github.com/router-for-me/SchoolAuth/internal/security"
	"github.com/router-for-me/SchoolAuth/internal/store"
	log "github.com/sirupsen/logrus"
)

const defaultRecoveryBatch = 10

// RecoveryService issues and redeems one-time recovery codes.
type RecoveryService struct {
	codes     *store.RecoveryCodes
	users     *store.Users
	tokens    *security.TokenService
	events    events.Emitter
	batchSize int
	now       func() time.Time
}

// RecoveryDeps groups the collaborators of RecoveryService.
type RecoveryDeps struct {
	Codes     *store.RecoveryCodes
	Users     *store.Users
	Tokens    *security.TokenService
	Events    events.Emitter
	BatchSize int
}

// NewRecoveryService constructs a RecoveryService.
func NewRecoveryService(deps RecoveryDeps) *RecoveryService {
	emitter := deps.Events
	if emitter == nil {
		emitter = events.NoOp{}
	}
	batch := deps.BatchSize
	if batch <= 0 {
		batch = defaultRecoveryBatch
	}
	return &RecoveryService{
		codes:     deps.Codes,
		users:     deps.Users,
		tokens:    deps.Tokens,
		events:    emitter,
		batchSize: batch,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Generate replaces every recovery code of principal with a fresh batch and returns the plaintext codes.
func (s *RecoveryService) Generate(ctx context.Context, principal *models.User) ([]string, error) {
	if errCheck := Check(principal); errCheck != nil {
		return nil, errCheck
	}
	codes := make([]string, 0, s.batchSize)
	hashes := make([]string, 0, s.batchSize)
	seen := make(map[string]struct{}, s.batchSize)
	for len(codes) < s.batchSize {
		code, errGenerate := security.GenerateRecoveryCode()
		if errGenerate != nil {
			return nil, errGenerate
		}
		normalized, _ := security.NormalizeRecoveryCode(code)
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
		codes = append(codes, code)
		hashes = append(hashes, security.HashRecoveryCode(principal.ID, normalized))
	}
	if errReplace := s.codes.Replace(ctx, principal.ID, hashes); errReplace != nil {
		return nil, fmt.Errorf("store recovery codes: %w", errReplace)
	}
	s.events.Emit(ctx, events.Event{
		Type:     events.TypeRecoveryCodesIssued,
		UserID:   principal.ID,
		Metadata: map[string]string{"count": strconv.Itoa(len(codes))},
	})
	return codes, nil
}

// Redeem spends one recovery code of the principal named by identifier and returns a bearer token.
func (s *RecoveryService) Redeem(ctx context.Context, identifier, code string) (token string, user *models.User, err error) {
	defer func() { metrics.RecordLogin(metrics.MethodRecovery, err) }()

	user, errFind := s.users.FindByIdentifier(ctx, identifier)
	if errFind != nil {
		if errors.Is(errFind, store.ErrNotFound) {
			return "", nil, ErrUserNotFound
		}
		return "", nil, errFind
	}
	normalized, ok := security.NormalizeRecoveryCode(code)
	if !ok {
		return "", nil, ErrInvalidCode
	}
	stored, errCode := s.codes.Find(ctx, user.ID, security.HashRecoveryCode(user.ID, normalized))
	if errCode != nil {
		if errors.Is(errCode, store.ErrNotFound) {
			return "", nil, ErrInvalidCode
		}
		return "", nil, fmt.Errorf("load recovery code: %w", errCode)
	}
	if stored.Used {
		s.reportReuse(ctx, user, stored)
		return "", nil, ErrCodeAlreadyUsed
	}
	if !user.Active {
		return "", nil, ErrPrincipalInactive
	}

	if errMark := s.codes.MarkUsed(ctx, stored.ID, s.now()); errMark != nil {
		if errors.Is(errMark, store.ErrLostRace) {
			s.reportReuse(ctx, user, stored)
			return "", nil, ErrCodeAlreadyUsed
		}
		return "", nil, fmt.Errorf("mark recovery code used: %w", errMark)
	}

	remaining, errCount := s.codes.CountUnused(ctx, user.ID)
	if errCount != nil {
		log.WithError(errCount).Warn("recovery: failed to count remaining codes")
	}
	log.WithFields(log.Fields{
		"security":  true,
		"user_id":   user.ID,
		"remaining": remaining,
	}).Warn("recovery code redeemed")
	s.events.Emit(ctx, events.Event{
		Type:   events.TypeRecoveryCodeRedeemed,
		UserID: user.ID,
		Metadata: map[string]string{
			"code_id":   strconv.FormatUint(stored.ID, 10),
			"remaining": strconv.FormatInt(remaining, 10),
		},
	})

	token, err = issueToken(s.tokens, user)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

func (s *RecoveryService) reportReuse(ctx context.Context, user *models.User, code *models.RecoveryCode) {
	metrics.SecurityEventsTotal.WithLabelValues(ErrCodeAlreadyUsed.Kind).Inc()
	log.WithFields(log.Fields{
		"security": true,
		"user_id":  user.ID,
		"code_id":  code.ID,
	}).Warn("used recovery code presented again")
	s.events.Emit(ctx, events.Event{
		Type:     events.TypeRecoveryCodeReused,
		UserID:   user.ID,
		Metadata: map[string]string{"code_id": strconv.FormatUint(code.ID, 10)},
	})
}
