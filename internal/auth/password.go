package auth

import (
	"context"
	"errors"

	"github.com/router-for-me/SchoolAuth/internal/metrics"
	"github.com/router-for-me/SchoolAuth/internal/models"
	"github.com/router-for-me/SchoolAuth/internal/security"
	"github.com/router-for-me/SchoolAuth/internal/store"
	log "github.com/sirupsen/logrus"
)

// PasswordService authenticates principals by email or roll number and password.
type PasswordService struct {
	users  *store.Users
	tokens *security.TokenService
}

// NewPasswordService constructs a PasswordService.
func NewPasswordService(users *store.Users, tokens *security.TokenService) *PasswordService {
	return &PasswordService{users: users, tokens: tokens}
}

// Login verifies the password and returns a bearer token.
func (s *PasswordService) Login(ctx context.Context, username, password string) (token string, user *models.User, err error) {
	defer func() { metrics.RecordLogin(metrics.MethodPassword, err) }()

	user, errFind := s.users.FindByIdentifier(ctx, username)
	if errFind != nil {
		if errors.Is(errFind, store.ErrNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, errFind
	}
	if !security.CheckPassword(user.Password, password) {
		return "", nil, ErrInvalidCredentials
	}
	if !user.Active {
		return "", nil, ErrPrincipalInactive
	}
	if security.NeedsRehash(user.Password) {
		s.upgradeHash(ctx, user, password)
	}
	token, err = issueToken(s.tokens, user)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

// upgradeHash stores a hash at the current work factor; failures only log.
func (s *PasswordService) upgradeHash(ctx context.Context, user *models.User, password string) {
	hash, errHash := security.HashPassword(password)
	if errHash != nil {
		log.WithError(errHash).WithField("user_id", user.ID).Warn("password rehash failed")
		return
	}
	if _, errUpdate := s.users.Update(ctx, user.ID, map[string]any{"password": hash}); errUpdate != nil {
		log.WithError(errUpdate).WithField("user_id", user.ID).Warn("password rehash failed")
		return
	}
	user.Password = hash
}
