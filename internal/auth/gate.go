package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/router-for-me/SchoolAuth/internal/models"
	"github.com/router-for-me/SchoolAuth/internal/security"
	"github.com/router-for-me/SchoolAuth/internal/store"
)

// Predicate decides whether a principal may proceed; it returns ErrForbidden when not.
type Predicate func(principal *models.User) error

// Gate resolves bearer tokens to active principals and evaluates capability predicates.
type Gate struct {
	tokens *security.TokenService
	users  *store.Users
}

// NewGate constructs a Gate.
func NewGate(tokens *security.TokenService, users *store.Users) *Gate {
	return &Gate{tokens: tokens, users: users}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", fmt.Errorf("%w: missing authorization header", ErrTokenInvalid)
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("%w: invalid authorization format", ErrTokenInvalid)
	}
	return strings.TrimSpace(token), nil
}

// Authenticate decodes a bearer token and loads its principal.
// The principal is always re-read so a deactivated user's unexpired token is refused.
func (g *Gate) Authenticate(ctx context.Context, token string) (*models.User, error) {
	subject, errDecode := g.tokens.Decode(token)
	if errDecode != nil {
		if errors.Is(errDecode, security.ErrExpiredToken) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	user, errFind := g.users.FindByID(ctx, subject.ID)
	if errFind != nil {
		if errors.Is(errFind, store.ErrNotFound) {
			return nil, ErrPrincipalNotFound
		}
		return nil, fmt.Errorf("load principal: %w", errFind)
	}
	if !user.Active {
		return nil, ErrPrincipalInactive
	}
	return user, nil
}

// Check evaluates every predicate against principal.
func Check(principal *models.User, predicates ...Predicate) error {
	if principal == nil {
		return ErrPrincipalNotFound
	}
	for _, predicate := range predicates {
		if err := predicate(principal); err != nil {
			return err
		}
	}
	return nil
}

// RequireRole passes principals holding one of roles.
func RequireRole(roles ...string) Predicate {
	return func(principal *models.User) error {
		for _, role := range roles {
			if principal.Role == role {
				return nil
			}
		}
		return ErrForbidden
	}
}

// RequireSuperuser passes superusers only.
func RequireSuperuser() Predicate {
	return func(principal *models.User) error {
		if principal.IsSuperuser {
			return nil
		}
		return ErrForbidden
	}
}

// RequireSelfOrSuperuser passes the owner of targetID or a superuser.
func RequireSelfOrSuperuser(targetID uint64) Predicate {
	return Any(RequireSuperuser(), func(principal *models.User) error {
		if principal.ID == targetID {
			return nil
		}
		return ErrForbidden
	})
}

// All passes when every predicate passes.
func All(predicates ...Predicate) Predicate {
	return func(principal *models.User) error {
		return Check(principal, predicates...)
	}
}

// Any passes when at least one predicate passes.
func Any(predicates ...Predicate) Predicate {
	return func(principal *models.User) error {
		for _, predicate := range predicates {
			if predicate(principal) == nil {
				return nil
			}
		}
		return ErrForbidden
	}
}
