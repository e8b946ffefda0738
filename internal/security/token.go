package security

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token validation errors.
var (
	// ErrInvalidToken indicates a token is malformed or fails validation.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken indicates a token has a valid signature but is past its expiry.
	ErrExpiredToken = errors.New("token expired")
)

// tokenClaims defines the JWT payload for principal tokens.
type tokenClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Subject is the decoded identity carried by a bearer token.
type Subject struct {
	ID        uint64
	Role      string
	ExpiresAt time.Time
}

// TokenService issues and decodes HS256 bearer tokens.
type TokenService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService constructs a TokenService with a default token lifetime.
func NewTokenService(secret, issuer string, ttl time.Duration) *TokenService {
	return &TokenService{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// DefaultTTL returns the configured token lifetime.
func (s *TokenService) DefaultTTL() time.Duration {
	return s.ttl
}

// Issue signs a token for subjectID with the given role; ttl <= 0 uses the default lifetime.
func (s *TokenService) Issue(subjectID uint64, role string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = s.ttl
	}
	now := s.now()
	claims := tokenClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(subjectID, 10),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Decode validates a token and returns its subject.
func (s *TokenService) Decode(tokenString string) (*Subject, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	claims := &tokenClaims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	id, errParse := strconv.ParseUint(claims.Subject, 10, 64)
	if errParse != nil || id == 0 {
		return nil, ErrInvalidToken
	}
	return &Subject{ID: id, Role: claims.Role, ExpiresAt: claims.ExpiresAt.Time.UTC()}, nil
}
