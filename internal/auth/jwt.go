// Package auth issues and validates the JWT tokens that carry a task
// owner's principal id. Tokens are HMAC-SHA256 signed; a client obtains
// them by presenting the configured API key.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrExpiredToken   = errors.New("token expired")
	ErrWrongTokenType = errors.New("wrong token type")
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"

	defaultAccessTTL  = 30 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour

	// tolerated clock drift between issuer and validator
	clockSkew = 2 * time.Minute

	minSecretLen = 32
)

type Config struct {
	Secret     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Claims carried by both token types.
type Claims struct {
	PrincipalID string `json:"uid"`
	TokenType   string `json:"type"`
	jwt.RegisteredClaims
}

type Service struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	timeFunc   func() time.Time // injectable for tests
}

func NewService(cfg Config) (*Service, error) {
	if len(cfg.Secret) < minSecretLen {
		return nil, fmt.Errorf("jwt secret must be at least %d characters", minSecretLen)
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = defaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = defaultRefreshTTL
	}
	return &Service{
		secret:     []byte(cfg.Secret),
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		timeFunc:   time.Now,
	}, nil
}

func (s *Service) GenerateAccessToken(principalID string) (string, error) {
	return s.sign(principalID, tokenTypeAccess, s.accessTTL)
}

func (s *Service) GenerateRefreshToken(principalID string) (string, error) {
	return s.sign(principalID, tokenTypeRefresh, s.refreshTTL)
}

func (s *Service) sign(principalID, tokenType string, ttl time.Duration) (string, error) {
	now := s.timeFunc()
	claims := Claims{
		PrincipalID: principalID,
		TokenType:   tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principalID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", tokenType, err)
	}
	return signed, nil
}

// ValidateAccessToken returns the principal id carried by a valid access
// token.
func (s *Service) ValidateAccessToken(tokenString string) (string, error) {
	return s.validate(tokenString, tokenTypeAccess)
}

// ValidateRefreshToken returns the principal id carried by a valid refresh
// token.
func (s *Service) ValidateRefreshToken(tokenString string) (string, error) {
	return s.validate(tokenString, tokenTypeRefresh)
}

func (s *Service) validate(tokenString, wantType string) (string, error) {
	now := s.timeFunc()
	token, err := jwt.ParseWithClaims(tokenString, &Claims{},
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithLeeway(clockSkew),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}
	if claims.TokenType != wantType {
		return "", ErrWrongTokenType
	}
	if claims.PrincipalID == "" {
		return "", ErrInvalidToken
	}
	return claims.PrincipalID, nil
}
