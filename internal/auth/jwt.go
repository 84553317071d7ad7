package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"handoff/internal/chat"
)

var ErrJWTDisabled = errors.New("jwt secret not configured")

// JWTService signs and verifies HS256 tokens for agents and admins.
type JWTService struct {
	secret []byte
	expiry time.Duration
}

func NewJWTService(secret string, expiry time.Duration) *JWTService {
	return &JWTService{secret: []byte(secret), expiry: expiry}
}

type Claims struct {
	Name string `json:"name,omitempty"`
	Role Role   `json:"role"`
	jwt.RegisteredClaims
}

// Issue mints a token for subject acting as role.
func (s *JWTService) Issue(subject, name string, role Role) (string, error) {
	if s == nil || len(s.secret) == 0 {
		return "", ErrJWTDisabled
	}
	if strings.TrimSpace(subject) == "" {
		return "", fmt.Errorf("subject required: %w", chat.ErrInvalidInput)
	}
	if _, err := ParseRole(string(role)); err != nil {
		return "", err
	}

	claims := Claims{
		Name: strings.TrimSpace(name),
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	if s.expiry > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(s.expiry))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *JWTService) Authenticate(_ context.Context, token string) (Identity, error) {
	if s == nil || len(s.secret) == 0 {
		return Identity{}, fmt.Errorf("%w: %w", ErrJWTDisabled, chat.ErrUnauthorized)
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("invalid token: %w", chat.ErrUnauthorized)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return Identity{}, fmt.Errorf("invalid token: %w", chat.ErrUnauthorized)
	}
	role, err := ParseRole(string(claims.Role))
	if err != nil {
		return Identity{}, fmt.Errorf("invalid role claim: %w", chat.ErrUnauthorized)
	}
	name := claims.Name
	if name == "" {
		name = claims.Subject
	}
	return Identity{Subject: claims.Subject, Name: name, Role: role}, nil
}
