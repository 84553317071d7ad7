package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"handoff/internal/chat"
)

func TestStaticAuthenticate(t *testing.T) {
	s := NewStatic([]StaticToken{
		{Token: "agent-secret", Name: "Sam", Role: RoleAgent},
		{Token: "admin-secret", Role: RoleAdmin},
	})

	id, err := s.Authenticate(context.Background(), "agent-secret")
	require.NoError(t, err)
	require.Equal(t, RoleAgent, id.Role)
	require.Equal(t, "Sam", id.Name)

	id, err = s.Authenticate(context.Background(), "admin-secret")
	require.NoError(t, err)
	require.Equal(t, "admin", id.Name)
	require.True(t, id.Allows(RoleAgent))

	_, err = s.Authenticate(context.Background(), "nope")
	require.ErrorIs(t, err, chat.ErrUnauthorized)
	_, err = s.Authenticate(context.Background(), "")
	require.ErrorIs(t, err, chat.ErrUnauthorized)
}

func TestJWTRoundTrip(t *testing.T) {
	svc := NewJWTService("test-secret", time.Hour)
	token, err := svc.Issue("agent-7", "Sam", RoleAgent)
	require.NoError(t, err)

	id, err := svc.Authenticate(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, Identity{Subject: "agent-7", Name: "Sam", Role: RoleAgent}, id)
	require.False(t, id.Allows(RoleAdmin))
}

func TestJWTRejectsWrongSecretAndExpired(t *testing.T) {
	token, err := NewJWTService("other", time.Hour).Issue("agent-7", "Sam", RoleAgent)
	require.NoError(t, err)
	_, err = NewJWTService("test-secret", time.Hour).Authenticate(context.Background(), token)
	require.ErrorIs(t, err, chat.ErrUnauthorized)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: RoleAgent,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "agent-7",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	signed, err := expired.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = NewJWTService("test-secret", time.Hour).Authenticate(context.Background(), signed)
	require.ErrorIs(t, err, chat.ErrUnauthorized)
}

func TestJWTDisabledWithoutSecret(t *testing.T) {
	_, err := NewJWTService("", 0).Issue("x", "x", RoleAdmin)
	require.ErrorIs(t, err, ErrJWTDisabled)
}

func TestChainFallsThrough(t *testing.T) {
	svc := NewJWTService("test-secret", time.Hour)
	c := Chain{NewStatic([]StaticToken{{Token: "admin-secret", Role: RoleAdmin}}), svc}

	token, _ := svc.Issue("agent-7", "Sam", RoleAgent)
	id, err := c.Authenticate(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, RoleAgent, id.Role)

	id, err = c.Authenticate(context.Background(), "admin-secret")
	require.NoError(t, err)
	require.Equal(t, RoleAdmin, id.Role)

	_, err = c.Authenticate(context.Background(), "garbage")
	require.ErrorIs(t, err, chat.ErrUnauthorized)
}
