// Package auth is the credential check consulted for agent and admin
// connections. Visitors are anonymous and never pass through here.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"handoff/internal/chat"
)

type Role string

const (
	RoleAgent Role = "agent"
	RoleAdmin Role = "admin"
)

func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleAgent:
		return RoleAgent, nil
	case RoleAdmin:
		return RoleAdmin, nil
	}
	return "", fmt.Errorf("unknown role %q: %w", s, chat.ErrInvalidInput)
}

// Identity is an authenticated principal.
type Identity struct {
	Subject string
	Name    string
	Role    Role
}

// Allows reports whether the identity may act as role. Admins may do
// anything an agent can.
func (id Identity) Allows(role Role) bool {
	return id.Role == role || id.Role == RoleAdmin
}

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Identity, error)
}

// StaticToken is a configured shared secret bound to a role.
type StaticToken struct {
	Token string `yaml:"token"`
	Name  string `yaml:"name"`
	Role  Role   `yaml:"role"`
}

// Static accepts a fixed set of tokens from configuration.
type Static struct {
	tokens []StaticToken
}

func NewStatic(tokens []StaticToken) *Static {
	return &Static{tokens: tokens}
}

func (s *Static) Authenticate(_ context.Context, token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, fmt.Errorf("empty token: %w", chat.ErrUnauthorized)
	}
	for _, t := range s.tokens {
		if t.Token != "" && subtle.ConstantTimeCompare([]byte(t.Token), []byte(token)) == 1 {
			name := t.Name
			if name == "" {
				name = string(t.Role)
			}
			return Identity{Subject: "static:" + name, Name: name, Role: t.Role}, nil
		}
	}
	return Identity{}, fmt.Errorf("unknown token: %w", chat.ErrUnauthorized)
}

// Chain tries each authenticator in turn and returns the first success.
type Chain []Authenticator

func (c Chain) Authenticate(ctx context.Context, token string) (Identity, error) {
	var errs []error
	for _, a := range c {
		id, err := a.Authenticate(ctx, token)
		if err == nil {
			return id, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return Identity{}, fmt.Errorf("no authenticators configured: %w", chat.ErrUnauthorized)
	}
	return Identity{}, errors.Join(errs...)
}
