package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"handoff/internal/auth"
	"handoff/internal/config"
	"handoff/internal/responder"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := buildRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	require.Contains(t, out.String(), "handoffd dev")
}

func TestTokenCommandMintsVerifiableToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "handoff.yaml")
	require.NoError(t, os.WriteFile(path, []byte("auth:\n  jwt_secret: test-secret\n"), 0o600))

	var out bytes.Buffer
	cmd := buildRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"token", "--config", path, "--role", "admin", "--name", "ops", "--subject", "u-1"})
	require.NoError(t, cmd.Execute())

	token := strings.TrimSpace(out.String())
	id, err := auth.NewJWTService("test-secret", 0).Authenticate(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, auth.RoleAdmin, id.Role)
	require.Equal(t, "ops", id.Name)
	require.Equal(t, "u-1", id.Subject)
}

func TestTokenCommandWithoutSecretFails(t *testing.T) {
	cmd := buildRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"token", "--config", filepath.Join(t.TempDir(), "none.yaml")})
	require.ErrorIs(t, cmd.Execute(), auth.ErrJWTDisabled)
}

func TestBuildResponderGuardsSensitiveTopics(t *testing.T) {
	cfg := config.Default().Responder
	r := buildResponder(cfg)

	reply, err := r.Respond(context.Background(), responder.Request{RoomID: "r1", Text: "Tell me about the lawsuit"})
	require.NoError(t, err)
	require.Equal(t, responder.SensitiveReply, reply)

	reply, err = r.Respond(context.Background(), responder.Request{RoomID: "r1", Text: "hi"})
	require.NoError(t, err)
	require.Equal(t, "This is a simulated response to: hi", reply)
}

func TestOpenStoreSQLite(t *testing.T) {
	st, err := openStore(config.StorageConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "h.db")})
	require.NoError(t, err)
	defer st.Close()
	snap, err := st.Load(context.Background())
	require.NoError(t, err)
	require.Empty(t, snap.Rooms)
}
