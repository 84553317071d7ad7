package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"handoff/internal/auth"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, ":5000", cfg.Server.Addr)
	require.Equal(t, "simulated", cfg.Responder.Kind)
	require.Equal(t, "memory", cfg.Storage.Driver)
	require.Equal(t, 10, cfg.RateLimit.Messages)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "handoff.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
responder:
  kind: ollama
  model: mistral
  timeout: 3s
storage:
  driver: sqlite
  path: /tmp/handoff.db
auth:
  jwt_secret: s3cret
  tokens:
    - token: admin123
      role: admin
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.Server.Addr)
	require.Equal(t, "ollama", cfg.Responder.Kind)
	require.Equal(t, "mistral", cfg.Responder.Model)
	require.Equal(t, 3*time.Second, cfg.Responder.Timeout)
	require.Equal(t, "http://localhost:11434", cfg.Responder.URL, "unset keys keep defaults")
	require.Equal(t, "sqlite", cfg.Storage.Driver)
	require.Len(t, cfg.Auth.Tokens, 1)
	require.Equal(t, auth.RoleAdmin, cfg.Auth.Tokens[0].Role)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("PORT", "7000")
	t.Setenv("RATE_LIMIT", "3")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")
	t.Setenv("HANDOFF_STORAGE", "sqlite")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":7000", cfg.Server.Addr)
	require.Equal(t, 3, cfg.RateLimit.Messages)
	require.Equal(t, 30*time.Second, cfg.RateLimit.Window)
	require.Equal(t, "sqlite", cfg.Storage.Driver)
}

func TestInvalidEnvDuration(t *testing.T) {
	t.Setenv("HANDOFF_RESPONDER_TIMEOUT", "soon")
	_, err := Load("")
	require.ErrorContains(t, err, "HANDOFF_RESPONDER_TIMEOUT")
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Responder.Kind = "gpt2-in-browser"
	cfg.Storage.Driver = "mongo"
	cfg.Auth.Tokens = []auth.StaticToken{{Token: "", Role: "owner"}}

	err := cfg.Validate()
	require.ErrorContains(t, err, "responder.kind")
	require.ErrorContains(t, err, "storage.driver")
	require.ErrorContains(t, err, "auth.tokens[0].token is empty")
	require.ErrorContains(t, err, "unknown role")
}
