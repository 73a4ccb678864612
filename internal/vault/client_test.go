package vault

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcvault "github.com/testcontainers/testcontainers-go/modules/vault"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kpessa/delphi-webapp/internal/config"
)

func TestKVDataPath(t *testing.T) {
	tests := map[string]string{
		"secret/delphi":       "secret/data/delphi",
		"/secret/delphi/":     "secret/data/delphi",
		"secret/data/delphi":  "secret/data/delphi",
		"kv/apps/delphi/prod": "kv/data/apps/delphi/prod",
		"secret":              "secret",
	}
	for in, want := range tests {
		assert.Equal(t, want, kvDataPath(in), in)
	}
}

func TestNewClientRequiresPath(t *testing.T) {
	_, err := NewClient(&config.VaultConfig{Address: "http://127.0.0.1:8200"})
	assert.Error(t, err)
}

func TestLoadSecrets(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping Vault container test in short mode")
	}

	ctx := context.Background()
	const token = "test-token"

	container, err := tcvault.Run(ctx,
		"hashicorp/vault:1.15",
		tcvault.WithToken(token),
		tcvault.WithInitCommand(
			"kv put secret/delphi jwt_secret=from-vault llm_api_key=sk-test smtp_password=smtp-pass",
		),
		testcontainers.WithWaitStrategy(
			wait.ForLog("Vault server started!").
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate Vault container: %v", err)
		}
	})

	addr, err := container.HttpHostAddress(ctx)
	require.NoError(t, err)

	client, err := NewClient(&config.VaultConfig{
		Address:    fmt.Sprintf("http://%s", addr),
		Token:      token,
		SecretPath: "secret/delphi",
		Enabled:    true,
	})
	require.NoError(t, err)
	require.NoError(t, client.Health(ctx))

	secrets, err := client.LoadSecrets(ctx)
	require.NoError(t, err)
	assert.Equal(t, "from-vault", secrets["jwt_secret"])
	assert.Equal(t, "sk-test", secrets["llm_api_key"])

	cfg := &config.Config{Auth: config.AuthConfig{Secret: "from-env"}}
	cfg.ApplySecrets(secrets)
	assert.Equal(t, "from-vault", cfg.Auth.Secret)
	assert.Equal(t, "smtp-pass", cfg.Email.SMTPPassword)
	assert.Empty(t, cfg.Database.Password, "absent keys keep the current value")

	missing, err := NewClient(&config.VaultConfig{
		Address:    fmt.Sprintf("http://%s", addr),
		Token:      token,
		SecretPath: "secret/missing",
	})
	require.NoError(t, err)
	_, err = missing.LoadSecrets(ctx)
	assert.True(t, errors.Is(err, ErrSecretNotFound), "got %v", err)
}
