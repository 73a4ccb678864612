package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"

	"github.com/kpessa/delphi-webapp/internal/config"
)

const requestTimeout = 10 * time.Second

// ErrSecretNotFound is returned when the configured path holds no secret
var ErrSecretNotFound = errors.New("vault secret not found")

// Client wraps HashiCorp Vault API
type Client struct {
	client     *api.Client
	secretPath string
}

// NewClient creates a new Vault client reading secrets from cfg.SecretPath
func NewClient(cfg *config.VaultConfig) (*Client, error) {
	if cfg.SecretPath == "" {
		return nil, errors.New("vault secret path is required")
	}

	vc := api.DefaultConfig()
	vc.Address = cfg.Address
	vc.Timeout = requestTimeout

	client, err := api.NewClient(vc)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &Client{
		client:     client,
		secretPath: kvDataPath(cfg.SecretPath),
	}, nil
}

// kvDataPath turns "secret/delphi" into the KV v2 data path "secret/data/delphi".
// Paths that already address the data endpoint are kept.
func kvDataPath(path string) string {
	path = strings.Trim(path, "/")
	mount, rest, found := strings.Cut(path, "/")
	if !found || strings.HasPrefix(rest, "data/") {
		return path
	}
	return mount + "/data/" + rest
}

// LoadSecrets reads the KV v2 secret and returns its string values.
// Non-string values are skipped.
func (c *Client) LoadSecrets(ctx context.Context) (map[string]string, error) {
	secret, err := c.client.Logical().ReadWithContext(ctx, c.secretPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret %s: %w", c.secretPath, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, c.secretPath)
	}

	data, ok := secret.Data["data"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no data", ErrSecretNotFound, c.secretPath)
	}

	secrets := make(map[string]string, len(data))
	for key, value := range data {
		if s, ok := value.(string); ok {
			secrets[key] = s
		}
	}
	return secrets, nil
}

// Health checks that Vault is reachable, initialised and unsealed
func (c *Client) Health(ctx context.Context) error {
	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to check vault health: %w", err)
	}
	if !health.Initialized || health.Sealed {
		return fmt.Errorf("vault not ready (initialized=%t, sealed=%t)", health.Initialized, health.Sealed)
	}
	return nil
}
