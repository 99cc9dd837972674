package secrets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	vault "github.com/hashicorp/vault/api"
	"go.uber.org/zap"

	"github.com/arwahdevops/dbtruncate/internal/config"
)

// VaultManager reads target database credentials from a Vault KV v2 mount.
type VaultManager struct {
	client    *vault.Client
	mountPath string
	enabled   bool
	logger    *zap.Logger
}

var _ SecretManager = (*VaultManager)(nil)

func NewVaultManager(cfg *config.Config, baseLogger *zap.Logger) (*VaultManager, error) {
	log := baseLogger.Named("vault-manager")
	if !cfg.VaultEnabled {
		log.Debug("Vault secret manager is disabled via configuration.")
		return &VaultManager{logger: log}, nil
	}

	log.Info("Initializing Vault secret manager", zap.String("address", cfg.VaultAddr), zap.String("mount", cfg.VaultMountPath))

	vConfig := vault.DefaultConfig()
	vConfig.Address = cfg.VaultAddr
	vConfig.Timeout = 10 * time.Second

	if err := vConfig.ConfigureTLS(&vault.TLSConfig{
		CACert:   cfg.VaultCACert,
		Insecure: cfg.VaultSkipVerify,
	}); err != nil {
		return nil, fmt.Errorf("failed to configure Vault TLS: %w", err)
	}

	client, err := vault.NewClient(vConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if cfg.VaultToken != "" {
		client.SetToken(cfg.VaultToken)
	} else {
		log.Warn("Vault is enabled but VAULT_TOKEN is empty; relying on the client's default token lookup.")
	}

	return newVaultManagerWithClient(client, cfg.VaultMountPath, log), nil
}

func newVaultManagerWithClient(client *vault.Client, mountPath string, log *zap.Logger) *VaultManager {
	if mountPath == "" {
		mountPath = "secret"
	}
	return &VaultManager{
		client:    client,
		mountPath: mountPath,
		enabled:   client != nil,
		logger:    log,
	}
}

func (m *VaultManager) IsEnabled() bool {
	return m != nil && m.enabled && m.client != nil
}

// GetCredentials reads path from the KV v2 mount. The password must be a
// non-empty string; the username may be absent and is then left empty for
// the caller to fill from DB_USER.
func (m *VaultManager) GetCredentials(ctx context.Context, path, usernameKey, passwordKey string) (*Credentials, error) {
	if !m.IsEnabled() {
		return nil, fmt.Errorf("vault manager is not enabled or not initialized")
	}
	if path == "" {
		return nil, fmt.Errorf("vault secret path cannot be empty")
	}
	if usernameKey == "" {
		usernameKey = "username"
	}
	if passwordKey == "" {
		passwordKey = "password"
	}

	log := m.logger.With(zap.String("vault_path", path))

	secret, err := m.client.KVv2(m.mountPath).Get(ctx, path)
	if err != nil {
		var respErr *vault.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("secret '%s' not found in Vault: %w", path, err)
		}
		return nil, fmt.Errorf("failed to read secret '%s' from Vault: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("secret data for '%s' is empty", path)
	}

	password, _ := secret.Data[passwordKey].(string)
	if password == "" {
		return nil, fmt.Errorf("password key '%s' is missing or not a non-empty string in secret '%s'", passwordKey, path)
	}
	username, _ := secret.Data[usernameKey].(string)

	log.Info("Retrieved database credentials from Vault", zap.Bool("username_present", username != ""))
	return &Credentials{Username: username, Password: password}, nil
}
