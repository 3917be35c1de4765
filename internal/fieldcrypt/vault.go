package fieldcrypt

import (
	"context"
	"fmt"

	"github.com/hashicorp/vault/api"

	"sphere-health-server/internal/config"
)

// VaultSource reads the keyring from a KV v2 secret holding
// rsa_private_pem and x25519_private.
type VaultSource struct {
	client *api.Client
	mount  string
	path   string
}

// NewVaultSource creates a Vault client from cfg.
func NewVaultSource(cfg config.KeyConfig) (*VaultSource, error) {
	vaultCfg := api.DefaultConfig()
	if cfg.VaultAddr != "" {
		vaultCfg.Address = cfg.VaultAddr
	}

	client, err := api.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if cfg.VaultToken != "" {
		client.SetToken(cfg.VaultToken)
	}

	return &VaultSource{client: client, mount: cfg.VaultMount, path: cfg.VaultPath}, nil
}

// Load fetches and parses the keyring.
func (v *VaultSource) Load(ctx context.Context) (*Keyring, error) {
	secret, err := v.client.KVv2(v.mount).Get(ctx, v.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keys from vault: %w", err)
	}

	rsaPEM, _ := secret.Data["rsa_private_pem"].(string)
	eccB64, _ := secret.Data["x25519_private"].(string)
	if rsaPEM == "" || eccB64 == "" {
		return nil, fmt.Errorf("%w: vault secret %s/%s lacks rsa_private_pem or x25519_private", ErrMissingKey, v.mount, v.path)
	}
	return ParseKeyring(rsaPEM, eccB64)
}
