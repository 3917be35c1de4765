package fieldcrypt

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cloudflare/circl/kem"
	"github.com/rs/zerolog"

	"sphere-health-server/internal/config"
)

const (
	// DefaultRSABits is the modulus size for generated RSA keys.
	DefaultRSABits = 2048

	rsaKeyFile = "rsa_private.pem"
	eccKeyFile = "x25519_private.key"
)

// Keyring holds the system-wide private keys for both schemes.
type Keyring struct {
	RSA *rsa.PrivateKey
	ECC kem.PrivateKey
}

// GenerateKeyring creates a fresh RSA key of the given size and an X25519 key.
func GenerateKeyring(rsaBits int) (*Keyring, error) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, rsaBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate rsa key: %w", err)
	}
	_, eccKey, err := eccKEM.Scheme().GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate x25519 key: %w", err)
	}
	return &Keyring{RSA: rsaKey, ECC: eccKey}, nil
}

// Engine builds an Engine over both of the keyring's schemes.
func (k *Keyring) Engine(policy Policy) (*Engine, error) {
	return NewEngine(policy, NewRSAScheme(k.RSA), NewECCScheme(k.ECC))
}

// LoadKeyring reads keys from the configured source.
func LoadKeyring(ctx context.Context, cfg config.KeyConfig, log zerolog.Logger) (*Keyring, error) {
	switch cfg.Source {
	case "vault":
		src, err := NewVaultSource(cfg)
		if err != nil {
			return nil, err
		}
		kr, err := src.Load(ctx)
		if err != nil {
			return nil, err
		}
		log.Info().Str("source", "vault").Str("path", cfg.VaultPath).Msg("field encryption keys loaded")
		return kr, nil
	case "file", "":
		kr, generated, err := LoadKeyringDir(cfg.Dir, cfg.AutoGenerate)
		if err != nil {
			return nil, err
		}
		if generated {
			log.Warn().Str("dir", cfg.Dir).Msg("generated new field encryption keys")
		} else {
			log.Info().Str("source", "file").Str("dir", cfg.Dir).Msg("field encryption keys loaded")
		}
		return kr, nil
	default:
		return nil, fmt.Errorf("unsupported key source %q", cfg.Source)
	}
}

// LoadKeyringDir reads both key files from dir. When neither exists and
// autoGenerate is set, a new keyring is written there with owner-only
// permissions. A directory holding only one of the two files is an error.
func LoadKeyringDir(dir string, autoGenerate bool) (kr *Keyring, generated bool, err error) {
	rsaPath := filepath.Join(dir, rsaKeyFile)
	eccPath := filepath.Join(dir, eccKeyFile)

	rsaPEM, rsaErr := os.ReadFile(rsaPath)
	eccB64, eccErr := os.ReadFile(eccPath)

	switch {
	case rsaErr == nil && eccErr == nil:
		parsed, perr := ParseKeyring(string(rsaPEM), string(eccB64))
		return parsed, false, perr
	case errors.Is(rsaErr, os.ErrNotExist) && errors.Is(eccErr, os.ErrNotExist):
		if !autoGenerate {
			return nil, false, fmt.Errorf("%w: no keys in %s", ErrMissingKey, dir)
		}
	case rsaErr != nil && !errors.Is(rsaErr, os.ErrNotExist):
		return nil, false, fmt.Errorf("failed to read %s: %w", rsaPath, rsaErr)
	case eccErr != nil && !errors.Is(eccErr, os.ErrNotExist):
		return nil, false, fmt.Errorf("failed to read %s: %w", eccPath, eccErr)
	default:
		return nil, false, fmt.Errorf("%w: %s holds only one of %s and %s", ErrMissingKey, dir, rsaKeyFile, eccKeyFile)
	}

	kr, err = GenerateKeyring(DefaultRSABits)
	if err != nil {
		return nil, false, err
	}
	rsaText, eccText, err := kr.Marshal()
	if err != nil {
		return nil, false, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, false, fmt.Errorf("failed to create key dir: %w", err)
	}
	if err := os.WriteFile(rsaPath, []byte(rsaText), 0o600); err != nil {
		return nil, false, fmt.Errorf("failed to write rsa key: %w", err)
	}
	if err := os.WriteFile(eccPath, []byte(eccText), 0o600); err != nil {
		return nil, false, fmt.Errorf("failed to write x25519 key: %w", err)
	}
	return kr, true, nil
}

// Marshal encodes the RSA key as PKCS#8 PEM and the X25519 key as base64.
func (k *Keyring) Marshal() (rsaPEM, eccB64 string, err error) {
	der, err := x509.MarshalPKCS8PrivateKey(k.RSA)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal rsa key: %w", err)
	}
	raw, err := k.ECC.MarshalBinary()
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal x25519 key: %w", err)
	}
	rsaPEM = string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
	return rsaPEM, base64.StdEncoding.EncodeToString(raw) + "\n", nil
}

// ParseKeyring is the inverse of Marshal.
func ParseKeyring(rsaPEM, eccB64 string) (*Keyring, error) {
	block, _ := pem.Decode([]byte(rsaPEM))
	if block == nil {
		return nil, fmt.Errorf("%w: rsa key is not PEM", ErrMissingKey)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rsa key: %w", err)
	}
	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, not RSA", parsed)
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(eccB64))
	if err != nil {
		return nil, fmt.Errorf("failed to decode x25519 key: %w", err)
	}
	eccKey, err := eccKEM.Scheme().UnmarshalBinaryPrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse x25519 key: %w", err)
	}

	return &Keyring{RSA: rsaKey, ECC: eccKey}, nil
}
