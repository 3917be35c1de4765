package fieldcrypt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sphere-health-server/internal/config"
)

func TestKeyringMarshalRoundTrip(t *testing.T) {
	kr := sharedKeyring(t)

	rsaPEM, eccB64, err := kr.Marshal()
	require.NoError(t, err)

	parsed, err := ParseKeyring(rsaPEM, eccB64)
	require.NoError(t, err)
	assert.True(t, kr.RSA.Equal(parsed.RSA))
	assert.True(t, kr.ECC.Equal(parsed.ECC))

	// a value sealed with the original keyring opens with the parsed one
	original, err := kr.Engine(DefaultPolicy())
	require.NoError(t, err)
	reloaded, err := parsed.Engine(DefaultPolicy())
	require.NoError(t, err)

	sealed, err := original.EncryptField(FieldConfidentialNotes, "carry over")
	require.NoError(t, err)
	plain, err := reloaded.DecryptField(FieldConfidentialNotes, sealed)
	require.NoError(t, err)
	assert.Equal(t, "carry over", plain)
}

func TestLoadKeyringDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")

	_, _, err := LoadKeyringDir(dir, false)
	assert.ErrorIs(t, err, ErrMissingKey)

	first, generated, err := LoadKeyringDir(dir, true)
	require.NoError(t, err)
	assert.True(t, generated)

	info, err := os.Stat(filepath.Join(dir, rsaKeyFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	second, generated, err := LoadKeyringDir(dir, true)
	require.NoError(t, err)
	assert.False(t, generated)
	assert.True(t, first.RSA.Equal(second.RSA))

	require.NoError(t, os.Remove(filepath.Join(dir, eccKeyFile)))
	_, _, err = LoadKeyringDir(dir, true)
	assert.ErrorIs(t, err, ErrMissingKey)
}

func mockVaultServer(t *testing.T, data map[string]interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/secret/data/sphere/keys" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[]}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"data": data,
				"metadata": map[string]interface{}{
					"created_time":  "2024-01-01T00:00:00Z",
					"deletion_time": "",
					"destroyed":     false,
					"version":       1,
				},
			},
		})
	}))
}

func TestLoadKeyringFromVault(t *testing.T) {
	kr := sharedKeyring(t)
	rsaPEM, eccB64, err := kr.Marshal()
	require.NoError(t, err)

	server := mockVaultServer(t, map[string]interface{}{
		"rsa_private_pem": rsaPEM,
		"x25519_private":  eccB64,
	})
	defer server.Close()

	cfg := config.KeyConfig{
		Source:     "vault",
		VaultAddr:  server.URL,
		VaultToken: "test-token",
		VaultMount: "secret",
		VaultPath:  "sphere/keys",
	}
	loaded, err := LoadKeyring(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.True(t, kr.RSA.Equal(loaded.RSA))
}

func TestLoadKeyringFromVaultMissingFields(t *testing.T) {
	server := mockVaultServer(t, map[string]interface{}{"unrelated": "x"})
	defer server.Close()

	src, err := NewVaultSource(config.KeyConfig{
		VaultAddr:  server.URL,
		VaultToken: "test-token",
		VaultMount: "secret",
		VaultPath:  "sphere/keys",
	})
	require.NoError(t, err)

	_, err = src.Load(context.Background())
	assert.ErrorIs(t, err, ErrMissingKey)
}
