package integrity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerify(t *testing.T) {
	keys, err := NewKeys("integrity-secret")
	require.NoError(t, err)

	mac := keys.Verifier.Sign("id-1", "patient-1", "v1:rsa-oaep:AAAA")
	assert.Len(t, mac, 64)
	assert.True(t, keys.Verifier.Verify(mac, "id-1", "patient-1", "v1:rsa-oaep:AAAA"))

	tests := []struct {
		name   string
		mac    string
		fields []string
	}{
		{name: "changed field", mac: mac, fields: []string{"id-1", "patient-2", "v1:rsa-oaep:AAAA"}},
		{name: "shifted boundary", mac: mac, fields: []string{"id-1p", "atient-1", "v1:rsa-oaep:AAAA"}},
		{name: "missing field", mac: mac, fields: []string{"id-1", "patient-1"}},
		{name: "not hex", mac: "zz", fields: []string{"id-1", "patient-1", "v1:rsa-oaep:AAAA"}},
		{name: "empty mac", mac: "", fields: []string{"id-1", "patient-1", "v1:rsa-oaep:AAAA"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, keys.Verifier.Verify(tt.mac, tt.fields...))
		})
	}
}

func TestKeysAreIndependent(t *testing.T) {
	a, err := NewKeys("secret-a")
	require.NoError(t, err)
	b, err := NewKeys("secret-b")
	require.NoError(t, err)

	mac := a.Verifier.Sign("x")
	assert.False(t, b.Verifier.Verify(mac, "x"))

	// the index key differs from the MAC key
	assert.NotEqual(t, a.Verifier.Sign("x"), a.Indexer.Index("x"))
}

func TestIndexNormalizes(t *testing.T) {
	keys, err := NewKeys("integrity-secret")
	require.NoError(t, err)

	assert.Equal(t, keys.Indexer.Index("Jane@Example.com"), keys.Indexer.Index("  jane@example.com "))
	assert.NotEqual(t, keys.Indexer.Index("jane@example.com"), keys.Indexer.Index("john@example.com"))
}

func TestNewKeysRejectsEmptySecret(t *testing.T) {
	_, err := NewKeys("")
	assert.Error(t, err)
}
