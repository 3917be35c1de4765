// Package integrity computes record MACs and blind lookup indexes. Both keys
// are derived from one secret that is independent of the encryption keys.
package integrity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	keySize = 32

	recordMACInfo  = "sphere/record-mac/v1"
	blindIndexInfo = "sphere/blind-index/v1"
)

// Keys bundles the two derived keys.
type Keys struct {
	Verifier *Verifier
	Indexer  *Indexer
}

// NewKeys derives the record MAC key and the blind index key from secret.
func NewKeys(secret string) (*Keys, error) {
	if secret == "" {
		return nil, errors.New("integrity secret is empty")
	}
	macKey, err := deriveKey([]byte(secret), recordMACInfo)
	if err != nil {
		return nil, err
	}
	indexKey, err := deriveKey([]byte(secret), blindIndexInfo)
	if err != nil {
		return nil, err
	}
	return &Keys{
		Verifier: &Verifier{key: macKey},
		Indexer:  &Indexer{key: indexKey},
	}, nil
}

func deriveKey(secret []byte, info string) ([]byte, error) {
	reader := hkdf.New(sha256.New, secret, nil, []byte(info))
	key := make([]byte, keySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

// Verifier signs and checks record MACs.
type Verifier struct {
	key []byte
}

// Sign returns the hex HMAC-SHA256 of fields. Each field is length-prefixed
// so ("ab","c") and ("a","bc") sign differently.
func (v *Verifier) Sign(fields ...string) string {
	return hex.EncodeToString(v.sum(fields))
}

// Verify reports whether mac matches fields.
func (v *Verifier) Verify(mac string, fields ...string) bool {
	got, err := hex.DecodeString(mac)
	if err != nil {
		return false
	}
	return hmac.Equal(got, v.sum(fields))
}

func (v *Verifier) sum(fields []string) []byte {
	m := hmac.New(sha256.New, v.key)
	writeFields(m, fields)
	return m.Sum(nil)
}

func writeFields(h hash.Hash, fields []string) {
	var n [8]byte
	for _, f := range fields {
		binary.BigEndian.PutUint64(n[:], uint64(len(f)))
		h.Write(n[:])
		h.Write([]byte(f))
	}
}

// Indexer produces deterministic keyed hashes for equality lookups on
// encrypted columns.
type Indexer struct {
	key []byte
}

// Index normalizes value (trimmed, lower-cased) and returns its hex HMAC.
func (i *Indexer) Index(value string) string {
	m := hmac.New(sha256.New, i.key)
	m.Write([]byte(strings.ToLower(strings.TrimSpace(value))))
	return hex.EncodeToString(m.Sum(nil))
}
