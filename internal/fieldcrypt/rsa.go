package fieldcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	dataKeySize = 32
	gcmNonceLen = 12
)

// RSAScheme encrypts each value under a fresh data key and wraps that key
// with RSA-OAEP. Layout: u16 len(wrapped) | wrapped | nonce | ciphertext.
type RSAScheme struct {
	key *rsa.PrivateKey
}

// NewRSAScheme returns an RSA layer bound to key.
func NewRSAScheme(key *rsa.PrivateKey) *RSAScheme {
	return &RSAScheme{key: key}
}

func (s *RSAScheme) Name() string { return SchemeRSA }

func (s *RSAScheme) Seal(aad, plaintext []byte) ([]byte, error) {
	dataKey := make([]byte, dataKeySize)
	if _, err := io.ReadFull(rand.Reader, dataKey); err != nil {
		return nil, fmt.Errorf("failed to generate data key: %w", err)
	}

	gcm, err := newGCM(dataKey)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcmNonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, &s.key.PublicKey, dataKey, aad)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap data key: %w", err)
	}

	out := make([]byte, 2, 2+len(wrapped)+gcmNonceLen+len(plaintext)+gcm.Overhead())
	binary.BigEndian.PutUint16(out, uint16(len(wrapped)))
	out = append(out, wrapped...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, aad), nil
}

func (s *RSAScheme) Open(aad, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < 2 {
		return nil, ErrMalformedEnvelope
	}
	n := int(binary.BigEndian.Uint16(ciphertext))
	rest := ciphertext[2:]
	if len(rest) < n+gcmNonceLen {
		return nil, ErrMalformedEnvelope
	}

	dataKey, err := rsa.DecryptOAEP(sha256.New(), nil, s.key, rest[:n], aad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	gcm, err := newGCM(dataKey)
	if err != nil {
		return nil, err
	}

	nonce := rest[n : n+gcmNonceLen]
	plaintext, err := gcm.Open(nil, nonce, rest[n+gcmNonceLen:], aad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
