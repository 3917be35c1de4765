package fieldcrypt

import (
	"crypto/rand"
	"fmt"

	"github.com/cloudflare/circl/hpke"
	"github.com/cloudflare/circl/kem"
)

var (
	eccKEM   = hpke.KEM_X25519_HKDF_SHA256
	eccSuite = hpke.NewSuite(eccKEM, hpke.KDF_HKDF_SHA256, hpke.AEAD_AES256GCM)
	eccInfo  = []byte("sphere/field/v1")
)

// ECCScheme seals values with HPKE base mode to an X25519 key.
// Layout: encapsulated key | ciphertext.
type ECCScheme struct {
	priv kem.PrivateKey
	pub  kem.PublicKey
}

// NewECCScheme returns an ECC layer bound to priv.
func NewECCScheme(priv kem.PrivateKey) *ECCScheme {
	return &ECCScheme{priv: priv, pub: priv.Public()}
}

func (s *ECCScheme) Name() string { return SchemeECC }

func (s *ECCScheme) Seal(aad, plaintext []byte) ([]byte, error) {
	sender, err := eccSuite.NewSender(s.pub, eccInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to create hpke sender: %w", err)
	}
	enc, sealer, err := sender.Setup(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to set up hpke sender: %w", err)
	}
	ct, err := sealer.Seal(plaintext, aad)
	if err != nil {
		return nil, fmt.Errorf("failed to seal: %w", err)
	}
	return append(enc, ct...), nil
}

func (s *ECCScheme) Open(aad, ciphertext []byte) ([]byte, error) {
	encLen := eccKEM.Scheme().CiphertextSize()
	if len(ciphertext) < encLen {
		return nil, ErrMalformedEnvelope
	}

	receiver, err := eccSuite.NewReceiver(s.priv, eccInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to create hpke receiver: %w", err)
	}
	opener, err := receiver.Setup(ciphertext[:encLen])
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	plaintext, err := opener.Open(ciphertext[encLen:], aad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
