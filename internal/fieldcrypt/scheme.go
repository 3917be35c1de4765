// Package fieldcrypt seals individual record fields under asymmetric schemes
// chosen per field by a policy.
package fieldcrypt

const (
	// SchemeRSA wraps a per-value AES-256-GCM key with RSA-OAEP-SHA256.
	SchemeRSA = "rsa-oaep"
	// SchemeECC is HPKE base mode over X25519, HKDF-SHA256 and AES-256-GCM.
	SchemeECC = "x25519-hpke"
)

// Scheme is one encryption layer. The aad is bound into the ciphertext and
// must be presented again to open it.
type Scheme interface {
	Name() string
	Seal(aad, plaintext []byte) ([]byte, error)
	Open(aad, ciphertext []byte) ([]byte, error)
}
