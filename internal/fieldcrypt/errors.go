package fieldcrypt

import "errors"

var (
	// ErrUnknownScheme is returned when a policy or an envelope names a scheme
	// the engine has no key for.
	ErrUnknownScheme = errors.New("unknown encryption scheme")

	// ErrUnknownField is returned when a field has no policy entry.
	ErrUnknownField = errors.New("no encryption policy for field")

	// ErrMalformedEnvelope is returned when a stored value cannot be parsed.
	ErrMalformedEnvelope = errors.New("malformed ciphertext envelope")

	// ErrDecryptionFailed is returned when authentication of a layer fails.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrMissingKey is returned when a key source has no material.
	ErrMissingKey = errors.New("missing key material")
)
