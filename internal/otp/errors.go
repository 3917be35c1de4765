package otp

import "errors"

var (
	// ErrCodeExpired is returned when a code is presented after its window.
	ErrCodeExpired = errors.New("verification code expired")

	// ErrCodeMismatch is returned when the code does not match.
	ErrCodeMismatch = errors.New("verification code does not match")

	// ErrTokenInvalid is returned for unknown, consumed or dead temporary
	// tokens, and for tokens presented to the wrong flow.
	ErrTokenInvalid = errors.New("temporary token is invalid")

	// ErrNotFound is returned by stores when no live challenge matches.
	ErrNotFound = errors.New("challenge not found")
)
