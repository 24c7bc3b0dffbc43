package crypto

import "errors"

var (
	// ErrAuthenticationFailed indicates a ciphertext failed tag verification.
	// Always fatal for the operation; no partial plaintext is ever returned
	// alongside it.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrTruncatedInput indicates a blob or metadata record is too short to
	// contain what its framing promises.
	ErrTruncatedInput = errors.New("truncated input")
)
