package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
)

// Reset and verification tokens are opaque 32-byte secrets, transported as
// base64url and stored only as hex SHA-256 digests. The plaintext exists in
// exactly one response.
const opaqueSecretSize = 32

func newOpaqueToken() (plaintext, digest string, err error) {
	var secret [opaqueSecretSize]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return "", "", err
	}
	sum := sha256.Sum256(secret[:])
	return base64.RawURLEncoding.EncodeToString(secret[:]), hex.EncodeToString(sum[:]), nil
}

// hashOpaqueToken recomputes the stored digest of a presented token. Any
// decode problem reports the same error, so malformed and unknown tokens are
// indistinguishable to callers.
func hashOpaqueToken(plaintext string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(plaintext)
	if err != nil {
		return "", errors.New("malformed token")
	}
	if len(raw) != opaqueSecretSize {
		return "", errors.New("malformed token")
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
