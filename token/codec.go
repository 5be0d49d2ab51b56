package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
)

// IDLength is the raw byte length of lookup identifiers. 128 bits keeps
// collision probability negligible at any realistic record count.
const IDLength = 16

var (
	// ErrMalformed is returned when an encoded token cannot be split into a
	// valid identifier and secret.
	ErrMalformed = errors.New("malformed token")
)

// Token is a freshly generated credential pair: a plaintext lookup ID, a
// random secret, and the single opaque string handed to the client. Only a
// keyed hash of Secret is ever persisted.
type Token struct {
	ID      string
	Secret  []byte
	Encoded string
}

// Generate creates a token with a random IDLength-byte identifier and a
// random secret of secretLength bytes. Encoded is
// base64url(idBytes || secret) with no padding.
func Generate(secretLength int) (Token, error) {
	if secretLength < 16 {
		return Token{}, errors.New("token secret length must be >= 16")
	}

	raw := make([]byte, IDLength+secretLength)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return Token{}, err
	}

	return Token{
		ID:      base64.RawURLEncoding.EncodeToString(raw[:IDLength]),
		Secret:  raw[IDLength:],
		Encoded: base64.RawURLEncoding.EncodeToString(raw),
	}, nil
}

// Decode splits an encoded token back into its identifier and secret. The
// secret length must match what the token was generated with; a mismatch
// or any decode failure returns ErrMalformed.
func Decode(encoded string, secretLength int) (id string, secret []byte, err error) {
	raw, decodeErr := base64.RawURLEncoding.DecodeString(encoded)
	if decodeErr != nil {
		return "", nil, ErrMalformed
	}
	if len(raw) != IDLength+secretLength {
		return "", nil, ErrMalformed
	}

	return base64.RawURLEncoding.EncodeToString(raw[:IDLength]), raw[IDLength:], nil
}

// HashSecret returns base64url(HMAC-SHA256(key, secret)). Keying the hash
// with a server secret means a leaked store is not enough to forge tokens.
func HashSecret(key, secret []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(secret)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// VerifySecret compares the keyed hash of secret against storedHash in
// constant time.
func VerifySecret(key, secret []byte, storedHash string) bool {
	expected, err := base64.RawURLEncoding.DecodeString(storedHash)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, key)
	mac.Write(secret)
	return hmac.Equal(mac.Sum(nil), expected)
}

// GenerateOpaque returns a base64url-encoded random string of n bytes, used
// for CSRF tokens and other single-value credentials.
func GenerateOpaque(n int) (string, error) {
	if n < 16 {
		return "", errors.New("opaque token length must be >= 16")
	}

	raw := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(raw), nil
}
