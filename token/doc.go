// Package token implements the opaque credential codec shared by sessions,
// verification tokens, and CSRF values: random ID-plus-secret generation,
// base64url encoding, and keyed secret hashing with constant-time
// verification.
package token
