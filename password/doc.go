// Package password implements Argon2id credential hashing in PHC string
// format with NFKC input normalization, an optional HMAC-SHA256 pepper,
// parameter upgrade detection, and complexity policy checks.
package password
