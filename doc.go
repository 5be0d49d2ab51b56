// Package authvault provides an embeddable session and credential security
// engine: opaque rotating session tokens, Argon2id password verification with
// progressive account lockout, single-use verification tokens (email verify,
// password reset, email change, account deletion), CSRF double-submit binding,
// and request fingerprinting.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// authvault is the public surface. It exposes [Engine], [Builder], [Config],
// sentinel errors, and value types (LoginResult, SessionValidation, etc.).
// Internal coordination — verification-token storage, rate limiting, audit
// dispatch — lives under internal/ and is never exported. Reusable primitives
// live in the password, token, and session sub-packages.
//
// # What this package must NOT do
//
//   - Persist a raw session, CSRF, or verification secret anywhere. Only
//     keyed hashes are stored.
//   - Implement its own user storage. User records, failed-login counters,
//     and password history belong to the host via [UserStore].
//   - Serialize cookies or send email. Raw tokens are handed to the caller
//     and to the [Mailer]; transport is fully delegated.
//
// # Performance contract
//
// ValidateSession is the hot path: one Redis round-trip when no rotation is
// due, two when rotating. Login pays the Argon2id cost by design; hosts with
// a latency-critical single thread must run it off that path.
package authvault
