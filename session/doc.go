// Package session implements Redis-backed server-side session storage: one
// hash per session, a per-user sorted-set index, Lua compare-and-swap token
// rotation, and revocation records that outlive the revoke until natural
// expiry.
package session
