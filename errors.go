package authvault

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidInput indicates a request that failed structural validation
	// before any credential or token was examined.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidCredentials covers both unknown identifiers and wrong
	// passwords; callers must not be able to tell the two apart.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserBanned indicates the account is administratively banned.
	ErrUserBanned = errors.New("user banned")
	// ErrUserLocked indicates the account is temporarily locked after
	// repeated failed logins. Usually wrapped in a [LockedError].
	ErrUserLocked = errors.New("user locked")
	// ErrEmailNotVerified indicates correct credentials on an account that
	// has not completed email verification.
	ErrEmailNotVerified = errors.New("email not verified")
	// ErrRateLimitExceeded indicates a per-endpoint counter budget was
	// exhausted. Usually wrapped in a [RateLimitError].
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrRateLimitMisconfigured indicates an endpoint has rate limiting
	// enabled but no limiter was wired. This is a server misconfiguration,
	// not a client failure.
	ErrRateLimitMisconfigured = errors.New("rate limiter not configured for endpoint")

	// ErrSessionInvalid covers unknown session tokens and token-hash
	// mismatches.
	ErrSessionInvalid = errors.New("invalid session")
	// ErrSessionRevoked indicates the session row exists but was revoked.
	ErrSessionRevoked = errors.New("session revoked")
	// ErrSessionExpired indicates absolute or idle expiry.
	ErrSessionExpired = errors.New("session expired")
	// ErrSessionFingerprintMismatch indicates the request fingerprint did
	// not match the one bound at session creation.
	ErrSessionFingerprintMismatch = errors.New("session fingerprint mismatch")

	// ErrVerificationNotFound is an unknown or aged-out verification token.
	ErrVerificationNotFound = errors.New("verification token not found")
	// ErrVerificationExpired is a known token past its expiry.
	ErrVerificationExpired = errors.New("verification token expired")
	// ErrVerificationAlreadyUsed is a known token that was already consumed.
	ErrVerificationAlreadyUsed = errors.New("verification token already used")
	// ErrVerificationTypeMismatch is a known token presented for the wrong
	// purpose.
	ErrVerificationTypeMismatch = errors.New("verification token type mismatch")

	// ErrPasswordPreviouslyUsed rejects a new password found in history.
	ErrPasswordPreviouslyUsed = errors.New("password previously used")
	// ErrPasswordPolicy rejects a password failing complexity rules. Usually
	// wrapped in a [password.PolicyError] listing the failed rules.
	ErrPasswordPolicy = errors.New("password policy violation")

	// ErrRegistrationDisabled indicates account creation is switched off.
	ErrRegistrationDisabled = errors.New("registration disabled")
	// ErrUsernameExists indicates a duplicate username at registration.
	ErrUsernameExists = errors.New("username already exists")
	// ErrEmailExists indicates a duplicate email at registration or email
	// change.
	ErrEmailExists = errors.New("email already exists")
	// ErrInvitationRequired indicates registration requires an invitation
	// token and none was supplied.
	ErrInvitationRequired = errors.New("invitation required")
	// ErrInvitationExpired indicates the supplied invitation token expired.
	ErrInvitationExpired = errors.New("invitation expired")

	// ErrCSRFMissing indicates a state-changing request without a CSRF token.
	ErrCSRFMissing = errors.New("csrf token missing")
	// ErrCSRFInvalid indicates a CSRF token that does not match the session.
	ErrCSRFInvalid = errors.New("csrf token invalid")

	// ErrBackendUnavailable indicates an unexpected store, limiter, or
	// crypto failure. Details are logged through the audit sink, never
	// returned to the caller.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrEngineNotReady indicates the engine was used before Build wired
	// its dependencies.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrUserNotFound is returned by [UserStore] implementations; the engine
	// converts it to ErrInvalidCredentials on credential paths.
	ErrUserNotFound = errors.New("user not found")
)

// LockedError reports an active lockout together with the remaining wait.
// It unwraps to [ErrUserLocked].
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	remaining := time.Until(e.Until).Round(time.Second)
	if remaining < 0 {
		remaining = 0
	}
	return fmt.Sprintf("user locked for %s", remaining)
}

func (e *LockedError) Unwrap() error { return ErrUserLocked }

// RateLimitError reports an exhausted budget together with the window reset
// time. It unwraps to [ErrRateLimitExceeded].
type RateLimitError struct {
	Endpoint string
	ResetAt  time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s rate limited until %s", e.Endpoint, e.ResetAt.Format(time.RFC3339))
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimitExceeded }
