package authvault

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/authvault/authvault/internal/audit"
)

// VerificationPurpose is the closed set of flows a single-use verification
// token can authorize. A token is only consumable for the purpose it was
// created with.
type VerificationPurpose uint8

const (
	// PurposeEmailVerification proves ownership of the registration email.
	PurposeEmailVerification VerificationPurpose = iota
	// PurposePasswordReset authorizes a password reset completion.
	PurposePasswordReset
	// PurposeEmailChange authorizes swapping to the pending email carried
	// in the token metadata.
	PurposeEmailChange
	// PurposeAccountDeletion authorizes irreversible account deletion.
	PurposeAccountDeletion
	// PurposeInvitation authorizes registration when invitations are
	// required.
	PurposeInvitation
)

// String returns the audit/mailer name of the purpose.
func (p VerificationPurpose) String() string {
	switch p {
	case PurposeEmailVerification:
		return "email_verification"
	case PurposePasswordReset:
		return "password_reset"
	case PurposeEmailChange:
		return "email_change"
	case PurposeAccountDeletion:
		return "account_deletion"
	case PurposeInvitation:
		return "invitation"
	default:
		return "unknown"
	}
}

// UserRecord is the account snapshot returned by [UserStore]. It carries the
// credential hash, verification and ban flags, and the lockout bookkeeping
// fields the login machine reads and writes.
type UserRecord struct {
	UserID        string
	Username      string
	Email         string
	PendingEmail  string
	PasswordHash  string
	EmailVerified bool
	Banned        bool

	FailedLogins int
	LockedUntil  time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateUserInput is the input for [UserStore.CreateUser].
type CreateUserInput struct {
	UserID        string
	Username      string
	Email         string
	PasswordHash  string
	EmailVerified bool
}

// UserStore is the persistence interface the host application must implement.
// All mutating methods must be durable before returning; the methods marked
// atomic must not lose updates under concurrent callers.
type UserStore interface {
	GetUserByID(ctx context.Context, userID string) (UserRecord, error)
	GetUserByUsername(ctx context.Context, username string) (UserRecord, error)
	GetUserByEmail(ctx context.Context, email string) (UserRecord, error)

	// CreateUser must return ErrUsernameExists or ErrEmailExists on
	// uniqueness violations.
	CreateUser(ctx context.Context, input CreateUserInput) (UserRecord, error)

	// RecordLoginFailure atomically increments the failed-login counter and
	// returns the new value.
	RecordLoginFailure(ctx context.Context, userID string) (int, error)
	// SetLockout persists the lockout deadline. A zero time clears it.
	SetLockout(ctx context.Context, userID string, until time.Time) error
	// ClearLoginFailures zeroes the counter and clears any lockout.
	ClearLoginFailures(ctx context.Context, userID string) error

	// UpdatePasswordHash replaces the credential hash, appends the previous
	// hash to the history, and prunes history beyond historyDepth — all in
	// one transaction.
	UpdatePasswordHash(ctx context.Context, userID, newHash string, historyDepth int) error
	// PasswordHistory returns up to historyDepth prior hashes, newest first.
	PasswordHistory(ctx context.Context, userID string, historyDepth int) ([]string, error)

	SetEmailVerified(ctx context.Context, userID string, verified bool) error
	SetPendingEmail(ctx context.Context, userID, pendingEmail string) error
	// CommitEmailChange promotes the pending email to the primary email and
	// clears the pending field.
	CommitEmailChange(ctx context.Context, userID, newEmail string) error

	// DeleteUser removes the user and cascades to history rows. Session and
	// verification rows are revoked by the engine before this is called.
	DeleteUser(ctx context.Context, userID string) error
}

// Mailer delivers raw verification tokens out-of-band. Implementations own
// templating and transport; the engine never formats message bodies.
type Mailer interface {
	Send(ctx context.Context, purpose VerificationPurpose, toAddress, token string, meta map[string]string) error
}

// RateLimitResult is one limiter decision.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	Limit     int
	ResetAt   time.Time
}

// RateLimiter is the abstract counter service guarding sensitive endpoints.
// Keys are opaque strings composed by the engine (endpoint plus IP and
// optionally identifier). The built-in Redis limiter is wired by default.
type RateLimiter interface {
	Limit(ctx context.Context, key string, max int, window time.Duration) (RateLimitResult, error)
}

// DeviceInfo carries optional client metadata bound to a session at login.
type DeviceInfo struct {
	Device   string
	Location string
}

// LoginResult is returned by [Engine.Login] and [Engine.Register] (when the
// latter auto-issues a session). Raw tokens are handed to the transport
// layer exactly once and never persisted.
type LoginResult struct {
	UserID       string
	SessionID    string
	SessionToken string
	CSRFToken    string
	ExpiresAt    time.Time
}

// SessionValidation is returned by [Engine.ValidateSession]. When Rotated is
// true the caller must re-issue SessionToken and CSRFToken to the client;
// the previous token pair is no longer valid.
type SessionValidation struct {
	UserID    string
	SessionID string
	Rotated   bool
	// SessionToken and CSRFToken are set only when Rotated is true.
	SessionToken string
	CSRFToken    string
	ExpiresAt    time.Time
}

// SessionInfo is a read-only session summary for [Engine.ListSessions].
type SessionInfo struct {
	SessionID string
	Device    string
	Location  string
	IP        string
	UserAgent string
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time
	Revoked   bool
	Rotations int
}

// RegisterRequest is the input for [Engine.Register].
type RegisterRequest struct {
	Username   string
	Email      string
	Password   string
	Invitation string
}

// RegisterResult is returned by [Engine.Register].
type RegisterResult struct {
	UserID string
	// VerificationSent reports whether an email-verification token was
	// created and handed to the mailer.
	VerificationSent bool
}

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an [AuditSink] that writes JSON-encoded events to an
// [io.Writer].
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}
