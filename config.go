package authvault

import (
	"errors"
	"time"
)

// Config is the full engine configuration. Construct it from
// [Builder.WithConfig] starting at the defaults; it is validated once in
// [Builder.Build] and treated as immutable afterwards.
type Config struct {
	Session       SessionConfig
	Password      PasswordConfig
	Lockout       LockoutConfig
	Verification  VerificationConfig
	Registration  RegistrationConfig
	CSRF          CSRFConfig
	Fingerprint   FingerprintConfig
	RateLimit     RateLimitConfig
	Audit         AuditConfig
	Metrics       MetricsConfig
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls session token issuance, rotation, and caps.
type SessionConfig struct {
	// Secret keys the HMAC under which session and CSRF token secrets are
	// hashed before persistence. Required, at least 32 bytes.
	Secret []byte
	// TokenLength is the random secret size in bytes.
	TokenLength int
	// Lifetime is the absolute validity granted at issuance (and re-armed
	// on rotation, capped by AbsoluteLifetime).
	Lifetime time.Duration
	// AbsoluteLifetime caps total session age from creation regardless of
	// rotation. Zero means Lifetime is also the absolute cap.
	AbsoluteLifetime time.Duration
	// IdleTimeout revokes sessions with no validated activity for this
	// long. Zero disables idle expiry.
	IdleTimeout time.Duration
	// RefreshInterval and RotationFraction control token rotation: a
	// validation occurring more than RefreshInterval*RotationFraction after
	// the last update rotates the token pair.
	RefreshInterval  time.Duration
	RotationFraction float64
	// MaxSessionsPerUser bounds concurrent sessions; the oldest are revoked
	// transactionally when a new login would exceed it. Zero disables the cap.
	MaxSessionsPerUser int
	// PreventConcurrent revokes all existing sessions on every login.
	PreventConcurrent bool
	// RedisPrefix namespaces session keys.
	RedisPrefix string
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds Argon2id cost parameters, the server pepper, the
// complexity policy, and history depth.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	// Pepper is mixed into every password via HMAC before the KDF. Optional
	// but strongly recommended; changing it invalidates all stored hashes.
	Pepper []byte
	// UpgradeOnLogin transparently re-hashes on login when cost parameters
	// have been raised.
	UpgradeOnLogin bool

	MinLength      int
	MaxLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSymbol  bool

	// DisallowReuse enables the password-history check; HistoryDepth bounds
	// how many prior hashes the host store retains per user.
	DisallowReuse bool
	HistoryDepth  int
}

// LockoutConfig controls the failed-login counter and escalation curve.
type LockoutConfig struct {
	// Threshold is the failure count at which the first lockout triggers;
	// every further multiple triggers again with doubled duration.
	Threshold int
	// BaseDuration is the first lockout length; MaxDuration bounds the
	// escalation.
	BaseDuration time.Duration
	MaxDuration  time.Duration
	// FailureDelay adds a delay proportional to prior failures before the
	// password check, bounded by MaxFailureDelay. Zero disables it.
	FailureDelay    time.Duration
	MaxFailureDelay time.Duration
}

// VerificationConfig controls single-use verification tokens.
type VerificationConfig struct {
	// TokenLength is the random secret size in bytes.
	TokenLength int
	// TTL applies to email verification, email change, deletion, and
	// invitation tokens; ResetTTL applies to password reset tokens.
	TTL      time.Duration
	ResetTTL time.Duration
	// RequireVerifiedEmail gates login on a completed email verification.
	RequireVerifiedEmail bool
	// RedisPrefix namespaces verification keys.
	RedisPrefix string
}

// RegistrationConfig controls account creation.
type RegistrationConfig struct {
	Enabled           bool
	RequireInvitation bool
	// InvitationTTL bounds invitation token validity.
	InvitationTTL time.Duration
}

// CSRFConfig controls the double-submit token bound to each session.
type CSRFConfig struct {
	Enabled     bool
	TokenLength int
}

// FingerprintConfig controls request fingerprint binding.
type FingerprintConfig struct {
	Enabled bool
	// Strict requires an exact digest match; non-strict accepts a signal
	// similarity of at least SimilarityThreshold with an audit warning.
	Strict              bool
	SimilarityThreshold float64
	// IncludeIP adds the client IP to the signal set.
	IncludeIP bool
	// MinSignals is the minimum number of contributing signals for the
	// fingerprint to be recorded at all.
	MinSignals int
}

// EndpointLimit is one endpoint's fixed-window budget.
type EndpointLimit struct {
	Enabled bool
	Max     int
	Window  time.Duration
}

// RateLimitConfig holds per-endpoint budgets. PerIdentifier additionally
// keys login counters by identifier alongside IP.
type RateLimitConfig struct {
	PerIdentifier        bool
	Login                EndpointLimit
	Register             EndpointLimit
	PasswordResetRequest EndpointLimit
	PasswordResetConfirm EndpointLimit
	EmailVerify          EndpointLimit
	EmailChange          EndpointLimit
	AccountDeletion      EndpointLimit
	// RedisPrefix namespaces limiter keys.
	RedisPrefix string
}

// AuditConfig controls dispatcher buffering behavior.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig enables the in-process atomic counters.
type MetricsConfig struct {
	Enabled bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

func defaultConfig() Config {
	return Config{
		Session: SessionConfig{
			TokenLength:        32,
			Lifetime:           24 * time.Hour,
			AbsoluteLifetime:   30 * 24 * time.Hour,
			IdleTimeout:        2 * time.Hour,
			RefreshInterval:    time.Hour,
			RotationFraction:   0.5,
			MaxSessionsPerUser: 5,
			PreventConcurrent:  false,
			RedisPrefix:        "avs",
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
			MinLength:      8,
			MaxLength:      128,
			RequireUpper:   true,
			RequireLower:   true,
			RequireDigit:   true,
			RequireSymbol:  false,
			DisallowReuse:  true,
			HistoryDepth:   5,
		},
		Lockout: LockoutConfig{
			Threshold:       5,
			BaseDuration:    15 * time.Minute,
			MaxDuration:     24 * time.Hour,
			FailureDelay:    0,
			MaxFailureDelay: 2 * time.Second,
		},
		Verification: VerificationConfig{
			TokenLength:          32,
			TTL:                  24 * time.Hour,
			ResetTTL:             15 * time.Minute,
			RequireVerifiedEmail: false,
			RedisPrefix:          "avt",
		},
		Registration: RegistrationConfig{
			Enabled:           true,
			RequireInvitation: false,
			InvitationTTL:     7 * 24 * time.Hour,
		},
		CSRF: CSRFConfig{
			Enabled:     true,
			TokenLength: 32,
		},
		Fingerprint: FingerprintConfig{
			Enabled:             false,
			Strict:              false,
			SimilarityThreshold: 0.95,
			IncludeIP:           false,
			MinSignals:          3,
		},
		RateLimit: RateLimitConfig{
			PerIdentifier:        true,
			Login:                EndpointLimit{Enabled: true, Max: 10, Window: 15 * time.Minute},
			Register:             EndpointLimit{Enabled: true, Max: 5, Window: time.Hour},
			PasswordResetRequest: EndpointLimit{Enabled: true, Max: 5, Window: time.Hour},
			PasswordResetConfirm: EndpointLimit{Enabled: true, Max: 10, Window: time.Hour},
			EmailVerify:          EndpointLimit{Enabled: true, Max: 10, Window: time.Hour},
			EmailChange:          EndpointLimit{Enabled: true, Max: 5, Window: time.Hour},
			AccountDeletion:      EndpointLimit{Enabled: true, Max: 3, Window: 24 * time.Hour},
			RedisPrefix:          "avr",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Session.Secret = cloneBytes(cfg.Session.Secret)
	out.Password.Pepper = cloneBytes(cfg.Password.Pepper)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks the configuration for internal consistency. It is called
// once by [Builder.Build]; operations never re-validate per call.
func (c *Config) Validate() error {
	// Session
	if len(c.Session.Secret) < 32 {
		return errors.New("Session Secret must be at least 32 bytes")
	}
	if c.Session.TokenLength < 16 {
		return errors.New("Session TokenLength must be >= 16")
	}
	if c.Session.Lifetime <= 0 {
		return errors.New("Session Lifetime must be > 0")
	}
	if c.Session.AbsoluteLifetime > 0 && c.Session.AbsoluteLifetime < c.Session.Lifetime {
		return errors.New("Session AbsoluteLifetime must be >= Lifetime")
	}
	if c.Session.IdleTimeout < 0 {
		return errors.New("Session IdleTimeout must be >= 0")
	}
	if c.Session.RefreshInterval <= 0 {
		return errors.New("Session RefreshInterval must be > 0")
	}
	if c.Session.RotationFraction <= 0 || c.Session.RotationFraction > 1 {
		return errors.New("Session RotationFraction must be in (0, 1]")
	}
	if c.Session.MaxSessionsPerUser < 0 {
		return errors.New("Session MaxSessionsPerUser must be >= 0")
	}

	// Password KDF
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	// Password policy
	if c.Password.MinLength < 1 {
		return errors.New("Password MinLength must be >= 1")
	}
	if c.Password.MaxLength < c.Password.MinLength {
		return errors.New("Password MaxLength must be >= MinLength")
	}
	if c.Password.DisallowReuse && c.Password.HistoryDepth <= 0 {
		return errors.New("Password HistoryDepth must be > 0 when DisallowReuse is set")
	}

	// Lockout
	if c.Lockout.Threshold <= 0 {
		return errors.New("Lockout Threshold must be > 0")
	}
	if c.Lockout.BaseDuration <= 0 {
		return errors.New("Lockout BaseDuration must be > 0")
	}
	if c.Lockout.MaxDuration < c.Lockout.BaseDuration {
		return errors.New("Lockout MaxDuration must be >= BaseDuration")
	}
	if c.Lockout.FailureDelay < 0 {
		return errors.New("Lockout FailureDelay must be >= 0")
	}
	if c.Lockout.FailureDelay > 0 && c.Lockout.MaxFailureDelay < c.Lockout.FailureDelay {
		return errors.New("Lockout MaxFailureDelay must be >= FailureDelay")
	}

	// Verification
	if c.Verification.TokenLength < 16 {
		return errors.New("Verification TokenLength must be >= 16")
	}
	if c.Verification.TTL <= 0 {
		return errors.New("Verification TTL must be > 0")
	}
	if c.Verification.ResetTTL <= 0 {
		return errors.New("Verification ResetTTL must be > 0")
	}

	// Registration
	if c.Registration.RequireInvitation && !c.Registration.Enabled {
		return errors.New("Registration RequireInvitation requires Registration Enabled")
	}
	if c.Registration.RequireInvitation && c.Registration.InvitationTTL <= 0 {
		return errors.New("Registration InvitationTTL must be > 0 when invitations are required")
	}

	// CSRF
	if c.CSRF.Enabled && c.CSRF.TokenLength < 16 {
		return errors.New("CSRF TokenLength must be >= 16")
	}

	// Fingerprint
	if c.Fingerprint.Enabled {
		if c.Fingerprint.SimilarityThreshold < 0.95 || c.Fingerprint.SimilarityThreshold > 1 {
			return errors.New("Fingerprint SimilarityThreshold must be in [0.95, 1]")
		}
		if c.Fingerprint.MinSignals < 3 {
			return errors.New("Fingerprint MinSignals must be >= 3")
		}
	}

	// Rate limits
	for _, ep := range []struct {
		name  string
		limit EndpointLimit
	}{
		{"Login", c.RateLimit.Login},
		{"Register", c.RateLimit.Register},
		{"PasswordResetRequest", c.RateLimit.PasswordResetRequest},
		{"PasswordResetConfirm", c.RateLimit.PasswordResetConfirm},
		{"EmailVerify", c.RateLimit.EmailVerify},
		{"EmailChange", c.RateLimit.EmailChange},
		{"AccountDeletion", c.RateLimit.AccountDeletion},
	} {
		if !ep.limit.Enabled {
			continue
		}
		if ep.limit.Max <= 0 {
			return errors.New("RateLimit " + ep.name + " Max must be > 0 when enabled")
		}
		if ep.limit.Window <= 0 {
			return errors.New("RateLimit " + ep.name + " Window must be > 0 when enabled")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}
