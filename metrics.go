package authvault

import "sync/atomic"

// MetricID identifies one engine counter.
type MetricID uint16

const (
	// MetricLoginSuccess counts successful logins.
	MetricLoginSuccess MetricID = iota
	// MetricLoginFailure counts credential failures.
	MetricLoginFailure
	// MetricLoginRateLimited counts logins denied by the rate limiter.
	MetricLoginRateLimited
	// MetricLoginLocked counts logins rejected by an active lockout.
	MetricLoginLocked
	// MetricLockoutTriggered counts lockouts armed by crossing the failure
	// threshold.
	MetricLockoutTriggered
	// MetricSessionCreated counts issued sessions.
	MetricSessionCreated
	// MetricSessionValidated counts successful validations.
	MetricSessionValidated
	// MetricSessionRotated counts token rotations.
	MetricSessionRotated
	// MetricSessionRevoked counts revocations from any path.
	MetricSessionRevoked
	// MetricSessionExpired counts validations rejected by absolute or idle
	// expiry.
	MetricSessionExpired
	// MetricSessionInvalid counts validations with unknown or mismatching
	// tokens.
	MetricSessionInvalid
	// MetricFingerprintMismatch counts fingerprint rejections.
	MetricFingerprintMismatch
	// MetricCSRFFailure counts CSRF verification failures.
	MetricCSRFFailure
	// MetricRegisterSuccess counts created accounts.
	MetricRegisterSuccess
	// MetricRegisterDuplicate counts registrations rejected for duplicate
	// username or email.
	MetricRegisterDuplicate
	// MetricVerificationIssued counts created verification tokens.
	MetricVerificationIssued
	// MetricVerificationConsumed counts successfully redeemed tokens.
	MetricVerificationConsumed
	// MetricVerificationFailed counts failed redemption attempts.
	MetricVerificationFailed
	// MetricPasswordResetRequest counts reset requests, including ones for
	// unknown emails.
	MetricPasswordResetRequest
	// MetricPasswordResetSuccess counts completed resets.
	MetricPasswordResetSuccess
	// MetricPasswordChangeSuccess counts completed in-session changes.
	MetricPasswordChangeSuccess
	// MetricPasswordReuseRejected counts new passwords rejected by history.
	MetricPasswordReuseRejected
	// MetricEmailChangeSuccess counts committed email changes.
	MetricEmailChangeSuccess
	// MetricAccountDeleted counts confirmed account deletions.
	MetricAccountDeleted
	// MetricRateLimitHit counts denials across all endpoints.
	MetricRateLimitHit
	metricIDCount
)

const cacheLineSize = 64

// paddedCounter keeps each counter on its own cache line so hot counters do
// not false-share under concurrent load.
type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds the engine's in-process atomic counters. A nil or disabled
// Metrics accepts increments and reports zeros.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]paddedCounter
}

// NewMetrics creates a Metrics set per the config.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

// Enabled reports whether counting is active.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc increments one counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Value reads one counter.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot returns a point-in-time copy of all counters.
func (m *Metrics) Snapshot() map[MetricID]uint64 {
	if m == nil || !m.enabled {
		return map[MetricID]uint64{}
	}

	s := make(map[MetricID]uint64, int(metricIDCount))
	for id := MetricID(0); id < metricIDCount; id++ {
		s[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return s
}
