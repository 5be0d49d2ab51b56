package authvault

import (
	"context"
	"errors"
	"strconv"
	"time"
)

const (
	endpointLogin = "login"

	auditLogin   = "login"
	auditLockout = "lockout"
)

// Login verifies credentials for a username or email identifier and issues a
// session. The identifier is treated as an email when it contains '@'.
//
// Unknown identifiers and wrong passwords both return ErrInvalidCredentials
// after a full-cost dummy hash, so the two are indistinguishable by response
// or by timing. An active lockout is reported before the password is
// examined and without charging the failure counter.
func (e *Engine) Login(ctx context.Context, identifier, passwd string, device DeviceInfo) (*LoginResult, error) {
	if identifier == "" || passwd == "" {
		return nil, ErrInvalidInput
	}

	if err := e.rateGate(ctx, endpointLogin, e.config.RateLimit.Login, identifier); err != nil {
		if errors.Is(err, ErrRateLimitExceeded) {
			e.metrics.Inc(MetricLoginRateLimited)
			e.emitAudit(ctx, auditLogin, "", "", false, err, nil)
		}
		return nil, err
	}

	user, err := e.lookupByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.hasher.DummyVerify(passwd)
			e.metrics.Inc(MetricLoginFailure)
			e.emitAudit(ctx, auditLogin, "", "", false, ErrInvalidCredentials, nil)
			return nil, ErrInvalidCredentials
		}
		return nil, e.backendError(err)
	}

	if user.Banned {
		e.emitAudit(ctx, auditLogin, user.UserID, "", false, ErrUserBanned, nil)
		return nil, ErrUserBanned
	}

	now := time.Now()
	if user.LockedUntil.After(now) {
		lockErr := &LockedError{Until: user.LockedUntil}
		e.metrics.Inc(MetricLoginLocked)
		e.emitAudit(ctx, auditLogin, user.UserID, "", false, lockErr, nil)
		return nil, lockErr
	}

	if err := e.failureDelay(ctx, user.FailedLogins); err != nil {
		return nil, err
	}

	match, err := e.hasher.Verify(passwd, user.PasswordHash)
	if err != nil {
		return nil, e.backendError(err)
	}
	if !match {
		return nil, e.recordFailure(ctx, user)
	}

	if e.config.Verification.RequireVerifiedEmail && !user.EmailVerified {
		// Correct credentials: the failure counter resets even though no
		// session is issued.
		if err := e.users.ClearLoginFailures(ctx, user.UserID); err != nil {
			return nil, e.backendError(err)
		}
		e.emitAudit(ctx, auditLogin, user.UserID, "", false, ErrEmailNotVerified, nil)
		return nil, ErrEmailNotVerified
	}

	if user.FailedLogins > 0 || !user.LockedUntil.IsZero() {
		if err := e.users.ClearLoginFailures(ctx, user.UserID); err != nil {
			return nil, e.backendError(err)
		}
	}

	e.maybeUpgradeHash(ctx, user, passwd)

	if e.config.Session.PreventConcurrent {
		if _, err := e.sessions.RevokeAllForUser(ctx, user.UserID, "", "concurrent_login", clientIPFromContext(ctx), now); err != nil {
			return nil, e.backendError(err)
		}
	}

	result, err := e.createSession(ctx, user.UserID, device)
	if err != nil {
		return nil, err
	}

	e.metrics.Inc(MetricLoginSuccess)
	e.emitAudit(ctx, auditLogin, user.UserID, result.SessionID, true, nil, nil)

	return result, nil
}

// failureDelay slows repeated attempts against an account that already has
// failures on record. The wait is proportional to the failure count, capped,
// and abandons early when the context is done.
func (e *Engine) failureDelay(ctx context.Context, failures int) error {
	if e.config.Lockout.FailureDelay <= 0 || failures <= 0 {
		return nil
	}

	delay := time.Duration(failures) * e.config.Lockout.FailureDelay
	if max := e.config.Lockout.MaxFailureDelay; max > 0 && delay > max {
		delay = max
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// recordFailure charges one failed attempt and arms an escalating lockout
// each time the counter crosses a multiple of the threshold: the lockout
// duration doubles per trigger, capped at MaxDuration.
func (e *Engine) recordFailure(ctx context.Context, user UserRecord) error {
	failures, err := e.users.RecordLoginFailure(ctx, user.UserID)
	if err != nil {
		return e.backendError(err)
	}

	e.metrics.Inc(MetricLoginFailure)

	threshold := e.config.Lockout.Threshold
	if failures > 0 && failures%threshold == 0 {
		trigger := failures / threshold
		duration := e.lockoutDuration(trigger)
		until := time.Now().Add(duration)

		if err := e.users.SetLockout(ctx, user.UserID, until); err != nil {
			return e.backendError(err)
		}

		e.metrics.Inc(MetricLockoutTriggered)
		e.emitAudit(ctx, auditLockout, user.UserID, "", false, ErrUserLocked, map[string]string{
			"failures": strconv.Itoa(failures),
			"until":    until.Format(time.RFC3339),
		})

		return &LockedError{Until: until}
	}

	e.emitAudit(ctx, auditLogin, user.UserID, "", false, ErrInvalidCredentials, nil)
	return ErrInvalidCredentials
}

func (e *Engine) lockoutDuration(trigger int) time.Duration {
	duration := e.config.Lockout.BaseDuration
	for i := 1; i < trigger; i++ {
		duration *= 2
		if duration >= e.config.Lockout.MaxDuration {
			return e.config.Lockout.MaxDuration
		}
	}
	if duration > e.config.Lockout.MaxDuration {
		duration = e.config.Lockout.MaxDuration
	}
	return duration
}

// maybeUpgradeHash transparently re-hashes the password after a successful
// verify when cost parameters have been raised. Failures are not fatal; the
// old hash still works and the next login retries.
func (e *Engine) maybeUpgradeHash(ctx context.Context, user UserRecord, passwd string) {
	if !e.config.Password.UpgradeOnLogin {
		return
	}

	needs, err := e.hasher.NeedsUpgrade(user.PasswordHash)
	if err != nil || !needs {
		return
	}

	newHash, err := e.hasher.Hash(passwd)
	if err != nil {
		return
	}

	if err := e.users.UpdatePasswordHash(ctx, user.UserID, newHash, e.config.Password.HistoryDepth); err != nil {
		e.emitAudit(ctx, "password_upgrade", user.UserID, "", false, err, nil)
	}
}
