package authvault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/authvault/authvault/session"
	"github.com/authvault/authvault/token"
)

const (
	auditSession     = "session"
	auditLogout      = "logout"
	auditFingerprint = "fingerprint"

	reasonLogout      = "logout"
	reasonIdleTimeout = "idle_timeout"
	reasonBanned      = "banned"
	reasonFingerprint = "fingerprint_mismatch"
	reasonUserGone    = "user_deleted"
)

// createSession mints a session and CSRF token pair, binds the request
// fingerprint when available, and persists the record under the configured
// per-user cap.
func (e *Engine) createSession(ctx context.Context, userID string, device DeviceInfo) (*LoginResult, error) {
	tok, err := token.Generate(e.config.Session.TokenLength)
	if err != nil {
		return nil, e.backendError(err)
	}

	var csrfToken, csrfHash string
	if e.config.CSRF.Enabled {
		csrfToken, err = token.GenerateOpaque(e.config.CSRF.TokenLength)
		if err != nil {
			return nil, e.backendError(err)
		}
		csrfHash = token.HashSecret(e.config.Session.Secret, []byte(csrfToken))
	}

	now := time.Now()
	sess := &session.Session{
		ID:        tok.ID,
		UserID:    userID,
		TokenHash: token.HashSecret(e.config.Session.Secret, tok.Secret),
		CSRFHash:  csrfHash,
		Device:    device.Device,
		Location:  device.Location,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		CreatedAt: now.UnixMilli(),
		UpdatedAt: now.UnixMilli(),
		ExpiresAt: now.Add(e.config.Session.Lifetime).UnixMilli(),
	}

	if e.config.Fingerprint.Enabled {
		combined, signals, ok := e.fp.compute(ctx)
		if ok {
			sess.Fingerprint = combined
			sess.Signals = signals
		} else {
			// Too few signals to bind; the session stays unpinned.
			e.emitAudit(ctx, auditFingerprint, userID, tok.ID, false, nil, map[string]string{
				"reason": "insufficient_signals",
			})
		}
	}

	capRevoked, err := e.sessions.Create(ctx, sess, e.config.Session.MaxSessionsPerUser)
	if err != nil {
		return nil, e.backendError(err)
	}
	if capRevoked > 0 {
		for i := 0; i < capRevoked; i++ {
			e.metrics.Inc(MetricSessionRevoked)
		}
		e.emitAudit(ctx, auditSession, userID, tok.ID, true, nil, map[string]string{
			"cap_revoked": fmt.Sprintf("%d", capRevoked),
		})
	}

	e.metrics.Inc(MetricSessionCreated)

	return &LoginResult{
		UserID:       userID,
		SessionID:    tok.ID,
		SessionToken: tok.Encoded,
		CSRFToken:    csrfToken,
		ExpiresAt:    sess.ExpiresTime(),
	}, nil
}

// ValidateSession authenticates an opaque session token and returns the
// bound user. Validation records activity; when the rotation interval has
// elapsed it also swaps the token pair and the result carries the
// replacement tokens with Rotated set.
func (e *Engine) ValidateSession(ctx context.Context, sessionToken string) (*SessionValidation, error) {
	if sessionToken == "" {
		return nil, ErrInvalidInput
	}

	sess, err := e.resolveSession(ctx, sessionToken)
	if err != nil {
		if errors.Is(err, ErrSessionInvalid) {
			e.metrics.Inc(MetricSessionInvalid)
		}
		return nil, err
	}

	now := time.Now()

	if sess.Revoked {
		return nil, ErrSessionRevoked
	}
	if sess.ExpiresAt <= now.UnixMilli() {
		e.metrics.Inc(MetricSessionExpired)
		return nil, ErrSessionExpired
	}

	if idle := e.config.Session.IdleTimeout; idle > 0 {
		if now.Sub(sess.UpdatedTime()) > idle {
			if _, err := e.sessions.Revoke(ctx, sess.ID, reasonIdleTimeout, clientIPFromContext(ctx), now); err != nil {
				return nil, e.backendError(err)
			}
			e.metrics.Inc(MetricSessionExpired)
			e.emitAudit(ctx, auditSession, sess.UserID, sess.ID, false, ErrSessionExpired, map[string]string{"reason": reasonIdleTimeout})
			return nil, ErrSessionExpired
		}
	}

	user, err := e.users.GetUserByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			if _, revokeErr := e.sessions.Revoke(ctx, sess.ID, reasonUserGone, clientIPFromContext(ctx), now); revokeErr != nil {
				return nil, e.backendError(revokeErr)
			}
			return nil, ErrSessionInvalid
		}
		return nil, e.backendError(err)
	}
	if user.Banned {
		if _, err := e.sessions.Revoke(ctx, sess.ID, reasonBanned, clientIPFromContext(ctx), now); err != nil {
			return nil, e.backendError(err)
		}
		e.metrics.Inc(MetricSessionRevoked)
		e.emitAudit(ctx, auditSession, sess.UserID, sess.ID, false, ErrUserBanned, nil)
		return nil, ErrUserBanned
	}

	if err := e.checkFingerprint(ctx, sess, now); err != nil {
		return nil, err
	}

	validation := &SessionValidation{
		UserID:    sess.UserID,
		SessionID: sess.ID,
		ExpiresAt: sess.ExpiresTime(),
	}

	rotateAfter := time.Duration(float64(e.config.Session.RefreshInterval) * e.config.Session.RotationFraction)
	if now.Sub(sess.UpdatedTime()) > rotateAfter {
		rotated, err := e.rotateSession(ctx, sess, now, validation)
		if err != nil {
			return nil, err
		}
		if rotated {
			e.metrics.Inc(MetricSessionValidated)
			return validation, nil
		}
		// Lost the rotation CAS to a concurrent validation; the session
		// itself is still good.
	}

	if err := e.sessions.Touch(ctx, sess.ID, now); err != nil {
		return nil, e.backendError(err)
	}

	e.metrics.Inc(MetricSessionValidated)
	return validation, nil
}

// checkFingerprint enforces the fingerprint bound at session creation. In
// strict mode any deviation revokes the session; otherwise a near match
// above the similarity threshold passes with an audit warning.
func (e *Engine) checkFingerprint(ctx context.Context, sess *session.Session, now time.Time) error {
	if !e.config.Fingerprint.Enabled || sess.Fingerprint == "" {
		return nil
	}

	combined, signals, ok := e.fp.compute(ctx)
	if ok && combined == sess.Fingerprint {
		return nil
	}

	if ok && !e.config.Fingerprint.Strict {
		if sim := similarity(signals, sess.Signals); sim >= e.config.Fingerprint.SimilarityThreshold {
			e.emitAudit(ctx, auditFingerprint, sess.UserID, sess.ID, true, nil, map[string]string{
				"similarity": fmt.Sprintf("%.3f", sim),
			})
			return nil
		}
	}

	if _, err := e.sessions.Revoke(ctx, sess.ID, reasonFingerprint, clientIPFromContext(ctx), now); err != nil {
		return e.backendError(err)
	}

	e.metrics.Inc(MetricFingerprintMismatch)
	e.metrics.Inc(MetricSessionRevoked)
	e.emitAudit(ctx, auditFingerprint, sess.UserID, sess.ID, false, ErrSessionFingerprintMismatch, nil)

	return ErrSessionFingerprintMismatch
}

// rotateSession swaps the token pair under CAS and re-arms expiry to
// now+Lifetime, capped by the absolute lifetime from creation. Returns false
// when a concurrent validation rotated first.
func (e *Engine) rotateSession(ctx context.Context, sess *session.Session, now time.Time, validation *SessionValidation) (bool, error) {
	next, err := token.Generate(e.config.Session.TokenLength)
	if err != nil {
		return false, e.backendError(err)
	}

	var csrfToken, csrfHash string
	if e.config.CSRF.Enabled {
		csrfToken, err = token.GenerateOpaque(e.config.CSRF.TokenLength)
		if err != nil {
			return false, e.backendError(err)
		}
		csrfHash = token.HashSecret(e.config.Session.Secret, []byte(csrfToken))
	}

	newExpiry := now.Add(e.config.Session.Lifetime)
	if abs := e.config.Session.AbsoluteLifetime; abs > 0 {
		if hardCap := sess.CreatedTime().Add(abs); newExpiry.After(hardCap) {
			newExpiry = hardCap
		}
	}

	rotations, err := e.sessions.Rotate(
		ctx,
		sess.ID,
		sess.UserID,
		sess.TokenHash,
		token.HashSecret(e.config.Session.Secret, next.Secret),
		csrfHash,
		now,
		newExpiry.UnixMilli(),
	)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrTokenMismatch):
			return false, nil
		case errors.Is(err, session.ErrNotFound):
			return false, ErrSessionInvalid
		case errors.Is(err, session.ErrRevoked):
			return false, ErrSessionRevoked
		case errors.Is(err, session.ErrExpired):
			return false, ErrSessionExpired
		default:
			return false, e.backendError(err)
		}
	}

	validation.Rotated = true
	validation.SessionToken = next.Encoded
	validation.CSRFToken = csrfToken
	validation.ExpiresAt = newExpiry

	e.metrics.Inc(MetricSessionRotated)
	e.emitAudit(ctx, auditSession, sess.UserID, sess.ID, true, nil, map[string]string{
		"rotation": fmt.Sprintf("%d", rotations),
	})

	return true, nil
}

// Logout revokes the session identified by the token. Logging out an
// already revoked session succeeds; an unknown or forged token does not.
func (e *Engine) Logout(ctx context.Context, sessionToken string) error {
	if sessionToken == "" {
		return ErrInvalidInput
	}

	sess, err := e.resolveSession(ctx, sessionToken)
	if err != nil {
		return err
	}

	transitioned, err := e.sessions.Revoke(ctx, sess.ID, reasonLogout, clientIPFromContext(ctx), time.Now())
	if err != nil {
		return e.backendError(err)
	}
	if transitioned {
		e.metrics.Inc(MetricSessionRevoked)
	}

	e.emitAudit(ctx, auditLogout, sess.UserID, sess.ID, true, nil, nil)
	return nil
}

// RevokeSession revokes a session by ID, bypassing token authentication.
// Intended for administrative tooling and session management UIs. Revoking
// a missing or already revoked session is a no-op.
func (e *Engine) RevokeSession(ctx context.Context, sessionID, reason string) error {
	if sessionID == "" {
		return ErrInvalidInput
	}
	if reason == "" {
		reason = "revoked"
	}

	transitioned, err := e.sessions.Revoke(ctx, sessionID, reason, clientIPFromContext(ctx), time.Now())
	if err != nil {
		return e.backendError(err)
	}
	if transitioned {
		e.metrics.Inc(MetricSessionRevoked)
		e.emitAudit(ctx, auditSession, "", sessionID, true, nil, map[string]string{"reason": reason})
	}

	return nil
}

// RevokeAllUserSessions revokes every active session of a user and returns
// how many transitioned. A non-empty exceptSessionID is spared, for
// "log out everywhere else" flows.
func (e *Engine) RevokeAllUserSessions(ctx context.Context, userID, reason, exceptSessionID string) (int, error) {
	if userID == "" {
		return 0, ErrInvalidInput
	}
	if reason == "" {
		reason = "revoked_all"
	}

	revoked, err := e.sessions.RevokeAllForUser(ctx, userID, exceptSessionID, reason, clientIPFromContext(ctx), time.Now())
	if err != nil {
		return 0, e.backendError(err)
	}

	for i := 0; i < revoked; i++ {
		e.metrics.Inc(MetricSessionRevoked)
	}
	e.emitAudit(ctx, auditSession, userID, "", true, nil, map[string]string{
		"reason":  reason,
		"revoked": fmt.Sprintf("%d", revoked),
	})

	return revoked, nil
}

// ListSessions returns the user's sessions oldest first, including revoked
// ones that have not yet aged out.
func (e *Engine) ListSessions(ctx context.Context, userID string) ([]SessionInfo, error) {
	if userID == "" {
		return nil, ErrInvalidInput
	}

	records, err := e.sessions.ListForUser(ctx, userID)
	if err != nil {
		return nil, e.backendError(err)
	}

	infos := make([]SessionInfo, 0, len(records))
	for _, rec := range records {
		infos = append(infos, SessionInfo{
			SessionID: rec.ID,
			Device:    rec.Device,
			Location:  rec.Location,
			IP:        rec.IP,
			UserAgent: rec.UserAgent,
			CreatedAt: rec.CreatedTime(),
			UpdatedAt: rec.UpdatedTime(),
			ExpiresAt: rec.ExpiresTime(),
			Revoked:   rec.Revoked,
			Rotations: rec.Rotations,
		})
	}

	return infos, nil
}
