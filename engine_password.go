package authvault

import (
	"context"
	"time"
)

const (
	auditPasswordChange = "password_change"

	reasonPasswordChange = "password_change"
)

// ChangePassword replaces the password of the session's user after
// re-verifying the current password. Every other session of the user is
// revoked; the session that made the change stays valid.
func (e *Engine) ChangePassword(ctx context.Context, sessionToken, oldPassword, newPassword string) error {
	if sessionToken == "" || oldPassword == "" || newPassword == "" {
		return ErrInvalidInput
	}

	sess, err := e.resolveSession(ctx, sessionToken)
	if err != nil {
		return err
	}
	if sess.Revoked {
		return ErrSessionRevoked
	}
	if sess.ExpiresAt <= time.Now().UnixMilli() {
		return ErrSessionExpired
	}

	user, err := e.users.GetUserByID(ctx, sess.UserID)
	if err != nil {
		return e.backendError(err)
	}

	match, err := e.hasher.Verify(oldPassword, user.PasswordHash)
	if err != nil {
		return e.backendError(err)
	}
	if !match {
		e.emitAudit(ctx, auditPasswordChange, user.UserID, sess.ID, false, ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	if err := e.checkPasswordAcceptable(ctx, user.UserID, user.PasswordHash, newPassword); err != nil {
		return err
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return e.backendError(err)
	}

	if err := e.users.UpdatePasswordHash(ctx, user.UserID, hash, e.config.Password.HistoryDepth); err != nil {
		return e.backendError(err)
	}

	revoked, err := e.sessions.RevokeAllForUser(ctx, user.UserID, sess.ID, reasonPasswordChange, clientIPFromContext(ctx), time.Now())
	if err != nil {
		return e.backendError(err)
	}
	for i := 0; i < revoked; i++ {
		e.metrics.Inc(MetricSessionRevoked)
	}

	e.metrics.Inc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditPasswordChange, user.UserID, sess.ID, true, nil, nil)

	return nil
}
