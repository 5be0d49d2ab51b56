package authvault

import (
	"context"
	"errors"
	"strings"
	"time"
)

const (
	endpointPasswordResetRequest = "password_reset_request"
	endpointPasswordResetConfirm = "password_reset_confirm"

	auditPasswordReset = "password_reset"

	reasonPasswordReset = "password_reset"
)

// RequestPasswordReset issues a reset token for the account behind email.
// The response is identical whether or not the account exists, so the
// endpoint cannot be used to enumerate registered addresses.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if !validEmail(email) {
		return ErrInvalidInput
	}

	if err := e.rateGate(ctx, endpointPasswordResetRequest, e.config.RateLimit.PasswordResetRequest, email); err != nil {
		return err
	}

	e.metrics.Inc(MetricPasswordResetRequest)

	user, err := e.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.emitAudit(ctx, auditPasswordReset, "", "", false, nil, map[string]string{"stage": "unknown_email"})
			return nil
		}
		return e.backendError(err)
	}

	if err := e.issueVerification(ctx, PurposePasswordReset, user.UserID, user.Email, e.config.Verification.ResetTTL, nil); err != nil {
		return err
	}

	e.emitAudit(ctx, auditPasswordReset, user.UserID, "", true, nil, map[string]string{"stage": "requested"})
	return nil
}

// ConfirmPasswordReset redeems a reset token and installs the new password.
// On success every session of the user is revoked, any lockout is cleared,
// and all other outstanding verification tokens are invalidated.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, resetToken, newPassword string) error {
	if resetToken == "" || newPassword == "" {
		return ErrInvalidInput
	}

	if err := e.rateGate(ctx, endpointPasswordResetConfirm, e.config.RateLimit.PasswordResetConfirm, ""); err != nil {
		return err
	}

	record, err := e.consumeVerification(ctx, resetToken, PurposePasswordReset)
	if err != nil {
		e.emitAudit(ctx, auditPasswordReset, "", "", false, err, map[string]string{"stage": "confirm"})
		return err
	}

	user, err := e.users.GetUserByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrVerificationNotFound
		}
		return e.backendError(err)
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

	// A completed reset proves control of the mailbox; the lockout state
	// protects a credential that no longer exists.
	if err := e.users.ClearLoginFailures(ctx, user.UserID); err != nil {
		return e.backendError(err)
	}

	now := time.Now()
	revoked, err := e.sessions.RevokeAllForUser(ctx, user.UserID, "", reasonPasswordReset, clientIPFromContext(ctx), now)
	if err != nil {
		return e.backendError(err)
	}
	for i := 0; i < revoked; i++ {
		e.metrics.Inc(MetricSessionRevoked)
	}

	// Any other pending reset tokens die with this one.
	if err := e.verifications.DeleteAllForUser(ctx, user.UserID); err != nil {
		return e.backendError(err)
	}

	e.metrics.Inc(MetricPasswordResetSuccess)
	e.emitAudit(ctx, auditPasswordReset, user.UserID, "", true, nil, nil)

	return nil
}
