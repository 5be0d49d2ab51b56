package authvault

import (
	"context"
	"errors"
)

const (
	endpointEmailVerify = "email_verify"

	auditEmailVerification = "email_verification"
)

// RequestEmailVerification issues a fresh verification token for the user's
// current email address. Requesting verification for an already verified
// account is a no-op.
func (e *Engine) RequestEmailVerification(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrInvalidInput
	}

	if err := e.rateGate(ctx, endpointEmailVerify, e.config.RateLimit.EmailVerify, userID); err != nil {
		return err
	}

	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrUserNotFound
		}
		return e.backendError(err)
	}
	if user.EmailVerified {
		return nil
	}

	if err := e.issueVerification(ctx, PurposeEmailVerification, user.UserID, user.Email, e.config.Verification.TTL, nil); err != nil {
		return err
	}

	e.emitAudit(ctx, auditEmailVerification, user.UserID, "", true, nil, map[string]string{"stage": "requested"})
	return nil
}

// ConfirmEmailVerification redeems a verification token and marks the
// account's email verified. Each token confirms at most once.
func (e *Engine) ConfirmEmailVerification(ctx context.Context, verificationToken string) error {
	if verificationToken == "" {
		return ErrInvalidInput
	}

	if err := e.rateGate(ctx, endpointEmailVerify, e.config.RateLimit.EmailVerify, ""); err != nil {
		return err
	}

	record, err := e.consumeVerification(ctx, verificationToken, PurposeEmailVerification)
	if err != nil {
		e.emitAudit(ctx, auditEmailVerification, "", "", false, err, nil)
		return err
	}

	if err := e.users.SetEmailVerified(ctx, record.UserID, true); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrVerificationNotFound
		}
		return e.backendError(err)
	}

	e.emitAudit(ctx, auditEmailVerification, record.UserID, "", true, nil, nil)
	return nil
}
