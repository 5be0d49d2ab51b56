package authvault

import (
	"context"
	"errors"
	"strings"
)

const (
	endpointEmailChange = "email_change"

	auditEmailChange = "email_change"

	metaPendingEmail = "pending_email"
)

// RequestEmailChange stages a new email address for the user and mails a
// confirmation token to the NEW address, proving the user controls it before
// anything changes. The primary email stays untouched until confirmation.
func (e *Engine) RequestEmailChange(ctx context.Context, userID, newEmail string) error {
	newEmail = strings.ToLower(strings.TrimSpace(newEmail))
	if userID == "" || !validEmail(newEmail) {
		return ErrInvalidInput
	}

	if err := e.rateGate(ctx, endpointEmailChange, e.config.RateLimit.EmailChange, userID); err != nil {
		return err
	}

	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrUserNotFound
		}
		return e.backendError(err)
	}
	if user.Email == newEmail {
		return ErrInvalidInput
	}

	if _, err := e.users.GetUserByEmail(ctx, newEmail); err == nil {
		return ErrEmailExists
	} else if !errors.Is(err, ErrUserNotFound) {
		return e.backendError(err)
	}

	if err := e.users.SetPendingEmail(ctx, user.UserID, newEmail); err != nil {
		return e.backendError(err)
	}

	meta := map[string]string{metaPendingEmail: newEmail}
	if err := e.issueVerification(ctx, PurposeEmailChange, user.UserID, newEmail, e.config.Verification.TTL, meta); err != nil {
		return err
	}

	e.emitAudit(ctx, auditEmailChange, user.UserID, "", true, nil, map[string]string{"stage": "requested"})
	return nil
}

// ConfirmEmailChange redeems an email change token and promotes the pending
// address carried in the token to the primary email. The duplicate check is
// repeated at confirmation time; another account may have claimed the
// address while the token was in flight.
func (e *Engine) ConfirmEmailChange(ctx context.Context, changeToken string) error {
	if changeToken == "" {
		return ErrInvalidInput
	}

	if err := e.rateGate(ctx, endpointEmailChange, e.config.RateLimit.EmailChange, ""); err != nil {
		return err
	}

	record, err := e.consumeVerification(ctx, changeToken, PurposeEmailChange)
	if err != nil {
		e.emitAudit(ctx, auditEmailChange, "", "", false, err, map[string]string{"stage": "confirm"})
		return err
	}

	newEmail := record.Meta[metaPendingEmail]
	if !validEmail(newEmail) {
		return ErrVerificationNotFound
	}

	if existing, err := e.users.GetUserByEmail(ctx, newEmail); err == nil {
		if existing.UserID != record.UserID {
			return ErrEmailExists
		}
	} else if !errors.Is(err, ErrUserNotFound) {
		return e.backendError(err)
	}

	if err := e.users.CommitEmailChange(ctx, record.UserID, newEmail); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrVerificationNotFound
		}
		return e.backendError(err)
	}

	e.metrics.Inc(MetricEmailChangeSuccess)
	e.emitAudit(ctx, auditEmailChange, record.UserID, "", true, nil, nil)

	return nil
}
