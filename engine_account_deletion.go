package authvault

import (
	"context"
	"errors"
	"time"
)

const (
	endpointAccountDeletion = "account_deletion"

	auditAccountDeletion = "account_deletion"

	reasonAccountDeleted = "account_deleted"
)

// RequestAccountDeletion mails a deletion confirmation token to the user's
// primary email. Nothing is deleted until the token is redeemed.
func (e *Engine) RequestAccountDeletion(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrInvalidInput
	}

	if err := e.rateGate(ctx, endpointAccountDeletion, e.config.RateLimit.AccountDeletion, userID); err != nil {
		return err
	}

	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrUserNotFound
		}
		return e.backendError(err)
	}

	if err := e.issueVerification(ctx, PurposeAccountDeletion, user.UserID, user.Email, e.config.Verification.TTL, nil); err != nil {
		return err
	}

	e.emitAudit(ctx, auditAccountDeletion, user.UserID, "", true, nil, map[string]string{"stage": "requested"})
	return nil
}

// ConfirmAccountDeletion redeems a deletion token and irreversibly removes
// the account: every session is revoked, all outstanding verification
// tokens are dropped, then the user row itself is deleted.
func (e *Engine) ConfirmAccountDeletion(ctx context.Context, deletionToken string) error {
	if deletionToken == "" {
		return ErrInvalidInput
	}

	if err := e.rateGate(ctx, endpointAccountDeletion, e.config.RateLimit.AccountDeletion, ""); err != nil {
		return err
	}

	record, err := e.consumeVerification(ctx, deletionToken, PurposeAccountDeletion)
	if err != nil {
		e.emitAudit(ctx, auditAccountDeletion, "", "", false, err, map[string]string{"stage": "confirm"})
		return err
	}

	now := time.Now()
	revoked, err := e.sessions.RevokeAllForUser(ctx, record.UserID, "", reasonAccountDeleted, clientIPFromContext(ctx), now)
	if err != nil {
		return e.backendError(err)
	}
	for i := 0; i < revoked; i++ {
		e.metrics.Inc(MetricSessionRevoked)
	}

	if err := e.verifications.DeleteAllForUser(ctx, record.UserID); err != nil {
		return e.backendError(err)
	}

	if err := e.users.DeleteUser(ctx, record.UserID); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil
		}
		return e.backendError(err)
	}

	e.metrics.Inc(MetricAccountDeleted)
	e.emitAudit(ctx, auditAccountDeletion, record.UserID, "", true, nil, nil)

	return nil
}
