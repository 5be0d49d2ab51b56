package authvault

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

const (
	endpointRegister = "register"

	auditRegister   = "register"
	auditInvitation = "invitation"
)

// Register creates an account. The password must satisfy the complexity
// policy; username and email must be unique. When invitations are required
// the request must carry a valid invitation token, consumed on success.
// A verification token is mailed to the new address unless the account was
// created pre-verified by an invitation.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	if !e.config.Registration.Enabled {
		return nil, ErrRegistrationDisabled
	}

	username := strings.TrimSpace(req.Username)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if username == "" || !validEmail(email) || req.Password == "" {
		return nil, ErrInvalidInput
	}

	if err := e.rateGate(ctx, endpointRegister, e.config.RateLimit.Register, email); err != nil {
		return nil, err
	}

	if e.config.Registration.RequireInvitation {
		if err := e.consumeInvitation(ctx, req.Invitation, email); err != nil {
			return nil, err
		}
	}

	if err := e.policy.Check(req.Password); err != nil {
		return nil, errors.Join(ErrPasswordPolicy, err)
	}

	hash, err := e.hasher.Hash(req.Password)
	if err != nil {
		return nil, e.backendError(err)
	}

	user, err := e.users.CreateUser(ctx, CreateUserInput{
		UserID:       uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, ErrUsernameExists) || errors.Is(err, ErrEmailExists) {
			e.metrics.Inc(MetricRegisterDuplicate)
			e.emitAudit(ctx, auditRegister, "", "", false, err, nil)
			return nil, err
		}
		return nil, e.backendError(err)
	}

	result := &RegisterResult{UserID: user.UserID}

	if !user.EmailVerified {
		if err := e.issueVerification(ctx, PurposeEmailVerification, user.UserID, email, e.config.Verification.TTL, nil); err != nil {
			// The account exists; verification can be re-requested later.
			e.emitAudit(ctx, auditRegister, user.UserID, "", false, err, map[string]string{"stage": "verification"})
		} else {
			result.VerificationSent = true
		}
	}

	e.metrics.Inc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditRegister, user.UserID, "", true, nil, nil)

	return result, nil
}

// CreateInvitation mints an invitation token for an email address and hands
// it to the mailer. Intended for administrative callers; it is not rate
// limited or gated on registration being open.
func (e *Engine) CreateInvitation(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if !validEmail(email) {
		return ErrInvalidInput
	}

	ttl := e.config.Registration.InvitationTTL
	if ttl <= 0 {
		ttl = e.config.Verification.TTL
	}

	if err := e.issueVerification(ctx, PurposeInvitation, "", email, ttl, map[string]string{"email": email}); err != nil {
		return err
	}

	e.emitAudit(ctx, auditInvitation, "", "", true, nil, map[string]string{"email": email})
	return nil
}

// consumeInvitation redeems the invitation token and, when the invitation
// was issued to a specific address, checks the registrant matches it.
func (e *Engine) consumeInvitation(ctx context.Context, rawToken, email string) error {
	if rawToken == "" {
		return ErrInvitationRequired
	}

	record, err := e.consumeVerification(ctx, rawToken, PurposeInvitation)
	if err != nil {
		switch {
		case errors.Is(err, ErrVerificationExpired):
			return ErrInvitationExpired
		case errors.Is(err, ErrBackendUnavailable):
			return err
		default:
			return ErrInvitationRequired
		}
	}

	if invited := record.Meta["email"]; invited != "" && invited != email {
		e.emitAudit(ctx, auditInvitation, "", "", false, ErrInvitationRequired, map[string]string{
			"invited": invited,
		})
		return ErrInvitationRequired
	}

	return nil
}

func validEmail(email string) bool {
	if email == "" || len(email) > 254 {
		return false
	}
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 {
		return false
	}
	return !strings.ContainsAny(email, " \t\r\n")
}
