package authvault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	internalaudit "github.com/authvault/authvault/internal/audit"
	"github.com/authvault/authvault/internal/stores"
	"github.com/authvault/authvault/password"
	"github.com/authvault/authvault/session"
	"github.com/authvault/authvault/token"
)

// Engine is the authentication core. Construct it with [New] and [Builder];
// a zero Engine is not usable. All methods are safe for concurrent use.
type Engine struct {
	config Config

	users   UserStore
	mailer  Mailer
	limiter RateLimiter

	sessions      *session.Store
	verifications *stores.VerificationStore

	hasher *password.Hasher
	policy password.Policy
	fp     *fingerprinter

	audit   *internalaudit.Dispatcher
	metrics *Metrics
}

// Close drains the audit dispatcher. The engine must not be used afterwards.
func (e *Engine) Close() {
	e.audit.Close()
}

// MetricsSnapshot returns a point-in-time copy of the engine counters. The
// map is empty when metrics are disabled.
func (e *Engine) MetricsSnapshot() map[MetricID]uint64 {
	return e.metrics.Snapshot()
}

// AuditDropped reports how many audit events were dropped because the
// buffer was full.
func (e *Engine) AuditDropped() uint64 {
	return e.audit.Dropped()
}

/*
====================================
SHARED HELPERS
====================================
*/

func (e *Engine) emitAudit(ctx context.Context, event string, userID, sessionID string, success bool, failure error, meta map[string]string) {
	if e.audit == nil {
		return
	}

	record := internalaudit.Event{
		Timestamp: time.Now(),
		Event:     event,
		UserID:    userID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Meta:      meta,
	}
	if failure != nil {
		record.Error = failure.Error()
	}

	e.audit.Emit(ctx, record)
}

func (e *Engine) backendError(err error) error {
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}

// rateGate charges one attempt for endpoint against the client IP and, when
// PerIdentifier is set, against the identifier as well. Endpoints with the
// limit enabled but no limiter wired fail closed.
func (e *Engine) rateGate(ctx context.Context, endpoint string, limit EndpointLimit, identifier string) error {
	if !limit.Enabled {
		return nil
	}
	if e.limiter == nil {
		return ErrRateLimitMisconfigured
	}

	keys := make([]string, 0, 2)
	if ip := clientIPFromContext(ctx); ip != "" {
		keys = append(keys, endpoint+":ip:"+ip)
	}
	if e.config.RateLimit.PerIdentifier && identifier != "" {
		keys = append(keys, endpoint+":id:"+strings.ToLower(identifier))
	}

	for _, key := range keys {
		result, err := e.limiter.Limit(ctx, key, limit.Max, limit.Window)
		if err != nil {
			return e.backendError(err)
		}
		if !result.Allowed {
			e.metrics.Inc(MetricRateLimitHit)
			return &RateLimitError{Endpoint: endpoint, ResetAt: result.ResetAt}
		}
	}

	return nil
}

// lookupByIdentifier resolves a login identifier: anything containing '@' is
// an email and is normalized the same way registration stores it.
func (e *Engine) lookupByIdentifier(ctx context.Context, identifier string) (UserRecord, error) {
	identifier = strings.TrimSpace(identifier)
	if strings.Contains(identifier, "@") {
		return e.users.GetUserByEmail(ctx, strings.ToLower(identifier))
	}
	return e.users.GetUserByUsername(ctx, identifier)
}

// resolveSession decodes an opaque session token, loads the record, and
// authenticates the secret. It does not check revocation or expiry; callers
// own those transitions.
func (e *Engine) resolveSession(ctx context.Context, sessionToken string) (*session.Session, error) {
	sessionID, secret, err := token.Decode(sessionToken, e.config.Session.TokenLength)
	if err != nil {
		return nil, ErrSessionInvalid
	}

	sess, err := e.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrSessionInvalid
		}
		return nil, e.backendError(err)
	}

	if !token.VerifySecret(e.config.Session.Secret, secret, sess.TokenHash) {
		return nil, ErrSessionInvalid
	}

	return sess, nil
}

// issueVerification mints a single-use token, persists its record, and hands
// the raw token to the mailer. The raw token never touches storage.
func (e *Engine) issueVerification(
	ctx context.Context,
	purpose VerificationPurpose,
	userID, toAddress string,
	ttl time.Duration,
	meta map[string]string,
) error {
	tok, err := token.Generate(e.config.Verification.TokenLength)
	if err != nil {
		return e.backendError(err)
	}

	now := time.Now()
	record := &stores.VerificationRecord{
		Purpose:    uint8(purpose),
		UserID:     userID,
		SecretHash: token.HashSecret(e.config.Session.Secret, tok.Secret),
		ExpiresAt:  now.Add(ttl).UnixMilli(),
		CreatedAt:  now.UnixMilli(),
		Meta:       meta,
	}

	if err := e.verifications.Save(ctx, tok.ID, record, ttl); err != nil {
		return e.backendError(err)
	}

	if err := e.mailer.Send(ctx, purpose, toAddress, tok.Encoded, meta); err != nil {
		return e.backendError(err)
	}

	e.metrics.Inc(MetricVerificationIssued)
	return nil
}

// consumeVerification redeems a single-use token for the given purpose and
// maps store errors onto the public sentinels. A forged or unknown token is
// indistinguishable from one that aged out.
func (e *Engine) consumeVerification(ctx context.Context, rawToken string, purpose VerificationPurpose) (*stores.VerificationRecord, error) {
	tokenID, secret, err := token.Decode(rawToken, e.config.Verification.TokenLength)
	if err != nil {
		e.metrics.Inc(MetricVerificationFailed)
		return nil, ErrVerificationNotFound
	}

	record, err := e.verifications.Consume(ctx, tokenID, token.HashSecret(e.config.Session.Secret, secret), uint8(purpose))
	if err != nil {
		switch {
		case errors.Is(err, stores.ErrVerificationNotFound),
			errors.Is(err, stores.ErrVerificationSecretMismatch):
			err = ErrVerificationNotFound
		case errors.Is(err, stores.ErrVerificationExpired):
			err = ErrVerificationExpired
		case errors.Is(err, stores.ErrVerificationUsed):
			err = ErrVerificationAlreadyUsed
		case errors.Is(err, stores.ErrVerificationPurposeMismatch):
			err = ErrVerificationTypeMismatch
		default:
			return nil, e.backendError(err)
		}
		e.metrics.Inc(MetricVerificationFailed)
		return nil, err
	}

	e.metrics.Inc(MetricVerificationConsumed)
	return record, nil
}

// checkPasswordAcceptable runs the complexity policy and, when configured,
// the reuse check against the current hash and history.
func (e *Engine) checkPasswordAcceptable(ctx context.Context, userID, currentHash, candidate string) error {
	if err := e.policy.Check(candidate); err != nil {
		return errors.Join(ErrPasswordPolicy, err)
	}

	if !e.config.Password.DisallowReuse {
		return nil
	}

	history := make([]string, 0, e.config.Password.HistoryDepth+1)
	if currentHash != "" {
		history = append(history, currentHash)
	}
	prior, err := e.users.PasswordHistory(ctx, userID, e.config.Password.HistoryDepth)
	if err != nil {
		return e.backendError(err)
	}
	history = append(history, prior...)

	used, err := e.hasher.IsPreviouslyUsed(candidate, history)
	if err != nil {
		return e.backendError(err)
	}
	if used {
		e.metrics.Inc(MetricPasswordReuseRejected)
		return ErrPasswordPreviouslyUsed
	}

	return nil
}
