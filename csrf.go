package authvault

import (
	"context"

	"github.com/authvault/authvault/token"
)

// VerifyCSRF checks the double-submit CSRF token against the session it was
// issued with. The session token authenticates the caller; the CSRF token
// must match the hash bound to that session. A nil return means the request
// may proceed.
//
// When CSRF protection is disabled in the configuration, VerifyCSRF accepts
// everything.
func (e *Engine) VerifyCSRF(ctx context.Context, sessionToken, csrfToken string) error {
	if !e.config.CSRF.Enabled {
		return nil
	}
	if sessionToken == "" {
		return ErrInvalidInput
	}
	if csrfToken == "" {
		e.metrics.Inc(MetricCSRFFailure)
		return ErrCSRFMissing
	}

	sess, err := e.resolveSession(ctx, sessionToken)
	if err != nil {
		return err
	}
	if sess.Revoked {
		return ErrSessionRevoked
	}

	if !token.VerifySecret(e.config.Session.Secret, []byte(csrfToken), sess.CSRFHash) {
		e.metrics.Inc(MetricCSRFFailure)
		e.emitAudit(ctx, "csrf", sess.UserID, sess.ID, false, ErrCSRFInvalid, nil)
		return ErrCSRFInvalid
	}

	return nil
}
