package session

import (
	"strconv"
	"strings"
	"time"
)

// Session is the stored server-side session record. Only keyed hashes of the
// session and CSRF secrets are kept; the raw tokens exist client-side only.
// Revoked records are retained until their natural expiry so revocation is
// final for the whole original lifetime.
type Session struct {
	ID     string
	UserID string

	TokenHash string
	CSRFHash  string

	Device    string
	Location  string
	IP        string
	UserAgent string

	// Fingerprint is the combined request fingerprint digest; Signals holds
	// the per-signal digests used for similarity scoring.
	Fingerprint string
	Signals     []string

	Revoked      bool
	RevokeReason string
	RevokedAt    int64
	RevokedIP    string

	Rotations int

	// Unix milliseconds.
	CreatedAt int64
	UpdatedAt int64
	ExpiresAt int64
}

const signalSeparator = "|"

// fieldPairs flattens the session into HSET field/value pairs. The ID is the
// key, not a field.
func (s *Session) fieldPairs() []interface{} {
	revoked := "0"
	if s.Revoked {
		revoked = "1"
	}

	return []interface{}{
		"user_id", s.UserID,
		"token_hash", s.TokenHash,
		"csrf_hash", s.CSRFHash,
		"device", s.Device,
		"location", s.Location,
		"ip", s.IP,
		"user_agent", s.UserAgent,
		"fingerprint", s.Fingerprint,
		"signals", strings.Join(s.Signals, signalSeparator),
		"revoked", revoked,
		"revoke_reason", s.RevokeReason,
		"revoked_at", strconv.FormatInt(s.RevokedAt, 10),
		"revoked_ip", s.RevokedIP,
		"rotations", strconv.Itoa(s.Rotations),
		"created_at", strconv.FormatInt(s.CreatedAt, 10),
		"updated_at", strconv.FormatInt(s.UpdatedAt, 10),
		"expires_at", strconv.FormatInt(s.ExpiresAt, 10),
	}
}

func sessionFromFields(id string, fields map[string]string) *Session {
	sess := &Session{
		ID:           id,
		UserID:       fields["user_id"],
		TokenHash:    fields["token_hash"],
		CSRFHash:     fields["csrf_hash"],
		Device:       fields["device"],
		Location:     fields["location"],
		IP:           fields["ip"],
		UserAgent:    fields["user_agent"],
		Fingerprint:  fields["fingerprint"],
		Revoked:      fields["revoked"] == "1",
		RevokeReason: fields["revoke_reason"],
		RevokedIP:    fields["revoked_ip"],
	}

	if raw := fields["signals"]; raw != "" {
		sess.Signals = strings.Split(raw, signalSeparator)
	}

	sess.RevokedAt, _ = strconv.ParseInt(fields["revoked_at"], 10, 64)
	sess.Rotations, _ = strconv.Atoi(fields["rotations"])
	sess.CreatedAt, _ = strconv.ParseInt(fields["created_at"], 10, 64)
	sess.UpdatedAt, _ = strconv.ParseInt(fields["updated_at"], 10, 64)
	sess.ExpiresAt, _ = strconv.ParseInt(fields["expires_at"], 10, 64)

	return sess
}

// ExpiresTime returns the expiry as a time.Time.
func (s *Session) ExpiresTime() time.Time {
	return time.UnixMilli(s.ExpiresAt)
}

// CreatedTime returns the creation instant as a time.Time.
func (s *Session) CreatedTime() time.Time {
	return time.UnixMilli(s.CreatedAt)
}

// UpdatedTime returns the last activity instant as a time.Time.
func (s *Session) UpdatedTime() time.Time {
	return time.UnixMilli(s.UpdatedAt)
}
