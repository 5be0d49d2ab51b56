package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when no record exists for the session ID.
var ErrNotFound = errors.New("session not found")

// ErrRevoked is returned by mutating operations on a revoked session.
var ErrRevoked = errors.New("session revoked")

// ErrExpired is returned by mutating operations on an expired session.
var ErrExpired = errors.New("session expired")

// ErrTokenMismatch is returned when a rotation CAS loses to a concurrent
// rotation of the same session.
var ErrTokenMismatch = errors.New("session token hash mismatch")

// ErrRedisUnavailable wraps infrastructure failures talking to Redis.
var ErrRedisUnavailable = errors.New("redis unavailable")

const revokeReasonLimit = "session_limit"

const (
	rotateStatusNotFound int64 = 0
	rotateStatusExpired  int64 = 1
	rotateStatusRevoked  int64 = 2
	rotateStatusMismatch int64 = 3
	rotateStatusRotated  int64 = 4
)

// createScript prunes the per-user index, revokes the oldest active sessions
// when the cap would be exceeded, and writes the new record — atomically, so
// two concurrent logins cannot both slip under the cap.
const createScript = `
local user_key = KEYS[1]
local key_prefix = ARGV[1]
local session_id = ARGV[2]
local created_at = tonumber(ARGV[3])
local expires_at = tonumber(ARGV[4])
local max_sessions = tonumber(ARGV[5])
local now = tonumber(ARGV[6])
local revoke_reason = ARGV[7]
local revoke_ip = ARGV[8]

local members = redis.call("ZRANGE", user_key, 0, -1)
local active = {}
for _, id in ipairs(members) do
  local k = key_prefix .. id
  if redis.call("EXISTS", k) == 0 then
    redis.call("ZREM", user_key, id)
  else
    local revoked = redis.call("HGET", k, "revoked")
    local exp = tonumber(redis.call("HGET", k, "expires_at") or "0")
    if revoked ~= "1" and exp > now then
      active[#active + 1] = id
    end
  end
end

local revoked_count = 0
if max_sessions > 0 then
  local overflow = #active - max_sessions + 1
  if overflow > 0 then
    for i = 1, overflow do
      local k = key_prefix .. active[i]
      redis.call("HSET", k, "revoked", "1", "revoke_reason", revoke_reason, "revoked_at", ARGV[6], "revoked_ip", revoke_ip)
      revoked_count = revoked_count + 1
    end
  end
end

local session_key = key_prefix .. session_id
redis.call("HSET", session_key, unpack(ARGV, 9))
redis.call("PEXPIREAT", session_key, expires_at)
redis.call("ZADD", user_key, created_at, session_id)
local zttl = redis.call("PTTL", user_key)
if zttl < (expires_at - now) then
  redis.call("PEXPIREAT", user_key, expires_at)
end
return revoked_count
`

var createLua = redis.NewScript(createScript)

// rotateScript is the CAS at the heart of token rotation: the stored token
// hash must equal the expected value or nothing changes. Exactly one of two
// concurrent rotations can win. The per-user index key slides forward with
// the re-armed expiry so a long-lived rotating session never outlives its
// index entry.
const rotateScript = `
local key = KEYS[1]
local user_key = KEYS[2]
if redis.call("EXISTS", key) == 0 then
  return {0}
end
if redis.call("HGET", key, "revoked") == "1" then
  return {2}
end
local exp = tonumber(redis.call("HGET", key, "expires_at") or "0")
if exp <= tonumber(ARGV[4]) then
  return {1}
end
if redis.call("HGET", key, "token_hash") ~= ARGV[1] then
  return {3}
end
redis.call("HSET", key, "token_hash", ARGV[2], "csrf_hash", ARGV[3], "updated_at", ARGV[4], "expires_at", ARGV[5])
redis.call("PEXPIREAT", key, tonumber(ARGV[5]))
local zttl = redis.call("PTTL", user_key)
if zttl < (tonumber(ARGV[5]) - tonumber(ARGV[4])) then
  redis.call("PEXPIREAT", user_key, tonumber(ARGV[5]))
end
local rotations = redis.call("HINCRBY", key, "rotations", 1)
return {4, rotations}
`

var rotateLua = redis.NewScript(rotateScript)

// revokeScript flags the record without deleting it; the key keeps its TTL
// so the revocation stays visible for the session's whole original lifetime.
// Returns 0 missing, 1 already revoked, 2 newly revoked.
const revokeScript = `
local key = KEYS[1]
if redis.call("EXISTS", key) == 0 then
  return 0
end
if redis.call("HGET", key, "revoked") == "1" then
  return 1
end
redis.call("HSET", key, "revoked", "1", "revoke_reason", ARGV[1], "revoked_at", ARGV[2], "revoked_ip", ARGV[3])
return 2
`

var revokeLua = redis.NewScript(revokeScript)

const touchScript = `
local key = KEYS[1]
if redis.call("EXISTS", key) == 0 then
  return 0
end
if redis.call("HGET", key, "revoked") == "1" then
  return 0
end
redis.call("HSET", key, "updated_at", ARGV[1])
return 1
`

var touchLua = redis.NewScript(touchScript)

// Store is the Redis-backed session store: one hash per session plus a
// per-user sorted set scored by creation time for cap enforcement and
// enumeration.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore creates a session Store. prefix namespaces all keys.
func NewStore(client redis.UniversalClient, prefix string) *Store {
	return &Store{
		redis:  client,
		prefix: prefix,
	}
}

func (s *Store) keyPrefix() string {
	return s.prefix + ":s:"
}

func (s *Store) key(sessionID string) string {
	return s.keyPrefix() + sessionID
}

func (s *Store) userKey(userID string) string {
	return s.prefix + ":u:" + userID
}

// Create persists sess and enforces maxSessions (0 disables the cap) by
// revoking the user's oldest active sessions. Returns how many sessions were
// revoked to make room.
func (s *Store) Create(ctx context.Context, sess *Session, maxSessions int) (int, error) {
	args := []interface{}{
		s.keyPrefix(),
		sess.ID,
		sess.CreatedAt,
		sess.ExpiresAt,
		maxSessions,
		time.Now().UnixMilli(),
		revokeReasonLimit,
		sess.IP,
	}
	args = append(args, sess.fieldPairs()...)

	revoked, err := createLua.Run(ctx, s.redis, []string{s.userKey(sess.UserID)}, args...).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return revoked, nil
}

// GetByID fetches a session record as stored. Callers are responsible for
// interpreting the revoked flag and expiry.
func (s *Store) GetByID(ctx context.Context, sessionID string) (*Session, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	return sessionFromFields(sessionID, fields), nil
}

// Touch records validated activity by bumping updated_at. A missing or
// revoked session is a no-op.
func (s *Store) Touch(ctx context.Context, sessionID string, now time.Time) error {
	err := touchLua.Run(ctx, s.redis, []string{s.key(sessionID)}, now.UnixMilli()).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Rotate atomically swaps the token and CSRF hashes if the stored token hash
// still equals expectedHash, re-arming expiry to newExpiresAt. The user's
// index key expiry is extended alongside. Returns the rotation count after
// the swap.
func (s *Store) Rotate(
	ctx context.Context,
	sessionID, userID string,
	expectedHash, newTokenHash, newCSRFHash string,
	now time.Time,
	newExpiresAt int64,
) (int, error) {
	result, err := rotateLua.Run(
		ctx,
		s.redis,
		[]string{s.key(sessionID), s.userKey(userID)},
		expectedHash,
		newTokenHash,
		newCSRFHash,
		now.UnixMilli(),
		newExpiresAt,
	).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return 0, fmt.Errorf("%w: invalid rotate script response", ErrRedisUnavailable)
	}

	code, ok := parts[0].(int64)
	if !ok {
		return 0, fmt.Errorf("%w: invalid rotate script status", ErrRedisUnavailable)
	}

	switch code {
	case rotateStatusNotFound:
		return 0, ErrNotFound
	case rotateStatusExpired:
		return 0, ErrExpired
	case rotateStatusRevoked:
		return 0, ErrRevoked
	case rotateStatusMismatch:
		return 0, ErrTokenMismatch
	case rotateStatusRotated:
		if len(parts) < 2 {
			return 0, fmt.Errorf("%w: missing rotation count", ErrRedisUnavailable)
		}
		rotations, ok := parts[1].(int64)
		if !ok {
			return 0, fmt.Errorf("%w: invalid rotation count", ErrRedisUnavailable)
		}
		return int(rotations), nil
	default:
		return 0, fmt.Errorf("%w: unknown rotate script status", ErrRedisUnavailable)
	}
}

// Revoke marks a session revoked with reason metadata. Revoking an already
// revoked session is a no-op; the first revocation's metadata wins. Returns
// whether this call performed the transition.
func (s *Store) Revoke(ctx context.Context, sessionID, reason, ip string, now time.Time) (bool, error) {
	status, err := revokeLua.Run(
		ctx,
		s.redis,
		[]string{s.key(sessionID)},
		reason,
		now.UnixMilli(),
		ip,
	).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return status == 2, nil
}

// RevokeAllForUser revokes every active session of a user except
// exceptSessionID (empty revokes all) and returns how many transitioned.
//
// ATOMICITY NOTE: the member list is read first, then each session is
// revoked with its own atomic script. A session created between the read and
// the revocations is not captured; callers needing a hard guarantee can
// invoke this twice.
func (s *Store) RevokeAllForUser(ctx context.Context, userID, exceptSessionID, reason, ip string, now time.Time) (int, error) {
	sessionIDs, err := s.redis.ZRange(ctx, s.userKey(userID), 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	var revoked int
	for _, sessionID := range sessionIDs {
		if sessionID == exceptSessionID {
			continue
		}
		transitioned, err := s.Revoke(ctx, sessionID, reason, ip, now)
		if err != nil {
			return revoked, err
		}
		if transitioned {
			revoked++
		}
	}

	return revoked, nil
}

// ListForUser returns the user's session records oldest first, including
// revoked ones that have not yet expired.
func (s *Store) ListForUser(ctx context.Context, userID string) ([]*Session, error) {
	sessionIDs, err := s.redis.ZRange(ctx, s.userKey(userID), 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*Session{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sessions := make([]*Session, 0, len(sessionIDs))
	for _, sessionID := range sessionIDs {
		fields, err := s.redis.HGetAll(ctx, s.key(sessionID)).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if len(fields) == 0 {
			continue
		}
		sessions = append(sessions, sessionFromFields(sessionID, fields))
	}

	return sessions, nil
}

// ActiveSessionCount counts the user's sessions that are neither revoked nor
// expired as of now.
func (s *Store) ActiveSessionCount(ctx context.Context, userID string, now time.Time) (int, error) {
	sessions, err := s.ListForUser(ctx, userID)
	if err != nil {
		return 0, err
	}

	nowMilli := now.UnixMilli()
	var active int
	for _, sess := range sessions {
		if !sess.Revoked && sess.ExpiresAt > nowMilli {
			active++
		}
	}

	return active, nil
}

// Ping reports Redis availability and round-trip latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}
