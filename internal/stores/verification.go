package stores

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const verificationRecordVersionV1 = 1

// Records are kept past their expiry for this window (at least minRetention)
// so that expired and already-used tokens stay distinguishable from tokens
// that never existed.
const minRetention = time.Hour

var (
	ErrVerificationNotFound         = errors.New("verification record not found")
	ErrVerificationExpired          = errors.New("verification record expired")
	ErrVerificationUsed             = errors.New("verification record already used")
	ErrVerificationPurposeMismatch  = errors.New("verification purpose mismatch")
	ErrVerificationSecretMismatch   = errors.New("verification secret mismatch")
	ErrVerificationRedisUnavailable = errors.New("verification redis unavailable")
)

// VerificationRecord is one single-use token record. UsedAt is zero until
// the record is consumed; consumption happens at most once.
type VerificationRecord struct {
	Purpose    uint8
	UserID     string
	SecretHash string
	UsedAt     int64
	ExpiresAt  int64
	CreatedAt  int64
	Meta       map[string]string
}

// VerificationStore persists single-use verification tokens in Redis with
// compare-and-swap consumption.
type VerificationStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewVerificationStore(redisClient redis.UniversalClient, prefix string) *VerificationStore {
	if prefix == "" {
		prefix = "avt"
	}
	return &VerificationStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *VerificationStore) key(tokenID string) string {
	return s.prefix + ":t:" + tokenID
}

func (s *VerificationStore) userKey(userID string) string {
	return s.prefix + ":u:" + userID
}

func retentionFor(ttl time.Duration) time.Duration {
	if ttl < minRetention {
		return minRetention
	}
	return ttl
}

// Save persists a record under tokenID. The Redis key outlives ExpiresAt by
// the retention window; logical expiry is enforced on read.
func (s *VerificationStore) Save(ctx context.Context, tokenID string, record *VerificationRecord, ttl time.Duration) error {
	encoded, err := encodeVerificationRecord(record)
	if err != nil {
		return err
	}

	keyTTL := ttl + retentionFor(ttl)

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(tokenID), encoded, keyTTL)
		pipe.SAdd(ctx, s.userKey(record.UserID), tokenID)
		pipe.Expire(ctx, s.userKey(record.UserID), keyTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationRedisUnavailable, err)
	}

	return nil
}

// Consume atomically marks the record used and returns it. The transition is
// guarded by an optimistic WATCH transaction, so exactly one of any number
// of concurrent redemptions succeeds; the rest see ErrVerificationUsed.
//
// Check order: secret, purpose, already-used, expired. The record is never
// deleted here; it ages out with the retention TTL.
func (s *VerificationStore) Consume(
	ctx context.Context,
	tokenID string,
	providedHash string,
	purpose uint8,
) (*VerificationRecord, error) {
	const maxRetries = 4
	key := s.key(tokenID)

	for i := 0; i < maxRetries; i++ {
		var consumed *VerificationRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeVerificationRecord(data)
			if err != nil {
				return err
			}

			if subtle.ConstantTimeCompare([]byte(record.SecretHash), []byte(providedHash)) != 1 {
				return ErrVerificationSecretMismatch
			}
			if record.Purpose != purpose {
				return ErrVerificationPurposeMismatch
			}
			if record.UsedAt != 0 {
				return ErrVerificationUsed
			}

			now := time.Now()
			if now.UnixMilli() > record.ExpiresAt {
				return ErrVerificationExpired
			}

			record.UsedAt = now.UnixMilli()
			updated, err := encodeVerificationRecord(record)
			if err != nil {
				return err
			}

			ttl, err := tx.PTTL(ctx, key).Result()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = retentionFor(time.Until(time.UnixMilli(record.ExpiresAt)))
				if ttl <= 0 {
					ttl = minRetention
				}
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			if err != nil {
				return err
			}

			consumed = record
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return nil, ErrVerificationNotFound
			case errors.Is(err, ErrVerificationExpired),
				errors.Is(err, ErrVerificationUsed),
				errors.Is(err, ErrVerificationPurposeMismatch),
				errors.Is(err, ErrVerificationSecretMismatch):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", ErrVerificationRedisUnavailable, err)
			}
		}

		return consumed, nil
	}

	return nil, ErrVerificationUsed
}

// Get fetches a record without consuming it.
func (s *VerificationStore) Get(ctx context.Context, tokenID string) (*VerificationRecord, error) {
	data, err := s.redis.Get(ctx, s.key(tokenID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrVerificationNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrVerificationRedisUnavailable, err)
	}

	return decodeVerificationRecord(data)
}

// DeleteAllForUser drops every outstanding record of a user, used when the
// account is deleted or all pending flows must be invalidated.
func (s *VerificationStore) DeleteAllForUser(ctx context.Context, userID string) error {
	tokenIDs, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrVerificationRedisUnavailable, err)
	}

	keys := make([]string, 0, len(tokenIDs)+1)
	for _, tokenID := range tokenIDs {
		keys = append(keys, s.key(tokenID))
	}
	keys = append(keys, s.userKey(userID))

	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationRedisUnavailable, err)
	}

	return nil
}

func encodeVerificationRecord(record *VerificationRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(verificationRecordVersionV1)
	buf.WriteByte(record.Purpose)

	if err := binary.Write(&buf, binary.BigEndian, record.UsedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.CreatedAt); err != nil {
		return nil, err
	}

	if err := writeLenString(&buf, record.UserID); err != nil {
		return nil, err
	}
	if err := writeLenString(&buf, record.SecretHash); err != nil {
		return nil, err
	}

	if len(record.Meta) > 65535 {
		return nil, errors.New("verification record meta too large")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.Meta))); err != nil {
		return nil, err
	}
	for k, v := range record.Meta {
		if err := writeLenString(&buf, k); err != nil {
			return nil, err
		}
		if err := writeLenString(&buf, v); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func decodeVerificationRecord(data []byte) (*VerificationRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != verificationRecordVersionV1 {
		return nil, errors.New("invalid verification record version")
	}

	purpose, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	record := &VerificationRecord{
		Purpose: purpose,
	}

	if err := binary.Read(reader, binary.BigEndian, &record.UsedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.CreatedAt); err != nil {
		return nil, err
	}

	if record.UserID, err = readLenString(reader); err != nil {
		return nil, err
	}
	if record.SecretHash, err = readLenString(reader); err != nil {
		return nil, err
	}

	var metaCount uint16
	if err := binary.Read(reader, binary.BigEndian, &metaCount); err != nil {
		return nil, err
	}
	if metaCount > 0 {
		record.Meta = make(map[string]string, metaCount)
		for i := uint16(0); i < metaCount; i++ {
			k, err := readLenString(reader)
			if err != nil {
				return nil, err
			}
			v, err := readLenString(reader)
			if err != nil {
				return nil, err
			}
			record.Meta[k] = v
		}
	}

	return record, nil
}

func writeLenString(buf *bytes.Buffer, value string) error {
	if len(value) > 65535 {
		return errors.New("verification record field too long")
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(value))); err != nil {
		return err
	}
	buf.WriteString(value)
	return nil
}

func readLenString(reader *bytes.Reader) (string, error) {
	var length uint16
	if err := binary.Read(reader, binary.BigEndian, &length); err != nil {
		return "", err
	}

	value := make([]byte, length)
	if _, err := io.ReadFull(reader, value); err != nil {
		return "", err
	}

	return string(value), nil
}
