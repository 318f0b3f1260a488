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

const resetSessionVersionV1 = 1

const flagOTPVerified = 1 << 0

var (
	ErrSessionNotFound  = errors.New("reset session not found")
	ErrAttemptsExceeded = errors.New("reset otp attempts exceeded")
	ErrRedisUnavailable = errors.New("reset store redis unavailable")
)

// ResetSession is the stored state of one in-progress password reset.
// OTP is set only for phone sessions; ConfirmToken only after the OTP
// check passed.
type ResetSession struct {
	UserID       string
	Method       string
	ResetToken   string
	ConfirmToken string
	OTP          string
	OTPVerified  bool
	Attempts     uint16
	CreatedAt    int64
	ExpiresAt    int64
}

// ResetSessionStore keeps one session per user under `{prefix}:{userID}`
// plus a token index `{prefix}t:{token}` pointing back at the user. The
// index replaces a store-wide scan for token lookups; stale index entries
// left behind by an overwritten session are rejected at read time because
// GetByToken re-checks the token against the live record.
type ResetSessionStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewResetSessionStore(redisClient redis.UniversalClient, prefix string) *ResetSessionStore {
	if prefix == "" {
		prefix = "pr"
	}
	return &ResetSessionStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *ResetSessionStore) key(userID string) string {
	return s.prefix + ":" + userID
}

func (s *ResetSessionStore) tokenKey(token string) string {
	return s.prefix + "t:" + token
}

// Put upserts the user's session with a full fresh TTL and rewrites the
// token index entries. Any previous session for the user is overwritten.
func (s *ResetSessionStore) Put(ctx context.Context, session *ResetSession, ttl time.Duration) error {
	encoded, err := encodeResetSession(session)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(session.UserID), encoded, ttl)
		if session.ResetToken != "" {
			pipe.Set(ctx, s.tokenKey(session.ResetToken), session.UserID, ttl)
		}
		if session.ConfirmToken != "" {
			pipe.Set(ctx, s.tokenKey(session.ConfirmToken), session.UserID, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// GetByUserID returns the live session or ErrSessionNotFound. Records past
// their own deadline are deleted on sight.
func (s *ResetSessionStore) GetByUserID(ctx context.Context, userID string) (*ResetSession, error) {
	data, err := s.redis.Get(ctx, s.key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	session, err := decodeResetSession(data)
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() > session.ExpiresAt {
		_ = s.Delete(ctx, userID)
		return nil, ErrSessionNotFound
	}

	return session, nil
}

// GetByToken resolves a reset or confirm token through the index. A token
// that resolves but no longer matches the live record (a leftover from an
// overwritten session) is treated as absent and its index entry removed.
func (s *ResetSessionStore) GetByToken(ctx context.Context, token string) (*ResetSession, error) {
	if token == "" {
		return nil, ErrSessionNotFound
	}

	userID, err := s.redis.Get(ctx, s.tokenKey(token)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	session, err := s.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if !tokenMatches(session, token) {
		_ = s.redis.Del(ctx, s.tokenKey(token)).Err()
		return nil, ErrSessionNotFound
	}

	return session, nil
}

// Delete removes the session and its index entries. Returns
// ErrSessionNotFound when there was nothing to delete.
func (s *ResetSessionStore) Delete(ctx context.Context, userID string) error {
	data, err := s.redis.Get(ctx, s.key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	keys := []string{s.key(userID)}
	if session, decodeErr := decodeResetSession(data); decodeErr == nil {
		if session.ResetToken != "" {
			keys = append(keys, s.tokenKey(session.ResetToken))
		}
		if session.ConfirmToken != "" {
			keys = append(keys, s.tokenKey(session.ConfirmToken))
		}
	}

	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// FailOTPAttempt increments the attempt counter under WATCH so concurrent
// wrong-OTP submissions cannot lose increments. Reaching maxAttempts burns
// the session and returns ErrAttemptsExceeded; otherwise the session is
// re-persisted with a fresh TTL and the remaining budget is returned.
func (s *ResetSessionStore) FailOTPAttempt(ctx context.Context, userID string, maxAttempts int, ttl time.Duration) (int, error) {
	const maxRetries = 4
	key := s.key(userID)

	for i := 0; i < maxRetries; i++ {
		remaining := 0

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			session, err := decodeResetSession(data)
			if err != nil {
				return err
			}

			now := time.Now()
			if now.Unix() > session.ExpiresAt {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					deleteSessionKeys(ctx, pipe, s, session)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrSessionNotFound
			}

			session.Attempts++
			if int(session.Attempts) >= maxAttempts {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					deleteSessionKeys(ctx, pipe, s, session)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrAttemptsExceeded
			}

			session.ExpiresAt = now.Add(ttl).Unix()
			updated, err := encodeResetSession(session)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				if session.ResetToken != "" {
					pipe.Expire(ctx, s.tokenKey(session.ResetToken), ttl)
				}
				if session.ConfirmToken != "" {
					pipe.Expire(ctx, s.tokenKey(session.ConfirmToken), ttl)
				}
				return nil
			})
			if err != nil {
				return err
			}

			remaining = maxAttempts - int(session.Attempts)
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return 0, ErrSessionNotFound
			case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrAttemptsExceeded):
				return 0, err
			default:
				return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
		}

		return remaining, nil
	}

	return 0, ErrSessionNotFound
}

func deleteSessionKeys(ctx context.Context, pipe redis.Pipeliner, s *ResetSessionStore, session *ResetSession) {
	pipe.Del(ctx, s.key(session.UserID))
	if session.ResetToken != "" {
		pipe.Del(ctx, s.tokenKey(session.ResetToken))
	}
	if session.ConfirmToken != "" {
		pipe.Del(ctx, s.tokenKey(session.ConfirmToken))
	}
}

func tokenMatches(session *ResetSession, token string) bool {
	if session.ResetToken != "" &&
		subtle.ConstantTimeCompare([]byte(session.ResetToken), []byte(token)) == 1 {
		return true
	}
	if session.ConfirmToken != "" &&
		subtle.ConstantTimeCompare([]byte(session.ConfirmToken), []byte(token)) == 1 {
		return true
	}
	return false
}

func encodeResetSession(session *ResetSession) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(resetSessionVersionV1)

	var flags byte
	if session.OTPVerified {
		flags |= flagOTPVerified
	}
	buf.WriteByte(flags)

	if err := binary.Write(&buf, binary.BigEndian, session.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, session.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, session.ExpiresAt); err != nil {
		return nil, err
	}

	for _, field := range []string{session.UserID, session.Method, session.ResetToken, session.ConfirmToken, session.OTP} {
		if len(field) > 65535 {
			return nil, errors.New("reset session field too long")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.WriteString(field)
	}

	return buf.Bytes(), nil
}

func decodeResetSession(data []byte) (*ResetSession, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != resetSessionVersionV1 {
		return nil, errors.New("invalid reset session version")
	}

	flags, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	session := &ResetSession{
		OTPVerified: flags&flagOTPVerified != 0,
	}

	if err := binary.Read(reader, binary.BigEndian, &session.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &session.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &session.ExpiresAt); err != nil {
		return nil, err
	}

	for _, field := range []*string{&session.UserID, &session.Method, &session.ResetToken, &session.ConfirmToken, &session.OTP} {
		var length uint16
		if err := binary.Read(reader, binary.BigEndian, &length); err != nil {
			return nil, err
		}
		raw := make([]byte, length)
		if _, err := io.ReadFull(reader, raw); err != nil {
			return nil, err
		}
		*field = string(raw)
	}

	return session, nil
}
