package limiters

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const rateRecordVersionV1 = 1

var (
	ErrRedisUnavailable = errors.New("reset limiter redis unavailable")
)

// Config bounds reset requests per identifier+method.
type Config struct {
	MaxRequests int
	Window      time.Duration
}

// Decision is the outcome of a limit check. RetryAfter is zero when the
// request is allowed; Attempts is the count already recorded within the
// window.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Attempts   int
}

// RequestLimiter tracks {count, lastRequest} per identifier+method in a
// compact binary record whose own TTL equals the rolling window. A record
// that somehow outlives its window is treated as stale: the request is
// allowed and the next Record call restarts the count at 1.
type RequestLimiter struct {
	redis  redis.UniversalClient
	prefix string
	config Config
}

func NewRequestLimiter(redisClient redis.UniversalClient, prefix string, cfg Config) *RequestLimiter {
	if prefix == "" {
		prefix = "prl"
	}
	return &RequestLimiter{
		redis:  redisClient,
		prefix: prefix,
		config: cfg,
	}
}

func (l *RequestLimiter) key(method, identifier string) string {
	return l.prefix + ":" + method + ":" + identifier
}

// Check reports whether a new request may proceed. It never mutates the
// record; pairing with Record is the caller's responsibility.
func (l *RequestLimiter) Check(ctx context.Context, method, identifier string) (Decision, error) {
	count, lastRequest, found, err := l.load(ctx, method, identifier)
	if err != nil {
		return Decision{}, err
	}
	if !found {
		return Decision{Allowed: true}, nil
	}

	elapsed := time.Since(time.Unix(lastRequest, 0))
	if count < uint32(l.config.MaxRequests) || elapsed >= l.config.Window {
		return Decision{Allowed: true, Attempts: int(count)}, nil
	}

	return Decision{
		Allowed:    false,
		RetryAfter: l.config.Window - elapsed,
		Attempts:   int(count),
	}, nil
}

// Record counts one request and refreshes lastRequest plus the record TTL.
// Safe to call without a preceding Check. A lapsed window restarts the
// count instead of stacking onto the stale value.
func (l *RequestLimiter) Record(ctx context.Context, method, identifier string) error {
	count, lastRequest, found, err := l.load(ctx, method, identifier)
	if err != nil {
		return err
	}

	now := time.Now()
	next := uint32(1)
	if found && now.Sub(time.Unix(lastRequest, 0)) < l.config.Window {
		next = count + 1
	}

	encoded, err := encodeRateRecord(next, now.Unix())
	if err != nil {
		return err
	}
	if err := l.redis.Set(ctx, l.key(method, identifier), encoded, l.config.Window).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

func (l *RequestLimiter) load(ctx context.Context, method, identifier string) (count uint32, lastRequest int64, found bool, err error) {
	data, err := l.redis.Get(ctx, l.key(method, identifier)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, 0, false, nil
		}
		return 0, 0, false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	count, lastRequest, err = decodeRateRecord(data)
	if err != nil {
		// A corrupt record should not lock the identifier out forever.
		return 0, 0, false, nil
	}
	return count, lastRequest, true, nil
}

func encodeRateRecord(count uint32, lastRequest int64) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(rateRecordVersionV1)
	if err := binary.Write(&buf, binary.BigEndian, count); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, lastRequest); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decodeRateRecord(data []byte) (uint32, int64, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return 0, 0, err
	}
	if version != rateRecordVersionV1 {
		return 0, 0, errors.New("invalid rate record version")
	}

	var count uint32
	if err := binary.Read(reader, binary.BigEndian, &count); err != nil {
		return 0, 0, err
	}
	var lastRequest int64
	if err := binary.Read(reader, binary.BigEndian, &lastRequest); err != nil {
		return 0, 0, err
	}

	return count, lastRequest, nil
}
