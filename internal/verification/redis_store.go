package verification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	codeKeyPrefix   = "otp:v1:code:"
	maxTxRetries    = 3
	minKeyRetention = time.Second
)

// RedisStore keeps codes in Redis. Keys outlive the code by retention so an
// expired code can still be told apart from one that never existed.
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
	now       func() time.Time
}

// NewRedisStore builds a Redis-backed code store.
func NewRedisStore(client *redis.Client, retention time.Duration) *RedisStore {
	return &RedisStore{client: client, retention: retention, now: time.Now}
}

func (s *RedisStore) setClock(now func() time.Time) { s.now = now }

func codeKey(phone string) string { return codeKeyPrefix + phone }

// Put stores code with a TTL covering its validity window plus retention.
func (s *RedisStore) Put(ctx context.Context, code Code) error {
	payload, err := json.Marshal(code)
	if err != nil {
		return fmt.Errorf("encode code: %w", err)
	}
	ttl := code.ExpiresAt.Sub(s.now()) + s.retention
	if ttl < minKeyRetention {
		ttl = minKeyRetention
	}
	if err := s.client.Set(ctx, codeKey(code.Phone), payload, ttl).Err(); err != nil {
		return fmt.Errorf("store code: %w", err)
	}
	return nil
}

// Get returns the stored code for phone.
func (s *RedisStore) Get(ctx context.Context, phone string) (Code, error) {
	raw, err := s.client.Get(ctx, codeKey(phone)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Code{}, ErrNoPendingCode
	}
	if err != nil {
		return Code{}, fmt.Errorf("load code: %w", err)
	}
	return decodeCode(raw)
}

// Consume runs check and deletes the key inside a WATCH transaction, so a
// concurrent Put for the same phone aborts and retries the consumption.
func (s *RedisStore) Consume(ctx context.Context, phone string, check func(Code) error) error {
	key := codeKey(phone)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNoPendingCode
		}
		if err != nil {
			return fmt.Errorf("load code: %w", err)
		}
		code, err := decodeCode(raw)
		if err != nil {
			return err
		}
		if err := check(code); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("consume code: %w", redis.TxFailedErr)
}

func decodeCode(raw []byte) (Code, error) {
	var code Code
	if err := json.Unmarshal(raw, &code); err != nil {
		return Code{}, fmt.Errorf("decode code: %w", err)
	}
	return code, nil
}
