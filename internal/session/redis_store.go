package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "session:v1:device:"
	maxTxRetries     = 3
	minKeyTTL        = time.Second
)

// RedisStore keeps sessions in Redis. A key lives until the session's expiry
// plus retention, so validation can still report an expired session.
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
	now       func() time.Time
}

// NewRedisStore builds a Redis-backed session store.
func NewRedisStore(client *redis.Client, retention time.Duration) *RedisStore {
	return &RedisStore{client: client, retention: retention, now: time.Now}
}

func (s *RedisStore) setClock(now func() time.Time) { s.now = now }

func sessionKey(deviceID string) string { return sessionKeyPrefix + deviceID }

func (s *RedisStore) ttl(sess Session) time.Duration {
	ttl := sess.ExpiresAt.Sub(s.now()) + s.retention
	if ttl < minKeyTTL {
		return minKeyTTL
	}
	return ttl
}

// Put replaces the device session in one MULTI block and returns the old one.
func (s *RedisStore) Put(ctx context.Context, sess Session) (Session, bool, error) {
	payload, err := json.Marshal(sess)
	if err != nil {
		return Session{}, false, fmt.Errorf("encode session: %w", err)
	}
	key := sessionKey(sess.DeviceID)

	var prev *redis.StringCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		prev = pipe.Get(ctx, key)
		pipe.Set(ctx, key, payload, s.ttl(sess))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return Session{}, false, fmt.Errorf("store session: %w", err)
	}
	return decodePrevious(prev)
}

// Get returns the session for deviceID.
func (s *RedisStore) Get(ctx context.Context, deviceID string) (Session, error) {
	raw, err := s.client.Get(ctx, sessionKey(deviceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("load session: %w", err)
	}
	return decodeSession(raw)
}

// Update runs fn inside a WATCH transaction on the device key.
func (s *RedisStore) Update(ctx context.Context, deviceID string, fn func(*Session) error) (Session, error) {
	key := sessionKey(deviceID)
	var updated Session
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}
		sess, err := decodeSession(raw)
		if err != nil {
			return err
		}
		if err := fn(&sess); err != nil {
			return err
		}
		payload, err := json.Marshal(sess)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttl(sess))
			return nil
		})
		if err == nil {
			updated = sess
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return Session{}, err
		}
		return updated, nil
	}
	return Session{}, fmt.Errorf("update session: %w", redis.TxFailedErr)
}

// Delete removes the device key and returns what it held.
func (s *RedisStore) Delete(ctx context.Context, deviceID string) (Session, bool, error) {
	key := sessionKey(deviceID)
	var prev *redis.StringCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		prev = pipe.Get(ctx, key)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return Session{}, false, fmt.Errorf("delete session: %w", err)
	}
	return decodePrevious(prev)
}

func decodePrevious(cmd *redis.StringCmd) (Session, bool, error) {
	raw, err := cmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, fmt.Errorf("read previous session: %w", err)
	}
	sess, err := decodeSession(raw)
	if err != nil {
		return Session{}, false, err
	}
	return sess, true, nil
}

func decodeSession(raw []byte) (Session, error) {
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return Session{}, fmt.Errorf("decode session: %w", err)
	}
	return sess, nil
}
