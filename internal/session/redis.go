package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"b24bot/internal/telemetry"
)

// sessionTTL bounds how long an abandoned flow lingers.
const sessionTTL = 24 * time.Hour

// RedisStore keeps sessions in Redis so flows survive restarts and the
// bot can run more than one instance.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func sessionKey(chatID int64) string {
	return fmt.Sprintf("session:%d", chatID)
}

func (s *RedisStore) Get(ctx context.Context, chatID int64) (*Session, error) {
	raw, err := s.client.Get(ctx, sessionKey(chatID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session get: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("session decode: %w", err)
	}
	if sess.Fields == nil {
		sess.Fields = make(map[string]string)
	}
	return &sess, nil
}

func (s *RedisStore) Put(ctx context.Context, sess *Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("session encode: %w", err)
	}

	existed, err := s.client.Exists(ctx, sessionKey(sess.ChatID)).Result()
	if err != nil {
		return fmt.Errorf("session put: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(sess.ChatID), raw, sessionTTL).Err(); err != nil {
		return fmt.Errorf("session put: %w", err)
	}
	if existed == 0 {
		telemetry.ActiveSessions.Inc()
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, chatID int64) error {
	removed, err := s.client.Del(ctx, sessionKey(chatID)).Result()
	if err != nil {
		return fmt.Errorf("session clear: %w", err)
	}
	if removed > 0 {
		telemetry.ActiveSessions.Dec()
	}
	return nil
}
