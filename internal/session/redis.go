package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BTreeMap/UssdPipe/internal/models"
)

// RedisStore keeps sessions in Redis with a server-side TTL, refreshed on
// every save. Expiry needs no sweeper; Redis evicts lapsed keys itself.
// Session data round-trips through JSON, so numeric values read back as
// float64 (models.Session.GetFloat accounts for this).
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed session store. The store takes
// ownership of the client and closes it on Close.
func NewRedisStore(client *redis.Client, opts ...Option) (*RedisStore, error) {
	cfg := applyOptions(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		slog.Error("RedisStore ping failed", "error", err)
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	slog.Debug("RedisStore created", "ttl", cfg.TTL, "key_prefix", cfg.KeyPrefix)

	return &RedisStore{client: client, prefix: cfg.KeyPrefix, ttl: cfg.TTL}, nil
}

func (s *RedisStore) key(sessionID string) string {
	return s.prefix + sessionID
}

// GetOrCreate returns the live session for sessionID or creates a fresh one
// at entryState with the configured TTL.
func (s *RedisStore) GetOrCreate(ctx context.Context, sessionID, phoneNumber, entryState string) (*models.Session, bool, error) {
	payload, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		slog.Error("RedisStore.GetOrCreate get failed", "error", err, "sessionID", sessionID)
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	if err == nil {
		var sess models.Session
		if unmarshalErr := json.Unmarshal(payload, &sess); unmarshalErr != nil {
			slog.Error("RedisStore.GetOrCreate unmarshal failed", "error", unmarshalErr, "sessionID", sessionID)
			return nil, false, fmt.Errorf("decode session %s: %w", sessionID, unmarshalErr)
		}
		if sess.Data == nil {
			sess.Data = make(map[string]interface{})
		}
		slog.Debug("RedisStore.GetOrCreate: session found", "sessionID", sessionID, "state", sess.CurrentState)
		return &sess, false, nil
	}

	created := models.NewSession(sessionID, phoneNumber, entryState)
	if err := s.write(ctx, created); err != nil {
		return nil, false, err
	}
	slog.Debug("RedisStore.GetOrCreate: session created", "sessionID", sessionID, "entry_state", entryState)
	return created, true, nil
}

// Save persists the session and refreshes both its activity timestamp and
// the Redis TTL.
func (s *RedisStore) Save(ctx context.Context, session *models.Session) error {
	session.LastActivity = time.Now()
	if err := s.write(ctx, session); err != nil {
		return err
	}
	slog.Debug("RedisStore.Save succeeded", "sessionID", session.ID, "state", session.CurrentState, "input_count", session.InputCount)
	return nil
}

func (s *RedisStore) write(ctx context.Context, session *models.Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		slog.Error("RedisStore marshal failed", "error", err, "sessionID", session.ID)
		return fmt.Errorf("encode session %s: %w", session.ID, err)
	}
	if err := s.client.Set(ctx, s.key(session.ID), payload, s.ttl).Err(); err != nil {
		slog.Error("RedisStore set failed", "error", err, "sessionID", session.ID)
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes the session if present.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		slog.Error("RedisStore.Delete failed", "error", err, "sessionID", sessionID)
		return fmt.Errorf("redis del: %w", err)
	}
	slog.Debug("RedisStore.Delete succeeded", "sessionID", sessionID)
	return nil
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	slog.Debug("Closing Redis session store")
	return s.client.Close()
}
