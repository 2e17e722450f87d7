package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const sessionPrefix = "session:"

// RedisStore keeps sessions in Redis so a multi-process deployment can share
// the session table; the contract is identical to MemoryStore. Expiry is
// decided from the persisted CreatedAt, never from the key's remaining TTL:
// writes refresh the key TTL, so it only serves as garbage collection for
// sessions nothing looks up again.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(ctx context.Context, url string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{rdb: rdb, ttl: ttl, now: time.Now}, nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func (s *RedisStore) GetOrCreate(ctx context.Context, callID, from string) (*Session, error) {
	sess, err := s.load(ctx, callID)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		return sess, nil
	}

	sess = &Session{
		ID:        callID,
		From:      from,
		History:   []Turn{},
		CreatedAt: s.now(),
	}
	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *RedisStore) Append(ctx context.Context, callID, role, text string) (*Session, error) {
	sess, err := s.load(ctx, callID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("unknown call id %q", callID)
	}
	sess.History = append(sess.History, Turn{Role: role, Text: text})
	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *RedisStore) SetConverted(ctx context.Context, callID string) error {
	sess, err := s.load(ctx, callID)
	if err != nil || sess == nil {
		return err
	}
	sess.Converted = true
	return s.save(ctx, sess)
}

// load returns nil for absent, expired or unreadable sessions.
func (s *RedisStore) load(ctx context.Context, callID string) (*Session, error) {
	data, err := s.rdb.Get(ctx, sessionPrefix+callID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, nil
	}
	// Expired sessions are treated as absent even while the key lingers.
	if s.now().Sub(sess.CreatedAt) >= s.ttl {
		return nil, nil
	}
	return &sess, nil
}

func (s *RedisStore) save(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.rdb.Set(ctx, sessionPrefix+sess.ID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}
