package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgellow/signin-gate/internal/crypto"
	"github.com/redis/go-redis/v9"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

var _ StateStore = (*RedisStateStore)(nil)

// RedisConfig holds Redis connection settings for the state store.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	// KeyPrefix namespaces keys, e.g. "signin-gate:".
	KeyPrefix string
}

// RedisStateStore keeps pending authorization requests in Redis. Entries
// expire natively; consumption uses GETDEL so only one caller can win.
type RedisStateStore struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
	now       func() time.Time
}

// NewRedisStateStore connects to Redis and verifies the connection.
func NewRedisStateStore(ctx context.Context, cfg RedisConfig, ttl time.Duration, opts ...Option) (*RedisStateStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if ttl <= 0 {
		return nil, errors.New("state ttl must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  DefaultDialTimeout,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStateStoreWithClient(client, cfg.KeyPrefix, ttl, opts...), nil
}

// NewRedisStateStoreWithClient creates a RedisStateStore with a pre-configured client.
// This is useful for testing with miniredis.
func NewRedisStateStoreWithClient(client redis.UniversalClient, keyPrefix string, ttl time.Duration, opts ...Option) *RedisStateStore {
	o := applyOptions(opts)
	return &RedisStateStore{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		now:       o.now,
	}
}

func (s *RedisStateStore) key(state string) string {
	return s.keyPrefix + "state:" + crypto.HashToken(state)
}

// Issue stores the request under the hashed state with a native TTL
func (s *RedisStateStore) Issue(ctx context.Context, returnURL string) (string, error) {
	req, err := newAuthorizationRequest(returnURL, s.now(), s.ttl)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshaling state: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.key(req.State), data, s.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("storing state: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("state collision")
	}
	return req.State, nil
}

// Consume atomically reads and deletes the request
func (s *RedisStateStore) Consume(ctx context.Context, state string) (*AuthorizationRequest, error) {
	if state == "" {
		return nil, ErrInvalidOrExpiredState
	}

	data, err := s.client.GetDel(ctx, s.key(state)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrInvalidOrExpiredState
		}
		return nil, fmt.Errorf("consuming state: %w", err)
	}

	var req AuthorizationRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("unmarshaling state: %w", err)
	}
	if req.Expired(s.now()) {
		return nil, ErrInvalidOrExpiredState
	}
	req.State = state
	return &req, nil
}

// DeleteExpired is a no-op; Redis expires keys itself
func (s *RedisStateStore) DeleteExpired(context.Context) (int, error) {
	return 0, nil
}

// Ping checks Redis connectivity
func (s *RedisStateStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client connection.
func (s *RedisStateStore) Close() error {
	return s.client.Close()
}
