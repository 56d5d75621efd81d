package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig contains Redis connection configuration for RedisStore
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int

	// TTL for the stored session, normally the refresh token lifetime
	TTL time.Duration

	PoolSize     int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	DialTimeout  time.Duration
}

// DefaultRedisConfig returns a configuration with sensible defaults
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Host:         "localhost",
		Port:         6379,
		TTL:          7 * 24 * time.Hour,
		PoolSize:     10,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		DialTimeout:  5 * time.Second,
	}
}

// Validate checks the configuration for validity
func (c *RedisConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("redis host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("redis port must be between 1 and 65535")
	}
	if c.PoolSize <= 0 {
		return fmt.Errorf("redis pool size must be greater than 0")
	}
	if c.TTL < 0 {
		return fmt.Errorf("redis ttl must not be negative")
	}
	return nil
}

// RedisStore implements TokenStore on Redis. The token pair and the
// principal live under the two fixed keys and are written in one
// MULTI/EXEC so readers never see one without the other.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// Ensure RedisStore implements TokenStore at compile time.
var _ TokenStore = (*RedisStore)(nil)

// NewRedisStore wraps an existing client. A zero ttl stores without expiry.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// DialRedisStore connects to Redis and verifies the connection
func DialRedisStore(ctx context.Context, config *RedisConfig) (*RedisStore, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:         net.JoinHostPort(config.Host, fmt.Sprintf("%d", config.Port)),
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		DialTimeout:  config.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStore(client, config.TTL), nil
}

// Save writes both keys atomically
func (s *RedisStore) Save(ctx context.Context, session *StoredSession) error {
	token, err := json.Marshal(session.Token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}
	principal, err := json.Marshal(session.Principal)
	if err != nil {
		return fmt.Errorf("failed to marshal principal: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, TokenKey, token, s.ttl)
		pipe.Set(ctx, PrincipalKey, principal, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Load reads both keys. A half-present session counts as no session.
func (s *RedisStore) Load(ctx context.Context) (*StoredSession, error) {
	values, err := s.client.MGet(ctx, TokenKey, PrincipalKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if len(values) != 2 {
		return nil, ErrNoSession
	}
	rawToken, ok := values[0].(string)
	if !ok {
		return nil, ErrNoSession
	}
	rawPrincipal, ok := values[1].(string)
	if !ok {
		return nil, ErrNoSession
	}

	var session StoredSession
	if err := json.Unmarshal([]byte(rawToken), &session.Token); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	if err := json.Unmarshal([]byte(rawPrincipal), &session.Principal); err != nil {
		return nil, fmt.Errorf("failed to unmarshal principal: %w", err)
	}
	return &session, nil
}

// Clear deletes both keys
func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, TokenKey, PrincipalKey).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// Close closes the underlying client
func (s *RedisStore) Close() error {
	return s.client.Close()
}
