package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sakif/berri-graph/internal/model"
)

var _ MutualCache = (*Redis)(nil)

// RedisConfig holds Redis cache settings.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	TTL       time.Duration
	KeyPrefix string
}

// Redis is a MutualCache shared between server instances. Every entry key
// is also recorded in a per-user index set so InvalidateUser does not need
// to scan the keyspace. Redis expiry handles the TTL; capacity is left to
// the server's maxmemory policy.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

// NewRedis creates a Redis-backed cache. It does not dial; call Ping.
func NewRedis(cfg RedisConfig, logger *slog.Logger) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "berri"
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &Redis{
		client: client,
		ttl:    cfg.TTL,
		prefix: cfg.KeyPrefix,
		logger: logger.With("component", "redis-cache"),
	}, nil
}

// Ping checks the connection to the server.
func (c *Redis) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the client.
func (c *Redis) Close() error {
	return c.client.Close()
}

func (c *Redis) entryKey(a, b string) string {
	return c.prefix + ":mutuals:" + Key(a, b)
}

func (c *Redis) userKey(username string) string {
	return c.prefix + ":mutuals-by-user:" + model.NormalizeUsername(username)
}

// Get returns the cached result for the ordered pair (a, b), or nil when
// there is none. Expiry is left to the server.
func (c *Redis) Get(ctx context.Context, a, b string) (*model.MutualResult, error) {
	data, err := c.client.Get(ctx, c.entryKey(a, b)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mutuals: %w", err)
	}

	var result model.MutualResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode cached mutuals: %w", err)
	}
	return &result, nil
}

// Set stores result with the cache TTL and adds its key to the index sets
// of both users in one transaction.
func (c *Redis) Set(ctx context.Context, a, b string, result *model.MutualResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode mutuals: %w", err)
	}

	key := c.entryKey(a, b)
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, c.ttl)
		for _, u := range []string{a, b} {
			idx := c.userKey(u)
			pipe.SAdd(ctx, idx, key)
			// the index outlives its newest entry by one TTL at most
			pipe.Expire(ctx, idx, c.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to cache mutuals: %w", err)
	}
	return nil
}

// Invalidate deletes the entry for (a, b).
func (c *Redis) Invalidate(ctx context.Context, a, b string) error {
	if err := c.client.Del(ctx, c.entryKey(a, b)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate mutuals: %w", err)
	}
	return nil
}

// InvalidateUser deletes every entry listed in the index set of username,
// then the set itself.
func (c *Redis) InvalidateUser(ctx context.Context, username string) error {
	idx := c.userKey(username)
	keys, err := c.client.SMembers(ctx, idx).Result()
	if err != nil {
		return fmt.Errorf("failed to read user index: %w", err)
	}

	keys = append(keys, idx)
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate user %s: %w", username, err)
	}
	c.logger.Debug("invalidated cached mutuals",
		slog.String("username", username),
		slog.Int("entries", len(keys)-1))
	return nil
}

// Len counts live entries under the prefix with SCAN.
func (c *Redis) Len(ctx context.Context) (int, error) {
	var (
		n      int
		cursor uint64
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+":mutuals:*", 500).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to scan cache keys: %w", err)
		}
		n += len(keys)
		if next == 0 {
			return n, nil
		}
		cursor = next
	}
}
