package response

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the shared blocklist backend.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// BlockTTL is how long block entries live.
	BlockTTL time.Duration `yaml:"block_ttl"`
	// KeyPrefix namespaces blocklist keys.
	KeyPrefix string `yaml:"key_prefix"`
}

// DefaultRedisConfig returns defaults for a local Redis.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		BlockTTL:     24 * time.Hour,
		KeyPrefix:    "sentinel:block",
	}
}

// RedisBlocklist is a blocklist shared across engine instances through
// Redis. Block entries are plain keys with a TTL so expiry needs no
// background sweeper.
type RedisBlocklist struct {
	client *redis.Client
	cfg    RedisConfig
}

// NewRedisBlocklist connects to Redis and verifies the connection.
func NewRedisBlocklist(cfg RedisConfig) (*RedisBlocklist, error) {
	if cfg.BlockTTL <= 0 {
		cfg.BlockTTL = 24 * time.Hour
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "sentinel:block"
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisBlocklist{client: client, cfg: cfg}, nil
}

// Block adds a value for the configured TTL.
func (r *RedisBlocklist) Block(ctx context.Context, scope, value string) error {
	return r.client.Set(ctx, r.key(scope, value), time.Now().UTC().Format(time.RFC3339), r.cfg.BlockTTL).Err()
}

// Unblock removes a value.
func (r *RedisBlocklist) Unblock(ctx context.Context, scope, value string) error {
	return r.client.Del(ctx, r.key(scope, value)).Err()
}

// Contains reports whether a value is currently blocked.
func (r *RedisBlocklist) Contains(ctx context.Context, scope, value string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(scope, value)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Close releases the underlying connection pool.
func (r *RedisBlocklist) Close() error {
	return r.client.Close()
}

func (r *RedisBlocklist) key(scope, value string) string {
	return fmt.Sprintf("%s:%s:%s", r.cfg.KeyPrefix, scope, value)
}

// redisBlockEffect is a block effect backed by the shared Redis blocklist.
type redisBlockEffect struct {
	kind  ActionKind
	list  *RedisBlocklist
	scope string
	field func(Target) string
}

func (e *redisBlockEffect) Kind() ActionKind { return e.kind }

func (e *redisBlockEffect) Execute(ctx context.Context, target Target) (string, error) {
	value := e.field(target)
	if value == "" {
		return "", fmt.Errorf("%s: target has no value to block", e.kind)
	}
	if err := e.list.Block(ctx, e.scope, value); err != nil {
		return "", fmt.Errorf("%s: %w", e.kind, err)
	}
	return fmt.Sprintf("blocked %s", value), nil
}

func (e *redisBlockEffect) Rollback(ctx context.Context, target Target) error {
	value := e.field(target)
	if value == "" {
		return fmt.Errorf("%s: target has no value to unblock", e.kind)
	}
	return e.list.Unblock(ctx, e.scope, value)
}

// RedisBlockEffects returns block effects that persist entries in Redis,
// replacing the in-memory set when a shared backend is configured.
func RedisBlockEffects(list *RedisBlocklist) []MitigationEffect {
	return []MitigationEffect{
		&redisBlockEffect{kind: ActionBlockIP, list: list, scope: "ip", field: func(t Target) string { return t.SourceIP }},
		&redisBlockEffect{kind: ActionBlockUser, list: list, scope: "user", field: func(t Target) string { return t.UserID }},
		&redisBlockEffect{kind: ActionBlockDevice, list: list, scope: "device", field: func(t Target) string { return t.DeviceID }},
	}
}
