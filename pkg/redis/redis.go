package redis

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Nil is returned by reads of missing keys or fields
const Nil = redis.Nil

// ErrTxFailed is returned by Watch when a watched key changed before EXEC
var ErrTxFailed = redis.TxFailedErr

// Config holds Redis connection configuration
type Config struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Connect retry
	MaxRetries    int
	RetryInterval time.Duration
}

// DefaultConfig returns default Redis configuration
func DefaultConfig() *Config {
	return &Config{
		Host:          "localhost",
		Port:          6379,
		DB:            0,
		PoolSize:      100,
		MinIdleConns:  10,
		DialTimeout:   5 * time.Second,
		ReadTimeout:   3 * time.Second,
		WriteTimeout:  3 * time.Second,
		MaxRetries:    3,
		RetryInterval: time.Second,
	}
}

// Addr returns the Redis address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Client wraps redis.Client with script caching and optimistic transactions
type Client struct {
	client  *redis.Client
	config  *Config
	scripts sync.Map // script name -> sha
}

// NewClient creates a new Redis client, retrying the initial ping
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				client.Close()
				return nil, ctx.Err()
			case <-time.After(cfg.RetryInterval):
			}
		}

		if lastErr = client.Ping(ctx).Err(); lastErr == nil {
			return &Client{client: client, config: cfg}, nil
		}
	}

	client.Close()
	return nil, fmt.Errorf("failed to connect to redis after %d attempts: %w", cfg.MaxRetries+1, lastErr)
}

// Client returns the underlying redis.Client
func (c *Client) Client() *redis.Client {
	return c.client
}

// Ping checks if Redis connection is alive
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

// HealthCheck performs a health check on Redis
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result, err := c.client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	if result != "PONG" {
		return fmt.Errorf("redis health check unexpected response: %s", result)
	}
	return nil
}

// --- Lua scripts ---

// Script is a named Lua script. Source is usually go:embed'ed by the caller.
type Script struct {
	Name   string
	Source string
}

// NewScript creates a named script
func NewScript(name, source string) *Script {
	return &Script{Name: name, Source: source}
}

// SHA returns the SHA1 Redis assigns to the script source
func (s *Script) SHA() string {
	return computeSHA1(s.Source)
}

func computeSHA1(script string) string {
	h := sha1.New()
	h.Write([]byte(script))
	return hex.EncodeToString(h.Sum(nil))
}

// LoadScripts preloads scripts so the first request runs EVALSHA directly
func (c *Client) LoadScripts(ctx context.Context, scripts ...*Script) error {
	for _, s := range scripts {
		sha, err := c.client.ScriptLoad(ctx, s.Source).Result()
		if err != nil {
			return fmt.Errorf("failed to load script %s: %w", s.Name, err)
		}
		c.scripts.Store(s.Name, sha)
	}
	return nil
}

// ScriptSHA returns the cached SHA for a script name
func (c *Client) ScriptSHA(name string) (string, bool) {
	if sha, ok := c.scripts.Load(name); ok {
		return sha.(string), true
	}
	return "", false
}

// Run executes a script by SHA, loading it on first use and reloading it
// after a NOSCRIPT reply (server restart or SCRIPT FLUSH)
func (c *Client) Run(ctx context.Context, s *Script, keys []string, args ...interface{}) *redis.Cmd {
	sha, ok := c.ScriptSHA(s.Name)
	if ok {
		result := c.client.EvalSha(ctx, sha, keys, args...)
		if !isNoScriptError(result.Err()) {
			return result
		}
	}

	if err := c.LoadScripts(ctx, s); err != nil {
		cmd := redis.NewCmd(ctx)
		cmd.SetErr(err)
		return cmd
	}

	sha, _ = c.ScriptSHA(s.Name)
	return c.client.EvalSha(ctx, sha, keys, args...)
}

func isNoScriptError(err error) bool {
	if err == nil {
		return false
	}
	return strings.HasPrefix(err.Error(), "NOSCRIPT")
}

// --- Optimistic transactions ---

// Watch runs fn under WATCH on keys. fn reads through tx and queues writes
// with tx.TxPipelined; ErrTxFailed means a watched key changed.
func (c *Client) Watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	return c.client.Watch(ctx, fn, keys...)
}

// IsTxFailed reports whether err is an aborted optimistic transaction
func IsTxFailed(err error) bool {
	return errors.Is(err, redis.TxFailedErr)
}

// IsTransient reports whether err is a connection-level failure worth retrying
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if IsTxFailed(err) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "i/o timeout") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.HasPrefix(msg, "LOADING") ||
		strings.HasPrefix(msg, "TRYAGAIN") ||
		errors.Is(err, redis.ErrClosed)
}

// --- Key/value ---

// Get gets a value by key
func (c *Client) Get(ctx context.Context, key string) *redis.StringCmd {
	return c.client.Get(ctx, key)
}

// Set sets a value with optional expiration
func (c *Client) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	return c.client.Set(ctx, key, value, expiration)
}

// SetNX sets a value only if key doesn't exist
func (c *Client) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	return c.client.SetNX(ctx, key, value, expiration)
}

// Del deletes keys
func (c *Client) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	return c.client.Del(ctx, keys...)
}

// --- Hashes ---

// HGet gets a hash field
func (c *Client) HGet(ctx context.Context, key, field string) *redis.StringCmd {
	return c.client.HGet(ctx, key, field)
}

// HSet sets hash fields
func (c *Client) HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	return c.client.HSet(ctx, key, values...)
}

// HGetAll gets all fields in a hash
func (c *Client) HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd {
	return c.client.HGetAll(ctx, key)
}

// --- Sets ---

// SAdd adds members to a set
func (c *Client) SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	return c.client.SAdd(ctx, key, members...)
}

// SMembers lists set members
func (c *Client) SMembers(ctx context.Context, key string) *redis.StringSliceCmd {
	return c.client.SMembers(ctx, key)
}

// SRem removes members from a set
func (c *Client) SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	return c.client.SRem(ctx, key, members...)
}
