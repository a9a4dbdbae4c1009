package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getTestConfig() *Config {
	cfg := DefaultConfig()
	if host := os.Getenv("TEST_REDIS_HOST"); host != "" {
		cfg.Host = host
	}
	if password := os.Getenv("TEST_REDIS_PASSWORD"); password != "" {
		cfg.Password = password
	}
	return cfg
}

func requireIntegration(t *testing.T) *Client {
	t.Helper()
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=true to run")
	}
	client, err := NewClient(context.Background(), getTestConfig())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 6379, cfg.Port)
	assert.Equal(t, 100, cfg.PoolSize)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, "localhost:6379", cfg.Addr())
}

func TestNewClient_Unreachable(t *testing.T) {
	cfg := &Config{
		Host:          "invalid-host-that-does-not-exist",
		Port:          9999,
		MaxRetries:    0,
		RetryInterval: 100 * time.Millisecond,
		DialTimeout:   500 * time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewClient(ctx, cfg)
	assert.Error(t, err)
}

func TestScript_SHA(t *testing.T) {
	a := NewScript("a", "return 1")
	b := NewScript("b", "return 2")

	assert.Len(t, a.SHA(), 40)
	assert.Equal(t, a.SHA(), NewScript("other", "return 1").SHA())
	assert.NotEqual(t, a.SHA(), b.SHA())
}

func TestIsNoScriptError(t *testing.T) {
	assert.False(t, isNoScriptError(nil))
	assert.False(t, isNoScriptError(fmt.Errorf("some error")))
	assert.True(t, isNoScriptError(fmt.Errorf("NOSCRIPT No matching script. Please use EVAL.")))
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"redis nil", goredis.Nil, false},
		{"canceled", context.Canceled, false},
		{"tx failed", fmt.Errorf("increment: %w", ErrTxFailed), true},
		{"refused", errors.New("dial tcp 127.0.0.1:6379: connect: connection refused"), true},
		{"loading", errors.New("LOADING Redis is loading the dataset in memory"), true},
		{"script error", errors.New("ERR Error running script"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

// Integration tests - require Redis to be running

func TestClient_HealthCheck_Integration(t *testing.T) {
	client := requireIntegration(t)
	assert.NoError(t, client.HealthCheck(context.Background()))
}

func TestClient_Run_Integration(t *testing.T) {
	client := requireIntegration(t)
	ctx := context.Background()

	script := NewScript("test_double", `return tonumber(ARGV[1]) * 2`)

	result, err := client.Run(ctx, script, nil, 7).Int()
	require.NoError(t, err)
	assert.Equal(t, 14, result)

	_, cached := client.ScriptSHA(script.Name)
	assert.True(t, cached)

	// Reload after the server forgets the script
	require.NoError(t, client.Client().ScriptFlush(ctx).Err())
	result, err = client.Run(ctx, script, nil, 10).Int()
	require.NoError(t, err)
	assert.Equal(t, 20, result)
}

func TestClient_Watch_Integration(t *testing.T) {
	client := requireIntegration(t)
	ctx := context.Background()
	key := "test:watch:" + time.Now().Format("150405.000000")
	defer client.Del(ctx, key)

	err := client.Watch(ctx, func(tx *goredis.Tx) error {
		n, err := tx.HGet(ctx, key, "hall").Int64()
		if err != nil && !errors.Is(err, Nil) {
			return err
		}
		// A concurrent writer invalidates the transaction
		if err := client.HSet(ctx, key, "hall", 99).Err(); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key, "hall", n+1)
			return nil
		})
		return err
	}, key)

	assert.True(t, IsTxFailed(err))
	v, err := client.HGet(ctx, key, "hall").Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(99), v)
}
