package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/reservation-engine/pkg/response"
	"github.com/redis/go-redis/v9"
)

const (
	// IdempotencyKeyHeader is the header name for idempotency key
	IdempotencyKeyHeader = "X-Idempotency-Key"
	// IdempotencyKeyPrefix namespaces records in Redis
	IdempotencyKeyPrefix = "idempotency:"
)

// IdempotencyStatus represents the status of an idempotency record
type IdempotencyStatus string

const (
	StatusProcessing IdempotencyStatus = "processing"
	StatusCompleted  IdempotencyStatus = "completed"
)

// IdempotencyRecord stores the state of an idempotent request
type IdempotencyRecord struct {
	Key          string            `json:"key"`
	Status       IdempotencyStatus `json:"status"`
	RequestHash  string            `json:"request_hash"`
	ResponseCode int               `json:"response_code"`
	ResponseBody string            `json:"response_body"`
	CreatedAt    time.Time         `json:"created_at"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
}

// RedisClient is the subset of Redis commands the middleware uses
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// IdempotencyConfig holds configuration for idempotency middleware
type IdempotencyConfig struct {
	Redis RedisClient
	// TTL for completed records
	TTL time.Duration
	// ProcessingTTL bounds how long an in-flight marker blocks retries
	ProcessingTTL time.Duration
	// Required rejects requests without the header
	Required bool
}

// DefaultIdempotencyConfig returns default configuration
func DefaultIdempotencyConfig(rdb RedisClient) *IdempotencyConfig {
	return &IdempotencyConfig{
		Redis:         rdb,
		TTL:           24 * time.Hour,
		ProcessingTTL: 60 * time.Second,
	}
}

// Idempotency replays the stored response for a repeated X-Idempotency-Key.
// Records are scoped per user; 5xx responses are not stored so the client can
// retry.
func Idempotency(config *IdempotencyConfig) gin.HandlerFunc {
	if config.ProcessingTTL <= 0 {
		config.ProcessingTTL = 60 * time.Second
	}
	if config.TTL <= 0 {
		config.TTL = 24 * time.Hour
	}

	return func(c *gin.Context) {
		key := c.GetHeader(IdempotencyKeyHeader)
		if key == "" {
			if config.Required {
				response.Abort(c, http.StatusBadRequest, "MISSING_IDEMPOTENCY_KEY", "X-Idempotency-Key header is required")
				return
			}
			c.Next()
			return
		}

		var body []byte
		if c.Request.Body != nil {
			body, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewReader(body))
		}

		userID, _ := GetUserID(c)
		requestHash := hashRequest(c.Request.Method, c.Request.URL.Path, userID, body)
		redisKey := IdempotencyKeyPrefix + userID + ":" + key
		ctx := c.Request.Context()

		record := &IdempotencyRecord{
			Key:         key,
			Status:      StatusProcessing,
			RequestHash: requestHash,
			CreatedAt:   time.Now(),
		}

		claimed, err := trySetRecord(ctx, config.Redis, redisKey, record, config.ProcessingTTL)
		if err != nil {
			// Redis unavailable: fail open
			c.Next()
			return
		}

		if !claimed {
			existing, err := getRecord(ctx, config.Redis, redisKey)
			if err != nil {
				c.Next()
				return
			}
			replay(c, existing, requestHash)
			return
		}

		rw := &capturingWriter{ResponseWriter: c.Writer, body: &bytes.Buffer{}, status: http.StatusOK}
		c.Writer = rw

		c.Next()

		if rw.status >= http.StatusInternalServerError {
			_ = config.Redis.Del(ctx, redisKey).Err()
			return
		}

		now := time.Now()
		record.Status = StatusCompleted
		record.ResponseCode = rw.status
		record.ResponseBody = rw.body.String()
		record.CompletedAt = &now
		_ = saveRecord(ctx, config.Redis, redisKey, record, config.TTL)
	}
}

func replay(c *gin.Context, existing *IdempotencyRecord, requestHash string) {
	switch {
	case existing.RequestHash != requestHash:
		response.Abort(c, http.StatusUnprocessableEntity, "IDEMPOTENCY_KEY_REUSED", "idempotency key already used with a different request")
	case existing.Status == StatusProcessing:
		response.Abort(c, http.StatusConflict, "REQUEST_IN_PROGRESS", "a request with this idempotency key is already being processed")
	default:
		c.Header("Idempotent-Replayed", "true")
		c.Data(existing.ResponseCode, "application/json", []byte(existing.ResponseBody))
		c.Abort()
	}
}

type capturingWriter struct {
	gin.ResponseWriter
	body   *bytes.Buffer
	status int
}

func (w *capturingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *capturingWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func hashRequest(method, path, userID string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte(path))
	h.Write([]byte(userID))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func getRecord(ctx context.Context, rdb RedisClient, key string) (*IdempotencyRecord, error) {
	raw, err := rdb.Get(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	var record IdempotencyRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func trySetRecord(ctx context.Context, rdb RedisClient, key string, record *IdempotencyRecord, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return false, err
	}
	ok, err := rdb.SetNX(ctx, key, string(data), ttl).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, err
	}
	return ok, nil
}

func saveRecord(ctx context.Context, rdb RedisClient, key string, record *IdempotencyRecord, ttl time.Duration) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return rdb.Set(ctx, key, string(data), ttl).Err()
}
