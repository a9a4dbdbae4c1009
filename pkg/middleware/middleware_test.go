package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeRedis() *fakeRedis { return &fakeRedis{data: map[string]string{}} }

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value.(string)
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, _ time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.data[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.data, k)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func TestJWTAuth(t *testing.T) {
	r := gin.New()
	r.Use(JWTAuth(AuthConfig{Secret: testSecret, Issuer: "reservation-engine"}))
	r.GET("/me", func(c *gin.Context) {
		id, _ := GetUserID(c)
		c.String(http.StatusOK, id+"|"+c.GetString(ContextKeyUserRole))
	})

	token, err := IssueToken(testSecret, "reservation-engine", Claims{UserID: "user-1", Role: RoleCustomer}, time.Minute)
	require.NoError(t, err)
	expired, err := IssueToken(testSecret, "reservation-engine", Claims{UserID: "user-1"}, -time.Minute)
	require.NoError(t, err)
	wrongKey, err := IssueToken("other", "reservation-engine", Claims{UserID: "user-1"}, time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
		body   string
	}{
		{"valid", "Bearer " + token, http.StatusOK, "user-1|customer"},
		{"missing", "", http.StatusUnauthorized, ""},
		{"not bearer", "Basic abc", http.StatusUnauthorized, ""},
		{"expired", "Bearer " + expired, http.StatusUnauthorized, "token expired"},
		{"wrong key", "Bearer " + wrongKey, http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
			if tt.body != "" {
				assert.Contains(t, w.Body.String(), tt.body)
			}
		})
	}
}

func TestJWTAuth_UserIDHeader(t *testing.T) {
	r := gin.New()
	r.Use(JWTAuth(AuthConfig{Secret: testSecret, AllowUserIDHeader: true}))
	r.GET("/me", func(c *gin.Context) {
		id, _ := GetUserID(c)
		c.String(http.StatusOK, id)
	})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("X-User-ID", "load-test-7")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "load-test-7", w.Body.String())
}

func TestRequireRole(t *testing.T) {
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set(ContextKeyUserRole, c.GetHeader("X-Role")); c.Next() })
	r.GET("/admin", RequireRole(RoleAdmin), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for role, want := range map[string]int{RoleAdmin: http.StatusNoContent, RoleCustomer: http.StatusForbidden} {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.Header.Set("X-Role", role)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, want, w.Code, role)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 1, Burst: 2})
	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))

	unlimited := NewRateLimiter(RateLimitConfig{})
	for i := 0; i < 100; i++ {
		assert.True(t, unlimited.Allow("a"))
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 1, Burst: 1, EntryTTL: time.Millisecond})
	rl.Allow("a")
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, rl.Cleanup())
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1})
	r := gin.New()
	r.POST("/r", rl.Middleware(), func(c *gin.Context) { c.Status(http.StatusCreated) })

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/r", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusCreated, http.StatusTooManyRequests}, codes)
}

func TestIdempotency_ReplaysCompletedResponse(t *testing.T) {
	calls := 0
	r := gin.New()
	r.POST("/reservations", Idempotency(DefaultIdempotencyConfig(newFakeRedis())), func(c *gin.Context) {
		calls++
		c.JSON(http.StatusCreated, gin.H{"call": calls})
	})

	send := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/reservations", strings.NewReader(body))
		req.Header.Set(IdempotencyKeyHeader, "key-1")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	first := send(`{"units":["A1"]}`)
	second := send(`{"units":["A1"]}`)
	reused := send(`{"units":["A2"]}`)

	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, http.StatusUnprocessableEntity, reused.Code)
	assert.Equal(t, 1, calls)
}

func TestIdempotency_ServerErrorIsNotStored(t *testing.T) {
	calls := 0
	r := gin.New()
	r.POST("/x", Idempotency(DefaultIdempotencyConfig(newFakeRedis())), func(c *gin.Context) {
		calls++
		if calls == 1 {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusCreated)
	})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/x", nil)
		req.Header.Set(IdempotencyKeyHeader, "k")
		r.ServeHTTP(httptest.NewRecorder(), req)
	}
	assert.Equal(t, 2, calls)
}

func TestIdempotency_RequiredHeader(t *testing.T) {
	cfg := DefaultIdempotencyConfig(newFakeRedis())
	cfg.Required = true
	r := gin.New()
	r.POST("/x", Idempotency(cfg), func(c *gin.Context) { c.Status(http.StatusCreated) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
