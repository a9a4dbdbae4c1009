package di

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/reservation-engine/internal/handler"
	"github.com/prohmpiriya/reservation-engine/pkg/config"
)

func loadConfig(t *testing.T, env string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte(env), 0o600))
	cfg, err := config.LoadWithPath(path)
	require.NoError(t, err)
	return cfg
}

func TestNewContainer_MemoryStore(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := loadConfig(t, "RESERVATION_STORE=memory\nNOTIFIER_DRIVER=noop\n")
	ctx := context.Background()

	infra, err := NewInfrastructure(ctx, cfg)
	require.NoError(t, err)
	defer infra.Close()
	assert.Nil(t, infra.Redis)
	assert.Empty(t, infra.HealthChecks())

	c, err := NewContainer(ctx, &ContainerConfig{Config: cfg, Infra: infra})
	require.NoError(t, err)
	defer c.Close()

	assert.ElementsMatch(t, []string{"hall", "show", "stall"}, c.Registry.Categories())
	assert.Nil(t, c.Consumer)
	assert.Nil(t, c.IdempotencyConfig())

	router := handler.NewRouter(c.RouterConfig())
	for _, path := range []string{"/health", "/ready", "/api/v1/status"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/categories/show/quote?date=2030-12-01&quantity=1", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNewContainer_StripeGateway(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := loadConfig(t, "RESERVATION_STORE=memory\nNOTIFIER_DRIVER=noop\n"+
		"PAYMENT_GATEWAY=stripe\nSTRIPE_SECRET_KEY=sk_test_123\nSTRIPE_WEBHOOK_SECRET=whsec_test\n")
	ctx := context.Background()

	infra, err := NewInfrastructure(ctx, cfg)
	require.NoError(t, err)
	defer infra.Close()

	c, err := NewContainer(ctx, &ContainerConfig{Config: cfg, Infra: infra})
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, "stripe", c.Gateway.Name())

	router := handler.NewRouter(c.RouterConfig())

	// Only the stripe webhook accepts payment results
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/payments/callback", strings.NewReader("{}")))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/payments/stripe/webhook", strings.NewReader("{}")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNewContainer_UnknownGateway(t *testing.T) {
	cfg := loadConfig(t, "RESERVATION_STORE=memory\nNOTIFIER_DRIVER=noop\n")
	cfg.Reservation.PaymentGateway = "paypal"
	ctx := context.Background()

	infra, err := NewInfrastructure(ctx, cfg)
	require.NoError(t, err)
	defer infra.Close()

	_, err = NewContainer(ctx, &ContainerConfig{Config: cfg, Infra: infra})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "paypal")
}

func TestNewInfrastructure_UnknownDriver(t *testing.T) {
	cfg := loadConfig(t, "RESERVATION_STORE=memory\n")
	cfg.Reservation.StoreDriver = "cassandra"

	_, err := NewInfrastructure(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cassandra")
}
