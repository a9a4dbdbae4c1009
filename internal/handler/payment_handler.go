package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/prohmpiriya/reservation-engine/internal/domain"
	"github.com/prohmpiriya/reservation-engine/internal/dto"
	"github.com/prohmpiriya/reservation-engine/internal/gateway"
	"github.com/prohmpiriya/reservation-engine/internal/service"
	"github.com/prohmpiriya/reservation-engine/pkg/logger"
	"github.com/prohmpiriya/reservation-engine/pkg/response"
	"github.com/prohmpiriya/reservation-engine/pkg/telemetry"
)

// SignatureHeader carries the hex HMAC-SHA256 of the callback body
const SignatureHeader = "X-Signature"

// StripeSignatureHeader carries the Stripe webhook signature
const StripeSignatureHeader = "Stripe-Signature"

const (
	maxCallbackBody = 64 << 10
	maxWebhookBody  = 256 << 10
)

// Settler settles a mock checkout. Only wired in development.
type Settler interface {
	Settle(ctx context.Context, externalRef string) (*service.PaymentResult, error)
}

// PaymentHandler receives payment outcomes from the gateway
type PaymentHandler struct {
	registry     *service.Registry
	secret       []byte
	stripeSecret string
	settler      Settler
}

// PaymentHandlerConfig configures how payment outcomes are authenticated
type PaymentHandlerConfig struct {
	// CallbackSecret signs the generic callback used by the mock gateway.
	// Empty disables the check.
	CallbackSecret string
	// StripeWebhookSecret verifies Stripe webhook events. Setting it turns
	// the generic callback off.
	StripeWebhookSecret string
	// Settler enables the mock settle endpoint when set
	Settler Settler
}

// NewPaymentHandler creates a payment handler
func NewPaymentHandler(registry *service.Registry, cfg *PaymentHandlerConfig) *PaymentHandler {
	if cfg == nil {
		cfg = &PaymentHandlerConfig{}
	}
	h := &PaymentHandler{
		registry:     registry,
		stripeSecret: cfg.StripeWebhookSecret,
		settler:      cfg.Settler,
	}
	if cfg.CallbackSecret != "" {
		h.secret = []byte(cfg.CallbackSecret)
	}
	return h
}

// Sign returns the signature the callback endpoint expects for body
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Callback handles POST /payments/callback
func (h *PaymentHandler) Callback(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.payment.callback")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	if h.stripeSecret != "" {
		response.NotFound(c, "payment results arrive through the stripe webhook")
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		response.BadRequest(c, "unreadable body")
		return
	}

	if h.secret != nil && !h.verify(body, c.GetHeader(SignatureHeader)) {
		response.Error(c, http.StatusUnauthorized, "INVALID_SIGNATURE", "invalid callback signature", nil)
		return
	}

	var req dto.PaymentCallbackRequest
	if err := json.Unmarshal(body, &req); err != nil {
		response.BadRequest(c, "invalid JSON body")
		return
	}
	if err := binding.Validator.ValidateStruct(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	span.SetAttributes(
		attribute.String("reservation_id", req.ReservationID),
		attribute.String("external_ref", req.ExternalRef),
		attribute.Bool("success", req.Success),
	)

	h.apply(c, &service.PaymentResult{
		ReservationID: req.ReservationID,
		ExternalRef:   req.ExternalRef,
		Success:       req.Success,
		Amount:        req.Amount,
		FailureReason: req.FailureReason,
		RawResponse:   string(body),
	})
}

// MockSettle handles POST /payments/mock/:ref/settle
func (h *PaymentHandler) MockSettle(c *gin.Context) {
	if h.settler == nil {
		response.NotFound(c, "mock gateway is not enabled")
		return
	}

	result, err := h.settler.Settle(c.Request.Context(), c.Param("ref"))
	if err != nil {
		if errors.Is(err, gateway.ErrCheckoutNotFound) {
			response.NotFound(c, err.Error())
			return
		}
		handleError(c, err)
		return
	}
	h.apply(c, result)
}

// StripeWebhook handles POST /payments/stripe/webhook
func (h *PaymentHandler) StripeWebhook(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.payment.stripe_webhook")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)
	log := logger.Get()

	if h.stripeSecret == "" {
		response.NotFound(c, "stripe gateway is not enabled")
		return
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(c, "unreadable body")
		return
	}

	sigHeader := c.GetHeader(StripeSignatureHeader)
	if sigHeader == "" {
		response.Error(c, http.StatusBadRequest, "INVALID_SIGNATURE", "missing Stripe-Signature header", nil)
		return
	}

	event, err := webhook.ConstructEvent(payload, sigHeader, h.stripeSecret)
	if err != nil {
		log.WarnContext(ctx, "stripe webhook rejected", zap.Error(err))
		response.Error(c, http.StatusBadRequest, "INVALID_SIGNATURE", "invalid webhook signature", nil)
		return
	}

	span.SetAttributes(
		attribute.String("event_id", event.ID),
		attribute.String("event_type", string(event.Type)),
	)

	result, ok, err := gateway.ResultFromEvent(event)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if !ok {
		log.InfoContext(ctx, "stripe event ignored",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
		)
		response.Success(c, gin.H{"received": true})
		return
	}

	span.SetAttributes(
		attribute.String("reservation_id", result.ReservationID),
		attribute.String("external_ref", result.ExternalRef),
		attribute.Bool("success", result.Success),
	)
	h.apply(c, result)
}

func (h *PaymentHandler) apply(c *gin.Context, result *service.PaymentResult) {
	ctx := c.Request.Context()

	svc, err := h.registry.ForReservation(ctx, result.ReservationID)
	if err != nil {
		handleError(c, err)
		return
	}

	res, err := svc.ApplyPaymentResult(ctx, result)
	if err != nil {
		// The gateway must not retry a payment that can only be refunded
		if domain.IsPaymentCaptured(err) {
			logger.Get().WarnContext(ctx, "payment captured after units were lost",
				zap.String("reservation_id", result.ReservationID),
				zap.String("external_ref", result.ExternalRef),
			)
			response.Success(c, gin.H{
				"reservation_id": result.ReservationID,
				"status":         "refund_required",
			})
			return
		}
		handleError(c, err)
		return
	}
	response.Success(c, dto.FromDomain(res))
}

func (h *PaymentHandler) verify(body []byte, signature string) bool {
	want, err := hex.DecodeString(signature)
	if err != nil || len(want) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}
