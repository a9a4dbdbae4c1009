package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prohmpiriya/reservation-engine/internal/domain"
	"github.com/prohmpiriya/reservation-engine/pkg/logger"
	"github.com/prohmpiriya/reservation-engine/pkg/response"
)

// handleError maps domain errors to HTTP responses
func handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrUnitUnavailable):
		response.Error(c, http.StatusConflict, "UNIT_UNAVAILABLE", "seat taken, please reselect",
			gin.H{"units": domain.UnavailableUnits(err)})
	case domain.IsPaymentCaptured(err):
		response.Error(c, http.StatusConflict, "PAYMENT_CAPTURED_SEATS_LOST",
			"payment received but the reserved units were released; a refund will be issued", nil)
	case errors.Is(err, domain.ErrStaleReservation):
		response.Error(c, http.StatusGone, "RESERVATION_STALE", "reservation has expired, please start again", nil)
	case errors.Is(err, domain.ErrNotReservationOwner):
		response.Error(c, http.StatusForbidden, "FORBIDDEN", err.Error(), nil)
	case errors.Is(err, domain.ErrCancellationWindowClosed):
		response.Error(c, http.StatusConflict, "CANCELLATION_WINDOW_CLOSED", err.Error(), nil)
	case errors.Is(err, domain.ErrInvalidTransition):
		response.Error(c, http.StatusConflict, "INVALID_TRANSITION", err.Error(), nil)
	case domain.IsNotFoundError(err):
		response.NotFound(c, err.Error())
	case domain.IsValidationError(err):
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
	case errors.Is(err, domain.ErrConfiguration):
		response.Error(c, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "feature is not configured", nil)
	case errors.Is(err, context.DeadlineExceeded):
		response.Error(c, http.StatusGatewayTimeout, "TIMEOUT", "request timed out", nil)
	default:
		logger.Get().ErrorContext(c.Request.Context(), "request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		response.InternalError(c)
	}
}
