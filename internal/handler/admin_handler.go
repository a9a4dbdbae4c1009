package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/reservation-engine/internal/consumer"
	"github.com/prohmpiriya/reservation-engine/internal/domain"
	"github.com/prohmpiriya/reservation-engine/internal/dto"
	"github.com/prohmpiriya/reservation-engine/internal/service"
	"github.com/prohmpiriya/reservation-engine/internal/worker"
	"github.com/prohmpiriya/reservation-engine/pkg/response"
)

// Sweeper is the part of the expiry sweeper exposed to operators
type Sweeper interface {
	SweepNow(ctx context.Context) (*worker.SweepReport, error)
	ReleaseReservation(ctx context.Context, id, reason string) (*domain.Reservation, int, error)
	GetStats() *worker.ExpirySweeperStats
}

// ConsumerStatsProvider reports payment result consumer statistics
type ConsumerStatsProvider interface {
	GetStats() *consumer.ConsumerStats
}

// AdminHandler handles operator endpoints
type AdminHandler struct {
	registry *service.Registry
	sequence service.SequenceService
	sweeper  Sweeper
	consumer ConsumerStatsProvider
}

// NewAdminHandler creates a new admin handler. sweeper and consumer may be
// nil when those workers run in another process.
func NewAdminHandler(registry *service.Registry, sequence service.SequenceService, sweeper Sweeper, consumer ConsumerStatsProvider) *AdminHandler {
	return &AdminHandler{
		registry: registry,
		sequence: sequence,
		sweeper:  sweeper,
		consumer: consumer,
	}
}

// Counters handles GET /admin/counters
func (h *AdminHandler) Counters(c *gin.Context) {
	counters, err := h.sequence.CurrentCounters(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, dto.CountersResponse{Counters: counters})
}

// ResetCounter handles PUT /admin/counters/:category
func (h *AdminHandler) ResetCounter(c *gin.Context) {
	var req dto.ResetCounterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	category := c.Param("category")
	if err := h.sequence.ResetCounter(c.Request.Context(), category, *req.Value); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"category": category, "value": *req.Value})
}

// ListReservations handles GET /admin/reservations
func (h *AdminHandler) ListReservations(c *gin.Context) {
	filter := domain.ReservationFilter{
		Category:         c.Query("category"),
		HolderID:         c.Query("holder_id"),
		Status:           domain.ReservationStatus(c.Query("status")),
		IncludeSynthetic: c.Query("include_synthetic") == "true",
		Limit:            queryInt(c, "limit", 50),
		Offset:           queryInt(c, "offset", 0),
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		response.BadRequest(c, "invalid status")
		return
	}

	items, err := h.registry.List(c.Request.Context(), filter)
	if err != nil {
		handleError(c, err)
		return
	}
	response.List(c, dto.FromDomainList(items), response.PageMeta{Limit: filter.Limit, Offset: filter.Offset, Count: len(items)})
}

// CancelReservation handles POST /admin/reservations/:id/cancel
func (h *AdminHandler) CancelReservation(c *gin.Context) {
	var req dto.CancelReservationRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}

	id := c.Param("id")
	svc, err := h.registry.ForReservation(c.Request.Context(), id)
	if err != nil {
		handleError(c, err)
		return
	}
	res, err := svc.Cancel(c.Request.Context(), id, req.Reason, service.AdminActor)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, dto.FromDomain(res))
}

// Block handles POST /admin/blocks
func (h *AdminHandler) Block(c *gin.Context) {
	var req dto.AdminBlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	svc, err := h.registry.For(req.Category)
	if err != nil {
		handleError(c, err)
		return
	}
	partition, err := domain.NewPartitionKey(req.Category, req.Date, req.Slot)
	if err != nil {
		handleError(c, err)
		return
	}

	res, err := svc.AdminBlock(c.Request.Context(), partition, req.Units, req.Note)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Created(c, dto.FromDomain(res))
}

// Unblock handles DELETE /admin/blocks/:id
func (h *AdminHandler) Unblock(c *gin.Context) {
	id := c.Param("id")
	svc, err := h.registry.ForReservation(c.Request.Context(), id)
	if err != nil {
		handleError(c, err)
		return
	}
	res, err := svc.AdminUnblock(c.Request.Context(), id)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, dto.FromDomain(res))
}

// Sweep handles POST /admin/sweep
func (h *AdminHandler) Sweep(c *gin.Context) {
	if h.sweeper == nil {
		response.Error(c, http.StatusServiceUnavailable, "SWEEPER_DISABLED", "sweeper runs in a separate process", nil)
		return
	}
	report, err := h.sweeper.SweepNow(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, report)
}

// Release handles POST /admin/reservations/:id/release
func (h *AdminHandler) Release(c *gin.Context) {
	if h.sweeper == nil {
		response.Error(c, http.StatusServiceUnavailable, "SWEEPER_DISABLED", "sweeper runs in a separate process", nil)
		return
	}

	var req dto.ReleaseRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}

	res, released, err := h.sweeper.ReleaseReservation(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, dto.ReleaseResponse{
		Reservation:   dto.FromDomain(res),
		UnitsReleased: released,
	})
}

// Stats handles GET /admin/stats
func (h *AdminHandler) Stats(c *gin.Context) {
	stats := gin.H{"categories": h.registry.Categories()}
	if h.sweeper != nil {
		stats["sweeper"] = h.sweeper.GetStats()
	}
	if h.consumer != nil {
		stats["payment_consumer"] = h.consumer.GetStats()
	}
	response.Success(c, stats)
}
