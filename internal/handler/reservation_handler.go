package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/prohmpiriya/reservation-engine/internal/domain"
	"github.com/prohmpiriya/reservation-engine/internal/dto"
	"github.com/prohmpiriya/reservation-engine/internal/service"
	"github.com/prohmpiriya/reservation-engine/pkg/middleware"
	"github.com/prohmpiriya/reservation-engine/pkg/response"
	"github.com/prohmpiriya/reservation-engine/pkg/telemetry"
)

// ReservationHandler handles holder-facing reservation requests
type ReservationHandler struct {
	registry *service.Registry
}

// NewReservationHandler creates a new reservation handler
func NewReservationHandler(registry *service.Registry) *ReservationHandler {
	return &ReservationHandler{registry: registry}
}

// Quote handles GET /categories/:category/quote?date=&quantity=
func (h *ReservationHandler) Quote(c *gin.Context) {
	svc, err := h.registry.For(c.Param("category"))
	if err != nil {
		handleError(c, err)
		return
	}

	var q dto.QuoteQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := svc.Quote(c.Request.Context(), &service.QuoteRequest{Date: q.Date, Quantity: q.Quantity})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, dto.FromQuoteResult(result))
}

// Availability handles GET /categories/:category/availability/:date/:slot
func (h *ReservationHandler) Availability(c *gin.Context) {
	svc, err := h.registry.For(c.Param("category"))
	if err != nil {
		handleError(c, err)
		return
	}

	partition, err := domain.NewPartitionKey(svc.Category(), c.Param("date"), c.Param("slot"))
	if err != nil {
		handleError(c, err)
		return
	}

	view, err := svc.Availability(c.Request.Context(), partition)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, dto.FromAvailability(view))
}

// Create handles POST /reservations
func (h *ReservationHandler) Create(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.reservation.create")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized", nil)
		return
	}

	var req dto.CreateReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.SetStatus(codes.Error, "invalid request")
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

	name := req.HolderName
	if name == "" {
		name = c.GetString(middleware.ContextKeyUserName)
	}
	email := req.HolderEmail
	if email == "" {
		email = c.GetString(middleware.ContextKeyUserEmail)
	}

	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.String("partition", partition.String()),
		attribute.Int("units", len(req.Units)),
	)

	res, err := svc.Create(ctx, &service.CreateRequest{
		Holder:    domain.Holder{ID: userID, Name: name, Email: email},
		Partition: partition,
		UnitIDs:   req.Units,
	})
	if err != nil {
		telemetry.RecordError(span, err)
		handleError(c, err)
		return
	}

	span.SetAttributes(attribute.String("reservation_id", res.ID))
	response.Created(c, dto.FromDomain(res))
}

// Get handles GET /reservations/:id
func (h *ReservationHandler) Get(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	svc, err := h.registry.ForReservation(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	res, err := svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	if !res.BelongsTo(userID) && !isAdmin(c) {
		handleError(c, domain.ErrNotReservationOwner)
		return
	}
	response.Success(c, dto.FromDomain(res))
}

// ListMine handles GET /reservations
func (h *ReservationHandler) ListMine(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	filter := domain.ReservationFilter{
		HolderID: userID,
		Status:   domain.ReservationStatus(c.Query("status")),
		Limit:    queryInt(c, "limit", 20),
		Offset:   queryInt(c, "offset", 0),
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

// Cancel handles POST /reservations/:id/cancel
func (h *ReservationHandler) Cancel(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.reservation.cancel")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, _ := middleware.GetUserID(c)
	id := c.Param("id")

	var req dto.CancelReservationRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}

	svc, err := h.registry.ForReservation(ctx, id)
	if err != nil {
		handleError(c, err)
		return
	}

	res, err := svc.Cancel(ctx, id, req.Reason, service.HolderActor(userID))
	if err != nil {
		telemetry.RecordError(span, err)
		handleError(c, err)
		return
	}
	response.Success(c, dto.FromDomain(res))
}

// InitiatePayment handles POST /reservations/:id/payment
func (h *ReservationHandler) InitiatePayment(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.reservation.payment")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, _ := middleware.GetUserID(c)
	id := c.Param("id")

	svc, err := h.registry.ForReservation(ctx, id)
	if err != nil {
		handleError(c, err)
		return
	}

	redirect, err := svc.InitiatePayment(ctx, id, userID)
	if err != nil {
		telemetry.RecordError(span, err)
		handleError(c, err)
		return
	}
	response.Success(c, redirect)
}

func isAdmin(c *gin.Context) bool {
	return c.GetString(middleware.ContextKeyUserRole) == middleware.RoleAdmin
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}
