package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"cargorapido/internal/domain"
	"cargorapido/internal/service"
)

// BookingHandler handles HTTP requests for bookings.
type BookingHandler struct {
	registry     *service.BookingRegistry
	arbiter      *service.AssignmentArbiter
	stateMachine *service.DeliveryStateMachine
}

// NewBookingHandler creates a new BookingHandler.
func NewBookingHandler(registry *service.BookingRegistry, arbiter *service.AssignmentArbiter, stateMachine *service.DeliveryStateMachine) *BookingHandler {
	return &BookingHandler{
		registry:     registry,
		arbiter:      arbiter,
		stateMachine: stateMachine,
	}
}

// LocationRequest is a pickup or drop point in a create request.
type LocationRequest struct {
	Address      string   `json:"address"`
	Lat          *float64 `json:"lat"`
	Lng          *float64 `json:"lng"`
	ContactName  string   `json:"contactName"`
	ContactPhone string   `json:"contactPhone"`
	Instructions string   `json:"instructions"`
}

// CargoRequest describes the goods in a create request.
type CargoRequest struct {
	SizeClass   string  `json:"sizeClass"`
	WeightKg    float64 `json:"weightKg"`
	Fragile     bool    `json:"fragile"`
	Description string  `json:"description"`
}

// CreateBookingRequest is the HTTP request body for creating a booking.
// CustomerID is only honoured for administrators booking on someone's behalf.
type CreateBookingRequest struct {
	CustomerID   string           `json:"customerId"`
	Pickup       *LocationRequest `json:"pickup"`
	Drop         *LocationRequest `json:"drop"`
	Cargo        *CargoRequest    `json:"cargo"`
	DeliveryType string           `json:"deliveryType"`
	Pricing      domain.Pricing   `json:"pricing"`
}

// UpdateStatusRequest is the HTTP request body for a status change.
type UpdateStatusRequest struct {
	TargetStatus string                  `json:"targetStatus"`
	OTP          string                  `json:"otp"`
	Note         string                  `json:"note"`
	Proof        *domain.ProofOfDelivery `json:"proof"`
}

// CancelRequest is the HTTP request body for cancelling a booking.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// Create handles POST /bookings
func (h *BookingHandler) Create(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var req CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	customerID := actor.ID
	switch actor.Role {
	case domain.RoleCustomer:
	case domain.RoleAdmin:
		if req.CustomerID != "" {
			customerID = req.CustomerID
		}
	default:
		respondError(c, service.ErrForbidden)
		return
	}

	booking, err := h.registry.Create(c.Request.Context(), service.CreateBookingInput{
		CustomerID:   customerID,
		Pickup:       req.Pickup.toInput(),
		Drop:         req.Drop.toInput(),
		Cargo:        req.Cargo.toInput(),
		DeliveryType: req.DeliveryType,
		Pricing:      req.Pricing,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, renderBooking(booking, actor))
}

// Get handles GET /bookings/:id
func (h *BookingHandler) Get(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	booking, err := h.registry.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if !canView(booking, actor) {
		respondError(c, service.ErrForbidden)
		return
	}

	respondJSON(c, http.StatusOK, renderBooking(booking, actor))
}

// Accept handles POST /bookings/:id/accept
func (h *BookingHandler) Accept(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	if actor.Role != domain.RoleDriver {
		respondError(c, service.ErrForbidden)
		return
	}

	booking, err := h.arbiter.Accept(c.Request.Context(), c.Param("id"), actor.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, renderBooking(booking, actor))
}

// UpdateStatus handles PUT /bookings/:id/status
func (h *BookingHandler) UpdateStatus(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	booking, err := h.stateMachine.Transition(c.Request.Context(), service.TransitionRequest{
		BookingID: c.Param("id"),
		Actor:     actor,
		Target:    domain.BookingStatus(req.TargetStatus),
		OTP:       req.OTP,
		Note:      req.Note,
		Proof:     req.Proof,
		Reason:    req.Note,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, renderBooking(booking, actor))
}

// Cancel handles PUT /bookings/:id/cancel
func (h *BookingHandler) Cancel(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	// The body is optional.
	var req CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	booking, err := h.stateMachine.Cancel(c.Request.Context(), c.Param("id"), actor, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, renderBooking(booking, actor))
}

func (l *LocationRequest) toInput() *service.LocationInput {
	if l == nil {
		return nil
	}
	return &service.LocationInput{
		Address:      l.Address,
		Lat:          l.Lat,
		Lng:          l.Lng,
		ContactName:  l.ContactName,
		ContactPhone: l.ContactPhone,
		Instructions: l.Instructions,
	}
}

func (r *CargoRequest) toInput() *service.CargoInput {
	if r == nil {
		return nil
	}
	return &service.CargoInput{
		SizeClass:   r.SizeClass,
		WeightKg:    r.WeightKg,
		Fragile:     r.Fragile,
		Description: r.Description,
	}
}
