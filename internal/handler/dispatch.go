package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"cargorapido/internal/domain"
	"cargorapido/internal/service"
)

// DispatchHandler serves the driver-facing pending pool.
type DispatchHandler struct {
	pool *service.DispatchPool
}

// NewDispatchHandler creates a new DispatchHandler.
func NewDispatchHandler(pool *service.DispatchPool) *DispatchHandler {
	return &DispatchHandler{pool: pool}
}

// PendingResponse is the HTTP response for the pending pool.
type PendingResponse struct {
	Bookings            []BookingResponse `json:"bookings"`
	PollIntervalSeconds int               `json:"pollIntervalSeconds"`
}

// Pending handles GET /dispatch/pending?driverId=&lat=&lng=
func (h *DispatchHandler) Pending(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	driverID := c.Query("driverId")
	switch actor.Role {
	case domain.RoleDriver:
		if driverID == "" {
			driverID = actor.ID
		}
		if driverID != actor.ID {
			respondError(c, service.ErrForbidden)
			return
		}
	case domain.RoleAdmin, domain.RoleSystem:
	default:
		respondError(c, service.ErrForbidden)
		return
	}

	location, err := parseLocationQuery(c.Query("lat"), c.Query("lng"))
	if err != nil {
		respondError(c, err)
		return
	}

	bookings, err := h.pool.ListEligible(c.Request.Context(), driverID, location)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := PendingResponse{
		Bookings:            make([]BookingResponse, 0, len(bookings)),
		PollIntervalSeconds: int(h.pool.PollInterval().Seconds()),
	}
	for _, b := range bookings {
		resp.Bookings = append(resp.Bookings, renderBooking(b, actor))
	}
	respondJSON(c, http.StatusOK, resp)
}

func parseLocationQuery(latRaw, lngRaw string) (*domain.GeoPoint, error) {
	if latRaw == "" && lngRaw == "" {
		return nil, nil
	}
	if latRaw == "" || lngRaw == "" {
		return nil, &service.ValidationError{Field: "location", Reason: "lat and lng must be given together"}
	}

	lat, err := strconv.ParseFloat(latRaw, 64)
	if err != nil {
		return nil, &service.ValidationError{Field: "lat", Reason: "must be a number"}
	}
	lng, err := strconv.ParseFloat(lngRaw, 64)
	if err != nil {
		return nil, &service.ValidationError{Field: "lng", Reason: "must be a number"}
	}
	return &domain.GeoPoint{Lat: lat, Lng: lng}, nil
}
