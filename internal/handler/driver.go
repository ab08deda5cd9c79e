package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"cargorapido/internal/domain"
	"cargorapido/internal/service"
)

// DriverHandler handles the driver availability feed.
type DriverHandler struct {
	driverService *service.DriverService
}

// NewDriverHandler creates a new DriverHandler.
func NewDriverHandler(driverService *service.DriverService) *DriverHandler {
	return &DriverHandler{driverService: driverService}
}

// UpdateAvailabilityRequest is the HTTP request body for an availability report.
type UpdateAvailabilityRequest struct {
	Status string   `json:"status"`
	Lat    *float64 `json:"lat"`
	Lng    *float64 `json:"lng"`
}

// UpdateAvailability handles PUT /drivers/:id/availability
func (h *DriverHandler) UpdateAvailability(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	driverID := c.Param("id")
	if actor.Role == domain.RoleCustomer || (actor.Role == domain.RoleDriver && actor.ID != driverID) {
		respondError(c, service.ErrForbidden)
		return
	}

	var req UpdateAvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	err := h.driverService.UpdateAvailability(c.Request.Context(), service.UpdateAvailabilityRequest{
		DriverID: driverID,
		Status:   req.Status,
		Lat:      req.Lat,
		Lng:      req.Lng,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
