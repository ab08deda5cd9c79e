package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"cargorapido/internal/repository"
	"cargorapido/internal/service"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// respondError sends an error response with the appropriate HTTP status code.
func respondError(c *gin.Context, err error) {
	code := mapErrorToHTTPStatus(err)
	resp := ErrorResponse{Error: err.Error()}

	var verr *service.ValidationError
	if errors.As(err, &verr) {
		resp.Field = verr.Field
	}
	if code == http.StatusInternalServerError {
		_ = c.Error(err)
		resp.Error = "internal error"
	}
	c.JSON(code, resp)
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

// mapErrorToHTTPStatus maps service/repository errors to HTTP status codes.
func mapErrorToHTTPStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest

	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound

	// Conflict errors. ErrDriverBusy wraps ErrNotEligible, so it goes first.
	case errors.Is(err, service.ErrAlreadyClaimed),
		errors.Is(err, service.ErrStaleStatus),
		errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrDriverBusy),
		errors.Is(err, repository.ErrConflict):
		return http.StatusConflict

	case errors.Is(err, service.ErrDeadlinePassed):
		return http.StatusGone

	case errors.Is(err, service.ErrNotEligible),
		errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden

	case errors.Is(err, service.ErrInvalidOTP):
		return http.StatusUnprocessableEntity

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}
