package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"cargorapido/internal/domain"
	"cargorapido/internal/middleware"
)

// TimelineEntryResponse is one audit record as rendered over HTTP.
type TimelineEntryResponse struct {
	Seq       int       `json:"seq"`
	Status    string    `json:"status"`
	Note      string    `json:"note,omitempty"`
	ActorID   string    `json:"actorId"`
	Timestamp time.Time `json:"timestamp"`
}

// OTPResponse exposes the handoff codes to the people allowed to read them.
type OTPResponse struct {
	Pickup     string `json:"pickup"`
	PickupUsed bool   `json:"pickupUsed"`
	Drop       string `json:"drop"`
	DropUsed   bool   `json:"dropUsed"`
}

// BookingResponse is the HTTP representation of a booking.
type BookingResponse struct {
	ID                 string                  `json:"id"`
	HumanID            string                  `json:"humanId"`
	Status             string                  `json:"status"`
	CustomerID         string                  `json:"customerId"`
	DriverID           string                  `json:"driverId,omitempty"`
	DeliveryType       string                  `json:"deliveryType"`
	Pickup             domain.Location         `json:"pickup"`
	Drop               domain.Location         `json:"drop"`
	Cargo              domain.Cargo            `json:"cargo"`
	Pricing            domain.Pricing          `json:"pricing"`
	OTP                *OTPResponse            `json:"otp,omitempty"`
	Timeline           []TimelineEntryResponse `json:"timeline"`
	AssignmentDeadline time.Time               `json:"assignmentDeadline"`
	EscalationLevel    int                     `json:"escalationLevel"`
	SearchRadiusKm     float64                 `json:"searchRadiusKm"`
	ProofOfDelivery    *domain.ProofOfDelivery `json:"proofOfDelivery,omitempty"`
	CancelReason       string                  `json:"cancelReason,omitempty"`
	Version            int                     `json:"version"`
	CreatedAt          time.Time               `json:"createdAt"`
	UpdatedAt          time.Time               `json:"updatedAt"`
}

// renderBooking builds the response for the viewer. Codes are shown only to
// the owning customer and administrators; the driver must obtain them in person.
func renderBooking(b *domain.Booking, viewer domain.Actor) BookingResponse {
	resp := BookingResponse{
		ID:                 b.ID,
		HumanID:            b.HumanID,
		Status:             string(b.Status),
		CustomerID:         b.CustomerID,
		DriverID:           b.DriverID,
		DeliveryType:       string(b.DeliveryType),
		Pickup:             b.Pickup,
		Drop:               b.Drop,
		Cargo:              b.Cargo,
		Pricing:            b.Pricing,
		Timeline:           make([]TimelineEntryResponse, 0, len(b.Timeline)),
		AssignmentDeadline: b.AssignmentDeadline,
		EscalationLevel:    b.EscalationLevel,
		SearchRadiusKm:     b.SearchRadiusKm,
		ProofOfDelivery:    b.ProofOfDelivery,
		CancelReason:       b.CancelReason,
		Version:            b.Version,
		CreatedAt:          b.CreatedAt,
		UpdatedAt:          b.UpdatedAt,
	}

	for _, e := range b.Timeline {
		resp.Timeline = append(resp.Timeline, TimelineEntryResponse{
			Seq:       e.Seq,
			Status:    string(e.Status),
			Note:      e.Note,
			ActorID:   e.ActorID,
			Timestamp: e.Timestamp,
		})
	}

	if canSeeOTP(b, viewer) {
		resp.OTP = &OTPResponse{
			Pickup:     b.OTP.Pickup.Code,
			PickupUsed: b.OTP.Pickup.Consumed(),
			Drop:       b.OTP.Drop.Code,
			DropUsed:   b.OTP.Drop.Consumed(),
		}
	}
	return resp
}

func canSeeOTP(b *domain.Booking, viewer domain.Actor) bool {
	switch viewer.Role {
	case domain.RoleAdmin:
		return true
	case domain.RoleCustomer:
		return viewer.ID == b.CustomerID
	}
	return false
}

// canView decides who may read a booking. Drivers may look at any pending
// booking before claiming it, and afterwards only at their own.
func canView(b *domain.Booking, viewer domain.Actor) bool {
	switch viewer.Role {
	case domain.RoleAdmin, domain.RoleSystem:
		return true
	case domain.RoleCustomer:
		return viewer.ID == b.CustomerID
	case domain.RoleDriver:
		return b.Status == domain.BookingStatusPending || viewer.ID == b.DriverID
	}
	return false
}

// requireActor returns the caller or writes 401.
func requireActor(c *gin.Context) (domain.Actor, bool) {
	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "missing actor identity"})
		return domain.Actor{}, false
	}
	return actor, true
}
