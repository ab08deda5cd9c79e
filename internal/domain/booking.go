package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DeliveryType is the service level requested by the customer.
type DeliveryType string

const (
	DeliveryTypeInstant   DeliveryType = "instant"
	DeliveryTypeScheduled DeliveryType = "scheduled"
	DeliveryTypeExpress   DeliveryType = "express"
)

// CargoSize is the size class of the goods being moved.
type CargoSize string

const (
	CargoSizeSmall      CargoSize = "small"
	CargoSizeMedium     CargoSize = "medium"
	CargoSizeLarge      CargoSize = "large"
	CargoSizeExtraLarge CargoSize = "extra_large"
)

// Location is a pickup or drop point.
type Location struct {
	Address      string  `json:"address"`
	Lat          float64 `json:"lat"`
	Lng          float64 `json:"lng"`
	ContactName  string  `json:"contactName,omitempty"`
	ContactPhone string  `json:"contactPhone,omitempty"`
	Instructions string  `json:"instructions,omitempty"`
}

// Cargo describes what is being delivered.
type Cargo struct {
	SizeClass   CargoSize `json:"sizeClass"`
	WeightKg    float64   `json:"weightKg"`
	Fragile     bool      `json:"fragile"`
	Description string    `json:"description,omitempty"`
}

// Surcharge is a single line of the pricing breakdown.
type Surcharge struct {
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
}

// Pricing is supplied by the pricing engine and stored as-is.
type Pricing struct {
	Base       decimal.Decimal `json:"base"`
	Surcharges []Surcharge     `json:"surcharges,omitempty"`
	Total      decimal.Decimal `json:"total"`
}

// OTPCode is a one-time handoff code. A code with ConsumedAt set never validates again.
type OTPCode struct {
	Code       string
	ConsumedAt *time.Time
}

// Consumed reports whether the code has been used.
func (c OTPCode) Consumed() bool {
	return c.ConsumedAt != nil
}

// OTPPair holds the pickup and drop codes of a booking.
type OTPPair struct {
	Pickup OTPCode
	Drop   OTPCode
}

// TimelineEntry is one record of the append-only audit trail.
type TimelineEntry struct {
	Seq       int
	Status    BookingStatus
	Note      string
	ActorID   string
	Timestamp time.Time
}

// ProofOfDelivery records that the proof payload was provided on completion.
type ProofOfDelivery struct {
	RecipientName  string    `json:"recipientName"`
	RecipientPhone string    `json:"recipientPhone"`
	PhotoRef       string    `json:"photoRef,omitempty"`
	SignatureRef   string    `json:"signatureRef,omitempty"`
	ReceivedAt     time.Time `json:"receivedAt"`
}

// Booking is a single delivery request from creation to completion or cancellation.
type Booking struct {
	ID                 string
	HumanID            string
	Status             BookingStatus
	Pickup             Location
	Drop               Location
	Cargo              Cargo
	DeliveryType       DeliveryType
	Pricing            Pricing
	CustomerID         string
	DriverID           string // empty until a driver claims the booking
	OTP                OTPPair
	Timeline           []TimelineEntry
	AssignmentDeadline time.Time
	EscalationLevel    int
	SearchRadiusKm     float64
	ProofOfDelivery    *ProofOfDelivery
	CancelReason       string
	Version            int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Clone returns a deep copy so callers never share slices or pointers with a store.
func (b *Booking) Clone() *Booking {
	if b == nil {
		return nil
	}
	c := *b
	c.Timeline = append([]TimelineEntry(nil), b.Timeline...)
	c.Pricing.Surcharges = append([]Surcharge(nil), b.Pricing.Surcharges...)
	c.OTP.Pickup.ConsumedAt = cloneTime(b.OTP.Pickup.ConsumedAt)
	c.OTP.Drop.ConsumedAt = cloneTime(b.OTP.Drop.ConsumedAt)
	if b.ProofOfDelivery != nil {
		pod := *b.ProofOfDelivery
		c.ProofOfDelivery = &pod
	}
	return &c
}

// IsExpired reports whether the assignment deadline has passed at now.
func (b *Booking) IsExpired(now time.Time) bool {
	return now.After(b.AssignmentDeadline)
}

// LastTimelineEntry returns the most recent audit entry.
func (b *Booking) LastTimelineEntry() (TimelineEntry, bool) {
	if len(b.Timeline) == 0 {
		return TimelineEntry{}, false
	}
	return b.Timeline[len(b.Timeline)-1], true
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
