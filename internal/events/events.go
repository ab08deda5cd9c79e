// Package events publishes booking lifecycle events to a message broker.
package events

import (
	"context"
	"time"
)

// Publisher delivers an encoded event to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
	Close() error
}

// Event types carried in TimelineEvent.Type.
const (
	TypeStatusChanged = "booking.status_changed"
	TypePending       = "booking.pending"
	TypeEscalated     = "booking.escalated"
)

// TimelineEvent is the payload published for every committed timeline entry.
type TimelineEvent struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	BookingID  string    `json:"booking_id"`
	HumanID    string    `json:"human_id"`
	CustomerID string    `json:"customer_id"`
	DriverID   string    `json:"driver_id,omitempty"`
	Seq        int       `json:"seq"`
	Status     string    `json:"status"`
	Note       string    `json:"note,omitempty"`
	ActorID    string    `json:"actor_id"`
	OccurredAt time.Time `json:"occurred_at"`
}
