package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cargorapido/internal/domain"
	"cargorapido/internal/events"
)

// Notifier receives committed booking changes. Implementations must not
// block the caller for long and must never fail the operation that triggered them.
type Notifier interface {
	TimelineAppended(ctx context.Context, booking *domain.Booking, entry domain.TimelineEntry)
	BookingPending(ctx context.Context, booking *domain.Booking)
	BookingEscalated(ctx context.Context, booking *domain.Booking, entry domain.TimelineEntry)
}

// Topics names the destinations for each kind of event.
type Topics struct {
	Timeline   string
	Pending    string
	Escalation string
}

// NotificationService publishes timeline events for external notification dispatch.
type NotificationService struct {
	publisher events.Publisher
	topics    Topics
	timeout   time.Duration
	logger    *zap.Logger
}

// NewNotificationService creates a new NotificationService.
func NewNotificationService(publisher events.Publisher, topics Topics, timeout time.Duration, logger *zap.Logger) *NotificationService {
	return &NotificationService{
		publisher: publisher,
		topics:    topics,
		timeout:   timeout,
		logger:    logger,
	}
}

var _ Notifier = (*NotificationService)(nil)

// TimelineAppended publishes a status change or note.
func (s *NotificationService) TimelineAppended(ctx context.Context, booking *domain.Booking, entry domain.TimelineEntry) {
	s.send(ctx, s.topics.Timeline, newTimelineEvent(events.TypeStatusChanged, booking, entry))
}

// BookingPending announces a booking that drivers may now claim.
func (s *NotificationService) BookingPending(ctx context.Context, booking *domain.Booking) {
	entry, _ := booking.LastTimelineEntry()
	s.send(ctx, s.topics.Pending, newTimelineEvent(events.TypePending, booking, entry))
}

// BookingEscalated asks an administrator to intervene on an unclaimed booking.
func (s *NotificationService) BookingEscalated(ctx context.Context, booking *domain.Booking, entry domain.TimelineEntry) {
	s.send(ctx, s.topics.Escalation, newTimelineEvent(events.TypeEscalated, booking, entry))
}

// send publishes the event, logging failures instead of returning them.
func (s *NotificationService) send(ctx context.Context, topic string, event events.TimelineEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("encode event", zap.String("booking_id", event.BookingID), zap.Error(err))
		return
	}

	// The request context may already be cancelled once the response is written.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	if err := s.publisher.Publish(pubCtx, topic, event.BookingID, payload); err != nil {
		s.logger.Warn("publish event failed",
			zap.String("topic", topic),
			zap.String("type", event.Type),
			zap.String("booking_id", event.BookingID),
			zap.Int("seq", event.Seq),
			zap.Error(err),
		)
	}
}

func newTimelineEvent(eventType string, booking *domain.Booking, entry domain.TimelineEntry) events.TimelineEvent {
	return events.TimelineEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		BookingID:  booking.ID,
		HumanID:    booking.HumanID,
		CustomerID: booking.CustomerID,
		DriverID:   booking.DriverID,
		Seq:        entry.Seq,
		Status:     string(entry.Status),
		Note:       entry.Note,
		ActorID:    entry.ActorID,
		OccurredAt: entry.Timestamp,
	}
}
