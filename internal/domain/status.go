package domain

// BookingStatus represents the lifecycle state of a booking.
type BookingStatus string

const (
	BookingStatusPending            BookingStatus = "pending"
	BookingStatusDriverAssigned     BookingStatus = "driver_assigned"
	BookingStatusDriverArrived      BookingStatus = "driver_arrived"
	BookingStatusPickedUp           BookingStatus = "picked_up"
	BookingStatusInTransit          BookingStatus = "in_transit"
	BookingStatusReachedDestination BookingStatus = "reached_destination"
	BookingStatusDelivered          BookingStatus = "delivered"
	BookingStatusCompleted          BookingStatus = "completed"
	BookingStatusCancelled          BookingStatus = "cancelled"
)

// forward is the main delivery path in order.
var forward = []BookingStatus{
	BookingStatusPending,
	BookingStatusDriverAssigned,
	BookingStatusDriverArrived,
	BookingStatusPickedUp,
	BookingStatusInTransit,
	BookingStatusReachedDestination,
	BookingStatusDelivered,
	BookingStatusCompleted,
}

// transitions lists every legal edge of the lifecycle graph.
var transitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending:            {BookingStatusDriverAssigned, BookingStatusCancelled},
	BookingStatusDriverAssigned:     {BookingStatusDriverArrived, BookingStatusCancelled},
	BookingStatusDriverArrived:      {BookingStatusPickedUp},
	BookingStatusPickedUp:           {BookingStatusInTransit},
	BookingStatusInTransit:          {BookingStatusReachedDestination},
	BookingStatusReachedDestination: {BookingStatusDelivered},
	BookingStatusDelivered:          {BookingStatusCompleted},
}

// AllStatuses returns every lifecycle state, forward path first.
func AllStatuses() []BookingStatus {
	out := make([]BookingStatus, 0, len(forward)+1)
	out = append(out, forward...)
	return append(out, BookingStatusCancelled)
}

// ParseBookingStatus returns the status for s, or false if s is not a known state.
func ParseBookingStatus(s string) (BookingStatus, bool) {
	for _, st := range AllStatuses() {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// CanTransition reports whether from -> to is an edge of the lifecycle graph.
func CanTransition(from, to BookingStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s BookingStatus) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// Rank is the position of s on the forward path, or -1 for cancelled.
func (s BookingStatus) Rank() int {
	for i, st := range forward {
		if st == s {
			return i
		}
	}
	return -1
}

// IsActiveDelivery reports whether a driver is currently working the booking.
func (s BookingStatus) IsActiveDelivery() bool {
	r := s.Rank()
	return r >= BookingStatusDriverAssigned.Rank() && r <= BookingStatusDelivered.Rank()
}
