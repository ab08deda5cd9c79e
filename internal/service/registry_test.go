package service

import (
	"context"
	"errors"
	"regexp"
	"sync/atomic"
	"testing"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cargorapido/internal/domain"
	"cargorapido/internal/repository"
	"cargorapido/internal/repository/memory"
)

var humanIDPattern = regexp.MustCompile(`^BK\d{6}$`)

func TestBookingRegistry_Create(t *testing.T) {
	idx := newMockGeoIndex()
	env := newTestEnv(t, withPendingIndex(idx))
	ctx := context.Background()

	customerID := gofakeit.UUID()
	b, err := env.registry.Create(ctx, validCreateInput(customerID, basePoint))
	require.NoError(t, err)

	assert.NotEmpty(t, b.ID)
	assert.Regexp(t, humanIDPattern, b.HumanID)
	assert.Equal(t, domain.BookingStatusPending, b.Status)
	assert.Equal(t, customerID, b.CustomerID)
	assert.Empty(t, b.DriverID)
	assert.Equal(t, 1, b.Version)
	assert.Equal(t, env.clock.Now().Add(testAssignmentTimeout), b.AssignmentDeadline)
	assert.Equal(t, testSearchRadiusKm, b.SearchRadiusKm)
	assert.Len(t, b.OTP.Pickup.Code, testOTPLength)
	assert.Len(t, b.OTP.Drop.Code, testOTPLength)

	require.Len(t, b.Timeline, 1)
	assert.Equal(t, 1, b.Timeline[0].Seq)
	assert.Equal(t, domain.BookingStatusPending, b.Timeline[0].Status)
	assert.Equal(t, customerID, b.Timeline[0].ActorID)

	stored, err := env.registry.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b, stored)

	assert.True(t, idx.Has(b.ID), "new booking should be in the pending index")
	assert.Equal(t, 1, env.notifier.PendingCount())
}

func TestBookingRegistry_CreateValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		mutate    func(in *CreateBookingInput)
		wantField string
	}{
		{
			name:      "missing customer",
			mutate:    func(in *CreateBookingInput) { in.CustomerID = "" },
			wantField: "customerID",
		},
		{
			name:      "missing pickup",
			mutate:    func(in *CreateBookingInput) { in.Pickup = nil },
			wantField: "pickup",
		},
		{
			name: "pickup latitude out of range",
			mutate: func(in *CreateBookingInput) {
				lat := 91.0
				in.Pickup.Lat = &lat
			},
			wantField: "pickup.lat",
		},
		{
			name: "pickup latitude beyond the geo index",
			mutate: func(in *CreateBookingInput) {
				lat := -86.0
				in.Pickup.Lat = &lat
			},
			wantField: "pickup.lat",
		},
		{
			name:      "drop longitude missing",
			mutate:    func(in *CreateBookingInput) { in.Drop.Lng = nil },
			wantField: "drop.lng",
		},
		{
			name:      "drop address missing",
			mutate:    func(in *CreateBookingInput) { in.Drop.Address = "" },
			wantField: "drop.address",
		},
		{
			name:      "unknown cargo size",
			mutate:    func(in *CreateBookingInput) { in.Cargo.SizeClass = "huge" },
			wantField: "cargo.sizeClass",
		},
		{
			name:      "negative weight",
			mutate:    func(in *CreateBookingInput) { in.Cargo.WeightKg = -1 },
			wantField: "cargo.weightKg",
		},
		{
			name:      "unknown delivery type",
			mutate:    func(in *CreateBookingInput) { in.DeliveryType = "teleport" },
			wantField: "deliveryType",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validCreateInput(gofakeit.UUID(), basePoint)
			tt.mutate(&in)

			_, err := env.registry.Create(ctx, in)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.wantField, verr.Field)
		})
	}

	pending, err := env.registry.ListPending(ctx, env.clock.Now())
	require.NoError(t, err)
	assert.Empty(t, pending, "rejected input must not create anything")
}

func TestBookingRegistry_Get(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.registry.Get(ctx, "")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = env.registry.Get(ctx, "does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
}

// collidingRepo reports a human ID collision for the first n creates.
type collidingRepo struct {
	repository.BookingRepository
	remaining int32
	attempts  int32
}

func (r *collidingRepo) Create(ctx context.Context, b *domain.Booking) error {
	atomic.AddInt32(&r.attempts, 1)
	if atomic.AddInt32(&r.remaining, -1) >= 0 {
		return repository.ErrDuplicate
	}
	return r.BookingRepository.Create(ctx, b)
}

func TestBookingRegistry_CreateRetriesHumanIDCollision(t *testing.T) {
	repo := &collidingRepo{BookingRepository: memory.NewBookingRepository(), remaining: 2}
	env := newTestEnv(t, withBookingRepo(repo))

	b, err := env.registry.Create(context.Background(), validCreateInput(gofakeit.UUID(), basePoint))
	require.NoError(t, err)
	assert.Regexp(t, humanIDPattern, b.HumanID)
	assert.Equal(t, int32(3), atomic.LoadInt32(&repo.attempts))
}

func TestBookingRegistry_CreateGivesUpAfterRepeatedCollisions(t *testing.T) {
	repo := &collidingRepo{BookingRepository: memory.NewBookingRepository(), remaining: 100}
	env := newTestEnv(t, withBookingRepo(repo))

	_, err := env.registry.Create(context.Background(), validCreateInput(gofakeit.UUID(), basePoint))
	assert.ErrorIs(t, err, repository.ErrDuplicate)
	assert.Equal(t, int32(maxHumanIDRetries), atomic.LoadInt32(&repo.attempts))
	assert.Equal(t, 0, env.notifier.PendingCount())
}

func TestBookingRegistry_CompareAndSetStatusConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b := env.createBooking(t)

	_, err := env.registry.CompareAndSetStatus(ctx, b.ID,
		domain.BookingStatusDriverAssigned, domain.BookingStatusDriverArrived,
		nil, domain.TimelineEntry{ActorID: "someone"},
	)
	assert.ErrorIs(t, err, ErrConflict)

	stored, err := env.registry.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b, stored, "failed compare-and-set must not change anything")
}

func TestBookingRegistry_CompareAndSetStatusMutatorErrorRollsBack(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b := env.createBooking(t)
	boom := errors.New("boom")

	_, err := env.registry.CompareAndSetStatus(ctx, b.ID,
		domain.BookingStatusPending, domain.BookingStatusCancelled,
		func(nb *domain.Booking) error {
			nb.CancelReason = "half written"
			return boom
		},
		domain.TimelineEntry{ActorID: b.CustomerID},
	)
	assert.ErrorIs(t, err, boom)

	stored, err := env.registry.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusPending, stored.Status)
	assert.Empty(t, stored.CancelReason)
	assert.Len(t, stored.Timeline, 1)
}

func TestBookingRegistry_AppendTimeline(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b := env.createBooking(t)

	entry, err := env.registry.AppendTimeline(ctx, b.ID, domain.TimelineEntry{
		Status:  domain.BookingStatusPending,
		Note:    "customer called support",
		ActorID: "admin-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, entry.Seq)
	assert.Equal(t, env.clock.Now(), entry.Timestamp)

	stored, err := env.registry.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusPending, stored.Status)
	require.Len(t, stored.Timeline, 2)
	assert.Equal(t, entry, stored.Timeline[1])

	b, driver := env.assigned(t)
	entry, err = env.registry.AppendTimeline(ctx, b.ID, domain.TimelineEntry{Note: "running late", ActorID: driver.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusDriverAssigned, entry.Status, "a note records the current status")

	_, err = env.registry.AppendTimeline(ctx, "missing", domain.TimelineEntry{ActorID: "admin-1"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBookingRegistry_TimelineIsAppendOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	b, driver := env.assigned(t)
	before := append([]domain.TimelineEntry(nil), b.Timeline...)

	// A rejected attempt, a successful one, and a note.
	_, err := env.stateMachine.Transition(ctx, TransitionRequest{
		BookingID: b.ID, Actor: driver, Target: domain.BookingStatusPickedUp, OTP: "000000",
	})
	require.Error(t, err)
	b = env.advance(t, b, driver, domain.BookingStatusInTransit)
	_, err = env.registry.AppendTimeline(ctx, b.ID, domain.TimelineEntry{Status: b.Status, ActorID: driver.ID, Note: "traffic"})
	require.NoError(t, err)

	stored, err := env.registry.Get(ctx, b.ID)
	require.NoError(t, err)
	require.Greater(t, len(stored.Timeline), len(before))
	assert.Equal(t, before, stored.Timeline[:len(before)])

	for i, e := range stored.Timeline {
		assert.Equal(t, i+1, e.Seq)
	}
}
