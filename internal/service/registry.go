package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"cargorapido/internal/domain"
	"cargorapido/internal/metrics"
	"cargorapido/internal/redis"
	"cargorapido/internal/repository"
)

const (
	humanIDPrefix     = "BK"
	humanIDDigits     = 6
	maxHumanIDRetries = 5
)

// LocationInput is a pickup or drop point supplied at creation.
type LocationInput struct {
	Address      string   `validate:"required"`
	Lat          *float64 `validate:"required,latitude"`
	Lng          *float64 `validate:"required,longitude"`
	ContactName  string
	ContactPhone string `validate:"omitempty,max=32"`
	Instructions string `validate:"max=500"`
}

// CargoInput describes the goods at creation.
type CargoInput struct {
	SizeClass   string  `validate:"required,oneof=small medium large extra_large"`
	WeightKg    float64 `validate:"gte=0"`
	Fragile     bool
	Description string `validate:"max=500"`
}

// CreateBookingInput contains the parameters for creating a booking.
type CreateBookingInput struct {
	CustomerID   string         `validate:"required"`
	Pickup       *LocationInput `validate:"required"`
	Drop         *LocationInput `validate:"required"`
	Cargo        *CargoInput    `validate:"required"`
	DeliveryType string         `validate:"required,oneof=instant scheduled express"`
	Pricing      domain.Pricing
}

// BookingRegistry is the single source of truth for bookings and their timelines.
type BookingRegistry struct {
	repo         repository.BookingRepository
	otp          *OTPVerifier
	notifier     Notifier
	pending      *pendingIndex // nil without Redis
	metrics      *metrics.Metrics
	logger       *zap.Logger
	validate     *validator.Validate

	assignmentTimeout time.Duration
	searchRadiusKm    float64
	now               func() time.Time
}

// RegistryConfig holds the creation defaults of the registry.
type RegistryConfig struct {
	AssignmentTimeout time.Duration
	SearchRadiusKm    float64
}

// NewBookingRegistry creates a new BookingRegistry. pendingIndex may be nil.
func NewBookingRegistry(
	repo repository.BookingRepository,
	otp *OTPVerifier,
	notifier Notifier,
	pendingIndex redis.GeoIndexInterface,
	m *metrics.Metrics,
	logger *zap.Logger,
	cfg RegistryConfig,
) *BookingRegistry {
	return &BookingRegistry{
		repo:              repo,
		otp:               otp,
		notifier:          notifier,
		pending:           newPendingIndex(pendingIndex, logger),
		metrics:           m,
		logger:            logger,
		validate:          validator.New(),
		assignmentTimeout: cfg.AssignmentTimeout,
		searchRadiusKm:    cfg.SearchRadiusKm,
		now:               time.Now,
	}
}

// Create validates the input and stores a new pending booking with fresh codes.
func (r *BookingRegistry) Create(ctx context.Context, in CreateBookingInput) (*domain.Booking, error) {
	if err := r.validateInput(in); err != nil {
		return nil, err
	}

	otp, err := r.otp.GeneratePair()
	if err != nil {
		return nil, err
	}

	now := r.now().UTC()
	booking := &domain.Booking{
		ID:           uuid.NewString(),
		Status:       domain.BookingStatusPending,
		Pickup:       in.Pickup.toDomain(),
		Drop:         in.Drop.toDomain(),
		Cargo:        in.Cargo.toDomain(),
		DeliveryType: domain.DeliveryType(in.DeliveryType),
		Pricing:      in.Pricing,
		CustomerID:   in.CustomerID,
		OTP:          otp,
		Timeline: []domain.TimelineEntry{{
			Seq:       1,
			Status:    domain.BookingStatusPending,
			Note:      "booking created",
			ActorID:   in.CustomerID,
			Timestamp: now,
		}},
		AssignmentDeadline: now.Add(r.assignmentTimeout),
		SearchRadiusKm:     r.searchRadiusKm,
		Version:            1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	for attempt := 1; ; attempt++ {
		booking.HumanID, err = generateHumanID()
		if err != nil {
			return nil, err
		}

		err = r.repo.Create(ctx, booking)
		if err == nil {
			break
		}
		if !errors.Is(err, repository.ErrDuplicate) || attempt == maxHumanIDRetries {
			return nil, fmt.Errorf("create booking: %w", err)
		}
		r.logger.Debug("human id collision, retrying", zap.String("human_id", booking.HumanID), zap.Int("attempt", attempt))
	}

	r.metrics.BookingCreated()
	r.logger.Info("booking created",
		zap.String("booking_id", booking.ID),
		zap.String("human_id", booking.HumanID),
		zap.String("customer_id", booking.CustomerID),
		zap.Time("assignment_deadline", booking.AssignmentDeadline),
	)

	r.indexPending(ctx, booking)
	r.notifier.BookingPending(ctx, booking)
	return booking, nil
}

// Get returns the booking with its timeline.
func (r *BookingRegistry) Get(ctx context.Context, id string) (*domain.Booking, error) {
	if id == "" {
		return nil, invalid("id", "required")
	}
	return r.repo.GetByID(ctx, id)
}

// AppendTimeline records a note without changing the status.
func (r *BookingRegistry) AppendTimeline(ctx context.Context, id string, entry domain.TimelineEntry) (domain.TimelineEntry, error) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.now().UTC()
	}

	appended, err := r.repo.AppendTimeline(ctx, id, entry)
	if err != nil {
		return domain.TimelineEntry{}, err
	}

	if booking, err := r.repo.GetByID(ctx, id); err == nil {
		r.notifier.TimelineAppended(ctx, booking, appended)
	}
	return appended, nil
}

// CompareAndSetStatus is the only way to change a booking's status. It fails
// with ErrConflict if the status is not expected at the moment of the attempt.
func (r *BookingRegistry) CompareAndSetStatus(
	ctx context.Context,
	id string,
	expected, next domain.BookingStatus,
	mutate repository.BookingMutator,
	entry domain.TimelineEntry,
) (*domain.Booking, error) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.now().UTC()
	}
	entry.Status = next

	booking, err := r.repo.CompareAndSetStatus(ctx, id, expected, next, mutate, entry)
	if err != nil {
		return nil, err
	}

	if expected == domain.BookingStatusPending && next != domain.BookingStatusPending {
		r.unindexPending(ctx, id)
	}
	if last, ok := booking.LastTimelineEntry(); ok {
		r.notifier.TimelineAppended(ctx, booking, last)
	}
	return booking, nil
}

// ListPending returns claimable bookings, oldest first.
func (r *BookingRegistry) ListPending(ctx context.Context, now time.Time) ([]*domain.Booking, error) {
	return r.repo.ListPending(ctx, now)
}

// ListExpired returns pending bookings past their deadline, oldest first.
func (r *BookingRegistry) ListExpired(ctx context.Context, now time.Time) ([]*domain.Booking, error) {
	return r.repo.ListExpired(ctx, now)
}

// HasActiveDelivery reports whether the driver is working another booking.
func (r *BookingRegistry) HasActiveDelivery(ctx context.Context, driverID string) (bool, error) {
	return r.repo.HasActiveDelivery(ctx, driverID)
}

func (r *BookingRegistry) indexPending(ctx context.Context, b *domain.Booking) {
	r.pending.Add(ctx, b)
}

func (r *BookingRegistry) unindexPending(ctx context.Context, id string) {
	r.pending.Remove(ctx, id)
}

// ReconcilePendingIndex re-adds every claimable booking to the pending index.
// It returns the number of bookings written.
func (r *BookingRegistry) ReconcilePendingIndex(ctx context.Context, now time.Time) (int, error) {
	return r.pending.Reconcile(ctx, r.repo.ListPending, now)
}

func (r *BookingRegistry) validateInput(in CreateBookingInput) error {
	err := r.validate.Struct(in)
	if err == nil {
		if math.Abs(*in.Pickup.Lat) > MaxIndexableLatitude {
			return invalid("pickup.lat", fmt.Sprintf("must be between -%[1]g and %[1]g", MaxIndexableLatitude))
		}
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return invalid(fieldPath(fe.StructNamespace()), describeTag(fe))
	}
	return fmt.Errorf("%w: %v", ErrValidation, err)
}

// fieldPath turns "CreateBookingInput.Pickup.Lat" into "pickup.lat".
func fieldPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		if p == "" {
			continue
		}
		runes := []rune(p)
		runes[0] = unicode.ToLower(runes[0])
		parts[i] = string(runes)
	}
	return strings.Join(parts, ".")
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "latitude":
		return "must be a latitude between -90 and 90"
	case "longitude":
		return "must be a longitude between -180 and 180"
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		if fe.Param() != "" {
			return fmt.Sprintf("failed %s=%s", fe.Tag(), fe.Param())
		}
		return "failed " + fe.Tag()
	}
}

func (l *LocationInput) toDomain() domain.Location {
	return domain.Location{
		Address:      l.Address,
		Lat:          *l.Lat,
		Lng:          *l.Lng,
		ContactName:  l.ContactName,
		ContactPhone: l.ContactPhone,
		Instructions: l.Instructions,
	}
}

func (c *CargoInput) toDomain() domain.Cargo {
	return domain.Cargo{
		SizeClass:   domain.CargoSize(c.SizeClass),
		WeightKg:    c.WeightKg,
		Fragile:     c.Fragile,
		Description: c.Description,
	}
}

func generateHumanID() (string, error) {
	limit := big.NewInt(1_000_000)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("generate human id: %w", err)
	}
	return fmt.Sprintf("%s%0*d", humanIDPrefix, humanIDDigits, n.Int64()), nil
}
