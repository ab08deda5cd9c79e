package service

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"cargorapido/internal/domain"
	"cargorapido/internal/metrics"
	"cargorapido/internal/redis"
	"cargorapido/internal/repository"
	"cargorapido/internal/repository/memory"
)

const (
	testAssignmentTimeout = 5 * time.Minute
	testSearchRadiusKm    = 10.0
	testWidenFactor       = 1.5
	testMaxEscalations    = 2
	testOTPLength         = 6
)

// basePoint is where test drivers stand and test pickups happen by default.
var basePoint = domain.GeoPoint{Lat: 19.0760, Lng: 72.8777}

// ──────────────────────────────────────────────
// FAKE CLOCK
// ──────────────────────────────────────────────

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ──────────────────────────────────────────────
// MOCK GEO INDEX
// ──────────────────────────────────────────────

type mockGeoIndex struct {
	mu     sync.RWMutex
	points map[string]domain.GeoPoint

	AddError    error
	WithinError error
}

func newMockGeoIndex() *mockGeoIndex {
	return &mockGeoIndex{points: make(map[string]domain.GeoPoint)}
}

func (m *mockGeoIndex) Add(ctx context.Context, member string, lat, lng float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AddError != nil {
		return m.AddError
	}
	m.points[member] = domain.GeoPoint{Lat: lat, Lng: lng}
	return nil
}

func (m *mockGeoIndex) Within(ctx context.Context, lat, lng, radiusKm float64) ([]string, error) {
	if m.WithinError != nil {
		return nil, m.WithinError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	type hit struct {
		member string
		dist   float64
	}
	var hits []hit
	for member, p := range m.points {
		if d := distanceKm(lat, lng, p.Lat, p.Lng); d <= radiusKm {
			hits = append(hits, hit{member, d})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].dist < hits[j].dist })

	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.member
	}
	return out, nil
}

func (m *mockGeoIndex) Remove(ctx context.Context, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.points, member)
	return nil
}

func (m *mockGeoIndex) FailAdds(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AddError = err
}

func (m *mockGeoIndex) Has(member string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.points[member]
	return ok
}

// ──────────────────────────────────────────────
// MOCK LOCK STORE
// ──────────────────────────────────────────────

type mockLockStore struct {
	mu    sync.Mutex
	locks map[string]string

	AcquireCallCount int32
}

func newMockLockStore() *mockLockStore {
	return &mockLockStore{locks: make(map[string]string)}
}

func (m *mockLockStore) AcquireDriverLock(ctx context.Context, driverID string, ttl time.Duration) (string, error) {
	atomic.AddInt32(&m.AcquireCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.locks[driverID]; held {
		return "", nil
	}
	token := uuid.NewString()
	m.locks[driverID] = token
	return token, nil
}

func (m *mockLockStore) ReleaseDriverLock(ctx context.Context, driverID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[driverID] == token {
		delete(m.locks, driverID)
	}
	return nil
}

func (m *mockLockStore) IsLocked(driverID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, held := m.locks[driverID]
	return held
}

// ──────────────────────────────────────────────
// MOCK AVAILABILITY CACHE
// ──────────────────────────────────────────────

type mockAvailabilityCache struct {
	mu      sync.Mutex
	entries map[string]domain.DriverAvailability

	InvalidateCallCount int32
}

func newMockAvailabilityCache() *mockAvailabilityCache {
	return &mockAvailabilityCache{entries: make(map[string]domain.DriverAvailability)}
}

func (m *mockAvailabilityCache) GetAvailability(ctx context.Context, driverID string) (*domain.DriverAvailability, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.entries[driverID]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (m *mockAvailabilityCache) SetAvailability(ctx context.Context, a *domain.DriverAvailability) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[a.DriverID] = *a
	return nil
}

func (m *mockAvailabilityCache) InvalidateAvailability(ctx context.Context, driverID string) error {
	atomic.AddInt32(&m.InvalidateCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, driverID)
	return nil
}

func (m *mockAvailabilityCache) Has(driverID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[driverID]
	return ok
}

// ──────────────────────────────────────────────
// RECORDING NOTIFIER
// ──────────────────────────────────────────────

type recordingNotifier struct {
	mu        sync.Mutex
	timeline  []domain.TimelineEntry
	pending   []string
	escalated []string
}

func (n *recordingNotifier) TimelineAppended(ctx context.Context, booking *domain.Booking, entry domain.TimelineEntry) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.timeline = append(n.timeline, entry)
}

func (n *recordingNotifier) BookingPending(ctx context.Context, booking *domain.Booking) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pending = append(n.pending, booking.ID)
}

func (n *recordingNotifier) BookingEscalated(ctx context.Context, booking *domain.Booking, entry domain.TimelineEntry) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.escalated = append(n.escalated, booking.ID)
}

func (n *recordingNotifier) PendingCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.pending)
}

func (n *recordingNotifier) EscalatedIDs() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.escalated...)
}

func (n *recordingNotifier) TimelineCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.timeline)
}

// ──────────────────────────────────────────────
// TEST ENVIRONMENT
// ──────────────────────────────────────────────

type envOptions struct {
	bookingRepo  repository.BookingRepository
	pendingIndex *mockGeoIndex
	lockStore    *mockLockStore
}

type envOption func(*envOptions)

func withPendingIndex(idx *mockGeoIndex) envOption {
	return func(o *envOptions) { o.pendingIndex = idx }
}

func withLockStore(ls *mockLockStore) envOption {
	return func(o *envOptions) { o.lockStore = ls }
}

func withBookingRepo(repo repository.BookingRepository) envOption {
	return func(o *envOptions) { o.bookingRepo = repo }
}

type testEnv struct {
	clock    *fakeClock
	notifier *recordingNotifier
	otp      *OTPVerifier
	metrics  *metrics.Metrics

	drivers      *DriverService
	registry     *BookingRegistry
	pool         *DispatchPool
	arbiter      *AssignmentArbiter
	stateMachine *DeliveryStateMachine
	sweeper      *DeadlineSweeper
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	o := envOptions{bookingRepo: memory.NewBookingRepository()}
	for _, opt := range opts {
		opt(&o)
	}

	// Keep the interfaces untyped nil when no double is supplied.
	var (
		pendingIndex redis.GeoIndexInterface
		lockStore    redis.LockStoreInterface
	)
	if o.pendingIndex != nil {
		pendingIndex = o.pendingIndex
	}
	if o.lockStore != nil {
		lockStore = o.lockStore
	}

	logger := zaptest.NewLogger(t)
	clock := newFakeClock()
	notifier := &recordingNotifier{}
	m := metrics.New()

	otp, err := NewOTPVerifier(testOTPLength)
	require.NoError(t, err)

	drivers := NewDriverService(memory.NewDriverRepository(), nil, nil, logger)

	registry := NewBookingRegistry(o.bookingRepo, otp, notifier, pendingIndex, m, logger, RegistryConfig{
		AssignmentTimeout: testAssignmentTimeout,
		SearchRadiusKm:    testSearchRadiusKm,
	})
	registry.now = clock.Now

	pool := NewDispatchPool(registry, drivers, m, logger, PoolConfig{
		SearchRadiusKm:    testSearchRadiusKm,
		RadiusWidenFactor: testWidenFactor,
		MaxEscalations:    testMaxEscalations,
		PollInterval:      10 * time.Second,
	})
	pool.now = clock.Now

	arbiter := NewAssignmentArbiter(registry, drivers, lockStore, m, logger, 5*time.Second)
	arbiter.now = clock.Now

	stateMachine := NewDeliveryStateMachine(registry, otp, m, logger)
	stateMachine.now = clock.Now

	sweeper := NewDeadlineSweeper(registry, notifier, m, logger, SweeperConfig{
		Interval:          time.Minute,
		AssignmentTimeout: testAssignmentTimeout,
		MaxEscalations:    testMaxEscalations,
		RadiusWidenFactor: testWidenFactor,
	})
	sweeper.now = clock.Now

	return &testEnv{
		clock:        clock,
		notifier:     notifier,
		otp:          otp,
		metrics:      m,
		drivers:      drivers,
		registry:     registry,
		pool:         pool,
		arbiter:      arbiter,
		stateMachine: stateMachine,
		sweeper:      sweeper,
	}
}

func validCreateInput(customerID string, pickup domain.GeoPoint) CreateBookingInput {
	pickupLat, pickupLng := pickup.Lat, pickup.Lng
	dropLat, dropLng := pickup.Lat+0.03, pickup.Lng-0.01

	return CreateBookingInput{
		CustomerID: customerID,
		Pickup: &LocationInput{
			Address:      gofakeit.Street(),
			Lat:          &pickupLat,
			Lng:          &pickupLng,
			ContactName:  gofakeit.Name(),
			ContactPhone: gofakeit.Phone(),
		},
		Drop: &LocationInput{
			Address:      gofakeit.Street(),
			Lat:          &dropLat,
			Lng:          &dropLng,
			ContactName:  gofakeit.Name(),
			ContactPhone: gofakeit.Phone(),
			Instructions: "leave at reception",
		},
		Cargo: &CargoInput{
			SizeClass:   string(domain.CargoSizeMedium),
			WeightKg:    gofakeit.Float64Range(1, 200),
			Description: gofakeit.ProductName(),
		},
		DeliveryType: string(domain.DeliveryTypeInstant),
		Pricing: domain.Pricing{
			Base:  decimal.NewFromInt(250),
			Total: decimal.NewFromInt(250),
		},
	}
}

func (e *testEnv) createBooking(t *testing.T) *domain.Booking {
	t.Helper()
	return e.createBookingAt(t, basePoint)
}

func (e *testEnv) createBookingAt(t *testing.T, pickup domain.GeoPoint) *domain.Booking {
	t.Helper()
	b, err := e.registry.Create(context.Background(), validCreateInput(gofakeit.UUID(), pickup))
	require.NoError(t, err)
	return b
}

func (e *testEnv) goOnline(t *testing.T, driverID string) {
	t.Helper()
	lat, lng := basePoint.Lat, basePoint.Lng
	err := e.drivers.UpdateAvailability(context.Background(), UpdateAvailabilityRequest{
		DriverID: driverID,
		Status:   string(domain.DriverStatusOnline),
		Lat:      &lat,
		Lng:      &lng,
	})
	require.NoError(t, err)
}

func (e *testEnv) newOnlineDriver(t *testing.T) string {
	t.Helper()
	id := "driver-" + gofakeit.UUID()
	e.goOnline(t, id)
	return id
}

// assigned returns a booking claimed by a fresh online driver.
func (e *testEnv) assigned(t *testing.T) (*domain.Booking, domain.Actor) {
	t.Helper()
	b := e.createBooking(t)
	driverID := e.newOnlineDriver(t)
	b, err := e.arbiter.Accept(context.Background(), b.ID, driverID)
	require.NoError(t, err)
	return b, domain.Actor{ID: driverID, Role: domain.RoleDriver}
}

// advance walks an assigned booking forward to target along the delivery path.
func (e *testEnv) advance(t *testing.T, b *domain.Booking, driver domain.Actor, target domain.BookingStatus) *domain.Booking {
	t.Helper()
	ctx := context.Background()

	for b.Status.Rank() < target.Rank() {
		next := nextForward(b.Status)
		req := TransitionRequest{BookingID: b.ID, Actor: driver, Target: next}
		switch next {
		case domain.BookingStatusPickedUp:
			req.OTP = b.OTP.Pickup.Code
		case domain.BookingStatusDelivered:
			req.OTP = b.OTP.Drop.Code
		case domain.BookingStatusCompleted:
			req.Proof = &domain.ProofOfDelivery{RecipientName: gofakeit.Name(), RecipientPhone: gofakeit.Phone()}
		}
		var err error
		b, err = e.stateMachine.Transition(ctx, req)
		require.NoError(t, err, "advance to %s", next)
	}
	return b
}

func nextForward(s domain.BookingStatus) domain.BookingStatus {
	for _, st := range domain.AllStatuses() {
		if st.Rank() == s.Rank()+1 {
			return st
		}
	}
	return ""
}
