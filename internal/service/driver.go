package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"cargorapido/internal/domain"
	"cargorapido/internal/redis"
	"cargorapido/internal/repository"
)

// AvailabilityProvider answers whether a driver can currently take work.
type AvailabilityProvider interface {
	GetAvailability(ctx context.Context, driverID string) (*domain.DriverAvailability, error)
}

// DriverService is the driver availability feed: drivers report status and
// position, dispatch reads it back.
type DriverService struct {
	driverRepo    repository.DriverRepository
	locationStore redis.GeoIndexInterface          // optional
	cacheStore    redis.AvailabilityCacheInterface // optional
	logger        *zap.Logger
}

// NewDriverService creates a new DriverService. locationStore and cacheStore may be nil.
func NewDriverService(
	driverRepo repository.DriverRepository,
	locationStore redis.GeoIndexInterface,
	cacheStore redis.AvailabilityCacheInterface,
	logger *zap.Logger,
) *DriverService {
	return &DriverService{
		driverRepo:    driverRepo,
		locationStore: locationStore,
		cacheStore:    cacheStore,
		logger:        logger,
	}
}

var _ AvailabilityProvider = (*DriverService)(nil)

// UpdateAvailabilityRequest contains a driver's self-reported availability.
type UpdateAvailabilityRequest struct {
	DriverID string
	Status   string
	Lat      *float64
	Lng      *float64
}

// UpdateAvailability records a report from the availability feed.
func (s *DriverService) UpdateAvailability(ctx context.Context, req UpdateAvailabilityRequest) error {
	if req.DriverID == "" {
		return invalid("driverId", "required")
	}
	status, ok := domain.ParseDriverStatus(req.Status)
	if !ok {
		return invalid("status", "must be one of: online offline busy")
	}
	if (req.Lat == nil) != (req.Lng == nil) {
		return invalid("location", "lat and lng must be given together")
	}

	a := &domain.DriverAvailability{DriverID: req.DriverID, Status: status}
	if req.Lat != nil {
		if !isValidLatitude(*req.Lat) {
			return invalid("lat", "must be a latitude between -90 and 90")
		}
		if !isValidLongitude(*req.Lng) {
			return invalid("lng", "must be a longitude between -180 and 180")
		}
		a.CurrentLocation = &domain.GeoPoint{Lat: *req.Lat, Lng: *req.Lng}
	}

	if err := s.driverRepo.SetAvailability(ctx, a); err != nil {
		return err
	}

	if s.cacheStore != nil {
		// Drop rather than overwrite so a missing location is re-read from the store.
		if err := s.cacheStore.InvalidateAvailability(ctx, a.DriverID); err != nil {
			s.logger.Warn("invalidate availability cache", zap.String("driver_id", a.DriverID), zap.Error(err))
		}
	}

	if s.locationStore != nil {
		var err error
		switch {
		case status != domain.DriverStatusOnline:
			err = s.locationStore.Remove(ctx, a.DriverID)
		case a.CurrentLocation != nil:
			err = s.locationStore.Add(ctx, a.DriverID, a.CurrentLocation.Lat, a.CurrentLocation.Lng)
		}
		if err != nil {
			s.logger.Warn("update driver location index", zap.String("driver_id", a.DriverID), zap.Error(err))
		}
	}

	return nil
}

// GetAvailability returns the driver's last report. Unknown drivers are offline.
func (s *DriverService) GetAvailability(ctx context.Context, driverID string) (*domain.DriverAvailability, error) {
	if s.cacheStore != nil {
		cached, err := s.cacheStore.GetAvailability(ctx, driverID)
		if err != nil {
			s.logger.Warn("read availability cache", zap.String("driver_id", driverID), zap.Error(err))
		} else if cached != nil {
			return cached, nil
		}
	}

	a, err := s.driverRepo.GetAvailability(ctx, driverID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &domain.DriverAvailability{DriverID: driverID, Status: domain.DriverStatusOffline}, nil
		}
		return nil, err
	}

	if s.cacheStore != nil {
		if err := s.cacheStore.SetAvailability(ctx, a); err != nil {
			s.logger.Warn("write availability cache", zap.String("driver_id", driverID), zap.Error(err))
		}
	}
	return a, nil
}
