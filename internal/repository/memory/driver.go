package memory

import (
	"context"
	"sync"

	"cargorapido/internal/domain"
	"cargorapido/internal/repository"
)

// DriverRepository keeps driver availability in memory.
type DriverRepository struct {
	mu      sync.RWMutex
	drivers map[string]domain.DriverAvailability
}

// NewDriverRepository creates an empty in-memory driver repository.
func NewDriverRepository() *DriverRepository {
	return &DriverRepository{drivers: make(map[string]domain.DriverAvailability)}
}

var _ repository.DriverRepository = (*DriverRepository)(nil)

// GetAvailability returns the last reported availability of a driver.
func (r *DriverRepository) GetAvailability(ctx context.Context, driverID string) (*domain.DriverAvailability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.drivers[driverID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if a.CurrentLocation != nil {
		loc := *a.CurrentLocation
		a.CurrentLocation = &loc
	}
	return &a, nil
}

// SetAvailability records a report, keeping the previous location when none is given.
func (r *DriverRepository) SetAvailability(ctx context.Context, a *domain.DriverAvailability) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := domain.DriverAvailability{DriverID: a.DriverID, Status: a.Status}
	if a.CurrentLocation != nil {
		loc := *a.CurrentLocation
		stored.CurrentLocation = &loc
	} else if prev, ok := r.drivers[a.DriverID]; ok {
		stored.CurrentLocation = prev.CurrentLocation
	}
	r.drivers[a.DriverID] = stored
	return nil
}
