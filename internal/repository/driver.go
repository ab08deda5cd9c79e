package repository

import (
	"context"

	"cargorapido/internal/domain"
)

// DriverRepository defines the persistence operations for driver availability.
type DriverRepository interface {
	// GetAvailability retrieves the last reported availability of a driver.
	GetAvailability(ctx context.Context, driverID string) (*domain.DriverAvailability, error)

	// SetAvailability records the status and location reported by a driver.
	SetAvailability(ctx context.Context, availability *domain.DriverAvailability) error
}
