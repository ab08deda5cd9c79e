package postgres

import (
	"context"
	"database/sql"
	"errors"

	"cargorapido/internal/domain"
	"cargorapido/internal/repository"
)

// DriverRepository is a PostgreSQL implementation of repository.DriverRepository.
type DriverRepository struct {
	q Querier
}

// NewDriverRepository creates a new PostgreSQL driver repository.
func NewDriverRepository(db *sql.DB) *DriverRepository {
	return &DriverRepository{q: db}
}

var _ repository.DriverRepository = (*DriverRepository)(nil)

// GetAvailability retrieves the last reported availability of a driver.
func (r *DriverRepository) GetAvailability(ctx context.Context, driverID string) (*domain.DriverAvailability, error) {
	query := `SELECT id, status, last_lat, last_lng FROM drivers WHERE id = $1`

	var (
		a        domain.DriverAvailability
		lat, lng sql.NullFloat64
	)
	err := r.q.QueryRowContext(ctx, query, driverID).Scan(&a.DriverID, &a.Status, &lat, &lng)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	if lat.Valid && lng.Valid {
		a.CurrentLocation = &domain.GeoPoint{Lat: lat.Float64, Lng: lng.Float64}
	}
	return &a, nil
}

// SetAvailability records the status and location reported by a driver.
// Unknown drivers are registered on their first report.
func (r *DriverRepository) SetAvailability(ctx context.Context, a *domain.DriverAvailability) error {
	query := `
		INSERT INTO drivers (id, status, last_lat, last_lng, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
			last_lat = COALESCE(EXCLUDED.last_lat, drivers.last_lat),
			last_lng = COALESCE(EXCLUDED.last_lng, drivers.last_lng),
			updated_at = NOW()
	`

	var lat, lng sql.NullFloat64
	if a.CurrentLocation != nil {
		lat = sql.NullFloat64{Float64: a.CurrentLocation.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: a.CurrentLocation.Lng, Valid: true}
	}

	_, err := r.q.ExecContext(ctx, query, a.DriverID, a.Status, lat, lng)
	return err
}
