package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"cargorapido/internal/domain"
	"cargorapido/internal/repository"
)

const bookingColumns = `id, human_id, status, customer_id, driver_id, delivery_type,
	pickup, drop_off, cargo, pricing,
	otp_pickup, otp_pickup_used_at, otp_drop, otp_drop_used_at,
	assignment_deadline, escalation_level, search_radius_km, proof, cancel_reason,
	version, created_at, updated_at`

// BookingRepository is a PostgreSQL implementation of repository.BookingRepository.
type BookingRepository struct {
	db *sql.DB
}

// NewBookingRepository creates a new PostgreSQL booking repository.
func NewBookingRepository(db *sql.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

var _ repository.BookingRepository = (*BookingRepository)(nil)

// Create persists a new booking and its initial timeline in one transaction.
func (r *BookingRepository) Create(ctx context.Context, booking *domain.Booking) error {
	args, err := insertArgs(booking)
	if err != nil {
		return err
	}

	query := `INSERT INTO bookings (` + bookingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			if isUniqueViolation(err) {
				return repository.ErrDuplicate
			}
			return err
		}
		for _, entry := range booking.Timeline {
			if err := insertTimeline(ctx, tx, booking.ID, entry); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetByID retrieves a booking with its full timeline.
func (r *BookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	return getBooking(ctx, r.db, id, false)
}

// AppendTimeline appends an entry after the current last one.
func (r *BookingRepository) AppendTimeline(ctx context.Context, id string, entry domain.TimelineEntry) (domain.TimelineEntry, error) {
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx, `SELECT status FROM bookings WHERE id = $1 FOR UPDATE`, id).Scan(&status)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return repository.ErrNotFound
			}
			return err
		}

		var last int
		err = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM booking_timeline WHERE booking_id = $1`, id).Scan(&last)
		if err != nil {
			return err
		}
		if entry.Status == "" {
			entry.Status = domain.BookingStatus(status)
		}
		entry.Seq = last + 1
		return insertTimeline(ctx, tx, id, entry)
	})
	if err != nil {
		return domain.TimelineEntry{}, err
	}
	return entry, nil
}

// CompareAndSetStatus locks the row, checks the expected status, applies the
// mutator and writes the new state plus the timeline entry in one transaction.
func (r *BookingRepository) CompareAndSetStatus(
	ctx context.Context,
	id string,
	expected, next domain.BookingStatus,
	mutate repository.BookingMutator,
	entry domain.TimelineEntry,
) (*domain.Booking, error) {
	var updated *domain.Booking

	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		current, err := getBooking(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if current.Status != expected {
			return repository.ErrConflict
		}

		b := current.Clone()
		if mutate != nil {
			if err := mutate(b); err != nil {
				return err
			}
		}
		b.Status = next
		b.Version = current.Version + 1
		b.UpdatedAt = entry.Timestamp
		entry.Seq = len(current.Timeline) + 1
		b.Timeline = append(b.Timeline, entry)

		proof, err := jsonOrNull(b.ProofOfDelivery)
		if err != nil {
			return err
		}

		query := `
			UPDATE bookings SET status = $2, driver_id = $3, otp_pickup_used_at = $4, otp_drop_used_at = $5,
				assignment_deadline = $6, escalation_level = $7, search_radius_km = $8, proof = $9,
				cancel_reason = $10, version = $11, updated_at = $12
			WHERE id = $1 AND status = $13 AND version = $14
		`
		result, err := tx.ExecContext(ctx, query,
			b.ID,
			b.Status,
			nullString(b.DriverID),
			nullTime(b.OTP.Pickup.ConsumedAt),
			nullTime(b.OTP.Drop.ConsumedAt),
			b.AssignmentDeadline,
			b.EscalationLevel,
			b.SearchRadiusKm,
			proof,
			nullString(b.CancelReason),
			b.Version,
			b.UpdatedAt,
			expected,
			current.Version,
		)
		if err != nil {
			return err
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rowsAffected == 0 {
			return repository.ErrConflict
		}

		if err := insertTimeline(ctx, tx, id, entry); err != nil {
			return err
		}
		updated = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ListPending returns pending bookings whose deadline has not passed at now, oldest first.
func (r *BookingRepository) ListPending(ctx context.Context, now time.Time) ([]*domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
		WHERE status = $1 AND assignment_deadline >= $2
		ORDER BY created_at ASC`
	return r.list(ctx, query, domain.BookingStatusPending, now)
}

// ListExpired returns pending bookings whose deadline passed before now, oldest first.
func (r *BookingRepository) ListExpired(ctx context.Context, now time.Time) ([]*domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
		WHERE status = $1 AND assignment_deadline < $2
		ORDER BY created_at ASC`
	return r.list(ctx, query, domain.BookingStatusPending, now)
}

// HasActiveDelivery reports whether the driver holds a booking between assignment and delivery.
func (r *BookingRepository) HasActiveDelivery(ctx context.Context, driverID string) (bool, error) {
	var active []string
	for _, st := range domain.AllStatuses() {
		if st.IsActiveDelivery() {
			active = append(active, string(st))
		}
	}

	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM bookings WHERE driver_id = $1 AND status = ANY($2))`
	if err := r.db.QueryRowContext(ctx, query, driverID, pq.Array(active)).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *BookingRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Booking, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []*domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(bookings) == 0 {
		return bookings, nil
	}

	ids := make([]string, len(bookings))
	for i, b := range bookings {
		ids[i] = b.ID
	}
	timelines, err := loadTimelines(ctx, r.db, ids)
	if err != nil {
		return nil, err
	}
	for _, b := range bookings {
		b.Timeline = timelines[b.ID]
	}
	return bookings, nil
}

func getBooking(ctx context.Context, q Querier, id string, forUpdate bool) (*domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	b, err := scanBooking(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	timelines, err := loadTimelines(ctx, q, []string{id})
	if err != nil {
		return nil, err
	}
	b.Timeline = timelines[id]
	return b, nil
}

func loadTimelines(ctx context.Context, q Querier, ids []string) (map[string][]domain.TimelineEntry, error) {
	query := `
		SELECT booking_id, seq, status, note, actor_id, occurred_at
		FROM booking_timeline WHERE booking_id = ANY($1)
		ORDER BY booking_id, seq
	`
	rows, err := q.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]domain.TimelineEntry, len(ids))
	for rows.Next() {
		var (
			bookingID string
			entry     domain.TimelineEntry
		)
		if err := rows.Scan(&bookingID, &entry.Seq, &entry.Status, &entry.Note, &entry.ActorID, &entry.Timestamp); err != nil {
			return nil, err
		}
		out[bookingID] = append(out[bookingID], entry)
	}
	return out, rows.Err()
}

func insertTimeline(ctx context.Context, q Querier, bookingID string, entry domain.TimelineEntry) error {
	query := `
		INSERT INTO booking_timeline (booking_id, seq, status, note, actor_id, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := q.ExecContext(ctx, query, bookingID, entry.Seq, entry.Status, entry.Note, entry.ActorID, entry.Timestamp)
	if isUniqueViolation(err) {
		return repository.ErrConflict
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(s rowScanner) (*domain.Booking, error) {
	var (
		b                             domain.Booking
		driverID, cancelReason, proof sql.NullString
		pickup, drop, cargo, pricing  []byte
		pickupUsedAt, dropUsedAt      sql.NullTime
	)

	err := s.Scan(
		&b.ID,
		&b.HumanID,
		&b.Status,
		&b.CustomerID,
		&driverID,
		&b.DeliveryType,
		&pickup,
		&drop,
		&cargo,
		&pricing,
		&b.OTP.Pickup.Code,
		&pickupUsedAt,
		&b.OTP.Drop.Code,
		&dropUsedAt,
		&b.AssignmentDeadline,
		&b.EscalationLevel,
		&b.SearchRadiusKm,
		&proof,
		&cancelReason,
		&b.Version,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	for _, f := range []struct {
		raw []byte
		dst any
	}{
		{pickup, &b.Pickup},
		{drop, &b.Drop},
		{cargo, &b.Cargo},
		{pricing, &b.Pricing},
	} {
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return nil, fmt.Errorf("decode booking %s: %w", b.ID, err)
		}
	}

	if driverID.Valid {
		b.DriverID = driverID.String
	}
	if cancelReason.Valid {
		b.CancelReason = cancelReason.String
	}
	if pickupUsedAt.Valid {
		t := pickupUsedAt.Time
		b.OTP.Pickup.ConsumedAt = &t
	}
	if dropUsedAt.Valid {
		t := dropUsedAt.Time
		b.OTP.Drop.ConsumedAt = &t
	}
	if proof.Valid {
		var pod domain.ProofOfDelivery
		if err := json.Unmarshal([]byte(proof.String), &pod); err != nil {
			return nil, fmt.Errorf("decode proof of delivery %s: %w", b.ID, err)
		}
		b.ProofOfDelivery = &pod
	}

	return &b, nil
}

func insertArgs(b *domain.Booking) ([]any, error) {
	encoded := make([]string, 0, 4)
	for _, v := range []any{b.Pickup, b.Drop, b.Cargo, b.Pricing} {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode booking %s: %w", b.ID, err)
		}
		encoded = append(encoded, string(raw))
	}
	proof, err := jsonOrNull(b.ProofOfDelivery)
	if err != nil {
		return nil, err
	}

	return []any{
		b.ID,
		b.HumanID,
		b.Status,
		b.CustomerID,
		nullString(b.DriverID),
		b.DeliveryType,
		encoded[0],
		encoded[1],
		encoded[2],
		encoded[3],
		b.OTP.Pickup.Code,
		nullTime(b.OTP.Pickup.ConsumedAt),
		b.OTP.Drop.Code,
		nullTime(b.OTP.Drop.ConsumedAt),
		b.AssignmentDeadline,
		b.EscalationLevel,
		b.SearchRadiusKm,
		proof,
		nullString(b.CancelReason),
		b.Version,
		b.CreatedAt,
		b.UpdatedAt,
	}, nil
}

func jsonOrNull(pod *domain.ProofOfDelivery) (sql.NullString, error) {
	if pod == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(pod)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
