package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/room-scheduler/internal/persistence"
)

const (
	statusActive    = "ACTIVE"
	statusCancelled = "CANCELLED"
)

// ReservationRepository implements persistence.ReservationRepository using SQLite.
type ReservationRepository struct {
	pool   *ConnectionPool
	helper *QueryHelper
	mapper *ErrorMapper
	now    func() time.Time
}

// NewReservationRepository creates a new SQLite reservation repository.
func NewReservationRepository(pool *ConnectionPool) *ReservationRepository {
	return &ReservationRepository{
		pool:   pool,
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
		now:    time.Now,
	}
}

const reservationColumns = `id, workspace_id, room_id, start_at, end_at, status, subject, criticality, created_by, created_at, updated_at, cancelled_at`

// overlapQuery finds one ACTIVE reservation of the room intersecting
// [start, end), skipping excludeID. It is served by idx_reservations_room_window.
const overlapQuery = `
	SELECT id FROM reservations
	WHERE room_id = ?
	  AND status = 'ACTIVE'
	  AND start_at < ?
	  AND end_at > ?
	  AND id <> ?
	LIMIT 1
`

// CreateReservation inserts an ACTIVE reservation after checking, within the
// same write transaction, that no other ACTIVE reservation of the room
// overlaps it.
func (r *ReservationRepository) CreateReservation(ctx context.Context, reservation persistence.Reservation) error {
	if err := validateReservation(reservation); err != nil {
		return err
	}
	if reservation.Status == "" {
		reservation.Status = statusActive
	}
	if reservation.CreatedAt.IsZero() {
		reservation.CreatedAt = r.now()
	}
	if reservation.UpdatedAt.IsZero() {
		reservation.UpdatedAt = reservation.CreatedAt
	}

	return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		if reservation.Status == statusActive {
			conflict, err := r.conflict(ctx, tx, reservation.RoomID, reservation.Start, reservation.End, reservation.ID)
			if err != nil {
				return err
			}
			if conflict {
				return persistence.ErrOverlap
			}
		}

		const query = `
			INSERT INTO reservations (` + reservationColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err := r.helper.ExecTx(ctx, tx, query,
			reservation.ID,
			reservation.WorkspaceID,
			reservation.RoomID,
			formatTimestamp(reservation.Start),
			formatTimestamp(reservation.End),
			reservation.Status,
			reservation.Subject,
			defaultString(reservation.Criticality, "MEDIUM"),
			reservation.CreatedBy,
			formatTimestamp(reservation.CreatedAt),
			formatTimestamp(reservation.UpdatedAt),
			nullableTimestamp(reservation.CancelledAt),
		)
		return r.mapper.MapError(err)
	})
}

// UpdateReservation rewrites the mutable fields of an ACTIVE reservation.
// WorkspaceID, CreatedBy and CreatedAt are never changed. Cancelled or
// missing rows return ErrNotFound.
func (r *ReservationRepository) UpdateReservation(ctx context.Context, reservation persistence.Reservation) error {
	if err := validateReservation(reservation); err != nil {
		return err
	}
	if reservation.UpdatedAt.IsZero() {
		reservation.UpdatedAt = r.now()
	}

	return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		var status string
		err := r.helper.QueryRowTx(ctx, tx, `SELECT status FROM reservations WHERE id = ?`, reservation.ID).Scan(&status)
		if err != nil {
			return r.mapper.MapError(err)
		}
		if status != statusActive {
			return persistence.ErrNotFound
		}

		conflict, err := r.conflict(ctx, tx, reservation.RoomID, reservation.Start, reservation.End, reservation.ID)
		if err != nil {
			return err
		}
		if conflict {
			return persistence.ErrOverlap
		}

		const query = `
			UPDATE reservations
			SET room_id = ?, start_at = ?, end_at = ?, subject = ?, criticality = ?, updated_at = ?
			WHERE id = ? AND status = 'ACTIVE'
		`
		result, err := r.helper.ExecTx(ctx, tx, query,
			reservation.RoomID,
			formatTimestamp(reservation.Start),
			formatTimestamp(reservation.End),
			reservation.Subject,
			defaultString(reservation.Criticality, "MEDIUM"),
			formatTimestamp(reservation.UpdatedAt),
			reservation.ID,
		)
		if err != nil {
			return r.mapper.MapError(err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected == 0 {
			return persistence.ErrNotFound
		}
		return nil
	})
}

// CancelReservation moves an ACTIVE reservation to CANCELLED and returns the
// stored row. Cancelling an already cancelled reservation returns it unchanged
// with changed=false.
func (r *ReservationRepository) CancelReservation(ctx context.Context, id string, cancelledAt time.Time) (reservation persistence.Reservation, changed bool, err error) {
	if id == "" {
		return persistence.Reservation{}, false, persistence.ErrNotFound
	}

	err = r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		current, err := scanReservation(r.helper.QueryRowTx(ctx, tx,
			`SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id))
		if err != nil {
			return r.mapper.MapError(err)
		}
		if current.Status == statusCancelled {
			reservation, changed = current, false
			return nil
		}

		stamp := formatTimestamp(cancelledAt)
		_, err = r.helper.ExecTx(ctx, tx,
			`UPDATE reservations SET status = 'CANCELLED', cancelled_at = ?, updated_at = ? WHERE id = ? AND status = 'ACTIVE'`,
			stamp, stamp, id)
		if err != nil {
			return r.mapper.MapError(err)
		}

		at := cancelledAt.UTC().Truncate(time.Millisecond)
		current.Status = statusCancelled
		current.CancelledAt = &at
		current.UpdatedAt = at
		reservation, changed = current, true
		return nil
	})
	if err != nil {
		return persistence.Reservation{}, false, err
	}
	return reservation, changed, nil
}

// GetReservation retrieves a reservation by ID, cancelled or not.
func (r *ReservationRepository) GetReservation(ctx context.Context, id string) (persistence.Reservation, error) {
	if id == "" {
		return persistence.Reservation{}, persistence.ErrNotFound
	}
	reservation, err := scanReservation(r.helper.QueryRow(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id))
	if err != nil {
		return persistence.Reservation{}, r.mapper.MapError(err)
	}
	return reservation, nil
}

// ListReservations returns reservations matching filter ordered by start then
// ID. From and To select reservations intersecting [From, To).
func (r *ReservationRepository) ListReservations(ctx context.Context, filter persistence.ReservationFilter) ([]persistence.Reservation, error) {
	var (
		conditions []string
		args       []any
	)
	if filter.WorkspaceID != "" {
		conditions = append(conditions, "workspace_id = ?")
		args = append(args, filter.WorkspaceID)
	}
	if len(filter.RoomIDs) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(filter.RoomIDs)), ",")
		conditions = append(conditions, "room_id IN ("+placeholders+")")
		for _, id := range filter.RoomIDs {
			args = append(args, id)
		}
	}
	if filter.To != nil {
		conditions = append(conditions, "start_at < ?")
		args = append(args, formatTimestamp(*filter.To))
	}
	if filter.From != nil {
		conditions = append(conditions, "end_at > ?")
		args = append(args, formatTimestamp(*filter.From))
	}
	if !filter.IncludeCancelled {
		conditions = append(conditions, "status = 'ACTIVE'")
	}

	query := `SELECT ` + reservationColumns + ` FROM reservations`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY start_at, id"

	rows, err := r.helper.Query(ctx, query, args...)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	reservations := make([]persistence.Reservation, 0)
	for rows.Next() {
		reservation, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		reservations = append(reservations, reservation)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return reservations, nil
}

// HasConflict reports whether an ACTIVE reservation of roomID other than
// excludeID overlaps [start, end). It is advisory; writes repeat the check
// inside their transaction.
func (r *ReservationRepository) HasConflict(ctx context.Context, roomID string, start, end time.Time, excludeID string) (bool, error) {
	return r.conflict(ctx, r.pool.db, roomID, start, end, excludeID)
}

// rowQuerier is satisfied by both *sql.DB and *sql.Tx.
type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *ReservationRepository) conflict(ctx context.Context, q rowQuerier, roomID string, start, end time.Time, excludeID string) (bool, error) {
	var id string
	err := q.QueryRowContext(ctx, overlapQuery,
		roomID, formatTimestamp(end), formatTimestamp(start), excludeID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, r.mapper.MapError(err)
	}
	return true, nil
}

func validateReservation(reservation persistence.Reservation) error {
	if reservation.ID == "" || reservation.RoomID == "" || reservation.WorkspaceID == "" {
		return persistence.ErrConstraintViolation
	}
	if !reservation.Start.Before(reservation.End) {
		return persistence.ErrConstraintViolation
	}
	return nil
}

func scanReservation(row rowScanner) (persistence.Reservation, error) {
	var (
		reservation                          persistence.Reservation
		startAt, endAt, createdAt, updatedAt string
		cancelledAt                          sql.NullString
	)
	err := row.Scan(
		&reservation.ID,
		&reservation.WorkspaceID,
		&reservation.RoomID,
		&startAt,
		&endAt,
		&reservation.Status,
		&reservation.Subject,
		&reservation.Criticality,
		&reservation.CreatedBy,
		&createdAt,
		&updatedAt,
		&cancelledAt,
	)
	if err != nil {
		return persistence.Reservation{}, err
	}

	for _, field := range []struct {
		dst *time.Time
		src string
	}{
		{&reservation.Start, startAt},
		{&reservation.End, endAt},
		{&reservation.CreatedAt, createdAt},
		{&reservation.UpdatedAt, updatedAt},
	} {
		if *field.dst, err = parseTimestamp(field.src); err != nil {
			return persistence.Reservation{}, fmt.Errorf("reservation %s: %w", reservation.ID, err)
		}
	}
	if cancelledAt.Valid {
		t, err := parseTimestamp(cancelledAt.String)
		if err != nil {
			return persistence.Reservation{}, fmt.Errorf("reservation %s: %w", reservation.ID, err)
		}
		reservation.CancelledAt = &t
	}
	return reservation, nil
}

func nullableTimestamp(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTimestamp(*t), Valid: true}
}

func defaultString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
