package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/example/room-scheduler/internal/persistence"
)

// RoomRepository implements persistence.RoomRepository using SQLite.
type RoomRepository struct {
	pool   *ConnectionPool
	helper *QueryHelper
	mapper *ErrorMapper
	now    func() time.Time
}

// NewRoomRepository creates a new SQLite room repository.
func NewRoomRepository(pool *ConnectionPool) *RoomRepository {
	return &RoomRepository{
		pool:   pool,
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
		now:    time.Now,
	}
}

const roomColumns = `id, workspace_id, name, created_at, updated_at`

// CreateRoom inserts a new room. A duplicate name within the workspace
// returns ErrDuplicate; an unknown workspace returns ErrForeignKeyViolation.
func (r *RoomRepository) CreateRoom(ctx context.Context, room persistence.Room) error {
	if room.ID == "" || room.WorkspaceID == "" {
		return persistence.ErrConstraintViolation
	}

	createdAt := room.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.now()
	}
	updatedAt := room.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	const query = `
		INSERT INTO rooms (id, workspace_id, name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`
	err := r.pool.retry.WithRetry(ctx, func() error {
		_, err := r.helper.Exec(ctx, query,
			room.ID,
			room.WorkspaceID,
			room.Name,
			formatTimestamp(createdAt),
			formatTimestamp(updatedAt),
		)
		return err
	})
	return r.mapper.MapError(err)
}

// UpdateRoom renames a room. The workspace of a room never changes.
func (r *RoomRepository) UpdateRoom(ctx context.Context, room persistence.Room) error {
	if room.ID == "" {
		return persistence.ErrConstraintViolation
	}

	updatedAt := room.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = r.now()
	}

	const query = `UPDATE rooms SET name = ?, updated_at = ? WHERE id = ?`
	var affected int64
	err := r.pool.retry.WithRetry(ctx, func() error {
		result, err := r.helper.Exec(ctx, query, room.Name, formatTimestamp(updatedAt), room.ID)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return r.mapper.MapError(err)
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

// GetRoom retrieves a room by ID.
func (r *RoomRepository) GetRoom(ctx context.Context, id string) (persistence.Room, error) {
	if id == "" {
		return persistence.Room{}, persistence.ErrNotFound
	}

	row := r.helper.QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = ?`, id)
	room, err := scanRoom(row)
	if err != nil {
		return persistence.Room{}, r.mapper.MapError(err)
	}
	return room, nil
}

// ListRooms returns the rooms of a workspace ordered by name.
func (r *RoomRepository) ListRooms(ctx context.Context, workspaceID string) ([]persistence.Room, error) {
	rows, err := r.helper.Query(ctx,
		`SELECT `+roomColumns+` FROM rooms WHERE workspace_id = ? ORDER BY name, id`, workspaceID)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	rooms := make([]persistence.Room, 0)
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return rooms, nil
}

// DeleteRoom removes a room. Rooms that still have reservations cannot be
// deleted and return ErrForeignKeyViolation.
func (r *RoomRepository) DeleteRoom(ctx context.Context, id string) error {
	var affected int64
	err := r.pool.retry.WithRetry(ctx, func() error {
		result, err := r.helper.Exec(ctx, `DELETE FROM rooms WHERE id = ?`, id)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return r.mapper.MapError(err)
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (persistence.Room, error) {
	var (
		room                 persistence.Room
		createdAt, updatedAt string
	)
	if err := row.Scan(&room.ID, &room.WorkspaceID, &room.Name, &createdAt, &updatedAt); err != nil {
		return persistence.Room{}, err
	}

	var err error
	if room.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return persistence.Room{}, fmt.Errorf("room %s: %w", room.ID, err)
	}
	if room.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return persistence.Room{}, fmt.Errorf("room %s: %w", room.ID, err)
	}
	return room, nil
}
