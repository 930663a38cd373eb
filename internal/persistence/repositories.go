package persistence

import (
	"context"
	"time"
)

// WorkspaceRepository stores workspaces and their memberships.
type WorkspaceRepository interface {
	UpsertWorkspace(ctx context.Context, workspace Workspace) error
	GetWorkspace(ctx context.Context, id string) (Workspace, error)
	UpsertMember(ctx context.Context, member Member) error
	GetMember(ctx context.Context, workspaceID, userID string) (Member, error)
}

// RoomRepository exposes CRUD operations for rooms.
type RoomRepository interface {
	CreateRoom(ctx context.Context, room Room) error
	UpdateRoom(ctx context.Context, room Room) error
	GetRoom(ctx context.Context, id string) (Room, error)
	ListRooms(ctx context.Context, workspaceID string) ([]Room, error)
	DeleteRoom(ctx context.Context, id string) error
}

// ReservationFilter narrows reservation queries. Zero values disable a criterion.
type ReservationFilter struct {
	WorkspaceID      string
	RoomIDs          []string
	From             *time.Time
	To               *time.Time
	IncludeCancelled bool
}

// ReservationRepository stores reservations. CreateReservation and
// UpdateReservation run the overlap check inside the same transaction as the
// write and fail with ErrOverlap when another active reservation of the room
// intersects the row being written. CancelReservation reports whether the call
// performed the ACTIVE to CANCELLED transition.
type ReservationRepository interface {
	CreateReservation(ctx context.Context, reservation Reservation) error
	UpdateReservation(ctx context.Context, reservation Reservation) error
	CancelReservation(ctx context.Context, id string, cancelledAt time.Time) (Reservation, bool, error)
	GetReservation(ctx context.Context, id string) (Reservation, error)
	ListReservations(ctx context.Context, filter ReservationFilter) ([]Reservation, error)
	HasConflict(ctx context.Context, roomID string, start, end time.Time, excludeID string) (bool, error)
}
