package application

import (
	"time"

	"github.com/example/room-scheduler/internal/localtime"
	"github.com/example/room-scheduler/internal/scheduler"
)

// Principal represents the authenticated user invoking a service method.
// IsAdmin marks operators allowed to act in every workspace.
type Principal struct {
	UserID  string
	IsAdmin bool
}

// Criticality ranks how disruptive moving a reservation would be.
type Criticality string

const (
	CriticalityHigh   Criticality = "HIGH"
	CriticalityMedium Criticality = "MEDIUM"
	CriticalityLow    Criticality = "LOW"
)

// Valid reports whether c is one of the known levels.
func (c Criticality) Valid() bool {
	switch c {
	case CriticalityHigh, CriticalityMedium, CriticalityLow:
		return true
	}
	return false
}

// Reservation is a booking of a room for a half-open UTC interval.
type Reservation struct {
	ID          string
	WorkspaceID string
	RoomID      string
	Start       time.Time
	End         time.Time
	Status      scheduler.Status
	Subject     string
	Criticality Criticality
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CancelledAt *time.Time
}

// Interval returns the reserved time span.
func (r Reservation) Interval() scheduler.Interval {
	return scheduler.Interval{Start: r.Start, End: r.End}
}

// Active reports whether the reservation takes part in conflict checks.
func (r Reservation) Active() bool {
	return r.Status == scheduler.StatusActive
}

// Booking projects the reservation onto the conflict model.
func (r Reservation) Booking() scheduler.Booking {
	return scheduler.Booking{ID: r.ID, RoomID: r.RoomID, Interval: r.Interval(), Status: r.Status}
}

// ReservationInput captures caller provided fields for a new reservation.
// WorkspaceID is optional; when set it must match the room's workspace.
type ReservationInput struct {
	WorkspaceID string
	RoomID      string
	Start       time.Time
	End         time.Time
	Subject     string
	Criticality Criticality
}

// ReservationPatch carries the fields an update may change. Nil fields keep
// their stored value.
type ReservationPatch struct {
	RoomID      *string
	Start       *time.Time
	End         *time.Time
	Subject     *string
	Criticality *Criticality
}

// CreateReservationParams wraps the data required to create a reservation.
type CreateReservationParams struct {
	Principal Principal
	Input     ReservationInput
}

// UpdateReservationParams wraps the data required to move, resize or edit a reservation.
type UpdateReservationParams struct {
	Principal     Principal
	ReservationID string
	Input         ReservationPatch
}

// ListReservationsParams wraps the data required to list reservations.
// From and To select reservations intersecting [From, To).
type ListReservationsParams struct {
	Principal        Principal
	WorkspaceID      string
	RoomIDs          []string
	From             *time.Time
	To               *time.Time
	IncludeCancelled bool
}

// AvailabilityParams asks for the free slots of a room on a workspace-local date.
type AvailabilityParams struct {
	Principal Principal
	RoomID    string
	Date      string // 2006-01-02 in the workspace timezone
}

// Availability lists the free slots of a room within the schedule window.
type Availability struct {
	RoomID   string
	Date     string
	Timezone string
	Window   scheduler.Interval
	Free     []scheduler.Interval
}

// Room is a bookable room inside a workspace.
type Room struct {
	ID          string
	WorkspaceID string
	Name        string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RoomInput captures caller provided room fields.
type RoomInput struct {
	WorkspaceID string
	Name        string
}

// CreateRoomParams wraps the data required to create a room.
type CreateRoomParams struct {
	Principal Principal
	Input     RoomInput
}

// UpdateRoomParams wraps the data required to rename a room.
type UpdateRoomParams struct {
	Principal Principal
	RoomID    string
	Input     RoomInput
}

// Workspace carries the scheduling settings shared by the server and the preview.
type Workspace struct {
	ID                 string
	Name               string
	Timezone           string
	Window             localtime.Window
	GranularityMinutes int
}

// Granularity returns the editing quantum of the workspace, 15 minutes when unset.
func (w Workspace) Granularity() time.Duration {
	if w.GranularityMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(w.GranularityMinutes) * time.Minute
}

// Event types published for reservation lifecycle transitions.
const (
	EventReservationCreated   = "reservation.created"
	EventReservationUpdated   = "reservation.updated"
	EventReservationCancelled = "reservation.cancelled"
)

// ReservationEvent describes a committed lifecycle transition.
type ReservationEvent struct {
	Type        string
	Reservation Reservation
	ActorID     string
	OccurredAt  time.Time
}
