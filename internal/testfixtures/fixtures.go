package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/room-scheduler/internal/application"
	"github.com/example/room-scheduler/internal/localtime"
	"github.com/example/room-scheduler/internal/persistence"
	"github.com/example/room-scheduler/internal/scheduler"
)

var (
	workspaceCounter   uint64
	roomCounter        uint64
	reservationCounter uint64
)

var referenceTime = time.Date(2025, time.March, 14, 0, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
// It is midnight UTC on a weekday.
func ReferenceTime() time.Time {
	return referenceTime
}

// At returns ReferenceTime shifted by the given hours and minutes.
func At(hour, minute int) time.Time {
	return referenceTime.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

// --------------------------- Workspace fixtures --------------------------

// WorkspaceFixture represents a deterministic workspace with its settings.
type WorkspaceFixture struct {
	ID                 string
	Name               string
	Timezone           string
	Window             localtime.Window
	GranularityMinutes int
	CreatedAt          time.Time
}

// WorkspaceOption configures the generated workspace fixture.
type WorkspaceOption func(*WorkspaceFixture)

// NewWorkspaceFixture returns a UTC workspace with office hours and a
// 15 minute grid.
func NewWorkspaceFixture(opts ...WorkspaceOption) WorkspaceFixture {
	idx := atomic.AddUint64(&workspaceCounter, 1)
	fixture := WorkspaceFixture{
		ID:                 fmt.Sprintf("ws-%03d", idx),
		Name:               fmt.Sprintf("Workspace %03d", idx),
		Timezone:           "UTC",
		Window:             localtime.DefaultWindow,
		GranularityMinutes: 15,
		CreatedAt:          referenceTime,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithWorkspaceID overrides the generated workspace ID.
func WithWorkspaceID(id string) WorkspaceOption {
	return func(f *WorkspaceFixture) {
		f.ID = id
	}
}

// WithWorkspaceTimezone sets the IANA timezone.
func WithWorkspaceTimezone(tz string) WorkspaceOption {
	return func(f *WorkspaceFixture) {
		f.Timezone = tz
	}
}

// WithWorkspaceWindow sets the schedule window in local hours.
func WithWorkspaceWindow(startHour, endHour int) WorkspaceOption {
	return func(f *WorkspaceFixture) {
		f.Window = localtime.Window{StartHour: startHour, EndHour: endHour}
	}
}

// WithWorkspaceGranularity sets the editing quantum in minutes.
func WithWorkspaceGranularity(minutes int) WorkspaceOption {
	return func(f *WorkspaceFixture) {
		f.GranularityMinutes = minutes
	}
}

// Persistence returns the fixture as a persistence.Workspace value.
func (f WorkspaceFixture) Persistence() persistence.Workspace {
	return persistence.Workspace{
		ID:                 f.ID,
		Name:               f.Name,
		Timezone:           f.Timezone,
		WindowStartHour:    f.Window.StartHour,
		WindowEndHour:      f.Window.EndHour,
		GranularityMinutes: f.GranularityMinutes,
		CreatedAt:          f.CreatedAt,
		UpdatedAt:          f.CreatedAt,
	}
}

// Member returns an active membership row for userID in the workspace.
func (f WorkspaceFixture) Member(userID, role string) persistence.Member {
	return persistence.Member{
		WorkspaceID: f.ID,
		UserID:      userID,
		Role:        role,
		Active:      true,
		CreatedAt:   f.CreatedAt,
		UpdatedAt:   f.CreatedAt,
	}
}

// ----------------------------- Room fixtures -----------------------------

// RoomFixture represents a deterministic room record.
type RoomFixture struct {
	ID          string
	WorkspaceID string
	Name        string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RoomOption configures the generated room fixture.
type RoomOption func(*RoomFixture)

// NewRoomFixture returns a deterministic room fixture in workspaceID.
func NewRoomFixture(workspaceID string, opts ...RoomOption) RoomFixture {
	idx := atomic.AddUint64(&roomCounter, 1)
	fixture := RoomFixture{
		ID:          fmt.Sprintf("room-%03d", idx),
		WorkspaceID: workspaceID,
		Name:        fmt.Sprintf("Room %03d", idx),
		CreatedAt:   referenceTime,
		UpdatedAt:   referenceTime,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithRoomID overrides the generated room ID.
func WithRoomID(id string) RoomOption {
	return func(f *RoomFixture) {
		f.ID = id
	}
}

// WithRoomName overrides the generated room name.
func WithRoomName(name string) RoomOption {
	return func(f *RoomFixture) {
		f.Name = name
	}
}

// Application returns the fixture as an application.Room value.
func (f RoomFixture) Application() application.Room {
	return application.Room{
		ID:          f.ID,
		WorkspaceID: f.WorkspaceID,
		Name:        f.Name,
		CreatedAt:   f.CreatedAt,
		UpdatedAt:   f.UpdatedAt,
	}
}

// Persistence returns the fixture as a persistence.Room value.
func (f RoomFixture) Persistence() persistence.Room {
	return persistence.Room{
		ID:          f.ID,
		WorkspaceID: f.WorkspaceID,
		Name:        f.Name,
		CreatedAt:   f.CreatedAt,
		UpdatedAt:   f.UpdatedAt,
	}
}

// -------------------------- Reservation fixtures -------------------------

// ReservationFixture represents a deterministic reservation.
type ReservationFixture struct {
	ID          string
	WorkspaceID string
	RoomID      string
	Start       time.Time
	End         time.Time
	Status      scheduler.Status
	Subject     string
	Criticality application.Criticality
	CreatedBy   string
	CreatedAt   time.Time
	CancelledAt *time.Time
}

// ReservationOption configures the generated reservation fixture.
type ReservationOption func(*ReservationFixture)

// NewReservationFixture returns an active one hour reservation of room
// starting at 10:00 UTC on the reference day.
func NewReservationFixture(room RoomFixture, opts ...ReservationOption) ReservationFixture {
	idx := atomic.AddUint64(&reservationCounter, 1)
	fixture := ReservationFixture{
		ID:          fmt.Sprintf("res-%03d", idx),
		WorkspaceID: room.WorkspaceID,
		RoomID:      room.ID,
		Start:       At(10, 0),
		End:         At(11, 0),
		Status:      scheduler.StatusActive,
		Subject:     fmt.Sprintf("Meeting %03d", idx),
		Criticality: application.CriticalityMedium,
		CreatedBy:   "user-001",
		CreatedAt:   referenceTime,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithReservationID overrides the generated reservation ID.
func WithReservationID(id string) ReservationOption {
	return func(f *ReservationFixture) {
		f.ID = id
	}
}

// WithReservationWindow sets the start and end instants.
func WithReservationWindow(start, end time.Time) ReservationOption {
	return func(f *ReservationFixture) {
		f.Start = start
		f.End = end
	}
}

// WithReservationCreator sets the creating user.
func WithReservationCreator(userID string) ReservationOption {
	return func(f *ReservationFixture) {
		f.CreatedBy = userID
	}
}

// WithReservationCancelled marks the fixture cancelled at t.
func WithReservationCancelled(t time.Time) ReservationOption {
	return func(f *ReservationFixture) {
		cancelled := t
		f.Status = scheduler.StatusCancelled
		f.CancelledAt = &cancelled
	}
}

// WithReservationCriticality sets the criticality level.
func WithReservationCriticality(c application.Criticality) ReservationOption {
	return func(f *ReservationFixture) {
		f.Criticality = c
	}
}

// Persistence returns the fixture as a persistence.Reservation value.
func (f ReservationFixture) Persistence() persistence.Reservation {
	return persistence.Reservation{
		ID:          f.ID,
		WorkspaceID: f.WorkspaceID,
		RoomID:      f.RoomID,
		Start:       f.Start,
		End:         f.End,
		Status:      string(f.Status),
		Subject:     f.Subject,
		Criticality: string(f.Criticality),
		CreatedBy:   f.CreatedBy,
		CreatedAt:   f.CreatedAt,
		UpdatedAt:   f.CreatedAt,
		CancelledAt: copyTimePtr(f.CancelledAt),
	}
}

// Input returns the fixture as an application.ReservationInput.
func (f ReservationFixture) Input() application.ReservationInput {
	return application.ReservationInput{
		WorkspaceID: f.WorkspaceID,
		RoomID:      f.RoomID,
		Start:       f.Start,
		End:         f.End,
		Subject:     f.Subject,
		Criticality: f.Criticality,
	}
}

func copyTimePtr(src *time.Time) *time.Time {
	if src == nil {
		return nil
	}
	value := *src
	return &value
}
