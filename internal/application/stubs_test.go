package application

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/room-scheduler/internal/persistence"
	"github.com/example/room-scheduler/internal/scheduler"
)

// membershipStub treats admins as members too.
type membershipStub struct {
	members map[string]bool // workspaceID|userID
	admins  map[string]bool
	err     error
}

func newMembershipStub() *membershipStub {
	return &membershipStub{members: map[string]bool{}, admins: map[string]bool{}}
}

func (m *membershipStub) withMember(workspaceID, userID string) *membershipStub {
	m.members[workspaceID+"|"+userID] = true
	return m
}

func (m *membershipStub) withAdmin(workspaceID, userID string) *membershipStub {
	m.admins[workspaceID+"|"+userID] = true
	return m
}

func (m *membershipStub) IsActiveMember(ctx context.Context, workspaceID, userID string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	key := workspaceID + "|" + userID
	return m.members[key] || m.admins[key], nil
}

func (m *membershipStub) IsWorkspaceAdmin(ctx context.Context, workspaceID, userID string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	return m.admins[workspaceID+"|"+userID], nil
}

type roomLookupStub struct {
	rooms map[string]Room
	err   error
}

func (r *roomLookupStub) GetRoom(ctx context.Context, id string) (Room, error) {
	if r.err != nil {
		return Room{}, r.err
	}
	room, ok := r.rooms[id]
	if !ok {
		return Room{}, ErrNotFound
	}
	return room, nil
}

type workspaceDirectoryStub struct {
	workspaces map[string]Workspace
	calls      int
}

func (w *workspaceDirectoryStub) GetWorkspace(ctx context.Context, id string) (Workspace, error) {
	w.calls++
	ws, ok := w.workspaces[id]
	if !ok {
		return Workspace{}, ErrNotFound
	}
	return ws, nil
}

// reservationRepoStub keeps reservations in memory and applies the same
// overlap rule as the store.
type reservationRepoStub struct {
	mu           sync.Mutex
	reservations map[string]Reservation
	createErr    error
	updateErr    error
	lastFilter   ReservationFilter
}

func newReservationRepoStub(existing ...Reservation) *reservationRepoStub {
	repo := &reservationRepoStub{reservations: map[string]Reservation{}}
	for _, r := range existing {
		repo.reservations[r.ID] = r
	}
	return repo
}

func (r *reservationRepoStub) conflictLocked(candidate Reservation) bool {
	bookings := make([]scheduler.Booking, 0, len(r.reservations))
	for _, existing := range r.reservations {
		bookings = append(bookings, existing.Booking())
	}
	return scheduler.HasConflict(bookings, candidate.RoomID, candidate.Interval(), candidate.ID)
}

func (r *reservationRepoStub) CreateReservation(ctx context.Context, reservation Reservation) (Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return Reservation{}, r.createErr
	}
	if r.conflictLocked(reservation) {
		return Reservation{}, persistence.ErrOverlap
	}
	r.reservations[reservation.ID] = reservation
	return reservation, nil
}

func (r *reservationRepoStub) UpdateReservation(ctx context.Context, reservation Reservation) (Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return Reservation{}, r.updateErr
	}
	if _, ok := r.reservations[reservation.ID]; !ok {
		return Reservation{}, persistence.ErrNotFound
	}
	if r.conflictLocked(reservation) {
		return Reservation{}, persistence.ErrOverlap
	}
	r.reservations[reservation.ID] = reservation
	return reservation, nil
}

func (r *reservationRepoStub) CancelReservation(ctx context.Context, id string, cancelledAt time.Time) (Reservation, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.reservations[id]
	if !ok {
		return Reservation{}, false, persistence.ErrNotFound
	}
	if !existing.Active() {
		return existing, false, nil
	}
	existing.Status = scheduler.StatusCancelled
	existing.CancelledAt = &cancelledAt
	existing.UpdatedAt = cancelledAt
	r.reservations[id] = existing
	return existing, true, nil
}

func (r *reservationRepoStub) GetReservation(ctx context.Context, id string) (Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.reservations[id]
	if !ok {
		return Reservation{}, persistence.ErrNotFound
	}
	return existing, nil
}

func (r *reservationRepoStub) ListReservations(ctx context.Context, filter ReservationFilter) ([]Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastFilter = filter

	rooms := map[string]bool{}
	for _, id := range filter.RoomIDs {
		rooms[id] = true
	}
	var out []Reservation
	for _, res := range r.reservations {
		if filter.WorkspaceID != "" && res.WorkspaceID != filter.WorkspaceID {
			continue
		}
		if len(rooms) > 0 && !rooms[res.RoomID] {
			continue
		}
		if !filter.IncludeCancelled && !res.Active() {
			continue
		}
		if filter.From != nil && !res.End.After(*filter.From) {
			continue
		}
		if filter.To != nil && !res.Start.Before(*filter.To) {
			continue
		}
		out = append(out, res)
	}
	// map order is random; the service must sort
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

type eventPublisherStub struct {
	mu     sync.Mutex
	events []ReservationEvent
	err    error
	// hang makes publishes wait for their context to end.
	hang bool
}

func (e *eventPublisherStub) PublishReservationEvent(ctx context.Context, event ReservationEvent) error {
	e.mu.Lock()
	e.events = append(e.events, event)
	hang, err := e.hang, e.err
	e.mu.Unlock()
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (e *eventPublisherStub) types() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev.Type)
	}
	return out
}
