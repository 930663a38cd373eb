package application

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/example/room-scheduler/internal/localtime"
	"github.com/example/room-scheduler/internal/persistence"
	"github.com/example/room-scheduler/internal/scheduler"
)

var serviceBase = time.Date(2025, time.March, 14, 0, 0, 0, 0, time.UTC)

func at(hour, minute int) time.Time {
	return serviceBase.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

type reservationFixture struct {
	repo    *reservationRepoStub
	members *membershipStub
	events  *eventPublisherStub
	svc     *ReservationService
}

func newReservationFixture(t *testing.T, existing ...Reservation) *reservationFixture {
	t.Helper()

	rooms := &roomLookupStub{rooms: map[string]Room{
		"room-a": {ID: "room-a", WorkspaceID: "ws-1", Name: "A"},
		"room-b": {ID: "room-b", WorkspaceID: "ws-1", Name: "B"},
		"room-x": {ID: "room-x", WorkspaceID: "ws-2", Name: "X"},
	}}
	workspaces := &workspaceDirectoryStub{workspaces: map[string]Workspace{
		"ws-1": {ID: "ws-1", Name: "Tokyo", Timezone: "Asia/Tokyo", Window: localtime.Window{StartHour: 9, EndHour: 18}, GranularityMinutes: 30},
	}}
	members := newMembershipStub().
		withMember("ws-1", "alice").
		withMember("ws-1", "bob").
		withAdmin("ws-1", "carol")

	var seq int
	ids := func() string {
		seq++
		return fmt.Sprintf("res-%d", seq)
	}
	fx := &reservationFixture{
		repo:    newReservationRepoStub(existing...),
		members: members,
		events:  &eventPublisherStub{},
	}
	fx.svc = NewReservationService(fx.repo, rooms, workspaces, members, ids,
		func() time.Time { return serviceBase },
		WithEventPublisher(fx.events),
	)
	return fx
}

func activeReservation(id, roomID, createdBy string, start, end time.Time) Reservation {
	return Reservation{
		ID:          id,
		WorkspaceID: "ws-1",
		RoomID:      roomID,
		Start:       start,
		End:         end,
		Status:      scheduler.StatusActive,
		Subject:     "Existing",
		Criticality: CriticalityMedium,
		CreatedBy:   createdBy,
	}
}

func createInput(roomID string, start, end time.Time) ReservationInput {
	return ReservationInput{RoomID: roomID, Start: start, End: end, Subject: "Standup"}
}

func TestReservationService_CreateReservation_AdjacencyScenario(t *testing.T) {
	t.Parallel()

	fx := newReservationFixture(t)
	ctx := context.Background()
	alice := Principal{UserID: "alice"}

	first, err := fx.svc.CreateReservation(ctx, CreateReservationParams{Principal: alice, Input: createInput("room-a", at(10, 0), at(11, 0))})
	if err != nil {
		t.Fatalf("first create: %v", err)
	}

	_, err = fx.svc.CreateReservation(ctx, CreateReservationParams{Principal: alice, Input: createInput("room-a", at(10, 30), at(11, 30))})
	if !errors.Is(err, ErrBookingOverlap) {
		t.Fatalf("expected ErrBookingOverlap for 10:30-11:30, got %v", err)
	}

	adjacent, err := fx.svc.CreateReservation(ctx, CreateReservationParams{Principal: alice, Input: createInput("room-a", at(11, 0), at(12, 0))})
	if err != nil {
		t.Fatalf("expected adjacent reservation to succeed, got %v", err)
	}

	other, err := fx.svc.CreateReservation(ctx, CreateReservationParams{Principal: alice, Input: createInput("room-b", at(10, 30), at(11, 30))})
	if err != nil {
		t.Fatalf("expected other room to be independent, got %v", err)
	}

	if first.Criticality != CriticalityMedium {
		t.Fatalf("expected default criticality MEDIUM, got %q", first.Criticality)
	}
	if first.CreatedBy != "alice" || first.WorkspaceID != "ws-1" || first.Status != scheduler.StatusActive {
		t.Fatalf("unexpected stored reservation %+v", first)
	}
	if adjacent.ID == first.ID || other.ID == adjacent.ID {
		t.Fatalf("expected distinct identifiers, got %q %q %q", first.ID, adjacent.ID, other.ID)
	}

	want := []string{EventReservationCreated, EventReservationCreated, EventReservationCreated}
	if got := fx.events.types(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
}

func TestReservationService_CreateReservation_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		principal Principal
		input     ReservationInput
		wantErr   error
		wantField string
	}{
		{
			name:      "unknown room",
			principal: Principal{UserID: "alice"},
			input:     createInput("room-missing", at(10, 0), at(11, 0)),
			wantField: "roomId",
		},
		{
			name:      "workspace mismatch",
			principal: Principal{UserID: "alice"},
			input:     ReservationInput{WorkspaceID: "ws-2", RoomID: "room-a", Start: at(10, 0), End: at(11, 0), Subject: "x"},
			wantField: "workspaceId",
		},
		{
			name:      "non member",
			principal: Principal{UserID: "mallory"},
			input:     createInput("room-a", at(10, 0), at(11, 0)),
			wantErr:   ErrUnauthorized,
		},
		{
			name:      "anonymous",
			principal: Principal{},
			input:     createInput("room-a", at(10, 0), at(11, 0)),
			wantErr:   ErrUnauthorized,
		},
		{
			name:      "member of another workspace",
			principal: Principal{UserID: "alice"},
			input:     createInput("room-x", at(10, 0), at(11, 0)),
			wantErr:   ErrUnauthorized,
		},
		{
			name:      "empty interval",
			principal: Principal{UserID: "alice"},
			input:     createInput("room-a", at(10, 0), at(10, 0)),
			wantErr:   ErrInvalidTimeRange,
		},
		{
			name:      "inverted interval",
			principal: Principal{UserID: "alice"},
			input:     createInput("room-a", at(11, 0), at(10, 0)),
			wantErr:   ErrInvalidTimeRange,
		},
		{
			name:      "implausible year",
			principal: Principal{UserID: "alice"},
			input:     createInput("room-a", time.Date(1999, 1, 1, 10, 0, 0, 0, time.UTC), time.Date(1999, 1, 1, 11, 0, 0, 0, time.UTC)),
			wantErr:   ErrInvalidTimeRange,
		},
		{
			name:      "too long",
			principal: Principal{UserID: "alice"},
			input:     createInput("room-a", at(0, 0), at(13, 0)),
			wantErr:   ErrInvalidTimeRange,
		},
		{
			name:      "missing subject",
			principal: Principal{UserID: "alice"},
			input:     ReservationInput{RoomID: "room-a", Start: at(10, 0), End: at(11, 0), Subject: "   "},
			wantField: "subject",
		},
		{
			name:      "long subject",
			principal: Principal{UserID: "alice"},
			input:     ReservationInput{RoomID: "room-a", Start: at(10, 0), End: at(11, 0), Subject: strings.Repeat("s", maxSubjectLength+1)},
			wantField: "subject",
		},
		{
			name:      "unknown criticality",
			principal: Principal{UserID: "alice"},
			input:     ReservationInput{RoomID: "room-a", Start: at(10, 0), End: at(11, 0), Subject: "x", Criticality: "URGENT"},
			wantField: "criticality",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fx := newReservationFixture(t)
			_, err := fx.svc.CreateReservation(context.Background(), CreateReservationParams{Principal: tt.principal, Input: tt.input})

			if tt.wantField != "" {
				var vErr *ValidationError
				if !errors.As(err, &vErr) {
					t.Fatalf("expected ValidationError, got %v", err)
				}
				if _, ok := vErr.FieldErrors[tt.wantField]; !ok {
					t.Fatalf("expected %s field error, got %v", tt.wantField, vErr.FieldErrors)
				}
			} else if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}

			if len(fx.repo.reservations) != 0 {
				t.Fatalf("expected nothing stored, got %v", fx.repo.reservations)
			}
			if len(fx.events.types()) != 0 {
				t.Fatalf("expected no events, got %v", fx.events.types())
			}
		})
	}
}

func TestReservationService_CreateReservation_MapsStoreFailures(t *testing.T) {
	t.Parallel()

	fx := newReservationFixture(t)
	fx.repo.createErr = fmt.Errorf("busy: %w", persistence.ErrUnavailable)

	_, err := fx.svc.CreateReservation(context.Background(), CreateReservationParams{
		Principal: Principal{UserID: "alice"},
		Input:     createInput("room-a", at(10, 0), at(11, 0)),
	})
	if !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("expected ErrServiceUnavailable, got %v", err)
	}
}

func TestReservationService_CreateReservation_PublishFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	fx := newReservationFixture(t)
	fx.events.err = errors.New("broker down")

	created, err := fx.svc.CreateReservation(context.Background(), CreateReservationParams{
		Principal: Principal{UserID: "alice"},
		Input:     createInput("room-a", at(10, 0), at(11, 0)),
	})
	if err != nil {
		t.Fatalf("expected success despite publish failure, got %v", err)
	}
	if _, ok := fx.repo.reservations[created.ID]; !ok {
		t.Fatalf("expected reservation to be stored")
	}
}

func TestReservationService_CreateReservation_UnresponsiveBrokerIsBounded(t *testing.T) {
	t.Parallel()

	fx := newReservationFixture(t)
	fx.events.hang = true

	began := time.Now()
	created, err := fx.svc.CreateReservation(context.Background(), CreateReservationParams{
		Principal: Principal{UserID: "alice"},
		Input:     createInput("room-a", at(10, 0), at(11, 0)),
	})
	if err != nil {
		t.Fatalf("expected success despite a hanging broker, got %v", err)
	}
	if elapsed := time.Since(began); elapsed > eventPublishTimeout+time.Second {
		t.Fatalf("create waited %v on the broker", elapsed)
	}
	if _, ok := fx.repo.reservations[created.ID]; !ok {
		t.Fatalf("expected reservation to be stored")
	}
}

func TestReservationService_UpdateReservation(t *testing.T) {
	t.Parallel()

	t.Run("moves within the room excluding itself", func(t *testing.T) {
		t.Parallel()

		fx := newReservationFixture(t, activeReservation("r1", "room-a", "alice", at(10, 0), at(11, 0)))
		start, end := at(10, 30), at(11, 30)

		updated, err := fx.svc.UpdateReservation(context.Background(), UpdateReservationParams{
			Principal:     Principal{UserID: "alice"},
			ReservationID: "r1",
			Input:         ReservationPatch{Start: &start, End: &end},
		})
		if err != nil {
			t.Fatalf("expected self-overlapping move to succeed, got %v", err)
		}
		if !updated.Start.Equal(start) || !updated.End.Equal(end) {
			t.Fatalf("unexpected interval %v", updated.Interval())
		}
		if !reflect.DeepEqual(fx.events.types(), []string{EventReservationUpdated}) {
			t.Fatalf("expected update event, got %v", fx.events.types())
		}
	})

	t.Run("rejects overlap with another reservation", func(t *testing.T) {
		t.Parallel()

		fx := newReservationFixture(t,
			activeReservation("r1", "room-a", "alice", at(10, 0), at(11, 0)),
			activeReservation("r2", "room-b", "alice", at(10, 0), at(11, 0)),
		)
		room := "room-a"

		_, err := fx.svc.UpdateReservation(context.Background(), UpdateReservationParams{
			Principal:     Principal{UserID: "alice"},
			ReservationID: "r2",
			Input:         ReservationPatch{RoomID: &room},
		})
		if !errors.Is(err, ErrBookingOverlap) {
			t.Fatalf("expected ErrBookingOverlap, got %v", err)
		}
		if fx.repo.reservations["r2"].RoomID != "room-b" {
			t.Fatalf("expected stored reservation unchanged")
		}
	})

	t.Run("rejects target room in another workspace", func(t *testing.T) {
		t.Parallel()

		fx := newReservationFixture(t, activeReservation("r1", "room-a", "alice", at(10, 0), at(11, 0)))
		room := "room-x"

		_, err := fx.svc.UpdateReservation(context.Background(), UpdateReservationParams{
			Principal:     Principal{UserID: "alice"},
			ReservationID: "r1",
			Input:         ReservationPatch{RoomID: &room},
		})
		var vErr *ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	})

	t.Run("only creator or workspace admin", func(t *testing.T) {
		t.Parallel()

		fx := newReservationFixture(t, activeReservation("r1", "room-a", "alice", at(10, 0), at(11, 0)))
		subject := "Renamed"

		_, err := fx.svc.UpdateReservation(context.Background(), UpdateReservationParams{
			Principal:     Principal{UserID: "bob"},
			ReservationID: "r1",
			Input:         ReservationPatch{Subject: &subject},
		})
		if !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized for other member, got %v", err)
		}

		updated, err := fx.svc.UpdateReservation(context.Background(), UpdateReservationParams{
			Principal:     Principal{UserID: "carol"},
			ReservationID: "r1",
			Input:         ReservationPatch{Subject: &subject},
		})
		if err != nil {
			t.Fatalf("expected workspace admin to succeed, got %v", err)
		}
		if updated.Subject != "Renamed" {
			t.Fatalf("expected subject to change, got %q", updated.Subject)
		}
	})

	t.Run("cancelled reservations are not found", func(t *testing.T) {
		t.Parallel()

		cancelled := activeReservation("r1", "room-a", "alice", at(10, 0), at(11, 0))
		cancelled.Status = scheduler.StatusCancelled
		fx := newReservationFixture(t, cancelled)
		subject := "x"

		_, err := fx.svc.UpdateReservation(context.Background(), UpdateReservationParams{
			Principal:     Principal{UserID: "alice"},
			ReservationID: "r1",
			Input:         ReservationPatch{Subject: &subject},
		})
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("missing reservation", func(t *testing.T) {
		t.Parallel()

		fx := newReservationFixture(t)
		_, err := fx.svc.UpdateReservation(context.Background(), UpdateReservationParams{
			Principal:     Principal{UserID: "alice"},
			ReservationID: "nope",
		})
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("inverted merge result", func(t *testing.T) {
		t.Parallel()

		fx := newReservationFixture(t, activeReservation("r1", "room-a", "alice", at(10, 0), at(11, 0)))
		end := at(9, 0)

		_, err := fx.svc.UpdateReservation(context.Background(), UpdateReservationParams{
			Principal:     Principal{UserID: "alice"},
			ReservationID: "r1",
			Input:         ReservationPatch{End: &end},
		})
		if !errors.Is(err, ErrInvalidTimeRange) {
			t.Fatalf("expected ErrInvalidTimeRange, got %v", err)
		}
	})
}

func TestReservationService_CancelReservation(t *testing.T) {
	t.Parallel()

	fx := newReservationFixture(t, activeReservation("r1", "room-a", "alice", at(10, 0), at(11, 0)))
	ctx := context.Background()

	if _, err := fx.svc.CancelReservation(ctx, Principal{UserID: "bob"}, "r1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for other member, got %v", err)
	}

	first, err := fx.svc.CancelReservation(ctx, Principal{UserID: "alice"}, "r1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if first.Status != scheduler.StatusCancelled || first.CancelledAt == nil {
		t.Fatalf("expected cancelled reservation, got %+v", first)
	}

	second, err := fx.svc.CancelReservation(ctx, Principal{UserID: "alice"}, "r1")
	if err != nil {
		t.Fatalf("expected idempotent cancel, got %v", err)
	}
	if !second.CancelledAt.Equal(*first.CancelledAt) {
		t.Fatalf("expected cancel timestamp unchanged")
	}

	if got := fx.events.types(); !reflect.DeepEqual(got, []string{EventReservationCancelled}) {
		t.Fatalf("expected a single cancel event, got %v", got)
	}

	if _, err := fx.svc.CancelReservation(ctx, Principal{UserID: "alice"}, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// the freed slot can be booked again
	if _, err := fx.svc.CreateReservation(ctx, CreateReservationParams{
		Principal: Principal{UserID: "bob"},
		Input:     createInput("room-a", at(10, 0), at(11, 0)),
	}); err != nil {
		t.Fatalf("expected rebooking after cancel, got %v", err)
	}
}

func TestReservationService_ListReservations(t *testing.T) {
	t.Parallel()

	cancelled := activeReservation("r4", "room-a", "alice", at(8, 0), at(9, 0))
	cancelled.Status = scheduler.StatusCancelled
	fx := newReservationFixture(t,
		activeReservation("r2", "room-a", "alice", at(10, 0), at(11, 0)),
		activeReservation("r1", "room-b", "bob", at(10, 0), at(11, 0)),
		activeReservation("r3", "room-a", "bob", at(9, 0), at(10, 0)),
		cancelled,
	)
	ctx := context.Background()
	alice := Principal{UserID: "alice"}

	got, err := fx.svc.ListReservations(ctx, ListReservationsParams{Principal: alice, WorkspaceID: "ws-1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if ids := reservationIDs(got); !reflect.DeepEqual(ids, []string{"r3", "r1", "r2"}) {
		t.Fatalf("expected ordering by start then id, got %v", ids)
	}

	got, err = fx.svc.ListReservations(ctx, ListReservationsParams{Principal: alice, RoomIDs: []string{"room-a"}, IncludeCancelled: true})
	if err != nil {
		t.Fatalf("list by room: %v", err)
	}
	if ids := reservationIDs(got); !reflect.DeepEqual(ids, []string{"r4", "r3", "r2"}) {
		t.Fatalf("expected room-a reservations including cancelled, got %v", ids)
	}
	if fx.repo.lastFilter.WorkspaceID != "ws-1" {
		t.Fatalf("expected workspace derived from room, got %q", fx.repo.lastFilter.WorkspaceID)
	}

	from, to := at(11, 0), at(10, 0)
	if _, err := fx.svc.ListReservations(ctx, ListReservationsParams{Principal: alice, WorkspaceID: "ws-1", From: &from, To: &to}); !errors.Is(err, ErrInvalidTimeRange) {
		t.Fatalf("expected ErrInvalidTimeRange, got %v", err)
	}

	if _, err := fx.svc.ListReservations(ctx, ListReservationsParams{Principal: Principal{UserID: "mallory"}, WorkspaceID: "ws-1"}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	var vErr *ValidationError
	if _, err := fx.svc.ListReservations(ctx, ListReservationsParams{Principal: alice}); !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError without workspace or room, got %v", err)
	}
}

func TestReservationService_GetReservation(t *testing.T) {
	t.Parallel()

	fx := newReservationFixture(t, activeReservation("r1", "room-a", "alice", at(10, 0), at(11, 0)))

	got, err := fx.svc.GetReservation(context.Background(), Principal{UserID: "bob"}, "r1")
	if err != nil {
		t.Fatalf("expected member to read reservation, got %v", err)
	}
	if got.ID != "r1" {
		t.Fatalf("unexpected reservation %+v", got)
	}

	if _, err := fx.svc.GetReservation(context.Background(), Principal{UserID: "mallory"}, "r1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestReservationService_Availability(t *testing.T) {
	t.Parallel()

	// 2025-03-14 in Tokyo: window 09:00-18:00 JST is 00:00-09:00 UTC.
	fx := newReservationFixture(t,
		activeReservation("r1", "room-a", "alice", at(1, 0), at(2, 15)),
		activeReservation("r2", "room-a", "alice", at(5, 0), at(9, 30)),
		activeReservation("r3", "room-b", "alice", at(3, 0), at(4, 0)),
	)

	got, err := fx.svc.Availability(context.Background(), AvailabilityParams{
		Principal: Principal{UserID: "alice"},
		RoomID:    "room-a",
		Date:      "2025-03-14",
	})
	if err != nil {
		t.Fatalf("availability: %v", err)
	}

	if !got.Window.Start.Equal(at(0, 0)) || !got.Window.End.Equal(at(9, 0)) {
		t.Fatalf("unexpected window %v", got.Window)
	}
	want := []scheduler.Interval{
		{Start: at(0, 0), End: at(1, 0)},
		{Start: at(2, 30), End: at(5, 0)},
	}
	if len(got.Free) != len(want) {
		t.Fatalf("expected %d free slots, got %v", len(want), got.Free)
	}
	for i := range want {
		if !got.Free[i].Equal(want[i]) {
			t.Fatalf("slot %d: expected %v, got %v", i, want[i], got.Free[i])
		}
	}

	var vErr *ValidationError
	if _, err := fx.svc.Availability(context.Background(), AvailabilityParams{Principal: Principal{UserID: "alice"}, RoomID: "room-a", Date: "14/03/2025"}); !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError for malformed date, got %v", err)
	}
}

func TestNilReservationService(t *testing.T) {
	t.Parallel()

	var svc *ReservationService
	if _, err := svc.CreateReservation(context.Background(), CreateReservationParams{}); err == nil {
		t.Fatalf("expected error from nil service")
	}
}

func reservationIDs(reservations []Reservation) []string {
	ids := make([]string, 0, len(reservations))
	for _, r := range reservations {
		ids = append(ids, r.ID)
	}
	return ids
}
