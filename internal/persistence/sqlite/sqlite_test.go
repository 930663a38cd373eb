package sqlite

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/example/room-scheduler/internal/persistence"
	"github.com/example/room-scheduler/internal/persistence/sqlite/migration"
)

var baseTime = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

func openTestStorage(t *testing.T, path string) *Storage {
	t.Helper()

	storage, err := Open(context.Background(), migration.TempFileTestSQLiteConfig(path))
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}
	t.Cleanup(func() {
		_ = storage.Close()
	})
	if err := storage.Migrate(context.Background(), nil); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return storage
}

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	storage := openTestStorage(t, filepath.Join(t.TempDir(), "scheduler.db"))
	seedWorkspace(t, storage, "ws-1", "room-a", "room-b")
	return storage
}

func seedWorkspace(t *testing.T, storage *Storage, workspaceID string, roomIDs ...string) {
	t.Helper()
	ctx := context.Background()

	if err := storage.Workspaces.UpsertWorkspace(ctx, persistence.Workspace{
		ID:                 workspaceID,
		Name:               "Workspace " + workspaceID,
		Timezone:           "Asia/Tokyo",
		WindowStartHour:    8,
		WindowEndHour:      20,
		GranularityMinutes: 15,
	}); err != nil {
		t.Fatalf("UpsertWorkspace failed: %v", err)
	}
	for _, id := range roomIDs {
		if err := storage.Rooms.CreateRoom(ctx, persistence.Room{ID: id, WorkspaceID: workspaceID, Name: "Room " + id}); err != nil {
			t.Fatalf("CreateRoom(%s) failed: %v", id, err)
		}
	}
}

func reservationAt(id, roomID string, startOffset, length time.Duration) persistence.Reservation {
	start := baseTime.Add(startOffset)
	return persistence.Reservation{
		ID:          id,
		WorkspaceID: "ws-1",
		RoomID:      roomID,
		Start:       start,
		End:         start.Add(length),
		Subject:     "sync " + id,
		Criticality: "MEDIUM",
		CreatedBy:   "alice",
		CreatedAt:   baseTime,
		UpdatedAt:   baseTime,
	}
}

func TestStorage_MigrateIsIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "scheduler.db")
	storage := openTestStorage(t, path)
	if err := storage.Migrate(context.Background(), nil); err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}
	if err := storage.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
}

func TestWorkspaceRepository(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	storage := newTestStorage(t)

	workspace, err := storage.Workspaces.GetWorkspace(ctx, "ws-1")
	if err != nil {
		t.Fatalf("GetWorkspace failed: %v", err)
	}
	if workspace.Timezone != "Asia/Tokyo" || workspace.WindowEndHour != 20 || workspace.GranularityMinutes != 15 {
		t.Fatalf("unexpected workspace: %#v", workspace)
	}

	workspace.Timezone = "Europe/Berlin"
	if err := storage.Workspaces.UpsertWorkspace(ctx, workspace); err != nil {
		t.Fatalf("UpsertWorkspace (update) failed: %v", err)
	}
	updated, err := storage.Workspaces.GetWorkspace(ctx, "ws-1")
	if err != nil {
		t.Fatalf("GetWorkspace failed: %v", err)
	}
	if updated.Timezone != "Europe/Berlin" || !updated.CreatedAt.Equal(workspace.CreatedAt) {
		t.Fatalf("unexpected workspace after upsert: %#v", updated)
	}

	if _, err := storage.Workspaces.GetWorkspace(ctx, "missing"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	bad := workspace
	bad.WindowStartHour, bad.WindowEndHour = 18, 9
	if err := storage.Workspaces.UpsertWorkspace(ctx, bad); !errors.Is(err, persistence.ErrConstraintViolation) {
		t.Fatalf("expected ErrConstraintViolation for inverted window, got %v", err)
	}

	t.Run("members", func(t *testing.T) {
		member := persistence.Member{WorkspaceID: "ws-1", UserID: "alice", Role: "ADMIN", Active: true}
		if err := storage.Workspaces.UpsertMember(ctx, member); err != nil {
			t.Fatalf("UpsertMember failed: %v", err)
		}
		member.Active = false
		if err := storage.Workspaces.UpsertMember(ctx, member); err != nil {
			t.Fatalf("UpsertMember (deactivate) failed: %v", err)
		}
		got, err := storage.Workspaces.GetMember(ctx, "ws-1", "alice")
		if err != nil {
			t.Fatalf("GetMember failed: %v", err)
		}
		if got.Active || got.Role != "ADMIN" {
			t.Fatalf("unexpected member: %#v", got)
		}
		if _, err := storage.Workspaces.GetMember(ctx, "ws-1", "bob"); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if err := storage.Workspaces.UpsertMember(ctx, persistence.Member{WorkspaceID: "nope", UserID: "bob", Active: true}); !errors.Is(err, persistence.ErrForeignKeyViolation) {
			t.Fatalf("expected ErrForeignKeyViolation, got %v", err)
		}
	})
}

func TestRoomRepository(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	storage := newTestStorage(t)

	rooms, err := storage.Rooms.ListRooms(ctx, "ws-1")
	if err != nil {
		t.Fatalf("ListRooms failed: %v", err)
	}
	if len(rooms) != 2 || rooms[0].ID != "room-a" {
		t.Fatalf("unexpected rooms: %#v", rooms)
	}

	err = storage.Rooms.CreateRoom(ctx, persistence.Room{ID: "room-c", WorkspaceID: "ws-1", Name: "Room room-a"})
	if !errors.Is(err, persistence.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for repeated name, got %v", err)
	}
	err = storage.Rooms.CreateRoom(ctx, persistence.Room{ID: "room-c", WorkspaceID: "missing", Name: "Orphan"})
	if !errors.Is(err, persistence.ErrForeignKeyViolation) {
		t.Fatalf("expected ErrForeignKeyViolation, got %v", err)
	}

	if err := storage.Rooms.UpdateRoom(ctx, persistence.Room{ID: "room-b", Name: "Board room"}); err != nil {
		t.Fatalf("UpdateRoom failed: %v", err)
	}
	room, err := storage.Rooms.GetRoom(ctx, "room-b")
	if err != nil {
		t.Fatalf("GetRoom failed: %v", err)
	}
	if room.Name != "Board room" || room.WorkspaceID != "ws-1" {
		t.Fatalf("unexpected room: %#v", room)
	}
	if err := storage.Rooms.UpdateRoom(ctx, persistence.Room{ID: "missing", Name: "x"}); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := storage.Reservations.CreateReservation(ctx, reservationAt("r1", "room-a", 0, time.Hour)); err != nil {
		t.Fatalf("CreateReservation failed: %v", err)
	}
	if err := storage.Rooms.DeleteRoom(ctx, "room-a"); !errors.Is(err, persistence.ErrForeignKeyViolation) {
		t.Fatalf("expected ErrForeignKeyViolation deleting a booked room, got %v", err)
	}
	if err := storage.Rooms.DeleteRoom(ctx, "room-b"); err != nil {
		t.Fatalf("DeleteRoom failed: %v", err)
	}
	if _, err := storage.Rooms.GetRoom(ctx, "room-b"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestReservationRepository_CreateAndConflicts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	storage := newTestStorage(t)
	repo := storage.Reservations

	// 10:00-11:00 local-agnostic scenario on a UTC base.
	first := reservationAt("r1", "room-a", time.Hour, time.Hour)
	if err := repo.CreateReservation(ctx, first); err != nil {
		t.Fatalf("CreateReservation failed: %v", err)
	}

	got, err := repo.GetReservation(ctx, "r1")
	if err != nil {
		t.Fatalf("GetReservation failed: %v", err)
	}
	if !got.Start.Equal(first.Start) || !got.End.Equal(first.End) || got.Status != "ACTIVE" || got.CancelledAt != nil {
		t.Fatalf("unexpected reservation: %#v", got)
	}

	tests := []struct {
		name    string
		res     persistence.Reservation
		wantErr error
	}{
		{"overlapping start", reservationAt("r2", "room-a", 90*time.Minute, time.Hour), persistence.ErrOverlap},
		{"containing", reservationAt("r3", "room-a", 30*time.Minute, 2*time.Hour), persistence.ErrOverlap},
		{"adjacent after", reservationAt("r4", "room-a", 2*time.Hour, time.Hour), nil},
		{"adjacent before", reservationAt("r5", "room-a", 0, time.Hour), nil},
		{"other room", reservationAt("r6", "room-b", time.Hour, time.Hour), nil},
		{"duplicate id", reservationAt("r1", "room-b", 5*time.Hour, time.Hour), persistence.ErrDuplicate},
		{"unknown room", reservationAt("r7", "room-z", 5*time.Hour, time.Hour), persistence.ErrForeignKeyViolation},
	}
	for _, tt := range tests {
		err := repo.CreateReservation(ctx, tt.res)
		if tt.wantErr == nil && err != nil {
			t.Fatalf("%s: unexpected error %v", tt.name, err)
		}
		if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
			t.Fatalf("%s: expected %v, got %v", tt.name, tt.wantErr, err)
		}
	}

	conflict, err := repo.HasConflict(ctx, "room-a", baseTime.Add(75*time.Minute), baseTime.Add(80*time.Minute), "")
	if err != nil || !conflict {
		t.Fatalf("expected conflict, got %v (err %v)", conflict, err)
	}
	conflict, err = repo.HasConflict(ctx, "room-a", baseTime.Add(75*time.Minute), baseTime.Add(80*time.Minute), "r1")
	if err != nil || conflict {
		t.Fatalf("expected no conflict when excluding r1, got %v (err %v)", conflict, err)
	}

	// Outside a transaction and inside one the check must agree on touching bounds.
	conflict, err = repo.HasConflict(ctx, "room-a", baseTime.Add(3*time.Hour), baseTime.Add(4*time.Hour), "")
	if err != nil || conflict {
		t.Fatalf("expected no conflict after the last booking, got %v (err %v)", conflict, err)
	}
	if err := repo.CreateReservation(ctx, reservationAt("r8", "room-a", 3*time.Hour, time.Hour)); err != nil {
		t.Fatalf("expected touching create to succeed, got %v", err)
	}
	conflict, err = repo.HasConflict(ctx, "room-a", baseTime.Add(3*time.Hour), baseTime.Add(4*time.Hour), "")
	if err != nil || !conflict {
		t.Fatalf("expected conflict with r8, got %v (err %v)", conflict, err)
	}
}

func TestReservationRepository_UpdateAndCancel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	storage := newTestStorage(t)
	repo := storage.Reservations

	for _, res := range []persistence.Reservation{
		reservationAt("r1", "room-a", time.Hour, time.Hour),
		reservationAt("r2", "room-a", 3*time.Hour, time.Hour),
	} {
		if err := repo.CreateReservation(ctx, res); err != nil {
			t.Fatalf("CreateReservation failed: %v", err)
		}
	}

	moved := reservationAt("r1", "room-a", 150*time.Minute, time.Hour)
	if err := repo.UpdateReservation(ctx, moved); !errors.Is(err, persistence.ErrOverlap) {
		t.Fatalf("expected ErrOverlap moving into r2, got %v", err)
	}

	// Shrinking within its own slot does not conflict with itself.
	shrunk := reservationAt("r1", "room-a", time.Hour, 30*time.Minute)
	shrunk.Subject = "shorter"
	if err := repo.UpdateReservation(ctx, shrunk); err != nil {
		t.Fatalf("UpdateReservation failed: %v", err)
	}
	got, _ := repo.GetReservation(ctx, "r1")
	if got.Subject != "shorter" || !got.End.Equal(baseTime.Add(90*time.Minute)) {
		t.Fatalf("unexpected reservation after update: %#v", got)
	}

	cancelAt := baseTime.Add(10 * time.Minute)
	cancelled, changed, err := repo.CancelReservation(ctx, "r2", cancelAt)
	if err != nil || !changed {
		t.Fatalf("CancelReservation: changed=%v err=%v", changed, err)
	}
	if cancelled.Status != "CANCELLED" || cancelled.CancelledAt == nil || !cancelled.CancelledAt.Equal(cancelAt) {
		t.Fatalf("unexpected cancelled reservation: %#v", cancelled)
	}

	again, changed, err := repo.CancelReservation(ctx, "r2", cancelAt.Add(time.Hour))
	if err != nil || changed {
		t.Fatalf("second CancelReservation: changed=%v err=%v", changed, err)
	}
	if !again.CancelledAt.Equal(cancelAt) {
		t.Fatalf("CancelledAt changed on repeated cancel: %v", again.CancelledAt)
	}

	if err := repo.UpdateReservation(ctx, reservationAt("r2", "room-a", 5*time.Hour, time.Hour)); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound updating a cancelled reservation, got %v", err)
	}
	if _, _, err := repo.CancelReservation(ctx, "missing", cancelAt); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// The cancelled slot is free again.
	if err := repo.UpdateReservation(ctx, moved); err != nil {
		t.Fatalf("moving into the freed slot failed: %v", err)
	}
}

func TestReservationRepository_List(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	storage := newTestStorage(t)
	repo := storage.Reservations

	for _, res := range []persistence.Reservation{
		reservationAt("r3", "room-b", time.Hour, time.Hour),
		reservationAt("r1", "room-a", time.Hour, time.Hour),
		reservationAt("r2", "room-a", 4*time.Hour, time.Hour),
		reservationAt("r4", "room-a", 26*time.Hour, time.Hour),
	} {
		if err := repo.CreateReservation(ctx, res); err != nil {
			t.Fatalf("CreateReservation failed: %v", err)
		}
	}
	if _, _, err := repo.CancelReservation(ctx, "r2", baseTime); err != nil {
		t.Fatalf("CancelReservation failed: %v", err)
	}

	from, to := baseTime, baseTime.Add(24*time.Hour)
	tests := []struct {
		name   string
		filter persistence.ReservationFilter
		want   []string
	}{
		{"workspace ordered by start then id", persistence.ReservationFilter{WorkspaceID: "ws-1"}, []string{"r1", "r3", "r4"}},
		{"room filter", persistence.ReservationFilter{RoomIDs: []string{"room-a"}}, []string{"r1", "r4"}},
		{"window", persistence.ReservationFilter{WorkspaceID: "ws-1", From: &from, To: &to}, []string{"r1", "r3"}},
		{"include cancelled", persistence.ReservationFilter{RoomIDs: []string{"room-a"}, IncludeCancelled: true}, []string{"r1", "r2", "r4"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.ListReservations(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListReservations failed: %v", err)
			}
			ids := make([]string, len(got))
			for i, res := range got {
				ids[i] = res.ID
			}
			if fmt.Sprint(ids) != fmt.Sprint(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, ids)
			}
		})
	}
}

func TestReservationRepository_TriggerBackstop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	storage := newTestStorage(t)

	if err := storage.Reservations.CreateReservation(ctx, reservationAt("r1", "room-a", 0, time.Hour)); err != nil {
		t.Fatalf("CreateReservation failed: %v", err)
	}

	// A writer that skips the repository still cannot store an overlap.
	_, err := storage.pool.DB().ExecContext(ctx, `
		INSERT INTO reservations (id, workspace_id, room_id, start_at, end_at, status, created_by, created_at, updated_at)
		VALUES ('raw', 'ws-1', 'room-a', ?, ?, 'ACTIVE', 'mallory', ?, ?)`,
		formatTimestamp(baseTime.Add(30*time.Minute)),
		formatTimestamp(baseTime.Add(90*time.Minute)),
		formatTimestamp(baseTime),
		formatTimestamp(baseTime),
	)
	if !errors.Is(NewErrorMapper().MapError(err), persistence.ErrOverlap) {
		t.Fatalf("expected trigger to reject overlap, got %v", err)
	}
}

func TestReservationRepository_ConcurrentCreates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "shared.db")
	first := openTestStorage(t, path)
	seedWorkspace(t, first, "ws-1", "room-a")
	// A second pool on the same file stands in for another process.
	second := openTestStorage(t, path)

	const writers = 12
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		overlaps  int
		others    []error
	)
	start := make(chan struct{})
	for i := 0; i < writers; i++ {
		storage := first
		if i%2 == 1 {
			storage = second
		}
		res := reservationAt(fmt.Sprintf("race-%02d", i), "room-a", time.Duration(i)*5*time.Minute, time.Hour)

		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := storage.Reservations.CreateReservation(ctx, res)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, persistence.ErrOverlap):
				overlaps++
			default:
				others = append(others, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if len(others) > 0 {
		t.Fatalf("unexpected errors: %v", others)
	}
	if successes != 1 || overlaps != writers-1 {
		t.Fatalf("expected exactly one success, got %d successes and %d overlaps", successes, overlaps)
	}

	active, err := first.Reservations.ListReservations(ctx, persistence.ReservationFilter{RoomIDs: []string{"room-a"}})
	if err != nil {
		t.Fatalf("ListReservations failed: %v", err)
	}
	for i := range active {
		for j := i + 1; j < len(active); j++ {
			a, b := active[i], active[j]
			if a.Start.Before(b.End) && b.Start.Before(a.End) {
				t.Fatalf("stored reservations overlap: %s and %s", a.ID, b.ID)
			}
		}
	}
}

func TestReservationRepository_ConcurrentMixedWrites(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "mixed.db")
	storages := []*Storage{openTestStorage(t, path)}
	seedWorkspace(t, storages[0], "ws-1", "room-a", "room-b")
	// Extra pools on the same file stand in for other processes.
	storages = append(storages, openTestStorage(t, path), openTestStorage(t, path))

	rooms := []string{"room-a", "room-b"}
	const (
		writers = 18
		rounds  = 15
	)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		ids    []string
		counts = map[string]int{}
		others []error
	)
	pickID := func(rng *rand.Rand) (string, bool) {
		mu.Lock()
		defer mu.Unlock()
		if len(ids) == 0 {
			return "", false
		}
		return ids[rng.IntN(len(ids))], true
	}
	record := func(op string, err error) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case err == nil:
			counts[op+":ok"]++
		case errors.Is(err, persistence.ErrOverlap):
			counts[op+":overlap"]++
		case errors.Is(err, persistence.ErrNotFound):
			counts[op+":notfound"]++
		default:
			others = append(others, fmt.Errorf("%s: %w", op, err))
		}
	}
	slot := func(rng *rand.Rand) (time.Duration, time.Duration) {
		return time.Duration(rng.IntN(32)) * 15 * time.Minute, time.Duration(1+rng.IntN(8)) * 15 * time.Minute
	}

	start := make(chan struct{})
	for w := 0; w < writers; w++ {
		storage := storages[w%len(storages)]
		rng := rand.New(rand.NewPCG(uint64(w), 0x5eed))

		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for i := 0; i < rounds; i++ {
				switch op := rng.IntN(10); {
				case op < 5:
					offset, length := slot(rng)
					res := reservationAt(fmt.Sprintf("mix-%02d-%02d", w, i), rooms[rng.IntN(len(rooms))], offset, length)
					err := storage.Reservations.CreateReservation(ctx, res)
					if err == nil {
						mu.Lock()
						ids = append(ids, res.ID)
						mu.Unlock()
					}
					record("create", err)
				case op < 8:
					id, ok := pickID(rng)
					if !ok {
						continue
					}
					current, err := storage.Reservations.GetReservation(ctx, id)
					if err != nil {
						record("update", err)
						continue
					}
					offset, length := slot(rng)
					current.RoomID = rooms[rng.IntN(len(rooms))]
					current.Start = baseTime.Add(offset)
					current.End = current.Start.Add(length)
					current.UpdatedAt = time.Time{}
					record("update", storage.Reservations.UpdateReservation(ctx, current))
				default:
					id, ok := pickID(rng)
					if !ok {
						continue
					}
					_, _, err := storage.Reservations.CancelReservation(ctx, id, baseTime)
					record("cancel", err)
				}
			}
		}()
	}
	close(start)
	wg.Wait()

	if len(others) > 0 {
		t.Fatalf("unexpected errors: %v", others)
	}
	if counts["create:ok"] == 0 {
		t.Fatalf("expected some creates to succeed, got %v", counts)
	}
	t.Logf("outcomes: %v", counts)

	active, err := storages[0].Reservations.ListReservations(ctx, persistence.ReservationFilter{RoomIDs: rooms})
	if err != nil {
		t.Fatalf("ListReservations failed: %v", err)
	}
	byRoom := map[string][]persistence.Reservation{}
	for _, res := range active {
		if res.Status != "ACTIVE" {
			t.Fatalf("listing without cancelled returned %s in status %s", res.ID, res.Status)
		}
		byRoom[res.RoomID] = append(byRoom[res.RoomID], res)
	}
	for room, list := range byRoom {
		for i := range list {
			for j := i + 1; j < len(list); j++ {
				a, b := list[i], list[j]
				if a.Start.Before(b.End) && b.Start.Before(a.End) {
					t.Fatalf("%s: stored reservations overlap: %s [%s, %s) and %s [%s, %s)",
						room, a.ID, a.Start, a.End, b.ID, b.Start, b.End)
				}
			}
		}
	}
}
