package testfixtures

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/example/room-scheduler/internal/persistence"
	"github.com/example/room-scheduler/internal/persistence/sqlite"
	"github.com/example/room-scheduler/internal/persistence/sqlite/migration"
)

// SQLiteHarness provides repository access backed by a migrated SQLite file in
// a temporary directory.
type SQLiteHarness struct {
	Storage      *sqlite.Storage
	Path         string
	Workspaces   persistence.WorkspaceRepository
	Rooms        persistence.RoomRepository
	Reservations persistence.ReservationRepository

	cleanup func()
}

// Close releases resources associated with the harness.
func (h *SQLiteHarness) Close() {
	if h != nil && h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
}

// NewSQLiteHarness constructs a SQLiteHarness using a temporary file that is
// migrated automatically. Close is registered with tb.Cleanup.
func NewSQLiteHarness(tb testing.TB) *SQLiteHarness {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "scheduler.db")
	storage := OpenSQLite(tb, path)

	harness := &SQLiteHarness{
		Storage:      storage,
		Path:         path,
		Workspaces:   storage.Workspaces,
		Rooms:        storage.Rooms,
		Reservations: storage.Reservations,
		cleanup: func() {
			_ = storage.Close()
		},
	}

	tb.Cleanup(harness.Close)
	return harness
}

// OpenSQLite opens and migrates the database at path. Several storages may be
// opened on the same file to emulate multiple server processes.
func OpenSQLite(tb testing.TB, path string) *sqlite.Storage {
	tb.Helper()

	ctx := context.Background()
	storage, err := sqlite.Open(ctx, migration.TempFileTestSQLiteConfig(path))
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}
	if err := storage.Migrate(ctx, nil); err != nil {
		_ = storage.Close()
		tb.Fatalf("failed to migrate storage: %v", err)
	}
	return storage
}

// Seed stores a workspace, its rooms and the given active members.
func (h *SQLiteHarness) Seed(tb testing.TB, ws WorkspaceFixture, rooms []RoomFixture, members ...persistence.Member) {
	tb.Helper()

	ctx := context.Background()
	if err := h.Workspaces.UpsertWorkspace(ctx, ws.Persistence()); err != nil {
		tb.Fatalf("seed workspace: %v", err)
	}
	for _, m := range members {
		if err := h.Workspaces.UpsertMember(ctx, m); err != nil {
			tb.Fatalf("seed member %s: %v", m.UserID, err)
		}
	}
	for _, room := range rooms {
		if err := h.Rooms.CreateRoom(ctx, room.Persistence()); err != nil {
			tb.Fatalf("seed room %s: %v", room.ID, err)
		}
	}
}
