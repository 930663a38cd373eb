package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/example/room-scheduler/internal/application"
	"github.com/example/room-scheduler/internal/auth"
	"github.com/example/room-scheduler/internal/client"
	"github.com/example/room-scheduler/internal/config"
	"github.com/example/room-scheduler/internal/localtime"
	"github.com/example/room-scheduler/internal/preview"
	"github.com/example/room-scheduler/internal/testfixtures"
)

const testSecret = "integration-secret"

const workspaceTOML = `
[[workspace]]
id = "tokyo"
name = "Tokyo office"
timezone = "Asia/Tokyo"
window_start_hour = 9
window_end_hour = 18
granularity_minutes = 15

  [[workspace.member]]
  user_id = "admin-1"
  role = "ADMIN"

  [[workspace.member]]
  user_id = "member-1"

  [[workspace.member]]
  user_id = "former-1"
  inactive = true
`

func newTestServer(t *testing.T, dbPath string, seed bool) *httptest.Server {
	t.Helper()

	storage := testfixtures.OpenSQLite(t, dbPath)
	t.Cleanup(func() { _ = storage.Close() })

	validator, err := auth.NewTokenValidator(testSecret)
	if err != nil {
		t.Fatalf("NewTokenValidator returned error: %v", err)
	}
	a, err := newApp(serverDeps{Storage: storage, Sessions: validator})
	if err != nil {
		t.Fatalf("newApp returned error: %v", err)
	}

	if seed {
		path := filepath.Join(t.TempDir(), "workspaces.toml")
		if err := os.WriteFile(path, []byte(workspaceTOML), 0o600); err != nil {
			t.Fatalf("write workspace file: %v", err)
		}
		file, err := config.LoadWorkspaceFile(path)
		if err != nil {
			t.Fatalf("LoadWorkspaceFile returned error: %v", err)
		}
		if err := seedWorkspaces(context.Background(), a.workspaces, file); err != nil {
			t.Fatalf("seedWorkspaces returned error: %v", err)
		}
	}

	server := httptest.NewServer(a.handler)
	t.Cleanup(server.Close)
	return server
}

func tokenFor(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.IssueToken(testSecret, auth.IssueParams{UserID: userID})
	if err != nil {
		t.Fatalf("IssueToken returned error: %v", err)
	}
	return token
}

func call(t *testing.T, server *httptest.Server, token, method, path string, body any) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, server.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			t.Fatalf("%s %s: decode response: %v", method, path, err)
		}
	}
	return resp.StatusCode, decoded
}

func createRoom(t *testing.T, server *httptest.Server, name string) string {
	t.Helper()
	status, body := call(t, server, tokenFor(t, "admin-1"), http.MethodPost, "/rooms", map[string]any{
		"workspaceId": "tokyo",
		"name":        name,
	})
	if status != http.StatusCreated {
		t.Fatalf("create room: expected 201, got %d (%v)", status, body)
	}
	return body["room"].(map[string]any)["id"].(string)
}

func reservationBody(roomID, start, end string) map[string]any {
	return map[string]any{"roomId": roomID, "startAt": start, "endAt": end, "subject": "Planning"}
}

func TestServer_ReservationLifecycle(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, filepath.Join(t.TempDir(), "scheduler.db"), true)
	roomID := createRoom(t, server, "Fuji")
	member := tokenFor(t, "member-1")

	t.Run("health is public", func(t *testing.T) {
		status, body := call(t, server, "", http.MethodGet, "/healthz", nil)
		if status != http.StatusOK || body["status"] != "ok" {
			t.Fatalf("unexpected health answer %d %v", status, body)
		}
	})

	t.Run("unauthenticated and inactive callers are refused", func(t *testing.T) {
		if status, _ := call(t, server, "", http.MethodGet, "/reservations?workspaceId=tokyo", nil); status != http.StatusUnauthorized {
			t.Fatalf("expected 401 without token, got %d", status)
		}
		status, _ := call(t, server, tokenFor(t, "former-1"), http.MethodPost, "/reservations",
			reservationBody(roomID, "2025-03-14T05:00:00Z", "2025-03-14T06:00:00Z"))
		if status != http.StatusUnauthorized {
			t.Fatalf("expected 401 for inactive member, got %d", status)
		}
	})

	status, body := call(t, server, member, http.MethodPost, "/reservations",
		reservationBody(roomID, "2025-03-14T10:00:00+09:00", "2025-03-14T11:00:00+09:00"))
	if status != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d (%v)", status, body)
	}
	created := body["reservation"].(map[string]any)
	reservationID := created["id"].(string)
	if created["startAt"] != "2025-03-14T01:00:00Z" || created["status"] != "ACTIVE" || created["criticality"] != "MEDIUM" {
		t.Fatalf("unexpected reservation %v", created)
	}

	t.Run("overlap is refused and touching intervals are allowed", func(t *testing.T) {
		status, body := call(t, server, member, http.MethodPost, "/reservations",
			reservationBody(roomID, "2025-03-14T01:30:00Z", "2025-03-14T02:30:00Z"))
		if status != http.StatusConflict || body["error_code"] != "BOOKING_OVERLAP" {
			t.Fatalf("expected 409 BOOKING_OVERLAP, got %d %v", status, body)
		}

		status, body = call(t, server, member, http.MethodPost, "/reservations",
			reservationBody(roomID, "2025-03-14T02:00:00Z", "2025-03-14T03:00:00Z"))
		if status != http.StatusCreated {
			t.Fatalf("expected adjacent booking to succeed, got %d %v", status, body)
		}
	})

	t.Run("inverted interval is a time range error", func(t *testing.T) {
		status, body := call(t, server, member, http.MethodPost, "/reservations",
			reservationBody(roomID, "2025-03-14T05:00:00Z", "2025-03-14T04:00:00Z"))
		if status != http.StatusBadRequest || body["error_code"] != "INVALID_TIME_RANGE" {
			t.Fatalf("expected 400 INVALID_TIME_RANGE, got %d %v", status, body)
		}
	})

	t.Run("moving onto another reservation is refused", func(t *testing.T) {
		status, body := call(t, server, member, http.MethodPatch, "/reservations/"+reservationID, map[string]any{
			"startAt": "2025-03-14T01:30:00Z",
			"endAt":   "2025-03-14T02:30:00Z",
		})
		if status != http.StatusConflict {
			t.Fatalf("expected 409, got %d %v", status, body)
		}
	})

	t.Run("availability reflects the busy slots", func(t *testing.T) {
		status, body := call(t, server, member, http.MethodGet, "/rooms/"+roomID+"/availability?date=2025-03-14", nil)
		if status != http.StatusOK {
			t.Fatalf("expected 200, got %d %v", status, body)
		}
		free := body["free"].([]any)
		if len(free) != 2 {
			t.Fatalf("expected two free slots, got %v", free)
		}
		first := free[0].(map[string]any)
		if first["startAt"] != "2025-03-14T00:00:00Z" || first["endAt"] != "2025-03-14T01:00:00Z" {
			t.Fatalf("unexpected first slot %v", first)
		}
	})

	t.Run("cancel is idempotent and frees the slot", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			status, body := call(t, server, member, http.MethodPost, "/reservations/"+reservationID+"/cancel", nil)
			if status != http.StatusOK || body["reservation"].(map[string]any)["status"] != "CANCELLED" {
				t.Fatalf("cancel %d: unexpected answer %d %v", i, status, body)
			}
		}
		status, body := call(t, server, member, http.MethodPost, "/reservations",
			reservationBody(roomID, "2025-03-14T01:00:00Z", "2025-03-14T02:00:00Z"))
		if status != http.StatusCreated {
			t.Fatalf("expected freed slot to be bookable, got %d %v", status, body)
		}
	})

	t.Run("listing hides cancelled reservations by default", func(t *testing.T) {
		_, body := call(t, server, member, http.MethodGet, "/reservations?workspaceId=tokyo", nil)
		active := body["reservations"].([]any)
		_, body = call(t, server, member, http.MethodGet, "/reservations?workspaceId=tokyo&includeCancelled=true", nil)
		all := body["reservations"].([]any)
		if len(active) != 2 || len(all) != 3 {
			t.Fatalf("expected 2 active of 3 reservations, got %d and %d", len(active), len(all))
		}
	})
}

func TestServer_ConcurrentCreatesAcrossProcesses(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "scheduler.db")
	first := newTestServer(t, dbPath, true)
	second := newTestServer(t, dbPath, false)
	roomID := createRoom(t, first, "Asama")

	const attempts = 8
	statuses := make(chan int, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		server := first
		if i%2 == 1 {
			server = second
		}
		wg.Add(1)
		go func(server *httptest.Server, user string) {
			defer wg.Done()
			payload, _ := json.Marshal(reservationBody(roomID, "2025-03-14T03:00:00Z", "2025-03-14T04:00:00Z"))
			req, _ := http.NewRequest(http.MethodPost, server.URL+"/reservations", bytes.NewReader(payload))
			req.Header.Set("Authorization", "Bearer "+user)
			req.Header.Set("Content-Type", "application/json")
			resp, err := server.Client().Do(req)
			if err != nil {
				statuses <- 0
				return
			}
			resp.Body.Close()
			statuses <- resp.StatusCode
		}(server, tokenFor(t, "member-1"))
	}
	wg.Wait()
	close(statuses)

	counts := map[int]int{}
	for status := range statuses {
		counts[status]++
	}
	if counts[http.StatusCreated] != 1 || counts[http.StatusConflict] != attempts-1 {
		t.Fatalf("expected exactly one winner, got %v", counts)
	}
}

func TestServer_PreviewCommitsThroughClient(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, filepath.Join(t.TempDir(), "scheduler.db"), true)
	fuji := createRoom(t, server, "Fuji")
	asama := createRoom(t, server, "Asama")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	api := client.New(server.URL, tokenFor(t, "member-1"))
	workspace, err := api.GetWorkspace(ctx, "tokyo")
	if err != nil {
		t.Fatalf("GetWorkspace returned error: %v", err)
	}
	converter, err := localtime.NewConverter(workspace.Timezone)
	if err != nil {
		t.Fatalf("NewConverter returned error: %v", err)
	}

	start, _ := converter.ToInstant("2025-03-14", "10:00")
	end, _ := converter.ToInstant("2025-03-14", "11:00")
	booked, err := api.CreateReservation(ctx, application.ReservationInput{RoomID: fuji, Start: start, End: end, Subject: "Standup"})
	if err != nil {
		t.Fatalf("CreateReservation returned error: %v", err)
	}
	otherStart, _ := converter.ToInstant("2025-03-14", "12:00")
	otherEnd, _ := converter.ToInstant("2025-03-14", "13:00")
	if _, err := api.CreateReservation(ctx, application.ReservationInput{RoomID: fuji, Start: otherStart, End: otherEnd, Subject: "Review"}); err != nil {
		t.Fatalf("CreateReservation returned error: %v", err)
	}

	engine, err := preview.NewEngine(preview.Config{
		WorkspaceID: workspace.ID,
		Date:        "2025-03-14",
		Converter:   converter,
		Window:      workspace.Window,
		Granularity: workspace.Granularity(),
		Columns: []preview.Column{
			{RoomID: fuji, Left: 0, Right: 100},
			{RoomID: asama, Left: 100, Right: 200},
		},
	}, api)
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}
	listing, err := api.ListReservations(ctx, client.ListParams{WorkspaceID: "tokyo"})
	if err != nil {
		t.Fatalf("ListReservations returned error: %v", err)
	}
	if err := engine.Load(listing); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	// 10:00 sits 60 px below the 09:00 window start.
	if _, err := engine.Begin(preview.KindDrag, booked.ID, preview.Point{X: 50, Y: 60}); err != nil {
		t.Fatalf("Begin returned error: %v", err)
	}
	rejected, err := engine.Release(ctx, preview.Point{X: 50, Y: 150})
	if !errors.Is(err, preview.ErrLocalConflict) || rejected.Outcome != preview.OutcomeRejected {
		t.Fatalf("expected local rejection, got %v %v", rejected.Outcome, err)
	}

	if _, err := engine.Begin(preview.KindDrag, booked.ID, preview.Point{X: 50, Y: 60}); err != nil {
		t.Fatalf("Begin returned error: %v", err)
	}
	result, err := engine.Release(ctx, preview.Point{X: 150, Y: 150})
	if err != nil || result.Outcome != preview.OutcomeCommitted {
		t.Fatalf("expected committed move, got %v %v", result.Outcome, err)
	}
	moved, err := result.Commit.Wait(ctx)
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	wantStart, _ := converter.ToInstant("2025-03-14", "11:30")
	if moved.RoomID != asama || !moved.Start.Equal(wantStart) || !moved.End.Equal(wantStart.Add(time.Hour)) {
		t.Fatalf("unexpected moved reservation %+v", moved)
	}

	stored, err := api.ListReservations(ctx, client.ListParams{WorkspaceID: "tokyo", RoomIDs: []string{asama}})
	if err != nil {
		t.Fatalf("ListReservations returned error: %v", err)
	}
	if len(stored) != 1 || stored[0].ID != booked.ID {
		t.Fatalf("expected the move to be persisted, got %+v", stored)
	}
}

func TestWorkspaceFromSeed_Defaults(t *testing.T) {
	t.Parallel()

	workspace, members := workspaceFromSeed(config.WorkspaceSeed{
		ID:      "berlin",
		Members: []config.MemberSeed{{UserID: "u1"}, {UserID: "u2", Role: "ADMIN", Inactive: true}},
	})
	if workspace.Name != "berlin" || workspace.Timezone != "UTC" || workspace.Window != localtime.DefaultWindow {
		t.Fatalf("unexpected defaults %+v", workspace)
	}
	if len(members) != 2 || !members[0].Active || members[1].Active || members[1].WorkspaceID != "berlin" {
		t.Fatalf("unexpected members %+v", members)
	}
}

func TestRunTokenCommand(t *testing.T) {
	t.Setenv("SCHEDULER_JWT_SECRET", testSecret)
	t.Setenv("SCHEDULER_JWT_ISSUER", "")

	var stdout, stderr bytes.Buffer
	if code := runTokenCommand([]string{"-user", "admin-1", "-admin", "-ttl", "10m"}, &stdout, &stderr); code != 0 {
		t.Fatalf("expected exit code 0, got %d (%s)", code, stderr.String())
	}

	validator, err := auth.NewTokenValidator(testSecret)
	if err != nil {
		t.Fatalf("NewTokenValidator returned error: %v", err)
	}
	principal, err := validator.ValidateSession(context.Background(), strings.TrimSpace(stdout.String()))
	if err != nil {
		t.Fatalf("issued token rejected: %v", err)
	}
	if principal.UserID != "admin-1" || !principal.IsAdmin {
		t.Fatalf("unexpected principal %+v", principal)
	}

	stdout.Reset()
	stderr.Reset()
	if code := runTokenCommand(nil, &stdout, &stderr); code != 1 || !strings.Contains(stderr.String(), "user id is required") {
		t.Fatalf("expected failure without -user, got %d %q", code, stderr.String())
	}
}

func TestNewApp_RequiresStorageAndSessions(t *testing.T) {
	t.Parallel()

	if _, err := newApp(serverDeps{}); err == nil {
		t.Fatal("expected error without storage")
	}
	storage := testfixtures.NewSQLiteHarness(t).Storage
	if _, err := newApp(serverDeps{Storage: storage}); err == nil {
		t.Fatal("expected error without session validator")
	}
}
