package sqlite

import (
	"context"
	"time"

	"github.com/example/room-scheduler/internal/persistence"
)

// WorkspaceRepository implements persistence.WorkspaceRepository using SQLite.
type WorkspaceRepository struct {
	pool   *ConnectionPool
	helper *QueryHelper
	mapper *ErrorMapper
	now    func() time.Time
}

// NewWorkspaceRepository creates a new SQLite workspace repository.
func NewWorkspaceRepository(pool *ConnectionPool) *WorkspaceRepository {
	return &WorkspaceRepository{
		pool:   pool,
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
		now:    time.Now,
	}
}

// UpsertWorkspace inserts the workspace or updates its settings. CreatedAt of
// an existing row is preserved.
func (r *WorkspaceRepository) UpsertWorkspace(ctx context.Context, workspace persistence.Workspace) error {
	if workspace.ID == "" || workspace.Timezone == "" {
		return persistence.ErrConstraintViolation
	}
	if workspace.GranularityMinutes == 0 {
		workspace.GranularityMinutes = 15
	}

	now := formatTimestamp(r.now())
	const query = `
		INSERT INTO workspaces (id, name, timezone, window_start_hour, window_end_hour, granularity_minutes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			timezone = excluded.timezone,
			window_start_hour = excluded.window_start_hour,
			window_end_hour = excluded.window_end_hour,
			granularity_minutes = excluded.granularity_minutes,
			updated_at = excluded.updated_at
	`
	err := r.pool.retry.WithRetry(ctx, func() error {
		_, err := r.helper.Exec(ctx, query,
			workspace.ID,
			workspace.Name,
			workspace.Timezone,
			workspace.WindowStartHour,
			workspace.WindowEndHour,
			workspace.GranularityMinutes,
			now,
			now,
		)
		return err
	})
	return r.mapper.MapError(err)
}

// GetWorkspace retrieves a workspace by ID.
func (r *WorkspaceRepository) GetWorkspace(ctx context.Context, id string) (persistence.Workspace, error) {
	if id == "" {
		return persistence.Workspace{}, persistence.ErrNotFound
	}

	const query = `
		SELECT id, name, timezone, window_start_hour, window_end_hour, granularity_minutes, created_at, updated_at
		FROM workspaces
		WHERE id = ?
	`
	var (
		workspace            persistence.Workspace
		createdAt, updatedAt string
	)
	err := r.helper.QueryRow(ctx, query, id).Scan(
		&workspace.ID,
		&workspace.Name,
		&workspace.Timezone,
		&workspace.WindowStartHour,
		&workspace.WindowEndHour,
		&workspace.GranularityMinutes,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return persistence.Workspace{}, r.mapper.MapError(err)
	}

	if workspace.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return persistence.Workspace{}, err
	}
	if workspace.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return persistence.Workspace{}, err
	}
	return workspace, nil
}

// UpsertMember inserts the membership or updates its role and active flag.
func (r *WorkspaceRepository) UpsertMember(ctx context.Context, member persistence.Member) error {
	if member.WorkspaceID == "" || member.UserID == "" {
		return persistence.ErrConstraintViolation
	}
	if member.Role == "" {
		member.Role = "MEMBER"
	}

	now := formatTimestamp(r.now())
	const query = `
		INSERT INTO workspace_members (workspace_id, user_id, role, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(workspace_id, user_id) DO UPDATE SET
			role = excluded.role,
			active = excluded.active,
			updated_at = excluded.updated_at
	`
	err := r.pool.retry.WithRetry(ctx, func() error {
		_, err := r.helper.Exec(ctx, query,
			member.WorkspaceID,
			member.UserID,
			member.Role,
			boolToInt(member.Active),
			now,
			now,
		)
		return err
	})
	return r.mapper.MapError(err)
}

// GetMember retrieves a membership. Missing memberships return ErrNotFound.
func (r *WorkspaceRepository) GetMember(ctx context.Context, workspaceID, userID string) (persistence.Member, error) {
	const query = `
		SELECT workspace_id, user_id, role, active, created_at, updated_at
		FROM workspace_members
		WHERE workspace_id = ? AND user_id = ?
	`
	var (
		member               persistence.Member
		active               int
		createdAt, updatedAt string
	)
	err := r.helper.QueryRow(ctx, query, workspaceID, userID).Scan(
		&member.WorkspaceID,
		&member.UserID,
		&member.Role,
		&active,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return persistence.Member{}, r.mapper.MapError(err)
	}

	member.Active = active == 1
	if member.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return persistence.Member{}, err
	}
	if member.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return persistence.Member{}, err
	}
	return member, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
