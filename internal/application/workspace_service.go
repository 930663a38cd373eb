package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/example/room-scheduler/internal/localtime"
)

// Member roles.
const (
	RoleAdmin  = "ADMIN"
	RoleMember = "MEMBER"
)

// Member links a user to a workspace.
type Member struct {
	WorkspaceID string
	UserID      string
	Role        string
	Active      bool
}

// WorkspaceStore captures the persistence operations needed by the service.
type WorkspaceStore interface {
	WorkspaceDirectory
	UpsertWorkspace(ctx context.Context, workspace Workspace) error
	UpsertMember(ctx context.Context, member Member) error
	GetMember(ctx context.Context, workspaceID, userID string) (Member, error)
}

// WorkspaceService exposes workspace settings to members and answers
// membership questions for the other services.
type WorkspaceService struct {
	store  WorkspaceStore
	cache  *workspaceCache
	logger *slog.Logger
}

// NewWorkspaceService constructs a workspace service with the provided store.
func NewWorkspaceService(store WorkspaceStore) *WorkspaceService {
	return NewWorkspaceServiceWithLogger(store, nil)
}

// NewWorkspaceServiceWithLogger constructs a workspace service with a specified logger.
func NewWorkspaceServiceWithLogger(store WorkspaceStore, logger *slog.Logger) *WorkspaceService {
	return &WorkspaceService{
		store:  store,
		cache:  newWorkspaceCache(store, 0, 0, nil),
		logger: defaultLogger(logger),
	}
}

// GetWorkspace returns the timezone, window and granularity of a workspace the
// principal belongs to.
func (s *WorkspaceService) GetWorkspace(ctx context.Context, principal Principal, workspaceID string) (Workspace, error) {
	if s == nil {
		return Workspace{}, fmt.Errorf("WorkspaceService is nil")
	}
	if err := requireMember(ctx, s, principal, workspaceID); err != nil {
		return Workspace{}, err
	}
	ws, err := s.cache.Get(ctx, workspaceID)
	if err != nil {
		return Workspace{}, mapStoreError(err)
	}
	return ws, nil
}

// SeedWorkspace validates and stores a workspace with its members, replacing
// the stored settings.
func (s *WorkspaceService) SeedWorkspace(ctx context.Context, workspace Workspace, members []Member) (err error) {
	if s == nil {
		return fmt.Errorf("WorkspaceService is nil")
	}

	logger := serviceLogger(ctx, s.logger, "WorkspaceService", "SeedWorkspace", "workspace_id", workspace.ID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to seed workspace", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "workspace seeded", "member_count", len(members))
	}()

	if vErr := validateWorkspace(workspace, members); vErr.HasErrors() {
		err = vErr
		return
	}
	if s.store == nil {
		err = fmt.Errorf("workspace store not configured")
		return
	}

	if err = s.store.UpsertWorkspace(ctx, workspace); err != nil {
		err = mapStoreError(err)
		return
	}
	for _, m := range members {
		m.WorkspaceID = workspace.ID
		if m.Role == "" {
			m.Role = RoleMember
		}
		if err = s.store.UpsertMember(ctx, m); err != nil {
			err = fmt.Errorf("member %s: %w", m.UserID, mapStoreError(err))
			return
		}
	}
	s.cache.Invalidate(workspace.ID)
	return nil
}

// IsActiveMember implements MembershipChecker.
func (s *WorkspaceService) IsActiveMember(ctx context.Context, workspaceID, userID string) (bool, error) {
	member, ok, err := s.member(ctx, workspaceID, userID)
	if err != nil || !ok {
		return false, err
	}
	return member.Active, nil
}

// IsWorkspaceAdmin implements MembershipChecker.
func (s *WorkspaceService) IsWorkspaceAdmin(ctx context.Context, workspaceID, userID string) (bool, error) {
	member, ok, err := s.member(ctx, workspaceID, userID)
	if err != nil || !ok {
		return false, err
	}
	return member.Active && member.Role == RoleAdmin, nil
}

func (s *WorkspaceService) member(ctx context.Context, workspaceID, userID string) (Member, bool, error) {
	if s == nil || s.store == nil {
		return Member{}, false, fmt.Errorf("workspace store not configured")
	}
	member, err := s.store.GetMember(ctx, workspaceID, userID)
	if err != nil {
		mapped := mapStoreError(err)
		if errors.Is(mapped, ErrNotFound) {
			return Member{}, false, nil
		}
		return Member{}, false, mapped
	}
	return member, true, nil
}

func validateWorkspace(workspace Workspace, members []Member) *ValidationError {
	vErr := &ValidationError{}

	if strings.TrimSpace(workspace.ID) == "" {
		vErr.add("id", "id is required")
	}
	if strings.TrimSpace(workspace.Name) == "" {
		vErr.add("name", "name is required")
	}
	if _, err := localtime.NewConverter(workspace.Timezone); err != nil {
		vErr.add("timezone", err.Error())
	}
	if err := workspace.Window.Validate(); err != nil {
		vErr.add("window", err.Error())
	}
	if g := workspace.GranularityMinutes; g < 0 || (g > 0 && 60%g != 0) {
		vErr.add("granularityMinutes", "granularity must divide 60")
	}
	for _, m := range members {
		if strings.TrimSpace(m.UserID) == "" {
			vErr.add("members", "member userId is required")
		}
		if m.Role != "" && m.Role != RoleAdmin && m.Role != RoleMember {
			vErr.add("members", fmt.Sprintf("unknown role %q", m.Role))
		}
	}

	return vErr
}
