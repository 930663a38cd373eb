package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/room-scheduler/internal/persistence"
)

// MembershipChecker answers workspace membership questions for the services.
type MembershipChecker interface {
	IsActiveMember(ctx context.Context, workspaceID, userID string) (bool, error)
	IsWorkspaceAdmin(ctx context.Context, workspaceID, userID string) (bool, error)
}

// WorkspaceDirectory resolves workspace settings.
type WorkspaceDirectory interface {
	GetWorkspace(ctx context.Context, id string) (Workspace, error)
}

// RoomLookup resolves a room by ID.
type RoomLookup interface {
	GetRoom(ctx context.Context, id string) (Room, error)
}

// requireMember fails with ErrUnauthorized unless the principal is an
// operator or an active member of the workspace.
func requireMember(ctx context.Context, members MembershipChecker, principal Principal, workspaceID string) error {
	if principal.UserID == "" {
		return ErrUnauthorized
	}
	if principal.IsAdmin {
		return nil
	}
	if members == nil {
		return ErrUnauthorized
	}
	ok, err := members.IsActiveMember(ctx, workspaceID, principal.UserID)
	if err != nil {
		return fmt.Errorf("check membership: %w", mapStoreError(err))
	}
	if !ok {
		return ErrUnauthorized
	}
	return nil
}

// requireWorkspaceAdmin fails with ErrUnauthorized unless the principal is an
// operator or an active admin of the workspace.
func requireWorkspaceAdmin(ctx context.Context, members MembershipChecker, principal Principal, workspaceID string) error {
	if principal.UserID == "" {
		return ErrUnauthorized
	}
	if principal.IsAdmin {
		return nil
	}
	if members == nil {
		return ErrUnauthorized
	}
	ok, err := members.IsWorkspaceAdmin(ctx, workspaceID, principal.UserID)
	if err != nil {
		return fmt.Errorf("check workspace role: %w", mapStoreError(err))
	}
	if !ok {
		return ErrUnauthorized
	}
	return nil
}

// mapStoreError translates persistence sentinels that mean the same thing for
// every resource.
func mapStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, persistence.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, persistence.ErrDuplicate):
		return ErrAlreadyExists
	case errors.Is(err, persistence.ErrUnavailable):
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	return err
}
