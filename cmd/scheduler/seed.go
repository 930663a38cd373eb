package main

import (
	"context"
	"fmt"

	"github.com/example/room-scheduler/internal/application"
	"github.com/example/room-scheduler/internal/config"
	"github.com/example/room-scheduler/internal/localtime"
)

// seedWorkspaces upserts every workspace of the seed file with its members.
func seedWorkspaces(ctx context.Context, service *application.WorkspaceService, file config.WorkspaceFile) error {
	for _, seed := range file.Workspaces {
		workspace, members := workspaceFromSeed(seed)
		if err := service.SeedWorkspace(ctx, workspace, members); err != nil {
			return fmt.Errorf("workspace %s: %w", seed.ID, err)
		}
	}
	return nil
}

func workspaceFromSeed(seed config.WorkspaceSeed) (application.Workspace, []application.Member) {
	window := localtime.Window{StartHour: seed.WindowStartHour, EndHour: seed.WindowEndHour}
	if seed.WindowStartHour == 0 && seed.WindowEndHour == 0 {
		window = localtime.DefaultWindow
	}
	name := seed.Name
	if name == "" {
		name = seed.ID
	}
	timezone := seed.Timezone
	if timezone == "" {
		timezone = "UTC"
	}

	workspace := application.Workspace{
		ID:                 seed.ID,
		Name:               name,
		Timezone:           timezone,
		Window:             window,
		GranularityMinutes: seed.GranularityMinutes,
	}
	members := make([]application.Member, 0, len(seed.Members))
	for _, m := range seed.Members {
		members = append(members, application.Member{
			WorkspaceID: seed.ID,
			UserID:      m.UserID,
			Role:        m.Role,
			Active:      !m.Inactive,
		})
	}
	return workspace, members
}
