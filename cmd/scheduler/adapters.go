package main

import (
	"context"
	"time"

	"github.com/example/room-scheduler/internal/application"
	"github.com/example/room-scheduler/internal/localtime"
	"github.com/example/room-scheduler/internal/persistence"
	"github.com/example/room-scheduler/internal/scheduler"
)

type workspaceStoreAdapter struct {
	repo persistence.WorkspaceRepository
	now  func() time.Time
}

func newWorkspaceStoreAdapter(repo persistence.WorkspaceRepository, now func() time.Time) *workspaceStoreAdapter {
	return &workspaceStoreAdapter{repo: repo, now: now}
}

func (a *workspaceStoreAdapter) GetWorkspace(ctx context.Context, id string) (application.Workspace, error) {
	stored, err := a.repo.GetWorkspace(ctx, id)
	if err != nil {
		return application.Workspace{}, err
	}
	return toApplicationWorkspace(stored), nil
}

func (a *workspaceStoreAdapter) UpsertWorkspace(ctx context.Context, workspace application.Workspace) error {
	now := a.now().UTC()
	return a.repo.UpsertWorkspace(ctx, persistence.Workspace{
		ID:                 workspace.ID,
		Name:               workspace.Name,
		Timezone:           workspace.Timezone,
		WindowStartHour:    workspace.Window.StartHour,
		WindowEndHour:      workspace.Window.EndHour,
		GranularityMinutes: workspace.GranularityMinutes,
		CreatedAt:          now,
		UpdatedAt:          now,
	})
}

func (a *workspaceStoreAdapter) UpsertMember(ctx context.Context, member application.Member) error {
	now := a.now().UTC()
	return a.repo.UpsertMember(ctx, persistence.Member{
		WorkspaceID: member.WorkspaceID,
		UserID:      member.UserID,
		Role:        member.Role,
		Active:      member.Active,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

func (a *workspaceStoreAdapter) GetMember(ctx context.Context, workspaceID, userID string) (application.Member, error) {
	stored, err := a.repo.GetMember(ctx, workspaceID, userID)
	if err != nil {
		return application.Member{}, err
	}
	return application.Member{
		WorkspaceID: stored.WorkspaceID,
		UserID:      stored.UserID,
		Role:        stored.Role,
		Active:      stored.Active,
	}, nil
}

type roomRepositoryAdapter struct {
	repo persistence.RoomRepository
}

func newRoomRepositoryAdapter(repo persistence.RoomRepository) *roomRepositoryAdapter {
	return &roomRepositoryAdapter{repo: repo}
}

func (a *roomRepositoryAdapter) CreateRoom(ctx context.Context, room application.Room) (application.Room, error) {
	if err := a.repo.CreateRoom(ctx, toPersistenceRoom(room)); err != nil {
		return application.Room{}, err
	}
	return a.GetRoom(ctx, room.ID)
}

func (a *roomRepositoryAdapter) GetRoom(ctx context.Context, id string) (application.Room, error) {
	stored, err := a.repo.GetRoom(ctx, id)
	if err != nil {
		return application.Room{}, err
	}
	return toApplicationRoom(stored), nil
}

func (a *roomRepositoryAdapter) UpdateRoom(ctx context.Context, room application.Room) (application.Room, error) {
	if err := a.repo.UpdateRoom(ctx, toPersistenceRoom(room)); err != nil {
		return application.Room{}, err
	}
	return a.GetRoom(ctx, room.ID)
}

func (a *roomRepositoryAdapter) DeleteRoom(ctx context.Context, id string) error {
	return a.repo.DeleteRoom(ctx, id)
}

func (a *roomRepositoryAdapter) ListRooms(ctx context.Context, workspaceID string) ([]application.Room, error) {
	models, err := a.repo.ListRooms(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, nil
	}
	rooms := make([]application.Room, 0, len(models))
	for _, model := range models {
		rooms = append(rooms, toApplicationRoom(model))
	}
	return rooms, nil
}

type reservationRepositoryAdapter struct {
	repo persistence.ReservationRepository
}

func newReservationRepositoryAdapter(repo persistence.ReservationRepository) *reservationRepositoryAdapter {
	return &reservationRepositoryAdapter{repo: repo}
}

func (a *reservationRepositoryAdapter) CreateReservation(ctx context.Context, reservation application.Reservation) (application.Reservation, error) {
	if err := a.repo.CreateReservation(ctx, toPersistenceReservation(reservation)); err != nil {
		return application.Reservation{}, err
	}
	return a.GetReservation(ctx, reservation.ID)
}

func (a *reservationRepositoryAdapter) UpdateReservation(ctx context.Context, reservation application.Reservation) (application.Reservation, error) {
	if err := a.repo.UpdateReservation(ctx, toPersistenceReservation(reservation)); err != nil {
		return application.Reservation{}, err
	}
	return a.GetReservation(ctx, reservation.ID)
}

func (a *reservationRepositoryAdapter) CancelReservation(ctx context.Context, id string, cancelledAt time.Time) (application.Reservation, bool, error) {
	stored, changed, err := a.repo.CancelReservation(ctx, id, cancelledAt)
	if err != nil {
		return application.Reservation{}, false, err
	}
	return toApplicationReservation(stored), changed, nil
}

func (a *reservationRepositoryAdapter) GetReservation(ctx context.Context, id string) (application.Reservation, error) {
	stored, err := a.repo.GetReservation(ctx, id)
	if err != nil {
		return application.Reservation{}, err
	}
	return toApplicationReservation(stored), nil
}

func (a *reservationRepositoryAdapter) ListReservations(ctx context.Context, filter application.ReservationFilter) ([]application.Reservation, error) {
	models, err := a.repo.ListReservations(ctx, persistence.ReservationFilter{
		WorkspaceID:      filter.WorkspaceID,
		RoomIDs:          append([]string(nil), filter.RoomIDs...),
		From:             cloneTime(filter.From),
		To:               cloneTime(filter.To),
		IncludeCancelled: filter.IncludeCancelled,
	})
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, nil
	}
	reservations := make([]application.Reservation, 0, len(models))
	for _, model := range models {
		reservations = append(reservations, toApplicationReservation(model))
	}
	return reservations, nil
}

func toApplicationWorkspace(model persistence.Workspace) application.Workspace {
	return application.Workspace{
		ID:                 model.ID,
		Name:               model.Name,
		Timezone:           model.Timezone,
		Window:             localtime.Window{StartHour: model.WindowStartHour, EndHour: model.WindowEndHour},
		GranularityMinutes: model.GranularityMinutes,
	}
}

func toApplicationRoom(model persistence.Room) application.Room {
	return application.Room{
		ID:          model.ID,
		WorkspaceID: model.WorkspaceID,
		Name:        model.Name,
		CreatedAt:   model.CreatedAt,
		UpdatedAt:   model.UpdatedAt,
	}
}

func toPersistenceRoom(room application.Room) persistence.Room {
	return persistence.Room{
		ID:          room.ID,
		WorkspaceID: room.WorkspaceID,
		Name:        room.Name,
		CreatedAt:   room.CreatedAt,
		UpdatedAt:   room.UpdatedAt,
	}
}

func toApplicationReservation(model persistence.Reservation) application.Reservation {
	return application.Reservation{
		ID:          model.ID,
		WorkspaceID: model.WorkspaceID,
		RoomID:      model.RoomID,
		Start:       model.Start.UTC(),
		End:         model.End.UTC(),
		Status:      scheduler.Status(model.Status),
		Subject:     model.Subject,
		Criticality: application.Criticality(model.Criticality),
		CreatedBy:   model.CreatedBy,
		CreatedAt:   model.CreatedAt,
		UpdatedAt:   model.UpdatedAt,
		CancelledAt: cloneTime(model.CancelledAt),
	}
}

func toPersistenceReservation(reservation application.Reservation) persistence.Reservation {
	return persistence.Reservation{
		ID:          reservation.ID,
		WorkspaceID: reservation.WorkspaceID,
		RoomID:      reservation.RoomID,
		Start:       reservation.Start.UTC(),
		End:         reservation.End.UTC(),
		Status:      string(reservation.Status),
		Subject:     reservation.Subject,
		Criticality: string(reservation.Criticality),
		CreatedBy:   reservation.CreatedBy,
		CreatedAt:   reservation.CreatedAt,
		UpdatedAt:   reservation.UpdatedAt,
		CancelledAt: cloneTime(reservation.CancelledAt),
	}
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	clone := *value
	return &clone
}
