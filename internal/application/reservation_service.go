package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/example/room-scheduler/internal/localtime"
	"github.com/example/room-scheduler/internal/persistence"
	"github.com/example/room-scheduler/internal/scheduler"
)

const (
	maxSubjectLength = 200
	// DefaultMaxReservationDuration bounds a single reservation unless configured otherwise.
	DefaultMaxReservationDuration = 12 * time.Hour
)

var (
	earliestPlausible = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)
	latestPlausible   = time.Date(2100, time.January, 1, 0, 0, 0, 0, time.UTC)
)

// ReservationRepository captures the persistence operations needed by the
// service. CreateReservation and UpdateReservation must perform the overlap
// check and the write as one atomic unit.
type ReservationRepository interface {
	CreateReservation(ctx context.Context, reservation Reservation) (Reservation, error)
	UpdateReservation(ctx context.Context, reservation Reservation) (Reservation, error)
	CancelReservation(ctx context.Context, id string, cancelledAt time.Time) (Reservation, bool, error)
	GetReservation(ctx context.Context, id string) (Reservation, error)
	ListReservations(ctx context.Context, filter ReservationFilter) ([]Reservation, error)
}

// ReservationFilter narrows queries issued to the reservation repository.
type ReservationFilter struct {
	WorkspaceID      string
	RoomIDs          []string
	From             *time.Time
	To               *time.Time
	IncludeCancelled bool
}

// EventPublisher receives committed lifecycle transitions.
type EventPublisher interface {
	PublishReservationEvent(ctx context.Context, event ReservationEvent) error
}

// ReservationService implements the reservation lifecycle: create, move or
// resize, and cancel, each guarded by the store's atomic overlap check.
type ReservationService struct {
	reservations ReservationRepository
	rooms        RoomLookup
	workspaces   *workspaceCache
	members      MembershipChecker
	events       EventPublisher
	idGenerator  func() string
	now          func() time.Time
	maxDuration  time.Duration
	logger       *slog.Logger
}

// ReservationServiceOption configures optional collaborators.
type ReservationServiceOption func(*ReservationService)

// WithEventPublisher publishes lifecycle events after each committed transition.
func WithEventPublisher(publisher EventPublisher) ReservationServiceOption {
	return func(s *ReservationService) {
		s.events = publisher
	}
}

// WithMaxReservationDuration overrides DefaultMaxReservationDuration.
func WithMaxReservationDuration(d time.Duration) ReservationServiceOption {
	return func(s *ReservationService) {
		if d > 0 {
			s.maxDuration = d
		}
	}
}

// NewReservationService constructs a reservation service with the provided dependencies.
func NewReservationService(reservations ReservationRepository, rooms RoomLookup, workspaces WorkspaceDirectory, members MembershipChecker, idGenerator func() string, now func() time.Time, opts ...ReservationServiceOption) *ReservationService {
	return NewReservationServiceWithLogger(reservations, rooms, workspaces, members, idGenerator, now, nil, opts...)
}

// NewReservationServiceWithLogger constructs a reservation service with a specified logger.
func NewReservationServiceWithLogger(reservations ReservationRepository, rooms RoomLookup, workspaces WorkspaceDirectory, members MembershipChecker, idGenerator func() string, now func() time.Time, logger *slog.Logger, opts ...ReservationServiceOption) *ReservationService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	s := &ReservationService{
		reservations: reservations,
		rooms:        rooms,
		workspaces:   newWorkspaceCache(workspaces, 0, 0, now),
		members:      members,
		idGenerator:  idGenerator,
		now:          now,
		maxDuration:  DefaultMaxReservationDuration,
		logger:       defaultLogger(logger),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ReservationService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "ReservationService", operation, attrs...)
}

// CreateReservation books a room for the requested interval.
func (s *ReservationService) CreateReservation(ctx context.Context, params CreateReservationParams) (reservation Reservation, err error) {
	if s == nil {
		err = fmt.Errorf("ReservationService is nil")
		return
	}

	input := params.Input
	logger := s.loggerWith(ctx, "CreateReservation",
		"principal_id", params.Principal.UserID,
		"room_id", input.RoomID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to create reservation", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("reservation_id", reservation.ID).InfoContext(ctx, "reservation created")
	}()

	if s.reservations == nil {
		err = fmt.Errorf("reservation repository not configured")
		return
	}

	var room Room
	room, err = s.lookupRoom(ctx, input.RoomID)
	if err != nil {
		return
	}
	if input.WorkspaceID != "" && input.WorkspaceID != room.WorkspaceID {
		vErr := &ValidationError{}
		vErr.add("workspaceId", "room does not belong to the workspace")
		err = vErr
		return
	}

	if err = requireMember(ctx, s.members, params.Principal, room.WorkspaceID); err != nil {
		return
	}

	criticality := input.Criticality
	if criticality == "" {
		criticality = CriticalityMedium
	}
	subject := strings.TrimSpace(input.Subject)
	if vErr := validateReservationFields(subject, criticality); vErr.HasErrors() {
		err = vErr
		return
	}
	if err = s.validateInterval(input.Start, input.End); err != nil {
		return
	}

	createdAt := s.now().UTC()
	candidate := Reservation{
		ID:          s.idGenerator(),
		WorkspaceID: room.WorkspaceID,
		RoomID:      room.ID,
		Start:       input.Start.UTC(),
		End:         input.End.UTC(),
		Status:      scheduler.StatusActive,
		Subject:     subject,
		Criticality: criticality,
		CreatedBy:   params.Principal.UserID,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}

	reservation, err = s.reservations.CreateReservation(ctx, candidate)
	if err != nil {
		err = mapReservationRepoError(err)
		return
	}

	s.publish(ctx, logger, EventReservationCreated, reservation, params.Principal.UserID)
	return
}

// UpdateReservation moves, resizes or edits an active reservation. The merged
// result is re-checked against every other active reservation of the target room.
func (s *ReservationService) UpdateReservation(ctx context.Context, params UpdateReservationParams) (reservation Reservation, err error) {
	if s == nil {
		err = fmt.Errorf("ReservationService is nil")
		return
	}

	logger := s.loggerWith(ctx, "UpdateReservation",
		"principal_id", params.Principal.UserID,
		"reservation_id", params.ReservationID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to update reservation", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("room_id", reservation.RoomID).InfoContext(ctx, "reservation updated")
	}()

	if s.reservations == nil {
		err = fmt.Errorf("reservation repository not configured")
		return
	}

	var existing Reservation
	existing, err = s.reservations.GetReservation(ctx, params.ReservationID)
	if err != nil {
		err = mapReservationRepoError(err)
		return
	}
	if !existing.Active() {
		// cancelled reservations are immutable
		err = ErrNotFound
		return
	}

	if err = s.authorizeOwnerOrAdmin(ctx, params.Principal, existing); err != nil {
		return
	}

	updated, err := s.mergePatch(ctx, existing, params.Input)
	if err != nil {
		return
	}
	if vErr := validateReservationFields(updated.Subject, updated.Criticality); vErr.HasErrors() {
		err = vErr
		return
	}
	if err = s.validateInterval(updated.Start, updated.End); err != nil {
		return
	}
	updated.UpdatedAt = s.now().UTC()

	reservation, err = s.reservations.UpdateReservation(ctx, updated)
	if err != nil {
		err = mapReservationRepoError(err)
		return
	}

	s.publish(ctx, logger, EventReservationUpdated, reservation, params.Principal.UserID)
	return
}

// CancelReservation moves a reservation to CANCELLED. Cancelling a reservation
// that is already cancelled succeeds and returns it unchanged.
func (s *ReservationService) CancelReservation(ctx context.Context, principal Principal, reservationID string) (reservation Reservation, err error) {
	if s == nil {
		err = fmt.Errorf("ReservationService is nil")
		return
	}

	logger := s.loggerWith(ctx, "CancelReservation",
		"principal_id", principal.UserID,
		"reservation_id", reservationID,
	)
	changed := false
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to cancel reservation", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("changed", changed).InfoContext(ctx, "reservation cancelled")
	}()

	if s.reservations == nil {
		err = fmt.Errorf("reservation repository not configured")
		return
	}

	var existing Reservation
	existing, err = s.reservations.GetReservation(ctx, reservationID)
	if err != nil {
		err = mapReservationRepoError(err)
		return
	}
	if err = s.authorizeOwnerOrAdmin(ctx, principal, existing); err != nil {
		return
	}
	if !existing.Active() {
		reservation = existing
		return
	}

	reservation, changed, err = s.reservations.CancelReservation(ctx, reservationID, s.now().UTC())
	if err != nil {
		err = mapReservationRepoError(err)
		return
	}
	if changed {
		s.publish(ctx, logger, EventReservationCancelled, reservation, principal.UserID)
	}
	return
}

// GetReservation returns a reservation visible to the principal.
func (s *ReservationService) GetReservation(ctx context.Context, principal Principal, reservationID string) (reservation Reservation, err error) {
	if s == nil {
		err = fmt.Errorf("ReservationService is nil")
		return
	}
	if s.reservations == nil {
		err = fmt.Errorf("reservation repository not configured")
		return
	}

	reservation, err = s.reservations.GetReservation(ctx, reservationID)
	if err != nil {
		err = mapReservationRepoError(err)
		return
	}
	if err = requireMember(ctx, s.members, principal, reservation.WorkspaceID); err != nil {
		reservation = Reservation{}
		return
	}
	return
}

// ListReservations returns the reservations of a workspace, optionally narrowed
// to rooms and a time range, ordered by start then ID. When WorkspaceID is
// empty it is derived from the first room.
func (s *ReservationService) ListReservations(ctx context.Context, params ListReservationsParams) (reservations []Reservation, err error) {
	if s == nil {
		err = fmt.Errorf("ReservationService is nil")
		return
	}

	logger := s.loggerWith(ctx, "ListReservations",
		"principal_id", params.Principal.UserID,
		"workspace_id", params.WorkspaceID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to list reservations", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("result_count", len(reservations)).DebugContext(ctx, "reservations listed")
	}()

	if s.reservations == nil {
		err = fmt.Errorf("reservation repository not configured")
		return
	}

	workspaceID := params.WorkspaceID
	if workspaceID == "" && len(params.RoomIDs) > 0 {
		var room Room
		room, err = s.lookupRoom(ctx, params.RoomIDs[0])
		if err != nil {
			return
		}
		workspaceID = room.WorkspaceID
	}
	if workspaceID == "" {
		vErr := &ValidationError{}
		vErr.add("workspaceId", "workspaceId or roomId is required")
		err = vErr
		return
	}
	if params.From != nil && params.To != nil && !params.From.Before(*params.To) {
		err = fmt.Errorf("%w: from must be before to", ErrInvalidTimeRange)
		return
	}

	if err = requireMember(ctx, s.members, params.Principal, workspaceID); err != nil {
		return
	}

	var raw []Reservation
	raw, err = s.reservations.ListReservations(ctx, ReservationFilter{
		WorkspaceID:      workspaceID,
		RoomIDs:          params.RoomIDs,
		From:             params.From,
		To:               params.To,
		IncludeCancelled: params.IncludeCancelled,
	})
	if err != nil {
		err = mapReservationRepoError(err)
		return
	}

	reservations = make([]Reservation, len(raw))
	copy(reservations, raw)
	sortReservations(reservations)
	return
}

// Availability returns the free slots of a room within the workspace schedule
// window on a workspace-local date, snapped to the workspace granularity.
func (s *ReservationService) Availability(ctx context.Context, params AvailabilityParams) (availability Availability, err error) {
	if s == nil {
		err = fmt.Errorf("ReservationService is nil")
		return
	}

	logger := s.loggerWith(ctx, "Availability",
		"principal_id", params.Principal.UserID,
		"room_id", params.RoomID,
		"date", params.Date,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to compute availability", "error", err, "error_kind", ErrorKind(err))
		}
	}()

	if s.reservations == nil || s.rooms == nil {
		err = fmt.Errorf("reservation service not configured")
		return
	}

	var room Room
	room, err = s.rooms.GetRoom(ctx, params.RoomID)
	if err != nil {
		err = mapReservationRepoError(err)
		return
	}
	if err = requireMember(ctx, s.members, params.Principal, room.WorkspaceID); err != nil {
		return
	}

	var workspace Workspace
	workspace, err = s.workspaces.Get(ctx, room.WorkspaceID)
	if err != nil {
		err = mapReservationRepoError(err)
		return
	}

	converter, convErr := localtime.NewConverter(workspace.Timezone)
	if convErr != nil {
		err = fmt.Errorf("workspace %s: %w", workspace.ID, convErr)
		return
	}
	bounds, boundsErr := converter.WindowBounds(params.Date, workspace.Window)
	if boundsErr != nil {
		vErr := &ValidationError{}
		vErr.add("date", boundsErr.Error())
		err = vErr
		return
	}
	window := scheduler.Interval{Start: bounds.Start, End: bounds.End}

	var booked []Reservation
	booked, err = s.reservations.ListReservations(ctx, ReservationFilter{
		WorkspaceID: room.WorkspaceID,
		RoomIDs:     []string{room.ID},
		From:        &window.Start,
		To:          &window.End,
	})
	if err != nil {
		err = mapReservationRepoError(err)
		return
	}

	busy := make([]scheduler.Interval, 0, len(booked))
	for _, r := range booked {
		if r.Active() {
			busy = append(busy, r.Interval())
		}
	}

	availability = Availability{
		RoomID:   room.ID,
		Date:     params.Date,
		Timezone: workspace.Timezone,
		Window:   window,
		Free:     scheduler.FreeSlots(busy, window, workspace.Granularity()),
	}
	return
}

func (s *ReservationService) lookupRoom(ctx context.Context, roomID string) (Room, error) {
	vErr := &ValidationError{}
	if strings.TrimSpace(roomID) == "" {
		vErr.add("roomId", "roomId is required")
		return Room{}, vErr
	}
	if s.rooms == nil {
		return Room{}, fmt.Errorf("room lookup not configured")
	}
	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		mapped := mapStoreError(err)
		if errors.Is(mapped, ErrNotFound) {
			vErr.add("roomId", "room does not exist")
			return Room{}, vErr
		}
		return Room{}, mapped
	}
	return room, nil
}

// authorizeOwnerOrAdmin allows the creator while still an active member, a
// workspace admin, or an operator.
func (s *ReservationService) authorizeOwnerOrAdmin(ctx context.Context, principal Principal, reservation Reservation) error {
	if principal.UserID == "" {
		return ErrUnauthorized
	}
	if principal.IsAdmin {
		return nil
	}
	if principal.UserID == reservation.CreatedBy {
		return requireMember(ctx, s.members, principal, reservation.WorkspaceID)
	}
	return requireWorkspaceAdmin(ctx, s.members, principal, reservation.WorkspaceID)
}

func (s *ReservationService) mergePatch(ctx context.Context, existing Reservation, patch ReservationPatch) (Reservation, error) {
	updated := existing

	if patch.RoomID != nil && *patch.RoomID != existing.RoomID {
		room, err := s.lookupRoom(ctx, *patch.RoomID)
		if err != nil {
			return Reservation{}, err
		}
		if room.WorkspaceID != existing.WorkspaceID {
			vErr := &ValidationError{}
			vErr.add("roomId", "room belongs to another workspace")
			return Reservation{}, vErr
		}
		updated.RoomID = room.ID
	}
	if patch.Start != nil {
		updated.Start = patch.Start.UTC()
	}
	if patch.End != nil {
		updated.End = patch.End.UTC()
	}
	if patch.Subject != nil {
		updated.Subject = strings.TrimSpace(*patch.Subject)
	}
	if patch.Criticality != nil {
		updated.Criticality = *patch.Criticality
	}
	return updated, nil
}

func (s *ReservationService) validateInterval(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return fmt.Errorf("%w: start and end are required", ErrInvalidTimeRange)
	}
	if !start.Before(end) {
		return fmt.Errorf("%w: start must be before end", ErrInvalidTimeRange)
	}
	if start.Before(earliestPlausible) || end.After(latestPlausible) {
		return fmt.Errorf("%w: outside %d-%d", ErrInvalidTimeRange, earliestPlausible.Year(), latestPlausible.Year()-1)
	}
	if end.Sub(start) > s.maxDuration {
		return fmt.Errorf("%w: longer than %s", ErrInvalidTimeRange, s.maxDuration)
	}
	return nil
}

// eventPublishTimeout caps how long a committed write waits on the broker.
const eventPublishTimeout = 2 * time.Second

func (s *ReservationService) publish(ctx context.Context, logger *slog.Logger, eventType string, reservation Reservation, actorID string) {
	if s.events == nil {
		return
	}
	event := ReservationEvent{
		Type:        eventType,
		Reservation: reservation,
		ActorID:     actorID,
		OccurredAt:  s.now().UTC(),
	}
	// The write is already committed; a slow broker only costs the event.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventPublishTimeout)
	defer cancel()
	if err := s.events.PublishReservationEvent(pubCtx, event); err != nil {
		logger.WarnContext(ctx, "failed to publish reservation event", "event_type", eventType, "error", err)
	}
}

func validateReservationFields(subject string, criticality Criticality) *ValidationError {
	vErr := &ValidationError{}
	if subject == "" {
		vErr.add("subject", "subject is required")
	} else if utf8.RuneCountInString(subject) > maxSubjectLength {
		vErr.add("subject", fmt.Sprintf("subject must be at most %d characters", maxSubjectLength))
	}
	if !criticality.Valid() {
		vErr.add("criticality", "criticality must be HIGH, MEDIUM or LOW")
	}
	return vErr
}

func mapReservationRepoError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, persistence.ErrOverlap) {
		return ErrBookingOverlap
	}
	if errors.Is(err, persistence.ErrForeignKeyViolation) {
		vErr := &ValidationError{}
		vErr.add("roomId", "room does not exist")
		return vErr
	}
	if errors.Is(err, persistence.ErrConstraintViolation) {
		vErr := &ValidationError{}
		vErr.add("reservation", "rejected by store constraints")
		return vErr
	}
	return mapStoreError(err)
}

func sortReservations(reservations []Reservation) {
	sort.SliceStable(reservations, func(i, j int) bool {
		if !reservations[i].Start.Equal(reservations[j].Start) {
			return reservations[i].Start.Before(reservations[j].Start)
		}
		return reservations[i].ID < reservations[j].ID
	})
}
