package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/example/room-scheduler/internal/application"
)

type reservationService interface {
	CreateReservation(ctx context.Context, params application.CreateReservationParams) (application.Reservation, error)
	UpdateReservation(ctx context.Context, params application.UpdateReservationParams) (application.Reservation, error)
	CancelReservation(ctx context.Context, principal application.Principal, reservationID string) (application.Reservation, error)
	GetReservation(ctx context.Context, principal application.Principal, reservationID string) (application.Reservation, error)
	ListReservations(ctx context.Context, params application.ListReservationsParams) ([]application.Reservation, error)
	Availability(ctx context.Context, params application.AvailabilityParams) (application.Availability, error)
}

type ReservationHandler struct {
	service   reservationService
	responder responder
	logger    *slog.Logger
}

func NewReservationHandler(service reservationService, logger *slog.Logger) *ReservationHandler {
	base := defaultLogger(logger)
	return &ReservationHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *ReservationHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "ReservationHandler", operation, attrs...)
}

func (h *ReservationHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	var req createReservationRequest
	if err := decodeJSON(r, &req); err != nil {
		h.log(r.Context(), "Create", "principal_id", principal.UserID, "error_kind", "validation").WarnContext(r.Context(), "failed to decode reservation request", "error", err)
		h.responder.writeValidation(r.Context(), w, decodeFailure(err))
		return
	}
	if fields := validateRequest(req); fields != nil {
		h.log(r.Context(), "Create", "principal_id", principal.UserID, "error_kind", "validation").WarnContext(r.Context(), "invalid reservation request")
		h.responder.writeValidation(r.Context(), w, fields)
		return
	}

	logger := h.log(r.Context(), "Create", "principal_id", principal.UserID, "room_id", req.RoomID)

	reservation, err := h.service.CreateReservation(r.Context(), application.CreateReservationParams{
		Principal: principal,
		Input:     req.toInput(),
	})
	if err != nil {
		logger.WarnContext(r.Context(), "reservation creation failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("reservation_id", reservation.ID).InfoContext(r.Context(), "reservation created")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, reservationResponse{Reservation: toReservationDTO(reservation)})
}

func (h *ReservationHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	id, ok := resourceID(r)
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidResourceID)
		return
	}
	principal, _ := PrincipalFromContext(r.Context())

	reservation, err := h.service.GetReservation(r.Context(), principal, id)
	if err != nil {
		h.log(r.Context(), "Get", "principal_id", principal.UserID, "reservation_id", id).WarnContext(r.Context(), "reservation lookup failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, reservationResponse{Reservation: toReservationDTO(reservation)})
}

func (h *ReservationHandler) Update(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	id, ok := resourceID(r)
	if !ok {
		h.log(r.Context(), "Update", "error_kind", "validation").WarnContext(r.Context(), "missing reservation id for update")
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidResourceID)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	var req updateReservationRequest
	if err := decodeJSON(r, &req); err != nil {
		h.log(r.Context(), "Update", "principal_id", principal.UserID, "reservation_id", id, "error_kind", "validation").WarnContext(r.Context(), "failed to decode reservation update", "error", err)
		h.responder.writeValidation(r.Context(), w, decodeFailure(err))
		return
	}
	if fields := validateRequest(req); fields != nil {
		h.responder.writeValidation(r.Context(), w, fields)
		return
	}

	logger := h.log(r.Context(), "Update", "principal_id", principal.UserID, "reservation_id", id)

	reservation, err := h.service.UpdateReservation(r.Context(), application.UpdateReservationParams{
		Principal:     principal,
		ReservationID: id,
		Input:         req.toPatch(),
	})
	if err != nil {
		logger.WarnContext(r.Context(), "reservation update failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "reservation updated")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, reservationResponse{Reservation: toReservationDTO(reservation)})
}

func (h *ReservationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	id, ok := resourceID(r)
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidResourceID)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	logger := h.log(r.Context(), "Cancel", "principal_id", principal.UserID, "reservation_id", id)

	reservation, err := h.service.CancelReservation(r.Context(), principal, id)
	if err != nil {
		logger.WarnContext(r.Context(), "reservation cancel failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "reservation cancelled")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, reservationResponse{Reservation: toReservationDTO(reservation)})
}

func (h *ReservationHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	params, fields := parseListQuery(r)
	if fields != nil {
		h.responder.writeValidation(r.Context(), w, fields)
		return
	}
	params.Principal = principal

	logger := h.log(r.Context(), "List", "principal_id", principal.UserID, "workspace_id", params.WorkspaceID)
	reservations, err := h.service.ListReservations(r.Context(), params)
	if err != nil {
		logger.WarnContext(r.Context(), "reservation list failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("result_count", len(reservations)).DebugContext(r.Context(), "reservations listed")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listReservationsResponse{Reservations: toReservationDTOs(reservations)})
}

// Availability serves GET /rooms/{id}/availability?date=YYYY-MM-DD.
func (h *ReservationHandler) Availability(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	roomID, ok := resourceID(r)
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidResourceID)
		return
	}
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if date == "" {
		h.responder.writeValidation(r.Context(), w, map[string]string{"date": "必須項目です。"})
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	availability, err := h.service.Availability(r.Context(), application.AvailabilityParams{
		Principal: principal,
		RoomID:    roomID,
		Date:      date,
	})
	if err != nil {
		h.log(r.Context(), "Availability", "principal_id", principal.UserID, "room_id", roomID, "date", date).WarnContext(r.Context(), "availability lookup failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toAvailabilityDTO(availability))
}

func resourceID(r *http.Request) (string, bool) {
	id, ok := ResourceIDFromContext(r.Context())
	id = strings.TrimSpace(id)
	return id, ok && id != ""
}

func parseListQuery(r *http.Request) (application.ListReservationsParams, map[string]string) {
	query := r.URL.Query()
	params := application.ListReservationsParams{
		WorkspaceID: strings.TrimSpace(query.Get("workspaceId")),
	}
	fields := map[string]string{}

	for _, roomID := range query["roomId"] {
		for _, part := range strings.Split(roomID, ",") {
			if part = strings.TrimSpace(part); part != "" {
				params.RoomIDs = append(params.RoomIDs, part)
			}
		}
	}
	for _, bound := range []struct {
		name string
		dst  **time.Time
	}{{"from", &params.From}, {"to", &params.To}} {
		raw := strings.TrimSpace(query.Get(bound.name))
		if raw == "" {
			continue
		}
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			fields[bound.name] = "RFC 3339 形式の日時で指定してください。"
			continue
		}
		utc := parsed.UTC()
		*bound.dst = &utc
	}
	if raw := strings.TrimSpace(query.Get("includeCancelled")); raw != "" {
		include, err := strconv.ParseBool(raw)
		if err != nil {
			fields["includeCancelled"] = "true または false で指定してください。"
		}
		params.IncludeCancelled = include
	}

	if len(fields) > 0 {
		return params, fields
	}
	return params, nil
}

type createReservationRequest struct {
	WorkspaceID string     `json:"workspaceId" validate:"omitempty,max=64"`
	RoomID      string     `json:"roomId" validate:"required,max=64"`
	Start       *time.Time `json:"startAt" validate:"required"`
	End         *time.Time `json:"endAt" validate:"required"`
	Subject     string     `json:"subject" validate:"required,max=200"`
	Criticality string     `json:"criticality" validate:"omitempty,oneof=HIGH MEDIUM LOW"`
}

func (r createReservationRequest) toInput() application.ReservationInput {
	input := application.ReservationInput{
		WorkspaceID: strings.TrimSpace(r.WorkspaceID),
		RoomID:      strings.TrimSpace(r.RoomID),
		Subject:     strings.TrimSpace(r.Subject),
		Criticality: application.Criticality(r.Criticality),
	}
	if r.Start != nil {
		input.Start = r.Start.UTC()
	}
	if r.End != nil {
		input.End = r.End.UTC()
	}
	return input
}

type updateReservationRequest struct {
	RoomID      *string    `json:"roomId" validate:"omitempty,min=1,max=64"`
	Start       *time.Time `json:"startAt"`
	End         *time.Time `json:"endAt"`
	Subject     *string    `json:"subject" validate:"omitempty,max=200"`
	Criticality *string    `json:"criticality" validate:"omitempty,oneof=HIGH MEDIUM LOW"`
}

func (r updateReservationRequest) toPatch() application.ReservationPatch {
	var patch application.ReservationPatch
	if r.RoomID != nil {
		roomID := strings.TrimSpace(*r.RoomID)
		patch.RoomID = &roomID
	}
	if r.Start != nil {
		start := r.Start.UTC()
		patch.Start = &start
	}
	if r.End != nil {
		end := r.End.UTC()
		patch.End = &end
	}
	if r.Subject != nil {
		subject := strings.TrimSpace(*r.Subject)
		patch.Subject = &subject
	}
	if r.Criticality != nil {
		criticality := application.Criticality(*r.Criticality)
		patch.Criticality = &criticality
	}
	return patch
}

type reservationResponse struct {
	Reservation reservationDTO `json:"reservation"`
}

type listReservationsResponse struct {
	Reservations []reservationDTO `json:"reservations"`
}

type reservationDTO struct {
	ID          string  `json:"id"`
	WorkspaceID string  `json:"workspaceId"`
	RoomID      string  `json:"roomId"`
	Start       string  `json:"startAt"`
	End         string  `json:"endAt"`
	Status      string  `json:"status"`
	Subject     string  `json:"subject"`
	Criticality string  `json:"criticality"`
	CreatedBy   string  `json:"createdBy"`
	CreatedAt   string  `json:"createdAt"`
	UpdatedAt   string  `json:"updatedAt"`
	CancelledAt *string `json:"cancelledAt,omitempty"`
}

func formatInstant(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func toReservationDTO(r application.Reservation) reservationDTO {
	dto := reservationDTO{
		ID:          r.ID,
		WorkspaceID: r.WorkspaceID,
		RoomID:      r.RoomID,
		Start:       formatInstant(r.Start),
		End:         formatInstant(r.End),
		Status:      string(r.Status),
		Subject:     r.Subject,
		Criticality: string(r.Criticality),
		CreatedBy:   r.CreatedBy,
		CreatedAt:   r.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:   r.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if r.CancelledAt != nil {
		cancelled := r.CancelledAt.UTC().Format(time.RFC3339Nano)
		dto.CancelledAt = &cancelled
	}
	return dto
}

func toReservationDTOs(reservations []application.Reservation) []reservationDTO {
	out := make([]reservationDTO, 0, len(reservations))
	for _, r := range reservations {
		out = append(out, toReservationDTO(r))
	}
	return out
}

type intervalDTO struct {
	Start string `json:"startAt"`
	End   string `json:"endAt"`
}

type availabilityDTO struct {
	RoomID   string        `json:"roomId"`
	Date     string        `json:"date"`
	Timezone string        `json:"timezone"`
	Window   intervalDTO   `json:"window"`
	Free     []intervalDTO `json:"free"`
}

func toAvailabilityDTO(a application.Availability) availabilityDTO {
	dto := availabilityDTO{
		RoomID:   a.RoomID,
		Date:     a.Date,
		Timezone: a.Timezone,
		Window:   intervalDTO{Start: formatInstant(a.Window.Start), End: formatInstant(a.Window.End)},
		Free:     make([]intervalDTO, 0, len(a.Free)),
	}
	for _, slot := range a.Free {
		dto.Free = append(dto.Free, intervalDTO{Start: formatInstant(slot.Start), End: formatInstant(slot.End)})
	}
	return dto
}
