package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/example/room-scheduler/internal/application"
)

type workspaceService interface {
	GetWorkspace(ctx context.Context, principal application.Principal, workspaceID string) (application.Workspace, error)
}

// WorkspaceHandler exposes the settings the client preview needs to lay out a day.
type WorkspaceHandler struct {
	service   workspaceService
	responder responder
	logger    *slog.Logger
}

func NewWorkspaceHandler(service workspaceService, logger *slog.Logger) *WorkspaceHandler {
	base := defaultLogger(logger)
	return &WorkspaceHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *WorkspaceHandler) Get(w http.ResponseWriter, r *http.Request) {
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

	workspace, err := h.service.GetWorkspace(r.Context(), principal, id)
	if err != nil {
		handlerLogger(r.Context(), h.logger, "WorkspaceHandler", "Get", "principal_id", principal.UserID, "workspace_id", id).
			WarnContext(r.Context(), "workspace lookup failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, workspaceResponse{Workspace: toWorkspaceDTO(workspace)})
}

type workspaceResponse struct {
	Workspace workspaceDTO `json:"workspace"`
}

type workspaceDTO struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Timezone           string `json:"timezone"`
	WindowStartHour    int    `json:"windowStartHour"`
	WindowEndHour      int    `json:"windowEndHour"`
	GranularityMinutes int    `json:"granularityMinutes"`
}

func toWorkspaceDTO(ws application.Workspace) workspaceDTO {
	return workspaceDTO{
		ID:                 ws.ID,
		Name:               ws.Name,
		Timezone:           ws.Timezone,
		WindowStartHour:    ws.Window.StartHour,
		WindowEndHour:      ws.Window.EndHour,
		GranularityMinutes: int(ws.Granularity().Minutes()),
	}
}
