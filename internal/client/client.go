// Package client talks to the scheduler HTTP API. *Client satisfies
// preview.Committer, so a preview engine can commit gestures through it.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/example/room-scheduler/internal/application"
	"github.com/example/room-scheduler/internal/localtime"
	"github.com/example/room-scheduler/internal/scheduler"
)

// Client is an authenticated API client. The zero HTTPClient uses a client
// with a 10 second timeout.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

var defaultHTTPClient = &http.Client{Timeout: 10 * time.Second}

// New returns a client for baseURL authenticating with token.
func New(baseURL, token string) *Client {
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), Token: token}
}

// APIError is a non-2xx answer. It unwraps to the matching application sentinel.
type APIError struct {
	Status  int
	Code    string
	Message string
	Fields  map[string]string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("scheduler api: %d %s", e.Status, e.Message)
	}
	return fmt.Sprintf("scheduler api: %d %s: %s", e.Status, e.Code, e.Message)
}

// Unwrap maps the error code back onto the application errors so callers can
// use errors.Is and errors.As as they would against the service.
func (e *APIError) Unwrap() error {
	switch e.Code {
	case "BOOKING_OVERLAP":
		return application.ErrBookingOverlap
	case "INVALID_TIME_RANGE":
		return application.ErrInvalidTimeRange
	case "UNAUTHORIZED":
		return application.ErrUnauthorized
	case "NOT_FOUND":
		return application.ErrNotFound
	case "ALREADY_EXISTS":
		return application.ErrAlreadyExists
	case "SERVICE_UNAVAILABLE", "RATE_LIMITED":
		return application.ErrServiceUnavailable
	case "VALIDATION_ERROR":
		return application.NewValidationError(e.Fields)
	}
	switch e.Status {
	case http.StatusUnauthorized:
		return application.ErrUnauthorized
	case http.StatusNotFound:
		return application.ErrNotFound
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return application.ErrServiceUnavailable
	}
	return nil
}

// CreateReservation books a room.
func (c *Client) CreateReservation(ctx context.Context, input application.ReservationInput) (application.Reservation, error) {
	body := createReservationBody{
		WorkspaceID: input.WorkspaceID,
		RoomID:      input.RoomID,
		Start:       formatInstant(input.Start),
		End:         formatInstant(input.End),
		Subject:     input.Subject,
		Criticality: string(input.Criticality),
	}
	var out reservationEnvelope
	if err := c.do(ctx, http.MethodPost, "/reservations", nil, body, &out); err != nil {
		return application.Reservation{}, err
	}
	return out.Reservation.toApplication()
}

// UpdateReservation sends the non-nil fields of patch.
func (c *Client) UpdateReservation(ctx context.Context, id string, patch application.ReservationPatch) (application.Reservation, error) {
	body := updateReservationBody{RoomID: patch.RoomID, Subject: patch.Subject}
	if patch.Start != nil {
		start := formatInstant(*patch.Start)
		body.Start = &start
	}
	if patch.End != nil {
		end := formatInstant(*patch.End)
		body.End = &end
	}
	if patch.Criticality != nil {
		criticality := string(*patch.Criticality)
		body.Criticality = &criticality
	}
	var out reservationEnvelope
	if err := c.do(ctx, http.MethodPatch, "/reservations/"+url.PathEscape(id), nil, body, &out); err != nil {
		return application.Reservation{}, err
	}
	return out.Reservation.toApplication()
}

// CancelReservation cancels a reservation; cancelling twice succeeds.
func (c *Client) CancelReservation(ctx context.Context, id string) (application.Reservation, error) {
	var out reservationEnvelope
	if err := c.do(ctx, http.MethodPost, "/reservations/"+url.PathEscape(id)+"/cancel", nil, nil, &out); err != nil {
		return application.Reservation{}, err
	}
	return out.Reservation.toApplication()
}

// ListParams narrows ListReservations.
type ListParams struct {
	WorkspaceID      string
	RoomIDs          []string
	From             *time.Time
	To               *time.Time
	IncludeCancelled bool
}

// ListReservations returns reservations ordered by start then ID.
func (c *Client) ListReservations(ctx context.Context, params ListParams) ([]application.Reservation, error) {
	query := url.Values{}
	if params.WorkspaceID != "" {
		query.Set("workspaceId", params.WorkspaceID)
	}
	for _, roomID := range params.RoomIDs {
		query.Add("roomId", roomID)
	}
	if params.From != nil {
		query.Set("from", formatInstant(*params.From))
	}
	if params.To != nil {
		query.Set("to", formatInstant(*params.To))
	}
	if params.IncludeCancelled {
		query.Set("includeCancelled", strconv.FormatBool(true))
	}

	var out struct {
		Reservations []reservationBody `json:"reservations"`
	}
	if err := c.do(ctx, http.MethodGet, "/reservations", query, nil, &out); err != nil {
		return nil, err
	}
	reservations := make([]application.Reservation, 0, len(out.Reservations))
	for _, body := range out.Reservations {
		r, err := body.toApplication()
		if err != nil {
			return nil, err
		}
		reservations = append(reservations, r)
	}
	return reservations, nil
}

// GetWorkspace returns the settings a preview needs to lay out a day.
func (c *Client) GetWorkspace(ctx context.Context, id string) (application.Workspace, error) {
	var out struct {
		Workspace struct {
			ID                 string `json:"id"`
			Name               string `json:"name"`
			Timezone           string `json:"timezone"`
			WindowStartHour    int    `json:"windowStartHour"`
			WindowEndHour      int    `json:"windowEndHour"`
			GranularityMinutes int    `json:"granularityMinutes"`
		} `json:"workspace"`
	}
	if err := c.do(ctx, http.MethodGet, "/workspaces/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return application.Workspace{}, err
	}
	ws := out.Workspace
	return application.Workspace{
		ID:                 ws.ID,
		Name:               ws.Name,
		Timezone:           ws.Timezone,
		Window:             localtime.Window{StartHour: ws.WindowStartHour, EndHour: ws.WindowEndHour},
		GranularityMinutes: ws.GranularityMinutes,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	if c == nil {
		return errors.New("client is nil")
	}

	target := strings.TrimRight(c.BaseURL, "/") + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = defaultHTTPClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", application.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	var body struct {
		ErrorCode string            `json:"error_code"`
		Message   string            `json:"message"`
		Errors    map[string]string `json:"errors"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err := json.Unmarshal(raw, &body); err == nil {
		apiErr.Code = body.ErrorCode
		if body.Message != "" {
			apiErr.Message = body.Message
		}
		apiErr.Fields = body.Errors
	}
	return apiErr
}

func formatInstant(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

type createReservationBody struct {
	WorkspaceID string `json:"workspaceId,omitempty"`
	RoomID      string `json:"roomId"`
	Start       string `json:"startAt"`
	End         string `json:"endAt"`
	Subject     string `json:"subject"`
	Criticality string `json:"criticality,omitempty"`
}

type updateReservationBody struct {
	RoomID      *string `json:"roomId,omitempty"`
	Start       *string `json:"startAt,omitempty"`
	End         *string `json:"endAt,omitempty"`
	Subject     *string `json:"subject,omitempty"`
	Criticality *string `json:"criticality,omitempty"`
}

type reservationEnvelope struct {
	Reservation reservationBody `json:"reservation"`
}

type reservationBody struct {
	ID          string     `json:"id"`
	WorkspaceID string     `json:"workspaceId"`
	RoomID      string     `json:"roomId"`
	Start       time.Time  `json:"startAt"`
	End         time.Time  `json:"endAt"`
	Status      string     `json:"status"`
	Subject     string     `json:"subject"`
	Criticality string     `json:"criticality"`
	CreatedBy   string     `json:"createdBy"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CancelledAt *time.Time `json:"cancelledAt"`
}

func (b reservationBody) toApplication() (application.Reservation, error) {
	status := scheduler.Status(b.Status)
	if !status.Valid() {
		return application.Reservation{}, fmt.Errorf("decode response: unknown status %q", b.Status)
	}
	r := application.Reservation{
		ID:          b.ID,
		WorkspaceID: b.WorkspaceID,
		RoomID:      b.RoomID,
		Start:       b.Start.UTC(),
		End:         b.End.UTC(),
		Status:      status,
		Subject:     b.Subject,
		Criticality: application.Criticality(b.Criticality),
		CreatedBy:   b.CreatedBy,
		CreatedAt:   b.CreatedAt.UTC(),
		UpdatedAt:   b.UpdatedAt.UTC(),
	}
	if b.CancelledAt != nil {
		cancelled := b.CancelledAt.UTC()
		r.CancelledAt = &cancelled
	}
	return r, nil
}
