package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"aeroclock/internal/alert"
	"aeroclock/internal/domain"
	"aeroclock/internal/store"
)

// Commands is the alarm command surface exposed to shells.
// Params: per-operation context and payloads.
// Returns: operation results and errors.
type Commands interface {
	Apply(ctx context.Context, intent domain.Intent) (domain.Alarm, error)
	ListAlarms(ctx context.Context) ([]domain.Alarm, error)
	GetAlarm(ctx context.Context, id string) (domain.Alarm, error)
	ActiveSession() (alert.Session, bool)
	SetLight(ctx context.Context, on bool) error
}

// Handler serves the alarm HTTP interface.
// Params: command surface, body limit, and logger.
// Returns: HTTP routing for shell clients.
type Handler struct {
	commands Commands
	maxBody  int64
	logger   *slog.Logger
}

// NewHandler creates the HTTP handler.
// Params: command surface, max request body size, and logger.
// Returns: configured handler.
func NewHandler(commands Commands, maxBody int64, logger *slog.Logger) *Handler {
	return &Handler{commands: commands, maxBody: maxBody, logger: logger}
}

// Register attaches alarm routes onto a mux.
// Params: destination mux.
// Returns: mux mutated in place.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /alarms", h.listAlarms)
	mux.HandleFunc("POST /alarms", h.createAlarm)
	mux.HandleFunc("GET /alarms/{id}", h.getAlarm)
	mux.HandleFunc("DELETE /alarms/{id}", h.deleteAlarm)
	mux.HandleFunc("PATCH /alarms/{id}", h.patchAlarm)
	mux.HandleFunc("GET /session", h.activeSession)
	mux.HandleFunc("POST /sessions/{id}/snooze", h.snoozeSession)
	mux.HandleFunc("POST /sessions/{id}/dismiss", h.dismissSession)
	mux.HandleFunc("POST /light", h.setLight)
}

// listAlarms returns all stored alarms.
// Params: HTTP request/response pair.
// Returns: JSON alarm list.
func (h *Handler) listAlarms(writer http.ResponseWriter, request *http.Request) {
	alarms, err := h.commands.ListAlarms(request.Context())
	if err != nil {
		h.writeError(writer, err)
		return
	}
	h.writeJSON(writer, http.StatusOK, alarms)
}

// createAlarm stores a new alarm from the request body.
// Params: HTTP request/response pair.
// Returns: created alarm JSON with 201.
func (h *Handler) createAlarm(writer http.ResponseWriter, request *http.Request) {
	var payload struct {
		Time         string `json:"time"`
		Repeat       bool   `json:"repeat"`
		LightControl bool   `json:"light_control"`
	}
	if !h.readJSON(writer, request, &payload) {
		return
	}

	alarm, err := h.commands.Apply(request.Context(), domain.Intent{
		Kind:         domain.IntentCreate,
		Time:         payload.Time,
		Repeat:       payload.Repeat,
		LightControl: payload.LightControl,
	})
	if err != nil {
		h.writeError(writer, err)
		return
	}
	h.writeJSON(writer, http.StatusCreated, alarm)
}

// getAlarm returns one alarm by id.
// Params: HTTP request/response pair with {id} path value.
// Returns: alarm JSON or 404.
func (h *Handler) getAlarm(writer http.ResponseWriter, request *http.Request) {
	alarm, err := h.commands.GetAlarm(request.Context(), request.PathValue("id"))
	if err != nil {
		h.writeError(writer, err)
		return
	}
	h.writeJSON(writer, http.StatusOK, alarm)
}

// deleteAlarm removes one alarm by id.
// Params: HTTP request/response pair with {id} path value.
// Returns: 204 on success.
func (h *Handler) deleteAlarm(writer http.ResponseWriter, request *http.Request) {
	_, err := h.commands.Apply(request.Context(), domain.Intent{
		Kind:    domain.IntentDelete,
		AlarmID: request.PathValue("id"),
	})
	if err != nil {
		h.writeError(writer, err)
		return
	}
	writer.WriteHeader(http.StatusNoContent)
}

// patchAlarm updates one alarm's enabled flag.
// Params: HTTP request/response pair with {id} path value.
// Returns: updated alarm JSON.
func (h *Handler) patchAlarm(writer http.ResponseWriter, request *http.Request) {
	var payload struct {
		Enabled *bool `json:"enabled"`
	}
	if !h.readJSON(writer, request, &payload) {
		return
	}

	alarm, err := h.commands.Apply(request.Context(), domain.Intent{
		Kind:    domain.IntentSetEnabled,
		AlarmID: request.PathValue("id"),
		Enabled: payload.Enabled,
	})
	if err != nil {
		h.writeError(writer, err)
		return
	}
	h.writeJSON(writer, http.StatusOK, alarm)
}

// activeSession returns the ringing session if one exists.
// Params: HTTP request/response pair.
// Returns: session JSON or 204 when idle.
func (h *Handler) activeSession(writer http.ResponseWriter, _ *http.Request) {
	session, ok := h.commands.ActiveSession()
	if !ok {
		writer.WriteHeader(http.StatusNoContent)
		return
	}
	h.writeJSON(writer, http.StatusOK, session)
}

// snoozeSession snoozes the ringing session.
// Params: HTTP request/response pair with {id} path value.
// Returns: 204 on success.
func (h *Handler) snoozeSession(writer http.ResponseWriter, request *http.Request) {
	var payload struct {
		Minutes int `json:"minutes"`
	}
	if request.ContentLength != 0 && !h.readJSON(writer, request, &payload) {
		return
	}

	_, err := h.commands.Apply(request.Context(), domain.Intent{
		Kind:      domain.IntentSnooze,
		SessionID: request.PathValue("id"),
		Minutes:   payload.Minutes,
	})
	if err != nil {
		h.writeError(writer, err)
		return
	}
	writer.WriteHeader(http.StatusNoContent)
}

// dismissSession dismisses the ringing session.
// Params: HTTP request/response pair with {id} path value.
// Returns: 204 on success.
func (h *Handler) dismissSession(writer http.ResponseWriter, request *http.Request) {
	_, err := h.commands.Apply(request.Context(), domain.Intent{
		Kind:      domain.IntentDismiss,
		SessionID: request.PathValue("id"),
	})
	if err != nil {
		h.writeError(writer, err)
		return
	}
	writer.WriteHeader(http.StatusNoContent)
}

// setLight switches the bulb manually.
// Params: HTTP request/response pair.
// Returns: 204 on success.
func (h *Handler) setLight(writer http.ResponseWriter, request *http.Request) {
	var payload struct {
		On bool `json:"on"`
	}
	if !h.readJSON(writer, request, &payload) {
		return
	}
	if err := h.commands.SetLight(request.Context(), payload.On); err != nil {
		h.writeError(writer, err)
		return
	}
	writer.WriteHeader(http.StatusNoContent)
}

// readJSON decodes a size-limited JSON request body.
// Params: writer for error responses, request, and destination.
// Returns: true when decoding succeeded.
func (h *Handler) readJSON(writer http.ResponseWriter, request *http.Request, dst any) bool {
	request.Body = http.MaxBytesReader(writer, request.Body, h.maxBody)
	defer func() { _ = request.Body.Close() }()

	body, err := io.ReadAll(request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeJSON(writer, http.StatusRequestEntityTooLarge, errorBody{Error: "request body too large"})
			return false
		}
		h.writeJSON(writer, http.StatusBadRequest, errorBody{Error: "request body unreadable"})
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		h.writeJSON(writer, http.StatusBadRequest, errorBody{Error: "invalid JSON payload"})
		return false
	}
	return true
}

// errorBody is the JSON error response shape.
type errorBody struct {
	Error string `json:"error"`
}

// writeError maps domain and store errors to HTTP statuses.
// Params: writer and failed operation error.
// Returns: JSON error response.
func (h *Handler) writeError(writer http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		h.writeJSON(writer, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, store.ErrNotFound), errors.Is(err, alert.ErrUnknownSession):
		h.writeJSON(writer, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, alert.ErrSessionClosed), errors.Is(err, store.ErrConflict):
		h.writeJSON(writer, http.StatusConflict, errorBody{Error: err.Error()})
	default:
		h.logger.Error("request failed", "error", err)
		h.writeJSON(writer, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

// writeJSON renders one JSON response.
// Params: writer, status code, and payload.
// Returns: response written, encode failures logged.
func (h *Handler) writeJSON(writer http.ResponseWriter, status int, payload any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	if err := json.NewEncoder(writer).Encode(payload); err != nil && !strings.Contains(err.Error(), "broken pipe") {
		h.logger.Warn("response encode failed", "error", err)
	}
}
