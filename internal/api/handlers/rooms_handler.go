package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/neko-do/engine/internal/api/middleware"
	"github.com/neko-do/engine/internal/api/types"
	"github.com/neko-do/engine/internal/api/validators"
	"github.com/neko-do/engine/internal/orchestrator"
	"github.com/neko-do/engine/internal/provision"
	appErr "github.com/neko-do/engine/pkg/errors"
)

type RoomsHandler struct {
	orch *orchestrator.Orchestrator
}

func NewRoomsHandler(orch *orchestrator.Orchestrator) *RoomsHandler {
	return &RoomsHandler{orch: orch}
}

// Create submits a new room and returns immediately; provisioning
// continues asynchronously.
func (h *RoomsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req types.RoomCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorStr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := validators.New().Struct(req); err != nil {
		writeErrorStr(w, http.StatusBadRequest, err.Error())
		return
	}

	room, err := h.orch.RequestProvision(r.Context(), provision.Options{
		Image:         req.Image,
		Resolution:    req.Resolution,
		FPS:           req.FPS,
		Password:      req.Password,
		AdminPassword: req.AdminPassword,
	}, req.CallbackURL)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, types.APIResponse{Success: true, Data: map[string]any{"room": room.State()}})
}

func (h *RoomsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := roomID(w, r)
	if !ok {
		return
	}
	room, err := h.orch.GetStatus(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: map[string]any{"room": room.State()}})
}

func (h *RoomsHandler) Renew(w http.ResponseWriter, r *http.Request) {
	id, ok := roomID(w, r)
	if !ok {
		return
	}
	room, err := h.orch.Renew(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: map[string]any{"room": room.State()}})
}

// Delete marks the room for deletion and answers immediately; teardown of
// the external resources happens asynchronously.
func (h *RoomsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := roomID(w, r)
	if !ok {
		return
	}
	room, err := h.orch.RequestTeardown(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, types.APIResponse{Success: true, Data: map[string]any{"room": room.State()}})
}

// Callback is the push path of status reporting: the room agent posts
// {status, step} bearing its scoped credential, and the update lands on
// the room that credential was issued for.
func (h *RoomsHandler) Callback(w http.ResponseWriter, r *http.Request) {
	credID, err := uuid.Parse(middleware.GetAccountID(r.Context()))
	if err != nil {
		writeErrorStr(w, http.StatusForbidden, "invalid credential subject")
		return
	}

	var req types.RoomCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorStr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := validators.New().Struct(req); err != nil {
		writeErrorStr(w, http.StatusBadRequest, err.Error())
		return
	}

	room, err := h.orch.RoomByCredential(r.Context(), credID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	updated, err := h.orch.ApplyStatusReport(r.Context(), room.ID, req.Status, req.Step)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: map[string]any{"room": updated.State()}})
}

func roomID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErrorStr(w, http.StatusBadRequest, "invalid room id")
		return uuid.Nil, false
	}
	return id, true
}

// statusFor maps the error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case appErr.IsCode(err, appErr.CodeNotFound):
		return http.StatusNotFound
	case appErr.IsCode(err, appErr.CodeInvalid):
		return http.StatusBadRequest
	case appErr.IsCode(err, appErr.CodeUnauthorized):
		return http.StatusUnauthorized
	case appErr.IsCode(err, appErr.CodeForbidden):
		return http.StatusForbidden
	case appErr.IsCode(err, appErr.CodeConflict):
		return http.StatusConflict
	case appErr.IsCode(err, appErr.CodeUnavailable), appErr.IsCode(err, appErr.CodeDeadline):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, types.APIResponse{Success: false, Error: types.FromAppError(err)})
}

func writeErrorStr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, types.APIResponse{Success: false, Error: &types.APIError{Code: "invalid", Message: msg}})
}
