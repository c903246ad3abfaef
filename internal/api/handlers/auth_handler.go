package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/neko-do/engine/internal/api/types"
	"github.com/neko-do/engine/internal/api/validators"
	"github.com/neko-do/engine/internal/credentials"
	"github.com/neko-do/engine/internal/models"
)

type AuthHandler struct {
	issuer credentials.Issuer
}

func NewAuthHandler(issuer credentials.Issuer) *AuthHandler {
	return &AuthHandler{issuer: issuer}
}

// Register creates a disabled account. Promotion to admin happens out of
// band; a fresh registration cannot do anything until then.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req types.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorStr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := validators.New().Struct(req); err != nil {
		writeErrorStr(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.issuer.IssueAccount(r.Context(), req.Name, models.RoleDisabled, req.Password)
	if err != nil {
		writeErrorStr(w, http.StatusConflict, "account name already exists")
		return
	}

	writeJSON(w, http.StatusCreated, types.APIResponse{
		Success: true,
		Data: map[string]any{
			"id":   id,
			"name": req.Name,
			"role": models.RoleDisabled,
		},
	})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req types.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorStr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := validators.New().Struct(req); err != nil {
		writeErrorStr(w, http.StatusBadRequest, err.Error())
		return
	}

	acct, err := h.issuer.VerifyPassword(r.Context(), req.Name, req.Password)
	if err != nil {
		writeErrorStr(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := h.issuer.IssueToken(acct.ID, acct.Role)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, types.APIResponse{
		Success: true,
		Data: map[string]any{
			"access_token": token,
			"token_type":   "Bearer",
			"account": map[string]any{
				"id":   acct.ID,
				"name": acct.Name,
				"role": acct.Role,
			},
		},
	})
}
