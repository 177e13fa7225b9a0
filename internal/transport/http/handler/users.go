package handler

import (
	"encoding/json"
	"net/http"

	"github.com/prazos-api/internal/application/account"
	"github.com/prazos-api/internal/domain"
	"github.com/prazos-api/internal/pkg/validate"
)

// AccountHandler handles registration and login.
type AccountHandler struct {
	svc account.Service
}

func NewAccountHandler(svc account.Service) *AccountHandler { return &AccountHandler{svc: svc} }

// Register creates a tenant account and logs it in.
func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		httpError(w, err)
		return
	}
	if _, err := h.svc.Register(r.Context(), req); err != nil {
		httpError(w, err)
		return
	}
	res, err := h.svc.Login(r.Context(), account.LoginRequest{Email: req.Email, Password: req.Password})
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, AuthEnvelope{Bearer: res.Bearer, User: res.User})
}

func (h *AccountHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req account.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		httpError(w, err)
		return
	}
	res, err := h.svc.Login(r.Context(), req)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AuthEnvelope{Bearer: res.Bearer, User: res.User})
}
