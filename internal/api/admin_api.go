package api

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"parkslot/internal/metrics"
	"parkslot/internal/models"
)

// LoginRequest is the body of POST /admin/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterAdminRequest is the body of POST /admin/register.
type RegisterAdminRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

// handleAdminLogin checks credentials and returns the administrator id.
// POST /admin/login
func (s *HTTPServer) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("admin_login")

	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	admin, err := s.db.Authenticate(r.Context(), strings.TrimSpace(req.Email), req.Password)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": admin.ID, "name": admin.Name})
}

// handleAdminRegister creates an administrator account.
// POST /admin/register
func (s *HTTPServer) handleAdminRegister(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("admin_register")

	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req RegisterAdminRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	admin := &models.Admin{
		Name:  strings.TrimSpace(req.Name),
		Email: strings.TrimSpace(req.Email),
		Phone: strings.TrimSpace(req.Phone),
	}
	if err := s.db.CreateAdmin(r.Context(), admin, req.Password); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	zerolog.Ctx(r.Context()).Info().Int64("admin_id", admin.ID).Msg("admin registered")
	writeJSON(w, http.StatusCreated, idResponse{ID: admin.ID})
}
