package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/wondertwin-ai/loyaltydesk/internal/apperr"
	"github.com/wondertwin-ai/loyaltydesk/internal/auth"
	"github.com/wondertwin-ai/loyaltydesk/internal/server"
	"github.com/wondertwin-ai/loyaltydesk/internal/store"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// profile is a staff member as returned to clients.
type profile struct {
	store.Staff
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

func newProfile(s store.Staff, role store.Role) profile {
	s.PasswordHash = ""
	perms := []string(role.Permissions)
	if perms == nil {
		perms = []string{}
	}
	return profile{Staff: s, Role: role.Name, Permissions: perms}
}

// Login handles POST /api/auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeValid(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	invalid := apperr.Unauthorized("invalid email or password")

	s, err := h.store.GetStaffByEmail(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if errors.Is(err, store.ErrNotFound) {
		h.fail(w, r, invalid)
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !auth.CheckPassword(s.PasswordHash, req.Password) {
		h.fail(w, r, invalid)
		return
	}
	if !s.Active {
		h.fail(w, r, apperr.Forbidden("staff account is inactive"))
		return
	}
	role, err := h.store.GetRole(r.Context(), s.RoleID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	token, exp, err := h.issuer.Issue(s.ID, s.Email, role.Name, role.Permissions)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	now := h.clock.Now()
	s.LastLoginAt = &now
	if err := h.store.UpdateStaff(r.Context(), &s); err != nil {
		h.log.WithError(err).WithField("staff_id", s.ID).Warn("failed to record last login")
	}
	server.NoteStaff(r, s.ID)
	noteActor(r, s.ID)
	noteEntity(r, s.ID)

	server.JSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"token_type": "Bearer",
		"expires_at": exp.UTC().Format(time.RFC3339),
		"staff":      newProfile(s, role),
	})
}

// Me handles GET /api/me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	c := auth.FromContext(r.Context())
	s, err := h.store.GetStaff(r.Context(), c.StaffID)
	if errors.Is(err, store.ErrNotFound) {
		h.fail(w, r, apperr.Unauthorized("staff account no longer exists"))
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	role, err := h.store.GetRole(r.Context(), s.RoleID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.Data(w, http.StatusOK, newProfile(s, role))
}
