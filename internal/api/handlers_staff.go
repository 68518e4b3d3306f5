package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/wondertwin-ai/loyaltydesk/internal/apperr"
	"github.com/wondertwin-ai/loyaltydesk/internal/auth"
	"github.com/wondertwin-ai/loyaltydesk/internal/server"
	"github.com/wondertwin-ai/loyaltydesk/internal/store"
)

// --- Staff ---

func redactStaff(s store.Staff) store.Staff {
	s.PasswordHash = ""
	return s
}

// ListStaff handles GET /api/staff.
func (h *Handler) ListStaff(w http.ResponseWriter, r *http.Request) {
	p, err := listParams(r, "role_id", "active")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	page, err := h.store.ListStaff(r.Context(), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	for i := range page.Data {
		page.Data[i] = redactStaff(page.Data[i])
	}
	server.JSON(w, http.StatusOK, page)
}

// GetStaff handles GET /api/staff/{id}.
func (h *Handler) GetStaff(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	s, err := h.store.GetStaff(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.Data(w, http.StatusOK, redactStaff(s))
}

type createStaffRequest struct {
	Name     string `json:"name" validate:"required,max=200"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	RoleID   int64  `json:"role_id" validate:"required,gt=0"`
	Active   *bool  `json:"active"`
}

// CreateStaff handles POST /api/staff.
func (h *Handler) CreateStaff(w http.ResponseWriter, r *http.Request) {
	var req createStaffRequest
	if err := decodeValid(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.checkRole(r, req.RoleID); err != nil {
		h.fail(w, r, err)
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	s := store.Staff{
		Name:         strings.TrimSpace(req.Name),
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash: hash,
		RoleID:       req.RoleID,
		Active:       req.Active == nil || *req.Active,
	}
	if err := h.store.CreateStaff(r.Context(), &s); err != nil {
		h.fail(w, r, err)
		return
	}
	noteEntity(r, s.ID)
	server.Data(w, http.StatusCreated, redactStaff(s))
}

type updateStaffRequest struct {
	Name     string `json:"name" validate:"required,max=200"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"omitempty,min=8,max=72"`
	RoleID   int64  `json:"role_id" validate:"required,gt=0"`
	Active   *bool  `json:"active"`
}

// UpdateStaff handles PUT /api/staff/{id}. An empty password keeps the
// current one.
func (h *Handler) UpdateStaff(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req updateStaffRequest
	if err := decodeValid(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	s, err := h.store.GetStaff(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.checkRole(r, req.RoleID); err != nil {
		h.fail(w, r, err)
		return
	}
	self := auth.FromContext(r.Context()).StaffID == id
	if self && req.Active != nil && !*req.Active {
		h.fail(w, r, apperr.Forbidden("you cannot deactivate your own account"))
		return
	}
	s.Name = strings.TrimSpace(req.Name)
	s.Email = strings.ToLower(strings.TrimSpace(req.Email))
	s.RoleID = req.RoleID
	if req.Active != nil {
		s.Active = *req.Active
	}
	if req.Password != "" {
		if s.PasswordHash, err = auth.HashPassword(req.Password); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	if err := h.store.UpdateStaff(r.Context(), &s); err != nil {
		h.fail(w, r, err)
		return
	}
	server.Data(w, http.StatusOK, redactStaff(s))
}

// DeleteStaff handles DELETE /api/staff/{id}.
func (h *Handler) DeleteStaff(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if auth.FromContext(r.Context()).StaffID == id {
		h.fail(w, r, apperr.Forbidden("you cannot delete your own account"))
		return
	}
	if err := h.store.DeleteStaff(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	server.NoContent(w)
}

func (h *Handler) checkRole(r *http.Request, id int64) error {
	_, err := h.store.GetRole(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.Validation(map[string]string{"role_id": "does not exist"})
	}
	return err
}

// --- Roles ---

type roleRequest struct {
	Name        string   `json:"name" validate:"required,max=64"`
	Description string   `json:"description" validate:"max=500"`
	Permissions []string `json:"permissions" validate:"required,min=1,dive,permission"`
}

func (req roleRequest) role() store.Role {
	seen := make(map[string]bool, len(req.Permissions))
	perms := make(store.StringList, 0, len(req.Permissions))
	for _, p := range req.Permissions {
		if !seen[p] {
			seen[p] = true
			perms = append(perms, p)
		}
	}
	return store.Role{
		Name:        strings.TrimSpace(req.Name),
		Description: strings.TrimSpace(req.Description),
		Permissions: perms,
	}
}

// ListRoles handles GET /api/roles.
func (h *Handler) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.store.ListRoles(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if roles == nil {
		roles = []store.Role{}
	}
	server.Data(w, http.StatusOK, roles)
}

// GetRole handles GET /api/roles/{id}.
func (h *Handler) GetRole(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	role, err := h.store.GetRole(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.Data(w, http.StatusOK, role)
}

// CreateRole handles POST /api/roles.
func (h *Handler) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := decodeValid(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	role := req.role()
	if err := h.store.CreateRole(r.Context(), &role); err != nil {
		h.fail(w, r, err)
		return
	}
	noteEntity(r, role.ID)
	server.Data(w, http.StatusCreated, role)
}

// UpdateRole handles PUT /api/roles/{id}. Permission changes apply to
// tokens issued afterwards.
func (h *Handler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req roleRequest
	if err := decodeValid(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if _, err := h.store.GetRole(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	role := req.role()
	role.ID = id
	if err := h.store.UpdateRole(r.Context(), &role); err != nil {
		h.fail(w, r, err)
		return
	}
	server.Data(w, http.StatusOK, role)
}

// DeleteRole handles DELETE /api/roles/{id}. Roles assigned to staff are
// rejected with 409.
func (h *Handler) DeleteRole(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.store.DeleteRole(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	server.NoContent(w)
}

// ListPermissions handles GET /api/permissions.
func (h *Handler) ListPermissions(w http.ResponseWriter, r *http.Request) {
	server.Data(w, http.StatusOK, append([]string{auth.PermAll}, auth.AllPermissions...))
}

// ListAudit handles GET /api/audit, newest first.
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	p, err := listParams(r, "staff_id", "entity_type", "action")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	page, err := h.store.ListAudit(r.Context(), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, page)
}
