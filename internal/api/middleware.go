package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/wondertwin-ai/loyaltydesk/internal/apperr"
	"github.com/wondertwin-ai/loyaltydesk/internal/auth"
	"github.com/wondertwin-ai/loyaltydesk/internal/server"
	"github.com/wondertwin-ai/loyaltydesk/internal/store"
)

// authenticate validates the bearer token and stores its claims on the
// request context.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			h.fail(w, r, apperr.Unauthorized("missing authorization header"))
			return
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			h.fail(w, r, apperr.Unauthorized("authorization must use the Bearer scheme"))
			return
		}
		claims, err := h.issuer.Parse(strings.TrimSpace(token))
		if err != nil {
			h.fail(w, r, apperr.Unauthorized("invalid or expired token"))
			return
		}
		server.NoteStaff(r, claims.StaffID)
		next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
	})
}

// require rejects requests whose claims do not grant perm.
func (h *Handler) require(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c := auth.FromContext(r.Context())
			if c == nil {
				h.fail(w, r, apperr.Unauthorized("authentication required"))
				return
			}
			if !c.Has(perm) {
				h.fail(w, r, apperr.Forbidden("missing permission "+perm))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type entitySlot struct {
	id    string
	staff *int64
}

type entitySlotKey struct{}

// noteEntity records the id of an entity a handler created so the audit
// entry can reference it.
func noteEntity(r *http.Request, id int64) {
	if slot, ok := r.Context().Value(entitySlotKey{}).(*entitySlot); ok {
		slot.id = formatID(id)
	}
}

// noteActor records the staff member a request acted as when it carried no
// token, as on login.
func noteActor(r *http.Request, staffID int64) {
	if slot, ok := r.Context().Value(entitySlotKey{}).(*entitySlot); ok {
		slot.staff = &staffID
	}
}

// audit appends an audit entry for every mutating request once the handler
// has responded.
func (h *Handler) audit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		slot := &entitySlot{}
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		r = r.WithContext(context.WithValue(r.Context(), entitySlotKey{}, slot))
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		entityType, action := describe(r.Method, r.URL.Path)
		entityID := slot.id
		if rctx := chi.RouteContext(r.Context()); rctx != nil && entityID == "" {
			entityID = rctx.URLParam("id")
			if entityID == "" {
				entityID = rctx.URLParam("channel")
			}
		}
		staffID := auth.StaffID(r.Context())
		if staffID == nil {
			staffID = slot.staff
		}
		e := store.AuditEntry{
			StaffID:    staffID,
			Action:     action,
			EntityType: entityType,
			EntityID:   entityID,
			Method:     r.Method,
			Path:       r.URL.Path,
			Status:     status,
			RemoteAddr: r.RemoteAddr,
		}
		if err := h.store.AppendAudit(context.WithoutCancel(r.Context()), &e); err != nil {
			h.log.WithError(err).WithField("path", r.URL.Path).Error("failed to append audit entry")
		}
	})
}

// describe derives the audited entity type and action from a request path
// under /api. "/api/customers/3/adjust" is ("customers", "adjust"),
// "/api/auth/login" is ("auth", "login") and
// "DELETE /api/products/2" is ("products", "delete").
func describe(method, path string) (string, string) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(path, "/api"), "/"), "/")
	entity := parts[0]
	if len(parts) >= 2 && (entity == "settings" || entity == "import" || entity == "export") {
		entity = parts[0] + "." + parts[1]
		parts = parts[1:]
	}
	if n := len(parts); n >= 3 || (n == 2 && (parts[1] == "preview" || parts[1] == "login")) {
		return entity, parts[n-1]
	}
	switch {
	case strings.HasPrefix(entity, "import."):
		return entity, "import"
	case method == http.MethodPost:
		return entity, "create"
	case method == http.MethodDelete:
		return entity, "delete"
	default:
		return entity, "update"
	}
}
