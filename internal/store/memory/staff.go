package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/wondertwin-ai/loyaltydesk/internal/store"
)

var staffSorter = sorter[store.Staff]{
	"id":         byID(func(s store.Staff) int64 { return s.ID }),
	"name":       byString(func(s store.Staff) string { return s.Name }),
	"email":      byString(func(s store.Staff) string { return s.Email }),
	"created_at": func(a, b store.Staff) int { return a.CreatedAt.Compare(b.CreatedAt) },
}

func (s *Store) ListRoles(ctx context.Context) ([]store.Role, error) {
	return s.roles.list(), nil
}

func (s *Store) GetRole(ctx context.Context, id int64) (store.Role, error) {
	r, ok := s.roles.get(id)
	if !ok {
		return store.Role{}, notFound("role", id)
	}
	return r, nil
}

func (s *Store) GetRoleByName(ctx context.Context, name string) (store.Role, error) {
	r, ok := s.roles.find(func(r store.Role) bool { return strings.EqualFold(r.Name, name) })
	if !ok {
		return store.Role{}, notFound("role", name)
	}
	return r, nil
}

func (s *Store) roleNameTakenLocked(name string, exceptID int64) bool {
	_, taken := s.roles.find(func(r store.Role) bool {
		return r.ID != exceptID && strings.EqualFold(r.Name, name)
	})
	return taken
}

func (s *Store) CreateRole(ctx context.Context, r *store.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.roleNameTakenLocked(r.Name, 0) {
		return fmt.Errorf("%w: role %q already exists", store.ErrConflict, r.Name)
	}
	now := s.clock.Now()
	r.ID = s.roles.nextID()
	r.CreatedAt = now
	r.UpdatedAt = now
	s.roles.set(r.ID, *r)
	return nil
}

func (s *Store) UpdateRole(ctx context.Context, r *store.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.roles.get(r.ID)
	if !ok {
		return notFound("role", r.ID)
	}
	if s.roleNameTakenLocked(r.Name, r.ID) {
		return fmt.Errorf("%w: role %q already exists", store.ErrConflict, r.Name)
	}
	r.CreatedAt = cur.CreatedAt
	r.UpdatedAt = s.clock.Now()
	s.roles.set(r.ID, *r)
	return nil
}

func (s *Store) DeleteRole(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles.get(id); !ok {
		return notFound("role", id)
	}
	if s.staff.count(func(st store.Staff) bool { return st.RoleID == id }) > 0 {
		return fmt.Errorf("role %d is assigned to staff: %w", id, store.ErrInUse)
	}
	s.roles.delete(id)
	return nil
}

func (s *Store) ListStaff(ctx context.Context, p store.ListParams) (store.Page[store.Staff], error) {
	items := s.staff.filter(func(st store.Staff) bool {
		return containsFold(p.Query, st.Name, st.Email) &&
			idFilter(p, "role_id", st.RoleID) &&
			boolFilter(p, "active", st.Active)
	})
	return page(items, p, store.StaffSorts, store.SortSpec{Field: "id"}, staffSorter)
}

func (s *Store) GetStaff(ctx context.Context, id int64) (store.Staff, error) {
	st, ok := s.staff.get(id)
	if !ok {
		return store.Staff{}, notFound("staff", id)
	}
	return st, nil
}

func (s *Store) GetStaffByEmail(ctx context.Context, email string) (store.Staff, error) {
	st, ok := s.staff.find(func(st store.Staff) bool { return strings.EqualFold(st.Email, email) })
	if !ok {
		return store.Staff{}, notFound("staff", email)
	}
	return st, nil
}

func (s *Store) staffEmailTakenLocked(email string, exceptID int64) bool {
	_, taken := s.staff.find(func(st store.Staff) bool {
		return st.ID != exceptID && strings.EqualFold(st.Email, email)
	})
	return taken
}

func (s *Store) CreateStaff(ctx context.Context, st *store.Staff) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.staffEmailTakenLocked(st.Email, 0) {
		return fmt.Errorf("%w: staff email %q already exists", store.ErrConflict, st.Email)
	}
	if _, ok := s.roles.get(st.RoleID); !ok {
		return notFound("role", st.RoleID)
	}
	now := s.clock.Now()
	st.ID = s.staff.nextID()
	st.CreatedAt = now
	st.UpdatedAt = now
	s.staff.set(st.ID, *st)
	return nil
}

func (s *Store) UpdateStaff(ctx context.Context, st *store.Staff) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.staff.get(st.ID)
	if !ok {
		return notFound("staff", st.ID)
	}
	if s.staffEmailTakenLocked(st.Email, st.ID) {
		return fmt.Errorf("%w: staff email %q already exists", store.ErrConflict, st.Email)
	}
	if _, ok := s.roles.get(st.RoleID); !ok {
		return notFound("role", st.RoleID)
	}
	st.CreatedAt = cur.CreatedAt
	st.UpdatedAt = s.clock.Now()
	s.staff.set(st.ID, *st)
	return nil
}

func (s *Store) DeleteStaff(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.staff.delete(id) {
		return notFound("staff", id)
	}
	return nil
}

func (s *Store) CountStaffWithRole(ctx context.Context, roleID int64) (int, error) {
	return s.staff.count(func(st store.Staff) bool { return st.RoleID == roleID }), nil
}
