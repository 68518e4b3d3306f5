package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/wondertwin-ai/loyaltydesk/internal/store"
)

const roleCols = `id, name, description, permissions, created_at, updated_at`

const staffCols = `id, name, email, password_hash, role_id, active, last_login_at, created_at, updated_at`

func (s *Store) ListRoles(ctx context.Context) ([]store.Role, error) {
	out := []store.Role{}
	if err := sqlx.SelectContext(ctx, s.db, &out, `SELECT `+roleCols+` FROM roles ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	return out, nil
}

func (s *Store) GetRole(ctx context.Context, id int64) (store.Role, error) {
	var r store.Role
	err := getOne(ctx, s.db, &r, "role", id, `SELECT `+roleCols+` FROM roles WHERE id = $1`, id)
	return r, err
}

func (s *Store) GetRoleByName(ctx context.Context, name string) (store.Role, error) {
	var r store.Role
	err := getOne(ctx, s.db, &r, "role", name, `SELECT `+roleCols+` FROM roles WHERE LOWER(name) = LOWER($1)`, name)
	return r, err
}

func (s *Store) CreateRole(ctx context.Context, r *store.Role) error {
	now := s.now()
	r.CreatedAt, r.UpdatedAt = now, now
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO roles (name, description, permissions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, r.Name, r.Description, r.Permissions, r.CreatedAt, r.UpdatedAt).Scan(&r.ID)
	return wrapErr("create", "role", r.Name, err)
}

func (s *Store) UpdateRole(ctx context.Context, r *store.Role) error {
	err := sqlx.GetContext(ctx, s.db, r, `
		UPDATE roles SET name = $2, description = $3, permissions = $4, updated_at = $5
		WHERE id = $1
		RETURNING `+roleCols,
		r.ID, r.Name, r.Description, r.Permissions, s.now())
	return wrapErr("update", "role", r.ID, err)
}

func (s *Store) DeleteRole(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete role %d: %w", id, mapErr(err))
	}
	return expectOne(res, "role", id)
}

func (s *Store) ListStaff(ctx context.Context, p store.ListParams) (store.Page[store.Staff], error) {
	var w where
	w.search(p.Query, "name", "email")
	w.id(p, "role_id", "role_id")
	w.boolean(p, "active", "active")
	return list[store.Staff](ctx, s.db, "staff", staffCols, w, p, store.StaffSorts, store.SortSpec{Field: "id"})
}

func (s *Store) GetStaff(ctx context.Context, id int64) (store.Staff, error) {
	var st store.Staff
	err := getOne(ctx, s.db, &st, "staff", id, `SELECT `+staffCols+` FROM staff WHERE id = $1`, id)
	return st, err
}

func (s *Store) GetStaffByEmail(ctx context.Context, email string) (store.Staff, error) {
	var st store.Staff
	err := getOne(ctx, s.db, &st, "staff", email, `SELECT `+staffCols+` FROM staff WHERE LOWER(email) = LOWER($1)`, email)
	return st, err
}

func (s *Store) CreateStaff(ctx context.Context, st *store.Staff) error {
	now := s.now()
	st.CreatedAt, st.UpdatedAt = now, now
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO staff (name, email, password_hash, role_id, active, last_login_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, st.Name, st.Email, st.PasswordHash, st.RoleID, st.Active, st.LastLoginAt, st.CreatedAt, st.UpdatedAt).Scan(&st.ID)
	return wrapErr("create", "staff", st.Email, err)
}

func (s *Store) UpdateStaff(ctx context.Context, st *store.Staff) error {
	err := sqlx.GetContext(ctx, s.db, st, `
		UPDATE staff
		SET name = $2, email = $3, password_hash = $4, role_id = $5, active = $6, last_login_at = $7, updated_at = $8
		WHERE id = $1
		RETURNING `+staffCols,
		st.ID, st.Name, st.Email, st.PasswordHash, st.RoleID, st.Active, st.LastLoginAt, s.now())
	return wrapErr("update", "staff", st.ID, err)
}

func (s *Store) DeleteStaff(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM staff WHERE id = $1`, id)
	if err != nil {
		return wrapErr("delete", "staff", id, err)
	}
	return expectOne(res, "staff", id)
}

func (s *Store) CountStaffWithRole(ctx context.Context, roleID int64) (int, error) {
	var n int
	if err := sqlx.GetContext(ctx, s.db, &n, `SELECT COUNT(*) FROM staff WHERE role_id = $1`, roleID); err != nil {
		return 0, fmt.Errorf("count staff: %w", err)
	}
	return n, nil
}
