// Package postgres implements store.Store on PostgreSQL using sqlx and
// lib/pq. Multi-row changes run in a single transaction with the customer row
// locked FOR UPDATE.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/wondertwin-ai/loyaltydesk/internal/store"
)

// Store is the PostgreSQL backend.
type Store struct {
	db    *sqlx.DB
	clock *store.Clock
}

var _ store.Store = (*Store)(nil)

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string, maxOpenConns int) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns)
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// New wraps an open database. A nil clock uses wall time.
func New(db *sqlx.DB, clock *store.Clock) *Store {
	return &Store{db: db, clock: clock}
}

// DB exposes the underlying handle for migrations.
func (s *Store) DB() *sqlx.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) now() time.Time { return s.clock.Now() }

func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", mapErr(err))
	}
	return nil
}

// constraintMessages names the unique indexes clients can trip.
var constraintMessages = map[string]string{
	"customers_email_key":     "email is already registered",
	"products_sku_key":        "sku already exists",
	"roles_name_key":          "role name already exists",
	"staff_email_key":         "staff email already exists",
	"redemptions_code_key":    "redemption code already exists",
	"purchases_reference_key": "purchase reference already recorded",
}

// mapErr translates driver errors into store sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			msg := constraintMessages[pqErr.Constraint]
			if msg == "" {
				msg = pqErr.Message
			}
			return fmt.Errorf("%w: %s", store.ErrConflict, msg)
		case "23503":
			if strings.Contains(pqErr.Message, "update or delete") {
				return fmt.Errorf("%w: %s", store.ErrInUse, pqErr.Detail)
			}
			return fmt.Errorf("%w: %s", store.ErrNotFound, pqErr.Detail)
		case "23514":
			if pqErr.Constraint == "customers_points_balance_check" {
				return store.ErrInsufficientPoints
			}
		}
	}
	return err
}

func notFound(entity string, id any) error {
	return fmt.Errorf("%s %v: %w", entity, id, store.ErrNotFound)
}

// wrapErr maps err and names the entity in not-found errors. nil stays nil.
func wrapErr(op, entity string, id any, err error) error {
	if err == nil {
		return nil
	}
	err = mapErr(err)
	if err == store.ErrNotFound {
		return notFound(entity, id)
	}
	return fmt.Errorf("%s %s: %w", op, entity, err)
}

// getOne runs a single-row query and maps missing rows to a named not-found.
func getOne(ctx context.Context, q sqlx.QueryerContext, dst any, entity string, id any, query string, args ...any) error {
	if err := sqlx.GetContext(ctx, q, dst, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound(entity, id)
		}
		return fmt.Errorf("get %s: %w", entity, err)
	}
	return nil
}

// expectOne checks an UPDATE or DELETE touched a row.
func expectOne(res sql.Result, entity string, id any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(entity, id)
	}
	return nil
}

// where accumulates AND-ed conditions written with ? placeholders.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, args ...any) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

// search adds a case-insensitive substring match over cols.
func (w *where) search(q string, cols ...string) {
	if q == "" {
		return
	}
	like := "%" + strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(strings.ToLower(q)) + "%"
	parts := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		parts[i] = "LOWER(" + c + ") LIKE ?"
		args[i] = like
	}
	w.add("("+strings.Join(parts, " OR ")+")", args...)
}

func (w *where) eq(p store.ListParams, key, col string) {
	if v, ok := p.Filter(key); ok {
		w.add("LOWER("+col+") = LOWER(?)", v)
	}
}

func (w *where) id(p store.ListParams, key, col string) {
	if v, ok := p.Filter(key); ok {
		w.add(col+" = ?", v)
	}
}

func (w *where) boolean(p store.ListParams, key, col string) {
	if v, ok := p.Filter(key); ok {
		w.add(col+" = ?", strings.EqualFold(v, "true") || v == "1")
	}
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// textSorts are ordered case-insensitively to match the memory backend.
var textSorts = map[string]bool{"first_name": true, "last_name": true, "email": true, "name": true, "sku": true}

// list counts and selects one page of rows from table.
func list[T any](ctx context.Context, db *sqlx.DB, table, cols string, w where, p store.ListParams, allowed []string, def store.SortSpec) (store.Page[T], error) {
	p = p.Normalize()
	spec, err := store.ParseSort(p.Sort, allowed, def)
	if err != nil {
		return store.Page[T]{}, err
	}

	var total int
	if err := sqlx.GetContext(ctx, db, &total, db.Rebind("SELECT COUNT(*) FROM "+table+w.String()), w.args...); err != nil {
		return store.Page[T]{}, fmt.Errorf("count %s: %w", table, err)
	}

	dir := " ASC"
	if spec.Desc {
		dir = " DESC"
	}
	order := spec.Field
	if textSorts[order] {
		order = "LOWER(" + order + ")"
	}
	q := "SELECT " + cols + " FROM " + table + w.String() + " ORDER BY " + order + dir + ", id" + dir
	if !p.Unpaged {
		q += fmt.Sprintf(" LIMIT %d OFFSET %d", p.PerPage, p.Offset())
	}

	items := []T{}
	if err := sqlx.SelectContext(ctx, db, &items, db.Rebind(q), w.args...); err != nil {
		return store.Page[T]{}, fmt.Errorf("list %s: %w", table, err)
	}
	return store.NewPage(items, total, p), nil
}
