package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/wondertwin-ai/loyaltydesk/internal/segment"
	"github.com/wondertwin-ai/loyaltydesk/internal/store"
)

const customerCols = `id, code, first_name, last_name, email, phone, city, tier, status,
	points_balance, lifetime_points, points_redeemed, points_expired,
	opt_in_sms, opt_in_whatsapp, opt_in_email, last_activity_at, created_at, updated_at`

func (s *Store) ListCustomers(ctx context.Context, p store.ListParams) (store.Page[store.Customer], error) {
	var w where
	w.search(p.Query, "first_name", "last_name", "first_name || ' ' || last_name", "email", "phone", "code")
	w.eq(p, "status", "status")
	w.eq(p, "tier", "tier")
	w.eq(p, "city", "city")
	return list[store.Customer](ctx, s.db, "customers", customerCols, w, p, store.CustomerSorts, store.SortSpec{Field: "id"})
}

func (s *Store) MatchCustomers(ctx context.Context, match string, criteria []store.Criterion, p store.ListParams) (store.Page[store.Customer], error) {
	cond, args, err := segment.SQL(match, criteria, s.now())
	if err != nil {
		return store.Page[store.Customer]{}, err
	}
	var w where
	w.add(cond, args...)
	return list[store.Customer](ctx, s.db, "customers", customerCols, w, p, store.CustomerSorts, store.SortSpec{Field: "id"})
}

func (s *Store) GetCustomer(ctx context.Context, id int64) (store.Customer, error) {
	var c store.Customer
	err := getOne(ctx, s.db, &c, "customer", id, `SELECT `+customerCols+` FROM customers WHERE id = $1`, id)
	return c, err
}

func (s *Store) GetCustomerByEmail(ctx context.Context, email string) (store.Customer, error) {
	var c store.Customer
	err := getOne(ctx, s.db, &c, "customer", email,
		`SELECT `+customerCols+` FROM customers WHERE email <> '' AND LOWER(email) = LOWER($1)`, email)
	return c, err
}

func lockCustomer(ctx context.Context, tx *sqlx.Tx, id int64) (store.Customer, error) {
	var c store.Customer
	err := getOne(ctx, tx, &c, "customer", id, `SELECT `+customerCols+` FROM customers WHERE id = $1 FOR UPDATE`, id)
	return c, err
}

func (s *Store) CreateCustomer(ctx context.Context, c *store.Customer) error {
	now := s.now()
	if c.Tier == "" {
		c.Tier = store.TierBronze
	}
	if c.Status == "" {
		c.Status = store.CustomerActive
	}
	c.CreatedAt, c.UpdatedAt = now, now
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.QueryRowxContext(ctx, `
			INSERT INTO customers (code, first_name, last_name, email, phone, city, tier, status,
				points_balance, lifetime_points, points_redeemed, points_expired,
				opt_in_sms, opt_in_whatsapp, opt_in_email, last_activity_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
			RETURNING id
		`, c.Code, c.FirstName, c.LastName, c.Email, c.Phone, c.City, c.Tier, c.Status,
			c.PointsBalance, c.LifetimePoints, c.PointsRedeemed, c.PointsExpired,
			c.OptInSMS, c.OptInWhatsApp, c.OptInEmail, c.LastActivityAt, c.CreatedAt, c.UpdatedAt,
		).Scan(&c.ID)
		if err != nil {
			return fmt.Errorf("insert customer: %w", mapErr(err))
		}
		if c.Code == "" {
			c.Code = store.CustomerCode(c.ID)
			if _, err := tx.ExecContext(ctx, `UPDATE customers SET code = $2 WHERE id = $1`, c.ID, c.Code); err != nil {
				return fmt.Errorf("set customer code: %w", err)
			}
		}
		return nil
	})
}

// UpdateCustomer writes profile fields only. Balances and tier are owned by
// ApplyPoints.
func (s *Store) UpdateCustomer(ctx context.Context, c *store.Customer) error {
	err := sqlx.GetContext(ctx, s.db, c, `
		UPDATE customers
		SET first_name = $2, last_name = $3, email = $4, phone = $5, city = $6, status = $7,
			opt_in_sms = $8, opt_in_whatsapp = $9, opt_in_email = $10, updated_at = $11
		WHERE id = $1
		RETURNING `+customerCols,
		c.ID, c.FirstName, c.LastName, c.Email, c.Phone, c.City, c.Status,
		c.OptInSMS, c.OptInWhatsApp, c.OptInEmail, s.now())
	return wrapErr("update", "customer", c.ID, err)
}

// DeleteCustomer refuses while the customer has open redemptions. The
// customer row lock keeps a concurrent redemption from slipping in.
func (s *Store) DeleteCustomer(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := lockCustomer(ctx, tx, id); err != nil {
			return err
		}
		var open int
		if err := sqlx.GetContext(ctx, tx, &open, `
			SELECT COUNT(*) FROM redemptions
			WHERE customer_id = $1 AND delivery_status NOT IN ('delivered', 'cancelled')
		`, id); err != nil {
			return fmt.Errorf("count open redemptions: %w", err)
		}
		if open > 0 {
			return fmt.Errorf("%w: customer has %d open redemption(s)", store.ErrConflict, open)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete customer: %w", mapErr(err))
		}
		return expectOne(res, "customer", id)
	})
}
