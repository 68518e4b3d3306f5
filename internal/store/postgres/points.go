package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/wondertwin-ai/loyaltydesk/internal/store"
)

const txnCols = `id, customer_id, type, amount, balance_after, reason, reference_type, reference_id,
	staff_id, expires_at, remaining, expired, created_at`

// consumeLots spends $2 points from customer $1's expiring credits, soonest
// expiry first. The customer row is locked, so the running sum is stable.
const consumeLots = `
	WITH lots AS (
		SELECT id, remaining,
			SUM(remaining) OVER (ORDER BY expires_at, id) - remaining AS spent_before
		FROM points_transactions
		WHERE customer_id = $1 AND remaining > 0 AND NOT expired
	)
	UPDATE points_transactions p
	SET remaining = p.remaining - LEAST(lots.remaining, $2 - lots.spent_before)
	FROM lots
	WHERE p.id = lots.id AND lots.spent_before < $2`

const purchaseCols = `id, customer_id, product_id, quantity, amount, points_earned, reference, created_by, created_at`

func (s *Store) ApplyPoints(ctx context.Context, ch store.PointsChange) (store.Customer, store.PointsTransaction, error) {
	var (
		c   store.Customer
		txn store.PointsTransaction
	)
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		c, txn, err = s.applyPointsTx(ctx, tx, ch)
		return err
	})
	return c, txn, err
}

func (s *Store) applyPointsTx(ctx context.Context, tx *sqlx.Tx, ch store.PointsChange) (store.Customer, store.PointsTransaction, error) {
	c, err := lockCustomer(ctx, tx, ch.CustomerID)
	if err != nil {
		return store.Customer{}, store.PointsTransaction{}, err
	}
	amount := ch.Amount
	if ch.ExpireTxnID != 0 {
		var remaining int64
		if err := getOne(ctx, tx, &remaining, "points transaction", ch.ExpireTxnID, `
			SELECT remaining FROM points_transactions WHERE id = $1 AND customer_id = $2 FOR UPDATE
		`, ch.ExpireTxnID, c.ID); err != nil {
			return store.Customer{}, store.PointsTransaction{}, err
		}
		amount = -remaining
	}
	if ch.Clamp && amount < 0 && -amount > c.PointsBalance {
		amount = -c.PointsBalance
	}
	if c.PointsBalance+amount < 0 {
		return store.Customer{}, store.PointsTransaction{}, fmt.Errorf("customer %d has %d points: %w", c.ID, c.PointsBalance, store.ErrInsufficientPoints)
	}

	if ch.ExpireTxnID != 0 {
		if _, err := tx.ExecContext(ctx, `UPDATE points_transactions SET expired = TRUE, remaining = 0 WHERE id = $1`, ch.ExpireTxnID); err != nil {
			return store.Customer{}, store.PointsTransaction{}, fmt.Errorf("mark expired: %w", err)
		}
	} else if amount < 0 {
		if _, err := tx.ExecContext(ctx, consumeLots, c.ID, -amount); err != nil {
			return store.Customer{}, store.PointsTransaction{}, fmt.Errorf("consume expiring points: %w", err)
		}
	}
	if amount == 0 {
		return c, store.PointsTransaction{}, nil
	}

	ps, err := programTx(ctx, tx)
	if err != nil {
		return store.Customer{}, store.PointsTransaction{}, err
	}
	now := s.now()
	c.ApplyDelta(ch.Type, amount, now)
	c.Tier = ps.TierFor(c.LifetimePoints)

	if _, err := tx.ExecContext(ctx, `
		UPDATE customers
		SET points_balance = $2, lifetime_points = $3, points_redeemed = $4, points_expired = $5,
			tier = $6, last_activity_at = $7, updated_at = $8
		WHERE id = $1
	`, c.ID, c.PointsBalance, c.LifetimePoints, c.PointsRedeemed, c.PointsExpired, c.Tier, c.LastActivityAt, c.UpdatedAt); err != nil {
		return store.Customer{}, store.PointsTransaction{}, fmt.Errorf("update balance: %w", mapErr(err))
	}

	txn := store.PointsTransaction{
		CustomerID:    c.ID,
		Type:          ch.Type,
		Amount:        amount,
		BalanceAfter:  c.PointsBalance,
		Reason:        ch.Reason,
		ReferenceType: ch.ReferenceType,
		ReferenceID:   ch.ReferenceID,
		StaffID:       ch.StaffID,
		ExpiresAt:     ch.ExpiresAt,
		CreatedAt:     now,
	}
	if amount > 0 && ch.ExpiresAt != nil {
		txn.Remaining = amount
	}
	if err := tx.QueryRowxContext(ctx, `
		INSERT INTO points_transactions (customer_id, type, amount, balance_after, reason, reference_type,
			reference_id, staff_id, expires_at, remaining, expired, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, FALSE, $11)
		RETURNING id
	`, txn.CustomerID, txn.Type, txn.Amount, txn.BalanceAfter, txn.Reason, txn.ReferenceType,
		txn.ReferenceID, txn.StaffID, txn.ExpiresAt, txn.Remaining, txn.CreatedAt).Scan(&txn.ID); err != nil {
		return store.Customer{}, store.PointsTransaction{}, fmt.Errorf("insert ledger row: %w", mapErr(err))
	}
	return c, txn, nil
}

func (s *Store) RecordPurchase(ctx context.Context, p *store.Purchase, ch store.PointsChange) (bool, error) {
	replayed := false
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := lockCustomer(ctx, tx, p.CustomerID); err != nil {
			return err
		}
		if p.Reference != "" {
			var prev store.Purchase
			err := sqlx.GetContext(ctx, tx, &prev, `SELECT `+purchaseCols+`
				FROM purchases WHERE customer_id = $1 AND reference = $2`, p.CustomerID, p.Reference)
			switch {
			case err == nil:
				*p = prev
				replayed = true
				return nil
			case !errors.Is(err, sql.ErrNoRows):
				return fmt.Errorf("lookup purchase: %w", err)
			}
		}

		p.CreatedAt = s.now()
		if err := tx.QueryRowxContext(ctx, `
			INSERT INTO purchases (customer_id, product_id, quantity, amount, points_earned, reference, created_by, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id
		`, p.CustomerID, p.ProductID, p.Quantity, p.Amount, p.PointsEarned, p.Reference, p.CreatedBy, p.CreatedAt).Scan(&p.ID); err != nil {
			return fmt.Errorf("insert purchase: %w", mapErr(err))
		}

		if ch.Amount == 0 {
			return nil
		}
		id := p.ID
		ch.CustomerID = p.CustomerID
		ch.ReferenceType = "purchase"
		ch.ReferenceID = &id
		_, _, err := s.applyPointsTx(ctx, tx, ch)
		return err
	})
	return replayed, err
}

func (s *Store) ListPurchases(ctx context.Context, customerID int64, p store.ListParams) (store.Page[store.Purchase], error) {
	var w where
	if customerID != 0 {
		w.add("customer_id = ?", customerID)
	}
	return list[store.Purchase](ctx, s.db, "purchases", purchaseCols, w, p, []string{"id", "created_at"}, store.SortSpec{Field: "id", Desc: true})
}

func (s *Store) ListTransactions(ctx context.Context, customerID int64, p store.ListParams) (store.Page[store.PointsTransaction], error) {
	var w where
	if customerID != 0 {
		w.add("customer_id = ?", customerID)
	}
	w.eq(p, "type", "type")
	return list[store.PointsTransaction](ctx, s.db, "points_transactions", txnCols, w, p, []string{"id", "created_at"}, store.SortSpec{Field: "id", Desc: true})
}

func (s *Store) ListExpirableEarns(ctx context.Context, t time.Time, limit int) ([]store.PointsTransaction, error) {
	if limit <= 0 {
		limit = 1000
	}
	out := []store.PointsTransaction{}
	err := sqlx.SelectContext(ctx, s.db, &out, `
		SELECT `+txnCols+`
		FROM points_transactions
		WHERE type = 'earn' AND NOT expired AND remaining > 0 AND expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY id
		LIMIT $2
	`, t, limit)
	if err != nil {
		return nil, fmt.Errorf("list expirable earns: %w", err)
	}
	return out, nil
}
