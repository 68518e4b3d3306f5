package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/wondertwin-ai/loyaltydesk/internal/store"
)

const redemptionCols = `id, code, customer_id, reward_id, points_spent, verification_status, verification_code,
	verification_attempts, verification_expires_at, delivery_status, delivery_note, created_by,
	verified_at, delivered_at, cancelled_at, created_at, updated_at`

// CreateRedemption and CancelRedemption both lock the customer row before the
// reward or redemption row, so a create and a cancel never wait on each other
// in opposite orders.
func (s *Store) CreateRedemption(ctx context.Context, r *store.Redemption) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := lockCustomer(ctx, tx, r.CustomerID); err != nil {
			return err
		}
		var reward store.Reward
		if err := getOne(ctx, tx, &reward, "reward", r.RewardID,
			`SELECT `+rewardCols+` FROM rewards WHERE id = $1 FOR UPDATE`, r.RewardID); err != nil {
			return err
		}
		if !reward.Active {
			return fmt.Errorf("reward %d: %w", reward.ID, store.ErrInactive)
		}
		if !reward.InStock() {
			return fmt.Errorf("reward %d: %w", reward.ID, store.ErrOutOfStock)
		}

		now := s.now()
		r.PointsSpent = reward.PointsCost
		r.CreatedAt, r.UpdatedAt = now, now
		if r.DeliveryStatus == "" {
			r.DeliveryStatus = store.DeliveryPending
		}
		if err := tx.QueryRowxContext(ctx, `
			INSERT INTO redemptions (code, customer_id, reward_id, points_spent, verification_status,
				verification_code, verification_attempts, verification_expires_at, delivery_status,
				delivery_note, created_by, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			RETURNING id
		`, r.Code, r.CustomerID, r.RewardID, r.PointsSpent, r.VerificationStatus,
			r.VerificationCode, r.VerificationAttempts, r.VerificationExpiresAt, r.DeliveryStatus,
			r.DeliveryNote, r.CreatedBy, r.CreatedAt, r.UpdatedAt).Scan(&r.ID); err != nil {
			return fmt.Errorf("insert redemption: %w", mapErr(err))
		}

		id := r.ID
		if _, _, err := s.applyPointsTx(ctx, tx, store.PointsChange{
			CustomerID:    r.CustomerID,
			Type:          store.TxnRedeem,
			Amount:        -reward.PointsCost,
			Reason:        "Redeemed " + reward.Name,
			ReferenceType: "redemption",
			ReferenceID:   &id,
			StaffID:       r.CreatedBy,
		}); err != nil {
			return err
		}

		if reward.Stock != nil {
			if _, err := tx.ExecContext(ctx, `UPDATE rewards SET stock = stock - 1, updated_at = $2 WHERE id = $1`, reward.ID, now); err != nil {
				return fmt.Errorf("take stock: %w", mapErr(err))
			}
		}
		return nil
	})
}

func (s *Store) CancelRedemption(ctx context.Context, id int64, staffID *int64, note string) (store.Redemption, error) {
	var r store.Redemption
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var customerID int64
		if err := getOne(ctx, tx, &customerID, "redemption", id,
			`SELECT customer_id FROM redemptions WHERE id = $1`, id); err != nil {
			return err
		}
		if _, err := lockCustomer(ctx, tx, customerID); err != nil {
			return err
		}
		if err := getOne(ctx, tx, &r, "redemption", id,
			`SELECT `+redemptionCols+` FROM redemptions WHERE id = $1 FOR UPDATE`, id); err != nil {
			return err
		}
		if !r.Open() {
			return fmt.Errorf("%w: redemption %s is already %s", store.ErrConflict, r.Code, r.DeliveryStatus)
		}

		rid := r.ID
		if _, _, err := s.applyPointsTx(ctx, tx, store.PointsChange{
			CustomerID:    r.CustomerID,
			Type:          store.TxnRefund,
			Amount:        r.PointsSpent,
			Reason:        "Cancelled redemption " + r.Code,
			ReferenceType: "redemption",
			ReferenceID:   &rid,
			StaffID:       staffID,
		}); err != nil {
			return err
		}

		now := s.now()
		if _, err := tx.ExecContext(ctx, `
			UPDATE rewards SET stock = stock + 1, updated_at = $2 WHERE id = $1 AND stock IS NOT NULL
		`, r.RewardID, now); err != nil {
			return fmt.Errorf("restore stock: %w", err)
		}

		if note == "" {
			note = r.DeliveryNote
		}
		return sqlx.GetContext(ctx, tx, &r, `
			UPDATE redemptions
			SET delivery_status = $2, delivery_note = $3, cancelled_at = $4, updated_at = $4
			WHERE id = $1
			RETURNING `+redemptionCols,
			r.ID, store.DeliveryCancelled, note, now)
	})
	if err != nil {
		return store.Redemption{}, err
	}
	return r, nil
}

func (s *Store) GetRedemption(ctx context.Context, id int64) (store.Redemption, error) {
	var r store.Redemption
	err := getOne(ctx, s.db, &r, "redemption", id, `SELECT `+redemptionCols+` FROM redemptions WHERE id = $1`, id)
	return r, err
}

// UpdateRedemption is a compare-and-swap on delivery status, verification
// status and attempts.
func (s *Store) UpdateRedemption(ctx context.Context, r *store.Redemption, prev store.RedemptionState) error {
	err := sqlx.GetContext(ctx, s.db, r, `
		UPDATE redemptions
		SET verification_status = $2, verification_code = $3, verification_attempts = $4,
			verification_expires_at = $5, delivery_status = $6, delivery_note = $7,
			verified_at = $8, delivered_at = $9, cancelled_at = $10, updated_at = $11
		WHERE id = $1 AND delivery_status = $12 AND verification_status = $13 AND verification_attempts = $14
		RETURNING `+redemptionCols,
		r.ID, r.VerificationStatus, r.VerificationCode, r.VerificationAttempts,
		r.VerificationExpiresAt, r.DeliveryStatus, r.DeliveryNote,
		r.VerifiedAt, r.DeliveredAt, r.CancelledAt, s.now(),
		prev.DeliveryStatus, prev.VerificationStatus, prev.VerificationAttempts)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return wrapErr("update", "redemption", r.ID, err)
	}
	cur, err := s.GetRedemption(ctx, r.ID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: redemption %s changed concurrently, now %s/%s",
		store.ErrConflict, cur.Code, cur.DeliveryStatus, cur.VerificationStatus)
}

func (s *Store) ListRedemptions(ctx context.Context, p store.ListParams) (store.Page[store.Redemption], error) {
	var w where
	w.search(p.Query, "code")
	w.eq(p, "delivery_status", "delivery_status")
	w.eq(p, "verification_status", "verification_status")
	w.id(p, "customer_id", "customer_id")
	w.id(p, "reward_id", "reward_id")
	return list[store.Redemption](ctx, s.db, "redemptions", redemptionCols, w, p, store.RedemptionSorts, store.SortSpec{Field: "id", Desc: true})
}

func (s *Store) CountOpenRedemptions(ctx context.Context, customerID int64) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, s.db, &n, `
		SELECT COUNT(*) FROM redemptions
		WHERE customer_id = $1 AND delivery_status NOT IN ('delivered', 'cancelled')
	`, customerID)
	if err != nil {
		return 0, fmt.Errorf("count open redemptions: %w", err)
	}
	return n, nil
}
