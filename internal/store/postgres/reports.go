package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/wondertwin-ai/loyaltydesk/internal/store"
)

const topRewardsLimit = 5

type statusCount struct {
	Key   string `db:"key"`
	Count int    `db:"count"`
}

func (s *Store) Summary(ctx context.Context, from, to time.Time) (store.Summary, error) {
	sum := store.Summary{
		From:                   from,
		To:                     to,
		RedemptionsByStatus:    map[string]int{},
		NotificationsByChannel: map[string]int{},
		NotificationsByStatus:  map[string]int{},
		TopRewards:             []store.RewardCount{},
	}

	var cust struct {
		Total       int   `db:"total"`
		New         int   `db:"new"`
		Active      int   `db:"active"`
		Outstanding int64 `db:"outstanding"`
	}
	if err := sqlx.GetContext(ctx, s.db, &cust, `
		SELECT
			COUNT(*) FILTER (WHERE created_at < $2) AS total,
			COUNT(*) FILTER (WHERE created_at >= $1 AND created_at < $2) AS new,
			COUNT(*) FILTER (WHERE last_activity_at >= $1 AND last_activity_at < $2) AS active,
			COALESCE(SUM(points_balance), 0) AS outstanding
		FROM customers
	`, from, to); err != nil {
		return store.Summary{}, fmt.Errorf("summary customers: %w", err)
	}
	sum.TotalCustomers, sum.NewCustomers, sum.ActiveCustomers = cust.Total, cust.New, cust.Active
	sum.OutstandingPoints = cust.Outstanding

	var pts struct {
		Issued   int64 `db:"issued"`
		Redeemed int64 `db:"redeemed"`
		Refunded int64 `db:"refunded"`
		Expired  int64 `db:"expired"`
	}
	if err := sqlx.GetContext(ctx, s.db, &pts, `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE type = 'earn' OR (type = 'adjust' AND amount > 0)), 0) AS issued,
			COALESCE(-SUM(amount) FILTER (WHERE type = 'redeem'), 0) AS redeemed,
			COALESCE(SUM(amount) FILTER (WHERE type = 'refund'), 0) AS refunded,
			COALESCE(-SUM(amount) FILTER (WHERE type = 'expire'), 0) AS expired
		FROM points_transactions
		WHERE created_at >= $1 AND created_at < $2
	`, from, to); err != nil {
		return store.Summary{}, fmt.Errorf("summary points: %w", err)
	}
	sum.PointsIssued, sum.PointsRedeemed = pts.Issued, pts.Redeemed
	sum.PointsRefunded, sum.PointsExpired = pts.Refunded, pts.Expired

	if err := s.countInto(ctx, sum.RedemptionsByStatus, `
		SELECT delivery_status AS key, COUNT(*) AS count FROM redemptions
		WHERE created_at >= $1 AND created_at < $2 GROUP BY delivery_status
	`, from, to); err != nil {
		return store.Summary{}, err
	}
	if err := s.countInto(ctx, sum.NotificationsByChannel, `
		SELECT channel AS key, COUNT(*) AS count FROM notifications
		WHERE created_at >= $1 AND created_at < $2 GROUP BY channel
	`, from, to); err != nil {
		return store.Summary{}, err
	}
	if err := s.countInto(ctx, sum.NotificationsByStatus, `
		SELECT status AS key, COUNT(*) AS count FROM notifications
		WHERE created_at >= $1 AND created_at < $2 GROUP BY status
	`, from, to); err != nil {
		return store.Summary{}, err
	}

	if err := sqlx.SelectContext(ctx, s.db, &sum.TopRewards, `
		SELECT r.reward_id, COALESCE(w.name, '') AS name, COUNT(*) AS count
		FROM redemptions r
		LEFT JOIN rewards w ON w.id = r.reward_id
		WHERE r.created_at >= $1 AND r.created_at < $2 AND r.delivery_status <> 'cancelled'
		GROUP BY r.reward_id, w.name
		ORDER BY count DESC, r.reward_id
		LIMIT $3
	`, from, to, topRewardsLimit); err != nil {
		return store.Summary{}, fmt.Errorf("summary top rewards: %w", err)
	}
	return sum, nil
}

func (s *Store) countInto(ctx context.Context, dst map[string]int, query string, args ...any) error {
	var rows []statusCount
	if err := sqlx.SelectContext(ctx, s.db, &rows, query, args...); err != nil {
		return fmt.Errorf("summary counts: %w", err)
	}
	for _, r := range rows {
		dst[r.Key] = r.Count
	}
	return nil
}

// DailySeries returns one point per UTC day in [from, to).
func (s *Store) DailySeries(ctx context.Context, from, to time.Time) ([]store.DailyPoint, error) {
	out := []store.DailyPoint{}
	if !from.Before(to) {
		return out, nil
	}
	err := sqlx.SelectContext(ctx, s.db, &out, `
		WITH days AS (
			SELECT generate_series(
				($1::timestamptz AT TIME ZONE 'UTC')::date,
				(($2::timestamptz - interval '1 microsecond') AT TIME ZONE 'UTC')::date,
				interval '1 day'
			)::date AS day
		),
		pts AS (
			SELECT (created_at AT TIME ZONE 'UTC')::date AS day,
				SUM(amount) FILTER (WHERE type = 'earn' OR (type = 'adjust' AND amount > 0)) AS issued,
				-SUM(amount) FILTER (WHERE type = 'redeem') AS redeemed
			FROM points_transactions
			WHERE created_at >= $1 AND created_at < $2
			GROUP BY 1
		),
		cust AS (
			SELECT (created_at AT TIME ZONE 'UTC')::date AS day, COUNT(*) AS n
			FROM customers
			WHERE created_at >= $1 AND created_at < $2
			GROUP BY 1
		)
		SELECT to_char(d.day, 'YYYY-MM-DD') AS day,
			COALESCE(p.issued, 0) AS points_issued,
			COALESCE(p.redeemed, 0) AS points_redeemed,
			COALESCE(c.n, 0) AS new_customers
		FROM days d
		LEFT JOIN pts p ON p.day = d.day
		LEFT JOIN cust c ON c.day = d.day
		ORDER BY d.day
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("daily series: %w", err)
	}
	return out, nil
}
