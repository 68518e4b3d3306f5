package memory

import (
	"context"
	"slices"
	"time"

	"github.com/wondertwin-ai/loyaltydesk/internal/store"
)

const topRewardsLimit = 5

func inRange(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}

// issued reports whether a ledger row counts toward points issued.
func issued(t store.PointsTransaction) bool {
	return t.Type == store.TxnEarn || (t.Type == store.TxnAdjust && t.Amount > 0)
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

	for _, c := range s.customers.list() {
		if c.CreatedAt.Before(to) {
			sum.TotalCustomers++
		}
		if inRange(c.CreatedAt, from, to) {
			sum.NewCustomers++
		}
		if c.LastActivityAt != nil && inRange(*c.LastActivityAt, from, to) {
			sum.ActiveCustomers++
		}
		sum.OutstandingPoints += c.PointsBalance
	}

	for _, t := range s.transactions.list() {
		if !inRange(t.CreatedAt, from, to) {
			continue
		}
		switch {
		case issued(t):
			sum.PointsIssued += t.Amount
		case t.Type == store.TxnRedeem:
			sum.PointsRedeemed -= t.Amount
		case t.Type == store.TxnRefund:
			sum.PointsRefunded += t.Amount
		case t.Type == store.TxnExpire:
			sum.PointsExpired -= t.Amount
		}
	}

	counts := map[int64]int{}
	for _, r := range s.redemptions.list() {
		if !inRange(r.CreatedAt, from, to) {
			continue
		}
		sum.RedemptionsByStatus[r.DeliveryStatus]++
		if r.DeliveryStatus != store.DeliveryCancelled {
			counts[r.RewardID]++
		}
	}
	for id, n := range counts {
		rc := store.RewardCount{RewardID: id, Count: n}
		if rw, ok := s.rewards.get(id); ok {
			rc.Name = rw.Name
		}
		sum.TopRewards = append(sum.TopRewards, rc)
	}
	slices.SortFunc(sum.TopRewards, func(a, b store.RewardCount) int {
		if a.Count != b.Count {
			return b.Count - a.Count
		}
		return int(a.RewardID - b.RewardID)
	})
	if len(sum.TopRewards) > topRewardsLimit {
		sum.TopRewards = sum.TopRewards[:topRewardsLimit]
	}

	for _, n := range s.notifications.list() {
		if !inRange(n.CreatedAt, from, to) {
			continue
		}
		sum.NotificationsByChannel[n.Channel]++
		sum.NotificationsByStatus[n.Status]++
	}
	return sum, nil
}

// DailySeries returns one point per UTC day in [from, to).
func (s *Store) DailySeries(ctx context.Context, from, to time.Time) ([]store.DailyPoint, error) {
	var days []store.DailyPoint
	index := map[string]int{}
	for d := from.UTC(); d.Before(to); d = d.AddDate(0, 0, 1) {
		key := d.Format(time.DateOnly)
		index[key] = len(days)
		days = append(days, store.DailyPoint{Day: key})
	}
	if len(days) == 0 {
		return []store.DailyPoint{}, nil
	}

	for _, t := range s.transactions.list() {
		i, ok := index[t.CreatedAt.UTC().Format(time.DateOnly)]
		if !ok || !inRange(t.CreatedAt, from, to) {
			continue
		}
		switch {
		case issued(t):
			days[i].PointsIssued += t.Amount
		case t.Type == store.TxnRedeem:
			days[i].PointsRedeemed -= t.Amount
		}
	}
	for _, c := range s.customers.list() {
		i, ok := index[c.CreatedAt.UTC().Format(time.DateOnly)]
		if ok && inRange(c.CreatedAt, from, to) {
			days[i].NewCustomers++
		}
	}
	return days, nil
}
