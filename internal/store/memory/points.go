package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/wondertwin-ai/loyaltydesk/internal/store"
)

var txnSorter = sorter[store.PointsTransaction]{
	"id":         byID(func(t store.PointsTransaction) int64 { return t.ID }),
	"created_at": func(a, b store.PointsTransaction) int { return a.CreatedAt.Compare(b.CreatedAt) },
}

var purchaseSorter = sorter[store.Purchase]{
	"id":         byID(func(p store.Purchase) int64 { return p.ID }),
	"created_at": func(a, b store.Purchase) int { return a.CreatedAt.Compare(b.CreatedAt) },
}

func (s *Store) ApplyPoints(ctx context.Context, ch store.PointsChange) (store.Customer, store.PointsTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyPointsLocked(ch)
}

func (s *Store) applyPointsLocked(ch store.PointsChange) (store.Customer, store.PointsTransaction, error) {
	c, ok := s.customers.get(ch.CustomerID)
	if !ok {
		return store.Customer{}, store.PointsTransaction{}, notFound("customer", ch.CustomerID)
	}
	amount := ch.Amount
	if ch.ExpireTxnID != 0 {
		src, ok := s.transactions.get(ch.ExpireTxnID)
		if !ok || src.CustomerID != c.ID {
			return store.Customer{}, store.PointsTransaction{}, notFound("points transaction", ch.ExpireTxnID)
		}
		amount = -src.Remaining
	}
	if ch.Clamp && amount < 0 && -amount > c.PointsBalance {
		amount = -c.PointsBalance
	}
	if c.PointsBalance+amount < 0 {
		return store.Customer{}, store.PointsTransaction{}, fmt.Errorf("customer %d has %d points: %w", c.ID, c.PointsBalance, store.ErrInsufficientPoints)
	}

	now := s.clock.Now()
	if ch.ExpireTxnID != 0 {
		src, _ := s.transactions.get(ch.ExpireTxnID)
		src.Expired = true
		src.Remaining = 0
		s.transactions.set(src.ID, src)
	} else if amount < 0 {
		s.consumeLotsLocked(c.ID, -amount)
	}
	if amount == 0 {
		return c, store.PointsTransaction{}, nil
	}

	c.ApplyDelta(ch.Type, amount, now)
	c.Tier = s.programLocked().TierFor(c.LifetimePoints)
	s.customers.set(c.ID, c)

	txn := store.PointsTransaction{
		ID:            s.transactions.nextID(),
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
	s.transactions.set(txn.ID, txn)
	return c, txn, nil
}

// consumeLotsLocked spends n points from the customer's expiring credits,
// soonest expiry first. Whatever is left comes out of non-expiring points.
func (s *Store) consumeLotsLocked(customerID, n int64) {
	lots := s.transactions.filter(func(t store.PointsTransaction) bool {
		return t.CustomerID == customerID && t.Remaining > 0 && !t.Expired
	})
	slices.SortFunc(lots, lotOrder)
	for _, lot := range lots {
		if n == 0 {
			return
		}
		take := min(n, lot.Remaining)
		lot.Remaining -= take
		n -= take
		s.transactions.set(lot.ID, lot)
	}
}

func lotOrder(a, b store.PointsTransaction) int {
	if c := a.ExpiresAt.Compare(*b.ExpiresAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func (s *Store) RecordPurchase(ctx context.Context, p *store.Purchase, ch store.PointsChange) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.Reference != "" {
		if prev, ok := s.purchases.find(func(x store.Purchase) bool {
			return x.CustomerID == p.CustomerID && x.Reference == p.Reference
		}); ok {
			*p = prev
			return true, nil
		}
	}
	if _, ok := s.customers.get(p.CustomerID); !ok {
		return false, notFound("customer", p.CustomerID)
	}

	p.ID = s.purchases.nextID()
	p.CreatedAt = s.clock.Now()
	s.purchases.set(p.ID, *p)

	if ch.Amount != 0 {
		ch.CustomerID = p.CustomerID
		ch.ReferenceType = "purchase"
		id := p.ID
		ch.ReferenceID = &id
		if _, _, err := s.applyPointsLocked(ch); err != nil {
			s.purchases.delete(p.ID)
			return false, err
		}
	}
	return false, nil
}

func (s *Store) ListPurchases(ctx context.Context, customerID int64, p store.ListParams) (store.Page[store.Purchase], error) {
	items := s.purchases.filter(func(x store.Purchase) bool {
		return customerID == 0 || x.CustomerID == customerID
	})
	return page(items, p, []string{"id", "created_at"}, store.SortSpec{Field: "id", Desc: true}, purchaseSorter)
}

func (s *Store) ListTransactions(ctx context.Context, customerID int64, p store.ListParams) (store.Page[store.PointsTransaction], error) {
	items := s.transactions.filter(func(t store.PointsTransaction) bool {
		return (customerID == 0 || t.CustomerID == customerID) && eqFilter(p, "type", t.Type)
	})
	return page(items, p, []string{"id", "created_at"}, store.SortSpec{Field: "id", Desc: true}, txnSorter)
}

func (s *Store) ListExpirableEarns(ctx context.Context, t time.Time, limit int) ([]store.PointsTransaction, error) {
	items := s.transactions.filter(func(x store.PointsTransaction) bool {
		return x.Type == store.TxnEarn && !x.Expired && x.Remaining > 0 && x.ExpiresAt != nil && !x.ExpiresAt.After(t)
	})
	slices.SortFunc(items, byID(func(x store.PointsTransaction) int64 { return x.ID }))
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}
