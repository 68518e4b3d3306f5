package memory

import (
	"cmp"
	"context"
	"fmt"

	"github.com/wondertwin-ai/loyaltydesk/internal/store"
)

var redemptionSorter = sorter[store.Redemption]{
	"id":           byID(func(r store.Redemption) int64 { return r.ID }),
	"points_spent": func(a, b store.Redemption) int { return cmp.Compare(a.PointsSpent, b.PointsSpent) },
	"created_at":   func(a, b store.Redemption) int { return a.CreatedAt.Compare(b.CreatedAt) },
}

func (s *Store) CreateRedemption(ctx context.Context, r *store.Redemption) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reward, ok := s.rewards.get(r.RewardID)
	if !ok {
		return notFound("reward", r.RewardID)
	}
	if !reward.Active {
		return fmt.Errorf("reward %d: %w", reward.ID, store.ErrInactive)
	}
	if !reward.InStock() {
		return fmt.Errorf("reward %d: %w", reward.ID, store.ErrOutOfStock)
	}
	c, ok := s.customers.get(r.CustomerID)
	if !ok {
		return notFound("customer", r.CustomerID)
	}
	if c.PointsBalance < reward.PointsCost {
		return fmt.Errorf("reward costs %d, customer has %d: %w", reward.PointsCost, c.PointsBalance, store.ErrInsufficientPoints)
	}
	if _, dup := s.redemptions.find(func(x store.Redemption) bool { return x.Code == r.Code }); dup {
		return fmt.Errorf("%w: redemption code %s", store.ErrConflict, r.Code)
	}

	now := s.clock.Now()
	r.ID = s.redemptions.nextID()
	r.PointsSpent = reward.PointsCost
	r.CreatedAt = now
	r.UpdatedAt = now
	if r.DeliveryStatus == "" {
		r.DeliveryStatus = store.DeliveryPending
	}

	id := r.ID
	if _, _, err := s.applyPointsLocked(store.PointsChange{
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
		left := *reward.Stock - 1
		reward.Stock = &left
		reward.UpdatedAt = now
		s.rewards.set(reward.ID, reward)
	}
	s.redemptions.set(r.ID, *r)
	return nil
}

func (s *Store) CancelRedemption(ctx context.Context, id int64, staffID *int64, note string) (store.Redemption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.redemptions.get(id)
	if !ok {
		return store.Redemption{}, notFound("redemption", id)
	}
	if !r.Open() {
		return store.Redemption{}, fmt.Errorf("%w: redemption %s is already %s", store.ErrConflict, r.Code, r.DeliveryStatus)
	}

	rid := r.ID
	if _, _, err := s.applyPointsLocked(store.PointsChange{
		CustomerID:    r.CustomerID,
		Type:          store.TxnRefund,
		Amount:        r.PointsSpent,
		Reason:        "Cancelled redemption " + r.Code,
		ReferenceType: "redemption",
		ReferenceID:   &rid,
		StaffID:       staffID,
	}); err != nil {
		return store.Redemption{}, err
	}

	now := s.clock.Now()
	if reward, ok := s.rewards.get(r.RewardID); ok && reward.Stock != nil {
		back := *reward.Stock + 1
		reward.Stock = &back
		reward.UpdatedAt = now
		s.rewards.set(reward.ID, reward)
	}

	r.DeliveryStatus = store.DeliveryCancelled
	if note != "" {
		r.DeliveryNote = note
	}
	r.CancelledAt = &now
	r.UpdatedAt = now
	s.redemptions.set(r.ID, r)
	return r, nil
}

func (s *Store) GetRedemption(ctx context.Context, id int64) (store.Redemption, error) {
	r, ok := s.redemptions.get(id)
	if !ok {
		return store.Redemption{}, notFound("redemption", id)
	}
	return r, nil
}

func (s *Store) UpdateRedemption(ctx context.Context, r *store.Redemption, prev store.RedemptionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.redemptions.get(r.ID)
	if !ok {
		return notFound("redemption", r.ID)
	}
	if cur.State() != prev {
		return fmt.Errorf("%w: redemption %s changed concurrently, now %s/%s",
			store.ErrConflict, cur.Code, cur.DeliveryStatus, cur.VerificationStatus)
	}
	r.CreatedAt = cur.CreatedAt
	r.PointsSpent = cur.PointsSpent
	r.UpdatedAt = s.clock.Now()
	s.redemptions.set(r.ID, *r)
	return nil
}

func (s *Store) ListRedemptions(ctx context.Context, p store.ListParams) (store.Page[store.Redemption], error) {
	items := s.redemptions.filter(func(r store.Redemption) bool {
		return containsFold(p.Query, r.Code) &&
			eqFilter(p, "delivery_status", r.DeliveryStatus) &&
			eqFilter(p, "verification_status", r.VerificationStatus) &&
			idFilter(p, "customer_id", r.CustomerID) &&
			idFilter(p, "reward_id", r.RewardID)
	})
	return page(items, p, store.RedemptionSorts, store.SortSpec{Field: "id", Desc: true}, redemptionSorter)
}

func (s *Store) CountOpenRedemptions(ctx context.Context, customerID int64) (int, error) {
	return s.redemptions.count(func(r store.Redemption) bool {
		return r.CustomerID == customerID && r.Open()
	}), nil
}
