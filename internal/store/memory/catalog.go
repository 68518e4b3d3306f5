package memory

import (
	"cmp"
	"context"
	"fmt"
	"strings"

	"github.com/wondertwin-ai/loyaltydesk/internal/store"
)

var productSorter = sorter[store.Product]{
	"id":         byID(func(p store.Product) int64 { return p.ID }),
	"sku":        byString(func(p store.Product) string { return p.SKU }),
	"name":       byString(func(p store.Product) string { return p.Name }),
	"price":      func(a, b store.Product) int { return a.Price.Cmp(b.Price) },
	"created_at": func(a, b store.Product) int { return a.CreatedAt.Compare(b.CreatedAt) },
}

var rewardSorter = sorter[store.Reward]{
	"id":          byID(func(r store.Reward) int64 { return r.ID }),
	"name":        byString(func(r store.Reward) string { return r.Name }),
	"points_cost": func(a, b store.Reward) int { return cmp.Compare(a.PointsCost, b.PointsCost) },
	"created_at":  func(a, b store.Reward) int { return a.CreatedAt.Compare(b.CreatedAt) },
}

func (s *Store) ListProducts(ctx context.Context, p store.ListParams) (store.Page[store.Product], error) {
	items := s.products.filter(func(pr store.Product) bool {
		return containsFold(p.Query, pr.SKU, pr.Name, pr.Category) &&
			boolFilter(p, "active", pr.Active) &&
			eqFilter(p, "category", pr.Category)
	})
	return page(items, p, store.ProductSorts, store.SortSpec{Field: "id"}, productSorter)
}

func (s *Store) GetProduct(ctx context.Context, id int64) (store.Product, error) {
	pr, ok := s.products.get(id)
	if !ok {
		return store.Product{}, notFound("product", id)
	}
	return pr, nil
}

func (s *Store) skuTakenLocked(sku string, exceptID int64) bool {
	_, taken := s.products.find(func(p store.Product) bool {
		return p.ID != exceptID && strings.EqualFold(p.SKU, sku)
	})
	return taken
}

func (s *Store) CreateProduct(ctx context.Context, pr *store.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.skuTakenLocked(pr.SKU, 0) {
		return fmt.Errorf("%w: sku %q already exists", store.ErrConflict, pr.SKU)
	}
	now := s.clock.Now()
	pr.ID = s.products.nextID()
	pr.CreatedAt = now
	pr.UpdatedAt = now
	s.products.set(pr.ID, *pr)
	return nil
}

func (s *Store) UpdateProduct(ctx context.Context, pr *store.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.products.get(pr.ID)
	if !ok {
		return notFound("product", pr.ID)
	}
	if s.skuTakenLocked(pr.SKU, pr.ID) {
		return fmt.Errorf("%w: sku %q already exists", store.ErrConflict, pr.SKU)
	}
	pr.CreatedAt = cur.CreatedAt
	pr.UpdatedAt = s.clock.Now()
	s.products.set(pr.ID, *pr)
	return nil
}

func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.products.delete(id) {
		return notFound("product", id)
	}
	for _, p := range s.purchases.filter(func(p store.Purchase) bool { return p.ProductID != nil && *p.ProductID == id }) {
		p.ProductID = nil
		s.purchases.set(p.ID, p)
	}
	return nil
}

func (s *Store) ListRewards(ctx context.Context, p store.ListParams) (store.Page[store.Reward], error) {
	items := s.rewards.filter(func(r store.Reward) bool {
		return containsFold(p.Query, r.Name, r.Description) && boolFilter(p, "active", r.Active)
	})
	return page(items, p, store.RewardSorts, store.SortSpec{Field: "id"}, rewardSorter)
}

func (s *Store) GetReward(ctx context.Context, id int64) (store.Reward, error) {
	r, ok := s.rewards.get(id)
	if !ok {
		return store.Reward{}, notFound("reward", id)
	}
	return r, nil
}

func (s *Store) CreateReward(ctx context.Context, r *store.Reward) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	r.ID = s.rewards.nextID()
	r.CreatedAt = now
	r.UpdatedAt = now
	s.rewards.set(r.ID, *r)
	return nil
}

func (s *Store) UpdateReward(ctx context.Context, r *store.Reward) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.rewards.get(r.ID)
	if !ok {
		return notFound("reward", r.ID)
	}
	r.CreatedAt = cur.CreatedAt
	r.UpdatedAt = s.clock.Now()
	s.rewards.set(r.ID, *r)
	return nil
}

// DeleteReward refuses rewards that have been redeemed; deactivate them instead.
func (s *Store) DeleteReward(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rewards.get(id); !ok {
		return notFound("reward", id)
	}
	if s.redemptions.count(func(r store.Redemption) bool { return r.RewardID == id }) > 0 {
		return fmt.Errorf("reward %d has redemptions: %w", id, store.ErrInUse)
	}
	s.rewards.delete(id)
	return nil
}
