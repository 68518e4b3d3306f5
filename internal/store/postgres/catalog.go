package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/wondertwin-ai/loyaltydesk/internal/store"
)

const productCols = `id, sku, name, category, price, points_per_unit, active, created_at, updated_at`

const rewardCols = `id, name, description, points_cost, stock, active, requires_verification, created_at, updated_at`

func (s *Store) ListProducts(ctx context.Context, p store.ListParams) (store.Page[store.Product], error) {
	var w where
	w.search(p.Query, "sku", "name", "category")
	w.boolean(p, "active", "active")
	w.eq(p, "category", "category")
	return list[store.Product](ctx, s.db, "products", productCols, w, p, store.ProductSorts, store.SortSpec{Field: "id"})
}

func (s *Store) GetProduct(ctx context.Context, id int64) (store.Product, error) {
	var pr store.Product
	err := getOne(ctx, s.db, &pr, "product", id, `SELECT `+productCols+` FROM products WHERE id = $1`, id)
	return pr, err
}

func (s *Store) CreateProduct(ctx context.Context, pr *store.Product) error {
	now := s.now()
	pr.CreatedAt, pr.UpdatedAt = now, now
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO products (sku, name, category, price, points_per_unit, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, pr.SKU, pr.Name, pr.Category, pr.Price, pr.PointsPerUnit, pr.Active, pr.CreatedAt, pr.UpdatedAt).Scan(&pr.ID)
	return wrapErr("create", "product", pr.SKU, err)
}

func (s *Store) UpdateProduct(ctx context.Context, pr *store.Product) error {
	err := sqlx.GetContext(ctx, s.db, pr, `
		UPDATE products
		SET sku = $2, name = $3, category = $4, price = $5, points_per_unit = $6, active = $7, updated_at = $8
		WHERE id = $1
		RETURNING `+productCols,
		pr.ID, pr.SKU, pr.Name, pr.Category, pr.Price, pr.PointsPerUnit, pr.Active, s.now())
	return wrapErr("update", "product", pr.ID, err)
}

func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return wrapErr("delete", "product", id, err)
	}
	return expectOne(res, "product", id)
}

func (s *Store) ListRewards(ctx context.Context, p store.ListParams) (store.Page[store.Reward], error) {
	var w where
	w.search(p.Query, "name", "description")
	w.boolean(p, "active", "active")
	return list[store.Reward](ctx, s.db, "rewards", rewardCols, w, p, store.RewardSorts, store.SortSpec{Field: "id"})
}

func (s *Store) GetReward(ctx context.Context, id int64) (store.Reward, error) {
	var r store.Reward
	err := getOne(ctx, s.db, &r, "reward", id, `SELECT `+rewardCols+` FROM rewards WHERE id = $1`, id)
	return r, err
}

func (s *Store) CreateReward(ctx context.Context, r *store.Reward) error {
	now := s.now()
	r.CreatedAt, r.UpdatedAt = now, now
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO rewards (name, description, points_cost, stock, active, requires_verification, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, r.Name, r.Description, r.PointsCost, r.Stock, r.Active, r.RequiresVerification, r.CreatedAt, r.UpdatedAt).Scan(&r.ID)
	return wrapErr("create", "reward", r.Name, err)
}

func (s *Store) UpdateReward(ctx context.Context, r *store.Reward) error {
	err := sqlx.GetContext(ctx, s.db, r, `
		UPDATE rewards
		SET name = $2, description = $3, points_cost = $4, stock = $5, active = $6,
			requires_verification = $7, updated_at = $8
		WHERE id = $1
		RETURNING `+rewardCols,
		r.ID, r.Name, r.Description, r.PointsCost, r.Stock, r.Active, r.RequiresVerification, s.now())
	return wrapErr("update", "reward", r.ID, err)
}

// DeleteReward relies on the redemptions foreign key to refuse redeemed rewards.
func (s *Store) DeleteReward(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rewards WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete reward %d: %w", id, mapErr(err))
	}
	return expectOne(res, "reward", id)
}
