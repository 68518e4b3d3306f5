package api

import (
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/wondertwin-ai/loyaltydesk/internal/apperr"
	"github.com/wondertwin-ai/loyaltydesk/internal/server"
	"github.com/wondertwin-ai/loyaltydesk/internal/store"
)

// --- Products ---

type productRequest struct {
	SKU           string          `json:"sku" validate:"required,max=64"`
	Name          string          `json:"name" validate:"required,max=200"`
	Category      string          `json:"category" validate:"max=100"`
	Price         decimal.Decimal `json:"price"`
	PointsPerUnit int64           `json:"points_per_unit" validate:"gte=0"`
	Active        *bool           `json:"active"`
}

func (req productRequest) apply(p *store.Product) error {
	if req.Price.IsNegative() {
		return apperr.Validation(map[string]string{"price": "must not be negative"})
	}
	p.SKU = strings.TrimSpace(req.SKU)
	p.Name = strings.TrimSpace(req.Name)
	p.Category = strings.TrimSpace(req.Category)
	p.Price = req.Price
	p.PointsPerUnit = req.PointsPerUnit
	if req.Active != nil {
		p.Active = *req.Active
	}
	return nil
}

// ListProducts handles GET /api/products.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	p, err := listParams(r, "active", "category")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	page, err := h.store.ListProducts(r.Context(), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, page)
}

// GetProduct handles GET /api/products/{id}.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.store.GetProduct(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.Data(w, http.StatusOK, p)
}

// CreateProduct handles POST /api/products. Products are active unless the
// request says otherwise.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := decodeValid(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	p := store.Product{Active: true}
	if err := req.apply(&p); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.store.CreateProduct(r.Context(), &p); err != nil {
		h.fail(w, r, err)
		return
	}
	noteEntity(r, p.ID)
	server.Data(w, http.StatusCreated, p)
}

// UpdateProduct handles PUT /api/products/{id}.
func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req productRequest
	if err := decodeValid(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.store.GetProduct(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := req.apply(&p); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.store.UpdateProduct(r.Context(), &p); err != nil {
		h.fail(w, r, err)
		return
	}
	server.Data(w, http.StatusOK, p)
}

// DeleteProduct handles DELETE /api/products/{id}.
func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.store.DeleteProduct(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	server.NoContent(w)
}

// --- Rewards ---

type rewardRequest struct {
	Name                 string `json:"name" validate:"required,max=200"`
	Description          string `json:"description" validate:"max=2000"`
	PointsCost           int64  `json:"points_cost" validate:"required,gt=0"`
	Stock                *int64 `json:"stock" validate:"omitempty,gte=0"`
	Active               *bool  `json:"active"`
	RequiresVerification bool   `json:"requires_verification"`
}

func (req rewardRequest) apply(rw *store.Reward) {
	rw.Name = strings.TrimSpace(req.Name)
	rw.Description = strings.TrimSpace(req.Description)
	rw.PointsCost = req.PointsCost
	rw.Stock = req.Stock
	if req.Active != nil {
		rw.Active = *req.Active
	}
	rw.RequiresVerification = req.RequiresVerification
}

// ListRewards handles GET /api/rewards.
func (h *Handler) ListRewards(w http.ResponseWriter, r *http.Request) {
	p, err := listParams(r, "active")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	page, err := h.store.ListRewards(r.Context(), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, page)
}

// GetReward handles GET /api/rewards/{id}.
func (h *Handler) GetReward(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rw, err := h.store.GetReward(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.Data(w, http.StatusOK, rw)
}

// CreateReward handles POST /api/rewards. A missing stock means unlimited.
func (h *Handler) CreateReward(w http.ResponseWriter, r *http.Request) {
	var req rewardRequest
	if err := decodeValid(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	rw := store.Reward{Active: true}
	req.apply(&rw)
	if err := h.store.CreateReward(r.Context(), &rw); err != nil {
		h.fail(w, r, err)
		return
	}
	noteEntity(r, rw.ID)
	server.Data(w, http.StatusCreated, rw)
}

// UpdateReward handles PUT /api/rewards/{id}.
func (h *Handler) UpdateReward(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req rewardRequest
	if err := decodeValid(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	rw, err := h.store.GetReward(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	req.apply(&rw)
	if err := h.store.UpdateReward(r.Context(), &rw); err != nil {
		h.fail(w, r, err)
		return
	}
	server.Data(w, http.StatusOK, rw)
}

// DeleteReward handles DELETE /api/rewards/{id}. Rewards that were ever
// redeemed are kept for history; deactivate them instead.
func (h *Handler) DeleteReward(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.store.DeleteReward(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	server.NoContent(w)
}
