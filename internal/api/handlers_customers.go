package api

import (
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/wondertwin-ai/loyaltydesk/internal/auth"
	"github.com/wondertwin-ai/loyaltydesk/internal/loyalty"
	"github.com/wondertwin-ai/loyaltydesk/internal/server"
	"github.com/wondertwin-ai/loyaltydesk/internal/store"
)

type customerRequest struct {
	FirstName     string `json:"first_name" validate:"required,max=100"`
	LastName      string `json:"last_name" validate:"max=100"`
	Email         string `json:"email" validate:"required_without=Phone,omitempty,email,max=255"`
	Phone         string `json:"phone" validate:"required_without=Email,omitempty,max=32"`
	City          string `json:"city" validate:"max=100"`
	Status        string `json:"status" validate:"omitempty,oneof=active inactive blocked"`
	OptInSMS      bool   `json:"opt_in_sms"`
	OptInWhatsApp bool   `json:"opt_in_whatsapp"`
	OptInEmail    bool   `json:"opt_in_email"`
}

func (req customerRequest) apply(c *store.Customer) {
	c.FirstName = strings.TrimSpace(req.FirstName)
	c.LastName = strings.TrimSpace(req.LastName)
	c.Email = strings.ToLower(strings.TrimSpace(req.Email))
	c.Phone = strings.TrimSpace(req.Phone)
	c.City = strings.TrimSpace(req.City)
	if req.Status != "" {
		c.Status = req.Status
	}
	c.OptInSMS = req.OptInSMS
	c.OptInWhatsApp = req.OptInWhatsApp
	c.OptInEmail = req.OptInEmail
}

// ListCustomers handles GET /api/customers.
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	p, err := listParams(r, "status", "tier", "city")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	page, err := h.store.ListCustomers(r.Context(), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, page)
}

// GetCustomer handles GET /api/customers/{id}.
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.store.GetCustomer(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.Data(w, http.StatusOK, c)
}

// CreateCustomer handles POST /api/customers.
func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req customerRequest
	if err := decodeValid(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	var c store.Customer
	req.apply(&c)
	if err := h.store.CreateCustomer(r.Context(), &c); err != nil {
		h.fail(w, r, err)
		return
	}
	noteEntity(r, c.ID)
	server.Data(w, http.StatusCreated, c)
}

// UpdateCustomer handles PUT /api/customers/{id}. Balances and tier are
// never changed here.
func (h *Handler) UpdateCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req customerRequest
	if err := decodeValid(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.store.GetCustomer(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	req.apply(&c)
	if err := h.store.UpdateCustomer(r.Context(), &c); err != nil {
		h.fail(w, r, err)
		return
	}
	server.Data(w, http.StatusOK, c)
}

// DeleteCustomer handles DELETE /api/customers/{id}.
func (h *Handler) DeleteCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.loyalty.DeleteCustomer(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	server.NoContent(w)
}

// ListLedger handles GET /api/customers/{id}/ledger.
func (h *Handler) ListLedger(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := listParams(r, "type")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if _, err := h.store.GetCustomer(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	page, err := h.store.ListTransactions(r.Context(), id, p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, page)
}

// ListPurchases handles GET /api/customers/{id}/purchases.
func (h *Handler) ListPurchases(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := listParams(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if _, err := h.store.GetCustomer(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	page, err := h.store.ListPurchases(r.Context(), id, p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, page)
}

type purchaseRequest struct {
	ProductID *int64          `json:"product_id" validate:"omitempty,gt=0"`
	Quantity  int             `json:"quantity" validate:"gte=0,max=10000"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference" validate:"max=100"`
}

// RecordPurchase handles POST /api/customers/{id}/purchases. A replayed
// reference answers 200 with the original purchase.
func (h *Handler) RecordPurchase(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req purchaseRequest
	if err := decodeValid(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.loyalty.RecordPurchase(r.Context(), loyalty.PurchaseInput{
		CustomerID: id,
		ProductID:  req.ProductID,
		Quantity:   req.Quantity,
		Amount:     req.Amount,
		Reference:  req.Reference,
		StaffID:    auth.StaffID(r.Context()),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	noteEntity(r, res.Purchase.ID)
	server.Data(w, status, res)
}

type adjustRequest struct {
	Amount int64  `json:"amount" validate:"required"`
	Reason string `json:"reason" validate:"required,max=255"`
}

// AdjustPoints handles POST /api/customers/{id}/adjust.
func (h *Handler) AdjustPoints(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req adjustRequest
	if err := decodeValid(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	c, txn, err := h.loyalty.Adjust(r.Context(), id, req.Amount, req.Reason, auth.StaffID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.Data(w, http.StatusOK, map[string]any{
		"customer":    c,
		"transaction": txn,
	})
}

// CustomerCatalog handles GET /api/customers/{id}/catalog.
func (h *Handler) CustomerCatalog(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	items, err := h.loyalty.Catalog(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.Data(w, http.StatusOK, items)
}
