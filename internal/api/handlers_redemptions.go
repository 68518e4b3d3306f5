package api

import (
	"net/http"

	"github.com/wondertwin-ai/loyaltydesk/internal/auth"
	"github.com/wondertwin-ai/loyaltydesk/internal/loyalty"
	"github.com/wondertwin-ai/loyaltydesk/internal/server"
	"github.com/wondertwin-ai/loyaltydesk/internal/store"
)

// redacted hides the verification code from API responses.
func redacted(r store.Redemption) store.Redemption {
	r.VerificationCode = ""
	return r
}

func redactedResult(res loyalty.RedeemResult) loyalty.RedeemResult {
	res.Redemption = redacted(res.Redemption)
	return res
}

// ListRedemptions handles GET /api/redemptions.
func (h *Handler) ListRedemptions(w http.ResponseWriter, r *http.Request) {
	p, err := listParams(r, "delivery_status", "verification_status", "customer_id", "reward_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	page, err := h.store.ListRedemptions(r.Context(), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	for i := range page.Data {
		page.Data[i] = redacted(page.Data[i])
	}
	server.JSON(w, http.StatusOK, page)
}

// GetRedemption handles GET /api/redemptions/{id}.
func (h *Handler) GetRedemption(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rd, err := h.store.GetRedemption(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.Data(w, http.StatusOK, redacted(rd))
}

type redeemRequest struct {
	CustomerID int64 `json:"customer_id" validate:"required,gt=0"`
	RewardID   int64 `json:"reward_id" validate:"required,gt=0"`
}

// CreateRedemption handles POST /api/redemptions.
func (h *Handler) CreateRedemption(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := decodeValid(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.loyalty.Redeem(r.Context(), req.CustomerID, req.RewardID, auth.StaffID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	noteEntity(r, res.Redemption.ID)
	server.Data(w, http.StatusCreated, redactedResult(res))
}

type verifyRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// VerifyRedemption handles POST /api/redemptions/{id}/verify.
func (h *Handler) VerifyRedemption(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req verifyRequest
	if err := decodeValid(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	rd, err := h.loyalty.Verify(r.Context(), id, req.Code)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.Data(w, http.StatusOK, redacted(rd))
}

// ResendRedemptionCode handles POST /api/redemptions/{id}/resend-code.
func (h *Handler) ResendRedemptionCode(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.loyalty.ResendCode(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.Data(w, http.StatusOK, redactedResult(res))
}

type deliveryRequest struct {
	Status string `json:"status" validate:"required,oneof=pending processing shipped delivered cancelled"`
	Note   string `json:"note" validate:"max=1000"`
}

// UpdateDeliveryStatus handles PUT /api/redemptions/{id}/delivery-status.
func (h *Handler) UpdateDeliveryStatus(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req deliveryRequest
	if err := decodeValid(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	rd, err := h.loyalty.AdvanceDelivery(r.Context(), id, req.Status, req.Note, auth.StaffID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.Data(w, http.StatusOK, redacted(rd))
}

type cancelRequest struct {
	Note string `json:"note" validate:"max=1000"`
}

// CancelRedemption handles POST /api/redemptions/{id}/cancel. The body is
// optional.
func (h *Handler) CancelRedemption(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req cancelRequest
	if err := decodeOptional(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	rd, err := h.loyalty.Cancel(r.Context(), id, req.Note, auth.StaffID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.Data(w, http.StatusOK, redacted(rd))
}
