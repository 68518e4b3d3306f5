package loyalty

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/wondertwin-ai/loyaltydesk/internal/apperr"
	"github.com/wondertwin-ai/loyaltydesk/internal/metrics"
	"github.com/wondertwin-ai/loyaltydesk/internal/store"
)

// expiryBatch is how many earn rows one sweep step loads.
const expiryBatch = 500

// PurchaseInput describes a purchase to record.
type PurchaseInput struct {
	CustomerID int64
	ProductID  *int64
	Quantity   int
	Amount     decimal.Decimal
	Reference  string
	StaffID    *int64
}

// PurchaseResult is the outcome of RecordPurchase.
type PurchaseResult struct {
	Purchase store.Purchase `json:"purchase"`
	Customer store.Customer `json:"customer"`
	// Replayed is true when the reference matched an earlier purchase.
	Replayed bool `json:"replayed"`
}

// PurchasePoints computes the points a purchase earns: the product's
// points per unit times quantity, plus the amount times the earn rate
// rounded down.
func PurchasePoints(product *store.Product, quantity int, amount, earnRate decimal.Decimal) int64 {
	var pts int64
	if product != nil {
		pts = product.PointsPerUnit * int64(quantity)
	}
	if amount.IsPositive() && earnRate.IsPositive() {
		pts += amount.Mul(earnRate).Floor().IntPart()
	}
	return pts
}

// RecordPurchase stores a purchase and credits the points it earns. A
// reference already used by the same customer returns the original
// purchase without writing anything.
func (s *Service) RecordPurchase(ctx context.Context, in PurchaseInput) (PurchaseResult, error) {
	fields := map[string]string{}
	if in.Quantity == 0 {
		in.Quantity = 1
	}
	if in.Quantity < 0 {
		fields["quantity"] = "must be at least 1"
	}
	if in.Amount.IsNegative() {
		fields["amount"] = "must not be negative"
	}
	if in.ProductID == nil && in.Amount.IsZero() {
		fields["amount"] = "is required when no product is given"
	}
	in.Reference = strings.TrimSpace(in.Reference)
	if len(fields) > 0 {
		return PurchaseResult{}, apperr.Validation(fields)
	}

	c, err := s.store.GetCustomer(ctx, in.CustomerID)
	if err != nil {
		return PurchaseResult{}, err
	}

	var product *store.Product
	if in.ProductID != nil {
		p, err := s.store.GetProduct(ctx, *in.ProductID)
		if errors.Is(err, store.ErrNotFound) {
			return PurchaseResult{}, apperr.Validation(map[string]string{"product_id": "does not exist"})
		}
		if err != nil {
			return PurchaseResult{}, err
		}
		product = &p
	}

	settings, err := s.store.GetProgramSettings(ctx)
	if err != nil {
		return PurchaseResult{}, err
	}

	p := store.Purchase{
		CustomerID: in.CustomerID,
		ProductID:  in.ProductID,
		Quantity:   in.Quantity,
		Amount:     in.Amount,
		Reference:  in.Reference,
		CreatedBy:  in.StaffID,
	}
	points := PurchasePoints(product, in.Quantity, in.Amount, settings.EarnRate)
	p.PointsEarned = points

	change := store.PointsChange{
		Type:    store.TxnEarn,
		Amount:  points,
		Reason:  purchaseReason(product, in.Reference),
		StaffID: in.StaffID,
	}
	if settings.PointsTTLDays > 0 {
		exp := s.clock.Now().AddDate(0, 0, settings.PointsTTLDays)
		change.ExpiresAt = &exp
	}

	if err := s.customerUsable(c); err != nil {
		return PurchaseResult{}, err
	}
	if product != nil && !product.Active {
		return PurchaseResult{}, apperr.Unprocessable("product_inactive", "product "+product.SKU+" is not active")
	}

	replayed, err := s.store.RecordPurchase(ctx, &p, change)
	if err != nil {
		return PurchaseResult{}, err
	}
	c, err = s.store.GetCustomer(ctx, in.CustomerID)
	if err != nil {
		return PurchaseResult{}, err
	}
	if !replayed {
		metrics.PointsMoved(store.TxnEarn, points)
		s.log.WithFields(logrus.Fields{
			"customer_id": c.ID,
			"purchase_id": p.ID,
			"points":      points,
		}).Info("purchase recorded")
	}
	return PurchaseResult{Purchase: p, Customer: c, Replayed: replayed}, nil
}

func purchaseReason(product *store.Product, ref string) string {
	reason := "Purchase"
	if product != nil {
		reason += " of " + product.Name
	}
	if ref != "" {
		reason += " (" + ref + ")"
	}
	return reason
}

// Adjust adds or removes points by hand. A reason is mandatory and a debit
// larger than the balance fails with store.ErrInsufficientPoints.
func (s *Service) Adjust(ctx context.Context, customerID, amount int64, reason string, staffID *int64) (store.Customer, store.PointsTransaction, error) {
	fields := map[string]string{}
	if amount == 0 {
		fields["amount"] = "must not be zero"
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		fields["reason"] = "is required"
	}
	if len(fields) > 0 {
		return store.Customer{}, store.PointsTransaction{}, apperr.Validation(fields)
	}

	c, txn, err := s.store.ApplyPoints(ctx, store.PointsChange{
		CustomerID: customerID,
		Type:       store.TxnAdjust,
		Amount:     amount,
		Reason:     reason,
		StaffID:    staffID,
	})
	if err != nil {
		return store.Customer{}, store.PointsTransaction{}, err
	}
	metrics.PointsMoved(store.TxnAdjust, amount)
	return c, txn, nil
}

// ExpiryResult summarises one expiry sweep.
type ExpiryResult struct {
	Rows   int   `json:"rows"`
	Points int64 `json:"points"`
}

// ExpirePoints expires every earn row whose expiry has passed. Each row
// debits only its unspent remainder, capped at the customer's balance.
func (s *Service) ExpirePoints(ctx context.Context) (ExpiryResult, error) {
	var res ExpiryResult
	now := s.clock.Now()
	for {
		rows, err := s.store.ListExpirableEarns(ctx, now, expiryBatch)
		if err != nil {
			return res, err
		}
		if len(rows) == 0 {
			return res, nil
		}
		for _, t := range rows {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			id := t.ID
			_, txn, err := s.store.ApplyPoints(ctx, store.PointsChange{
				CustomerID:    t.CustomerID,
				Type:          store.TxnExpire,
				Amount:        -t.Remaining,
				Reason:        fmt.Sprintf("Points earned %s expired", t.CreatedAt.Format(time.DateOnly)),
				ReferenceType: "points_transaction",
				ReferenceID:   &id,
				ExpireTxnID:   t.ID,
				Clamp:         true,
			})
			if err != nil {
				return res, fmt.Errorf("expire transaction %d: %w", t.ID, err)
			}
			if txn.Amount == 0 {
				continue
			}
			res.Rows++
			res.Points -= txn.Amount
			metrics.PointsMoved(store.TxnExpire, txn.Amount)
		}
	}
}
