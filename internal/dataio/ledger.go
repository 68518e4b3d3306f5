package dataio

import (
	"context"
	"io"
	"strconv"
	"time"

	"github.com/wondertwin-ai/loyaltydesk/internal/store"
)

// RedemptionColumns is the header of redemption exports.
var RedemptionColumns = []string{
	"code", "customer_id", "reward_id", "points_spent", "verification_status",
	"delivery_status", "delivery_note", "created_at", "verified_at", "delivered_at", "cancelled_at",
}

// LedgerColumns is the header of ledger exports.
var LedgerColumns = []string{
	"id", "customer_id", "type", "amount", "balance_after", "reason",
	"reference_type", "reference_id", "staff_id", "expires_at", "expired", "created_at",
}

// ExportRedemptions writes every redemption matching p's filters as CSV.
func ExportRedemptions(ctx context.Context, st store.RedemptionStore, w io.Writer, p store.ListParams) error {
	tw, err := newTableWriter(w, FormatCSV, "Redemptions")
	if err != nil {
		return err
	}
	if err := tw.Write(RedemptionColumns); err != nil {
		return err
	}
	err = eachPage(p, func(p store.ListParams) (store.PageMeta, error) {
		pg, err := st.ListRedemptions(ctx, p)
		if err != nil {
			return store.PageMeta{}, err
		}
		for _, r := range pg.Data {
			rec := []string{
				r.Code,
				strconv.FormatInt(r.CustomerID, 10),
				strconv.FormatInt(r.RewardID, 10),
				strconv.FormatInt(r.PointsSpent, 10),
				r.VerificationStatus,
				r.DeliveryStatus,
				r.DeliveryNote,
				r.CreatedAt.UTC().Format(time.RFC3339),
				optTime(r.VerifiedAt),
				optTime(r.DeliveredAt),
				optTime(r.CancelledAt),
			}
			if err := tw.Write(rec); err != nil {
				return store.PageMeta{}, err
			}
		}
		return pg.Meta, nil
	})
	if err != nil {
		return err
	}
	return tw.Close()
}

// ExportLedger writes points transactions as CSV. customerID 0 exports the
// ledger of every customer.
func ExportLedger(ctx context.Context, st store.PointsStore, w io.Writer, customerID int64, p store.ListParams) error {
	tw, err := newTableWriter(w, FormatCSV, "Ledger")
	if err != nil {
		return err
	}
	if err := tw.Write(LedgerColumns); err != nil {
		return err
	}
	err = eachPage(p, func(p store.ListParams) (store.PageMeta, error) {
		pg, err := st.ListTransactions(ctx, customerID, p)
		if err != nil {
			return store.PageMeta{}, err
		}
		for _, t := range pg.Data {
			rec := []string{
				strconv.FormatInt(t.ID, 10),
				strconv.FormatInt(t.CustomerID, 10),
				t.Type,
				strconv.FormatInt(t.Amount, 10),
				strconv.FormatInt(t.BalanceAfter, 10),
				t.Reason,
				t.ReferenceType,
				optID(t.ReferenceID),
				optID(t.StaffID),
				optTime(t.ExpiresAt),
				strconv.FormatBool(t.Expired),
				t.CreatedAt.UTC().Format(time.RFC3339),
			}
			if err := tw.Write(rec); err != nil {
				return store.PageMeta{}, err
			}
		}
		return pg.Meta, nil
	})
	if err != nil {
		return err
	}
	return tw.Close()
}

func optTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func optID(id *int64) string {
	if id == nil {
		return ""
	}
	return strconv.FormatInt(*id, 10)
}
