// Package loyalty holds the points and redemption rules that span more than
// one store call: purchase earning, manual adjustments, expiry sweeps,
// verified redemptions and delivery tracking.
package loyalty

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/wondertwin-ai/loyaltydesk/internal/apperr"
	"github.com/wondertwin-ai/loyaltydesk/internal/store"
)

// Notifier delivers a message to a customer over their preferred channel.
type Notifier interface {
	NotifyCustomer(ctx context.Context, c store.Customer, subject, body string) (store.Notification, error)
}

// Service applies loyalty rules on top of a store.
type Service struct {
	store    store.Store
	notifier Notifier
	clock    *store.Clock
	log      *logrus.Logger
}

// NewService creates a Service. notifier may be nil, in which case
// verification codes are generated but never sent.
func NewService(st store.Store, notifier Notifier, clock *store.Clock, log *logrus.Logger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{store: st, notifier: notifier, clock: clock, log: log}
}

// CatalogItem is a reward as seen by one customer.
type CatalogItem struct {
	store.Reward
	Affordable bool `json:"affordable"`
}

// Catalog lists active rewards and marks the ones the customer can redeem
// right now.
func (s *Service) Catalog(ctx context.Context, customerID int64) ([]CatalogItem, error) {
	c, err := s.store.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	rewards, err := s.store.ListRewards(ctx, store.ListParams{
		Sort:    "points_cost",
		Filters: map[string]string{"active": "true"},
		Unpaged: true,
	})
	if err != nil {
		return nil, err
	}
	items := make([]CatalogItem, 0, len(rewards.Data))
	for _, r := range rewards.Data {
		items = append(items, CatalogItem{
			Reward:     r,
			Affordable: r.Active && r.InStock() && c.PointsBalance >= r.PointsCost && c.Status != store.CustomerBlocked,
		})
	}
	return items, nil
}

// DeleteCustomer removes a customer unless they still have open
// redemptions, which fails with store.ErrConflict.
func (s *Service) DeleteCustomer(ctx context.Context, id int64) error {
	if err := s.store.DeleteCustomer(ctx, id); err != nil {
		return err
	}
	s.log.WithField("customer_id", id).Info("customer deleted")
	return nil
}

func (s *Service) customerUsable(c store.Customer) error {
	if c.Status == store.CustomerBlocked {
		return apperr.Unprocessable("customer_blocked", "customer "+c.Code+" is blocked")
	}
	return nil
}
