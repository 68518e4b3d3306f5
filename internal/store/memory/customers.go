package memory

import (
	"cmp"
	"context"
	"fmt"
	"strings"

	"github.com/wondertwin-ai/loyaltydesk/internal/segment"
	"github.com/wondertwin-ai/loyaltydesk/internal/store"
)

var customerSorter = sorter[store.Customer]{
	"id":              byID(func(c store.Customer) int64 { return c.ID }),
	"first_name":      byString(func(c store.Customer) string { return c.FirstName }),
	"last_name":       byString(func(c store.Customer) string { return c.LastName }),
	"email":           byString(func(c store.Customer) string { return c.Email }),
	"points_balance":  func(a, b store.Customer) int { return cmp.Compare(a.PointsBalance, b.PointsBalance) },
	"lifetime_points": func(a, b store.Customer) int { return cmp.Compare(a.LifetimePoints, b.LifetimePoints) },
	"created_at":      func(a, b store.Customer) int { return a.CreatedAt.Compare(b.CreatedAt) },
}

var defaultCustomerSort = store.SortSpec{Field: "id"}

func (s *Store) ListCustomers(ctx context.Context, p store.ListParams) (store.Page[store.Customer], error) {
	items := s.customers.filter(func(c store.Customer) bool {
		return containsFold(p.Query, c.FirstName, c.LastName, c.FullName(), c.Email, c.Phone, c.Code) &&
			eqFilter(p, "status", c.Status) &&
			eqFilter(p, "tier", c.Tier) &&
			eqFilter(p, "city", c.City)
	})
	return page(items, p, store.CustomerSorts, defaultCustomerSort, customerSorter)
}

func (s *Store) MatchCustomers(ctx context.Context, match string, criteria []store.Criterion, p store.ListParams) (store.Page[store.Customer], error) {
	if err := segment.Validate(match, criteria); err != nil {
		return store.Page[store.Customer]{}, err
	}
	now := s.clock.Now()
	items := s.customers.filter(func(c store.Customer) bool {
		return segment.Match(c, match, criteria, now)
	})
	return page(items, p, store.CustomerSorts, defaultCustomerSort, customerSorter)
}

func (s *Store) GetCustomer(ctx context.Context, id int64) (store.Customer, error) {
	c, ok := s.customers.get(id)
	if !ok {
		return store.Customer{}, notFound("customer", id)
	}
	return c, nil
}

func (s *Store) GetCustomerByEmail(ctx context.Context, email string) (store.Customer, error) {
	c, ok := s.customers.find(func(c store.Customer) bool {
		return email != "" && strings.EqualFold(c.Email, email)
	})
	if !ok {
		return store.Customer{}, notFound("customer", email)
	}
	return c, nil
}

func (s *Store) emailTakenLocked(email string, exceptID int64) bool {
	if email == "" {
		return false
	}
	_, taken := s.customers.find(func(c store.Customer) bool {
		return c.ID != exceptID && strings.EqualFold(c.Email, email)
	})
	return taken
}

func (s *Store) CreateCustomer(ctx context.Context, c *store.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.emailTakenLocked(c.Email, 0) {
		return fmt.Errorf("%w: email %q is already registered", store.ErrConflict, c.Email)
	}
	now := s.clock.Now()
	c.ID = s.customers.nextID()
	if c.Code == "" {
		c.Code = store.CustomerCode(c.ID)
	}
	if c.Tier == "" {
		c.Tier = store.TierBronze
	}
	if c.Status == "" {
		c.Status = store.CustomerActive
	}
	c.CreatedAt = now
	c.UpdatedAt = now
	s.customers.set(c.ID, *c)
	return nil
}

// UpdateCustomer writes profile fields only. Balances and tier are owned by
// ApplyPoints.
func (s *Store) UpdateCustomer(ctx context.Context, c *store.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.customers.get(c.ID)
	if !ok {
		return notFound("customer", c.ID)
	}
	if s.emailTakenLocked(c.Email, c.ID) {
		return fmt.Errorf("%w: email %q is already registered", store.ErrConflict, c.Email)
	}
	cur.FirstName = c.FirstName
	cur.LastName = c.LastName
	cur.Email = c.Email
	cur.Phone = c.Phone
	cur.City = c.City
	cur.Status = c.Status
	cur.OptInSMS = c.OptInSMS
	cur.OptInWhatsApp = c.OptInWhatsApp
	cur.OptInEmail = c.OptInEmail
	cur.UpdatedAt = s.clock.Now()
	s.customers.set(cur.ID, cur)
	*c = cur
	return nil
}

// DeleteCustomer removes the customer with its ledger, purchases and
// redemptions. Notifications keep their history without the link.
func (s *Store) DeleteCustomer(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.customers.get(id); !ok {
		return notFound("customer", id)
	}
	if open := s.redemptions.count(func(r store.Redemption) bool { return r.CustomerID == id && r.Open() }); open > 0 {
		return fmt.Errorf("%w: customer has %d open redemption(s)", store.ErrConflict, open)
	}
	s.customers.delete(id)
	for _, t := range s.transactions.filter(func(t store.PointsTransaction) bool { return t.CustomerID == id }) {
		s.transactions.delete(t.ID)
	}
	for _, p := range s.purchases.filter(func(p store.Purchase) bool { return p.CustomerID == id }) {
		s.purchases.delete(p.ID)
	}
	for _, r := range s.redemptions.filter(func(r store.Redemption) bool { return r.CustomerID == id }) {
		s.redemptions.delete(r.ID)
	}
	for _, n := range s.notifications.filter(func(n store.Notification) bool { return n.CustomerID != nil && *n.CustomerID == id }) {
		n.CustomerID = nil
		s.notifications.set(n.ID, n)
	}
	return nil
}
