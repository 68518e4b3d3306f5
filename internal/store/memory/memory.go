// Package memory is an in-process implementation of store.Store. It backs
// tests and demo mode; every multi-row change runs under one store-wide lock.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/wondertwin-ai/loyaltydesk/internal/store"
)

// Seeder repopulates a freshly reset store.
type Seeder func(ctx context.Context, s store.Store) error

// Store holds all loyaltydesk state in memory.
type Store struct {
	mu    sync.Mutex
	clock *store.Clock
	seed  Seeder

	customers     *table[store.Customer]
	purchases     *table[store.Purchase]
	transactions  *table[store.PointsTransaction]
	products      *table[store.Product]
	rewards       *table[store.Reward]
	redemptions   *table[store.Redemption]
	roles         *table[store.Role]
	staff         *table[store.Staff]
	segments      *table[store.Segment]
	campaigns     *table[store.Campaign]
	notifications *table[store.Notification]
	audit         *table[store.AuditEntry]

	channels map[string]store.ChannelSettings
	program  *store.ProgramSettings
}

var _ store.Store = (*Store)(nil)

// New creates an empty store. A nil clock uses wall time.
func New(clock *store.Clock) *Store {
	if clock == nil {
		clock = store.NewClock()
	}
	return &Store{
		clock:         clock,
		customers:     newTable[store.Customer](),
		purchases:     newTable[store.Purchase](),
		transactions:  newTable[store.PointsTransaction](),
		products:      newTable[store.Product](),
		rewards:       newTable[store.Reward](),
		redemptions:   newTable[store.Redemption](),
		roles:         newTable[store.Role](),
		staff:         newTable[store.Staff](),
		segments:      newTable[store.Segment](),
		campaigns:     newTable[store.Campaign](),
		notifications: newTable[store.Notification](),
		audit:         newTable[store.AuditEntry](),
		channels:      make(map[string]store.ChannelSettings),
	}
}

// SetSeeder registers the function Reset runs after clearing state.
func (s *Store) SetSeeder(fn Seeder) {
	s.seed = fn
}

// Clock returns the store's time source.
func (s *Store) Clock() *store.Clock {
	return s.clock
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

// State is the JSON form of the whole store used by /admin/state.
type State struct {
	Customers     map[int64]store.Customer          `json:"customers"`
	Purchases     map[int64]store.Purchase          `json:"purchases"`
	Transactions  map[int64]store.PointsTransaction `json:"transactions"`
	Products      map[int64]store.Product           `json:"products"`
	Rewards       map[int64]store.Reward            `json:"rewards"`
	Redemptions   map[int64]store.Redemption        `json:"redemptions"`
	Roles         map[int64]store.Role              `json:"roles"`
	Staff         map[int64]store.Staff             `json:"staff"`
	Segments      map[int64]store.Segment           `json:"segments"`
	Campaigns     map[int64]store.Campaign          `json:"campaigns"`
	Notifications map[int64]store.Notification      `json:"notifications"`
	Audit         map[int64]store.AuditEntry        `json:"audit"`
	Channels      map[string]store.ChannelSettings  `json:"channels"`
	Program       *store.ProgramSettings            `json:"program,omitempty"`
}

// Snapshot returns the full state.
func (s *Store) Snapshot() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	channels := make(map[string]store.ChannelSettings, len(s.channels))
	for k, v := range s.channels {
		channels[k] = v
	}
	return State{
		Customers:     s.customers.snapshot(),
		Purchases:     s.purchases.snapshot(),
		Transactions:  s.transactions.snapshot(),
		Products:      s.products.snapshot(),
		Rewards:       s.rewards.snapshot(),
		Redemptions:   s.redemptions.snapshot(),
		Roles:         s.roles.snapshot(),
		Staff:         s.staff.snapshot(),
		Segments:      s.segments.snapshot(),
		Campaigns:     s.campaigns.snapshot(),
		Notifications: s.notifications.snapshot(),
		Audit:         s.audit.snapshot(),
		Channels:      channels,
		Program:       s.program,
	}
}

// LoadState replaces the full state from a JSON document produced by Snapshot.
func (s *Store) LoadState(data []byte) error {
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("decode state: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers.load(st.Customers)
	s.purchases.load(st.Purchases)
	s.transactions.load(st.Transactions)
	s.products.load(st.Products)
	s.rewards.load(st.Rewards)
	s.redemptions.load(st.Redemptions)
	s.roles.load(st.Roles)
	s.staff.load(st.Staff)
	s.segments.load(st.Segments)
	s.campaigns.load(st.Campaigns)
	s.notifications.load(st.Notifications)
	s.audit.load(st.Audit)
	s.channels = make(map[string]store.ChannelSettings, len(st.Channels))
	for k, v := range st.Channels {
		s.channels[k] = v
	}
	s.program = st.Program
	return nil
}

// Reset clears all state, rewinds the clock and reruns the seeder. A seeder
// error is returned and leaves the store with whatever it wrote before failing.
func (s *Store) Reset() error {
	s.mu.Lock()
	s.customers.reset()
	s.purchases.reset()
	s.transactions.reset()
	s.products.reset()
	s.rewards.reset()
	s.redemptions.reset()
	s.roles.reset()
	s.staff.reset()
	s.segments.reset()
	s.campaigns.reset()
	s.notifications.reset()
	s.audit.reset()
	s.channels = make(map[string]store.ChannelSettings)
	s.program = nil
	s.mu.Unlock()

	s.clock.Reset()
	if s.seed != nil {
		if err := s.seed(context.Background(), s); err != nil {
			return fmt.Errorf("reseed: %w", err)
		}
	}
	return nil
}

func notFound(entity string, id any) error {
	return fmt.Errorf("%s %v: %w", entity, id, store.ErrNotFound)
}
