package memory

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/wondertwin-ai/loyaltydesk/internal/store"
)

var segmentSorter = sorter[store.Segment]{
	"id":         byID(func(s store.Segment) int64 { return s.ID }),
	"name":       byString(func(s store.Segment) string { return s.Name }),
	"created_at": func(a, b store.Segment) int { return a.CreatedAt.Compare(b.CreatedAt) },
}

var campaignSorter = sorter[store.Campaign]{
	"id":           byID(func(c store.Campaign) int64 { return c.ID }),
	"name":         byString(func(c store.Campaign) string { return c.Name }),
	"scheduled_at": func(a, b store.Campaign) int { return compareOptTime(a.ScheduledAt, b.ScheduledAt) },
	"created_at":   func(a, b store.Campaign) int { return a.CreatedAt.Compare(b.CreatedAt) },
}

var notificationSorter = sorter[store.Notification]{
	"id":         byID(func(n store.Notification) int64 { return n.ID }),
	"created_at": func(a, b store.Notification) int { return a.CreatedAt.Compare(b.CreatedAt) },
}

var auditSorter = sorter[store.AuditEntry]{
	"id": byID(func(e store.AuditEntry) int64 { return e.ID }),
}

// compareOptTime orders nil after every set time.
func compareOptTime(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return a.Compare(*b)
}

func (s *Store) ListSegments(ctx context.Context, p store.ListParams) (store.Page[store.Segment], error) {
	items := s.segments.filter(func(sg store.Segment) bool {
		return containsFold(p.Query, sg.Name, sg.Description)
	})
	return page(items, p, store.SegmentSorts, store.SortSpec{Field: "id"}, segmentSorter)
}

func (s *Store) GetSegment(ctx context.Context, id int64) (store.Segment, error) {
	sg, ok := s.segments.get(id)
	if !ok {
		return store.Segment{}, notFound("segment", id)
	}
	return sg, nil
}

func (s *Store) CreateSegment(ctx context.Context, sg *store.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	sg.ID = s.segments.nextID()
	sg.CreatedAt = now
	sg.UpdatedAt = now
	s.segments.set(sg.ID, *sg)
	return nil
}

func (s *Store) UpdateSegment(ctx context.Context, sg *store.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.segments.get(sg.ID)
	if !ok {
		return notFound("segment", sg.ID)
	}
	sg.CreatedAt = cur.CreatedAt
	sg.UpdatedAt = s.clock.Now()
	s.segments.set(sg.ID, *sg)
	return nil
}

func (s *Store) DeleteSegment(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.segments.get(id); !ok {
		return notFound("segment", id)
	}
	if s.campaigns.count(func(c store.Campaign) bool { return c.SegmentID == id }) > 0 {
		return fmt.Errorf("segment %d is used by a campaign: %w", id, store.ErrInUse)
	}
	s.segments.delete(id)
	return nil
}

func (s *Store) ListCampaigns(ctx context.Context, p store.ListParams) (store.Page[store.Campaign], error) {
	items := s.campaigns.filter(func(c store.Campaign) bool {
		return containsFold(p.Query, c.Name) &&
			eqFilter(p, "status", c.Status) &&
			eqFilter(p, "channel", c.Channel) &&
			idFilter(p, "segment_id", c.SegmentID)
	})
	return page(items, p, store.CampaignSorts, store.SortSpec{Field: "id", Desc: true}, campaignSorter)
}

func (s *Store) GetCampaign(ctx context.Context, id int64) (store.Campaign, error) {
	c, ok := s.campaigns.get(id)
	if !ok {
		return store.Campaign{}, notFound("campaign", id)
	}
	return c, nil
}

func (s *Store) CreateCampaign(ctx context.Context, c *store.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.segments.get(c.SegmentID); !ok {
		return notFound("segment", c.SegmentID)
	}
	now := s.clock.Now()
	c.ID = s.campaigns.nextID()
	c.CreatedAt = now
	c.UpdatedAt = now
	s.campaigns.set(c.ID, *c)
	return nil
}

func (s *Store) UpdateCampaign(ctx context.Context, c *store.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.campaigns.get(c.ID)
	if !ok {
		return notFound("campaign", c.ID)
	}
	if _, ok := s.segments.get(c.SegmentID); !ok {
		return notFound("segment", c.SegmentID)
	}
	c.CreatedAt = cur.CreatedAt
	c.UpdatedAt = s.clock.Now()
	s.campaigns.set(c.ID, *c)
	return nil
}

func (s *Store) DeleteCampaign(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.campaigns.delete(id) {
		return notFound("campaign", id)
	}
	for _, n := range s.notifications.filter(func(n store.Notification) bool { return n.CampaignID != nil && *n.CampaignID == id }) {
		n.CampaignID = nil
		s.notifications.set(n.ID, n)
	}
	return nil
}

func (s *Store) TransitionCampaign(ctx context.Context, id int64, from []string, to string) (store.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns.get(id)
	if !ok {
		return store.Campaign{}, notFound("campaign", id)
	}
	if !slices.Contains(from, c.Status) {
		return store.Campaign{}, fmt.Errorf("%w: campaign %d is %s", store.ErrConflict, id, c.Status)
	}
	now := s.clock.Now()
	c.Status = to
	switch to {
	case store.CampaignSending:
		c.StartedAt = &now
	case store.CampaignCompleted, store.CampaignFailed, store.CampaignCancelled:
		c.CompletedAt = &now
	}
	c.UpdatedAt = now
	s.campaigns.set(c.ID, c)
	return c, nil
}

func (s *Store) ListDueCampaigns(ctx context.Context, t time.Time) ([]store.Campaign, error) {
	items := s.campaigns.filter(func(c store.Campaign) bool {
		return c.Status == store.CampaignScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(t)
	})
	slices.SortStableFunc(items, campaignSorter["scheduled_at"])
	return items, nil
}

func (s *Store) ListNotifications(ctx context.Context, p store.ListParams) (store.Page[store.Notification], error) {
	items := s.notifications.filter(func(n store.Notification) bool {
		return containsFold(p.Query, n.Recipient) &&
			eqFilter(p, "channel", n.Channel) &&
			eqFilter(p, "status", n.Status) &&
			optIDFilter(p, "campaign_id", n.CampaignID) &&
			optIDFilter(p, "customer_id", n.CustomerID)
	})
	return page(items, p, store.NotificationSorts, store.SortSpec{Field: "id", Desc: true}, notificationSorter)
}

func (s *Store) GetNotification(ctx context.Context, id int64) (store.Notification, error) {
	n, ok := s.notifications.get(id)
	if !ok {
		return store.Notification{}, notFound("notification", id)
	}
	return n, nil
}

func (s *Store) GetNotificationByProviderID(ctx context.Context, providerID string) (store.Notification, error) {
	n, ok := s.notifications.find(func(n store.Notification) bool {
		return providerID != "" && n.ProviderMessageID == providerID
	})
	if !ok {
		return store.Notification{}, notFound("notification", providerID)
	}
	return n, nil
}

func (s *Store) CreateNotification(ctx context.Context, n *store.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	n.ID = s.notifications.nextID()
	n.CreatedAt = now
	n.UpdatedAt = now
	s.notifications.set(n.ID, *n)
	return nil
}

func (s *Store) UpdateNotification(ctx context.Context, n *store.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.notifications.get(n.ID)
	if !ok {
		return notFound("notification", n.ID)
	}
	n.CreatedAt = cur.CreatedAt
	n.UpdatedAt = s.clock.Now()
	s.notifications.set(n.ID, *n)
	return nil
}

func (s *Store) AppendAudit(ctx context.Context, e *store.AuditEntry) error {
	e.ID = s.audit.nextID()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock.Now()
	}
	s.audit.set(e.ID, *e)
	return nil
}

func (s *Store) ListAudit(ctx context.Context, p store.ListParams) (store.Page[store.AuditEntry], error) {
	items := s.audit.filter(func(e store.AuditEntry) bool {
		return optIDFilter(p, "staff_id", e.StaffID) &&
			eqFilter(p, "entity_type", e.EntityType) &&
			eqFilter(p, "action", e.Action)
	})
	return page(items, p, []string{"id"}, store.SortSpec{Field: "id", Desc: true}, auditSorter)
}
