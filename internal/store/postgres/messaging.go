package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/wondertwin-ai/loyaltydesk/internal/store"
)

const segmentCols = `id, name, description, match, criteria, created_at, updated_at`

const campaignCols = `id, name, segment_id, channel, subject, body, status, scheduled_at, started_at,
	completed_at, total, sent, failed, skipped, created_by, created_at, updated_at`

const notificationCols = `id, campaign_id, customer_id, channel, recipient, subject, body, status,
	provider_message_id, error, attempts, sent_at, delivered_at, created_at, updated_at`

const auditCols = `id, staff_id, action, entity_type, entity_id, method, path, status, remote_addr, created_at`

func (s *Store) ListSegments(ctx context.Context, p store.ListParams) (store.Page[store.Segment], error) {
	var w where
	w.search(p.Query, "name", "description")
	return list[store.Segment](ctx, s.db, "segments", segmentCols, w, p, store.SegmentSorts, store.SortSpec{Field: "id"})
}

func (s *Store) GetSegment(ctx context.Context, id int64) (store.Segment, error) {
	var sg store.Segment
	err := getOne(ctx, s.db, &sg, "segment", id, `SELECT `+segmentCols+` FROM segments WHERE id = $1`, id)
	return sg, err
}

func (s *Store) CreateSegment(ctx context.Context, sg *store.Segment) error {
	now := s.now()
	sg.CreatedAt, sg.UpdatedAt = now, now
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO segments (name, description, match, criteria, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, sg.Name, sg.Description, sg.Match, sg.Criteria, sg.CreatedAt, sg.UpdatedAt).Scan(&sg.ID)
	return wrapErr("create", "segment", sg.Name, err)
}

func (s *Store) UpdateSegment(ctx context.Context, sg *store.Segment) error {
	err := sqlx.GetContext(ctx, s.db, sg, `
		UPDATE segments SET name = $2, description = $3, match = $4, criteria = $5, updated_at = $6
		WHERE id = $1
		RETURNING `+segmentCols,
		sg.ID, sg.Name, sg.Description, sg.Match, sg.Criteria, s.now())
	return wrapErr("update", "segment", sg.ID, err)
}

// DeleteSegment relies on the campaigns foreign key to refuse segments in use.
func (s *Store) DeleteSegment(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM segments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete segment %d: %w", id, mapErr(err))
	}
	return expectOne(res, "segment", id)
}

func (s *Store) ListCampaigns(ctx context.Context, p store.ListParams) (store.Page[store.Campaign], error) {
	var w where
	w.search(p.Query, "name")
	w.eq(p, "status", "status")
	w.eq(p, "channel", "channel")
	w.id(p, "segment_id", "segment_id")
	return list[store.Campaign](ctx, s.db, "campaigns", campaignCols, w, p, store.CampaignSorts, store.SortSpec{Field: "id", Desc: true})
}

func (s *Store) GetCampaign(ctx context.Context, id int64) (store.Campaign, error) {
	var c store.Campaign
	err := getOne(ctx, s.db, &c, "campaign", id, `SELECT `+campaignCols+` FROM campaigns WHERE id = $1`, id)
	return c, err
}

func (s *Store) CreateCampaign(ctx context.Context, c *store.Campaign) error {
	now := s.now()
	c.CreatedAt, c.UpdatedAt = now, now
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO campaigns (name, segment_id, channel, subject, body, status, scheduled_at,
			total, sent, failed, skipped, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`, c.Name, c.SegmentID, c.Channel, c.Subject, c.Body, c.Status, c.ScheduledAt,
		c.Total, c.Sent, c.Failed, c.Skipped, c.CreatedBy, c.CreatedAt, c.UpdatedAt).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("create campaign: %w", segmentRef(c.SegmentID, err))
	}
	return nil
}

func (s *Store) UpdateCampaign(ctx context.Context, c *store.Campaign) error {
	err := sqlx.GetContext(ctx, s.db, c, `
		UPDATE campaigns
		SET name = $2, segment_id = $3, channel = $4, subject = $5, body = $6, status = $7,
			scheduled_at = $8, started_at = $9, completed_at = $10, total = $11, sent = $12,
			failed = $13, skipped = $14, updated_at = $15
		WHERE id = $1
		RETURNING `+campaignCols,
		c.ID, c.Name, c.SegmentID, c.Channel, c.Subject, c.Body, c.Status,
		c.ScheduledAt, c.StartedAt, c.CompletedAt, c.Total, c.Sent,
		c.Failed, c.Skipped, s.now())
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("campaign", c.ID)
	}
	if err != nil {
		return fmt.Errorf("update campaign: %w", segmentRef(c.SegmentID, err))
	}
	return nil
}

// segmentRef names the segment when an insert trips the segment foreign key.
func segmentRef(segmentID int64, err error) error {
	err = mapErr(err)
	if errors.Is(err, store.ErrNotFound) {
		return notFound("segment", segmentID)
	}
	return err
}

func (s *Store) DeleteCampaign(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM campaigns WHERE id = $1`, id)
	if err != nil {
		return wrapErr("delete", "campaign", id, err)
	}
	return expectOne(res, "campaign", id)
}

// TransitionCampaign moves a campaign to status to only if it is currently in
// one of from. The single UPDATE is the compare-and-swap.
func (s *Store) TransitionCampaign(ctx context.Context, id int64, from []string, to string) (store.Campaign, error) {
	now := s.now()
	var c store.Campaign
	err := sqlx.GetContext(ctx, s.db, &c, `
		UPDATE campaigns
		SET status = $3,
			started_at = CASE WHEN $3 = 'sending' THEN $4 ELSE started_at END,
			completed_at = CASE WHEN $3 IN ('completed', 'failed', 'cancelled') THEN $4 ELSE completed_at END,
			updated_at = $4
		WHERE id = $1 AND status = ANY($2)
		RETURNING `+campaignCols,
		id, pq.Array(from), to, now)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return store.Campaign{}, fmt.Errorf("transition campaign: %w", err)
	}
	cur, err := s.GetCampaign(ctx, id)
	if err != nil {
		return store.Campaign{}, err
	}
	return store.Campaign{}, fmt.Errorf("%w: campaign %d is %s", store.ErrConflict, id, cur.Status)
}

func (s *Store) ListDueCampaigns(ctx context.Context, t time.Time) ([]store.Campaign, error) {
	out := []store.Campaign{}
	err := sqlx.SelectContext(ctx, s.db, &out, `
		SELECT `+campaignCols+`
		FROM campaigns
		WHERE status = 'scheduled' AND scheduled_at IS NOT NULL AND scheduled_at <= $1
		ORDER BY scheduled_at, id
	`, t)
	if err != nil {
		return nil, fmt.Errorf("list due campaigns: %w", err)
	}
	return out, nil
}

func (s *Store) ListNotifications(ctx context.Context, p store.ListParams) (store.Page[store.Notification], error) {
	var w where
	w.search(p.Query, "recipient")
	w.eq(p, "channel", "channel")
	w.eq(p, "status", "status")
	w.id(p, "campaign_id", "campaign_id")
	w.id(p, "customer_id", "customer_id")
	return list[store.Notification](ctx, s.db, "notifications", notificationCols, w, p, store.NotificationSorts, store.SortSpec{Field: "id", Desc: true})
}

func (s *Store) GetNotification(ctx context.Context, id int64) (store.Notification, error) {
	var n store.Notification
	err := getOne(ctx, s.db, &n, "notification", id, `SELECT `+notificationCols+` FROM notifications WHERE id = $1`, id)
	return n, err
}

func (s *Store) GetNotificationByProviderID(ctx context.Context, providerID string) (store.Notification, error) {
	if providerID == "" {
		return store.Notification{}, notFound("notification", providerID)
	}
	var n store.Notification
	err := getOne(ctx, s.db, &n, "notification", providerID, `
		SELECT `+notificationCols+` FROM notifications WHERE provider_message_id = $1 ORDER BY id DESC LIMIT 1
	`, providerID)
	return n, err
}

func (s *Store) CreateNotification(ctx context.Context, n *store.Notification) error {
	now := s.now()
	n.CreatedAt, n.UpdatedAt = now, now
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO notifications (campaign_id, customer_id, channel, recipient, subject, body, status,
			provider_message_id, error, attempts, sent_at, delivered_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`, n.CampaignID, n.CustomerID, n.Channel, n.Recipient, n.Subject, n.Body, n.Status,
		n.ProviderMessageID, n.Error, n.Attempts, n.SentAt, n.DeliveredAt, n.CreatedAt, n.UpdatedAt).Scan(&n.ID)
	return wrapErr("create", "notification", n.Recipient, err)
}

func (s *Store) UpdateNotification(ctx context.Context, n *store.Notification) error {
	err := sqlx.GetContext(ctx, s.db, n, `
		UPDATE notifications
		SET status = $2, provider_message_id = $3, error = $4, attempts = $5, sent_at = $6,
			delivered_at = $7, updated_at = $8
		WHERE id = $1
		RETURNING `+notificationCols,
		n.ID, n.Status, n.ProviderMessageID, n.Error, n.Attempts, n.SentAt, n.DeliveredAt, s.now())
	return wrapErr("update", "notification", n.ID, err)
}

func (s *Store) AppendAudit(ctx context.Context, e *store.AuditEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO audit_log (staff_id, action, entity_type, entity_id, method, path, status, remote_addr, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, e.StaffID, e.Action, e.EntityType, e.EntityID, e.Method, e.Path, e.Status, e.RemoteAddr, e.CreatedAt).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

func (s *Store) ListAudit(ctx context.Context, p store.ListParams) (store.Page[store.AuditEntry], error) {
	var w where
	w.id(p, "staff_id", "staff_id")
	w.eq(p, "entity_type", "entity_type")
	w.eq(p, "action", "action")
	return list[store.AuditEntry](ctx, s.db, "audit_log", auditCols, w, p, []string{"id"}, store.SortSpec{Field: "id", Desc: true})
}
