// Package store defines the loyaltydesk domain types and the persistence
// interface implemented by the memory and postgres backends.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors shared by every backend. Backends wrap them with context.
var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrInsufficientPoints = errors.New("insufficient points")
	ErrOutOfStock         = errors.New("reward out of stock")
	ErrInactive           = errors.New("inactive")
	ErrInUse              = errors.New("in use")
	ErrInvalidParam       = errors.New("invalid parameter")
)

// Paging limits.
const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// ListParams carries paging, sorting, search and equality filters for list
// operations. Filter keys are backend-independent column names.
type ListParams struct {
	Page    int
	PerPage int
	Sort    string
	Query   string
	Filters map[string]string
	// Unpaged returns every matching row; used by exports and campaign sends.
	Unpaged bool
}

// Normalize clamps paging values into range.
func (p ListParams) Normalize() ListParams {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PerPage < 1 {
		p.PerPage = DefaultPerPage
	}
	if p.PerPage > MaxPerPage {
		p.PerPage = MaxPerPage
	}
	p.Query = strings.TrimSpace(p.Query)
	return p
}

// Offset is the zero-based index of the first row of the page.
func (p ListParams) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// Filter returns a filter value and whether it was set to something non-empty.
func (p ListParams) Filter(key string) (string, bool) {
	v, ok := p.Filters[key]
	return v, ok && v != ""
}

// PageMeta describes the position of a page in the full result.
type PageMeta struct {
	Page     int `json:"page"`
	PerPage  int `json:"per_page"`
	Total    int `json:"total"`
	LastPage int `json:"last_page"`
}

// Page is one page of a list result.
type Page[T any] struct {
	Data []T      `json:"data"`
	Meta PageMeta `json:"meta"`
}

// NewPage builds a page envelope. items must already be the page slice.
func NewPage[T any](items []T, total int, p ListParams) Page[T] {
	if items == nil {
		items = []T{}
	}
	perPage := p.PerPage
	if p.Unpaged {
		perPage = total
	}
	last := 1
	if perPage > 0 && total > 0 {
		last = (total + perPage - 1) / perPage
	}
	page := p.Page
	if page < 1 {
		page = 1
	}
	return Page[T]{
		Data: items,
		Meta: PageMeta{Page: page, PerPage: perPage, Total: total, LastPage: last},
	}
}

// SortSpec is a parsed sort parameter.
type SortSpec struct {
	Field string
	Desc  bool
}

// ParseSort parses "field" or "-field" and checks it against allowed. An empty
// value yields def.
func ParseSort(s string, allowed []string, def SortSpec) (SortSpec, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	spec := SortSpec{Field: s}
	if strings.HasPrefix(s, "-") {
		spec = SortSpec{Field: s[1:], Desc: true}
	}
	for _, a := range allowed {
		if a == spec.Field {
			return spec, nil
		}
	}
	return SortSpec{}, fmt.Errorf("%w: cannot sort by %q", ErrInvalidParam, spec.Field)
}

// Sortable columns per entity.
var (
	CustomerSorts     = []string{"id", "first_name", "last_name", "email", "points_balance", "lifetime_points", "created_at"}
	ProductSorts      = []string{"id", "sku", "name", "price", "created_at"}
	RewardSorts       = []string{"id", "name", "points_cost", "created_at"}
	RedemptionSorts   = []string{"id", "points_spent", "created_at"}
	StaffSorts        = []string{"id", "name", "email", "created_at"}
	SegmentSorts      = []string{"id", "name", "created_at"}
	CampaignSorts     = []string{"id", "name", "scheduled_at", "created_at"}
	NotificationSorts = []string{"id", "created_at"}
)

// PointsChange describes one atomic balance change. Amount is signed.
type PointsChange struct {
	CustomerID    int64
	Type          string
	Amount        int64
	Reason        string
	ReferenceType string
	ReferenceID   *int64
	StaffID       *int64
	ExpiresAt     *time.Time
	// ExpireTxnID expires the unspent remainder of the given earn row in the
	// same transaction. Amount is ignored and the remainder is debited.
	ExpireTxnID int64
	// Clamp limits a debit to the available balance instead of failing.
	Clamp bool
}

// CustomerStore persists customers.
type CustomerStore interface {
	ListCustomers(ctx context.Context, p ListParams) (Page[Customer], error)
	GetCustomer(ctx context.Context, id int64) (Customer, error)
	GetCustomerByEmail(ctx context.Context, email string) (Customer, error)
	CreateCustomer(ctx context.Context, c *Customer) error
	UpdateCustomer(ctx context.Context, c *Customer) error
	DeleteCustomer(ctx context.Context, id int64) error
	// MatchCustomers lists customers selected by a segment's rules.
	MatchCustomers(ctx context.Context, match string, criteria []Criterion, p ListParams) (Page[Customer], error)
}

// PointsStore persists the points ledger and purchases.
type PointsStore interface {
	// ApplyPoints changes a balance and writes the ledger row atomically.
	// The customer tier is recomputed from the stored program settings.
	ApplyPoints(ctx context.Context, ch PointsChange) (Customer, PointsTransaction, error)
	// RecordPurchase stores a purchase and its earn row atomically. When the
	// customer already has a purchase with the same reference, that purchase
	// is returned with replayed=true and nothing is written.
	RecordPurchase(ctx context.Context, p *Purchase, ch PointsChange) (replayed bool, err error)
	ListPurchases(ctx context.Context, customerID int64, p ListParams) (Page[Purchase], error)
	// ListTransactions lists ledger rows newest first. customerID 0 lists all.
	ListTransactions(ctx context.Context, customerID int64, p ListParams) (Page[PointsTransaction], error)
	// ListExpirableEarns returns unexpired earn rows whose expiry is at or before t.
	ListExpirableEarns(ctx context.Context, t time.Time, limit int) ([]PointsTransaction, error)
}

// CatalogStore persists products and rewards.
type CatalogStore interface {
	ListProducts(ctx context.Context, p ListParams) (Page[Product], error)
	GetProduct(ctx context.Context, id int64) (Product, error)
	CreateProduct(ctx context.Context, pr *Product) error
	UpdateProduct(ctx context.Context, pr *Product) error
	DeleteProduct(ctx context.Context, id int64) error

	ListRewards(ctx context.Context, p ListParams) (Page[Reward], error)
	GetReward(ctx context.Context, id int64) (Reward, error)
	CreateReward(ctx context.Context, r *Reward) error
	UpdateReward(ctx context.Context, r *Reward) error
	DeleteReward(ctx context.Context, id int64) error
}

// RedemptionStore persists redemptions.
type RedemptionStore interface {
	// CreateRedemption checks the reward and balance, debits points, takes
	// one unit of stock and inserts r, all atomically.
	CreateRedemption(ctx context.Context, r *Redemption) error
	// CancelRedemption refunds the points and restores stock atomically.
	CancelRedemption(ctx context.Context, id int64, staffID *int64, note string) (Redemption, error)
	GetRedemption(ctx context.Context, id int64) (Redemption, error)
	// UpdateRedemption writes r only if the stored redemption is still in
	// state prev; otherwise it returns ErrConflict.
	UpdateRedemption(ctx context.Context, r *Redemption, prev RedemptionState) error
	ListRedemptions(ctx context.Context, p ListParams) (Page[Redemption], error)
	CountOpenRedemptions(ctx context.Context, customerID int64) (int, error)
}

// StaffStore persists staff accounts and roles.
type StaffStore interface {
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	GetRoleByName(ctx context.Context, name string) (Role, error)
	CreateRole(ctx context.Context, r *Role) error
	UpdateRole(ctx context.Context, r *Role) error
	DeleteRole(ctx context.Context, id int64) error

	ListStaff(ctx context.Context, p ListParams) (Page[Staff], error)
	GetStaff(ctx context.Context, id int64) (Staff, error)
	GetStaffByEmail(ctx context.Context, email string) (Staff, error)
	CreateStaff(ctx context.Context, s *Staff) error
	UpdateStaff(ctx context.Context, s *Staff) error
	DeleteStaff(ctx context.Context, id int64) error
	CountStaffWithRole(ctx context.Context, roleID int64) (int, error)
}

// SettingsStore persists channel and program settings.
type SettingsStore interface {
	ListChannelSettings(ctx context.Context) ([]ChannelSettings, error)
	GetChannelSettings(ctx context.Context, channel string) (ChannelSettings, error)
	SaveChannelSettings(ctx context.Context, s *ChannelSettings) error
	GetProgramSettings(ctx context.Context) (ProgramSettings, error)
	SaveProgramSettings(ctx context.Context, s *ProgramSettings) error
}

// MessagingStore persists segments, campaigns and notifications.
type MessagingStore interface {
	ListSegments(ctx context.Context, p ListParams) (Page[Segment], error)
	GetSegment(ctx context.Context, id int64) (Segment, error)
	CreateSegment(ctx context.Context, s *Segment) error
	UpdateSegment(ctx context.Context, s *Segment) error
	DeleteSegment(ctx context.Context, id int64) error

	ListCampaigns(ctx context.Context, p ListParams) (Page[Campaign], error)
	GetCampaign(ctx context.Context, id int64) (Campaign, error)
	CreateCampaign(ctx context.Context, c *Campaign) error
	UpdateCampaign(ctx context.Context, c *Campaign) error
	DeleteCampaign(ctx context.Context, id int64) error
	// TransitionCampaign moves a campaign to status `to` if its current
	// status is one of from. ErrConflict otherwise.
	TransitionCampaign(ctx context.Context, id int64, from []string, to string) (Campaign, error)
	// ListDueCampaigns returns scheduled campaigns whose time is at or before t.
	ListDueCampaigns(ctx context.Context, t time.Time) ([]Campaign, error)

	ListNotifications(ctx context.Context, p ListParams) (Page[Notification], error)
	GetNotification(ctx context.Context, id int64) (Notification, error)
	GetNotificationByProviderID(ctx context.Context, providerID string) (Notification, error)
	CreateNotification(ctx context.Context, n *Notification) error
	UpdateNotification(ctx context.Context, n *Notification) error
}

// AuditStore persists the staff audit trail.
type AuditStore interface {
	AppendAudit(ctx context.Context, e *AuditEntry) error
	ListAudit(ctx context.Context, p ListParams) (Page[AuditEntry], error)
}

// ReportStore computes dashboard aggregates.
type ReportStore interface {
	Summary(ctx context.Context, from, to time.Time) (Summary, error)
	DailySeries(ctx context.Context, from, to time.Time) ([]DailyPoint, error)
}

// Store is the full persistence surface.
type Store interface {
	CustomerStore
	PointsStore
	CatalogStore
	RedemptionStore
	StaffStore
	SettingsStore
	MessagingStore
	AuditStore
	ReportStore

	Ping(ctx context.Context) error
	Close() error
}
