package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Customer tiers, lowest first.
const (
	TierBronze   = "bronze"
	TierSilver   = "silver"
	TierGold     = "gold"
	TierPlatinum = "platinum"
)

// Customer statuses.
const (
	CustomerActive   = "active"
	CustomerInactive = "inactive"
	CustomerBlocked  = "blocked"
)

// Customer is a loyalty program member.
type Customer struct {
	ID             int64      `json:"id" db:"id"`
	Code           string     `json:"code" db:"code"`
	FirstName      string     `json:"first_name" db:"first_name"`
	LastName       string     `json:"last_name" db:"last_name"`
	Email          string     `json:"email" db:"email"`
	Phone          string     `json:"phone" db:"phone"`
	City           string     `json:"city" db:"city"`
	Tier           string     `json:"tier" db:"tier"`
	Status         string     `json:"status" db:"status"`
	PointsBalance  int64      `json:"points_balance" db:"points_balance"`
	LifetimePoints int64      `json:"lifetime_points" db:"lifetime_points"`
	PointsRedeemed int64      `json:"points_redeemed" db:"points_redeemed"`
	PointsExpired  int64      `json:"points_expired" db:"points_expired"`
	OptInSMS       bool       `json:"opt_in_sms" db:"opt_in_sms"`
	OptInWhatsApp  bool       `json:"opt_in_whatsapp" db:"opt_in_whatsapp"`
	OptInEmail     bool       `json:"opt_in_email" db:"opt_in_email"`
	LastActivityAt *time.Time `json:"last_activity_at" db:"last_activity_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// ApplyDelta applies a signed ledger amount of the given type to the balance
// counters. Callers have already checked the balance cannot go negative.
func (c *Customer) ApplyDelta(typ string, amount int64, now time.Time) {
	c.PointsBalance += amount
	switch typ {
	case TxnEarn:
		c.LifetimePoints += amount
		c.LastActivityAt = &now
	case TxnAdjust:
		if amount > 0 {
			c.LifetimePoints += amount
		}
	case TxnRedeem:
		c.PointsRedeemed -= amount
		c.LastActivityAt = &now
	case TxnRefund:
		c.PointsRedeemed -= amount
		if c.PointsRedeemed < 0 {
			c.PointsRedeemed = 0
		}
	case TxnExpire:
		c.PointsExpired -= amount
	}
	c.UpdatedAt = now
}

// FullName joins first and last name.
func (c Customer) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// CustomerCode formats the public member code for an ID.
func CustomerCode(id int64) string {
	return fmt.Sprintf("CUS-%06d", id)
}

// Product is a catalog item customers can purchase to earn points.
type Product struct {
	ID            int64           `json:"id" db:"id"`
	SKU           string          `json:"sku" db:"sku"`
	Name          string          `json:"name" db:"name"`
	Category      string          `json:"category" db:"category"`
	Price         decimal.Decimal `json:"price" db:"price"`
	PointsPerUnit int64           `json:"points_per_unit" db:"points_per_unit"`
	Active        bool            `json:"active" db:"active"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// Purchase records a customer purchase and the points it earned.
type Purchase struct {
	ID           int64           `json:"id" db:"id"`
	CustomerID   int64           `json:"customer_id" db:"customer_id"`
	ProductID    *int64          `json:"product_id" db:"product_id"`
	Quantity     int             `json:"quantity" db:"quantity"`
	Amount       decimal.Decimal `json:"amount" db:"amount"`
	PointsEarned int64           `json:"points_earned" db:"points_earned"`
	Reference    string          `json:"reference" db:"reference"`
	CreatedBy    *int64          `json:"created_by" db:"created_by"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Points transaction types.
const (
	TxnEarn   = "earn"
	TxnRedeem = "redeem"
	TxnAdjust = "adjust"
	TxnRefund = "refund"
	TxnExpire = "expire"
)

// PointsTransaction is one row of a customer's points ledger. Amount is signed.
type PointsTransaction struct {
	ID            int64      `json:"id" db:"id"`
	CustomerID    int64      `json:"customer_id" db:"customer_id"`
	Type          string     `json:"type" db:"type"`
	Amount        int64      `json:"amount" db:"amount"`
	BalanceAfter  int64      `json:"balance_after" db:"balance_after"`
	Reason        string     `json:"reason" db:"reason"`
	ReferenceType string     `json:"reference_type,omitempty" db:"reference_type"`
	ReferenceID   *int64     `json:"reference_id,omitempty" db:"reference_id"`
	StaffID       *int64     `json:"staff_id,omitempty" db:"staff_id"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	// Remaining is how much of an expiring credit is still unspent. Debits
	// consume the soonest-expiring credits first.
	Remaining int64     `json:"remaining,omitempty" db:"remaining"`
	Expired   bool      `json:"expired" db:"expired"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Reward is a catalog item redeemable for points.
type Reward struct {
	ID                   int64     `json:"id" db:"id"`
	Name                 string    `json:"name" db:"name"`
	Description          string    `json:"description" db:"description"`
	PointsCost           int64     `json:"points_cost" db:"points_cost"`
	Stock                *int64    `json:"stock" db:"stock"` // nil means unlimited
	Active               bool      `json:"active" db:"active"`
	RequiresVerification bool      `json:"requires_verification" db:"requires_verification"`
	CreatedAt            time.Time `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time `json:"updated_at" db:"updated_at"`
}

// InStock reports whether at least one unit can be redeemed.
func (r Reward) InStock() bool {
	return r.Stock == nil || *r.Stock > 0
}

// Verification statuses.
const (
	VerificationNotRequired = "not_required"
	VerificationPending     = "pending"
	VerificationVerified    = "verified"
	VerificationFailed      = "failed"
)

// Delivery statuses.
const (
	DeliveryPending    = "pending"
	DeliveryProcessing = "processing"
	DeliveryShipped    = "shipped"
	DeliveryDelivered  = "delivered"
	DeliveryCancelled  = "cancelled"
)

// Redemption records a customer exchanging points for a reward.
type Redemption struct {
	ID                    int64      `json:"id" db:"id"`
	Code                  string     `json:"code" db:"code"`
	CustomerID            int64      `json:"customer_id" db:"customer_id"`
	RewardID              int64      `json:"reward_id" db:"reward_id"`
	PointsSpent           int64      `json:"points_spent" db:"points_spent"`
	VerificationStatus    string     `json:"verification_status" db:"verification_status"`
	VerificationCode      string     `json:"verification_code,omitempty" db:"verification_code"`
	VerificationAttempts  int        `json:"verification_attempts" db:"verification_attempts"`
	VerificationExpiresAt *time.Time `json:"verification_expires_at" db:"verification_expires_at"`
	DeliveryStatus        string     `json:"delivery_status" db:"delivery_status"`
	DeliveryNote          string     `json:"delivery_note" db:"delivery_note"`
	CreatedBy             *int64     `json:"created_by" db:"created_by"`
	VerifiedAt            *time.Time `json:"verified_at" db:"verified_at"`
	DeliveredAt           *time.Time `json:"delivered_at" db:"delivered_at"`
	CancelledAt           *time.Time `json:"cancelled_at" db:"cancelled_at"`
	CreatedAt             time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at" db:"updated_at"`
}

// Open reports whether the redemption has not reached a terminal delivery state.
func (r Redemption) Open() bool {
	return r.DeliveryStatus != DeliveryDelivered && r.DeliveryStatus != DeliveryCancelled
}

// RedemptionState is the part of a redemption that UpdateRedemption
// compares before writing.
type RedemptionState struct {
	DeliveryStatus       string
	VerificationStatus   string
	VerificationAttempts int
}

// State returns the redemption's current RedemptionState.
func (r Redemption) State() RedemptionState {
	return RedemptionState{
		DeliveryStatus:       r.DeliveryStatus,
		VerificationStatus:   r.VerificationStatus,
		VerificationAttempts: r.VerificationAttempts,
	}
}

// StringList is a []string persisted as a JSON array.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	return string(b), err
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src any) error {
	return scanJSON(src, l)
}

// Role groups staff permissions.
type Role struct {
	ID          int64      `json:"id" db:"id"`
	Name        string     `json:"name" db:"name"`
	Description string     `json:"description" db:"description"`
	Permissions StringList `json:"permissions" db:"permissions"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// Staff is a back-office user.
type Staff struct {
	ID           int64      `json:"id" db:"id"`
	Name         string     `json:"name" db:"name"`
	Email        string     `json:"email" db:"email"`
	PasswordHash string     `json:"password_hash,omitempty" db:"password_hash"`
	RoleID       int64      `json:"role_id" db:"role_id"`
	Active       bool       `json:"active" db:"active"`
	LastLoginAt  *time.Time `json:"last_login_at" db:"last_login_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// Messaging channels.
const (
	ChannelSMS      = "sms"
	ChannelWhatsApp = "whatsapp"
	ChannelEmail    = "email"
)

// Channels lists every channel in delivery preference order.
var Channels = []string{ChannelSMS, ChannelWhatsApp, ChannelEmail}

// ValidChannel reports whether ch is a known channel.
func ValidChannel(ch string) bool {
	for _, c := range Channels {
		if c == ch {
			return true
		}
	}
	return false
}

// ChannelSettings holds the provider configuration for one channel.
type ChannelSettings struct {
	Channel           string    `json:"channel" db:"channel"`
	Enabled           bool      `json:"enabled" db:"enabled"`
	Provider          string    `json:"provider" db:"provider"`
	BaseURL           string    `json:"base_url" db:"base_url"`
	AccountID         string    `json:"account_id" db:"account_id"`
	Secret            string    `json:"secret,omitempty" db:"secret"`
	Sender            string    `json:"sender" db:"sender"`
	StatusCallbackURL string    `json:"status_callback_url" db:"status_callback_url"`
	WebhookSecret     string    `json:"webhook_secret,omitempty" db:"webhook_secret"`
	RatePerSecond     int       `json:"rate_per_second" db:"rate_per_second"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// ProgramSettings holds the earn and tier rules.
type ProgramSettings struct {
	EarnRate               decimal.Decimal `json:"earn_rate" db:"earn_rate"` // points per currency unit
	PointsTTLDays          int             `json:"points_ttl_days" db:"points_ttl_days"`
	SilverThreshold        int64           `json:"silver_threshold" db:"silver_threshold"`
	GoldThreshold          int64           `json:"gold_threshold" db:"gold_threshold"`
	PlatinumThreshold      int64           `json:"platinum_threshold" db:"platinum_threshold"`
	VerificationTTLMinutes int             `json:"verification_ttl_minutes" db:"verification_ttl_minutes"`
	UpdatedAt              time.Time       `json:"updated_at" db:"updated_at"`
}

// DefaultProgramSettings is used until an operator saves settings.
func DefaultProgramSettings() ProgramSettings {
	return ProgramSettings{
		EarnRate:               decimal.NewFromInt(1),
		PointsTTLDays:          365,
		SilverThreshold:        1000,
		GoldThreshold:          5000,
		PlatinumThreshold:      20000,
		VerificationTTLMinutes: 10,
	}
}

// TierFor returns the tier a customer with the given lifetime points belongs to.
func (s ProgramSettings) TierFor(lifetime int64) string {
	switch {
	case s.PlatinumThreshold > 0 && lifetime >= s.PlatinumThreshold:
		return TierPlatinum
	case s.GoldThreshold > 0 && lifetime >= s.GoldThreshold:
		return TierGold
	case s.SilverThreshold > 0 && lifetime >= s.SilverThreshold:
		return TierSilver
	default:
		return TierBronze
	}
}

// Criterion is one field/operator/value triple of a segment.
type Criterion struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

// Criteria is persisted as a JSON array.
type Criteria []Criterion

// Value implements driver.Valuer.
func (c Criteria) Value() (driver.Value, error) {
	if c == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]Criterion(c))
	return string(b), err
}

// Scan implements sql.Scanner.
func (c *Criteria) Scan(src any) error {
	return scanJSON(src, c)
}

// Segment match modes.
const (
	MatchAll = "all"
	MatchAny = "any"
)

// Segment is a saved customer filter.
type Segment struct {
	ID          int64     `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	Match       string    `json:"match" db:"match"`
	Criteria    Criteria  `json:"criteria" db:"criteria"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Campaign statuses.
const (
	CampaignDraft     = "draft"
	CampaignScheduled = "scheduled"
	CampaignSending   = "sending"
	CampaignCompleted = "completed"
	CampaignFailed    = "failed"
	CampaignCancelled = "cancelled"
)

// Campaign is a bulk message to a segment.
type Campaign struct {
	ID          int64      `json:"id" db:"id"`
	Name        string     `json:"name" db:"name"`
	SegmentID   int64      `json:"segment_id" db:"segment_id"`
	Channel     string     `json:"channel" db:"channel"`
	Subject     string     `json:"subject" db:"subject"`
	Body        string     `json:"body" db:"body"`
	Status      string     `json:"status" db:"status"`
	ScheduledAt *time.Time `json:"scheduled_at" db:"scheduled_at"`
	StartedAt   *time.Time `json:"started_at" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at" db:"completed_at"`
	Total       int        `json:"total" db:"total"`
	Sent        int        `json:"sent" db:"sent"`
	Failed      int        `json:"failed" db:"failed"`
	Skipped     int        `json:"skipped" db:"skipped"`
	CreatedBy   *int64     `json:"created_by" db:"created_by"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// Notification statuses.
const (
	NotificationQueued      = "queued"
	NotificationSent        = "sent"
	NotificationDelivered   = "delivered"
	NotificationFailed      = "failed"
	NotificationUndelivered = "undelivered"
)

// NotificationRank orders statuses so updates never regress. Terminal
// statuses share the highest rank.
func NotificationRank(status string) int {
	switch status {
	case NotificationQueued:
		return 0
	case NotificationSent:
		return 1
	case NotificationDelivered, NotificationFailed, NotificationUndelivered:
		return 2
	default:
		return -1
	}
}

// Notification is a single outbound message.
type Notification struct {
	ID                int64      `json:"id" db:"id"`
	CampaignID        *int64     `json:"campaign_id" db:"campaign_id"`
	CustomerID        *int64     `json:"customer_id" db:"customer_id"`
	Channel           string     `json:"channel" db:"channel"`
	Recipient         string     `json:"recipient" db:"recipient"`
	Subject           string     `json:"subject" db:"subject"`
	Body              string     `json:"body" db:"body"`
	Status            string     `json:"status" db:"status"`
	ProviderMessageID string     `json:"provider_message_id" db:"provider_message_id"`
	Error             string     `json:"error" db:"error"`
	Attempts          int        `json:"attempts" db:"attempts"`
	SentAt            *time.Time `json:"sent_at" db:"sent_at"`
	DeliveredAt       *time.Time `json:"delivered_at" db:"delivered_at"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// AuditEntry records one mutating staff request.
type AuditEntry struct {
	ID         int64     `json:"id" db:"id"`
	StaffID    *int64    `json:"staff_id" db:"staff_id"`
	Action     string    `json:"action" db:"action"`
	EntityType string    `json:"entity_type" db:"entity_type"`
	EntityID   string    `json:"entity_id" db:"entity_id"`
	Method     string    `json:"method" db:"method"`
	Path       string    `json:"path" db:"path"`
	Status     int       `json:"status" db:"status"`
	RemoteAddr string    `json:"remote_addr" db:"remote_addr"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Summary is the dashboard headline block for a date range.
type Summary struct {
	From                   time.Time      `json:"from"`
	To                     time.Time      `json:"to"`
	TotalCustomers         int            `json:"total_customers"`
	NewCustomers           int            `json:"new_customers"`
	ActiveCustomers        int            `json:"active_customers"`
	PointsIssued           int64          `json:"points_issued"`
	PointsRedeemed         int64          `json:"points_redeemed"`
	PointsRefunded         int64          `json:"points_refunded"`
	PointsExpired          int64          `json:"points_expired"`
	OutstandingPoints      int64          `json:"outstanding_points"`
	RedemptionsByStatus    map[string]int `json:"redemptions_by_status"`
	NotificationsByChannel map[string]int `json:"notifications_by_channel"`
	NotificationsByStatus  map[string]int `json:"notifications_by_status"`
	TopRewards             []RewardCount  `json:"top_rewards"`
}

// RewardCount is one row of the top rewards list.
type RewardCount struct {
	RewardID int64  `json:"reward_id" db:"reward_id"`
	Name     string `json:"name" db:"name"`
	Count    int    `json:"count" db:"count"`
}

// DailyPoint is one day of the dashboard series.
type DailyPoint struct {
	Day            string `json:"day" db:"day"` // YYYY-MM-DD
	PointsIssued   int64  `json:"points_issued" db:"points_issued"`
	PointsRedeemed int64  `json:"points_redeemed" db:"points_redeemed"`
	NewCustomers   int    `json:"new_customers" db:"new_customers"`
}

func scanJSON(src any, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("cannot scan %T into %T", src, dst)
	}
}
