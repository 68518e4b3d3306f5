package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/wondertwin-ai/loyaltydesk/internal/apperr"
	"github.com/wondertwin-ai/loyaltydesk/internal/messaging"
	"github.com/wondertwin-ai/loyaltydesk/internal/server"
	"github.com/wondertwin-ai/loyaltydesk/internal/store"
)

// maskSecret keeps the last four characters of long secrets.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "********"
	}
	return "********" + s[len(s)-4:]
}

func masked(cs store.ChannelSettings) store.ChannelSettings {
	cs.Secret = maskSecret(cs.Secret)
	cs.WebhookSecret = maskSecret(cs.WebhookSecret)
	return cs
}

func channelParam(r *http.Request) (string, error) {
	ch := chi.URLParam(r, "channel")
	if !store.ValidChannel(ch) {
		return "", apperr.NotFound("channel " + ch)
	}
	return ch, nil
}

// ListChannelSettings handles GET /api/settings/channels.
func (h *Handler) ListChannelSettings(w http.ResponseWriter, r *http.Request) {
	out := make([]store.ChannelSettings, 0, len(store.Channels))
	for _, ch := range store.Channels {
		cs, err := h.store.GetChannelSettings(r.Context(), ch)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		out = append(out, masked(cs))
	}
	server.Data(w, http.StatusOK, out)
}

// GetChannelSettings handles GET /api/settings/channels/{channel}.
func (h *Handler) GetChannelSettings(w http.ResponseWriter, r *http.Request) {
	ch, err := channelParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	cs, err := h.store.GetChannelSettings(r.Context(), ch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.Data(w, http.StatusOK, masked(cs))
}

// channelRequest updates channel settings. Secrets are write-only: a nil
// value keeps the stored secret and an empty string clears it.
type channelRequest struct {
	Enabled           bool    `json:"enabled"`
	Provider          string  `json:"provider" validate:"omitempty,oneof=twilio resend"`
	BaseURL           string  `json:"base_url" validate:"omitempty,url"`
	AccountID         string  `json:"account_id" validate:"max=200"`
	Secret            *string `json:"secret" validate:"omitempty,max=500"`
	Sender            string  `json:"sender" validate:"max=200"`
	StatusCallbackURL string  `json:"status_callback_url" validate:"omitempty,url"`
	WebhookSecret     *string `json:"webhook_secret" validate:"omitempty,max=500"`
	RatePerSecond     int     `json:"rate_per_second" validate:"gte=0,max=1000"`
}

// UpdateChannelSettings handles PUT /api/settings/channels/{channel}.
func (h *Handler) UpdateChannelSettings(w http.ResponseWriter, r *http.Request) {
	ch, err := channelParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req channelRequest
	if err := decodeValid(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	want := messaging.DefaultProvider(ch)
	if req.Provider == "" {
		req.Provider = want
	}
	if req.Provider != want {
		h.fail(w, r, apperr.Validation(map[string]string{"provider": "must be " + want + " for " + ch}))
		return
	}

	cs, err := h.store.GetChannelSettings(r.Context(), ch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	cs.Channel = ch
	cs.Enabled = req.Enabled
	cs.Provider = req.Provider
	cs.BaseURL = strings.TrimRight(strings.TrimSpace(req.BaseURL), "/")
	cs.AccountID = strings.TrimSpace(req.AccountID)
	cs.Sender = strings.TrimSpace(req.Sender)
	cs.StatusCallbackURL = strings.TrimSpace(req.StatusCallbackURL)
	cs.RatePerSecond = req.RatePerSecond
	if req.Secret != nil {
		cs.Secret = *req.Secret
	}
	if req.WebhookSecret != nil {
		cs.WebhookSecret = *req.WebhookSecret
	}
	if cs.Enabled {
		fields := map[string]string{}
		if cs.AccountID == "" && ch != store.ChannelEmail {
			fields["account_id"] = "is required to enable the channel"
		}
		if cs.Secret == "" {
			fields["secret"] = "is required to enable the channel"
		}
		if cs.Sender == "" {
			fields["sender"] = "is required to enable the channel"
		}
		if len(fields) > 0 {
			h.fail(w, r, apperr.Validation(fields))
			return
		}
	}
	if err := h.store.SaveChannelSettings(r.Context(), &cs); err != nil {
		h.fail(w, r, err)
		return
	}
	server.Data(w, http.StatusOK, masked(cs))
}

type testSendRequest struct {
	Recipient string `json:"recipient" validate:"required,max=255"`
	Subject   string `json:"subject" validate:"max=255"`
	Body      string `json:"body" validate:"required,max=4000"`
}

// TestSend handles POST /api/settings/channels/{channel}/test. The
// notification is returned even when the provider rejects it.
func (h *Handler) TestSend(w http.ResponseWriter, r *http.Request) {
	ch, err := channelParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req testSendRequest
	if err := decodeValid(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if ch == store.ChannelEmail && strings.TrimSpace(req.Subject) == "" {
		req.Subject = "loyaltydesk test message"
	}
	n, err := h.messaging.TestSend(r.Context(), ch, strings.TrimSpace(req.Recipient), req.Subject, req.Body)
	if err != nil && n.ID == 0 {
		h.fail(w, r, messagingError(err))
		return
	}
	noteEntity(r, n.ID)
	status := http.StatusOK
	if err != nil {
		status = http.StatusBadGateway
	}
	server.Data(w, status, n)
}

// GetProgramSettings handles GET /api/settings/program.
func (h *Handler) GetProgramSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.store.GetProgramSettings(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	server.Data(w, http.StatusOK, s)
}

type programRequest struct {
	EarnRate               decimal.Decimal `json:"earn_rate"`
	PointsTTLDays          int             `json:"points_ttl_days" validate:"gte=0,max=3650"`
	SilverThreshold        int64           `json:"silver_threshold" validate:"gte=0"`
	GoldThreshold          int64           `json:"gold_threshold" validate:"gte=0"`
	PlatinumThreshold      int64           `json:"platinum_threshold" validate:"gte=0"`
	VerificationTTLMinutes int             `json:"verification_ttl_minutes" validate:"required,gte=1,max=1440"`
}

// UpdateProgramSettings handles PUT /api/settings/program. Thresholds that
// are set must increase from silver to platinum.
func (h *Handler) UpdateProgramSettings(w http.ResponseWriter, r *http.Request) {
	var req programRequest
	if err := decodeValid(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	fields := map[string]string{}
	if req.EarnRate.IsNegative() {
		fields["earn_rate"] = "must not be negative"
	}
	if req.GoldThreshold > 0 && req.GoldThreshold <= req.SilverThreshold {
		fields["gold_threshold"] = "must be greater than silver_threshold"
	}
	if req.PlatinumThreshold > 0 && (req.PlatinumThreshold <= req.GoldThreshold || req.PlatinumThreshold <= req.SilverThreshold) {
		fields["platinum_threshold"] = "must be greater than gold_threshold"
	}
	if len(fields) > 0 {
		h.fail(w, r, apperr.Validation(fields))
		return
	}
	s := store.ProgramSettings{
		EarnRate:               req.EarnRate,
		PointsTTLDays:          req.PointsTTLDays,
		SilverThreshold:        req.SilverThreshold,
		GoldThreshold:          req.GoldThreshold,
		PlatinumThreshold:      req.PlatinumThreshold,
		VerificationTTLMinutes: req.VerificationTTLMinutes,
	}
	if err := h.store.SaveProgramSettings(r.Context(), &s); err != nil {
		h.fail(w, r, err)
		return
	}
	server.Data(w, http.StatusOK, s)
}

// messagingError maps messaging sentinels to client errors.
func messagingError(err error) error {
	var pe *messaging.ProviderError
	switch {
	case errors.Is(err, messaging.ErrChannelDisabled):
		return apperr.Unprocessable("channel_disabled", err.Error())
	case errors.Is(err, messaging.ErrNoChannel):
		return apperr.Unprocessable("no_channel", err.Error())
	case errors.Is(err, messaging.ErrNoRecipient):
		return apperr.Validation(map[string]string{"recipient": "is required"})
	case errors.Is(err, messaging.ErrNotFuture):
		return apperr.Validation(map[string]string{"scheduled_at": "must be in the future"})
	case errors.As(err, &pe):
		return apperr.New(http.StatusBadGateway, "provider_error", pe.Error())
	}
	return err
}
