package messaging

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/wondertwin-ai/loyaltydesk/internal/store"
)

// DefaultTwilioURL is the Twilio REST API base.
const DefaultTwilioURL = "https://api.twilio.com"

// Twilio sends SMS and WhatsApp messages through the Messages API.
type Twilio struct {
	client *http.Client
}

// NewTwilio returns a Twilio provider using client.
func NewTwilio(client *http.Client) *Twilio {
	return &Twilio{client: client}
}

func (t *Twilio) Name() string { return "twilio" }

// Send posts a form-encoded message to
// /2010-04-01/Accounts/{AccountSid}/Messages.json with HTTP Basic auth.
func (t *Twilio) Send(ctx context.Context, cs store.ChannelSettings, m Message) (Result, error) {
	if cs.AccountID == "" || cs.Secret == "" {
		return Result{}, &ProviderError{Provider: t.Name(), StatusCode: http.StatusUnauthorized, Message: "account id and auth token are required"}
	}
	base := strings.TrimRight(cs.BaseURL, "/")
	if base == "" {
		base = DefaultTwilioURL
	}

	to, from := m.To, cs.Sender
	if m.Channel == store.ChannelWhatsApp {
		to, from = whatsappAddr(to), whatsappAddr(from)
	}
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", from)
	form.Set("Body", m.Body)
	if m.CallbackURL != "" {
		form.Set("StatusCallback", m.CallbackURL)
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", base, url.PathEscape(cs.AccountID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Result{}, fmt.Errorf("twilio request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(cs.AccountID, cs.Secret)

	body, err := doRequest(t.client, req, t.Name(), func(b []byte) string {
		return gjson.GetBytes(b, "message").String()
	})
	if err != nil {
		return Result{}, err
	}
	sid := gjson.GetBytes(body, "sid").String()
	if sid == "" {
		return Result{}, fmt.Errorf("twilio response has no sid")
	}
	return Result{ProviderID: sid, Status: TwilioStatus(gjson.GetBytes(body, "status").String())}, nil
}

func whatsappAddr(addr string) string {
	if addr == "" || strings.HasPrefix(addr, "whatsapp:") {
		return addr
	}
	return "whatsapp:" + addr
}

// TwilioStatus maps a Twilio message status onto a notification status.
// Unknown values map to "".
func TwilioStatus(s string) string {
	switch strings.ToLower(s) {
	case "accepted", "scheduled", "queued":
		return store.NotificationQueued
	case "sending", "sent":
		return store.NotificationSent
	case "delivered", "read":
		return store.NotificationDelivered
	case "undelivered":
		return store.NotificationUndelivered
	case "failed", "canceled":
		return store.NotificationFailed
	}
	return ""
}
