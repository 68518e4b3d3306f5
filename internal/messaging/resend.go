package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/wondertwin-ai/loyaltydesk/internal/store"
)

// DefaultResendURL is the Resend API base.
const DefaultResendURL = "https://api.resend.com"

// Resend sends email through the Resend API.
type Resend struct {
	client *http.Client
}

// NewResend returns a Resend provider using client.
func NewResend(client *http.Client) *Resend {
	return &Resend{client: client}
}

func (r *Resend) Name() string { return "resend" }

type resendEmail struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
}

// Send posts the email to /emails with a bearer API key.
func (r *Resend) Send(ctx context.Context, cs store.ChannelSettings, m Message) (Result, error) {
	if cs.Secret == "" {
		return Result{}, &ProviderError{Provider: r.Name(), StatusCode: http.StatusUnauthorized, Message: "api key is required"}
	}
	base := strings.TrimRight(cs.BaseURL, "/")
	if base == "" {
		base = DefaultResendURL
	}

	subject := m.Subject
	if subject == "" {
		subject = "Message from your loyalty club"
	}
	email := resendEmail{From: cs.Sender, To: []string{m.To}, Subject: subject, Text: m.Body}
	if looksLikeHTML(m.Body) {
		email.HTML, email.Text = m.Body, ""
	}
	payload, err := json.Marshal(email)
	if err != nil {
		return Result{}, fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/emails", bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("resend request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cs.Secret)

	body, err := doRequest(r.client, req, r.Name(), func(b []byte) string {
		return gjson.GetBytes(b, "message").String()
	})
	if err != nil {
		return Result{}, err
	}
	id := gjson.GetBytes(body, "id").String()
	if id == "" {
		return Result{}, fmt.Errorf("resend response has no id")
	}
	return Result{ProviderID: id, Status: store.NotificationSent}, nil
}

func looksLikeHTML(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "<") && strings.HasSuffix(s, ">")
}

// ResendStatus maps a Resend webhook event type onto a notification status.
// Events that carry no delivery outcome map to "".
func ResendStatus(eventType string) string {
	switch eventType {
	case "email.sent":
		return store.NotificationSent
	case "email.delivered":
		return store.NotificationDelivered
	case "email.bounced":
		return store.NotificationUndelivered
	case "email.failed":
		return store.NotificationFailed
	}
	return ""
}
