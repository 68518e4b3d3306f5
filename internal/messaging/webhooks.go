package messaging

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"

	"github.com/wondertwin-ai/loyaltydesk/internal/metrics"
	"github.com/wondertwin-ai/loyaltydesk/internal/store"
)

// ErrBadEvent is returned for a callback missing its message id or status.
var ErrBadEvent = errors.New("malformed status event")

// HandleTwilioStatus applies a Twilio status callback. fullURL is the URL
// Twilio posted to, used for signature verification when the channel has a
// webhook secret. Unknown message ids are ignored.
func (s *Service) HandleTwilioStatus(ctx context.Context, fullURL string, form url.Values, signature string) error {
	sid := form.Get("MessageSid")
	if sid == "" {
		sid = form.Get("SmsSid")
	}
	status := TwilioStatus(form.Get("MessageStatus"))
	if sid == "" || status == "" {
		return ErrBadEvent
	}

	n, err := s.store.GetNotificationByProviderID(ctx, sid)
	if errors.Is(err, store.ErrNotFound) {
		s.log.WithField("message_sid", sid).Info("status callback for unknown message")
		return nil
	}
	if err != nil {
		return err
	}

	cs, err := s.store.GetChannelSettings(ctx, n.Channel)
	if err != nil {
		return err
	}
	if cs.WebhookSecret != "" {
		if err := VerifyTwilio(cs.WebhookSecret, fullURL, form, signature); err != nil {
			return err
		}
	}

	errMsg := ""
	if code := form.Get("ErrorCode"); code != "" {
		errMsg = "twilio error " + code
	}
	return s.applyStatus(ctx, &n, status, errMsg)
}

// HandleResendEvent applies a Resend webhook event. Events that carry no
// delivery outcome and unknown email ids are ignored.
func (s *Service) HandleResendEvent(ctx context.Context, body []byte, h http.Header) error {
	cs, err := s.store.GetChannelSettings(ctx, store.ChannelEmail)
	if err != nil {
		return err
	}
	if cs.WebhookSecret != "" {
		if err := VerifyResend(cs.WebhookSecret, h.Get("svix-id"), h.Get("svix-timestamp"), h.Get("svix-signature"), body, s.clock.Now()); err != nil {
			return err
		}
	}

	if !gjson.ValidBytes(body) {
		return ErrBadEvent
	}
	event := gjson.ParseBytes(body)
	emailID := event.Get("data.email_id").String()
	if emailID == "" {
		return ErrBadEvent
	}
	status := ResendStatus(event.Get("type").String())
	if status == "" {
		return nil
	}

	n, err := s.store.GetNotificationByProviderID(ctx, emailID)
	if errors.Is(err, store.ErrNotFound) {
		s.log.WithField("email_id", emailID).Info("status event for unknown email")
		return nil
	}
	if err != nil {
		return err
	}

	errMsg := ""
	if status == store.NotificationUndelivered || status == store.NotificationFailed {
		errMsg = event.Get("data.bounce.message").String()
		if errMsg == "" {
			errMsg = event.Get("type").String()
		}
	}
	return s.applyStatus(ctx, &n, status, errMsg)
}

// applyStatus moves n forward to status. Updates that would not advance the
// status rank are dropped, so terminal statuses never change.
func (s *Service) applyStatus(ctx context.Context, n *store.Notification, status, errMsg string) error {
	if store.NotificationRank(status) <= store.NotificationRank(n.Status) {
		return nil
	}
	now := s.clock.Now()
	n.Status = status
	switch status {
	case store.NotificationSent:
		if n.SentAt == nil {
			n.SentAt = &now
		}
	case store.NotificationDelivered:
		n.DeliveredAt = &now
	}
	if errMsg != "" {
		n.Error = errMsg
	}
	metrics.Notification(n.Channel, status)
	return s.store.UpdateNotification(ctx, n)
}
