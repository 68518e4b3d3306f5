package messaging

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/wondertwin-ai/loyaltydesk/internal/metrics"
	"github.com/wondertwin-ai/loyaltydesk/internal/store"
)

var (
	// ErrChannelDisabled is returned when sending over a disabled channel.
	ErrChannelDisabled = errors.New("channel is disabled")
	// ErrNoChannel is returned when a customer has no usable channel.
	ErrNoChannel = errors.New("customer has no enabled opted-in channel")
	// ErrNoRecipient is returned for an empty recipient address.
	ErrNoRecipient = errors.New("recipient is required")
)

// TwilioStatusPath is where Twilio posts message status callbacks.
const TwilioStatusPath = "/webhooks/twilio/status"

// Options configures a Service.
type Options struct {
	HTTPClient *http.Client
	MaxRetries int
	RetryDelay time.Duration
	// PublicURL is the externally reachable base used to build status
	// callback URLs when a channel does not set its own.
	PublicURL string
	Clock     *store.Clock
	Logger    *logrus.Logger
}

// Service sends notifications and runs campaigns.
type Service struct {
	store     store.Store
	providers map[string]Provider
	retry     retrier
	clock     *store.Clock
	log       *logrus.Logger
	publicURL string

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	wg sync.WaitGroup
}

// NewService creates a Service with the Twilio and Resend providers.
func NewService(st store.Store, opts Options) *Service {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	s := &Service{
		store:     st,
		providers: map[string]Provider{},
		retry:     retrier{maxAttempts: opts.MaxRetries, delay: opts.RetryDelay, log: opts.Logger},
		clock:     opts.Clock,
		log:       opts.Logger,
		publicURL: strings.TrimRight(opts.PublicURL, "/"),
		limiters:  map[string]*rate.Limiter{},
	}
	s.RegisterProvider(NewTwilio(opts.HTTPClient))
	s.RegisterProvider(NewResend(opts.HTTPClient))
	return s
}

// RegisterProvider adds or replaces a provider by name.
func (s *Service) RegisterProvider(p Provider) {
	s.providers[p.Name()] = p
}

// DefaultProvider is the provider a channel uses when none is configured.
func DefaultProvider(channel string) string {
	if channel == store.ChannelEmail {
		return "resend"
	}
	return "twilio"
}

func (s *Service) provider(cs store.ChannelSettings) (Provider, error) {
	name := cs.Provider
	if name == "" {
		name = DefaultProvider(cs.Channel)
	}
	p, ok := s.providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q for channel %s", name, cs.Channel)
	}
	return p, nil
}

// limiter returns the channel limiter, retuned to the current setting.
// A rate of 0 is unlimited.
func (s *Service) limiter(cs store.ChannelSettings) *rate.Limiter {
	limit := rate.Inf
	burst := 1
	if cs.RatePerSecond > 0 {
		limit = rate.Limit(cs.RatePerSecond)
		burst = cs.RatePerSecond
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[cs.Channel]
	if !ok {
		l = rate.NewLimiter(limit, burst)
		s.limiters[cs.Channel] = l
		return l
	}
	if l.Limit() != limit {
		l.SetLimit(limit)
		l.SetBurst(burst)
	}
	return l
}

func (s *Service) callbackURL(cs store.ChannelSettings) string {
	if cs.StatusCallbackURL != "" {
		return cs.StatusCallbackURL
	}
	if s.publicURL != "" && cs.Channel != store.ChannelEmail {
		return s.publicURL + TwilioStatusPath
	}
	return ""
}

// enabledChannel loads settings for channel and checks it is enabled.
func (s *Service) enabledChannel(ctx context.Context, channel string) (store.ChannelSettings, error) {
	cs, err := s.store.GetChannelSettings(ctx, channel)
	if err != nil {
		return store.ChannelSettings{}, err
	}
	if !cs.Enabled {
		return store.ChannelSettings{}, fmt.Errorf("%s: %w", channel, ErrChannelDisabled)
	}
	return cs, nil
}

// send records a queued notification and delivers it. The notification is
// returned even when delivery fails.
func (s *Service) send(ctx context.Context, cs store.ChannelSettings, n store.Notification) (store.Notification, error) {
	if strings.TrimSpace(n.Recipient) == "" {
		return store.Notification{}, ErrNoRecipient
	}
	n.Channel = cs.Channel
	n.Status = store.NotificationQueued
	if err := s.store.CreateNotification(ctx, &n); err != nil {
		return store.Notification{}, fmt.Errorf("create notification: %w", err)
	}
	err := s.deliver(ctx, cs, &n)
	return n, err
}

func (s *Service) deliver(ctx context.Context, cs store.ChannelSettings, n *store.Notification) error {
	p, err := s.provider(cs)
	if err == nil {
		err = s.limiter(cs).Wait(ctx)
	}
	var res Result
	if err == nil {
		var attempts int
		msg := Message{
			Channel:     n.Channel,
			To:          n.Recipient,
			Subject:     n.Subject,
			Body:        n.Body,
			CallbackURL: s.callbackURL(cs),
		}
		res, attempts, err = s.retry.do(ctx, p.Name(), func() (Result, error) {
			return p.Send(ctx, cs, msg)
		})
		n.Attempts += attempts
	}

	now := s.clock.Now()
	if err != nil {
		n.Status = store.NotificationFailed
		n.Error = err.Error()
	} else {
		n.Status = store.NotificationSent
		if store.NotificationRank(res.Status) > store.NotificationRank(n.Status) {
			n.Status = res.Status
		}
		n.ProviderMessageID = res.ProviderID
		n.Error = ""
		n.SentAt = &now
	}
	metrics.Notification(n.Channel, n.Status)

	// The outcome is persisted even if the request context ended.
	if uerr := s.store.UpdateNotification(context.WithoutCancel(ctx), n); uerr != nil {
		s.log.WithError(uerr).WithField("notification_id", n.ID).Error("failed to record delivery outcome")
		if err == nil {
			err = uerr
		}
	}
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"notification_id": n.ID,
			"channel":         n.Channel,
		}).Warn("notification delivery failed")
	}
	return err
}

// TestSend delivers a one-off message through channel to recipient.
func (s *Service) TestSend(ctx context.Context, channel, recipient, subject, body string) (store.Notification, error) {
	cs, err := s.enabledChannel(ctx, channel)
	if err != nil {
		return store.Notification{}, err
	}
	return s.send(ctx, cs, store.Notification{Recipient: recipient, Subject: subject, Body: body})
}

// NotifyCustomer sends a message over the first enabled channel the customer
// has opted in to and has an address for, in sms, whatsapp, email order.
// Placeholders in subject and body are filled from the customer.
func (s *Service) NotifyCustomer(ctx context.Context, c store.Customer, subject, body string) (store.Notification, error) {
	for _, ch := range store.Channels {
		to := Recipient(c, ch)
		if to == "" {
			continue
		}
		cs, err := s.store.GetChannelSettings(ctx, ch)
		if err != nil {
			return store.Notification{}, err
		}
		if !cs.Enabled {
			continue
		}
		vars := CustomerVars(c)
		id := c.ID
		return s.send(ctx, cs, store.Notification{
			CustomerID: &id,
			Recipient:  to,
			Subject:    Render(subject, vars),
			Body:       Render(body, vars),
		})
	}
	return store.Notification{}, ErrNoChannel
}

// Wait blocks until background campaign runs finish.
func (s *Service) Wait() {
	s.wg.Wait()
}
