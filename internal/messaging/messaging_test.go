package messaging

import (
	"context"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/wondertwin-ai/loyaltydesk/internal/logging"
	"github.com/wondertwin-ai/loyaltydesk/internal/store"
	"github.com/wondertwin-ai/loyaltydesk/internal/store/memory"
	"github.com/wondertwin-ai/loyaltydesk/internal/testutil"
)

type fixture struct {
	svc    *Service
	st     *memory.Store
	clock  *store.Clock
	twilio *testutil.FakeTwilio
	resend *testutil.FakeResend
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := store.NewClock()
	st := memory.New(clock)
	f := &fixture{
		st:     st,
		clock:  clock,
		twilio: testutil.NewFakeTwilio(t),
		resend: testutil.NewFakeResend(t),
	}
	f.svc = NewService(st, Options{
		MaxRetries: 3,
		PublicURL:  "https://loyalty.example.com/",
		Clock:      clock,
		Logger:     logging.Discard(),
	})

	ctx := context.Background()
	for _, cs := range []store.ChannelSettings{
		{Channel: store.ChannelSMS, Enabled: true, Provider: "twilio", BaseURL: f.twilio.URL, AccountID: "AC123", Secret: "token", Sender: "+15550000"},
		{Channel: store.ChannelWhatsApp, Enabled: true, Provider: "twilio", BaseURL: f.twilio.URL, AccountID: "AC123", Secret: "token", Sender: "+15550001"},
		{Channel: store.ChannelEmail, Enabled: true, Provider: "resend", BaseURL: f.resend.URL, Secret: "re_key", Sender: "Loyalty <hi@example.com>"},
	} {
		cs := cs
		require.NoError(t, st.SaveChannelSettings(ctx, &cs))
	}
	return f
}

func (f *fixture) disable(t *testing.T, channel string) {
	t.Helper()
	ctx := context.Background()
	cs, err := f.st.GetChannelSettings(ctx, channel)
	require.NoError(t, err)
	cs.Enabled = false
	require.NoError(t, f.st.SaveChannelSettings(ctx, &cs))
}

func (f *fixture) customer(t *testing.T, c store.Customer) store.Customer {
	t.Helper()
	require.NoError(t, f.st.CreateCustomer(context.Background(), &c))
	return c
}

func TestTestSendSMS(t *testing.T) {
	f := newFixture(t)

	n, err := f.svc.TestSend(context.Background(), store.ChannelSMS, "+15551234", "", "Hello")
	require.NoError(t, err)

	assert.Equal(t, store.NotificationSent, n.Status)
	assert.Equal(t, "SM000001", n.ProviderMessageID)
	assert.Equal(t, 1, n.Attempts)
	assert.NotNil(t, n.SentAt)

	msgs := f.twilio.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "+15551234", msgs[0].To)
	assert.Equal(t, "+15550000", msgs[0].From)
	assert.Equal(t, "Hello", msgs[0].Body)
	assert.Equal(t, "https://loyalty.example.com"+TwilioStatusPath, msgs[0].Callback)

	stored, err := f.st.GetNotification(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, store.NotificationSent, stored.Status)
}

func TestWhatsAppAddressesArePrefixed(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.TestSend(context.Background(), store.ChannelWhatsApp, "+15551234", "", "Hi")
	require.NoError(t, err)

	msgs := f.twilio.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "whatsapp:+15551234", msgs[0].To)
	assert.Equal(t, "whatsapp:+15550001", msgs[0].From)
}

func TestTestSendEmail(t *testing.T) {
	f := newFixture(t)

	n, err := f.svc.TestSend(context.Background(), store.ChannelEmail, "ana@example.com", "Welcome", "Hello Ana")
	require.NoError(t, err)
	assert.Equal(t, "em_000001", n.ProviderMessageID)

	msgs := f.resend.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "ana@example.com", msgs[0].To)
	assert.Equal(t, "Welcome", msgs[0].Subject)
	assert.Equal(t, "Hello Ana", msgs[0].Body)
}

func TestRetriesServerErrors(t *testing.T) {
	f := newFixture(t)
	f.twilio.Fail(503, 2)

	n, err := f.svc.TestSend(context.Background(), store.ChannelSMS, "+15551234", "", "Hello")
	require.NoError(t, err)
	assert.Equal(t, 3, n.Attempts)
	assert.Equal(t, 3, f.twilio.Calls())
	assert.Equal(t, store.NotificationSent, n.Status)
}

func TestGivesUpAfterMaxRetries(t *testing.T) {
	f := newFixture(t)
	f.twilio.Fail(500, 5)

	n, err := f.svc.TestSend(context.Background(), store.ChannelSMS, "+15551234", "", "Hello")
	require.Error(t, err)

	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 500, pe.StatusCode)
	assert.Equal(t, 3, f.twilio.Calls())
	assert.Equal(t, store.NotificationFailed, n.Status)
	assert.Equal(t, 3, n.Attempts)
	assert.NotEmpty(t, n.Error)
}

func TestDoesNotRetryClientErrors(t *testing.T) {
	f := newFixture(t)
	f.resend.Fail(422, 1)

	n, err := f.svc.TestSend(context.Background(), store.ChannelEmail, "ana@example.com", "Hi", "Body")
	require.Error(t, err)
	assert.Equal(t, 1, f.resend.Calls())
	assert.Equal(t, store.NotificationFailed, n.Status)
}

func TestProviderRejectsMissingCredentials(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cs, err := f.st.GetChannelSettings(ctx, store.ChannelSMS)
	require.NoError(t, err)
	cs.Secret = ""
	require.NoError(t, f.st.SaveChannelSettings(ctx, &cs))

	_, err = f.svc.TestSend(ctx, store.ChannelSMS, "+15551234", "", "Hello")
	require.Error(t, err)
	assert.Equal(t, 0, f.twilio.Calls())
}

func TestSendOnDisabledChannel(t *testing.T) {
	f := newFixture(t)
	f.disable(t, store.ChannelSMS)

	_, err := f.svc.TestSend(context.Background(), store.ChannelSMS, "+15551234", "", "Hello")
	assert.ErrorIs(t, err, ErrChannelDisabled)
	assert.Equal(t, 0, f.twilio.Calls())
}

func TestSendRequiresRecipient(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.TestSend(context.Background(), store.ChannelSMS, "  ", "", "Hello")
	assert.ErrorIs(t, err, ErrNoRecipient)
}

func TestNotifyCustomerChannelOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.customer(t, store.Customer{
		FirstName: "Ana", LastName: "Silva", Email: "ana@example.com", Phone: "+15551234",
		OptInSMS: true, OptInEmail: true,
	})

	n, err := f.svc.NotifyCustomer(ctx, c, "", "Hi {{first_name}}, code {{code}}")
	require.NoError(t, err)
	assert.Equal(t, store.ChannelSMS, n.Channel)
	assert.Equal(t, "Hi Ana, code "+c.Code, n.Body)
	require.NotNil(t, n.CustomerID)
	assert.Equal(t, c.ID, *n.CustomerID)

	f.disable(t, store.ChannelSMS)
	n, err = f.svc.NotifyCustomer(ctx, c, "Subject", "Hi")
	require.NoError(t, err)
	assert.Equal(t, store.ChannelEmail, n.Channel)
	assert.Equal(t, "ana@example.com", n.Recipient)

	f.disable(t, store.ChannelEmail)
	_, err = f.svc.NotifyCustomer(ctx, c, "Subject", "Hi")
	assert.ErrorIs(t, err, ErrNoChannel)
}

func TestRender(t *testing.T) {
	c := store.Customer{FirstName: "Ana", LastName: "Silva", Code: "CUS-000007", Tier: store.TierGold, PointsBalance: 1250}
	got := Render("{{first_name}} {{ last_name }} has {{points_balance}} ({{tier}}) {{unknown}}", CustomerVars(c))
	assert.Equal(t, "Ana Silva has 1250 (gold) {{unknown}}", got)
}

func TestUnknownPlaceholders(t *testing.T) {
	assert.Empty(t, Unknown("Hi {{first_name}}"))
	assert.Equal(t, []string{"coupon", "city"}, Unknown("{{coupon}} {{city}} {{coupon}} {{code}}"))
}

func TestRecipientRespectsOptIn(t *testing.T) {
	c := store.Customer{Email: "a@example.com", Phone: "+1555", OptInWhatsApp: true}
	assert.Equal(t, "", Recipient(c, store.ChannelSMS))
	assert.Equal(t, "+1555", Recipient(c, store.ChannelWhatsApp))
	assert.Equal(t, "", Recipient(c, store.ChannelEmail))
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"queued", store.NotificationQueued},
		{"sending", store.NotificationSent},
		{"sent", store.NotificationSent},
		{"delivered", store.NotificationDelivered},
		{"read", store.NotificationDelivered},
		{"undelivered", store.NotificationUndelivered},
		{"failed", store.NotificationFailed},
		{"bogus", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, TwilioStatus(tt.in))
		})
	}
	assert.Equal(t, store.NotificationDelivered, ResendStatus("email.delivered"))
	assert.Equal(t, store.NotificationUndelivered, ResendStatus("email.bounced"))
	assert.Equal(t, "", ResendStatus("email.opened"))
}

func TestTwilioSignature(t *testing.T) {
	form := url.Values{"MessageSid": {"SM1"}, "MessageStatus": {"delivered"}, "AccountSid": {"AC1"}}
	u := "https://loyalty.example.com/webhooks/twilio/status"
	sig := TwilioSignature("secret", u, form)

	assert.NoError(t, VerifyTwilio("secret", u, form, sig))
	assert.ErrorIs(t, VerifyTwilio("other", u, form, sig), ErrBadSignature)
	assert.ErrorIs(t, VerifyTwilio("secret", u+"?x=1", form, sig), ErrBadSignature)
	assert.ErrorIs(t, VerifyTwilio("secret", u, form, ""), ErrBadSignature)
}

func TestResendSignature(t *testing.T) {
	secret := "whsec_c2VjcmV0LWtleQ=="
	body := []byte(`{"type":"email.delivered"}`)
	now := time.Unix(1_700_000_000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)
	sig := ResendSignature(secret, "msg_1", ts, body)

	assert.NoError(t, VerifyResend(secret, "msg_1", ts, "v1,bogus "+sig, body, now))
	assert.NoError(t, VerifyResend(secret, "msg_1", ts, sig, body, now.Add(4*time.Minute)))
	assert.ErrorIs(t, VerifyResend(secret, "msg_1", ts, sig, body, now.Add(6*time.Minute)), ErrBadSignature)
	assert.ErrorIs(t, VerifyResend(secret, "msg_2", ts, sig, body, now), ErrBadSignature)
	assert.ErrorIs(t, VerifyResend(secret, "msg_1", ts, sig, []byte(`{}`), now), ErrBadSignature)
}

func TestTwilioCallbacksNeverRegress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	n, err := f.svc.TestSend(ctx, store.ChannelSMS, "+15551234", "", "Hello")
	require.NoError(t, err)

	u := "https://loyalty.example.com" + TwilioStatusPath
	post := func(status string) {
		t.Helper()
		form := url.Values{"MessageSid": {n.ProviderMessageID}, "MessageStatus": {status}}
		require.NoError(t, f.svc.HandleTwilioStatus(ctx, u, form, ""))
	}

	post("delivered")
	post("sent")
	post("failed")

	got, err := f.st.GetNotification(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, store.NotificationDelivered, got.Status)
	assert.NotNil(t, got.DeliveredAt)
}

func TestTwilioCallbackErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := "https://loyalty.example.com" + TwilioStatusPath

	err := f.svc.HandleTwilioStatus(ctx, u, url.Values{"MessageStatus": {"sent"}}, "")
	assert.ErrorIs(t, err, ErrBadEvent)

	err = f.svc.HandleTwilioStatus(ctx, u, url.Values{"MessageSid": {"SM404"}, "MessageStatus": {"delivered"}}, "")
	assert.NoError(t, err)
}

func TestTwilioCallbackSignatureEnforced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cs, err := f.st.GetChannelSettings(ctx, store.ChannelSMS)
	require.NoError(t, err)
	cs.WebhookSecret = "hook"
	require.NoError(t, f.st.SaveChannelSettings(ctx, &cs))

	n, err := f.svc.TestSend(ctx, store.ChannelSMS, "+15551234", "", "Hello")
	require.NoError(t, err)

	u := "https://loyalty.example.com" + TwilioStatusPath
	form := url.Values{"MessageSid": {n.ProviderMessageID}, "MessageStatus": {"undelivered"}, "ErrorCode": {"30003"}}
	assert.ErrorIs(t, f.svc.HandleTwilioStatus(ctx, u, form, "bad"), ErrBadSignature)

	require.NoError(t, f.svc.HandleTwilioStatus(ctx, u, form, TwilioSignature("hook", u, form)))
	got, err := f.st.GetNotification(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, store.NotificationUndelivered, got.Status)
	assert.Equal(t, "twilio error 30003", got.Error)
}

func TestResendEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	n, err := f.svc.TestSend(ctx, store.ChannelEmail, "ana@example.com", "Hi", "Body")
	require.NoError(t, err)

	body := []byte(`{"type":"email.bounced","data":{"email_id":"` + n.ProviderMessageID + `","bounce":{"message":"mailbox full"}}}`)
	require.NoError(t, f.svc.HandleResendEvent(ctx, body, nil))

	got, err := f.st.GetNotification(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, store.NotificationUndelivered, got.Status)
	assert.Equal(t, "mailbox full", got.Error)

	assert.NoError(t, f.svc.HandleResendEvent(ctx, []byte(`{"type":"email.opened","data":{"email_id":"x"}}`), nil))
	assert.ErrorIs(t, f.svc.HandleResendEvent(ctx, []byte(`not json`), nil), ErrBadEvent)
	assert.ErrorIs(t, f.svc.HandleResendEvent(ctx, []byte(`{"type":"email.sent"}`), nil), ErrBadEvent)
}

func (f *fixture) campaign(t *testing.T, channel string, criteria ...store.Criterion) store.Campaign {
	t.Helper()
	ctx := context.Background()
	seg := store.Segment{Name: "everyone", Match: store.MatchAll, Criteria: criteria}
	require.NoError(t, f.st.CreateSegment(ctx, &seg))
	c := store.Campaign{
		Name:      "Spring promo",
		SegmentID: seg.ID,
		Channel:   channel,
		Body:      "Hi {{first_name}}, you have {{points_balance}} points",
		Status:    store.CampaignDraft,
	}
	require.NoError(t, f.st.CreateCampaign(ctx, &c))
	return c
}

func TestSendCampaignNow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.customer(t, store.Customer{FirstName: "Ana", Email: "ana@example.com", Phone: "+15550101", OptInSMS: true})
	f.customer(t, store.Customer{FirstName: "Bruno", Email: "bruno@example.com", Phone: "+15550102"})
	f.customer(t, store.Customer{FirstName: "Carla", Email: "carla@example.com", Phone: "+15550103", OptInSMS: true, Status: store.CustomerBlocked})
	c := f.campaign(t, store.ChannelSMS)

	started, err := f.svc.SendCampaignNow(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, store.CampaignSending, started.Status)
	f.svc.Wait()

	got, err := f.st.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, store.CampaignCompleted, got.Status)
	assert.Equal(t, 3, got.Total)
	assert.Equal(t, 1, got.Sent)
	assert.Equal(t, 0, got.Failed)
	assert.Equal(t, 2, got.Skipped)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)

	msgs := f.twilio.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hi Ana, you have 0 points", msgs[0].Body)

	notes, err := f.st.ListNotifications(ctx, store.ListParams{Filters: map[string]string{"campaign_id": strconv.FormatInt(c.ID, 10)}})
	require.NoError(t, err)
	assert.Len(t, notes.Data, 1)

	_, err = f.svc.SendCampaignNow(ctx, c.ID)
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestCampaignAllFailedIsFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.customer(t, store.Customer{FirstName: "Ana", Email: "ana@example.com", OptInEmail: true})
	c := f.campaign(t, store.ChannelEmail)
	f.resend.Fail(400, 1)

	_, err := f.svc.SendCampaignNow(ctx, c.ID)
	require.NoError(t, err)
	f.svc.Wait()

	got, err := f.st.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, store.CampaignFailed, got.Status)
	assert.Equal(t, 1, got.Failed)
}

func TestCampaignOnDisabledChannel(t *testing.T) {
	f := newFixture(t)
	c := f.campaign(t, store.ChannelWhatsApp)
	f.disable(t, store.ChannelWhatsApp)

	_, err := f.svc.SendCampaignNow(context.Background(), c.ID)
	assert.ErrorIs(t, err, ErrChannelDisabled)
}

func TestScheduleAndRunDueCampaigns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.customer(t, store.Customer{FirstName: "Ana", Email: "ana@example.com", OptInEmail: true})
	c := f.campaign(t, store.ChannelEmail)

	_, err := f.svc.ScheduleCampaign(ctx, c.ID, f.clock.Now().Add(-time.Minute))
	assert.ErrorIs(t, err, ErrNotFuture)

	scheduled, err := f.svc.ScheduleCampaign(ctx, c.ID, f.clock.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, store.CampaignScheduled, scheduled.Status)

	n, err := f.svc.RunDueCampaigns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	f.clock.Advance(2 * time.Hour)
	n, err = f.svc.RunDueCampaigns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.st.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, store.CampaignCompleted, got.Status)
	assert.Equal(t, 1, got.Sent)
	assert.Len(t, f.resend.Messages(), 1)
}

func TestDueCampaignOnDisabledChannelFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.campaign(t, store.ChannelSMS)
	_, err := f.svc.ScheduleCampaign(ctx, c.ID, f.clock.Now().Add(time.Minute))
	require.NoError(t, err)
	f.disable(t, store.ChannelSMS)
	f.clock.Advance(time.Hour)

	n, err := f.svc.RunDueCampaigns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.st.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, store.CampaignFailed, got.Status)
}

// deadlineStore cancels the job context once the segment has been evaluated
// and refuses campaign writes on a done context, like a SQL driver would.
type deadlineStore struct {
	*memory.Store
	cancel context.CancelFunc
}

func (d *deadlineStore) MatchCustomers(ctx context.Context, match string, criteria []store.Criterion, p store.ListParams) (store.Page[store.Customer], error) {
	page, err := d.Store.MatchCustomers(ctx, match, criteria, p)
	d.cancel()
	return page, err
}

func (d *deadlineStore) UpdateCampaign(ctx context.Context, c *store.Campaign) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.Store.UpdateCampaign(ctx, c)
}

func (d *deadlineStore) TransitionCampaign(ctx context.Context, id int64, from []string, to string) (store.Campaign, error) {
	if err := ctx.Err(); err != nil {
		return store.Campaign{}, err
	}
	return d.Store.TransitionCampaign(ctx, id, from, to)
}

func TestCampaignFinishesAfterJobDeadline(t *testing.T) {
	f := newFixture(t)
	f.customer(t, store.Customer{FirstName: "Ana", Email: "ana@example.com", OptInEmail: true})
	c := f.campaign(t, store.ChannelEmail)
	_, err := f.svc.ScheduleCampaign(context.Background(), c.ID, f.clock.Now().Add(time.Minute))
	require.NoError(t, err)
	f.clock.Advance(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := NewService(&deadlineStore{Store: f.st, cancel: cancel}, Options{Clock: f.clock, Logger: logging.Discard()})
	n, err := svc.RunDueCampaigns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.st.GetCampaign(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, store.CampaignFailed, got.Status)
	assert.Equal(t, 1, got.Total)
	assert.Equal(t, 1, got.Failed)
	assert.NotNil(t, got.CompletedAt)
}

func TestFailStuckCampaigns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stuck := f.campaign(t, store.ChannelSMS)
	_, err := f.st.TransitionCampaign(ctx, stuck.ID, []string{store.CampaignDraft}, store.CampaignSending)
	require.NoError(t, err)
	draft := f.campaign(t, store.ChannelSMS)

	n, err := f.svc.FailStuckCampaigns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.st.GetCampaign(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, store.CampaignFailed, got.Status)
	got, err = f.st.GetCampaign(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, store.CampaignDraft, got.Status)
}

func TestCancelCampaign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.campaign(t, store.ChannelSMS)

	cancelled, err := f.svc.CancelCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, store.CampaignCancelled, cancelled.Status)

	_, err = f.svc.CancelCampaign(ctx, c.ID)
	assert.ErrorIs(t, err, store.ErrConflict)
	_, err = f.svc.ScheduleCampaign(ctx, c.ID, f.clock.Now().Add(time.Hour))
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestLimiterFollowsSettings(t *testing.T) {
	f := newFixture(t)
	l := f.svc.limiter(store.ChannelSettings{Channel: store.ChannelSMS})
	assert.Equal(t, rate.Inf, l.Limit())

	l = f.svc.limiter(store.ChannelSettings{Channel: store.ChannelSMS, RatePerSecond: 5})
	assert.Equal(t, rate.Limit(5), l.Limit())
	assert.Equal(t, 5, l.Burst())

	w := f.svc.limiter(store.ChannelSettings{Channel: store.ChannelWhatsApp, RatePerSecond: 2})
	assert.True(t, w.Allow())
	assert.True(t, w.Allow())
	assert.False(t, w.Allow())
}
