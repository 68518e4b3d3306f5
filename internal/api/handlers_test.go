package api_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wondertwin-ai/loyaltydesk/internal/admin"
	"github.com/wondertwin-ai/loyaltydesk/internal/api"
	"github.com/wondertwin-ai/loyaltydesk/internal/auth"
	"github.com/wondertwin-ai/loyaltydesk/internal/config"
	"github.com/wondertwin-ai/loyaltydesk/internal/logging"
	"github.com/wondertwin-ai/loyaltydesk/internal/loyalty"
	"github.com/wondertwin-ai/loyaltydesk/internal/messaging"
	"github.com/wondertwin-ai/loyaltydesk/internal/scheduler"
	"github.com/wondertwin-ai/loyaltydesk/internal/seed"
	"github.com/wondertwin-ai/loyaltydesk/internal/server"
	"github.com/wondertwin-ai/loyaltydesk/internal/store"
	"github.com/wondertwin-ai/loyaltydesk/internal/store/memory"
	"github.com/wondertwin-ai/loyaltydesk/internal/testutil"
)

type env struct {
	tc        *testutil.Client // authenticated as the demo admin
	anon      *testutil.Client
	ac        *testutil.AdminClient
	st        *memory.Store
	messaging *messaging.Service
	twilio    *testutil.FakeTwilio
	resend    *testutil.FakeResend
}

func setup(t *testing.T) *env {
	t.Helper()
	log := logging.Discard()
	clock := store.NewClock()
	st := memory.New(clock)
	st.SetSeeder(seed.Seeder(seed.Options{
		AdminEmail:    seed.DemoAdminEmail,
		AdminPassword: seed.DemoAdminPassword,
		AdminName:     "Demo Admin",
		Log:           log,
	}, true, log))
	require.NoError(t, st.Reset())

	e := &env{st: st, twilio: testutil.NewFakeTwilio(t), resend: testutil.NewFakeResend(t)}
	ctx := context.Background()
	for _, cs := range []store.ChannelSettings{
		{Channel: store.ChannelSMS, Enabled: true, Provider: "twilio", BaseURL: e.twilio.URL, AccountID: "AC123", Secret: "twilio-token", Sender: "+15550000"},
		{Channel: store.ChannelWhatsApp, Enabled: false, Provider: "twilio", BaseURL: e.twilio.URL},
		{Channel: store.ChannelEmail, Enabled: true, Provider: "resend", BaseURL: e.resend.URL, Secret: "re_test_key", Sender: "Loyalty <hi@example.com>"},
	} {
		cs := cs
		require.NoError(t, st.SaveChannelSettings(ctx, &cs))
	}

	e.messaging = messaging.NewService(st, messaging.Options{
		MaxRetries: 1,
		PublicURL:  "https://loyalty.example.com",
		Clock:      clock,
		Logger:     log,
	})
	svc := loyalty.NewService(st, e.messaging, clock, log)
	sched := scheduler.New(log, time.Minute)
	require.NoError(t, scheduler.Register(sched, scheduler.Specs{Expiry: "@every 1h", Campaigns: "@every 1m"}, svc, e.messaging))

	srv := server.New(config.Default().Server, log)
	api.NewHandler(api.Options{
		Store:     st,
		Loyalty:   svc,
		Messaging: e.messaging,
		Issuer:    auth.NewIssuer("test-secret", time.Hour, "loyaltydesk", clock.Now),
		Clock:     clock,
		Log:       log,
		PublicURL: "https://loyalty.example.com",
	}).Routes(srv.Router)
	admin.NewHandler(st, srv.ReqLog, clock, sched, log).Routes(srv.Router)

	hs := httptest.NewServer(srv)
	t.Cleanup(hs.Close)
	t.Cleanup(e.messaging.Wait)

	e.anon = testutil.NewClient(t, hs)
	e.tc = e.anon.Login(seed.DemoAdminEmail, seed.DemoAdminPassword)
	e.ac = testutil.NewAdminClient(e.tc)
	return e
}

func idOf(t *testing.T, m map[string]any) int64 {
	t.Helper()
	v, ok := m["id"].(float64)
	require.True(t, ok, "missing id in %v", m)
	return int64(v)
}

func (e *env) createCustomer(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	resp := e.tc.Post("/api/customers", body)
	resp.AssertStatus(http.StatusCreated)
	return resp.Data()
}

// staffWith creates a staff member holding only perms and logs in as them.
func (e *env) staffWith(t *testing.T, email string, perms ...string) *testutil.Client {
	t.Helper()
	role := e.tc.Post("/api/roles", map[string]any{"name": "role-" + email, "permissions": perms})
	role.AssertStatus(http.StatusCreated)
	e.tc.Post("/api/staff", map[string]any{
		"name":     "Limited",
		"email":    email,
		"password": "password123",
		"role_id":  idOf(t, role.Data()),
	}).AssertStatus(http.StatusCreated)
	return e.anon.Login(email, "password123")
}

// --- Auth ---

func TestAuthRequired(t *testing.T) {
	e := setup(t)
	resp := e.anon.Get("/api/customers")
	resp.AssertStatus(http.StatusUnauthorized)
	assert.Equal(t, "unauthenticated", resp.ErrorCode())
}

func TestAuthInvalidToken(t *testing.T) {
	e := setup(t)
	e.anon.WithToken("not-a-token").Get("/api/customers").AssertStatus(http.StatusUnauthorized)
}

func TestLoginWrongPassword(t *testing.T) {
	e := setup(t)
	resp := e.anon.Post("/api/auth/login", map[string]string{"email": seed.DemoAdminEmail, "password": "wrong-password"})
	resp.AssertStatus(http.StatusUnauthorized)
	resp.AssertBodyContains("invalid email or password")
}

func TestMe(t *testing.T) {
	e := setup(t)
	resp := e.tc.Get("/api/me")
	resp.AssertStatus(http.StatusOK)
	me := resp.Data()
	assert.Equal(t, seed.DemoAdminEmail, me["email"])
	assert.Equal(t, seed.RoleAdmin, me["role"])
	resp.AssertBodyNotContains("password")
}

func TestPermissionDenied(t *testing.T) {
	e := setup(t)
	viewer := e.staffWith(t, "viewer@example.com", auth.PermCustomersView)

	viewer.Get("/api/customers").AssertStatus(http.StatusOK)
	resp := viewer.Post("/api/customers", map[string]any{"first_name": "X", "email": "x@example.com"})
	resp.AssertStatus(http.StatusForbidden)
	assert.Equal(t, "forbidden", resp.ErrorCode())
	viewer.Get("/api/staff").AssertStatus(http.StatusForbidden)
}

func TestInactiveStaffCannotLogin(t *testing.T) {
	e := setup(t)
	e.staffWith(t, "temp@example.com", auth.PermCustomersView)
	list := e.tc.Get("/api/staff?q=temp@example.com").List()
	require.Len(t, list, 1)
	id := idOf(t, list[0])

	e.tc.Put(fmt.Sprintf("/api/staff/%d", id), map[string]any{
		"name": "Limited", "email": "temp@example.com", "role_id": list[0]["role_id"], "active": false,
	}).AssertStatus(http.StatusOK)

	e.anon.Post("/api/auth/login", map[string]string{"email": "temp@example.com", "password": "password123"}).
		AssertStatus(http.StatusForbidden)
}

// --- Customers ---

func TestCustomerCRUD(t *testing.T) {
	e := setup(t)
	c := e.createCustomer(t, map[string]any{
		"first_name": "Zoe", "last_name": "Lee", "email": "ZOE@Example.com", "city": "Faro",
	})
	id := idOf(t, c)
	assert.Equal(t, "zoe@example.com", c["email"])
	assert.Equal(t, store.CustomerActive, c["status"])
	assert.EqualValues(t, 0, c["points_balance"])

	got := e.tc.Get(fmt.Sprintf("/api/customers/%d", id))
	got.AssertStatus(http.StatusOK)
	assert.Equal(t, "Zoe", got.Data()["first_name"])

	upd := e.tc.Put(fmt.Sprintf("/api/customers/%d", id), map[string]any{
		"first_name": "Zoey", "email": "zoe@example.com", "city": "Faro",
	})
	upd.AssertStatus(http.StatusOK)
	assert.Equal(t, "Zoey", upd.Data()["first_name"])

	list := e.tc.Get("/api/customers?q=zoe")
	list.AssertStatus(http.StatusOK)
	assert.Len(t, list.List(), 1)
	meta := list.JSONMap()["meta"].(map[string]any)
	assert.EqualValues(t, 1, meta["total"])

	e.tc.Delete(fmt.Sprintf("/api/customers/%d", id)).AssertStatus(http.StatusNoContent)
	e.tc.Get(fmt.Sprintf("/api/customers/%d", id)).AssertStatus(http.StatusNotFound)
}

func TestCreateCustomerValidation(t *testing.T) {
	e := setup(t)
	resp := e.tc.Post("/api/customers", map[string]any{"last_name": "Nobody"})
	resp.AssertStatus(http.StatusUnprocessableEntity)
	assert.Equal(t, "validation_failed", resp.ErrorCode())
	resp.AssertBodyContains(`"first_name"`)
	resp.AssertBodyContains(`"email"`)

	e.tc.Post("/api/customers", map[string]any{"first_name": "A", "email": "not-an-email"}).
		AssertStatus(http.StatusUnprocessableEntity)
	e.tc.Post("/api/customers", map[string]any{"first_name": "A", "email": "a@example.com", "bogus": 1}).
		AssertStatus(http.StatusBadRequest)
}

func TestCreateCustomerDuplicateEmail(t *testing.T) {
	e := setup(t)
	e.createCustomer(t, map[string]any{"first_name": "A", "email": "dup@example.com"})
	e.tc.Post("/api/customers", map[string]any{"first_name": "B", "email": "DUP@example.com"}).
		AssertStatus(http.StatusConflict)
}

func TestListCustomersBadSort(t *testing.T) {
	e := setup(t)
	e.tc.Get("/api/customers?sort=password").AssertStatus(http.StatusBadRequest)
	e.tc.Get("/api/customers?page=abc").AssertStatus(http.StatusBadRequest)
}

// --- Points ---

func TestRecordPurchaseReplay(t *testing.T) {
	e := setup(t)
	id := idOf(t, e.createCustomer(t, map[string]any{"first_name": "P", "email": "p@example.com"}))
	path := fmt.Sprintf("/api/customers/%d/purchases", id)

	first := e.tc.Post(path, map[string]any{"amount": "20.00", "reference": "POS-1"})
	first.AssertStatus(http.StatusCreated)
	body := first.Data()
	assert.Equal(t, false, body["replayed"])
	balance := body["customer"].(map[string]any)["points_balance"]

	again := e.tc.Post(path, map[string]any{"amount": "20.00", "reference": "POS-1"})
	again.AssertStatus(http.StatusOK)
	assert.Equal(t, true, again.Data()["replayed"])
	assert.Equal(t, balance, again.Data()["customer"].(map[string]any)["points_balance"])

	assert.Len(t, e.tc.Get(path).List(), 1)
	ledger := e.tc.Get(fmt.Sprintf("/api/customers/%d/ledger?type=earn", id))
	ledger.AssertStatus(http.StatusOK)
	assert.Len(t, ledger.List(), 1)
}

func TestAdjustPoints(t *testing.T) {
	e := setup(t)
	id := idOf(t, e.createCustomer(t, map[string]any{"first_name": "A", "email": "adj@example.com"}))
	path := fmt.Sprintf("/api/customers/%d/adjust", id)

	resp := e.tc.Post(path, map[string]any{"amount": 250, "reason": "goodwill"})
	resp.AssertStatus(http.StatusOK)
	assert.EqualValues(t, 250, resp.Data()["customer"].(map[string]any)["points_balance"])

	over := e.tc.Post(path, map[string]any{"amount": -1000, "reason": "correction"})
	over.AssertStatus(http.StatusUnprocessableEntity)
	assert.Equal(t, "insufficient_points", over.ErrorCode())

	e.tc.Post(path, map[string]any{"amount": 10}).AssertStatus(http.StatusUnprocessableEntity)
}

func TestBlockedCustomerCannotEarn(t *testing.T) {
	e := setup(t)
	id := idOf(t, e.createCustomer(t, map[string]any{"first_name": "B", "email": "blocked@example.com"}))
	e.tc.Put(fmt.Sprintf("/api/customers/%d", id), map[string]any{
		"first_name": "B", "email": "blocked@example.com", "status": store.CustomerBlocked,
	}).AssertStatus(http.StatusOK)

	resp := e.tc.Post(fmt.Sprintf("/api/customers/%d/purchases", id), map[string]any{"amount": "5.00"})
	resp.AssertStatus(http.StatusUnprocessableEntity)
	assert.Equal(t, "customer_blocked", resp.ErrorCode())
}

// --- Redemptions ---

func (e *env) verifiedReward(t *testing.T, cost int) int64 {
	t.Helper()
	resp := e.tc.Post("/api/rewards", map[string]any{
		"name": fmt.Sprintf("Reward %d", cost), "points_cost": cost, "stock": 5, "requires_verification": true,
	})
	resp.AssertStatus(http.StatusCreated)
	return idOf(t, resp.Data())
}

func TestRedemptionVerificationFlow(t *testing.T) {
	e := setup(t)
	phone := "+15557770001"
	cid := idOf(t, e.createCustomer(t, map[string]any{"first_name": "Rita", "phone": phone, "opt_in_sms": true}))
	e.tc.Post(fmt.Sprintf("/api/customers/%d/adjust", cid), map[string]any{"amount": 1000, "reason": "welcome"}).
		AssertStatus(http.StatusOK)
	rid := e.verifiedReward(t, 300)

	created := e.tc.Post("/api/redemptions", map[string]any{"customer_id": cid, "reward_id": rid})
	created.AssertStatus(http.StatusCreated)
	created.AssertBodyNotContains("verification_code")
	res := created.Data()
	assert.Equal(t, true, res["code_sent"])
	red := res["redemption"].(map[string]any)
	id := idOf(t, red)
	assert.Equal(t, store.VerificationPending, red["verification_status"])
	assert.EqualValues(t, 300, red["points_spent"])

	code := e.twilio.LastCode(phone)
	require.Len(t, code, 6)

	deliver := fmt.Sprintf("/api/redemptions/%d/delivery-status", id)
	blocked := e.tc.Put(deliver, map[string]any{"status": store.DeliveryProcessing})
	blocked.AssertStatus(http.StatusUnprocessableEntity)
	assert.Equal(t, "verification_required", blocked.ErrorCode())

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	bad := e.tc.Post(fmt.Sprintf("/api/redemptions/%d/verify", id), map[string]any{"code": wrong})
	bad.AssertStatus(http.StatusUnprocessableEntity)
	assert.Equal(t, "invalid_code", bad.ErrorCode())

	ok := e.tc.Post(fmt.Sprintf("/api/redemptions/%d/verify", id), map[string]any{"code": code})
	ok.AssertStatus(http.StatusOK)
	assert.Equal(t, store.VerificationVerified, ok.Data()["verification_status"])
	assert.EqualValues(t, 1, ok.Data()["verification_attempts"])

	e.tc.Put(deliver, map[string]any{"status": store.DeliveryShipped}).AssertStatus(http.StatusConflict)
	e.tc.Put(deliver, map[string]any{"status": store.DeliveryProcessing}).AssertStatus(http.StatusOK)
	e.tc.Put(deliver, map[string]any{"status": store.DeliveryShipped}).AssertStatus(http.StatusOK)
	done := e.tc.Put(deliver, map[string]any{"status": store.DeliveryDelivered, "note": "picked up"})
	done.AssertStatus(http.StatusOK)
	assert.NotNil(t, done.Data()["delivered_at"])

	e.tc.Post(fmt.Sprintf("/api/redemptions/%d/cancel", id), nil).AssertStatus(http.StatusConflict)
}

func TestCancelRedemptionRefunds(t *testing.T) {
	e := setup(t)
	cid := idOf(t, e.createCustomer(t, map[string]any{"first_name": "C", "email": "c@example.com"}))
	e.tc.Post(fmt.Sprintf("/api/customers/%d/adjust", cid), map[string]any{"amount": 500, "reason": "welcome"})
	reward := e.tc.Post("/api/rewards", map[string]any{"name": "Tote bag", "points_cost": 200, "stock": 1})
	reward.AssertStatus(http.StatusCreated)
	rid := idOf(t, reward.Data())

	created := e.tc.Post("/api/redemptions", map[string]any{"customer_id": cid, "reward_id": rid})
	created.AssertStatus(http.StatusCreated)
	id := idOf(t, created.Data()["redemption"].(map[string]any))
	assert.Equal(t, store.VerificationNotRequired, created.Data()["redemption"].(map[string]any)["verification_status"])

	out := e.tc.Post("/api/redemptions", map[string]any{"customer_id": cid, "reward_id": rid})
	out.AssertStatus(http.StatusUnprocessableEntity)
	assert.Equal(t, "out_of_stock", out.ErrorCode())

	e.tc.Delete(fmt.Sprintf("/api/customers/%d", cid)).AssertStatus(http.StatusConflict)

	cancel := e.tc.Post(fmt.Sprintf("/api/redemptions/%d/cancel", id), map[string]any{"note": "changed mind"})
	cancel.AssertStatus(http.StatusOK)
	assert.Equal(t, store.DeliveryCancelled, cancel.Data()["delivery_status"])

	c := e.tc.Get(fmt.Sprintf("/api/customers/%d", cid)).Data()
	assert.EqualValues(t, 500, c["points_balance"])
	r := e.tc.Get(fmt.Sprintf("/api/rewards/%d", rid)).Data()
	assert.EqualValues(t, 1, r["stock"])
}

func TestRedeemInsufficientPoints(t *testing.T) {
	e := setup(t)
	cid := idOf(t, e.createCustomer(t, map[string]any{"first_name": "Poor", "email": "poor@example.com"}))
	rid := e.verifiedReward(t, 100)
	resp := e.tc.Post("/api/redemptions", map[string]any{"customer_id": cid, "reward_id": rid})
	resp.AssertStatus(http.StatusUnprocessableEntity)
	assert.Equal(t, "insufficient_points", resp.ErrorCode())
}

func TestRewardInUseCannotBeDeleted(t *testing.T) {
	e := setup(t)
	cid := idOf(t, e.createCustomer(t, map[string]any{"first_name": "D", "email": "d@example.com"}))
	e.tc.Post(fmt.Sprintf("/api/customers/%d/adjust", cid), map[string]any{"amount": 100, "reason": "welcome"})
	reward := e.tc.Post("/api/rewards", map[string]any{"name": "Sticker", "points_cost": 10})
	rid := idOf(t, reward.Data())
	e.tc.Post("/api/redemptions", map[string]any{"customer_id": cid, "reward_id": rid}).AssertStatus(http.StatusCreated)

	resp := e.tc.Delete(fmt.Sprintf("/api/rewards/%d", rid))
	resp.AssertStatus(http.StatusConflict)
	assert.Equal(t, "in_use", resp.ErrorCode())
}

// --- Staff and roles ---

func TestRoleInUseCannotBeDeleted(t *testing.T) {
	e := setup(t)
	e.staffWith(t, "cashier2@example.com", auth.PermCustomersView)
	roles := e.tc.Get("/api/roles")
	roles.AssertStatus(http.StatusOK)
	var roleID int64
	for _, r := range roles.List() {
		if r["name"] == "role-cashier2@example.com" {
			roleID = idOf(t, r)
		}
	}
	require.NotZero(t, roleID)

	resp := e.tc.Delete(fmt.Sprintf("/api/roles/%d", roleID))
	resp.AssertStatus(http.StatusConflict)
	assert.Equal(t, "in_use", resp.ErrorCode())
}

func TestRoleRejectsUnknownPermission(t *testing.T) {
	e := setup(t)
	resp := e.tc.Post("/api/roles", map[string]any{"name": "odd", "permissions": []string{"launch.missiles"}})
	resp.AssertStatus(http.StatusUnprocessableEntity)
	resp.AssertBodyContains("permissions[0]")
}

func TestCannotDeleteSelf(t *testing.T) {
	e := setup(t)
	me := e.tc.Get("/api/me").Data()
	e.tc.Delete(fmt.Sprintf("/api/staff/%d", idOf(t, me))).AssertStatus(http.StatusForbidden)
}

func TestStaffResponsesHidePasswordHash(t *testing.T) {
	e := setup(t)
	resp := e.tc.Get("/api/staff")
	resp.AssertStatus(http.StatusOK)
	assert.NotEmpty(t, resp.List())
	resp.AssertBodyNotContains("$2a$")
}

// --- Settings ---

func TestChannelSettingsMasksSecrets(t *testing.T) {
	e := setup(t)
	resp := e.tc.Get("/api/settings/channels/sms")
	resp.AssertStatus(http.StatusOK)
	resp.AssertBodyNotContains("twilio-token")
	assert.Equal(t, "********oken", resp.Data()["secret"])

	e.tc.Get("/api/settings/channels/pigeon").AssertStatus(http.StatusNotFound)
}

func TestUpdateChannelSettingsKeepsSecret(t *testing.T) {
	e := setup(t)
	resp := e.tc.Put("/api/settings/channels/sms", map[string]any{
		"enabled": true, "base_url": e.twilio.URL, "account_id": "AC999", "sender": "+15559999",
	})
	resp.AssertStatus(http.StatusOK)

	cs, err := e.st.GetChannelSettings(context.Background(), store.ChannelSMS)
	require.NoError(t, err)
	assert.Equal(t, "twilio-token", cs.Secret)
	assert.Equal(t, "AC999", cs.AccountID)

	bad := e.tc.Put("/api/settings/channels/whatsapp", map[string]any{"enabled": true})
	bad.AssertStatus(http.StatusUnprocessableEntity)
	bad.AssertBodyContains("account_id")

	e.tc.Put("/api/settings/channels/email", map[string]any{"provider": "twilio"}).
		AssertStatus(http.StatusUnprocessableEntity)
}

func TestChannelTestSend(t *testing.T) {
	e := setup(t)
	resp := e.tc.Post("/api/settings/channels/email/test", map[string]any{"recipient": "ops@example.com", "body": "ping"})
	resp.AssertStatus(http.StatusOK)
	assert.Equal(t, store.NotificationSent, resp.Data()["status"])
	require.Len(t, e.resend.Messages(), 1)
	assert.Equal(t, "loyaltydesk test message", e.resend.Messages()[0].Subject)

	e.twilio.Fail(http.StatusInternalServerError, 1)
	failed := e.tc.Post("/api/settings/channels/sms/test", map[string]any{"recipient": "+15550101", "body": "ping"})
	failed.AssertStatus(http.StatusBadGateway)
	assert.Equal(t, store.NotificationFailed, failed.Data()["status"])

	disabled := e.tc.Post("/api/settings/channels/whatsapp/test", map[string]any{"recipient": "+15550101", "body": "ping"})
	disabled.AssertStatus(http.StatusUnprocessableEntity)
	assert.Equal(t, "channel_disabled", disabled.ErrorCode())
}

func TestProgramSettingsValidation(t *testing.T) {
	e := setup(t)
	e.tc.Get("/api/settings/program").AssertStatus(http.StatusOK)

	bad := e.tc.Put("/api/settings/program", map[string]any{
		"earn_rate": "1", "silver_threshold": 500, "gold_threshold": 100, "verification_ttl_minutes": 10,
	})
	bad.AssertStatus(http.StatusUnprocessableEntity)
	bad.AssertBodyContains("gold_threshold")

	ok := e.tc.Put("/api/settings/program", map[string]any{
		"earn_rate": "2", "points_ttl_days": 365, "silver_threshold": 100, "gold_threshold": 500,
		"platinum_threshold": 1000, "verification_ttl_minutes": 15,
	})
	ok.AssertStatus(http.StatusOK)
	assert.Equal(t, "2", ok.Data()["earn_rate"])
}

// --- Messaging ---

func TestSegmentPreview(t *testing.T) {
	e := setup(t)
	e.createCustomer(t, map[string]any{"first_name": "F1", "email": "f1@example.com", "city": "Faro"})
	e.createCustomer(t, map[string]any{"first_name": "F2", "email": "f2@example.com", "city": "Faro"})

	resp := e.tc.Post("/api/segments/preview", map[string]any{
		"match":    "all",
		"criteria": []map[string]string{{"field": "city", "operator": "eq", "value": "Faro"}},
	})
	resp.AssertStatus(http.StatusOK)
	assert.EqualValues(t, 2, resp.JSONMap()["count"])
	assert.Len(t, resp.List(), 2)

	bad := e.tc.Post("/api/segments", map[string]any{
		"name":     "broken",
		"criteria": []map[string]string{{"field": "shoe_size", "operator": "eq", "value": "42"}},
	})
	bad.AssertStatus(http.StatusUnprocessableEntity)
}

func TestCampaignSendAndStatusCallback(t *testing.T) {
	e := setup(t)
	phone := "+15558880001"
	e.createCustomer(t, map[string]any{"first_name": "Gil", "phone": phone, "city": "Evora", "opt_in_sms": true})
	e.createCustomer(t, map[string]any{"first_name": "Hal", "phone": "+15558880002", "city": "Evora"})

	sg := e.tc.Post("/api/segments", map[string]any{
		"name":     "Evora",
		"criteria": []map[string]string{{"field": "city", "operator": "eq", "value": "Evora"}},
	})
	sg.AssertStatus(http.StatusCreated)

	unknown := e.tc.Post("/api/campaigns", map[string]any{
		"name": "bad", "segment_id": idOf(t, sg.Data()), "channel": "sms", "body": "Hi {{nickname}}",
	})
	unknown.AssertStatus(http.StatusUnprocessableEntity)
	unknown.AssertBodyContains("nickname")

	camp := e.tc.Post("/api/campaigns", map[string]any{
		"name": "Evora promo", "segment_id": idOf(t, sg.Data()), "channel": "sms", "body": "Hi {{first_name}}, you have {{points_balance}} points",
	})
	camp.AssertStatus(http.StatusCreated)
	campID := idOf(t, camp.Data())
	assert.Equal(t, store.CampaignDraft, camp.Data()["status"])

	e.tc.Post(fmt.Sprintf("/api/campaigns/%d/send", campID), nil).AssertStatus(http.StatusAccepted)
	e.messaging.Wait()

	msgs := e.twilio.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, phone, msgs[0].To)
	assert.Equal(t, "Hi Gil, you have 0 points", msgs[0].Body)

	got := e.tc.Get(fmt.Sprintf("/api/campaigns/%d", campID)).Data()
	assert.Equal(t, store.CampaignCompleted, got["status"])

	notes := e.tc.Get(fmt.Sprintf("/api/notifications?campaign_id=%d", campID))
	notes.AssertStatus(http.StatusOK)
	require.Len(t, notes.List(), 1)
	n := notes.List()[0]
	assert.Equal(t, msgs[0].ID, n["provider_message_id"])

	form := url.Values{"MessageSid": {msgs[0].ID}, "MessageStatus": {"delivered"}}
	e.anon.PostForm(messaging.TwilioStatusPath, form, nil).AssertStatus(http.StatusNoContent)
	after := e.tc.Get(fmt.Sprintf("/api/notifications/%d", idOf(t, n))).Data()
	assert.Equal(t, store.NotificationDelivered, after["status"])

	e.tc.Put(fmt.Sprintf("/api/campaigns/%d", campID), map[string]any{
		"name": "late edit", "segment_id": idOf(t, sg.Data()), "channel": "sms", "body": "x",
	}).AssertStatus(http.StatusConflict)
}

func TestTwilioCallbackSignature(t *testing.T) {
	e := setup(t)
	cs, err := e.st.GetChannelSettings(context.Background(), store.ChannelSMS)
	require.NoError(t, err)
	cs.WebhookSecret = "hook-secret"
	require.NoError(t, e.st.SaveChannelSettings(context.Background(), &cs))

	n := e.tc.Post("/api/settings/channels/sms/test", map[string]any{"recipient": "+15550199", "body": "ping"})
	n.AssertStatus(http.StatusOK)
	sid := n.Data()["provider_message_id"].(string)

	form := url.Values{"MessageSid": {sid}, "MessageStatus": {"delivered"}}
	bad := e.anon.PostForm(messaging.TwilioStatusPath, form, map[string]string{"X-Twilio-Signature": "bogus"})
	bad.AssertStatus(http.StatusForbidden)
	assert.Equal(t, "invalid_signature", bad.ErrorCode())

	sig := messaging.TwilioSignature("hook-secret", "https://loyalty.example.com"+messaging.TwilioStatusPath, form)
	e.anon.PostForm(messaging.TwilioStatusPath, form, map[string]string{"X-Twilio-Signature": sig}).
		AssertStatus(http.StatusNoContent)

	e.anon.PostForm(messaging.TwilioStatusPath, url.Values{"MessageStatus": {"sent"}}, nil).
		AssertStatus(http.StatusBadRequest)
}

func TestScheduleCampaignInPast(t *testing.T) {
	e := setup(t)
	camps := e.tc.Get("/api/campaigns").List()
	require.NotEmpty(t, camps)
	id := idOf(t, camps[0])

	resp := e.tc.Post(fmt.Sprintf("/api/campaigns/%d/schedule", id), map[string]any{
		"scheduled_at": time.Now().Add(-time.Hour).UTC().Format(time.RFC3339),
	})
	resp.AssertStatus(http.StatusUnprocessableEntity)
	resp.AssertBodyContains("scheduled_at")

	ok := e.tc.Post(fmt.Sprintf("/api/campaigns/%d/schedule", id), map[string]any{
		"scheduled_at": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
	})
	ok.AssertStatus(http.StatusOK)
	assert.Equal(t, store.CampaignScheduled, ok.Data()["status"])

	cancel := e.tc.Post(fmt.Sprintf("/api/campaigns/%d/cancel", id), nil)
	cancel.AssertStatus(http.StatusOK)
	assert.Equal(t, store.CampaignCancelled, cancel.Data()["status"])
}

// --- Import and export ---

func TestImportCustomersCSV(t *testing.T) {
	e := setup(t)
	csv := "first_name,last_name,email,phone,city\n" +
		"Ivo,Reis,ivo@example.com,,Braga\n" +
		"Joana,Paz,not-an-email,,Braga\n" +
		"Ana,Silva,ana.silva@example.com,,Coimbra\n"

	dry := e.tc.Upload("/api/import/customers", "file", "customers.csv", []byte(csv), map[string]string{"dry_run": "true"})
	dry.AssertStatus(http.StatusOK)
	assert.Equal(t, true, dry.Data()["dry_run"])
	assert.Empty(t, e.tc.Get("/api/customers?q=ivo@example.com").List())

	resp := e.tc.Upload("/api/import/customers", "file", "customers.csv", []byte(csv), nil)
	resp.AssertStatus(http.StatusOK)
	res := resp.Data()
	assert.EqualValues(t, 1, res["created"])
	assert.EqualValues(t, 1, res["updated"])
	assert.EqualValues(t, 1, res["failed"])
	errs := res["errors"].([]any)
	require.Len(t, errs, 1)
	assert.EqualValues(t, 3, errs[0].(map[string]any)["row"])

	assert.Len(t, e.tc.Get("/api/customers?q=ivo@example.com").List(), 1)

	badHeader := e.tc.Upload("/api/import/customers", "file", "x.csv", []byte("foo,bar\n1,2\n"), nil)
	badHeader.AssertStatus(http.StatusUnprocessableEntity)
	badHeader.AssertBodyContains(`"file"`)

	e.tc.Post("/api/import/customers", map[string]any{}).AssertStatus(http.StatusBadRequest)
}

func TestExportCustomers(t *testing.T) {
	e := setup(t)
	resp := e.tc.Get("/api/export/customers?city=Lisbon")
	resp.AssertStatus(http.StatusOK)
	assert.True(t, strings.HasPrefix(resp.Headers.Get("Content-Type"), "text/csv"))
	assert.Contains(t, resp.Headers.Get("Content-Disposition"), "customers-")
	resp.AssertBodyContains("ana.silva@example.com")
	resp.AssertBodyNotContains("bruno.costa@example.com")

	xlsx := e.tc.Get("/api/export/customers?format=xlsx")
	xlsx.AssertStatus(http.StatusOK)
	assert.True(t, strings.HasPrefix(string(xlsx.Body), "PK"))

	e.tc.Get("/api/export/customers?format=pdf").AssertStatus(http.StatusBadRequest)
}

func TestExportLedger(t *testing.T) {
	e := setup(t)
	resp := e.tc.Get("/api/export/ledger")
	resp.AssertStatus(http.StatusOK)
	resp.AssertBodyContains("earn")

	e.tc.Get("/api/export/ledger?customer_id=999999").AssertStatus(http.StatusNotFound)
	e.tc.Get("/api/export/redemptions").AssertStatus(http.StatusOK)
}

// --- Reports ---

func TestReports(t *testing.T) {
	e := setup(t)
	sum := e.tc.Get("/api/reports/summary")
	sum.AssertStatus(http.StatusOK)
	data := sum.Data()
	assert.EqualValues(t, 5, data["total_customers"])
	assert.Greater(t, data["points_issued"].(float64), 0.0)

	today := time.Now().UTC().Format("2006-01-02")
	daily := e.tc.Get("/api/reports/daily?from=" + today + "&to=" + today)
	daily.AssertStatus(http.StatusOK)

	e.tc.Get("/api/reports/summary?from=2026-02-01&to=2026-01-01").AssertStatus(http.StatusBadRequest)
	e.tc.Get("/api/reports/summary?from=yesterday").AssertStatus(http.StatusBadRequest)
}

// --- Audit ---

func TestAuditTrail(t *testing.T) {
	e := setup(t)
	id := idOf(t, e.createCustomer(t, map[string]any{"first_name": "Audit", "email": "audit@example.com"}))
	e.tc.Post(fmt.Sprintf("/api/customers/%d/adjust", id), map[string]any{"amount": 5, "reason": "test"})

	resp := e.tc.Get("/api/audit?entity_type=customers")
	resp.AssertStatus(http.StatusOK)
	entries := resp.List()
	require.Len(t, entries, 2)
	assert.Equal(t, "adjust", entries[0]["action"])
	assert.Equal(t, "create", entries[1]["action"])
	assert.EqualValues(t, id, entries[1]["entity_id"])
}

func TestLoginIsAudited(t *testing.T) {
	e := setup(t)
	e.anon.Post("/api/auth/login", map[string]string{"email": seed.DemoAdminEmail, "password": "wrong-password"}).
		AssertStatus(http.StatusUnauthorized)
	me := e.tc.Get("/api/me").Data()

	resp := e.tc.Get("/api/audit?entity_type=auth")
	resp.AssertStatus(http.StatusOK)
	entries := resp.List()
	require.Len(t, entries, 2)
	assert.Equal(t, "login", entries[0]["action"])
	assert.EqualValues(t, http.StatusUnauthorized, entries[0]["status"])
	assert.Nil(t, entries[0]["staff_id"])
	assert.EqualValues(t, http.StatusOK, entries[1]["status"])
	assert.EqualValues(t, idOf(t, me), entries[1]["staff_id"])
}

// --- Admin ---

func TestAdminResetRestoresSeed(t *testing.T) {
	e := setup(t)
	e.createCustomer(t, map[string]any{"first_name": "Temp", "email": "temp@example.com"})
	before := e.tc.Get("/api/customers").JSONMap()["meta"].(map[string]any)["total"]

	e.ac.Reset().AssertStatus(http.StatusOK)
	tc := e.anon.Login(seed.DemoAdminEmail, seed.DemoAdminPassword)
	after := tc.Get("/api/customers").JSONMap()["meta"].(map[string]any)["total"]
	assert.EqualValues(t, 6, before)
	assert.EqualValues(t, 5, after)
}

func TestAdminTimeAndJobs(t *testing.T) {
	e := setup(t)
	adv := e.ac.AdvanceTime("48h")
	adv.AssertStatus(http.StatusOK)
	assert.Equal(t, "48h0m0s", adv.JSONMap()["offset"])

	e.ac.Post("/admin/time/advance", map[string]string{"duration": "soon"}).AssertStatus(http.StatusBadRequest)

	job := e.ac.RunJob(scheduler.JobExpirePoints)
	job.AssertStatus(http.StatusOK)
	assert.Equal(t, scheduler.JobExpirePoints, job.JSONMap()["job"])

	e.ac.RunJob("nope").AssertStatus(http.StatusNotFound)
	e.ac.Health().AssertStatus(http.StatusOK)
}

func TestAdminStateRoundTrip(t *testing.T) {
	e := setup(t)
	state := e.ac.GetState()
	state.AssertStatus(http.StatusOK)
	snapshot := state.JSONMap()

	e.createCustomer(t, map[string]any{"first_name": "Gone", "email": "gone@example.com"})
	e.ac.LoadState(snapshot).AssertStatus(http.StatusOK)
	assert.Empty(t, e.tc.Get("/api/customers?q=gone@example.com").List())

	reqs := e.ac.GetRequests()
	reqs.AssertStatus(http.StatusOK)
	reqs.AssertBodyContains("/api/customers")
}
