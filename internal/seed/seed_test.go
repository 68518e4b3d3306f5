package seed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wondertwin-ai/loyaltydesk/internal/auth"
	"github.com/wondertwin-ai/loyaltydesk/internal/logging"
	"github.com/wondertwin-ai/loyaltydesk/internal/store"
	"github.com/wondertwin-ai/loyaltydesk/internal/store/memory"
)

func TestBaseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := memory.New(nil)
	opts := Options{AdminEmail: "Root@Example.com", AdminPassword: "s3cret-pass", Log: logging.Discard()}

	require.NoError(t, Base(ctx, st, opts))
	require.NoError(t, Base(ctx, st, opts))

	roles, err := st.ListRoles(ctx)
	require.NoError(t, err)
	assert.Len(t, roles, len(Roles))

	admin, err := st.GetStaffByEmail(ctx, "root@example.com")
	require.NoError(t, err)
	assert.True(t, admin.Active)
	assert.True(t, auth.CheckPassword(admin.PasswordHash, "s3cret-pass"))
	role, err := st.GetRole(ctx, admin.RoleID)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, role.Name)

	staff, err := st.ListStaff(ctx, store.ListParams{})
	require.NoError(t, err)
	assert.Equal(t, 1, staff.Meta.Total)

	sms, err := st.GetChannelSettings(ctx, store.ChannelSMS)
	require.NoError(t, err)
	assert.Equal(t, "twilio", sms.Provider)
	assert.False(t, sms.Enabled)
	email, err := st.GetChannelSettings(ctx, store.ChannelEmail)
	require.NoError(t, err)
	assert.Equal(t, "resend", email.Provider)
}

func TestBaseKeepsConfiguredChannels(t *testing.T) {
	ctx := context.Background()
	st := memory.New(nil)
	cs := store.ChannelSettings{Channel: store.ChannelSMS, Provider: "twilio", Enabled: true, AccountID: "AC1"}
	require.NoError(t, st.SaveChannelSettings(ctx, &cs))

	require.NoError(t, Base(ctx, st, Options{Log: logging.Discard()}))

	got, err := st.GetChannelSettings(ctx, store.ChannelSMS)
	require.NoError(t, err)
	assert.True(t, got.Enabled)
	assert.Equal(t, "AC1", got.AccountID)
}

func TestBaseRejectsShortPassword(t *testing.T) {
	st := memory.New(nil)
	err := Base(context.Background(), st, Options{AdminEmail: "a@example.com", AdminPassword: "short", Log: logging.Discard()})
	assert.Error(t, err)
}

func TestSeederWithDemoSurvivesReset(t *testing.T) {
	ctx := context.Background()
	st := memory.New(store.NewClock())
	opts := Options{AdminEmail: DemoAdminEmail, AdminPassword: DemoAdminPassword, Log: logging.Discard()}
	st.SetSeeder(Seeder(opts, true, logging.Discard()))
	require.NoError(t, st.Reset())

	customers, err := st.ListCustomers(ctx, store.ListParams{})
	require.NoError(t, err)
	assert.Equal(t, len(demoCustomers), customers.Meta.Total)

	ana, err := st.GetCustomerByEmail(ctx, "ana.silva@example.com")
	require.NoError(t, err)
	// 3 lattes (24 + 11) + 2 espressos (10 + 5) + 120 of amount-only spend.
	assert.Equal(t, int64(170), ana.PointsBalance)

	segs, err := st.ListSegments(ctx, store.ListParams{})
	require.NoError(t, err)
	require.Len(t, segs.Data, 1)
	match, err := st.MatchCustomers(ctx, segs.Data[0].Match, segs.Data[0].Criteria, store.ListParams{})
	require.NoError(t, err)
	require.Equal(t, 1, match.Meta.Total)
	assert.Equal(t, ana.ID, match.Data[0].ID)

	// Running the seeder again does not duplicate demo rows.
	require.NoError(t, Seeder(opts, true, logging.Discard())(ctx, st))
	customers, err = st.ListCustomers(ctx, store.ListParams{})
	require.NoError(t, err)
	assert.Equal(t, len(demoCustomers), customers.Meta.Total)

	require.NoError(t, st.Reset())
	customers, err = st.ListCustomers(ctx, store.ListParams{})
	require.NoError(t, err)
	assert.Equal(t, len(demoCustomers), customers.Meta.Total)
}
