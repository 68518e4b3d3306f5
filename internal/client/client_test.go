package client_test

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wondertwin-ai/loyaltydesk/internal/admin"
	"github.com/wondertwin-ai/loyaltydesk/internal/client"
	"github.com/wondertwin-ai/loyaltydesk/internal/logging"
	"github.com/wondertwin-ai/loyaltydesk/internal/store"
	"github.com/wondertwin-ai/loyaltydesk/internal/store/memory"
)

func setup(t *testing.T) (*client.AdminClient, *memory.Store) {
	t.Helper()
	clock := store.NewClock()
	st := memory.New(clock)
	r := chi.NewRouter()
	admin.NewHandler(st, nil, clock, nil, logging.Discard()).Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return client.New(srv.URL + "/"), st
}

func TestHealth(t *testing.T) {
	c, _ := setup(t)
	ok, msg := c.Health(context.Background())
	assert.True(t, ok)
	assert.Equal(t, "ok", msg)
}

func TestHealthUnreachable(t *testing.T) {
	c := client.New("http://127.0.0.1:1")
	ok, _ := c.Health(context.Background())
	assert.False(t, ok)
}

func TestSnapshotAndLoad(t *testing.T) {
	c, st := setup(t)
	ctx := context.Background()
	require.NoError(t, st.CreateCustomer(ctx, &store.Customer{FirstName: "Ana", Email: "ana@example.com"}))

	var buf bytes.Buffer
	require.NoError(t, c.Snapshot(ctx, &buf))
	assert.Contains(t, buf.String(), "ana@example.com")

	require.NoError(t, c.Reset(ctx))
	_, err := st.GetCustomerByEmail(ctx, "ana@example.com")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, c.LoadState(ctx, buf.Bytes()))
	_, err = st.GetCustomerByEmail(ctx, "ana@example.com")
	assert.NoError(t, err)

	assert.Error(t, c.LoadState(ctx, []byte("{nope")))
}

func TestAdvanceTime(t *testing.T) {
	c, st := setup(t)
	before := st.Clock().Now()
	sim, err := c.AdvanceTime(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	parsed, err := time.Parse(time.RFC3339, sim)
	require.NoError(t, err)
	assert.WithinDuration(t, before.Add(24*time.Hour), parsed, time.Minute)
}

func TestRunJobErrorMessage(t *testing.T) {
	c, _ := setup(t)
	_, err := c.RunJob(context.Background(), "expire-points")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
	assert.Contains(t, err.Error(), "job expire-points not found")
}
