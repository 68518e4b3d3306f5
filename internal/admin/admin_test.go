package admin_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wondertwin-ai/loyaltydesk/internal/admin"
	"github.com/wondertwin-ai/loyaltydesk/internal/logging"
	"github.com/wondertwin-ai/loyaltydesk/internal/scheduler"
	"github.com/wondertwin-ai/loyaltydesk/internal/server"
	"github.com/wondertwin-ai/loyaltydesk/internal/store"
	"github.com/wondertwin-ai/loyaltydesk/internal/store/memory"
	"github.com/wondertwin-ai/loyaltydesk/internal/testutil"
)

type fakeJobs struct{ ran []string }

func (f *fakeJobs) Names() []string { return []string{"expire-points"} }

func (f *fakeJobs) Run(ctx context.Context, name string) (logrus.Fields, error) {
	if name != "expire-points" {
		return nil, scheduler.ErrUnknownJob
	}
	f.ran = append(f.ran, name)
	return logrus.Fields{"expired": 3}, nil
}

type downStore struct{ *memory.Store }

func (downStore) Ping(ctx context.Context) error { return errors.New("connection refused") }

func setup(t *testing.T, state admin.StateStore, jobs admin.JobRunner) (*testutil.AdminClient, *store.Clock, *server.RequestLog) {
	t.Helper()
	clock := store.NewClock()
	reqLog := server.NewRequestLog(10)
	r := chi.NewRouter()
	r.Use(server.Logging(reqLog, logging.Discard()))
	admin.NewHandler(state, reqLog, clock, jobs, logging.Discard()).Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return testutil.NewAdminClient(testutil.NewClient(t, srv)), clock, reqLog
}

func TestResetRerunsSeeder(t *testing.T) {
	st := memory.New(store.NewClock())
	seeded := 0
	st.SetSeeder(func(ctx context.Context, s store.Store) error {
		seeded++
		return nil
	})
	ac, _, reqLog := setup(t, st, nil)

	ac.Get("/admin/health").AssertStatus(http.StatusOK)
	ac.Reset().AssertStatus(http.StatusOK)
	assert.Equal(t, 1, seeded)
	assert.Empty(t, reqLog.Entries())
}

func TestResetReportsSeederFailure(t *testing.T) {
	st := memory.New(store.NewClock())
	st.SetSeeder(func(ctx context.Context, s store.Store) error {
		return errors.New("admin password too short")
	})
	ac, _, _ := setup(t, st, nil)

	resp := ac.Reset()
	resp.AssertStatus(http.StatusInternalServerError)
	assert.Equal(t, "reset_failed", resp.ErrorCode())
	assert.Contains(t, resp.Field("error.message").String(), "admin password too short")
}

func TestTimeAdvance(t *testing.T) {
	ac, clock, _ := setup(t, memory.New(store.NewClock()), nil)

	resp := ac.AdvanceTime("90m")
	resp.AssertStatus(http.StatusOK)
	assert.Equal(t, "1h30m0s", resp.JSONMap()["offset"])
	assert.Equal(t, "1h30m0s", clock.Offset().String())

	ac.AdvanceTime("-1h").AssertStatus(http.StatusBadRequest)
	ac.AdvanceTime("tomorrow").AssertStatus(http.StatusBadRequest)

	got := ac.Get("/admin/time").JSONMap()
	assert.Contains(t, got, "simulated")
}

func TestRunJob(t *testing.T) {
	jobs := &fakeJobs{}
	ac, _, _ := setup(t, memory.New(store.NewClock()), jobs)

	resp := ac.RunJob("expire-points")
	resp.AssertStatus(http.StatusOK)
	assert.EqualValues(t, 3, resp.JSONMap()["result"].(map[string]any)["expired"])
	assert.Equal(t, []string{"expire-points"}, jobs.ran)

	ac.RunJob("missing").AssertStatus(http.StatusNotFound)
	resp = ac.Get("/admin/jobs")
	resp.AssertStatus(http.StatusOK)
	resp.AssertBodyContains("expire-points")
}

func TestRunJobWithoutScheduler(t *testing.T) {
	ac, _, _ := setup(t, memory.New(store.NewClock()), nil)
	ac.RunJob("expire-points").AssertStatus(http.StatusNotFound)
}

func TestLoadStateRejectsGarbage(t *testing.T) {
	ac, _, _ := setup(t, memory.New(store.NewClock()), nil)
	ac.PostRaw("/admin/state", "application/json", []byte("{not json"), nil).AssertStatus(http.StatusBadRequest)
}

func TestRequestsLog(t *testing.T) {
	ac, _, reqLog := setup(t, memory.New(store.NewClock()), nil)
	ac.Health()
	require.NotEmpty(t, reqLog.Entries())

	ac.GetRequests().AssertStatus(http.StatusOK).AssertBodyContains("/admin/health")
	ac.Delete("/admin/requests").AssertStatus(http.StatusNoContent)
	assert.Empty(t, reqLog.Entries())
}

func TestHealthReportsStoreFailure(t *testing.T) {
	ac, _, _ := setup(t, downStore{memory.New(store.NewClock())}, nil)
	ac.Health().AssertStatus(http.StatusServiceUnavailable)
}
