// Package admin provides the /admin/* control plane used in demo mode and
// in tests: state snapshots, reset, simulated time, request inspection and
// on-demand job runs.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/wondertwin-ai/loyaltydesk/internal/apperr"
	"github.com/wondertwin-ai/loyaltydesk/internal/scheduler"
	"github.com/wondertwin-ai/loyaltydesk/internal/server"
	"github.com/wondertwin-ai/loyaltydesk/internal/store"
)

// StateStore is implemented by stores that support admin state management.
type StateStore interface {
	// Snapshot returns the full state as a JSON-serializable value.
	Snapshot() any
	// LoadState replaces the full state from a JSON body.
	LoadState(data []byte) error
	// Reset clears all state and reloads seed data.
	Reset() error
	Ping(ctx context.Context) error
}

// JobRunner runs a named background job immediately.
type JobRunner interface {
	Run(ctx context.Context, name string) (logrus.Fields, error)
	Names() []string
}

// Handler provides the admin endpoints.
type Handler struct {
	state  StateStore
	reqLog *server.RequestLog
	clock  *store.Clock
	jobs   JobRunner
	log    *logrus.Logger
}

// NewHandler creates an admin handler. reqLog, clock and jobs may be nil.
func NewHandler(state StateStore, reqLog *server.RequestLog, clock *store.Clock, jobs JobRunner, log *logrus.Logger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{state: state, reqLog: reqLog, clock: clock, jobs: jobs, log: log}
}

// Routes mounts the admin endpoints on the given router.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Post("/reset", h.handleReset)
		r.Get("/state", h.handleGetState)
		r.Post("/state", h.handleLoadState)
		r.Get("/requests", h.handleGetRequests)
		r.Delete("/requests", h.handleClearRequests)
		r.Post("/time/advance", h.handleTimeAdvance)
		r.Get("/time", h.handleGetTime)
		r.Get("/jobs", h.handleListJobs)
		r.Post("/jobs/{name}", h.handleRunJob)
		r.Get("/health", h.handleHealth)
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	server.Error(w, r, h.log, err)
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := h.state.Reset(); err != nil {
		h.fail(w, r, apperr.New(http.StatusInternalServerError, "reset_failed", "failed to reset state: "+err.Error()))
		return
	}
	if h.reqLog != nil {
		h.reqLog.Clear()
	}
	h.log.Info("state reset")
	server.JSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) handleGetState(w http.ResponseWriter, r *http.Request) {
	server.JSON(w, http.StatusOK, h.state.Snapshot())
}

func (h *Handler) handleLoadState(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 64<<20))
	if err != nil {
		h.fail(w, r, apperr.BadRequest("failed to read body: "+err.Error()))
		return
	}
	if err := h.state.LoadState(body); err != nil {
		h.fail(w, r, apperr.BadRequest("failed to load state: "+err.Error()))
		return
	}
	server.JSON(w, http.StatusOK, map[string]string{"status": "loaded"})
}

func (h *Handler) handleGetRequests(w http.ResponseWriter, r *http.Request) {
	if h.reqLog == nil {
		server.JSON(w, http.StatusOK, []server.RequestLogEntry{})
		return
	}
	server.JSON(w, http.StatusOK, h.reqLog.Entries())
}

func (h *Handler) handleClearRequests(w http.ResponseWriter, r *http.Request) {
	if h.reqLog != nil {
		h.reqLog.Clear()
	}
	server.NoContent(w)
}

func (h *Handler) handleTimeAdvance(w http.ResponseWriter, r *http.Request) {
	if h.clock == nil {
		h.fail(w, r, apperr.BadRequest("simulated clock not configured"))
		return
	}

	var req struct {
		Duration string `json:"duration"` // Go duration string, e.g. "24h", "30m"
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, r, apperr.BadRequest("invalid request: "+err.Error()))
		return
	}
	d, err := time.ParseDuration(req.Duration)
	if err != nil {
		h.fail(w, r, apperr.BadRequest("invalid duration: "+err.Error()))
		return
	}
	if d < 0 {
		h.fail(w, r, apperr.BadRequest("duration must not be negative"))
		return
	}

	h.clock.Advance(d)
	h.log.WithField("offset", h.clock.Offset().String()).Info("clock advanced")
	server.JSON(w, http.StatusOK, map[string]any{
		"status":    "advanced",
		"duration":  d.String(),
		"offset":    h.clock.Offset().String(),
		"simulated": h.clock.Now().Format(time.RFC3339),
	})
}

func (h *Handler) handleGetTime(w http.ResponseWriter, r *http.Request) {
	if h.clock == nil {
		server.JSON(w, http.StatusOK, map[string]any{
			"real": time.Now().Format(time.RFC3339),
		})
		return
	}
	server.JSON(w, http.StatusOK, map[string]any{
		"real":      time.Now().Format(time.RFC3339),
		"simulated": h.clock.Now().Format(time.RFC3339),
		"offset":    h.clock.Offset().String(),
	})
}

func (h *Handler) handleListJobs(w http.ResponseWriter, r *http.Request) {
	names := []string{}
	if h.jobs != nil {
		names = h.jobs.Names()
	}
	server.JSON(w, http.StatusOK, map[string]any{"jobs": names})
}

func (h *Handler) handleRunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if h.jobs == nil {
		h.fail(w, r, apperr.NotFound("job "+name))
		return
	}
	fields, err := h.jobs.Run(r.Context(), name)
	if errors.Is(err, scheduler.ErrUnknownJob) {
		h.fail(w, r, apperr.NotFound("job "+name))
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if fields == nil {
		fields = logrus.Fields{}
	}
	server.JSON(w, http.StatusOK, map[string]any{
		"status": "ran",
		"job":    name,
		"result": fields,
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.state.Ping(r.Context()); err != nil {
		h.log.WithError(err).Warn("health check failed")
		server.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	server.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
