// Package api implements the loyaltydesk back-office REST API.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/wondertwin-ai/loyaltydesk/internal/auth"
	"github.com/wondertwin-ai/loyaltydesk/internal/loyalty"
	"github.com/wondertwin-ai/loyaltydesk/internal/messaging"
	"github.com/wondertwin-ai/loyaltydesk/internal/metrics"
	"github.com/wondertwin-ai/loyaltydesk/internal/server"
	"github.com/wondertwin-ai/loyaltydesk/internal/store"
)

// Options wires a Handler to its collaborators.
type Options struct {
	Store     store.Store
	Loyalty   *loyalty.Service
	Messaging *messaging.Service
	Issuer    *auth.Issuer
	Limiter   *server.RateLimiter
	Clock     *store.Clock
	Log       *logrus.Logger
	// PublicURL is the externally visible base URL, used to rebuild the
	// URL Twilio signed.
	PublicURL string
}

// Handler holds all API handler state.
type Handler struct {
	store     store.Store
	loyalty   *loyalty.Service
	messaging *messaging.Service
	issuer    *auth.Issuer
	limiter   *server.RateLimiter
	clock     *store.Clock
	log       *logrus.Logger
	publicURL string
}

// NewHandler creates a new API handler.
func NewHandler(opts Options) *Handler {
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	if opts.Clock == nil {
		opts.Clock = store.NewClock()
	}
	if opts.Limiter == nil {
		opts.Limiter = server.NewRateLimiter(0, 0)
	}
	return &Handler{
		store:     opts.Store,
		loyalty:   opts.Loyalty,
		messaging: opts.Messaging,
		issuer:    opts.Issuer,
		limiter:   opts.Limiter,
		clock:     opts.Clock,
		log:       opts.Log,
		publicURL: opts.PublicURL,
	}
}

// Routes mounts the API, webhook and metrics endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Post(messaging.TwilioStatusPath, h.TwilioStatus)
	r.Post("/webhooks/resend", h.ResendEvent)

	r.Route("/api", func(r chi.Router) {
		r.With(h.limiter.Handler, h.audit).Post("/auth/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authenticate)
			r.Use(h.limiter.Handler)
			r.Use(h.audit)

			r.Get("/me", h.Me)

			h.customerRoutes(r)
			h.catalogRoutes(r)
			h.redemptionRoutes(r)
			h.staffRoutes(r)
			h.settingsRoutes(r)
			h.messagingRoutes(r)
			h.dataRoutes(r)

			r.With(h.require(auth.PermReportsView)).Get("/reports/summary", h.ReportSummary)
			r.With(h.require(auth.PermReportsView)).Get("/reports/daily", h.ReportDaily)
		})
	})
}

func (h *Handler) customerRoutes(r chi.Router) {
	view := h.require(auth.PermCustomersView)
	manage := h.require(auth.PermCustomersManage)

	r.With(view).Get("/customers", h.ListCustomers)
	r.With(manage).Post("/customers", h.CreateCustomer)
	r.Route("/customers/{id}", func(r chi.Router) {
		r.With(view).Get("/", h.GetCustomer)
		r.With(manage).Put("/", h.UpdateCustomer)
		r.With(manage).Delete("/", h.DeleteCustomer)
		r.With(view).Get("/ledger", h.ListLedger)
		r.With(view).Get("/purchases", h.ListPurchases)
		r.With(manage).Post("/purchases", h.RecordPurchase)
		r.With(h.require(auth.PermPointsAdjust)).Post("/adjust", h.AdjustPoints)
		r.With(view).Get("/catalog", h.CustomerCatalog)
	})
}

func (h *Handler) catalogRoutes(r chi.Router) {
	products := h.require(auth.PermProductsManage)
	rewards := h.require(auth.PermRewardsManage)

	r.Get("/products", h.ListProducts)
	r.With(products).Post("/products", h.CreateProduct)
	r.Get("/products/{id}", h.GetProduct)
	r.With(products).Put("/products/{id}", h.UpdateProduct)
	r.With(products).Delete("/products/{id}", h.DeleteProduct)

	r.Get("/rewards", h.ListRewards)
	r.With(rewards).Post("/rewards", h.CreateReward)
	r.Get("/rewards/{id}", h.GetReward)
	r.With(rewards).Put("/rewards/{id}", h.UpdateReward)
	r.With(rewards).Delete("/rewards/{id}", h.DeleteReward)
}

func (h *Handler) redemptionRoutes(r chi.Router) {
	view := h.require(auth.PermRedemptionsView)
	manage := h.require(auth.PermRedemptionsManage)

	r.With(view).Get("/redemptions", h.ListRedemptions)
	r.With(manage).Post("/redemptions", h.CreateRedemption)
	r.With(view).Get("/redemptions/{id}", h.GetRedemption)
	r.With(manage).Post("/redemptions/{id}/verify", h.VerifyRedemption)
	r.With(manage).Post("/redemptions/{id}/resend-code", h.ResendRedemptionCode)
	r.With(manage).Put("/redemptions/{id}/delivery-status", h.UpdateDeliveryStatus)
	r.With(manage).Post("/redemptions/{id}/cancel", h.CancelRedemption)
}

func (h *Handler) staffRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.require(auth.PermStaffManage))

		r.Get("/staff", h.ListStaff)
		r.Post("/staff", h.CreateStaff)
		r.Get("/staff/{id}", h.GetStaff)
		r.Put("/staff/{id}", h.UpdateStaff)
		r.Delete("/staff/{id}", h.DeleteStaff)

		r.Get("/roles", h.ListRoles)
		r.Post("/roles", h.CreateRole)
		r.Get("/roles/{id}", h.GetRole)
		r.Put("/roles/{id}", h.UpdateRole)
		r.Delete("/roles/{id}", h.DeleteRole)
		r.Get("/permissions", h.ListPermissions)

		r.Get("/audit", h.ListAudit)
	})
}

func (h *Handler) settingsRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.require(auth.PermSettingsManage))

		r.Get("/settings/channels", h.ListChannelSettings)
		r.Get("/settings/channels/{channel}", h.GetChannelSettings)
		r.Put("/settings/channels/{channel}", h.UpdateChannelSettings)
		r.Post("/settings/channels/{channel}/test", h.TestSend)
		r.Get("/settings/program", h.GetProgramSettings)
		r.Put("/settings/program", h.UpdateProgramSettings)
	})
}

func (h *Handler) messagingRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.require(auth.PermMessagingSend))

		r.Get("/segments", h.ListSegments)
		r.Post("/segments", h.CreateSegment)
		r.Post("/segments/preview", h.PreviewCriteria)
		r.Get("/segments/{id}", h.GetSegment)
		r.Put("/segments/{id}", h.UpdateSegment)
		r.Delete("/segments/{id}", h.DeleteSegment)
		r.Get("/segments/{id}/preview", h.PreviewSegment)

		r.Get("/campaigns", h.ListCampaigns)
		r.Post("/campaigns", h.CreateCampaign)
		r.Get("/campaigns/{id}", h.GetCampaign)
		r.Put("/campaigns/{id}", h.UpdateCampaign)
		r.Delete("/campaigns/{id}", h.DeleteCampaign)
		r.Post("/campaigns/{id}/send", h.SendCampaign)
		r.Post("/campaigns/{id}/schedule", h.ScheduleCampaign)
		r.Post("/campaigns/{id}/cancel", h.CancelCampaign)

		r.Get("/notifications", h.ListNotifications)
		r.Get("/notifications/{id}", h.GetNotification)
	})
}

func (h *Handler) dataRoutes(r chi.Router) {
	r.With(h.require(auth.PermDataImport)).Post("/import/customers", h.ImportCustomers)

	r.Group(func(r chi.Router) {
		r.Use(h.require(auth.PermDataExport))
		r.Get("/export/customers", h.ExportCustomers)
		r.Get("/export/redemptions", h.ExportRedemptions)
		r.Get("/export/ledger", h.ExportLedger)
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	server.Error(w, r, h.log, err)
}
