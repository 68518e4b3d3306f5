package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wondertwin-ai/loyaltydesk/internal/admin"
	"github.com/wondertwin-ai/loyaltydesk/internal/api"
	"github.com/wondertwin-ai/loyaltydesk/internal/auth"
	"github.com/wondertwin-ai/loyaltydesk/internal/loyalty"
	"github.com/wondertwin-ai/loyaltydesk/internal/messaging"
	"github.com/wondertwin-ai/loyaltydesk/internal/scheduler"
	"github.com/wondertwin-ai/loyaltydesk/internal/server"
	"github.com/wondertwin-ai/loyaltydesk/internal/store"
	"github.com/wondertwin-ai/loyaltydesk/internal/store/memory"
)

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			clock := store.NewClock()
			st, err := openStore(ctx, cfg, log, clock)
			if err != nil {
				return err
			}
			defer st.Close()

			msg := messaging.NewService(st, messaging.Options{
				HTTPClient: &http.Client{Timeout: cfg.Messaging.HTTPTimeout},
				MaxRetries: cfg.Messaging.MaxRetries,
				RetryDelay: cfg.Messaging.RetryDelay,
				PublicURL:  cfg.Server.PublicURL,
				Clock:      clock,
				Logger:     log,
			})
			if n, err := msg.FailStuckCampaigns(ctx); err != nil {
				return fmt.Errorf("recover campaigns: %w", err)
			} else if n > 0 {
				log.WithField("campaigns", n).Warn("failed campaigns interrupted by the last shutdown")
			}
			svc := loyalty.NewService(st, msg, clock, log)

			sched := scheduler.New(log, 10*time.Minute)
			if err := scheduler.Register(sched, scheduler.Specs{
				Expiry:    cfg.Scheduler.ExpirySpec,
				Campaigns: cfg.Scheduler.CampaignSpec,
			}, svc, msg); err != nil {
				return err
			}
			if cfg.Scheduler.Enabled {
				sched.Start()
			}

			srv := server.New(cfg.Server, log)
			api.NewHandler(api.Options{
				Store:     st,
				Loyalty:   svc,
				Messaging: msg,
				Issuer:    auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Auth.Issuer, clock.Now),
				Limiter:   srv.Limiter,
				Clock:     clock,
				Log:       log,
				PublicURL: cfg.Server.PublicURL,
			}).Routes(srv.Router)
			if ms, ok := st.(*memory.Store); ok && cfg.Demo {
				admin.NewHandler(ms, srv.ReqLog, clock, sched, log).Routes(srv.Router)
				log.Warn("demo mode: /admin endpoints are mounted without authentication")
			}

			err = srv.Serve(ctx)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if cfg.Scheduler.Enabled {
				sched.Stop(shutdownCtx)
			}
			msg.Wait()
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	return cmd
}
