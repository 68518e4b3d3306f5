// loyaltydesk is the loyalty program back office: the HTTP API server plus
// maintenance commands.
//
// Usage:
//
//	loyaltydesk serve                      Run the API server
//	loyaltydesk migrate up|down [steps]    Apply or roll back Postgres migrations
//	loyaltydesk migrate version            Show the current migration version
//	loyaltydesk seed [--demo]              Install roles, settings and the bootstrap admin
//	loyaltydesk import customers <file>    Import customers from CSV or XLSX
//	loyaltydesk export customers <file>    Export customers to CSV or XLSX
//	loyaltydesk admin <command> [--url]     Drive a running demo server's /admin endpoints
//	loyaltydesk version                    Print the version
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wondertwin-ai/loyaltydesk/internal/config"
	"github.com/wondertwin-ai/loyaltydesk/internal/logging"
	"github.com/wondertwin-ai/loyaltydesk/internal/seed"
	"github.com/wondertwin-ai/loyaltydesk/internal/store"
	"github.com/wondertwin-ai/loyaltydesk/internal/store/memory"
	"github.com/wondertwin-ai/loyaltydesk/internal/store/postgres"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "loyaltydesk",
		Short:         "Loyalty program back office",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default "+config.DefaultConfigFile+")")

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(seedCmd())
	root.AddCommand(importCmd())
	root.AddCommand(exportCmd())
	root.AddCommand(adminCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("loyaltydesk", version)
		},
	}
}

// loadConfig reads the config and builds the logger.
func loadConfig() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logging.New(cfg.Log.Level, cfg.Log.Format), nil
}

func seedOptions(cfg *config.Config, log *logrus.Logger) seed.Options {
	opts := seed.Options{
		AdminEmail:    cfg.Auth.BootstrapEmail,
		AdminPassword: cfg.Auth.BootstrapPassword,
		AdminName:     "Administrator",
		Log:           log,
	}
	if cfg.Demo && opts.AdminEmail == "" {
		opts.AdminEmail = seed.DemoAdminEmail
		opts.AdminPassword = seed.DemoAdminPassword
	}
	return opts
}

// openStore opens the configured backend and makes it usable: the memory
// store is seeded, Postgres is migrated when auto_migrate is set and gets
// the base seed.
func openStore(ctx context.Context, cfg *config.Config, log *logrus.Logger, clock *store.Clock) (store.Store, error) {
	opts := seedOptions(cfg, log)
	switch cfg.Database.Driver {
	case "postgres":
		db, err := postgres.Open(ctx, cfg.Database.DSN, cfg.Database.MaxOpenConns)
		if err != nil {
			return nil, err
		}
		if cfg.Database.AutoMigrate {
			if err := postgres.MigrateUp(db.DB); err != nil {
				db.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		st := postgres.New(db, clock)
		if err := seed.Base(ctx, st, opts); err != nil {
			st.Close()
			return nil, fmt.Errorf("seed: %w", err)
		}
		if cfg.Demo {
			if err := seed.Demo(ctx, st, clock, log); err != nil {
				st.Close()
				return nil, fmt.Errorf("demo seed: %w", err)
			}
		}
		log.WithField("driver", "postgres").Info("store ready")
		return st, nil
	default:
		st := memory.New(clock)
		st.SetSeeder(seed.Seeder(opts, cfg.Demo, log))
		if err := st.Reset(); err != nil {
			return nil, fmt.Errorf("seed: %w", err)
		}
		log.WithField("driver", "memory").WithField("demo", cfg.Demo).Info("store ready")
		return st, nil
	}
}
