package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/wondertwin-ai/loyaltydesk/internal/dataio"
	"github.com/wondertwin-ai/loyaltydesk/internal/seed"
	"github.com/wondertwin-ai/loyaltydesk/internal/store"
	"github.com/wondertwin-ai/loyaltydesk/internal/store/postgres"
)

// withDB opens the configured Postgres database for maintenance commands.
func withDB(cmd *cobra.Command, fn func(db *sqlx.DB) error) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Database.Driver != "postgres" {
		return fmt.Errorf("%s needs the postgres driver, configured driver is %q", cmd.CommandPath(), cfg.Database.Driver)
	}
	db, err := postgres.Open(cmd.Context(), cfg.Database.DSN, cfg.Database.MaxOpenConns)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}

// withStore opens the configured store for a one-shot command.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, st store.Store) error) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Database.Driver == "memory" {
		log.Warn("memory driver: changes are discarded when the command exits")
	}
	ctx := cmd.Context()
	st, err := openStore(ctx, cfg, log, store.NewClock())
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(ctx, st)
}

func seedCmd() *cobra.Command {
	var demo bool
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Install built-in roles, default settings and the bootstrap admin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if demo {
				cfg.Demo = true
			}
			// openStore seeds as part of opening.
			st, err := openStore(cmd.Context(), cfg, log, store.NewClock())
			if err != nil {
				return err
			}
			if err := st.Close(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "seed complete")
			if demo {
				fmt.Fprintf(cmd.OutOrStdout(), "demo login: %s / %s\n", seed.DemoAdminEmail, seed.DemoAdminPassword)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&demo, "demo", false, "also load the demo data set")
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import data from files",
	}
	var dryRun bool
	customers := &cobra.Command{
		Use:   "customers <file>",
		Short: "Import customers from a CSV or XLSX file",
		Long: `Import customers from a CSV or XLSX file with a header row.

Rows whose email matches an existing customer update that customer; all
other rows create new customers. Point balances are never imported.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := dataio.FormatFromName(args[0])
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return withStore(cmd, func(ctx context.Context, st store.Store) error {
				res, err := dataio.ImportCustomers(ctx, st, f, format, dataio.ImportOptions{DryRun: dryRun})
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			})
		},
	}
	customers.Flags().BoolVar(&dryRun, "dry-run", false, "validate and count without writing")
	cmd.AddCommand(customers)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export data to files",
	}
	var status, tier, city string
	customers := &cobra.Command{
		Use:   "customers <file>",
		Short: "Export customers to a CSV or XLSX file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := dataio.FormatFromName(args[0])
			if err != nil {
				return err
			}
			p := store.ListParams{Filters: map[string]string{}}
			for k, v := range map[string]string{"status": status, "tier": tier, "city": city} {
				if v != "" {
					p.Filters[k] = v
				}
			}
			p = p.Normalize()
			return withStore(cmd, func(ctx context.Context, st store.Store) error {
				f, err := os.Create(args[0])
				if err != nil {
					return err
				}
				if err := dataio.ExportCustomers(ctx, st, f, format, p); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[0])
				return nil
			})
		},
	}
	customers.Flags().StringVar(&status, "status", "", "only customers with this status")
	customers.Flags().StringVar(&tier, "tier", "", "only customers in this tier")
	customers.Flags().StringVar(&city, "city", "", "only customers in this city")
	cmd.AddCommand(customers)
	return cmd
}
