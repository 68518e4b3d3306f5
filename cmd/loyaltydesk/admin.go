package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/wondertwin-ai/loyaltydesk/internal/client"
)

func adminCmd() *cobra.Command {
	var baseURL string
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Control a running demo server through /admin",
		Long: `Drive the /admin endpoints of a server started with demo mode and the
memory driver.

Examples:
  loyaltydesk admin health
  loyaltydesk admin reset
  loyaltydesk admin state save snapshot.json
  loyaltydesk admin time advance 720h
  loyaltydesk admin jobs run expire-points`,
	}
	cmd.PersistentFlags().StringVar(&baseURL, "url", "http://localhost:8080", "server base URL")
	newClient := func() *client.AdminClient { return client.New(baseURL) }

	cmd.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Check that the server and its store are up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, msg := newClient().Health(cmd.Context())
			if !ok {
				return fmt.Errorf("unhealthy: %s", msg)
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Clear all state and reload the seed data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "reset")
			return nil
		},
	})

	state := &cobra.Command{Use: "state", Short: "Save or load full state snapshots"}
	state.AddCommand(&cobra.Command{
		Use:   "save <file>",
		Short: "Write the current state to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			if err := newClient().Snapshot(cmd.Context(), f); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		},
	})
	state.AddCommand(&cobra.Command{
		Use:   "load <file>",
		Short: "Replace the server state with a saved snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if err := newClient().LoadState(cmd.Context(), data); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "loaded %s\n", args[0])
			return nil
		},
	})
	cmd.AddCommand(state)

	timeCmd := &cobra.Command{Use: "time", Short: "Manage the simulated clock"}
	timeCmd.AddCommand(&cobra.Command{
		Use:   "advance <duration>",
		Short: "Move the simulated clock forward, e.g. 24h",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := time.ParseDuration(args[0])
			if err != nil {
				return fmt.Errorf("invalid duration %q: %w", args[0], err)
			}
			sim, err := newClient().AdvanceTime(cmd.Context(), d)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "simulated time %s\n", sim)
			return nil
		},
	})
	cmd.AddCommand(timeCmd)

	jobs := &cobra.Command{Use: "jobs", Short: "Run background jobs on demand"}
	jobs.AddCommand(&cobra.Command{
		Use:   "run <name>",
		Short: "Run a job now (expire-points, campaigns)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := newClient().RunJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res)
			return nil
		},
	})
	cmd.AddCommand(jobs)
	return cmd
}
