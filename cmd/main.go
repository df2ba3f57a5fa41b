package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:           "standings",
		Short:         "Reconcile a remote ranking listing into persisted standings",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cfgFile != "" {
				return os.Setenv("STANDINGS_CONFIG", cfgFile)
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (default: $STANDINGS_CONFIG)")

	root.AddCommand(serveCmd())
	root.AddCommand(reconcileCmd())
	root.AddCommand(regionsCmd())
	root.AddCommand(fakeSourceCmd())

	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, the pass worker and the scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation pass and print its report as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func regionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "regions",
		Short: "Inspect and maintain per-region inactivity counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRegionsList(cmd.Context(), cmd.OutOrStdout())
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "reset-window",
		Short: "Zero the recent inactivity counter of every region",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRegionsReset(cmd.Context(), cmd.OutOrStdout())
		},
	})
	return cmd
}

func fakeSourceCmd() *cobra.Command {
	var opts fakeSourceOptions

	cmd := &cobra.Command{
		Use:   "fake-source",
		Short: "Serve a simulated ranking API for local runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFakeSource(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", ":9090", "listen address")
	cmd.Flags().IntVar(&opts.entities, "entities", 1000, "initial number of entities")
	cmd.Flags().IntVar(&opts.pageSize, "page-size", 100, "entities per page")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 0, "generator seed (0: random)")
	cmd.Flags().DurationVar(&opts.churnEvery, "churn-every", 0, "advance the listing on this interval (0: never)")
	cmd.Flags().StringVar(&opts.clientID, "client-id", "standings", "accepted client id")
	cmd.Flags().StringVar(&opts.clientSecret, "client-secret", "standings-secret", "accepted client secret")
	return cmd
}
