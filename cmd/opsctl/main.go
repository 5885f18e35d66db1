package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/contractear/contractear-api/internal/bootstrap"
	"github.com/contractear/contractear-api/internal/config"
	"github.com/contractear/contractear-api/internal/database"
	"github.com/contractear/contractear-api/internal/logging"
	"github.com/contractear/contractear-api/internal/poller"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "opsctl",
		Short:   "Operator tooling for the ContractEar API",
		Version: Version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Setup(os.Getenv("LOG_LEVEL"))
		},
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(reclaimCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(stuckCmd())
	rootCmd.AddCommand(waitCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func migrateCmd() *cobra.Command {
	var status bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			db, err := database.Connect(cfg)
			if err != nil {
				return err
			}
			defer database.Close(db)

			if status {
				return database.MigrationStatus(cmd.Context(), db)
			}
			if err := database.Migrate(cmd.Context(), db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
	cmd.Flags().BoolVar(&status, "status", false, "print migration status instead of applying")
	return cmd
}

func reclaimCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reclaim",
		Short: "Run one recovery sweep over stranded paid and processing records",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			c, err := bootstrap.Build(ctx, config.Load())
			if err != nil {
				return err
			}
			defer database.Close(c.DB)
			report, err := c.Sweeper.Sweep(ctx)
			if err != nil {
				return err
			}

			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			if err := c.Close(drainCtx); err != nil {
				return err
			}

			out, _ := json.MarshalIndent(report, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume analysis jobs from SQS until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			c, err := bootstrap.Build(ctx, config.Load())
			if err != nil {
				return err
			}
			defer database.Close(c.DB)
			consumer, err := c.Consumer()
			if err != nil {
				return err
			}
			return consumer.Run(ctx)
		},
	}
}

func stuckCmd() *cobra.Command {
	var olderThan time.Duration
	var limit int
	cmd := &cobra.Command{
		Use:   "stuck",
		Short: "List non-terminal analyses older than a cutoff",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := bootstrap.Build(cmd.Context(), config.Load())
			if err != nil {
				return err
			}
			defer database.Close(c.DB)
			now := time.Now().UTC()
			list, err := c.Store.ListNonTerminal(cmd.Context(), now.Add(-olderThan), limit)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no stuck analyses")
				return nil
			}
			headers, rows, aligns := stuckTable(list, now)
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(headers, rows, aligns))
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*time.Minute, "minimum time since last update")
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "maximum rows")
	return cmd
}

func waitCmd() *cobra.Command {
	var apiURL, token string
	var skipConfirm bool
	cmd := &cobra.Command{
		Use:   "wait <analysis-id>",
		Short: "Confirm payment for an analysis and wait for it to finish",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid analysis id: %w", err)
			}
			if token == "" {
				token = os.Getenv("OPSCTL_TOKEN")
			}

			ctx, stop := signalContext()
			defer stop()

			p := poller.New(apiURL, token)
			wait := p.ConfirmAndWait
			if skipConfirm {
				wait = p.Wait
			}
			view, err := wait(ctx, id)
			if err != nil {
				return err
			}

			out, _ := json.MarshalIndent(view, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&apiURL, "api", "http://localhost:8080", "API base URL")
	cmd.Flags().StringVar(&token, "token", "", "bearer token (default $OPSCTL_TOKEN)")
	cmd.Flags().BoolVar(&skipConfirm, "no-confirm", false, "only poll status")
	return cmd
}
