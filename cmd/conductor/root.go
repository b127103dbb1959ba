package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/conductor/orchestrator"
	"github.com/xraph/conductor/store"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// app holds what every subcommand needs once flags are parsed.
type app struct {
	configPath string
	cfg        fileConfig
	logger     *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "conductor",
		Short:         "Job orchestration service for polling agents",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.load(cmd.ErrOrStderr())
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", os.Getenv("CONDUCTOR_CONFIG"),
		"path to the YAML config file (env CONDUCTOR_CONFIG)")

	root.AddCommand(
		newServeCmd(a),
		newMigrateCmd(a),
		newSweepCmd(a),
		newDLQCmd(a),
		newVersionCmd(),
	)
	return root
}

func (a *app) load(logOut io.Writer) error {
	cfg, err := loadConfig(a.configPath, os.LookupEnv)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Log, logOut)
	if err != nil {
		return err
	}
	a.cfg, a.logger = cfg, logger
	return nil
}

// withStore opens the configured store, runs fn and closes it.
func (a *app) withStore(ctx context.Context, fn func(store.Store) error) error {
	st, err := openStore(ctx, a.cfg.Store, a.logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			a.logger.Warn("close store", slog.String("error", cerr.Error()))
		}
	}()
	return fn(st)
}

func (a *app) service(st store.Store, opts ...orchestrator.Option) *orchestrator.Service {
	base := []orchestrator.Option{
		orchestrator.WithConfig(a.cfg.Conductor),
		orchestrator.WithLogger(a.logger),
	}
	return orchestrator.New(st, append(base, opts...)...)
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return a.withStore(ctx, func(st store.Store) error {
				if err := st.Migrate(ctx); err != nil {
					return err
				}
				a.logger.Info("migrations applied", slog.String("driver", a.cfg.Store.Driver))
				return nil
			})
		},
	}
}

func newSweepCmd(a *app) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Mark silent agents offline and release their jobs once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return a.withStore(ctx, func(st store.Store) error {
				res, err := a.service(st).CheckStaleAgents(ctx, nil, timeout)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "stale timeout (default: conductor.stale_agent_timeout)")
	return cmd
}

func newDLQCmd(a *app) *cobra.Command {
	dlqCmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and maintain the dead letter queue",
	}

	var olderThan time.Duration
	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete dead letters older than --older-than",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return a.withStore(ctx, func(st store.Store) error {
				before := time.Now().UTC().Add(-olderThan)
				n, err := a.service(st).PurgeDeadLetters(ctx, nil, before)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{"purged": n, "before": before})
			})
		},
	}
	purge.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "minimum age of purged entries")

	count := &cobra.Command{
		Use:   "count",
		Short: "Print the number of dead letters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(cmd.Context(), func(st store.Store) error {
				n, err := a.service(st).CountDeadLetters(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]int64{"count": n})
			})
		},
	}

	dlqCmd.AddCommand(purge, count)
	return dlqCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
