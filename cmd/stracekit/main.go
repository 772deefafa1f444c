package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/stracekit/internal/combine"
	"github.com/ethpandaops/stracekit/internal/config"
	"github.com/ethpandaops/stracekit/internal/export"
	"github.com/ethpandaops/stracekit/internal/fcstat"
	"github.com/ethpandaops/stracekit/internal/migrate"
	"github.com/ethpandaops/stracekit/internal/version"
	"github.com/ethpandaops/stracekit/internal/zonecheck"
)

var (
	cfgFile  string
	logLevel string
)

var errZoneTransferFailed = errors.New("one or more zone transfer checks failed")

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stracekit [trace-file]",
		Short: "Reassemble interleaved strace output",
		Long: `stracekit joins the "<unfinished ...>" and "<... NAME resumed>" halves
of system calls that strace -f splits when processes interleave, so each
call reads as one line again. Input is the named file, or standard input
when no file (or "-") is given.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runCombine,
	}

	cmd.PersistentFlags().StringVar(
		&cfgFile, "config", "",
		"path to config file (optional)",
	)
	cmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "",
		"override log level (debug, info, warn, error)",
	)

	cmd.AddCommand(
		zonecheckCmd(),
		fcstatCmd(),
		migrateCmd(),
		versionCmd(),
	)

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.FullWithPlatform())
		},
	}
}

func zonecheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "zonecheck ZONEFILE...",
		Short: "Verify zone transfers from every configured master",
		Long: `zonecheck reads BIND zone stanzas, then attempts an AXFR of each zone
from each of its masters with dig, reporting the ones that fail.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf(
					"no zone files passed on the command line\nUsage: %s",
					cmd.UseLine(),
				)
			}

			return nil
		},
		RunE: runZonecheck,
	}
}

func fcstatCmd() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "fcstat",
		Short: "Display fibre channel HBA statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFCStat(cmd, count)
		},
	}

	cmd.Flags().IntVar(
		&count, "count", -1,
		"number of reports before exiting (0 runs until interrupted)",
	)

	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the ClickHouse schema used by the clickhouse sink",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd, func(ctx context.Context, m migrate.Migrator) error {
					return m.Up(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd, func(ctx context.Context, m migrate.Migrator) error {
					return m.Down(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd, func(ctx context.Context, m migrate.Migrator) error {
					v, dirty, err := m.Status(ctx)
					if err != nil {
						return err
					}

					fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t\n", v, dirty)

					return nil
				})
			},
		},
	)

	return cmd
}

// setup loads configuration and builds the logger shared by every
// command.
func setup() (*logrus.Logger, *config.Config, error) {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	// CLI flag overrides config file.
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing log level %q: %w", cfg.LogLevel, err)
	}

	log.SetLevel(level)

	return log, cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM. Once cancelled,
// default signal handling is restored so a second signal terminates
// a process blocked reading standard input.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)

	go func() {
		<-ctx.Done()
		stop()
	}()

	return ctx, stop
}

func runCombine(cmd *cobra.Command, args []string) error {
	log, cfg, err := setup()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	var path string
	if len(args) == 1 {
		path = args[0]
	}

	r, err := combine.New(log, cfg)
	if err != nil {
		return err
	}

	return r.Run(ctx, path, cmd.OutOrStdout())
}

func runZonecheck(cmd *cobra.Command, args []string) error {
	log, cfg, err := setup()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	health := export.NewHealthMetrics(log, cfg.Health)
	if err := health.Start(ctx); err != nil {
		return fmt.Errorf("starting health metrics: %w", err)
	}

	defer health.Stop()

	zones, err := zonecheck.ParseFiles(log, args)
	if err != nil {
		return err
	}

	checker := zonecheck.NewChecker(
		log,
		cfg.ZoneCheck,
		zonecheck.NewDigRunner(cfg.ZoneCheck),
		health,
	)

	results, err := checker.Check(ctx, zones, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	if zonecheck.AnyFailed(results) {
		return errZoneTransferFailed
	}

	return nil
}

func runFCStat(cmd *cobra.Command, count int) error {
	log, cfg, err := setup()
	if err != nil {
		return err
	}

	if count >= 0 {
		cfg.FCStat.Count = count
	}

	ctx, cancel := signalContext()
	defer cancel()

	health := export.NewHealthMetrics(log, cfg.Health)
	if err := health.Start(ctx); err != nil {
		return fmt.Errorf("starting health metrics: %w", err)
	}

	defer health.Stop()

	return fcstat.NewPoller(log, cfg.FCStat, health).Run(ctx, cmd.OutOrStdout())
}

func withMigrator(
	cmd *cobra.Command,
	fn func(ctx context.Context, m migrate.Migrator) error,
) error {
	log, cfg, err := setup()
	if err != nil {
		return err
	}

	ch := cfg.Sinks.ClickHouse
	if ch.Endpoint == "" {
		return errors.New("sinks.clickhouse.endpoint is required for migrations")
	}

	ctx, cancel := signalContext()
	defer cancel()

	return fn(ctx, migrate.New(log, ch.DSN()))
}
