package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"rendezvous/internal/app"
	"rendezvous/internal/config"
	"rendezvous/internal/pairing"
	pkgdatabase "rendezvous/pkg/database"
)

// cliOptions holds the global flags shared by every subcommand
type cliOptions struct {
	configPath string
	logFormat  string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Running the root command without a
// subcommand starts the server.
func newRootCmd() *cobra.Command {
	opts := &cliOptions{
		configPath: os.Getenv("RENDEZVOUS_CONFIG_FILE"),
		logFormat:  "json",
		logLevel:   "info",
	}

	rootCmd := &cobra.Command{
		Use:   "rendezvous",
		Short: "Real-time core for the location-based scavenger hunt",
		Long: `rendezvous serves peer pairing, two-player game channels and
login handoff over HTTP and WebSocket.

Configuration is layered: defaults, then RENDEZVOUS_* environment
variables, then the JSON file given by --config.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", opts.configPath, "JSON config file (env: RENDEZVOUS_CONFIG_FILE)")
	rootCmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", opts.logFormat, "Log format: text, json")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", opts.logLevel, "Log level: debug, info, warn, error")

	rootCmd.AddCommand(newServeCmd(opts))
	rootCmd.AddCommand(newKeygenCmd())
	rootCmd.AddCommand(newMigrateCmd(opts))
	rootCmd.AddCommand(newPlayerCmd(opts))

	return rootCmd
}

func newServeCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}
}

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Print a new base64 pairing token key",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := pairing.GenerateKey()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), key)
			return err
		},
	}
}

func newMigrateCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfigWithPrecedence(opts.configPath)
			if err != nil {
				return err
			}

			dbConfig := pkgdatabase.DefaultConfig()
			dbConfig.DatabasePath = cfg.Database.Path
			db, err := pkgdatabase.Open(dbConfig)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			applied, err := pkgdatabase.NewMigrationManager(db, nil).ApplyMigrations()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", applied)
			return err
		},
	}
}

// runServe loads configuration, starts the application and blocks until
// SIGINT or SIGTERM, then shuts down within the configured timeout
func runServe(cmd *cobra.Command, opts *cliOptions) error {
	logger, err := newLogger(cmd.ErrOrStderr(), opts.logFormat, opts.logLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	cfg, err := config.LoadConfigWithPrecedence(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	application, err := app.NewApplication(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}
	logger.Info("server listening", slog.String("addr", application.Addr()))

	<-ctx.Done()
	logger.Info("shutting down gracefully")

	// The signal context is already cancelled; shutdown gets a fresh deadline
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return application.Stop(shutdownCtx)
}

// newLogger builds the process logger from the --log-format and --log-level flags
func newLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	handlerOpts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "text", "":
		return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	default:
		return nil, errors.New("log format must be text or json")
	}
}
