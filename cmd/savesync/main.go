package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/schaermu/savesync/internal/config"
	"github.com/schaermu/savesync/internal/present"
	"github.com/schaermu/savesync/internal/remote"
	"github.com/schaermu/savesync/internal/sync"
	"github.com/spf13/cobra"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
	filter    string

	// Sync command flags
	dryRun    bool
	assumeYes bool
	fromID    string
	toID      string
)

// errSyncFailed signals a completed run in which at least one game failed
var errSyncFailed = errors.New("some games failed to sync")

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "savesync",
	Short: "Synchronize game saves between handheld consoles",
	Long: `savesync keeps save data consistent between handheld consoles that expose
their save folders over FTP (or as a mounted directory).

For every game it compares the newest timestamped snapshot on each replica and
copies the newest one to the replicas that lack it or hold an older one.`,
	SilenceUsage: true,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Scan all replicas and copy the newest saves",
	Long: `Sync connects to every configured replica, builds a catalog of the newest
snapshot per game, shows the resulting plan and, once confirmed, copies each
snapshot folder to the replicas that need it.

Failures of single files or games do not stop the run. They are listed in the
final summary and make the command exit with a non-zero status.`,
	RunE: runSync,
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show what a sync would do without changing anything",
	RunE:  runPlan,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the newest snapshot of every game on every replica",
	RunE:  runList,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("savesync %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/savesync/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&filter, "filter", "", "only consider games whose name contains this text (case-insensitive)")

	// Sync command flags
	syncCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")
	syncCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "do not ask for confirmation")
	for _, cmd := range []*cobra.Command{syncCmd, planCmd} {
		cmd.Flags().StringVar(&fromID, "from", "", "only copy saves whose newest snapshot is on this replica")
		cmd.Flags().StringVar(&toID, "to", "", "copy to this replica instead of the planned targets")
	}

	// Add commands
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(versionCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger(cmd.ErrOrStderr())

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	names := present.NamesFromConfig(cfg)
	var presenter sync.Presenter = present.NewPrompt(cmd.InOrStdin(), cmd.OutOrStdout(), names)
	if assumeYes {
		presenter = sync.AutoConfirm{}
	}

	engine := newEngine(cfg, presenter, logger, sync.Options{DryRun: dryRun, From: fromID, To: toID})
	defer engine.Close()

	res, err := engine.Run(ctx)
	if err != nil {
		logger.Error("sync failed", "error", err)
		return err
	}

	if res.DryRun {
		present.RenderPlan(cmd.OutOrStdout(), res.Plan, names)
	}
	present.RenderSummary(cmd.OutOrStdout(), res, names)

	if res.Failed() {
		return errSyncFailed
	}
	return nil
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger(cmd.ErrOrStderr())

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	engine := newEngine(cfg, sync.AutoConfirm{}, logger, sync.Options{DryRun: true, From: fromID, To: toID})
	defer engine.Close()

	p, _, err := engine.Plan(ctx)
	if err != nil {
		logger.Error("planning failed", "error", err)
		return err
	}
	present.RenderPlan(cmd.OutOrStdout(), p, present.NamesFromConfig(cfg))
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger(cmd.ErrOrStderr())

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	engine := newEngine(cfg, sync.AutoConfirm{}, logger, sync.Options{DryRun: true})
	defer engine.Close()

	_, scans, err := engine.Scan(ctx)
	if err != nil {
		logger.Error("scan failed", "error", err)
		return err
	}
	present.RenderCatalog(cmd.OutOrStdout(), scans, present.NamesFromConfig(cfg))
	return nil
}

// newEngine wires the network dialer into a sync engine
func newEngine(cfg *config.Config, presenter sync.Presenter, logger *slog.Logger, opts sync.Options) *sync.Engine {
	dialer := remote.NewDialer(cfg.Transfer.DialTimeout, logger)
	return sync.NewEngine(cfg, dialer, presenter, logger, opts)
}

func setupLogger(w io.Writer) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Create handler based on format
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	// Determine config file path
	configPath := cfgFile
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		configPath = fmt.Sprintf("%s/.config/savesync/config.yaml", home)
	}

	logger.Info("loading configuration", "path", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if filter != "" {
		cfg.Sync.Filter = filter
	}

	logger.Debug("configuration loaded",
		"replicas", cfg.ReplicaIDs(),
		"save_root", cfg.Paths.SaveRoot,
		"staging_dir", cfg.Paths.StagingDir,
		"state_dir", cfg.Paths.StateDir,
		"target_policy", cfg.Sync.TargetPolicy)

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
