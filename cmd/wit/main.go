package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"witlab/internal/config"
	"witlab/internal/logging"
)

var (
	// Global flags
	verbose    bool
	workspace  string
	configPath string
	timeout    time.Duration

	// Set by PersistentPreRunE
	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "wit",
	Short: "WIT - perovskite laboratory assistant",
	Long: `WIT is a laboratory assistant for perovskite solar-cell research.

It recommends fabrication formulas, predicts PCE/FF/Voc/Jsc through the remote
prediction service, navigates experiment folders, and extracts metrics from
IV and in-situ instrument files.

Run without arguments to start the interactive chat interface.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInteractiveChat(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: <workspace>/.wit/config.yaml)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Minute, "Operation timeout")

	rootCmd.AddCommand(runCmd, suggestCmd)
	rootCmd.AddCommand(predictCmd, generateCmd, dpoCmd)
	rootCmd.AddCommand(ivCmd, insituCmd, watchCmd)
	rootCmd.AddCommand(lsCmd, pathCmd, historyCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup resolves the workspace, loads configuration and starts logging.
func setup(cmd *cobra.Command, args []string) error {
	ws, err := resolveWorkspace()
	if err != nil {
		return err
	}
	workspace = ws

	loaded, err := config.Load(resolveConfigPath())
	if err != nil {
		return err
	}
	loaded.ResolvePaths(workspace)
	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	cfg = loaded

	if err := logging.Initialize(workspace, logging.Options{
		DebugMode:  cfg.Logging.DebugMode,
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Categories: cfg.Logging.Categories,
	}); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	if cfg.Logging.DebugMode {
		if err := logging.InitAudit(); err != nil {
			logging.BootError("audit log unavailable: %v", err)
		}
	}

	// The chat UI owns the terminal.
	if !cmd.HasParent() {
		logger = zap.NewNop()
		return nil
	}
	zc := zap.NewProductionConfig()
	if verbose {
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err = zc.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

func resolveWorkspace() (string, error) {
	if workspace != "" {
		return filepath.Abs(workspace)
	}
	return os.Getwd()
}

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return filepath.Join(workspace, ".wit", "config.yaml")
}

// commandContext bounds a command by --timeout and cancels it on SIGINT/SIGTERM.
func commandContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	return ctx, func() {
		stop()
		cancel()
	}
}

func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}
