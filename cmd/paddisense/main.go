package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/PKmac78/paddisense-hacs/internal/catalog"
	"github.com/PKmac78/paddisense-hacs/internal/config"
	"github.com/PKmac78/paddisense-hacs/internal/engine"
	"github.com/PKmac78/paddisense-hacs/internal/logging"
)

var (
	// Global flags
	verbose    bool
	configPath string

	// Set up by PersistentPreRunE
	cfg    *config.Config
	logger *zap.Logger
)

// errFailures is returned when a command ran to completion but some module
// or check failed, so the process exits non-zero.
var errFailures = errors.New("completed with failures")

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "paddisense",
	Short: "Activate PaddiSense modules into Home Assistant",
	Long: `paddisense validates module package manifests, links them into the shared
packages directory, registers each module's dashboard, and verifies the
installed state.

Paths default to a Home Assistant layout rooted at /config and can be changed
in the config file or with PADDISENSE_* environment variables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		logger, err = logging.New(logging.Options{
			Level:   cfg.Logging.Level,
			Format:  cfg.Logging.Format,
			File:    cfg.Logging.File,
			Verbose: verbose,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logging.Named(logger, logging.CategoryBoot).Debug("config loaded",
			zap.String("path", configPath),
			zap.String("config_dir", cfg.Paths.ConfigDir),
			zap.String("link_mode", cfg.Activation.LinkMode))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "paddisense.yaml", "Config file (missing file uses defaults)")

	activateCmd.Flags().BoolVar(&allModules, "all", false, "Activate every known module")
	validateCmd.Flags().BoolVar(&allModules, "all", false, "Validate every known module (default when no ids are given)")

	rootCmd.AddCommand(activateCmd)
	rootCmd.AddCommand(deactivateCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(listCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errFailures) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

// commandContext is cancelled on SIGINT or SIGTERM.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func buildEngine() (*engine.Engine, error) {
	return engine.FromConfig(cfg, logger)
}

// knownModules lists the catalog's modules, or the discovered module
// directories when the catalog is empty.
func knownModules(e *engine.Engine) ([]string, error) {
	if ids := e.Catalog().IDs(); len(ids) > 0 {
		return ids, nil
	}
	ids, err := catalog.Discover(cfg.ModuleRoot())
	if err != nil && os.IsNotExist(errors.Unwrap(err)) {
		return nil, nil
	}
	return ids, err
}

// writeMetrics flushes the engine metrics when a textfile is configured.
func writeMetrics(e *engine.Engine) {
	if cfg.Metrics.Textfile == "" || e.Metrics() == nil {
		return
	}
	if err := e.Metrics().WriteTextfile(cfg.Metrics.Textfile); err != nil {
		logger.Warn("failed to write metrics", zap.String("path", cfg.Metrics.Textfile), zap.Error(err))
	}
}
