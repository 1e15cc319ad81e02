package main

import (
	"fmt"
	"os"

	"github.com/open-edge-platform/apex-catalog/internal/config"
	"github.com/open-edge-platform/apex-catalog/internal/utils/logger"
	"github.com/spf13/cobra"
)

// Global command flags
var (
	configFile string
	logLevel   string
	verbose    bool

	// globalConfig is loaded by the logging hook before any subcommand runs.
	globalConfig *config.GlobalConfig
)

func main() {
	if err := createRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// createRootCommand creates the root command with all subcommands attached
func createRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "apex-catalog",
		Short: "Inspect and manage the APEX package catalog",
		Long: `apex-catalog scans the pre-installed, block device and data
locations for APEX packages, selects the versions to activate and manages
the decompression cache for compressed packages.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"Path to the global configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level: debug, info, warn or error (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable verbose output (same as --log-level debug)")

	rootCmd.AddCommand(createScanCommand())
	rootCmd.AddCommand(createSelectCommand())
	rootCmd.AddCommand(createDecompressCommand())
	rootCmd.AddCommand(createReserveCommand())
	rootCmd.AddCommand(createPayloadCommand())
	rootCmd.AddCommand(createValidateCommand())
	rootCmd.AddCommand(createCompressCommand())

	attachLoggingHooks(rootCmd)
	return rootCmd
}

// attachLoggingHooks installs the config and logger setup on every
// subcommand, nested ones included.
func attachLoggingHooks(cmd *cobra.Command) {
	for _, sub := range cmd.Commands() {
		sub.PersistentPreRunE = setupCommand
		attachLoggingHooks(sub)
	}
}

func setupCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadGlobalConfig()
	if err != nil {
		return err
	}
	globalConfig = cfg

	level := resolveRequestedLogLevel(cmd)
	if level == "" {
		level = cfg.Logging.Level
	}
	z, err := logger.Setup(level)
	if err != nil {
		return fmt.Errorf("logger setup failed: %v", err)
	}
	logger.Init(z)
	return nil
}

func loadGlobalConfig() (*config.GlobalConfig, error) {
	cfg, err := config.LoadGlobalConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("loading configuration failed: %v", err)
	}
	return cfg, nil
}

// resolveRequestedLogLevel returns the level requested on the command line,
// or "" when the configured level should be used.
func resolveRequestedLogLevel(cmd *cobra.Command) string {
	if logLevel != "" {
		return logLevel
	}
	if cmd == nil {
		return ""
	}
	if v, err := cmd.Flags().GetBool("verbose"); err == nil && v {
		return "debug"
	}
	return ""
}
