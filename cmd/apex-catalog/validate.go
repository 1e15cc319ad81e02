package main

import (
	"fmt"

	"github.com/open-edge-platform/apex-catalog/internal/config"
	"github.com/open-edge-platform/apex-catalog/internal/utils/logger"
	"github.com/spf13/cobra"
)

// createValidateCommand creates the validate subcommand
func createValidateCommand() *cobra.Command {
	validateCmd := &cobra.Command{
		Use:   "validate [flags] CONFIG_FILE",
		Short: "Validate a global configuration file",
		Long: `Validate checks a configuration file against the schema and the
semantic rules applied at startup, including APEXD_* environment overrides,
without scanning anything.`,
		Args: cobra.ExactArgs(1),
		RunE: executeValidate,
	}

	return validateCmd
}

// executeValidate handles the validate command logic
func executeValidate(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	configPath := args[0]

	log.Infof("validating config file: %s", configPath)

	cfg, err := config.LoadGlobalConfig(configPath)
	if err != nil {
		return fmt.Errorf("config validation failed: %v", err)
	}

	log.Infof("✓ Config validation successful for %s", configPath)
	if verbose {
		log.Infof("Pre-installed dirs: %v", cfg.PreinstalledDirs)
		log.Infof("Data dir: %s", cfg.DataDir)
		log.Infof("Decompression dir: %s", cfg.DecompressionDir)
		if cfg.BlockMetadataPartition != "" {
			log.Infof("Block metadata partition: %s (wait %s)", cfg.BlockMetadataPartition, cfg.BlockWaitTimeout)
		}
		if len(cfg.MultiInstall.PropPrefixes) > 0 {
			log.Infof("Multi-install prefixes: %v", cfg.MultiInstall.PropPrefixes)
		}
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), "valid config")
	return err
}
