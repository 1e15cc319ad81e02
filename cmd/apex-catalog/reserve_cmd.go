package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/open-edge-platform/apex-catalog/internal/config"
	"github.com/open-edge-platform/apex-catalog/internal/decompression"
	"github.com/open-edge-platform/apex-catalog/internal/utils/logger"
	"github.com/spf13/cobra"
	sigsyaml "sigs.k8s.io/yaml"
)

var reservePlanFile string

// createReserveCommand creates the reserve subcommand
func createReserveCommand() *cobra.Command {
	reserveCmd := &cobra.Command{
		Use:   "reserve [flags] [SIZE]",
		Short: "Reserve space for decompressing an OTA",
		Long: `Reserve keeps the placeholder file in the OTA reservation directory
at exactly SIZE bytes; 0 removes it. With --plan the size is computed from a
YAML or JSON list of {name, version, decompressedSize} entries, counting only
packages the data directory does not already hold at that version or newer.
Leftover OTA output in the decompression directory is always removed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: executeReserve,
	}

	reserveCmd.Flags().StringVar(&reservePlanFile, "plan", "",
		"Decompression plan to size the reservation from")
	return reserveCmd
}

func executeReserve(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	helpers := config.NewConfigHelpers(globalConfig)

	size, err := resolveReserveSize(args)
	if err != nil {
		return err
	}

	destDir, err := helpers.CreateOtaReservedDir()
	if err != nil {
		return fmt.Errorf("reservation directory setup failed: %v", err)
	}
	decompressionDir, err := helpers.DecompressionDir()
	if err != nil {
		return fmt.Errorf("resolving decompression directory failed: %v", err)
	}

	cache := decompression.NewCache(decompressionDir)
	if err := cache.ReserveSpaceForCompressedApex(size, destDir); err != nil {
		return fmt.Errorf("reservation failed: %v", err)
	}
	log.Infof("Reserved %d bytes in %s", size, destDir)
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%d\n", size)
	return err
}

func resolveReserveSize(args []string) (int64, error) {
	switch {
	case reservePlanFile != "" && len(args) > 0:
		return 0, fmt.Errorf("SIZE and --plan are mutually exclusive")
	case reservePlanFile != "":
		plan, err := loadDecompressionPlan(reservePlanFile)
		if err != nil {
			return 0, err
		}
		repo, err := buildCatalog(globalConfig)
		if err != nil {
			return 0, err
		}
		size, err := decompression.CalculateSizeForCompressedApex(plan, repo)
		if err != nil {
			return 0, fmt.Errorf("sizing plan failed: %v", err)
		}
		return size, flushScanOutputs(globalConfig)
	case len(args) == 1:
		size, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid size %q: %v", args[0], err)
		}
		return size, nil
	default:
		return 0, fmt.Errorf("either SIZE or --plan is required")
	}
}

func loadDecompressionPlan(path string) ([]decompression.CompressedApexInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan %s failed: %v", path, err)
	}
	var plan []decompression.CompressedApexInfo
	if err := sigsyaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("parsing plan %s failed: %v", path, err)
	}
	return plan, nil
}
