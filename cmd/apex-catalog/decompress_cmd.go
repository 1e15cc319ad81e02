package main

import (
	"fmt"
	"time"

	"github.com/open-edge-platform/apex-catalog/internal/activation"
	"github.com/open-edge-platform/apex-catalog/internal/apexfile"
	"github.com/open-edge-platform/apex-catalog/internal/config"
	"github.com/open-edge-platform/apex-catalog/internal/decompression"
	"github.com/open-edge-platform/apex-catalog/internal/utils/logger"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	decompressOta    bool
	decompressFormat outputFormat
	showProgress     = true
)

// createDecompressCommand creates the decompress subcommand
func createDecompressCommand() *cobra.Command {
	decompressCmd := &cobra.Command{
		Use:   "decompress [flags]",
		Short: "Decompress the compressed apexes selected for activation",
		Long: `Decompress scans the catalog, selects the apexes to activate and
materialises every selected compressed package into the decompression
directory. Valid output from earlier runs is reused. With --ota the output
is written with the OTA suffix instead, to be picked up on the next boot.`,
		Args: cobra.NoArgs,
		RunE: executeDecompress,
	}

	decompressCmd.Flags().BoolVar(&decompressOta, "ota", false,
		"Write transient OTA output instead of the active decompressed copy")
	decompressFormat = formatText
	decompressCmd.Flags().Var(&decompressFormat, "format", "Output format: text or json")
	decompressCmd.Flags().BoolVar(&showProgress, "progress", true,
		"Show a progress bar on stderr")
	return decompressCmd
}

func executeDecompress(cmd *cobra.Command, args []string) error {
	log := logger.Logger()

	repo, err := buildCatalog(globalConfig)
	if err != nil {
		return err
	}

	var compressed []*apexfile.ApexFile
	for _, apex := range activation.Select(repo) {
		if apex.IsCompressed() {
			compressed = append(compressed, apex)
		}
	}
	if len(compressed) == 0 {
		log.Infof("No compressed apexes selected for activation")
		return flushScanOutputs(globalConfig)
	}

	dir, err := config.NewConfigHelpers(globalConfig).CreateDecompressionDir()
	if err != nil {
		return fmt.Errorf("decompression directory setup failed: %v", err)
	}
	cache := decompression.NewCache(dir)

	if showProgress {
		bar := progressbar.NewOptions(len(compressed),
			progressbar.OptionSetWriter(cmd.ErrOrStderr()),
			progressbar.OptionSetDescription("decompressing"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionThrottle(100*time.Millisecond),
		)
		cache.OnProcessed = func(capex *apexfile.ApexFile, result string) {
			bar.Describe(fmt.Sprintf("%s (%s)", capex.Name(), result))
			if err := bar.Add(1); err != nil {
				log.Debugf("progress bar update failed: %v", err)
			}
		}
		defer bar.Finish()
	}

	ready := cache.ProcessCompressedApex(compressed, decompressOta)
	log.Infof("Decompressed %d of %d compressed apexes into %s", len(ready), len(compressed), dir)

	entries := entriesFor(repo, ready)
	for i := range entries {
		entries[i].Store = "decompressed"
	}
	if err := writeEntries(cmd.OutOrStdout(), entries, decompressFormat); err != nil {
		return err
	}
	if len(ready) != len(compressed) {
		return fmt.Errorf("decompression failed for %d apexes", len(compressed)-len(ready))
	}
	return flushScanOutputs(globalConfig)
}
