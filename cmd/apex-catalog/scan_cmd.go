package main

import (
	"fmt"
	"sort"

	"github.com/open-edge-platform/apex-catalog/internal/activation"
	"github.com/open-edge-platform/apex-catalog/internal/apexfile"
	"github.com/open-edge-platform/apex-catalog/internal/utils/logger"
	"github.com/spf13/cobra"
)

// Output format command flags
var (
	scanFormat   outputFormat
	selectFormat outputFormat
)

// createScanCommand creates the scan subcommand
func createScanCommand() *cobra.Command {
	scanCmd := &cobra.Command{
		Use:   "scan [flags]",
		Short: "Scan all apex locations and list the catalog",
		Long: `Scan walks the pre-installed directories, the VM payload disk
(when a metadata partition is configured) and the data directory, then
prints every package the catalog accepted. Rejected artifacts are written
to the scan report when reportDir is configured.`,
		Args: cobra.NoArgs,
		RunE: executeScan,
	}

	scanFormat = formatText
	scanCmd.Flags().Var(&scanFormat, "format", "Output format: text or json")
	return scanCmd
}

// executeScan handles the scan command execution logic
func executeScan(cmd *cobra.Command, args []string) error {
	log := logger.Logger()

	repo, err := buildCatalog(globalConfig)
	if err != nil {
		return err
	}

	var all []*apexfile.ApexFile
	all = append(all, repo.GetPreInstalledApexFiles()...)
	all = append(all, repo.GetDataApexFiles()...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].Name() < all[j].Name() })

	log.Infof("Catalog holds %d pre-installed and %d data apexes",
		len(repo.GetPreInstalledApexFiles()), len(repo.GetDataApexFiles()))

	if err := writeEntries(cmd.OutOrStdout(), entriesFor(repo, all), scanFormat); err != nil {
		return err
	}
	return flushScanOutputs(globalConfig)
}

// createSelectCommand creates the select subcommand
func createSelectCommand() *cobra.Command {
	selectCmd := &cobra.Command{
		Use:   "select [flags]",
		Short: "Print the apexes that would be activated",
		Long: `Select scans the catalog and picks one candidate per package
name: the highest version wins, and on a version tie a data or block
package wins over the pre-installed one.`,
		Args: cobra.NoArgs,
		RunE: executeSelect,
	}

	selectFormat = formatText
	selectCmd.Flags().Var(&selectFormat, "format", "Output format: text or json")
	return selectCmd
}

func executeSelect(cmd *cobra.Command, args []string) error {
	repo, err := buildCatalog(globalConfig)
	if err != nil {
		return err
	}

	selected := activation.Select(repo)
	logger.Logger().Infof("Selected %d apexes for activation", len(selected))

	if err := writeEntries(cmd.OutOrStdout(), entriesFor(repo, selected), selectFormat); err != nil {
		return fmt.Errorf("writing selection failed: %v", err)
	}
	return flushScanOutputs(globalConfig)
}
