package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/open-edge-platform/apex-catalog/internal/apexfile"
	"github.com/open-edge-platform/apex-catalog/internal/apexrepo"
	"github.com/open-edge-platform/apex-catalog/internal/config"
	"github.com/open-edge-platform/apex-catalog/internal/metrics"
	"github.com/open-edge-platform/apex-catalog/internal/sysprop"
	"github.com/open-edge-platform/apex-catalog/internal/utils/logger"
	"github.com/spf13/pflag"
)

const (
	formatText outputFormat = "text"
	formatJSON outputFormat = "json"
)

// outputFormat is a --format flag value restricted to text or json.
type outputFormat string

var _ pflag.Value = (*outputFormat)(nil)

func (f *outputFormat) String() string { return string(*f) }

func (f *outputFormat) Set(v string) error {
	switch outputFormat(strings.ToLower(v)) {
	case formatText, formatJSON:
		*f = outputFormat(strings.ToLower(v))
		return nil
	default:
		return fmt.Errorf("unsupported format %q, expected text or json", v)
	}
}

func (f *outputFormat) Type() string { return "format" }

// apexEntry is the printable view of one catalog entry.
type apexEntry struct {
	Name              string `json:"name"`
	Version           int64  `json:"version"`
	VersionName       string `json:"versionName,omitempty"`
	Path              string `json:"path"`
	Store             string `json:"store"`
	Compressed        bool   `json:"compressed,omitempty"`
	SharedLibs        bool   `json:"sharedLibs,omitempty"`
	RootDigest        string `json:"rootDigest,omitempty"`
	LastUpdateSeconds int64  `json:"lastUpdateSeconds,omitempty"`
}

// loadProperties reads the configured property files, then applies the
// inline properties from the config on top.
func loadProperties(cfg *config.GlobalConfig) (sysprop.Properties, error) {
	props, err := sysprop.LoadFiles(cfg.PropertyFiles...)
	if err != nil {
		return nil, err
	}
	for k, v := range cfg.Properties {
		props[k] = v
	}
	return props, nil
}

// buildCatalog creates the process-wide repository and runs every configured
// scan: pre-installed, then block devices, then data.
func buildCatalog(cfg *config.GlobalConfig) (*apexrepo.Repository, error) {
	log := logger.Logger()
	helpers := config.NewConfigHelpers(cfg)

	props, err := loadProperties(cfg)
	if err != nil {
		return nil, fmt.Errorf("loading properties failed: %v", err)
	}
	decompressionDir, err := helpers.DecompressionDir()
	if err != nil {
		return nil, fmt.Errorf("resolving decompression directory failed: %v", err)
	}

	repo, err := apexrepo.InitInstance(apexrepo.Options{
		DecompressionDir:              decompressionDir,
		MultiInstallPropPrefixes:      cfg.MultiInstall.PropPrefixes,
		EnforceMultiInstallPartition:  cfg.MultiInstall.EnforcePartition,
		AllowedMultiInstallPartitions: cfg.MultiInstall.AllowedPartitions,
		Properties:                    props,
		BlockWaitTimeout:              helpers.BlockWaitTimeout(),
		VMPayloadMetadataOverride:     cfg.VMPayloadMetadataOverride,
	})
	if err != nil {
		return nil, err
	}

	if err := repo.ScanPreInstalled(cfg.PreinstalledDirs); err != nil {
		return nil, fmt.Errorf("pre-installed scan failed: %v", err)
	}
	if helpers.BlockScanEnabled() {
		n, err := repo.ScanBlockDevices(cfg.BlockMetadataPartition)
		if err != nil {
			return nil, fmt.Errorf("block device scan failed: %v", err)
		}
		log.Infof("Added %d apexes from block devices", n)
	}
	if err := repo.ScanData(cfg.DataDir); err != nil {
		return nil, fmt.Errorf("data scan failed: %v", err)
	}
	return repo, nil
}

// flushScanOutputs writes the skip report and the metrics textfile when the
// config asks for them.
func flushScanOutputs(cfg *config.GlobalConfig) error {
	log := logger.Logger()

	if cfg.ReportDir != "" {
		path, err := logger.GlobalScanReport.WriteToDir(cfg.ReportDir)
		if err != nil {
			return fmt.Errorf("writing scan report failed: %v", err)
		}
		log.Infof("Scan report written to %s", path)
	}
	if cfg.MetricsFile != "" {
		if err := metrics.WriteTextfile(cfg.MetricsFile); err != nil {
			return err
		}
		log.Debugf("Metrics written to %s", cfg.MetricsFile)
	}
	return nil
}

func entryFor(repo *apexrepo.Repository, apex *apexfile.ApexFile) apexEntry {
	e := apexEntry{
		Name:        apex.Name(),
		Version:     apex.Version(),
		VersionName: apex.VersionName(),
		Path:        apex.Path(),
		Compressed:  apex.IsCompressed(),
		SharedLibs:  apex.ProvidesSharedApexLibs(),
	}
	switch {
	case repo.IsBlockApex(apex):
		e.Store = metrics.StoreBlock
		e.RootDigest, _ = repo.GetBlockApexRootDigest(apex.Path())
		e.LastUpdateSeconds, _ = repo.GetBlockApexLastUpdateSeconds(apex.Path())
	case repo.IsPreInstalledApex(apex):
		e.Store = metrics.StorePreInstalled
	default:
		e.Store = metrics.StoreData
	}
	return e
}

func entriesFor(repo *apexrepo.Repository, apexes []*apexfile.ApexFile) []apexEntry {
	entries := make([]apexEntry, 0, len(apexes))
	for _, apex := range apexes {
		entries = append(entries, entryFor(repo, apex))
	}
	return entries
}

// writeEntries prints entries as an aligned text listing or as JSON.
func writeEntries(w io.Writer, entries []apexEntry, format outputFormat) error {
	switch format {
	case formatJSON:
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal output: %v", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case formatText, "":
		for _, e := range entries {
			flags := []string{e.Store}
			if e.Compressed {
				flags = append(flags, "compressed")
			}
			if e.SharedLibs {
				flags = append(flags, "shared-libs")
			}
			if _, err := fmt.Fprintf(w, "%-40s %12d  %-14s %s\n",
				e.Name, e.Version, strings.Join(flags, ","), e.Path); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported format %q, expected text or json", format)
	}
}
