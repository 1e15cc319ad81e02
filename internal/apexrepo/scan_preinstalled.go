package apexrepo

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/open-edge-platform/apex-catalog/internal/apexfile"
	"github.com/open-edge-platform/apex-catalog/internal/metrics"
	"github.com/open-edge-platform/apex-catalog/internal/utils/logger"
)

// Rejection reasons recorded in metrics and the scan report.
const (
	reasonOpenFailed          = "open_failed"
	reasonNoPreInstalled      = "no_preinstalled"
	reasonKeyMismatch         = "key_mismatch"
	reasonDecompressedSuffix  = "decompressed_suffix"
	reasonPartitionNotAllowed = "partition_not_allowed"
	reasonMultiInstallKeys    = "multi_install_key_conflict"
	reasonNotSelected         = "multi_install_not_selected"
	reasonDuplicateSelection  = "multi_install_duplicate"
	reasonLowerVersion        = "lower_version"
)

// ScanPreInstalled adds the archives found in dirs to the pre-installed
// store. Missing directories are skipped. Any archive that cannot be opened
// fails the scan.
func (r *Repository) ScanPreInstalled(dirs []string) error {
	log := logger.Logger()
	defer func() { r.multiInstallKeys = map[string]map[string]struct{}{} }()

	for _, dir := range dirs {
		if !dirExists(dir) {
			log.Infof("%s does not exist. Skipping", dir)
			continue
		}
		log.Infof("Scanning %s for pre-installed apexes", dir)

		files, err := findFilesBySuffix(dir, []string{apexfile.ApexSuffix, apexfile.CompressedApexSuffix})
		if err != nil {
			return err
		}
		for _, file := range files {
			log.Debugf("Found pre-installed apex %s", file)
			apex, err := apexfile.Open(file)
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", file, err)
			}
			if err := r.addPreInstalled(apex); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Repository) addPreInstalled(apex *apexfile.ApexFile) error {
	name := apex.Name()
	if selection := r.multiInstall.Selection(name); selection != "" {
		r.addMultiInstall(apex, selection)
		return nil
	}

	existing, ok := r.preInstalled.get(name)
	if !ok {
		r.preInstalled.put(apex)
		metrics.ScannedApexes.WithLabelValues(metrics.StorePreInstalled).Inc()
		return nil
	}

	if existing.Path() != apex.Path() {
		if strings.HasPrefix(name, vndkApexPrefix) && r.props.GetProperty(buildCodenameProp, "") != releaseBuildCodename {
			// vendor and system may both carry a VNDK apex on development builds
			logger.Logger().Errorf("Found two apex packages %s and %s with the same module name %s",
				existing.Path(), apex.Path(), name)
			return nil
		}
		return r.fatal("found two apex packages %s and %s with the same module name %s",
			existing.Path(), apex.Path(), name)
	}
	if !bytes.Equal(existing.BundledPublicKey(), apex.BundledPublicKey()) {
		return r.fatal("public key of apex package %s (%s) has unexpectedly changed", name, apex.Path())
	}
	return nil
}

// addMultiInstall applies the multi-install rules to one candidate. Every
// outcome other than insertion is a logged skip.
func (r *Repository) addMultiInstall(apex *apexfile.ApexFile, selection string) {
	log := logger.Logger()
	name := apex.Name()

	realPath, err := filepath.EvalSymlinks(apex.Path())
	if err != nil {
		log.Errorf("Failed to resolve multi-install apex %s: %v", apex.Path(), err)
		r.reject(apex.Path(), reasonPartitionNotAllowed)
		return
	}
	if r.enforcePartition && !r.inAllowedPartition(realPath) {
		log.Errorf("Multi-install apex %s can only be preinstalled on %s", apex.Path(), strings.Join(r.allowedPartitions, ", "))
		r.reject(apex.Path(), reasonPartitionNotAllowed)
		return
	}

	keys, ok := r.multiInstallKeys[name]
	if !ok {
		keys = map[string]struct{}{}
		r.multiInstallKeys[name] = keys
	}
	keys[string(apex.BundledPublicKey())] = struct{}{}
	if len(keys) > 1 {
		log.Errorf("Multi-install apexes for %s have different public keys", name)
		// No variant of an ambiguously keyed package may be installed.
		if previous, ok := r.preInstalled.get(name); ok {
			r.reject(previous.Path(), reasonMultiInstallKeys)
		}
		r.preInstalled.remove(name)
		r.reject(apex.Path(), reasonMultiInstallKeys)
		return
	}

	if selectionName(apex.Path()) != selection {
		log.Debugf("Multi-install apex %s is not selected (want %s)", apex.Path(), selection)
		r.reject(apex.Path(), reasonNotSelected)
		return
	}
	if existing, ok := r.preInstalled.get(name); ok {
		log.Warnf("Skipping %s : multi-install apex %s already selected at %s", apex.Path(), name, existing.Path())
		r.reject(apex.Path(), reasonDuplicateSelection)
		return
	}
	log.Infof("Found apex at path %s for multi-install apex %s", apex.Path(), name)
	r.preInstalled.put(apex)
	metrics.ScannedApexes.WithLabelValues(metrics.StorePreInstalled).Inc()
}

func (r *Repository) inAllowedPartition(path string) bool {
	for _, prefix := range r.allowedPartitions {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (r *Repository) reject(path, reason string) {
	metrics.RejectedApexes.WithLabelValues(reason).Inc()
	r.report.Add(path, reason)
}
