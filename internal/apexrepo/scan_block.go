package apexrepo

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/open-edge-platform/apex-catalog/internal/apexfile"
	"github.com/open-edge-platform/apex-catalog/internal/blockdev"
	"github.com/open-edge-platform/apex-catalog/internal/metadata"
	"github.com/open-edge-platform/apex-catalog/internal/metrics"
	"github.com/open-edge-platform/apex-catalog/internal/utils/logger"
)

// ScanBlockDevices adds the archives on the VM payload disk whose metadata
// partition is metadataPartition and returns how many were added. It may be
// called once per repository. A missing or unreadable metadata partition is
// not an error; any failure on a listed partition is.
func (r *Repository) ScanBlockDevices(metadataPartition string) (int, error) {
	log := logger.Logger()

	if r.blockScanned {
		return 0, r.fatal("ScanBlockDevices called more than once")
	}
	r.blockScanned = true

	if err := blockdev.WaitForFile(metadataPartition, r.blockWaitTimeout); err != nil {
		log.Infof("No block apex metadata partition found: %v", err)
		return 0, nil
	}

	base, err := blockdev.BaseDiskPath(metadataPartition)
	if err != nil {
		log.Warnf("Skipping block apex scan: %v", err)
		return 0, nil
	}
	r.blockDiskPath = base

	metadataPath := metadataPartition
	if _, err := os.Stat(r.metadataOverride); err == nil {
		log.Infof("Using block apex metadata from %s", r.metadataOverride)
		metadataPath = r.metadataOverride
	}
	m, err := metadata.Read(metadataPath)
	if err != nil {
		log.Warnf("Failed to read block apex metadata: %v", err)
		return 0, nil
	}

	added := 0
	for i, entry := range m.Apexes {
		path := blockdev.PartitionPath(base, i+2)
		if err := blockdev.WaitForFile(path, r.blockWaitTimeout); err != nil {
			return added, fmt.Errorf("failed to wait for block apex %s: %w", path, err)
		}

		apex, err := apexfile.Open(path)
		if err != nil {
			return added, fmt.Errorf("failed to open block apex %s: %w", path, err)
		}
		name := apex.Name()
		log.Infof("Found block apex %s at %s", name, path)

		if len(entry.PublicKey) > 0 && !bytes.Equal(entry.PublicKey, apex.BundledPublicKey()) {
			return added, fmt.Errorf("public key of block apex %s (%s): %w", name, path, ErrPublicKeyMismatch)
		}

		store := r.data
		if entry.IsFactory {
			store = r.preInstalled
		}
		if existing, ok := store.get(name); ok {
			return added, fmt.Errorf("duplicate of %s found in %s: %w", name, existing.Path(), ErrDuplicateApex)
		}
		store.put(apex)

		override := BlockApexOverride{LastUpdateSeconds: entry.LastUpdateSeconds}
		if len(entry.RootDigest) > 0 {
			override.RootDigest = hex.EncodeToString(entry.RootDigest)
		}
		if override.RootDigest != "" || override.LastUpdateSeconds != 0 {
			r.overrides[path] = override
		}

		metrics.ScannedApexes.WithLabelValues(metrics.StoreBlock).Inc()
		added++
	}
	return added, nil
}
