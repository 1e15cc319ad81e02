package apexrepo

import (
	"bytes"
	"strings"

	"github.com/open-edge-platform/apex-catalog/internal/apexfile"
	"github.com/open-edge-platform/apex-catalog/internal/metrics"
	"github.com/open-edge-platform/apex-catalog/internal/utils/logger"
)

// ScanData adds the updates found in dir to the data store. Only
// uncompressed archives are considered, and every unusable file is logged
// and skipped. For each name the highest version wins; ties keep the first.
func (r *Repository) ScanData(dir string) error {
	log := logger.Logger()

	if !dirExists(dir) {
		log.Infof("%s does not exist. Skipping", dir)
		return nil
	}
	log.Infof("Scanning %s for data apexes", dir)

	files, err := findFilesBySuffix(dir, []string{apexfile.ApexSuffix})
	if err != nil {
		return err
	}

	for _, file := range files {
		apex, err := apexfile.Open(file)
		if err != nil {
			log.Errorf("Failed to open %s: %v", file, err)
			r.reject(file, reasonOpenFailed)
			continue
		}

		name := apex.Name()
		counterpart, ok := r.dataCounterpart(name)
		if !ok {
			log.Errorf("Skipping %s : no preinstalled apex", file)
			r.reject(file, reasonNoPreInstalled)
			continue
		}
		if !bytes.Equal(apex.BundledPublicKey(), counterpart.BundledPublicKey()) {
			log.Errorf("Skipping %s : public key doesn't match pre-installed one", file)
			r.reject(file, reasonKeyMismatch)
			continue
		}
		if strings.HasSuffix(apex.Path(), apexfile.DecompressedApexSuffix) {
			log.Warnf("Skipping %s : Non-decompressed apex should not have %s suffix", file, apexfile.DecompressedApexSuffix)
			r.reject(file, reasonDecompressedSuffix)
			continue
		}

		if existing, ok := r.data.get(name); ok && apex.Version() <= existing.Version() {
			log.Debugf("Skipping %s : %s already has version %d", file, existing.Path(), existing.Version())
			r.reject(file, reasonLowerVersion)
			continue
		}
		r.data.put(apex)
		metrics.ScannedApexes.WithLabelValues(metrics.StoreData).Inc()
	}
	return nil
}

// dataCounterpart is the entry a data update must pin against: the
// pre-installed entry, or a non-factory block entry when the package is only
// provided by the payload disk.
func (r *Repository) dataCounterpart(name string) (*apexfile.ApexFile, bool) {
	if apex, ok := r.preInstalled.get(name); ok {
		return apex, true
	}
	if apex, ok := r.data.get(name); ok && r.IsBlockApex(apex) {
		return apex, true
	}
	return nil, false
}
