// Package decompression materialises compressed archives into the
// decompression directory and manages the space reserved for them.
package decompression

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/open-edge-platform/apex-catalog/internal/apexfile"
	"github.com/open-edge-platform/apex-catalog/internal/metrics"
	"github.com/open-edge-platform/apex-catalog/internal/utils/logger"
)

// ReservedFileName is the placeholder created by ReserveSpaceForCompressedApex.
const ReservedFileName = "full.tmp"

var (
	ErrPublicKeyMismatch  = errors.New("public key mismatch")
	ErrVersionMismatch    = errors.New("version mismatch")
	ErrRootDigestMismatch = errors.New("root digest mismatch")
)

// Catalog is the part of the repository the cache consults.
type Catalog interface {
	HasDataVersion(name string) bool
	GetDataApex(name string) *apexfile.ApexFile
}

// CompressedApexInfo is one entry of a decompression plan.
type CompressedApexInfo struct {
	Name             string `json:"name"`
	Version          int64  `json:"version"`
	DecompressedSize int64  `json:"decompressedSize"`
}

// Cache owns the decompression directory.
type Cache struct {
	dir string

	// OnProcessed, when set, is called once per candidate with its result
	// label.
	OnProcessed func(capex *apexfile.ApexFile, result string)
}

func NewCache(dir string) *Cache {
	return &Cache{dir: dir}
}

func (c *Cache) Dir() string { return c.dir }

// ShouldAllocateSpaceForDecompression reports whether decompressing name at
// version needs new space: true unless the data store already holds a
// version at least as new.
func ShouldAllocateSpaceForDecompression(name string, version int64, catalog Catalog) bool {
	if !catalog.HasDataVersion(name) {
		return true
	}
	return catalog.GetDataApex(name).Version() < version
}

// CalculateSizeForCompressedApex sums the decompressed sizes of the plan
// entries that still need space.
func CalculateSizeForCompressedApex(plan []CompressedApexInfo, catalog Catalog) (int64, error) {
	var total int64
	for _, info := range plan {
		if info.DecompressedSize < 0 {
			return 0, fmt.Errorf("negative decompressed size %d for %s", info.DecompressedSize, info.Name)
		}
		if ShouldAllocateSpaceForDecompression(info.Name, info.Version, catalog) {
			total += info.DecompressedSize
		}
	}
	return total, nil
}

// ValidateDecompressedApex checks that apex is the original archive held by
// capex: same bundled key, the recorded original version and the recorded
// original root digest.
func ValidateDecompressedApex(capex, apex *apexfile.ApexFile) error {
	if !bytes.Equal(capex.BundledPublicKey(), apex.BundledPublicKey()) {
		return fmt.Errorf("public key of compressed apex %s is different than decompressed apex %s: %w",
			capex.Path(), apex.Path(), ErrPublicKeyMismatch)
	}
	if apex.Version() != capex.OriginalApexVersion() {
		return fmt.Errorf("version of decompressed apex %s is %d, compressed apex %s expects %d: %w",
			apex.Path(), apex.Version(), capex.Path(), capex.OriginalApexVersion(), ErrVersionMismatch)
	}
	digest, err := apex.VerifyAndGetRootDigest(apex.BundledPublicKey())
	if err != nil {
		return fmt.Errorf("failed to get root digest of %s: %w", apex.Path(), err)
	}
	if digest != capex.OriginalApexDigest() {
		return fmt.Errorf("root digest of decompressed apex %s (%s) does not match compressed apex %s (%s): %w",
			apex.Path(), digest, capex.Path(), capex.OriginalApexDigest(), ErrRootDigestMismatch)
	}
	return nil
}

// TargetPath is where the decompressed form of capex lives. Transient
// (OTA) output uses a separate suffix.
func (c *Cache) TargetPath(capex *apexfile.ApexFile, transient bool) string {
	suffix := apexfile.DecompressedApexSuffix
	if transient {
		suffix = apexfile.OtaApexSuffix
	}
	return filepath.Join(c.dir, fmt.Sprintf("%s@%d%s", capex.Name(), capex.Version(), suffix))
}

// ProcessCompressedApex returns a validated decompressed archive for every
// candidate it could materialise. Existing valid output is reused as is.
// A failing candidate is logged and left out.
func (c *Cache) ProcessCompressedApex(candidates []*apexfile.ApexFile, transient bool) []*apexfile.ApexFile {
	log := logger.Logger()

	if err := os.MkdirAll(c.dir, 0755); err != nil {
		log.Errorf("Failed to create decompression directory %s: %v", c.dir, err)
		return nil
	}

	var ready []*apexfile.ApexFile
	for _, capex := range candidates {
		apex, result, err := c.process(capex, transient)
		metrics.DecompressedApexes.WithLabelValues(result).Inc()
		if c.OnProcessed != nil {
			c.OnProcessed(capex, result)
		}
		if err != nil {
			log.Errorf("Failed to decompress %s: %v", capex.Path(), err)
			continue
		}
		ready = append(ready, apex)
	}
	return ready
}

func (c *Cache) process(capex *apexfile.ApexFile, transient bool) (*apexfile.ApexFile, string, error) {
	log := logger.Logger()

	if !capex.IsCompressed() {
		return nil, metrics.ResultFailed, fmt.Errorf("%s: %w", capex.Path(), apexfile.ErrNotCompressed)
	}
	target := c.TargetPath(capex, transient)

	if fileExists(target) {
		apex, err := openAndValidate(capex, target)
		if err == nil {
			log.Debugf("Reusing %s for %s", target, capex.Path())
			return apex, metrics.ResultReused, nil
		}
		log.Warnf("Discarding invalid decompressed apex %s: %v", target, err)
		if err := os.Remove(target); err != nil {
			return nil, metrics.ResultFailed, fmt.Errorf("failed to remove %s: %w", target, err)
		}
	}

	if !transient {
		ota := c.TargetPath(capex, true)
		if fileExists(ota) {
			_, err := openAndValidate(capex, ota)
			if err == nil {
				log.Infof("Renaming %s to %s", ota, target)
				if err := os.Rename(ota, target); err != nil {
					return nil, metrics.ResultFailed, fmt.Errorf("failed to rename %s: %w", ota, err)
				}
				apex, err := apexfile.Open(target)
				if err != nil {
					return nil, metrics.ResultFailed, err
				}
				return apex, metrics.ResultRenamed, nil
			}
			log.Warnf("Discarding invalid OTA apex %s: %v", ota, err)
			os.Remove(ota)
		}
	}

	tmp := target + ".tmp"
	os.Remove(tmp)
	log.Infof("Decompressing %s to %s", capex.Path(), target)
	decompressed, err := capex.Decompress(tmp)
	if err != nil {
		return nil, metrics.ResultFailed, err
	}
	if err := ValidateDecompressedApex(capex, decompressed); err != nil {
		os.Remove(tmp)
		return nil, metrics.ResultFailed, err
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return nil, metrics.ResultFailed, fmt.Errorf("failed to move %s into place: %w", tmp, err)
	}
	apex, err := apexfile.Open(target)
	if err != nil {
		return nil, metrics.ResultFailed, err
	}
	return apex, metrics.ResultDecompressed, nil
}

func openAndValidate(capex *apexfile.ApexFile, path string) (*apexfile.ApexFile, error) {
	apex, err := apexfile.Open(path)
	if err != nil {
		return nil, err
	}
	if err := ValidateDecompressedApex(capex, apex); err != nil {
		return nil, err
	}
	return apex, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ReserveSpaceForCompressedApex keeps destDir/full.tmp at exactly size
// bytes, deleting it for 0. Leftover OTA output in the decompression
// directory is removed first, whatever the outcome.
func (c *Cache) ReserveSpaceForCompressedApex(size int64, destDir string) error {
	c.removeOtaApexes()

	if size < 0 {
		return fmt.Errorf("cannot reserve negative byte size: %d", size)
	}

	path := filepath.Join(destDir, ReservedFileName)
	if size == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
		return nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	if err := allocate(f, size); err != nil {
		return fmt.Errorf("failed to allocate %d bytes for %s: %w", size, path, err)
	}
	// allocate never shrinks a file left by a bigger reservation
	if err := f.Truncate(size); err != nil {
		return fmt.Errorf("failed to truncate %s: %w", path, err)
	}
	return nil
}

func (c *Cache) removeOtaApexes() {
	log := logger.Logger()

	matches, err := doublestar.Glob(os.DirFS(c.dir), "*"+apexfile.OtaApexSuffix, doublestar.WithFilesOnly())
	if err != nil {
		log.Warnf("Failed to list %s: %v", c.dir, err)
		return
	}
	for _, match := range matches {
		path := filepath.Join(c.dir, match)
		if err := os.Remove(path); err != nil {
			log.Warnf("Failed to remove %s: %v", path, err)
			continue
		}
		log.Infof("Removed stale OTA apex %s", path)
	}
}
