// Package apexrepo is the catalog of every known archive variant.
//
// A Repository owns three provenance classes of archives (pre-installed, data
// and block) in two stores plus the block overrides table. Scans populate it
// sequentially during startup; afterwards it is read-only and its queries may
// be called concurrently. Scans and Reset must not run concurrently with
// queries.
package apexrepo

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/open-edge-platform/apex-catalog/internal/apexfile"
	"github.com/open-edge-platform/apex-catalog/internal/sysprop"
	"github.com/open-edge-platform/apex-catalog/internal/utils/logger"
)

const (
	DefaultDecompressionDir          = "/data/apex/decompressed"
	DefaultVMPayloadMetadataOverride = "/apex/vm-payload-metadata"
	DefaultBlockWaitTimeout          = 10 * time.Second

	vndkApexPrefix       = "com.android.vndk."
	buildCodenameProp    = "ro.build.version.codename"
	releaseBuildCodename = "REL"
)

// Options configures a Repository. Zero values take the defaults above.
type Options struct {
	DecompressionDir string

	MultiInstallPropPrefixes      []string
	EnforceMultiInstallPartition  bool
	AllowedMultiInstallPartitions []string

	Properties sysprop.Reader

	BlockWaitTimeout          time.Duration
	VMPayloadMetadataOverride string

	Abort  AbortHandler
	Report *logger.ScanReport
}

// BlockApexOverride carries values for a block archive that cannot be read
// from the device itself. Empty RootDigest and zero LastUpdateSeconds mean
// unset.
type BlockApexOverride struct {
	RootDigest        string
	LastUpdateSeconds int64
}

type Repository struct {
	decompressionDir  string
	multiInstall      MultiInstallResolver
	enforcePartition  bool
	allowedPartitions []string
	props             sysprop.Reader
	blockWaitTimeout  time.Duration
	metadataOverride  string
	abort             AbortHandler
	report            *logger.ScanReport

	preInstalled variantStore
	data         variantStore
	overrides    map[string]BlockApexOverride

	multiInstallKeys map[string]map[string]struct{}

	blockScanned  bool
	blockDiskPath string
}

// New returns an empty repository.
func New(opts Options) *Repository {
	r := &Repository{
		decompressionDir:  opts.DecompressionDir,
		multiInstall:      MultiInstallResolver{Prefixes: opts.MultiInstallPropPrefixes, Properties: opts.Properties},
		enforcePartition:  opts.EnforceMultiInstallPartition,
		allowedPartitions: opts.AllowedMultiInstallPartitions,
		props:             opts.Properties,
		blockWaitTimeout:  opts.BlockWaitTimeout,
		metadataOverride:  opts.VMPayloadMetadataOverride,
		abort:             opts.Abort,
		report:            opts.Report,
	}
	if r.decompressionDir == "" {
		r.decompressionDir = DefaultDecompressionDir
	}
	if r.props == nil {
		r.props = sysprop.Properties{}
	}
	if r.blockWaitTimeout <= 0 {
		r.blockWaitTimeout = DefaultBlockWaitTimeout
	}
	if r.metadataOverride == "" {
		r.metadataOverride = DefaultVMPayloadMetadataOverride
	}
	if r.abort == nil {
		r.abort = DefaultAbortHandler
	}
	if r.report == nil {
		r.report = logger.GlobalScanReport
	}
	r.Reset()
	return r
}

// Reset clears all stores and overrides.
func (r *Repository) Reset() {
	r.preInstalled = variantStore{}
	r.data = variantStore{}
	r.overrides = map[string]BlockApexOverride{}
	r.multiInstallKeys = map[string]map[string]struct{}{}
	r.blockScanned = false
	r.blockDiskPath = ""
}

// DecompressionDir is where decompressed pre-installed archives live.
func (r *Repository) DecompressionDir() string { return r.decompressionDir }

// GetPublicKey returns the trusted key for name: the pre-installed entry's
// key, or for packages provided only by a block device, the block entry's.
func (r *Repository) GetPublicKey(name string) ([]byte, error) {
	if apex, ok := r.preInstalled.get(name); ok {
		return apex.BundledPublicKey(), nil
	}
	if apex, ok := r.data.get(name); ok && r.IsBlockApex(apex) {
		return apex.BundledPublicKey(), nil
	}
	return nil, fmt.Errorf("no preinstalled apex found for package %s: %w", name, ErrNotFound)
}

func (r *Repository) GetPreinstalledPath(name string) (string, error) {
	apex, ok := r.preInstalled.get(name)
	if !ok {
		return "", fmt.Errorf("no preinstalled data found for package %s: %w", name, ErrNotFound)
	}
	return apex.Path(), nil
}

func (r *Repository) GetDataPath(name string) (string, error) {
	apex, ok := r.data.get(name)
	if !ok {
		return "", fmt.Errorf("no data apex found for package %s: %w", name, ErrNotFound)
	}
	return apex.Path(), nil
}

func (r *Repository) HasPreInstalledVersion(name string) bool {
	_, ok := r.preInstalled.get(name)
	return ok
}

func (r *Repository) HasDataVersion(name string) bool {
	_, ok := r.data.get(name)
	return ok
}

// IsPreInstalledApex reports whether apex is the pre-installed entry for its
// name or a decompressed copy of it.
func (r *Repository) IsPreInstalledApex(apex *apexfile.ApexFile) bool {
	pre, ok := r.preInstalled.get(apex.Name())
	if !ok {
		return false
	}
	return pre.Path() == apex.Path() || r.isDecompressedApex(apex)
}

func (r *Repository) isDecompressedApex(apex *apexfile.ApexFile) bool {
	dir := filepath.Clean(r.decompressionDir) + string(filepath.Separator)
	return strings.HasPrefix(apex.Path(), dir)
}

// IsBlockApex reports whether apex lives on the payload disk found by
// ScanBlockDevices.
func (r *Repository) IsBlockApex(apex *apexfile.ApexFile) bool {
	return r.blockDiskPath != "" && strings.HasPrefix(apex.Path(), r.blockDiskPath)
}

// BlockDiskPath is the base path of the payload disk partitions, or "".
func (r *Repository) BlockDiskPath() string { return r.blockDiskPath }

func (r *Repository) GetPreInstalledApexFiles() []*apexfile.ApexFile {
	return r.preInstalled.sorted()
}

func (r *Repository) GetDataApexFiles() []*apexfile.ApexFile {
	return r.data.sorted()
}

// AllApexFilesByName groups every known archive by name, pre-installed entry
// first. The slices reference the stored archives.
func (r *Repository) AllApexFilesByName() map[string][]*apexfile.ApexFile {
	result := make(map[string][]*apexfile.ApexFile)
	for _, store := range []variantStore{r.preInstalled, r.data} {
		for _, apex := range store.sorted() {
			result[apex.Name()] = append(result[apex.Name()], apex)
		}
	}
	return result
}

// GetPreInstalledApex returns the pre-installed entry for name. Callers must
// check HasPreInstalledVersion first; a missing name is an invariant
// violation.
func (r *Repository) GetPreInstalledApex(name string) *apexfile.ApexFile {
	apex, ok := r.preInstalled.get(name)
	if !ok {
		r.fatal("no preinstalled apex for %s", name)
		return nil
	}
	return apex
}

// GetDataApex returns the data entry for name. Callers must check
// HasDataVersion first.
func (r *Repository) GetDataApex(name string) *apexfile.ApexFile {
	apex, ok := r.data.get(name)
	if !ok {
		r.fatal("no data apex for %s", name)
		return nil
	}
	return apex
}

// GetBlockApexRootDigest returns the pinned root digest for a block archive.
func (r *Repository) GetBlockApexRootDigest(path string) (string, bool) {
	o, ok := r.overrides[path]
	if !ok || o.RootDigest == "" {
		return "", false
	}
	return o.RootDigest, true
}

// GetBlockApexLastUpdateSeconds returns the out-of-band update time for a
// block archive.
func (r *Repository) GetBlockApexLastUpdateSeconds(path string) (int64, bool) {
	o, ok := r.overrides[path]
	if !ok || o.LastUpdateSeconds == 0 {
		return 0, false
	}
	return o.LastUpdateSeconds, true
}
