// Package apexfile opens and parses APEX package archives.
//
// An archive is a zip container holding a JSON manifest, the bundled public
// key and either a payload image (.apex) or a compressed copy of the original
// archive (.capex). Archives may live in regular files or on raw block
// devices.
package apexfile

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/klauspost/compress/zip"
	"sigs.k8s.io/yaml"
)

// File name suffixes understood by the catalog.
const (
	ApexSuffix             = ".apex"
	CompressedApexSuffix   = ".capex"
	DecompressedApexSuffix = ".decompressed.apex"
	OtaApexSuffix          = ".ota.apex"
)

// Archive entry names.
const (
	ManifestEntry     = "apex_manifest.json"
	PublicKeyEntry    = "apex_pubkey"
	PayloadEntry      = "apex_payload.img"
	SignatureEntry    = "apex_payload.sig"
	OriginalApexEntry = "original_apex"
)

var (
	ErrCompressed    = errors.New("operation not supported on a compressed apex")
	ErrNotCompressed = errors.New("apex is not compressed")
	ErrKeyMismatch   = errors.New("public key does not match bundled key")
)

// Manifest is the package metadata stored in apex_manifest.json.
type Manifest struct {
	Name                  string         `json:"name"`
	Version               int64          `json:"version"`
	VersionName           string         `json:"versionName,omitempty"`
	ProvideSharedApexLibs bool           `json:"provideSharedApexLibs,omitempty"`
	CapexMetadata         *CapexMetadata `json:"capexMetadata,omitempty"`
}

// CapexMetadata describes the original archive inside a compressed one.
type CapexMetadata struct {
	OriginalApexDigest  string `json:"originalApexDigest"`
	OriginalApexVersion int64  `json:"originalApexVersion,omitempty"`
}

// ApexFile is an opened archive. Its identity is its path.
type ApexFile struct {
	path         string
	manifest     Manifest
	publicKey    []byte
	isCompressed bool
	originalName string
	hasSignature bool

	mu         sync.Mutex
	rootDigest string
}

// Open parses the archive at path.
func Open(path string) (*ApexFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	// Seeking also yields the size of block devices, where Stat reports 0.
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to determine size of %s: %w", path, err)
	}
	zr, err := zip.NewReader(f, size)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive %s: %w", path, err)
	}

	apex := &ApexFile{path: path}

	rawManifest, err := readEntry(zr, ManifestEntry)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := yaml.Unmarshal(rawManifest, &apex.manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest of %s: %w", path, err)
	}
	if apex.manifest.Name == "" {
		return nil, fmt.Errorf("manifest of %s has no name", path)
	}
	if apex.manifest.Version < 0 {
		return nil, fmt.Errorf("manifest of %s has negative version %d", path, apex.manifest.Version)
	}

	apex.publicKey, err = readEntry(zr, PublicKeyEntry)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	hasPayload := false
	for _, entry := range zr.File {
		switch {
		case entry.Name == PayloadEntry:
			hasPayload = true
		case entry.Name == SignatureEntry:
			apex.hasSignature = true
		case strings.HasPrefix(entry.Name, OriginalApexEntry):
			if _, ok := codecForEntry(entry.Name); !ok {
				return nil, fmt.Errorf("%s: unsupported compressed payload %q", path, entry.Name)
			}
			apex.isCompressed = true
			apex.originalName = entry.Name
		}
	}

	if apex.isCompressed {
		if apex.manifest.CapexMetadata == nil || apex.manifest.CapexMetadata.OriginalApexDigest == "" {
			return nil, fmt.Errorf("compressed apex %s has no original apex digest", path)
		}
	} else if !hasPayload {
		return nil, fmt.Errorf("%s: missing %s", path, PayloadEntry)
	}

	return apex, nil
}

func readEntry(zr *zip.Reader, name string) ([]byte, error) {
	rc, err := openEntry(zr, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, nil
}

func openEntry(zr *zip.Reader, name string) (io.ReadCloser, error) {
	for _, entry := range zr.File {
		if entry.Name == name {
			rc, err := entry.Open()
			if err != nil {
				return nil, fmt.Errorf("failed to open entry %s: %w", name, err)
			}
			return rc, nil
		}
	}
	return nil, fmt.Errorf("missing %s", name)
}

// withArchive reopens the backing file for payload access.
func (a *ApexFile) withArchive(fn func(zr *zip.Reader) error) error {
	f, err := os.Open(a.path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", a.path, err)
	}
	defer f.Close()

	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("failed to determine size of %s: %w", a.path, err)
	}
	zr, err := zip.NewReader(f, size)
	if err != nil {
		return fmt.Errorf("failed to read archive %s: %w", a.path, err)
	}
	return fn(zr)
}

func (a *ApexFile) Path() string             { return a.path }
func (a *ApexFile) Manifest() Manifest       { return a.manifest }
func (a *ApexFile) Name() string             { return a.manifest.Name }
func (a *ApexFile) Version() int64           { return a.manifest.Version }
func (a *ApexFile) VersionName() string      { return a.manifest.VersionName }
func (a *ApexFile) BundledPublicKey() []byte { return a.publicKey }
func (a *ApexFile) IsCompressed() bool       { return a.isCompressed }

// ProvidesSharedApexLibs reports whether several versions of this package may
// be active at once.
func (a *ApexFile) ProvidesSharedApexLibs() bool { return a.manifest.ProvideSharedApexLibs }

// RootDigest returns the digest recorded by a successful
// VerifyAndGetRootDigest, or "" when the archive has not been verified.
func (a *ApexFile) RootDigest() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rootDigest
}

// OriginalApexDigest is the root digest the decompressed archive must have.
func (a *ApexFile) OriginalApexDigest() string {
	if a.manifest.CapexMetadata == nil {
		return ""
	}
	return a.manifest.CapexMetadata.OriginalApexDigest
}

// OriginalApexVersion is the version the decompressed archive must have. It
// defaults to the manifest version of the compressed archive.
func (a *ApexFile) OriginalApexVersion() int64 {
	if a.manifest.CapexMetadata != nil && a.manifest.CapexMetadata.OriginalApexVersion != 0 {
		return a.manifest.CapexMetadata.OriginalApexVersion
	}
	return a.manifest.Version
}

func (a *ApexFile) String() string {
	return fmt.Sprintf("%s@%d (%s)", a.manifest.Name, a.manifest.Version, a.path)
}

// VerifyAndGetRootDigest checks the payload against key and returns the hex
// encoded root digest. key must equal the bundled key; when the archive
// carries a payload signature it is verified with key as the keyring.
func (a *ApexFile) VerifyAndGetRootDigest(key []byte) (string, error) {
	if a.isCompressed {
		return "", fmt.Errorf("%s: %w", a.path, ErrCompressed)
	}
	if !bytes.Equal(key, a.publicKey) {
		return "", fmt.Errorf("%s: %w", a.path, ErrKeyMismatch)
	}

	var digest string
	err := a.withArchive(func(zr *zip.Reader) error {
		payload, err := openEntry(zr, PayloadEntry)
		if err != nil {
			return err
		}
		defer payload.Close()

		hasher := sha256.New()
		signed := io.TeeReader(payload, hasher)

		if a.hasSignature {
			sig, err := readEntry(zr, SignatureEntry)
			if err != nil {
				return err
			}
			if err := verifyPayloadSignature(key, signed, sig); err != nil {
				return fmt.Errorf("payload signature of %s: %w", a.path, err)
			}
		}
		// Drain whatever the signature check did not consume.
		if _, err := io.Copy(io.Discard, signed); err != nil {
			return fmt.Errorf("failed to hash payload of %s: %w", a.path, err)
		}
		digest = hex.EncodeToString(hasher.Sum(nil))
		return nil
	})
	if err != nil {
		return "", err
	}

	a.mu.Lock()
	a.rootDigest = digest
	a.mu.Unlock()
	return digest, nil
}

// Decompress writes the original archive held by a compressed apex to target
// and opens it.
func (a *ApexFile) Decompress(target string) (*ApexFile, error) {
	if !a.isCompressed {
		return nil, fmt.Errorf("%s: %w", a.path, ErrNotCompressed)
	}
	decode, _ := codecForEntry(a.originalName)

	err := a.withArchive(func(zr *zip.Reader) error {
		entry, err := openEntry(zr, a.originalName)
		if err != nil {
			return err
		}
		defer entry.Close()

		decoded, err := decode(entry)
		if err != nil {
			return fmt.Errorf("failed to initialise decoder for %s: %w", a.originalName, err)
		}
		defer decoded.Close()

		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return fmt.Errorf("failed to create decompressed file: %w", err)
		}
		if _, err := io.Copy(out, decoded); err != nil {
			out.Close()
			return fmt.Errorf("failed to decompress %s: %w", a.path, err)
		}
		if err := out.Sync(); err != nil {
			out.Close()
			return fmt.Errorf("failed to sync %s: %w", target, err)
		}
		return out.Close()
	})
	if err != nil {
		os.Remove(target)
		return nil, err
	}

	decompressed, err := Open(target)
	if err != nil {
		os.Remove(target)
		return nil, fmt.Errorf("decompressed output of %s is not a valid apex: %w", a.path, err)
	}
	return decompressed, nil
}
