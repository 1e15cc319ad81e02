// Package apextest writes small archives for tests.
package apextest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/open-edge-platform/apex-catalog/internal/apexfile"
)

// Spec describes an archive to write. Zero fields get defaults derived from
// Name and Version.
type Spec struct {
	Name        string
	Version     int64
	VersionName string
	PublicKey   []byte
	Payload     []byte
	Signature   []byte
	SharedLibs  bool

	// Compressed archives only.
	Codec             apexfile.Codec
	OriginalDigest    string
	OriginalVersion   int64
	OriginalPublicKey []byte
}

// Key returns the default public key for a package name.
func Key(name string) []byte {
	return []byte("pubkey:" + name)
}

// PayloadDigest returns the root digest of a payload.
func PayloadDigest(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func (s Spec) key() []byte {
	if s.PublicKey != nil {
		return s.PublicKey
	}
	return Key(s.Name)
}

func (s Spec) payload() []byte {
	if s.Payload != nil {
		return s.Payload
	}
	return []byte(fmt.Sprintf("payload %s@%d", s.Name, s.Version))
}

// Digest returns the root digest the archive described by s will have.
func (s Spec) Digest() string {
	return PayloadDigest(s.payload())
}

func (s Spec) manifest() apexfile.Manifest {
	return apexfile.Manifest{
		Name:                  s.Name,
		Version:               s.Version,
		VersionName:           s.VersionName,
		ProvideSharedApexLibs: s.SharedLibs,
	}
}

// Bytes returns the uncompressed archive described by s.
func Bytes(t testing.TB, s Spec) []byte {
	t.Helper()
	var buf bytes.Buffer
	err := apexfile.Pack(&buf, apexfile.PackOptions{
		Manifest:  s.manifest(),
		PublicKey: s.key(),
		Payload:   s.payload(),
		Signature: s.Signature,
	})
	if err != nil {
		t.Fatalf("packing %s: %v", s.Name, err)
	}
	return buf.Bytes()
}

// CompressedBytes returns the compressed archive described by s.
func CompressedBytes(t testing.TB, s Spec) []byte {
	t.Helper()
	inner := s
	if s.OriginalPublicKey != nil {
		inner.PublicKey = s.OriginalPublicKey
	}
	original := Bytes(t, inner)

	manifest := s.manifest()
	manifest.CapexMetadata = &apexfile.CapexMetadata{
		OriginalApexDigest:  s.OriginalDigest,
		OriginalApexVersion: s.OriginalVersion,
	}
	if manifest.CapexMetadata.OriginalApexDigest == "" {
		manifest.CapexMetadata.OriginalApexDigest = s.Digest()
	}
	codec := s.Codec
	if codec == "" {
		codec = apexfile.CodecDeflate
	}

	var buf bytes.Buffer
	if err := apexfile.PackCompressed(&buf, manifest, s.key(), bytes.NewReader(original), codec); err != nil {
		t.Fatalf("packing compressed %s: %v", s.Name, err)
	}
	return buf.Bytes()
}

// WriteApex writes an uncompressed archive to path and returns path.
func WriteApex(t testing.TB, path string, s Spec) string {
	t.Helper()
	writeFile(t, path, Bytes(t, s))
	return path
}

// WriteCapex writes a compressed archive to path and returns path.
func WriteCapex(t testing.TB, path string, s Spec) string {
	t.Helper()
	writeFile(t, path, CompressedBytes(t, s))
	return path
}

func writeFile(t testing.TB, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
