package apexfile_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"

	"github.com/open-edge-platform/apex-catalog/internal/apexfile"
	"github.com/open-edge-platform/apex-catalog/internal/apexfile/apextest"
)

func TestOpenUncompressed(t *testing.T) {
	dir := t.TempDir()
	path := apextest.WriteApex(t, filepath.Join(dir, "com.example.foo.apex"), apextest.Spec{
		Name:        "com.example.foo",
		Version:     3,
		VersionName: "3.0",
		SharedLibs:  true,
	})

	apex, err := apexfile.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if apex.Path() != path {
		t.Errorf("Path = %q, want %q", apex.Path(), path)
	}
	if apex.Name() != "com.example.foo" || apex.Version() != 3 || apex.VersionName() != "3.0" {
		t.Errorf("unexpected manifest %+v", apex.Manifest())
	}
	if !apex.ProvidesSharedApexLibs() {
		t.Error("expected shared libs flag")
	}
	if apex.IsCompressed() {
		t.Error("uncompressed apex reported as compressed")
	}
	if !bytes.Equal(apex.BundledPublicKey(), apextest.Key("com.example.foo")) {
		t.Errorf("unexpected bundled key %q", apex.BundledPublicKey())
	}
	if apex.RootDigest() != "" {
		t.Errorf("root digest set before verification: %q", apex.RootDigest())
	}
}

func TestOpenErrors(t *testing.T) {
	dir := t.TempDir()

	notZip := filepath.Join(dir, "garbage.apex")
	if err := os.WriteFile(notZip, []byte("not an archive"), 0644); err != nil {
		t.Fatal(err)
	}

	var noName bytes.Buffer
	if err := apexfile.Pack(&noName, apexfile.PackOptions{Manifest: apexfile.Manifest{Version: 1}}); err == nil {
		t.Fatal("expected Pack to reject a manifest without a name")
	}

	tests := []struct {
		name string
		path string
	}{
		{name: "missing file", path: filepath.Join(dir, "missing.apex")},
		{name: "not a zip", path: notZip},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := apexfile.Open(tt.path); err == nil {
				t.Errorf("expected error opening %s", tt.path)
			}
		})
	}
}

func TestVerifyAndGetRootDigest(t *testing.T) {
	dir := t.TempDir()
	spec := apextest.Spec{Name: "com.example.foo", Version: 1}
	path := apextest.WriteApex(t, filepath.Join(dir, "foo.apex"), spec)

	apex, err := apexfile.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if _, err := apex.VerifyAndGetRootDigest([]byte("other key")); !errors.Is(err, apexfile.ErrKeyMismatch) {
		t.Errorf("expected ErrKeyMismatch, got %v", err)
	}

	digest, err := apex.VerifyAndGetRootDigest(apex.BundledPublicKey())
	if err != nil {
		t.Fatalf("VerifyAndGetRootDigest failed: %v", err)
	}
	if digest != spec.Digest() {
		t.Errorf("digest = %s, want %s", digest, spec.Digest())
	}
	if apex.RootDigest() != digest {
		t.Errorf("RootDigest = %s, want %s", apex.RootDigest(), digest)
	}
}

func TestPayloadSignature(t *testing.T) {
	entity, err := openpgp.NewEntity("apex signer", "", "signer@example.com", nil)
	if err != nil {
		t.Fatalf("NewEntity failed: %v", err)
	}
	var pub bytes.Buffer
	if err := entity.Serialize(&pub); err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	payload := []byte("signed payload image")
	var sig bytes.Buffer
	if err := openpgp.DetachSign(&sig, entity, bytes.NewReader(payload), nil); err != nil {
		t.Fatalf("DetachSign failed: %v", err)
	}
	var badSig bytes.Buffer
	if err := openpgp.DetachSign(&badSig, entity, bytes.NewReader([]byte("something else")), nil); err != nil {
		t.Fatalf("DetachSign failed: %v", err)
	}

	dir := t.TempDir()
	good := apextest.WriteApex(t, filepath.Join(dir, "good.apex"), apextest.Spec{
		Name: "com.example.signed", Version: 1, PublicKey: pub.Bytes(), Payload: payload, Signature: sig.Bytes(),
	})
	bad := apextest.WriteApex(t, filepath.Join(dir, "bad.apex"), apextest.Spec{
		Name: "com.example.signed", Version: 1, PublicKey: pub.Bytes(), Payload: payload, Signature: badSig.Bytes(),
	})

	apex, err := apexfile.Open(good)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	digest, err := apex.VerifyAndGetRootDigest(pub.Bytes())
	if err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
	if digest != apextest.PayloadDigest(payload) {
		t.Errorf("digest = %s, want %s", digest, apextest.PayloadDigest(payload))
	}

	apex, err = apexfile.Open(bad)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := apex.VerifyAndGetRootDigest(pub.Bytes()); err == nil {
		t.Error("expected signature verification to fail")
	}
}

func TestDecompressCodecs(t *testing.T) {
	codecs := []apexfile.Codec{
		apexfile.CodecStore,
		apexfile.CodecDeflate,
		apexfile.CodecXZ,
		apexfile.CodecZstd,
		apexfile.CodecLZ4,
	}
	for _, codec := range codecs {
		t.Run(string(codec), func(t *testing.T) {
			dir := t.TempDir()
			spec := apextest.Spec{Name: "com.example.compressed", Version: 7, Codec: codec}
			path := apextest.WriteCapex(t, filepath.Join(dir, "compressed.capex"), spec)

			capex, err := apexfile.Open(path)
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			if !capex.IsCompressed() {
				t.Fatal("expected compressed apex")
			}
			if capex.OriginalApexDigest() != spec.Digest() {
				t.Errorf("OriginalApexDigest = %s, want %s", capex.OriginalApexDigest(), spec.Digest())
			}
			if capex.OriginalApexVersion() != 7 {
				t.Errorf("OriginalApexVersion = %d, want 7", capex.OriginalApexVersion())
			}
			if _, err := capex.VerifyAndGetRootDigest(capex.BundledPublicKey()); !errors.Is(err, apexfile.ErrCompressed) {
				t.Errorf("expected ErrCompressed, got %v", err)
			}

			target := filepath.Join(dir, "out.apex")
			decompressed, err := capex.Decompress(target)
			if err != nil {
				t.Fatalf("Decompress failed: %v", err)
			}
			if decompressed.IsCompressed() || decompressed.Name() != spec.Name || decompressed.Version() != 7 {
				t.Errorf("unexpected decompressed apex %s", decompressed)
			}
			digest, err := decompressed.VerifyAndGetRootDigest(decompressed.BundledPublicKey())
			if err != nil {
				t.Fatalf("verify decompressed: %v", err)
			}
			if digest != spec.Digest() {
				t.Errorf("decompressed digest = %s, want %s", digest, spec.Digest())
			}
		})
	}
}

func TestDecompressUncompressed(t *testing.T) {
	dir := t.TempDir()
	path := apextest.WriteApex(t, filepath.Join(dir, "foo.apex"), apextest.Spec{Name: "com.example.foo", Version: 1})
	apex, err := apexfile.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	target := filepath.Join(dir, "out.apex")
	if _, err := apex.Decompress(target); !errors.Is(err, apexfile.ErrNotCompressed) {
		t.Errorf("expected ErrNotCompressed, got %v", err)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Errorf("target should not exist, stat err = %v", err)
	}
}

func TestCompressApex(t *testing.T) {
	dir := t.TempDir()
	spec := apextest.Spec{Name: "com.example.foo", Version: 12}
	src := apextest.WriteApex(t, filepath.Join(dir, "foo.apex"), spec)
	dst := filepath.Join(dir, "foo.capex")

	if err := apexfile.CompressApex(src, dst, apexfile.CodecZstd); err != nil {
		t.Fatalf("CompressApex failed: %v", err)
	}
	capex, err := apexfile.Open(dst)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !capex.IsCompressed() {
		t.Fatal("expected compressed apex")
	}
	if capex.OriginalApexDigest() != spec.Digest() || capex.OriginalApexVersion() != 12 {
		t.Errorf("unexpected capex metadata %+v", capex.Manifest().CapexMetadata)
	}

	if err := apexfile.CompressApex(dst, filepath.Join(dir, "again.capex"), apexfile.CodecZstd); !errors.Is(err, apexfile.ErrCompressed) {
		t.Errorf("expected ErrCompressed, got %v", err)
	}
}

func TestParseCodec(t *testing.T) {
	if c, err := apexfile.ParseCodec("xz"); err != nil || c != apexfile.CodecXZ {
		t.Errorf("ParseCodec(xz) = %q, %v", c, err)
	}
	if _, err := apexfile.ParseCodec("brotli"); err == nil {
		t.Error("expected error for unknown codec")
	}
}
