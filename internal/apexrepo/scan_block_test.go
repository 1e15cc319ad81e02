package apexrepo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/open-edge-platform/apex-catalog/internal/apexfile/apextest"
	"github.com/open-edge-platform/apex-catalog/internal/metadata"
	"github.com/open-edge-platform/apex-catalog/internal/metrics"
	"github.com/open-edge-platform/apex-catalog/internal/payloaddisk"
)

// writeBlockDevices lays out metadata and archive partitions as device nodes
// vda1, vda2, ... under a fresh directory and returns the directory.
func writeBlockDevices(t *testing.T, m *metadata.Metadata, specs []apextest.Spec) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := metadata.Write(filepath.Join(dir, "vda1"), m); err != nil {
		t.Fatalf("writing metadata: %v", err)
	}
	for i, spec := range specs {
		apextest.WriteApex(t, filepath.Join(dir, fmt.Sprintf("vda%d", i+2)), spec)
	}
	return dir
}

func blockOptions(t *testing.T) Options {
	return Options{
		BlockWaitTimeout:          100 * time.Millisecond,
		VMPayloadMetadataOverride: filepath.Join(t.TempDir(), "no-override"),
	}
}

func TestScanBlockDevices(t *testing.T) {
	foo := apextest.Spec{Name: "com.example.foo", Version: 1}
	bar := apextest.Spec{Name: "com.example.bar", Version: 2}
	m := &metadata.Metadata{
		Version: 1,
		Apexes: []metadata.ApexPayload{
			{Name: foo.Name, PublicKey: apextest.Key(foo.Name), IsFactory: true},
			{Name: bar.Name, RootDigest: []byte{0xab, 0xcd}, LastUpdateSeconds: 100},
		},
	}
	dir := writeBlockDevices(t, m, []apextest.Spec{foo, bar})
	fooPath := filepath.Join(dir, "vda2")
	barPath := filepath.Join(dir, "vda3")

	r := newTestRepo(t, blockOptions(t))
	added, err := r.ScanBlockDevices(filepath.Join(dir, "vda1"))
	if err != nil {
		t.Fatalf("ScanBlockDevices failed: %v", err)
	}
	if added != 2 {
		t.Errorf("added = %d, want 2", added)
	}
	if r.BlockDiskPath() != filepath.Join(dir, "vda") {
		t.Errorf("BlockDiskPath = %q", r.BlockDiskPath())
	}

	if path, _ := r.GetPreinstalledPath(foo.Name); path != fooPath {
		t.Errorf("factory block apex path = %q, want %q", path, fooPath)
	}
	if path, _ := r.GetDataPath(bar.Name); path != barPath {
		t.Errorf("non-factory block apex path = %q, want %q", path, barPath)
	}
	if !r.IsBlockApex(r.GetPreInstalledApex(foo.Name)) || !r.IsBlockApex(r.GetDataApex(bar.Name)) {
		t.Error("block archives not classified as block apexes")
	}
	if key, err := r.GetPublicKey(bar.Name); err != nil || string(key) != string(apextest.Key(bar.Name)) {
		t.Errorf("GetPublicKey of block-only package = %q, %v", key, err)
	}

	if digest, ok := r.GetBlockApexRootDigest(barPath); !ok || digest != "abcd" {
		t.Errorf("GetBlockApexRootDigest = %q, %v", digest, ok)
	}
	if secs, ok := r.GetBlockApexLastUpdateSeconds(barPath); !ok || secs != 100 {
		t.Errorf("GetBlockApexLastUpdateSeconds = %d, %v", secs, ok)
	}
	if _, ok := r.GetBlockApexRootDigest(fooPath); ok {
		t.Error("no override was recorded for foo")
	}
	if got := testutil.ToFloat64(metrics.ScannedApexes.WithLabelValues(metrics.StoreBlock)); got != 2 {
		t.Errorf("block scanned counter = %v, want 2", got)
	}

	expectAbort(t, func() { r.ScanBlockDevices(filepath.Join(dir, "vda1")) })

	r.Reset()
	if _, ok := r.GetBlockApexLastUpdateSeconds(barPath); ok {
		t.Error("Reset did not clear overrides")
	}
}

func TestScanBlockDevicesSkips(t *testing.T) {
	good := &metadata.Metadata{Version: 1, Apexes: []metadata.ApexPayload{{Name: "com.example.foo"}}}
	specs := []apextest.Spec{{Name: "com.example.foo", Version: 1}}

	t.Run("missing metadata partition", func(t *testing.T) {
		r := newTestRepo(t, blockOptions(t))
		added, err := r.ScanBlockDevices(filepath.Join(t.TempDir(), "vda1"))
		if err != nil || added != 0 {
			t.Errorf("ScanBlockDevices = %d, %v; want 0, nil", added, err)
		}
		if r.BlockDiskPath() != "" {
			t.Error("block disk path set without a metadata partition")
		}
	})

	t.Run("not the first partition", func(t *testing.T) {
		dir := writeBlockDevices(t, good, specs)
		r := newTestRepo(t, blockOptions(t))
		added, err := r.ScanBlockDevices(filepath.Join(dir, "vda2"))
		if err != nil || added != 0 {
			t.Errorf("ScanBlockDevices = %d, %v; want 0, nil", added, err)
		}
	})

	t.Run("unreadable metadata", func(t *testing.T) {
		dir := writeBlockDevices(t, good, specs)
		if err := os.WriteFile(filepath.Join(dir, "vda1"), []byte("garbage"), 0644); err != nil {
			t.Fatal(err)
		}
		r := newTestRepo(t, blockOptions(t))
		added, err := r.ScanBlockDevices(filepath.Join(dir, "vda1"))
		if err != nil || added != 0 {
			t.Errorf("ScanBlockDevices = %d, %v; want 0, nil", added, err)
		}
	})
}

func TestScanBlockDevicesMetadataOverride(t *testing.T) {
	m := &metadata.Metadata{Version: 1, Apexes: []metadata.ApexPayload{{Name: "com.example.foo", IsFactory: true}}}
	dir := writeBlockDevices(t, m, []apextest.Spec{{Name: "com.example.foo", Version: 1}})
	if err := os.WriteFile(filepath.Join(dir, "vda1"), []byte("garbage"), 0644); err != nil {
		t.Fatal(err)
	}

	opts := blockOptions(t)
	if err := metadata.Write(opts.VMPayloadMetadataOverride, m); err != nil {
		t.Fatal(err)
	}
	r := newTestRepo(t, opts)
	added, err := r.ScanBlockDevices(filepath.Join(dir, "vda1"))
	if err != nil || added != 1 {
		t.Fatalf("ScanBlockDevices = %d, %v; want 1, nil", added, err)
	}
}

func TestScanBlockDevicesErrors(t *testing.T) {
	tests := []struct {
		name    string
		entries []metadata.ApexPayload
		specs   []apextest.Spec
		wantErr error
	}{
		{
			name:    "public key mismatch",
			entries: []metadata.ApexPayload{{Name: "com.example.foo", PublicKey: []byte("expected")}},
			specs:   []apextest.Spec{{Name: "com.example.foo", Version: 1}},
			wantErr: ErrPublicKeyMismatch,
		},
		{
			name: "duplicate factory entries",
			entries: []metadata.ApexPayload{
				{Name: "com.example.foo", IsFactory: true},
				{Name: "com.example.foo", IsFactory: true},
			},
			specs:   []apextest.Spec{{Name: "com.example.foo", Version: 1}, {Name: "com.example.foo", Version: 2}},
			wantErr: ErrDuplicateApex,
		},
		{
			name: "duplicate data entries",
			entries: []metadata.ApexPayload{
				{Name: "com.example.foo"},
				{Name: "com.example.foo"},
			},
			specs:   []apextest.Spec{{Name: "com.example.foo", Version: 1}, {Name: "com.example.foo", Version: 2}},
			wantErr: ErrDuplicateApex,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeBlockDevices(t, &metadata.Metadata{Version: 1, Apexes: tt.entries}, tt.specs)
			r := newTestRepo(t, blockOptions(t))
			if _, err := r.ScanBlockDevices(filepath.Join(dir, "vda1")); !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	t.Run("missing partition", func(t *testing.T) {
		m := &metadata.Metadata{Version: 1, Apexes: []metadata.ApexPayload{{Name: "a"}, {Name: "b"}}}
		dir := writeBlockDevices(t, m, []apextest.Spec{{Name: "a", Version: 1}})
		r := newTestRepo(t, blockOptions(t))
		if _, err := r.ScanBlockDevices(filepath.Join(dir, "vda1")); err == nil {
			t.Error("expected error for a listed partition that never appears")
		}
	})

	t.Run("factory and data entries may share a name", func(t *testing.T) {
		m := &metadata.Metadata{Version: 1, Apexes: []metadata.ApexPayload{
			{Name: "com.example.foo", IsFactory: true},
			{Name: "com.example.foo"},
		}}
		dir := writeBlockDevices(t, m, []apextest.Spec{{Name: "com.example.foo", Version: 1}, {Name: "com.example.foo", Version: 2}})
		r := newTestRepo(t, blockOptions(t))
		if added, err := r.ScanBlockDevices(filepath.Join(dir, "vda1")); err != nil || added != 2 {
			t.Errorf("ScanBlockDevices = %d, %v; want 2, nil", added, err)
		}
	})
}

func TestScanDataPinsBlockOnlyPackages(t *testing.T) {
	m := &metadata.Metadata{Version: 1, Apexes: []metadata.ApexPayload{{Name: "com.example.vm"}}}
	dir := writeBlockDevices(t, m, []apextest.Spec{{Name: "com.example.vm", Version: 1}})

	dataDir := filepath.Join(t.TempDir(), "data")
	apextest.WriteApex(t, filepath.Join(dataDir, "a.apex"), apextest.Spec{Name: "com.example.vm", Version: 2, PublicKey: []byte("intruder")})

	r := newTestRepo(t, blockOptions(t))
	if _, err := r.ScanBlockDevices(filepath.Join(dir, "vda1")); err != nil {
		t.Fatalf("ScanBlockDevices failed: %v", err)
	}
	if err := r.ScanData(dataDir); err != nil {
		t.Fatalf("ScanData failed: %v", err)
	}
	if got := testutil.ToFloat64(metrics.RejectedApexes.WithLabelValues(reasonKeyMismatch)); got != 1 {
		t.Errorf("key mismatch rejections = %v, want 1", got)
	}
	if path, _ := r.GetDataPath("com.example.vm"); path != filepath.Join(dir, "vda2") {
		t.Errorf("block entry replaced by %s", path)
	}
}

func TestScanBlockDevicesFromPayloadDisk(t *testing.T) {
	tempDir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	foo := apextest.Spec{Name: "com.example.foo", Version: 3}
	fooPath := apextest.WriteApex(t, filepath.Join(tempDir, "foo.apex"), foo)
	m := &metadata.Metadata{Version: 1, Apexes: []metadata.ApexPayload{
		{Name: foo.Name, IsFactory: true, PublicKey: apextest.Key(foo.Name)},
	}}

	img := filepath.Join(tempDir, "payload.img")
	if _, err := payloaddisk.Build(img, m, []string{fooPath}); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	metadataPath, err := payloaddisk.Extract(img, filepath.Join(tempDir, "dev"), "vdb")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	r := newTestRepo(t, blockOptions(t))
	added, err := r.ScanBlockDevices(metadataPath)
	if err != nil || added != 1 {
		t.Fatalf("ScanBlockDevices = %d, %v; want 1, nil", added, err)
	}
	apex := r.GetPreInstalledApex(foo.Name)
	digest, err := apex.VerifyAndGetRootDigest(apex.BundledPublicKey())
	if err != nil || digest != foo.Digest() {
		t.Errorf("block apex digest = %s, %v; want %s", digest, err, foo.Digest())
	}
}
