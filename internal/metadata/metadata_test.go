package metadata

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata")
	want := &Metadata{
		Version: 1,
		Apexes: []ApexPayload{
			{Name: "com.example.foo", PublicKey: []byte("key"), IsFactory: true},
			{Name: "com.example.bar", RootDigest: []byte{0xde, 0xad}, LastUpdateSeconds: 1700000000},
		},
	}
	if err := Write(path, want); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	// Partitions are padded to a sector boundary.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write(make([]byte, 300)); err != nil {
		t.Fatal(err)
	}
	f.Close()

	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got.Version != 1 || len(got.Apexes) != 2 {
		t.Fatalf("unexpected metadata %+v", got)
	}
	foo, bar := got.Apexes[0], got.Apexes[1]
	if foo.Name != "com.example.foo" || string(foo.PublicKey) != "key" || !foo.IsFactory {
		t.Errorf("unexpected first entry %+v", foo)
	}
	if bar.Name != "com.example.bar" || bar.IsFactory || bar.LastUpdateSeconds != 1700000000 || len(bar.RootDigest) != 2 {
		t.Errorf("unexpected second entry %+v", bar)
	}
	if len(bar.PublicKey) != 0 {
		t.Errorf("expected no public key, got %q", bar.PublicKey)
	}
}

func TestDecodeErrors(t *testing.T) {
	valid, err := Marshal(&Metadata{Version: 1, Apexes: []ApexPayload{{Name: "a"}}})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	badVersion := append([]byte(nil), valid...)
	binary.BigEndian.PutUint32(badVersion[0:4], 9)

	huge := append([]byte(nil), valid...)
	binary.BigEndian.PutUint32(huge[4:8], maxPayloadSize+1)

	noName, err := Marshal(&Metadata{Version: 1, Apexes: []ApexPayload{{}}})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	tests := []struct {
		name    string
		data    []byte
		wantErr string
	}{
		{name: "short header", data: valid[:4], wantErr: "header"},
		{name: "bad version", data: badVersion, wantErr: "unsupported metadata format version 9"},
		{name: "oversized", data: huge, wantErr: "too large"},
		{name: "truncated payload", data: valid[:len(valid)-1], wantErr: "payload"},
		{name: "garbage payload", data: append(append([]byte(nil), valid[:4]...), 0, 0, 0, 1, 0xff), wantErr: "decoding"},
		{name: "entry without name", data: noName, wantErr: "has no name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal(tt.data)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestReadMissing(t *testing.T) {
	if _, err := Read(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}
