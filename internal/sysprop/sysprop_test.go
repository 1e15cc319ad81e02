package sysprop

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetPropertyDefault(t *testing.T) {
	props := Properties{"persist.vendor.apex.com.foo": "", "ro.build.version.codename": "REL"}

	if got := props.GetProperty("ro.build.version.codename", "x"); got != "REL" {
		t.Errorf("GetProperty = %q, want REL", got)
	}
	if got := props.GetProperty("persist.vendor.apex.com.foo", "fallback"); got != "fallback" {
		t.Errorf("empty property should yield default, got %q", got)
	}
	if got := props.GetProperty("missing", ""); got != "" {
		t.Errorf("missing property should yield empty default, got %q", got)
	}
}

func TestLoadFiles(t *testing.T) {
	dir := t.TempDir()
	system := filepath.Join(dir, "build.prop")
	vendor := filepath.Join(dir, "vendor.prop")

	systemContent := `# system properties
ro.build.version.codename=UpsideDownCake
persist.vendor.apex.com.android.foo="com.android.foo_v2.apex"
import /vendor/etc/extra.prop
malformed-line
`
	vendorContent := `ro.build.version.codename=REL
persist.vendor.apex.com.android.foo=com.android.foo_v3.apex
`
	if err := os.WriteFile(system, []byte(systemContent), 0644); err != nil {
		t.Fatalf("writing %s: %v", system, err)
	}
	if err := os.WriteFile(vendor, []byte(vendorContent), 0644); err != nil {
		t.Fatalf("writing %s: %v", vendor, err)
	}

	props, err := LoadFiles(system, filepath.Join(dir, "absent.prop"), vendor)
	if err != nil {
		t.Fatalf("LoadFiles failed: %v", err)
	}

	if got := props.GetProperty("ro.build.version.codename", ""); got != "UpsideDownCake" {
		t.Errorf("read-only property overridden: got %q", got)
	}
	if got := props.GetProperty("persist.vendor.apex.com.android.foo", ""); got != "com.android.foo_v3.apex" {
		t.Errorf("persist property should take the later value, got %q", got)
	}
	if _, ok := props["malformed-line"]; ok {
		t.Errorf("malformed line should be ignored")
	}
}
