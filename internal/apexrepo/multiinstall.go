package apexrepo

import (
	"path/filepath"
	"strings"

	"github.com/open-edge-platform/apex-catalog/internal/apexfile"
	"github.com/open-edge-platform/apex-catalog/internal/sysprop"
)

// MultiInstallResolver picks which of several same-named pre-installed
// archives is selected. Prefixes are property key prefixes in priority order.
type MultiInstallResolver struct {
	Prefixes   []string
	Properties sysprop.Reader
}

// Selection returns the suffix-stripped file name selected for name, or ""
// when name is not a multi-install package.
func (m MultiInstallResolver) Selection(name string) string {
	if m.Properties == nil {
		return ""
	}
	for _, prefix := range m.Prefixes {
		if value := m.Properties.GetProperty(prefix+name, ""); value != "" {
			return stripApexSuffix(value)
		}
	}
	return ""
}

func stripApexSuffix(name string) string {
	for _, suffix := range []string{apexfile.CompressedApexSuffix, apexfile.ApexSuffix} {
		if strings.HasSuffix(name, suffix) {
			return strings.TrimSuffix(name, suffix)
		}
	}
	return name
}

// selectionName is the base name of path as compared to a selection.
func selectionName(path string) string {
	return stripApexSuffix(filepath.Base(path))
}
