package apexrepo

import (
	"sort"

	"github.com/open-edge-platform/apex-catalog/internal/apexfile"
)

// variantStore maps a package name to the one archive of a provenance class.
// Entries are replaced wholesale, never mutated.
type variantStore map[string]*apexfile.ApexFile

func (s variantStore) get(name string) (*apexfile.ApexFile, bool) {
	apex, ok := s[name]
	return apex, ok
}

func (s variantStore) put(apex *apexfile.ApexFile) {
	s[apex.Name()] = apex
}

func (s variantStore) remove(name string) {
	delete(s, name)
}

// sorted returns the entries ordered by name.
func (s variantStore) sorted() []*apexfile.ApexFile {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*apexfile.ApexFile, 0, len(names))
	for _, name := range names {
		out = append(out, s[name])
	}
	return out
}
