// Package activation chooses which archive of each package is activated.
package activation

import (
	"sort"

	"github.com/open-edge-platform/apex-catalog/internal/apexfile"
	"github.com/open-edge-platform/apex-catalog/internal/apexrepo"
	"github.com/open-edge-platform/apex-catalog/internal/utils/logger"
)

// Catalog classifies archives as pre-installed.
type Catalog interface {
	IsPreInstalledApex(apex *apexfile.ApexFile) bool
}

// SelectApexForActivation returns one archive per package name in groups,
// ordered by name. A name without a pre-installed candidate is left out. The
// highest version wins; at equal versions a non-pre-installed candidate beats
// a pre-installed one, and among several the last one listed wins.
func SelectApexForActivation(groups map[string][]*apexfile.ApexFile, catalog Catalog) []*apexfile.ApexFile {
	log := logger.Logger()

	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	selected := make([]*apexfile.ApexFile, 0, len(names))
	for _, name := range names {
		var best *apexfile.ApexFile
		hasPreInstalled := false
		for _, apex := range groups[name] {
			preInstalled := catalog.IsPreInstalledApex(apex)
			if preInstalled {
				hasPreInstalled = true
			}
			switch {
			case best == nil:
				best = apex
			case apex.Version() > best.Version():
				best = apex
			case apex.Version() == best.Version() && !preInstalled:
				best = apex
			}
		}

		if !hasPreInstalled {
			log.Infof("Skipping %s: no pre-installed version", name)
			continue
		}
		if best.ProvidesSharedApexLibs() {
			log.Debugf("%s provides shared libs, only %s is selected", name, best.Path())
		}
		log.Debugf("Selected %s for activation", best)
		selected = append(selected, best)
	}
	return selected
}

// Select runs SelectApexForActivation over everything repo knows.
func Select(repo *apexrepo.Repository) []*apexfile.ApexFile {
	return SelectApexForActivation(repo.AllApexFilesByName(), repo)
}
