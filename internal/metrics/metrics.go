// Package metrics holds the counters exported by the catalog and the
// decompression cache. They live on a private registry so tests and the CLI
// can gather them without touching the default prometheus registry.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Store labels for ScannedApexes.
const (
	StorePreInstalled = "preinstalled"
	StoreData         = "data"
	StoreBlock        = "block"
)

// Result labels for DecompressedApexes.
const (
	ResultReused       = "reused"
	ResultRenamed      = "renamed"
	ResultDecompressed = "decompressed"
	ResultFailed       = "failed"
)

var (
	Registry = prometheus.NewRegistry()

	ScannedApexes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "apex_catalog",
		Name:      "scanned_total",
		Help:      "Archives accepted into a variant store, by store.",
	}, []string{"store"})

	RejectedApexes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "apex_catalog",
		Name:      "rejected_total",
		Help:      "Archives skipped during a scan, by reason.",
	}, []string{"reason"})

	DecompressedApexes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "apex_catalog",
		Name:      "decompressed_total",
		Help:      "Compressed archives processed by the decompression cache, by result.",
	}, []string{"result"})
)

func init() {
	Registry.MustRegister(ScannedApexes, RejectedApexes, DecompressedApexes)
}

// Reset zeroes every counter. Tests use it for isolation.
func Reset() {
	ScannedApexes.Reset()
	RejectedApexes.Reset()
	DecompressedApexes.Reset()
}

// WriteTextfile writes the current values in the node-exporter textfile format.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, Registry); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}
