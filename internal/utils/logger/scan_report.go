package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ScanReport collects artifacts that a scan looked at and skipped, together
// with the reason, so they can be inspected after boot.
type ScanReport struct {
	Title string

	mu    sync.Mutex
	items []string
}

// GlobalScanReport is the report the catalog appends to by default.
var GlobalScanReport = NewScanReport("skipped")

// NewScanReport returns an empty report.
func NewScanReport(title string) *ScanReport {
	return &ScanReport{Title: title}
}

// Add records one skipped artifact.
func (r *ScanReport) Add(path, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, fmt.Sprintf("%s: %s", path, reason))
}

// Items returns a copy of the recorded entries.
func (r *ScanReport) Items() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.items))
	copy(out, r.items)
	return out
}

// Reset drops all recorded entries.
func (r *ScanReport) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = nil
}

// WriteToDir appends the report to dir/skipped-<title>.txt and clears it.
// The title is sanitised for use in a filename.
func (r *ScanReport) WriteToDir(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating report directory: %w", err)
	}

	title := r.Title
	if title == "" {
		title = "untitled"
	}
	safeTitle := make([]rune, 0, len(title))
	for _, c := range title {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			safeTitle = append(safeTitle, c)
		} else {
			safeTitle = append(safeTitle, '_')
		}
	}

	reportPath := filepath.Join(dir, fmt.Sprintf("skipped-%s.txt", string(safeTitle)))
	f, err := os.OpenFile(reportPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", fmt.Errorf("opening report file: %w", err)
	}
	defer f.Close()

	for _, item := range r.Items() {
		if _, err := fmt.Fprintln(f, item); err != nil {
			return "", fmt.Errorf("writing to report file: %w", err)
		}
	}
	r.Reset()
	return reportPath, nil
}
