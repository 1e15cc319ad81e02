// Package blockdev waits for device nodes and derives partition paths of the
// VM payload disk.
package blockdev

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrTimeout is returned by WaitForFile when path did not appear in time.
var ErrTimeout = errors.New("timed out waiting for file")

// PollInterval is how often WaitForFile re-checks the path in addition to
// watching the parent directory.
var PollInterval = 50 * time.Millisecond

// WaitForFile blocks until path exists or timeout expires. The parent
// directory is watched with fsnotify when possible; polling covers
// filesystems that do not report events, such as devtmpfs in some
// containers.
func WaitForFile(path string, timeout time.Duration) error {
	if exists(path) {
		return nil
	}

	var events chan fsnotify.Event
	var errs chan error
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer watcher.Close()
		if err := watcher.Add(filepath.Dir(path)); err == nil {
			events = watcher.Events
			errs = watcher.Errors
		}
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	// The file may have appeared while the watch was being set up.
	if exists(path) {
		return nil
	}

	for {
		select {
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if event.Has(fsnotify.Create) && filepath.Clean(event.Name) == filepath.Clean(path) && exists(path) {
				return nil
			}
		case _, ok := <-errs:
			if !ok {
				errs = nil
			}
		case <-ticker.C:
			if exists(path) {
				return nil
			}
		case <-deadline.C:
			return fmt.Errorf("%s after %s: %w", path, timeout, ErrTimeout)
		}
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// BaseDiskPath resolves the metadata partition and returns the disk path its
// sibling partitions share. The metadata partition must be partition 1.
func BaseDiskPath(metadataPartition string) (string, error) {
	resolved, err := filepath.EvalSymlinks(metadataPartition)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", metadataPartition, err)
	}
	if !strings.HasSuffix(resolved, "1") {
		return "", fmt.Errorf("%s (%s) is not the first partition", metadataPartition, resolved)
	}
	return strings.TrimSuffix(resolved, "1"), nil
}

// PartitionPath returns the device path of partition index on base.
func PartitionPath(base string, index int) string {
	return base + strconv.Itoa(index)
}
