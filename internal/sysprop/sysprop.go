// Package sysprop provides read access to system properties, the key/value
// configuration the catalog consults for multi-install selection and build
// codename checks.
package sysprop

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/open-edge-platform/apex-catalog/internal/utils/logger"
)

// Reader is the single operation the catalog needs from a property store.
type Reader interface {
	GetProperty(key, defaultValue string) string
}

// Properties is an in-memory property store.
type Properties map[string]string

// GetProperty returns the value of key, or defaultValue when it is unset or empty.
func (p Properties) GetProperty(key, defaultValue string) string {
	if v, ok := p[key]; ok && v != "" {
		return v
	}
	return defaultValue
}

// Set assigns a property. Read-only ("ro.") properties keep their first value.
func (p Properties) Set(key, value string) bool {
	if strings.HasPrefix(key, "ro.") {
		if _, exists := p[key]; exists {
			return false
		}
	}
	p[key] = value
	return true
}

// LoadFiles reads build.prop style files in order. Missing files are skipped.
func LoadFiles(paths ...string) (Properties, error) {
	log := logger.Logger()
	props := Properties{}

	for _, path := range paths {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			log.Debugf("property file %s does not exist, skipping", path)
			continue
		}
		if err := props.loadFile(path); err != nil {
			return nil, err
		}
	}
	return props, nil
}

func (p Properties) loadFile(path string) error {
	log := logger.Logger()

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "import ") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			log.Warnf("ignoring malformed property at %s:%d", path, lineNo)
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), "\"")
		if key == "" {
			continue
		}
		if !p.Set(key, value) {
			log.Debugf("property %s already set, ignoring override from %s", key, path)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading %s: %w", path, err)
	}
	return nil
}
