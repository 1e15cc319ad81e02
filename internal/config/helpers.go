package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ConfigHelpers provides convenient access to global configuration
type ConfigHelpers struct {
	config *GlobalConfig
}

// NewConfigHelpers creates a new config helpers instance
func NewConfigHelpers(config *GlobalConfig) *ConfigHelpers {
	return &ConfigHelpers{config: config}
}

// DecompressionDir returns the absolute path to the decompression directory
func (c *ConfigHelpers) DecompressionDir() (string, error) {
	return filepath.Abs(c.config.DecompressionDir)
}

// OtaReservedDir returns the absolute path to the reservation directory
func (c *ConfigHelpers) OtaReservedDir() (string, error) {
	return filepath.Abs(c.config.OtaReservedDir)
}

// BlockWaitTimeout returns the bounded wait for payload device nodes
func (c *ConfigHelpers) BlockWaitTimeout() time.Duration {
	return c.config.BlockWaitTimeout
}

// BlockScanEnabled reports whether a VM payload metadata partition is configured
func (c *ConfigHelpers) BlockScanEnabled() bool {
	return c.config.BlockMetadataPartition != ""
}

// LogLevel returns the configured log level
func (c *ConfigHelpers) LogLevel() string {
	return c.config.Logging.Level
}

// IsDebugMode returns true if debug logging is enabled
func (c *ConfigHelpers) IsDebugMode() bool {
	return c.config.Logging.Level == "debug"
}

// GetConfig returns the underlying global config (for advanced usage)
func (c *ConfigHelpers) GetConfig() *GlobalConfig {
	return c.config
}

// CreateDecompressionDir ensures the decompression directory exists
func (c *ConfigHelpers) CreateDecompressionDir() (string, error) {
	dir, err := c.DecompressionDir()
	if err != nil {
		return "", fmt.Errorf("resolving decompression directory: %w", err)
	}
	return dir, createDirIfNotExists(dir)
}

// CreateOtaReservedDir ensures the reservation directory exists
func (c *ConfigHelpers) CreateOtaReservedDir() (string, error) {
	if c.config.OtaReservedDir == "" {
		return "", fmt.Errorf("otaReservedDir is not configured")
	}
	dir, err := c.OtaReservedDir()
	if err != nil {
		return "", fmt.Errorf("resolving reservation directory: %w", err)
	}
	return dir, createDirIfNotExists(dir)
}

// Helper function to create directories
func createDirIfNotExists(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}
