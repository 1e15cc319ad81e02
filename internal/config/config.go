// Package config loads the global apex-catalog configuration.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
	sigsyaml "sigs.k8s.io/yaml"

	"github.com/open-edge-platform/apex-catalog/internal/utils/logger"
)

// EnvPrefix prefixes every environment override, e.g. APEXD_DATA_DIR.
const EnvPrefix = "APEXD"

//go:embed schema/global-config.schema.json
var globalConfigSchema []byte

const schemaURL = "global-config.schema.json"

// GlobalConfig holds the settings shared by every command.
type GlobalConfig struct {
	PreinstalledDirs          []string           `yaml:"preinstalledDirs" split_words:"true"`
	DataDir                   string             `yaml:"dataDir" split_words:"true"`
	DecompressionDir          string             `yaml:"decompressionDir" split_words:"true"`
	OtaReservedDir            string             `yaml:"otaReservedDir" split_words:"true"`
	BlockMetadataPartition    string             `yaml:"blockMetadataPartition" split_words:"true"`
	VMPayloadMetadataOverride string             `yaml:"vmPayloadMetadataOverride" split_words:"true"`
	BlockWaitTimeout          time.Duration      `yaml:"blockWaitTimeout" split_words:"true"`
	MultiInstall              MultiInstallConfig `yaml:"multiInstall" split_words:"true"`
	PropertyFiles             []string           `yaml:"propertyFiles" split_words:"true"`
	Properties                map[string]string  `yaml:"properties"`
	ReportDir                 string             `yaml:"reportDir" split_words:"true"`
	MetricsFile               string             `yaml:"metricsFile" split_words:"true"`
	Logging                   LoggingConfig      `yaml:"logging"`
}

// MultiInstallConfig controls how multi-install packages are resolved.
type MultiInstallConfig struct {
	// PropPrefixes are property key prefixes, highest priority first.
	PropPrefixes      []string `yaml:"propPrefixes" split_words:"true"`
	EnforcePartition  bool     `yaml:"enforcePartition" split_words:"true"`
	AllowedPartitions []string `yaml:"allowedPartitions" split_words:"true"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultGlobalConfig returns the device layout defaults.
func DefaultGlobalConfig() *GlobalConfig {
	return &GlobalConfig{
		PreinstalledDirs: []string{
			"/system/apex",
			"/system_ext/apex",
			"/product/apex",
			"/vendor/apex",
			"/odm/apex",
		},
		DataDir:                   "/data/apex/active",
		DecompressionDir:          "/data/apex/decompressed",
		OtaReservedDir:            "/data/apex/ota_reserved",
		VMPayloadMetadataOverride: "/apex/vm-payload-metadata",
		BlockWaitTimeout:          10 * time.Second,
		MultiInstall: MultiInstallConfig{
			PropPrefixes:      []string{"persist.vendor.apex.", "ro.boot.vendor.apex."},
			EnforcePartition:  true,
			AllowedPartitions: []string{"/vendor/apex/", "/odm/apex/"},
		},
		PropertyFiles: []string{
			"/system/build.prop",
			"/vendor/build.prop",
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// LoadGlobalConfig reads path over the defaults and applies APEXD_*
// environment overrides. An empty path skips the file.
func LoadGlobalConfig(path string) (*GlobalConfig, error) {
	cfg := DefaultGlobalConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := ValidateGlobalConfigYAML(data); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
		logger.Logger().Debugf("Loaded configuration from %s", path)
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ValidateGlobalConfigYAML checks a YAML document against the embedded
// schema.
func ValidateGlobalConfigYAML(data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	jsonData, err := sigsyaml.YAMLToJSON(data)
	if err != nil {
		return fmt.Errorf("converting YAML: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal(jsonData, &doc); err != nil {
		return fmt.Errorf("decoding config: %w", err)
	}
	if doc == nil {
		return nil
	}

	schema, err := compileSchema()
	if err != nil {
		return err
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

func compileSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, bytes.NewReader(globalConfigSchema)); err != nil {
		return nil, fmt.Errorf("loading config schema: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// Validate checks values the schema cannot express.
func (c *GlobalConfig) Validate() error {
	if c.DecompressionDir == "" {
		return fmt.Errorf("decompressionDir must not be empty")
	}
	if c.BlockWaitTimeout <= 0 {
		return fmt.Errorf("blockWaitTimeout must be positive, got %s", c.BlockWaitTimeout)
	}
	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	return nil
}
