package backup

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ConfigLoader handles loading and parsing the engine configuration
type ConfigLoader struct {
	configPath string
}

// NewConfigLoader creates a new configuration loader
func NewConfigLoader(configPath string) *ConfigLoader {
	return &ConfigLoader{
		configPath: configPath,
	}
}

// LoadConfig layers defaults, the YAML file and AUTOBACKUP_* environment
// variables, in that order, and validates the result
func (cl *ConfigLoader) LoadConfig() (*Config, error) {
	config := DefaultConfig()

	if cl.configPath != "" {
		if err := cl.loadFromFile(config); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	config.LoadFromEnvironment()
	config.SetDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// loadFromFile loads configuration from a YAML file. A missing file is not
// an error.
func (cl *ConfigLoader) loadFromFile(config *Config) error {
	if _, err := os.Stat(cl.configPath); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(cl.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cl.configPath, err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return nil
}

// SaveConfig saves the configuration to a YAML file
func (cl *ConfigLoader) SaveConfig(config *Config) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("cannot save invalid configuration: %w", err)
	}

	dir := filepath.Dir(cl.configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(cl.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadConfigFromBytes loads configuration from YAML bytes
func LoadConfigFromBytes(data []byte) (*Config, error) {
	config := DefaultConfig()

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	config.LoadFromEnvironment()
	config.SetDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// GenerateDefaultConfigYAML returns a commented configuration file carrying
// the default values
func GenerateDefaultConfigYAML() []byte {
	return []byte(`# auto-backup configuration

# Directory whose contents are captured by each snapshot
source_dir: "./data"

# Backup store: artifacts, manifest.json and the encryption key live here
storage:
  base_path: "./backups"
  permissions: 0755

# Compression applied to the archive before encryption
compression:
  enabled: true
  # Algorithm: GZIP, LZ4, ZSTD
  algorithm: ZSTD
  # Level (1-9 for GZIP and LZ4, 1-22 for ZSTD); out of range values are clamped
  level: 6

# AES-256-GCM encryption of each artifact
encryption:
  enabled: true
  # Key source: store (generated .encryption_key in the backup store),
  # file, env (hex key) or passphrase (PBKDF2 with a stored salt)
  key_source: store
  # key_path: "/etc/auto-backup/key"
  # key_env_var: AUTOBACKUP_ENCRYPTION_KEY
  # passphrase_env_var: AUTOBACKUP_PASSPHRASE

# Keep the newest keep_count snapshots; older ones are pruned after each snapshot
retention:
  enabled: true
  keep_count: 5

# Background scheduler
schedule:
  interval: 24h
  # How long stop waits for an in-flight snapshot
  grace_period: 10s
  include: []
  exclude:
    - ".log"
    - ".tmp"

# Re-hash each artifact after writing it
validation:
  verify_after_write: true

# Scheduler cycle notifications
notifications:
  webhook:
    enabled: false
    # url: "https://hooks.example.com/backup"
    method: POST
    timeout: 30s
    max_retries: 3
  file:
    enabled: false
    # path: "./backups/notifications.jsonl"

# JSON audit trail of every snapshot operation
audit:
  enabled: false
  # log_file: "./backups/audit.log"
`)
}
