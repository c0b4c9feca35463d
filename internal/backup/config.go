package backup

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Key sources understood by CryptoCodec
const (
	KeySourceStore      = "store"
	KeySourceFile       = "file"
	KeySourceEnv        = "env"
	KeySourcePassphrase = "passphrase"
)

// Config is the complete configuration of the snapshot engine
type Config struct {
	SourceDir     string             `yaml:"source_dir"`
	Storage       LocalConfig        `yaml:"storage"`
	Compression   CompressionConfig  `yaml:"compression"`
	Encryption    EncryptionConfig   `yaml:"encryption"`
	Retention     RetentionConfig    `yaml:"retention"`
	Schedule      ScheduleConfig     `yaml:"schedule"`
	Validation    ValidationConfig   `yaml:"validation"`
	Notifications NotificationConfig `yaml:"notifications"`
	Audit         AuditConfig        `yaml:"audit"`
}

// LocalConfig locates the backup store on the local filesystem
type LocalConfig struct {
	BasePath    string      `yaml:"base_path"`
	Permissions os.FileMode `yaml:"permissions"`
}

// CompressionConfig defines compression settings
type CompressionConfig struct {
	Enabled   bool            `yaml:"enabled"`
	Algorithm CompressionType `yaml:"algorithm"`
	Level     int             `yaml:"level"`
}

// EncryptionConfig defines encryption settings
type EncryptionConfig struct {
	Enabled          bool   `yaml:"enabled"`
	KeySource        string `yaml:"key_source"`         // "store", "file", "env", "passphrase"
	KeyPath          string `yaml:"key_path"`           // key file for the "file" source
	KeyEnvVar        string `yaml:"key_env_var"`        // hex key for the "env" source
	PassphraseEnvVar string `yaml:"passphrase_env_var"` // passphrase for the "passphrase" source

	// KeyRetriever overrides every key source when set
	KeyRetriever func() ([]byte, error) `yaml:"-"`
}

// RetentionConfig defines how many snapshots survive a prune
type RetentionConfig struct {
	KeepCount int  `yaml:"keep_count"`
	Enabled   bool `yaml:"enabled"`
}

// ScheduleConfig drives the background Scheduler
type ScheduleConfig struct {
	Interval    time.Duration `yaml:"interval"`
	GracePeriod time.Duration `yaml:"grace_period"`
	Include     []string      `yaml:"include"`
	Exclude     []string      `yaml:"exclude"`
}

// ValidationConfig defines integrity checks performed around snapshot creation
type ValidationConfig struct {
	VerifyAfterWrite bool `yaml:"verify_after_write"`
}

// AuditConfig enables the JSON audit trail
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	LogFile string `yaml:"log_file"`
}

// DefaultConfig returns a configuration with every section set to its defaults
func DefaultConfig() *Config {
	cfg := &Config{
		Compression: CompressionConfig{Enabled: true},
		Encryption:  EncryptionConfig{Enabled: true},
		Retention:   RetentionConfig{Enabled: true, KeepCount: 5},
		Validation:  ValidationConfig{VerifyAfterWrite: true},
	}
	cfg.SetDefaults()
	return cfg
}

// Validate validates the whole configuration and returns ValidationErrors
func (c *Config) Validate() error {
	var errors ValidationErrors

	if strings.TrimSpace(c.SourceDir) == "" {
		errors.Add("source_dir", "source directory is required", c.SourceDir)
	}

	for _, section := range []interface{ Validate() error }{
		&c.Storage, &c.Compression, &c.Encryption, &c.Retention,
		&c.Schedule, &c.Notifications, &c.Audit,
	} {
		if err := section.Validate(); err != nil {
			if validationErrs, ok := err.(ValidationErrors); ok {
				errors = append(errors, validationErrs...)
			} else {
				errors.Add("config", err.Error(), nil)
			}
		}
	}

	if errors.HasErrors() {
		return errors
	}
	return nil
}

// SetDefaults fills in zero values
func (c *Config) SetDefaults() {
	if c.SourceDir == "" {
		c.SourceDir = "./data"
	}
	c.Storage.SetDefaults()
	c.Compression.SetDefaults()
	c.Encryption.SetDefaults()
	c.Schedule.SetDefaults()
	c.Notifications.SetDefaults()
	c.Audit.SetDefaults(c.Storage.BasePath)
}

// LoadFromEnvironment overlays AUTOBACKUP_* environment variables
func (c *Config) LoadFromEnvironment() {
	if val := os.Getenv("AUTOBACKUP_SOURCE_DIR"); val != "" {
		c.SourceDir = val
	}
	c.Storage.LoadFromEnvironment()
	c.Compression.LoadFromEnvironment()
	c.Encryption.LoadFromEnvironment()
	c.Retention.LoadFromEnvironment()
	c.Schedule.LoadFromEnvironment()
	c.Validation.LoadFromEnvironment()

	if val := os.Getenv("AUTOBACKUP_AUDIT_LOG"); val != "" {
		c.Audit.Enabled = true
		c.Audit.LogFile = val
	}
}

// Validate validates the LocalConfig
func (lc *LocalConfig) Validate() error {
	var errors ValidationErrors
	if strings.TrimSpace(lc.BasePath) == "" {
		errors.Add("storage.base_path", "backup directory is required", lc.BasePath)
	}
	if lc.Permissions != 0 && lc.Permissions&0700 != 0700 {
		errors.Add("storage.permissions", "owner must have rwx on the backup directory", lc.Permissions)
	}
	if errors.HasErrors() {
		return errors
	}
	return nil
}

// SetDefaults sets default values for local storage configuration
func (lc *LocalConfig) SetDefaults() {
	if lc.BasePath == "" {
		lc.BasePath = "./backups"
	}
	if lc.Permissions == 0 {
		lc.Permissions = 0755
	}
}

// LoadFromEnvironment loads local storage configuration from environment variables
func (lc *LocalConfig) LoadFromEnvironment() {
	if val := os.Getenv("AUTOBACKUP_BACKUP_DIR"); val != "" {
		lc.BasePath = val
	}
	if val := os.Getenv("AUTOBACKUP_DIR_PERMISSIONS"); val != "" {
		if parsed, err := strconv.ParseUint(val, 8, 32); err == nil {
			lc.Permissions = os.FileMode(parsed)
		}
	}
}

// Validate validates the CompressionConfig
func (cc *CompressionConfig) Validate() error {
	var errors ValidationErrors

	if cc.Enabled {
		switch cc.Algorithm {
		case CompressionTypeGzip:
			if cc.Level < 1 || cc.Level > 9 {
				errors.Add("compression.level", "gzip compression level must be between 1 and 9", cc.Level)
			}
		case CompressionTypeLZ4:
			if cc.Level < 1 || cc.Level > 9 {
				errors.Add("compression.level", "lz4 compression level must be between 1 and 9", cc.Level)
			}
		case CompressionTypeZstd:
			if cc.Level < 1 || cc.Level > 22 {
				errors.Add("compression.level", "zstd compression level must be between 1 and 22", cc.Level)
			}
		default:
			errors.Add("compression.algorithm", "invalid compression algorithm", cc.Algorithm)
		}
	}

	if errors.HasErrors() {
		return errors
	}
	return nil
}

// SetDefaults sets default values for compression configuration
func (cc *CompressionConfig) SetDefaults() {
	if parsed, err := ParseCompressionType(string(cc.Algorithm)); err == nil {
		cc.Algorithm = parsed
	}
	if cc.Enabled && (cc.Algorithm == "" || cc.Algorithm == CompressionTypeNone) {
		cc.Algorithm = CompressionTypeZstd
	}
	if cc.Enabled && cc.Level == 0 {
		cc.Level = 6
	}
}

// Effective returns the algorithm actually applied to payloads
func (cc *CompressionConfig) Effective() CompressionType {
	if !cc.Enabled {
		return CompressionTypeNone
	}
	return cc.Algorithm
}

// LoadFromEnvironment loads compression configuration from environment variables
func (cc *CompressionConfig) LoadFromEnvironment() {
	if val := os.Getenv("AUTOBACKUP_COMPRESSION_ENABLED"); val != "" {
		cc.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("AUTOBACKUP_COMPRESSION_ALGORITHM"); val != "" {
		if parsed, err := ParseCompressionType(val); err == nil {
			cc.Algorithm = parsed
		}
	}
	if val := os.Getenv("AUTOBACKUP_COMPRESSION_LEVEL"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			cc.Level = parsed
		}
	}
}

// Validate validates the EncryptionConfig
func (ec *EncryptionConfig) Validate() error {
	var errors ValidationErrors

	if ec.Enabled && ec.KeyRetriever == nil {
		switch ec.KeySource {
		case KeySourceStore:
		case KeySourceFile:
			if ec.KeyPath == "" {
				errors.Add("encryption.key_path", "key file path is required for file key source", ec.KeyPath)
			}
		case KeySourceEnv:
			if ec.KeyEnvVar == "" {
				errors.Add("encryption.key_env_var", "key environment variable name is required for env key source", ec.KeyEnvVar)
			}
		case KeySourcePassphrase:
			if ec.PassphraseEnvVar == "" {
				errors.Add("encryption.passphrase_env_var", "passphrase environment variable name is required for passphrase key source", ec.PassphraseEnvVar)
			}
		default:
			errors.Add("encryption.key_source", "invalid key source, must be 'store', 'file', 'env' or 'passphrase'", ec.KeySource)
		}
	}

	if errors.HasErrors() {
		return errors
	}
	return nil
}

// SetDefaults sets default values for encryption configuration
func (ec *EncryptionConfig) SetDefaults() {
	if ec.KeySource == "" {
		ec.KeySource = KeySourceStore
	}
	if ec.KeySource == KeySourceEnv && ec.KeyEnvVar == "" {
		ec.KeyEnvVar = "AUTOBACKUP_ENCRYPTION_KEY"
	}
	if ec.KeySource == KeySourcePassphrase && ec.PassphraseEnvVar == "" {
		ec.PassphraseEnvVar = "AUTOBACKUP_PASSPHRASE"
	}
}

// LoadFromEnvironment loads encryption configuration from environment variables
func (ec *EncryptionConfig) LoadFromEnvironment() {
	if val := os.Getenv("AUTOBACKUP_ENCRYPTION_ENABLED"); val != "" {
		ec.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("AUTOBACKUP_ENCRYPTION_KEY_SOURCE"); val != "" {
		ec.KeySource = strings.ToLower(val)
	}
	if val := os.Getenv("AUTOBACKUP_ENCRYPTION_KEY_PATH"); val != "" {
		ec.KeyPath = val
	}
	if val := os.Getenv("AUTOBACKUP_ENCRYPTION_KEY_ENV_VAR"); val != "" {
		ec.KeyEnvVar = val
	}
}

// Validate validates the RetentionConfig
func (rc *RetentionConfig) Validate() error {
	var errors ValidationErrors
	if rc.KeepCount < 0 {
		errors.Add("retention.keep_count", "retention count cannot be negative", rc.KeepCount)
	}
	if errors.HasErrors() {
		return errors
	}
	return nil
}

// LoadFromEnvironment loads retention configuration from environment variables
func (rc *RetentionConfig) LoadFromEnvironment() {
	if val := os.Getenv("AUTOBACKUP_RETENTION_COUNT"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			rc.KeepCount = parsed
		}
	}
	if val := os.Getenv("AUTOBACKUP_RETENTION_ENABLED"); val != "" {
		rc.Enabled = strings.ToLower(val) == "true"
	}
}

// Validate validates the ScheduleConfig
func (sc *ScheduleConfig) Validate() error {
	var errors ValidationErrors
	if sc.Interval <= 0 {
		errors.Add("schedule.interval", "interval must be positive", sc.Interval)
	}
	if sc.GracePeriod < 0 {
		errors.Add("schedule.grace_period", "grace period cannot be negative", sc.GracePeriod)
	}
	if errors.HasErrors() {
		return errors
	}
	return nil
}

// SetDefaults sets default values for schedule configuration
func (sc *ScheduleConfig) SetDefaults() {
	if sc.Interval == 0 {
		sc.Interval = 24 * time.Hour
	}
	if sc.GracePeriod == 0 {
		sc.GracePeriod = 10 * time.Second
	}
}

// LoadFromEnvironment loads schedule configuration from environment variables.
// AUTOBACKUP_INTERVAL_HOURS is accepted for configs that count in hours.
func (sc *ScheduleConfig) LoadFromEnvironment() {
	if val := os.Getenv("AUTOBACKUP_INTERVAL"); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			sc.Interval = parsed
		}
	}
	if val := os.Getenv("AUTOBACKUP_INTERVAL_HOURS"); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			sc.Interval = time.Duration(parsed * float64(time.Hour))
		}
	}
	if val := os.Getenv("AUTOBACKUP_GRACE_PERIOD"); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			sc.GracePeriod = parsed
		}
	}
	if val := os.Getenv("AUTOBACKUP_EXCLUDE"); val != "" {
		sc.Exclude = splitList(val)
	}
	if val := os.Getenv("AUTOBACKUP_INCLUDE"); val != "" {
		sc.Include = splitList(val)
	}
}

// LoadFromEnvironment loads validation configuration from environment variables
func (vc *ValidationConfig) LoadFromEnvironment() {
	if val := os.Getenv("AUTOBACKUP_VERIFY_AFTER_WRITE"); val != "" {
		vc.VerifyAfterWrite = strings.ToLower(val) == "true"
	}
}

// Validate validates the AuditConfig
func (ac *AuditConfig) Validate() error {
	if ac.Enabled && ac.LogFile == "" {
		return ValidationErrors{{Field: "audit.log_file", Message: "audit log file is required when audit is enabled"}}
	}
	return nil
}

// SetDefaults places the audit log inside the backup store unless configured
func (ac *AuditConfig) SetDefaults(basePath string) {
	if ac.Enabled && ac.LogFile == "" && basePath != "" {
		ac.LogFile = basePath + string(os.PathSeparator) + "audit.log"
	}
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
