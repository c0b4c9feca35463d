package backup

import (
	"time"
)

// SnapshotMetadata describes one stored snapshot artifact
type SnapshotMetadata struct {
	ID        string    `json:"id" yaml:"id"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`

	// PlaintextSize is the size of the payload handed to the codec
	// (after compression), CiphertextSize the size of the stored artifact.
	PlaintextSize  int64 `json:"plaintext_size" yaml:"plaintext_size"`
	CiphertextSize int64 `json:"ciphertext_size" yaml:"ciphertext_size"`
	ArchiveSize    int64 `json:"archive_size" yaml:"archive_size"`

	PlaintextHash  string `json:"plaintext_hash" yaml:"plaintext_hash"`
	CiphertextHash string `json:"ciphertext_hash" yaml:"ciphertext_hash"`

	CompressionType  CompressionType `json:"compression_type" yaml:"compression_type"`
	CompressionLevel int             `json:"compression_level" yaml:"compression_level"`
	Encrypted        bool            `json:"encrypted" yaml:"encrypted"`
	Incremental      bool            `json:"incremental" yaml:"incremental"`

	FileCount       int      `json:"file_count" yaml:"file_count"`
	SourceDir       string   `json:"source_dir" yaml:"source_dir"`
	IncludePatterns []string `json:"include_patterns,omitempty" yaml:"include_patterns,omitempty"`
	ExcludePatterns []string `json:"exclude_patterns,omitempty" yaml:"exclude_patterns,omitempty"`
	Artifact        string   `json:"artifact" yaml:"artifact"`
}

// SnapshotOptions selects which files of the source tree go into a snapshot.
// Patterns are plain substrings, not globs.
type SnapshotOptions struct {
	Include []string
	Exclude []string
}

// SnapshotStats summarizes the snapshots tracked by a manifest
type SnapshotStats struct {
	Count          int        `json:"count"`
	TotalBytes     int64      `json:"total_bytes"`
	TotalFiles     int        `json:"total_files"`
	OldestSnapshot *time.Time `json:"oldest_snapshot,omitempty"`
	NewestSnapshot *time.Time `json:"newest_snapshot,omitempty"`
}

// ReconcileResult reports the differences found between the manifest and the store
type ReconcileResult struct {
	Reindexed []string      `json:"reindexed"`
	Ghosts    []string      `json:"ghosts"`
	Errors    []string      `json:"errors,omitempty"`
	DryRun    bool          `json:"dry_run"`
	Duration  time.Duration `json:"duration"`
}

type CompressionType string

const (
	CompressionTypeNone CompressionType = "NONE"
	CompressionTypeGzip CompressionType = "GZIP"
	CompressionTypeLZ4  CompressionType = "LZ4"
	CompressionTypeZstd CompressionType = "ZSTD"
)
