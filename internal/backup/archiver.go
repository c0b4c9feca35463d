package backup

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"auto-backup/internal/logging"
)

// snapshotIDLayout yields lexically sortable identifiers with microsecond resolution
const snapshotIDLayout = "20060102-150405.000000"

// Archiver creates, restores and verifies snapshots. Mutating operations
// (create, delete, rotate, reconcile) are serialized; reads are not.
type Archiver struct {
	config      *Config
	builder     *ArchiveBuilder
	compression *CompressionManager
	codec       *CryptoCodec
	opener      *CryptoCodec
	hasher      *IntegrityHasher
	store       *LocalArtifactStore
	manifest    *ManifestStore
	retention   *RetentionPolicy
	logger      *logging.Logger
	slog        *SnapshotLogger
	metrics     *Metrics
	now         func() time.Time

	mu sync.Mutex
}

// ArchiverOption customizes an Archiver
type ArchiverOption func(*Archiver)

// WithLogger sets the application logger
func WithLogger(logger *logging.Logger) ArchiverOption {
	return func(a *Archiver) { a.logger = logger }
}

// WithMetrics attaches Prometheus metrics
func WithMetrics(metrics *Metrics) ArchiverOption {
	return func(a *Archiver) { a.metrics = metrics }
}

// WithClock replaces time.Now, mainly for tests
func WithClock(now func() time.Time) ArchiverOption {
	return func(a *Archiver) { a.now = now }
}

// NewArchiver validates cfg, opens the backup store and loads its manifest
func NewArchiver(cfg *Config, opts ...ArchiverOption) (*Archiver, error) {
	if cfg == nil {
		return nil, NewConfigurationError("configuration is required", nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, NewConfigurationError("invalid configuration", err)
	}

	a := &Archiver{
		config:      cfg,
		builder:     NewArchiveBuilder(),
		compression: NewCompressionManager(),
		hasher:      NewIntegrityHasher(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = logging.NewDefaultLogger()
	}

	store, err := NewLocalArtifactStore(&cfg.Storage)
	if err != nil {
		return nil, err
	}
	a.store = store

	a.codec = NewCryptoCodec(cfg.Encryption, store.BasePath())
	openCfg := cfg.Encryption
	openCfg.Enabled = true
	a.opener = NewCryptoCodec(openCfg, store.BasePath())

	a.manifest = NewManifestStore(store.BasePath(), store, a.logger)
	if err := a.manifest.Load(); err != nil {
		return nil, err
	}
	a.retention = NewRetentionPolicy(cfg.Retention.KeepCount, a.manifest, store, a.logger)

	auditFile := ""
	if cfg.Audit.Enabled {
		auditFile = cfg.Audit.LogFile
	}
	a.slog, err = NewSnapshotLogger(SnapshotLoggerConfig{Logger: a.logger, AuditLogFile: auditFile})
	if err != nil {
		return nil, NewConfigurationError("failed to set up audit log", err)
	}

	a.metrics.SetRetained(a.manifest.Len())
	return a, nil
}

// Close releases the audit log
func (a *Archiver) Close() error {
	return a.slog.Close()
}

// Config returns the configuration the archiver was built with
func (a *Archiver) Config() *Config {
	return a.config
}

// Store returns the artifact store
func (a *Archiver) Store() *LocalArtifactStore {
	return a.store
}

// Manifest returns the manifest
func (a *Archiver) Manifest() *ManifestStore {
	return a.manifest
}

// CreateSnapshot archives the source directory into a new artifact, records
// it in the manifest and applies retention. Nothing is committed to the
// manifest unless every earlier step succeeded.
func (a *Archiver) CreateSnapshot(ctx context.Context, opts SnapshotOptions) (*SnapshotMetadata, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := a.now()
	id, createdAt := a.nextID(start)

	done := a.slog.Begin(ctx, "snapshot_create", id, map[string]interface{}{
		"source_dir": a.config.SourceDir,
		"include":    strings.Join(opts.Include, ","),
		"exclude":    strings.Join(opts.Exclude, ","),
	})

	meta, stage, err := a.create(ctx, id, createdAt, opts)
	if err != nil {
		a.metrics.RecordFailure(stage)
		done(err, map[string]interface{}{"stage": stage})
		a.logger.LogSnapshotCreated(id, 0, 0, time.Since(start), err)
		return nil, err
	}
	a.logger.LogSnapshotCreated(id, meta.FileCount, meta.CiphertextSize, time.Since(start), nil)

	done(nil, map[string]interface{}{
		"file_count":      meta.FileCount,
		"archive_size":    meta.ArchiveSize,
		"ciphertext_size": meta.CiphertextSize,
	})
	a.metrics.RecordSnapshot(meta, time.Since(start))

	if a.config.Retention.Enabled {
		result, err := a.retention.Apply(ctx, false)
		if err != nil {
			a.logger.Warnf("Retention after snapshot %s finished with errors: %v", id, err)
		}
		if result != nil {
			a.metrics.RecordPruned(result.SnapshotsDeleted)
		}
	}
	a.metrics.SetRetained(a.manifest.Len())

	return meta, nil
}

func (a *Archiver) create(ctx context.Context, id string, createdAt time.Time, opts SnapshotOptions) (*SnapshotMetadata, string, error) {
	entries, err := a.builder.Collect(ctx, a.config.SourceDir, opts)
	if err != nil {
		return nil, StageCollect, err
	}

	payload, err := a.builder.Encode(ArchiveHeader{
		SnapshotID: id,
		CreatedAt:  createdAt,
		SourceDir:  a.config.SourceDir,
		Include:    opts.Include,
		Exclude:    opts.Exclude,
	}, entries)
	if err != nil {
		return nil, StageCollect, err
	}

	compressed, stats, err := a.compression.Compress(payload, a.config.Compression.Effective(), a.config.Compression.Level)
	if err != nil {
		return nil, StageCompress, err
	}

	plaintextHash := a.hasher.HashBytes(compressed)

	sealed, err := a.codec.Seal(compressed)
	if err != nil {
		return nil, StageEncrypt, err
	}

	artifact, err := wrapEnvelope(envelope{
		Encrypted:   a.codec.Enabled(),
		Compression: stats.Algorithm,
		Body:        sealed,
	})
	if err != nil {
		return nil, StageCompress, err
	}
	ciphertextHash := a.hasher.HashBytes(artifact)

	name := ArtifactName(id)
	if err := a.store.Write(ctx, name, artifact); err != nil {
		return nil, StageWrite, err
	}

	if a.config.Validation.VerifyAfterWrite {
		if !a.hasher.VerifyFile(a.store.Path(name), ciphertextHash) {
			_ = a.store.Delete(context.WithoutCancel(ctx), name)
			return nil, StageVerify, NewCorruptionError("artifact read-back does not match written data", nil).
				WithContext("snapshot_id", id)
		}
	}

	meta := &SnapshotMetadata{
		ID:               id,
		CreatedAt:        createdAt,
		PlaintextSize:    int64(len(compressed)),
		CiphertextSize:   int64(len(artifact)),
		ArchiveSize:      int64(len(payload)),
		PlaintextHash:    plaintextHash,
		CiphertextHash:   ciphertextHash,
		CompressionType:  stats.Algorithm,
		CompressionLevel: stats.Level,
		Encrypted:        a.codec.Enabled(),
		Incremental:      false,
		FileCount:        len(entries),
		SourceDir:        a.config.SourceDir,
		IncludePatterns:  opts.Include,
		ExcludePatterns:  opts.Exclude,
		Artifact:         name,
	}

	if err := a.manifest.Put(meta); err != nil {
		_ = a.store.Delete(context.WithoutCancel(ctx), name)
		return nil, StageManifest, err
	}
	return meta, "", nil
}

// nextID derives a unique identifier from t, advancing by one microsecond
// while the candidate is taken
func (a *Archiver) nextID(t time.Time) (string, time.Time) {
	t = t.UTC().Truncate(time.Microsecond)
	for {
		id := "snapshot-" + t.Format(snapshotIDLayout)
		if !a.manifest.Has(id) && !a.store.Exists(context.Background(), ArtifactName(id)) {
			return id, t
		}
		t = t.Add(time.Microsecond)
	}
}

// Restore decrypts, decompresses and unpacks snapshot id into target and
// returns target
func (a *Archiver) Restore(ctx context.Context, id, target string) (string, error) {
	if strings.TrimSpace(target) == "" {
		return "", NewValidationError("restore target directory is required", nil)
	}

	start := time.Now()
	done := a.slog.Begin(ctx, "snapshot_restore", id, map[string]interface{}{"target": target})
	fileCount, err := a.restore(ctx, id, target)
	a.metrics.RecordRestore(err == nil)
	a.logger.LogRestore(id, target, time.Since(start), err)
	done(err, map[string]interface{}{"file_count": fileCount})
	if err != nil {
		return "", err
	}
	return target, nil
}

func (a *Archiver) restore(ctx context.Context, id, target string) (int, error) {
	name := ArtifactName(id)
	meta, known := a.manifest.Get(id)
	if known && meta.Artifact != "" {
		name = meta.Artifact
	}

	archive, plaintext, err := a.readArtifact(ctx, name)
	if err != nil {
		return 0, err
	}
	if known && meta.PlaintextHash != "" && a.hasher.HashBytes(plaintext) != meta.PlaintextHash {
		return 0, NewCorruptionError("decrypted payload does not match recorded hash", nil).WithContext("snapshot_id", id)
	}

	if err := a.builder.Extract(ctx, archive, target); err != nil {
		return 0, err
	}
	return len(archive.Files), nil
}

// readArtifact loads and decodes an artifact. It also returns the payload as
// handed to the codec, for hash comparison.
func (a *Archiver) readArtifact(ctx context.Context, name string) (*Archive, []byte, error) {
	data, err := a.store.Read(ctx, name)
	if err != nil {
		return nil, nil, err
	}

	env, err := unwrapEnvelope(data)
	if err != nil {
		return nil, nil, err
	}

	plaintext := env.Body
	if env.Encrypted {
		if plaintext, err = a.opener.Open(env.Body); err != nil {
			return nil, nil, err
		}
	}

	payload, err := a.compression.Decompress(plaintext, env.Compression)
	if err != nil {
		return nil, nil, err
	}

	archive, err := a.builder.Decode(payload)
	if err != nil {
		return nil, nil, err
	}
	return archive, plaintext, nil
}

// Verify re-hashes the stored artifact and compares it with the manifest.
// It never returns an error: a missing entry, a missing artifact and a
// mismatch all report false.
func (a *Archiver) Verify(ctx context.Context, id string) bool {
	ok := a.verify(ctx, id)
	a.metrics.RecordVerify(ok)

	fields := map[string]interface{}{"snapshot_id": id, "valid": ok}
	if ok {
		a.logger.WithFields(fields).Debug("Snapshot verified")
	} else {
		a.logger.WithFields(fields).Warn("Snapshot failed verification")
	}
	return ok
}

func (a *Archiver) verify(ctx context.Context, id string) bool {
	meta, ok := a.manifest.Get(id)
	if !ok {
		return false
	}

	rc, err := a.store.Open(ctx, meta.Artifact)
	if err != nil {
		return false
	}
	defer rc.Close()

	actual, err := a.hasher.HashReader(rc)
	if err != nil {
		return false
	}
	return actual == meta.CiphertextHash
}

// List returns all snapshots, most recent first
func (a *Archiver) List() []*SnapshotMetadata {
	return a.manifest.List()
}

// Get returns the metadata of id
func (a *Archiver) Get(id string) (*SnapshotMetadata, error) {
	meta, ok := a.manifest.Get(id)
	if !ok {
		return nil, NewNotFoundError(fmt.Sprintf("snapshot %s not found", id), nil)
	}
	return meta, nil
}

// Delete removes snapshot id from the store and the manifest
func (a *Archiver) Delete(ctx context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	done := a.slog.Begin(ctx, "snapshot_delete", id, nil)
	err := a.delete(ctx, id)
	done(err, nil)
	if err == nil {
		a.metrics.RecordPruned(1)
		a.metrics.SetRetained(a.manifest.Len())
	}
	return err
}

func (a *Archiver) delete(ctx context.Context, id string) error {
	name := ArtifactName(id)
	meta, known := a.manifest.Get(id)
	if known && meta.Artifact != "" {
		name = meta.Artifact
	}

	err := a.store.Delete(ctx, name)
	if err != nil && !IsNotFound(err) {
		return err
	}
	if IsNotFound(err) && !known {
		return NewNotFoundError(fmt.Sprintf("snapshot %s not found", id), nil)
	}
	return a.manifest.Remove(id)
}

// Rotate applies the retention policy on demand
func (a *Archiver) Rotate(ctx context.Context, dryRun bool) (*RetentionResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	done := a.slog.Begin(ctx, "snapshot_rotate", "", map[string]interface{}{
		"keep_count": a.retention.KeepCount(),
		"dry_run":    dryRun,
	})
	result, err := a.retention.Apply(ctx, dryRun)
	details := map[string]interface{}{}
	if result != nil {
		details["deleted"] = result.SnapshotsDeleted
		if !dryRun {
			a.metrics.RecordPruned(result.SnapshotsDeleted)
		}
	}
	done(err, details)
	a.metrics.SetRetained(a.manifest.Len())
	return result, err
}

// Reconcile brings the manifest in line with the store: artifacts without a
// manifest entry are re-indexed from their embedded header, and entries
// whose artifact is gone are dropped
func (a *Archiver) Reconcile(ctx context.Context, dryRun bool) (*ReconcileResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := time.Now()
	result := &ReconcileResult{DryRun: dryRun, Ghosts: a.manifest.Skipped()}
	done := a.slog.Begin(ctx, "snapshot_reconcile", "", map[string]interface{}{"dry_run": dryRun})

	names, err := a.store.List(ctx)
	if err != nil {
		done(err, nil)
		return nil, err
	}

	referenced := make(map[string]bool)
	for _, meta := range a.manifest.List() {
		if !a.store.Exists(ctx, meta.Artifact) {
			result.Ghosts = append(result.Ghosts, meta.ID)
			if !dryRun {
				if err := a.manifest.Remove(meta.ID); err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", meta.ID, err))
				}
			}
			continue
		}
		referenced[meta.Artifact] = true
	}

	for _, name := range names {
		if referenced[name] {
			continue
		}
		meta, err := a.reindex(ctx, name)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		if !dryRun {
			if err := a.manifest.Put(meta); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", name, err))
				continue
			}
		}
		result.Reindexed = append(result.Reindexed, meta.ID)
	}

	if !dryRun && len(a.manifest.Skipped()) > 0 {
		if err := a.manifest.Flush(); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("manifest: %v", err))
		}
	}

	result.Duration = time.Since(start)
	done(nil, map[string]interface{}{
		"reindexed": len(result.Reindexed),
		"ghosts":    len(result.Ghosts),
		"errors":    len(result.Errors),
	})
	a.metrics.SetRetained(a.manifest.Len())
	return result, nil
}

func (a *Archiver) reindex(ctx context.Context, name string) (*SnapshotMetadata, error) {
	data, err := a.store.Read(ctx, name)
	if err != nil {
		return nil, err
	}
	env, err := unwrapEnvelope(data)
	if err != nil {
		return nil, err
	}
	archive, plaintext, err := a.readArtifact(ctx, name)
	if err != nil {
		return nil, err
	}

	h := archive.Header
	id := h.SnapshotID
	if id == "" {
		id = strings.TrimSuffix(name, ArtifactExtension)
	}
	return &SnapshotMetadata{
		ID:              id,
		CreatedAt:       h.CreatedAt,
		PlaintextSize:   int64(len(plaintext)),
		CiphertextSize:  int64(len(data)),
		ArchiveSize:     h.TotalBytes,
		PlaintextHash:   a.hasher.HashBytes(plaintext),
		CiphertextHash:  a.hasher.HashBytes(data),
		CompressionType: env.Compression,
		Encrypted:       env.Encrypted,
		FileCount:       h.FileCount,
		SourceDir:       h.SourceDir,
		IncludePatterns: h.Include,
		ExcludePatterns: h.Exclude,
		Artifact:        name,
	}, nil
}

// Stats summarizes the snapshots in the manifest
func (a *Archiver) Stats() SnapshotStats {
	list := a.manifest.List()
	stats := SnapshotStats{Count: len(list)}
	for _, meta := range list {
		stats.TotalBytes += meta.CiphertextSize
		stats.TotalFiles += meta.FileCount
	}
	if len(list) > 0 {
		newest := list[0].CreatedAt
		oldest := list[len(list)-1].CreatedAt
		stats.NewestSnapshot = &newest
		stats.OldestSnapshot = &oldest
	}
	return stats
}
