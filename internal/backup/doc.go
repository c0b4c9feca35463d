// Package backup implements the snapshot lifecycle engine behind auto-backup.
//
// A snapshot turns a source directory tree into one integrity-checked,
// optionally compressed and encrypted artifact in a local backup store. The
// store holds the artifacts, a manifest.json index and the encryption key.
//
// Core Components:
//
// - ArchiveBuilder: walks the source tree and serializes the selected files
// - CompressionManager: gzip, LZ4 and zstd compression of the archive payload
// - CryptoCodec: AES-256-GCM sealing with a key generated once per store
// - IntegrityHasher: streamed SHA-256 fingerprints of payloads and artifacts
// - ManifestStore: the durable id -> SnapshotMetadata index
// - RetentionPolicy: prunes everything but the N most recent snapshots
// - Archiver: CreateSnapshot, Restore and Verify built from the above
// - Scheduler: runs CreateSnapshot on an interval with observer callbacks
//
// Example usage:
//
//	cfg := backup.DefaultConfig()
//	cfg.SourceDir = "./data"
//	cfg.Storage.BasePath = "./backups"
//
//	archiver, err := backup.NewArchiver(cfg)
//	if err != nil {
//		return err
//	}
//
//	meta, err := archiver.CreateSnapshot(ctx, backup.SnapshotOptions{Exclude: []string{".log"}})
//	if err != nil {
//		return fmt.Errorf("snapshot failed: %w", err)
//	}
//
//	sched := backup.NewScheduler(archiver, backup.SchedulerConfig{Interval: time.Hour})
//	sched.AddObserver(backup.ObserverFuncs{
//		Complete: func(m *backup.SnapshotMetadata) { fmt.Println("created", m.ID) },
//	})
//	sched.Start()
//	defer sched.Stop()
package backup
