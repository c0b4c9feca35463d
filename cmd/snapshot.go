package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"auto-backup/internal/backup"
	"auto-backup/internal/display"

	"github.com/spf13/cobra"
)

var (
	createInclude    []string
	createExclude    []string
	createInitSample bool

	listFormat string
	listLimit  int

	restoreTarget string

	deleteYes bool

	rotateDryRun    bool
	reconcileDryRun bool

	statusFormat string
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new snapshot of the source directory",
	Long: `Create a new snapshot of the source directory.

Include and exclude patterns are plain substrings matched against file and
directory names; an excluded directory is skipped with everything below it.
When neither flag is given the patterns from schedule.include and
schedule.exclude are used.

Examples:
  # Snapshot everything under ./data
  auto-backup create --source ./data

  # Skip log and temp files
  auto-backup create --exclude .log --exclude .tmp

  # Seed ./data with sample files first if it does not exist
  auto-backup create --init-sample`,
	RunE: runCreate,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots, most recent first",
	RunE:  runList,
}

var showCmd = &cobra.Command{
	Use:   "show <snapshot-id>",
	Short: "Show the metadata of one snapshot",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var restoreCmd = &cobra.Command{
	Use:   "restore <snapshot-id>",
	Short: "Restore a snapshot into a directory",
	Long: `Restore a snapshot into a directory.

The artifact is decrypted, decompressed and unpacked below --target, which
defaults to ./restored/<snapshot-id>. Existing files with the same relative
path are overwritten.`,
	Args: cobra.ExactArgs(1),
	RunE: runRestore,
}

var verifyCmd = &cobra.Command{
	Use:   "verify <snapshot-id>",
	Short: "Check a stored artifact against its recorded hash",
	Args:  cobra.ExactArgs(1),
	RunE:  runVerify,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <snapshot-id>",
	Short: "Delete a snapshot and its artifact",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var rotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Apply the retention policy now",
	RunE:  runRotate,
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Re-index orphaned artifacts and drop manifest entries without artifacts",
	RunE:  runReconcile,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize the backup store",
	RunE:  runStatus,
}

func init() {
	createCmd.Flags().StringSliceVar(&createInclude, "include", nil, "only archive files whose name contains one of these substrings")
	createCmd.Flags().StringSliceVar(&createExclude, "exclude", nil, "skip files and directories whose name contains one of these substrings")
	createCmd.Flags().BoolVar(&createInitSample, "init-sample", false, "create sample files if the source directory does not exist")

	listCmd.Flags().StringVarP(&listFormat, "format", "f", "table", "output format (table, json, yaml)")
	listCmd.Flags().IntVar(&listLimit, "limit", 0, "show at most this many snapshots (0 = all)")

	showCmd.Flags().StringVarP(&listFormat, "format", "f", "table", "output format (table, json, yaml)")

	restoreCmd.Flags().StringVarP(&restoreTarget, "target", "t", "", "directory to restore into (default ./restored/<snapshot-id>)")

	deleteCmd.Flags().BoolVarP(&deleteYes, "yes", "y", false, "do not ask for confirmation")

	rotateCmd.Flags().BoolVar(&rotateDryRun, "dry-run", false, "show what would be deleted without deleting")
	reconcileCmd.Flags().BoolVar(&reconcileDryRun, "dry-run", false, "report differences without changing the manifest")

	statusCmd.Flags().StringVarP(&statusFormat, "format", "f", "table", "output format (table, json, yaml)")

	rootCmd.AddCommand(createCmd, listCmd, showCmd, restoreCmd, verifyCmd, deleteCmd, rotateCmd, reconcileCmd, statusCmd)
}

func runCreate(cmd *cobra.Command, args []string) error {
	p := newPrinter()

	if createInitSample {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		created, err := backup.SeedSampleData(cfg.SourceDir)
		if err != nil {
			return err
		}
		if created {
			p.Info("Created sample data in %s", cfg.SourceDir)
		}
	}

	archiver, _, err := openArchiver()
	if err != nil {
		return err
	}
	defer archiver.Close()

	opts := backup.SnapshotOptions{Include: createInclude, Exclude: createExclude}
	if !cmd.Flags().Changed("include") && !cmd.Flags().Changed("exclude") {
		opts.Include = archiver.Config().Schedule.Include
		opts.Exclude = archiver.Config().Schedule.Exclude
	}

	meta, err := archiver.CreateSnapshot(commandContext(cmd.Context()), opts)
	if err != nil {
		return fmt.Errorf("snapshot failed: %w", err)
	}

	p.Success("Created snapshot %s", meta.ID)
	p.KeyValues(snapshotDetails(meta))
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	format, err := display.ParseOutputFormat(listFormat)
	if err != nil {
		return err
	}
	archiver, _, err := openArchiver()
	if err != nil {
		return err
	}
	defer archiver.Close()

	snapshots := archiver.List()
	if listLimit > 0 && len(snapshots) > listLimit {
		snapshots = snapshots[:listLimit]
	}

	p := newPrinter()
	if format != display.FormatTable {
		return p.Document(format, snapshots)
	}
	if len(snapshots) == 0 {
		p.Info("No snapshots found in %s", archiver.Store().BasePath())
		return nil
	}

	table := p.NewTable()
	table.SetHeaders("ID", "CREATED", "FILES", "SIZE", "COMPRESSION", "ENCRYPTED")
	table.SetAlignment(2, display.AlignRight)
	table.SetAlignment(3, display.AlignRight)
	for _, meta := range snapshots {
		table.AddRow(
			meta.ID,
			meta.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			strconv.Itoa(meta.FileCount),
			display.FormatBytes(meta.CiphertextSize),
			string(meta.CompressionType),
			yesNo(meta.Encrypted),
		)
	}
	return table.RenderTo(p.Writer())
}

func runShow(cmd *cobra.Command, args []string) error {
	format, err := display.ParseOutputFormat(listFormat)
	if err != nil {
		return err
	}
	archiver, _, err := openArchiver()
	if err != nil {
		return err
	}
	defer archiver.Close()

	meta, err := archiver.Get(args[0])
	if err != nil {
		return err
	}

	p := newPrinter()
	if format != display.FormatTable {
		return p.Document(format, meta)
	}
	p.KeyValues(snapshotDetails(meta))
	return nil
}

func runRestore(cmd *cobra.Command, args []string) error {
	id := args[0]
	target := restoreTarget
	if target == "" {
		target = filepath.Join(".", "restored", id)
	}

	archiver, _, err := openArchiver()
	if err != nil {
		return err
	}
	defer archiver.Close()

	restored, err := archiver.Restore(commandContext(cmd.Context()), id, target)
	if err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}
	newPrinter().Success("Restored %s to %s", id, restored)
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	archiver, _, err := openArchiver()
	if err != nil {
		return err
	}
	defer archiver.Close()

	if !archiver.Verify(commandContext(cmd.Context()), args[0]) {
		return fmt.Errorf("snapshot %s failed verification", args[0])
	}
	newPrinter().Success("Snapshot %s is intact", args[0])
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	id := args[0]
	archiver, _, err := openArchiver()
	if err != nil {
		return err
	}
	defer archiver.Close()

	p := newPrinter()
	if !deleteYes {
		ok, err := p.Confirm(fmt.Sprintf("Delete snapshot %s?", id))
		if err != nil {
			return err
		}
		if !ok {
			p.Info("Aborted")
			return nil
		}
	}

	if err := archiver.Delete(commandContext(cmd.Context()), id); err != nil {
		return err
	}
	p.Success("Deleted snapshot %s", id)
	return nil
}

func runRotate(cmd *cobra.Command, args []string) error {
	archiver, _, err := openArchiver()
	if err != nil {
		return err
	}
	defer archiver.Close()

	result, err := archiver.Rotate(commandContext(cmd.Context()), rotateDryRun)
	if err != nil {
		return fmt.Errorf("rotation failed: %w", err)
	}

	p := newPrinter()
	verb := "Deleted"
	if rotateDryRun {
		verb = "Would delete"
	}
	for _, meta := range result.DeletedSnapshots {
		p.Info("%s %s (%s)", verb, meta.ID, display.FormatBytes(meta.CiphertextSize))
	}
	p.Success("%s %d snapshot(s), kept %d, freed %s", verb, result.SnapshotsDeleted,
		result.SnapshotsKept, display.FormatBytes(result.BytesFreed))
	for _, e := range result.Errors {
		p.Warning("%s", e)
	}
	return nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	archiver, _, err := openArchiver()
	if err != nil {
		return err
	}
	defer archiver.Close()

	result, err := archiver.Reconcile(commandContext(cmd.Context()), reconcileDryRun)
	if err != nil {
		return fmt.Errorf("reconcile failed: %w", err)
	}

	p := newPrinter()
	for _, id := range result.Reindexed {
		p.Info("Re-indexed %s", id)
	}
	for _, id := range result.Ghosts {
		p.Warning("Manifest entry %s has no artifact", id)
	}
	for _, e := range result.Errors {
		p.Error("%s", e)
	}
	p.Success("Reconciled in %s: %d re-indexed, %d missing", result.Duration.Round(time.Millisecond),
		len(result.Reindexed), len(result.Ghosts))
	if len(result.Errors) > 0 {
		return fmt.Errorf("%d artifact(s) could not be read", len(result.Errors))
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := display.ParseOutputFormat(statusFormat)
	if err != nil {
		return err
	}
	archiver, _, err := openArchiver()
	if err != nil {
		return err
	}
	defer archiver.Close()

	stats := archiver.Stats()
	p := newPrinter()
	if format != display.FormatTable {
		return p.Document(format, stats)
	}

	cfg := archiver.Config()
	pairs := [][2]string{
		{"Source", cfg.SourceDir},
		{"Backup store", archiver.Store().BasePath()},
		{"Snapshots", fmt.Sprintf("%d (keep %d)", stats.Count, cfg.Retention.KeepCount)},
		{"Total size", display.FormatBytes(stats.TotalBytes)},
		{"Total files", strconv.Itoa(stats.TotalFiles)},
	}
	if stats.NewestSnapshot != nil {
		pairs = append(pairs,
			[2]string{"Newest", stats.NewestSnapshot.Local().Format(time.RFC3339)},
			[2]string{"Oldest", stats.OldestSnapshot.Local().Format(time.RFC3339)},
		)
	}
	store := "ok"
	if err := archiver.Store().HealthCheck(commandContext(cmd.Context())); err != nil {
		store = err.Error()
	}
	pairs = append(pairs, [2]string{"Store health", store})
	p.KeyValues(pairs)
	return nil
}

func snapshotDetails(meta *backup.SnapshotMetadata) [][2]string {
	return [][2]string{
		{"ID", meta.ID},
		{"Created", meta.CreatedAt.Local().Format(time.RFC3339)},
		{"Files", strconv.Itoa(meta.FileCount)},
		{"Archive size", display.FormatBytes(meta.ArchiveSize)},
		{"Artifact size", display.FormatBytes(meta.CiphertextSize)},
		{"Compression", fmt.Sprintf("%s (level %d)", meta.CompressionType, meta.CompressionLevel)},
		{"Encrypted", yesNo(meta.Encrypted)},
		{"Hash", meta.CiphertextHash},
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// commandContext returns ctx, or a background context when cobra ran
// without one
func commandContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
