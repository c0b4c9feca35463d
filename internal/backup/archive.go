package backup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// ArchiveFormatVersion is written into every archive header
const ArchiveFormatVersion = 1

// ArchiveHeader describes the archive independently of the manifest, so an
// artifact can be re-indexed after the manifest is lost
type ArchiveHeader struct {
	Version    int       `json:"version"`
	SnapshotID string    `json:"snapshot_id"`
	CreatedAt  time.Time `json:"created_at"`
	SourceDir  string    `json:"source_dir"`
	FileCount  int       `json:"file_count"`
	TotalBytes int64     `json:"total_bytes"`
	Include    []string  `json:"include,omitempty"`
	Exclude    []string  `json:"exclude,omitempty"`
}

// ArchiveEntry is one regular file captured from the source tree
type ArchiveEntry struct {
	Path    string      `json:"path"` // slash-separated, relative to the source root
	Mode    os.FileMode `json:"mode"`
	ModTime time.Time   `json:"mod_time"`
	Size    int64       `json:"size"`
	Content []byte      `json:"content"`
}

// Archive is the decoded payload of a snapshot
type Archive struct {
	Header ArchiveHeader  `json:"header"`
	Files  []ArchiveEntry `json:"files"`
}

// ArchiveBuilder turns a directory tree into an ordered archive payload and back
type ArchiveBuilder struct{}

// NewArchiveBuilder creates an archive builder
func NewArchiveBuilder() *ArchiveBuilder {
	return &ArchiveBuilder{}
}

// Collect walks root in lexical order and returns the selected files.
//
// Exclude patterns are matched as substrings against directory names (which
// prunes the whole subtree) and against file names. Include patterns, when
// present, must match the file name as a substring. Non-regular files are
// skipped. A symlinked root is resolved and its target walked.
func (b *ArchiveBuilder) Collect(ctx context.Context, root string, opts SnapshotOptions) ([]ArchiveEntry, error) {
	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, NewNotFoundError("source directory does not exist", err).WithContext("source_dir", root)
		}
		return nil, NewStorageError("failed to stat source directory", err).WithContext("source_dir", root)
	}
	if !info.IsDir() {
		return nil, NewValidationError(fmt.Sprintf("source %s is not a directory", root), nil)
	}
	// WalkDir does not descend into a symlinked root
	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, NewStorageError("failed to resolve source directory", err).WithContext("source_dir", root)
	}
	source := root
	root = resolved

	var entries []ArchiveEntry
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == root {
			return nil
		}

		name := d.Name()
		if d.IsDir() {
			if matchesAny(name, opts.Exclude) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if matchesAny(name, opts.Exclude) {
			return nil
		}
		if len(opts.Include) > 0 && !matchesAny(name, opts.Include) {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}
		content, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}

		entries = append(entries, ArchiveEntry{
			Path:    filepath.ToSlash(rel),
			Mode:    fi.Mode().Perm(),
			ModTime: fi.ModTime().UTC(),
			Size:    int64(len(content)),
			Content: content,
		})
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, NewStorageError("failed to read source tree", err).WithContext("source_dir", source)
	}

	return entries, nil
}

// Encode serializes the header and entries. FileCount and TotalBytes in the
// header are recomputed from entries.
func (b *ArchiveBuilder) Encode(header ArchiveHeader, entries []ArchiveEntry) ([]byte, error) {
	header.Version = ArchiveFormatVersion
	header.FileCount = len(entries)
	header.TotalBytes = 0
	for _, e := range entries {
		header.TotalBytes += e.Size
	}
	if entries == nil {
		entries = []ArchiveEntry{}
	}

	data, err := json.Marshal(Archive{Header: header, Files: entries})
	if err != nil {
		return nil, NewValidationError("failed to encode archive", err)
	}
	return data, nil
}

// Decode parses an archive payload and rejects entries that would escape the
// restore target
func (b *ArchiveBuilder) Decode(payload []byte) (*Archive, error) {
	var archive Archive
	if err := json.Unmarshal(payload, &archive); err != nil {
		return nil, NewCorruptionError("failed to decode archive payload", err)
	}
	if archive.Header.Version == 0 || archive.Header.Version > ArchiveFormatVersion {
		return nil, NewCorruptionError(fmt.Sprintf("unsupported archive version %d", archive.Header.Version), nil)
	}
	for _, e := range archive.Files {
		if err := validateEntryPath(e.Path); err != nil {
			return nil, err
		}
	}
	return &archive, nil
}

// Extract writes every entry of archive under target, creating parent
// directories and preserving permission bits and modification times
func (b *ArchiveBuilder) Extract(ctx context.Context, archive *Archive, target string) error {
	if err := os.MkdirAll(target, 0755); err != nil {
		return NewStorageError("failed to create restore target", err).WithContext("target", target)
	}

	for _, e := range archive.Files {
		if err := ctx.Err(); err != nil {
			return err
		}

		dest, err := destPath(target, e.Path)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return NewStorageError("failed to create directory", err).WithContext("path", filepath.Dir(dest))
		}

		mode := e.Mode.Perm()
		if mode == 0 {
			mode = 0644
		}
		if err := os.WriteFile(dest, e.Content, mode); err != nil {
			return NewStorageError("failed to write restored file", err).WithContext("path", dest)
		}
		// WriteFile leaves the mode of existing files untouched
		if err := os.Chmod(dest, mode); err != nil {
			return NewStorageError("failed to set file mode", err).WithContext("path", dest)
		}
		// mtime restore is best effort: content and mode are what restore guarantees
		if !e.ModTime.IsZero() {
			_ = os.Chtimes(dest, e.ModTime, e.ModTime)
		}
	}
	return nil
}

func matchesAny(name string, patterns []string) bool {
	for _, p := range patterns {
		if p != "" && strings.Contains(name, p) {
			return true
		}
	}
	return false
}

func validateEntryPath(p string) error {
	if p == "" || path.IsAbs(p) || filepath.IsAbs(p) {
		return NewCorruptionError(fmt.Sprintf("invalid file path in archive: %q", p), nil)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return NewCorruptionError(fmt.Sprintf("invalid file path in archive: %q", p), nil)
		}
	}
	return nil
}

func destPath(target, entryPath string) (string, error) {
	dest := filepath.Join(target, filepath.FromSlash(entryPath))
	if !strings.HasPrefix(dest, filepath.Clean(target)+string(os.PathSeparator)) {
		return "", NewCorruptionError(fmt.Sprintf("invalid file path in archive: %s", entryPath), nil)
	}
	return dest, nil
}
