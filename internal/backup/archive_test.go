package backup

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
}

func entryPaths(entries []ArchiveEntry) []string {
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		paths = append(paths, e.Path)
	}
	return paths
}

func TestArchiveBuilder_Collect(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.txt":             "hello",
		"b.log":             "skip",
		"nested/c.txt":      "deep",
		"nested/d.json":     "{}",
		"cache/tmp.txt":     "cached",
		"z/last/e.txt":      "e",
		"nested/more/f.log": "f",
	})
	b := NewArchiveBuilder()

	tests := []struct {
		name     string
		opts     SnapshotOptions
		expected []string
	}{
		{
			name:     "everything in lexical order",
			expected: []string{"a.txt", "b.log", "cache/tmp.txt", "nested/c.txt", "nested/d.json", "nested/more/f.log", "z/last/e.txt"},
		},
		{
			name:     "exclude by file suffix",
			opts:     SnapshotOptions{Exclude: []string{".log"}},
			expected: []string{"a.txt", "cache/tmp.txt", "nested/c.txt", "nested/d.json", "z/last/e.txt"},
		},
		{
			name:     "exclude prunes directories",
			opts:     SnapshotOptions{Exclude: []string{"cache", "nested"}},
			expected: []string{"a.txt", "b.log", "z/last/e.txt"},
		},
		{
			name:     "include restricts file names",
			opts:     SnapshotOptions{Include: []string{".txt"}},
			expected: []string{"a.txt", "cache/tmp.txt", "nested/c.txt", "z/last/e.txt"},
		},
		{
			name:     "exclude wins over include",
			opts:     SnapshotOptions{Include: []string{".txt"}, Exclude: []string{"tmp"}},
			expected: []string{"a.txt", "nested/c.txt", "z/last/e.txt"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := b.Collect(context.Background(), root, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, entryPaths(entries))
		})
	}
}

func TestArchiveBuilder_CollectMissingRoot(t *testing.T) {
	_, err := NewArchiveBuilder().Collect(context.Background(), filepath.Join(t.TempDir(), "nope"), SnapshotOptions{})
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestArchiveBuilder_CollectFileRoot(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	_, err := NewArchiveBuilder().Collect(context.Background(), file, SnapshotOptions{})
	assert.Equal(t, BackupErrorTypeValidation, ErrorTypeOf(err))
}

func TestArchiveBuilder_CollectCancelled(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "a"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewArchiveBuilder().Collect(ctx, root, SnapshotOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestArchiveBuilder_EncodeDecodeExtract(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"a.txt":          "hello",
		"dir/sub/b.bin":  "\x00\x01\x02",
		"dir/empty.conf": "",
	})
	require.NoError(t, os.Chmod(filepath.Join(src, "a.txt"), 0600))

	b := NewArchiveBuilder()
	entries, err := b.Collect(context.Background(), src, SnapshotOptions{})
	require.NoError(t, err)

	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	payload, err := b.Encode(ArchiveHeader{SnapshotID: "snapshot-1", CreatedAt: created, SourceDir: src}, entries)
	require.NoError(t, err)

	archive, err := b.Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, ArchiveFormatVersion, archive.Header.Version)
	assert.Equal(t, "snapshot-1", archive.Header.SnapshotID)
	assert.Equal(t, 3, archive.Header.FileCount)
	assert.Equal(t, int64(8), archive.Header.TotalBytes)
	assert.True(t, created.Equal(archive.Header.CreatedAt))

	target := filepath.Join(t.TempDir(), "restored")
	require.NoError(t, b.Extract(context.Background(), archive, target))

	for rel, want := range map[string]string{"a.txt": "hello", "dir/sub/b.bin": "\x00\x01\x02", "dir/empty.conf": ""} {
		got, err := os.ReadFile(filepath.Join(target, filepath.FromSlash(rel)))
		require.NoError(t, err)
		assert.Equal(t, want, string(got), rel)
	}

	info, err := os.Stat(filepath.Join(target, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	for _, e := range entries {
		info, err := os.Stat(filepath.Join(target, filepath.FromSlash(e.Path)))
		require.NoError(t, err)
		assert.True(t, e.ModTime.Equal(info.ModTime().UTC()), "mtime of %s", e.Path)
	}
}

func TestArchiveBuilder_CollectSymlinkedRoot(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need extra privileges on windows")
	}
	base := t.TempDir()
	dataDir := filepath.Join(base, "data")
	writeTree(t, dataDir, map[string]string{"a.txt": "hello", "nested/b.txt": "b"})
	link := filepath.Join(base, "link")
	require.NoError(t, os.Symlink(dataDir, link))

	entries, err := NewArchiveBuilder().Collect(context.Background(), link, SnapshotOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "nested/b.txt"}, entryPaths(entries))
}

func TestArchiveBuilder_BackslashFileNameRoundTrip(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("backslash is a path separator on windows")
	}
	src := t.TempDir()
	name := `we\ird.txt`
	require.NoError(t, os.WriteFile(filepath.Join(src, name), []byte("odd"), 0644))

	b := NewArchiveBuilder()
	entries, err := b.Collect(context.Background(), src, SnapshotOptions{})
	require.NoError(t, err)
	payload, err := b.Encode(ArchiveHeader{SnapshotID: "x"}, entries)
	require.NoError(t, err)

	archive, err := b.Decode(payload)
	require.NoError(t, err)
	target := t.TempDir()
	require.NoError(t, b.Extract(context.Background(), archive, target))

	got, err := os.ReadFile(filepath.Join(target, name))
	require.NoError(t, err)
	assert.Equal(t, "odd", string(got))
}

func TestArchiveBuilder_DecodeRejectsTraversal(t *testing.T) {
	b := NewArchiveBuilder()

	for _, bad := range []string{"../escape.txt", "/etc/passwd", "a/../../b", ""} {
		t.Run(bad, func(t *testing.T) {
			payload, err := b.Encode(ArchiveHeader{SnapshotID: "x"}, []ArchiveEntry{{Path: bad, Content: []byte("x")}})
			require.NoError(t, err)

			_, err = b.Decode(payload)
			assert.Equal(t, BackupErrorTypeCorruption, ErrorTypeOf(err))
		})
	}
}

func TestArchiveBuilder_DecodeGarbage(t *testing.T) {
	_, err := NewArchiveBuilder().Decode([]byte("not json"))
	assert.Equal(t, BackupErrorTypeCorruption, ErrorTypeOf(err))

	_, err = NewArchiveBuilder().Decode([]byte(`{"header":{"version":99},"files":[]}`))
	assert.Equal(t, BackupErrorTypeCorruption, ErrorTypeOf(err))
}
