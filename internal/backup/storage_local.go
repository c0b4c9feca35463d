package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ArtifactExtension is the file extension of every snapshot artifact
const ArtifactExtension = ".snap"

// LocalArtifactStore keeps snapshot artifacts as flat files in the backup directory
type LocalArtifactStore struct {
	basePath    string
	permissions os.FileMode
}

// NewLocalArtifactStore creates the store, creating its directory when needed
func NewLocalArtifactStore(config *LocalConfig) (*LocalArtifactStore, error) {
	if config == nil {
		return nil, NewValidationError("local storage configuration is required", nil)
	}
	if err := config.Validate(); err != nil {
		return nil, NewValidationError("invalid local storage configuration", err)
	}

	perms := config.Permissions
	if perms == 0 {
		perms = 0755
	}
	store := &LocalArtifactStore{
		basePath:    config.BasePath,
		permissions: perms,
	}

	if err := os.MkdirAll(store.basePath, store.permissions); err != nil {
		return nil, NewStorageError(fmt.Sprintf("failed to create backup directory %s", store.basePath), err)
	}
	return store, nil
}

// ArtifactName returns the artifact file name for a snapshot identifier
func ArtifactName(id string) string {
	return sanitizeName(id) + ArtifactExtension
}

// Write stores data under name atomically: it is written to a temporary file
// in the same directory, synced, then renamed over the final name
func (s *LocalArtifactStore) Write(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := writeFileAtomic(s.Path(name), data, 0600); err != nil {
		return NewStorageError("failed to write artifact", err).WithContext("artifact", name)
	}
	return nil
}

// Read loads the whole artifact
func (s *LocalArtifactStore) Read(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		return nil, s.wrapErr("failed to read artifact", name, err)
	}
	return data, nil
}

// Open returns a reader over the artifact for streamed hashing
func (s *LocalArtifactStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.Path(name))
	if err != nil {
		return nil, s.wrapErr("failed to open artifact", name, err)
	}
	return f, nil
}

// Delete removes the artifact. A missing artifact yields a not-found error.
func (s *LocalArtifactStore) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(s.Path(name)); err != nil {
		return s.wrapErr("failed to delete artifact", name, err)
	}
	return nil
}

// Exists reports whether the artifact is present
func (s *LocalArtifactStore) Exists(ctx context.Context, name string) bool {
	info, err := os.Stat(s.Path(name))
	return err == nil && info.Mode().IsRegular()
}

// List returns the names of all artifacts, sorted
func (s *LocalArtifactStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, NewStorageError("failed to list backup directory", err)
	}

	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), ArtifactExtension) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Path returns the absolute location of an artifact
func (s *LocalArtifactStore) Path(name string) string {
	return filepath.Join(s.basePath, sanitizeName(name))
}

// BasePath returns the backup directory
func (s *LocalArtifactStore) BasePath() string {
	return s.basePath
}

// HealthCheck verifies that the backup directory is writable and readable
func (s *LocalArtifactStore) HealthCheck(ctx context.Context) error {
	testFile := filepath.Join(s.basePath, ".health_check")

	if err := os.WriteFile(testFile, []byte("health_check"), 0644); err != nil {
		return NewStorageError("backup directory health check failed: cannot write", err)
	}
	if _, err := os.ReadFile(testFile); err != nil {
		return NewStorageError("backup directory health check failed: cannot read", err)
	}
	_ = os.Remove(testFile)
	return nil
}

func (s *LocalArtifactStore) wrapErr(message, name string, err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return NewNotFoundError(fmt.Sprintf("artifact %s not found", name), err)
	}
	return NewStorageError(message, err).WithContext("artifact", name)
}

// sanitizeName keeps names inside the backup directory
func sanitizeName(name string) string {
	sanitized := strings.ReplaceAll(name, "/", "_")
	sanitized = strings.ReplaceAll(sanitized, "\\", "_")
	sanitized = strings.ReplaceAll(sanitized, "..", "_")
	return sanitized
}

// writeFileAtomic replaces path with data so readers never observe a partial file
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}

	// best effort: persist the rename itself
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}
