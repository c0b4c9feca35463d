package backup

import (
	"fmt"
	"os"
	"path/filepath"
)

var sampleFiles = []struct {
	name    string
	content string
}{
	{"sample1.txt", "Important document content"},
	{"sample2.txt", "Another important file"},
	{"config.json", `{"key": "value"}`},
}

// SeedSampleData populates dir with a few small demo files when dir does not
// exist yet. It reports whether anything was created.
func SeedSampleData(dir string) (bool, error) {
	if _, err := os.Stat(dir); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, NewStorageError("failed to stat source directory", err).WithContext("source_dir", dir)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return false, NewStorageError("failed to create source directory", err).WithContext("source_dir", dir)
	}
	for _, f := range sampleFiles {
		if err := os.WriteFile(filepath.Join(dir, f.name), []byte(f.content), 0644); err != nil {
			return false, NewStorageError(fmt.Sprintf("failed to write sample file %s", f.name), err)
		}
	}
	return true, nil
}
