package backup

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSeedSampleData(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	created, err := SeedSampleData(dir)
	if err != nil {
		t.Fatalf("SeedSampleData() error = %v", err)
	}
	if !created {
		t.Fatal("expected sample data to be created")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("expected 3 sample files, got %d", len(entries))
	}

	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != `{"key": "value"}` {
		t.Errorf("unexpected config.json content %q", data)
	}
}

func TestSeedSampleData_ExistingDirectoryUntouched(t *testing.T) {
	dir := t.TempDir()

	created, err := SeedSampleData(dir)
	if err != nil {
		t.Fatalf("SeedSampleData() error = %v", err)
	}
	if created {
		t.Error("existing directory must not be seeded")
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("expected empty directory, got %d entries", len(entries))
	}
}
