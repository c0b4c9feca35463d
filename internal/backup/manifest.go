package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"auto-backup/internal/logging"
)

const (
	// ManifestFileName is the manifest document inside the backup directory
	ManifestFileName = "manifest.json"

	manifestVersion = 1
)

// manifestDocument is the on-disk form of the manifest
type manifestDocument struct {
	Version   int                          `json:"version"`
	UpdatedAt time.Time                    `json:"updated_at"`
	Snapshots map[string]*SnapshotMetadata `json:"snapshots"`
}

// ManifestStore is the durable id -> SnapshotMetadata index. It is the only
// writer of manifest.json and rewrites it atomically on every mutation.
type ManifestStore struct {
	path    string
	store   ArtifactStore
	logger  *logging.Logger
	mu      sync.RWMutex
	entries map[string]*SnapshotMetadata
	skipped []string
}

// NewManifestStore creates a manifest over dir. store is consulted on Load to
// drop entries whose artifact has disappeared; it may be nil.
func NewManifestStore(dir string, store ArtifactStore, logger *logging.Logger) *ManifestStore {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &ManifestStore{
		path:    filepath.Join(dir, ManifestFileName),
		store:   store,
		logger:  logger,
		entries: make(map[string]*SnapshotMetadata),
	}
}

// Load reads the manifest from disk. A missing or unparsable document yields
// an empty manifest; entries whose artifact is missing are skipped.
func (m *ManifestStore) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]*SnapshotMetadata)
	m.skipped = nil

	data, err := os.ReadFile(m.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return NewStorageError("failed to read manifest", err).WithContext("path", m.path)
	}

	var doc manifestDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		m.logger.WithFields(map[string]interface{}{
			"path":  m.path,
			"error": err.Error(),
		}).Warn("Manifest is corrupt, starting with an empty manifest")
		return nil
	}

	for id, meta := range doc.Snapshots {
		if meta == nil {
			continue
		}
		if meta.ID == "" {
			meta.ID = id
		}
		if meta.Artifact == "" {
			meta.Artifact = ArtifactName(meta.ID)
		}
		if m.store != nil && !m.store.Exists(context.Background(), meta.Artifact) {
			m.skipped = append(m.skipped, meta.ID)
			continue
		}
		m.entries[meta.ID] = meta
	}
	sort.Strings(m.skipped)

	if len(m.skipped) > 0 {
		m.logger.WithFields(map[string]interface{}{
			"skipped": len(m.skipped),
		}).Debug("Manifest entries without artifact were skipped")
	}
	return nil
}

// Skipped returns the ids dropped by the last Load because their artifact was missing
func (m *ManifestStore) Skipped() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.skipped...)
}

// Put inserts or replaces meta and persists the manifest
func (m *ManifestStore) Put(meta *SnapshotMetadata) error {
	if meta == nil || meta.ID == "" {
		return NewValidationError("snapshot metadata requires an id", nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	prev, existed := m.entries[meta.ID]
	copied := *meta
	m.entries[meta.ID] = &copied

	if err := m.saveLocked(); err != nil {
		if existed {
			m.entries[meta.ID] = prev
		} else {
			delete(m.entries, meta.ID)
		}
		return err
	}
	return nil
}

// Remove deletes id and persists the manifest. Removing an unknown id is a no-op.
func (m *ManifestStore) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, existed := m.entries[id]
	if !existed {
		return nil
	}
	delete(m.entries, id)

	if err := m.saveLocked(); err != nil {
		m.entries[id] = prev
		return err
	}
	return nil
}

// Get returns a copy of the metadata for id
func (m *ManifestStore) Get(id string) (*SnapshotMetadata, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	meta, ok := m.entries[id]
	if !ok {
		return nil, false
	}
	copied := *meta
	return &copied, true
}

// Has reports whether id is present
func (m *ManifestStore) Has(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[id]
	return ok
}

// List returns copies of all entries, most recent first. Equal timestamps
// are ordered by id, descending.
func (m *ManifestStore) List() []*SnapshotMetadata {
	m.mu.RLock()
	out := make([]*SnapshotMetadata, 0, len(m.entries))
	for _, meta := range m.entries {
		copied := *meta
		out = append(out, &copied)
	}
	m.mu.RUnlock()

	sortNewestFirst(out)
	return out
}

// Len returns the number of entries
func (m *ManifestStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Flush rewrites manifest.json from memory, dropping the entries skipped by Load
func (m *ManifestStore) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.saveLocked(); err != nil {
		return err
	}
	m.skipped = nil
	return nil
}

// Path returns the manifest file location
func (m *ManifestStore) Path() string {
	return m.path
}

func (m *ManifestStore) saveLocked() error {
	doc := manifestDocument{
		Version:   manifestVersion,
		UpdatedAt: time.Now().UTC(),
		Snapshots: m.entries,
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return NewStorageError("failed to encode manifest", err)
	}
	if err := writeFileAtomic(m.path, data, 0600); err != nil {
		return NewStorageError("failed to write manifest", err).WithContext("path", m.path)
	}
	return nil
}

func sortNewestFirst(list []*SnapshotMetadata) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID > list[j].ID
	})
}
