package backup

import (
	"context"
	"io"
)

// ArtifactStore persists opaque snapshot artifacts by name
type ArtifactStore interface {
	Write(ctx context.Context, name string, data []byte) error
	Read(ctx context.Context, name string) ([]byte, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Delete(ctx context.Context, name string) error
	Exists(ctx context.Context, name string) bool
	List(ctx context.Context) ([]string, error)
	Path(name string) string
}

// SnapshotCreator is the only capability the Scheduler needs from the Archiver
type SnapshotCreator interface {
	CreateSnapshot(ctx context.Context, opts SnapshotOptions) (*SnapshotMetadata, error)
}

// Observer receives Scheduler cycle outcomes
type Observer interface {
	OnBackupComplete(meta *SnapshotMetadata)
	OnError(err error)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are ignored.
type ObserverFuncs struct {
	Complete func(meta *SnapshotMetadata)
	Error    func(err error)
}

func (o ObserverFuncs) OnBackupComplete(meta *SnapshotMetadata) {
	if o.Complete != nil {
		o.Complete(meta)
	}
}

func (o ObserverFuncs) OnError(err error) {
	if o.Error != nil {
		o.Error(err)
	}
}
