package sketchsync

import (
	"context"

	"github.com/mschirtzinger/sketchd/internal/create"
)

// Remote is the remote sketch store as seen by the engine.
//
// *create.Client implements Remote. File content is raw bytes; transport
// encoding is the implementation's concern.
type Remote interface {
	// GetSketches lists the user's remote sketches.
	GetSketches(ctx context.Context) ([]create.Sketch, error)

	// GetSketchByPath fetches a sketch. A deleted sketch is reported as a
	// Conflict with status 404, not as an error.
	GetSketchByPath(ctx context.Context, path string) (create.SketchResult, error)

	// ListFiles lists the files of a remote sketch directory.
	ListFiles(ctx context.Context, dir string) ([]create.File, error)

	// ReadFile downloads a remote file.
	ReadFile(ctx context.Context, path string) ([]byte, error)

	// WriteFile uploads a file and returns once the write is confirmed.
	WriteFile(ctx context.Context, path string, data []byte) error

	// DeleteFile deletes a remote file.
	DeleteFile(ctx context.Context, path string) error

	// AddSketch creates a remote sketch with the given files.
	AddSketch(ctx context.Context, sketch create.NewSketch, files []create.UploadFile) (create.SketchResult, error)
}

var _ Remote = (*create.Client)(nil)

// Syncer synchronizes sketch directories with the remote store.
//
// *Engine implements Syncer; the daemon depends only on this interface.
type Syncer interface {
	// Sync synchronizes path. The sketchbook root fans out to every open
	// sketch; any other path is synced as a single sketch.
	Sync(ctx context.Context, path string) error

	// Submit queues a sketch sync without waiting for it.
	Submit(ctx context.Context, dir string) *Ticket
}

var _ Syncer = (*Engine)(nil)

// Reporter receives a Report for every finished sync.
type Reporter interface {
	Record(ctx context.Context, report Report) error
}
