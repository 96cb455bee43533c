package daemon

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// EventOp represents the type of file system operation.
type EventOp int

const (
	// OpCreate indicates a new file was created.
	OpCreate EventOp = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file was deleted or renamed away.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// FileEvent is a change of a file directly inside a watched sketch directory.
type FileEvent struct {
	// Path is the path of the file that changed.
	Path string
	// Sketch is the watched sketch directory containing the file.
	Sketch string
	// Op is the operation that occurred.
	Op EventOp
}

// Name returns the base name of the changed file.
func (e FileEvent) Name() string {
	return filepath.Base(e.Path)
}

// FileWatcher watches sketch directories for changes.
// It uses fsnotify for cross-platform file system event monitoring.
// Watching is not recursive: only files directly inside a sketch
// directory are reported.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	events  chan FileEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup

	mu       sync.Mutex
	running  bool
	stopped  bool
	sketches map[string]struct{} // cleaned absolute dirs
}

// NewFileWatcher creates a new FileWatcher instance.
// The watcher must be started with Start() before it will emit events.
func NewFileWatcher() (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &FileWatcher{
		watcher:  watcher,
		events:   make(chan FileEvent, 100),
		errors:   make(chan error, 10),
		done:     make(chan struct{}),
		sketches: make(map[string]struct{}),
	}, nil
}

// Start begins emitting events for the watched sketch directories.
func (fw *FileWatcher) Start() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.stopped {
		return errors.New("watcher already stopped")
	}
	if fw.running {
		return errors.New("watcher already running")
	}

	fw.running = true
	fw.wg.Add(1)
	go fw.processEvents()
	return nil
}

// Watch adds a sketch directory. Watching a directory twice is a no-op.
func (fw *FileWatcher) Watch(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", dir, err)
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.stopped {
		return errors.New("watcher already stopped")
	}
	if _, ok := fw.sketches[abs]; ok {
		return nil
	}
	if err := fw.watcher.Add(abs); err != nil {
		return fmt.Errorf("failed to watch sketch directory %s: %w", dir, err)
	}
	fw.sketches[abs] = struct{}{}
	return nil
}

// Unwatch removes a sketch directory. A directory that was deleted is
// dropped by fsnotify on its own, so errors from the watcher are ignored.
func (fw *FileWatcher) Unwatch(dir string) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return
	}
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if _, ok := fw.sketches[abs]; !ok {
		return
	}
	delete(fw.sketches, abs)
	_ = fw.watcher.Remove(abs)
}

// Watching reports whether dir is watched.
func (fw *FileWatcher) Watching(dir string) bool {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	fw.mu.Lock()
	defer fw.mu.Unlock()
	_, ok := fw.sketches[abs]
	return ok
}

// Watched returns the watched sketch directories as absolute paths, sorted.
func (fw *FileWatcher) Watched() []string {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	dirs := make([]string, 0, len(fw.sketches))
	for dir := range fw.sketches {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	return dirs
}

// Stop stops watching for file system events and cleans up resources.
// It blocks until the event processing goroutine has exited.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	if fw.stopped {
		fw.mu.Unlock()
		return nil
	}
	wasRunning := fw.running
	fw.running = false
	fw.stopped = true
	fw.mu.Unlock()

	close(fw.done)

	// Closing the underlying watcher unblocks the event loop.
	err := fw.watcher.Close()
	fw.wg.Wait()

	if wasRunning {
		close(fw.events)
		close(fw.errors)
	}
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

// Events returns the channel that emits FileEvent notifications.
// This channel is closed when a started watcher is stopped.
func (fw *FileWatcher) Events() <-chan FileEvent {
	return fw.events
}

// Errors returns the channel that emits error notifications.
// This channel is closed when a started watcher is stopped.
func (fw *FileWatcher) Errors() <-chan error {
	return fw.errors
}

// IsRunning returns true if the watcher is currently running.
func (fw *FileWatcher) IsRunning() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.running
}

func (fw *FileWatcher) processEvents() {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.done:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if fileEvent, ok := fw.convertEvent(event); ok {
				select {
				case fw.events <- fileEvent:
				case <-fw.done:
					return
				}
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			select {
			case fw.errors <- err:
			case <-fw.done:
				return
			}
		}
	}
}

// convertEvent converts an fsnotify event to a FileEvent.
// Returns false if the event should be ignored.
func (fw *FileWatcher) convertEvent(event fsnotify.Event) (FileEvent, bool) {
	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return FileEvent{}, false
	}
	dir := filepath.Dir(abs)

	fw.mu.Lock()
	_, watched := fw.sketches[dir]
	fw.mu.Unlock()
	if !watched {
		return FileEvent{}, false
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove):
		op = OpDelete
	case event.Has(fsnotify.Rename):
		// The new name arrives as a create.
		op = OpDelete
	default:
		return FileEvent{}, false
	}

	return FileEvent{Path: abs, Sketch: dir, Op: op}, true
}
