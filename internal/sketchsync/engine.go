package sketchsync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/mschirtzinger/sketchd/internal/create"
	"github.com/mschirtzinger/sketchd/internal/sketch"
)

// Side is the winner of a conflict.
type Side int

const (
	// SideLocal keeps the local content and pushes it.
	SideLocal Side = iota
	// SideRemote keeps the remote content and pulls it.
	SideRemote
)

func (s Side) String() string {
	if s == SideRemote {
		return "remote"
	}
	return "local"
}

// Conflict identifies a file changed on both sides since the last sync.
type Conflict struct {
	SketchName string
	FileName   string
}

// ConflictResolver decides a conflict. It may block on user input.
type ConflictResolver func(ctx context.Context, c Conflict) (Side, error)

// DeletionAction is the decision for a sketch deleted on the remote.
type DeletionAction int

const (
	// DeletionKeep unlinks the local sketch from the remote by removing its
	// marker. The files stay.
	DeletionKeep DeletionAction = iota
	// DeletionDelete removes the local sketch directory.
	DeletionDelete
)

func (a DeletionAction) String() string {
	if a == DeletionDelete {
		return "delete"
	}
	return "keep"
}

// DeletionResolver decides what happens to a local sketch whose remote copy
// was deleted. It may block on user input.
type DeletionResolver func(ctx context.Context, sketchName string) (DeletionAction, error)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(logger *log.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithSketchbook sets the sketchbook root. Syncing the root fans out to the
// open sketches, and Download creates sketches below it.
func WithSketchbook(dir string) Option {
	return func(e *Engine) {
		if dir == "" {
			e.sketchbook = ""
			return
		}
		e.sketchbook = filepath.Clean(dir)
	}
}

// WithOpenSketches sets the function listing the sketches a sketchbook sync
// covers. By default every sketchbook directory with a marker is covered.
func WithOpenSketches(fn func() ([]string, error)) Option {
	return func(e *Engine) { e.openSketches = fn }
}

// WithConflictResolver sets the conflict resolver.
func WithConflictResolver(fn ConflictResolver) Option {
	return func(e *Engine) { e.resolveConflict = fn }
}

// WithDeletionResolver sets the remote deletion resolver.
func WithDeletionResolver(fn DeletionResolver) Option {
	return func(e *Engine) { e.resolveDeletion = fn }
}

// WithCloseWorkspace sets the hook called after a sketch directory was
// deleted because its remote copy was gone.
func WithCloseWorkspace(fn func(ctx context.Context, dir string) error) Option {
	return func(e *Engine) { e.closeWorkspace = fn }
}

// WithReporter sets where sync reports are recorded.
func WithReporter(r Reporter) Option {
	return func(e *Engine) { e.reporter = r }
}

// WithClock replaces time.Now.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// Engine synchronizes local sketch directories with the remote store.
//
// All syncs of an engine run one at a time in submission order on a single
// queue, so two syncs never write the same marker concurrently. A failed
// sync is logged and returned to its submitter; the queue moves on.
type Engine struct {
	fs              afero.Fs
	remote          Remote
	logger          *log.Logger
	sketchbook      string
	openSketches    func() ([]string, error)
	resolveConflict ConflictResolver
	resolveDeletion DeletionResolver
	closeWorkspace  func(ctx context.Context, dir string) error
	reporter        Reporter
	clock           func() time.Time

	queue *jobQueue
}

// New creates an Engine and starts its queue consumer. Call Close to stop it.
func New(fsys afero.Fs, remote Remote, opts ...Option) *Engine {
	e := &Engine{
		fs:     fsys,
		remote: remote,
		logger: log.New(os.Stderr, "[sync] ", log.LstdFlags),
		clock:  time.Now,
		queue:  newJobQueue(),
	}
	for _, opt := range opts {
		opt(e)
	}
	go e.queue.run()
	return e
}

// Close stops the queue after the sync in flight. Queued syncs fail with
// ErrEngineClosed.
func (e *Engine) Close() error {
	e.queue.close()
	return nil
}

// Pending returns the number of queued syncs not yet started.
func (e *Engine) Pending() int {
	return e.queue.pending()
}

// Sync synchronizes path. The sketchbook root fans out to all open sketches;
// any other path is one sketch.
func (e *Engine) Sync(ctx context.Context, dir string) error {
	dir = filepath.Clean(dir)
	if e.sketchbook == "" || dir != e.sketchbook {
		_, err := e.SyncSketch(ctx, dir)
		return err
	}

	dirs, err := e.listOpenSketches()
	if err != nil {
		return err
	}
	tickets := make([]*Ticket, 0, len(dirs))
	for _, d := range dirs {
		tickets = append(tickets, e.Submit(ctx, d))
	}
	var errs []error
	for _, t := range tickets {
		if _, err := t.Wait(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SyncSketch queues a sync of dir and waits for it.
func (e *Engine) SyncSketch(ctx context.Context, dir string) (Report, error) {
	return e.Submit(ctx, dir).Wait(ctx)
}

// Submit queues a sync of dir. If ctx is cancelled before the sync starts it
// is skipped.
func (e *Engine) Submit(ctx context.Context, dir string) *Ticket {
	dir = filepath.Clean(dir)
	return e.submit(ctx, dir, func(ctx context.Context) (Report, error) {
		return e.runSync(ctx, dir)
	})
}

func (e *Engine) submit(ctx context.Context, name string, run func(ctx context.Context) (Report, error)) *Ticket {
	t := newTicket()
	if !e.queue.enqueue(&job{ctx: ctx, name: name, run: run, ticket: t}) {
		t.complete(Report{}, ErrEngineClosed)
	}
	return t
}

func newRunID() string {
	return uuid.NewString()
}

// runSync runs one sketch sync and records its report.
func (e *Engine) runSync(ctx context.Context, dir string) (Report, error) {
	report := Report{
		RunID:   newRunID(),
		Sketch:  filepath.Base(dir),
		Dir:     dir,
		Started: e.clock(),
	}
	err := e.syncSketch(ctx, dir, &report)
	report.Finished = e.clock()
	report.Err = err
	if err != nil {
		e.logger.Printf("Sync of %s failed: %v", dir, err)
	} else if !report.Skipped {
		e.logger.Printf("Synced %s: pulled=%d pushed=%d deleted_local=%d deleted_remote=%d conflicts=%d",
			report.Sketch, report.Pulled, report.Pushed, report.DeletedLocal, report.DeletedRemote, report.Conflicts)
	}
	e.record(ctx, report)
	return report, err
}

func (e *Engine) record(ctx context.Context, report Report) {
	if e.reporter == nil || report.Skipped {
		return
	}
	if err := e.reporter.Record(ctx, report); err != nil {
		e.logger.Printf("Warning: failed to record sync of %s: %v", report.Sketch, err)
	}
}

func (e *Engine) syncSketch(ctx context.Context, dir string, report *Report) error {
	marker, state, err := ReadMarker(e.fs, dir)
	if err != nil {
		return err
	}
	switch state {
	case MarkerMissing:
		report.Skipped = true
		return nil
	case MarkerEmpty:
		marker, err = e.bootstrap(ctx, filepath.Base(dir))
		if err != nil {
			return err
		}
	}

	result, err := e.remote.GetSketchByPath(ctx, marker.Sketch.Path)
	if err != nil {
		return fmt.Errorf("failed to fetch remote sketch %s: %w", marker.Sketch.Path, err)
	}
	if result.Conflict != nil {
		if result.Conflict.NotFound() {
			report.RemoteDeleted = true
			return e.handleRemoteDeletion(ctx, dir, marker.Sketch.Name)
		}
		return &ConflictError{Sketch: marker.Sketch.Name, Response: *result.Conflict}
	}
	remoteSketch := *result.Sketch

	if remoteSketch.Name != marker.Sketch.Name {
		newDir, err := e.renameLocal(dir, remoteSketch.Name)
		if err != nil {
			return err
		}
		report.RenamedFrom = dir
		report.Dir = newDir
		report.Sketch = remoteSketch.Name
		dir = newDir
	}

	remoteFiles, err := e.remote.ListFiles(ctx, remoteSketch.Path)
	if err != nil {
		return fmt.Errorf("failed to list remote files of %s: %w", remoteSketch.Name, err)
	}
	// Taken before the local listing so edits made while the sync runs
	// count as local changes next time.
	syncedAt := e.clock()
	localFiles, err := ListLocal(e.fs, dir)
	if err != nil {
		return err
	}

	for _, step := range Plan(localFiles, remoteFiles, marker.Files, marker.SyncedAt) {
		if err := e.apply(ctx, dir, remoteSketch, step, report); err != nil {
			return fmt.Errorf("failed to sync %s (%s): %w", step.Name, step.Action, err)
		}
	}

	finalFiles, err := e.remote.ListFiles(ctx, remoteSketch.Path)
	if err != nil {
		return fmt.Errorf("failed to list remote files of %s: %w", remoteSketch.Name, err)
	}
	return WriteMarker(e.fs, dir, &Marker{Sketch: remoteSketch, Files: finalFiles, SyncedAt: &syncedAt})
}

// bootstrap builds the marker state for a never-synced sketch from the remote
// sketch of the same name. The sketch timestamp is cleared so the first sync
// treats everything remote as changed.
func (e *Engine) bootstrap(ctx context.Context, name string) (*Marker, error) {
	sketches, err := e.remote.GetSketches(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list remote sketches: %w", err)
	}
	for _, s := range sketches {
		if s.Name == name {
			s.ModifiedAt = ""
			e.logger.Printf("Bootstrapping %s from remote %s", name, s.Path)
			return &Marker{Sketch: s}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoRemoteSketch, name)
}

func (e *Engine) handleRemoteDeletion(ctx context.Context, dir, name string) error {
	if e.resolveDeletion == nil {
		return fmt.Errorf("%w: remote sketch %s was deleted", ErrNoResolver, name)
	}
	action, err := e.resolveDeletion(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to resolve remote deletion of %s: %w", name, err)
	}
	e.logger.Printf("Remote sketch %s was deleted, decision: %s", name, action)

	switch action {
	case DeletionDelete:
		if err := e.fs.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to delete %s: %w", dir, err)
		}
		if e.closeWorkspace != nil {
			return e.closeWorkspace(ctx, dir)
		}
		return nil
	default:
		if err := e.fs.Remove(MarkerPath(dir)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove marker of %s: %w", dir, err)
		}
		return nil
	}
}

func (e *Engine) renameLocal(dir, newName string) (string, error) {
	newDir := filepath.Join(filepath.Dir(dir), newName)
	if ok, _ := afero.Exists(e.fs, newDir); ok {
		return "", fmt.Errorf("%w: %s", ErrRenameTarget, newDir)
	}
	if err := e.fs.Rename(dir, newDir); err != nil {
		return "", fmt.Errorf("failed to rename %s to %s: %w", dir, newDir, err)
	}
	e.logger.Printf("Sketch renamed remotely, moved %s to %s", dir, newDir)
	return newDir, nil
}

func (e *Engine) apply(ctx context.Context, dir string, remoteSketch create.Sketch, step Step, report *Report) error {
	localPath := filepath.Join(dir, step.Name)
	remotePath := path.Join(remoteSketch.Path, step.Name)
	if step.Remote != nil && step.Remote.Path != "" {
		remotePath = step.Remote.Path
	}

	switch step.Action {
	case ActionPull:
		changed, err := e.pull(ctx, localPath, remotePath)
		if changed {
			report.Pulled++
		}
		return err
	case ActionPush:
		changed, err := e.push(ctx, localPath, remotePath, step.Remote != nil)
		if changed {
			report.Pushed++
		}
		return err
	case ActionConflict:
		return e.resolve(ctx, remoteSketch.Name, step.Name, localPath, remotePath, report)
	case ActionDeleteRemote:
		if err := e.remote.DeleteFile(ctx, remotePath); err != nil {
			return err
		}
		report.DeletedRemote++
	case ActionDeleteLocal:
		if err := e.fs.Remove(localPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		report.DeletedLocal++
	}
	return nil
}

func (e *Engine) resolve(ctx context.Context, sketchName, name, localPath, remotePath string, report *Report) error {
	local, err := afero.ReadFile(e.fs, localPath)
	if err != nil {
		return err
	}
	remote, err := e.remote.ReadFile(ctx, remotePath)
	if err != nil {
		return err
	}
	// Same content on both sides: nothing to decide.
	if bytes.Equal(local, remote) {
		return nil
	}

	report.Conflicts++
	if e.resolveConflict == nil {
		return fmt.Errorf("%w: %s/%s changed locally and remotely", ErrNoResolver, sketchName, name)
	}
	side, err := e.resolveConflict(ctx, Conflict{SketchName: sketchName, FileName: name})
	if err != nil {
		return fmt.Errorf("failed to resolve conflict: %w", err)
	}
	e.logger.Printf("Conflict on %s/%s resolved: keep %s", sketchName, name, side)

	if side == SideRemote {
		if err := e.writeLocal(localPath, remote); err != nil {
			return err
		}
		report.Pulled++
		return nil
	}
	if err := e.remote.WriteFile(ctx, remotePath, local); err != nil {
		return err
	}
	report.Pushed++
	return nil
}

// pull copies the remote file to localPath unless the content is equal.
func (e *Engine) pull(ctx context.Context, localPath, remotePath string) (bool, error) {
	data, err := e.remote.ReadFile(ctx, remotePath)
	if err != nil {
		return false, err
	}
	current, err := afero.ReadFile(e.fs, localPath)
	if err == nil && bytes.Equal(current, data) {
		return false, nil
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	if err := e.writeLocal(localPath, data); err != nil {
		return false, err
	}
	return true, nil
}

// push copies the local file to remotePath unless the remote content is equal.
func (e *Engine) push(ctx context.Context, localPath, remotePath string, remoteExists bool) (bool, error) {
	data, err := afero.ReadFile(e.fs, localPath)
	if err != nil {
		return false, err
	}
	if remoteExists {
		current, err := e.remote.ReadFile(ctx, remotePath)
		if err != nil {
			return false, err
		}
		if bytes.Equal(current, data) {
			return false, nil
		}
	}
	if err := e.remote.WriteFile(ctx, remotePath, data); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) writeLocal(localPath string, data []byte) error {
	return afero.WriteFile(e.fs, localPath, data, 0644)
}

// ListLocal lists the files a sync considers in dir: regular files at the top
// level, without the marker and build artifacts. Dotfiles are included.
func ListLocal(fsys afero.Fs, dir string) ([]LocalFile, error) {
	entries, err := afero.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	files := make([]LocalFile, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !syncable(entry.Name()) {
			continue
		}
		files = append(files, LocalFile{Name: entry.Name(), ModTime: entry.ModTime()})
	}
	return files, nil
}

func (e *Engine) listOpenSketches() ([]string, error) {
	if e.openSketches != nil {
		return e.openSketches()
	}
	return ManagedSketches(e.fs, e.sketchbook)
}

// ManagedSketches lists the sketchbook directories that have a marker file.
func ManagedSketches(fsys afero.Fs, sketchbook string) ([]string, error) {
	entries, err := afero.ReadDir(fsys, sketchbook)
	if err != nil {
		return nil, fmt.Errorf("failed to list sketchbook %s: %w", sketchbook, err)
	}
	var dirs []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(sketchbook, entry.Name())
		if ok, _ := sketch.HasMarker(fsys, dir); ok {
			dirs = append(dirs, dir)
		}
	}
	return dirs, nil
}
