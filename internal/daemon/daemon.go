// Package daemon keeps the sketchbook in sync while it runs.
//
// The daemon:
//  1. Syncs every open sketch when it starts watching it
//  2. Watches the open sketch directories and syncs a sketch after its files
//     settle (debounced per sketch)
//  3. Periodically syncs the whole sketchbook to pick up remote-only changes
//  4. Handles graceful shutdown
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mschirtzinger/sketchd/internal/sketch"
	"github.com/mschirtzinger/sketchd/internal/sketchsync"
)

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long a sketch must be quiet before its changes
	// are synced. This batches rapid updates together.
	DebounceInterval time.Duration

	// FullSyncInterval is how often the whole sketchbook is synced.
	// Zero disables periodic syncs.
	FullSyncInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 500 * time.Millisecond,
		FullSyncInterval: 5 * time.Minute,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// pendingChange is a debounced batch of file events for one sketch.
type pendingChange struct {
	lastEvent time.Time
	// relevant is set once the batch holds a change to a synced file.
	// Batches touching only the marker (written by the sync itself) or
	// build artifacts do not trigger a sync.
	relevant bool
}

// Daemon orchestrates file watching and sketch synchronization.
type Daemon struct {
	syncer       sketchsync.Syncer
	sketchbook   string
	listSketches func() ([]string, error)
	config       *Config

	watcher       *FileWatcher
	changeQueue   map[string]*pendingChange // sketch dir -> batch
	changeQueueMu sync.Mutex

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped sync.Once
}

// New creates a new Daemon instance.
//
// The daemon requires:
//   - syncer: the sync engine
//   - sketchbook: the sketchbook root, synced periodically as a whole
//   - listSketches: the open sketch directories to watch
//
// Use Start() to begin watching and syncing.
func New(syncer sketchsync.Syncer, sketchbook string, listSketches func() ([]string, error)) (*Daemon, error) {
	return NewWithConfig(syncer, sketchbook, listSketches, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(syncer sketchsync.Syncer, sketchbook string, listSketches func() ([]string, error), config *Config) (*Daemon, error) {
	if syncer == nil {
		return nil, errors.New("syncer cannot be nil")
	}
	if sketchbook == "" {
		return nil, errors.New("sketchbook cannot be empty")
	}
	if listSketches == nil {
		return nil, errors.New("listSketches cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}

	watcher, err := NewFileWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		syncer:       syncer,
		sketchbook:   filepath.Clean(sketchbook),
		listSketches: listSketches,
		config:       config,
		watcher:      watcher,
		changeQueue:  make(map[string]*pendingChange),
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// The daemon will:
//  1. Watch every open sketch and queue a sync for it
//  2. Process file changes with debouncing
//  3. Periodically sync the whole sketchbook
//
// This blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if err := d.watcher.Start(); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	if err := d.Rescan(); err != nil {
		_ = d.Stop()
		return fmt.Errorf("initial scan failed: %w", err)
	}

	d.wg.Add(2)
	go d.watchFileEvents()
	go d.processChangeQueue()
	if d.config.FullSyncInterval > 0 {
		d.wg.Add(1)
		go d.periodicFullSync()
	}

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon. Queued syncs already handed to the
// engine are not cancelled here; closing the engine does that.
func (d *Daemon) Stop() error {
	d.stopped.Do(func() {
		d.config.Logger.Println("Stopping daemon")
		d.cancel()
		if err := d.watcher.Stop(); err != nil {
			d.config.Logger.Printf("Error closing watcher: %v", err)
		}
		d.wg.Wait()
		d.config.Logger.Println("Daemon stopped")
	})
	return nil
}

// Rescan watches open sketches not watched yet and queues a sync for each of
// them. Sketches that are no longer open are unwatched.
func (d *Daemon) Rescan() error {
	dirs, err := d.listSketches()
	if err != nil {
		return fmt.Errorf("failed to list open sketches: %w", err)
	}

	open := make(map[string]bool, len(dirs))
	for _, dir := range dirs {
		if abs, err := filepath.Abs(dir); err == nil {
			dir = abs
		}
		open[dir] = true
		if d.watcher.Watching(dir) {
			continue
		}
		if err := d.watcher.Watch(dir); err != nil {
			d.config.Logger.Printf("Warning: %v", err)
			continue
		}
		d.config.Logger.Printf("Watching %s", dir)
		d.syncer.Submit(d.ctx, dir)
	}

	for _, dir := range d.watcher.Watched() {
		if open[dir] {
			continue
		}
		d.config.Logger.Printf("No longer watching %s", dir)
		d.watcher.Unwatch(dir)
	}
	return nil
}

// watchFileEvents moves watcher events into the change queue.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events():
			if !ok {
				return
			}
			d.queueChange(event)

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange adds an event to its sketch's batch and restarts the
// sketch's debounce window.
func (d *Daemon) queueChange(event FileEvent) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	change, ok := d.changeQueue[event.Sketch]
	if !ok {
		change = &pendingChange{}
		d.changeQueue[event.Sketch] = change
	}
	change.lastEvent = time.Now()
	if triggersSync(event.Name()) {
		change.relevant = true
	}
}

func triggersSync(name string) bool {
	return !sketchsync.IsMarkerName(name) && !sketch.IsBuildArtifact(name)
}

// processChangeQueue processes queued changes with debouncing.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// processPendingChanges queues a sync for every sketch that has been quiet
// for long enough.
func (d *Daemon) processPendingChanges() {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	now := time.Now()
	for dir, change := range d.changeQueue {
		if now.Sub(change.lastEvent) < d.config.DebounceInterval {
			continue
		}
		delete(d.changeQueue, dir)
		if !change.relevant {
			continue
		}
		d.config.Logger.Printf("Files changed in %s, queueing sync", dir)
		d.syncer.Submit(d.ctx, dir)
	}
}

// periodicFullSync syncs the whole sketchbook on every tick.
func (d *Daemon) periodicFullSync() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.FullSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			if n := d.backlog(); n > 0 {
				d.config.Logger.Printf("Skipping full sync, %d syncs still queued", n)
				continue
			}
			d.PerformFullSync(d.ctx)
		}
	}
}

// backlog returns the number of syncs queued but not started, when the
// syncer reports it.
func (d *Daemon) backlog() int {
	if q, ok := d.syncer.(interface{ Pending() int }); ok {
		return q.Pending()
	}
	return 0
}

// PerformFullSync rescans the open sketches and syncs the whole sketchbook.
// Failures are logged; the next tick tries again.
func (d *Daemon) PerformFullSync(ctx context.Context) {
	d.config.Logger.Println("Performing full sync")
	if err := d.Rescan(); err != nil {
		d.config.Logger.Printf("Error rescanning sketchbook: %v", err)
	}
	if err := d.syncer.Sync(ctx, d.sketchbook); err != nil {
		if ctx.Err() != nil {
			return
		}
		d.config.Logger.Printf("Error syncing sketchbook: %v", err)
		return
	}
	d.config.Logger.Println("Full sync complete")
}
