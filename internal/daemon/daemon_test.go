package daemon

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/mschirtzinger/sketchd/internal/sketch"
	"github.com/mschirtzinger/sketchd/internal/sketchsync"
)

// fakeSyncer records what the daemon asks to sync.
type fakeSyncer struct {
	mu        sync.Mutex
	submitted []string
	synced    []string
}

func (f *fakeSyncer) Sync(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synced = append(f.synced, path)
	return nil
}

func (f *fakeSyncer) Submit(ctx context.Context, dir string) *sketchsync.Ticket {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, dir)
	return nil
}

func (f *fakeSyncer) submits(dir string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, d := range f.submitted {
		if d == dir {
			n++
		}
	}
	return n
}

func (f *fakeSyncer) fullSyncs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.synced)
}

// sketchList is a mutable list of open sketches.
type sketchList struct {
	mu   sync.Mutex
	dirs []string
}

func (l *sketchList) add(dir string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dirs = append(l.dirs, dir)
}

func (l *sketchList) list() ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.dirs), nil
}

func testConfig() *Config {
	return &Config{
		DebounceInterval: 20 * time.Millisecond,
		Logger:           log.New(io.Discard, "", 0),
	}
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

// startDaemon runs d in the background and stops it when the test ends.
func startDaemon(t *testing.T, d *Daemon) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- d.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errc:
			if err != nil {
				t.Errorf("Start() returned error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Daemon did not stop")
		}
	})
}

func TestNewWithConfig_Validation(t *testing.T) {
	list := func() ([]string, error) { return nil, nil }
	syncer := &fakeSyncer{}

	if _, err := NewWithConfig(nil, "/sb", list, testConfig()); err == nil {
		t.Error("NewWithConfig() should reject a nil syncer")
	}
	if _, err := NewWithConfig(syncer, "", list, testConfig()); err == nil {
		t.Error("NewWithConfig() should reject an empty sketchbook")
	}
	if _, err := NewWithConfig(syncer, "/sb", nil, testConfig()); err == nil {
		t.Error("NewWithConfig() should reject a nil sketch list")
	}

	d, err := NewWithConfig(syncer, "/sb", list, &Config{})
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	defer d.Stop()
	if d.config.Logger == nil || d.config.DebounceInterval <= 0 {
		t.Errorf("Defaults not applied: %+v", d.config)
	}
}

func TestDaemon_SyncsOpenSketchesOnStart(t *testing.T) {
	root := t.TempDir()
	blink := makeSketchDir(t, root, "Blink")
	fade := makeSketchDir(t, root, "Fade")
	list := &sketchList{dirs: []string{blink, fade}}
	syncer := &fakeSyncer{}

	d, err := NewWithConfig(syncer, root, list.list, testConfig())
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	startDaemon(t, d)

	if !waitFor(t, 2*time.Second, func() bool { return syncer.submits(blink) == 1 && syncer.submits(fade) == 1 }) {
		t.Fatalf("Expected one sync per open sketch, got %v", syncer.submitted)
	}
}

func TestDaemon_SyncsAfterFileChange(t *testing.T) {
	root := t.TempDir()
	blink := makeSketchDir(t, root, "Blink")
	list := &sketchList{dirs: []string{blink}}
	syncer := &fakeSyncer{}

	d, err := NewWithConfig(syncer, root, list.list, testConfig())
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	startDaemon(t, d)
	if !waitFor(t, 2*time.Second, func() bool { return syncer.submits(blink) == 1 }) {
		t.Fatal("Initial sync not queued")
	}

	// A burst of writes is one sync.
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(filepath.Join(blink, "Blink.ino"), []byte{byte(i)}, 0644); err != nil {
			t.Fatalf("WriteFile() failed: %v", err)
		}
	}

	if !waitFor(t, 2*time.Second, func() bool { return syncer.submits(blink) == 2 }) {
		t.Fatalf("Change did not queue a sync, got %v", syncer.submitted)
	}
	time.Sleep(100 * time.Millisecond)
	if n := syncer.submits(blink); n != 2 {
		t.Errorf("Burst queued %d syncs, want 1", n-1)
	}
}

func TestDaemon_IgnoresMarkerOnlyChanges(t *testing.T) {
	root := t.TempDir()
	blink := makeSketchDir(t, root, "Blink")
	list := &sketchList{dirs: []string{blink}}
	syncer := &fakeSyncer{}

	d, err := NewWithConfig(syncer, root, list.list, testConfig())
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	startDaemon(t, d)
	if !waitFor(t, 2*time.Second, func() bool { return syncer.submits(blink) == 1 }) {
		t.Fatal("Initial sync not queued")
	}

	tmp := filepath.Join(blink, sketch.MarkerFile+".tmp-1")
	if err := os.WriteFile(tmp, []byte("{}"), 0644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	if err := os.Rename(tmp, filepath.Join(blink, sketch.MarkerFile)); err != nil {
		t.Fatalf("Rename() failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(blink, "Blink.ino.hex"), nil, 0644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	if n := syncer.submits(blink); n != 1 {
		t.Errorf("Marker and artifact writes queued %d syncs, want 0", n-1)
	}
}

func TestDaemon_PeriodicFullSync(t *testing.T) {
	root := t.TempDir()
	syncer := &fakeSyncer{}
	config := testConfig()
	config.FullSyncInterval = 30 * time.Millisecond

	d, err := NewWithConfig(syncer, root, (&sketchList{}).list, config)
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	startDaemon(t, d)

	if !waitFor(t, 2*time.Second, func() bool { return syncer.fullSyncs() >= 2 }) {
		t.Fatalf("Expected periodic full syncs, got %d", syncer.fullSyncs())
	}
	syncer.mu.Lock()
	defer syncer.mu.Unlock()
	if syncer.synced[0] != root {
		t.Errorf("Full sync path = %s, want %s", syncer.synced[0], root)
	}
}

// busySyncer reports a queue backlog.
type busySyncer struct {
	fakeSyncer
	pending int
}

func (b *busySyncer) Pending() int { return b.pending }

func TestDaemon_PeriodicFullSyncSkippedWhileBacklogged(t *testing.T) {
	root := t.TempDir()
	syncer := &busySyncer{pending: 3}
	config := testConfig()
	config.FullSyncInterval = 10 * time.Millisecond

	d, err := NewWithConfig(syncer, root, (&sketchList{}).list, config)
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	startDaemon(t, d)

	time.Sleep(100 * time.Millisecond)
	if n := syncer.fullSyncs(); n != 0 {
		t.Errorf("Expected no full syncs while backlogged, got %d", n)
	}
}

func TestDaemon_RescanWatchesNewSketches(t *testing.T) {
	root := t.TempDir()
	blink := makeSketchDir(t, root, "Blink")
	list := &sketchList{dirs: []string{blink}}
	syncer := &fakeSyncer{}

	d, err := NewWithConfig(syncer, root, list.list, testConfig())
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	defer d.Stop()

	if err := d.Rescan(); err != nil {
		t.Fatalf("Rescan() failed: %v", err)
	}
	fade := makeSketchDir(t, root, "Fade")
	list.add(fade)
	if err := d.Rescan(); err != nil {
		t.Fatalf("Rescan() failed: %v", err)
	}

	if syncer.submits(blink) != 1 || syncer.submits(fade) != 1 {
		t.Errorf("Rescan() submitted %v, want one sync per sketch", syncer.submitted)
	}
	if !d.watcher.Watching(fade) {
		t.Error("New sketch is not watched")
	}

	list.mu.Lock()
	list.dirs = []string{fade}
	list.mu.Unlock()
	if err := d.Rescan(); err != nil {
		t.Fatalf("Rescan() failed: %v", err)
	}
	if d.watcher.Watching(blink) {
		t.Error("Closed sketch is still watched")
	}
}

func TestProcessPendingChanges(t *testing.T) {
	syncer := &fakeSyncer{}
	d, err := NewWithConfig(syncer, "/sb", (&sketchList{}).list, testConfig())
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	defer d.Stop()

	d.queueChange(FileEvent{Path: "/sb/Blink/Blink.ino", Sketch: "/sb/Blink", Op: OpModify})
	d.queueChange(FileEvent{Path: "/sb/Blink/.arduino_create", Sketch: "/sb/Blink", Op: OpModify})
	d.queueChange(FileEvent{Path: "/sb/Fade/.arduino_create", Sketch: "/sb/Fade", Op: OpCreate})
	d.queueChange(FileEvent{Path: "/sb/Late/Late.ino", Sketch: "/sb/Late", Op: OpCreate})

	// Everything but Late has settled.
	past := time.Now().Add(-time.Second)
	d.changeQueue["/sb/Blink"].lastEvent = past
	d.changeQueue["/sb/Fade"].lastEvent = past

	d.processPendingChanges()

	if syncer.submits("/sb/Blink") != 1 {
		t.Errorf("Blink submits = %d, want 1", syncer.submits("/sb/Blink"))
	}
	if syncer.submits("/sb/Fade") != 0 {
		t.Error("Marker-only batch queued a sync")
	}
	if syncer.submits("/sb/Late") != 0 {
		t.Error("Unsettled batch queued a sync")
	}
	if _, ok := d.changeQueue["/sb/Late"]; !ok {
		t.Error("Unsettled batch was dropped")
	}
	if _, ok := d.changeQueue["/sb/Fade"]; ok {
		t.Error("Marker-only batch was kept")
	}
}
