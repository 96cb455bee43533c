package sketchsync

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mschirtzinger/sketchd/internal/testutil"
)

const sketchbook = "/sketchbook"

// countingFs counts mutations of sketch files. Marker writes are ignored.
type countingFs struct {
	afero.Fs
	mu        sync.Mutex
	mutations []string
}

func (c *countingFs) count(op, name string) {
	if IsMarkerName(filepath.Base(name)) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mutations = append(c.mutations, op+" "+name)
}

func (c *countingFs) Mutations() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.mutations...)
}

func (c *countingFs) Create(name string) (afero.File, error) {
	c.count("create", name)
	return c.Fs.Create(name)
}

func (c *countingFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0 {
		c.count("write", name)
	}
	return c.Fs.OpenFile(name, flag, perm)
}

func (c *countingFs) Remove(name string) error {
	c.count("remove", name)
	return c.Fs.Remove(name)
}

func (c *countingFs) RemoveAll(name string) error {
	c.count("remove-all", name)
	return c.Fs.RemoveAll(name)
}

func (c *countingFs) Rename(oldname, newname string) error {
	c.count("rename", oldname)
	return c.Fs.Rename(oldname, newname)
}

type recordingReporter struct {
	mu      sync.Mutex
	reports []Report
}

func (r *recordingReporter) Record(_ context.Context, report Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
	return nil
}

type fixture struct {
	fs        *countingFs
	remote    *testutil.FakeRemote
	engine    *Engine
	reporter  *recordingReporter
	conflicts []Conflict
	side      Side
	deletions []string
	decision  DeletionAction
	closed    []string
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	fx := &fixture{
		fs:       &countingFs{Fs: afero.NewMemMapFs()},
		remote:   testutil.NewFakeRemote(),
		reporter: &recordingReporter{},
	}
	require.NoError(t, fx.fs.MkdirAll(sketchbook, 0755))
	base := []Option{
		WithLogger(log.New(io.Discard, "", 0)),
		WithSketchbook(sketchbook),
		WithReporter(fx.reporter),
		WithConflictResolver(func(_ context.Context, c Conflict) (Side, error) {
			fx.conflicts = append(fx.conflicts, c)
			return fx.side, nil
		}),
		WithDeletionResolver(func(_ context.Context, name string) (DeletionAction, error) {
			fx.deletions = append(fx.deletions, name)
			return fx.decision, nil
		}),
		WithCloseWorkspace(func(_ context.Context, dir string) error {
			fx.closed = append(fx.closed, dir)
			return nil
		}),
	}
	fx.engine = New(fx.fs, fx.remote, append(base, opts...)...)
	t.Cleanup(func() { _ = fx.engine.Close() })
	return fx
}

// linked creates a remote sketch with files and a local copy synced from it.
func (fx *fixture) linked(t *testing.T, name string, files map[string]string) string {
	t.Helper()
	s := fx.remote.PutSketch(name)
	for fileName, content := range files {
		fx.remote.PutFile(name, fileName, []byte(content))
	}
	dir, err := fx.engine.Download(context.Background(), s)
	require.NoError(t, err)
	_, err = fx.engine.SyncSketch(context.Background(), dir)
	require.NoError(t, err)
	return dir
}

func (fx *fixture) local(t *testing.T, dir, name string) string {
	t.Helper()
	data, err := afero.ReadFile(fx.fs, filepath.Join(dir, name))
	require.NoError(t, err)
	return string(data)
}

// touch writes a local file with a modification time after the last sync.
func (fx *fixture) touch(t *testing.T, dir, name, content string) {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, afero.WriteFile(fx.fs.Fs, p, []byte(content), 0644))
	future := time.Now().Add(time.Hour)
	require.NoError(t, fx.fs.Fs.Chtimes(p, future, future))
}

func TestSync_WithoutMarkerIsNoop(t *testing.T) {
	fx := newFixture(t)
	dir := filepath.Join(sketchbook, "Plain")
	require.NoError(t, afero.WriteFile(fx.fs, filepath.Join(dir, "Plain.ino"), []byte("x"), 0644))

	report, err := fx.engine.SyncSketch(context.Background(), dir)
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Zero(t, fx.remote.Calls("GetSketchByPath"))
	assert.Empty(t, fx.reporter.reports)
}

func TestSync_BootstrapPullsEverything(t *testing.T) {
	fx := newFixture(t)
	dir := fx.linked(t, "Blink", map[string]string{
		"Blink.ino": "void setup() {}",
		"notes.txt": "hello",
	})

	assert.Equal(t, "void setup() {}", fx.local(t, dir, "Blink.ino"))
	assert.Equal(t, "hello", fx.local(t, dir, "notes.txt"))

	marker, state, err := ReadMarker(fx.fs, dir)
	require.NoError(t, err)
	require.Equal(t, MarkerPresent, state)
	assert.Equal(t, "Blink", marker.Sketch.Name)
	assert.Len(t, marker.Files, 2)
	assert.NotNil(t, marker.SyncedAt)

	require.Len(t, fx.reporter.reports, 1)
	assert.Equal(t, 2, fx.reporter.reports[0].Pulled)
	assert.NotEmpty(t, fx.reporter.reports[0].RunID)
}

func TestSync_BootstrapWithoutRemoteSketch(t *testing.T) {
	fx := newFixture(t)
	dir := filepath.Join(sketchbook, "Orphan")
	require.NoError(t, afero.WriteFile(fx.fs, MarkerPath(dir), nil, 0644))

	_, err := fx.engine.SyncSketch(context.Background(), dir)
	assert.ErrorIs(t, err, ErrNoRemoteSketch)
	assert.True(t, IsFatal(err))
}

func TestSync_Idempotent(t *testing.T) {
	fx := newFixture(t)
	dir := fx.linked(t, "Blink", map[string]string{"Blink.ino": "a", "util.h": "b"})

	before := len(fx.fs.Mutations())
	remoteBefore := fx.remote.Mutations()

	report, err := fx.engine.SyncSketch(context.Background(), dir)
	require.NoError(t, err)

	assert.Zero(t, report.Changes())
	assert.Len(t, fx.fs.Mutations(), before, "unexpected local mutations: %v", fx.fs.Mutations()[before:])
	assert.Equal(t, remoteBefore, fx.remote.Mutations())
}

func TestSync_LocalAddedIsPushedOnce(t *testing.T) {
	fx := newFixture(t)
	dir := fx.linked(t, "Blink", map[string]string{"Blink.ino": "a"})

	fx.touch(t, dir, "extra.h", "#define X 1")
	_, err := fx.engine.SyncSketch(context.Background(), dir)
	require.NoError(t, err)
	_, err = fx.engine.SyncSketch(context.Background(), dir)
	require.NoError(t, err)

	data, ok := fx.remote.File("Blink", "extra.h")
	require.True(t, ok)
	assert.Equal(t, "#define X 1", string(data))
	assert.Equal(t, 1, fx.remote.Calls("WriteFile"))

	marker, _, err := ReadMarker(fx.fs, dir)
	require.NoError(t, err)
	var names []string
	for _, f := range marker.Files {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "extra.h")
}

func TestSync_RemoteNewerIsPulled(t *testing.T) {
	fx := newFixture(t)
	dir := fx.linked(t, "Blink", map[string]string{"Blink.ino": "v1"})

	fx.remote.PutFile("Blink", "Blink.ino", []byte("v2"))
	report, err := fx.engine.SyncSketch(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, "v2", fx.local(t, dir, "Blink.ino"))
	assert.Equal(t, 1, report.Pulled)
	assert.Empty(t, fx.conflicts)
}

func TestSync_BothChangedAsksResolver(t *testing.T) {
	tests := []struct {
		side Side
		want string
	}{
		{SideLocal, "local edit"},
		{SideRemote, "remote edit"},
	}
	for _, tt := range tests {
		t.Run(tt.side.String(), func(t *testing.T) {
			fx := newFixture(t)
			fx.side = tt.side
			dir := fx.linked(t, "Blink", map[string]string{"Blink.ino": "base"})

			fx.remote.PutFile("Blink", "Blink.ino", []byte("remote edit"))
			fx.touch(t, dir, "Blink.ino", "local edit")

			report, err := fx.engine.SyncSketch(context.Background(), dir)
			require.NoError(t, err)

			assert.Equal(t, []Conflict{{SketchName: "Blink", FileName: "Blink.ino"}}, fx.conflicts)
			assert.Equal(t, 1, report.Conflicts)
			assert.Equal(t, tt.want, fx.local(t, dir, "Blink.ino"))
			remote, _ := fx.remote.File("Blink", "Blink.ino")
			assert.Equal(t, tt.want, string(remote))
		})
	}
}

func TestSync_ConflictWithoutResolverChangesNothing(t *testing.T) {
	fx := newFixture(t, WithConflictResolver(nil))
	dir := fx.linked(t, "Blink", map[string]string{"Blink.ino": "base"})

	fx.remote.PutFile("Blink", "Blink.ino", []byte("remote edit"))
	fx.touch(t, dir, "Blink.ino", "local edit")

	_, err := fx.engine.SyncSketch(context.Background(), dir)
	assert.ErrorIs(t, err, ErrNoResolver)
	assert.True(t, IsUserActionRequired(err))
	assert.Equal(t, "local edit", fx.local(t, dir, "Blink.ino"))
	remote, _ := fx.remote.File("Blink", "Blink.ino")
	assert.Equal(t, "remote edit", string(remote))
}

func TestSync_FileDeletions(t *testing.T) {
	fx := newFixture(t)
	dir := fx.linked(t, "Blink", map[string]string{"Blink.ino": "a", "remote-gone.txt": "b", "local-gone.txt": "c"})

	fx.remote.RemoveFile("Blink", "remote-gone.txt")
	require.NoError(t, fx.fs.Remove(filepath.Join(dir, "local-gone.txt")))

	report, err := fx.engine.SyncSketch(context.Background(), dir)
	require.NoError(t, err)

	exists, _ := afero.Exists(fx.fs, filepath.Join(dir, "remote-gone.txt"))
	assert.False(t, exists)
	_, ok := fx.remote.File("Blink", "local-gone.txt")
	assert.False(t, ok)
	assert.Equal(t, 1, report.DeletedLocal)
	assert.Equal(t, 1, report.DeletedRemote)
}

func TestSync_RemoteSketchDeleted(t *testing.T) {
	t.Run("delete", func(t *testing.T) {
		fx := newFixture(t)
		fx.decision = DeletionDelete
		dir := fx.linked(t, "Blink", map[string]string{"Blink.ino": "a"})
		fx.remote.RemoveSketch("Blink")

		report, err := fx.engine.SyncSketch(context.Background(), dir)
		require.NoError(t, err)
		assert.True(t, report.RemoteDeleted)
		assert.Equal(t, []string{"Blink"}, fx.deletions)
		exists, _ := afero.Exists(fx.fs, dir)
		assert.False(t, exists)
		assert.Equal(t, []string{dir}, fx.closed)
	})

	t.Run("keep", func(t *testing.T) {
		fx := newFixture(t)
		fx.decision = DeletionKeep
		dir := fx.linked(t, "Blink", map[string]string{"Blink.ino": "a"})
		fx.remote.RemoveSketch("Blink")

		_, err := fx.engine.SyncSketch(context.Background(), dir)
		require.NoError(t, err)
		assert.Equal(t, "a", fx.local(t, dir, "Blink.ino"))
		_, state, err := ReadMarker(fx.fs, dir)
		require.NoError(t, err)
		assert.Equal(t, MarkerMissing, state)
		assert.Empty(t, fx.closed)
	})

	t.Run("no resolver", func(t *testing.T) {
		fx := newFixture(t, WithDeletionResolver(nil))
		dir := fx.linked(t, "Blink", map[string]string{"Blink.ino": "a"})
		fx.remote.RemoveSketch("Blink")

		_, err := fx.engine.SyncSketch(context.Background(), dir)
		assert.ErrorIs(t, err, ErrNoResolver)
		assert.Equal(t, "a", fx.local(t, dir, "Blink.ino"))
		_, state, _ := ReadMarker(fx.fs, dir)
		assert.Equal(t, MarkerPresent, state)
	})
}

func TestSync_RemoteRenameMovesDirectory(t *testing.T) {
	fx := newFixture(t)
	dir := fx.linked(t, "Blink", map[string]string{"Blink.ino": "a"})
	fx.remote.RenameSketch("Blink", "Blinky")

	report, err := fx.engine.SyncSketch(context.Background(), dir)
	require.NoError(t, err)

	newDir := filepath.Join(sketchbook, "Blinky")
	assert.Equal(t, dir, report.RenamedFrom)
	assert.Equal(t, newDir, report.Dir)
	exists, _ := afero.Exists(fx.fs, dir)
	assert.False(t, exists)
	assert.Equal(t, "a", fx.local(t, newDir, "Blink.ino"))

	marker, _, err := ReadMarker(fx.fs, newDir)
	require.NoError(t, err)
	assert.Equal(t, "Blinky", marker.Sketch.Name)
}

func TestSync_SketchbookFansOut(t *testing.T) {
	fx := newFixture(t)
	fx.linked(t, "One", map[string]string{"One.ino": "1"})
	fx.linked(t, "Two", map[string]string{"Two.ino": "2"})
	require.NoError(t, afero.WriteFile(fx.fs, filepath.Join(sketchbook, "Plain", "Plain.ino"), nil, 0644))
	fx.reporter.reports = nil

	require.NoError(t, fx.engine.Sync(context.Background(), sketchbook))

	var synced []string
	for _, r := range fx.reporter.reports {
		synced = append(synced, r.Sketch)
	}
	assert.ElementsMatch(t, []string{"One", "Two"}, synced)
}

func TestSync_WriteFailureIsReturned(t *testing.T) {
	fx := newFixture(t)
	dir := fx.linked(t, "Blink", map[string]string{"Blink.ino": "a"})
	fx.remote.FailWrites = errors.New("service unavailable")

	fx.touch(t, dir, "new.h", "x")
	_, err := fx.engine.SyncSketch(context.Background(), dir)
	require.Error(t, err)

	require.Len(t, fx.reporter.reports, 2)
	assert.Error(t, fx.reporter.reports[1].Err)

	// The queue keeps going after a failure.
	fx.remote.FailWrites = nil
	_, err = fx.engine.SyncSketch(context.Background(), dir)
	assert.NoError(t, err)
}

func TestEngine_ClosedRejectsSyncs(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.engine.Close())

	_, err := fx.engine.SyncSketch(context.Background(), filepath.Join(sketchbook, "Blink"))
	assert.ErrorIs(t, err, ErrEngineClosed)
}

func TestSync_DotfilesRoundTrip(t *testing.T) {
	fx := newFixture(t)
	dir := fx.linked(t, "Blink", map[string]string{"Blink.ino": "a", ".gitignore": "build/"})
	assert.Equal(t, "build/", fx.local(t, dir, ".gitignore"))

	report, err := fx.engine.SyncSketch(context.Background(), dir)
	require.NoError(t, err)
	assert.Zero(t, report.Changes())
	_, ok := fx.remote.File("Blink", ".gitignore")
	assert.True(t, ok)

	fx.touch(t, dir, ".gitignore", "build/\n*.bak")
	report, err = fx.engine.SyncSketch(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Pushed)
	data, ok := fx.remote.File("Blink", ".gitignore")
	require.True(t, ok)
	assert.Equal(t, "build/\n*.bak", string(data))
}

func TestSync_RemoteBuildArtifactsAreIgnored(t *testing.T) {
	fx := newFixture(t)
	dir := fx.linked(t, "Blink", map[string]string{"Blink.ino": "a", "Blink.ino.hex": ":00"})

	exists, err := afero.Exists(fx.fs, filepath.Join(dir, "Blink.ino.hex"))
	require.NoError(t, err)
	assert.False(t, exists)

	report, err := fx.engine.SyncSketch(context.Background(), dir)
	require.NoError(t, err)
	assert.Zero(t, report.Changes())
	_, ok := fx.remote.File("Blink", "Blink.ino.hex")
	assert.True(t, ok)
}

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Minute)
	return c.t
}

func TestSync_EditDuringSyncIsLocalChange(t *testing.T) {
	clk := &stepClock{t: time.Now().Add(time.Hour)}
	var (
		fx        *fixture
		dir       string
		conflicts []string
	)
	setMtime := func(name, content string) {
		p := filepath.Join(dir, name)
		require.NoError(t, afero.WriteFile(fx.fs.Fs, p, []byte(content), 0644))
		at := clk.Now()
		require.NoError(t, fx.fs.Fs.Chtimes(p, at, at))
	}
	fx = newFixture(t, WithClock(clk.Now), WithConflictResolver(func(_ context.Context, c Conflict) (Side, error) {
		conflicts = append(conflicts, c.FileName)
		if c.FileName == "Blink.ino" {
			// The user keeps editing while the sync waits for an answer.
			setMtime("util.h", "edited")
		}
		return SideLocal, nil
	}))
	dir = fx.linked(t, "Blink", map[string]string{"Blink.ino": "a", "util.h": "b"})

	setMtime("Blink.ino", "mine")
	fx.remote.PutFile("Blink", "Blink.ino", []byte("theirs"))
	_, err := fx.engine.SyncSketch(context.Background(), dir)
	require.NoError(t, err)
	require.Equal(t, []string{"Blink.ino"}, conflicts)

	fx.remote.PutFile("Blink", "util.h", []byte("remote"))
	_, err = fx.engine.SyncSketch(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"Blink.ino", "util.h"}, conflicts)
	assert.Equal(t, "edited", fx.local(t, dir, "util.h"))
}
