package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/mschirtzinger/sketchd/internal/boards"
	"github.com/mschirtzinger/sketchd/internal/sketchsync"
)

// setupTestStore opens a store in a temporary directory.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	st, err := Open(filepath.Join(t.TempDir(), "nested", "state.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			t.Errorf("Close() failed: %v", err)
		}
	})
	return st
}

func TestSetGetData(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	board := boards.Board{Name: "Arduino Uno", FQBN: "arduino:avr:uno"}
	if err := st.SetData(ctx, "board", board); err != nil {
		t.Fatalf("SetData() failed: %v", err)
	}

	var got boards.Board
	ok, err := st.GetData(ctx, "board", &got)
	if err != nil {
		t.Fatalf("GetData() failed: %v", err)
	}
	if !ok {
		t.Fatal("GetData() reported missing key")
	}
	if got.Name != board.Name || got.FQBN != board.FQBN {
		t.Errorf("GetData() = %+v, want %+v", got, board)
	}

	// Overwrite
	board.FQBN = "arduino:avr:nano"
	if err := st.SetData(ctx, "board", board); err != nil {
		t.Fatalf("SetData() overwrite failed: %v", err)
	}
	if _, err := st.GetData(ctx, "board", &got); err != nil {
		t.Fatalf("GetData() failed: %v", err)
	}
	if got.FQBN != "arduino:avr:nano" {
		t.Errorf("FQBN after overwrite = %q, want arduino:avr:nano", got.FQBN)
	}
}

func TestGetDataMissing(t *testing.T) {
	st := setupTestStore(t)

	var got boards.Board
	ok, err := st.GetData(context.Background(), "nope", &got)
	if err != nil {
		t.Fatalf("GetData() failed: %v", err)
	}
	if ok {
		t.Error("GetData() reported a missing key as present")
	}
}

func TestSetDataNilDeletes(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	if err := st.SetData(ctx, "k", map[string]int{"a": 1}); err != nil {
		t.Fatalf("SetData() failed: %v", err)
	}
	var nilBoard *boards.Board
	if err := st.SetData(ctx, "k", nilBoard); err != nil {
		t.Fatalf("SetData(nil) failed: %v", err)
	}

	var got map[string]int
	ok, err := st.GetData(ctx, "k", &got)
	if err != nil {
		t.Fatalf("GetData() failed: %v", err)
	}
	if ok {
		t.Error("key still present after SetData(nil)")
	}
}

func TestKeys(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"b:2", "a:1", "b:1", "c"} {
		if err := st.SetData(ctx, key, true); err != nil {
			t.Fatalf("SetData(%s) failed: %v", key, err)
		}
	}

	keys, err := st.Keys(ctx, "b:")
	if err != nil {
		t.Fatalf("Keys() failed: %v", err)
	}
	want := []string{"b:1", "b:2"}
	if len(keys) != len(want) || keys[0] != want[0] || keys[1] != want[1] {
		t.Errorf("Keys() = %v, want %v", keys, want)
	}
}

func TestStoreSatisfiesBoardsStore(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	var kv boards.KeyValueStore = st
	port := boards.Port{Address: "COM3", Protocol: "serial"}
	key := boards.LastSelectedBoardKey(port)
	if err := kv.SetData(ctx, key, boards.Board{Name: "Arduino Uno"}); err != nil {
		t.Fatalf("SetData() failed: %v", err)
	}

	// Survives a reopen.
	path := st.Path()
	if err := st.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer reopened.Close()

	var got boards.Board
	if ok, err := reopened.GetData(ctx, key, &got); err != nil || !ok {
		t.Fatalf("GetData() = %v, %v after reopen", ok, err)
	}
	if got.Name != "Arduino Uno" {
		t.Errorf("Name = %q, want Arduino Uno", got.Name)
	}
}

func TestRecordAndRuns(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	reports := []sketchsync.Report{
		{RunID: "r1", Sketch: "Blink", Dir: "/sb/Blink", Pulled: 2, Started: base, Finished: base.Add(time.Second)},
		{RunID: "r2", Sketch: "Fade", Dir: "/sb/Fade", Pushed: 1, Started: base.Add(time.Minute), Finished: base.Add(time.Minute)},
		{RunID: "r3", Sketch: "Blink", Dir: "/sb/Blink", Conflicts: 1, Started: base.Add(2 * time.Minute), Finished: base.Add(2 * time.Minute), Err: errors.New("no resolver")},
	}
	for _, r := range reports {
		if err := st.Record(ctx, r); err != nil {
			t.Fatalf("Record(%s) failed: %v", r.RunID, err)
		}
	}

	runs, err := st.Runs(ctx, RunFilter{})
	if err != nil {
		t.Fatalf("Runs() failed: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("Runs() returned %d runs, want 3", len(runs))
	}
	if runs[0].ID != "r3" || runs[2].ID != "r1" {
		t.Errorf("Runs() order = %s,%s,%s, want r3,r2,r1", runs[0].ID, runs[1].ID, runs[2].ID)
	}
	if !runs[0].Failed() || runs[0].Error != "no resolver" {
		t.Errorf("run r3 error = %q, want %q", runs[0].Error, "no resolver")
	}
	if runs[2].Pulled != 2 || !runs[2].StartedAt.Equal(base) {
		t.Errorf("run r1 = %+v", runs[2])
	}

	blink, err := st.Runs(ctx, RunFilter{Sketch: "Blink", Limit: 1})
	if err != nil {
		t.Fatalf("Runs(Blink) failed: %v", err)
	}
	if len(blink) != 1 || blink[0].ID != "r3" {
		t.Errorf("Runs(Blink, limit 1) = %+v, want r3", blink)
	}

	since, err := st.Runs(ctx, RunFilter{Since: base.Add(30 * time.Second)})
	if err != nil {
		t.Fatalf("Runs(since) failed: %v", err)
	}
	if len(since) != 2 {
		t.Errorf("Runs(since) returned %d runs, want 2", len(since))
	}
}

func TestRecordRequiresRunID(t *testing.T) {
	st := setupTestStore(t)
	if err := st.Record(context.Background(), sketchsync.Report{Sketch: "Blink"}); err == nil {
		t.Error("Record() without run id succeeded")
	}
}

func TestPruneRuns(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)

	for i, started := range []time.Time{old, time.Now()} {
		r := sketchsync.Report{RunID: string(rune('a' + i)), Sketch: "Blink", Started: started, Finished: started}
		if err := st.Record(ctx, r); err != nil {
			t.Fatalf("Record() failed: %v", err)
		}
	}

	n, err := st.PruneRuns(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PruneRuns() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("PruneRuns() removed %d, want 1", n)
	}
}
