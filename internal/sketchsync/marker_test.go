package sketchsync

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"

	"github.com/mschirtzinger/sketchd/internal/create"
)

func TestMarker_RoundTrip(t *testing.T) {
	fsys := afero.NewMemMapFs()
	if err := fsys.MkdirAll("/sketchbook/Blink", 0755); err != nil {
		t.Fatalf("MkdirAll() failed: %v", err)
	}
	syncedAt := time.Date(2024, 3, 1, 10, 30, 0, 123456789, time.UTC)
	want := &Marker{
		Sketch: create.Sketch{Name: "Blink", ID: "1", Path: "users/me/Blink", ModifiedAt: "2024-03-01T10:00:00Z"},
		Files: []create.File{
			{Name: "Blink.ino", Path: "users/me/Blink/Blink.ino", ModifiedAt: "2024-03-01T10:00:00Z"},
		},
		SyncedAt: &syncedAt,
	}

	if err := WriteMarker(fsys, "/sketchbook/Blink", want); err != nil {
		t.Fatalf("WriteMarker() failed: %v", err)
	}
	got, state, err := ReadMarker(fsys, "/sketchbook/Blink")
	if err != nil {
		t.Fatalf("ReadMarker() failed: %v", err)
	}
	if state != MarkerPresent {
		t.Errorf("state = %v, want MarkerPresent", state)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("marker mismatch (-want +got):\n%s", diff)
	}

	entries, err := afero.ReadDir(fsys, "/sketchbook/Blink")
	if err != nil {
		t.Fatalf("ReadDir() failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %d entries", len(entries))
	}
}

func TestReadMarker_States(t *testing.T) {
	fsys := afero.NewMemMapFs()
	_ = fsys.MkdirAll("/sketchbook/Plain", 0755)
	_ = afero.WriteFile(fsys, "/sketchbook/Fresh/.arduino_create", []byte("  \n"), 0644)
	_ = afero.WriteFile(fsys, "/sketchbook/Broken/.arduino_create", []byte("{"), 0644)

	if _, state, err := ReadMarker(fsys, "/sketchbook/Plain"); err != nil || state != MarkerMissing {
		t.Errorf("ReadMarker(Plain) = %v, %v; want MarkerMissing", state, err)
	}
	if _, state, err := ReadMarker(fsys, "/sketchbook/Fresh"); err != nil || state != MarkerEmpty {
		t.Errorf("ReadMarker(Fresh) = %v, %v; want MarkerEmpty", state, err)
	}
	if _, _, err := ReadMarker(fsys, "/sketchbook/Broken"); err == nil {
		t.Error("ReadMarker(Broken) succeeded, want parse error")
	}
}

func TestMarker_LegacyWithoutSyncedAt(t *testing.T) {
	fsys := afero.NewMemMapFs()
	legacy := `{"sketch":{"name":"Blink","id":"1","path":"p","modified_at":"m"},"files":[]}`
	_ = afero.WriteFile(fsys, "/s/Blink/.arduino_create", []byte(legacy), 0644)

	m, _, err := ReadMarker(fsys, "/s/Blink")
	if err != nil {
		t.Fatalf("ReadMarker() failed: %v", err)
	}
	if m.SyncedAt != nil {
		t.Errorf("SyncedAt = %v, want nil", m.SyncedAt)
	}
	if m.Sketch.Name != "Blink" {
		t.Errorf("Sketch.Name = %q, want Blink", m.Sketch.Name)
	}
}
