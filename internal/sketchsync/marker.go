package sketchsync

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/mschirtzinger/sketchd/internal/create"
	"github.com/mschirtzinger/sketchd/internal/sketch"
)

// Marker is the content of a sketch's marker file: the remote state observed
// at the end of the last sync.
type Marker struct {
	Sketch create.Sketch `json:"sketch"`
	Files  []create.File `json:"files"`
	// SyncedAt is the local time the last sync finished. Markers written by
	// older tools or by Download do not have it.
	SyncedAt *time.Time `json:"synced_at,omitempty"`
}

// MarkerState describes what was found on disk.
type MarkerState int

const (
	// MarkerMissing means the sketch is not managed by the remote store.
	MarkerMissing MarkerState = iota
	// MarkerEmpty means the sketch was never synced and must be bootstrapped.
	MarkerEmpty
	// MarkerPresent means the marker holds a previous sync's state.
	MarkerPresent
)

// MarkerPath returns the marker file path of dir.
func MarkerPath(dir string) string {
	return filepath.Join(dir, sketch.MarkerFile)
}

// ReadMarker reads dir's marker file.
func ReadMarker(fsys afero.Fs, dir string) (*Marker, MarkerState, error) {
	data, err := afero.ReadFile(fsys, MarkerPath(dir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, MarkerMissing, nil
	}
	if err != nil {
		return nil, MarkerMissing, fmt.Errorf("failed to read marker: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, MarkerEmpty, nil
	}
	var m Marker
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, MarkerPresent, fmt.Errorf("failed to parse marker %s: %w", MarkerPath(dir), err)
	}
	return &m, MarkerPresent, nil
}

// WriteMarker atomically replaces dir's marker file.
func WriteMarker(fsys afero.Fs, dir string, m *Marker) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode marker: %w", err)
	}

	tmp, err := afero.TempFile(fsys, dir, sketch.MarkerFile+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp marker: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = fsys.Remove(tmpName)
		return fmt.Errorf("failed to write temp marker: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = fsys.Remove(tmpName)
		return fmt.Errorf("failed to close temp marker: %w", err)
	}
	if err := fsys.Rename(tmpName, MarkerPath(dir)); err != nil {
		_ = fsys.Remove(tmpName)
		return fmt.Errorf("failed to replace marker: %w", err)
	}
	return nil
}

// IsMarkerName reports whether name is the marker file or one of its
// temporary files.
func IsMarkerName(name string) bool {
	return name == sketch.MarkerFile || strings.HasPrefix(name, sketch.MarkerFile+".tmp-")
}

// syncable reports whether a top-level file named name takes part in a sync.
// The same rule applies to local and remote listings so a file never shows
// up on one side only because of filtering.
func syncable(name string) bool {
	return !IsMarkerName(name) && !sketch.IsBuildArtifact(name)
}
