// Package sketch loads and validates local sketch directories.
package sketch

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// MarkerFile is the per-sketch file recording the last synchronized remote
// state. Its presence marks a sketch as managed by the remote store.
const MarkerFile = ".arduino_create"

// MainFileExtensions are the extensions of sketch source files, in order of
// preference for the main file.
var MainFileExtensions = []string{".ino", ".pde"}

var buildArtifactExtensions = []string{".elf", ".hex"}

// Sketch is a validated sketch directory.
type Sketch struct {
	Name     string
	Dir      string
	MainFile string
	// OtherSketchFiles are sketch sources next to the main file (not recursive).
	OtherSketchFiles []string
	// AdditionalFiles are all other files, recursively.
	AdditionalFiles []string
}

// ValidationError reports a directory that is not a valid sketch.
type ValidationError struct {
	Dir    string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid sketch %s: %s", e.Dir, e.Reason)
}

// Load validates dir and classifies its files.
func Load(fsys afero.Fs, dir string) (*Sketch, error) {
	dir = filepath.Clean(dir)
	info, err := fsys.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &ValidationError{Dir: dir, Reason: "directory does not exist"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, &ValidationError{Dir: dir, Reason: "not a directory"}
	}

	name := filepath.Base(dir)
	s := &Sketch{Name: name, Dir: dir}
	for _, ext := range MainFileExtensions {
		candidate := filepath.Join(dir, name+ext)
		if ok, _ := afero.Exists(fsys, candidate); ok {
			s.MainFile = candidate
			break
		}
	}
	if s.MainFile == "" {
		return nil, &ValidationError{Dir: dir, Reason: fmt.Sprintf("main file %s.ino not found", name)}
	}

	err = afero.Walk(fsys, dir, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || path == s.MainFile || info.Name() == MarkerFile {
			return nil
		}
		if filepath.Dir(path) == dir && IsSketchSource(info.Name()) {
			s.OtherSketchFiles = append(s.OtherSketchFiles, path)
			return nil
		}
		s.AdditionalFiles = append(s.AdditionalFiles, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", dir, err)
	}
	sort.Strings(s.OtherSketchFiles)
	sort.Strings(s.AdditionalFiles)
	return s, nil
}

// IsValid reports whether dir exists and contains <dirname>.ino.
func IsValid(fsys afero.Fs, dir string) bool {
	dir = filepath.Clean(dir)
	if ok, _ := afero.DirExists(fsys, dir); !ok {
		return false
	}
	ok, _ := afero.Exists(fsys, filepath.Join(dir, filepath.Base(dir)+".ino"))
	return ok
}

// IsSketchSource reports whether name has a sketch source extension.
func IsSketchSource(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range MainFileExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// IsBuildArtifact reports whether name is a compiler output that is never synced.
func IsBuildArtifact(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range buildArtifactExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// HasMarker reports whether dir contains a marker file.
func HasMarker(fsys afero.Fs, dir string) (bool, error) {
	return afero.Exists(fsys, filepath.Join(dir, MarkerFile))
}
