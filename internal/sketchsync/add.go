package sketchsync

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/mschirtzinger/sketchd/internal/create"
	"github.com/mschirtzinger/sketchd/internal/sketch"
)

// AddResult is the outcome of adding one sketch.
type AddResult struct {
	Dir    string
	Sketch *create.Sketch
	// Synced is set when the sketch already had a marker and was synced
	// instead of uploaded.
	Synced bool
	Err    error
}

// AddSketches uploads each root as a new remote sketch. Every root must be a
// valid sketch; nothing is uploaded otherwise. Roots that already have a
// marker are synced instead. A name collision on the remote is reported as a
// *ConflictError for that root and not retried.
func (e *Engine) AddSketches(ctx context.Context, roots []string) ([]AddResult, error) {
	for _, root := range roots {
		if !sketch.IsValid(e.fs, root) {
			return nil, &sketch.ValidationError{
				Dir:    filepath.Clean(root),
				Reason: fmt.Sprintf("the workspace has to be a valid sketch with a %s.ino main file", filepath.Base(filepath.Clean(root))),
			}
		}
	}

	results := make([]AddResult, 0, len(roots))
	var errs []error
	for _, root := range roots {
		dir := filepath.Clean(root)
		result := AddResult{Dir: dir}

		hasMarker, err := sketch.HasMarker(e.fs, dir)
		switch {
		case err != nil:
			result.Err = err
		case hasMarker:
			result.Synced = true
			_, result.Err = e.SyncSketch(ctx, dir)
		default:
			var created *create.Sketch
			_, result.Err = e.submit(ctx, dir, func(ctx context.Context) (Report, error) {
				report, s, err := e.runAdd(ctx, dir)
				created = s
				return report, err
			}).Wait(ctx)
			if result.Err == nil {
				result.Sketch = created
			}
		}
		if result.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", filepath.Base(dir), result.Err))
		}
		results = append(results, result)
	}
	return results, errors.Join(errs...)
}

func (e *Engine) runAdd(ctx context.Context, dir string) (Report, *create.Sketch, error) {
	report := Report{
		RunID:   newRunID(),
		Sketch:  filepath.Base(dir),
		Dir:     dir,
		Started: e.clock(),
	}
	created, pushed, err := e.addSketch(ctx, dir)
	report.Finished = e.clock()
	report.Pushed = pushed
	report.Err = err
	if err != nil {
		e.logger.Printf("Couldn't upload %s: %v", report.Sketch, err)
	} else {
		e.logger.Printf("Uploaded %s as %s", report.Sketch, created.Path)
	}
	e.record(ctx, report)
	return report, created, err
}

func (e *Engine) addSketch(ctx context.Context, dir string) (*create.Sketch, int, error) {
	name := filepath.Base(dir)
	loaded, err := sketch.Load(e.fs, dir)
	if err != nil {
		return nil, 0, err
	}
	syncedAt := e.clock()

	ino, err := afero.ReadFile(e.fs, loaded.MainFile)
	if err != nil {
		return nil, 0, err
	}
	newSketch := create.NewSketch{Path: name, Ino: ino}
	var files []create.UploadFile
	for _, p := range append(append([]string(nil), loaded.OtherSketchFiles...), loaded.AdditionalFiles...) {
		// Only top-level files are synced.
		if filepath.Dir(p) != loaded.Dir || !syncable(filepath.Base(p)) {
			continue
		}
		data, err := afero.ReadFile(e.fs, p)
		if err != nil {
			return nil, 0, err
		}
		files = append(files, create.UploadFile{Name: filepath.Base(p), Data: data})
	}

	result, err := e.remote.AddSketch(ctx, newSketch, files)
	if err != nil {
		return nil, 0, err
	}
	if result.Conflict != nil {
		return nil, 0, &ConflictError{Sketch: name, Response: *result.Conflict}
	}

	remoteFiles, err := e.remote.ListFiles(ctx, result.Sketch.Path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list remote files of %s: %w", name, err)
	}
	if err := WriteMarker(e.fs, dir, &Marker{Sketch: *result.Sketch, Files: remoteFiles, SyncedAt: &syncedAt}); err != nil {
		return nil, 0, err
	}
	return result.Sketch, len(files) + 1, nil
}

// Download prepares a local directory for a remote sketch: it creates
// <sketchbook>/<name> and an empty marker, so the next sync bootstraps the
// content from the remote. It returns the directory.
func (e *Engine) Download(ctx context.Context, s create.Sketch) (string, error) {
	if e.sketchbook == "" {
		return "", ErrNoSketchbook
	}
	dir := filepath.Join(e.sketchbook, s.Name)
	if err := e.fs.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	exists, err := sketch.HasMarker(e.fs, dir)
	if err != nil {
		return "", err
	}
	if !exists {
		if err := afero.WriteFile(e.fs, MarkerPath(dir), nil, 0644); err != nil {
			return "", fmt.Errorf("failed to create marker: %w", err)
		}
	}
	return dir, ctx.Err()
}
