package testutil

import (
	"context"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mschirtzinger/sketchd/internal/create"
)

type fakeFile struct {
	data       []byte
	modifiedAt string
}

// FakeRemote is an in-memory remote sketch store. Every write gets a fresh,
// strictly increasing modified_at.
type FakeRemote struct {
	mu       sync.Mutex
	sketches map[string]create.Sketch // by path
	files    map[string]fakeFile      // by full path
	clock    time.Time

	calls     map[string]int
	mutations int

	// FailWrites makes WriteFile return the error when non-nil.
	FailWrites error
}

// NewFakeRemote creates an empty FakeRemote.
func NewFakeRemote() *FakeRemote {
	return &FakeRemote{
		sketches: make(map[string]create.Sketch),
		files:    make(map[string]fakeFile),
		clock:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		calls:    make(map[string]int),
	}
}

func (f *FakeRemote) tick() string {
	f.clock = f.clock.Add(time.Second)
	return f.clock.Format(time.RFC3339Nano)
}

// SketchPath is the remote path FakeRemote uses for a sketch name.
func SketchPath(name string) string {
	return "users/me/sketches/" + name
}

// PutSketch creates (or returns) the remote sketch called name.
func (f *FakeRemote) PutSketch(name string) create.Sketch {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := SketchPath(name)
	if s, ok := f.sketches[p]; ok {
		return s
	}
	s := create.Sketch{Name: name, ID: "id-" + name, Path: p, ModifiedAt: f.tick()}
	f.sketches[p] = s
	return s
}

// PutFile writes a file into a remote sketch without counting it as a
// mutation done by the code under test.
func (f *FakeRemote) PutFile(sketchName, fileName string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path.Join(SketchPath(sketchName), fileName)] = fakeFile{data: append([]byte(nil), data...), modifiedAt: f.tick()}
}

// RemoveFile deletes a remote file without counting it as a mutation.
func (f *FakeRemote) RemoveFile(sketchName, fileName string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, path.Join(SketchPath(sketchName), fileName))
}

// RemoveSketch deletes a remote sketch and its files.
func (f *FakeRemote) RemoveSketch(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := SketchPath(name)
	delete(f.sketches, p)
	for fp := range f.files {
		if strings.HasPrefix(fp, p+"/") {
			delete(f.files, fp)
		}
	}
}

// RenameSketch changes a sketch's name while keeping its path.
func (f *FakeRemote) RenameSketch(oldName, newName string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := SketchPath(oldName)
	s := f.sketches[p]
	s.Name = newName
	s.ModifiedAt = f.tick()
	f.sketches[p] = s
}

// File returns the content of a remote file.
func (f *FakeRemote) File(sketchName, fileName string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.files[path.Join(SketchPath(sketchName), fileName)]
	return file.data, ok
}

// Mutations returns how many writes and deletes the code under test made.
func (f *FakeRemote) Mutations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mutations
}

// Calls returns how often a method was called.
func (f *FakeRemote) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// GetSketches implements the remote API.
func (f *FakeRemote) GetSketches(ctx context.Context) ([]create.Sketch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["GetSketches"]++
	out := make([]create.Sketch, 0, len(f.sketches))
	for _, s := range f.sketches {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// GetSketchByPath implements the remote API.
func (f *FakeRemote) GetSketchByPath(ctx context.Context, p string) (create.SketchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["GetSketchByPath"]++
	s, ok := f.sketches[p]
	if !ok {
		return create.SketchResult{Conflict: &create.ConflictResponse{Code: "not_found", Detail: "sketch not found", Status: 404}}, nil
	}
	return create.SketchResult{Sketch: &s}, nil
}

// ListFiles implements the remote API.
func (f *FakeRemote) ListFiles(ctx context.Context, dir string) ([]create.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["ListFiles"]++
	var out []create.File
	for fp, file := range f.files {
		if path.Dir(fp) == dir {
			out = append(out, create.File{Name: path.Base(fp), Path: fp, ModifiedAt: file.modifiedAt})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ReadFile implements the remote API.
func (f *FakeRemote) ReadFile(ctx context.Context, p string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["ReadFile"]++
	file, ok := f.files[p]
	if !ok {
		return nil, &create.APIError{Method: "GET", Path: p, Status: 404}
	}
	return append([]byte(nil), file.data...), nil
}

// WriteFile implements the remote API.
func (f *FakeRemote) WriteFile(ctx context.Context, p string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["WriteFile"]++
	if f.FailWrites != nil {
		return f.FailWrites
	}
	f.mutations++
	f.files[p] = fakeFile{data: append([]byte(nil), data...), modifiedAt: f.tick()}
	return nil
}

// DeleteFile implements the remote API.
func (f *FakeRemote) DeleteFile(ctx context.Context, p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["DeleteFile"]++
	f.mutations++
	delete(f.files, p)
	return nil
}

// AddSketch implements the remote API.
func (f *FakeRemote) AddSketch(ctx context.Context, s create.NewSketch, files []create.UploadFile) (create.SketchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["AddSketch"]++
	p := SketchPath(s.Path)
	if _, exists := f.sketches[p]; exists {
		return create.SketchResult{Conflict: &create.ConflictResponse{
			Code:   "conflict",
			Detail: "a sketch named " + s.Path + " already exists",
			Status: 409,
		}}, nil
	}
	f.mutations++
	created := create.Sketch{Name: s.Path, ID: "id-" + s.Path, Path: p, ModifiedAt: f.tick()}
	f.sketches[p] = created
	f.files[path.Join(p, s.Path+".ino")] = fakeFile{data: append([]byte(nil), s.Ino...), modifiedAt: f.tick()}
	for _, file := range files {
		f.files[path.Join(p, file.Name)] = fakeFile{data: append([]byte(nil), file.Data...), modifiedAt: f.tick()}
	}
	return create.SketchResult{Sketch: &created}, nil
}
