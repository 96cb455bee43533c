package create

import (
	"encoding/json"
	"strconv"
)

// Sketch is a sketch stored in the remote sketch store.
type Sketch struct {
	Name       string `json:"name"`
	ID         string `json:"id"`
	Path       string `json:"path"`
	ModifiedAt string `json:"modified_at"`
}

// File is a remote file as reported by a directory listing.
type File struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	ModifiedAt string `json:"modified_at"`
}

// ConflictResponse is the structured error payload the remote returns for
// rejected sketch operations, e.g. a 404 for a deleted sketch or a name
// collision when adding one.
type ConflictResponse struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
	Status int    `json:"status"`
}

// NotFound reports whether the response is a 404.
func (c ConflictResponse) NotFound() bool {
	return c.Status == 404
}

// UnmarshalJSON accepts status as a number or a numeric string.
func (c *ConflictResponse) UnmarshalJSON(data []byte) error {
	var raw struct {
		Code   string          `json:"code"`
		Detail string          `json:"detail"`
		Status json.RawMessage `json:"status"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Code, c.Detail, c.Status = raw.Code, raw.Detail, 0
	if len(raw.Status) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw.Status, &c.Status); err == nil {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw.Status, &s); err != nil {
		return err
	}
	status, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	c.Status = status
	return nil
}

// SketchResult holds exactly one of Sketch or Conflict.
type SketchResult struct {
	Sketch   *Sketch
	Conflict *ConflictResponse
}

// NewSketch is the metadata for a sketch to create remotely. Ino is the
// content of the main sketch file.
type NewSketch struct {
	Path string
	Ino  []byte
}

// UploadFile is a file uploaded alongside a new sketch.
type UploadFile struct {
	Name string
	Data []byte
}

type sketchesResponse struct {
	Sketches []Sketch `json:"sketches"`
}

type newSketchPayload struct {
	UserID string `json:"user_id"`
	Path   string `json:"path"`
	Ino    string `json:"ino"`
}

type filePayload struct {
	Data string `json:"data"`
}
