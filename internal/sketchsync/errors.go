package sketchsync

import (
	"errors"
	"fmt"

	"github.com/mschirtzinger/sketchd/internal/create"
	"github.com/mschirtzinger/sketchd/internal/sketch"
)

var (
	// ErrNoResolver is returned when a conflict or a remote deletion needs a
	// decision and no resolver is configured. Nothing is changed in that case.
	ErrNoResolver = errors.New("no resolver configured for a decision that requires one")

	// ErrNoRemoteSketch is returned when an empty marker cannot be bootstrapped
	// because no remote sketch has the directory's name.
	ErrNoRemoteSketch = errors.New("no remote sketch with this name")

	// ErrEngineClosed is returned for syncs submitted after Close.
	ErrEngineClosed = errors.New("sync engine closed")

	// ErrRenameTarget is returned when a remote rename cannot be applied because
	// the target directory already exists.
	ErrRenameTarget = errors.New("rename target already exists")

	// ErrNoSketchbook is returned by operations that need a sketchbook directory.
	ErrNoSketchbook = errors.New("no sketchbook configured")
)

// ConflictError is a structured rejection from the remote, e.g. a name
// collision when adding a sketch.
type ConflictError struct {
	Sketch   string
	Response create.ConflictResponse
}

func (e *ConflictError) Error() string {
	detail := e.Response.Detail
	if detail == "" {
		detail = e.Response.Code
	}
	return fmt.Sprintf("remote rejected %s (status %d): %s", e.Sketch, e.Response.Status, detail)
}

// IsUserActionRequired returns true if the error needs the user to act:
// log in, pick a side, rename a sketch.
func IsUserActionRequired(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNoResolver) || errors.Is(err, ErrRenameTarget) {
		return true
	}
	if errors.Is(err, create.ErrNotAuthorized) {
		return true
	}
	var conflict *ConflictError
	return errors.As(err, &conflict)
}

// IsRetryable returns true if the error is likely to succeed on retry.
func IsRetryable(err error) bool {
	return create.IsRetryable(err)
}

// IsFatal returns true if retrying cannot help: the directory is not a sketch
// or nothing on the remote matches it.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var verr *sketch.ValidationError
	if errors.As(err, &verr) {
		return true
	}
	return errors.Is(err, ErrNoRemoteSketch)
}
