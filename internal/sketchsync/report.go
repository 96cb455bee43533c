package sketchsync

import (
	"context"
	"errors"
	"time"
)

// Report summarizes one sketch sync.
type Report struct {
	RunID         string    `json:"run_id"`
	Sketch        string    `json:"sketch"`
	Dir           string    `json:"dir"`
	Pulled        int       `json:"pulled"`
	Pushed        int       `json:"pushed"`
	DeletedLocal  int       `json:"deleted_local"`
	DeletedRemote int       `json:"deleted_remote"`
	Conflicts     int       `json:"conflicts"`
	Started       time.Time `json:"started"`
	Finished      time.Time `json:"finished"`

	// Skipped is set when the directory is not managed by the remote store.
	Skipped bool `json:"skipped,omitempty"`
	// RenamedFrom is the old directory when the remote renamed the sketch.
	RenamedFrom string `json:"renamed_from,omitempty"`
	// RemoteDeleted is set when the remote sketch was gone.
	RemoteDeleted bool `json:"remote_deleted,omitempty"`

	Err error `json:"-"`
}

// Changes returns the number of files the sync changed on either side.
func (r Report) Changes() int {
	return r.Pulled + r.Pushed + r.DeletedLocal + r.DeletedRemote
}

// ErrorMessage returns the error text, or "" for a successful sync.
func (r Report) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

type multiReporter []Reporter

// Reporters combines reporters. Each receives every report; their errors are
// joined.
func Reporters(reporters ...Reporter) Reporter {
	var out multiReporter
	for _, r := range reporters {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

func (m multiReporter) Record(ctx context.Context, report Report) error {
	var errs []error
	for _, r := range m {
		if err := r.Record(ctx, report); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
