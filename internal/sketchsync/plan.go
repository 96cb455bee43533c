package sketchsync

import (
	"sort"
	"time"

	"github.com/mschirtzinger/sketchd/internal/create"
)

// Action is what a sync does with one file.
type Action int

const (
	// ActionNone leaves the file alone.
	ActionNone Action = iota
	// ActionPull copies the remote file over the local one (or creates it).
	ActionPull
	// ActionPush copies the local file to the remote (or creates it).
	ActionPush
	// ActionConflict asks the conflict resolver which side wins.
	ActionConflict
	// ActionDeleteLocal deletes the local file, which was deleted remotely.
	ActionDeleteLocal
	// ActionDeleteRemote deletes the remote file, which was deleted locally.
	ActionDeleteRemote
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionPull:
		return "pull"
	case ActionPush:
		return "push"
	case ActionConflict:
		return "conflict"
	case ActionDeleteLocal:
		return "delete-local"
	case ActionDeleteRemote:
		return "delete-remote"
	default:
		return "unknown"
	}
}

// LocalFile is a file in the local sketch directory.
type LocalFile struct {
	Name    string
	ModTime time.Time
}

// FileState is one filename across the three views of a sketch: the local
// directory, the live remote listing and the remote listing recorded in the
// marker at the end of the last sync.
type FileState struct {
	Name       string
	Local      *LocalFile
	Remote     *create.File
	LastRemote *create.File
}

// Step is a planned action for one file.
type Step struct {
	FileState
	Action Action
}

// Plan classifies every filename found in any of the three views, sorted by
// name. syncedAt is when the last sync finished; nil means unknown, and every
// local file then counts as changed.
func Plan(local []LocalFile, remote, lastRemote []create.File, syncedAt *time.Time) []Step {
	states := make(map[string]*FileState)
	get := func(name string) *FileState {
		s, ok := states[name]
		if !ok {
			s = &FileState{Name: name}
			states[name] = s
		}
		return s
	}
	for i := range remote {
		if !syncable(remote[i].Name) {
			continue
		}
		get(remote[i].Name).Remote = &remote[i]
	}
	for i := range lastRemote {
		if !syncable(lastRemote[i].Name) {
			continue
		}
		get(lastRemote[i].Name).LastRemote = &lastRemote[i]
	}
	for i := range local {
		if !syncable(local[i].Name) {
			continue
		}
		get(local[i].Name).Local = &local[i]
	}

	steps := make([]Step, 0, len(states))
	for _, s := range states {
		steps = append(steps, Step{FileState: *s, Action: Decide(*s, syncedAt)})
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].Name < steps[j].Name })
	return steps
}

// Decide picks the action for one file.
//
// When a file exists on both sides it is a conflict if it has no recorded
// remote state or if both sides changed since the last sync. A file missing
// on one side was either added on the other side (no recorded state) or
// deleted on this side (recorded state).
func Decide(s FileState, syncedAt *time.Time) Action {
	switch {
	case s.Local != nil && s.Remote != nil:
		if s.LastRemote == nil {
			return ActionConflict
		}
		remoteChanged := modifiedBefore(s.LastRemote.ModifiedAt, s.Remote.ModifiedAt)
		localChanged := syncedAt == nil || s.Local.ModTime.After(*syncedAt)
		switch {
		case remoteChanged && localChanged:
			return ActionConflict
		case remoteChanged:
			return ActionPull
		default:
			return ActionPush
		}
	case s.Remote != nil:
		if s.LastRemote == nil {
			return ActionPull
		}
		return ActionDeleteRemote
	case s.Local != nil:
		if s.LastRemote == nil {
			return ActionPush
		}
		return ActionDeleteLocal
	}
	return ActionNone
}

// modifiedBefore reports whether remote timestamp a is older than b. Both are
// compared as RFC 3339 times when they parse and as strings otherwise.
func modifiedBefore(a, b string) bool {
	ta, errA := time.Parse(time.RFC3339Nano, a)
	tb, errB := time.Parse(time.RFC3339Nano, b)
	if errA == nil && errB == nil {
		return ta.Before(tb)
	}
	return a < b
}
