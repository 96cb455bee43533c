package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/mschirtzinger/sketchd/internal/create"
	"github.com/mschirtzinger/sketchd/internal/sketchsync"
	"github.com/mschirtzinger/sketchd/internal/ui"
)

// fileChange is one pending file action.
type fileChange struct {
	File   string `json:"file" yaml:"file"`
	Action string `json:"action" yaml:"action"`
}

// sketchStatus describes one linked sketch.
type sketchStatus struct {
	Name     string       `json:"name" yaml:"name"`
	Dir      string       `json:"dir" yaml:"dir"`
	Path     string       `json:"path,omitempty" yaml:"path,omitempty"`
	SyncedAt *time.Time   `json:"synced_at,omitempty" yaml:"synced_at,omitempty"`
	Linked   bool         `json:"linked" yaml:"linked"`
	Changes  []fileChange `json:"changes,omitempty" yaml:"changes,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:     "status [sketch-dir...]",
	GroupID: "sync",
	Short:   "Show linked sketches and their pending changes",
	Long: `Show the linked sketches in the sketchbook and what the next sync would do.

By default only local changes since the last sync are shown. With --remote
the cloud is asked for its current file list as well, so remote changes and
conflicts show up too.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		remote, _ := cmd.Flags().GetBool("remote")
		plan, _ := cmd.Flags().GetBool("plan")
		output, _ := cmd.Flags().GetString("output")
		if err := validOutput(output); err != nil {
			return err
		}

		fsys := afero.NewOsFs()
		dirs := args
		if len(dirs) == 0 {
			var err error
			if dirs, err = sketchsync.ManagedSketches(fsys, cfg.Sketchbook); err != nil {
				return err
			}
		}

		var lister remoteLister
		if remote {
			client, err := newClient()
			if err != nil {
				return err
			}
			lister = client
		}

		statuses := make([]sketchStatus, 0, len(dirs))
		for _, dir := range dirs {
			st, err := collectStatus(cmd.Context(), fsys, lister, dir)
			if err != nil {
				return err
			}
			statuses = append(statuses, st)
		}

		if output != outputText {
			return printStructured(output, statuses)
		}
		printStatuses(statuses, plan)
		return nil
	},
}

// remoteLister is the part of the cloud client status needs.
type remoteLister interface {
	ListFiles(ctx context.Context, dir string) ([]create.File, error)
}

// collectStatus plans the next sync of dir. Without a lister the remote is
// assumed unchanged since the last sync.
func collectStatus(ctx context.Context, fsys afero.Fs, lister remoteLister, dir string) (sketchStatus, error) {
	dir = filepath.Clean(dir)
	st := sketchStatus{Name: filepath.Base(dir), Dir: dir}

	marker, state, err := sketchsync.ReadMarker(fsys, dir)
	if err != nil {
		return st, err
	}
	switch state {
	case sketchsync.MarkerMissing:
		return st, nil
	case sketchsync.MarkerEmpty:
		st.Linked = true
		return st, nil
	}
	st.Linked = true
	st.Name = marker.Sketch.Name
	st.Path = marker.Sketch.Path
	st.SyncedAt = marker.SyncedAt

	local, err := sketchsync.ListLocal(fsys, dir)
	if err != nil {
		return st, err
	}
	remote := marker.Files
	if lister != nil {
		if remote, err = lister.ListFiles(ctx, marker.Sketch.Path); err != nil {
			return st, fmt.Errorf("failed to list remote files of %s: %w", marker.Sketch.Name, err)
		}
	}
	for _, step := range sketchsync.Plan(local, remote, marker.Files, marker.SyncedAt) {
		if !pendingStep(step, marker.SyncedAt) {
			continue
		}
		st.Changes = append(st.Changes, fileChange{File: step.Name, Action: step.Action.String()})
	}
	return st, nil
}

// pendingStep reports whether step changes anything. A file present on both
// sides and untouched locally is planned as a push that is a no-op.
func pendingStep(step sketchsync.Step, syncedAt *time.Time) bool {
	switch step.Action {
	case sketchsync.ActionNone:
		return false
	case sketchsync.ActionPush:
		if step.Remote != nil && step.LastRemote != nil && syncedAt != nil {
			return step.Local.ModTime.After(*syncedAt)
		}
	}
	return true
}

func printStatuses(statuses []sketchStatus, plan bool) {
	if len(statuses) == 0 {
		fmt.Printf("No linked sketches in %s\n", cfg.Sketchbook)
		return
	}
	rows := make([][]string, 0, len(statuses))
	for _, st := range statuses {
		rows = append(rows, []string{st.Name, lastSync(st), pending(st)})
	}
	fmt.Print(ui.Table([]string{"SKETCH", "LAST SYNC", "PENDING"}, rows))

	if !plan {
		return
	}
	for _, st := range statuses {
		if len(st.Changes) == 0 {
			continue
		}
		fmt.Printf("\n%s\n", ui.StyleBold.Render(st.Name))
		for _, c := range st.Changes {
			fmt.Printf("  %-14s %s\n", c.Action, c.File)
		}
	}
}

func lastSync(st sketchStatus) string {
	switch {
	case !st.Linked:
		return ui.RenderMuted("not linked")
	case st.SyncedAt == nil:
		return ui.RenderWarn("never")
	default:
		return st.SyncedAt.Local().Format("2006-01-02 15:04:05")
	}
}

func pending(st sketchStatus) string {
	if len(st.Changes) == 0 {
		return ui.RenderMuted("-")
	}
	counts := make(map[string]int)
	var order []string
	for _, c := range st.Changes {
		if counts[c.Action] == 0 {
			order = append(order, c.Action)
		}
		counts[c.Action]++
	}
	parts := make([]string, 0, len(order))
	for _, action := range order {
		part := fmt.Sprintf("%d %s", counts[action], action)
		if action == sketchsync.ActionConflict.String() {
			part = ui.RenderFail(part)
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, ", ")
}

func init() {
	statusCmd.Flags().Bool("remote", false, "compare against the cloud's current files")
	statusCmd.Flags().Bool("plan", false, "list the pending action for every file")
	statusCmd.Flags().StringP("output", "o", outputText, "output format: text, json or yaml")
	rootCmd.AddCommand(statusCmd)
}
