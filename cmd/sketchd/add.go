package main

import (
	"errors"
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/mschirtzinger/sketchd/internal/sketchsync"
	"github.com/mschirtzinger/sketchd/internal/ui"
)

var addCmd = &cobra.Command{
	Use:     "add <sketch-dir>...",
	GroupID: "sync",
	Short:   "Upload local sketches to the cloud",
	Long: `Upload local sketch directories as new cloud sketches and link them.

Every directory must be a valid sketch (a folder holding <folder>.ino);
nothing is uploaded otherwise. Sketches that are already linked are synced
instead. Hidden files and build output are not uploaded.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		client, err := newClient()
		if err != nil {
			return err
		}
		engine := newEngine(afero.NewOsFs(), client, st)
		defer engine.Close()

		results, err := engine.AddSketches(cmd.Context(), args)
		for _, r := range results {
			var conflict *sketchsync.ConflictError
			switch {
			case errors.As(r.Err, &conflict):
				fmt.Printf("%s %s: %s\n", ui.RenderFail(ui.IconFail), r.Dir, conflict.Error())
			case r.Err != nil:
				fmt.Printf("%s %s: %v\n", ui.RenderFail(ui.IconFail), r.Dir, r.Err)
			case r.Synced:
				fmt.Printf("%s %s %s\n", ui.RenderPass(ui.IconOK), r.Dir, ui.RenderMuted("(already linked, synced)"))
			default:
				fmt.Printf("%s %s -> %s\n", ui.RenderPass(ui.IconOK), r.Dir, r.Sketch.Path)
			}
		}
		return err
	},
}

var cloneCmd = &cobra.Command{
	Use:     "clone <sketch-name>",
	GroupID: "sync",
	Short:   "Download a cloud sketch into the sketchbook",
	Long: `Link a cloud sketch into <sketchbook>/<name> and pull its files.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		client, err := newClient()
		if err != nil {
			return err
		}
		sketches, err := client.GetSketches(ctx)
		if err != nil {
			return err
		}
		for _, s := range sketches {
			if s.Name != args[0] {
				continue
			}
			engine := newEngine(afero.NewOsFs(), client, st)
			defer engine.Close()
			dir, err := engine.Download(ctx, s)
			if err != nil {
				return err
			}
			if _, err := engine.SyncSketch(ctx, dir); err != nil {
				return fmt.Errorf("linked %s but the first sync failed: %w", dir, err)
			}
			fmt.Printf("%s Cloned %s into %s\n", ui.RenderPass(ui.IconOK), s.Name, dir)
			return nil
		}
		return fmt.Errorf("no cloud sketch named %q", args[0])
	},
}

func init() {
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(cloneCmd)
}
