package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/mschirtzinger/sketchd/internal/sketchsync"
	"github.com/mschirtzinger/sketchd/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync [sketch-dir...]",
	GroupID: "sync",
	Short:   "Sync sketches with the cloud once",
	Long: `Sync sketches with the cloud sketch store once and exit.

Without arguments every linked sketch in the sketchbook is synced. Passing
sketch directories syncs only those. Directories without a marker file are
skipped.

Files changed on both sides since the last sync are asked about on a
terminal. With --no-prompt (or without a terminal) such syncs fail and
nothing is changed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		client, err := newClient()
		if err != nil {
			return err
		}

		dirs := args
		if len(dirs) == 0 {
			dirs, err = sketchsync.ManagedSketches(afero.NewOsFs(), cfg.Sketchbook)
			if err != nil {
				return err
			}
			if len(dirs) == 0 {
				fmt.Printf("No linked sketches in %s\n", cfg.Sketchbook)
				return nil
			}
		}

		engine := newEngine(afero.NewOsFs(), client, st)
		defer engine.Close()

		return syncDirs(ctx, engine, dirs)
	},
}

// syncDirs queues every directory and prints each report as it finishes.
func syncDirs(ctx context.Context, engine *sketchsync.Engine, dirs []string) error {
	tickets := make([]*sketchsync.Ticket, 0, len(dirs))
	for _, dir := range dirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return err
		}
		tickets = append(tickets, engine.Submit(ctx, abs))
	}

	failed := 0
	for _, t := range tickets {
		report, err := t.Wait(ctx)
		if err != nil {
			failed++
			report.Err = err
		}
		printReport(report)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d sketches failed to sync", failed, len(tickets))
	}
	fmt.Printf("\n%s Sync complete\n", ui.RenderPass(ui.IconOK))
	return nil
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
