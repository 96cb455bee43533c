package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/afero"

	"github.com/mschirtzinger/sketchd/internal/create"
	"github.com/mschirtzinger/sketchd/internal/sketchsync"
	"github.com/mschirtzinger/sketchd/internal/store"
	"github.com/mschirtzinger/sketchd/internal/ui"
)

func openStore() (*store.Store, error) {
	st, err := store.Open(cfg.StateDB)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database %s: %w", cfg.StateDB, err)
	}
	return st, nil
}

// tokenSource prefers an inline token over the token file.
func tokenSource() create.TokenSource {
	if cfg.API.Token != "" {
		return create.StaticToken(cfg.API.Token)
	}
	return create.FileToken(cfg.API.TokenFile)
}

func newClient() (*create.Client, error) {
	return create.NewClient(cfg.API.BaseURL, tokenSource(),
		create.WithLogger(newLogger("[create] ")),
		create.WithWriteAttempts(cfg.API.WriteAttempts),
		create.WithPollInterval(cfg.API.PollInterval),
		create.WithTimeout(cfg.API.Timeout),
		create.WithUploadWorkers(cfg.API.UploadWorkers),
	)
}

// newEngine builds the sync engine. On a terminal, conflicts and remote
// deletions are asked; otherwise they fail with sketchsync.ErrNoResolver.
func newEngine(fsys afero.Fs, remote sketchsync.Remote, reporter sketchsync.Reporter) *sketchsync.Engine {
	logger := newLogger("[sync] ")
	opts := []sketchsync.Option{
		sketchsync.WithLogger(logger),
		sketchsync.WithSketchbook(cfg.Sketchbook),
		sketchsync.WithCloseWorkspace(func(ctx context.Context, dir string) error {
			fmt.Fprintf(os.Stderr, "%s Removed %s\n", ui.RenderWarn(ui.IconWarn), dir)
			return nil
		}),
	}
	if reporter != nil {
		opts = append(opts, sketchsync.WithReporter(reporter))
	}
	if interactive() {
		opts = append(opts,
			sketchsync.WithConflictResolver(promptConflict),
			sketchsync.WithDeletionResolver(promptDeletion),
		)
	}
	return sketchsync.New(fsys, remote, opts...)
}

// printReport prints one line per sync that changed something or failed.
func printReport(r sketchsync.Report) {
	switch {
	case r.Skipped:
		return
	case r.Err != nil:
		fmt.Printf("%s %s: %v\n", ui.RenderFail(ui.IconFail), r.Sketch, r.Err)
	case r.RemoteDeleted:
		fmt.Printf("%s %s was deleted remotely\n", ui.RenderWarn(ui.IconWarn), r.Sketch)
	case r.Changes() == 0 && r.Conflicts == 0:
		fmt.Printf("%s %s %s\n", ui.RenderPass(ui.IconOK), r.Sketch, ui.RenderMuted("up to date"))
	default:
		fmt.Printf("%s %s: %s\n", ui.RenderPass(ui.IconOK), r.Sketch, summarize(r))
	}
	if r.RenamedFrom != "" {
		fmt.Printf("   renamed from %s\n", r.RenamedFrom)
	}
}

func summarize(r sketchsync.Report) string {
	return fmt.Sprintf("pulled %d, pushed %d, deleted %d local / %d remote, %d conflicts",
		r.Pulled, r.Pushed, r.DeletedLocal, r.DeletedRemote, r.Conflicts)
}
