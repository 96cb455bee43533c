package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mschirtzinger/sketchd/internal/boards"
	"github.com/mschirtzinger/sketchd/internal/daemon"
	"github.com/mschirtzinger/sketchd/internal/dashboard"
	"github.com/mschirtzinger/sketchd/internal/discovery"
	"github.com/mschirtzinger/sketchd/internal/sketchsync"
	"github.com/mschirtzinger/sketchd/internal/store"
	"github.com/mschirtzinger/sketchd/internal/ui"
)

// pruneInterval is how often the sync journal is pruned while the daemon runs.
const pruneInterval = 24 * time.Hour

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the sync daemon (foreground)",
	Long: `Run the sync daemon in the foreground.

The daemon will:
  1. Sync every linked sketch on start
  2. Watch linked sketches and sync them after their files settle
  3. Sync the whole sketchbook periodically to pick up cloud changes
  4. Follow board discovery and keep the board selection reconciled
  5. Serve the status dashboard when dashboard.enabled is set

The daemon never prompts. Files changed on both sides fail to sync and are
logged; run 'sketchd sync' on a terminal to resolve them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		noPrompt = true

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

		reconciler := boards.NewReconciler(st, boards.WithLogger(newLogger("[boards] ")))
		if err := reconciler.LoadState(ctx); err != nil {
			newLogger("[boards] ").Printf("Warning: failed to restore board selection: %v", err)
		}

		reporters := []sketchsync.Reporter{st}
		if cfg.Dashboard.Enabled {
			server := dashboard.NewServer(&dashboard.Config{
				Addr:   cfg.Dashboard.Addr,
				Logger: newLogger("[dashboard] "),
			})
			handler := dashboard.NewHandler(server, newLogger("[dashboard] "))
			detach := handler.Attach(reconciler)
			defer detach()
			if err := server.Start(); err != nil {
				return fmt.Errorf("failed to start dashboard: %w", err)
			}
			defer server.Stop()
			reporters = append(reporters, handler)
			fmt.Printf("   Dashboard: ws://%s/ws\n", server.GetAddr())
		}

		fsys := afero.NewOsFs()
		engine := newEngine(fsys, client, sketchsync.Reporters(reporters...))
		defer engine.Close()

		d, err := daemon.NewWithConfig(engine, cfg.Sketchbook,
			func() ([]string, error) { return sketchsync.ManagedSketches(fsys, cfg.Sketchbook) },
			&daemon.Config{
				DebounceInterval: cfg.Daemon.Debounce,
				FullSyncInterval: cfg.Daemon.FullSyncInterval,
				Logger:           newLogger("[daemon] "),
			})
		if err != nil {
			return fmt.Errorf("failed to create daemon: %w", err)
		}

		fmt.Printf("%s Starting sketchd daemon...\n", ui.RenderAccent("▶"))
		fmt.Printf("   Sketchbook: %s\n", cfg.Sketchbook)
		fmt.Printf("   State: %s\n", st.Path())
		if cfg.Discovery.URL != "" {
			fmt.Printf("   Discovery: %s\n", cfg.Discovery.URL)
		}
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return d.Start(gctx) })
		if cfg.Discovery.URL != "" {
			disc := discovery.NewClient(cfg.Discovery.URL,
				discovery.WithLogger(newLogger("[discovery] ")),
				discovery.WithBackoff(cfg.Discovery.MinBackoff, cfg.Discovery.MaxBackoff),
			)
			g.Go(func() error { return reconciler.Run(gctx, disc.Events(gctx)) })
		}
		if cfg.Daemon.HistoryRetention > 0 {
			g.Go(func() error { return pruneHistory(gctx, st, cfg.Daemon.HistoryRetention) })
		}

		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("daemon stopped with error: %w", err)
		}
		fmt.Println("Daemon stopped")
		return nil
	},
}

// pruneHistory drops journaled syncs older than retention, now and then
// once per pruneInterval, until ctx is done.
func pruneHistory(ctx context.Context, st *store.Store, retention time.Duration) error {
	logger := newLogger("[daemon] ")
	prune := func() {
		n, err := st.PruneRuns(ctx, time.Now().Add(-retention))
		if err != nil {
			logger.Printf("Warning: failed to prune sync history: %v", err)
			return
		}
		if n > 0 {
			logger.Printf("Pruned %d sync runs older than %s", n, retention)
		}
	}

	prune()
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			prune()
		}
	}
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
