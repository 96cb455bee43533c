// Package sketchsync synchronizes local sketch directories with the remote
// sketch store.
//
// Overview
//
// Every managed sketch has a marker file holding the remote state observed at
// the end of its last sync. A sync compares three views of each file:
//
//	local directory      live remote listing      marker (last remote)
//	        \                     |                      /
//	         +------------------ Plan -----------------+
//	                              |
//	          pull / push / conflict / delete-local / delete-remote
//
// and then rewrites the marker with the remote listing after the sync.
//
// Usage
//
//	engine := sketchsync.New(afero.NewOsFs(), client,
//	    sketchsync.WithSketchbook(sketchbook),
//	    sketchsync.WithConflictResolver(askUser),
//	)
//	defer engine.Close()
//
//	if err := engine.Sync(ctx, sketchDir); err != nil {
//	    log.Printf("sync failed: %v", err)
//	}
//
// Ordering
//
// Syncs run one at a time in submission order. Submit returns a Ticket that
// completes when the sync has run; SyncSketch and Sync wait for it.
//
// Conflicts and remote deletions need an external decision. Without a
// resolver the sync fails with ErrNoResolver and changes nothing for that
// file or sketch.
package sketchsync
