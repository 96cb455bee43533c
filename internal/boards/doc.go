// Package boards reconciles attached boards and available ports reported by
// a board discovery service with the user's board selection.
//
// The Reconciler derives a sorted list of AvailableBoard entries from each
// full Snapshot, remembers which board was last selected on each port so that
// boards the discovery service cannot identify can be guessed, and restores
// a previous uploadable selection when its board reappears, possibly on a
// different port.
//
// Example usage:
//
//	r := boards.NewReconciler(store)
//	if err := r.LoadState(ctx); err != nil {
//	    log.Printf("failed to load boards state: %v", err)
//	}
//	go r.Run(ctx, events)
package boards
