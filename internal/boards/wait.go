package boards

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrWaitTimeout is returned by WaitUntilAvailable when the board did not show
// up before the timeout.
var ErrWaitTimeout = errors.New("timed out waiting for board to become available")

// WaitUntilAvailable blocks until an available board equal to board is listed
// on port, in any state. With a nil port any port matches, but only a
// recognized or guessed entry counts, so the placeholder kept for the current
// selection does not end the wait. A timeout <= 0 waits until ctx is done.
func (r *Reconciler) WaitUntilAvailable(ctx context.Context, board Board, port *Port, timeout time.Duration) error {
	matches := func(available []AvailableBoard) bool {
		for _, candidate := range available {
			if !candidate.Board.Equals(board) {
				continue
			}
			if port == nil {
				if candidate.State != StateIncomplete {
					return true
				}
				continue
			}
			if candidate.Port != nil && candidate.Port.Equals(*port) {
				return true
			}
		}
		return false
	}

	found := make(chan struct{})
	var once sync.Once
	// Subscribe before checking so no change between the two is missed.
	unsubscribe := r.OnAvailableBoardsChanged(func(available []AvailableBoard) {
		if matches(available) {
			once.Do(func() { close(found) })
		}
	})
	defer unsubscribe()

	if matches(r.AvailableBoards()) {
		return nil
	}

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case <-found:
		return nil
	case <-timer:
		return ErrWaitTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
