package boards

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// HandlePlatformInstalled refreshes the selection after a boards package was
// installed. When the selected board (matched by name) is provided by the
// package, its FQBN and package information are adopted. When the selected
// board belongs to the package but the installed version no longer provides
// it, the user is warned and the board is reduced to its name.
//
// Every notification is handled, including one for an older version than
// the last seen (a downgrade is a regular install).
func (r *Reconciler) HandlePlatformInstalled(ctx context.Context, pkg BoardsPackage) error {
	r.cycleMu.Lock()
	defer r.cycleMu.Unlock()

	if previous := r.recordInstalled(pkg); previous != "" && semver.Compare(canonicalVersion(pkg.InstalledVersion), previous) < 0 {
		r.logger.Printf("Boards package downgraded: %s %s -> %s", pkg.ID, previous, pkg.InstalledVersion)
	} else {
		r.logger.Printf("Boards package installed: %s@%s", pkg.ID, pkg.InstalledVersion)
	}

	config := r.BoardsConfig()
	if config.SelectedBoard == nil {
		return nil
	}
	selected := *config.SelectedBoard

	if installed, ok := pkg.findBoard(selected.Name); ok && (selected.FQBN == "" || selected.FQBN == installed.FQBN) {
		return r.setConfigLocked(ctx, BoardsConfig{
			SelectedBoard: &installed,
			SelectedPort:  config.SelectedPort,
		})
	}

	if belongsTo(selected, pkg) {
		if _, ok := pkg.findBoard(selected.Name); !ok {
			r.warn(fmt.Sprintf("Could not find previously selected board '%s' in installed platform '%s' (%s). Please manually reselect the board you want to use. Do you want to reselect it now?",
				selected.Name, pkg.Name, pkg.InstalledVersion))
			return r.setConfigLocked(ctx, BoardsConfig{
				SelectedBoard: &Board{Name: selected.Name},
				SelectedPort:  config.SelectedPort,
			})
		}
	}

	// Re-set the same config so the available boards are reconciled and
	// listeners see the refreshed state.
	return r.setConfigLocked(ctx, config)
}

// HandlePlatformUninstalled clears the FQBN of the selected board when the
// uninstalled package provided it, unless a recognized available board still
// backs the selection.
func (r *Reconciler) HandlePlatformUninstalled(ctx context.Context, pkg BoardsPackage) error {
	r.cycleMu.Lock()
	defer r.cycleMu.Unlock()

	r.mu.Lock()
	delete(r.installed, pkg.ID)
	r.mu.Unlock()
	r.logger.Printf("Boards package uninstalled: %s", pkg.ID)

	config := r.BoardsConfig()
	if config.SelectedBoard == nil || config.SelectedBoard.FQBN == "" {
		return nil
	}
	selected := *config.SelectedBoard
	if !providesFQBN(pkg, selected.FQBN) {
		return nil
	}
	for _, board := range r.AvailableBoards() {
		if board.Selected && board.State == StateRecognized {
			return nil
		}
	}
	return r.setConfigLocked(ctx, BoardsConfig{
		SelectedBoard: &Board{Name: selected.Name},
		SelectedPort:  config.SelectedPort,
	})
}

// InstalledVersion returns the last seen version of the package, if any.
func (r *Reconciler) InstalledVersion(packageID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.installed[packageID]
	return v, ok
}

// recordInstalled stores pkg's version and returns the version recorded
// before, if any.
func (r *Reconciler) recordInstalled(pkg BoardsPackage) (previous string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	previous = r.installed[pkg.ID]
	r.installed[pkg.ID] = canonicalVersion(pkg.InstalledVersion)
	return previous
}

func belongsTo(board Board, pkg BoardsPackage) bool {
	if board.PackageID != "" {
		return board.PackageID == pkg.ID
	}
	return board.FQBN != "" && strings.HasPrefix(board.FQBN, pkg.ID+":")
}

func providesFQBN(pkg BoardsPackage, fqbn string) bool {
	for _, b := range pkg.Boards {
		if b.FQBN == fqbn {
			return true
		}
	}
	return strings.HasPrefix(fqbn, pkg.ID+":")
}
