package main

import (
	"context"
	"fmt"

	"github.com/charmbracelet/huh"

	"github.com/mschirtzinger/sketchd/internal/sketchsync"
)

// promptConflict asks which side of a conflicting file wins.
func promptConflict(ctx context.Context, c sketchsync.Conflict) (sketchsync.Side, error) {
	side := sketchsync.SideLocal
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[sketchsync.Side]().
			Title(fmt.Sprintf("%s/%s changed locally and remotely", c.SketchName, c.FileName)).
			Description("The other copy is overwritten.").
			Options(
				huh.NewOption("Keep the local file", sketchsync.SideLocal),
				huh.NewOption("Keep the remote file", sketchsync.SideRemote),
			).
			Value(&side),
	))
	if err := form.RunWithContext(ctx); err != nil {
		return side, fmt.Errorf("conflict on %s/%s not resolved: %w", c.SketchName, c.FileName, err)
	}
	return side, nil
}

// promptDeletion asks what to do with a sketch deleted remotely.
func promptDeletion(ctx context.Context, sketchName string) (sketchsync.DeletionAction, error) {
	action := sketchsync.DeletionKeep
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[sketchsync.DeletionAction]().
			Title(fmt.Sprintf("%s was deleted from the cloud", sketchName)).
			Options(
				huh.NewOption("Keep the local files and stop syncing", sketchsync.DeletionKeep),
				huh.NewOption("Delete the local sketch", sketchsync.DeletionDelete),
			).
			Value(&action),
	))
	if err := form.RunWithContext(ctx); err != nil {
		return action, fmt.Errorf("deletion of %s not resolved: %w", sketchName, err)
	}
	return action, nil
}
