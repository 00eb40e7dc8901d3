package app

import (
	"context"
	"time"
)

// Cleanup removes market data, indicators and API metrics older than the
// retention window.
func (a *App) Cleanup(ctx context.Context, olderThan time.Duration) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errDatabaseRequired
	}
	defer closeStore()

	cutoff := time.Now().UTC().Add(-olderThan)
	deleted, err := store.CleanupBefore(ctx, cutoff)
	if err != nil {
		return err
	}

	a.Logger.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("cleanup finished")
	return nil
}
