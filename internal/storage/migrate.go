package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// ApplyMigrations executes every .sql file under dir in lexical order. Files
// are expected to be idempotent (CREATE TABLE IF NOT EXISTS style); there is
// no version bookkeeping.
func (s *Store) ApplyMigrations(ctx context.Context, dir string, logger zerolog.Logger) error {
	if s.pool == nil {
		return ErrNotConfigured
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read migrations directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	for _, name := range files {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.pool.Exec(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		logger.Debug().Str("migration", name).Msg("migration applied")
	}

	logger.Info().Int("migrations", len(files)).Msg("database schema up to date")
	return nil
}
