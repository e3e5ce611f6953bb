package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tandemhq/tandem/pkg/persistence"
	"github.com/tandemhq/tandem/pkg/persistence/file"
	"github.com/tandemhq/tandem/pkg/persistence/postgresql"
)

// NewPersistence creates the saga store for the given database URL. A
// postgres:// or postgresql:// URL selects PostgreSQL; anything else is
// treated as a local directory for the file store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parsePersistenceProvider(databaseURL) {
	case "postgresql":
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgresql persistence: %w", err)
		}

		return store, nil
	default:
		return file.NewPersistence(strings.TrimPrefix(databaseURL, "file://")), nil
	}
}

func parsePersistenceProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	if provider == "postgres" || provider == "postgresql" {
		return "postgresql"
	}

	return "file"
}
