package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/conductor/store"
	"github.com/xraph/conductor/store/memory"
	"github.com/xraph/conductor/store/postgres"
	"github.com/xraph/conductor/store/sqlite"
)

// openStore connects the configured backend.
func openStore(ctx context.Context, c storeConfig, logger *slog.Logger) (store.Store, error) {
	switch c.Driver {
	case "memory":
		return memory.New(), nil
	case "sqlite":
		s, err := sqlite.Open(ctx, c.DSN, sqlite.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	case "postgres":
		s, err := postgres.New(ctx, c.DSN, postgres.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", c.Driver)
	}
}
