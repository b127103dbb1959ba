//go:build integration

package postgres_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xraph/conductor/store"
	"github.com/xraph/conductor/store/postgres"
	"github.com/xraph/conductor/store/storetest"
)

// setupTestStore starts a Postgres container and returns a migrated Store.
func setupTestStore(t *testing.T) *postgres.Store {
	t.Helper()

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("conductor_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	s, err := postgres.New(ctx, connStr, postgres.WithLogger(slog.Default()))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if migErr := s.Migrate(ctx); migErr != nil {
		t.Fatalf("migrate: %v", migErr)
	}
	// A second run must be a no-op.
	if migErr := s.Migrate(ctx); migErr != nil {
		t.Fatalf("second migrate: %v", migErr)
	}
	return s
}

func TestStore_Conformance(t *testing.T) {
	s := setupTestStore(t)
	storetest.Run(t, func(t *testing.T) store.Store {
		t.Helper()
		_, err := s.Pool().Exec(context.Background(),
			`TRUNCATE conductor_jobs, conductor_agents, conductor_dlq`)
		if err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return s
	})
}
