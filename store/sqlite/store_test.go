package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/store"
	"github.com/xraph/conductor/store/sqlite"
	"github.com/xraph/conductor/store/storetest"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	ctx := context.Background()

	s, err := sqlite.Open(ctx, "file:"+filepath.Join(t.TempDir(), "conductor.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func TestStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return openStore(t)
	})
}

func TestStore_MigrateIsIdempotent(t *testing.T) {
	s := openStore(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}

	var n int
	err := s.DB().QueryRowContext(context.Background(), `SELECT COUNT(*) FROM conductor_migrations`).Scan(&n)
	if err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if n != 1 {
		t.Errorf("recorded migrations = %d, want 1", n)
	}
}

func TestStore_PingAfterClose(t *testing.T) {
	s := openStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	_ = s.Close()
	if err := s.Ping(context.Background()); !errors.Is(err, conductor.ErrStore) {
		t.Errorf("Ping after Close err = %v, want ErrStore", err)
	}
}
