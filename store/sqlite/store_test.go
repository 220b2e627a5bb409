package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/xraph/accounting/store"
	"github.com/xraph/accounting/store/sqlite"
	"github.com/xraph/accounting/store/storetest"
)

func open(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "accounting.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T, _ func() time.Time) store.Store { return open(t) })
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := open(t)
	defer s.Close()

	ctx := context.Background()
	for i := range 2 {
		if err := s.Migrate(ctx); err != nil {
			t.Fatalf("Migrate #%d: %v", i+1, err)
		}
	}

	var n int
	if err := s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM accounting_migrations`).Scan(&n); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if n != 4 {
		t.Errorf("expected 4 recorded migrations, got %d", n)
	}
}
