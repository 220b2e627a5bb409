package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/xraph/accounting/store"
	"github.com/xraph/accounting/store/postgres"
	"github.com/xraph/accounting/store/storetest"
)

// The suite needs a disposable database; every test drops the schema.
const envURL = "ACCOUNTING_TEST_POSTGRES_URL"

func TestStore(t *testing.T) {
	url := os.Getenv(envURL)
	if url == "" {
		t.Skipf("%s not set", envURL)
	}

	storetest.Run(t, func(t *testing.T, _ func() time.Time) store.Store {
		ctx := context.Background()
		s, err := postgres.Open(ctx, url)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if _, err := s.Pool().Exec(ctx, `
DROP TABLE IF EXISTS accounting_events, accounting_transfers, accounting_accounts,
    accounting_assets, accounting_migrations CASCADE`); err != nil {
			t.Fatalf("reset schema: %v", err)
		}
		return s
	})
}
