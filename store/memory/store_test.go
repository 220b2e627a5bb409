package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/accounting"
	"github.com/xraph/accounting/store"
	"github.com/xraph/accounting/store/memory"
	"github.com/xraph/accounting/store/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(*testing.T, func() time.Time) store.Store { return memory.New() })
}

func TestClosedStore(t *testing.T) {
	s := memory.New()
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Ping(context.Background()); !errors.Is(err, accounting.ErrStoreClosed) {
		t.Errorf("Ping after Close = %v, want ErrStoreClosed", err)
	}
	if _, err := s.ExpireTransfers(context.Background(), time.Now(), 1); err == nil {
		t.Error("ExpireTransfers after Close should fail")
	}
}
