package accounting_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/xraph/accounting"
	"github.com/xraph/accounting/store/memory"
)

func TestInvalidIDNamesTheField(t *testing.T) {
	ctx := context.Background()
	svc := accounting.New(memory.New(), accounting.WithSweepInterval(0))
	if err := svc.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer svc.Stop()

	tests := []struct {
		name string
		call func() error
		want string
		not  string
	}{
		{
			name: "empty account ref",
			call: func() error {
				_, err := svc.CreateAccount(ctx, "", 1, accounting.LiquidityPeer)
				return err
			},
			want: "account ref",
			not:  "transfer",
		},
		{
			name: "malformed transfer id",
			call: func() error { return svc.CommitWithdrawal(ctx, "nope") },
			want: `transfer "nope"`,
			not:  "account ref",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if !errors.Is(err, accounting.ErrInvalidID) {
				t.Fatalf("err = %v, want ErrInvalidID", err)
			}
			if msg := err.Error(); !strings.Contains(msg, tt.want) || strings.Contains(msg, tt.not) {
				t.Errorf("message %q should mention %q and not %q", msg, tt.want, tt.not)
			}
		})
	}
}
