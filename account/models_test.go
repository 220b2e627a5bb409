package account

import "testing"

func TestBalance(t *testing.T) {
	tests := []struct {
		name          string
		b             Balance
		posted        int64
		available     int64
		totalReceived uint64
	}{
		{"Empty", Balance{}, 0, 0, 0},
		{"Funded", Balance{CreditsPosted: 150}, 150, 150, 150},
		{"Reserved", Balance{CreditsPosted: 100, DebitsPending: 100}, 100, 0, 100},
		{"Committed", Balance{CreditsPosted: 100, DebitsPosted: 60}, 40, 40, 100},
		{"Settlement", Balance{DebitsPosted: 100, CreditsPending: 30}, -100, -100, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.b.Posted(); got != tt.posted {
				t.Errorf("Posted() = %d, want %d", got, tt.posted)
			}
			if got := tt.b.Available(); got != tt.available {
				t.Errorf("Available() = %d, want %d", got, tt.available)
			}
			if got := tt.b.TotalReceived(); got != tt.totalReceived {
				t.Errorf("TotalReceived() = %d, want %d", got, tt.totalReceived)
			}
		})
	}
}

func TestBalanceCanDebit(t *testing.T) {
	b := Balance{CreditsPosted: 100, DebitsPending: 40}
	if !b.CanDebit(60) {
		t.Error("expected 60 to fit into available 60")
	}
	if b.CanDebit(61) {
		t.Error("expected 61 to exceed available 60")
	}
	if (Balance{DebitsPosted: 10}).CanDebit(0) {
		t.Error("negative available must not admit any debit")
	}
}

func TestTypeCodes(t *testing.T) {
	for _, typ := range []Type{
		TypeLiquidityAsset, TypeLiquidityPeer, TypeLiquidityIncoming,
		TypeLiquidityOutgoing, TypeLiquidityWebMonetization, TypeSettlement,
	} {
		if !typ.Valid() {
			t.Errorf("%s should be valid", typ)
		}
		back, ok := TypeFromCode(typ.Code())
		if !ok || back != typ {
			t.Errorf("TypeFromCode(%d) = %q, %v", typ.Code(), back, ok)
		}
	}
	if Type("CHECKING").Valid() {
		t.Error("unknown type reported valid")
	}
	if _, ok := TypeFromCode(0); ok {
		t.Error("code 0 should not map to a type")
	}
}
