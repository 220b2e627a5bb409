package id_test

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"go.jetify.com/typeid/v2"

	"github.com/xraph/accounting/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() id.ID
		prefix string
	}{
		{"AccountID", id.NewAccountID, "lacct_"},
		{"EventID", id.NewEventID, "evt_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn().String()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		newFn   func() id.ID
		parseFn func(string) (id.ID, error)
	}{
		{"AccountID", id.NewAccountID, id.ParseAccountID},
		{"EventID", id.NewEventID, id.ParseEventID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := tt.newFn()
			parsed, err := tt.parseFn(original.String())
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if parsed.String() != original.String() {
				t.Errorf("round-trip mismatch: %q != %q", parsed.String(), original.String())
			}
		})
	}
}

func TestCrossTypeRejection(t *testing.T) {
	if _, err := id.ParseAccountID(id.NewEventID().String()); err == nil {
		t.Error("ParseAccountID accepted an event ID")
	}
	if _, err := id.ParseEventID(id.NewAccountID().String()); err == nil {
		t.Error("ParseEventID accepted an account ID")
	}
}

func TestFromUUIDRoundTrip(t *testing.T) {
	inputs := []uuid.UUID{
		uuid.Nil,
		uuid.MustParse("ffffffff-ffff-ffff-ffff-ffffffffffff"),
		uuid.MustParse("0188bac7-4afa-78aa-bc3b-bd1eef28d881"),
		uuid.New(),
		uuid.NewSHA1(uuid.NameSpaceOID, []byte("acct-1|LIQUIDITY_ASSET")),
	}

	for _, u := range inputs {
		t.Run(u.String(), func(t *testing.T) {
			i, err := id.FromUUID(id.PrefixAccount, u)
			if err != nil {
				t.Fatalf("FromUUID failed: %v", err)
			}
			if i.Prefix() != id.PrefixAccount {
				t.Errorf("expected prefix %q, got %q", id.PrefixAccount, i.Prefix())
			}
			got, err := i.UUID()
			if err != nil {
				t.Fatalf("UUID failed: %v", err)
			}
			if got != u {
				t.Errorf("round-trip mismatch: %s != %s", got, u)
			}

			again, err := id.FromUUID(id.PrefixAccount, u)
			if err != nil {
				t.Fatalf("FromUUID failed: %v", err)
			}
			if again.String() != i.String() {
				t.Errorf("FromUUID not deterministic: %q != %q", again.String(), i.String())
			}
		})
	}
}

func TestFromUUIDMatchesTypeID(t *testing.T) {
	u := uuid.MustParse("7e3a3e1c-d5ed-4abb-a033-cd68c0e74bbb")

	i, err := id.FromUUID(id.PrefixAccount, u)
	if err != nil {
		t.Fatalf("FromUUID failed: %v", err)
	}
	want, err := typeid.FromUUID(string(id.PrefixAccount), u.String())
	if err != nil {
		t.Fatalf("typeid.FromUUID failed: %v", err)
	}
	if i.String() != want.String() {
		t.Errorf("FromUUID = %q, want %q", i.String(), want.String())
	}

	parsed, err := id.ParseAccountID(want.String())
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	got, err := parsed.UUID()
	if err != nil {
		t.Fatalf("UUID failed: %v", err)
	}
	if got != u {
		t.Errorf("UUID = %s, want %s", got, u)
	}
}

func TestGeneratedIDHasUUID(t *testing.T) {
	i := id.NewAccountID()
	u, err := i.UUID()
	if err != nil {
		t.Fatalf("UUID failed: %v", err)
	}
	back, err := id.FromUUID(id.PrefixAccount, u)
	if err != nil {
		t.Fatalf("FromUUID failed: %v", err)
	}
	if back.String() != i.String() {
		t.Errorf("mismatch: %q != %q", back.String(), i.String())
	}
}

func TestParseEmpty(t *testing.T) {
	_, err := id.Parse("")
	if err == nil {
		t.Error("expected error for empty string")
	}
}

func TestNilID(t *testing.T) {
	var i id.ID
	if !i.IsNil() {
		t.Error("zero-value ID should be nil")
	}
	if i.String() != "" {
		t.Errorf("expected empty string, got %q", i.String())
	}
	if _, err := i.UUID(); err == nil {
		t.Error("expected error for UUID of nil ID")
	}
}

func TestValueScan(t *testing.T) {
	original := id.NewAccountID()
	val, err := original.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}

	var scanned id.ID
	if scanErr := scanned.Scan(val); scanErr != nil {
		t.Fatalf("Scan failed: %v", scanErr)
	}
	if scanned.String() != original.String() {
		t.Errorf("mismatch: %q != %q", scanned.String(), original.String())
	}

	var nilID id.ID
	val, err = nilID.Value()
	if err != nil {
		t.Fatalf("Value(nil) failed: %v", err)
	}
	if val != nil {
		t.Errorf("expected nil value for nil ID, got %v", val)
	}

	var scanned2 id.ID
	if err := scanned2.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) failed: %v", err)
	}
	if !scanned2.IsNil() {
		t.Error("expected nil after scan of nil")
	}
}

func TestUniqueness(t *testing.T) {
	a := id.NewAccountID()
	b := id.NewAccountID()
	if a.String() == b.String() {
		t.Errorf("two consecutive NewAccountID() calls returned the same ID: %q", a.String())
	}
}
