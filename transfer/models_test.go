package transfer

import (
	"testing"
	"time"
)

func TestEffectiveState(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Second)
	future := now.Add(time.Second)

	tests := []struct {
		name    string
		tr      Transfer
		expired bool
		want    State
	}{
		{"Pending", Transfer{State: StatePending, ExpiresAt: &future}, false, StatePending},
		{"Pending at expiry", Transfer{State: StatePending, ExpiresAt: &now}, true, StateVoided},
		{"Pending expired", Transfer{State: StatePending, ExpiresAt: &past}, true, StateVoided},
		{"Pending no expiry", Transfer{State: StatePending}, false, StatePending},
		{"Posted", Transfer{State: StatePosted, ExpiresAt: &past}, false, StatePosted},
		{"Voided", Transfer{State: StateVoided}, false, StateVoided},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.tr.Expired(now); got != tt.expired {
				t.Errorf("Expired() = %v, want %v", got, tt.expired)
			}
			if got := tt.tr.EffectiveState(now); got != tt.want {
				t.Errorf("EffectiveState() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	exp := time.Now()
	orig := &Transfer{ID: "x", ExpiresAt: &exp}
	c := orig.Clone()
	*c.ExpiresAt = exp.Add(time.Hour)
	if !orig.ExpiresAt.Equal(exp) {
		t.Error("Clone shares ExpiresAt with the original")
	}
}

func TestTypeCode(t *testing.T) {
	for _, typ := range []Type{TypeDeposit, TypeWithdrawal} {
		back, ok := TypeFromCode(typ.Code())
		if !ok || back != typ {
			t.Errorf("TypeFromCode(%d) = %q, %v", typ.Code(), back, ok)
		}
	}
	if _, ok := TypeFromCode(9); ok {
		t.Error("unknown code mapped to a type")
	}
}

func TestInState(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	past, future := now.Add(-time.Second), now.Add(time.Second)

	tests := []struct {
		name    string
		stored  State
		expires *time.Time
		want    State
		ok      bool
	}{
		{"live pending", StatePending, &future, StatePending, true},
		{"live pending not voided", StatePending, &future, StateVoided, false},
		{"no expiry", StatePending, nil, StatePending, true},
		{"expired pending is voided", StatePending, &past, StateVoided, true},
		{"expired pending not pending", StatePending, &past, StatePending, false},
		{"expiry at now", StatePending, &now, StateVoided, true},
		{"posted", StatePosted, &past, StatePosted, true},
		{"posted not voided", StatePosted, &past, StateVoided, false},
		{"voided", StateVoided, nil, StateVoided, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &Transfer{State: tt.stored, ExpiresAt: tt.expires}
			if got := tr.InState(tt.want, now); got != tt.ok {
				t.Errorf("InState(%s) = %v, want %v", tt.want, got, tt.ok)
			}
		})
	}
}
