package types

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestAmountString(t *testing.T) {
	tests := []struct {
		amount   Amount
		expected string
	}{
		{NewAmount(4900, 2), "49.00"},
		{NewAmount(5, 2), "0.05"},
		{NewAmount(100, 0), "100"},
		{NewAmount(0, 2), "0.00"},
		{NewAmount(123456789, 9), "0.123456789"},
		{NewAmount(math.MaxUint64, 0), "18446744073709551615"},
		{NewAmount(math.MaxUint64, 2), "184467440737095516.15"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.amount.String(); got != tt.expected {
				t.Errorf("String() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		scale   uint8
		want    uint64
		wantErr bool
	}{
		{"Whole", "49", 2, 4900, false},
		{"Fraction", "49.5", 2, 4950, false},
		{"Exact scale", "0.01", 2, 1, false},
		{"Zero scale", "7", 0, 7, false},
		{"Too precise", "0.001", 2, 0, true},
		{"Negative", "-1", 2, 0, true},
		{"Garbage", "abc", 2, 0, true},
		{"Overflow", "18446744073709551616", 0, 0, true},
		{"Max", "18446744073709551615", 0, math.MaxUint64, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.input, tt.scale)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Value != tt.want || got.Scale != tt.scale {
				t.Errorf("got %+v, want value %d scale %d", got, tt.want, tt.scale)
			}
		})
	}
}

func TestParseAmountPrecisionError(t *testing.T) {
	_, err := ParseAmount("1.234", 2)
	if !errors.Is(err, ErrAmountPrecision) {
		t.Errorf("expected ErrAmountPrecision, got %v", err)
	}
}

func TestFormatSigned(t *testing.T) {
	tests := []struct {
		v        int64
		scale    uint8
		expected string
	}{
		{-150, 2, "-1.50"},
		{90, 2, "0.90"},
		{0, 0, "0"},
		{-7, 0, "-7"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := FormatSigned(tt.v, tt.scale); got != tt.expected {
				t.Errorf("FormatSigned(%d, %d) = %q, want %q", tt.v, tt.scale, got, tt.expected)
			}
		})
	}
}

func TestEntity(t *testing.T) {
	e := NewEntity()
	if e.CreatedAt.IsZero() || !e.CreatedAt.Equal(e.UpdatedAt) {
		t.Fatalf("unexpected entity timestamps: %+v", e)
	}
	later := e.CreatedAt.Add(time.Minute)
	e.Touch(later)
	if !e.UpdatedAt.Equal(later) {
		t.Errorf("Touch did not update UpdatedAt")
	}
	if e.Age(later) != time.Minute {
		t.Errorf("Age = %v, want 1m", e.Age(later))
	}
}
