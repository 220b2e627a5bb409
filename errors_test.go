package accounting

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{ErrUnknownAccount, "UnknownAccount"},
		{ErrAccountAlreadyExists, "AccountAlreadyExists"},
		{ErrUnknownAsset, "UnknownAsset"},
		{ErrInvalidID, "InvalidId"},
		{ErrAmountZero, "AmountZero"},
		{ErrTransferExists, "TransferExists"},
		{ErrInsufficientBalance, "InsufficientBalance"},
		{ErrUnknownTransfer, "UnknownTransfer"},
		{ErrAlreadyCommitted, "AlreadyCommitted"},
		{ErrAlreadyRolledBack, "AlreadyRolledBack"},
		{fmt.Errorf("commit w1: %w", ErrAlreadyRolledBack), "AlreadyRolledBack"},
		{errors.New("boom"), ""},
		{nil, ""},
	}

	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = tt.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			if got := Code(tt.err); got != tt.code {
				t.Errorf("Code() = %q, want %q", got, tt.code)
			}
			if got := IsDomainError(tt.err); got != (tt.code != "") {
				t.Errorf("IsDomainError() = %v", got)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"Domain", ErrInsufficientBalance, false},
		{"Wrapped domain", WrapStoreError("post", ErrAlreadyCommitted), false},
		{"Store fault", WrapStoreError("post", errors.New("connection reset")), true},
		{"Deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), true},
		{"Not ready", ErrStoreNotReady, true},
		{"Closed", ErrStoreClosed, false},
		{"Nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestWrapStoreError(t *testing.T) {
	if WrapStoreError("x", nil) != nil {
		t.Error("nil should stay nil")
	}
	if err := WrapStoreError("x", ErrUnknownTransfer); err != ErrUnknownTransfer { //nolint:errorlint // identity check
		t.Errorf("domain error should pass through unchanged, got %v", err)
	}
	cause := errors.New("dial tcp: refused")
	err := WrapStoreError("ping", cause)
	var se *StoreError
	if !errors.As(err, &se) || se.Op != "ping" || !errors.Is(err, cause) {
		t.Errorf("unexpected wrap %v", err)
	}
}

func TestIsNotFoundAndConflict(t *testing.T) {
	if !IsNotFound(ErrUnknownTransfer) || IsNotFound(ErrTransferExists) {
		t.Error("IsNotFound misclassified")
	}
	if !IsConflict(ErrTransferExists) || IsConflict(ErrUnknownAccount) {
		t.Error("IsConflict misclassified")
	}
}
