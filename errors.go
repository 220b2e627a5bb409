package accounting

import (
	"context"
	"errors"
	"fmt"
)

// Domain errors. Every mutating operation returns one of these (possibly
// wrapped) for any rejected request; callers map them to stable codes with
// Code.
var (
	// Directory errors
	ErrUnknownAccount       = errors.New("accounting: unknown account")
	ErrAccountAlreadyExists = errors.New("accounting: account already exists")
	ErrUnknownAsset         = errors.New("accounting: unknown asset")
	ErrAssetAlreadyExists   = errors.New("accounting: asset already exists")
	ErrInvalidAccountType   = errors.New("accounting: invalid account type")

	// Transfer errors
	ErrInvalidID           = errors.New("accounting: invalid id")
	ErrAmountZero          = errors.New("accounting: amount must be greater than zero")
	ErrInvalidAmount       = errors.New("accounting: amount out of range")
	ErrTransferExists      = errors.New("accounting: transfer already exists")
	ErrInsufficientBalance = errors.New("accounting: insufficient balance")
	ErrUnknownTransfer     = errors.New("accounting: unknown transfer")
	ErrAlreadyCommitted    = errors.New("accounting: transfer already committed")
	ErrAlreadyRolledBack   = errors.New("accounting: transfer already rolled back")
	ErrSameAccount         = errors.New("accounting: debit and credit account are the same")
	ErrLedgerMismatch      = errors.New("accounting: accounts are on different ledgers")

	// Outbox errors
	ErrUnknownEvent = errors.New("accounting: unknown event")

	// Store errors
	ErrStoreNotReady = errors.New("accounting: store not ready")
	ErrStoreClosed   = errors.New("accounting: store is closed")
)

var domainCodes = map[error]string{
	ErrUnknownAccount:       "UnknownAccount",
	ErrAccountAlreadyExists: "AccountAlreadyExists",
	ErrUnknownAsset:         "UnknownAsset",
	ErrAssetAlreadyExists:   "AssetAlreadyExists",
	ErrInvalidAccountType:   "InvalidAccountType",
	ErrInvalidID:            "InvalidId",
	ErrAmountZero:           "AmountZero",
	ErrInvalidAmount:        "InvalidAmount",
	ErrTransferExists:       "TransferExists",
	ErrInsufficientBalance:  "InsufficientBalance",
	ErrUnknownTransfer:      "UnknownTransfer",
	ErrAlreadyCommitted:     "AlreadyCommitted",
	ErrAlreadyRolledBack:    "AlreadyRolledBack",
	ErrSameAccount:          "SameAccount",
	ErrLedgerMismatch:       "LedgerMismatch",
	ErrUnknownEvent:         "UnknownEvent",
}

// Code returns the stable machine-readable code of a domain error, or ""
// when err is not one.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for sentinel, code := range domainCodes {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return ""
}

// IsDomainError reports whether err is a typed rejection rather than an
// infrastructure fault.
func IsDomainError(err error) bool {
	return Code(err) != ""
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUnknownAccount) ||
		errors.Is(err, ErrUnknownAsset) ||
		errors.Is(err, ErrUnknownTransfer) ||
		errors.Is(err, ErrUnknownEvent)
}

// IsConflict returns true if the error reports a state that forbids the
// request, as opposed to bad input.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAccountAlreadyExists) ||
		errors.Is(err, ErrAssetAlreadyExists) ||
		errors.Is(err, ErrTransferExists) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrAlreadyCommitted) ||
		errors.Is(err, ErrAlreadyRolledBack)
}

// IsRetryable returns true if the error is an infrastructure fault after
// which the caller should re-query the transfer by id and retry.
func IsRetryable(err error) bool {
	if err == nil || IsDomainError(err) {
		return false
	}
	return errors.Is(err, ErrStoreNotReady) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.As(err, new(*StoreError))
}

// StoreError wraps an infrastructure failure from a backend.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("accounting: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// WrapStoreError wraps err as a StoreError unless it is nil or already a
// domain error.
func WrapStoreError(op string, err error) error {
	if err == nil || IsDomainError(err) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}
