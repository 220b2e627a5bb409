// Package id defines TypeID-based identity types for accounting entities.
//
// Internal entities (ledger accounts, webhook events) use a single ID struct
// with a prefix that identifies the entity type. IDs are K-sortable
// (UUIDv7-based) when generated, globally unique, and URL-safe in the format
// "prefix_suffix". Accounts owned by the clustered backend use deterministic
// IDs built from a UUID with FromUUID.
package id

import (
	"database/sql/driver"
	"fmt"

	"github.com/google/uuid"
	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity type encoded in a TypeID.
type Prefix string

// Prefix constants for all accounting entity types.
const (
	PrefixAccount Prefix = "lacct" // Ledger account
	PrefixEvent   Prefix = "evt"   // Webhook event
)

// ID is the primary identifier type for internal accounting entities.
// It wraps a TypeID providing a prefix-qualified, globally unique,
// sortable, URL-safe identifier in the format "prefix_suffix".
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero-value ID.
var Nil ID

// New generates a new globally unique ID with the given prefix.
// It panics if prefix is not a valid TypeID prefix (programming error).
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}

	return ID{inner: tid, valid: true}
}

// FromUUID builds an ID whose suffix encodes u. The same prefix and UUID
// always yield the same ID.
func FromUUID(prefix Prefix, u uuid.UUID) (ID, error) {
	tid, err := typeid.FromBytes(string(prefix), u[:])
	if err != nil {
		return Nil, fmt.Errorf("id: from uuid %s: %w", u, err)
	}

	return ID{inner: tid, valid: true}, nil
}

// Parse parses a TypeID string (e.g., "lacct_01h2xcejqtf2nbrexx3vqjhp41")
// into an ID. Returns an error if the string is not valid.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}

	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}

	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix parses a TypeID string and validates that its prefix
// matches the expected value.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}

	if parsed.Prefix() != expected {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.Prefix())
	}

	return parsed, nil
}

// MustParse is like Parse but panics on error. Use for hardcoded ID values.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("id: must parse %q: %v", s, err))
	}

	return parsed
}

// AccountID is a type-safe identifier for ledger accounts (prefix: "lacct").
type AccountID = ID

// EventID is a type-safe identifier for webhook events (prefix: "evt").
type EventID = ID

// NewAccountID generates a new unique ledger account ID.
func NewAccountID() ID { return New(PrefixAccount) }

// NewEventID generates a new unique webhook event ID.
func NewEventID() ID { return New(PrefixEvent) }

// ParseAccountID parses a string and validates the "lacct" prefix.
func ParseAccountID(s string) (ID, error) { return ParseWithPrefix(s, PrefixAccount) }

// ParseEventID parses a string and validates the "evt" prefix.
func ParseEventID(s string) (ID, error) { return ParseWithPrefix(s, PrefixEvent) }

// ──────────────────────────────────────────────────
// ID methods
// ──────────────────────────────────────────────────

// String returns the full TypeID string representation (prefix_suffix).
// Returns an empty string for the Nil ID.
func (i ID) String() string {
	if !i.valid {
		return ""
	}

	return i.inner.String()
}

// Prefix returns the prefix component of this ID.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}

	return Prefix(i.inner.Prefix())
}

// IsNil reports whether this ID is the zero value.
func (i ID) IsNil() bool {
	return !i.valid
}

// UUID decodes the 128-bit value carried by the suffix.
func (i ID) UUID() (uuid.UUID, error) {
	if !i.valid {
		return uuid.Nil, fmt.Errorf("id: nil ID has no UUID")
	}

	return uuid.FromBytes(i.inner.Bytes())
}

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	if !i.valid {
		return []byte{}, nil
	}

	return []byte(i.inner.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil

		return nil
	}

	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}

	*i = parsed

	return nil
}

// Value implements driver.Valuer for database storage.
// Returns nil for the Nil ID so that optional foreign key columns store NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // nil is the canonical NULL for driver.Valuer
	}

	return i.inner.String(), nil
}

// Scan implements sql.Scanner for database retrieval.
func (i *ID) Scan(src any) error {
	if src == nil {
		*i = Nil

		return nil
	}

	switch v := src.(type) {
	case string:
		if v == "" {
			*i = Nil

			return nil
		}

		return i.UnmarshalText([]byte(v))
	case []byte:
		if len(v) == 0 {
			*i = Nil

			return nil
		}

		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}
