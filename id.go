package accounting

import "github.com/xraph/accounting/id"

// ID is the identifier type for internal accounting entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
