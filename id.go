package outpost

import "github.com/xraph/outpost/id"

// ID is the primary identifier type for all Outpost entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
