package conductor

import "github.com/xraph/conductor/id"

// ID is the identifier type for jobs, dead-letter entries and events.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
