package models

import (
	"encoding/json"
	"time"
)

// CachedEntity is a read-through snapshot of a server-owned resource (job
// record, price catalog) kept for offline use. Callers treat it as
// read-only; it is refreshed whenever a fresh copy is fetched online and
// evicted by an age-based sweep.
type CachedEntity struct {
	// ID is the server-assigned identifier of the resource.
	ID string

	// Kind groups entities of the same resource type (e.g. "job", "catalog").
	Kind string

	Data json.RawMessage

	CachedAt time.Time
}
